// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stress exercises the eMMC and PSRAM controllers together.
//
// The eMMC tests move data between the card and buffers spread over SSRAM and
// DTCM with scatter/gather DMA, synchronously and asynchronously, across card
// power cycles and with requests issued back to back. The PSRAM tests run DMA
// while the CPU loads the XIP aperture, check data scrambling and run every
// xipmm access mode.
//
// Every transfer is verified and each buffer handed to a DMA engine goes
// through cachectrl first.
package stress
