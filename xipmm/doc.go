// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package xipmm exercises CPU loads and stores through an XIP aperture.
//
// Run writes two disjoint regions at one access width and reads them back at
// another, so that a decode or aliasing problem in the aperture shows up as a
// mismatch. Hammer issues byte loads with random gaps and Interleave cycles
// through every mode, both to run against a DMA transfer in flight on the
// same device. Use Window.Uncached so the accesses reach the device.
package xipmm
