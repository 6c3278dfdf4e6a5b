// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package memmap models the physical address space of an Apollo5 class SoC.
//
// A Map is made of regions. RAM regions (DTCM, SSRAM) are backed by host
// memory; device regions, like the MSPI execute-in-place apertures, forward
// accesses to the device that owns them.
//
// The Map methods are the bus master path: they are what a DMA engine sees.
// CPU loads and stores go through a data cache first, see package cachectrl.
package memmap
