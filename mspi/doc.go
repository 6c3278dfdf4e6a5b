// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mspi implements the MSPI controllers of the Apollo5 with a PSRAM
// device attached.
//
// The device can be accessed two ways: with DMA transfers started by Read
// and Write, or with CPU loads and stores through the XIP aperture once
// EnableXIP was called. The aperture is mapped in the memmap.Map at
// memmap.XIPBase + Instance*memmap.XIPStride and is cacheable, so CPU
// accesses go through cachectrl like any other cacheable memory.
//
// Both paths share the controller, so scrambling applies to both.
//
// Use build tag periph_apollo_mspi_debug to enable verbose debugging.
package mspi
