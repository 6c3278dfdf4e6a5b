// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package emmc implements the SDHC host of the Apollo5 with an eMMC card
// attached.
//
// Transfers are block addressed and move data between the card and physical
// memory with the host ADMA engine. A transfer may be described by a single
// buffer or by a list of I/O vectors, which are concatenated in order into
// one contiguous block range.
//
// Every transfer can be issued synchronously, in which case the call spins on
// the engine busy bit, or asynchronously, in which case completion is
// signaled through the device events (see Dev.Handle) and can be awaited with
// Dev.Wait.
//
// The host DMA engine doesn't snoop the CPU data cache; buffers in cacheable
// memory must be held through package cachectrl for the duration of the
// transfer.
//
// Use build tag periph_apollo_emmc_debug to enable verbose debugging.
package emmc
