// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cachectrl models the Cortex-M55 data cache of an Apollo5 and the
// maintenance operations needed to share memory with DMA engines.
//
// The cache is write-back and write-allocate and DMA engines don't snoop it.
// Data written by the CPU is only visible to a DMA engine once cleaned, and
// data written by a DMA engine is only visible to the CPU once the stale lines
// are invalidated.
//
// Buffer ties a DMA buffer to its direction so that the right maintenance is
// done when the buffer is acquired and released:
//
//	b := c.Acquire(span, cachectrl.FromDevice)
//	// start the read DMA into span, wait for it.
//	b.Release()
//	// span can now be read by the CPU.
package cachectrl
