// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memmap

import "sync"

// Apollo5 memory layout.
const (
	DTCMBase = 0x20000000
	DTCMSize = 512 * 1024

	SSRAMBase = 0x20080000
	SSRAMSize = 3 * 1024 * 1024

	// XIPBase is the aperture of MSPI instance 0. Each instance gets
	// XIPStride bytes.
	XIPBase   = 0x60000000
	XIPStride = 0x04000000
)

// Region names used by Apollo5.
const (
	DTCM  = "DTCM"
	SSRAM = "SSRAM"
)

// Apollo5 returns a new map with the on-chip RAM of an Apollo5.
//
// DTCM is tightly coupled to the core and bypasses the data cache; SSRAM is
// cacheable. MSPI apertures are added by the mspi driver.
func Apollo5() (*Map, error) {
	m := New()
	if _, err := m.AddRAM(DTCM, DTCMBase, DTCMSize, false); err != nil {
		return nil, err
	}
	if _, err := m.AddRAM(SSRAM, SSRAMBase, SSRAMSize, true); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Default returns the process wide map used by the registered drivers.
//
// It panics if the host cannot provide the memory.
func Default() *Map {
	defaultOnce.Do(func() {
		var err error
		if defaultMap, err = Apollo5(); err != nil {
			panic(err)
		}
	})
	return defaultMap
}

var (
	defaultOnce sync.Once
	defaultMap  *Map
)
