// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"testing"

	"periph.io/x/apollo/v3/memmap"
)

func TestDriver(t *testing.T) {
	defer reset(t)
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	drv.mem = func() *memmap.Map { return m }
	if b, err := drv.Init(); !b || err != nil {
		t.Fatalf("Init() = %t, %v", b, err)
	}
	if n := len(All()); n != 2 {
		t.Fatalf("All() returned %d devices", n)
	}
	if ByInstance(0) == nil || ByInstance(3) == nil || ByInstance(1) != nil {
		t.Fatal("unexpected instances")
	}
	if m.Region("XIP3") == nil {
		t.Fatal("XIP3 not mapped")
	}
}

func TestDriverOverlap(t *testing.T) {
	defer reset(t)
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	drv.mem = func() *memmap.Map { return m }
	drv.devices = func() []Config { return []Config{DefaultConfig(1), DefaultConfig(1)} }
	if _, err := drv.Init(); err == nil {
		t.Fatal("Init() mapped the same aperture twice")
	}
}

func reset(t *testing.T) {
	drv.reset()
}
