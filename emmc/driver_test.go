// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"testing"

	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

func TestDriver(t *testing.T) {
	defer reset(t)
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	drv.mem = func() *memmap.Map { return m }
	drv.media = func(host int) *Media {
		if host == 1 {
			return NewMedia(64)
		}
		return nil
	}
	if b, err := drv.Init(); !b || err != nil {
		t.Fatalf("Init() = %t, %v", b, err)
	}
	if n := len(All()); n != NumHosts {
		t.Fatalf("All() returned %d hosts", n)
	}
	d := ByHost(1)
	if d == nil || d.Media() == nil || d.Media().SectorCount() != 64 {
		t.Fatal("host 1 has no card")
	}
	if ByHost(0).Media() != nil {
		t.Fatal("host 0 has a card")
	}
	if ByHost(2) != nil {
		t.Fatal("ByHost(2) != nil")
	}
	p := gpioreg.ByName("SDIO1_CD")
	if p == nil {
		t.Fatal("card detect not registered")
	}
	if p.Read() != gpio.High {
		t.Fatal("SDIO1_CD is low")
	}
	if gpioreg.ByName("SDIO0_CD").Read() != gpio.Low {
		t.Fatal("SDIO0_CD is high")
	}
}

func TestDriverBadConfig(t *testing.T) {
	defer reset(t)
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	drv.mem = func() *memmap.Map { return m }
	drv.hosts = func() []Config { return []Config{{Host: 5}} }
	if _, err := drv.Init(); err == nil {
		t.Fatal("Init() succeeded with a bad host")
	}
}

func reset(t *testing.T) {
	drv.reset()
}
