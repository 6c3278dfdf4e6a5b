// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"testing"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/physic"
)

func TestValidate(t *testing.T) {
	data := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(0), true},
		{"host", Config{Host: 2, Clock: MaxClock, BusWidth: Width4}, false},
		{"width", Config{Clock: MaxClock, BusWidth: 2}, false},
		{"clock", Config{Clock: 96 * physic.MegaHertz, BusWidth: Width4}, false},
		{"no clock", Config{BusWidth: Width4}, false},
		{"uhs at 3.3V", Config{Clock: MaxClock, BusWidth: Width4, Voltage: Voltage3V3, UHS: SDR50}, false},
		{"sdr25 at 3.3V", Config{Clock: MaxClock, BusWidth: Width4, Voltage: Voltage3V3, UHS: SDR25}, true},
		{"ddr 1 bit", Config{Clock: MaxClock, BusWidth: Width1, UHS: DDR50}, false},
		{"ddr 8 bits", Config{Clock: MaxClock, BusWidth: Width8, UHS: DDR50}, true},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			_, err := line.cfg.Validate()
			if line.ok && err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if !line.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestValidateDDRClock(t *testing.T) {
	c, err := Config{Clock: 12 * physic.MegaHertz, BusWidth: Width4, UHS: DDR50}.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if c.Clock != MaxClock {
		t.Fatalf("Clock = %s, want %s", c.Clock, MaxClock)
	}
}

func TestBlocks(t *testing.T) {
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ssram := uint32(memmap.SSRAMBase)
	data := []struct {
		name string
		vecs []IOVec
		want uint32
		err  error
	}{
		{"empty", nil, 0, ErrNoVectors},
		{"too many", make([]IOVec, MaxVectors+1), 0, ErrTooManyVectors},
		{"odd vectors", []IOVec{{ssram, 100}, {ssram + 4096, 412}, {memmap.DTCMBase, 1024}}, 3, nil},
		{"unaligned total", []IOVec{{ssram, 100}}, 0, ErrUnaligned},
		{"unmapped", []IOVec{{0x10000000, 512}}, 0, memmap.ErrUnmapped},
		{"crossing", []IOVec{{memmap.SSRAMBase + memmap.SSRAMSize - 256, 512}}, 0, memmap.ErrCrossing},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			n, err := blocks(m, line.vecs)
			if line.err != nil {
				if !errors.Is(err, line.err) {
					t.Fatalf("blocks() = %d, %v, want %v", n, err, line.err)
				}
				return
			}
			if err != nil || n != line.want {
				t.Fatalf("blocks() = %d, %v, want %d", n, err, line.want)
			}
		})
	}
	if _, err := blocks(m, []IOVec{{ssram, 0}, {ssram, 512}}); err == nil {
		t.Fatal("expected empty vector to fail")
	}
}
