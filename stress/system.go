// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"log"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/cachectrl"
	"periph.io/x/apollo/v3/emmc"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/apollo/v3/mspi"
	"periph.io/x/apollo/v3/xipmm"
)

// System is the hardware under test.
type System struct {
	Mem    *memmap.Map
	Cache  *cachectrl.Cache
	Card   *emmc.Dev
	PSRAM  *mspi.Dev
	Window *xipmm.Window
	// Log receives progress messages. nil is silent.
	Log *log.Logger
}

// NewSystem assembles a system from devices sharing mem.
//
// card or psram may be nil; the tests needing them then fail.
func NewSystem(mem *memmap.Map, card *emmc.Dev, psram *mspi.Dev, cfg *Config) *System {
	s := &System{
		Mem:   mem,
		Cache: cachectrl.New(mem, &cachectrl.Opts{Threshold: uint32(cfg.CacheThreshold)}),
		Card:  card,
		PSRAM: psram,
	}
	if psram != nil {
		s.Window = xipmm.New(s.Cache, psram.Aperture())
	}
	return s
}

func (s *System) logf(format string, v ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, v...)
	}
}

func (s *System) needCard() error {
	if s.Card == nil {
		return errors.New("stress: no eMMC card")
	}
	return nil
}

func (s *System) needPSRAM(cfg *Config) error {
	if s.PSRAM == nil {
		return errors.New("stress: no PSRAM")
	}
	c := s.PSRAM.Config()
	return cfg.CheckPSRAM(c.Size)
}

// store is a CPU store of p at the start of spans, in order.
func (s *System) store(spans []memmap.Span, p []byte) error {
	for _, sp := range spans {
		if err := s.Cache.Write(sp.Addr, p[:sp.Len]); err != nil {
			return err
		}
		p = p[sp.Len:]
	}
	return nil
}

// load is a CPU load of spans, concatenated.
func (s *System) load(spans []memmap.Span) ([]byte, error) {
	var out []byte
	for _, sp := range spans {
		b := make([]byte, sp.Len)
		if err := s.Cache.Read(sp.Addr, b); err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// buffers allocates n bytes split in count spans, cycling through SSRAM,
// DTCM, an SSRAM scratch buffer not aligned on a cache line, and SSRAM again.
//
// The last span takes the remainder.
func (s *System) buffers(n uint32, count int) ([]memmap.Span, error) {
	out := make([]memmap.Span, 0, count)
	per := n / uint32(count)
	for i := 0; i < count; i++ {
		l := per
		if i == count-1 {
			l = n - per*uint32(count-1)
		}
		var sp memmap.Span
		var err error
		switch i % 4 {
		case 1:
			sp, err = s.Mem.Alloc(memmap.DTCM, l, 0)
		case 2:
			sp, err = s.Mem.AllocUnaligned(memmap.SSRAM, l, 4)
		default:
			sp, err = s.Mem.Alloc(memmap.SSRAM, l, 0)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}
