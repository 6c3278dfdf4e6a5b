// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"periph.io/x/apollo/v3/cachectrl"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/apollo/v3/verify"
	"periph.io/x/apollo/v3/xipmm"
)

// psram moves n bytes between sp and the device with cache maintenance
// around the transfer.
func (s *System) psram(dir dma.Direction, sp memmap.Span, addr uint32) error {
	buf := s.Cache.Acquire(sp, cacheDir(dir))
	defer buf.Release()
	if dir == dma.Read {
		return s.PSRAM.Read(sp, addr, sp.Len, true)
	}
	return s.PSRAM.Write(sp, addr, sp.Len, true)
}

// overlap runs the xipmm modes at cfg.XIPAddr and byte loads at
// cfg.HammerAddr through the uncached window until the PSRAM transfer in
// direction dir completes. Every mode runs at least once.
func (s *System) overlap(ctx context.Context, cfg *Config, dir dma.Direction, r *rand.Rand) error {
	w := s.Window.Uncached()
	eg, ctx := errgroup.WithContext(ctx)
	xctx, stop := context.WithCancel(ctx)
	defer stop()
	runs, loads := 0, 0
	hr := rand.New(rand.NewSource(r.Int63()))
	eg.Go(func() error {
		var err error
		runs, err = xipmm.Interleave(xctx, w, cfg.xipTest(), cfg.MaxDelay, r)
		return errors.Wrap(err, "xip modes")
	})
	eg.Go(func() error {
		var err error
		loads, err = xipmm.Hammer(xctx, w, uint32(cfg.HammerAddr), cfg.HammerReads, cfg.MaxDelay, hr)
		return errors.Wrap(err, "xip loads")
	})
	eg.Go(func() error {
		defer stop()
		wctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.PollBudget)*time.Microsecond)
		defer cancel()
		_, err := s.PSRAM.Wait(wctx, dir)
		return errors.Wrapf(err, "dma %s", dir)
	})
	err := eg.Wait()
	if err != nil && s.PSRAM.State(dir) == dma.InFlight {
		// Don't hand the buffer back while the engine still owns it.
		wctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.PollBudget)*time.Microsecond)
		_, _ = s.PSRAM.Wait(wctx, dir)
		cancel()
	}
	s.logf("parallel: %d XIP mode runs, %d XIP loads during dma %s", runs, loads, dir)
	return err
}

// Parallel writes cfg.TransferSize bytes to the PSRAM with DMA, then reads
// them back with DMA. While each transfer is in flight the CPU runs the xipmm
// modes and byte loads on the same device through the XIP aperture, with the
// data cache bypassed and random delays between accesses.
//
// Both the XIP accesses and the transferred data are verified.
func Parallel(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needPSRAM(cfg); err != nil {
		return 0, err
	}
	if err := s.PSRAM.EnableXIP(); err != nil {
		return 0, err
	}
	n := uint32(cfg.TransferSize)
	tx, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	rx, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	want := make([]byte, n)
	verify.Random(want, cfg.Seed)
	if err := s.store([]memmap.Span{tx}, want); err != nil {
		return 0, err
	}
	// Drop cached copies of the areas the uncached window touches.
	xt := cfg.xipTest()
	if err := s.Window.Sync(xt.ByteOffset, xt.Extent()); err != nil {
		return 0, err
	}
	if err := s.Window.Sync(uint32(cfg.HammerAddr), 1); err != nil {
		return 0, err
	}
	r := rand.New(rand.NewSource(cfg.Seed))

	buf := s.Cache.Acquire(tx, cachectrl.ToDevice)
	if err := s.PSRAM.Write(tx, uint32(cfg.DMAAddr), n, false); err != nil {
		buf.Release()
		return 0, err
	}
	err = s.overlap(ctx, cfg, dma.Write, r)
	buf.Release()
	if err != nil {
		return 0, err
	}

	if err := s.store([]memmap.Span{rx}, make([]byte, n)); err != nil {
		return 0, err
	}
	buf = s.Cache.Acquire(rx, cachectrl.FromDevice)
	if err := s.PSRAM.Read(rx, uint32(cfg.DMAAddr), n, false); err != nil {
		buf.Release()
		return 0, err
	}
	err = s.overlap(ctx, cfg, dma.Read, r)
	buf.Release()
	if err != nil {
		return 0, err
	}
	got, err := s.load([]memmap.Span{rx})
	if err != nil {
		return 0, err
	}
	if err := verify.Match(got, want); err != nil {
		return 0, errors.Wrap(err, "dma read back")
	}
	return 2 * uint64(n), nil
}

// Scrambling round trips data through the scrambled region of the PSRAM, then
// reads it back with scrambling disabled; most bytes must then differ.
//
// Scrambling is left disabled.
func Scrambling(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needPSRAM(cfg); err != nil {
		return 0, err
	}
	pc := s.PSRAM.Config()
	n := uint32(cfg.TransferSize)
	if r := pc.ScramblingEnd - pc.ScramblingStart; r < n {
		n = r
	}
	if n == 0 {
		return 0, errors.New("stress: PSRAM has no scrambling region")
	}
	addr := pc.ScramblingStart
	tx, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	rx, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	want := make([]byte, n)
	verify.Random(want, cfg.Seed)
	if err := s.store([]memmap.Span{tx}, want); err != nil {
		return 0, err
	}
	if err := s.PSRAM.EnableScrambling(); err != nil {
		return 0, err
	}
	defer s.PSRAM.DisableScrambling()
	if err := s.psram(dma.Write, tx, addr); err != nil {
		return 0, err
	}
	if err := s.psram(dma.Read, rx, addr); err != nil {
		return 0, err
	}
	got, err := s.load([]memmap.Span{rx})
	if err != nil {
		return 0, err
	}
	if err := verify.Match(got, want); err != nil {
		return 0, errors.Wrap(err, "scrambled round trip")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.PSRAM.DisableScrambling(); err != nil {
		return 0, err
	}
	if err := s.psram(dma.Read, rx, addr); err != nil {
		return 0, err
	}
	if got, err = s.load([]memmap.Span{rx}); err != nil {
		return 0, err
	}
	if err := verify.Scrambled(got, want, 0.9); err != nil {
		return 0, err
	}
	return 3 * uint64(n), nil
}

// XIPModes runs every xipmm mode at cfg.XIPAddr, with a random delay up to
// cfg.MaxDelay between the write and the read back of each.
func XIPModes(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needPSRAM(cfg); err != nil {
		return 0, err
	}
	if err := s.PSRAM.EnableXIP(); err != nil {
		return 0, err
	}
	r := rand.New(rand.NewSource(cfg.Seed))
	var total uint64
	for _, m := range xipmm.Modes() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		t := cfg.xipTest()
		if cfg.MaxDelay > 0 {
			t.Delay = time.Duration(r.Int63n(int64(cfg.MaxDelay) + 1))
		}
		s.logf("xip-modes: %s, delay %s", m, t.Delay)
		if err := xipmm.Run(s.Window, m, t); err != nil {
			return total, err
		}
		total += 2 * uint64(t.NumBytes)
	}
	return total, nil
}
