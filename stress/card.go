// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"context"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/cachectrl"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/emmc"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/apollo/v3/verify"
)

func cacheDir(dir dma.Direction) cachectrl.Direction {
	if dir == dma.Read {
		return cachectrl.FromDevice
	}
	return cachectrl.ToDevice
}

// scatter moves spans to or from the card with cache maintenance around the
// transfer.
func (s *System) scatter(dir dma.Direction, start uint32, spans []memmap.Span, async bool, b dma.Budget) error {
	buf := s.Cache.AcquireAll(spans, cacheDir(dir))
	defer buf.Release()
	vecs := emmc.Vectors(spans...)
	var err error
	switch {
	case dir == dma.Write && async:
		err = s.Card.ScatterWriteAsync(start, vecs)
	case dir == dma.Write:
		err = s.Card.ScatterWriteSync(start, vecs)
	case async:
		err = s.Card.ScatterReadAsync(start, vecs)
	default:
		err = s.Card.ScatterReadSync(start, vecs)
	}
	if err != nil || !async {
		return err
	}
	_, err = s.Card.Poll(dir, b)
	return err
}

// block moves one contiguous buffer to or from the card.
func (s *System) block(dir dma.Direction, start uint32, sp memmap.Span, async bool, b dma.Budget) error {
	buf := s.Cache.Acquire(sp, cacheDir(dir))
	defer buf.Release()
	count := sp.Len / emmc.BlockSize
	var err error
	switch {
	case dir == dma.Write && async:
		err = s.Card.WriteAsync(start, count, sp)
	case dir == dma.Write:
		err = s.Card.WriteSync(start, count, sp)
	case async:
		err = s.Card.ReadAsync(start, count, sp)
	default:
		err = s.Card.ReadSync(start, count, sp)
	}
	if err != nil || !async {
		return err
	}
	_, err = s.Card.Poll(dir, b)
	return err
}

// check loads spans and compares each one with its part of want.
func (s *System) check(spans []memmap.Span, want []byte) error {
	for i, sp := range spans {
		got, err := s.load([]memmap.Span{sp})
		if err != nil {
			return err
		}
		if err := verify.Match(got, want[:sp.Len]); err != nil {
			return errors.Wrapf(err, "vector %d", i)
		}
		want = want[sp.Len:]
	}
	return nil
}

type section struct {
	name string
	// Whether the write and the read use the I/O vectors or the contiguous
	// buffer.
	writeVec, readVec bool
	async             bool
}

var sections = []section{
	{"block sync", false, false, false},
	{"scatter sync write", true, false, false},
	{"scatter sync read", false, true, false},
	{"scatter sync write-read", true, true, false},
	{"scatter async write", true, false, true},
	{"scatter async read", false, true, true},
	{"scatter async write-read", true, true, true},
}

// Scatter writes then reads back cfg.BlockCount blocks at cfg.StartBlock in
// seven ways: with a contiguous buffer, with I/O vectors on either or both
// sides, synchronously and asynchronously.
//
// The range is erased before each write and verified after each read.
func Scatter(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needCard(); err != nil {
		return 0, err
	}
	n := cfg.BlockCount * emmc.BlockSize
	buf, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	tx, err := s.buffers(n, cfg.Vectors)
	if err != nil {
		return 0, err
	}
	rx, err := s.buffers(n, cfg.Vectors)
	if err != nil {
		return 0, err
	}
	want := make([]byte, n)
	var total uint64
	for i, sec := range sections {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		verify.Pattern(i%verify.NumPatterns, want)
		s.logf("scatter: %s, pattern %d", sec.name, i%verify.NumPatterns)
		if err := s.section(cfg, sec, buf, tx, rx, want); err != nil {
			return total, errors.Wrap(err, sec.name)
		}
		total += 2 * uint64(n)
	}
	return total, nil
}

func (s *System) section(cfg *Config, sec section, buf memmap.Span, tx, rx []memmap.Span, want []byte) error {
	b := cfg.budget()
	if err := s.Card.Erase(cfg.StartBlock, cfg.BlockCount); err != nil {
		return err
	}
	zero := make([]byte, len(want))
	if sec.writeVec {
		if err := s.store(tx, want); err != nil {
			return err
		}
		if err := s.scatter(dma.Write, cfg.StartBlock, tx, sec.async, b); err != nil {
			return err
		}
	} else {
		if err := s.store([]memmap.Span{buf}, want); err != nil {
			return err
		}
		if err := s.block(dma.Write, cfg.StartBlock, buf, false, b); err != nil {
			return err
		}
	}
	if sec.readVec {
		if err := s.store(rx, zero); err != nil {
			return err
		}
		if err := s.scatter(dma.Read, cfg.StartBlock, rx, sec.async, b); err != nil {
			return err
		}
		return s.check(rx, want)
	}
	if err := s.store([]memmap.Span{buf}, zero); err != nil {
		return err
	}
	if err := s.block(dma.Read, cfg.StartBlock, buf, false, b); err != nil {
		return err
	}
	return s.check([]memmap.Span{buf}, want)
}

// BackToBack issues cfg.Iterations asynchronous scatter writes as fast as the
// engine accepts them, alternating between two sets of buffers, then reads
// the last one back.
//
// A request issued while the previous one is in flight must be rejected with
// dma.ErrBusy, and each completion must belong to the request it follows.
func BackToBack(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needCard(); err != nil {
		return 0, err
	}
	n := cfg.BlockCount * emmc.BlockSize
	var sets [2][]memmap.Span
	for i := range sets {
		var err error
		if sets[i], err = s.buffers(n, cfg.Vectors); err != nil {
			return 0, err
		}
	}
	rx, err := s.buffers(n, cfg.Vectors)
	if err != nil {
		return 0, err
	}
	if err := s.Card.Erase(cfg.StartBlock, cfg.BlockCount); err != nil {
		return 0, err
	}
	before := s.Card.Stats(dma.Write)
	b := cfg.budget()
	want := make([]byte, n)
	var held *cachectrl.Buffer
	rejected := 0
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		set := sets[i%2]
		// Request i-2 used this set; it completed before request i-1 was
		// accepted.
		verify.Random(want, int64(i))
		if err := s.store(set, want); err != nil {
			return 0, err
		}
		buf := s.Cache.AcquireAll(set, cachectrl.ToDevice)
		for {
			err := s.Card.ScatterWriteAsync(cfg.StartBlock, emmc.Vectors(set...))
			if err == nil {
				break
			}
			if !errors.Is(err, dma.ErrBusy) {
				buf.Release()
				return 0, errors.Wrapf(err, "request %d", i)
			}
			rejected++
			if _, err := s.Card.Poll(dma.Write, b); err != nil {
				buf.Release()
				return 0, errors.Wrapf(err, "request %d", i-1)
			}
		}
		if held != nil {
			held.Release()
		}
		held = buf
	}
	c, err := s.Card.Poll(dma.Write, b)
	if held != nil {
		held.Release()
	}
	if err != nil {
		return 0, err
	}
	if c.Count != cfg.BlockCount {
		return 0, errors.Errorf("last completion reports %d blocks, want %d", c.Count, cfg.BlockCount)
	}
	after := s.Card.Stats(dma.Write)
	if issued := after.Issued - before.Issued; issued != uint64(cfg.Iterations) {
		return 0, errors.Errorf("%d requests issued, want %d", issued, cfg.Iterations)
	}
	if done := after.Completed - before.Completed; done != uint64(cfg.Iterations) {
		return 0, errors.Errorf("%d requests completed, want %d", done, cfg.Iterations)
	}
	s.logf("back-to-back: %d requests, %d rejected while in flight", cfg.Iterations, rejected)
	if err := s.store(rx, make([]byte, n)); err != nil {
		return 0, err
	}
	if err := s.scatter(dma.Read, cfg.StartBlock, rx, true, b); err != nil {
		return 0, err
	}
	if err := s.check(rx, want); err != nil {
		return 0, err
	}
	return uint64(cfg.Iterations+1) * uint64(n), nil
}

// Sweep moves the transfer across cfg.SweepSteps start blocks. The card is
// put to sleep and woken up between each write and read.
func Sweep(ctx context.Context, s *System, cfg *Config) (uint64, error) {
	if err := s.needCard(); err != nil {
		return 0, err
	}
	n := cfg.BlockCount * emmc.BlockSize
	buf, err := s.Mem.Alloc(memmap.SSRAM, n, 0)
	if err != nil {
		return 0, err
	}
	b := cfg.budget()
	want := make([]byte, n)
	var total uint64
	for step := 0; step < cfg.SweepSteps; step++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		start := cfg.StartBlock + uint32(step)*2*cfg.BlockCount
		verify.Pattern(step%verify.NumPatterns, want)
		if err := s.sweepStep(start, buf, want, b); err != nil {
			return total, errors.Wrapf(err, "start block %d", start)
		}
		total += 2 * uint64(n)
	}
	return total, nil
}

func (s *System) sweepStep(start uint32, buf memmap.Span, want []byte, b dma.Budget) error {
	if err := s.Card.Erase(start, buf.Len/emmc.BlockSize); err != nil {
		return err
	}
	if err := s.store([]memmap.Span{buf}, want); err != nil {
		return err
	}
	if err := s.block(dma.Write, start, buf, true, b); err != nil {
		return err
	}
	if err := s.nap(); err != nil {
		return err
	}
	if err := s.store([]memmap.Span{buf}, make([]byte, len(want))); err != nil {
		return err
	}
	if err := s.block(dma.Read, start, buf, true, b); err != nil {
		return err
	}
	if err := s.check([]memmap.Span{buf}, want); err != nil {
		return err
	}
	return s.nap()
}

func (s *System) nap() error {
	if err := s.Card.Sleep(); err != nil {
		return err
	}
	return s.Card.Wakeup()
}
