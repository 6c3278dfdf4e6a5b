// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cachectrl

import "periph.io/x/apollo/v3/memmap"

// Direction is the direction of a DMA transfer relative to memory.
type Direction uint8

const (
	// ToDevice is a write transfer: the DMA engine reads memory.
	ToDevice Direction = iota
	// FromDevice is a read transfer: the DMA engine writes memory.
	FromDevice
)

func (d Direction) String() string {
	if d == ToDevice {
		return "ToDevice"
	}
	return "FromDevice"
}

// Buffer is a DMA buffer held between the start and the end of a transfer.
type Buffer struct {
	c     *Cache
	spans []memmap.Span
	dir   Direction
	total uint32
	done  bool
}

// Acquire prepares s for a DMA transfer in direction dir.
//
// ToDevice buffers are cleaned so the engine sees the CPU stores. FromDevice
// buffers are cleaned too, so that no dirty line can be evicted on top of
// the incoming data; they are invalidated by Release.
func (c *Cache) Acquire(s memmap.Span, dir Direction) *Buffer {
	return c.AcquireAll([]memmap.Span{s}, dir)
}

// AcquireAll is Acquire for a scatter list.
//
// The threshold applies to the sum of the lengths: one whole cache operation
// replaces the per span ones when the list is large.
func (c *Cache) AcquireAll(spans []memmap.Span, dir Direction) *Buffer {
	b := &Buffer{c: c, spans: spans, dir: dir}
	for _, s := range spans {
		b.total += s.Len
	}
	b.maintain(c.Clean, c.Clean)
	return b
}

// Spans returns the memory held by the buffer.
func (b *Buffer) Spans() []memmap.Span {
	return b.spans
}

// Direction returns the transfer direction.
func (b *Buffer) Direction() Direction {
	return b.dir
}

// Release ends the transfer. FromDevice buffers are invalidated so the CPU
// observes what the engine wrote.
//
// It must be called once the transfer completed, and only once; further calls
// are ignored.
func (b *Buffer) Release() {
	if b.done {
		return
	}
	b.done = true
	if b.dir != FromDevice {
		return
	}
	b.maintain(func(*Range) { b.c.Invalidate(nil, true) }, func(r *Range) { b.c.Invalidate(r, false) })
}

func (b *Buffer) maintain(whole, ranged func(*Range)) {
	cached := false
	for _, s := range b.spans {
		if s.Len != 0 && b.c.m.Cacheable(s.Addr) {
			cached = true
			break
		}
	}
	if !cached {
		return
	}
	if b.total >= b.c.threshold {
		whole(nil)
		return
	}
	for _, s := range b.spans {
		if s.Len != 0 && b.c.m.Cacheable(s.Addr) {
			ranged(&Range{Start: s.Addr, Size: s.Len})
		}
	}
}
