// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cachectrl

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/memmap"
)

// Size is the data cache capacity of an Apollo5.
const Size = 64 * 1024

// Range is a range of memory to clean or invalidate. A nil *Range means the
// whole cache.
type Range struct {
	Start uint32
	Size  uint32
}

func (r *Range) contains(line uint32) bool {
	return line+memmap.LineSize > r.Start && line < r.Start+r.Size
}

// Opts configures a Cache.
type Opts struct {
	// Size is the capacity in bytes. Defaults to Size.
	Size uint32
	// Threshold is the transfer length at or above which maintenance is done
	// on the whole cache instead of a range. Defaults to the capacity.
	Threshold uint32
}

// Stats counts cache activity.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	// Faults counts write backs rejected by the bus.
	Faults uint64

	WholeCleans       uint64
	RangedCleans      uint64
	WholeInvalidates  uint64
	RangedInvalidates uint64
	ICacheInvalidates uint64
}

type line struct {
	addr  uint32
	data  [memmap.LineSize]byte
	dirty bool
}

// Cache is the CPU view of a memmap.Map.
//
// Accesses to non cacheable regions go straight to the map.
type Cache struct {
	m         *memmap.Map
	capacity  int
	threshold uint32

	mu    sync.Mutex
	lines map[uint32]*list.Element
	lru   list.List
	stats Stats
}

// New returns a cache in front of m. opts may be nil.
func New(m *memmap.Map, opts *Opts) *Cache {
	size := uint32(Size)
	threshold := uint32(0)
	if opts != nil {
		if opts.Size != 0 {
			size = opts.Size
		}
		threshold = opts.Threshold
	}
	if threshold == 0 {
		threshold = size
	}
	c := &Cache{
		m:         m,
		capacity:  int(size / memmap.LineSize),
		threshold: threshold,
		lines:     map[uint32]*list.Element{},
	}
	if c.capacity == 0 {
		c.capacity = 1
	}
	return c
}

// Map returns the memory behind the cache.
func (c *Cache) Map() *memmap.Map {
	return c.m
}

// Threshold returns the length at or above which whole cache maintenance is
// used.
func (c *Cache) Threshold() uint32 {
	return c.threshold
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Read is a CPU load of len(p) bytes at addr.
func (c *Cache) Read(addr uint32, p []byte) error {
	cached, err := c.check(addr, len(p))
	if err != nil {
		return err
	}
	if !cached {
		return c.m.Read(addr, p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for done := 0; done < len(p); {
		a := addr + uint32(done)
		l, err := c.fill(a &^ (memmap.LineSize - 1))
		if err != nil {
			return err
		}
		done += copy(p[done:], l.data[a-l.addr:])
	}
	return nil
}

// Write is a CPU store of p at addr.
//
// Stores to a cacheable region allocate the line and stay in the cache until
// cleaned or evicted.
func (c *Cache) Write(addr uint32, p []byte) error {
	cached, err := c.check(addr, len(p))
	if err != nil {
		return err
	}
	if !cached {
		return c.m.Write(addr, p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for done := 0; done < len(p); {
		a := addr + uint32(done)
		l, err := c.fill(a &^ (memmap.LineSize - 1))
		if err != nil {
			return err
		}
		done += copy(l.data[a-l.addr:], p[done:])
		l.dirty = true
	}
	return nil
}

// Clean writes dirty lines in r back to memory. The lines stay valid.
func (c *Cache) Clean(r *Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		c.stats.WholeCleans++
	} else {
		c.stats.RangedCleans++
	}
	for e := c.lru.Front(); e != nil; e = e.Next() {
		l := e.Value.(*line)
		if l.dirty && (r == nil || r.contains(l.addr)) {
			c.writeback(l)
		}
	}
}

// Invalidate drops the lines in r. Dirty data in those lines is lost.
//
// The instruction cache is not modelled, alsoICache is only counted.
func (c *Cache) Invalidate(r *Range, alsoICache bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		c.stats.WholeInvalidates++
	} else {
		c.stats.RangedInvalidates++
	}
	if alsoICache {
		c.stats.ICacheInvalidates++
	}
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		l := e.Value.(*line)
		if r == nil || r.contains(l.addr) {
			c.lru.Remove(e)
			delete(c.lines, l.addr)
		}
		e = next
	}
}

// FlushBeforeWrite makes CPU stores in [addr, addr+n) visible to a DMA engine.
//
// It must be called once the buffer is filled and before the write DMA is
// started. Lengths at or above the threshold clean the whole cache.
func (c *Cache) FlushBeforeWrite(addr, n uint32) {
	if !c.m.Cacheable(addr) {
		return
	}
	if n >= c.threshold {
		c.Clean(nil)
		return
	}
	c.Clean(&Range{Start: addr, Size: n})
}

// InvalidateAfterRead makes DMA stores in [addr, addr+n) visible to the CPU.
//
// It must be called once the read DMA completed and before the buffer is
// inspected. Lengths at or above the threshold invalidate the whole cache.
func (c *Cache) InvalidateAfterRead(addr, n uint32) {
	if !c.m.Cacheable(addr) {
		return
	}
	if n >= c.threshold {
		c.Invalidate(nil, true)
		return
	}
	c.Invalidate(&Range{Start: addr, Size: n}, false)
}

//

// check returns true if [addr, addr+n) is cacheable.
func (c *Cache) check(addr uint32, n int) (bool, error) {
	r, err := c.m.Lookup(addr)
	if err != nil {
		return false, err
	}
	if uint64(addr-r.Base)+uint64(n) > uint64(r.Size) {
		return false, errors.Wrapf(memmap.ErrCrossing, "cachectrl: %s at %#08x+%d", r.Name, addr, n)
	}
	return r.Cacheable, nil
}

// fill returns the line at addr, loading it on a miss.
//
// Must be called with mu held.
func (c *Cache) fill(addr uint32) (*line, error) {
	if e, ok := c.lines[addr]; ok {
		c.stats.Hits++
		c.lru.MoveToBack(e)
		return e.Value.(*line), nil
	}
	c.stats.Misses++
	l := &line{addr: addr}
	if err := c.m.Read(addr, l.data[:]); err != nil {
		return nil, err
	}
	for len(c.lines) >= c.capacity {
		e := c.lru.Front()
		v := e.Value.(*line)
		if v.dirty {
			c.writeback(v)
		}
		c.lru.Remove(e)
		delete(c.lines, v.addr)
		c.stats.Evictions++
	}
	c.lines[addr] = c.lru.PushBack(l)
	return l, nil
}

// Must be called with mu held.
func (c *Cache) writeback(l *line) {
	if err := c.m.Write(l.addr, l.data[:]); err != nil {
		c.stats.Faults++
		logf("cachectrl: write back %#08x: %v", l.addr, err)
		return
	}
	l.dirty = false
	c.stats.Writebacks++
}
