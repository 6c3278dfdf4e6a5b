// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memmap

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// LineSize is the data cache line size. Allocations are aligned on it by
// default.
const LineSize = 32

var (
	// ErrUnmapped is returned when an address doesn't belong to any region.
	ErrUnmapped = errors.New("memmap: unmapped address")
	// ErrCrossing is returned when an access runs past the end of its region.
	ErrCrossing = errors.New("memmap: access crosses region boundary")
	// ErrOverlap is returned when a new region overlaps an existing one.
	ErrOverlap = errors.New("memmap: overlapping region")
	// ErrNoMemory is returned when a region allocator is exhausted.
	ErrNoMemory = errors.New("memmap: out of memory")
)

// Span is a range of physical memory.
type Span struct {
	Addr uint32
	Len  uint32
}

// End returns the first address past the span.
func (s Span) End() uint32 {
	return s.Addr + s.Len
}

// Sub returns the n bytes at offset off within s.
//
// It panics if the result doesn't fit in s.
func (s Span) Sub(off, n uint32) Span {
	if off+n > s.Len {
		panic(fmt.Sprintf("memmap: Sub(%d, %d) out of %s", off, n, s))
	}
	return Span{Addr: s.Addr + off, Len: n}
}

// Overlaps returns true if both spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Len != 0 && o.Len != 0 && s.Addr < o.End() && o.Addr < s.End()
}

func (s Span) String() string {
	return fmt.Sprintf("[%#08x, %#08x)", s.Addr, s.End())
}

// Backend stores the content of a region. Offsets are relative to the region
// base.
type Backend interface {
	io.ReaderAt
	io.WriterAt
}

// Region is a contiguous window of the physical address space.
type Region struct {
	Name      string
	Base      uint32
	Size      uint32
	Cacheable bool

	b      Backend
	next   uint32
	device bool
}

// Span returns the whole region as a span.
func (r *Region) Span() Span {
	return Span{Addr: r.Base, Len: r.Size}
}

// Contains returns true if addr is inside the region.
func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

func (r *Region) String() string {
	return r.Name + r.Span().String()
}

// Map is a physical address map.
//
// It is safe for concurrent use. Accesses to a RAM region are serialized per
// region; device regions do their own locking.
type Map struct {
	mu      sync.RWMutex
	regions []*Region
	closers []func() error
}

// New returns an empty map.
func New() *Map {
	return &Map{}
}

// AddRAM adds a region backed by host memory.
func (m *Map) AddRAM(name string, base, size uint32, cacheable bool) (*Region, error) {
	b, release, err := allocArena(int(size))
	if err != nil {
		return nil, errors.Wrapf(err, "memmap: allocating %s", name)
	}
	r, err := m.add(&Region{Name: name, Base: base, Size: size, Cacheable: cacheable, b: &ram{b: b}})
	if err != nil {
		_ = release()
		return nil, err
	}
	m.mu.Lock()
	m.closers = append(m.closers, release)
	m.mu.Unlock()
	return r, nil
}

// MapDevice adds a region whose accesses are forwarded to b.
func (m *Map) MapDevice(name string, base, size uint32, cacheable bool, b Backend) (*Region, error) {
	return m.add(&Region{Name: name, Base: base, Size: size, Cacheable: cacheable, b: b, device: true})
}

func (m *Map) add(r *Region) (*Region, error) {
	if r.Size == 0 || uint64(r.Base)+uint64(r.Size) > 1<<32 {
		return nil, errors.Errorf("memmap: invalid region %s", r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.regions {
		if o.Span().Overlaps(r.Span()) {
			return nil, errors.Wrapf(ErrOverlap, "%s and %s", r, o)
		}
		if o.Name == r.Name {
			return nil, errors.Errorf("memmap: region %q already exists", r.Name)
		}
	}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Base < m.regions[j].Base })
	logf("memmap: added %s", r)
	return r, nil
}

// Unmap removes a region added with MapDevice.
func (m *Map) Unmap(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.Name != name {
			continue
		}
		if !r.device {
			return errors.Errorf("memmap: %s is RAM", name)
		}
		m.regions = append(m.regions[:i], m.regions[i+1:]...)
		logf("memmap: removed %s", r)
		return nil
	}
	return errors.Errorf("memmap: unknown region %q", name)
}

// Regions returns the regions sorted by base address.
func (m *Map) Regions() []*Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// Region returns the region named name or nil.
func (m *Map) Region(name string) *Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Lookup returns the region containing addr.
func (m *Map) Lookup(addr uint32) (*Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].Base+m.regions[i].Size-1 >= addr })
	if i < len(m.regions) && m.regions[i].Contains(addr) {
		return m.regions[i], nil
	}
	return nil, errors.Wrapf(ErrUnmapped, "%#08x", addr)
}

// Cacheable returns true if addr is in a cacheable region.
func (m *Map) Cacheable(addr uint32) bool {
	r, err := m.Lookup(addr)
	return err == nil && r.Cacheable
}

func (m *Map) resolve(addr uint32, n int) (*Region, int64, error) {
	r, err := m.Lookup(addr)
	if err != nil {
		return nil, 0, err
	}
	off := addr - r.Base
	if uint64(off)+uint64(n) > uint64(r.Size) {
		return nil, 0, errors.Wrapf(ErrCrossing, "%s at %#08x+%d", r.Name, addr, n)
	}
	return r, int64(off), nil
}

// Read copies len(p) bytes at addr into p.
func (m *Map) Read(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r, off, err := m.resolve(addr, len(p))
	if err != nil {
		return err
	}
	if _, err := r.b.ReadAt(p, off); err != nil {
		return errors.Wrapf(err, "memmap: read %s at %#08x", r.Name, addr)
	}
	return nil
}

// Write copies p at addr.
func (m *Map) Write(addr uint32, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r, off, err := m.resolve(addr, len(p))
	if err != nil {
		return err
	}
	if _, err := r.b.WriteAt(p, off); err != nil {
		return errors.Wrapf(err, "memmap: write %s at %#08x", r.Name, addr)
	}
	return nil
}

// Bytes returns a copy of the content of s.
func (m *Map) Bytes(s Span) ([]byte, error) {
	b := make([]byte, s.Len)
	if err := m.Read(s.Addr, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Alloc reserves n bytes in the named region.
//
// align must be a power of two; 0 means LineSize. Memory is never returned to
// the region.
func (m *Map) Alloc(region string, n, align uint32) (Span, error) {
	if align == 0 {
		align = LineSize
	}
	if align&(align-1) != 0 {
		return Span{}, errors.Errorf("memmap: alignment %d is not a power of two", align)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if r.Name != region {
			continue
		}
		start := (r.Base + r.next + align - 1) &^ (align - 1)
		if uint64(start-r.Base)+uint64(n) > uint64(r.Size) {
			return Span{}, errors.Wrapf(ErrNoMemory, "%s: %d bytes", region, n)
		}
		r.next = start - r.Base + n
		return Span{Addr: start, Len: n}, nil
	}
	return Span{}, errors.Errorf("memmap: unknown region %q", region)
}

// AllocUnaligned reserves n bytes starting skew bytes past a cache line
// boundary.
func (m *Map) AllocUnaligned(region string, n, skew uint32) (Span, error) {
	s, err := m.Alloc(region, n+skew, LineSize)
	if err != nil {
		return Span{}, err
	}
	return Span{Addr: s.Addr + skew, Len: n}, nil
}

// Close releases the host memory backing the RAM regions.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, c := range m.closers {
		if err1 := c(); err == nil {
			err = err1
		}
	}
	m.closers = nil
	m.regions = nil
	return err
}

//

// ram is a Backend over a byte slice.
type ram struct {
	mu sync.RWMutex
	b  []byte
}

func (r *ram) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if off < 0 || off+int64(len(p)) > int64(len(r.b)) {
		return 0, io.ErrUnexpectedEOF
	}
	return copy(p, r.b[off:]), nil
}

func (r *ram) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(r.b)) {
		return 0, io.ErrShortWrite
	}
	return copy(r.b[off:], p), nil
}
