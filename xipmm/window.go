// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xipmm

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/cachectrl"
	"periph.io/x/apollo/v3/memmap"
)

// ErrWindow is returned for an access outside the window.
var ErrWindow = errors.New("xipmm: access outside window")

// Window is the CPU view of an XIP aperture.
//
// Loads and stores go through the data cache unless the window is uncached.
// Values are little endian.
type Window struct {
	c        *cachectrl.Cache
	base     uint32
	size     uint32
	uncached bool
}

// New returns a window on aperture a seen through c.
func New(c *cachectrl.Cache, a memmap.Span) *Window {
	return &Window{c: c, base: a.Addr, size: a.Len}
}

// Uncached returns a window on the same aperture whose loads and stores
// bypass the data cache, like running with the cache disabled. Each access
// then reaches the device.
func (w *Window) Uncached() *Window {
	return &Window{c: w.c, base: w.base, size: w.size, uncached: true}
}

// Span returns the aperture.
func (w *Window) Span() memmap.Span {
	return memmap.Span{Addr: w.base, Len: w.size}
}

func (w *Window) check(off uint32, n int) error {
	if uint64(off)+uint64(n) > uint64(w.size) {
		return errors.Wrapf(ErrWindow, "%#x+%d", off, n)
	}
	return nil
}

func (w *Window) load(off uint32, p []byte) error {
	if err := w.check(off, len(p)); err != nil {
		return err
	}
	if w.uncached {
		return w.c.Map().Read(w.base+off, p)
	}
	return w.c.Read(w.base+off, p)
}

func (w *Window) store(off uint32, p []byte) error {
	if err := w.check(off, len(p)); err != nil {
		return err
	}
	if w.uncached {
		return w.c.Map().Write(w.base+off, p)
	}
	return w.c.Write(w.base+off, p)
}

// Read8 loads a byte.
func (w *Window) Read8(off uint32) (uint8, error) {
	var b [1]byte
	err := w.load(off, b[:])
	return b[0], err
}

// Read16 loads a half word. off needs not be aligned.
func (w *Window) Read16(off uint32) (uint16, error) {
	var b [2]byte
	err := w.load(off, b[:])
	return binary.LittleEndian.Uint16(b[:]), err
}

// Read32 loads a word. off needs not be aligned.
func (w *Window) Read32(off uint32) (uint32, error) {
	var b [4]byte
	err := w.load(off, b[:])
	return binary.LittleEndian.Uint32(b[:]), err
}

// Write8 stores a byte.
func (w *Window) Write8(off uint32, v uint8) error {
	return w.store(off, []byte{v})
}

// Write16 stores a half word.
func (w *Window) Write16(off uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return w.store(off, b[:])
}

// Write32 stores a word.
func (w *Window) Write32(off uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.store(off, b[:])
}

// ReadOctal loads 8 consecutive words in one access, like LDM.
func (w *Window) ReadOctal(off uint32) ([8]uint32, error) {
	var b [32]byte
	var out [8]uint32
	if err := w.load(off, b[:]); err != nil {
		return out, err
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out, nil
}

// WriteOctal stores 8 consecutive words in one access, like STM.
func (w *Window) WriteOctal(off uint32, v [8]uint32) error {
	var b [32]byte
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], x)
	}
	return w.store(off, b[:])
}

// CopyTo stores p at off, like memcpy into the aperture.
func (w *Window) CopyTo(off uint32, p []byte) error {
	return w.store(off, p)
}

// CopyFrom loads len(p) bytes at off, like memcpy out of the aperture.
func (w *Window) CopyFrom(off uint32, p []byte) error {
	return w.load(off, p)
}

// Sync writes back the CPU stores in [off, off+n) to the device and drops
// the cached copy, so the next loads observe the device. It is a no-op on an
// uncached window.
func (w *Window) Sync(off, n uint32) error {
	if err := w.check(off, int(n)); err != nil {
		return err
	}
	if w.uncached {
		return nil
	}
	w.c.Clean(&cachectrl.Range{Start: w.base + off, Size: n})
	w.c.Invalidate(&cachectrl.Range{Start: w.base + off, Size: n}, false)
	return nil
}

// read loads a value of width wd.
func (w *Window) read(wd Width, off uint32) (uint32, error) {
	switch wd {
	case Byte:
		v, err := w.Read8(off)
		return uint32(v), err
	case Half:
		v, err := w.Read16(off)
		return uint32(v), err
	default:
		return w.Read32(off)
	}
}

// write stores the low bytes of v at width wd.
func (w *Window) write(wd Width, off, v uint32) error {
	switch wd {
	case Byte:
		return w.Write8(off, uint8(v))
	case Half:
		return w.Write16(off, uint16(v))
	default:
		return w.Write32(off, v)
	}
}
