// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
)

var (
	// ErrXIPDisabled is returned by loads and stores through the aperture
	// while XIP is disabled.
	ErrXIPDisabled = errors.New("mspi: XIP disabled")
	// ErrOutOfRange is returned for an access past the end of the device.
	ErrOutOfRange = errors.New("mspi: access out of device")
	// ErrHalted is returned after Halt.
	ErrHalted = errors.New("mspi: controller halted")
)

// status is the controller status of an access.
type status uint8

const (
	statusOK status = iota
	statusRange
	statusXIP
	statusHalted
)

func toErr(op string, s status, addr uint32, n int) error {
	switch s {
	case statusOK:
		return nil
	case statusRange:
		return errors.Wrapf(ErrOutOfRange, "%s %#x+%d", op, addr, n)
	case statusXIP:
		return errors.Wrapf(ErrXIPDisabled, "%s %#x+%d", op, addr, n)
	case statusHalted:
		return errors.Wrap(ErrHalted, op)
	default:
		return errors.Errorf("mspi: %s: status %d", op, s)
	}
}

const pageSize = 4096

// store is the PSRAM array. Pages are allocated on first write.
type store struct {
	size uint32

	mu    sync.RWMutex
	pages map[uint32]*[pageSize]byte
	// Scrambling region.
	start, end uint32
	scramble   bool
}

func newStore(size uint32) *store {
	return &store{size: size, pages: map[uint32]*[pageSize]byte{}}
}

func (s *store) check(addr uint32, n int) status {
	if uint64(addr)+uint64(n) > uint64(s.size) {
		return statusRange
	}
	return statusOK
}

func (s *store) load(addr uint32, p []byte) status {
	if st := s.check(addr, len(p)); st != statusOK {
		return st
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range p {
		a := addr + uint32(i)
		var v byte
		if pg := s.pages[a/pageSize]; pg != nil {
			v = pg[a%pageSize]
		}
		if s.scrambled(a) {
			v ^= key(a)
		}
		p[i] = v
	}
	return statusOK
}

func (s *store) store(addr uint32, p []byte) status {
	if st := s.check(addr, len(p)); st != statusOK {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range p {
		a := addr + uint32(i)
		pg := s.pages[a/pageSize]
		if pg == nil {
			pg = &[pageSize]byte{}
			s.pages[a/pageSize] = pg
		}
		if s.scrambled(a) {
			v ^= key(a)
		}
		pg[a%pageSize] = v
	}
	return statusOK
}

// Must be called with mu held.
func (s *store) scrambled(a uint32) bool {
	return s.scramble && a >= s.start && a < s.end
}

func (s *store) setScrambling(on bool, start, end uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scramble = on
	s.start = start
	s.end = end
}

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// key returns the scrambling key of the byte at a. It is never 0.
func key(a uint32) byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], a&^1)
	k := byte(crc16.Checksum(b[:], crcTable) >> (8 * (a & 1)))
	if k == 0 {
		k = 0xA5
	}
	return k
}

// aperture is the XIP view of the device as seen from the AXI bus.
type aperture struct {
	d *Dev
}

func (a aperture) ReadAt(p []byte, off int64) (int, error) {
	st := a.d.xipStatus()
	if st == statusOK {
		st = a.d.ram.load(uint32(off), p)
	}
	if err := toErr("xip load", st, uint32(off), len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a aperture) WriteAt(p []byte, off int64) (int, error) {
	st := a.d.xipStatus()
	if st == statusOK {
		st = a.d.ram.store(uint32(off), p)
	}
	if err := toErr("xip store", st, uint32(off), len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
