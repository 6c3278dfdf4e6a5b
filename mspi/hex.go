// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"io"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// LoadHex programs the segments of an Intel HEX file into the device.
//
// Segment addresses are device addresses; addresses inside the XIP aperture
// are accepted too.
func (d *Dev) LoadHex(r io.Reader) error {
	m := gohex.NewMemory()
	if err := m.ParseIntelHex(r); err != nil {
		return errors.Wrap(err, "mspi: parsing Intel HEX")
	}
	for _, s := range m.GetDataSegments() {
		addr := d.offset(s.Address)
		if err := d.program(addr, s.Data); err != nil {
			return err
		}
		logf("%s: programmed %d bytes at %#x", d, len(s.Data), addr)
	}
	return nil
}

// DumpHex writes n bytes at addr to w as Intel HEX.
func (d *Dev) DumpHex(w io.Writer, addr, n uint32) error {
	addr = d.offset(addr)
	b := make([]byte, n)
	if err := d.peek(addr, b); err != nil {
		return err
	}
	m := gohex.NewMemory()
	if err := m.AddBinary(addr, b); err != nil {
		return errors.Wrap(err, "mspi: dumping Intel HEX")
	}
	return errors.Wrap(m.DumpIntelHex(w, 16), "mspi: dumping Intel HEX")
}

// offset converts an aperture address to a device address.
func (d *Dev) offset(addr uint32) uint32 {
	if a := d.Aperture(); addr >= a.Addr && addr < a.End() {
		return addr - a.Addr
	}
	return addr
}
