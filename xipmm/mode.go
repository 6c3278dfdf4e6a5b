// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xipmm

import "strconv"

// Width is the size of one CPU access.
type Width uint8

const (
	Byte Width = 1
	Half Width = 2
	Word Width = 4
)

func (w Width) String() string {
	switch w {
	case Byte:
		return "byte"
	case Half:
		return "short"
	case Word:
		return "word"
	default:
		return "Width(" + strconv.Itoa(int(w)) + ")"
	}
}

func (w Width) mask() uint32 {
	if w == Word {
		return 0xFFFFFFFF
	}
	return 1<<(8*uint(w)) - 1
}

type kind uint8

const (
	aligned kind = iota
	// Aligned stores, loads skewed by 1 to 3 bytes.
	unalignedLoad
	// Stores skewed by 1 to 3 bytes, aligned loads.
	unalignedStore
	octal
	memcpy
)

// Mode is an access pattern.
type Mode struct {
	kind  kind
	Write Width
	Read  Width
}

// Access modes.
var (
	Memcpy              = Mode{kind: memcpy, Write: Byte, Read: Byte}
	WordAccess          = Mode{Write: Word, Read: Word}
	ShortAccess         = Mode{Write: Half, Read: Half}
	ByteAccess          = Mode{Write: Byte, Read: Byte}
	ShortUnaligned      = Mode{kind: unalignedLoad, Write: Half, Read: Half}
	WordUnaligned       = Mode{kind: unalignedLoad, Write: Word, Read: Word}
	ShortUnalignedStore = Mode{kind: unalignedStore, Write: Half, Read: Half}
	WordUnalignedStore  = Mode{kind: unalignedStore, Write: Word, Read: Word}
	Octal               = Mode{kind: octal, Write: Word, Read: Word}
)

// Mixed returns the mode writing at width write and reading back at width
// read.
func Mixed(write, read Width) Mode {
	return Mode{Write: write, Read: read}
}

// UnalignedLoad returns the mode storing aligned values of width write and
// loading them back with width read at offsets 1 to 3.
func UnalignedLoad(write, read Width) Mode {
	return Mode{kind: unalignedLoad, Write: write, Read: read}
}

// UnalignedStore returns the mode storing values of width write at offsets 1
// to 3 and loading them back aligned with width read.
func UnalignedStore(write, read Width) Mode {
	return Mode{kind: unalignedStore, Write: write, Read: read}
}

func (m Mode) String() string {
	switch m.kind {
	case memcpy:
		return "memcpy"
	case octal:
		return "octal"
	case unalignedLoad:
		if m.Write == m.Read {
			return m.Write.String() + " unaligned"
		}
		return m.Write.String() + " write/" + m.Read.String() + " unaligned read"
	case unalignedStore:
		if m.Write == m.Read {
			return m.Write.String() + " unaligned store"
		}
		return m.Write.String() + " unaligned write/" + m.Read.String() + " read"
	}
	if m.Write == m.Read {
		return m.Write.String()
	}
	return m.Write.String() + " write/" + m.Read.String() + " read"
}

// Modes returns the whole sequence: the named modes, every mixed width
// combination, then every mixed width combination with an unaligned side.
func Modes() []Mode {
	out := []Mode{Memcpy, WordAccess, ShortAccess, ByteAccess, ShortUnaligned, WordUnaligned, ShortUnalignedStore, WordUnalignedStore, Octal}
	widths := []Width{Byte, Half, Word}
	for _, w := range widths {
		for _, r := range widths {
			if w != r {
				out = append(out, Mixed(w, r))
			}
		}
	}
	for _, w := range widths {
		for _, r := range widths {
			// A byte access is never unaligned.
			if w != r && r != Byte {
				out = append(out, UnalignedLoad(w, r))
			}
		}
	}
	for _, w := range widths {
		for _, r := range widths {
			if w != r && w != Byte {
				out = append(out, UnalignedStore(w, r))
			}
		}
	}
	return out
}
