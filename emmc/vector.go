// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/memmap"
)

// MaxVectors is the ADMA descriptor table size.
const MaxVectors = 32

var (
	// ErrNoVectors is returned for an empty vector list.
	ErrNoVectors = errors.New("emmc: no I/O vector")
	// ErrTooManyVectors is returned when a list doesn't fit the descriptor
	// table.
	ErrTooManyVectors = errors.New("emmc: too many I/O vectors")
	// ErrUnaligned is returned when the total length is not a whole number of
	// blocks.
	ErrUnaligned = errors.New("emmc: transfer length is not block aligned")
)

// IOVec is one segment of a scatter/gather transfer.
//
// The memory is owned by the caller; for an asynchronous transfer it must not
// be touched until the transfer completes.
type IOVec struct {
	Base uint32
	Len  uint32
}

// Span returns the memory described by v.
func (v IOVec) Span() memmap.Span {
	return memmap.Span{Addr: v.Base, Len: v.Len}
}

// Vectors converts spans to I/O vectors.
func Vectors(spans ...memmap.Span) []IOVec {
	out := make([]IOVec, len(spans))
	for i, s := range spans {
		out[i] = IOVec{Base: s.Addr, Len: s.Len}
	}
	return out
}

// Spans converts I/O vectors to spans.
func Spans(vecs []IOVec) []memmap.Span {
	out := make([]memmap.Span, len(vecs))
	for i, v := range vecs {
		out[i] = v.Span()
	}
	return out
}

// blocks validates vecs against the block size and the memory map and returns
// the number of blocks they describe.
//
// Individual vectors may have any length; only the sum must be block aligned.
func blocks(mem *memmap.Map, vecs []IOVec) (uint32, error) {
	if len(vecs) == 0 {
		return 0, ErrNoVectors
	}
	if len(vecs) > MaxVectors {
		return 0, errors.Wrapf(ErrTooManyVectors, "%d > %d", len(vecs), MaxVectors)
	}
	var total uint64
	for i, v := range vecs {
		if v.Len == 0 {
			return 0, errors.Errorf("emmc: vector %d is empty", i)
		}
		r, err := mem.Lookup(v.Base)
		if err != nil {
			return 0, errors.Wrapf(err, "emmc: vector %d", i)
		}
		if uint64(v.Base-r.Base)+uint64(v.Len) > uint64(r.Size) {
			return 0, errors.Wrapf(memmap.ErrCrossing, "emmc: vector %d", i)
		}
		total += uint64(v.Len)
	}
	if total%BlockSize != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "%d bytes", total)
	}
	return uint32(total / BlockSize), nil
}
