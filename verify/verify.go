// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package verify generates test patterns and compares transferred data.
package verify

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// NumPatterns is the number of distinct patterns returned by Pattern.
const NumPatterns = 6

// Pattern fills buf with pattern index:
//
//	0: 0x5555AAAA words
//	1: 0xFFFF0000 words
//	2: a walking one in each byte
//	3: bytes incrementing from 1
//	4: bytes decrementing from 0xFF
//	default: bytes incrementing from 0
//
// Word patterns are little endian; a trailing partial word is left as is.
func Pattern(index int, buf []byte) {
	switch index {
	case 0:
		fillWords(buf, 0x5555AAAA)
	case 1:
		fillWords(buf, 0xFFFF0000)
	case 2:
		for i := range buf {
			buf[i] = 1 << (i % 8)
		}
	case 3:
		for i := range buf {
			buf[i] = byte(i + 1)
		}
	case 4:
		for i := range buf {
			buf[i] = byte(0xFF - i)
		}
	default:
		Incrementing(buf)
	}
}

func fillWords(buf []byte, v uint32) {
	for i := 0; i+4 <= len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], v)
	}
}

// Incrementing sets buf[i] to i%256.
func Incrementing(buf []byte) {
	for i := range buf {
		buf[i] = byte(i)
	}
}

// Complemented sets buf[i] to ^(i%256).
func Complemented(buf []byte) {
	for i := range buf {
		buf[i] = ^byte(i)
	}
}

// Random fills buf with bytes from a generator seeded with seed.
func Random(buf []byte, seed int64) {
	r := rand.New(rand.NewSource(seed))
	_, _ = r.Read(buf)
}

// MismatchError is the first difference found by Match.
type MismatchError struct {
	Index int
	Got   byte
	Want  byte
}

func (m *MismatchError) Error() string {
	return fmt.Sprintf("verify: comparison failed at index %d with received value %X while expected value was %X", m.Index, m.Got, m.Want)
}

// Match compares got to want and returns a *MismatchError on the first
// difference.
//
// A length difference is reported at the first index past the shorter slice.
func Match(got, want []byte) error {
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return &MismatchError{Index: i, Got: got[i], Want: want[i]}
		}
	}
	if len(got) != len(want) {
		return errors.Errorf("verify: received %d bytes, expected %d", len(got), len(want))
	}
	return nil
}

// CountMismatches returns the number of differing bytes over the common
// length of a and b.
func CountMismatches(a, b []byte) int {
	c := 0
	for i := 0; i < min(len(a), len(b)); i++ {
		if a[i] != b[i] {
			c++
		}
	}
	return c
}

// Scrambled returns nil if strictly more than ratio of the bytes of got
// differ from want.
//
// It is used to confirm that data read back with scrambling disabled is not
// the plain data that was written with scrambling enabled.
func Scrambled(got, want []byte, ratio float64) error {
	if len(got) == 0 {
		return errors.Errorf("verify: nothing to compare")
	}
	c := CountMismatches(got, want)
	if float64(c) <= ratio*float64(len(got)) {
		return errors.Errorf("verify: only %d of %d bytes differ, data doesn't look scrambled", c, len(got))
	}
	return nil
}
