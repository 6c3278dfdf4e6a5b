// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package verify

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestPattern(t *testing.T) {
	data := []struct {
		index int
		want  []byte
	}{
		{0, []byte{0xAA, 0xAA, 0x55, 0x55, 0xAA, 0xAA, 0x55, 0x55, 0x00}},
		{1, []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0xFF, 0xFF, 0x00}},
		{2, []byte{0x01, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40, 0x80, 0x01}},
		{3, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{4, []byte{0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0xFA, 0xF9, 0xF8, 0xF7}},
		{5, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{99, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}},
	}
	for _, line := range data {
		got := make([]byte, len(line.want))
		Pattern(line.index, got)
		if !bytes.Equal(got, line.want) {
			t.Errorf("Pattern(%d) = %x, want %x", line.index, got, line.want)
		}
	}
}

func TestFill(t *testing.T) {
	b := make([]byte, 300)
	Incrementing(b)
	if b[257] != 1 {
		t.Fatalf("Incrementing()[257] = %d", b[257])
	}
	Complemented(b)
	if b[0] != 0xFF || b[257] != 0xFE {
		t.Fatalf("Complemented() = %x", b[:2])
	}
	a := make([]byte, 64)
	c := make([]byte, 64)
	Random(a, 1)
	Random(c, 1)
	if !bytes.Equal(a, c) {
		t.Fatal("Random() is not reproducible")
	}
	Random(c, 2)
	if bytes.Equal(a, c) {
		t.Fatal("Random() ignores the seed")
	}
}

func TestMatch(t *testing.T) {
	want := make([]byte, 4096)
	Pattern(3, want)
	got := append([]byte(nil), want...)
	if err := Match(got, want); err != nil {
		t.Fatal(err)
	}
	// Flip one byte after the fact.
	got[1234] ^= 0x40
	got[2000] ^= 0x01
	err := Match(got, want)
	var m *MismatchError
	if !errors.As(err, &m) {
		t.Fatalf("Match() = %v", err)
	}
	if m.Index != 1234 || m.Got != want[1234]^0x40 || m.Want != want[1234] {
		t.Fatalf("Match() = %+v", m)
	}
	const msg = "verify: comparison failed at index 1234 with received value 93 while expected value was D3"
	if err.Error() != msg {
		t.Fatalf("Error() = %q", err)
	}
	if CountMismatches(got, want) != 2 {
		t.Fatal("CountMismatches() != 2")
	}
	if err := Match(want[:10], want); err == nil {
		t.Fatal("Match() ignored the length")
	}
}

func TestScrambled(t *testing.T) {
	want := make([]byte, 100)
	got := make([]byte, 100)
	Complemented(got)
	if err := Scrambled(got, want, 0.9); err != nil {
		t.Fatal(err)
	}
	// 10 bytes match: exactly 90% differ, which is not enough.
	copy(got[:10], want)
	if err := Scrambled(got, want, 0.9); err == nil {
		t.Fatal("Scrambled() accepted 90%")
	}
	if err := Scrambled(nil, nil, 0.9); err == nil {
		t.Fatal("Scrambled() accepted empty input")
	}
}
