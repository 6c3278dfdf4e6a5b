// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xipmm

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/cachectrl"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/apollo/v3/mspi"
	"periph.io/x/apollo/v3/verify"
)

func newWindow(t *testing.T, scramble bool) (*Window, *mspi.Dev) {
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	cfg := mspi.DefaultConfig(0)
	cfg.Size = 1 << 20
	cfg.ScramblingEnd = 1 << 19
	d, err := mspi.New(m, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = d.Halt()
		_ = m.Close()
	})
	if err := d.EnableXIP(); err != nil {
		t.Fatal(err)
	}
	if scramble {
		if err := d.EnableScrambling(); err != nil {
			t.Fatal(err)
		}
	}
	return New(cachectrl.New(m, &cachectrl.Opts{Size: 4096}), d.Aperture()), d
}

func TestWordRegions(t *testing.T) {
	w, _ := newWindow(t, false)
	for i := uint32(0); i < 8; i++ {
		if err := w.Write32(4*i, i); err != nil {
			t.Fatal(err)
		}
		if err := w.Write32(1024+4*i, i^0xFFFFFFFF); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Sync(0, 2048); err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 8; i++ {
		if v, err := w.Read32(4 * i); err != nil || v != i {
			t.Fatalf("pattern[%d] = %#x, %v", i, v, err)
		}
		if v, err := w.Read32(1024 + 4*i); err != nil || v != i^0xFFFFFFFF {
			t.Fatalf("pattern2[%d] = %#x, %v", i, v, err)
		}
	}
}

func TestRunAll(t *testing.T) {
	for _, scramble := range []bool{false, true} {
		w, _ := newWindow(t, scramble)
		if err := RunAll(w, Test{ByteOffset: 0x100, NumBytes: 256}); err != nil {
			t.Fatalf("scramble=%t: %v", scramble, err)
		}
	}
}

func TestRunInvalid(t *testing.T) {
	w, _ := newWindow(t, false)
	if err := Run(w, WordAccess, Test{NumBytes: 100}); err == nil {
		t.Fatal("accepted NumBytes 100")
	}
	if err := Run(w, WordAccess, Test{ByteOffset: 2, NumBytes: 64}); err == nil {
		t.Fatal("accepted unaligned offset")
	}
	if err := Run(w, WordAccess, Test{ByteOffset: 1<<20 - 32, NumBytes: 64}); !errors.Is(err, ErrWindow) {
		t.Fatalf("Run() = %v, want ErrWindow", err)
	}
}

func TestXIPDisabled(t *testing.T) {
	w, d := newWindow(t, false)
	if err := d.DisableXIP(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Read8(0); !errors.Is(err, mspi.ErrXIPDisabled) {
		t.Fatalf("Read8() = %v, want ErrXIPDisabled", err)
	}
	if err := Run(w, ByteAccess, Test{NumBytes: 64}); !errors.Is(err, mspi.ErrXIPDisabled) {
		t.Fatalf("Run() = %v, want ErrXIPDisabled", err)
	}
}

// aliased is a memory missing address line 9.
type aliased struct {
	b [512]byte
}

func (a *aliased) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = a.b[(off+int64(i))&511]
	}
	return len(p), nil
}

func (a *aliased) WriteAt(p []byte, off int64) (int, error) {
	for i, v := range p {
		a.b[(off+int64(i))&511] = v
	}
	return len(p), nil
}

func TestAliasingDetected(t *testing.T) {
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	a := memmap.Span{Addr: memmap.XIPBase, Len: 4096}
	if _, err := m.MapDevice("XIP0", a.Addr, a.Len, true, &aliased{}); err != nil {
		t.Fatal(err)
	}
	w := New(cachectrl.New(m, nil), a)
	// The regions are 512 bytes apart: the second overwrites the first.
	err = Run(w, WordAccess, Test{NumBytes: 1024})
	var mm *verify.MismatchError
	if !errors.As(err, &mm) || mm.Index != 0 || mm.Got != 0xFF || mm.Want != 0 {
		t.Fatalf("Run() = %v", err)
	}
	// Smaller regions fit below the missing line.
	if err := Run(w, WordAccess, Test{NumBytes: 512}); err != nil {
		t.Fatal(err)
	}
}

func TestHammer(t *testing.T) {
	w, _ := newWindow(t, false)
	r := rand.New(rand.NewSource(1))
	if n, err := Hammer(context.Background(), w, 0x40, 100, 0, r); n != 100 || err != nil {
		t.Fatalf("Hammer() = %d, %v", n, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n, err := Hammer(ctx, w, 0x40, 100, 0, r); n != 0 || err != nil {
		t.Fatalf("Hammer() = %d, %v", n, err)
	}
	if _, err := Hammer(context.Background(), w, 1<<20, 1, 0, r); !errors.Is(err, ErrWindow) {
		t.Fatalf("Hammer() = %v", err)
	}
}

func TestModes(t *testing.T) {
	m := Modes()
	if len(m) != 23 {
		t.Fatalf("%d modes", len(m))
	}
	data := []struct {
		m    Mode
		want string
	}{
		{Memcpy, "memcpy"},
		{Octal, "octal"},
		{ShortUnaligned, "short unaligned"},
		{WordAccess, "word"},
		{Mixed(Byte, Word), "byte write/word read"},
		{WordUnalignedStore, "word unaligned store"},
		{UnalignedLoad(Byte, Half), "byte write/short unaligned read"},
		{UnalignedStore(Word, Byte), "word unaligned write/byte read"},
	}
	for _, line := range data {
		if s := line.m.String(); s != line.want {
			t.Errorf("String() = %q, want %q", s, line.want)
		}
	}
}

func TestUnaligned(t *testing.T) {
	widths := []Width{Byte, Half, Word}
	for _, scramble := range []bool{false, true} {
		w, _ := newWindow(t, scramble)
		for _, wr := range widths {
			for _, rd := range widths {
				for _, m := range []Mode{UnalignedLoad(wr, rd), UnalignedStore(wr, rd)} {
					if err := Run(w, m, Test{ByteOffset: 0x200, NumBytes: 128}); err != nil {
						t.Fatalf("scramble=%t: %v", scramble, err)
					}
				}
			}
		}
	}
}

// shifted is a memory that drops the byte stored at every address ending
// in 3, like a broken byte lane.
type shifted struct {
	b [4096]byte
}

func (s *shifted) ReadAt(p []byte, off int64) (int, error) {
	copy(p, s.b[off:])
	return len(p), nil
}

func (s *shifted) WriteAt(p []byte, off int64) (int, error) {
	for i, v := range p {
		if (off+int64(i))&3 != 3 {
			s.b[off+int64(i)] = v
		}
	}
	return len(p), nil
}

func TestUnalignedStoreDetected(t *testing.T) {
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	a := memmap.Span{Addr: memmap.XIPBase, Len: 4096}
	if _, err := m.MapDevice("XIP0", a.Addr, a.Len, true, &shifted{}); err != nil {
		t.Fatal(err)
	}
	w := New(cachectrl.New(m, nil), a).Uncached()
	// The first region is filled with 0 so the dead lane goes unnoticed; the
	// second is filled with 0xFF and its byte 3 reads back 0.
	err = Run(w, WordUnalignedStore, Test{NumBytes: 64})
	var mm *verify.MismatchError
	if !errors.As(err, &mm) || mm.Index != 3 || mm.Got != 0 || mm.Want != 0xFF {
		t.Fatalf("Run() = %v", err)
	}
}

func TestUncached(t *testing.T) {
	w, d := newWindow(t, false)
	u := w.Uncached()
	before := w.c.Stats()
	if err := RunAll(u, Test{ByteOffset: 0x400, NumBytes: 128}); err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewSource(1))
	if n, err := Hammer(context.Background(), u, 0x40, 100, 0, r); n != 100 || err != nil {
		t.Fatalf("Hammer() = %d, %v", n, err)
	}
	if after := w.c.Stats(); after.Hits != before.Hits || after.Misses != before.Misses {
		t.Fatalf("uncached accesses went through the cache: %+v -> %+v", before, after)
	}
	// Every load reaches the device.
	if err := d.DisableXIP(); err != nil {
		t.Fatal(err)
	}
	if _, err := Hammer(context.Background(), u, 0x40, 1, 0, r); !errors.Is(err, mspi.ErrXIPDisabled) {
		t.Fatalf("Hammer() = %v", err)
	}
}

func TestInterleave(t *testing.T) {
	w, _ := newWindow(t, false)
	r := rand.New(rand.NewSource(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A done context still gets one full pass.
	n, err := Interleave(ctx, w.Uncached(), Test{ByteOffset: 0x800, NumBytes: 64}, 0, r)
	if err != nil || n != len(Modes()) {
		t.Fatalf("Interleave() = %d, %v", n, err)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if n, err = Interleave(ctx, w, Test{ByteOffset: 0x800, NumBytes: 64}, 100*time.Microsecond, r); err != nil || n < len(Modes()) {
		t.Fatalf("Interleave() = %d, %v", n, err)
	}
}
