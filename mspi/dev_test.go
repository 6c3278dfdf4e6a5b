// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/physic"
)

func newDev(t *testing.T, cfg Config) (*Dev, *memmap.Map) {
	m, err := memmap.Apollo5()
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(m, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = d.Halt()
		_ = m.Close()
	})
	return d, m
}

func seq(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) + seed
	}
	return b
}

func TestValidate(t *testing.T) {
	data := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(3), true},
		{"instance", Config{Instance: 4, Clock: MaxClock}, false},
		{"clock", Config{Clock: 2 * MaxClock}, false},
		{"hex on octal part", Config{Clock: MaxClock, Model: APS12808L, Interface: HexDDR}, false},
		{"octal on hex part", Config{Clock: MaxClock, Model: APS25616N, Interface: OctalDDR}, true},
		{"too big", Config{Clock: MaxClock, Model: APS12808L, Size: 32 << 20}, false},
		{"odd size", Config{Clock: MaxClock, Size: 1000}, false},
		{"scrambling", Config{Clock: MaxClock, Size: 4096, ScramblingEnd: 8192}, false},
		{"model", Config{Clock: MaxClock, Model: 7}, false},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			c, err := line.cfg.Validate()
			if line.ok && (err != nil || c.Size == 0) {
				t.Fatalf("Validate() = %+v, %v", c, err)
			}
			if !line.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate() = %v, want ErrConfig", err)
			}
		})
	}
}

func TestDMARoundTrip(t *testing.T) {
	d, m := newDev(t, DefaultConfig(0))
	src, _ := m.Alloc(memmap.DTCM, 4096, 0)
	dst, _ := m.Alloc(memmap.SSRAM, 4096, 0)
	want := seq(4096, 3)
	if err := m.Write(src.Addr, want); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(src, 0x2000, 4096, true); err != nil {
		t.Fatal(err)
	}
	if err := d.Read(dst, 0x2000, 4096, false); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := d.Wait(ctx, dma.Read)
	if err != nil || r.Count != 4096 {
		t.Fatalf("Wait() = %+v, %v", r, err)
	}
	if got, _ := m.Bytes(dst); !bytes.Equal(got, want) {
		t.Fatal("DMA round trip mismatch")
	}
}

func TestTransferErrors(t *testing.T) {
	d, m := newDev(t, Config{Clock: physic.MegaHertz, Size: 1 << 20})
	buf, _ := m.Alloc(memmap.SSRAM, 1024, 0)
	if err := d.Read(buf, 1<<20-512, 1024, true); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Read() = %v, want ErrOutOfRange", err)
	}
	if err := d.Read(buf, 0, 2048, true); err == nil {
		t.Fatal("Read() larger than the buffer succeeded")
	}
	if err := d.Read(memmap.Span{Addr: 0x10000000, Len: 16}, 0, 16, true); !errors.Is(err, memmap.ErrUnmapped) {
		t.Fatalf("Read() = %v, want ErrUnmapped", err)
	}
	// 1024 bytes on 8 lanes DDR at 1MHz take 512µs.
	if err := d.Write(buf, 0, 1024, false); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(buf, 0, 1024, false); !errors.Is(err, dma.ErrBusy) {
		t.Fatalf("Write() = %v, want ErrBusy", err)
	}
	c := d.Config()
	if err := d.Configure(&c); !errors.Is(err, dma.ErrBusy) {
		t.Fatalf("Configure() = %v, want ErrBusy", err)
	}
	if _, err := d.Poll(dma.Write, dma.DefaultBudget); err != nil {
		t.Fatal(err)
	}
	if s := d.Stats(dma.Write); s.Completed != 1 || s.Rejected != 1 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestXIP(t *testing.T) {
	d, m := newDev(t, DefaultConfig(3))
	a := d.Aperture()
	if a.Addr != memmap.XIPBase+3*memmap.XIPStride || a.Len != 32<<20 {
		t.Fatalf("Aperture() = %s", a)
	}
	b := make([]byte, 4)
	if err := m.Read(a.Addr, b); !errors.Is(err, ErrXIPDisabled) {
		t.Fatalf("Read() = %v, want ErrXIPDisabled", err)
	}
	if err := d.EnableXIP(); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(a.Addr+100, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	// The DMA path observes the store.
	buf, _ := m.Alloc(memmap.DTCM, 4, 4)
	if err := d.Read(buf, 100, 4, true); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Bytes(buf); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("DMA read %v", got)
	}
	if err := d.DisableXIP(); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(a.Addr, b); !errors.Is(err, ErrXIPDisabled) {
		t.Fatalf("Write() = %v, want ErrXIPDisabled", err)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Lookup(a.Addr); !errors.Is(err, memmap.ErrUnmapped) {
		t.Fatalf("aperture still mapped: %v", err)
	}
	if err := d.Write(buf, 0, 4, true); !errors.Is(err, ErrHalted) {
		t.Fatalf("Write() = %v, want ErrHalted", err)
	}
}

func TestScrambling(t *testing.T) {
	cfg := DefaultConfig(0)
	cfg.ScramblingStart = 0x1000
	cfg.ScramblingEnd = 0x3000
	d, m := newDev(t, cfg)
	buf, _ := m.Alloc(memmap.SSRAM, 0x4000, 0)
	want := seq(0x4000, 0)
	if err := m.Write(buf.Addr, want); err != nil {
		t.Fatal(err)
	}
	if err := d.EnableScrambling(); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(buf, 0, 0x4000, true); err != nil {
		t.Fatal(err)
	}
	out, _ := m.Alloc(memmap.SSRAM, 0x4000, 0)
	if err := d.Read(out, 0, 0x4000, true); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Bytes(out); !bytes.Equal(got, want) {
		t.Fatal("scrambled round trip mismatch")
	}
	if err := d.DisableScrambling(); err != nil {
		t.Fatal(err)
	}
	if err := d.Read(out, 0, 0x4000, true); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Bytes(out)
	if !bytes.Equal(got[:0x1000], want[:0x1000]) || !bytes.Equal(got[0x3000:], want[0x3000:]) {
		t.Fatal("data outside the scrambling region was scrambled")
	}
	for i := 0x1000; i < 0x3000; i++ {
		if got[i] == want[i] {
			t.Fatalf("byte %#x is not scrambled", i)
		}
	}
	// Reconfiguring keeps scrambling state.
	cfg.ScramblingEnd = 0x2000
	if err := d.Configure(&cfg); err != nil {
		t.Fatal(err)
	}
	if c := d.Config(); c.ScramblingEnd != 0x2000 {
		t.Fatalf("Config() = %+v", c)
	}
	cfg.Size = 4096
	if err := d.Configure(&cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("Configure() = %v, want ErrConfig", err)
	}
}

func TestKeyNeverZero(t *testing.T) {
	for a := uint32(0); a < 1<<16; a++ {
		if key(a) == 0 {
			t.Fatalf("key(%#x) = 0", a)
		}
	}
}

func TestHex(t *testing.T) {
	d, _ := newDev(t, DefaultConfig(0))
	want := seq(40, 0x10)
	if err := d.program(0x100, want); err != nil {
		t.Fatal(err)
	}
	var b bytes.Buffer
	if err := d.DumpHex(&b, 0x100, 40); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), ":10010000") {
		t.Fatalf("unexpected dump:\n%s", b.String())
	}
	if err := d.program(0x100, make([]byte, 40)); err != nil {
		t.Fatal(err)
	}
	if err := d.LoadHex(&b); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 40)
	if err := d.peek(0x100, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("LoadHex() = %x", got)
	}
	// Aperture addresses are device addresses.
	a := d.Aperture()
	b.Reset()
	if err := d.DumpHex(&b, a.Addr+0x100, 16); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), ":10010000") {
		t.Fatalf("unexpected dump:\n%s", b.String())
	}
	if err := d.LoadHex(strings.NewReader(":zz\n")); err == nil {
		t.Fatal("LoadHex() accepted garbage")
	}
}
