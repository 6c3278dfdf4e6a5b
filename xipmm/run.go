// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package xipmm

import (
	"context"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/verify"
)

// Test is the layout of one run.
type Test struct {
	// ByteOffset is the window offset of the first region. It must be word
	// aligned.
	ByteOffset uint32
	// NumBytes sets the size of the regions: each gets NumBytes/2 bytes,
	// NumBytes+4 for the unaligned modes. It must be a multiple of 64.
	NumBytes uint32
	// Delay is slept between the write and the read back.
	Delay time.Duration
}

// Extent returns the number of bytes past ByteOffset any mode may touch.
func (t *Test) Extent() uint32 {
	return 3*t.NumBytes + 4
}

func (t *Test) validate() error {
	if t.NumBytes == 0 || t.NumBytes%64 != 0 {
		return errors.Errorf("xipmm: NumBytes %d is not a multiple of 64", t.NumBytes)
	}
	if t.ByteOffset%4 != 0 {
		return errors.Errorf("xipmm: ByteOffset %d is not word aligned", t.ByteOffset)
	}
	return nil
}

// pattern returns value i of region r: i, then its complement.
func pattern(r int, i uint32) uint32 {
	if r == 0 {
		return i
	}
	return i ^ 0xFFFFFFFF
}

// Run runs one mode.
//
// The first region holds pattern[i] = i at t.ByteOffset, the second
// pattern2[i] = i^0xFFFFFFFF at t.ByteOffset + t.NumBytes/2 (2*t.NumBytes for
// the unaligned modes). Both are written, synced to the device, then read
// back and verified independently.
//
// The unaligned modes repeat this at skews 1, 2 and 3 with the area around
// the pattern filled with 0x00 (first region) or 0xFF (second region).
func Run(w *Window, m Mode, t Test) error {
	if err := t.validate(); err != nil {
		return err
	}
	var err error
	switch m.kind {
	case memcpy:
		err = runMemcpy(w, t)
	case unalignedLoad, unalignedStore:
		err = runUnaligned(w, m, t)
	case octal:
		err = runOctal(w, t)
	default:
		err = runAligned(w, m, t)
	}
	return errors.Wrap(err, m.String())
}

// RunAll runs every mode of Modes and returns the first failure.
func RunAll(w *Window, t Test) error {
	for _, m := range Modes() {
		if err := Run(w, m, t); err != nil {
			return err
		}
	}
	return nil
}

// Hammer loads the byte at off n times, sleeping a random time up to
// maxDelay between loads. It stops early when ctx is done.
//
// It returns the number of loads done.
func Hammer(ctx context.Context, w *Window, off uint32, n int, maxDelay time.Duration, r *rand.Rand) (int, error) {
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return i, nil
		}
		if _, err := w.Read8(off); err != nil {
			return i, err
		}
		sleep(ctx, delay(maxDelay, r))
	}
	return n, nil
}

// Interleave runs the sequence of Modes over and over, sleeping a random time
// up to maxDelay before each mode, until ctx is done. The whole sequence runs
// at least once.
//
// It returns the number of modes run.
func Interleave(ctx context.Context, w *Window, t Test, maxDelay time.Duration, r *rand.Rand) (int, error) {
	modes := Modes()
	runs := 0
	for {
		for _, m := range modes {
			if runs >= len(modes) && ctx.Err() != nil {
				return runs, nil
			}
			sleep(ctx, delay(maxDelay, r))
			if err := Run(w, m, t); err != nil {
				return runs, err
			}
			runs++
		}
	}
}

func delay(max time.Duration, r *rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(r.Int63n(int64(max) + 1))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 || ctx.Err() != nil {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

//

func (t *Test) pause() {
	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}
}

func encode(wd Width, vals []uint32) []byte {
	b := make([]byte, len(vals)*int(wd))
	for i, v := range vals {
		switch wd {
		case Byte:
			b[i] = byte(v)
		case Half:
			binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
		default:
			binary.LittleEndian.PutUint32(b[4*i:], v)
		}
	}
	return b
}

func runAligned(w *Window, m Mode, t Test) error {
	half := t.NumBytes / 2
	var want [2][]byte
	for r := 0; r < 2; r++ {
		base := t.ByteOffset + uint32(r)*half
		vals := make([]uint32, half/uint32(m.Write))
		for i := range vals {
			vals[i] = pattern(r, uint32(i)) & m.Write.mask()
			if err := w.write(m.Write, base+uint32(i)*uint32(m.Write), vals[i]); err != nil {
				return err
			}
		}
		want[r] = encode(m.Write, vals)
	}
	if err := w.Sync(t.ByteOffset, t.NumBytes); err != nil {
		return err
	}
	t.pause()
	for r := 0; r < 2; r++ {
		base := t.ByteOffset + uint32(r)*half
		vals := make([]uint32, half/uint32(m.Read))
		for i := range vals {
			v, err := w.read(m.Read, base+uint32(i)*uint32(m.Read))
			if err != nil {
				return err
			}
			vals[i] = v
		}
		if err := verify.Match(encode(m.Read, vals), want[r]); err != nil {
			return errors.Wrapf(err, "region %d", r+1)
		}
	}
	return nil
}

// image returns the expected content of region r at skew: skew fill bytes,
// n bytes of word pattern, then fill up to n+4 bytes. The fill is 0 for the
// first region and 0xFF for the second.
func image(r int, skew, n uint32) []byte {
	fill := byte(0)
	if r == 1 {
		fill = 0xFF
	}
	img := make([]byte, n+4)
	for i := range img {
		img[i] = fill
	}
	for i := uint32(0); i < n/4; i++ {
		binary.LittleEndian.PutUint32(img[skew+4*i:], pattern(r, i))
	}
	return img
}

// storeAt stores p at off with stores of width wd.
func storeAt(w *Window, wd Width, off uint32, p []byte) error {
	step := uint32(wd)
	for i := uint32(0); i < uint32(len(p)); i += step {
		var v uint32
		for k := uint32(0); k < step; k++ {
			v |= uint32(p[i+k]) << (8 * k)
		}
		if err := w.write(wd, off+i, v); err != nil {
			return err
		}
	}
	return nil
}

// loadAt loads n bytes at off with loads of width wd.
func loadAt(w *Window, wd Width, off, n uint32) ([]byte, error) {
	vals := make([]uint32, n/uint32(wd))
	for i := range vals {
		v, err := w.read(wd, off+uint32(i)*uint32(wd))
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return encode(wd, vals), nil
}

// runUnaligned moves the word pattern shifted by 1 to 3 bytes. One side of
// the transfer is aligned, the other is skewed.
//
// The regions are 2*t.NumBytes apart and t.NumBytes+4 bytes long.
func runUnaligned(w *Window, m Mode, t Test) error {
	n := t.NumBytes
	for skew := uint32(1); skew < 4; skew++ {
		var want [2][]byte
		for r := 0; r < 2; r++ {
			base := t.ByteOffset + uint32(r)*2*n
			img := image(r, skew, n)
			want[r] = img
			if m.kind == unalignedLoad {
				if err := storeAt(w, m.Write, base, img); err != nil {
					return err
				}
				continue
			}
			// The fill around the pattern is stored with bytes, the pattern
			// itself with skewed stores.
			if err := storeAt(w, Byte, base, img[:skew]); err != nil {
				return err
			}
			if err := storeAt(w, Byte, base+skew+n, img[skew+n:]); err != nil {
				return err
			}
			if err := storeAt(w, m.Write, base+skew, img[skew:skew+n]); err != nil {
				return err
			}
		}
		if err := w.Sync(t.ByteOffset, 3*n+4); err != nil {
			return err
		}
		t.pause()
		for r := 0; r < 2; r++ {
			base := t.ByteOffset + uint32(r)*2*n
			var got, exp []byte
			var err error
			if m.kind == unalignedLoad {
				got, err = loadAt(w, m.Read, base+skew, n)
				exp = want[r][skew : skew+n]
			} else {
				got, err = loadAt(w, m.Read, base, n+4)
				exp = want[r]
			}
			if err != nil {
				return err
			}
			if err := verify.Match(got, exp); err != nil {
				return errors.Wrapf(err, "region %d skew %d", r+1, skew)
			}
		}
	}
	return nil
}

func runOctal(w *Window, t Test) error {
	half := t.NumBytes / 2
	blocks := half / 32
	var want [2][]uint32
	for r := 0; r < 2; r++ {
		base := t.ByteOffset + uint32(r)*half
		for b := uint32(0); b < blocks; b++ {
			var v [8]uint32
			for k := range v {
				v[k] = pattern(r, b*8+uint32(k))
			}
			if err := w.WriteOctal(base+b*32, v); err != nil {
				return err
			}
			want[r] = append(want[r], v[:]...)
		}
	}
	if err := w.Sync(t.ByteOffset, t.NumBytes); err != nil {
		return err
	}
	t.pause()
	for r := 0; r < 2; r++ {
		base := t.ByteOffset + uint32(r)*half
		var got []uint32
		for b := uint32(0); b < blocks; b++ {
			v, err := w.ReadOctal(base + b*32)
			if err != nil {
				return err
			}
			got = append(got, v[:]...)
		}
		if err := verify.Match(encode(Word, got), encode(Word, want[r])); err != nil {
			return errors.Wrapf(err, "region %d", r+1)
		}
	}
	return nil
}

func runMemcpy(w *Window, t Test) error {
	tx := make([]byte, t.NumBytes)
	verify.Incrementing(tx)
	if err := w.CopyTo(t.ByteOffset, make([]byte, t.NumBytes)); err != nil {
		return err
	}
	if err := w.CopyTo(t.ByteOffset, tx); err != nil {
		return err
	}
	if err := w.Sync(t.ByteOffset, t.NumBytes); err != nil {
		return err
	}
	t.pause()
	rx := make([]byte, t.NumBytes)
	if err := w.CopyFrom(t.ByteOffset, rx); err != nil {
		return err
	}
	return verify.Match(rx, tx)
}
