// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dma

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

func TestBeginRejectsSecondTransfer(t *testing.T) {
	e := NewEngine("test")
	c := e.Channel(Write)
	if err := c.Begin(); err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	if s := c.State(); s != InFlight {
		t.Fatalf("State() = %s", s)
	}
	if err := c.Begin(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Begin() = %v, want ErrBusy", err)
	}
	// The other direction is independent.
	if err := e.Channel(Read).Begin(); err != nil {
		t.Fatalf("Begin(Read) = %v", err)
	}
	if !c.Complete(8, nil) {
		t.Fatal("Complete() = false")
	}
	if c.Complete(8, nil) {
		t.Fatal("second Complete() = true")
	}
	if s := c.Stats(); s.Issued != 1 || s.Completed != 1 || s.Rejected != 1 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestErrorState(t *testing.T) {
	c := NewEngine("test").Channel(Read)
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	crc := errors.New("crc")
	c.Complete(0, crc)
	if s := c.State(); s != Error {
		t.Fatalf("State() = %s", s)
	}
	if _, err := c.Wait(context.Background()); err != crc {
		t.Fatalf("Wait() = %v", err)
	}
	if err := c.Begin(); !errors.Is(err, ErrFaulted) {
		t.Fatalf("Begin() = %v, want ErrFaulted", err)
	}
	c.Reset()
	if err := c.Begin(); err != nil {
		t.Fatalf("Begin() after Reset() = %v", err)
	}
}

func TestWaitFreshCompletion(t *testing.T) {
	c := NewEngine("test").Channel(Write)
	if _, err := c.Wait(context.Background()); !errors.Is(err, ErrIdle) {
		t.Fatalf("Wait() = %v, want ErrIdle", err)
	}
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	c.Complete(1, nil)
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	// The completion of the first transfer must not satisfy the second.
	select {
	case <-c.Done():
		t.Fatal("stale completion")
	default:
	}
	go func() {
		time.Sleep(time.Millisecond)
		c.Complete(2, nil)
	}()
	r, err := c.Wait(context.Background())
	if err != nil || r.Count != 2 || r.Dir != Write {
		t.Fatalf("Wait() = %+v, %v", r, err)
	}
}

func TestWaitTimeout(t *testing.T) {
	c := NewEngine("test").Channel(Read)
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() = %v, want ErrTimeout", err)
	}
	if _, err := c.Poll(Budget{Polls: 10}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Poll() = %v, want ErrTimeout", err)
	}
	if s := c.State(); s != InFlight {
		t.Fatalf("State() = %s", s)
	}
}

func TestSpinAndPoll(t *testing.T) {
	e := NewEngine("test")
	c := e.Channel(Read)
	if _, err := c.Spin(); !errors.Is(err, ErrIdle) {
		t.Fatalf("Spin() = %v", err)
	}
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	if !c.Busy() {
		t.Fatal("Busy() = false")
	}
	go c.Complete(4, nil)
	if r, err := c.Spin(); err != nil || r.Count != 4 {
		t.Fatalf("Spin() = %+v, %v", r, err)
	}
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(100 * time.Microsecond)
		c.Complete(5, nil)
	}()
	if r, err := c.Poll(DefaultBudget); err != nil || r.Count != 5 {
		t.Fatalf("Poll() = %+v, %v", r, err)
	}
}

func TestBusTime(t *testing.T) {
	data := []struct {
		n     int
		clock physic.Frequency
		width int
		ddr   bool
		want  time.Duration
	}{
		{512, physic.MegaHertz, 1, false, 4096 * time.Microsecond},
		{512, physic.MegaHertz, 4, false, 1024 * time.Microsecond},
		{512, physic.MegaHertz, 8, true, 256 * time.Microsecond},
		{512, 0, 8, true, 0},
	}
	for i, line := range data {
		if got := BusTime(line.n, line.clock, line.width, line.ddr); got != line.want {
			t.Errorf("#%d: BusTime() = %s, want %s", i, got, line.want)
		}
	}
}

func TestStrings(t *testing.T) {
	if s := Read.String(); s != "Read" {
		t.Fatal(s)
	}
	if s := Direction(9).String(); s != "Direction(9)" {
		t.Fatal(s)
	}
	if s := InFlight.String(); s != "InFlight" {
		t.Fatal(s)
	}
}
