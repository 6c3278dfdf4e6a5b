// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dma

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

var (
	// ErrBusy is returned when a transfer is issued while the previous one in
	// the same direction is still in flight.
	ErrBusy = errors.New("dma: transfer already in flight")
	// ErrTimeout is returned when a transfer didn't complete within its wait
	// budget. The channel stays InFlight.
	ErrTimeout = errors.New("dma: timeout waiting for completion")
	// ErrFaulted is returned when a transfer is issued on a channel left in
	// Error. The device must be reset first.
	ErrFaulted = errors.New("dma: channel faulted")
	// ErrIdle is returned when waiting on a channel that never started a
	// transfer.
	ErrIdle = errors.New("dma: no transfer issued")
)

// Direction is the direction of a transfer, from the host point of view.
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "Read"
	case Write:
		return "Write"
	default:
		return "Direction(" + strconv.Itoa(int(d)) + ")"
	}
}

// State is the state of a Channel.
type State uint8

const (
	Idle State = iota
	InFlight
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InFlight:
		return "InFlight"
	case Error:
		return "Error"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Completion is the outcome of one transfer.
type Completion struct {
	Dir Direction
	// Count is the number of units transferred: blocks for a card, bytes for
	// a memory device.
	Count uint32
	Err   error
}

// Budget bounds a polling wait: Polls iterations separated by Delay.
type Budget struct {
	Polls int
	Delay time.Duration
}

// DefaultBudget matches the 400000 iterations used by the Ambiq examples.
var DefaultBudget = Budget{Polls: 400000, Delay: time.Microsecond}

// Stats counts the transfers seen by a channel.
type Stats struct {
	Issued    uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}

// Channel is the completion state of one direction of one device.
//
// The zero value is not usable, use NewEngine.
type Channel struct {
	dir  Direction
	busy atomic.Bool

	mu     sync.Mutex
	state  State
	done   chan struct{}
	result Completion
	stats  Stats
}

// Begin starts a transfer.
//
// It must be called before the transfer is handed to the hardware, so that a
// completion from the previous transfer can never satisfy a wait on this one.
func (c *Channel) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case InFlight:
		c.stats.Rejected++
		return errors.Wrapf(ErrBusy, "%s", c.dir)
	case Error:
		c.stats.Rejected++
		return errors.Wrapf(ErrFaulted, "%s: %v", c.dir, c.result.Err)
	}
	c.state = InFlight
	c.done = make(chan struct{})
	c.result = Completion{Dir: c.dir}
	c.stats.Issued++
	c.busy.Store(true)
	return nil
}

// Complete resolves the transfer in flight. err != nil moves the channel to
// Error.
//
// It returns false if no transfer was in flight.
func (c *Channel) Complete(count uint32, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != InFlight {
		return false
	}
	c.result = Completion{Dir: c.dir, Count: count, Err: err}
	if err != nil {
		c.state = Error
		c.stats.Failed++
	} else {
		c.state = Idle
		c.stats.Completed++
	}
	close(c.done)
	c.busy.Store(false)
	return true
}

// Reset returns a channel in Error to Idle.
//
// It must not be called while a transfer is in flight.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Error {
		c.state = Idle
	}
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy is the engine status bit: true while a transfer is in flight.
func (c *Channel) Busy() bool {
	return c.busy.Load()
}

// Done returns a channel closed when the last issued transfer completes.
//
// It returns nil if no transfer was ever issued.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Result returns the outcome of the last completed transfer.
func (c *Channel) Result() Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Spin busy-waits for the transfer in flight, yielding the processor between
// polls of the status bit.
func (c *Channel) Spin() (Completion, error) {
	if c.Done() == nil {
		return Completion{}, ErrIdle
	}
	for c.busy.Load() {
		runtime.Gosched()
	}
	r := c.Result()
	return r, r.Err
}

// Wait blocks until the transfer in flight completes or ctx is done.
func (c *Channel) Wait(ctx context.Context) (Completion, error) {
	done := c.Done()
	if done == nil {
		return Completion{}, ErrIdle
	}
	select {
	case <-done:
		r := c.Result()
		return r, r.Err
	case <-ctx.Done():
		return Completion{}, errors.Wrapf(ErrTimeout, "%s: %v", c.dir, ctx.Err())
	}
}

// Poll checks for completion up to b.Polls times, sleeping b.Delay between
// checks.
func (c *Channel) Poll(b Budget) (Completion, error) {
	done := c.Done()
	if done == nil {
		return Completion{}, ErrIdle
	}
	for i := 0; i < b.Polls; i++ {
		select {
		case <-done:
			r := c.Result()
			return r, r.Err
		default:
		}
		if b.Delay > 0 {
			time.Sleep(b.Delay)
		} else {
			runtime.Gosched()
		}
	}
	return Completion{}, errors.Wrapf(ErrTimeout, "%s: after %d polls", c.dir, b.Polls)
}

// Engine holds the read and write channels of a device.
type Engine struct {
	name string
	ch   [2]Channel
}

// NewEngine returns an idle engine.
func NewEngine(name string) *Engine {
	e := &Engine{name: name}
	e.ch[Read].dir = Read
	e.ch[Write].dir = Write
	return e
}

// Channel returns the channel for direction d.
func (e *Engine) Channel(d Direction) *Channel {
	return &e.ch[d]
}

// Reset resets both channels.
func (e *Engine) Reset() {
	e.ch[Read].Reset()
	e.ch[Write].Reset()
}

func (e *Engine) String() string {
	return e.name
}

// BusTime returns how long moving n bytes takes on a bus running at clock
// with width data lines. ddr doubles the rate.
func BusTime(n int, clock physic.Frequency, width int, ddr bool) time.Duration {
	if clock <= 0 || width <= 0 {
		return 0
	}
	perClock := width
	if ddr {
		perClock *= 2
	}
	cycles := (int64(n)*8 + int64(perClock) - 1) / int64(perClock)
	return clock.Period() * time.Duration(cycles)
}
