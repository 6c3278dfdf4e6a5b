// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// CardDetect is the card detect line of a host. It reads High while a card
// is inserted.
//
// It implements gpio.PinIO so it can be registered in gpioreg; it is an input
// only line.
type CardDetect struct {
	number int
	name   string

	mu    sync.Mutex
	level gpio.Level
	edge  gpio.Edge
	pull  gpio.Pull
	edges chan struct{}
	halt  chan struct{}
}

func newCardDetect(name string, number int) *CardDetect {
	return &CardDetect{
		number: number,
		name:   name,
		pull:   gpio.PullUp,
		edges:  make(chan struct{}, 1),
		halt:   make(chan struct{}, 1),
	}
}

// set drives the line. It is called when a card is inserted or removed.
func (c *CardDetect) set(l gpio.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level == l {
		return
	}
	c.level = l
	if c.edge == gpio.BothEdges || (c.edge == gpio.RisingEdge && l) || (c.edge == gpio.FallingEdge && !l) {
		select {
		case c.edges <- struct{}{}:
		default:
		}
	}
}

// String returns information about the line in JSON format.
func (c *CardDetect) String() string {
	b, _ := json.Marshal(c)
	return string(b)
}

func (c *CardDetect) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(struct {
		Line  int    `json:"Line"`
		Name  string `json:"Name"`
		Level bool   `json:"Level"`
		Edge  string `json:"Edge"`
	}{c.number, c.name, bool(c.level), c.edge.String()})
}

// Halt interrupts a pending WaitForEdge().
func (c *CardDetect) Halt() error {
	select {
	case c.halt <- struct{}{}:
	default:
	}
	return nil
}

// Name implements pin.Pin.
func (c *CardDetect) Name() string {
	return c.name
}

// Number implements pin.Pin.
func (c *CardDetect) Number() int {
	return c.number
}

// Deprecated: Use PinFunc.Func. Will be removed in v4. Function implements pin.Pin.
func (c *CardDetect) Function() string {
	return string(c.Func())
}

// Func implements pin.PinFunc.
func (c *CardDetect) Func() pin.Func {
	if c.Read() {
		return gpio.IN_HIGH
	}
	return gpio.IN_LOW
}

// SupportedFuncs implements pin.PinFunc.
func (c *CardDetect) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN}
}

// SetFunc implements pin.PinFunc.
func (c *CardDetect) SetFunc(f pin.Func) error {
	if f == gpio.IN {
		return c.In(gpio.PullNoChange, gpio.NoEdge)
	}
	return errors.New("emmc: card detect is an input")
}

// In configures edge detection. Implements gpio.PinIn.
func (c *CardDetect) In(pull gpio.Pull, edge gpio.Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pull != gpio.PullNoChange {
		c.pull = pull
	}
	c.edge = edge
	// Drop edges seen under the previous configuration.
	select {
	case <-c.edges:
	default:
	}
	return nil
}

// Read implements gpio.PinIn.
func (c *CardDetect) Read() gpio.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// WaitForEdge waits for the configured edge. A timeout of 0 waits forever.
// Implements gpio.PinIn.
func (c *CardDetect) WaitForEdge(timeout time.Duration) bool {
	c.mu.Lock()
	edge := c.edge
	c.mu.Unlock()
	if edge == gpio.NoEdge {
		return false
	}
	var expired <-chan time.Time
	if timeout != 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-c.edges:
		return true
	case <-c.halt:
		return false
	case <-expired:
		return false
	}
}

// Pull implements gpio.PinIn.
func (c *CardDetect) Pull() gpio.Pull {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pull
}

// DefaultPull implements gpio.PinIn.
func (c *CardDetect) DefaultPull() gpio.Pull {
	return gpio.PullUp
}

// Out implements gpio.PinOut. It always fails.
func (c *CardDetect) Out(gpio.Level) error {
	return errors.New("emmc: card detect is an input")
}

// PWM implements gpio.PinOut. It always fails.
func (c *CardDetect) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("emmc: card detect is an input")
}

var _ gpio.PinIO = &CardDetect{}
var _ pin.PinFunc = &CardDetect{}
