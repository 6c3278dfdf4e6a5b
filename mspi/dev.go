// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3"
)

// Dev is a PSRAM device behind one MSPI controller.
type Dev struct {
	name     string
	mem      *memmap.Map
	eng      *dma.Engine
	ram      *store
	aperture string

	// bus serializes DMA transfers on the device interface.
	bus sync.Mutex

	mu       sync.Mutex
	cfg      Config
	xip      bool
	halted   bool
	inflight sync.WaitGroup
}

// New sets up controller cfg.Instance and maps its XIP aperture in mem.
//
// XIP and scrambling start disabled.
func New(mem *memmap.Map, cfg *Config) (*Dev, error) {
	c, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	name := "MSPI" + strconv.Itoa(c.Instance)
	d := &Dev{
		name:     name,
		mem:      mem,
		eng:      dma.NewEngine(name),
		ram:      newStore(c.Size),
		aperture: "XIP" + strconv.Itoa(c.Instance),
		cfg:      c,
	}
	a := c.Aperture()
	if _, err := mem.MapDevice(d.aperture, a.Addr, a.Len, true, aperture{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dev) String() string {
	return d.name
}

// Halt waits for the transfers in flight and unmaps the aperture. Implements
// conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return nil
	}
	d.halted = true
	d.xip = false
	d.mu.Unlock()
	d.inflight.Wait()
	return d.mem.Unmap(d.aperture)
}

// Config returns the normalized configuration.
func (d *Dev) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Configure changes the clock, interface and scrambling region.
//
// The instance, model and size can't be changed. It fails while a transfer
// is in flight.
func (d *Dev) Configure(cfg *Config) error {
	c, err := cfg.Validate()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if c.Instance != d.cfg.Instance || c.Model != d.cfg.Model || c.Size != d.cfg.Size {
		return errors.Wrap(ErrConfig, "instance, model and size are fixed")
	}
	if d.eng.Channel(dma.Read).Busy() || d.eng.Channel(dma.Write).Busy() {
		return errors.Wrap(dma.ErrBusy, "mspi: configure")
	}
	d.ram.mu.RLock()
	on := d.ram.scramble
	d.ram.mu.RUnlock()
	d.ram.setScrambling(on, c.ScramblingStart, c.ScramblingEnd)
	d.cfg = c
	return nil
}

// Aperture returns the XIP aperture.
func (d *Dev) Aperture() memmap.Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Aperture()
}

// EnableXIP enables CPU accesses through the aperture.
func (d *Dev) EnableXIP() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.xip = true
	logf("%s: XIP enabled at %s", d, d.cfg.Aperture())
	return nil
}

// DisableXIP disables CPU accesses through the aperture.
func (d *Dev) DisableXIP() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.xip = false
	return nil
}

func (d *Dev) xipStatus() status {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.halted:
		return statusHalted
	case !d.xip:
		return statusXIP
	}
	return statusOK
}

// EnableScrambling scrambles the data stored in the configured region.
//
// Data already stored is not converted; reading it back while scrambling is
// enabled returns garbage.
func (d *Dev) EnableScrambling() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ram.setScrambling(true, d.cfg.ScramblingStart, d.cfg.ScramblingEnd)
	return nil
}

// DisableScrambling stops scrambling. Reads then return the raw stored data.
func (d *Dev) DisableScrambling() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ram.setScrambling(false, d.cfg.ScramblingStart, d.cfg.ScramblingEnd)
	return nil
}

// Read moves n bytes at device address addr into buf with DMA.
//
// When wait is false it returns once the transfer is started; use Wait or
// Done.
func (d *Dev) Read(buf memmap.Span, addr, n uint32, wait bool) error {
	return d.transfer(dma.Read, buf, addr, n, wait)
}

// Write moves n bytes from buf to device address addr with DMA.
func (d *Dev) Write(buf memmap.Span, addr, n uint32, wait bool) error {
	return d.transfer(dma.Write, buf, addr, n, wait)
}

// Wait blocks until the last transfer in direction dir completed or ctx is
// done.
func (d *Dev) Wait(ctx context.Context, dir dma.Direction) (dma.Completion, error) {
	return d.eng.Channel(dir).Wait(ctx)
}

// Done returns a channel closed once the last transfer in direction dir
// completed.
func (d *Dev) Done(dir dma.Direction) <-chan struct{} {
	return d.eng.Channel(dir).Done()
}

// Poll waits for the last transfer in direction dir within budget b.
func (d *Dev) Poll(dir dma.Direction, b dma.Budget) (dma.Completion, error) {
	return d.eng.Channel(dir).Poll(b)
}

// State returns the state of the engine in direction dir.
func (d *Dev) State(dir dma.Direction) dma.State {
	return d.eng.Channel(dir).State()
}

// Stats returns the transfer counters of direction dir.
func (d *Dev) Stats(dir dma.Direction) dma.Stats {
	return d.eng.Channel(dir).Stats()
}

// Reset clears a faulted transfer engine.
func (d *Dev) Reset() {
	d.eng.Reset()
}

//

func (d *Dev) transfer(dir dma.Direction, buf memmap.Span, addr, n uint32, wait bool) error {
	if n == 0 || n > buf.Len {
		return errors.Errorf("mspi: %d bytes don't fit buffer %s", n, buf)
	}
	if _, err := d.mem.Lookup(buf.Addr); err != nil {
		return err
	}
	if err := toErr(dir.String(), d.ram.check(addr, int(n)), addr, int(n)); err != nil {
		return err
	}
	ch := d.eng.Channel(dir)
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return ErrHalted
	}
	if err := ch.Begin(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.inflight.Add(1)
	clock, lanes := d.cfg.Clock, d.cfg.Interface.Lanes()
	d.mu.Unlock()
	logf("%s: %s %d bytes at %#x, buffer %s, wait=%t", d, dir, n, addr, buf, wait)
	go d.run(dir, buf.Addr, addr, n, dma.BusTime(int(n), clock, lanes, true))
	if !wait {
		return nil
	}
	_, err := ch.Spin()
	return err
}

// run is the DMA engine.
func (d *Dev) run(dir dma.Direction, buf, addr, n uint32, t time.Duration) {
	defer d.inflight.Done()
	d.bus.Lock()
	defer d.bus.Unlock()
	if t > 0 {
		time.Sleep(t)
	}
	b := make([]byte, n)
	var err error
	if dir == dma.Write {
		if err = d.mem.Read(buf, b); err == nil {
			err = toErr("dma write", d.ram.store(addr, b), addr, len(b))
		}
	} else {
		if err = toErr("dma read", d.ram.load(addr, b), addr, len(b)); err == nil {
			err = d.mem.Write(buf, b)
		}
	}
	if err != nil {
		err = errors.Wrap(err, d.name)
		n = 0
	}
	d.eng.Channel(dir).Complete(n, err)
}

// program stores p at addr without DMA.
func (d *Dev) program(addr uint32, p []byte) error {
	return toErr("program", d.ram.store(addr, p), addr, len(p))
}

// peek loads p from addr without DMA.
func (d *Dev) peek(addr uint32, p []byte) error {
	return toErr("peek", d.ram.load(addr, p), addr, len(p))
}

var _ conn.Resource = &Dev{}
