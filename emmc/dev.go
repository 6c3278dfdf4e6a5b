// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

var (
	// ErrNoCard is returned when no card is inserted.
	ErrNoCard = errors.New("emmc: no card")
	// ErrCardAsleep is returned when a transfer is issued while the card is
	// in sleep state.
	ErrCardAsleep = errors.New("emmc: card is asleep")
	// ErrHalted is returned after Halt.
	ErrHalted = errors.New("emmc: host halted")
)

// Info describes the card and the bus it is on.
type Info struct {
	Sectors   uint32
	BlockSize uint32
	Clock     physic.Frequency
	BusWidth  BusWidth
	Voltage   Voltage
	UHS       UHSMode
}

// Dev is an eMMC card behind one SDHC host instance.
type Dev struct {
	name string
	cfg  Config
	mem  *memmap.Map
	eng  *dma.Engine
	cd   *CardDetect
	disp dispatcher

	// bus serializes the data phase of transfers and erases.
	bus sync.Mutex

	mu     sync.Mutex
	media  *Media
	asleep bool
	halted bool

	events   chan Event
	inflight sync.WaitGroup
	served   chan struct{}
}

type request struct {
	dir    dma.Direction
	start  uint32
	blocks uint32
	vecs   []IOVec
	media  *Media
}

// New sets up host cfg.Host over mem. No card is inserted.
func New(mem *memmap.Map, cfg *Config) (*Dev, error) {
	c, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	name := "SDIO" + strconv.Itoa(c.Host)
	d := &Dev{
		name:   name,
		cfg:    c,
		mem:    mem,
		eng:    dma.NewEngine(name),
		cd:     newCardDetect(name+"_CD", c.Host),
		events: make(chan Event, 64),
		served: make(chan struct{}),
	}
	go d.serve()
	return d, nil
}

func (d *Dev) String() string {
	return d.name
}

// Halt waits for the transfers in flight and stops the host. Implements
// conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.halted {
		d.mu.Unlock()
		return nil
	}
	d.halted = true
	d.mu.Unlock()
	d.inflight.Wait()
	close(d.events)
	<-d.served
	return nil
}

// Config returns the normalized host configuration.
func (d *Dev) Config() Config {
	return d.cfg
}

// CardDetect returns the card detect line.
func (d *Dev) CardDetect() *CardDetect {
	return d.cd
}

// Insert inserts a card and posts CardPresent.
func (d *Dev) Insert(m *Media) {
	d.mu.Lock()
	d.media = m
	d.asleep = false
	halted := d.halted
	if !halted {
		d.inflight.Add(1)
	}
	d.mu.Unlock()
	d.cd.set(gpio.High)
	if !halted {
		d.post(Event{Type: CardPresent})
		d.inflight.Done()
	}
}

// Eject removes the card. Transfers in flight complete on the removed card.
func (d *Dev) Eject() {
	d.mu.Lock()
	d.media = nil
	d.mu.Unlock()
	d.cd.set(gpio.Low)
}

// Media returns the inserted card or nil.
func (d *Dev) Media() *Media {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.media
}

// Info returns the card information.
func (d *Dev) Info() (Info, error) {
	m, err := d.card()
	if err != nil {
		return Info{}, err
	}
	return Info{
		Sectors:   m.SectorCount(),
		BlockSize: BlockSize,
		Clock:     d.cfg.Clock,
		BusWidth:  d.cfg.BusWidth,
		Voltage:   d.cfg.Voltage,
		UHS:       d.cfg.UHS,
	}, nil
}

// Handle registers h for events of type t.
//
// Handlers run on the event goroutine in registration order, before the
// completion of the transfer is published to Wait and Done.
func (d *Dev) Handle(t EventType, h Handler) {
	d.disp.handle(t, h)
}

// RegisterEventCallback registers h for all events.
func (d *Dev) RegisterEventCallback(h Handler) {
	d.disp.handleAll(h)
}

// Sleep puts the card in sleep state. It fails while a transfer is in
// flight.
func (d *Dev) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Transfers begin with mu held, so none can start between the check and
	// the state change.
	if d.eng.Channel(dma.Read).Busy() || d.eng.Channel(dma.Write).Busy() {
		return errors.Wrap(dma.ErrBusy, "emmc: sleep")
	}
	if err := d.state(); err != nil {
		return err
	}
	d.asleep = true
	return nil
}

// Wakeup wakes the card up.
func (d *Dev) Wakeup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.media == nil {
		return ErrNoCard
	}
	d.asleep = false
	return nil
}

// Reset clears a faulted transfer engine.
func (d *Dev) Reset() {
	d.eng.Reset()
}

// State returns the state of the engine in direction dir.
func (d *Dev) State(dir dma.Direction) dma.State {
	return d.eng.Channel(dir).State()
}

// Done returns a channel closed once the last transfer in direction dir
// completed.
func (d *Dev) Done(dir dma.Direction) <-chan struct{} {
	return d.eng.Channel(dir).Done()
}

// Wait blocks until the last transfer in direction dir completed or ctx is
// done.
func (d *Dev) Wait(ctx context.Context, dir dma.Direction) (dma.Completion, error) {
	return d.eng.Channel(dir).Wait(ctx)
}

// Poll waits for the last transfer in direction dir within budget b.
func (d *Dev) Poll(dir dma.Direction, b dma.Budget) (dma.Completion, error) {
	return d.eng.Channel(dir).Poll(b)
}

// Stats returns the transfer counters of direction dir.
func (d *Dev) Stats(dir dma.Direction) dma.Stats {
	return d.eng.Channel(dir).Stats()
}

// Erase erases count blocks starting at start.
func (d *Dev) Erase(start, count uint32) error {
	m, err := d.card()
	if err != nil {
		return err
	}
	d.bus.Lock()
	defer d.bus.Unlock()
	logf("%s: erase %d+%d", d, start, count)
	return m.Erase(start, count)
}

// ReadSync reads count blocks starting at start into buf and returns once
// done.
func (d *Dev) ReadSync(start, count uint32, buf memmap.Span) error {
	return d.block(dma.Read, start, count, buf, true)
}

// ReadAsync starts reading count blocks at start into buf.
func (d *Dev) ReadAsync(start, count uint32, buf memmap.Span) error {
	return d.block(dma.Read, start, count, buf, false)
}

// WriteSync writes count blocks from buf starting at block start and returns
// once done.
func (d *Dev) WriteSync(start, count uint32, buf memmap.Span) error {
	return d.block(dma.Write, start, count, buf, true)
}

// WriteAsync starts writing count blocks from buf at block start.
func (d *Dev) WriteAsync(start, count uint32, buf memmap.Span) error {
	return d.block(dma.Write, start, count, buf, false)
}

// ScatterReadSync reads the blocks starting at start into vecs, in order.
func (d *Dev) ScatterReadSync(start uint32, vecs []IOVec) error {
	return d.transfer(dma.Read, start, vecs, true)
}

// ScatterReadAsync starts a scatter read.
func (d *Dev) ScatterReadAsync(start uint32, vecs []IOVec) error {
	return d.transfer(dma.Read, start, vecs, false)
}

// ScatterWriteSync writes vecs, concatenated in order, to the blocks
// starting at start.
func (d *Dev) ScatterWriteSync(start uint32, vecs []IOVec) error {
	return d.transfer(dma.Write, start, vecs, true)
}

// ScatterWriteAsync starts a gather write.
func (d *Dev) ScatterWriteAsync(start uint32, vecs []IOVec) error {
	return d.transfer(dma.Write, start, vecs, false)
}

//

func (d *Dev) card() (*Media, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.state(); err != nil {
		return nil, err
	}
	return d.media, nil
}

// state returns why the card can't be used. Must be called with mu held.
func (d *Dev) state() error {
	switch {
	case d.halted:
		return ErrHalted
	case d.media == nil:
		return ErrNoCard
	case d.asleep:
		return ErrCardAsleep
	}
	return nil
}

func (d *Dev) block(dir dma.Direction, start, count uint32, buf memmap.Span, wait bool) error {
	n := uint64(count) * BlockSize
	if count == 0 || n > uint64(buf.Len) {
		return errors.Errorf("emmc: %d blocks don't fit buffer %s", count, buf)
	}
	return d.transfer(dir, start, []IOVec{{Base: buf.Addr, Len: uint32(n)}}, wait)
}

func (d *Dev) transfer(dir dma.Direction, start uint32, vecs []IOVec, wait bool) error {
	n, err := blocks(d.mem, vecs)
	if err != nil {
		return err
	}
	m, err := d.card()
	if err != nil {
		return err
	}
	if err := m.check(start, uint64(n)); err != nil {
		return err
	}
	ch := d.eng.Channel(dir)
	d.mu.Lock()
	if err := d.state(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.media != m {
		d.mu.Unlock()
		return errors.New("emmc: card changed")
	}
	if err := ch.Begin(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	r := &request{dir: dir, start: start, blocks: n, vecs: append([]IOVec(nil), vecs...), media: m}
	logf("%s: %s %d blocks at %d, %d vectors, wait=%t", d, dir, n, start, len(vecs), wait)
	go d.run(r)
	if !wait {
		return nil
	}
	_, err = ch.Spin()
	return err
}

// run is the ADMA engine. It posts SdmaDone after each vector then
// XferComplete, or DataError on the first failure.
func (d *Dev) run(r *request) {
	defer d.inflight.Done()
	d.bus.Lock()
	defer d.bus.Unlock()
	buf := make([]byte, r.blocks*BlockSize)
	if r.dir == dma.Write {
		off := uint32(0)
		for _, v := range r.vecs {
			if err := d.mem.Read(v.Base, buf[off:off+v.Len]); err != nil {
				logf("%s: %v", d, err)
				d.post(Event{Type: DataError, Dir: r.dir, BlockCount: off / BlockSize, Error: ADMAError})
				return
			}
			d.wire(v.Len)
			off += v.Len
			d.post(Event{Type: SdmaDone, Dir: r.dir, BlockCount: off / BlockSize})
		}
		if err := r.media.WriteBlocks(r.start, buf); err != nil {
			d.post(Event{Type: DataError, Dir: r.dir, Error: DataTimeoutError})
			return
		}
		d.post(Event{Type: XferComplete, Dir: r.dir, BlockCount: r.blocks})
		return
	}
	good, err := r.media.ReadBlocks(r.start, buf)
	valid := good * BlockSize
	off := uint32(0)
	for _, v := range r.vecs {
		if off >= valid {
			break
		}
		n := v.Len
		if off+n > valid {
			n = valid - off
		}
		d.wire(n)
		if err1 := d.mem.Write(v.Base, buf[off:off+n]); err1 != nil {
			logf("%s: %v", d, err1)
			d.post(Event{Type: DataError, Dir: r.dir, BlockCount: off / BlockSize, Error: ADMAError})
			return
		}
		off += n
		if n == v.Len {
			d.post(Event{Type: SdmaDone, Dir: r.dir, BlockCount: off / BlockSize})
		}
	}
	if err != nil {
		var crc *CRCError
		code := DataTimeoutError
		if errors.As(err, &crc) {
			code = DataCRCError
		}
		d.post(Event{Type: DataError, Dir: r.dir, BlockCount: good, Error: code})
		return
	}
	d.post(Event{Type: XferComplete, Dir: r.dir, BlockCount: r.blocks})
}

// wire waits for n bytes to cross the bus.
func (d *Dev) wire(n uint32) {
	if t := dma.BusTime(int(n), d.cfg.Clock, int(d.cfg.BusWidth), d.cfg.UHS.DDR()); t > 0 {
		time.Sleep(t)
	}
}

func (d *Dev) post(e Event) {
	d.events <- e
}

// serve is the interrupt handler.
func (d *Dev) serve() {
	defer close(d.served)
	for e := range d.events {
		logf("%s: %s", d, e)
		d.disp.dispatch(e)
		switch e.Type {
		case XferComplete:
			d.eng.Channel(e.Dir).Complete(e.BlockCount, nil)
		case DataError:
			err := errors.Wrapf(e.Error, "%s: %s after %d blocks", d, e.Dir, e.BlockCount)
			d.eng.Channel(e.Dir).Complete(e.BlockCount, err)
		}
	}
}

var _ conn.Resource = &Dev{}
