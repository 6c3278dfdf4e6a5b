// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import "sync"

// Handler is called on the device event goroutine, which plays the role of
// the host interrupt. It must not block.
type Handler func(Event)

// dispatcher is the per device table of event handlers.
type dispatcher struct {
	mu    sync.RWMutex
	table [numEventTypes][]Handler
	all   []Handler
}

func (d *dispatcher) handle(t EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[t] = append(d.table[t], h)
}

func (d *dispatcher) handleAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, h)
}

func (d *dispatcher) dispatch(e Event) {
	d.mu.RLock()
	hs := d.table[e.Type]
	all := d.all
	d.mu.RUnlock()
	for _, h := range all {
		h(e)
	}
	for _, h := range hs {
		h(e)
	}
}
