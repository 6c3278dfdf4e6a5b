// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"sync"

	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// All enumerates the SDHC hosts set up by the driver.
func All() []*Dev {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]*Dev, len(drv.all))
	copy(out, drv.all)
	return out
}

// ByHost returns the device of host instance i or nil.
func ByHost(i int) *Dev {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	for _, d := range drv.all {
		if d.cfg.Host == i {
			return d
		}
	}
	return nil
}

//

// driver implements driver.Impl.
type driver struct {
	mu    sync.Mutex
	all   []*Dev
	pins  []string
	hosts func() []Config
	media func(host int) *Media
	mem   func() *memmap.Map
}

func (d *driver) String() string {
	return "apollo-sdio"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem := d.mem()
	for _, c := range d.hosts() {
		dev, err := New(mem, &c)
		if err != nil {
			return true, err
		}
		if err := gpioreg.Register(dev.cd); err != nil {
			_ = dev.Halt()
			return true, err
		}
		d.pins = append(d.pins, dev.cd.Name())
		d.all = append(d.all, dev)
		if m := d.media(c.Host); m != nil {
			dev.Insert(m)
		}
	}
	return true, nil
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.all {
		_ = dev.Halt()
	}
	for _, n := range d.pins {
		_ = gpioreg.Unregister(n)
	}
	d.all = nil
	d.pins = nil
	// The following are mocked in tests.
	d.hosts = defaultHosts
	d.media = defaultMedia
	d.mem = memmap.Default
}

func defaultHosts() []Config {
	out := make([]Config, NumHosts)
	for i := range out {
		out[i] = DefaultConfig(i)
	}
	return out
}

func defaultMedia(host int) *Media {
	return NewMedia(DefaultSectors)
}

func init() {
	drv.reset()
	driverreg.MustRegister(&drv)
}

var drv driver
