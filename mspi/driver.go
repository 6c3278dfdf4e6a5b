// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"sync"

	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/driver/driverreg"
)

// All enumerates the PSRAM devices set up by the driver.
func All() []*Dev {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	out := make([]*Dev, len(drv.all))
	copy(out, drv.all)
	return out
}

// ByInstance returns the device on controller i or nil.
func ByInstance(i int) *Dev {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	for _, d := range drv.all {
		if d.cfg.Instance == i {
			return d
		}
	}
	return nil
}

//

// driver implements driver.Impl.
type driver struct {
	mu      sync.Mutex
	all     []*Dev
	devices func() []Config
	mem     func() *memmap.Map
}

func (d *driver) String() string {
	return "apollo-mspi"
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
	for _, c := range d.devices() {
		dev, err := New(mem, &c)
		if err != nil {
			return true, err
		}
		d.all = append(d.all, dev)
	}
	return true, nil
}

func (d *driver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.all {
		_ = dev.Halt()
	}
	d.all = nil
	// The following are mocked in tests.
	d.devices = defaultDevices
	d.mem = memmap.Default
}

// defaultDevices puts a PSRAM on instances 0 and 3 like the Apollo5 EVB.
func defaultDevices() []Config {
	return []Config{DefaultConfig(0), DefaultConfig(3)}
}

func init() {
	drv.reset()
	driverreg.MustRegister(&drv)
}

var drv driver
