// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"strconv"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// MaxClock is the fastest SDIO clock of the host.
const MaxClock = 48 * physic.MegaHertz

// NumHosts is the number of SDHC host instances.
const NumHosts = 2

// ErrConfig is wrapped by all the configuration errors.
var ErrConfig = errors.New("emmc: invalid configuration")

// BusWidth is the number of data lines.
type BusWidth uint8

const (
	Width1 BusWidth = 1
	Width4 BusWidth = 4
	Width8 BusWidth = 8
)

// Voltage is the signaling voltage of the bus.
type Voltage uint8

const (
	Voltage1V8 Voltage = iota
	Voltage3V0
	Voltage3V3
)

func (v Voltage) String() string {
	switch v {
	case Voltage1V8:
		return "1.8V"
	case Voltage3V0:
		return "3.0V"
	case Voltage3V3:
		return "3.3V"
	default:
		return "Voltage(" + strconv.Itoa(int(v)) + ")"
	}
}

// UHSMode is the bus speed mode.
type UHSMode uint8

const (
	SDR12 UHSMode = iota
	SDR25
	SDR50
	SDR104
	DDR50
)

func (u UHSMode) String() string {
	switch u {
	case SDR12:
		return "SDR12"
	case SDR25:
		return "SDR25"
	case SDR50:
		return "SDR50"
	case SDR104:
		return "SDR104"
	case DDR50:
		return "DDR50"
	default:
		return "UHSMode(" + strconv.Itoa(int(u)) + ")"
	}
}

// DDR returns true if data is sampled on both clock edges.
func (u UHSMode) DDR() bool {
	return u == DDR50
}

// Config is the host setup.
type Config struct {
	// Host is the SDHC instance, 0 or 1.
	Host     int
	Clock    physic.Frequency
	BusWidth BusWidth
	Voltage  Voltage
	UHS      UHSMode
}

// DefaultConfig returns the setup used by the stress tests: 48MHz, 4 bits,
// 1.8V, SDR50.
func DefaultConfig(host int) Config {
	return Config{
		Host:     host,
		Clock:    MaxClock,
		BusWidth: Width4,
		Voltage:  Voltage1V8,
		UHS:      SDR50,
	}
}

// Validate returns the normalized configuration.
//
// DDR50 only runs at MaxClock; a slower clock is raised to it.
func (c Config) Validate() (Config, error) {
	if c.Host < 0 || c.Host >= NumHosts {
		return c, errors.Wrapf(ErrConfig, "host %d", c.Host)
	}
	switch c.BusWidth {
	case Width1, Width4, Width8:
	default:
		return c, errors.Wrapf(ErrConfig, "bus width %d", c.BusWidth)
	}
	if c.Voltage > Voltage3V3 {
		return c, errors.Wrapf(ErrConfig, "voltage %s", c.Voltage)
	}
	if c.UHS > DDR50 {
		return c, errors.Wrapf(ErrConfig, "mode %s", c.UHS)
	}
	if c.Clock <= 0 || c.Clock > MaxClock {
		return c, errors.Wrapf(ErrConfig, "clock %s", c.Clock)
	}
	if c.UHS != SDR12 && c.UHS != SDR25 && c.Voltage != Voltage1V8 {
		return c, errors.Wrapf(ErrConfig, "%s requires 1.8V signaling, got %s", c.UHS, c.Voltage)
	}
	if c.UHS.DDR() {
		if c.BusWidth == Width1 {
			return c, errors.Wrapf(ErrConfig, "%s requires 4 or 8 data lines", c.UHS)
		}
		c.Clock = MaxClock
	}
	return c, nil
}
