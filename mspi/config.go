// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mspi

import (
	"strconv"

	"github.com/pkg/errors"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/conn/v3/physic"
)

// NumInstances is the number of MSPI controllers.
const NumInstances = 4

// MaxClock is the fastest interface clock.
const MaxClock = 125 * physic.MegaHertz

// ErrConfig is wrapped by all the configuration errors.
var ErrConfig = errors.New("mspi: invalid configuration")

// Interface is the device interface mode. All modes are DDR.
type Interface uint8

const (
	OctalDDR Interface = iota
	HexDDR
)

// Lanes returns the number of data lines.
func (i Interface) Lanes() int {
	if i == HexDDR {
		return 16
	}
	return 8
}

func (i Interface) String() string {
	switch i {
	case OctalDDR:
		return "OctalDDR"
	case HexDDR:
		return "HexDDR"
	default:
		return "Interface(" + strconv.Itoa(int(i)) + ")"
	}
}

// Model is the PSRAM part.
type Model uint8

const (
	// APS25616N is a 256Mbit hex PSRAM. It also runs in octal mode.
	APS25616N Model = iota
	// APS12808L is a 128Mbit octal PSRAM.
	APS12808L
)

// Capacity returns the size of the part in bytes.
func (m Model) Capacity() uint32 {
	switch m {
	case APS25616N:
		return 32 << 20
	case APS12808L:
		return 16 << 20
	default:
		return 0
	}
}

func (m Model) supports(i Interface) bool {
	return i == OctalDDR || m == APS25616N
}

func (m Model) String() string {
	switch m {
	case APS25616N:
		return "APS25616N"
	case APS12808L:
		return "APS12808L"
	default:
		return "Model(" + strconv.Itoa(int(m)) + ")"
	}
}

// Config is the controller and device setup.
type Config struct {
	// Instance is the controller, 0 to 3.
	Instance  int
	Clock     physic.Frequency
	Interface Interface
	Model     Model
	// Size is the part of the device exposed; 0 means the whole device.
	Size uint32
	// Data stored in [ScramblingStart, ScramblingEnd) is scrambled while
	// scrambling is enabled.
	ScramblingStart uint32
	ScramblingEnd   uint32
}

// DefaultConfig returns the setup used by the stress tests: APS25616N in hex
// mode at 125MHz with the first MiB scrambled.
func DefaultConfig(instance int) Config {
	return Config{
		Instance:      instance,
		Clock:         MaxClock,
		Interface:     HexDDR,
		Model:         APS25616N,
		ScramblingEnd: 1 << 20,
	}
}

// Validate returns the normalized configuration.
func (c Config) Validate() (Config, error) {
	if c.Instance < 0 || c.Instance >= NumInstances {
		return c, errors.Wrapf(ErrConfig, "instance %d", c.Instance)
	}
	if c.Clock <= 0 || c.Clock > MaxClock {
		return c, errors.Wrapf(ErrConfig, "clock %s", c.Clock)
	}
	capacity := c.Model.Capacity()
	if capacity == 0 {
		return c, errors.Wrapf(ErrConfig, "model %s", c.Model)
	}
	if c.Interface > HexDDR || !c.Model.supports(c.Interface) {
		return c, errors.Wrapf(ErrConfig, "%s doesn't support %s", c.Model, c.Interface)
	}
	if c.Size == 0 {
		c.Size = capacity
	}
	if c.Size > capacity || c.Size > memmap.XIPStride || c.Size%memmap.LineSize != 0 {
		return c, errors.Wrapf(ErrConfig, "size %d", c.Size)
	}
	if c.ScramblingStart > c.ScramblingEnd || c.ScramblingEnd > c.Size {
		return c, errors.Wrapf(ErrConfig, "scrambling region [%#x, %#x)", c.ScramblingStart, c.ScramblingEnd)
	}
	return c, nil
}

// Aperture returns the XIP aperture of the instance.
func (c *Config) Aperture() memmap.Span {
	return memmap.Span{Addr: memmap.XIPBase + uint32(c.Instance)*memmap.XIPStride, Len: c.Size}
}
