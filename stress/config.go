// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"fmt"
	"io"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/emmc"
	"periph.io/x/apollo/v3/xipmm"
)

// Size is a byte count written in YAML as "32KB", "1MB" or a plain number.
type Size uint32

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint32
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	b, err := bytesize.Parse(str)
	if err != nil {
		return errors.Wrapf(err, "stress: size %q", str)
	}
	if b < 0 || b > bytesize.ByteSize(^uint32(0)) {
		return errors.Errorf("stress: size %q out of range", str)
	}
	*s = Size(b)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// All the tests, in the order Run runs them.
const (
	TestScatter    = "scatter"
	TestBackToBack = "back-to-back"
	TestSweep      = "sweep"
	TestParallel   = "parallel"
	TestScrambling = "scrambling"
	TestXIPModes   = "xip-modes"
)

// Tests lists the known tests.
var Tests = []string{TestScatter, TestBackToBack, TestSweep, TestParallel, TestScrambling, TestXIPModes}

// Config is the harness setup.
type Config struct {
	// Tests to run; empty means all.
	Tests []string `yaml:"tests"`

	// StartBlock is the first card block used.
	StartBlock uint32 `yaml:"start_block"`
	// BlockCount is the length of a card transfer.
	BlockCount uint32 `yaml:"block_count"`
	// Vectors is the number of I/O vectors of a scatter transfer.
	Vectors int `yaml:"vectors"`
	// Iterations is the number of back to back requests.
	Iterations int `yaml:"iterations"`
	// SweepSteps is the number of start blocks visited by the sweep.
	SweepSteps int `yaml:"sweep_steps"`
	// PollBudget is the number of 1µs polls granted to an asynchronous card
	// transfer.
	PollBudget int `yaml:"poll_budget"`

	// TransferSize is the length of a PSRAM DMA transfer.
	TransferSize Size `yaml:"transfer_size"`
	// DMAAddr is the PSRAM address of the DMA transfers.
	DMAAddr Size `yaml:"dma_addr"`
	// HammerAddr is the PSRAM address loaded through XIP while DMA runs.
	HammerAddr Size `yaml:"hammer_addr"`
	// HammerReads bounds the number of XIP loads per transfer.
	HammerReads int `yaml:"hammer_reads"`
	// XIPAddr and XIPBytes describe the xipmm test.
	XIPAddr  Size `yaml:"xip_addr"`
	XIPBytes Size `yaml:"xip_bytes"`
	// MaxDelay bounds the random delay between XIP accesses.
	MaxDelay time.Duration `yaml:"max_delay"`

	// CacheThreshold is the transfer length at or above which whole cache
	// maintenance is used. 0 means the cache size.
	CacheThreshold Size `yaml:"cache_threshold"`
	// Seed seeds the random delays.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the setup of the Ambiq stress examples.
func DefaultConfig() Config {
	return Config{
		StartBlock:   100,
		BlockCount:   64,
		Vectors:      4,
		Iterations:   16,
		SweepSteps:   4,
		PollBudget:   dma.DefaultBudget.Polls,
		TransferSize: 32 * 1024,
		DMAAddr:      0,
		HammerAddr:   1 << 20,
		HammerReads:  10000,
		XIPAddr:      2 << 20,
		XIPBytes:     1024,
		MaxDelay:     5 * time.Millisecond,
		Seed:         1,
	}
}

// LoadConfig reads a YAML configuration. Missing fields keep their default.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	b, err := io.ReadAll(r)
	if err != nil {
		return c, errors.Wrap(err, "stress: reading config")
	}
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return c, errors.Wrap(err, "stress: parsing config")
	}
	return c, c.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for _, t := range c.Tests {
		if !known(t) {
			return errors.Errorf("stress: unknown test %q", t)
		}
	}
	if c.BlockCount == 0 {
		return errors.New("stress: block_count must be positive")
	}
	if c.Vectors < 1 || c.Vectors > emmc.MaxVectors {
		return errors.Errorf("stress: vectors must be between 1 and %d", emmc.MaxVectors)
	}
	if c.PollBudget <= 0 {
		return errors.New("stress: poll_budget must be positive")
	}
	if c.TransferSize == 0 {
		return errors.New("stress: transfer_size must be positive")
	}
	if c.HammerAddr >= c.DMAAddr && c.HammerAddr < c.DMAAddr+c.TransferSize {
		return errors.New("stress: hammer_addr is inside the DMA transfer")
	}
	if c.XIPBytes == 0 || c.XIPBytes%64 != 0 {
		return errors.New("stress: xip_bytes must be a multiple of 64")
	}
	if c.XIPAddr%4 != 0 {
		return errors.New("stress: xip_addr must be word aligned")
	}
	xip, dmaSpan := c.xipSpan(), c.dmaSpan()
	if xip.overlaps(dmaSpan) {
		return errors.Errorf("stress: XIP test area %s overlaps the DMA transfer %s", xip, dmaSpan)
	}
	if xip.overlaps(span{uint64(c.HammerAddr), uint64(c.HammerAddr) + 1}) {
		return errors.Errorf("stress: hammer_addr is inside the XIP test area %s", xip)
	}
	if c.MaxDelay < 0 {
		return errors.New("stress: max_delay is negative")
	}
	return nil
}

// CheckPSRAM checks that the PSRAM areas used by the tests fit a device of
// size bytes.
func (c *Config) CheckPSRAM(size uint32) error {
	if d := c.dmaSpan(); d.end > uint64(size) {
		return errors.Errorf("stress: DMA transfer %s doesn't fit %s of PSRAM", d, Size(size))
	}
	if uint64(c.HammerAddr) >= uint64(size) {
		return errors.Errorf("stress: hammer_addr doesn't fit %s of PSRAM", Size(size))
	}
	if x := c.xipSpan(); x.end > uint64(size) {
		return errors.Errorf("stress: XIP test area %s doesn't fit %s of PSRAM", x, Size(size))
	}
	return nil
}

// span is a PSRAM address range [start, end).
type span struct {
	start, end uint64
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

func (s span) String() string {
	return fmt.Sprintf("[%#x, %#x)", s.start, s.end)
}

func (c *Config) dmaSpan() span {
	return span{uint64(c.DMAAddr), uint64(c.DMAAddr) + uint64(c.TransferSize)}
}

func (c *Config) xipSpan() span {
	t := c.xipTest()
	return span{uint64(t.ByteOffset), uint64(t.ByteOffset) + uint64(t.Extent())}
}

func (c *Config) budget() dma.Budget {
	return dma.Budget{Polls: c.PollBudget, Delay: time.Microsecond}
}

func (c *Config) xipTest() xipmm.Test {
	return xipmm.Test{ByteOffset: uint32(c.XIPAddr), NumBytes: uint32(c.XIPBytes)}
}

func known(t string) bool {
	for _, k := range Tests {
		if k == t {
			return true
		}
	}
	return false
}
