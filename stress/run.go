// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"context"
	"time"
)

// Func is a test. It returns the number of bytes it moved.
type Func func(ctx context.Context, s *System, cfg *Config) (uint64, error)

var funcs = map[string]Func{
	TestScatter:    Scatter,
	TestBackToBack: BackToBack,
	TestSweep:      Sweep,
	TestParallel:   Parallel,
	TestScrambling: Scrambling,
	TestXIPModes:   XIPModes,
}

// Run runs the tests selected by cfg in order. A failing test doesn't stop
// the following ones; a done ctx does.
func Run(ctx context.Context, s *System, cfg *Config) *Report {
	names := cfg.Tests
	if len(names) == 0 {
		names = Tests
	}
	r := &Report{}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		s.logf("%s: start", name)
		start := time.Now()
		n, err := funcs[name](ctx, s, cfg)
		res := Result{Name: name, Bytes: n, Duration: time.Since(start), Err: err}
		if err != nil {
			s.logf("%s: %v", name, err)
		}
		r.Results = append(r.Results, res)
	}
	return r
}
