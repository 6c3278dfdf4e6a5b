// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stress

import (
	"fmt"
	"io"
	"time"

	"github.com/inhies/go-bytesize"
)

// Result is the outcome of one test.
type Result struct {
	Name     string
	Bytes    uint64
	Duration time.Duration
	Err      error
}

// Passed returns true if the test succeeded.
func (r *Result) Passed() bool {
	return r.Err == nil
}

// Report collects the results of a run.
type Report struct {
	Results []Result
}

// Failed returns true if any test failed.
func (r *Report) Failed() bool {
	for i := range r.Results {
		if !r.Results[i].Passed() {
			return true
		}
	}
	return false
}

const (
	green = "\x1b[32m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

// Print writes one line per test to w. ANSI colors are used when color is
// true.
func (r *Report) Print(w io.Writer, color bool) error {
	for _, res := range r.Results {
		status, c := "PASS", green
		if !res.Passed() {
			status, c = "FAIL", red
		}
		if color {
			status = c + status + reset
		}
		line := fmt.Sprintf("%s %-13s %10s in %s", status, res.Name, bytesize.New(float64(res.Bytes)), res.Duration.Round(time.Microsecond))
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
