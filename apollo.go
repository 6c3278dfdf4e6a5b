// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package apollo loads the drivers of the simulated Apollo5 peripherals.
package apollo

import (
	"periph.io/x/conn/v3/driver/driverreg"

	// Make sure the peripheral drivers are registered.
	_ "periph.io/x/apollo/v3/emmc"
	_ "periph.io/x/apollo/v3/mspi"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling apollo.Init(), you are guaranteed to
// have the SDIO and MSPI drivers of this library implicitly loaded.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
