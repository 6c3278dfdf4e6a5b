// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !unix

package memmap

func allocArena(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
