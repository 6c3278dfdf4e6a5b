// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dma implements the completion state shared by the DMA driven
// controllers (SDHC, MSPI).
//
// Each device owns one Channel per direction. A Channel is either Idle,
// InFlight or in Error. Begin moves it to InFlight and arms a fresh
// completion; a second Begin while InFlight is rejected with ErrBusy. The
// controller's interrupt path calls Complete, which resolves the completion
// exactly once.
//
// Synchronous callers Spin on the busy bit. Asynchronous callers block in
// Wait with a context deadline, or Poll with an iteration budget.
package dma
