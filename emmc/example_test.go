// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc_test

import (
	"fmt"
	"log"

	"periph.io/x/apollo/v3/dma"
	"periph.io/x/apollo/v3/emmc"
	"periph.io/x/apollo/v3/memmap"
)

func Example() {
	mem, err := memmap.Apollo5()
	if err != nil {
		log.Fatal(err)
	}
	defer mem.Close()
	cfg := emmc.DefaultConfig(0)
	d, err := emmc.New(mem, &cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer d.Halt()
	d.Insert(emmc.NewMedia(emmc.DefaultSectors))

	// Gather two buffers into 8 consecutive blocks.
	a, _ := mem.Alloc(memmap.SSRAM, 1536, 0)
	b, _ := mem.Alloc(memmap.DTCM, 2560, 0)
	if err := d.ScatterWriteSync(100, emmc.Vectors(a, b)); err != nil {
		log.Fatal(err)
	}
	fmt.Println(d.Stats(dma.Read).Completed, d.Stats(dma.Write).Completed)
	// Output: 0 1
}
