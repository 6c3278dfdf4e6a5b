// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/apollo/v3/emmc"
)

func TestLoadConfig(t *testing.T) {
	c, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() = %v", err)
	}
	if c.BlockCount != 64 {
		t.Fatalf("loadConfig() = %+v", c)
	}
	p := filepath.Join(t.TempDir(), "stress.yaml")
	if err := os.WriteFile(p, []byte("block_count: 8\ntests: [sweep]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if c, err = loadConfig(p); err != nil || c.BlockCount != 8 {
		t.Fatalf("loadConfig() = %+v, %v", c, err)
	}
	if _, err := loadConfig(p + ".missing"); err == nil {
		t.Fatal("loadConfig() succeeded")
	}
}

func TestOpenImage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "card.img")
	m := emmc.NewMedia(64)
	data := bytes.Repeat([]byte{0x5A}, emmc.BlockSize)
	if err := m.WriteBlocks(7, data); err != nil {
		t.Fatal(err)
	}
	save, err := openImage(m, p)
	if err != nil {
		t.Fatalf("openImage() = %v", err)
	}
	if _, err := openImage(emmc.NewMedia(64), p); err == nil {
		t.Fatal("openImage() succeeded while locked")
	}
	if err := save(); err != nil {
		t.Fatalf("save() = %v", err)
	}

	m2 := emmc.NewMedia(64)
	save, err = openImage(m2, p)
	if err != nil {
		t.Fatalf("openImage() = %v", err)
	}
	defer save()
	got := make([]byte, emmc.BlockSize)
	if n, err := m2.ReadBlocks(7, got); err != nil || n != 1 {
		t.Fatalf("ReadBlocks() = %d, %v", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("image content lost")
	}
	if _, err := openImage(emmc.NewMedia(32), p+"2"); err != nil {
		t.Fatalf("openImage() = %v", err)
	}
}
