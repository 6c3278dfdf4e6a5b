// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// apollostress runs the eMMC and PSRAM stress tests on the simulated Apollo5.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"periph.io/x/apollo/v3"
	"periph.io/x/apollo/v3/emmc"
	"periph.io/x/apollo/v3/memmap"
	"periph.io/x/apollo/v3/mspi"
	"periph.io/x/apollo/v3/stress"
)

func loadConfig(path string) (stress.Config, error) {
	if path == "" {
		return stress.DefaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return stress.Config{}, err
	}
	defer f.Close()
	return stress.LoadConfig(f)
}

// openImage locks the card image and loads it when it exists. The returned
// function saves the card back and releases the lock.
func openImage(m *emmc.Media, path string) (func() error, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("%s is used by another process", path)
	}
	if f, err := os.Open(path); err == nil {
		err = m.Load(f)
		f.Close()
		if err != nil {
			_ = lock.Unlock()
			return nil, errors.Wrap(err, path)
		}
		log.Printf("loaded %s", path)
	} else if !os.IsNotExist(err) {
		_ = lock.Unlock()
		return nil, err
	}
	return func() error {
		defer lock.Unlock()
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := m.Save(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func preload(d *mspi.Dev, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return errors.Wrap(d.LoadHex(f), path)
}

func dump(d *mspi.Dev, path string, addr, n uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.DumpHex(f, addr, n); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mainImpl() error {
	cfgPath := flag.String("config", "", "YAML configuration file")
	image := flag.String("image", "", "eMMC card image; loaded before the run and saved after it")
	hexIn := flag.String("preload", "", "Intel HEX file programmed into the PSRAM before the run")
	hexOut := flag.String("dump", "", "Intel HEX file receiving the PSRAM XIP test region after the run")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if _, err := apollo.Init(); err != nil {
		return err
	}
	card := emmc.ByHost(0)
	psram := mspi.ByInstance(0)
	if card == nil || psram == nil {
		return errors.New("SDIO host 0 or MSPI instance 0 is missing")
	}
	if err := cfg.CheckPSRAM(psram.Config().Size); err != nil {
		return err
	}
	if *image != "" {
		save, err := openImage(card.Media(), *image)
		if err != nil {
			return err
		}
		defer func() {
			if err := save(); err != nil {
				fmt.Fprintf(os.Stderr, "apollostress: %s\n", err)
			}
		}()
	}
	if *hexIn != "" {
		if err := preload(psram, *hexIn); err != nil {
			return err
		}
	}

	s := stress.NewSystem(memmap.Default(), card, psram, &cfg)
	s.Log = log.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	r := stress.Run(ctx, s, &cfg)
	color := term.IsTerminal(int(os.Stdout.Fd()))
	if err := r.Print(colorable.NewColorableStdout(), color); err != nil {
		return err
	}
	if *hexOut != "" {
		if err := dump(psram, *hexOut, uint32(cfg.XIPAddr), 4*uint32(cfg.XIPBytes)); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Failed() {
		return errors.New("stress test failed")
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "apollostress: %s.\n", err)
		os.Exit(1)
	}
}
