// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sigurn/crc16"
)

// BlockSize is the eMMC block length.
const BlockSize = 512

// DefaultSectors is the capacity of the cards created by the driver: 64MiB.
const DefaultSectors = 128 * 1024

var (
	// ErrOutOfRange is returned when a block range runs past the end of the
	// card.
	ErrOutOfRange = errors.New("emmc: block range out of card")
	// ErrBadImage is returned by Media.Load on a malformed image.
	ErrBadImage = errors.New("emmc: bad card image")
)

// CRCError is returned when a block fails its data CRC check.
type CRCError struct {
	Block uint32
}

func (c *CRCError) Error() string {
	return "emmc: data CRC mismatch on block " + strconv.FormatUint(uint64(c.Block), 10)
}

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// erasedCRC is the CRC of an erased block.
var erasedCRC = crc16.Checksum(make([]byte, BlockSize), crcTable)

type block struct {
	data [BlockSize]byte
	crc  uint16
}

// Media is the storage of an eMMC card.
//
// Blocks are allocated when first written; an erased block reads as zeros.
// Each block carries the CRC16 computed when it was written, checked on every
// read like the card does on the data lines.
type Media struct {
	sectors uint32

	mu     sync.RWMutex
	blocks map[uint32]*block
}

// NewMedia returns an erased card of sectors blocks.
func NewMedia(sectors uint32) *Media {
	return &Media{sectors: sectors, blocks: map[uint32]*block{}}
}

// SectorCount returns the number of blocks.
func (m *Media) SectorCount() uint32 {
	return m.sectors
}

func (m *Media) check(start uint32, count uint64) error {
	if uint64(start)+count > uint64(m.sectors) {
		return errors.Wrapf(ErrOutOfRange, "%d+%d > %d", start, count, m.sectors)
	}
	return nil
}

// ReadBlocks reads len(p)/BlockSize blocks starting at start.
//
// On a CRC error it returns the number of blocks read successfully and a
// *CRCError; p holds the good blocks.
func (m *Media) ReadBlocks(start uint32, p []byte) (uint32, error) {
	if len(p)%BlockSize != 0 {
		return 0, errors.Errorf("emmc: read length %d is not a multiple of %d", len(p), BlockSize)
	}
	count := uint32(len(p) / BlockSize)
	if err := m.check(start, uint64(count)); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := uint32(0); i < count; i++ {
		dst := p[i*BlockSize : (i+1)*BlockSize]
		b := m.blocks[start+i]
		if b == nil {
			clear(dst)
			continue
		}
		if crc16.Checksum(b.data[:], crcTable) != b.crc {
			return i, &CRCError{Block: start + i}
		}
		copy(dst, b.data[:])
	}
	return count, nil
}

// WriteBlocks writes len(p)/BlockSize blocks starting at start.
func (m *Media) WriteBlocks(start uint32, p []byte) error {
	if len(p)%BlockSize != 0 {
		return errors.Errorf("emmc: write length %d is not a multiple of %d", len(p), BlockSize)
	}
	count := uint32(len(p) / BlockSize)
	if err := m.check(start, uint64(count)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint32(0); i < count; i++ {
		b := m.blocks[start+i]
		if b == nil {
			b = &block{}
			m.blocks[start+i] = b
		}
		copy(b.data[:], p[i*BlockSize:])
		b.crc = crc16.Checksum(b.data[:], crcTable)
	}
	return nil
}

// Erase erases count blocks starting at start.
func (m *Media) Erase(start, count uint32) error {
	if err := m.check(start, uint64(count)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint32(0); i < count; i++ {
		delete(m.blocks, start+i)
	}
	return nil
}

// InjectError corrupts the stored CRC of a block so the next read of it fails.
// Writing the block again clears the error.
func (m *Media) InjectError(blk uint32) error {
	if err := m.check(blk, 1); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.blocks[blk]
	if b == nil {
		b = &block{crc: erasedCRC}
		m.blocks[blk] = b
	}
	b.crc ^= 0xFFFF
	return nil
}

// Image format:
//
//	"EMMCIMG1" | sectors uint32 | records
//
// with one record per written block: block uint32 | crc uint16 | data [512]byte.
// All integers are little endian.
var imageMagic = [8]byte{'E', 'M', 'M', 'C', 'I', 'M', 'G', '1'}

// Save writes the written blocks of the card to w.
func (m *Media) Save(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bw := bufio.NewWriter(w)
	_, _ = bw.Write(imageMagic[:])
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[:4], m.sectors)
	_, _ = bw.Write(hdr[:4])
	for n, b := range m.blocks {
		binary.LittleEndian.PutUint32(hdr[:4], n)
		binary.LittleEndian.PutUint16(hdr[4:], b.crc)
		_, _ = bw.Write(hdr[:])
		if _, err := bw.Write(b.data[:]); err != nil {
			return errors.Wrap(err, "emmc: saving image")
		}
	}
	return errors.Wrap(bw.Flush(), "emmc: saving image")
}

// Load replaces the content of the card with an image written by Save.
//
// The image must have been saved from a card of the same size.
func (m *Media) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil || magic != imageMagic {
		return errors.Wrap(ErrBadImage, "magic")
	}
	var hdr [6]byte
	if _, err := io.ReadFull(br, hdr[:4]); err != nil {
		return errors.Wrap(ErrBadImage, "header")
	}
	if s := binary.LittleEndian.Uint32(hdr[:4]); s != m.sectors {
		return errors.Wrapf(ErrBadImage, "image has %d sectors, card has %d", s, m.sectors)
	}
	blocks := map[uint32]*block{}
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrap(ErrBadImage, "truncated record")
		}
		n := binary.LittleEndian.Uint32(hdr[:4])
		if n >= m.sectors {
			return errors.Wrapf(ErrBadImage, "block %d", n)
		}
		b := &block{crc: binary.LittleEndian.Uint16(hdr[4:])}
		if _, err := io.ReadFull(br, b.data[:]); err != nil {
			return errors.Wrap(ErrBadImage, "truncated block")
		}
		blocks[n] = b
	}
	m.mu.Lock()
	m.blocks = blocks
	m.mu.Unlock()
	return nil
}
