// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package emmc

import (
	"fmt"
	"strconv"

	"periph.io/x/apollo/v3/dma"
)

// EventType is the kind of a host event.
type EventType uint8

const (
	// XferComplete is posted once when a whole request completed.
	XferComplete EventType = iota
	// SdmaDone is posted each time a descriptor (one I/O vector) is done.
	SdmaDone
	// DataError is posted when a request fails. No XferComplete follows.
	DataError
	// CardPresent is posted when a card is inserted.
	CardPresent

	numEventTypes
)

func (e EventType) String() string {
	switch e {
	case XferComplete:
		return "XferComplete"
	case SdmaDone:
		return "SdmaDone"
	case DataError:
		return "DataError"
	case CardPresent:
		return "CardPresent"
	default:
		return "EventType(" + strconv.Itoa(int(e)) + ")"
	}
}

// DataErrorCode is the cause of a DataError.
//
// It implements error so a failed transfer can be matched with errors.Is.
type DataErrorCode uint8

const (
	NoDataError DataErrorCode = iota
	// DataCRCError is a CRC mismatch on the data lines.
	DataCRCError
	// DataTimeoutError is a card that stopped answering mid transfer.
	DataTimeoutError
	// DataEndBitError is a framing error on the data lines.
	DataEndBitError
	// ADMAError is a descriptor pointing to memory the engine can't reach.
	ADMAError
)

func (d DataErrorCode) Error() string {
	switch d {
	case NoDataError:
		return "emmc: no error"
	case DataCRCError:
		return "emmc: data CRC error"
	case DataTimeoutError:
		return "emmc: data timeout error"
	case DataEndBitError:
		return "emmc: data end bit error"
	case ADMAError:
		return "emmc: ADMA error"
	default:
		return "emmc: data error " + strconv.Itoa(int(d))
	}
}

// Event is delivered to the handlers registered on a Dev.
type Event struct {
	Type EventType
	Dir  dma.Direction
	// BlockCount is the number of blocks transferred so far.
	BlockCount uint32
	// Error is set on DataError.
	Error DataErrorCode
}

func (e Event) String() string {
	if e.Type == DataError {
		return fmt.Sprintf("%s{%s, %d blocks, %v}", e.Type, e.Dir, e.BlockCount, e.Error)
	}
	return fmt.Sprintf("%s{%s, %d blocks}", e.Type, e.Dir, e.BlockCount)
}
