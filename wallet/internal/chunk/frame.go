// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chunk implements the frame codec used to move a serialized
// payload through transports that only carry short text strings, such as
// animated QR codes.
package chunk

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// TextPrefix starts the text form of every frame.
	TextPrefix = "psbtchunk:"

	// MaxFrames is the largest number of frames a payload may be split
	// into.
	MaxFrames = 1<<16 - 1

	// frameOverhead bounds the TLV bytes that surround the payload: the
	// type and length of every record, the two counters and both
	// hashes.
	frameOverhead = 4 + 4 + 34 + 34 + 1 + 9
)

const (
	typeIndex   tlv.Type = 0
	typeTotal   tlv.Type = 2
	typeTxID    tlv.Type = 4
	typeHash    tlv.Type = 6
	typePayload tlv.Type = 8
)

var (
	// ErrReassembly is the umbrella error of every reassembly failure.
	ErrReassembly = errors.New("chunk reassembly failed")

	// ErrMissing is returned when one or more frames are absent.
	ErrMissing = fmt.Errorf("%w: missing chunk", ErrReassembly)

	// ErrTxIDMismatch is returned when frames belong to different
	// transactions.
	ErrTxIDMismatch = fmt.Errorf("%w: txid mismatch", ErrReassembly)

	// ErrCorrupt is returned for malformed frames, inconsistent counters
	// and content hash mismatches.
	ErrCorrupt = fmt.Errorf("%w: corrupt chunk", ErrReassembly)

	// ErrFrameSize is returned when the requested frame size cannot hold
	// any payload.
	ErrFrameSize = errors.New("chunk size too small")
)

// Frame is one piece of a split payload.
type Frame struct {
	// Index is the zero based position of the frame.
	Index uint16

	// Total is the number of frames of the payload.
	Total uint16

	// TxID identifies the transaction the payload describes.
	TxID [32]byte

	// Hash is the sha256 of the complete payload.
	Hash [32]byte

	// Payload is this frame's slice of the payload.
	Payload []byte
}

func (f *Frame) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeIndex, &f.Index),
		tlv.MakePrimitiveRecord(typeTotal, &f.Total),
		tlv.MakePrimitiveRecord(typeTxID, &f.TxID),
		tlv.MakePrimitiveRecord(typeHash, &f.Hash),
		tlv.MakePrimitiveRecord(typePayload, &f.Payload),
	}
}

// Encode serializes the frame as a TLV stream.
func (f *Frame) Encode() ([]byte, error) {
	stream, err := tlv.NewStream(f.records()...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode parses a TLV encoded frame.
func Decode(b []byte) (*Frame, error) {
	f := &Frame{}

	stream, err := tlv.NewStream(f.records()...)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if f.Total == 0 || f.Index >= f.Total {
		return nil, fmt.Errorf("%w: index %d of %d", ErrCorrupt,
			f.Index, f.Total)
	}

	return f, nil
}

// String returns the text form of the frame.
func (f *Frame) String() string {
	b, err := f.Encode()
	if err != nil {
		return ""
	}

	return TextPrefix + base64.StdEncoding.EncodeToString(b)
}

// Parse decodes the text form of a frame.
func Parse(s string) (*Frame, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, TextPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrCorrupt,
			TextPrefix)
	}

	b, err := base64.StdEncoding.DecodeString(
		strings.TrimPrefix(s, TextPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return Decode(b)
}

// PayloadSize returns how many payload bytes fit in a frame whose text form
// is at most maxText characters long.
func PayloadSize(maxText int) (int, error) {
	// Base64 turns every 3 bytes into 4 characters.
	raw := (maxText - len(TextPrefix)) / 4 * 3
	size := raw - frameOverhead
	if size < 1 {
		return 0, fmt.Errorf("%w: %d characters", ErrFrameSize, maxText)
	}

	return size, nil
}
