// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"
)

// Split cuts payload into frames of at most maxText characters in text
// form. Every frame carries txid and the hash of the complete payload.
func Split(payload []byte, txid [32]byte, maxText int) ([]*Frame, error) {
	size, err := PayloadSize(maxText)
	if err != nil {
		return nil, err
	}

	total := (len(payload) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if total > MaxFrames {
		return nil, fmt.Errorf("%w: payload needs %d frames",
			ErrFrameSize, total)
	}

	hash := sha256.Sum256(payload)
	frames := make([]*Frame, 0, total)
	for i := range total {
		end := min((i+1)*size, len(payload))

		frames = append(frames, &Frame{
			Index:   uint16(i),
			Total:   uint16(total),
			TxID:    txid,
			Hash:    hash,
			Payload: bytes.Clone(payload[i*size : end]),
		})
	}

	return frames, nil
}

// Join reassembles the payload from frames given in any order. Exact
// duplicates are tolerated.
func Join(frames []*Frame) ([]byte, *Frame, error) {
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("%w: no chunks", ErrMissing)
	}

	first := frames[0]
	byIndex := make(map[uint16]*Frame, first.Total)
	for _, f := range frames {
		switch {
		case f.TxID != first.TxID:
			return nil, nil, fmt.Errorf("%w: chunk %d has txid "+
				"%x, want %x", ErrTxIDMismatch, f.Index,
				f.TxID, first.TxID)

		case f.Total != first.Total || f.Hash != first.Hash:
			return nil, nil, fmt.Errorf("%w: chunk %d disagrees "+
				"on the payload", ErrCorrupt, f.Index)

		case f.Index >= f.Total:
			return nil, nil, fmt.Errorf("%w: index %d of %d",
				ErrCorrupt, f.Index, f.Total)
		}

		if prev, ok := byIndex[f.Index]; ok &&
			!bytes.Equal(prev.Payload, f.Payload) {

			return nil, nil, fmt.Errorf("%w: conflicting copies "+
				"of chunk %d", ErrCorrupt, f.Index)
		}

		byIndex[f.Index] = f
	}

	if len(byIndex) != int(first.Total) {
		missing := make([]int, 0, int(first.Total)-len(byIndex))
		for i := range int(first.Total) {
			if _, ok := byIndex[uint16(i)]; !ok {
				missing = append(missing, i)
			}
		}
		sort.Ints(missing)

		return nil, nil, fmt.Errorf("%w: have %d of %d, missing %v",
			ErrMissing, len(byIndex), first.Total, missing)
	}

	var payload bytes.Buffer
	for i := range int(first.Total) {
		payload.Write(byIndex[uint16(i)].Payload)
	}

	if sha256.Sum256(payload.Bytes()) != first.Hash {
		return nil, nil, fmt.Errorf("%w: content hash mismatch",
			ErrCorrupt)
	}

	return payload.Bytes(), first, nil
}
