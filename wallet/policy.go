// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
)

const (
	// DefaultChunkSize is the default maximum length of a PSBT chunk in
	// text form, small enough for a dense QR code.
	DefaultChunkSize = 400

	// txVersion is the version of every transaction the wallet builds.
	txVersion = 2
)

var (
	// DefaultMaxFeeRate is the default maximum fee rate the wallet will
	// consider sane.
	//
	//nolint:mnd // 1000 sat/vb default max fee.
	DefaultMaxFeeRate = btcunit.NewSatPerVByte(1000)
)

// TxPolicy holds the policy knobs of transaction construction.
type TxPolicy struct {
	// DustThreshold is the smallest output the wallet creates, change
	// included.
	DustThreshold btcutil.Amount

	// MaxFeeRate is the largest fee rate accepted.
	MaxFeeRate btcunit.SatPerVByte

	// MinRelayFeeRate is the floor applied to every fee.
	MinRelayFeeRate btcunit.SatPerVByte

	// ChunkSize is the maximum text length of a PSBT chunk.
	ChunkSize int
}

// DefaultTxPolicy returns the standard policy.
func DefaultTxPolicy() TxPolicy {
	return TxPolicy{
		DustThreshold:   txfee.DustThreshold,
		MaxFeeRate:      DefaultMaxFeeRate,
		MinRelayFeeRate: btcunit.MinRelayFeeRate,
		ChunkSize:       DefaultChunkSize,
	}
}
