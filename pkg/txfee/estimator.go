// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txfee estimates transaction sizes and fees ahead of signing.
package txfee

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
)

const (
	// DustThreshold is the smallest output value the wallet creates.
	DustThreshold btcutil.Amount = 546

	// txOverhead is the version plus the lock time.
	txOverhead = 4 + 4

	// witnessHeaderSize is the segwit marker and flag.
	witnessHeaderSize = 2
)

var (
	// ErrInputTypeMismatch is returned when the number of input types
	// disagrees with the number of inputs.
	ErrInputTypeMismatch = errors.New("input type count mismatch")

	// ErrOutputTypeMismatch is returned when output types are given but
	// their number disagrees with the number of outputs.
	ErrOutputTypeMismatch = errors.New("output type count mismatch")

	// ErrInvalidParams is returned for negative counts.
	ErrInvalidParams = errors.New("invalid size parameters")
)

// Params describes the shape of a transaction to size.
type Params struct {
	// NumInputs is the number of inputs.
	NumInputs int

	// NumOutputs is the number of outputs.
	NumOutputs int

	// InputTypes has one entry per input.
	InputTypes []InputType

	// OutputTypes optionally has one entry per output. When empty every
	// output is sized like the script of the first input, or as P2WPKH
	// when there are no inputs.
	OutputTypes []OutputType
}

// Estimate is the estimated size of a signed transaction.
type Estimate struct {
	// Size is the full serialized size in bytes, witness included.
	Size int

	// VirtualSize is the weight divided by four, rounded up.
	VirtualSize int

	// Weight is the BIP141 weight.
	Weight int
}

// VBytes returns the virtual size as a btcunit value.
func (e Estimate) VBytes() btcunit.VByte {
	return btcunit.NewVByte(uint64(e.VirtualSize))
}

// EstimateSize returns the worst case size of the transaction described by
// params once fully signed.
func EstimateSize(params Params) (Estimate, error) {
	if params.NumInputs < 0 || params.NumOutputs < 0 {
		return Estimate{}, fmt.Errorf("%w: %d inputs, %d outputs",
			ErrInvalidParams, params.NumInputs, params.NumOutputs)
	}

	if len(params.InputTypes) != params.NumInputs {
		return Estimate{}, fmt.Errorf("%w: %d types for %d inputs",
			ErrInputTypeMismatch, len(params.InputTypes),
			params.NumInputs)
	}

	if len(params.OutputTypes) != 0 &&
		len(params.OutputTypes) != params.NumOutputs {

		return Estimate{}, fmt.Errorf("%w: %d types for %d outputs",
			ErrOutputTypeMismatch, len(params.OutputTypes),
			params.NumOutputs)
	}

	baseSize := txOverhead +
		wire.VarIntSerializeSize(uint64(params.NumInputs)) +
		wire.VarIntSerializeSize(uint64(params.NumOutputs))

	var (
		witnessSize int
		hasWitness  bool
	)
	for _, in := range params.InputTypes {
		if err := in.validate(); err != nil {
			return Estimate{}, err
		}

		baseSize += in.BaseSize()
		witnessSize += in.WitnessSize()

		if in.IsWitness() {
			hasWitness = true
		}
	}

	for i := range params.NumOutputs {
		baseSize += outputType(params, i).Size()
	}

	if hasWitness {
		// Every non-witness input still carries an empty stack.
		for _, in := range params.InputTypes {
			if !in.IsWitness() {
				witnessSize++
			}
		}

		witnessSize += witnessHeaderSize
	} else {
		witnessSize = 0
	}

	weight := baseSize*blockchain.WitnessScaleFactor + witnessSize
	est := Estimate{
		Size:   baseSize + witnessSize,
		Weight: weight,
		VirtualSize: int(btcunit.VBytesFromWeight(
			uint64(weight),
		).VBytes()),
	}

	log.Tracef("Estimated %d-in %d-out tx: size=%d vsize=%d weight=%d",
		params.NumInputs, params.NumOutputs, est.Size, est.VirtualSize,
		est.Weight)

	return est, nil
}

func outputType(params Params, i int) OutputType {
	switch {
	case len(params.OutputTypes) > 0:
		return params.OutputTypes[i]

	case len(params.InputTypes) > 0:
		return params.InputTypes[0].OutputType()

	default:
		return P2WPKHOutput
	}
}

// EstimateFee returns the fee for the transaction described by params at
// feeRate. The result never drops below the minimum relay fee for the
// estimated virtual size.
func EstimateFee(params Params, feeRate btcunit.SatPerVByte) (btcutil.Amount,
	error) {

	est, err := EstimateSize(params)
	if err != nil {
		return 0, err
	}

	return FeeForVSize(est.VirtualSize, feeRate), nil
}

// FeeForVSize returns the fee for vsize virtual bytes at feeRate, rounded
// up and floored at the minimum relay rate.
func FeeForVSize(vsize int, feeRate btcunit.SatPerVByte) btcutil.Amount {
	vb := btcunit.NewVByte(uint64(vsize))

	return feeRate.Max(btcunit.MinRelayFeeRate).FeeForVByteRoundUp(vb)
}

// IsDust reports whether amount is below the dust threshold.
func IsDust(amount btcutil.Amount) bool {
	return amount < DustThreshold
}
