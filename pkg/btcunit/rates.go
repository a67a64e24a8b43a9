// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides size and fee-rate units for transaction fee
// accounting.
package btcunit

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimals used when printing a
	// fee rate, enough to show 1 sat/kvb as 0.001 sat/vb.
	floatStringPrecision = 3
)

var (
	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)

	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)

	// MinRelayFeeRate is the default minimum relay fee rate of 1 sat/vb.
	MinRelayFeeRate = NewSatPerVByte(1)

	// ErrInvalidFeeRate is returned when a fee rate string cannot be
	// parsed.
	ErrInvalidFeeRate = errors.New("invalid fee rate")
)

// baseFeeRate stores a fee rate in satoshis per kilo-weight-unit. Keeping a
// single rational representation avoids rounding between units.
type baseFeeRate struct {
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a fee rate of numerator/denominator sat/kwu. A zero
// denominator yields a zero rate.
func newBaseFeeRate(numerator *big.Int, denominator uint64) baseFeeRate {
	if denominator == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	rate := new(big.Rat).SetFrac(
		numerator, big.NewInt(safeUint64ToInt64(denominator)),
	)

	return baseFeeRate{satsPerKWU: rate}
}

// rat returns the stored rate, treating the zero value as zero.
func (f baseFeeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return new(big.Rat)
	}

	return f.satsPerKWU
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKVByte converts the fee rate to sat/kvb.
func (f baseFeeRate) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{f}
}

// feeFor returns the exact rational fee for a weight.
func (f baseFeeRate) feeFor(weightUnit WeightUnit) *big.Rat {
	return new(big.Rat).Mul(
		f.rat(), big.NewRat(safeUint64ToInt64(weightUnit.wu), kilo),
	)
}

// FeeForWeight returns the fee for the given weight, rounded down.
func (f baseFeeRate) FeeForWeight(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeFor(weightUnit)

	quotient := new(big.Int).Quo(fee.Num(), fee.Denom())

	return btcutil.Amount(quotient.Int64())
}

// FeeForWeightRoundUp returns the fee for the given weight, rounded up to
// the next whole satoshi.
func (f baseFeeRate) FeeForWeightRoundUp(weightUnit WeightUnit) btcutil.Amount {
	fee := f.feeFor(weightUnit)

	// Ceiling division: (num + denom - 1) / denom.
	result := new(big.Int).Add(fee.Num(), fee.Denom())
	result.Sub(result, big.NewInt(1))
	result.Quo(result, fee.Denom())

	return btcutil.Amount(result.Int64())
}

// FeeForVByte returns the fee for a virtual size, rounded down.
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

// FeeForVByteRoundUp returns the fee for a virtual size, rounded up.
func (f baseFeeRate) FeeForVByteRoundUp(vb VByte) btcutil.Amount {
	return f.FeeForWeightRoundUp(vb.ToWU())
}

// FeeForKVByte returns the fee for a size in kilo-vbytes.
func (f baseFeeRate) FeeForKVByte(kvb KVByte) btcutil.Amount {
	return f.FeeForWeight(kvb.ToWU())
}

// Sign returns -1, 0 or +1 depending on the sign of the rate.
func (f baseFeeRate) Sign() int {
	return f.rat().Sign()
}

func (f baseFeeRate) cmp(other baseFeeRate) int {
	return f.rat().Cmp(other.rat())
}

// SatPerVByte is a fee rate in sat/vb. It may be fractional.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a whole-satoshi fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte returns the rate that pays fee for vb virtual bytes.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	// (fee * 1000) / weight gives sat/kwu.
	numerator := new(big.Int).Mul(big.NewInt(int64(fee)), big.NewInt(kilo))

	return SatPerVByte{newBaseFeeRate(numerator, vb.wu)}
}

// ParseSatPerVByte parses a decimal sat/vb rate such as "1", "2.5" or
// "12.25 sat/vb". Negative values parse, range checks belong to the caller.
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "sat/vb"))

	rate, ok := new(big.Rat).SetString(s)
	if !ok {
		return SatPerVByte{}, fmt.Errorf("%w: %q", ErrInvalidFeeRate, s)
	}

	// sat/vb * 1000 / 4 = sat/kwu.
	rate.Mul(rate, big.NewRat(kilo, blockchain.WitnessScaleFactor))

	return SatPerVByte{baseFeeRate{satsPerKWU: rate}}, nil
}

// SatPerVByteFromFloat converts a float rate. NaN and infinities yield an
// error.
func SatPerVByteFromFloat(rate float64) (SatPerVByte, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return SatPerVByte{}, fmt.Errorf("%w: %v", ErrInvalidFeeRate,
			rate)
	}

	r := new(big.Rat).SetFloat64(rate)
	r.Mul(r, big.NewRat(kilo, blockchain.WitnessScaleFactor))

	return SatPerVByte{baseFeeRate{satsPerKWU: r}}, nil
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	vbRate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return vbRate.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// Max returns the larger of the two rates.
func (s SatPerVByte) Max(other SatPerVByte) SatPerVByte {
	if s.LessThan(other) {
		return other
	}

	return s
}

// SatPerKVByte is a fee rate in sat/kvb, the unit used by the relay policy
// helpers.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a fee rate in sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	numerator := new(big.Int).Mul(big.NewInt(int64(rate)), big.NewInt(kilo))

	return SatPerKVByte{newBaseFeeRate(numerator, NewKVByte(1).wu)}
}

// Amount returns the rate as whole satoshis per kvb, rounded up.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return s.FeeForWeightRoundUp(NewKVByte(1).ToWU())
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	kvbRate := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, 1),
	)

	return kvbRate.FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// Sizes handled here are bounded by consensus, so the cap is never hit in
// practice.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		log.Warnf("Capping uint64 value %d to %d", u,
			int64(math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
