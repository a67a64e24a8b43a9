// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// baseUnit stores a transaction size in weight units. The other size units
// are views on the same value.
type baseUnit struct {
	wu uint64
}

// ToWU converts the unit to a WeightUnit.
func (b baseUnit) ToWU() WeightUnit {
	return WeightUnit{b}
}

// ToVB converts the unit to a VByte.
func (b baseUnit) ToVB() VByte {
	return VByte{b}
}

// ToKVB converts the unit to a KVByte.
func (b baseUnit) ToKVB() KVByte {
	return KVByte{b}
}

// WeightUnit expresses a transaction size in weight units, where the
// weight is `base size * 3 + total size` per BIP141.
type WeightUnit struct {
	baseUnit
}

// NewWeightUnit creates a new WeightUnit.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{baseUnit{wu: val}}
}

// Weight returns the raw weight.
func (w WeightUnit) Weight() uint64 {
	return w.wu
}

// String returns the string representation of the weight unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte expresses a transaction size in virtual bytes, a quarter of a
// weight unit rounded up.
type VByte struct {
	baseUnit
}

// NewVByte creates a new VByte.
func NewVByte(val uint64) VByte {
	return VByte{baseUnit{wu: val * blockchain.WitnessScaleFactor}}
}

// VBytesFromWeight returns the virtual size of a weight, rounding up to a
// whole vbyte as nodes do for fee and relay accounting.
func VBytesFromWeight(wu uint64) VByte {
	vb := (wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return NewVByte(vb)
}

// VBytes returns the size in whole virtual bytes, rounded up.
func (v VByte) VBytes() uint64 {
	return (v.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the string representation of the virtual byte.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.VBytes())
}

// KVByte expresses a transaction size in kilo-virtual-bytes.
type KVByte struct {
	baseUnit
}

// NewKVByte creates a new KVByte.
func NewKVByte(val uint64) KVByte {
	return KVByte{baseUnit{wu: val * kilo * blockchain.WitnessScaleFactor}}
}

// String returns the string representation of the kilo-virtual-byte.
func (k KVByte) String() string {
	vbytes := (k.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return fmt.Sprintf("%d kvb", vbytes/kilo)
}
