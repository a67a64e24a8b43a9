// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// HardenedKeyStart is the index at which a hardened key starts.
	HardenedKeyStart = hdkeychain.HardenedKeyStart

	// PurposeBIP44 is the purpose field for legacy P2PKH accounts.
	PurposeBIP44 uint32 = 44

	// PurposeBIP45 is the purpose field for legacy P2SH multisig accounts.
	PurposeBIP45 uint32 = 45

	// PurposeBIP48 is the purpose field for segwit multisig accounts.
	PurposeBIP48 uint32 = 48

	// PurposeBIP49 is the purpose field for P2SH-P2WPKH accounts.
	PurposeBIP49 uint32 = 49

	// PurposeBIP84 is the purpose field for P2WPKH accounts.
	PurposeBIP84 uint32 = 84

	// ScriptTypeNestedWitness is the BIP48 script type for P2SH-P2WSH.
	ScriptTypeNestedWitness uint32 = 1

	// ScriptTypeWitness is the BIP48 script type for P2WSH.
	ScriptTypeWitness uint32 = 2

	// ExternalBranch is the child number used for receiving addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the child number used for change addresses.
	InternalBranch uint32 = 1
)

var (
	// ErrInvalidPath is returned when a derivation path cannot be parsed.
	ErrInvalidPath = errors.New("invalid derivation path")
)

// PathSegment is a single step of a derivation path.
type PathSegment struct {
	// Index is the child number without the hardened offset.
	Index uint32

	// Hardened is true if the step uses hardened derivation.
	Hardened bool
}

// ChildNumber returns the BIP32 child number for the segment, including the
// hardened offset if needed.
func (s PathSegment) ChildNumber() uint32 {
	if s.Hardened {
		return s.Index + HardenedKeyStart
	}

	return s.Index
}

// String returns the segment in its canonical textual form.
func (s PathSegment) String() string {
	if s.Hardened {
		return strconv.FormatUint(uint64(s.Index), 10) + "'"
	}

	return strconv.FormatUint(uint64(s.Index), 10)
}

// DerivationPath is an ordered sequence of derivation steps. A path is
// absolute when it is anchored at the master node ("m/...").
type DerivationPath struct {
	segments []PathSegment
	absolute bool
}

// NewPath returns an absolute path made of the given segments.
func NewPath(segments ...PathSegment) DerivationPath {
	return DerivationPath{
		segments: append([]PathSegment(nil), segments...),
		absolute: true,
	}
}

// NewRelativePath returns a path that is meant to be applied to an existing
// node rather than the master node.
func NewRelativePath(segments ...PathSegment) DerivationPath {
	return DerivationPath{
		segments: append([]PathSegment(nil), segments...),
	}
}

// ParsePath parses a textual derivation path. Absolute paths start with "m";
// anything else is treated as relative. Hardened steps may be marked with
// ', h or H.
func ParsePath(path string) (DerivationPath, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DerivationPath{}, fmt.Errorf("%w: empty path",
			ErrInvalidPath)
	}

	parts := strings.Split(path, "/")

	var result DerivationPath
	if parts[0] == "m" || parts[0] == "M" {
		result.absolute = true
		parts = parts[1:]
	}

	result.segments = make([]PathSegment, 0, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return DerivationPath{}, fmt.Errorf("%w: segment %d "+
				"(%q): %v", ErrInvalidPath, i, part, err)
		}

		result.segments = append(result.segments, seg)
	}

	return result, nil
}

// parseSegment parses a single path component.
func parseSegment(part string) (PathSegment, error) {
	var seg PathSegment

	switch {
	case part == "":
		return seg, errors.New("empty segment")

	case strings.HasSuffix(part, "'"), strings.HasSuffix(part, "h"),
		strings.HasSuffix(part, "H"):

		seg.Hardened = true
		part = part[:len(part)-1]
	}

	// Only plain decimal digits are accepted, no sign or whitespace.
	for _, r := range part {
		if r < '0' || r > '9' {
			return seg, fmt.Errorf("unexpected character %q", r)
		}
	}

	index, err := strconv.ParseUint(part, 10, 32)
	if err != nil {
		return seg, err
	}

	if index >= HardenedKeyStart {
		return seg, fmt.Errorf("index %d out of range", index)
	}

	seg.Index = uint32(index)

	return seg, nil
}

// MustParsePath is like ParsePath but panics on error. It is only meant for
// package level constants and tests.
func MustParsePath(path string) DerivationPath {
	p, err := ParsePath(path)
	if err != nil {
		panic(err)
	}

	return p
}

// Segments returns a copy of the path segments.
func (p DerivationPath) Segments() []PathSegment {
	return append([]PathSegment(nil), p.segments...)
}

// Len returns the number of derivation steps.
func (p DerivationPath) Len() int {
	return len(p.segments)
}

// IsAbsolute reports whether the path is anchored at the master node.
func (p DerivationPath) IsAbsolute() bool {
	return p.absolute
}

// Child returns a new path with one extra step appended. The receiver is not
// modified.
func (p DerivationPath) Child(index uint32, hardened bool) DerivationPath {
	segments := make([]PathSegment, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)

	return DerivationPath{
		segments: append(segments, PathSegment{
			Index:    index,
			Hardened: hardened,
		}),
		absolute: p.absolute,
	}
}

// Join appends a relative path to this path.
func (p DerivationPath) Join(rel DerivationPath) DerivationPath {
	segments := make([]PathSegment, 0, len(p.segments)+len(rel.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, rel.segments...)

	return DerivationPath{segments: segments, absolute: p.absolute}
}

// ChildNumbers returns the raw BIP32 child numbers of the path, as used in
// PSBT key derivation records.
func (p DerivationPath) ChildNumbers() []uint32 {
	nums := make([]uint32, len(p.segments))
	for i, seg := range p.segments {
		nums[i] = seg.ChildNumber()
	}

	return nums
}

// PathFromChildNumbers builds an absolute path from raw BIP32 child
// numbers, the inverse of ChildNumbers.
func PathFromChildNumbers(nums []uint32) DerivationPath {
	segments := make([]PathSegment, len(nums))
	for i, num := range nums {
		segments[i] = PathSegment{
			Index:    num &^ HardenedKeyStart,
			Hardened: num >= HardenedKeyStart,
		}
	}

	return NewPath(segments...)
}

// String returns the canonical textual form of the path.
func (p DerivationPath) String() string {
	var b strings.Builder
	if p.absolute {
		b.WriteString("m")
	}

	for i, seg := range p.segments {
		if i > 0 || p.absolute {
			b.WriteString("/")
		}
		b.WriteString(seg.String())
	}

	return b.String()
}

// Equal reports whether both paths describe the same derivation.
func (p DerivationPath) Equal(other DerivationPath) bool {
	if p.absolute != other.absolute ||
		len(p.segments) != len(other.segments) {

		return false
	}

	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}

	return true
}

// CoinType returns the BIP44 coin type for the given network: 0 for mainnet
// and 1 for every test network.
func CoinType(net *chaincfg.Params) uint32 {
	if net.Net == chaincfg.MainNetParams.Net {
		return 0
	}

	return 1
}

// AccountPath returns the single-sig account path m/purpose'/coin'/account'.
func AccountPath(purpose, coinType, account uint32) DerivationPath {
	return NewPath(
		PathSegment{Index: purpose, Hardened: true},
		PathSegment{Index: coinType, Hardened: true},
		PathSegment{Index: account, Hardened: true},
	)
}

// MultisigAccountPath returns the BIP48 multisig account path
// m/48'/coin'/account'/script'.
func MultisigAccountPath(coinType, account,
	scriptType uint32) DerivationPath {

	return NewPath(
		PathSegment{Index: PurposeBIP48, Hardened: true},
		PathSegment{Index: coinType, Hardened: true},
		PathSegment{Index: account, Hardened: true},
		PathSegment{Index: scriptType, Hardened: true},
	)
}

// AddressPath returns the relative path change/index below an account node.
func AddressPath(change bool, index uint32) DerivationPath {
	branch := ExternalBranch
	if change {
		branch = InternalBranch
	}

	return NewRelativePath(
		PathSegment{Index: branch},
		PathSegment{Index: index},
	)
}
