// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
)

const (
	// DefaultGapLimit is the number of addresses derived per chain for a
	// freshly imported account.
	DefaultGapLimit = 10

	// MaxGapLimit is the largest gap limit accepted per chain.
	MaxGapLimit = 50
)

var (
	// ErrGapLimitExceeded is returned when a gap limit above MaxGapLimit
	// is requested.
	ErrGapLimitExceeded = errors.New("gap limit exceeded")

	// ErrInvalidGapLimit is returned for gap limits below one.
	ErrInvalidGapLimit = errors.New("invalid gap limit")
)

// DerivedAddress is an address together with its position in the account.
type DerivedAddress struct {
	// Address is the encoded address.
	Address string

	// Path is the full derivation path of the address key.
	Path keychain.DerivationPath

	// Index is the child index on its chain.
	Index uint32

	// Change is true for addresses on the internal chain.
	Change bool

	// Type is the script family of the address.
	Type AddressType
}

// String returns a short human readable description.
func (d DerivedAddress) String() string {
	return fmt.Sprintf("%s (%s %s #%d, %s)", d.Address, d.Type,
		ChainName(d.Change), d.Index, d.Path)
}

// checkGapLimit validates a per-chain gap limit.
func checkGapLimit(gapLimit int) error {
	switch {
	case gapLimit > MaxGapLimit:
		return fmt.Errorf("%w: %d is above the maximum of %d",
			ErrGapLimitExceeded, gapLimit, MaxGapLimit)

	case gapLimit < 1:
		return fmt.Errorf("%w: %d", ErrInvalidGapLimit, gapLimit)
	}

	return nil
}

// accountDeriver derives addresses below a single account key. It caches
// the two branch nodes for the lifetime of one call.
type accountDeriver struct {
	account  *keychain.KeyNode
	basePath keychain.DerivationPath
	addrType AddressType
	net      *chaincfg.Params

	branches [2]*keychain.KeyNode
}

// newAccountDeriver parses and validates xpub for the given network.
func newAccountDeriver(xpub string,
	net *chaincfg.Params) (*accountDeriver, error) {

	node, info, err := extkey.Parse(xpub, extkey.NetworkFromParams(net))
	if err != nil {
		return nil, err
	}

	addrType := AddressTypeForKey(info.KeyType)
	if addrType.IsMultisig() {
		return nil, fmt.Errorf("%w: %s key used for a single-sig "+
			"account", ErrUnknownAddrType, info.Prefix)
	}

	basePath, err := keychain.ParsePath(info.PathTemplate)
	if err != nil {
		return nil, err
	}

	return &accountDeriver{
		account:  node,
		basePath: basePath,
		addrType: addrType,
		net:      net,
	}, nil
}

// branch returns the external or internal branch node.
func (d *accountDeriver) branch(change bool) (*keychain.KeyNode, error) {
	i := 0
	if change {
		i = 1
	}

	if d.branches[i] != nil {
		return d.branches[i], nil
	}

	node, err := keychain.DerivePath(
		d.account, keychain.NewRelativePath(keychain.PathSegment{
			Index: uint32(i),
		}),
	)
	if err != nil {
		return nil, err
	}

	d.branches[i] = node

	return node, nil
}

// derive returns the address at index on the requested chain.
func (d *accountDeriver) derive(index uint32,
	change bool) (DerivedAddress, error) {

	branch, err := d.branch(change)
	if err != nil {
		return DerivedAddress{}, err
	}

	child, err := keychain.DerivePath(
		branch, keychain.NewRelativePath(keychain.PathSegment{
			Index: index,
		}),
	)
	if err != nil {
		return DerivedAddress{}, err
	}

	pub, err := child.PubKey()
	if err != nil {
		return DerivedAddress{}, err
	}

	addr, err := PubKeyAddress(pub, d.addrType, d.net)
	if err != nil {
		return DerivedAddress{}, err
	}

	return DerivedAddress{
		Address: addr.EncodeAddress(),
		Path:    d.basePath.Join(keychain.AddressPath(change, index)),
		Index:   index,
		Change:  change,
		Type:    d.addrType,
	}, nil
}

// deriveRange derives [start, end) on the external chain and then on the
// internal chain.
func (d *accountDeriver) deriveRange(start, end uint32) ([]DerivedAddress,
	error) {

	if end <= start {
		return []DerivedAddress{}, nil
	}

	addrs := make([]DerivedAddress, 0, 2*(end-start))
	for _, change := range []bool{false, true} {
		for i := start; i < end; i++ {
			addr, err := d.derive(i, change)
			if err != nil {
				return nil, err
			}

			addrs = append(addrs, addr)
		}
	}

	return addrs, nil
}

// DeriveInitialAddresses derives the default set of 10 receiving and 10
// change addresses for an account key.
func DeriveInitialAddresses(xpub string,
	net *chaincfg.Params) ([]DerivedAddress, error) {

	return DeriveAddresses(xpub, net, DefaultGapLimit)
}

// DeriveAddresses derives gapLimit receiving addresses followed by gapLimit
// change addresses.
func DeriveAddresses(xpub string, net *chaincfg.Params,
	gapLimit int) ([]DerivedAddress, error) {

	if err := checkGapLimit(gapLimit); err != nil {
		return nil, err
	}

	d, err := newAccountDeriver(xpub, net)
	if err != nil {
		return nil, err
	}

	addrs, err := d.deriveRange(0, uint32(gapLimit))
	if err != nil {
		return nil, err
	}

	log.Debugf("Derived %d %v addresses (gap limit %d)", len(addrs),
		d.addrType, gapLimit)

	return addrs, nil
}

// ExpandAddresses derives only the addresses between currentCount and
// newGapLimit on both chains. An empty slice is returned when the new limit
// is not larger than the current count.
func ExpandAddresses(xpub string, net *chaincfg.Params, currentCount,
	newGapLimit int) ([]DerivedAddress, error) {

	if newGapLimit > MaxGapLimit {
		return nil, fmt.Errorf("%w: %d is above the maximum of %d",
			ErrGapLimitExceeded, newGapLimit, MaxGapLimit)
	}

	if currentCount < 0 {
		currentCount = 0
	}

	if newGapLimit <= currentCount {
		return []DerivedAddress{}, nil
	}

	d, err := newAccountDeriver(xpub, net)
	if err != nil {
		return nil, err
	}

	return d.deriveRange(uint32(currentCount), uint32(newGapLimit))
}

// DeriveAddress derives a single address.
func DeriveAddress(xpub string, net *chaincfg.Params, index uint32,
	change bool) (DerivedAddress, error) {

	if index >= keychain.HardenedKeyStart {
		return DerivedAddress{}, fmt.Errorf("%w: index %d is hardened",
			keychain.ErrInvalidPath, index)
	}

	d, err := newAccountDeriver(xpub, net)
	if err != nil {
		return DerivedAddress{}, err
	}

	return d.derive(index, change)
}

// ValidateAddressBelongsToXpub re-derives up to gapLimit addresses on each
// chain and reports whether address is among them. Any failure, including
// an invalid key or address, yields false.
func ValidateAddressBelongsToXpub(address, xpub string,
	net *chaincfg.Params, gapLimit int) bool {

	if checkGapLimit(gapLimit) != nil {
		return false
	}

	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil || !addr.IsForNet(net) {
		return false
	}
	target := addr.EncodeAddress()

	d, err := newAccountDeriver(xpub, net)
	if err != nil {
		return false
	}

	for i := uint32(0); i < uint32(gapLimit); i++ {
		for _, change := range []bool{false, true} {
			derived, err := d.derive(i, change)
			if err != nil {
				return false
			}

			if derived.Address == target {
				return true
			}
		}
	}

	return false
}
