// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package waddrmgr derives single-sig and multisig addresses from extended
// public keys. Every address is a pure function of the key material and its
// derivation path.
package waddrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
)

// AddressType represents the various address types the package can derive.
type AddressType uint8

const (
	// PubKeyHash is a regular p2pkh address.
	PubKeyHash AddressType = iota

	// NestedWitnessPubKey is a p2wkh output nested within a p2sh script.
	NestedWitnessPubKey

	// WitnessPubKey is a native p2wkh address.
	WitnessPubKey

	// ScriptHashMultisig is a bare multisig script wrapped in p2sh.
	ScriptHashMultisig

	// NestedWitnessScriptMultisig is a p2wsh multisig nested in p2sh.
	NestedWitnessScriptMultisig

	// WitnessScriptMultisig is a native p2wsh multisig address.
	WitnessScriptMultisig
)

// ErrUnknownAddrType is returned for address types outside of the list
// above.
var ErrUnknownAddrType = errors.New("unknown address type")

// String returns the script family name of the address type.
func (a AddressType) String() string {
	switch a {
	case PubKeyHash:
		return "p2pkh"
	case NestedWitnessPubKey:
		return "p2sh-p2wpkh"
	case WitnessPubKey:
		return "p2wpkh"
	case ScriptHashMultisig:
		return "p2sh"
	case NestedWitnessScriptMultisig:
		return "p2sh-p2wsh"
	case WitnessScriptMultisig:
		return "p2wsh"
	default:
		return fmt.Sprintf("addrtype(%d)", uint8(a))
	}
}

// IsMultisig reports whether the address type is a multisig script.
func (a AddressType) IsMultisig() bool {
	return a >= ScriptHashMultisig && a <= WitnessScriptMultisig
}

// IsWitness reports whether spending the address uses witness data.
func (a AddressType) IsWitness() bool {
	switch a {
	case NestedWitnessPubKey, WitnessPubKey, NestedWitnessScriptMultisig,
		WitnessScriptMultisig:

		return true
	default:
		return false
	}
}

// ParseAddressType maps a script family name to an AddressType. The
// wallet-facing tags legacy, segwit and native-segwit are accepted as well.
func ParseAddressType(s string) (AddressType, error) {
	switch s {
	case "p2pkh", "legacy":
		return PubKeyHash, nil
	case "p2sh-p2wpkh", "segwit":
		return NestedWitnessPubKey, nil
	case "p2wpkh", "native-segwit":
		return WitnessPubKey, nil
	case "p2sh":
		return ScriptHashMultisig, nil
	case "p2sh-p2wsh":
		return NestedWitnessScriptMultisig, nil
	case "p2wsh":
		return WitnessScriptMultisig, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAddrType, s)
	}
}

// AddressTypeForKey returns the address type implied by an extended key
// type.
func AddressTypeForKey(keyType extkey.KeyType) AddressType {
	switch keyType {
	case extkey.Segwit:
		return NestedWitnessPubKey
	case extkey.NativeSegwit:
		return WitnessPubKey
	case extkey.LegacyMultisig:
		return ScriptHashMultisig
	case extkey.SegwitMultisig:
		return NestedWitnessScriptMultisig
	case extkey.NativeSegwitMultisig:
		return WitnessScriptMultisig
	default:
		return PubKeyHash
	}
}

// PubKeyAddress builds the address of the given single-sig type for a
// public key.
func PubKeyAddress(pub *btcec.PublicKey, addrType AddressType,
	net *chaincfg.Params) (btcutil.Address, error) {

	pkHash := btcutil.Hash160(pub.SerializeCompressed())

	switch addrType {
	case PubKeyHash:
		return btcutil.NewAddressPubKeyHash(pkHash, net)

	case WitnessPubKey:
		return btcutil.NewAddressWitnessPubKeyHash(pkHash, net)

	case NestedWitnessPubKey:
		witAddr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, net)
		if err != nil {
			return nil, err
		}

		redeemScript, err := txscript.PayToAddrScript(witAddr)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(redeemScript, net)

	default:
		return nil, fmt.Errorf("%w: %v is not a single-sig type",
			ErrUnknownAddrType, addrType)
	}
}

// ClassifyAddress returns the single-sig address type of an encoded
// address. Script hash addresses are reported as nested witness, which is
// the only p2sh form this package derives for single-sig accounts.
func ClassifyAddress(addr btcutil.Address) (AddressType, error) {
	switch addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return PubKeyHash, nil
	case *btcutil.AddressScriptHash:
		return NestedWitnessPubKey, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return WitnessPubKey, nil
	case *btcutil.AddressWitnessScriptHash:
		return WitnessScriptMultisig, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownAddrType, addr)
	}
}
