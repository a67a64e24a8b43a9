// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package extkey

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies the bitcoin network an extended key belongs to. Regtest
// and signet share the testnet version bytes and therefore map to Testnet.
type Network uint8

const (
	// Mainnet is the main bitcoin network.
	Mainnet Network = iota

	// Testnet covers testnet3, testnet4, signet and regtest.
	Testnet
)

// String returns the network name.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	default:
		return fmt.Sprintf("network(%d)", uint8(n))
	}
}

// NetworkFromParams maps chain parameters to a Network.
func NetworkFromParams(params *chaincfg.Params) Network {
	if params.Net == chaincfg.MainNetParams.Net {
		return Mainnet
	}

	return Testnet
}

// ParseNetwork maps a network name to its Network and chain parameters.
func ParseNetwork(name string) (Network, *chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "main", "bitcoin":
		return Mainnet, &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return Testnet, &chaincfg.TestNet3Params, nil
	case "regtest", "simnet":
		return Testnet, &chaincfg.RegressionNetParams, nil
	case "signet":
		return Testnet, &chaincfg.SigNetParams, nil
	default:
		return 0, nil, fmt.Errorf("unknown network %q", name)
	}
}

// KeyType describes which script family an extended key is meant for.
type KeyType uint8

const (
	// Legacy keys (xpub/tpub) derive P2PKH addresses.
	Legacy KeyType = iota

	// Segwit keys (ypub/upub) derive P2SH-P2WPKH addresses.
	Segwit

	// NativeSegwit keys (zpub/vpub) derive P2WPKH addresses.
	NativeSegwit

	// LegacyMultisig keys (xpub/tpub in a multisig context) derive P2SH
	// multisig addresses.
	LegacyMultisig

	// SegwitMultisig keys (Ypub/Upub) derive P2SH-P2WSH addresses.
	SegwitMultisig

	// NativeSegwitMultisig keys (Zpub/Vpub) derive P2WSH addresses.
	NativeSegwitMultisig
)

// String returns the key type tag.
func (k KeyType) String() string {
	switch k {
	case Legacy:
		return "legacy"
	case Segwit:
		return "segwit"
	case NativeSegwit:
		return "native-segwit"
	case LegacyMultisig:
		return "legacy-multisig"
	case SegwitMultisig:
		return "segwit-multisig"
	case NativeSegwitMultisig:
		return "native-segwit-multisig"
	default:
		return fmt.Sprintf("keytype(%d)", uint8(k))
	}
}

// IsMultisig reports whether the key type belongs to a multisig wallet.
func (k KeyType) IsMultisig() bool {
	return k >= LegacyMultisig
}

// Purpose returns the BIP43 purpose field used with this key type.
func (k KeyType) Purpose() uint32 {
	switch k {
	case Segwit:
		return 49
	case NativeSegwit:
		return 84
	case LegacyMultisig:
		return 45
	case SegwitMultisig, NativeSegwitMultisig:
		return 48
	default:
		return 44
	}
}

// ScriptType returns the locking script family of addresses derived from a
// key of this type.
func (k KeyType) ScriptType() string {
	switch k {
	case Segwit:
		return "p2sh-p2wpkh"
	case NativeSegwit:
		return "p2wpkh"
	case LegacyMultisig:
		return "p2sh"
	case SegwitMultisig:
		return "p2sh-p2wsh"
	case NativeSegwitMultisig:
		return "p2wsh"
	default:
		return "p2pkh"
	}
}

// ExpectedDepth is the depth of an account-level key of this type. Plain
// multisig keys sit at m/45'/coin'/account', the BIP48 types one level
// deeper at m/48'/coin'/account'/script'.
func (k KeyType) ExpectedDepth() uint8 {
	switch k {
	case SegwitMultisig, NativeSegwitMultisig:
		return 4
	default:
		return 3
	}
}

// depthAllowed reports whether an account key of this type may sit at
// depth. Plain xpubs used for multisig carry no script type and may back a
// BIP48 account as well.
func (k KeyType) depthAllowed(depth uint8) bool {
	if k == LegacyMultisig && depth == 4 {
		return true
	}

	return depth == k.ExpectedDepth()
}

// versionInfo is a row of the SLIP-132 lookup table.
type versionInfo struct {
	network Network
	keyType KeyType
	prefix  string
}

// Public version bytes as registered in SLIP-132.
const (
	versionXpub uint32 = 0x0488b21e
	versionYpub uint32 = 0x049d7cb2
	versionZpub uint32 = 0x04b24746
	versionYPub uint32 = 0x0295b43f
	versionZPub uint32 = 0x02aa7ed3

	versionTpub uint32 = 0x043587cf
	versionUpub uint32 = 0x044a5262
	versionVpub uint32 = 0x045f1cf6
	versionUPub uint32 = 0x024289ef
	versionVPub uint32 = 0x02575483
)

// publicVersions maps a version to its network and key type. The
// capitalized prefixes denote the multisig variants.
var publicVersions = map[uint32]versionInfo{
	versionXpub: {Mainnet, Legacy, "xpub"},
	versionYpub: {Mainnet, Segwit, "ypub"},
	versionZpub: {Mainnet, NativeSegwit, "zpub"},
	versionYPub: {Mainnet, SegwitMultisig, "Ypub"},
	versionZPub: {Mainnet, NativeSegwitMultisig, "Zpub"},
	versionTpub: {Testnet, Legacy, "tpub"},
	versionUpub: {Testnet, Segwit, "upub"},
	versionVpub: {Testnet, NativeSegwit, "vpub"},
	versionUPub: {Testnet, SegwitMultisig, "Upub"},
	versionVPub: {Testnet, NativeSegwitMultisig, "Vpub"},
}

// privateVersions lists the private counterparts, which are always rejected.
var privateVersions = map[uint32]string{
	0x0488ade4: "xprv",
	0x049d7878: "yprv",
	0x04b2430c: "zprv",
	0x0295b005: "Yprv",
	0x02aa7a99: "Zprv",
	0x04358394: "tprv",
	0x044a4e28: "uprv",
	0x045f18bc: "vprv",
	0x024285b5: "Uprv",
	0x02575048: "Vprv",
}

// versionFor returns the public version bytes for a key type on a network.
func versionFor(keyType KeyType, net Network) [4]byte {
	var v uint32
	switch net {
	case Mainnet:
		switch keyType {
		case Segwit:
			v = versionYpub
		case NativeSegwit:
			v = versionZpub
		case SegwitMultisig:
			v = versionYPub
		case NativeSegwitMultisig:
			v = versionZPub
		default:
			v = versionXpub
		}

	default:
		switch keyType {
		case Segwit:
			v = versionUpub
		case NativeSegwit:
			v = versionVpub
		case SegwitMultisig:
			v = versionUPub
		case NativeSegwitMultisig:
			v = versionVPub
		default:
			v = versionTpub
		}
	}

	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)

	return out
}

// standardVersion returns the plain BIP32 public version for a network.
func standardVersion(net Network) [4]byte {
	return versionFor(Legacy, net)
}
