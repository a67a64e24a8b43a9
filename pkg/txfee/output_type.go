// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txfee

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// OutputType is the locking script template of an output.
type OutputType uint8

const (
	// P2PKHOutput pays to a public key hash.
	P2PKHOutput OutputType = iota

	// P2SHOutput pays to a script hash.
	P2SHOutput

	// P2WPKHOutput pays to a witness public key hash.
	P2WPKHOutput

	// P2WSHOutput pays to a witness script hash.
	P2WSHOutput

	// P2TROutput pays to a taproot output key.
	P2TROutput
)

// String returns the script template name.
func (o OutputType) String() string {
	switch o {
	case P2PKHOutput:
		return "p2pkh"
	case P2SHOutput:
		return "p2sh"
	case P2WPKHOutput:
		return "p2wpkh"
	case P2WSHOutput:
		return "p2wsh"
	case P2TROutput:
		return "p2tr"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// pkScriptSize returns the size of the locking script.
func (o OutputType) pkScriptSize() int {
	switch o {
	case P2PKHOutput:
		return txsizes.P2PKHPkScriptSize
	case P2SHOutput:
		return txsizes.NestedP2WPKHPkScriptSize
	case P2WPKHOutput:
		return txsizes.P2WPKHPkScriptSize
	case P2WSHOutput:
		return p2wshPkScriptSize
	default:
		return txsizes.P2TRPkScriptSize
	}
}

// Size returns the serialized size of the output: value, script length
// and script.
func (o OutputType) Size() int {
	return 8 + 1 + o.pkScriptSize()
}

// OutputTypeForScript returns the template of pkScript.
func OutputTypeForScript(pkScript []byte) (OutputType, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return P2PKHOutput, nil
	case txscript.ScriptHashTy:
		return P2SHOutput, nil
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKHOutput, nil
	case txscript.WitnessV0ScriptHashTy:
		return P2WSHOutput, nil
	case txscript.WitnessV1TaprootTy:
		return P2TROutput, nil
	default:
		return 0, fmt.Errorf("%w: output script %x",
			ErrUnsupportedInputType, pkScript)
	}
}

// ParseOutputType parses a script template name as returned by String.
func ParseOutputType(tag string) (OutputType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "p2pkh", "legacy":
		return P2PKHOutput, nil
	case "p2sh", "p2sh-p2wpkh", "segwit":
		return P2SHOutput, nil
	case "p2wpkh", "native-segwit":
		return P2WPKHOutput, nil
	case "p2wsh":
		return P2WSHOutput, nil
	case "p2tr":
		return P2TROutput, nil
	default:
		return 0, fmt.Errorf("%w: output %q", ErrUnsupportedInputType,
			tag)
	}
}
