// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txfee

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

var (
	// ErrUnsupportedInputType is returned for an unknown input type tag or
	// a script that cannot be sized.
	ErrUnsupportedInputType = errors.New("unsupported input type")
)

const (
	// sigSize is the worst case size of a DER signature with its sighash
	// flag.
	sigSize = 73

	// compressedPubKeySize is the size of a compressed public key.
	compressedPubKeySize = 33

	// p2wshPkScriptSize is OP_0 <32 bytes>.
	p2wshPkScriptSize = 1 + 1 + 32

	// nestedP2WSHSigScriptSize is the single push of the P2WSH program
	// used as redeem script.
	nestedP2WSHSigScriptSize = 1 + p2wshPkScriptSize

	// outPointSize is the previous outpoint plus the sequence.
	outPointSize = 32 + 4 + 4

	maxMultisigKeys = 15
)

// ScriptKind enumerates the spendable script templates the estimator knows.
type ScriptKind uint8

const (
	// Legacy is a P2PKH output.
	Legacy ScriptKind = iota

	// Segwit is a P2WPKH output nested in P2SH.
	Segwit

	// NativeSegwit is a P2WPKH output.
	NativeSegwit

	// P2SHMultisig is a bare M-of-N script behind P2SH.
	P2SHMultisig

	// P2SHP2WSHMultisig is an M-of-N witness script nested in P2SH.
	P2SHP2WSHMultisig

	// P2WSHMultisig is an M-of-N witness script.
	P2WSHMultisig
)

var kindTags = map[ScriptKind]string{
	Legacy:            "legacy",
	Segwit:            "segwit",
	NativeSegwit:      "native-segwit",
	P2SHMultisig:      "p2sh",
	P2SHP2WSHMultisig: "p2sh-p2wsh",
	P2WSHMultisig:     "p2wsh",
}

// String returns the tag of the script kind.
func (k ScriptKind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}

	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// IsMultisig reports whether the kind is one of the M-of-N templates.
func (k ScriptKind) IsMultisig() bool {
	return k == P2SHMultisig || k == P2SHP2WSHMultisig ||
		k == P2WSHMultisig
}

// InputType describes how an input will be spent. M and N are only
// meaningful for the multisig kinds.
type InputType struct {
	Kind ScriptKind
	M    int
	N    int
}

var (
	// LegacyInput spends a P2PKH output.
	LegacyInput = InputType{Kind: Legacy}

	// SegwitInput spends a P2SH-P2WPKH output.
	SegwitInput = InputType{Kind: Segwit}

	// NativeSegwitInput spends a P2WPKH output.
	NativeSegwitInput = InputType{Kind: NativeSegwit}
)

// MultisigInput returns the input type for an M-of-N spend of the given
// kind.
func MultisigInput(kind ScriptKind, m, n int) (InputType, error) {
	t := InputType{Kind: kind, M: m, N: n}
	if err := t.validate(); err != nil {
		return InputType{}, err
	}

	return t, nil
}

// ParseInputType parses tags such as "legacy", "p2wpkh" or
// "p2wsh-2-of-3".
func ParseInputType(tag string) (InputType, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))

	switch tag {
	case "legacy", "p2pkh":
		return LegacyInput, nil

	case "segwit", "p2sh-p2wpkh", "np2wpkh":
		return SegwitInput, nil

	case "native-segwit", "p2wpkh":
		return NativeSegwitInput, nil
	}

	// Multisig tags carry the policy as a suffix. The longest prefix is
	// tried first since "p2sh" is a prefix of "p2sh-p2wsh".
	for _, kind := range []ScriptKind{
		P2SHP2WSHMultisig, P2WSHMultisig, P2SHMultisig,
	} {
		prefix := kind.String() + "-"
		if !strings.HasPrefix(tag, prefix) {
			continue
		}

		m, n, err := parsePolicy(strings.TrimPrefix(tag, prefix))
		if err != nil {
			return InputType{}, fmt.Errorf("%w: %q: %w",
				ErrUnsupportedInputType, tag, err)
		}

		return MultisigInput(kind, m, n)
	}

	return InputType{}, fmt.Errorf("%w: %q", ErrUnsupportedInputType, tag)
}

func parsePolicy(policy string) (int, int, error) {
	parts := strings.Split(policy, "-of-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed policy %q", policy)
	}

	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}

	return m, n, nil
}

// InputTypeForScript returns the single-sig input type able to spend
// pkScript. P2SH outputs are assumed to be nested P2WPKH.
func InputTypeForScript(pkScript []byte) (InputType, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return LegacyInput, nil

	case txscript.ScriptHashTy:
		return SegwitInput, nil

	case txscript.WitnessV0PubKeyHashTy:
		return NativeSegwitInput, nil

	default:
		return InputType{}, fmt.Errorf("%w: script %x",
			ErrUnsupportedInputType, pkScript)
	}
}

// String returns the tag that ParseInputType accepts.
func (t InputType) String() string {
	if t.Kind.IsMultisig() {
		return fmt.Sprintf("%v-%d-of-%d", t.Kind, t.M, t.N)
	}

	return t.Kind.String()
}

// IsWitness reports whether the input carries witness data.
func (t InputType) IsWitness() bool {
	return t.Kind != Legacy && t.Kind != P2SHMultisig
}

func (t InputType) validate() error {
	if _, ok := kindTags[t.Kind]; !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedInputType, t.Kind)
	}

	if !t.Kind.IsMultisig() {
		return nil
	}

	if t.M < 1 || t.N < t.M || t.N > maxMultisigKeys {
		return fmt.Errorf("%w: invalid policy %d-of-%d",
			ErrUnsupportedInputType, t.M, t.N)
	}

	return nil
}

// multisigScriptSize is OP_M <N pubkeys> OP_N OP_CHECKMULTISIG.
func (t InputType) multisigScriptSize() int {
	return 1 + t.N*(1+compressedPubKeySize) + 1 + 1
}

// BaseSize returns the non-witness serialized size of the input.
func (t InputType) BaseSize() int {
	switch t.Kind {
	case Legacy:
		return txsizes.RedeemP2PKHInputSize

	case Segwit:
		return txsizes.RedeemNestedP2WPKHInputSize

	case NativeSegwit:
		return txsizes.RedeemP2WPKHInputSize

	case P2SHMultisig:
		scriptLen := t.multisigScriptSize()
		sigScript := 1 + t.M*(1+sigSize) + pushDataSize(scriptLen) +
			scriptLen

		return outPointSize +
			wire.VarIntSerializeSize(uint64(sigScript)) + sigScript

	case P2SHP2WSHMultisig:
		return outPointSize + 1 + nestedP2WSHSigScriptSize

	case P2WSHMultisig:
		return outPointSize + 1
	}

	return 0
}

// WitnessSize returns the witness bytes of the input, including the item
// count. Non-witness inputs report zero.
func (t InputType) WitnessSize() int {
	switch t.Kind {
	case Segwit, NativeSegwit:
		return txsizes.RedeemP2WPKHInputWitnessWeight

	case P2SHP2WSHMultisig, P2WSHMultisig:
		// The CHECKMULTISIG dummy, M signatures and the script.
		scriptLen := t.multisigScriptSize()
		items := 2 + t.M

		return wire.VarIntSerializeSize(uint64(items)) + 1 +
			t.M*(1+sigSize) +
			wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen
	}

	return 0
}

// Weight returns the weight the input adds to a segwit transaction.
func (t InputType) Weight() int {
	return t.BaseSize()*4 + t.WitnessSize()
}

// OutputType returns the output template that pays to an input of type t.
func (t InputType) OutputType() OutputType {
	switch t.Kind {
	case Legacy:
		return P2PKHOutput

	case NativeSegwit:
		return P2WPKHOutput

	case P2WSHMultisig:
		return P2WSHOutput

	default:
		return P2SHOutput
	}
}

// pushDataSize is the size of the opcode pushing n bytes.
func pushDataSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1
	case n <= 0xff:
		return 2
	default:
		return 3
	}
}
