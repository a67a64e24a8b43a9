// Copyright (c) 2020 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
)

// addMultisigInputInfo adds the UTXO, scripts and BIP32 derivation info for
// a multisig PSBT input.
func addMultisigInputInfo(in *psbt.PInput, u *UTXO,
	addr *waddrmgr.MultisigAddress) {

	scripts := addr.Scripts

	// As a fix for CVE-2020-14199 the full previous transaction should
	// be present for segwit v0 inputs. It is optional here since the
	// caller may only know the output.
	if u.PrevTx != nil {
		in.NonWitnessUtxo = u.PrevTx
	}

	// Legacy p2sh inputs are signed over the full previous transaction
	// only, so the witness UTXO is reserved for witness spends.
	if scripts.WitnessScript != nil || u.PrevTx == nil {
		in.WitnessUtxo = u.TxOut()
	}
	in.SighashType = txscript.SigHashAll

	in.RedeemScript = scripts.RedeemScript
	in.WitnessScript = scripts.WitnessScript
	in.Bip32Derivation = bip32Derivations(addr)
}

// addMultisigOutputInfo adds the scripts and derivations of an owned
// multisig output, typically the change.
func addMultisigOutputInfo(out *psbt.POutput, addr *waddrmgr.MultisigAddress) {
	out.RedeemScript = addr.Scripts.RedeemScript
	out.WitnessScript = addr.Scripts.WitnessScript
	out.Bip32Derivation = bip32Derivations(addr)
}

// bip32Derivations returns the key origins of addr with a known master
// fingerprint and account path.
func bip32Derivations(addr *waddrmgr.MultisigAddress) []*psbt.Bip32Derivation {
	var derivations []*psbt.Bip32Derivation
	for _, origin := range addr.Origins {
		if origin.Fingerprint == 0 || !origin.Path.IsAbsolute() {
			continue
		}

		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               origin.PubKey,
			MasterKeyFingerprint: origin.Fingerprint,
			Bip32Path:            origin.Path.ChildNumbers(),
		})
	}

	return derivations
}

// PsbtPrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet.
func PsbtPrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		prevOut := inputPrevOut(packet, idx)

		// Skip any input that has no UTXO.
		if prevOut == nil {
			continue
		}

		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOut)
	}

	return fetcher
}

// inputPrevOut returns the output spent by input idx, preferring the full
// previous transaction over the witness UTXO.
func inputPrevOut(packet *psbt.Packet, idx int) *wire.TxOut {
	in := &packet.Inputs[idx]
	prevIndex := packet.UnsignedTx.TxIn[idx].PreviousOutPoint.Index

	if in.NonWitnessUtxo != nil &&
		int(prevIndex) < len(in.NonWitnessUtxo.TxOut) {

		return in.NonWitnessUtxo.TxOut[prevIndex]
	}

	return in.WitnessUtxo
}

// inputMultisigScript returns the M-of-N script of a PSBT input and whether
// it is spent through a witness.
func inputMultisigScript(in *psbt.PInput) ([]byte, bool) {
	if in.WitnessScript != nil {
		return in.WitnessScript, true
	}

	return in.RedeemScript, false
}

// scriptKeys returns the public keys of a multisig script in script order.
func scriptKeys(script []byte) ([][]byte, error) {
	if txscript.GetScriptClass(script) != txscript.MultiSigTy {
		return nil, fmt.Errorf("%w: not a multisig script",
			waddrmgr.ErrMultisigScript)
	}

	pushes, err := txscript.PushedData(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", waddrmgr.ErrMultisigScript, err)
	}

	return pushes, nil
}

// checkScriptHash checks that the redeem and witness scripts of an input
// hash to its locking script.
func checkScriptHash(in *psbt.PInput, pkScript []byte) error {
	switch {
	case txscript.IsPayToWitnessScriptHash(pkScript):
		if in.WitnessScript == nil {
			return fmt.Errorf("%w: p2wsh input without witness "+
				"script", waddrmgr.ErrMultisigScript)
		}

		expected, err := p2wshScript(in.WitnessScript)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, pkScript) {
			return fmt.Errorf("%w: witness script hash does not "+
				"match", waddrmgr.ErrMultisigScript)
		}

	case txscript.IsPayToScriptHash(pkScript):
		if in.RedeemScript == nil {
			return fmt.Errorf("%w: p2sh input without redeem "+
				"script", waddrmgr.ErrMultisigScript)
		}

		// OP_HASH160 <hash> OP_EQUAL.
		scriptHash := btcutil.Hash160(in.RedeemScript)
		if !bytes.Equal(scriptHash, pkScript[2:22]) {
			return fmt.Errorf("%w: redeem script hash does not "+
				"match", waddrmgr.ErrMultisigScript)
		}

		if in.WitnessScript == nil {
			break
		}

		expected, err := p2wshScript(in.WitnessScript)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, in.RedeemScript) {
			return fmt.Errorf("%w: nested witness script hash "+
				"does not match", waddrmgr.ErrMultisigScript)
		}

	default:
		return fmt.Errorf("%w: unsupported locking script %x",
			waddrmgr.ErrMultisigScript, pkScript)
	}

	return nil
}

// p2wshScript returns the P2WSH locking script of witnessScript.
func p2wshScript(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

// inputSigHash returns the digest signed by a multisig input.
func inputSigHash(packet *psbt.Packet, idx int, sigHashes *txscript.TxSigHashes,
	hashType txscript.SigHashType) ([]byte, error) {

	in := &packet.Inputs[idx]
	script, witness := inputMultisigScript(in)

	if !witness {
		return txscript.CalcSignatureHash(
			script, hashType, packet.UnsignedTx, idx,
		)
	}

	prevOut := inputPrevOut(packet, idx)
	if prevOut == nil {
		return nil, fmt.Errorf("%w: input %d has no utxo",
			ErrMissingUtxo, idx)
	}

	return txscript.CalcWitnessSigHash(
		script, sigHashes, hashType, packet.UnsignedTx, idx,
		prevOut.Value,
	)
}

// verifyPartialSig checks a partial signature against the digest of its
// input.
func verifyPartialSig(sig *psbt.PartialSig, digest []byte,
	hashType txscript.SigHashType) bool {

	if len(sig.Signature) < 2 {
		return false
	}

	raw := sig.Signature[:len(sig.Signature)-1]
	if txscript.SigHashType(sig.Signature[len(sig.Signature)-1]) !=
		hashType {

		return false
	}

	parsed, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return false
	}

	pubKey, err := btcec.ParsePubKey(sig.PubKey)
	if err != nil {
		return false
	}

	return parsed.Verify(digest, pubKey)
}

// inputHashType returns the sighash type of an input, defaulting to
// SIGHASH_ALL.
func inputHashType(in *psbt.PInput) txscript.SigHashType {
	if in.SighashType == 0 {
		return txscript.SigHashAll
	}

	return in.SighashType
}

// isFinalized reports whether an input already carries its final scripts.
func isFinalized(in *psbt.PInput) bool {
	return in.FinalScriptSig != nil || in.FinalScriptWitness != nil
}
