// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMissingScript is returned when a multisig UTXO has no matching
	// script set.
	ErrMissingScript = errors.New("missing multisig script")

	// ErrMissingUtxo is returned when a PSBT input lacks the output it
	// spends.
	ErrMissingUtxo = errors.New("missing utxo")

	// ErrNotCosigner is returned when a signing key is not one of the
	// cosigner keys.
	ErrNotCosigner = errors.New("key is not a cosigner")

	// ErrNotEnoughSignatures is returned when finalizing an input with
	// fewer valid signatures than required.
	ErrNotEnoughSignatures = errors.New("not enough signatures")

	// ErrPSBTMismatch is returned when combining PSBTs of different
	// transactions.
	ErrPSBTMismatch = errors.New("psbts spend different transactions")
)

// MultisigTxState is the signing progress of a multisig PSBT.
type MultisigTxState uint8

const (
	// MultisigUnsigned means no input has a valid signature.
	MultisigUnsigned MultisigTxState = iota

	// MultisigPartiallySigned means some signatures are present but at
	// least one input has fewer than M.
	MultisigPartiallySigned

	// MultisigFullySigned means every input has at least M valid
	// signatures.
	MultisigFullySigned

	// MultisigFinalized means every input carries its final scripts.
	MultisigFinalized
)

// String returns the state name.
func (s MultisigTxState) String() string {
	switch s {
	case MultisigUnsigned:
		return "unsigned"
	case MultisigPartiallySigned:
		return "partially-signed"
	case MultisigFullySigned:
		return "fully-signed"
	case MultisigFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MultisigPSBTRequest describes a multisig spend.
type MultisigPSBTRequest struct {
	// UTXOs are the candidate inputs. Each must pay to one of Addresses.
	UTXOs []UTXO

	// Outputs are the payments to make.
	Outputs []TxOutput

	// ChangeAddress receives the change, if any. When it is one of
	// Addresses its scripts are added to the change output.
	ChangeAddress string

	// FeeRate is the requested fee rate.
	FeeRate btcunit.SatPerVByte

	// Addresses are the multisig addresses of the account, with their
	// scripts and key origins.
	Addresses []*waddrmgr.MultisigAddress
}

// BuildMultisigPSBT builds an unsigned multisig PSBT with the default
// policy.
func BuildMultisigPSBT(req *MultisigPSBTRequest,
	net *chaincfg.Params) (*psbt.Packet, error) {

	return NewTxBuilder(net).BuildMultisigPSBT(req)
}

// BuildMultisigPSBT validates req, selects coins and returns an unsigned
// PSBT carrying the redeem and witness scripts of every input.
func (b *TxBuilder) BuildMultisigPSBT(req *MultisigPSBTRequest) (*psbt.Packet,
	error) {

	plan, err := b.planSpend(
		req.UTXOs, req.Outputs, req.ChangeAddress, req.FeeRate,
	)
	if err != nil {
		return nil, err
	}

	byScript := make(map[string]*waddrmgr.MultisigAddress,
		len(req.Addresses))
	for _, addr := range req.Addresses {
		byScript[string(addr.Scripts.PkScript)] = addr
	}

	typeOf := func(u *UTXO) (txfee.InputType, error) {
		addr, ok := byScript[string(u.PkScript)]
		if !ok {
			return txfee.InputType{}, fmt.Errorf("%w: utxo %v pays "+
				"to %s", ErrMissingScript, u.OutPoint(),
				u.Address)
		}

		return multisigInputType(addr.Scripts)
	}

	selection, err := b.selector.selectCoins(
		req.UTXOs, plan.target, plan.outputTypes, plan.changeType,
		plan.feeRate, typeOf,
	)
	if err != nil {
		return nil, err
	}

	authored := newAuthoredTx(plan, selection)

	packet, err := psbt.NewFromUnsignedTx(authored.Tx)
	if err != nil {
		return nil, err
	}

	for i := range selection.Inputs {
		u := &selection.Inputs[i]
		addMultisigInputInfo(
			&packet.Inputs[i], u, byScript[string(u.PkScript)],
		)
	}

	if authored.ChangeIndex >= 0 {
		if addr, ok := byScript[string(plan.changeScript)]; ok {
			addMultisigOutputInfo(
				&packet.Outputs[authored.ChangeIndex], addr,
			)
		}
	}

	log.Infof("Built multisig PSBT %v: %d inputs, %d outputs, fee=%v",
		packet.UnsignedTx.TxHash(), len(packet.Inputs),
		len(packet.Outputs), selection.Fee)
	log.Tracef("Unsigned multisig tx: %v", newLogClosure(func() string {
		return spew.Sdump(packet.UnsignedTx)
	}))

	return packet, nil
}

// multisigInputType returns the fee estimation type of a script set.
func multisigInputType(set *waddrmgr.MultisigScriptSet) (txfee.InputType,
	error) {

	var kind txfee.ScriptKind
	switch set.Type {
	case waddrmgr.ScriptHashMultisig:
		kind = txfee.P2SHMultisig

	case waddrmgr.NestedWitnessScriptMultisig:
		kind = txfee.P2SHP2WSHMultisig

	case waddrmgr.WitnessScriptMultisig:
		kind = txfee.P2WSHMultisig

	default:
		return txfee.InputType{}, fmt.Errorf("%w: %v",
			ErrUnsupportedAddressType, set.Type)
	}

	return txfee.MultisigInput(kind, set.M, set.N)
}

// multisigSignJob is an input selected for signing.
type multisigSignJob struct {
	index   int
	script  []byte
	witness bool
	prevOut *wire.TxOut
}

// SignMultisigPSBT adds a signature of privKey to every input whose script
// contains its public key. Existing signatures are never modified and
// inputs this key already signed are skipped. When sortedCosignerKeys is
// not empty, every signed input must commit to exactly those keys. All
// inputs are checked before any signature is added, so the packet is left
// untouched on error.
func SignMultisigPSBT(packet *psbt.Packet, privKey *btcec.PrivateKey,
	sortedCosignerKeys [][]byte) (int, error) {

	pubKey := privKey.PubKey().SerializeCompressed()

	if len(sortedCosignerKeys) > 0 &&
		!containsKey(sortedCosignerKeys, pubKey) {

		return 0, fmt.Errorf("%w: %x", ErrNotCosigner, pubKey)
	}

	var jobs []multisigSignJob
	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if isFinalized(in) {
			continue
		}

		script, witness := inputMultisigScript(in)
		if script == nil {
			log.Debugf("Input %d has no multisig script, skipping", i)
			continue
		}

		keys, err := scriptKeys(script)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if !containsKey(keys, pubKey) {
			continue
		}

		if len(sortedCosignerKeys) > 0 &&
			!equalKeys(keys, sortedCosignerKeys) {

			return 0, fmt.Errorf("%w: input %d commits to "+
				"different cosigner keys",
				waddrmgr.ErrMultisigScript, i)
		}

		if hasPartialSig(in, pubKey) {
			continue
		}

		prevOut := inputPrevOut(packet, i)
		if prevOut == nil {
			return 0, fmt.Errorf("%w: input %d", ErrMissingUtxo, i)
		}

		if err := checkScriptHash(in, prevOut.PkScript); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		jobs = append(jobs, multisigSignJob{
			index:   i,
			script:  script,
			witness: witness,
			prevOut: prevOut,
		})
	}

	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	sigs := make([][]byte, len(jobs))
	for j, job := range jobs {
		hashType := inputHashType(&packet.Inputs[job.index])

		var (
			sig []byte
			err error
		)
		if job.witness {
			sig, err = txscript.RawTxInWitnessSignature(
				packet.UnsignedTx, sigHashes, job.index,
				job.prevOut.Value, job.script, hashType, privKey,
			)
		} else {
			sig, err = txscript.RawTxInSignature(
				packet.UnsignedTx, job.index, job.script,
				hashType, privKey,
			)
		}
		if err != nil {
			return 0, fmt.Errorf("signing input %d: %w", job.index,
				err)
		}

		sigs[j] = sig
	}

	for j, job := range jobs {
		in := &packet.Inputs[job.index]
		in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
			PubKey:    pubKey,
			Signature: sigs[j],
		})
	}

	log.Debugf("Added %d signatures with key %x to PSBT %v", len(jobs),
		pubKey, packet.UnsignedTx.TxHash())

	return len(jobs), nil
}

// InputStatus is the signing status of one multisig input.
type InputStatus struct {
	// Index is the input index.
	Index int

	// Signatures is the number of distinct valid signatures.
	Signatures int

	// Required is the number of signatures the script requires, zero if
	// the script is missing.
	Required int

	// Keys is the number of keys in the script.
	Keys int

	// Finalized is true if the input carries its final scripts.
	Finalized bool
}

// ValidationResult is the outcome of ValidateMultisigPSBT.
type ValidationResult struct {
	// Valid is true when Errors is empty.
	Valid bool

	// Errors lists every problem found.
	Errors []error

	// Inputs has the status of every input.
	Inputs []InputStatus
}

// Err joins all validation errors, or returns nil.
func (r *ValidationResult) Err() error {
	return errors.Join(r.Errors...)
}

// ValidateMultisigPSBT checks every input against an M-of-N policy: the
// script must hold n keys and require m signatures, the scripts must hash
// to the locking script and at least m distinct cosigners must have signed.
// All failures are collected.
func ValidateMultisigPSBT(packet *psbt.Packet, m, n int) *ValidationResult {
	result := &ValidationResult{}
	fail := func(idx int, format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Errorf(
			"%w: input %d: %s", waddrmgr.ErrMultisigScript, idx,
			fmt.Sprintf(format, args...),
		))
	}

	if len(packet.Inputs) == 0 {
		result.Errors = append(result.Errors, fmt.Errorf("%w: no inputs",
			waddrmgr.ErrMultisigScript))
	}

	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		status := InputStatus{Index: i, Finalized: isFinalized(in)}

		script, _ := inputMultisigScript(in)
		if script == nil {
			if !status.Finalized {
				fail(i, "missing redeem or witness script")
			}
			result.Inputs = append(result.Inputs, status)

			continue
		}

		numKeys, numSigs, err := txscript.CalcMultiSigStats(script)
		if err != nil {
			fail(i, "not a multisig script: %v", err)
			result.Inputs = append(result.Inputs, status)

			continue
		}
		status.Keys, status.Required = numKeys, numSigs

		if numKeys != n {
			fail(i, "script has %d keys, policy needs %d", numKeys, n)
		}
		if numSigs != m {
			fail(i, "script requires %d signatures, policy needs "+
				"%d", numSigs, m)
		}

		prevOut := inputPrevOut(packet, i)
		if prevOut == nil {
			fail(i, "missing utxo")
		} else if err := checkScriptHash(in, prevOut.PkScript); err != nil {
			fail(i, "%v", err)
		}

		status.Signatures = countValidSigs(packet, i, sigHashes)
		if status.Signatures < m && !status.Finalized {
			fail(i, "has %d of %d signatures", status.Signatures, m)
		}

		result.Inputs = append(result.Inputs, status)
	}

	result.Valid = len(result.Errors) == 0

	return result
}

// countValidSigs returns the number of distinct script keys with a valid
// partial signature on input idx.
func countValidSigs(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) int {

	return len(validSigs(packet, idx, sigHashes))
}

// validSigs returns the valid partial signatures of input idx keyed by
// public key.
func validSigs(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) map[string]*psbt.PartialSig {

	in := &packet.Inputs[idx]
	script, _ := inputMultisigScript(in)

	keys, err := scriptKeys(script)
	if err != nil {
		return nil
	}
	keySet := fn.NewSet[string]()
	for _, key := range keys {
		keySet.Add(string(key))
	}

	hashType := inputHashType(in)
	digest, err := inputSigHash(packet, idx, sigHashes, hashType)
	if err != nil {
		return nil
	}

	valid := make(map[string]*psbt.PartialSig)
	for _, sig := range in.PartialSigs {
		id := string(sig.PubKey)
		if !keySet.Contains(id) {
			continue
		}

		if verifyPartialSig(sig, digest, hashType) {
			valid[id] = sig
		}
	}

	return valid
}

// MultisigState returns the signing progress of packet under an m-of-n
// policy.
func MultisigState(packet *psbt.Packet, m int) MultisigTxState {
	if packet.IsComplete() {
		return MultisigFinalized
	}

	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	var (
		anySig bool
		allM   = true
	)
	for i := range packet.Inputs {
		if isFinalized(&packet.Inputs[i]) {
			anySig = true
			continue
		}

		count := countValidSigs(packet, i, sigHashes)
		if count > 0 {
			anySig = true
		}
		if count < m {
			allM = false
		}
	}

	switch {
	case !anySig:
		return MultisigUnsigned
	case allM:
		return MultisigFullySigned
	default:
		return MultisigPartiallySigned
	}
}

// FinalizeMultisigPSBT replaces the partial signatures of every input with
// its final scriptSig and witness. The first M valid signatures in script
// key order are used.
func FinalizeMultisigPSBT(packet *psbt.Packet) error {
	fetcher := PsbtPrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if isFinalized(in) {
			continue
		}

		if err := finalizeMultisigInput(packet, i, sigHashes); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	log.Debugf("Finalized multisig PSBT %v", packet.UnsignedTx.TxHash())

	return nil
}

func finalizeMultisigInput(packet *psbt.Packet, idx int,
	sigHashes *txscript.TxSigHashes) error {

	in := &packet.Inputs[idx]
	script, witness := inputMultisigScript(in)
	if script == nil {
		return ErrMissingScript
	}

	keys, err := scriptKeys(script)
	if err != nil {
		return err
	}

	_, required, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return fmt.Errorf("%w: %v", waddrmgr.ErrMultisigScript, err)
	}

	valid := validSigs(packet, idx, sigHashes)

	// CHECKMULTISIG consumes signatures in key order.
	sigs := make([][]byte, 0, required)
	for _, key := range keys {
		if len(sigs) == required {
			break
		}

		if sig, ok := valid[string(key)]; ok {
			sigs = append(sigs, sig.Signature)
		}
	}

	if len(sigs) < required {
		return fmt.Errorf("%w: have %d of %d", ErrNotEnoughSignatures,
			len(sigs), required)
	}

	if witness {
		// The leading empty item is the CHECKMULTISIG dummy.
		stack := make([][]byte, 0, required+2)
		stack = append(stack, nil)
		stack = append(stack, sigs...)
		stack = append(stack, script)

		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, stack); err != nil {
			return err
		}
		in.FinalScriptWitness = buf.Bytes()

		if in.RedeemScript != nil {
			in.FinalScriptSig, err = txscript.NewScriptBuilder().
				AddData(in.RedeemScript).Script()
			if err != nil {
				return err
			}
		}
	} else {
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, sig := range sigs {
			builder.AddData(sig)
		}
		builder.AddData(script)

		in.FinalScriptSig, err = builder.Script()
		if err != nil {
			return err
		}
	}

	// Per BIP174 everything but the UTXO and final fields is cleared.
	in.PartialSigs = nil
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil

	return nil
}

// ExtractMultisigTx returns the signed transaction of a finalized PSBT
// after verifying every input script.
func ExtractMultisigTx(packet *psbt.Packet) (*wire.MsgTx, error) {
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}

	prevScripts := make([][]byte, len(tx.TxIn))
	values := make([]btcutil.Amount, len(tx.TxIn))
	for i := range tx.TxIn {
		prevOut := inputPrevOut(packet, i)
		if prevOut == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingUtxo, i)
		}

		prevScripts[i] = prevOut.PkScript
		values[i] = btcutil.Amount(prevOut.Value)
	}

	if err := validateMsgTx(tx, prevScripts, values); err != nil {
		return nil, err
	}

	return tx, nil
}

// CombineMultisigPSBTs merges the signatures of PSBTs for the same
// transaction, as collected from different cosigners. The inputs are not
// modified.
func CombineMultisigPSBTs(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: nothing to combine", ErrPSBTParse)
	}

	combined, err := copyPacket(packets[0])
	if err != nil {
		return nil, err
	}

	txid := combined.UnsignedTx.TxHash()
	for _, other := range packets[1:] {
		if other.UnsignedTx.TxHash() != txid {
			return nil, fmt.Errorf("%w: %v and %v", ErrPSBTMismatch,
				txid, other.UnsignedTx.TxHash())
		}

		for i := range combined.Inputs {
			mergeInput(&combined.Inputs[i], &other.Inputs[i])
		}
	}

	return combined, nil
}

// mergeInput adds the data of src missing from dst.
func mergeInput(dst, src *psbt.PInput) {
	if isFinalized(dst) {
		return
	}

	if isFinalized(src) {
		*dst = *src
		return
	}

	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.RedeemScript == nil {
		dst.RedeemScript = src.RedeemScript
	}
	if dst.WitnessScript == nil {
		dst.WitnessScript = src.WitnessScript
	}

	for _, sig := range src.PartialSigs {
		if !hasPartialSig(dst, sig.PubKey) {
			dst.PartialSigs = append(dst.PartialSigs, sig)
		}
	}

	for _, d := range src.Bip32Derivation {
		known := false
		for _, existing := range dst.Bip32Derivation {
			if bytes.Equal(existing.PubKey, d.PubKey) {
				known = true
				break
			}
		}

		if !known {
			dst.Bip32Derivation = append(dst.Bip32Derivation, d)
		}
	}
}

// copyPacket returns a deep copy of packet.
func copyPacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(&buf, false)
}

func hasPartialSig(in *psbt.PInput, pubKey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}

	return false
}

func containsKey(keys [][]byte, key []byte) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}

	return false
}

func equalKeys(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}
