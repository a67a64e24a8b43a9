// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet builds, signs and coordinates Bitcoin transactions for
// single-sig and multisig accounts. It performs no network or disk I/O: the
// caller supplies UTXOs and fee rates and receives finished transactions or
// PSBTs.
package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/davecgh/go-spew/spew"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
)

var (
	// ErrNoOutputs is returned when a transaction is requested without
	// any outputs.
	ErrNoOutputs = errors.New("tx has no outputs")

	// ErrInvalidAmount is returned for output amounts that are not
	// positive or exceed the maximum supply.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress is returned for recipient addresses that fail to
	// decode for the wallet's network.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrDustOutput is returned when an output is below the dust
	// threshold.
	ErrDustOutput = errors.New("output is dust")

	// ErrInvalidChangeAddress is returned when the change address fails
	// to decode for the wallet's network.
	ErrInvalidChangeAddress = errors.New("invalid change address")

	// ErrInvalidFeeRate is returned for fee rates that are not positive.
	ErrInvalidFeeRate = errors.New("invalid fee rate")

	// ErrFeeTooHigh is returned when the fee rate is above the configured
	// maximum.
	ErrFeeTooHigh = errors.New("fee rate too high")

	// ErrMissingCallback is the sentinel wrapped by MissingCallbackError.
	ErrMissingCallback = errors.New("missing callback")

	// ErrUnsupportedAddressType is returned when an input's address type
	// cannot be signed by the assembler.
	ErrUnsupportedAddressType = errors.New("unsupported address type")

	// ErrAddressTypeMismatch is returned when the reported address type
	// of an input disagrees with its locking script.
	ErrAddressTypeMismatch = errors.New("address type does not match " +
		"script")

	// ErrKeyMismatch is returned when a private key does not belong to
	// the input it was requested for.
	ErrKeyMismatch = errors.New("private key does not match input")

	// ErrUnknownInput is returned when a signer asks for a key of an
	// address that is not spent by the transaction.
	ErrUnknownInput = errors.New("unknown input")

	// ErrSignatureInvalid is returned when a signed input fails script
	// verification.
	ErrSignatureInvalid = errors.New("input script verification failed")

	// ErrFeeMismatch is returned if the built transaction does not
	// balance. It indicates a bug.
	ErrFeeMismatch = errors.New("outputs plus fee do not equal inputs")
)

// MissingCallbackError is returned when a required callback of a build
// request is nil.
type MissingCallbackError struct {
	// Callback is the name of the missing callback.
	Callback string
}

// Error returns the error message.
func (e *MissingCallbackError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingCallback, e.Callback)
}

// Unwrap returns ErrMissingCallback.
func (e *MissingCallbackError) Unwrap() error {
	return ErrMissingCallback
}

// PrivateKeyFunc returns the private key at a derivation path. The key is
// requested just in time for signing and is not retained.
type PrivateKeyFunc func(path keychain.DerivationPath) (*btcec.PrivateKey,
	error)

// AddressTypeFunc returns the address type of an owned address.
type AddressTypeFunc func(address string) (waddrmgr.AddressType, error)

// DerivationPathFunc returns the derivation path of an owned address.
type DerivationPathFunc func(address string) (keychain.DerivationPath, error)

// TxOutput is a requested payment.
type TxOutput struct {
	// Address is the recipient.
	Address string

	// Amount is the value to send.
	Amount btcutil.Amount
}

// BuildTxRequest describes a single-sig spend.
type BuildTxRequest struct {
	// UTXOs are the candidate inputs.
	UTXOs []UTXO

	// Outputs are the payments to make.
	Outputs []TxOutput

	// ChangeAddress receives the change, if any.
	ChangeAddress string

	// FeeRate is the requested fee rate.
	FeeRate btcunit.SatPerVByte

	// GetPrivateKey resolves signing keys.
	GetPrivateKey PrivateKeyFunc

	// GetAddressType resolves the script family of an input address.
	GetAddressType AddressTypeFunc

	// GetDerivationPath resolves the path of an input address.
	GetDerivationPath DerivationPathFunc
}

// BuiltInput is an input of a built transaction.
type BuiltInput struct {
	TxID    string
	Vout    uint32
	Value   btcutil.Amount
	Address string
}

// BuiltOutput is an output of a built transaction.
type BuiltOutput struct {
	Address  string
	Amount   btcutil.Amount
	IsChange bool
}

// BuiltTransaction is a fully signed transaction ready for broadcast.
type BuiltTransaction struct {
	// Tx is the signed transaction.
	Tx *wire.MsgTx

	// Hex is the serialized transaction, witness included.
	Hex string

	// TxID is the transaction id, computed over the non-witness
	// serialization.
	TxID string

	// Fee is the absolute fee.
	Fee btcutil.Amount

	// Size is the serialized size in bytes.
	Size int

	// VirtualSize is the weight divided by four, rounded up.
	VirtualSize int

	// Weight is the BIP141 weight.
	Weight int

	Inputs  []BuiltInput
	Outputs []BuiltOutput
}

// TxBuilder assembles and signs transactions for one network.
type TxBuilder struct {
	net      *chaincfg.Params
	policy   TxPolicy
	selector *CoinSelector
}

// TxBuilderOption configures a TxBuilder.
type TxBuilderOption func(*TxBuilder)

// WithTxPolicy overrides the default policy.
func WithTxPolicy(policy TxPolicy) TxBuilderOption {
	return func(b *TxBuilder) {
		b.policy = policy
	}
}

// WithCoinSelector overrides the default coin selector.
func WithCoinSelector(selector *CoinSelector) TxBuilderOption {
	return func(b *TxBuilder) {
		b.selector = selector
	}
}

// NewTxBuilder creates a builder for net.
func NewTxBuilder(net *chaincfg.Params, opts ...TxBuilderOption) *TxBuilder {
	b := &TxBuilder{
		net:    net,
		policy: DefaultTxPolicy(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.selector == nil {
		b.selector = NewCoinSelector()
	}

	return b
}

// BuildTransaction builds and signs req with the default policy.
func BuildTransaction(req *BuildTxRequest,
	net *chaincfg.Params) (*BuiltTransaction, error) {

	return NewTxBuilder(net).BuildTransaction(req)
}

// spendPlan is a validated spend request.
type spendPlan struct {
	outputs      []*wire.TxOut
	outputTypes  []txfee.OutputType
	target       btcutil.Amount
	changeScript []byte
	changeType   txfee.OutputType
	feeRate      btcunit.SatPerVByte
}

// planSpend validates the parts shared by single-sig and multisig spends,
// in the order callers rely on.
func (b *TxBuilder) planSpend(utxos []UTXO, outputs []TxOutput,
	changeAddress string, feeRate btcunit.SatPerVByte) (*spendPlan,
	error) {

	if len(utxos) == 0 {
		return nil, ErrNoUTXOs
	}

	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	plan := &spendPlan{
		outputs:     make([]*wire.TxOut, 0, len(outputs)),
		outputTypes: make([]txfee.OutputType, 0, len(outputs)),
	}

	for i, out := range outputs {
		if out.Amount <= 0 || out.Amount > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("%w: output %d has amount %v",
				ErrInvalidAmount, i, out.Amount)
		}

		plan.target += out.Amount
		if plan.target > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("%w: total exceeds %v",
				ErrInvalidAmount, btcutil.Amount(btcutil.MaxSatoshi))
		}
	}

	for i, out := range outputs {
		pkScript, outType, err := decodeAddress(out.Address, b.net)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v",
				ErrInvalidAddress, i, err)
		}

		plan.outputs = append(plan.outputs, wire.NewTxOut(
			int64(out.Amount), pkScript,
		))
		plan.outputTypes = append(plan.outputTypes, outType)
	}

	relayFeePerKb := b.policy.MinRelayFeeRate.ToSatPerKVByte().Amount()
	for i, txOut := range plan.outputs {
		err := txrules.CheckOutput(txOut, relayFeePerKb)
		if btcutil.Amount(txOut.Value) < b.policy.DustThreshold ||
			errors.Is(err, txrules.ErrOutputIsDust) {

			return nil, fmt.Errorf("%w: output %d has %v, "+
				"threshold is %v", ErrDustOutput, i,
				btcutil.Amount(txOut.Value),
				b.policy.DustThreshold)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v",
				ErrInvalidAmount, i, err)
		}
	}

	changeScript, changeType, err := decodeAddress(changeAddress, b.net)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChangeAddress, err)
	}
	plan.changeScript = changeScript
	plan.changeType = changeType

	if feeRate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeeRate, feeRate)
	}

	if feeRate.GreaterThan(b.policy.MaxFeeRate) {
		return nil, fmt.Errorf("%w: %v exceeds %v", ErrFeeTooHigh,
			feeRate, b.policy.MaxFeeRate)
	}
	plan.feeRate = feeRate.Max(b.policy.MinRelayFeeRate)

	return plan, nil
}

// decodeAddress decodes an address for net and returns its locking script.
func decodeAddress(address string, net *chaincfg.Params) ([]byte,
	txfee.OutputType, error) {

	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, 0, err
	}

	if !addr.IsForNet(net) {
		return nil, 0, fmt.Errorf("address %s is not for %s", address,
			net.Name)
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, 0, err
	}

	outType, err := txfee.OutputTypeForScript(pkScript)
	if err != nil {
		return nil, 0, err
	}

	return pkScript, outType, nil
}

// checkCallbacks returns a MissingCallbackError naming the first nil
// callback.
func checkCallbacks(req *BuildTxRequest) error {
	switch {
	case req.GetPrivateKey == nil:
		return &MissingCallbackError{Callback: "GetPrivateKey"}

	case req.GetAddressType == nil:
		return &MissingCallbackError{Callback: "GetAddressType"}

	case req.GetDerivationPath == nil:
		return &MissingCallbackError{Callback: "GetDerivationPath"}
	}

	return nil
}

// singleSigInputType maps the address type of a UTXO to its spend type and
// checks it against the locking script.
func singleSigInputType(addrType waddrmgr.AddressType,
	pkScript []byte) (txfee.InputType, error) {

	var (
		inputType txfee.InputType
		match     bool
	)
	switch addrType {
	case waddrmgr.PubKeyHash:
		inputType = txfee.LegacyInput
		match = txscript.IsPayToPubKeyHash(pkScript)

	case waddrmgr.NestedWitnessPubKey:
		inputType = txfee.SegwitInput
		match = txscript.IsPayToScriptHash(pkScript)

	case waddrmgr.WitnessPubKey:
		inputType = txfee.NativeSegwitInput
		match = txscript.IsPayToWitnessPubKeyHash(pkScript)

	default:
		return txfee.InputType{}, fmt.Errorf("%w: %v",
			ErrUnsupportedAddressType, addrType)
	}

	if !match {
		return txfee.InputType{}, fmt.Errorf("%w: %v with script %x",
			ErrAddressTypeMismatch, addrType, pkScript)
	}

	return inputType, nil
}

// resolveInputType looks up the address type of u and the single-sig input
// type it is spent as.
func resolveInputType(req *BuildTxRequest, u *UTXO) (waddrmgr.AddressType,
	txfee.InputType, error) {

	addrType, err := req.GetAddressType(u.Address)
	if err != nil {
		return 0, txfee.InputType{}, fmt.Errorf("address type of %s: %w",
			u.Address, err)
	}

	inputType, err := singleSigInputType(addrType, u.PkScript)
	if err != nil {
		return 0, txfee.InputType{}, fmt.Errorf("utxo %v: %w",
			u.OutPoint(), err)
	}

	return addrType, inputType, nil
}

// BuildTransaction validates req, selects coins, and returns the signed
// transaction. Every input is verified against its locking script before
// the transaction is returned.
func (b *TxBuilder) BuildTransaction(req *BuildTxRequest) (*BuiltTransaction,
	error) {

	plan, err := b.planSpend(
		req.UTXOs, req.Outputs, req.ChangeAddress, req.FeeRate,
	)
	if err != nil {
		return nil, err
	}

	if err := checkCallbacks(req); err != nil {
		return nil, err
	}

	// Resolve the address type of every candidate up front so the coin
	// selector can size inputs exactly. Candidates this builder cannot
	// spend are left out of selection.
	addrTypes := make(map[wire.OutPoint]waddrmgr.AddressType, len(req.UTXOs))
	inputTypes := make(map[wire.OutPoint]txfee.InputType, len(req.UTXOs))
	spendable := make([]UTXO, 0, len(req.UTXOs))

	var skipErr error
	for i := range req.UTXOs {
		u := &req.UTXOs[i]

		addrType, inputType, err := resolveInputType(req, u)
		if err != nil {
			log.Warnf("Skipping candidate %v: %v", u.OutPoint(), err)

			if skipErr == nil {
				skipErr = err
			}
			continue
		}

		addrTypes[u.OutPoint()] = addrType
		inputTypes[u.OutPoint()] = inputType
		spendable = append(spendable, *u)
	}

	if len(spendable) == 0 {
		return nil, skipErr
	}

	selection, err := b.selector.selectCoins(
		spendable, plan.target, plan.outputTypes, plan.changeType,
		plan.feeRate, func(u *UTXO) (txfee.InputType, error) {
			return inputTypes[u.OutPoint()], nil
		},
	)
	if err != nil {
		return nil, err
	}

	authored := newAuthoredTx(plan, selection)

	secrets := &callbackSecrets{
		net:       b.net,
		getKey:    req.GetPrivateKey,
		getPath:   req.GetDerivationPath,
		addrTypes: addrTypes,
		byScript:  make(map[string]*UTXO, len(selection.Inputs)),
	}
	for i := range selection.Inputs {
		u := &selection.Inputs[i]
		secrets.byScript[string(u.PkScript)] = u
	}

	if err := authored.AddAllInputScripts(secrets); err != nil {
		return nil, fmt.Errorf("unable to sign tx: %w", err)
	}

	err = validateMsgTx(
		authored.Tx, authored.PrevScripts, authored.PrevInputValues,
	)
	if err != nil {
		return nil, err
	}

	built, err := b.describeTx(authored, selection)
	if err != nil {
		return nil, err
	}

	log.Infof("Built tx %v: %d inputs, %d outputs, fee=%v, vsize=%d",
		built.TxID, len(built.Inputs), len(built.Outputs), built.Fee,
		built.VirtualSize)
	log.Tracef("Signed tx: %v", newLogClosure(func() string {
		return spew.Sdump(authored.Tx)
	}))

	return built, nil
}

// newAuthoredTx creates the unsigned transaction of a selection. The change
// output, if any, is moved to a random position.
func newAuthoredTx(plan *spendPlan,
	selection *SelectionResult) *txauthor.AuthoredTx {

	tx := wire.NewMsgTx(txVersion)

	prevScripts := make([][]byte, 0, len(selection.Inputs))
	prevValues := make([]btcutil.Amount, 0, len(selection.Inputs))
	for i := range selection.Inputs {
		u := &selection.Inputs[i]
		op := u.OutPoint()

		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevScripts = append(prevScripts, u.PkScript)
		prevValues = append(prevValues, u.Value)
	}

	for _, out := range plan.outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}

	changeIndex := -1
	if selection.HasChange() {
		tx.AddTxOut(wire.NewTxOut(
			int64(selection.Change), plan.changeScript,
		))
		changeIndex = len(tx.TxOut) - 1
	}

	authored := &txauthor.AuthoredTx{
		Tx:              tx,
		PrevScripts:     prevScripts,
		PrevInputValues: prevValues,
		TotalInput:      selection.TotalInput,
		ChangeIndex:     changeIndex,
	}
	authored.RandomizeChangePosition()

	return authored
}

// describeTx builds the caller facing summary of a signed transaction and
// checks that it balances.
func (b *TxBuilder) describeTx(authored *txauthor.AuthoredTx,
	selection *SelectionResult) (*BuiltTransaction, error) {

	tx := authored.Tx

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))

	built := &BuiltTransaction{
		Tx:     tx,
		Hex:    hex.EncodeToString(buf.Bytes()),
		TxID:   tx.TxHash().String(),
		Fee:    selection.Fee,
		Size:   tx.SerializeSize(),
		Weight: int(weight),
		VirtualSize: int(btcunit.VBytesFromWeight(
			uint64(weight),
		).VBytes()),
	}

	for _, u := range selection.Inputs {
		built.Inputs = append(built.Inputs, BuiltInput{
			TxID:    u.TxID.String(),
			Vout:    u.Vout,
			Value:   u.Value,
			Address: u.Address,
		})
	}

	var totalOut btcutil.Amount
	for i, out := range tx.TxOut {
		built.Outputs = append(built.Outputs, BuiltOutput{
			Address:  scriptAddress(out.PkScript, b.net),
			Amount:   btcutil.Amount(out.Value),
			IsChange: i == authored.ChangeIndex,
		})
		totalOut += btcutil.Amount(out.Value)
	}

	if totalOut+selection.Fee != selection.TotalInput {
		return nil, fmt.Errorf("%w: outputs=%v fee=%v inputs=%v",
			ErrFeeMismatch, totalOut, selection.Fee,
			selection.TotalInput)
	}

	return built, nil
}

// scriptAddress returns the encoded address of a standard locking script,
// or an empty string.
func scriptAddress(pkScript []byte, net *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, net)
	if err != nil || len(addrs) != 1 {
		return ""
	}

	return addrs[0].EncodeAddress()
}

// validateMsgTx verifies the input scripts of tx with the script engine.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, wire.NewTxOut(
			int64(inputValues[i]), prevScripts[i],
		))
	}

	hashCache := txscript.NewTxSigHashes(tx, fetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil,
			hashCache, int64(inputValues[i]), fetcher,
		)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}

		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v",
				ErrSignatureInvalid, i, err)
		}
	}

	return nil
}

// callbackSecrets adapts the request callbacks to txauthor.SecretsSource.
type callbackSecrets struct {
	net       *chaincfg.Params
	getKey    PrivateKeyFunc
	getPath   DerivationPathFunc
	addrTypes map[wire.OutPoint]waddrmgr.AddressType
	byScript  map[string]*UTXO
}

// A compile time check to ensure callbackSecrets satisfies the interface.
var _ txauthor.SecretsSource = (*callbackSecrets)(nil)

// GetKey returns the private key for the input paying to addr.
func (s *callbackSecrets) GetKey(addr btcutil.Address) (*btcec.PrivateKey,
	bool, error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, false, err
	}

	u, ok := s.byScript[string(pkScript)]
	if !ok {
		return nil, false, fmt.Errorf("%w: %v", ErrUnknownInput, addr)
	}

	path, err := s.getPath(u.Address)
	if err != nil {
		return nil, false, fmt.Errorf("derivation path of %s: %w",
			u.Address, err)
	}

	privKey, err := s.getKey(path)
	if err != nil {
		return nil, false, fmt.Errorf("private key at %v: %w", path,
			err)
	}
	if privKey == nil {
		return nil, false, fmt.Errorf("%w: no key at %v",
			ErrKeyMismatch, path)
	}

	expected, err := waddrmgr.PubKeyAddress(
		privKey.PubKey(), s.addrTypes[u.OutPoint()], s.net,
	)
	if err != nil {
		return nil, false, err
	}

	if expected.EncodeAddress() != addr.EncodeAddress() {
		return nil, false, fmt.Errorf("%w: key at %v is for %v, "+
			"input pays to %v", ErrKeyMismatch, path, expected, addr)
	}

	return privKey, true, nil
}

// GetScript is not used for the supported single-sig scripts.
func (s *callbackSecrets) GetScript(addr btcutil.Address) ([]byte, error) {
	return nil, fmt.Errorf("%w: no script for %v",
		ErrUnsupportedAddressType, addr)
}

// ChainParams returns the network of the builder.
func (s *callbackSecrets) ChainParams() *chaincfg.Params {
	return s.net
}
