// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNoUTXOs is returned when there are no candidate UTXOs.
	ErrNoUTXOs = errors.New("no utxos available")

	// ErrInsufficientFunds is returned when the candidate UTXOs cannot
	// cover the target plus the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// UTXO is a spendable output supplied by the caller.
type UTXO struct {
	// TxID is the hash of the transaction that created the output.
	TxID chainhash.Hash

	// Vout is the output index.
	Vout uint32

	// Value is the output amount.
	Value btcutil.Amount

	// Address is the encoded address the output pays to.
	Address string

	// PkScript is the locking script.
	PkScript []byte

	// Confirmations is the number of confirmations of the output.
	Confirmations int64

	// PrevTx optionally holds the full previous transaction. It is only
	// used to populate the non-witness UTXO field of a PSBT.
	PrevTx *wire.MsgTx
}

// OutPoint returns the outpoint of the UTXO.
func (u *UTXO) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: u.TxID, Index: u.Vout}
}

// TxOut returns the output the UTXO refers to.
func (u *UTXO) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.PkScript)
}

// SelectionResult is the outcome of a coin selection.
type SelectionResult struct {
	// Inputs are the chosen UTXOs.
	Inputs []UTXO

	// InputTypes has the spend type of each input.
	InputTypes []txfee.InputType

	// TotalInput is the sum of the chosen UTXOs.
	TotalInput btcutil.Amount

	// Fee is the absolute fee, including any change folded into it.
	Fee btcutil.Amount

	// Change is the change amount, zero when no change output is needed.
	Change btcutil.Amount

	// VirtualSize is the estimated virtual size of the signed
	// transaction.
	VirtualSize int
}

// HasChange reports whether the selection needs a change output.
func (r *SelectionResult) HasChange() bool {
	return r.Change > 0
}

// CoinSelector picks UTXOs in a random order so that repeated spends from
// the same pool do not reveal a deterministic pattern. It is safe for
// concurrent use.
type CoinSelector struct {
	mu  sync.Mutex
	rng *rand.Rand

	// inputType forces the spend type of every input. When unset the
	// type is inferred from each locking script.
	inputType fn.Option[txfee.InputType]
}

// CoinSelectorOption configures a CoinSelector.
type CoinSelectorOption func(*CoinSelector)

// WithRand uses src as the shuffle source, which makes selections
// reproducible in tests.
func WithRand(src rand.Source) CoinSelectorOption {
	return func(c *CoinSelector) {
		c.rng = rand.New(src)
	}
}

// WithInputType sizes every input as t, used for multisig spends whose
// locking scripts do not reveal the policy.
func WithInputType(t txfee.InputType) CoinSelectorOption {
	return func(c *CoinSelector) {
		c.inputType = fn.Some(t)
	}
}

// NewCoinSelector creates a coin selector. The default shuffle source is
// ChaCha8 seeded from the operating system's entropy source.
func NewCoinSelector(opts ...CoinSelectorOption) *CoinSelector {
	c := &CoinSelector{}
	for _, opt := range opts {
		opt(c)
	}

	if c.rng == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		c.rng = rand.New(rand.NewChaCha8(seed))
	}

	return c
}

// Select chooses UTXOs that pay target plus the fee of a transaction with a
// single recipient output at feeRate. Change goes to changeAddr.
func (c *CoinSelector) Select(utxos []UTXO, target btcutil.Amount,
	feeRate btcunit.SatPerVByte, changeAddr btcutil.Address) (
	*SelectionResult, error) {

	changeType, err := outputTypeForAddress(changeAddr)
	if err != nil {
		return nil, err
	}

	// Without more information the recipient is sized like the change.
	return c.selectCoins(
		utxos, target, []txfee.OutputType{changeType}, changeType,
		feeRate, nil,
	)
}

// inputTypeFunc resolves the spend type of a UTXO.
type inputTypeFunc func(*UTXO) (txfee.InputType, error)

// selectCoins runs the randomized accumulation. Every UTXO that costs more
// to spend than it carries is dropped first; the rest are shuffled and
// added one by one until target and fee are covered. If the full remaining
// pool cannot pay, no subset can.
func (c *CoinSelector) selectCoins(utxos []UTXO, target btcutil.Amount,
	outputs []txfee.OutputType, changeType txfee.OutputType,
	feeRate btcunit.SatPerVByte, typeOf inputTypeFunc) (*SelectionResult,
	error) {

	if len(utxos) == 0 {
		return nil, ErrNoUTXOs
	}

	if typeOf == nil {
		typeOf = c.inferInputType
	}

	type candidate struct {
		utxo UTXO
		typ  txfee.InputType
	}

	var (
		pool      = make([]candidate, 0, len(utxos))
		available btcutil.Amount
	)
	for i := range utxos {
		typ, err := typeOf(&utxos[i])
		if err != nil {
			return nil, err
		}

		if !inputYieldsPositively(&utxos[i], typ, feeRate) {
			log.Debugf("Skipping uneconomical utxo %v (%v)",
				utxos[i].OutPoint(), utxos[i].Value)

			continue
		}

		pool = append(pool, candidate{utxo: utxos[i], typ: typ})
		available += utxos[i].Value
	}

	c.mu.Lock()
	c.rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	c.mu.Unlock()

	result := &SelectionResult{}
	withChange := append(append([]txfee.OutputType{}, outputs...),
		changeType)

	for _, cand := range pool {
		result.Inputs = append(result.Inputs, cand.utxo)
		result.InputTypes = append(result.InputTypes, cand.typ)
		result.TotalInput += cand.utxo.Value

		noChange, err := estimate(result.InputTypes, outputs)
		if err != nil {
			return nil, err
		}

		feeNoChange := txfee.FeeForVSize(noChange.VirtualSize, feeRate)
		if result.TotalInput < target+feeNoChange {
			continue
		}

		full, err := estimate(result.InputTypes, withChange)
		if err != nil {
			return nil, err
		}

		feeWithChange := txfee.FeeForVSize(full.VirtualSize, feeRate)
		change := result.TotalInput - target - feeWithChange

		if change > 0 && !txfee.IsDust(change) {
			result.Fee = feeWithChange
			result.Change = change
			result.VirtualSize = full.VirtualSize
		} else {
			// Sub-dust change goes to the miners.
			result.Fee = result.TotalInput - target
			result.VirtualSize = noChange.VirtualSize
		}

		log.Debugf("Selected %d of %d utxos: input=%v, target=%v, "+
			"fee=%v, change=%v", len(result.Inputs), len(utxos),
			result.TotalInput, target, result.Fee, result.Change)

		return result, nil
	}

	return nil, fmt.Errorf("%w: need %v plus fee at %v, have %v "+
		"spendable of %v", ErrInsufficientFunds, target, feeRate,
		available, sumUTXOs(utxos))
}

// inferInputType returns the forced input type or the one implied by the
// locking script.
func (c *CoinSelector) inferInputType(u *UTXO) (txfee.InputType, error) {
	if c.inputType.IsSome() {
		return c.inputType.UnwrapOr(txfee.NativeSegwitInput), nil
	}

	return txfee.InputTypeForScript(u.PkScript)
}

// inputYieldsPositively returns whether the UTXO is worth more than the fee
// needed to spend it.
func inputYieldsPositively(u *UTXO, typ txfee.InputType,
	feeRate btcunit.SatPerVByte) bool {

	vsize := btcunit.VBytesFromWeight(uint64(typ.Weight())).VBytes()
	inputFee := txfee.FeeForVSize(int(vsize), feeRate)

	return inputFee < u.Value
}

func estimate(inputs []txfee.InputType,
	outputs []txfee.OutputType) (txfee.Estimate, error) {

	return txfee.EstimateSize(txfee.Params{
		NumInputs:   len(inputs),
		NumOutputs:  len(outputs),
		InputTypes:  inputs,
		OutputTypes: outputs,
	})
}

func outputTypeForAddress(addr btcutil.Address) (txfee.OutputType, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, err
	}

	return txfee.OutputTypeForScript(pkScript)
}

func sumUTXOs(utxos []UTXO) btcutil.Amount {
	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}

	return total
}
