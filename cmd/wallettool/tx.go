// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/txfee"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/hwy419/bitcoin-wallet-sub018/wallet"
)

var (
	errMalformedUTXO   = errors.New("utxo must be txid:vout:amount:path")
	errMalformedOutput = errors.New("output must be address=amount")
	errUnknownAddress  = errors.New("address not spent by this command")
)

// parseBTC parses a decimal bitcoin amount.
func parseBTC(s string) (btcutil.Amount, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}

	return btcutil.NewAmount(f)
}

// parseOutputs parses --to values of the form address=amount.
func parseOutputs(to []string) ([]wallet.TxOutput, error) {
	outputs := make([]wallet.TxOutput, 0, len(to))
	for _, s := range to {
		addr, amount, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", errMalformedOutput, s)
		}

		value, err := parseBTC(amount)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, wallet.TxOutput{
			Address: strings.TrimSpace(addr),
			Amount:  value,
		})
	}

	return outputs, nil
}

type estimateCmd struct {
	Inputs  []string `long:"input" description:"Input type, e.g. p2wpkh or p2wsh-2-of-3; repeat per input"`
	Outputs []string `long:"output" description:"Output type, e.g. p2wpkh; repeat per output"`
	FeeRate string   `long:"feerate" description:"Fee rate in sat/vB"`
}

// Execute prints the size and fee of the described transaction.
func (c *estimateCmd) Execute(_ []string) error {
	params := txfee.Params{
		NumInputs:  len(c.Inputs),
		NumOutputs: len(c.Outputs),
	}

	for _, tag := range c.Inputs {
		in, err := txfee.ParseInputType(tag)
		if err != nil {
			return err
		}
		params.InputTypes = append(params.InputTypes, in)
	}

	for _, tag := range c.Outputs {
		out, err := txfee.ParseOutputType(tag)
		if err != nil {
			return err
		}
		params.OutputTypes = append(params.OutputTypes, out)
	}

	rate, err := btcunit.ParseSatPerVByte(c.FeeRate)
	if err != nil {
		return err
	}

	size, err := txfee.EstimateSize(params)
	if err != nil {
		return err
	}

	fee, err := txfee.EstimateFee(params, rate)
	if err != nil {
		return err
	}

	fmt.Printf("size:   %d bytes\n", size.Size)
	fmt.Printf("vsize:  %d vB\n", size.VirtualSize)
	fmt.Printf("weight: %d WU\n", size.Weight)
	fmt.Printf("fee:    %v at %v\n", fee, rate)

	return nil
}

type spendCmd struct {
	UTXOs      []string `long:"utxo" description:"Spendable output as txid:vout:amount:path, amount in BTC; repeat per output"`
	Type       string   `long:"type" description:"Address type of the utxos: legacy, segwit or native-segwit"`
	To         []string `long:"to" description:"Payment as address=amount, amount in BTC; repeat per payment"`
	Change     string   `long:"change" description:"Change address"`
	FeeRate    string   `long:"feerate" description:"Fee rate in sat/vB"`
	Passphrase bool     `long:"passphrase" description:"Prompt for a BIP39 passphrase"`
}

// ownedAddress is an address spent by the command.
type ownedAddress struct {
	path     keychain.DerivationPath
	addrType waddrmgr.AddressType
}

// parseUTXO parses one --utxo value and derives its address and script
// from seed.
func (c *spendCmd) parseUTXO(s string, seed []byte,
	addrType waddrmgr.AddressType) (wallet.UTXO, ownedAddress, error) {

	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return wallet.UTXO{}, ownedAddress{}, fmt.Errorf("%w: %q",
			errMalformedUTXO, s)
	}

	txid, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	value, err := parseBTC(parts[2])
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	path, err := keychain.ParsePath(parts[3])
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	node, err := keychain.DeriveNode(seed, path, cfg.net)
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}
	defer node.Zero()

	pub, err := node.PubKey()
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	addr, err := waddrmgr.PubKeyAddress(pub, addrType, cfg.net)
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return wallet.UTXO{}, ownedAddress{}, err
	}

	utxo := wallet.UTXO{
		TxID:     *txid,
		Vout:     uint32(vout),
		Value:    value,
		Address:  addr.EncodeAddress(),
		PkScript: pkScript,
	}

	return utxo, ownedAddress{path: path, addrType: addrType}, nil
}

// Execute builds, signs and prints the transaction.
func (c *spendCmd) Execute(_ []string) error {
	addrType, err := waddrmgr.ParseAddressType(c.Type)
	if err != nil {
		return err
	}

	rate, err := btcunit.ParseSatPerVByte(c.FeeRate)
	if err != nil {
		return err
	}

	outputs, err := parseOutputs(c.To)
	if err != nil {
		return err
	}

	seed, err := readSeed(c.Passphrase)
	if err != nil {
		return err
	}
	defer keychain.ZeroSeed(seed)

	owned := make(map[string]ownedAddress, len(c.UTXOs))
	utxos := make([]wallet.UTXO, 0, len(c.UTXOs))
	for _, s := range c.UTXOs {
		utxo, addr, err := c.parseUTXO(s, seed, addrType)
		if err != nil {
			return err
		}

		owned[utxo.Address] = addr
		utxos = append(utxos, utxo)
	}

	req := &wallet.BuildTxRequest{
		UTXOs:         utxos,
		Outputs:       outputs,
		ChangeAddress: c.Change,
		FeeRate:       rate,
		GetPrivateKey: func(path keychain.DerivationPath) (
			*btcec.PrivateKey, error) {

			node, err := keychain.DeriveNode(seed, path, cfg.net)
			if err != nil {
				return nil, err
			}

			priv := node.PrivKey()
			if priv.IsNone() {
				return nil, fmt.Errorf("no private key at %v", path)
			}

			return priv.UnwrapOr(nil), nil
		},
		GetAddressType: func(address string) (waddrmgr.AddressType,
			error) {

			addr, ok := owned[address]
			if !ok {
				return 0, fmt.Errorf("%w: %s", errUnknownAddress,
					address)
			}

			return addr.addrType, nil
		},
		GetDerivationPath: func(address string) (
			keychain.DerivationPath, error) {

			addr, ok := owned[address]
			if !ok {
				return keychain.DerivationPath{}, fmt.Errorf(
					"%w: %s", errUnknownAddress, address,
				)
			}

			return addr.path, nil
		},
	}

	tx, err := wallet.BuildTransaction(req, cfg.net)
	if err != nil {
		return err
	}

	log.Infof("Built %s: fee=%v vsize=%d inputs=%d outputs=%d",
		tx.TxID, tx.Fee, tx.VirtualSize, len(tx.Inputs),
		len(tx.Outputs))

	for _, out := range tx.Outputs {
		label := ""
		if out.IsChange {
			label = " (change)"
		}
		fmt.Printf("output: %s %v%s\n", out.Address, out.Amount, label)
	}
	fmt.Printf("fee:    %v (%d vB)\n", tx.Fee, tx.VirtualSize)
	fmt.Printf("txid:   %s\n", tx.TxID)
	fmt.Println(tx.Hex)

	return nil
}
