// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/hwy419/bitcoin-wallet-sub018/wallet"
	"github.com/lightningnetwork/lnd/clock"
)

var errNoKeys = errors.New("no input derives from this wallet")

// readLines returns args, or the non-empty lines of standard input when no
// arguments are given.
func readLines(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, nil
}

// readPackets imports every PSBT given as an argument or on standard input
// and logs import warnings.
func readPackets(args []string) ([]*psbt.Packet, error) {
	lines, err := readLines(args)
	if err != nil {
		return nil, err
	}

	packets := make([]*psbt.Packet, 0, len(lines))
	for _, line := range lines {
		imported, err := wallet.ImportPSBT(line)
		if err != nil {
			return nil, err
		}

		for _, w := range imported.Warnings {
			log.Warnf("PSBT %v: %s", imported.TxID, w)
		}

		packets = append(packets, imported.Packet)
	}

	return packets, nil
}

// readPacket is readPackets for commands taking exactly one PSBT.
func readPacket(args []string) (*psbt.Packet, error) {
	packets, err := readPackets(args)
	if err != nil {
		return nil, err
	}

	if len(packets) != 1 {
		return nil, fmt.Errorf("%w: expected one PSBT, got %d",
			errArgCount, len(packets))
	}

	return packets[0], nil
}

// printPacket writes packet to standard output in base64.
func printPacket(packet *psbt.Packet) error {
	exported, err := wallet.ExportPSBT(packet)
	if err != nil {
		return err
	}

	fmt.Println(exported.Base64)

	return nil
}

var errMalformedMultisigUTXO = errors.New(
	"utxo must be txid:vout:amount:index[:change]",
)

type multisigPSBTCmd struct {
	Policy      string   `long:"policy" description:"Signing policy, e.g. 2-of-3"`
	Type        string   `long:"type" description:"Script type: p2sh, p2sh-p2wsh or p2wsh"`
	Cosigners   []string `long:"cosigner" description:"Cosigner key as [fingerprint/path]xpub, own key first; repeat for every cosigner"`
	UTXOs       []string `long:"utxo" description:"Spendable output as txid:vout:amount:index[:change], amount in BTC; repeat per output"`
	To          []string `long:"to" description:"Payment as address=amount, amount in BTC; repeat per payment"`
	ChangeIndex uint32   `long:"change-index" description:"Index of the change address on the change chain"`
	FeeRate     string   `long:"feerate" description:"Fee rate in sat/vB"`
	Pending     bool     `long:"pending" description:"Also print the pending transaction record"`
	AccountID   uint32   `long:"account-id" description:"Account number stored in the pending record"`
}

// parseMultisigUTXO parses one --utxo value and derives the multisig
// address it pays to.
func parseMultisigUTXO(s string, account *waddrmgr.MultisigAccount) (
	wallet.UTXO, *waddrmgr.MultisigAddress, error) {

	parts := strings.Split(s, ":")
	change := len(parts) == 5 && parts[4] == "change"
	if len(parts) != 4 && !change {
		return wallet.UTXO{}, nil, fmt.Errorf("%w: %q",
			errMalformedMultisigUTXO, s)
	}

	txid, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return wallet.UTXO{}, nil, err
	}

	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return wallet.UTXO{}, nil, err
	}

	value, err := parseBTC(parts[2])
	if err != nil {
		return wallet.UTXO{}, nil, err
	}

	index, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return wallet.UTXO{}, nil, err
	}

	addr, err := waddrmgr.DeriveMultisigAddress(
		account, cfg.net, uint32(index), change,
	)
	if err != nil {
		return wallet.UTXO{}, nil, err
	}

	utxo := wallet.UTXO{
		TxID:     *txid,
		Vout:     uint32(vout),
		Value:    value,
		Address:  addr.Address,
		PkScript: addr.Scripts.PkScript,
	}

	return utxo, addr, nil
}

// build assembles the unsigned multisig PSBT described by the flags.
func (c *multisigPSBTCmd) build() (*psbt.Packet,
	*waddrmgr.MultisigAccount, error) {

	account, err := multisigAccount(c.Policy, c.Type, c.Cosigners)
	if err != nil {
		return nil, nil, err
	}

	rate, err := btcunit.ParseSatPerVByte(c.FeeRate)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := parseOutputs(c.To)
	if err != nil {
		return nil, nil, err
	}

	change, err := waddrmgr.DeriveMultisigAddress(
		account, cfg.net, c.ChangeIndex, true,
	)
	if err != nil {
		return nil, nil, err
	}

	req := &wallet.MultisigPSBTRequest{
		Outputs:       outputs,
		ChangeAddress: change.Address,
		FeeRate:       rate,
		Addresses:     []*waddrmgr.MultisigAddress{change},
	}
	for _, s := range c.UTXOs {
		utxo, addr, err := parseMultisigUTXO(s, account)
		if err != nil {
			return nil, nil, err
		}

		req.UTXOs = append(req.UTXOs, utxo)
		req.Addresses = append(req.Addresses, addr)
	}

	packet, err := wallet.BuildMultisigPSBT(req, cfg.net)
	if err != nil {
		return nil, nil, err
	}

	return packet, account, nil
}

// Execute builds and prints an unsigned multisig PSBT.
func (c *multisigPSBTCmd) Execute(_ []string) error {
	packet, account, err := c.build()
	if err != nil {
		return err
	}

	if c.Pending {
		meta := pendingMetadata(packet, c.To)
		pending, err := wallet.NewPendingMultisigTx(
			c.AccountID, packet, account, meta,
			clock.NewDefaultClock(),
		)
		if err != nil {
			return err
		}

		fmt.Printf("id:      %s\n", pending.ID)
		fmt.Printf("account: %d\n", pending.AccountID)
		fmt.Printf("amount:  %v\n", pending.Metadata.Amount)
		fmt.Printf("fee:     %v\n", pending.Metadata.Fee)
		fmt.Printf("signed:  %d of %d\n", pending.SignedCount(),
			account.Config.M)
		fmt.Printf("expires: %s\n", pending.ExpiresAt.Format(
			time.RFC3339,
		))
	}

	return printPacket(packet)
}

// pendingMetadata summarizes the payments of packet for a pending record.
func pendingMetadata(packet *psbt.Packet,
	to []string) wallet.PendingMultisigMetadata {

	var meta wallet.PendingMultisigMetadata
	if len(to) > 0 {
		meta.Recipient, _, _ = strings.Cut(to[0], "=")
	}

	var in, out int64
	for i := range packet.Inputs {
		if prev := packet.Inputs[i].WitnessUtxo; prev != nil {
			in += prev.Value
		}
	}
	for i, txOut := range packet.UnsignedTx.TxOut {
		out += txOut.Value

		// Outputs with derivations are change.
		if len(packet.Outputs[i].Bip32Derivation) == 0 {
			meta.Amount += btcutil.Amount(txOut.Value)
		}
	}
	if in > out {
		meta.Fee = btcutil.Amount(in - out)
	}

	return meta
}

type decodePSBTCmd struct {
	Policy string `long:"policy" description:"Also validate against a signing policy, e.g. 2-of-3"`
}

// Execute describes the PSBT.
func (c *decodePSBTCmd) Execute(args []string) error {
	packet, err := readPacket(args)
	if err != nil {
		return err
	}

	summary := wallet.GetPSBTSummary(packet, cfg.net)
	fmt.Print(summary)

	if c.Policy == "" {
		return nil
	}

	policy, err := waddrmgr.ParseMultisigConfig(c.Policy)
	if err != nil {
		return err
	}

	fmt.Printf("state: %v\n", wallet.MultisigState(packet, policy.M))

	result := wallet.ValidateMultisigPSBT(packet, policy.M, policy.N)
	if !result.Valid {
		return result.Err()
	}
	fmt.Println("valid: true")

	return nil
}

type signPSBTCmd struct {
	Passphrase bool `long:"passphrase" description:"Prompt for a BIP39 passphrase"`
}

// signingKeys derives the private keys of every BIP32 derivation in packet
// that belongs to the wallet with the given master fingerprint.
func signingKeys(packet *psbt.Packet, seed []byte,
	fingerprint uint32) ([]*btcec.PrivateKey, error) {

	var (
		keys []*btcec.PrivateKey
		seen = make(map[string]struct{})
	)
	for _, in := range packet.Inputs {
		for _, d := range in.Bip32Derivation {
			if d.MasterKeyFingerprint != fingerprint {
				continue
			}
			if _, ok := seen[string(d.PubKey)]; ok {
				continue
			}

			path := keychain.PathFromChildNumbers(d.Bip32Path)
			node, err := keychain.DeriveNode(seed, path, cfg.net)
			if err != nil {
				return nil, err
			}

			pub, err := node.PubKey()
			if err != nil {
				return nil, err
			}

			// A fingerprint collision or a foreign derivation
			// record; not ours to sign.
			if !bytes.Equal(pub.SerializeCompressed(), d.PubKey) {
				log.Warnf("Key at %v does not match derivation "+
					"record %x", path, d.PubKey)
				continue
			}

			node.PrivKey().WhenSome(func(k *btcec.PrivateKey) {
				keys = append(keys, k)
				seen[string(d.PubKey)] = struct{}{}
			})
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: fingerprint %08x", errNoKeys,
			fingerprint)
	}

	return keys, nil
}

// Execute signs the PSBT with every matching key.
func (c *signPSBTCmd) Execute(args []string) error {
	packet, err := readPacket(args)
	if err != nil {
		return err
	}

	seed, err := readSeed(c.Passphrase)
	if err != nil {
		return err
	}
	defer keychain.ZeroSeed(seed)

	master, err := keychain.NewMasterNode(seed, cfg.net)
	if err != nil {
		return err
	}
	fingerprint, err := master.Fingerprint()
	master.Zero()
	if err != nil {
		return err
	}

	keys, err := signingKeys(packet, seed, fingerprint)
	if err != nil {
		return err
	}

	total := 0
	for _, key := range keys {
		added, err := wallet.SignMultisigPSBT(packet, key, nil)
		if err != nil {
			return err
		}
		total += added
	}

	log.Infof("Added %d signatures to %v", total,
		packet.UnsignedTx.TxHash())

	return printPacket(packet)
}

type combinePSBTCmd struct{}

// Execute merges the PSBTs given as arguments or on standard input.
func (c *combinePSBTCmd) Execute(args []string) error {
	packets, err := readPackets(args)
	if err != nil {
		return err
	}

	combined, err := wallet.CombineMultisigPSBTs(packets...)
	if err != nil {
		return err
	}

	return printPacket(combined)
}

type finalizePSBTCmd struct {
	PSBT bool `long:"psbt" description:"Print the finalized PSBT instead of the raw transaction"`
}

// Execute finalizes the PSBT and prints the network serialization of the
// transaction.
func (c *finalizePSBTCmd) Execute(args []string) error {
	packet, err := readPacket(args)
	if err != nil {
		return err
	}

	if err := wallet.FinalizeMultisigPSBT(packet); err != nil {
		return err
	}

	if c.PSBT {
		return printPacket(packet)
	}

	tx, err := wallet.ExtractMultisigTx(packet)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	log.Infof("Finalized %v", tx.TxHash())
	fmt.Printf("%x\n", buf.Bytes())

	return nil
}

type chunkPSBTCmd struct {
	Size int `long:"size" description:"Maximum length of a chunk; 0 selects the default"`
}

// Execute prints one chunk per line.
func (c *chunkPSBTCmd) Execute(args []string) error {
	packet, err := readPacket(args)
	if err != nil {
		return err
	}

	chunks, err := wallet.CreatePSBTChunks(packet, c.Size)
	if err != nil {
		return err
	}

	for _, ch := range chunks {
		fmt.Println(ch)
	}

	return nil
}

type joinPSBTCmd struct{}

// Execute reassembles the chunks given as arguments or on standard input.
func (c *joinPSBTCmd) Execute(args []string) error {
	chunks, err := readLines(args)
	if err != nil {
		return err
	}

	packet, err := wallet.ReassemblePSBTChunks(chunks)
	if err != nil {
		return err
	}

	return printPacket(packet)
}
