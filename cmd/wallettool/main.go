// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command wallettool is an offline companion for the wallet packages. It
// derives keys and addresses, sizes and signs transactions, and moves
// multisig PSBTs between cosigners.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

var newlineBytes = []byte{'\n'}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

// command is a subcommand registered with the parser.
type command struct {
	name  string
	short string
	long  string
	data  flags.Commander
}

var commands = []command{
	{
		name:  "newmnemonic",
		short: "Generate a BIP39 mnemonic",
		long:  "Generate a fresh BIP39 mnemonic and print it.",
		data:  &newMnemonicCmd{Bits: 128},
	},
	{
		name:  "accountxpub",
		short: "Derive an account extended public key",
		long: "Derive the account-level extended public key of the " +
			"mnemonic read from standard input, encoded with the " +
			"SLIP-132 prefix of the address type.",
		data: &accountXpubCmd{Type: "native-segwit"},
	},
	{
		name:  "validatexpub",
		short: "Validate an extended public key",
		long:  "Validate an extended public key and print what it is for.",
		data:  &validateXpubCmd{},
	},
	{
		name:  "addresses",
		short: "Derive receive and change addresses",
		long:  "Derive receive and change addresses of an account xpub.",
		data:  &addressesCmd{Gap: 10},
	},
	{
		name:  "multisigaddr",
		short: "Derive a multisig address",
		long: "Derive a multisig address of a policy and the account " +
			"xpubs of every cosigner.",
		data: &multisigAddrCmd{Policy: "2-of-3", Type: "p2wsh"},
	},
	{
		name:  "multisigpsbt",
		short: "Build an unsigned multisig PSBT",
		long: "Select coins of a multisig account and build an " +
			"unsigned PSBT carrying the scripts and key origins of " +
			"every cosigner.",
		data: &multisigPSBTCmd{
			Policy: "2-of-3", Type: "p2wsh", FeeRate: "1",
		},
	},
	{
		name:  "estimate",
		short: "Estimate the size and fee of a transaction",
		long: "Estimate the signed size and fee of a transaction from " +
			"its input and output types.",
		data: &estimateCmd{FeeRate: "1"},
	},
	{
		name:  "spend",
		short: "Build and sign a single-sig transaction",
		long: "Select coins, build and sign a single-sig transaction " +
			"with keys derived from the mnemonic read from standard " +
			"input, and print its raw hex.",
		data: &spendCmd{Type: "native-segwit", FeeRate: "1"},
	},
	{
		name:  "decodepsbt",
		short: "Describe a PSBT",
		long:  "Describe a PSBT given in base64 or hex.",
		data:  &decodePSBTCmd{},
	},
	{
		name:  "signpsbt",
		short: "Sign a multisig PSBT",
		long: "Add this wallet's signatures to a multisig PSBT. Keys " +
			"are found through the BIP32 derivations of the inputs.",
		data: &signPSBTCmd{},
	},
	{
		name:  "combinepsbt",
		short: "Combine PSBTs of the same transaction",
		long:  "Merge the signatures of several copies of one PSBT.",
		data:  &combinePSBTCmd{},
	},
	{
		name:  "finalizepsbt",
		short: "Finalize a multisig PSBT",
		long: "Finalize a fully signed multisig PSBT and print the " +
			"raw transaction.",
		data: &finalizePSBTCmd{},
	},
	{
		name:  "chunkpsbt",
		short: "Split a PSBT into QR sized chunks",
		long:  "Split a PSBT into chunks of bounded length.",
		data:  &chunkPSBTCmd{},
	},
	{
		name:  "joinpsbt",
		short: "Reassemble a chunked PSBT",
		long:  "Reassemble a PSBT from chunks in any order.",
		data:  &joinPSBTCmd{},
	},
}

func main() {
	if err := run(); err != nil {
		// The parser already printed the error.
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return
		}

		os.Exit(1)
	}
}

func run() error {
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	parser := flags.NewParser(&cfg, flags.Default)
	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			fatalf("Unable to add command %s: %v", c.name, err)
		}
	}

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := cfg.setup(); err != nil {
			return err
		}

		if cmd == nil {
			return nil
		}

		return cmd.Execute(args)
	}

	_, err := parser.Parse()

	return err
}
