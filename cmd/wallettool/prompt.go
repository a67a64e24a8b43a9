// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"golang.org/x/term"
)

// stdin is shared so that several secrets can be piped in one after the
// other.
var stdin = bufio.NewReader(os.Stdin)

// readSecret reads one line of secret input. On a terminal the input is not
// echoed.
func readSecret(prompt string) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, prompt)
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(secret)), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

// readSeed prompts for a mnemonic and, if requested, its passphrase and
// returns the BIP39 seed. The caller must wipe the seed with
// keychain.ZeroSeed.
func readSeed(withPassphrase bool) ([]byte, error) {
	mnemonic, err := readSecret("Mnemonic: ")
	if err != nil {
		return nil, err
	}

	if err := keychain.ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	var passphrase string
	if withPassphrase {
		passphrase, err = readSecret("Passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	return keychain.MnemonicToSeed(mnemonic, passphrase)
}
