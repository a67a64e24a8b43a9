// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// seedIterations is the PBKDF2 round count defined by BIP39.
	seedIterations = 2048

	// SeedLen is the length of a BIP39 seed in bytes.
	SeedLen = 64

	// seedSaltPrefix is prepended to the passphrase to form the salt.
	seedSaltPrefix = "mnemonic"
)

var (
	// ErrInvalidMnemonic is returned when a mnemonic contains an unknown
	// word, has the wrong number of words or fails its checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidEntropy is returned when a mnemonic of an unsupported
	// strength is requested.
	ErrInvalidEntropy = errors.New("entropy must be 128-256 bits and a " +
		"multiple of 32")
)

// NewMnemonic generates a fresh mnemonic with the requested strength in bits.
func NewMnemonic(bits int) (string, error) {
	if bits < 128 || bits > 256 || bits%32 != 0 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidEntropy, bits)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	defer zero(entropy)

	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks word-list membership, word count and checksum.
func ValidateMnemonic(mnemonic string) error {
	mnemonic = normalizeMnemonic(mnemonic)

	if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return nil
}

// MnemonicToSeed converts a mnemonic and optional passphrase to a 64-byte
// seed. The mnemonic is validated first.
func MnemonicToSeed(mnemonic, passphrase string) ([]byte, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	// bip39.NewSeed skips the NFKD step, so derive the seed here.
	words := norm.NFKD.String(normalizeMnemonic(mnemonic))
	salt := norm.NFKD.String(seedSaltPrefix + passphrase)

	return pbkdf2.Key(
		[]byte(words), []byte(salt), seedIterations, SeedLen,
		sha512.New,
	), nil
}

// normalizeMnemonic collapses runs of whitespace and lower-cases the words.
func normalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(mnemonic), " "))
}

// zero overwrites the passed byte slice.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroSeed wipes a seed once the caller is done with it.
func ZeroSeed(seed []byte) {
	zero(seed)
}
