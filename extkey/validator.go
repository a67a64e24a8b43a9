// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package extkey parses and validates base58 extended public keys, including
// the SLIP-132 ypub/zpub style version prefixes.
package extkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
)

const (
	// payloadLen is the length of a serialized extended key without its
	// checksum: version(4) depth(1) fingerprint(4) child(4) chaincode(32)
	// key(33).
	payloadLen = 78

	// encodedLen is the length of a base58 encoded extended public key.
	encodedLen = 111
)

var (
	// ErrValidation wraps every extended key validation failure.
	ErrValidation = errors.New("extended key validation failed")

	// ErrInvalidLength is returned when the decoded payload has the wrong
	// size.
	ErrInvalidLength = errors.New("invalid extended key length")

	// ErrChecksum is returned when the base58check checksum is wrong.
	ErrChecksum = errors.New("invalid extended key checksum")

	// ErrUnknownVersion is returned for version bytes outside of the
	// SLIP-132 table.
	ErrUnknownVersion = errors.New("unknown extended key version")

	// ErrPrivateKeyPrefix is returned when an extended private key is
	// passed where only public keys are accepted.
	ErrPrivateKeyPrefix = errors.New("extended private keys are not " +
		"accepted")

	// ErrInvalidPubKey is returned when the key data is not a valid
	// compressed secp256k1 point.
	ErrInvalidPubKey = errors.New("invalid public key in extended key")

	// ErrNetworkMismatch is returned when the key belongs to a different
	// network than the one expected.
	ErrNetworkMismatch = errors.New("network mismatch")
)

// NetworkMismatchError names both the network found in the key and the one
// the caller expected.
type NetworkMismatchError struct {
	Found    Network
	Expected Network
}

// Error implements the error interface.
func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("%v: extended key is for %v, expected %v",
		ErrNetworkMismatch, e.Found, e.Expected)
}

// Unwrap makes the error match both ErrNetworkMismatch and ErrValidation.
func (e *NetworkMismatchError) Unwrap() []error {
	return []error{ErrNetworkMismatch, ErrValidation}
}

// Info is the metadata extracted from a validated extended public key.
type Info struct {
	// Network is the network encoded in the version bytes.
	Network Network

	// KeyType is the script family encoded in the version bytes.
	KeyType KeyType

	// Prefix is the human readable prefix, e.g. "zpub".
	Prefix string

	// Purpose is the BIP43 purpose matching KeyType.
	Purpose uint32

	// ScriptType is the locking script family, e.g. "p2wpkh".
	ScriptType string

	// Fingerprint is the parent fingerprint.
	Fingerprint [4]byte

	// Depth is the depth of the key in its tree.
	Depth uint8

	// ChildNumber is the raw child number of the key.
	ChildNumber uint32

	// PathTemplate is the account path this key is expected to sit at.
	PathTemplate string

	// Warnings lists non fatal findings such as an unexpected depth.
	Warnings []string
}

// IsMultisig reports whether the key is meant for a multisig wallet.
func (i *Info) IsMultisig() bool {
	return i.KeyType.IsMultisig()
}

// validationErr wraps err so that it matches ErrValidation too.
func validationErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return fmt.Errorf("%w: %w: %s", ErrValidation, err, msg)
}

// decode base58check-decodes s and returns the 78 byte payload.
func decode(s string) ([]byte, error) {
	result, version, err := base58.CheckDecode(strings.TrimSpace(s))
	switch {
	case errors.Is(err, base58.ErrChecksum):
		return nil, validationErr(ErrChecksum, "")

	case err != nil:
		return nil, validationErr(ErrInvalidLength, "%v", err)
	}

	// CheckDecode splits off the first byte as a version, which for
	// extended keys is only the first byte of the four byte version.
	payload := make([]byte, 0, payloadLen)
	payload = append(payload, version)
	payload = append(payload, result...)

	if len(payload) != payloadLen {
		return nil, validationErr(ErrInvalidLength, "got %d bytes, "+
			"want %d", len(payload), payloadLen)
	}

	return payload, nil
}

// Validate decodes and validates an extended public key for a single-sig
// account. The decoded network must equal expected.
func Validate(s string, expected Network) (*Info, error) {
	return validate(s, expected, false)
}

// ValidateMultisig is like Validate, but treats plain xpub/tpub prefixes as
// P2SH multisig keys and expects multisig account depth.
func ValidateMultisig(s string, expected Network) (*Info, error) {
	return validate(s, expected, true)
}

func validate(s string, expected Network, multisig bool) (*Info, error) {
	payload, err := decode(s)
	if err != nil {
		return nil, err
	}

	version := binary.BigEndian.Uint32(payload[:4])
	if prefix, ok := privateVersions[version]; ok {
		return nil, validationErr(ErrPrivateKeyPrefix, "%s", prefix)
	}

	row, ok := publicVersions[version]
	if !ok {
		return nil, validationErr(ErrUnknownVersion, "%08x", version)
	}

	if row.network != expected {
		return nil, &NetworkMismatchError{
			Found:    row.network,
			Expected: expected,
		}
	}

	keyType := row.keyType
	if multisig && keyType == Legacy {
		keyType = LegacyMultisig
	}

	keyData := payload[45:78]
	if keyData[0] != 0x02 && keyData[0] != 0x03 {
		return nil, validationErr(ErrInvalidPubKey, "prefix byte %02x",
			keyData[0])
	}
	if _, err := secp256k1.ParsePubKey(keyData); err != nil {
		return nil, validationErr(ErrInvalidPubKey, "%v", err)
	}

	info := &Info{
		Network:     row.network,
		KeyType:     keyType,
		Prefix:      row.prefix,
		Purpose:     keyType.Purpose(),
		ScriptType:  keyType.ScriptType(),
		Depth:       payload[4],
		ChildNumber: binary.BigEndian.Uint32(payload[9:13]),
	}
	copy(info.Fingerprint[:], payload[5:9])
	info.PathTemplate = pathTemplate(info)

	if !keyType.depthAllowed(info.Depth) {
		want := keyType.ExpectedDepth()
		warning := fmt.Sprintf("unexpected depth %d for %s key, "+
			"expected %d: the key may be one level off the account "+
			"level", info.Depth, keyType, want)

		info.Warnings = append(info.Warnings, warning)
		log.Warnf("Extended key %s...: %s", s[:min(len(s), 12)],
			warning)
	}

	return info, nil
}

// pathTemplate renders the account path the key is expected to sit at.
func pathTemplate(info *Info) string {
	coin := 0
	if info.Network == Testnet {
		coin = 1
	}

	// Only keys at depth three carry their account index. BIP48 keys end
	// in the script type, so their account is unknown.
	account := uint32(0)
	if info.Depth == 3 && info.KeyType.ExpectedDepth() == 3 &&
		info.ChildNumber >= keychain.HardenedKeyStart {

		account = info.ChildNumber - keychain.HardenedKeyStart
	}

	switch info.KeyType {
	case LegacyMultisig:
		return fmt.Sprintf("m/45'/%d'/%d'", coin, account)

	case SegwitMultisig:
		return fmt.Sprintf("m/48'/%d'/%d'/%d'", coin, account,
			keychain.ScriptTypeNestedWitness)

	case NativeSegwitMultisig:
		return fmt.Sprintf("m/48'/%d'/%d'/%d'", coin, account,
			keychain.ScriptTypeWitness)

	default:
		return fmt.Sprintf("m/%d'/%d'/%d'", info.Purpose, coin,
			account)
	}
}

// Parse validates s and returns a public key node for downstream
// derivation. The node carries the network's standard BIP32 version bytes so
// that it can be re-serialized by any BIP32 tool.
func Parse(s string, expected Network) (*keychain.KeyNode, *Info, error) {
	return parse(s, expected, false)
}

// ParseMultisig is the multisig counterpart of Parse.
func ParseMultisig(s string, expected Network) (*keychain.KeyNode, *Info,
	error) {

	return parse(s, expected, true)
}

func parse(s string, expected Network, multisig bool) (*keychain.KeyNode,
	*Info, error) {

	info, err := validate(s, expected, multisig)
	if err != nil {
		return nil, nil, err
	}

	key, err := hdkeychain.NewKeyFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, nil, validationErr(ErrInvalidPubKey, "%v", err)
	}

	version := standardVersion(info.Network)
	key, err = key.CloneWithVersion(version[:])
	if err != nil {
		return nil, nil, err
	}

	return keychain.NewKeyNode(key, keychain.NewRelativePath()), info, nil
}

// IsValidFormat is a cheap check of the length and prefix of s. It does not
// decode the key.
func IsValidFormat(s string) bool {
	if len(s) != encodedLen {
		return false
	}

	for _, row := range publicVersions {
		if strings.HasPrefix(s, row.prefix) {
			return true
		}
	}

	return false
}

// Encode serializes the public part of node under the SLIP-132 version for
// the given key type and network.
func Encode(node *keychain.KeyNode, keyType KeyType,
	net Network) (string, error) {

	pub, err := node.Neuter()
	if err != nil {
		return "", err
	}

	version := versionFor(keyType, net)
	key, err := pub.ExtendedKey().CloneWithVersion(version[:])
	if err != nil {
		return "", err
	}

	return key.String(), nil
}
