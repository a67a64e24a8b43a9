// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain implements BIP32 hierarchical key derivation and BIP39
// mnemonic handling. Key material produced here is owned by the caller and is
// never cached by the package.
package keychain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrPrivateKeyRequired is returned when a hardened derivation step is
	// requested on a node that only carries public key material.
	ErrPrivateKeyRequired = errors.New("private key required for " +
		"hardened derivation")

	// ErrInvalidSeed is returned when the seed length is outside of the
	// range allowed by BIP32.
	ErrInvalidSeed = errors.New("invalid seed")
)

// KeyNode is a single node of a BIP32 key tree.
type KeyNode struct {
	key *hdkeychain.ExtendedKey

	// path is the path from the master node when it is known. Nodes built
	// from an extended public key only know their relative position.
	path DerivationPath
}

// NewKeyNode wraps an existing extended key. The path is recorded as given
// and is only used for display and PSBT derivation records.
func NewKeyNode(key *hdkeychain.ExtendedKey, path DerivationPath) *KeyNode {
	return &KeyNode{key: key, path: path}
}

// NewMasterNode creates the master node for the given seed.
func NewMasterNode(seed []byte, net *chaincfg.Params) (*KeyNode, error) {
	master, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}

	return &KeyNode{key: master, path: NewPath()}, nil
}

// DeriveNode derives the node at the given absolute path from a seed.
func DeriveNode(seed []byte, path DerivationPath,
	net *chaincfg.Params) (*KeyNode, error) {

	if !path.IsAbsolute() {
		return nil, fmt.Errorf("%w: %s is not anchored at the master "+
			"node", ErrInvalidPath, path)
	}

	master, err := NewMasterNode(seed, net)
	if err != nil {
		return nil, err
	}

	if path.Len() == 0 {
		return master, nil
	}

	node, err := derive(master, path.segments)

	// The master key holds the root private key, which no caller needs
	// once the target node exists.
	master.Zero()

	if err != nil {
		return nil, err
	}

	log.Tracef("Derived node at %v (depth=%d)", path, node.Depth())

	return node, nil
}

// DerivePath continues derivation from an existing node using a relative
// path.
func DerivePath(node *KeyNode, rel DerivationPath) (*KeyNode, error) {
	if rel.IsAbsolute() {
		return nil, fmt.Errorf("%w: expected relative path, got %s",
			ErrInvalidPath, rel)
	}

	return derive(node, rel.segments)
}

// derive walks the given segments starting at node.
func derive(node *KeyNode, segments []PathSegment) (*KeyNode, error) {
	current := node.key
	path := node.path

	for _, seg := range segments {
		if seg.Hardened && !current.IsPrivate() {
			return nil, fmt.Errorf("%w: cannot derive %s from a "+
				"public node", ErrPrivateKeyRequired, seg)
		}

		child, err := current.Derive(seg.ChildNumber())
		switch {
		case errors.Is(err, hdkeychain.ErrDeriveHardFromPublic):
			return nil, fmt.Errorf("%w: %v", ErrPrivateKeyRequired,
				err)

		case err != nil:
			return nil, fmt.Errorf("derive %s: %w", seg, err)
		}

		current = child
		path = path.Child(seg.Index, seg.Hardened)
	}

	return &KeyNode{key: current, path: path}, nil
}

// Depth returns the depth of the node, 0 for the master node.
func (n *KeyNode) Depth() uint8 {
	return n.key.Depth()
}

// ChildIndex returns the raw child number, including the hardened offset.
func (n *KeyNode) ChildIndex() uint32 {
	return n.key.ChildIndex()
}

// ChainCode returns the chain code of the node.
func (n *KeyNode) ChainCode() []byte {
	return n.key.ChainCode()
}

// ParentFingerprint returns the fingerprint of the parent node.
func (n *KeyNode) ParentFingerprint() uint32 {
	return n.key.ParentFingerprint()
}

// Path returns the derivation path known for this node.
func (n *KeyNode) Path() DerivationPath {
	return n.path
}

// IsPrivate reports whether the node carries a private key.
func (n *KeyNode) IsPrivate() bool {
	return n.key.IsPrivate()
}

// PubKey returns the public key of the node.
func (n *KeyNode) PubKey() (*btcec.PublicKey, error) {
	return n.key.ECPubKey()
}

// PrivKey returns the private key of the node if it has one.
func (n *KeyNode) PrivKey() fn.Option[*btcec.PrivateKey] {
	if !n.key.IsPrivate() {
		return fn.None[*btcec.PrivateKey]()
	}

	priv, err := n.key.ECPrivKey()
	if err != nil {
		return fn.None[*btcec.PrivateKey]()
	}

	return fn.Some(priv)
}

// Fingerprint returns the first four bytes of the hash160 of the node's
// compressed public key, as used by BIP32 and PSBT derivation records.
func (n *KeyNode) Fingerprint() (uint32, error) {
	pub, err := n.key.ECPubKey()
	if err != nil {
		return 0, err
	}

	id := btcutil.Hash160(pub.SerializeCompressed())

	return binary.BigEndian.Uint32(id[:4]), nil
}

// Neuter returns a public-only copy of the node.
func (n *KeyNode) Neuter() (*KeyNode, error) {
	pub, err := n.key.Neuter()
	if err != nil {
		return nil, err
	}

	return &KeyNode{key: pub, path: n.path}, nil
}

// ExtendedKey exposes the underlying extended key.
func (n *KeyNode) ExtendedKey() *hdkeychain.ExtendedKey {
	return n.key
}

// String returns the base58 serialization of the node under the network's
// standard version bytes.
func (n *KeyNode) String() string {
	return n.key.String()
}

// Zero wipes the key material held by the node.
func (n *KeyNode) Zero() {
	n.key.Zero()
}
