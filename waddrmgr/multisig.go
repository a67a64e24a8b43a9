// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
)

// MaxMultisigKeys is the largest number of keys allowed in a standard
// multisig script.
const MaxMultisigKeys = 15

// ErrMultisigScript is returned for invalid M-of-N policies and scripts that
// do not match their declared policy.
var ErrMultisigScript = errors.New("invalid multisig script")

// ErrKeyOrigin is returned when a participant's key origin does not match
// its extended key.
var ErrKeyOrigin = fmt.Errorf("%w: key origin mismatch", ErrMultisigScript)

// MultisigConfig is an M-of-N signing policy.
type MultisigConfig struct {
	// M is the number of required signatures.
	M int

	// N is the total number of keys.
	N int
}

// ParseMultisigConfig parses a policy of the form "2-of-3".
func ParseMultisigConfig(s string) (MultisigConfig, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "-of-")
	if len(parts) != 2 {
		return MultisigConfig{}, fmt.Errorf("%w: malformed policy %q",
			ErrMultisigScript, s)
	}

	m, err := strconv.Atoi(parts[0])
	if err != nil {
		return MultisigConfig{}, fmt.Errorf("%w: %v", ErrMultisigScript,
			err)
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return MultisigConfig{}, fmt.Errorf("%w: %v", ErrMultisigScript,
			err)
	}

	cfg := MultisigConfig{M: m, N: n}

	return cfg, cfg.Validate()
}

// Validate checks 1 <= M <= N <= MaxMultisigKeys.
func (c MultisigConfig) Validate() error {
	if c.M < 1 || c.N < c.M || c.N > MaxMultisigKeys {
		return fmt.Errorf("%w: %d-of-%d is not a valid policy",
			ErrMultisigScript, c.M, c.N)
	}

	return nil
}

// String returns the policy in M-of-N form.
func (c MultisigConfig) String() string {
	return fmt.Sprintf("%d-of-%d", c.M, c.N)
}

// MultisigScriptSet holds the scripts for one multisig address.
type MultisigScriptSet struct {
	// Address is the encoded address.
	Address string

	// Type is the script family.
	Type AddressType

	// PkScript is the locking script of the address.
	PkScript []byte

	// RedeemScript is set for p2sh and p2sh-p2wsh addresses.
	RedeemScript []byte

	// WitnessScript is set for p2wsh and p2sh-p2wsh addresses.
	WitnessScript []byte

	// PubKeys are the compressed keys in BIP67 order.
	PubKeys [][]byte

	// M is the number of required signatures.
	M int

	// N is the number of keys.
	N int
}

// MultisigScript returns the bare OP_CHECKMULTISIG script.
func (s *MultisigScriptSet) MultisigScript() []byte {
	if s.WitnessScript != nil {
		return s.WitnessScript
	}

	return s.RedeemScript
}

// SortPubKeys sorts compressed public keys lexicographically as required by
// BIP67. The input slice is not modified.
func SortPubKeys(pubKeys []*btcec.PublicKey) [][]byte {
	sorted := make([][]byte, len(pubKeys))
	for i, pub := range pubKeys {
		sorted[i] = pub.SerializeCompressed()
	}

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	return sorted
}

// BuildMultisigScript builds the scripts and address for an M-of-N policy
// over pubKeys, which are sorted per BIP67 first.
func BuildMultisigScript(pubKeys []*btcec.PublicKey, m int,
	addrType AddressType, net *chaincfg.Params) (*MultisigScriptSet,
	error) {

	cfg := MultisigConfig{M: m, N: len(pubKeys)}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !addrType.IsMultisig() {
		return nil, fmt.Errorf("%w: %v is not a multisig type",
			ErrUnknownAddrType, addrType)
	}

	sorted := SortPubKeys(pubKeys)
	addrPubKeys := make([]*btcutil.AddressPubKey, len(sorted))
	for i, pub := range sorted {
		if i > 0 && bytes.Equal(sorted[i-1], pub) {
			return nil, fmt.Errorf("%w: duplicate public key %x",
				ErrMultisigScript, pub)
		}

		addr, err := btcutil.NewAddressPubKey(pub, net)
		if err != nil {
			return nil, err
		}
		addrPubKeys[i] = addr
	}

	script, err := txscript.MultiSigScript(addrPubKeys, m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMultisigScript, err)
	}

	set := &MultisigScriptSet{
		Type:    addrType,
		PubKeys: sorted,
		M:       cfg.M,
		N:       cfg.N,
	}

	var addr btcutil.Address
	switch addrType {
	case ScriptHashMultisig:
		set.RedeemScript = script
		addr, err = btcutil.NewAddressScriptHash(script, net)

	case WitnessScriptMultisig:
		set.WitnessScript = script
		scriptHash := sha256.Sum256(script)
		addr, err = btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], net,
		)

	case NestedWitnessScriptMultisig:
		set.WitnessScript = script

		scriptHash := sha256.Sum256(script)
		var witAddr btcutil.Address
		witAddr, err = btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], net,
		)
		if err != nil {
			return nil, err
		}

		set.RedeemScript, err = txscript.PayToAddrScript(witAddr)
		if err != nil {
			return nil, err
		}

		addr, err = btcutil.NewAddressScriptHash(set.RedeemScript, net)
	}
	if err != nil {
		return nil, err
	}

	set.Address = addr.EncodeAddress()
	set.PkScript, err = txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return set, nil
}

// Cosigner is one participant of a multisig account.
type Cosigner struct {
	// Name is a display label.
	Name string

	// Xpub is the cosigner's account-level extended public key.
	Xpub string

	// Fingerprint is the cosigner's master key fingerprint.
	Fingerprint uint32

	// AccountPath is the absolute path of Xpub below the cosigner's
	// master key. The zero value means the origin is unknown.
	AccountPath keychain.DerivationPath
}

// ParseKeyExpression parses a descriptor key expression of the form
// "[fingerprint/path]xpub". A bare extended key is accepted and yields a
// cosigner without origin.
func ParseKeyExpression(s string) (Cosigner, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return Cosigner{Xpub: s}, nil
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return Cosigner{}, fmt.Errorf("%w: unterminated origin in %q",
			ErrKeyOrigin, s)
	}

	origin, xpub := s[1:end], s[end+1:]
	fpHex, path, _ := strings.Cut(origin, "/")

	fpBytes, err := hex.DecodeString(fpHex)
	if err != nil || len(fpBytes) != 4 {
		return Cosigner{}, fmt.Errorf("%w: bad fingerprint %q",
			ErrKeyOrigin, fpHex)
	}

	full := "m"
	if path != "" {
		full += "/" + path
	}

	accountPath, err := keychain.ParsePath(full)
	if err != nil {
		return Cosigner{}, fmt.Errorf("%w: %v", ErrKeyOrigin, err)
	}

	return Cosigner{
		Xpub:        xpub,
		Fingerprint: binary.BigEndian.Uint32(fpBytes),
		AccountPath: accountPath,
	}, nil
}

// KeyExpression renders the cosigner as a descriptor key expression.
func (c Cosigner) KeyExpression() string {
	if !c.AccountPath.IsAbsolute() {
		return c.Xpub
	}

	return fmt.Sprintf("[%08x%s]%s", c.Fingerprint,
		strings.TrimPrefix(c.AccountPath.String(), "m"), c.Xpub)
}

// MultisigAccountPathFor returns the account path convention for addrType:
// m/45'/coin'/account' for plain p2sh and the BIP48 path of the script type
// otherwise.
func MultisigAccountPathFor(addrType AddressType, net *chaincfg.Params,
	account uint32) (keychain.DerivationPath, error) {

	coin := keychain.CoinType(net)
	switch addrType {
	case ScriptHashMultisig:
		return keychain.AccountPath(
			keychain.PurposeBIP45, coin, account,
		), nil

	case NestedWitnessScriptMultisig:
		return keychain.MultisigAccountPath(
			coin, account, keychain.ScriptTypeNestedWitness,
		), nil

	case WitnessScriptMultisig:
		return keychain.MultisigAccountPath(
			coin, account, keychain.ScriptTypeWitness,
		), nil

	default:
		return keychain.DerivationPath{}, fmt.Errorf("%w: %v is not "+
			"a multisig type", ErrUnknownAddrType, addrType)
	}
}

// MultisigAccount describes a multisig account. It is owned and persisted
// by the caller.
type MultisigAccount struct {
	// Name is a display label.
	Name string

	// Config is the signing policy.
	Config MultisigConfig

	// AddressType selects the script wrapping.
	AddressType AddressType

	// Cosigners are the other participants.
	Cosigners []Cosigner

	// OwnXpub is this wallet's account-level extended public key.
	OwnXpub string

	// OwnFingerprint is this wallet's master key fingerprint.
	OwnFingerprint uint32

	// OwnAccountPath is the absolute path of OwnXpub below this wallet's
	// master key. The zero value means the origin is unknown.
	OwnAccountPath keychain.DerivationPath
}

// Xpubs returns the extended keys of every participant, own key first.
func (a *MultisigAccount) Xpubs() []string {
	xpubs := make([]string, 0, len(a.Cosigners)+1)
	xpubs = append(xpubs, a.OwnXpub)
	for _, c := range a.Cosigners {
		xpubs = append(xpubs, c.Xpub)
	}

	return xpubs
}

// fingerprints returns the master fingerprints in Xpubs order.
func (a *MultisigAccount) fingerprints() []uint32 {
	fps := make([]uint32, 0, len(a.Cosigners)+1)
	fps = append(fps, a.OwnFingerprint)
	for _, c := range a.Cosigners {
		fps = append(fps, c.Fingerprint)
	}

	return fps
}

// accountPaths returns the account paths in Xpubs order.
func (a *MultisigAccount) accountPaths() []keychain.DerivationPath {
	paths := make([]keychain.DerivationPath, 0, len(a.Cosigners)+1)
	paths = append(paths, a.OwnAccountPath)
	for _, c := range a.Cosigners {
		paths = append(paths, c.AccountPath)
	}

	return paths
}

// DisplayName returns the account label, falling back to the account index.
func (a *MultisigAccount) DisplayName(account uint32) string {
	if a.Name != "" {
		return a.Name
	}

	return AccountName(account)
}

// Validate checks the policy, the address type and every participant key.
func (a *MultisigAccount) Validate(net *chaincfg.Params) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}

	if !a.AddressType.IsMultisig() {
		return fmt.Errorf("%w: %v is not a multisig type",
			ErrUnknownAddrType, a.AddressType)
	}

	xpubs := a.Xpubs()
	if len(xpubs) != a.Config.N {
		return fmt.Errorf("%w: policy %v needs %d keys, account has %d",
			ErrMultisigScript, a.Config, a.Config.N, len(xpubs))
	}

	paths := a.accountPaths()
	seen := make(map[string]struct{}, len(xpubs))
	for i, xpub := range xpubs {
		node, info, err := extkey.ParseMultisig(
			xpub, extkey.NetworkFromParams(net),
		)
		if err != nil {
			return err
		}

		if err := checkOrigin(paths[i], info); err != nil {
			return err
		}

		// SLIP-132 multisig prefixes pin the script type; plain
		// xpub/tpub keys may be used with any of them.
		keyAddrType := AddressTypeForKey(info.KeyType)
		if info.KeyType != extkey.LegacyMultisig &&
			keyAddrType != a.AddressType {

			return fmt.Errorf("%w: %s key does not match %v account",
				ErrMultisigScript, info.Prefix, a.AddressType)
		}

		pub, err := node.PubKey()
		if err != nil {
			return err
		}

		id := string(pub.SerializeCompressed())
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate cosigner key",
				ErrMultisigScript)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// checkOrigin verifies that path can be the origin of the key described by
// info. Unknown origins pass.
func checkOrigin(path keychain.DerivationPath, info *extkey.Info) error {
	if !path.IsAbsolute() {
		if path.Len() > 0 {
			return fmt.Errorf("%w: account path %v is relative",
				ErrKeyOrigin, path)
		}

		return nil
	}

	if path.Len() != int(info.Depth) {
		return fmt.Errorf("%w: path %v has depth %d, key has depth %d",
			ErrKeyOrigin, path, path.Len(), info.Depth)
	}

	if path.Len() == 0 {
		return nil
	}

	nums := path.ChildNumbers()
	if last := nums[len(nums)-1]; last != info.ChildNumber {
		return fmt.Errorf("%w: path %v ends in child %d, key is "+
			"child %d", ErrKeyOrigin, path, last, info.ChildNumber)
	}

	return nil
}

// KeyOrigin records where a participant key of a multisig address comes
// from.
type KeyOrigin struct {
	// PubKey is the compressed child key.
	PubKey []byte

	// Fingerprint is the participant's master key fingerprint, zero when
	// unknown.
	Fingerprint uint32

	// Path is the full derivation path of PubKey. It is relative to the
	// participant's account key when the account origin is unknown.
	Path keychain.DerivationPath
}

// MultisigAddress is a derived multisig address with its scripts.
type MultisigAddress struct {
	DerivedAddress

	// Scripts holds the redeem/witness scripts of the address.
	Scripts *MultisigScriptSet

	// Origins has one entry per participant in account order, own key
	// first.
	Origins []KeyOrigin
}

// multisigDeriver derives multisig addresses for an account.
type multisigDeriver struct {
	account *MultisigAccount
	net     *chaincfg.Params

	// paths and fingerprints are the participant origins in Xpubs
	// order.
	paths        []keychain.DerivationPath
	fingerprints []uint32

	// branches holds the external and internal branch nodes of every
	// participant.
	branches [2][]*keychain.KeyNode
}

func newMultisigDeriver(account *MultisigAccount,
	net *chaincfg.Params) (*multisigDeriver, error) {

	if err := account.Validate(net); err != nil {
		return nil, err
	}

	d := &multisigDeriver{
		account:      account,
		net:          net,
		paths:        account.accountPaths(),
		fingerprints: account.fingerprints(),
	}

	for _, xpub := range account.Xpubs() {
		node, _, err := extkey.ParseMultisig(
			xpub, extkey.NetworkFromParams(net),
		)
		if err != nil {
			return nil, err
		}

		for branch := range d.branches {
			child, err := keychain.DerivePath(
				node, keychain.NewRelativePath(
					keychain.PathSegment{
						Index: uint32(branch),
					},
				),
			)
			if err != nil {
				return nil, err
			}

			d.branches[branch] = append(d.branches[branch], child)
		}
	}

	return d, nil
}

func (d *multisigDeriver) derive(index uint32,
	change bool) (*MultisigAddress, error) {

	branch := 0
	if change {
		branch = 1
	}

	rel := keychain.AddressPath(change, index)

	pubKeys := make([]*btcec.PublicKey, 0, len(d.branches[branch]))
	origins := make([]KeyOrigin, 0, len(d.branches[branch]))
	for i, node := range d.branches[branch] {
		child, err := keychain.DerivePath(
			node, keychain.NewRelativePath(keychain.PathSegment{
				Index: index,
			}),
		)
		if err != nil {
			return nil, err
		}

		pub, err := child.PubKey()
		if err != nil {
			return nil, err
		}

		path := rel
		if d.paths[i].IsAbsolute() {
			path = d.paths[i].Join(rel)
		}

		pubKeys = append(pubKeys, pub)
		origins = append(origins, KeyOrigin{
			PubKey:      pub.SerializeCompressed(),
			Fingerprint: d.fingerprints[i],
			Path:        path,
		})
	}

	set, err := BuildMultisigScript(
		pubKeys, d.account.Config.M, d.account.AddressType, d.net,
	)
	if err != nil {
		return nil, err
	}

	return &MultisigAddress{
		DerivedAddress: DerivedAddress{
			Address: set.Address,
			Path:    origins[0].Path,
			Index:   index,
			Change:  change,
			Type:    d.account.AddressType,
		},
		Scripts: set,
		Origins: origins,
	}, nil
}

// DeriveMultisigAddress derives the multisig address at index on the
// requested chain. Every participant key is derived independently at
// change/index before the BIP67 sort.
func DeriveMultisigAddress(account *MultisigAccount, net *chaincfg.Params,
	index uint32, change bool) (*MultisigAddress, error) {

	if index >= keychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: index %d is hardened",
			keychain.ErrInvalidPath, index)
	}

	d, err := newMultisigDeriver(account, net)
	if err != nil {
		return nil, err
	}

	return d.derive(index, change)
}

// DeriveMultisigAddresses derives gapLimit receiving and gapLimit change
// multisig addresses.
func DeriveMultisigAddresses(account *MultisigAccount, net *chaincfg.Params,
	gapLimit int) ([]*MultisigAddress, error) {

	if err := checkGapLimit(gapLimit); err != nil {
		return nil, err
	}

	d, err := newMultisigDeriver(account, net)
	if err != nil {
		return nil, err
	}

	addrs := make([]*MultisigAddress, 0, 2*gapLimit)
	for _, change := range []bool{false, true} {
		for i := uint32(0); i < uint32(gapLimit); i++ {
			addr, err := d.derive(i, change)
			if err != nil {
				return nil, err
			}

			addrs = append(addrs, addr)
		}
	}

	log.Debugf("Derived %d %v multisig addresses for %v", len(addrs),
		account.AddressType, account.Config)

	return addrs, nil
}
