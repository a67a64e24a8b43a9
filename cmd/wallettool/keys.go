// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
)

var errArgCount = errors.New("wrong number of arguments")

// multisigKeyTypes is the SLIP-132 encoding of each multisig account type.
var multisigKeyTypes = map[waddrmgr.AddressType]extkey.KeyType{
	waddrmgr.ScriptHashMultisig:          extkey.LegacyMultisig,
	waddrmgr.NestedWitnessScriptMultisig: extkey.SegwitMultisig,
	waddrmgr.WitnessScriptMultisig:       extkey.NativeSegwitMultisig,
}

// accountKeyParams returns the extended key encoding and the account path
// used for an address type.
func accountKeyParams(addrType waddrmgr.AddressType, account uint32,
	net *chaincfg.Params) (extkey.KeyType, keychain.DerivationPath) {

	coin := keychain.CoinType(net)

	switch addrType {
	case waddrmgr.NestedWitnessPubKey:
		return extkey.Segwit, keychain.AccountPath(
			keychain.PurposeBIP49, coin, account,
		)

	case waddrmgr.WitnessPubKey:
		return extkey.NativeSegwit, keychain.AccountPath(
			keychain.PurposeBIP84, coin, account,
		)

	case waddrmgr.ScriptHashMultisig, waddrmgr.NestedWitnessScriptMultisig,
		waddrmgr.WitnessScriptMultisig:

		// The type is known to be multisig, so there is no error.
		path, _ := waddrmgr.MultisigAccountPathFor(
			addrType, net, account,
		)

		return multisigKeyTypes[addrType], path

	default:
		return extkey.Legacy, keychain.AccountPath(
			keychain.PurposeBIP44, coin, account,
		)
	}
}

type newMnemonicCmd struct {
	Bits int `long:"bits" description:"Entropy strength in bits (128-256, multiple of 32)"`
}

// Execute prints a fresh mnemonic.
func (c *newMnemonicCmd) Execute(_ []string) error {
	mnemonic, err := keychain.NewMnemonic(c.Bits)
	if err != nil {
		return err
	}

	fmt.Println(mnemonic)

	return nil
}

type accountXpubCmd struct {
	Type       string `long:"type" description:"Address type: legacy, segwit, native-segwit, p2sh, p2sh-p2wsh or p2wsh"`
	Account    uint32 `long:"account" description:"Account number"`
	Path       string `long:"path" description:"Derive at this path instead of the standard account path"`
	Passphrase bool   `long:"passphrase" description:"Prompt for a BIP39 passphrase"`
}

// Execute derives the account xpub from a mnemonic read from standard
// input.
func (c *accountXpubCmd) Execute(_ []string) error {
	addrType, err := waddrmgr.ParseAddressType(c.Type)
	if err != nil {
		return err
	}

	keyType, path := accountKeyParams(addrType, c.Account, cfg.net)
	if c.Path != "" {
		path, err = keychain.ParsePath(c.Path)
		if err != nil {
			return err
		}
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

	node, err := keychain.DeriveNode(seed, path, cfg.net)
	if err != nil {
		return err
	}
	defer node.Zero()

	xpub, err := extkey.Encode(node, keyType, cfg.keyNet)
	if err != nil {
		return err
	}

	fmt.Printf("xpub:        %s\n", xpub)
	fmt.Printf("path:        %s\n", path)
	fmt.Printf("fingerprint: %08x\n", fingerprint)

	if addrType.IsMultisig() {
		key := waddrmgr.Cosigner{
			Xpub:        xpub,
			Fingerprint: fingerprint,
			AccountPath: path,
		}
		fmt.Printf("cosigner:    %s\n", key.KeyExpression())
	}

	return nil
}

type validateXpubCmd struct {
	Multisig bool `long:"multisig" description:"Require a key usable in a multisig account"`
}

// Execute validates the extended key given as the only argument.
func (c *validateXpubCmd) Execute(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: validatexpub <xpub>", errArgCount)
	}

	validate := extkey.Validate
	if c.Multisig {
		validate = extkey.ValidateMultisig
	}

	info, err := validate(args[0], cfg.keyNet)
	if err != nil {
		return err
	}

	fmt.Printf("network:     %s\n", info.Network)
	fmt.Printf("type:        %s (%s)\n", info.KeyType, info.Prefix)
	fmt.Printf("script:      %s\n", info.ScriptType)
	fmt.Printf("path:        %s\n", info.PathTemplate)
	fmt.Printf("depth:       %d\n", info.Depth)
	fmt.Printf("parent fp:   %x\n", info.Fingerprint[:])
	for _, w := range info.Warnings {
		fmt.Printf("warning:     %s\n", w)
	}

	return nil
}

type addressesCmd struct {
	Gap   int    `long:"gap" description:"Addresses per chain"`
	From  int    `long:"from" description:"Skip the first addresses per chain and derive up to --gap"`
	Check string `long:"check" description:"Only report whether this address belongs to the xpub"`
}

// Execute derives the addresses of the xpub given as the only argument.
func (c *addressesCmd) Execute(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: addresses <xpub>", errArgCount)
	}
	xpub := args[0]

	if c.Check != "" {
		owned := waddrmgr.ValidateAddressBelongsToXpub(
			c.Check, xpub, cfg.net, c.Gap,
		)
		fmt.Println(strconv.FormatBool(owned))

		return nil
	}

	var (
		addrs []waddrmgr.DerivedAddress
		err   error
	)
	if c.From > 0 {
		addrs, err = waddrmgr.ExpandAddresses(
			xpub, cfg.net, c.From, c.Gap,
		)
	} else {
		addrs, err = waddrmgr.DeriveAddresses(xpub, cfg.net, c.Gap)
	}
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		fmt.Println(addr)
	}

	return nil
}

type multisigAddrCmd struct {
	Policy    string   `long:"policy" description:"Signing policy, e.g. 2-of-3"`
	Type      string   `long:"type" description:"Script type: p2sh, p2sh-p2wsh or p2wsh"`
	Cosigners []string `long:"cosigner" description:"Cosigner key as [fingerprint/path]xpub, own key first; repeat for every cosigner"`
	Index     uint32   `long:"index" description:"Address index"`
	Change    bool     `long:"change" description:"Derive from the change chain"`
}

// multisigAccount assembles a multisig account from a policy, a script type
// and descriptor key expressions, own key first.
func multisigAccount(policyStr, typeStr string,
	cosigners []string) (*waddrmgr.MultisigAccount, error) {

	policy, err := waddrmgr.ParseMultisigConfig(policyStr)
	if err != nil {
		return nil, err
	}

	addrType, err := waddrmgr.ParseAddressType(typeStr)
	if err != nil {
		return nil, err
	}

	if len(cosigners) == 0 {
		return nil, fmt.Errorf("%w: at least one --cosigner is "+
			"required", errArgCount)
	}

	keys := make([]waddrmgr.Cosigner, len(cosigners))
	for i, expr := range cosigners {
		keys[i], err = waddrmgr.ParseKeyExpression(expr)
		if err != nil {
			return nil, err
		}

		if !keys[i].AccountPath.IsAbsolute() {
			log.Warnf("Cosigner %d has no key origin, its "+
				"signatures cannot be tracked", i)
		}
	}

	account := &waddrmgr.MultisigAccount{
		Config:         policy,
		AddressType:    addrType,
		OwnXpub:        keys[0].Xpub,
		OwnFingerprint: keys[0].Fingerprint,
		OwnAccountPath: keys[0].AccountPath,
	}
	for i, key := range keys[1:] {
		key.Name = fmt.Sprintf("cosigner %d", i+1)
		account.Cosigners = append(account.Cosigners, key)
	}

	return account, nil
}

// account assembles the multisig account described by the flags.
func (c *multisigAddrCmd) account() (*waddrmgr.MultisigAccount, error) {
	return multisigAccount(c.Policy, c.Type, c.Cosigners)
}

// Execute derives one multisig address.
func (c *multisigAddrCmd) Execute(_ []string) error {
	account, err := c.account()
	if err != nil {
		return err
	}

	addr, err := waddrmgr.DeriveMultisigAddress(
		account, cfg.net, c.Index, c.Change,
	)
	if err != nil {
		return err
	}

	fmt.Printf("address:        %s\n", addr.Address)
	fmt.Printf("policy:         %s %s\n", account.Config, addr.Type)
	if addr.Scripts.RedeemScript != nil {
		fmt.Printf("redeem script:  %x\n", addr.Scripts.RedeemScript)
	}
	if addr.Scripts.WitnessScript != nil {
		fmt.Printf("witness script: %x\n", addr.Scripts.WitnessScript)
	}
	for _, origin := range addr.Origins {
		fmt.Printf("key:            %s %s\n",
			hex.EncodeToString(origin.PubKey), formatOrigin(origin))
	}

	return nil
}

// formatOrigin renders a key origin in the descriptor style. Keys without
// a known account origin show their path below the account key.
func formatOrigin(origin waddrmgr.KeyOrigin) string {
	if !origin.Path.IsAbsolute() {
		return "(unknown origin) " + origin.Path.String()
	}

	return fmt.Sprintf("[%08x%s]", origin.Fingerprint,
		trimMaster(origin.Path))
}

// trimMaster renders path without its leading "m" in the descriptor key
// origin style.
func trimMaster(path keychain.DerivationPath) string {
	s := path.String()
	if len(s) > 0 && s[0] == 'm' {
		return s[1:]
	}

	return s
}
