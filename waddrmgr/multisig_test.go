package waddrmgr

import (
	"bytes"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/stretchr/testify/require"
)

// cosignerSeed returns a deterministic seed for cosigner i.
func cosignerSeed(i byte) []byte {
	h := sha256.Sum256([]byte{'c', 'o', 's', 'i', 'g', 'n', 'e', 'r', i})
	return h[:]
}

// testKeys returns n deterministic public keys.
func testKeys(t *testing.T, n int) []*btcec.PublicKey {
	t.Helper()

	keys := make([]*btcec.PublicKey, n)
	for i := range keys {
		h := sha256.Sum256([]byte{byte(i), 'k'})
		priv, _ := btcec.PrivKeyFromBytes(h[:])
		keys[i] = priv.PubKey()
	}

	return keys
}

// testMultisigAccount builds a 2-of-3 account from three seeds at account
// index zero.
func testMultisigAccount(t *testing.T, addrType AddressType,
	keyType extkey.KeyType) *MultisigAccount {

	t.Helper()

	return testMultisigAccountAt(t, addrType, keyType, 0, 0)
}

// testMultisigAccountAt builds a 2-of-3 account where participant i uses
// account index account+i*step of the address type's path convention.
func testMultisigAccountAt(t *testing.T, addrType AddressType,
	keyType extkey.KeyType, account, step uint32) *MultisigAccount {

	t.Helper()

	net := &chaincfg.TestNet3Params

	cosigners := make([]Cosigner, 3)
	for i := range cosigners {
		seed := cosignerSeed(byte(i))

		path, err := MultisigAccountPathFor(
			addrType, net, account+uint32(i)*step,
		)
		require.NoError(t, err)

		master, err := keychain.NewMasterNode(seed, net)
		require.NoError(t, err)
		fp, err := master.Fingerprint()
		require.NoError(t, err)

		cosigners[i] = Cosigner{
			Xpub: accountXpub(
				t, seed, path.String(), keyType, net,
			),
			Fingerprint: fp,
			AccountPath: path,
		}
	}
	cosigners[1].Name = "alice"
	cosigners[2].Name = "bob"

	return &MultisigAccount{
		Config:         MultisigConfig{M: 2, N: 3},
		AddressType:    addrType,
		OwnXpub:        cosigners[0].Xpub,
		OwnFingerprint: cosigners[0].Fingerprint,
		OwnAccountPath: cosigners[0].AccountPath,
		Cosigners:      cosigners[1:],
	}
}

// TestParseMultisigConfig checks policy parsing and bounds.
func TestParseMultisigConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		policy string
		want   MultisigConfig
		valid  bool
	}{
		{name: "2-of-3", policy: "2-of-3",
			want: MultisigConfig{2, 3}, valid: true},
		{name: "upper case", policy: " 3-OF-5 ",
			want: MultisigConfig{3, 5}, valid: true},
		{name: "1-of-1", policy: "1-of-1",
			want: MultisigConfig{1, 1}, valid: true},
		{name: "15-of-15", policy: "15-of-15",
			want: MultisigConfig{15, 15}, valid: true},
		{name: "m above n", policy: "4-of-3"},
		{name: "zero m", policy: "0-of-3"},
		{name: "too many keys", policy: "2-of-16"},
		{name: "garbage", policy: "two of three"},
		{name: "missing n", policy: "2-of-"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := ParseMultisigConfig(tc.policy)
			if !tc.valid {
				require.ErrorIs(t, err, ErrMultisigScript)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, cfg)
			require.Equal(t, strings.ToLower(
				strings.TrimSpace(tc.policy)), cfg.String())
		})
	}
}

// TestBuildMultisigScript checks BIP67 ordering and the script wrappings.
func TestBuildMultisigScript(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params
	keys := testKeys(t, 3)
	reversed := []*btcec.PublicKey{keys[2], keys[1], keys[0]}

	for _, addrType := range []AddressType{
		ScriptHashMultisig, NestedWitnessScriptMultisig,
		WitnessScriptMultisig,
	} {
		t.Run(addrType.String(), func(t *testing.T) {
			t.Parallel()

			set, err := BuildMultisigScript(keys, 2, addrType, net)
			require.NoError(t, err)

			// Input order does not matter.
			set2, err := BuildMultisigScript(reversed, 2, addrType, net)
			require.NoError(t, err)
			require.Equal(t, set, set2)

			for i := 1; i < len(set.PubKeys); i++ {
				require.Negative(t, bytes.Compare(
					set.PubKeys[i-1], set.PubKeys[i],
				))
			}

			script := set.MultisigScript()
			require.Equal(t, txscript.MultiSigTy,
				txscript.GetScriptClass(script))

			numKeys, numSigs, err := txscript.CalcMultiSigStats(script)
			require.NoError(t, err)
			require.Equal(t, 3, numKeys)
			require.Equal(t, 2, numSigs)

			addr, err := btcutil.DecodeAddress(set.Address, net)
			require.NoError(t, err)
			pkScript, err := txscript.PayToAddrScript(addr)
			require.NoError(t, err)
			require.Equal(t, pkScript, set.PkScript)

			switch addrType {
			case ScriptHashMultisig:
				require.Nil(t, set.WitnessScript)
				require.True(t, txscript.IsPayToScriptHash(
					set.PkScript,
				))

			case NestedWitnessScriptMultisig:
				require.NotNil(t, set.WitnessScript)
				require.True(t, txscript.IsPayToWitnessScriptHash(
					set.RedeemScript,
				))
				require.True(t, txscript.IsPayToScriptHash(
					set.PkScript,
				))

			case WitnessScriptMultisig:
				require.Nil(t, set.RedeemScript)
				require.True(t, txscript.IsPayToWitnessScriptHash(
					set.PkScript,
				))
				require.True(t, strings.HasPrefix(
					set.Address, "tb1q",
				))
			}
		})
	}
}

// TestBuildMultisigScriptRejects covers invalid policies.
func TestBuildMultisigScriptRejects(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params
	keys := testKeys(t, 16)

	_, err := BuildMultisigScript(keys, 2, WitnessScriptMultisig, net)
	require.ErrorIs(t, err, ErrMultisigScript)

	_, err = BuildMultisigScript(keys[:3], 4, WitnessScriptMultisig, net)
	require.ErrorIs(t, err, ErrMultisigScript)

	_, err = BuildMultisigScript(keys[:3], 0, WitnessScriptMultisig, net)
	require.ErrorIs(t, err, ErrMultisigScript)

	dup := []*btcec.PublicKey{keys[0], keys[1], keys[0]}
	_, err = BuildMultisigScript(dup, 2, WitnessScriptMultisig, net)
	require.ErrorIs(t, err, ErrMultisigScript)

	_, err = BuildMultisigScript(keys[:3], 2, WitnessPubKey, net)
	require.ErrorIs(t, err, ErrUnknownAddrType)
}

// TestDeriveMultisigAddresses derives a 2-of-3 account and checks the
// result against independently built scripts.
func TestDeriveMultisigAddresses(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params

	testCases := []struct {
		name     string
		addrType AddressType
		keyType  extkey.KeyType
		prefix   string
		path     string
	}{
		{
			name:     "p2wsh Vpub",
			addrType: WitnessScriptMultisig,
			keyType:  extkey.NativeSegwitMultisig,
			prefix:   "tb1q",
			path:     "m/48'/1'/0'/2'/0/3",
		},
		{
			name:     "p2sh-p2wsh Upub",
			addrType: NestedWitnessScriptMultisig,
			keyType:  extkey.SegwitMultisig,
			prefix:   "2",
			path:     "m/48'/1'/0'/1'/0/3",
		},
		{
			name:     "p2wsh tpub",
			addrType: WitnessScriptMultisig,
			keyType:  extkey.Legacy,
			prefix:   "tb1q",
			path:     "m/48'/1'/0'/2'/0/3",
		},
		{
			name:     "p2sh tpub",
			addrType: ScriptHashMultisig,
			keyType:  extkey.Legacy,
			prefix:   "2",
			path:     "m/45'/1'/0'/0/3",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			account := testMultisigAccount(t, tc.addrType, tc.keyType)
			require.NoError(t, account.Validate(net))

			addrs, err := DeriveMultisigAddresses(account, net, 5)
			require.NoError(t, err)
			require.Len(t, addrs, 10)

			single, err := DeriveMultisigAddress(account, net, 3, false)
			require.NoError(t, err)
			require.Equal(t, addrs[3].Address, single.Address)
			require.Equal(t, tc.path, single.Path.String())
			require.True(t, strings.HasPrefix(
				single.Address, tc.prefix,
			))
			require.Equal(t, 2, single.Scripts.M)
			require.Equal(t, 3, single.Scripts.N)

			// Every participant key is in the script set.
			require.Len(t, single.Origins, 3)
			for _, origin := range single.Origins {
				require.Contains(t, single.Scripts.PubKeys,
					origin.PubKey)
				require.Equal(t, tc.path, origin.Path.String())
			}

			// Reordering the cosigners does not change addresses.
			swapped := *account
			swapped.Cosigners = []Cosigner{
				account.Cosigners[1], account.Cosigners[0],
			}
			again, err := DeriveMultisigAddress(&swapped, net, 3, false)
			require.NoError(t, err)
			require.Equal(t, single.Address, again.Address)

			// Change addresses differ from receive addresses.
			change, err := DeriveMultisigAddress(account, net, 3, true)
			require.NoError(t, err)
			require.NotEqual(t, single.Address, change.Address)
			require.Equal(t, addrs[8].Address, change.Address)
		})
	}
}

// TestMultisigAccountValidate covers the account level checks.
func TestMultisigAccountValidate(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params

	account := testMultisigAccount(
		t, WitnessScriptMultisig, extkey.NativeSegwitMultisig,
	)

	// Wrong cosigner count.
	short := *account
	short.Cosigners = account.Cosigners[:1]
	require.ErrorIs(t, short.Validate(net), ErrMultisigScript)

	// Duplicate cosigner.
	dup := *account
	dup.Cosigners = []Cosigner{account.Cosigners[0], account.Cosigners[0]}
	require.ErrorIs(t, dup.Validate(net), ErrMultisigScript)

	// Vpub keys cannot back a p2sh-p2wsh account.
	mismatch := *account
	mismatch.AddressType = NestedWitnessScriptMultisig
	require.ErrorIs(t, mismatch.Validate(net), ErrMultisigScript)

	// Testnet keys on mainnet.
	require.ErrorIs(t, account.Validate(&chaincfg.MainNetParams),
		extkey.ErrNetworkMismatch)

	// Origins must match the depth and child number of their keys.
	shallow := *account
	shallow.OwnAccountPath = keychain.MustParsePath("m/48'/1'/0'")
	require.ErrorIs(t, shallow.Validate(net), ErrKeyOrigin)

	wrongChild := *account
	wrongChild.OwnAccountPath = keychain.MustParsePath("m/48'/1'/0'/1'")
	require.ErrorIs(t, wrongChild.Validate(net), ErrKeyOrigin)

	relative := *account
	relative.OwnAccountPath = keychain.MustParsePath("48'/1'/0'/2'")
	require.ErrorIs(t, relative.Validate(net), ErrKeyOrigin)
	require.ErrorIs(t, relative.Validate(net), ErrMultisigScript)

	// Unknown origins are allowed.
	unknown := *account
	unknown.OwnAccountPath = keychain.DerivationPath{}
	require.NoError(t, unknown.Validate(net))

	require.Equal(t, "account-4", account.DisplayName(4))
	account.Name = "vault"
	require.Equal(t, "vault", account.DisplayName(4))
}

// TestMultisigOriginsDerive checks that every recorded key origin derives
// to its public key from the participant's seed, for every script family
// and several account indexes.
func TestMultisigOriginsDerive(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params

	testCases := []struct {
		name     string
		addrType AddressType
		keyType  extkey.KeyType
		account  uint32
		step     uint32
		ownPath  string
	}{
		{
			name:     "p2wsh account 0",
			addrType: WitnessScriptMultisig,
			keyType:  extkey.NativeSegwitMultisig,
			ownPath:  "m/48'/1'/0'/2'/1/4",
		},
		{
			name:     "p2wsh account 1",
			addrType: WitnessScriptMultisig,
			keyType:  extkey.NativeSegwitMultisig,
			account:  1,
			ownPath:  "m/48'/1'/1'/2'/1/4",
		},
		{
			name:     "p2wsh mixed accounts",
			addrType: WitnessScriptMultisig,
			keyType:  extkey.Legacy,
			account:  0,
			step:     1,
			ownPath:  "m/48'/1'/0'/2'/1/4",
		},
		{
			name:     "p2sh-p2wsh account 2",
			addrType: NestedWitnessScriptMultisig,
			keyType:  extkey.SegwitMultisig,
			account:  2,
			step:     3,
			ownPath:  "m/48'/1'/2'/1'/1/4",
		},
		{
			name:     "p2sh account 0",
			addrType: ScriptHashMultisig,
			keyType:  extkey.Legacy,
			ownPath:  "m/45'/1'/0'/1/4",
		},
		{
			name:     "p2sh mixed accounts",
			addrType: ScriptHashMultisig,
			keyType:  extkey.Legacy,
			account:  5,
			step:     2,
			ownPath:  "m/45'/1'/5'/1/4",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			account := testMultisigAccountAt(
				t, tc.addrType, tc.keyType, tc.account, tc.step,
			)

			addr, err := DeriveMultisigAddress(account, net, 4, true)
			require.NoError(t, err)
			require.Equal(t, tc.ownPath, addr.Path.String())
			require.Len(t, addr.Origins, 3)

			for i, origin := range addr.Origins {
				seed := cosignerSeed(byte(i))

				master, err := keychain.NewMasterNode(seed, net)
				require.NoError(t, err)
				fp, err := master.Fingerprint()
				require.NoError(t, err)
				require.Equal(t, fp, origin.Fingerprint)

				require.True(t, origin.Path.IsAbsolute())
				node, err := keychain.DeriveNode(
					seed, origin.Path, net,
				)
				require.NoError(t, err)
				pub, err := node.PubKey()
				require.NoError(t, err)
				require.Equal(t, pub.SerializeCompressed(),
					origin.PubKey)
			}
		})
	}
}

// TestMultisigOriginsUnknown checks that keys without origin get paths
// relative to their account key.
func TestMultisigOriginsUnknown(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params

	account := testMultisigAccount(
		t, WitnessScriptMultisig, extkey.NativeSegwitMultisig,
	)
	account.Cosigners[1].AccountPath = keychain.DerivationPath{}
	account.Cosigners[1].Fingerprint = 0

	addr, err := DeriveMultisigAddress(account, net, 2, false)
	require.NoError(t, err)
	require.Equal(t, "m/48'/1'/0'/2'/0/2", addr.Origins[0].Path.String())
	require.Equal(t, "m/48'/1'/0'/2'/0/2", addr.Origins[1].Path.String())
	require.False(t, addr.Origins[2].Path.IsAbsolute())
	require.Equal(t, "0/2", addr.Origins[2].Path.String())
}

// TestParseKeyExpression covers descriptor key expressions.
func TestParseKeyExpression(t *testing.T) {
	t.Parallel()

	net := &chaincfg.TestNet3Params
	xpub := accountXpub(
		t, cosignerSeed(0), "m/48'/1'/1'/2'",
		extkey.NativeSegwitMultisig, net,
	)

	testCases := []struct {
		name  string
		expr  string
		fp    uint32
		path  string
		valid bool
	}{
		{
			name:  "full origin",
			expr:  "[73c5da0a/48'/1'/1'/2']" + xpub,
			fp:    0x73c5da0a,
			path:  "m/48'/1'/1'/2'",
			valid: true,
		},
		{
			name:  "h markers",
			expr:  "[73C5DA0A/48h/1h/1h/2h]" + xpub,
			fp:    0x73c5da0a,
			path:  "m/48'/1'/1'/2'",
			valid: true,
		},
		{
			name:  "master key",
			expr:  "[00000001]" + xpub,
			fp:    1,
			path:  "m",
			valid: true,
		},
		{
			name:  "bare key",
			expr:  " " + xpub + " ",
			valid: true,
		},
		{
			name: "short fingerprint",
			expr: "[73c5da/48'/1'/1'/2']" + xpub,
		},
		{
			name: "unterminated",
			expr: "[73c5da0a/48'/1'/1'/2'" + xpub,
		},
		{
			name: "bad path",
			expr: "[73c5da0a/48'/x]" + xpub,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, err := ParseKeyExpression(tc.expr)
			if !tc.valid {
				require.ErrorIs(t, err, ErrKeyOrigin)
				return
			}

			require.NoError(t, err)
			require.Equal(t, xpub, c.Xpub)
			require.Equal(t, tc.fp, c.Fingerprint)

			if tc.path == "" {
				require.False(t, c.AccountPath.IsAbsolute())
				require.Equal(t, xpub, c.KeyExpression())
				return
			}

			require.Equal(t, tc.path, c.AccountPath.String())

			again, err := ParseKeyExpression(c.KeyExpression())
			require.NoError(t, err)
			require.Equal(t, c, again)
		})
	}
}
