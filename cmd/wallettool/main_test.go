package main

import (
	"crypto/sha256"
	"os"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/hwy419/bitcoin-wallet-sub018/wallet"
	"github.com/stretchr/testify/require"
)

// testAddress is m/84'/1'/0'/0/0 of the all-abandon test mnemonic.
const testAddress = "tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl"

func TestMain(m *testing.M) {
	cfg.keyNet, cfg.net = extkey.Testnet, &chaincfg.TestNet3Params

	os.Exit(m.Run())
}

// TestAccountKeyParams checks the account path and key encoding chosen for
// every address type.
func TestAccountKeyParams(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		addrType waddrmgr.AddressType
		net      *chaincfg.Params
		keyType  extkey.KeyType
		path     string
	}{
		{
			name:     "legacy mainnet",
			addrType: waddrmgr.PubKeyHash,
			net:      &chaincfg.MainNetParams,
			keyType:  extkey.Legacy,
			path:     "m/44'/0'/3'",
		},
		{
			name:     "nested testnet",
			addrType: waddrmgr.NestedWitnessPubKey,
			net:      &chaincfg.TestNet3Params,
			keyType:  extkey.Segwit,
			path:     "m/49'/1'/3'",
		},
		{
			name:     "native",
			addrType: waddrmgr.WitnessPubKey,
			net:      &chaincfg.TestNet3Params,
			keyType:  extkey.NativeSegwit,
			path:     "m/84'/1'/3'",
		},
		{
			name:     "p2sh multisig",
			addrType: waddrmgr.ScriptHashMultisig,
			net:      &chaincfg.MainNetParams,
			keyType:  extkey.LegacyMultisig,
			path:     "m/45'/0'/3'",
		},
		{
			name:     "nested multisig",
			addrType: waddrmgr.NestedWitnessScriptMultisig,
			net:      &chaincfg.TestNet3Params,
			keyType:  extkey.SegwitMultisig,
			path:     "m/48'/1'/3'/1'",
		},
		{
			name:     "native multisig",
			addrType: waddrmgr.WitnessScriptMultisig,
			net:      &chaincfg.MainNetParams,
			keyType:  extkey.NativeSegwitMultisig,
			path:     "m/48'/0'/3'/2'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			keyType, path := accountKeyParams(tc.addrType, 3, tc.net)
			require.Equal(t, tc.keyType, keyType)
			require.Equal(t, tc.path, path.String())
		})
	}

	require.Equal(t, "/84'/1'/0'",
		trimMaster(keychain.MustParsePath("m/84'/1'/0'")))
}

// TestParseBTC checks decimal amount parsing.
func TestParseBTC(t *testing.T) {
	t.Parallel()

	amt, err := parseBTC(" 0.0005 ")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000), amt)

	amt, err = parseBTC("1")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(btcutil.SatoshiPerBitcoin), amt)

	_, err = parseBTC("one")
	require.Error(t, err)
}

// TestMultisigAddrAccount checks that the flags assemble into an account
// with the own key first.
func TestMultisigAddrAccount(t *testing.T) {
	t.Parallel()

	c := &multisigAddrCmd{
		Policy: "2-of-3",
		Type:   "p2wsh",
		Cosigners: []string{
			"[73c5da0a/48'/1'/0'/2']a",
			"b",
			"[ffffffff/48h/1h/2h/2h]c",
		},
	}

	account, err := c.account()
	require.NoError(t, err)
	require.Equal(t, 2, account.Config.M)
	require.Equal(t, 3, account.Config.N)
	require.Equal(t, waddrmgr.WitnessScriptMultisig, account.AddressType)
	require.Equal(t, "a", account.OwnXpub)
	require.Equal(t, uint32(0x73c5da0a), account.OwnFingerprint)
	require.Equal(t, "m/48'/1'/0'/2'", account.OwnAccountPath.String())
	require.Len(t, account.Cosigners, 2)
	require.Zero(t, account.Cosigners[0].Fingerprint)
	require.False(t, account.Cosigners[0].AccountPath.IsAbsolute())
	require.Equal(t, uint32(0xffffffff), account.Cosigners[1].Fingerprint)
	require.Equal(t, "m/48'/1'/2'/2'",
		account.Cosigners[1].AccountPath.String())
	require.Equal(t, []string{"a", "b", "c"}, account.Xpubs())

	c.Cosigners = []string{"[73c5/48'/1'/0'/2']a"}
	_, err = c.account()
	require.ErrorIs(t, err, waddrmgr.ErrKeyOrigin)

	c.Cosigners = nil
	_, err = c.account()
	require.ErrorIs(t, err, errArgCount)

	c.Policy = "4-of-3"
	_, err = c.account()
	require.ErrorIs(t, err, waddrmgr.ErrMultisigScript)
}

// testCosigner returns the seed, master fingerprint and descriptor key
// expression of cosigner i at the standard account path of addrType.
func testCosigner(t *testing.T, i byte, addrType waddrmgr.AddressType,
	account uint32) ([]byte, uint32, string) {

	t.Helper()

	seed := sha256.Sum256([]byte{'c', 'l', 'i', i})

	master, err := keychain.NewMasterNode(seed[:], cfg.net)
	require.NoError(t, err)
	fp, err := master.Fingerprint()
	require.NoError(t, err)

	keyType, path := accountKeyParams(addrType, account, cfg.net)
	node, err := keychain.DeriveNode(seed[:], path, cfg.net)
	require.NoError(t, err)

	xpub, err := extkey.Encode(node, keyType, cfg.keyNet)
	require.NoError(t, err)

	key := waddrmgr.Cosigner{
		Xpub:        xpub,
		Fingerprint: fp,
		AccountPath: path,
	}

	return seed[:], fp, key.KeyExpression()
}

// TestMultisigPSBTSigningKeys builds a multisig PSBT from descriptor keys
// and checks that every cosigner finds its key through the recorded
// derivations.
func TestMultisigPSBTSigningKeys(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		addrType waddrmgr.AddressType
		typ      string
		accounts [3]uint32
	}{
		{
			name:     "p2wsh account 0",
			addrType: waddrmgr.WitnessScriptMultisig,
			typ:      "p2wsh",
		},
		{
			name:     "p2wsh account 1",
			addrType: waddrmgr.WitnessScriptMultisig,
			typ:      "p2wsh",
			accounts: [3]uint32{1, 1, 1},
		},
		{
			name:     "p2sh-p2wsh mixed accounts",
			addrType: waddrmgr.NestedWitnessScriptMultisig,
			typ:      "p2sh-p2wsh",
			accounts: [3]uint32{0, 1, 2},
		},
		{
			name:     "p2sh account 0",
			addrType: waddrmgr.ScriptHashMultisig,
			typ:      "p2sh",
		},
		{
			name:     "p2sh mixed accounts",
			addrType: waddrmgr.ScriptHashMultisig,
			typ:      "p2sh",
			accounts: [3]uint32{2, 0, 5},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var (
				seeds [][]byte
				fps   []uint32
				exprs []string
			)
			for i, account := range tc.accounts {
				seed, fp, expr := testCosigner(
					t, byte(i), tc.addrType, account,
				)
				seeds = append(seeds, seed)
				fps = append(fps, fp)
				exprs = append(exprs, expr)
			}

			c := &multisigPSBTCmd{
				Policy:    "2-of-3",
				Type:      tc.typ,
				Cosigners: exprs,
				UTXOs: []string{
					strings.Repeat("ab", 32) + ":0:0.002:0",
					strings.Repeat("cd", 32) + ":1:0.001:2:change",
				},
				To:          []string{testAddress + "=0.0025"},
				ChangeIndex: 3,
				FeeRate:     "2",
			}

			packet, account, err := c.build()
			require.NoError(t, err)
			require.Len(t, packet.Inputs, 2)
			require.Equal(t, fps[0], account.OwnFingerprint)

			meta := pendingMetadata(packet, c.To)
			require.Equal(t, btcutil.Amount(250_000), meta.Amount)
			require.Equal(t, testAddress, meta.Recipient)
			require.Greater(t, int64(meta.Fee), int64(0))

			// Every cosigner finds one key per input.
			for i := range seeds {
				keys, err := signingKeys(packet, seeds[i], fps[i])
				require.NoError(t, err)
				require.Len(t, keys, 2)
			}

			// Another wallet finds nothing.
			_, err = signingKeys(packet, seeds[0], fps[0]+1)
			require.ErrorIs(t, err, errNoKeys)

			for _, i := range []int{0, 2} {
				keys, err := signingKeys(packet, seeds[i], fps[i])
				require.NoError(t, err)

				for _, key := range keys {
					_, err := wallet.SignMultisigPSBT(
						packet, key, nil,
					)
					require.NoError(t, err)
				}
			}
			require.Equal(t, wallet.MultisigFullySigned,
				wallet.MultisigState(packet, 2))
		})
	}
}

// TestParseMultisigUTXO covers the --utxo syntax of multisigpsbt.
func TestParseMultisigUTXO(t *testing.T) {
	t.Parallel()

	_, _, expr := testCosigner(t, 0, waddrmgr.WitnessScriptMultisig, 0)
	account, err := multisigAccount("1-of-1", "p2wsh", []string{expr})
	require.NoError(t, err)

	txid := strings.Repeat("ef", 32)

	utxo, addr, err := parseMultisigUTXO(txid+":3:0.5:7:change", account)
	require.NoError(t, err)
	require.Equal(t, uint32(3), utxo.Vout)
	require.Equal(t, btcutil.Amount(50_000_000), utxo.Value)
	require.True(t, addr.Change)
	require.Equal(t, uint32(7), addr.Index)
	require.Equal(t, addr.Scripts.PkScript, utxo.PkScript)
	require.Equal(t, "m/48'/1'/0'/2'/1/7", addr.Path.String())

	for _, bad := range []string{
		txid + ":3:0.5",
		txid + ":3:0.5:7:internal",
		txid + ":x:0.5:7",
		"zz:3:0.5:7",
	} {
		_, _, err := parseMultisigUTXO(bad, account)
		require.Error(t, err, bad)
	}

	_, _, err = parseMultisigUTXO(txid+":3:0.5", account)
	require.ErrorIs(t, err, errMalformedMultisigUTXO)
}

// TestParseAndSetDebugLevels checks the debug level syntax.
func TestParseAndSetDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	require.NoError(t, parseAndSetDebugLevels("BTWL=trace,AMGR=warn"))
	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("NOPE=debug"))
	require.Error(t, parseAndSetDebugLevels("BTWL=debug,info"))

	require.NoError(t, parseAndSetDebugLevels("info"))
}
