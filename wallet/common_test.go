package wallet

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/hwy419/bitcoin-wallet-sub018/extkey"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	// testRecipient is m/84'/1'/0'/0/0 of testMnemonic.
	testRecipient = "tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl"
)

var testNet = &chaincfg.TestNet3Params

func testSeed(t *testing.T) []byte {
	t.Helper()

	seed, err := keychain.MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)

	return seed
}

// testSelector returns a coin selector with a fixed shuffle.
func testSelector() *CoinSelector {
	return NewCoinSelector(WithRand(rand.NewPCG(1, 2)))
}

// testBuilder returns a testnet builder with a fixed shuffle.
func testBuilder() *TxBuilder {
	return NewTxBuilder(testNet, WithCoinSelector(testSelector()))
}

// deriveKey derives the private key at path from seed.
func deriveKey(t *testing.T, seed []byte, path string) *btcec.PrivateKey {
	t.Helper()

	node, err := keychain.DeriveNode(
		seed, keychain.MustParsePath(path), testNet,
	)
	require.NoError(t, err)

	priv := node.PrivKey().UnwrapOr(nil)
	require.NotNil(t, priv)

	return priv
}

// keyAddress returns the address of addrType for the key at path.
func keyAddress(t *testing.T, seed []byte, path string,
	addrType waddrmgr.AddressType) string {

	t.Helper()

	priv := deriveKey(t, seed, path)
	addr, err := waddrmgr.PubKeyAddress(priv.PubKey(), addrType, testNet)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// testHash returns a deterministic hash for label.
func testHash(label string) chainhash.Hash {
	return chainhash.Hash(sha256.Sum256([]byte(label)))
}

// testUTXO returns a UTXO of value paying to address. The previous
// transaction is attached so its hash is the UTXO's txid.
func testUTXO(t *testing.T, address string, value btcutil.Amount,
	label string) UTXO {

	t.Helper()

	addr, err := btcutil.DecodeAddress(address, testNet)
	require.NoError(t, err)

	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(ptrHash(testHash(label)), 0), nil, nil,
	))
	prevTx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	return UTXO{
		TxID:          prevTx.TxHash(),
		Vout:          0,
		Value:         value,
		Address:       address,
		PkScript:      pkScript,
		Confirmations: 6,
		PrevTx:        prevTx,
	}
}

func ptrHash(h chainhash.Hash) *chainhash.Hash {
	return &h
}

// cosignerSeed returns a deterministic seed for cosigner i.
func cosignerSeed(i int) []byte {
	h := sha256.Sum256([]byte{'c', 'o', 's', 'i', 'g', 'n', 'e', 'r',
		byte(i)})

	return h[:]
}

// multisigFixture is a 2-of-3 account whose private keys are all known.
type multisigFixture struct {
	account *waddrmgr.MultisigAccount
	seeds   [][]byte
	paths   []keychain.DerivationPath
	fps     []uint32
}

func newMultisigFixture(t *testing.T,
	addrType waddrmgr.AddressType) *multisigFixture {

	t.Helper()

	return newMultisigFixtureAt(t, addrType, 0, 0)
}

// newMultisigFixtureAt builds a fixture where cosigner i uses account index
// account+i*step.
func newMultisigFixtureAt(t *testing.T, addrType waddrmgr.AddressType,
	account, step uint32) *multisigFixture {

	t.Helper()

	keyType := extkey.NativeSegwitMultisig
	switch addrType {
	case waddrmgr.NestedWitnessScriptMultisig:
		keyType = extkey.SegwitMultisig

	case waddrmgr.ScriptHashMultisig:
		keyType = extkey.Legacy
	}

	f := &multisigFixture{}

	cosigners := make([]waddrmgr.Cosigner, 3)
	for i := range cosigners {
		seed := cosignerSeed(i)
		f.seeds = append(f.seeds, seed)

		path, err := waddrmgr.MultisigAccountPathFor(
			addrType, testNet, account+uint32(i)*step,
		)
		require.NoError(t, err)
		f.paths = append(f.paths, path)

		master, err := keychain.NewMasterNode(seed, testNet)
		require.NoError(t, err)
		fp, err := master.Fingerprint()
		require.NoError(t, err)
		f.fps = append(f.fps, fp)

		node, err := keychain.DeriveNode(seed, path, testNet)
		require.NoError(t, err)

		xpub, err := extkey.Encode(
			node, keyType, extkey.NetworkFromParams(testNet),
		)
		require.NoError(t, err)

		cosigners[i] = waddrmgr.Cosigner{
			Xpub:        xpub,
			Fingerprint: fp,
			AccountPath: path,
		}
	}
	cosigners[1].Name = "alice"
	cosigners[2].Name = "bob"

	f.account = &waddrmgr.MultisigAccount{
		Name:           "vault",
		Config:         waddrmgr.MultisigConfig{M: 2, N: 3},
		AddressType:    addrType,
		OwnXpub:        cosigners[0].Xpub,
		OwnFingerprint: cosigners[0].Fingerprint,
		OwnAccountPath: cosigners[0].AccountPath,
		Cosigners:      cosigners[1:],
	}

	return f
}

// address derives the multisig address at index.
func (f *multisigFixture) address(t *testing.T, index uint32,
	change bool) *waddrmgr.MultisigAddress {

	t.Helper()

	addr, err := waddrmgr.DeriveMultisigAddress(
		f.account, testNet, index, change,
	)
	require.NoError(t, err)

	return addr
}

// key returns the private key of cosigner i for the address at index.
func (f *multisigFixture) key(t *testing.T, i int, index uint32,
	change bool) *btcec.PrivateKey {

	t.Helper()

	path := f.paths[i].Join(keychain.AddressPath(change, index))

	return deriveKey(t, f.seeds[i], path.String())
}
