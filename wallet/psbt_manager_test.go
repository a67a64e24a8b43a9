package wallet

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/keychain"
	"github.com/hwy419/bitcoin-wallet-sub018/pkg/btcunit"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/stretchr/testify/require"
)

// testMultisigPSBT builds an unsigned PSBT spending one 200k UTXO of the
// fixture's first receive address.
func testMultisigPSBT(t *testing.T, f *multisigFixture,
	amount btcutil.Amount) (*psbt.Packet, *waddrmgr.MultisigAddress) {

	t.Helper()

	recv := f.address(t, 0, false)
	change := f.address(t, 0, true)

	req := &MultisigPSBTRequest{
		UTXOs: []UTXO{
			testUTXO(t, recv.Address, 200_000, "multisig"),
		},
		Outputs: []TxOutput{{
			Address: testRecipient, Amount: amount,
		}},
		ChangeAddress: change.Address,
		FeeRate:       btcunit.NewSatPerVByte(2),
		Addresses:     []*waddrmgr.MultisigAddress{recv, change},
	}

	packet, err := testBuilder().BuildMultisigPSBT(req)
	require.NoError(t, err)

	return packet, recv
}

var multisigTypes = []struct {
	name     string
	addrType waddrmgr.AddressType
	witness  bool
}{
	{
		name:     "p2wsh",
		addrType: waddrmgr.WitnessScriptMultisig,
		witness:  true,
	},
	{
		name:     "p2sh-p2wsh",
		addrType: waddrmgr.NestedWitnessScriptMultisig,
		witness:  true,
	},
	{
		name:     "p2sh",
		addrType: waddrmgr.ScriptHashMultisig,
	},
}

// TestMultisigSigningFlow walks a 2-of-3 spend from build to extraction for
// every multisig script family.
func TestMultisigSigningFlow(t *testing.T) {
	t.Parallel()

	for _, tc := range multisigTypes {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newMultisigFixture(t, tc.addrType)
			packet, recv := testMultisigPSBT(t, f, 120_000)
			keys := recv.Scripts.PubKeys

			require.Len(t, packet.Inputs, 1)
			in := &packet.Inputs[0]
			require.Equal(t, recv.Scripts.RedeemScript, in.RedeemScript)
			require.Equal(t, recv.Scripts.WitnessScript,
				in.WitnessScript)
			require.NotNil(t, in.NonWitnessUtxo)
			require.Equal(t, tc.witness, in.WitnessUtxo != nil)
			require.Equal(t, txscript.SigHashAll, in.SighashType)
			require.Len(t, in.Bip32Derivation, 3)

			// The change output carries its scripts.
			var changeOuts int
			for _, out := range packet.Outputs {
				if len(out.Bip32Derivation) > 0 {
					changeOuts++
				}
			}
			require.Equal(t, 1, changeOuts)

			require.Equal(t, MultisigUnsigned, MultisigState(packet, 2))
			result := ValidateMultisigPSBT(packet, 2, 3)
			require.False(t, result.Valid)

			// First cosigner.
			added, err := SignMultisigPSBT(
				packet, f.key(t, 0, 0, false), keys,
			)
			require.NoError(t, err)
			require.Equal(t, 1, added)

			// Signing again adds nothing.
			added, err = SignMultisigPSBT(
				packet, f.key(t, 0, 0, false), keys,
			)
			require.NoError(t, err)
			require.Zero(t, added)

			result = ValidateMultisigPSBT(packet, 2, 3)
			require.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			require.ErrorIs(t, result.Err(), waddrmgr.ErrMultisigScript)
			require.Equal(t, 1, result.Inputs[0].Signatures)
			require.Equal(t, MultisigPartiallySigned,
				MultisigState(packet, 2))

			// Finalizing with one signature fails and leaves the
			// input untouched.
			err = FinalizeMultisigPSBT(packet)
			require.ErrorIs(t, err, ErrNotEnoughSignatures)
			require.Len(t, packet.Inputs[0].PartialSigs, 1)

			// A second, distinct cosigner.
			first := packet.Inputs[0].PartialSigs[0]
			added, err = SignMultisigPSBT(
				packet, f.key(t, 2, 0, false), keys,
			)
			require.NoError(t, err)
			require.Equal(t, 1, added)
			require.Same(t, first, packet.Inputs[0].PartialSigs[0])

			result = ValidateMultisigPSBT(packet, 2, 3)
			require.True(t, result.Valid, "errors: %v", result.Errors)
			require.Equal(t, 2, result.Inputs[0].Signatures)
			require.Equal(t, 2, result.Inputs[0].Required)
			require.Equal(t, 3, result.Inputs[0].Keys)
			require.Equal(t, MultisigFullySigned,
				MultisigState(packet, 2))

			require.NoError(t, FinalizeMultisigPSBT(packet))
			require.True(t, packet.IsComplete())
			require.Equal(t, MultisigFinalized, MultisigState(packet, 2))
			require.Nil(t, packet.Inputs[0].PartialSigs)

			unsignedID := packet.UnsignedTx.TxHash()
			tx, err := ExtractMultisigTx(packet)
			require.NoError(t, err)
			require.Equal(t, tc.witness, tx.HasWitness())
			if tc.witness {
				require.Len(t, tx.TxIn[0].Witness, 4)
			}

			// Only a native witness spend keeps the txid of the
			// unsigned transaction.
			if tc.addrType == waddrmgr.WitnessScriptMultisig {
				require.Equal(t, unsignedID, tx.TxHash())
				require.Empty(t, tx.TxIn[0].SignatureScript)
			}

			// A finalized PSBT validates as satisfied.
			require.True(t, ValidateMultisigPSBT(packet, 2, 3).Valid)
		})
	}
}

// TestValidateMultisigPSBTFailures checks that every problem is reported.
func TestValidateMultisigPSBTFailures(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, waddrmgr.WitnessScriptMultisig)

	t.Run("wrong policy", func(t *testing.T) {
		t.Parallel()

		packet, _ := testMultisigPSBT(t, f, 100_000)
		result := ValidateMultisigPSBT(packet, 3, 4)
		require.False(t, result.Valid)

		// Key count, signature count and missing signatures.
		require.Len(t, result.Errors, 3)
	})

	t.Run("witness script swapped", func(t *testing.T) {
		t.Parallel()

		packet, recv := testMultisigPSBT(t, f, 100_000)
		other := f.address(t, 5, false)
		packet.Inputs[0].WitnessScript = other.Scripts.WitnessScript

		for _, i := range []int{0, 1} {
			_, err := SignMultisigPSBT(
				packet, f.key(t, i, 5, false),
				other.Scripts.PubKeys,
			)
			require.Error(t, err)
		}

		result := ValidateMultisigPSBT(packet, 2, 3)
		require.False(t, result.Valid)
		require.NotEqual(t, recv.Scripts.WitnessScript,
			packet.Inputs[0].WitnessScript)
	})

	t.Run("missing script", func(t *testing.T) {
		t.Parallel()

		packet, _ := testMultisigPSBT(t, f, 100_000)
		packet.Inputs[0].WitnessScript = nil

		result := ValidateMultisigPSBT(packet, 2, 3)
		require.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
	})

	t.Run("forged signature", func(t *testing.T) {
		t.Parallel()

		packet, recv := testMultisigPSBT(t, f, 100_000)
		_, err := SignMultisigPSBT(
			packet, f.key(t, 0, 0, false), recv.Scripts.PubKeys,
		)
		require.NoError(t, err)

		// Claim the signature for another cosigner key.
		sig := *packet.Inputs[0].PartialSigs[0]
		for _, key := range recv.Scripts.PubKeys {
			if !bytes.Equal(key, sig.PubKey) {
				sig.PubKey = key
				break
			}
		}
		packet.Inputs[0].PartialSigs = append(
			packet.Inputs[0].PartialSigs, &sig,
		)

		result := ValidateMultisigPSBT(packet, 2, 3)
		require.False(t, result.Valid)
		require.Equal(t, 1, result.Inputs[0].Signatures)
	})
}

// TestSignMultisigPSBTRejects covers the signer checks.
func TestSignMultisigPSBTRejects(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, waddrmgr.WitnessScriptMultisig)
	packet, recv := testMultisigPSBT(t, f, 100_000)

	outsider, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = SignMultisigPSBT(packet, outsider, recv.Scripts.PubKeys)
	require.ErrorIs(t, err, ErrNotCosigner)

	// Without a cosigner list an unrelated key signs nothing.
	added, err := SignMultisigPSBT(packet, outsider, nil)
	require.NoError(t, err)
	require.Zero(t, added)

	// A key of another address index is not in the script.
	added, err = SignMultisigPSBT(packet, f.key(t, 1, 1, false), nil)
	require.NoError(t, err)
	require.Zero(t, added)
}

// TestSignMultisigPSBTAtomic checks that a cosigner list mismatch on one
// input leaves every input unsigned.
func TestSignMultisigPSBTAtomic(t *testing.T) {
	t.Parallel()

	// Both accounts share cosigner 0's key at account zero, but the
	// others sit at different accounts in the second one.
	f := newMultisigFixture(t, waddrmgr.WitnessScriptMultisig)
	g := newMultisigFixtureAt(t, waddrmgr.WitnessScriptMultisig, 0, 1)

	fRecv := f.address(t, 0, false)
	gRecv := g.address(t, 0, false)
	change := f.address(t, 0, true)

	packet, err := testBuilder().BuildMultisigPSBT(&MultisigPSBTRequest{
		UTXOs: []UTXO{
			testUTXO(t, fRecv.Address, 100_000, "first"),
			testUTXO(t, gRecv.Address, 100_000, "second"),
		},
		Outputs: []TxOutput{{
			Address: testRecipient, Amount: 150_000,
		}},
		ChangeAddress: change.Address,
		FeeRate:       btcunit.NewSatPerVByte(2),
		Addresses: []*waddrmgr.MultisigAddress{
			fRecv, gRecv, change,
		},
	})
	require.NoError(t, err)
	require.Len(t, packet.Inputs, 2)

	before, err := packet.B64Encode()
	require.NoError(t, err)

	key := f.key(t, 0, 0, false)
	require.True(t, key.PubKey().IsEqual(g.key(t, 0, 0, false).PubKey()))

	added, err := SignMultisigPSBT(packet, key, fRecv.Scripts.PubKeys)
	require.ErrorIs(t, err, waddrmgr.ErrMultisigScript)
	require.Zero(t, added)

	after, err := packet.B64Encode()
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Without the cosigner list both inputs are signed.
	added, err = SignMultisigPSBT(packet, key, nil)
	require.NoError(t, err)
	require.Equal(t, 2, added)
}

// TestMultisigPSBTDerivations checks that every BIP32 derivation recorded
// in a multisig PSBT derives to its public key from the cosigner's seed,
// and that those derivations are enough to fully sign.
func TestMultisigPSBTDerivations(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		addrType waddrmgr.AddressType
		account  uint32
		step     uint32
		prefix   string
	}{
		{
			name:     "p2wsh account 0",
			addrType: waddrmgr.WitnessScriptMultisig,
			prefix:   "m/48'/1'/0'/2'",
		},
		{
			name:     "p2wsh account 1",
			addrType: waddrmgr.WitnessScriptMultisig,
			account:  1,
			prefix:   "m/48'/1'/1'/2'",
		},
		{
			name:     "p2wsh mixed accounts",
			addrType: waddrmgr.WitnessScriptMultisig,
			step:     1,
			prefix:   "m/48'/1'/0'/2'",
		},
		{
			name:     "p2sh-p2wsh account 3",
			addrType: waddrmgr.NestedWitnessScriptMultisig,
			account:  3,
			step:     2,
			prefix:   "m/48'/1'/3'/1'",
		},
		{
			name:     "p2sh account 0",
			addrType: waddrmgr.ScriptHashMultisig,
			prefix:   "m/45'/1'/0'",
		},
		{
			name:     "p2sh account 4",
			addrType: waddrmgr.ScriptHashMultisig,
			account:  4,
			step:     1,
			prefix:   "m/45'/1'/4'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newMultisigFixtureAt(
				t, tc.addrType, tc.account, tc.step,
			)
			packet, _ := testMultisigPSBT(t, f, 120_000)

			// seedOf maps a master fingerprint to its seed.
			seedOf := func(fp uint32) []byte {
				for i, known := range f.fps {
					if known == fp {
						return f.seeds[i]
					}
				}
				require.Failf(t, "unknown fingerprint", "%08x", fp)

				return nil
			}

			checkDerivations := func(
				derivations []*psbt.Bip32Derivation) {

				require.Len(t, derivations, 3)
				for _, d := range derivations {
					path := keychain.PathFromChildNumbers(
						d.Bip32Path,
					)
					node, err := keychain.DeriveNode(
						seedOf(d.MasterKeyFingerprint),
						path, testNet,
					)
					require.NoError(t, err)
					pub, err := node.PubKey()
					require.NoError(t, err)
					require.Equal(t, pub.SerializeCompressed(),
						d.PubKey)
				}
			}

			// The own key sits under the requested account.
			in := &packet.Inputs[0]
			var own int
			for _, d := range in.Bip32Derivation {
				if d.MasterKeyFingerprint != f.fps[0] {
					continue
				}
				own++

				account := keychain.PathFromChildNumbers(
					d.Bip32Path[:len(d.Bip32Path)-2],
				)
				require.Equal(t, tc.prefix, account.String())
			}
			require.Equal(t, 1, own)

			for i := range packet.Inputs {
				checkDerivations(packet.Inputs[i].Bip32Derivation)
			}
			for i := range packet.Outputs {
				if len(packet.Outputs[i].Bip32Derivation) > 0 {
					checkDerivations(
						packet.Outputs[i].Bip32Derivation,
					)
				}
			}

			// Sign with the keys the derivations point at.
			for _, d := range in.Bip32Derivation[:2] {
				node, err := keychain.DeriveNode(
					seedOf(d.MasterKeyFingerprint),
					keychain.PathFromChildNumbers(d.Bip32Path),
					testNet,
				)
				require.NoError(t, err)
				priv := node.PrivKey().UnwrapOr(nil)
				require.NotNil(t, priv)

				added, err := SignMultisigPSBT(packet, priv, nil)
				require.NoError(t, err)
				require.Equal(t, 1, added)
			}
			require.Equal(t, MultisigFullySigned,
				MultisigState(packet, 2))
		})
	}
}

// TestCombineMultisigPSBTs merges signatures gathered in parallel.
func TestCombineMultisigPSBTs(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, waddrmgr.NestedWitnessScriptMultisig)
	packet, recv := testMultisigPSBT(t, f, 150_000)
	keys := recv.Scripts.PubKeys

	exported, err := ExportPSBT(packet)
	require.NoError(t, err)

	copies := make([]*psbt.Packet, 2)
	for i := range copies {
		imported, err := ImportPSBT(exported.Base64)
		require.NoError(t, err)
		copies[i] = imported.Packet

		_, err = SignMultisigPSBT(
			copies[i], f.key(t, i+1, 0, false), keys,
		)
		require.NoError(t, err)
	}

	combined, err := CombineMultisigPSBTs(packet, copies[0], copies[1])
	require.NoError(t, err)
	require.Len(t, combined.Inputs[0].PartialSigs, 2)
	require.True(t, ValidateMultisigPSBT(combined, 2, 3).Valid)

	// The inputs are untouched.
	require.Empty(t, packet.Inputs[0].PartialSigs)
	require.Len(t, copies[0].Inputs[0].PartialSigs, 1)

	// Combining again does not duplicate signatures.
	again, err := CombineMultisigPSBTs(combined, copies[0])
	require.NoError(t, err)
	require.Len(t, again.Inputs[0].PartialSigs, 2)

	other, _ := testMultisigPSBT(t, f, 90_000)
	_, err = CombineMultisigPSBTs(combined, other)
	require.ErrorIs(t, err, ErrPSBTMismatch)

	_, err = CombineMultisigPSBTs()
	require.ErrorIs(t, err, ErrPSBTParse)
}

// TestBuildMultisigPSBTErrors covers request validation.
func TestBuildMultisigPSBTErrors(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, waddrmgr.WitnessScriptMultisig)
	recv := f.address(t, 0, false)
	change := f.address(t, 0, true)

	base := func() *MultisigPSBTRequest {
		return &MultisigPSBTRequest{
			UTXOs: []UTXO{
				testUTXO(t, recv.Address, 50_000, "multisig"),
			},
			Outputs: []TxOutput{{
				Address: testRecipient, Amount: 20_000,
			}},
			ChangeAddress: change.Address,
			FeeRate:       btcunit.NewSatPerVByte(2),
			Addresses: []*waddrmgr.MultisigAddress{
				recv, change,
			},
		}
	}

	testCases := []struct {
		name   string
		mutate func(req *MultisigPSBTRequest)
		err    error
	}{
		{
			name: "no utxos",
			mutate: func(req *MultisigPSBTRequest) {
				req.UTXOs = nil
			},
			err: ErrNoUTXOs,
		},
		{
			name: "dust output",
			mutate: func(req *MultisigPSBTRequest) {
				req.Outputs[0].Amount = 100
			},
			err: ErrDustOutput,
		},
		{
			name: "unknown utxo script",
			mutate: func(req *MultisigPSBTRequest) {
				req.Addresses = []*waddrmgr.MultisigAddress{change}
			},
			err: ErrMissingScript,
		},
		{
			name: "insufficient funds",
			mutate: func(req *MultisigPSBTRequest) {
				req.Outputs[0].Amount = 49_900
			},
			err: ErrInsufficientFunds,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := base()
			tc.mutate(req)

			_, err := BuildMultisigPSBT(req, testNet)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestMultisigTxStateString pins the state names.
func TestMultisigTxStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unsigned", MultisigUnsigned.String())
	require.Equal(t, "partially-signed", MultisigPartiallySigned.String())
	require.Equal(t, "fully-signed", MultisigFullySigned.String())
	require.Equal(t, "finalized", MultisigFinalized.String())
	require.Equal(t, "unknown(9)", MultisigTxState(9).String())
}
