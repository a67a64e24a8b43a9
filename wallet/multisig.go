// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/hwy419/bitcoin-wallet-sub018/waddrmgr"
	"github.com/lightningnetwork/lnd/clock"
)

// PendingMultisigExpiry is how long a pending multisig transaction stays
// valid after creation.
const PendingMultisigExpiry = 7 * 24 * time.Hour

var (
	// ErrUnknownCosigner is returned when marking a fingerprint that is
	// not part of the account.
	ErrUnknownCosigner = errors.New("unknown cosigner fingerprint")

	// ErrPendingTxExpired is returned when updating an expired pending
	// transaction.
	ErrPendingTxExpired = errors.New("pending multisig tx expired")
)

// PendingMultisigMetadata is display data of a pending transaction.
type PendingMultisigMetadata struct {
	Amount    btcutil.Amount
	Fee       btcutil.Amount
	Recipient string
}

// PendingMultisigTx is a multisig PSBT saved for later signing. The caller
// owns its persistence and deletion.
type PendingMultisigTx struct {
	// ID is the txid of the unsigned transaction.
	ID string

	// AccountID references the multisig account.
	AccountID uint32

	// PSBT is the base64 encoded packet.
	PSBT string

	// Signatures maps each participant's master fingerprint to whether
	// it has signed.
	Signatures map[uint32]bool

	CreatedAt time.Time
	ExpiresAt time.Time

	Metadata PendingMultisigMetadata
}

// NewPendingMultisigTx records packet for later signing. Participants that
// already signed, as identified by the BIP32 derivations of their partial
// signatures, start out marked.
func NewPendingMultisigTx(accountID uint32, packet *psbt.Packet,
	account *waddrmgr.MultisigAccount, meta PendingMultisigMetadata,
	clk clock.Clock) (*PendingMultisigTx, error) {

	now := clk.Now()

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	pending := &PendingMultisigTx{
		ID:         packet.UnsignedTx.TxHash().String(),
		AccountID:  accountID,
		PSBT:       b64,
		Signatures: make(map[uint32]bool, len(account.Cosigners)+1),
		CreatedAt:  now,
		ExpiresAt:  now.Add(PendingMultisigExpiry),
		Metadata:   meta,
	}

	pending.Signatures[account.OwnFingerprint] = false
	for _, c := range account.Cosigners {
		pending.Signatures[c.Fingerprint] = false
	}

	pending.markFromPacket(packet)

	return pending, nil
}

// IsExpired reports whether the validity window has passed at now.
func (p *PendingMultisigTx) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// MarkSigned records that the participant with fingerprint signed.
func (p *PendingMultisigTx) MarkSigned(fingerprint uint32) error {
	if _, ok := p.Signatures[fingerprint]; !ok {
		return fmt.Errorf("%w: %08x", ErrUnknownCosigner, fingerprint)
	}

	p.Signatures[fingerprint] = true

	return nil
}

// SignedCount returns the number of participants marked as signed.
func (p *PendingMultisigTx) SignedCount() int {
	count := 0
	for _, signed := range p.Signatures {
		if signed {
			count++
		}
	}

	return count
}

// Packet decodes the stored PSBT.
func (p *PendingMultisigTx) Packet() (*psbt.Packet, error) {
	imported, err := ImportPSBT(p.PSBT)
	if err != nil {
		return nil, err
	}

	return imported.Packet, nil
}

// UpdatePSBT replaces the stored PSBT with a newer version of the same
// transaction and marks any new signers.
func (p *PendingMultisigTx) UpdatePSBT(packet *psbt.Packet,
	now time.Time) error {

	if p.IsExpired(now) {
		return fmt.Errorf("%w: %s expired at %v", ErrPendingTxExpired,
			p.ID, p.ExpiresAt)
	}

	if txid := packet.UnsignedTx.TxHash().String(); txid != p.ID {
		return fmt.Errorf("%w: have %s, got %s", ErrPSBTMismatch, p.ID,
			txid)
	}

	b64, err := packet.B64Encode()
	if err != nil {
		return err
	}
	p.PSBT = b64

	p.markFromPacket(packet)

	return nil
}

// markFromPacket marks every known participant whose key has a partial
// signature in packet.
func (p *PendingMultisigTx) markFromPacket(packet *psbt.Packet) {
	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		for _, sig := range in.PartialSigs {
			for _, d := range in.Bip32Derivation {
				if !bytes.Equal(d.PubKey, sig.PubKey) {
					continue
				}

				fp := d.MasterKeyFingerprint
				if _, ok := p.Signatures[fp]; ok {
					p.Signatures[fp] = true
				}
			}
		}
	}
}
