// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/hwy419/bitcoin-wallet-sub018/wallet/internal/chunk"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// psbtHexMagic is the hex encoding of the PSBT magic bytes "psbt\xff".
const psbtHexMagic = "70736274ff"

var (
	// ErrPSBTParse is returned for structurally invalid PSBTs.
	ErrPSBTParse = errors.New("unable to parse psbt")

	// ErrChunkReassembly is the umbrella error of chunk reassembly.
	ErrChunkReassembly = chunk.ErrReassembly

	// ErrChunkMissing is returned when chunks are missing.
	ErrChunkMissing = chunk.ErrMissing

	// ErrChunkTxIDMismatch is returned when chunks of different
	// transactions are mixed.
	ErrChunkTxIDMismatch = chunk.ErrTxIDMismatch

	// ErrChunkCorrupt is returned for malformed or inconsistent chunks.
	ErrChunkCorrupt = chunk.ErrCorrupt
)

// PSBTExport is a PSBT in its transport encodings plus a digest.
type PSBTExport struct {
	// Base64 is the standard text encoding.
	Base64 string

	// Hex is the hex encoding of the binary form.
	Hex string

	// TxID is the id of the unsigned transaction.
	TxID chainhash.Hash

	NumInputs  int
	NumOutputs int

	// TotalOutput is the sum of all outputs.
	TotalOutput btcutil.Amount

	// Fee is only known when every input carries its UTXO.
	Fee fn.Option[btcutil.Amount]

	// SignatureCounts has the number of partial signatures per input.
	// Finalized inputs report zero.
	SignatureCounts []int

	// Finalized is true if every input is finalized.
	Finalized bool
}

// ExportPSBT serializes packet and describes it.
func ExportPSBT(packet *psbt.Packet) (*PSBTExport, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}
	raw := buf.Bytes()

	b64, err := packet.B64Encode()
	if err != nil {
		return nil, err
	}

	export := &PSBTExport{
		Base64:     b64,
		Hex:        hex.EncodeToString(raw),
		TxID:       packet.UnsignedTx.TxHash(),
		NumInputs:  len(packet.Inputs),
		NumOutputs: len(packet.Outputs),
		Fee:        packetFee(packet),
		Finalized:  packet.IsComplete(),
	}

	for _, out := range packet.UnsignedTx.TxOut {
		export.TotalOutput += btcutil.Amount(out.Value)
	}

	export.SignatureCounts = make([]int, len(packet.Inputs))
	for i := range packet.Inputs {
		export.SignatureCounts[i] = len(packet.Inputs[i].PartialSigs)
	}

	return export, nil
}

// packetFee returns the fee of packet if every input has its UTXO.
func packetFee(packet *psbt.Packet) fn.Option[btcutil.Amount] {
	for i := range packet.Inputs {
		if inputPrevOut(packet, i) == nil {
			return fn.None[btcutil.Amount]()
		}
	}

	fee, err := packet.GetTxFee()
	if err != nil {
		return fn.None[btcutil.Amount]()
	}

	return fn.Some(fee)
}

// PSBTImport is the result of ImportPSBT.
type PSBTImport struct {
	// Packet is the decoded PSBT.
	Packet *psbt.Packet

	// TxID is the id of the unsigned transaction.
	TxID chainhash.Hash

	// Warnings lists missing data that signing will need. A PSBT in
	// transit is commonly incomplete, so these are not errors.
	Warnings []string
}

// ImportPSBT decodes a base64 or hex encoded PSBT.
func ImportPSBT(s string) (*PSBTImport, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrPSBTParse)
	}

	var (
		packet *psbt.Packet
		err    error
	)
	if strings.HasPrefix(strings.ToLower(s), psbtHexMagic) {
		raw, decodeErr := hex.DecodeString(s)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrPSBTParse, decodeErr)
		}

		packet, err = psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	} else {
		packet, err = psbt.NewFromRawBytes(strings.NewReader(s), true)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPSBTParse, err)
	}

	imported := &PSBTImport{
		Packet: packet,
		TxID:   packet.UnsignedTx.TxHash(),
	}

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if isFinalized(in) {
			continue
		}

		if inputPrevOut(packet, i) == nil {
			imported.Warnings = append(imported.Warnings,
				fmt.Sprintf("input %d has no utxo", i))
		}

		if script, _ := inputMultisigScript(in); script == nil {
			imported.Warnings = append(imported.Warnings,
				fmt.Sprintf("input %d has no redeem or witness "+
					"script", i))
		}
	}

	log.Debugf("Imported PSBT %v with %d warnings", imported.TxID,
		len(imported.Warnings))

	return imported, nil
}

// PSBTInputSummary describes one input of a PSBT.
type PSBTInputSummary struct {
	// PrevOut is the spent outpoint in txid:vout form.
	PrevOut string

	// Value is the spent amount, if the UTXO is present.
	Value fn.Option[btcutil.Amount]

	// Signatures is the number of partial signatures.
	Signatures int

	// Required is the number of signatures the script needs, zero when
	// no multisig script is present.
	Required int

	// Keys is the number of keys in the script.
	Keys int

	// Finalized is true once the input has its final scripts.
	Finalized bool
}

// PSBTOutputSummary describes one output of a PSBT.
type PSBTOutputSummary struct {
	Address string
	Amount  btcutil.Amount

	// Owned is true when the output carries derivation info, which the
	// wallet only adds to its own change.
	Owned bool
}

// PSBTSummary is a human readable digest of a PSBT.
type PSBTSummary struct {
	TxID    chainhash.Hash
	Inputs  []PSBTInputSummary
	Outputs []PSBTOutputSummary
	Fee     fn.Option[btcutil.Amount]
}

// GetPSBTSummary describes packet. The required signature count of each
// input is read from its multisig script.
func GetPSBTSummary(packet *psbt.Packet, net *chaincfg.Params) *PSBTSummary {
	summary := &PSBTSummary{
		TxID: packet.UnsignedTx.TxHash(),
		Fee:  packetFee(packet),
	}

	for i, txIn := range packet.UnsignedTx.TxIn {
		in := &packet.Inputs[i]
		input := PSBTInputSummary{
			PrevOut:    txIn.PreviousOutPoint.String(),
			Signatures: len(in.PartialSigs),
			Finalized:  isFinalized(in),
		}

		if prevOut := inputPrevOut(packet, i); prevOut != nil {
			input.Value = fn.Some(btcutil.Amount(prevOut.Value))
		}

		if script, _ := inputMultisigScript(in); script != nil {
			keys, required, err := txscript.CalcMultiSigStats(script)
			if err == nil {
				input.Keys, input.Required = keys, required
			}
		}

		summary.Inputs = append(summary.Inputs, input)
	}

	for i, txOut := range packet.UnsignedTx.TxOut {
		out := &packet.Outputs[i]
		summary.Outputs = append(summary.Outputs, PSBTOutputSummary{
			Address: scriptAddress(txOut.PkScript, net),
			Amount:  btcutil.Amount(txOut.Value),
			Owned: len(out.Bip32Derivation) > 0 ||
				out.RedeemScript != nil ||
				out.WitnessScript != nil,
		})
	}

	return summary
}

// String renders the summary as text.
func (s *PSBTSummary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "txid: %v\n", s.TxID)
	fmt.Fprintf(&b, "fee: %s\n", fn.MapOptionZ(s.Fee,
		func(fee btcutil.Amount) string {
			return fee.String()
		},
	))

	for i, in := range s.Inputs {
		status := fmt.Sprintf("%d", in.Signatures)
		if in.Required > 0 {
			status = fmt.Sprintf("%d/%d (of %d keys)",
				in.Signatures, in.Required, in.Keys)
		}
		if in.Finalized {
			status = "finalized"
		}

		value := "unknown"
		in.Value.WhenSome(func(v btcutil.Amount) {
			value = v.String()
		})

		fmt.Fprintf(&b, "input %d: %s value=%s signatures=%s\n", i,
			in.PrevOut, value, status)
	}

	for i, out := range s.Outputs {
		owned := ""
		if out.Owned {
			owned = " (change)"
		}

		fmt.Fprintf(&b, "output %d: %s %v%s\n", i, out.Address,
			out.Amount, owned)
	}

	return b.String()
}

// CreatePSBTChunks splits the binary form of packet into text chunks of at
// most maxSize characters. A maxSize of zero or less selects
// DefaultChunkSize.
func CreatePSBTChunks(packet *psbt.Packet, maxSize int) ([]string, error) {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	txid := packet.UnsignedTx.TxHash()
	frames, err := chunk.Split(buf.Bytes(), txid, maxSize)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(frames))
	for _, frame := range frames {
		chunks = append(chunks, frame.String())
	}

	log.Debugf("Split PSBT %v into %d chunks of at most %d chars", txid,
		len(chunks), maxSize)

	return chunks, nil
}

// ReassemblePSBTChunks joins chunks created by CreatePSBTChunks. The chunks
// may be given in any order.
func ReassemblePSBTChunks(chunks []string) (*psbt.Packet, error) {
	frames := make([]*chunk.Frame, 0, len(chunks))
	for _, s := range chunks {
		frame, err := chunk.Parse(s)
		if err != nil {
			return nil, err
		}

		frames = append(frames, frame)
	}

	payload, first, err := chunk.Join(frames)
	if err != nil {
		return nil, err
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(payload), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPSBTParse, err)
	}

	if txid := packet.UnsignedTx.TxHash(); txid != first.TxID {
		return nil, fmt.Errorf("%w: chunks claim %x, psbt is %v",
			ErrChunkTxIDMismatch, first.TxID, txid)
	}

	return packet, nil
}
