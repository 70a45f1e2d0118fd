package l1

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/params"
)

// Tagged OP_RETURN payload sizes, excluding the 4-byte magic.
const (
	depositTagLen    = 4 + 20  // be32 deposit idx, 20-byte EE address
	depositReqTagLen = 32 + 20 // take-back leaf hash, EE address
	withdrawalTagLen = 4 + 4   // be32 operator idx, be32 deposit idx
	eeAddressLen     = 20
	takeBackLeafLen  = 32
)

// TxFilterConfig is everything the filter needs to decide relevance. It is
// derived from params plus the current on-chain bridge state (federation
// script, live deposit outpoints), so the node re-derives it whenever the
// operator set or deposit table changes.
type TxFilterConfig struct {
	Magic            []byte
	FederationScript []byte
	DepositAmount    uint64

	// Live deposit UTXOs by outpoint; spends of these become
	// DepositSpendInfo ops.
	ExpectedOutpoints map[wire.OutPoint]uint32
}

func DeriveTxFilterConfig(p *params.Params, federationScript []byte) *TxFilterConfig {
	return &TxFilterConfig{
		Magic:             p.MagicBytes(),
		FederationScript:  federationScript,
		DepositAmount:     p.DepositAmount,
		ExpectedOutpoints: make(map[wire.OutPoint]uint32),
	}
}

// TrackOutpoint registers a live deposit UTXO for spend detection.
func (c *TxFilterConfig) TrackOutpoint(op wire.OutPoint, depositIdx uint32) {
	c.ExpectedOutpoints[op] = depositIdx
}

func (c *TxFilterConfig) UntrackOutpoint(op wire.OutPoint) {
	delete(c.ExpectedOutpoints, op)
}

// FilterProtocolOps walks the block's transactions in order and returns the
// relevant ones with their extracted ops. Within a tx, ops are ordered:
// envelope payloads, tagged outputs, tracked spends.
func FilterProtocolOps(block *wire.MsgBlock, cfg *TxFilterConfig) []L1Tx {
	var out []L1Tx
	for i, tx := range block.Transactions {
		ops := ExtractProtocolOps(tx, cfg)
		if len(ops) == 0 {
			continue
		}
		var raw bytes.Buffer
		if err := tx.Serialize(&raw); err != nil {
			continue
		}
		out = append(out, L1Tx{
			Position: uint32(i),
			RawTx:    raw.Bytes(),
			Ops:      ops,
		})
	}
	return out
}

// ExtractProtocolOps pulls every protocol op out of a single transaction.
func ExtractProtocolOps(tx *wire.MsgTx, cfg *TxFilterConfig) []ProtocolOp {
	var ops []ProtocolOp

	for _, txIn := range tx.TxIn {
		for _, item := range txIn.Witness {
			if len(item) == 0 {
				continue
			}
			payloads, err := ParseEnvelopePayloads(item, cfg.Magic)
			if err != nil {
				continue
			}
			for _, p := range payloads {
				ops = append(ops, &CheckpointPayload{Data: p})
			}
		}
	}

	ops = append(ops, extractTaggedOps(tx, cfg)...)

	for _, txIn := range tx.TxIn {
		if idx, ok := cfg.ExpectedOutpoints[txIn.PreviousOutPoint]; ok {
			ops = append(ops, &DepositSpendInfo{DepositIdx: idx})
		}
	}

	return ops
}

func extractTaggedOps(tx *wire.MsgTx, cfg *TxFilterConfig) []ProtocolOp {
	var ops []ProtocolOp
	for _, txOut := range tx.TxOut {
		payload, ok := opReturnPayload(txOut.PkScript)
		if !ok {
			continue
		}
		if len(payload) < len(cfg.Magic) || !bytes.Equal(payload[:len(cfg.Magic)], cfg.Magic) {
			continue
		}
		body := payload[len(cfg.Magic):]

		switch len(body) {
		case depositTagLen:
			if op := parseDeposit(tx, body, cfg); op != nil {
				ops = append(ops, op)
			}
		case depositReqTagLen:
			ops = append(ops, parseDepositRequest(tx, body))
		case withdrawalTagLen:
			ops = append(ops, parseWithdrawalFulfillment(tx, body))
		}
	}
	return ops
}

// opReturnPayload returns the single pushed datum of a null-data script.
func opReturnPayload(pkScript []byte) ([]byte, bool) {
	if len(pkScript) == 0 || pkScript[0] != txscript.OP_RETURN {
		return nil, false
	}
	pushed, err := txscript.PushedData(pkScript)
	if err != nil || len(pushed) != 1 {
		return nil, false
	}
	return pushed[0], true
}

// parseDeposit accepts the tag only when the tx actually pays the exact
// denomination to the federation script; the metadata alone proves nothing.
func parseDeposit(tx *wire.MsgTx, body []byte, cfg *TxFilterConfig) ProtocolOp {
	depositIdx := binary.BigEndian.Uint32(body[:4])
	addr := common.BytesToAddress(body[4 : 4+eeAddressLen])

	for vout, txOut := range tx.TxOut {
		if uint64(txOut.Value) != cfg.DepositAmount {
			continue
		}
		if !bytes.Equal(txOut.PkScript, cfg.FederationScript) {
			continue
		}
		return &DepositInfo{
			DepositIdx: depositIdx,
			Amt:        uint64(txOut.Value),
			Outpoint:   wire.OutPoint{Hash: tx.TxHash(), Index: uint32(vout)},
			Address:    addr,
		}
	}
	return nil
}

func parseDepositRequest(tx *wire.MsgTx, body []byte) ProtocolOp {
	var leaf common.Hash
	copy(leaf[:], body[:takeBackLeafLen])
	addr := common.BytesToAddress(body[takeBackLeafLen : takeBackLeafLen+eeAddressLen])

	amt := uint64(0)
	for _, txOut := range tx.TxOut {
		if len(txOut.PkScript) > 0 && txOut.PkScript[0] == txscript.OP_RETURN {
			continue
		}
		amt = uint64(txOut.Value)
		break
	}
	return &DepositRequestInfo{Amt: amt, TakeBackLeafHash: leaf, Address: addr}
}

func parseWithdrawalFulfillment(tx *wire.MsgTx, body []byte) ProtocolOp {
	operatorIdx := binary.BigEndian.Uint32(body[:4])
	depositIdx := binary.BigEndian.Uint32(body[4:8])

	amt := uint64(0)
	for _, txOut := range tx.TxOut {
		if len(txOut.PkScript) > 0 && txOut.PkScript[0] == txscript.OP_RETURN {
			continue
		}
		amt = uint64(txOut.Value)
		break
	}
	return &WithdrawalFulfillmentInfo{
		OperatorIdx: operatorIdx,
		DepositIdx:  depositIdx,
		Amt:         amt,
		Txid:        L1TxIdFromHash(tx.TxHash()),
	}
}
