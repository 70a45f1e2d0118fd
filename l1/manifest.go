package l1

import (
	"bytes"
	"encoding/json"

	"github.com/btcsuite/btcd/wire"
)

// L1Tx is one filtered transaction, kept raw alongside its extracted ops so
// proofs can re-derive the ops from the bytes.
type L1Tx struct {
	Position uint32       `json:"position"` // index within the block
	RawTx    []byte       `json:"raw_tx"`
	Ops      []ProtocolOp `json:"-"`
}

func (t *L1Tx) Tx() (*wire.MsgTx, error) {
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(t.RawTx)); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t L1Tx) MarshalJSON() ([]byte, error) {
	opsJSON, err := MarshalOps(t.Ops)
	if err != nil {
		return nil, err
	}
	type tmpTx struct {
		Position uint32          `json:"position"`
		RawTx    []byte          `json:"raw_tx"`
		Ops      json.RawMessage `json:"ops"`
	}
	return json.Marshal(tmpTx{Position: t.Position, RawTx: t.RawTx, Ops: opsJSON})
}

func (t *L1Tx) UnmarshalJSON(data []byte) error {
	type tmpTx struct {
		Position uint32          `json:"position"`
		RawTx    []byte          `json:"raw_tx"`
		Ops      json.RawMessage `json:"ops"`
	}
	var tmp tmpTx
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	ops, err := UnmarshalOps(tmp.Ops)
	if err != nil {
		return err
	}
	t.Position = tmp.Position
	t.RawTx = tmp.RawTx
	t.Ops = ops
	return nil
}

// L1BlockManifest is the client's durable record of one scanned L1 block:
// the raw header, the filtered txs and the post-acceptance verification
// snapshot.
type L1BlockManifest struct {
	BlockId L1BlockId `json:"block_id"`
	Header  []byte    `json:"header"` // 80-byte serialized header
	Height  uint64    `json:"height"`
	Epoch   uint64    `json:"epoch"` // finalized epoch at scan time
	Txs     []L1Tx    `json:"txs"`

	HeaderVs *HeaderVerificationState `json:"header_vs,omitempty"`
}

// NewManifestFromBlock filters nothing itself; txs are the already-filtered
// set for the block.
func NewManifestFromBlock(block *wire.MsgBlock, height uint64, epoch uint64, txs []L1Tx, hvs *HeaderVerificationState) (*L1BlockManifest, error) {
	var hdr bytes.Buffer
	if err := block.Header.Serialize(&hdr); err != nil {
		return nil, err
	}
	hash := block.Header.BlockHash()
	return &L1BlockManifest{
		BlockId:  L1BlockIdFromHash(hash),
		Header:   hdr.Bytes(),
		Height:   height,
		Epoch:    epoch,
		Txs:      txs,
		HeaderVs: hvs,
	}, nil
}

// ParsedHeader decodes the stored 80 raw header bytes.
func (m *L1BlockManifest) ParsedHeader() (*wire.BlockHeader, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(m.Header)); err != nil {
		return nil, ErrMalformedHeader
	}
	return &header, nil
}

// PrevBlockId is the parent pointer out of the stored header.
func (m *L1BlockManifest) PrevBlockId() (L1BlockId, error) {
	header, err := m.ParsedHeader()
	if err != nil {
		return L1BlockId{}, err
	}
	return L1BlockIdFromHash(header.PrevBlock), nil
}
