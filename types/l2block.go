package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
)

// L2BlockId is the sha256 of the canonical header encoding.
type L2BlockId [32]byte

func (id L2BlockId) Bytes() []byte {
	return id[:]
}

func (id L2BlockId) Hash() common.Hash {
	return common.BytesToHash(id[:])
}

func (id L2BlockId) String() string {
	return common.HexString(id[:])
}

func (id L2BlockId) String_short() string {
	s := common.HexString(id[:])
	return s[:6] + ".." + s[len(s)-4:]
}

func (id L2BlockId) IsZero() bool {
	return id == L2BlockId{}
}

func (id L2BlockId) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.HexString(id[:]))
}

func (id *L2BlockId) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	raw := common.FromHex(hexStr)
	if len(raw) != 32 {
		return fmt.Errorf("l2 block id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return nil
}

// SchnorrSig is a 64-byte BIP340 signature.
type SchnorrSig [64]byte

func (s SchnorrSig) IsZero() bool {
	return s == SchnorrSig{}
}

func (s SchnorrSig) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.HexString(s[:]))
}

func (s *SchnorrSig) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	raw := common.FromHex(hexStr)
	if len(raw) != 64 {
		return fmt.Errorf("schnorr sig must be 64 bytes, got %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// L2BlockCommitment pins a block id to its slot. Used anywhere the two
// travel together (sync state, tracker reports, checkpoint batches).
type L2BlockCommitment struct {
	Slot  uint64    `json:"slot"`
	Blkid L2BlockId `json:"blkid"`
}

func (c L2BlockCommitment) String() string {
	return fmt.Sprintf("%d@%s", c.Slot, c.Blkid.String_short())
}

// L2BlockHeader identifies an L2 block and commits to its body and the
// post-state. The id is the sha256 of the canonical encoding, so every
// field here is consensus-critical.
type L2BlockHeader struct {
	Slot            uint64      `json:"slot"`
	Epoch           uint64      `json:"epoch"`
	Timestamp       uint64      `json:"timestamp"`
	PrevBlock       L2BlockId   `json:"prev_block"`
	L1SegmentHash   common.Hash `json:"l1_segment_hash"`
	ExecSegmentHash common.Hash `json:"exec_segment_hash"`
	StateRoot       common.Hash `json:"state_root"`
}

// encodeTo writes the fixed-width big-endian canonical form. The layout
// is a wire commitment: field order and widths must never change.
func (h *L2BlockHeader) encodeTo(buf *bytes.Buffer) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], h.Slot)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], h.Epoch)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], h.Timestamp)
	buf.Write(scratch[:])
	buf.Write(h.PrevBlock[:])
	buf.Write(h.L1SegmentHash[:])
	buf.Write(h.ExecSegmentHash[:])
	buf.Write(h.StateRoot[:])
}

func (h *L2BlockHeader) Encode() []byte {
	var buf bytes.Buffer
	h.encodeTo(&buf)
	return buf.Bytes()
}

func (h *L2BlockHeader) Id() L2BlockId {
	return L2BlockId(common.Sha256(h.Encode()))
}

func (h *L2BlockHeader) Commitment() L2BlockCommitment {
	return L2BlockCommitment{Slot: h.Slot, Blkid: h.Id()}
}

// SignedL2BlockHeader carries the sequencer signature over the header id.
type SignedL2BlockHeader struct {
	Header L2BlockHeader `json:"header"`
	Sig    SchnorrSig    `json:"sig"`
}

func (s *SignedL2BlockHeader) Id() L2BlockId {
	return s.Header.Id()
}

// L1Segment lists the L1 manifests this block acknowledges, in height
// order. Hashed into the header via SegmentHash.
type L1Segment struct {
	NewManifests []l1.L1BlockId `json:"new_manifests"`
}

func (s *L1Segment) SegmentHash() common.Hash {
	var buf bytes.Buffer
	for _, id := range s.NewManifests {
		buf.Write(id[:])
	}
	return common.Sha256(buf.Bytes())
}

// ExecSegment carries the opaque execution payload.
type ExecSegment struct {
	Payload common.HexBytes `json:"payload"`
}

func (s *ExecSegment) SegmentHash() common.Hash {
	return common.Sha256(s.Payload)
}

type L2BlockBody struct {
	L1Segment   L1Segment   `json:"l1_segment"`
	ExecSegment ExecSegment `json:"exec_segment"`
}

type L2Block struct {
	Header SignedL2BlockHeader `json:"header"`
	Body   L2BlockBody         `json:"body"`
}

func (b *L2Block) Id() L2BlockId {
	return b.Header.Id()
}

func (b *L2Block) Slot() uint64 {
	return b.Header.Header.Slot
}

func (b *L2Block) Commitment() L2BlockCommitment {
	return b.Header.Header.Commitment()
}

// CheckSegmentHashes verifies the header's segment commitments against
// the body. Blocks failing this never enter local stores.
func (b *L2Block) CheckSegmentHashes() error {
	if got := b.Body.L1Segment.SegmentHash(); got != b.Header.Header.L1SegmentHash {
		return fmt.Errorf("l1 segment hash mismatch: header %s body %s",
			b.Header.Header.L1SegmentHash.String_short(), got.String_short())
	}
	if got := b.Body.ExecSegment.SegmentHash(); got != b.Header.Header.ExecSegmentHash {
		return fmt.Errorf("exec segment hash mismatch: header %s body %s",
			b.Header.Header.ExecSegmentHash.String_short(), got.String_short())
	}
	return nil
}
