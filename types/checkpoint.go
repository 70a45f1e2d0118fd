package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
)

// BatchInfo delimits what a checkpoint covers: an epoch, the L1 height
// range scanned, and the L2 slot range produced, ending at L2Blkid.
type BatchInfo struct {
	Epoch   uint64    `json:"epoch"`
	L1Range [2]uint64 `json:"l1_range"`
	L2Range [2]uint64 `json:"l2_range"`
	L2Blkid L2BlockId `json:"l2_blkid"`
}

func (b *BatchInfo) EpochCommitment() EpochCommitment {
	return EpochCommitment{Epoch: b.Epoch, LastSlot: b.L2Range[1], LastBlkid: b.L2Blkid}
}

func (b *BatchInfo) String() string {
	return fmt.Sprintf("batch(epoch %d, l1 %d..%d, l2 %d..%d)",
		b.Epoch, b.L1Range[0], b.L1Range[1], b.L2Range[0], b.L2Range[1])
}

// BaseStateCommitment pins the chainstate roots the batch transitions
// between.
type BaseStateCommitment struct {
	InitialStateRoot common.Hash `json:"initial_state_root"`
	FinalStateRoot   common.Hash `json:"final_state_root"`
}

// Checkpoint is the batch claim a sequencer posts to L1. HeaderVsHash
// is the L1 header-verification-state commitment at the end of the
// batch's L1 range; Proof is the (possibly empty) proof blob.
type Checkpoint struct {
	BatchInfo    BatchInfo           `json:"batch_info"`
	BaseState    BaseStateCommitment `json:"base_state"`
	HeaderVsHash common.Hash         `json:"header_vs_hash"`
	Proof        common.HexBytes     `json:"proof"`
}

// encodeSigned is the canonical encoding covered by the checkpoint
// signature and used as proof public input. Fixed layout, all fields
// big-endian.
func (c *Checkpoint) encodeSigned(buf *bytes.Buffer) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], c.BatchInfo.Epoch)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.BatchInfo.L1Range[0])
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.BatchInfo.L1Range[1])
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.BatchInfo.L2Range[0])
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.BatchInfo.L2Range[1])
	buf.Write(scratch[:])
	buf.Write(c.BatchInfo.L2Blkid[:])
	buf.Write(c.BaseState.InitialStateRoot[:])
	buf.Write(c.BaseState.FinalStateRoot[:])
	buf.Write(c.HeaderVsHash[:])
}

// SigHash is what the sequencer credential signs. The proof is not
// covered: the same batch claim may be posted first empty then proved.
func (c *Checkpoint) SigHash() common.Hash {
	var buf bytes.Buffer
	c.encodeSigned(&buf)
	return common.Sha256(buf.Bytes())
}

// ProofPublicParams is the public input the proof is verified against.
// Identical content to SigHash today, kept separate so the two can
// diverge without a consensus break on either.
func (c *Checkpoint) ProofPublicParams() []byte {
	var buf bytes.Buffer
	c.encodeSigned(&buf)
	return buf.Bytes()
}

func (c *Checkpoint) HasProof() bool {
	return len(c.Proof) > 0
}

// SignedCheckpoint wraps a checkpoint with the sequencer signature over
// SigHash.
type SignedCheckpoint struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Sig        SchnorrSig `json:"sig"`
}
