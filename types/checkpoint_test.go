package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
)

func TestL2HeaderEncodeLayout(t *testing.T) {
	h := &L2BlockHeader{
		Slot:            0x0102030405060708,
		Epoch:           2,
		Timestamp:       1700000000,
		PrevBlock:       l2id(0xaa),
		L1SegmentHash:   common.BytesToHash([]byte{0xbb}),
		ExecSegmentHash: common.BytesToHash([]byte{0xcc}),
		StateRoot:       common.BytesToHash([]byte{0xdd}),
	}
	enc := h.Encode()
	require.Len(t, enc, 3*8+4*32)

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, enc[0:8])
	assert.Equal(t, byte(2), enc[15])
	assert.Equal(t, byte(0xaa), enc[24])
	assert.Equal(t, h.L1SegmentHash.Bytes(), enc[56:88])
	assert.Equal(t, h.ExecSegmentHash.Bytes(), enc[88:120])
	assert.Equal(t, h.StateRoot.Bytes(), enc[120:152])

	assert.Equal(t, L2BlockId(common.Sha256(enc)), h.Id())

	// identity is a function of content only
	h2 := *h
	assert.Equal(t, h.Id(), h2.Id())
	h2.Slot++
	assert.NotEqual(t, h.Id(), h2.Id())
}

func TestBlockSegmentHashes(t *testing.T) {
	body := L2BlockBody{
		L1Segment:   L1Segment{NewManifests: nil},
		ExecSegment: ExecSegment{Payload: []byte("payload")},
	}
	header := L2BlockHeader{
		Slot:            1,
		L1SegmentHash:   body.L1Segment.SegmentHash(),
		ExecSegmentHash: body.ExecSegment.SegmentHash(),
	}
	blk := &L2Block{Header: SignedL2BlockHeader{Header: header}, Body: body}
	require.NoError(t, blk.CheckSegmentHashes())

	blk.Body.ExecSegment.Payload = []byte("tampered")
	assert.Error(t, blk.CheckSegmentHashes())
}

func TestCheckpointSigHashIgnoresProof(t *testing.T) {
	ckpt := Checkpoint{
		BatchInfo: BatchInfo{
			Epoch:   3,
			L1Range: [2]uint64{100, 110},
			L2Range: [2]uint64{128, 191},
			L2Blkid: l2id(0x11),
		},
		BaseState: BaseStateCommitment{
			InitialStateRoot: common.BytesToHash([]byte{1}),
			FinalStateRoot:   common.BytesToHash([]byte{2}),
		},
		HeaderVsHash: common.BytesToHash([]byte{3}),
	}

	empty := ckpt.SigHash()
	ckpt.Proof = []byte{0xde, 0xad}
	assert.Equal(t, empty, ckpt.SigHash())

	ckpt.BatchInfo.Epoch = 4
	assert.NotEqual(t, empty, ckpt.SigHash())

	assert.Equal(t, 5*8+3*32+32, len(ckpt.ProofPublicParams()))
}

func TestEpochCommitment(t *testing.T) {
	var e EpochCommitment
	assert.True(t, e.IsNull())

	b := BatchInfo{Epoch: 2, L2Range: [2]uint64{64, 127}, L2Blkid: l2id(5)}
	ec := b.EpochCommitment()
	assert.False(t, ec.IsNull())
	assert.Equal(t, uint64(127), ec.LastSlot)
	assert.Equal(t, L2BlockCommitment{Slot: 127, Blkid: l2id(5)}, ec.ToBlockCommitment())
}
