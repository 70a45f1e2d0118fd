package l1

import (
	"context"
	"encoding/binary"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"

	"github.com/alpenlabs/strata-sub002/common"
)

// HeaderSource supplies headers by height, typically backed by a Bitcoin RPC
// client.
type HeaderSource interface {
	BlockHeaderAt(ctx context.Context, height uint64) (*wire.BlockHeader, error)
}

// HeaderVerificationState is the compact L1 view a proof must carry to verify
// a span of Bitcoin headers: enough to check continuity, PoW, the timestamp
// rule and difficulty retargets without any other chain access.
type HeaderVerificationState struct {
	LastVerifiedBlockNum  uint32    `json:"last_verified_block_num"`
	LastVerifiedBlockHash L1BlockId `json:"last_verified_block_hash"`

	// Compact target required of the next block.
	NextBlockTarget uint32 `json:"next_block_target"`

	// Timestamp of the first block of the difficulty window in force.
	IntervalStartTimestamp uint32 `json:"interval_start_timestamp"`

	// Work accumulated since this state was bootstrapped. Fits u128.
	TotalAccumulatedPoW *uint256.Int `json:"total_accumulated_pow"`

	LastTimestamps *TimestampStore `json:"last_timestamps"`
}

// snapshotSize is the fixed serialization: u32 num, 32-byte hash, u32 bits,
// u32 interval start, u128 work, 11 u32 timestamps.
const snapshotSize = 4 + 32 + 4 + 4 + 16 + 4*TimestampWindow

// CheckAndUpdate validates header as the next block and folds it into the
// state. The state is unchanged on error.
func (v *HeaderVerificationState) CheckAndUpdate(header *wire.BlockHeader, net *chaincfg.Params) error {
	if err := v.checkHeader(header, net); err != nil {
		return err
	}
	v.updateState(header, net)
	return nil
}

func (v *HeaderVerificationState) checkHeader(header *wire.BlockHeader, net *chaincfg.Params) error {
	prev := L1BlockIdFromHash(header.PrevBlock)
	if prev != v.LastVerifiedBlockHash {
		return &ContinuityError{Expected: v.LastVerifiedBlockHash, Got: prev}
	}

	// Networks with min-difficulty rules (testnet, regtest) emit bits the
	// simple retarget schedule cannot predict, so the equality check only
	// holds on mainnet-like params.
	if !net.ReduceMinDifficulty && header.Bits != v.NextBlockTarget {
		return &WrongTargetError{Expected: v.NextBlockTarget, Got: header.Bits}
	}

	target := blockchain.CompactToBig(header.Bits)
	hash := header.BlockHash()
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return &PowNotMetError{BlockHash: L1BlockIdFromHash(hash), Bits: header.Bits}
	}

	ts := uint32(header.Timestamp.Unix())
	if median := v.LastTimestamps.Median(); ts <= median {
		return &TimestampError{Ts: ts, Median: median}
	}
	return nil
}

func (v *HeaderVerificationState) updateState(header *wire.BlockHeader, net *chaincfg.Params) {
	height := uint64(v.LastVerifiedBlockNum) + 1
	ts := uint32(header.Timestamp.Unix())

	v.LastVerifiedBlockNum = uint32(height)
	hash := header.BlockHash()
	v.LastVerifiedBlockHash = L1BlockIdFromHash(hash)
	v.LastTimestamps.Insert(ts)

	work, _ := uint256.FromBig(blockchain.CalcWork(header.Bits))
	v.TotalAccumulatedPoW.Add(v.TotalAccumulatedPoW, work)

	if isRetargetHeight(height, net) {
		// This block opens a new difficulty window.
		v.IntervalStartTimestamp = ts
	}
	if isRetargetHeight(height+1, net) {
		v.NextBlockTarget = nextWorkRequired(header.Bits, v.IntervalStartTimestamp, ts, net)
	} else {
		v.NextBlockTarget = header.Bits
	}
}

// ExpectedNextHeight is the height the next accepted header must have.
func (v *HeaderVerificationState) ExpectedNextHeight() uint64 {
	return uint64(v.LastVerifiedBlockNum) + 1
}

// ComputeSnapshotHash commits to the state with a fixed 104-byte big-endian
// layout. Zero-copy friendly and stable across serializer changes, since
// proofs pin this commitment.
func (v *HeaderVerificationState) ComputeSnapshotHash() common.Hash {
	var buf [snapshotSize]byte
	binary.BigEndian.PutUint32(buf[0:4], v.LastVerifiedBlockNum)
	copy(buf[4:36], v.LastVerifiedBlockHash[:])
	binary.BigEndian.PutUint32(buf[36:40], v.NextBlockTarget)
	binary.BigEndian.PutUint32(buf[40:44], v.IntervalStartTimestamp)
	pow := v.TotalAccumulatedPoW.Bytes32()
	copy(buf[44:60], pow[16:32])
	ordered := v.LastTimestamps.Ordered()
	for i, ts := range ordered {
		binary.BigEndian.PutUint32(buf[60+4*i:64+4*i], ts)
	}
	return common.Sha256(buf[:])
}

func (v *HeaderVerificationState) Clone() *HeaderVerificationState {
	cp := *v
	cp.TotalAccumulatedPoW = new(uint256.Int).Set(v.TotalAccumulatedPoW)
	ts := *v.LastTimestamps
	cp.LastTimestamps = &ts
	return &cp
}

// NewVerificationState bootstraps the state so the next accepted header is at
// height+1. Timestamps for heights below the first available block come in
// as zeros.
func NewVerificationState(ctx context.Context, src HeaderSource, height uint64, net *chaincfg.Params) (*HeaderVerificationState, error) {
	header, err := src.BlockHeaderAt(ctx, height)
	if err != nil {
		return nil, err
	}

	tss := make([]uint32, 0, TimestampWindow)
	first := uint64(0)
	if height >= TimestampWindow-1 {
		first = height - (TimestampWindow - 1)
	}
	for h := first; h < height; h++ {
		hh, err := src.BlockHeaderAt(ctx, h)
		if err != nil {
			return nil, err
		}
		tss = append(tss, uint32(hh.Timestamp.Unix()))
	}
	tss = append(tss, uint32(header.Timestamp.Unix()))

	interval := uint64(net.TargetTimespan / net.TargetTimePerBlock)
	intervalStartHeight := height - (height % interval)
	intervalStartTs := uint32(header.Timestamp.Unix())
	if intervalStartHeight != height {
		ih, err := src.BlockHeaderAt(ctx, intervalStartHeight)
		if err != nil {
			return nil, err
		}
		intervalStartTs = uint32(ih.Timestamp.Unix())
	}

	hash := header.BlockHash()
	v := &HeaderVerificationState{
		LastVerifiedBlockNum:   uint32(height),
		LastVerifiedBlockHash:  L1BlockIdFromHash(hash),
		IntervalStartTimestamp: intervalStartTs,
		TotalAccumulatedPoW:    uint256.NewInt(0),
		LastTimestamps:         NewTimestampStore(tss),
	}
	if isRetargetHeight(height+1, net) {
		v.NextBlockTarget = nextWorkRequired(header.Bits, intervalStartTs, uint32(header.Timestamp.Unix()), net)
	} else {
		v.NextBlockTarget = header.Bits
	}
	return v, nil
}
