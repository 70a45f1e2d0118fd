package btcio

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

type memManifests struct {
	byHeight map[uint64]*l1.L1BlockManifest
}

func newMemManifests() *memManifests {
	return &memManifests{byHeight: make(map[uint64]*l1.L1BlockManifest)}
}

func (m *memManifests) PutBlockManifest(mf *l1.L1BlockManifest) error {
	m.byHeight[mf.Height] = mf
	return nil
}

func (m *memManifests) GetBlockIdAtHeight(height uint64) (l1.L1BlockId, bool, error) {
	mf, ok := m.byHeight[height]
	if !ok {
		return l1.L1BlockId{}, false, nil
	}
	return mf.BlockId, true, nil
}

func (m *memManifests) GetLastManifestHeight() (uint64, bool, error) {
	best, found := uint64(0), false
	for h := range m.byHeight {
		if !found || h > best {
			best, found = h, true
		}
	}
	return best, found, nil
}

func (m *memManifests) DeleteManifestsFrom(height uint64) error {
	for h := range m.byHeight {
		if h >= height {
			delete(m.byHeight, h)
		}
	}
	return nil
}

type memSink struct {
	events []types.SyncEvent
}

func (s *memSink) WriteSyncEvent(ev types.SyncEvent) (uint64, error) {
	s.events = append(s.events, ev)
	return uint64(len(s.events)), nil
}

func (s *memSink) blockEvents() []*types.L1BlockEvent {
	var out []*types.L1BlockEvent
	for _, ev := range s.events {
		if be, ok := ev.(*types.L1BlockEvent); ok {
			out = append(out, be)
		}
	}
	return out
}

func (s *memSink) revertEvents() []*types.L1RevertEvent {
	var out []*types.L1RevertEvent
	for _, ev := range s.events {
		if re, ok := ev.(*types.L1RevertEvent); ok {
			out = append(out, re)
		}
	}
	return out
}

func testReaderParams(safeDepth uint32) *params.Params {
	return &params.Params{
		RollupName:            "alpn",
		BlockTimeMs:           1000,
		HorizonL1Height:       5,
		GenesisL1Height:       8,
		L1ReorgSafeDepth:      safeDepth,
		TargetL2BatchSize:     64,
		DepositAmount:         1_000_000_000,
		DispatchAssignmentDur: 64,
		MaxDepositsInBlock:    16,
		Network:               "regtest",
	}
}

func newTestReader(safeDepth uint32) (*FakeChain, *BlockReader, *memManifests, *memSink) {
	chain := NewFakeChain(&chaincfg.RegressionNetParams)
	p := testReaderParams(safeDepth)
	store := newMemManifests()
	sink := &memSink{}
	filter := l1.DeriveTxFilterConfig(p, nil)
	r := NewBlockReader(chain, store, sink, p, filter, 0)
	return chain, r, store, sink
}

func TestReaderScansFromHorizon(t *testing.T) {
	chain, r, store, sink := newTestReader(4)
	chain.ExtendN(9) // heights 1..9
	ctx := context.Background()

	r.drain(ctx)

	last, found, err := store.GetLastManifestHeight()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(9), last)

	blockEvs := sink.blockEvents()
	require.Len(t, blockEvs, 5) // 5..9
	for i, ev := range blockEvs {
		height := uint64(5 + i)
		assert.Equal(t, height, ev.Height)
		wantId, err := chain.GetBlockHash(ctx, height)
		require.NoError(t, err)
		assert.Equal(t, wantId, ev.Blkid)
		assert.Equal(t, wantId, store.byHeight[height].BlockId)
	}

	// only the genesis-height manifest carries the verification snapshot
	for h, mf := range store.byHeight {
		if h == 8 {
			require.NotNil(t, mf.HeaderVs, "height %d", h)
			assert.Equal(t, uint32(8), mf.HeaderVs.LastVerifiedBlockNum)
		} else {
			assert.Nil(t, mf.HeaderVs, "height %d", h)
		}
	}

	// nothing past the tip, nothing new to do
	before := len(sink.events)
	r.drain(ctx)
	assert.Equal(t, before, len(sink.events))
}

func TestReaderRetriesTransientFailures(t *testing.T) {
	chain, r, store, _ := newTestReader(4)
	chain.ExtendN(9)
	ctx := context.Background()
	r.drain(ctx)

	chain.ExtendN(1) // height 10
	chain.SetFailures(1)

	// failed tick: no progress, no error escapes
	r.drain(ctx)
	last, _, err := store.GetLastManifestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), last)

	// next tick picks the block up
	r.drain(ctx)
	last, _, err = store.GetLastManifestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)
}

func TestReaderFollowsReorg(t *testing.T) {
	chain, r, store, sink := newTestReader(4)
	chain.ExtendN(12) // heights 1..12
	ctx := context.Background()
	r.drain(ctx)

	oldId10 := store.byHeight[10].BlockId
	chain.ReorgFrom(10, 4) // new heights 10..13
	r.drain(ctx)

	reverts := sink.revertEvents()
	require.Len(t, reverts, 1)
	assert.Equal(t, uint64(9), reverts[0].Height)

	last, found, err := store.GetLastManifestHeight()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(13), last)

	for h := uint64(10); h <= 13; h++ {
		wantId, err := chain.GetBlockHash(ctx, h)
		require.NoError(t, err)
		require.NotNil(t, store.byHeight[h], "height %d missing after reorg", h)
		assert.Equal(t, wantId, store.byHeight[h].BlockId)
	}
	assert.NotEqual(t, oldId10, store.byHeight[10].BlockId)

	// the new branch was re-announced after the revert
	blockEvs := sink.blockEvents()
	require.GreaterOrEqual(t, len(blockEvs), 12)
	tail := blockEvs[len(blockEvs)-4:]
	for i, ev := range tail {
		assert.Equal(t, uint64(10+i), ev.Height)
	}
}

func TestReaderReorgPastSafeDepth(t *testing.T) {
	chain, r, store, sink := newTestReader(2)
	chain.ExtendN(12)
	ctx := context.Background()
	r.drain(ctx)

	chain.ReorgFrom(7, 7) // 5 blocks dropped, depth bound is 2

	_, err := r.step(ctx)
	require.Error(t, err)
	var deep *ReorgExceedsDepthError
	require.True(t, errors.As(err, &deep), "got %v", err)
	assert.Equal(t, uint64(12), deep.Tip)
	assert.Equal(t, uint32(2), deep.Depth)

	// local view untouched: no revert emitted, manifests intact
	assert.Empty(t, sink.revertEvents())
	last, _, err := store.GetLastManifestHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), last)
}
