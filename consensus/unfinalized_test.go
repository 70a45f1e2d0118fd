package consensus

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/types"
)

// addChain attaches num blocks on top of parent and returns their ids
// in order. salt differentiates forks that share slots.
func addChain(t *testing.T, tracker *UnfinalizedBlockTracker, parent types.L2BlockId, num int, startSlot uint64, salt byte) []types.L2BlockId {
	t.Helper()
	ids := []types.L2BlockId{}
	prev := parent
	for i := 0; i < num; i++ {
		header := &types.L2BlockHeader{
			Slot:      startSlot + uint64(i),
			Timestamp: 1000 + startSlot + uint64(i),
			PrevBlock: prev,
			StateRoot: common.Hash{salt},
		}
		id := header.Id()
		if err := tracker.AttachBlock(id, header); err != nil {
			t.Fatalf("attach block at slot %d: %s", header.Slot, err)
		}
		ids = append(ids, id)
		prev = id
	}
	return ids
}

func sortedIds(ids []types.L2BlockId) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

func TestTrackerAttach(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)

	header := &types.L2BlockHeader{Slot: 1, PrevBlock: genesis}
	id := header.Id()
	require.NoError(t, tracker.AttachBlock(id, header))
	assert.True(t, tracker.ContainsBlock(id))

	err := tracker.AttachBlock(id, header)
	var dup *BlockAlreadyAttachedError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, id, dup.Blkid)

	orphan := &types.L2BlockHeader{Slot: 2, PrevBlock: types.L2BlockId{0xee}}
	err = tracker.AttachBlock(orphan.Id(), orphan)
	var missing *AttachMissingParentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, types.L2BlockId{0xee}, missing.Parent)

	// parent links intact all the way down
	assert.True(t, tracker.SanityCheckParentSeq(id))
	assert.False(t, tracker.SanityCheckParentSeq(types.L2BlockId{0xee}))
}

func TestTrackerFinalizeEviction(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)

	// main chain a0..a4 off genesis, competing chain b0..b2 off a1,
	// and a further fork c0..c1 off b0
	chainA := addChain(t, tracker, genesis, 5, 1, 0xaa)
	chainB := addChain(t, tracker, chainA[1], 3, 2, 0xbb)
	chainC := addChain(t, tracker, chainB[0], 2, 3, 0xcc)
	require.Equal(t, 11, tracker.Len())

	report, err := tracker.UpdateFinalizedTip(chainA[3])
	require.NoError(t, err)

	assert.Equal(t, genesis, report.PrevTip)
	assert.Equal(t, chainA[:4], report.Finalized)

	// everything branching off the finalized path goes, nothing else
	evicted := append(append([]types.L2BlockId{}, chainB...), chainC...)
	assert.Equal(t, sortedIds(evicted), sortedIds(report.Rejected))

	assert.Equal(t, chainA[3], tracker.FinalizedTip())
	assert.True(t, tracker.ContainsBlock(chainA[4]))
	for _, id := range chainA[:3] {
		assert.False(t, tracker.ContainsBlock(id), "path block %s should leave pending", id.String_short())
	}
	for _, id := range evicted {
		assert.False(t, tracker.ContainsBlock(id), "evicted block %s still tracked", id.String_short())
	}

	// extending an evicted branch must fail
	header := &types.L2BlockHeader{Slot: 9, PrevBlock: chainB[2]}
	err = tracker.AttachBlock(header.Id(), header)
	var missing *AttachMissingParentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, chainB[2], missing.Parent)

	assert.Equal(t, []types.L2BlockId{chainA[4]}, tracker.ChainTipsIter())
}

func TestTrackerFinalizeUnreachable(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)
	chain := addChain(t, tracker, genesis, 3, 1, 0)

	_, err := tracker.UpdateFinalizedTip(types.L2BlockId{0xff})
	var missing *MissingBlockError
	require.ErrorAs(t, err, &missing)

	// nothing moved
	assert.Equal(t, genesis, tracker.FinalizedTip())
	assert.Equal(t, 4, tracker.Len())

	_, err = tracker.UpdateFinalizedTip(chain[2])
	require.NoError(t, err)

	// blocks behind the new tip are gone now
	_, err = tracker.UpdateFinalizedTip(chain[0])
	require.ErrorAs(t, err, &missing)
}

func TestTrackerFinalizeCurrentTip(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)
	addChain(t, tracker, genesis, 2, 1, 0)

	report, err := tracker.UpdateFinalizedTip(genesis)
	require.NoError(t, err)
	assert.Equal(t, genesis, report.PrevTip)
	assert.Empty(t, report.Finalized)
	assert.Empty(t, report.Rejected)
	assert.Equal(t, 3, tracker.Len())
}

func TestTrackerChainTips(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)
	assert.Equal(t, []types.L2BlockId{genesis}, tracker.ChainTipsIter())

	chainA := addChain(t, tracker, genesis, 4, 1, 0xaa)
	chainB := addChain(t, tracker, chainA[0], 2, 2, 0xbb)

	tips := tracker.ChainTipsIter()
	assert.Equal(t, sortedIds([]types.L2BlockId{chainA[3], chainB[1]}), sortedIds(tips))
}

func TestTrackerSnapshot(t *testing.T) {
	genesis := types.L2BlockId{1}
	tracker := NewUnfinalizedBlockTracker(genesis)
	chain := addChain(t, tracker, genesis, 2, 1, 0)

	tip, edges := tracker.Snapshot()
	assert.Equal(t, genesis, tip)
	require.Len(t, edges, 2)
	assert.Equal(t, genesis, edges[chain[0]])
	assert.Equal(t, chain[0], edges[chain[1]])

	out := tracker.Render()
	assert.Contains(t, out, "(finalized)")
	assert.Contains(t, out, chain[1].String_short())
}
