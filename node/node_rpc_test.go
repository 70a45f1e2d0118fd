package node

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/types"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// The rpc tests call the handler methods directly; wire transport is
// net/rpc's problem, not ours.

func TestRPCQueriesFollowChain(t *testing.T) {
	n, chain := newTestNode(t)
	s := &Strata{node: n}

	var res string
	require.NoError(t, s.GetFunctions(nil, &res))
	assert.Contains(t, res, "GetClientState")
	assert.Contains(t, res, "SubmitL2Block")
	assert.Contains(t, res, "GetCheckpoint")

	res = ""
	err := s.GetChainstate(nil, &res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain not active")

	gb := activate(t, n, chain)

	res = ""
	require.NoError(t, s.GetClientState(nil, &res))
	var cs struct {
		State    *types.ClientState `json:"state"`
		EventIdx uint64             `json:"event_idx"`
	}
	require.NoError(t, json.Unmarshal([]byte(res), &cs))
	assert.True(t, cs.State.ChainActive)
	assert.Equal(t, uint64(4), cs.EventIdx)

	// blocks arrive in the wire format
	blk := nextBlock(gb, n.params)
	raw, err := json.Marshal(blk)
	require.NoError(t, err)
	res = ""
	require.NoError(t, s.SubmitL2Block([]string{string(raw)}, &res))
	assert.Equal(t, "5", res)
	require.NoError(t, n.drainEvents())

	res = ""
	require.NoError(t, s.GetChainstate(nil, &res))
	var chainstate types.Chainstate
	require.NoError(t, json.Unmarshal([]byte(res), &chainstate))
	assert.Equal(t, uint64(1), chainstate.CurSlot)

	res = ""
	require.NoError(t, s.GetChainstate([]string{"0"}, &res))
	require.NoError(t, json.Unmarshal([]byte(res), &chainstate))
	assert.Equal(t, uint64(0), chainstate.CurSlot)

	res = ""
	require.NoError(t, s.GetOperatorTable(nil, &res))
	assert.Contains(t, res, "signing_pk")

	res = ""
	require.NoError(t, s.GetBlockTree(nil, &res))
	assert.Contains(t, res, blk.Id().String_short())
}

func TestRPCCheckpointAndTasks(t *testing.T) {
	n, chain := newTestNode(t)
	s := &Strata{node: n}
	gb := activate(t, n, chain)

	var res string
	err := s.GetCheckpoint([]string{"0"}, &res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint for epoch 0")

	submitSlots(t, n, gb, 3)

	res = ""
	require.NoError(t, s.GetCheckpoint([]string{"0"}, &res))
	assert.Contains(t, res, `"epoch":0`)

	res = ""
	require.NoError(t, s.GetTasksByStatus([]string{"pending"}, &res))
	var keys []prover.ProofKey
	require.NoError(t, json.Unmarshal([]byte(res), &keys))
	assert.Len(t, keys, 2)

	keyRaw, err := json.Marshal(prover.ProofKey{
		Context: prover.CheckpointContext(0), Backend: zkvm.BackendNative})
	require.NoError(t, err)
	res = ""
	require.NoError(t, s.GetTaskStatus([]string{string(keyRaw)}, &res))
	assert.Equal(t, "waiting_for_dependencies", res)

	res = ""
	err = s.SubmitCheckpointProof([]string{"3", "0102"}, &res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint sealed")

	res = ""
	err = s.GetCheckpoint([]string{"not-a-number"}, &res)
	require.Error(t, err)
}

func TestRPCSubmitSyncEventRejectsGarbage(t *testing.T) {
	n, _ := newTestNode(t)
	s := &Strata{node: n}

	var res string
	err := s.SubmitSyncEvent([]string{`{"tag":"bogus","body":{}}`}, &res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sync event tag")

	err = s.SubmitL2Block([]string{"{"}, &res)
	require.Error(t, err)
}
