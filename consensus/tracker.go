package consensus

import (
	"fmt"
	"sync"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// StateStore is the client-state journal: the ordered sync event log,
// the per-event update outputs, and periodic full-state snapshots the
// replay starts from. Node init writes the genesis state as snapshot 0,
// so an initialized store always has at least one snapshot. Lookups
// return (nil, nil) when absent.
type StateStore interface {
	GetSyncEvent(idx uint64) (types.SyncEvent, error)
	GetLastSyncEventIdx() (uint64, error)

	PutClientUpdateOutput(idx uint64, out *types.ClientUpdateOutput) error
	GetClientUpdateOutput(idx uint64) (*types.ClientUpdateOutput, error)
	GetLastWriteIdx() (uint64, error)

	PutStateCheckpoint(idx uint64, state *types.ClientState) error
	GetStateCheckpoint(idx uint64) (*types.ClientState, error)
	GetLastCheckpointIdx() (uint64, error)
}

// StateTracker owns the live ClientState. Exactly one goroutine drives
// it; the lock only protects readers grabbing the current state while
// an advance is in flight. States it hands out are never mutated again;
// every advance builds a fresh copy through ApplyWrites.
type StateTracker struct {
	params *params.Params
	store  StateStore
	db     Database

	mu          sync.RWMutex
	curStateIdx uint64
	curState    *types.ClientState
}

func NewStateTracker(state *types.ClientState, idx uint64, store StateStore, db Database, p *params.Params) *StateTracker {
	return &StateTracker{
		params:      p,
		store:       store,
		db:          db,
		curStateIdx: idx,
		curState:    state,
	}
}

// CurState returns the current state and the event index it reflects.
// The returned state must be treated as immutable.
func (t *StateTracker) CurState() (*types.ClientState, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.curState, t.curStateIdx
}

// AdvanceConsensusState applies the event at evIdx, which must be
// exactly the next index. Gaps would break write replay, so they fail
// before anything is read or written.
func (t *StateTracker) AdvanceConsensusState(evIdx uint64) (*types.ClientUpdateOutput, *types.ClientState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if evIdx != t.curStateIdx+1 {
		return nil, nil, &SkippedEventIdxError{Expected: t.curStateIdx + 1, Cur: t.curStateIdx}
	}
	ev, err := t.store.GetSyncEvent(evIdx)
	if err != nil {
		return nil, nil, err
	}
	if ev == nil {
		return nil, nil, &MissingSyncEventError{Idx: evIdx}
	}

	out, err := ProcessEvent(t.curState, ev, t.db, t.params)
	if err != nil {
		return nil, nil, err
	}
	newState, err := types.ApplyWrites(t.curState, out.Writes)
	if err != nil {
		return nil, nil, err
	}
	if err := t.store.PutClientUpdateOutput(evIdx, out); err != nil {
		return nil, nil, err
	}

	t.curState = newState
	t.curStateIdx = evIdx
	log.Debug(log.CsmMonitoring, "advanced consensus state", "idx", evIdx, "event", ev.String())
	return out, newState, nil
}

// WriteStateCheckpoint snapshots the full current state so replay after
// a restart starts here instead of genesis.
func (t *StateTracker) WriteStateCheckpoint() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.store.PutStateCheckpoint(t.curStateIdx, t.curState); err != nil {
		return err
	}
	log.Debug(log.CsmMonitoring, "wrote state checkpoint", "idx", t.curStateIdx)
	return nil
}

// ReconstructState rebuilds the client state after a restart: load the
// latest snapshot, then replay the stored write lists above it in index
// order. Returns the state and the event index it reflects.
func ReconstructState(store StateStore) (*types.ClientState, uint64, error) {
	ckptIdx, err := store.GetLastCheckpointIdx()
	if err != nil {
		return nil, 0, err
	}
	state, err := store.GetStateCheckpoint(ckptIdx)
	if err != nil {
		return nil, 0, err
	}
	if state == nil {
		return nil, 0, fmt.Errorf("consensus: missing state snapshot %d", ckptIdx)
	}
	lastIdx, err := store.GetLastWriteIdx()
	if err != nil {
		return nil, 0, err
	}
	for i := ckptIdx + 1; i <= lastIdx; i++ {
		out, err := store.GetClientUpdateOutput(i)
		if err != nil {
			return nil, 0, err
		}
		if out == nil {
			return nil, 0, fmt.Errorf("consensus: write journal gap at %d", i)
		}
		state, err = types.ApplyWrites(state, out.Writes)
		if err != nil {
			return nil, 0, err
		}
	}
	log.Info(log.CsmMonitoring, "reconstructed client state", "snapshot", ckptIdx, "replayed_to", lastIdx)
	return state, lastIdx, nil
}
