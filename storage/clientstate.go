package storage

import (
	"encoding/json"

	"github.com/alpenlabs/strata-sub002/types"
)

// ClientStateStore persists the per-event write journal and periodic
// full-state snapshots. Replay after a restart loads the newest
// snapshot and applies the journal entries above it in index order, so
// the journal must stay gapless from any snapshot forward.
type ClientStateStore struct {
	ps *PersistenceStore
}

func NewClientStateStore(ps *PersistenceStore) *ClientStateStore {
	return &ClientStateStore{ps: ps}
}

func (s *ClientStateStore) PutClientUpdateOutput(idx uint64, out *types.ClientUpdateOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.ps.Put(keyIdx(prefixClientUpdate, idx), data)
}

func (s *ClientStateStore) GetClientUpdateOutput(idx uint64) (*types.ClientUpdateOutput, error) {
	data, found, err := s.ps.Get(keyIdx(prefixClientUpdate, idx))
	if err != nil || !found {
		return nil, err
	}
	out := new(types.ClientUpdateOutput)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ClientStateStore) GetLastWriteIdx() (uint64, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixClientUpdate)
	if err != nil || !found {
		return 0, err
	}
	return idxFromKey(key), nil
}

func (s *ClientStateStore) PutStateCheckpoint(idx uint64, state *types.ClientState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.ps.Put(keyIdx(prefixStateCkpt, idx), data)
}

func (s *ClientStateStore) GetStateCheckpoint(idx uint64) (*types.ClientState, error) {
	data, found, err := s.ps.Get(keyIdx(prefixStateCkpt, idx))
	if err != nil || !found {
		return nil, err
	}
	state := new(types.ClientState)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *ClientStateStore) GetLastCheckpointIdx() (uint64, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixStateCkpt)
	if err != nil || !found {
		return 0, err
	}
	return idxFromKey(key), nil
}
