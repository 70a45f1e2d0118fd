package storage

import (
	"encoding/json"

	"github.com/alpenlabs/strata-sub002/types"
)

// ChainstateStore snapshots the orchestration chainstate by slot.
// Slot 0 is the genesis state, so presence is reported explicitly
// rather than through a zero sentinel.
type ChainstateStore struct {
	ps *PersistenceStore
}

func NewChainstateStore(ps *PersistenceStore) *ChainstateStore {
	return &ChainstateStore{ps: ps}
}

func (s *ChainstateStore) PutChainstate(slot uint64, state *types.Chainstate) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.ps.Put(keyIdx(prefixChainstate, slot), data)
}

func (s *ChainstateStore) GetChainstate(slot uint64) (*types.Chainstate, error) {
	data, found, err := s.ps.Get(keyIdx(prefixChainstate, slot))
	if err != nil || !found {
		return nil, err
	}
	state := new(types.Chainstate)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *ChainstateStore) GetLastChainstateSlot() (uint64, bool, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixChainstate)
	if err != nil || !found {
		return 0, false, err
	}
	return idxFromKey(key), true, nil
}

// DeleteChainstatesAbove removes snapshots strictly above slot, for
// rollback after the chain reorgs beneath them.
func (s *ChainstateStore) DeleteChainstatesAbove(slot uint64) error {
	start := keyIdx(prefixChainstate, slot+1)
	return s.ps.DeleteRange(start, PrefixLimit(prefixChainstate))
}
