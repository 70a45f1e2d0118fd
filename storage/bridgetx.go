package storage

import (
	"encoding/json"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/l1"
)

// BridgeTxStore persists MuSig2 signing sessions by txid so a restart
// resumes mid-round without regenerating nonces.
type BridgeTxStore struct {
	ps *PersistenceStore
}

func NewBridgeTxStore(ps *PersistenceStore) *BridgeTxStore {
	return &BridgeTxStore{ps: ps}
}

func (s *BridgeTxStore) GetTxState(txid l1.L1TxId) (*bridge.BridgeTxState, error) {
	data, found, err := s.ps.Get(keyBytes(prefixBridgeTx, txid[:]))
	if err != nil || !found {
		return nil, err
	}
	state := new(bridge.BridgeTxState)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *BridgeTxStore) PutTxState(txid l1.L1TxId, state *bridge.BridgeTxState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.ps.Put(keyBytes(prefixBridgeTx, txid[:]), data)
}

func (s *BridgeTxStore) DeleteTxState(txid l1.L1TxId) error {
	return s.ps.Delete(keyBytes(prefixBridgeTx, txid[:]))
}
