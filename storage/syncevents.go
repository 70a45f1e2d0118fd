package storage

import (
	"sync"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

// SyncEventStore is the ordered event journal the state machine
// consumes. Indices start at 1 and are gapless; 0 means "no events
// yet" and is the index of the genesis snapshot.
type SyncEventStore struct {
	ps *PersistenceStore

	// serializes index allocation; reads go straight to the db
	mu sync.Mutex
}

func NewSyncEventStore(ps *PersistenceStore) *SyncEventStore {
	return &SyncEventStore{ps: ps}
}

// WriteSyncEvent appends an event and returns its index.
func (s *SyncEventStore) WriteSyncEvent(ev types.SyncEvent) (uint64, error) {
	data, err := types.MarshalEvent(ev)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last, err := s.lastIdx()
	if err != nil {
		return 0, err
	}
	idx := last + 1
	if err := s.ps.Put(keyIdx(prefixSyncEvent, idx), data); err != nil {
		return 0, err
	}
	log.Trace(log.StorageMonitoring, "sync event written", "idx", idx, "event", ev.String())
	return idx, nil
}

func (s *SyncEventStore) GetSyncEvent(idx uint64) (types.SyncEvent, error) {
	data, found, err := s.ps.Get(keyIdx(prefixSyncEvent, idx))
	if err != nil || !found {
		return nil, err
	}
	return types.UnmarshalEvent(data)
}

func (s *SyncEventStore) GetLastSyncEventIdx() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdx()
}

func (s *SyncEventStore) lastIdx() (uint64, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixSyncEvent)
	if err != nil || !found {
		return 0, err
	}
	return idxFromKey(key), nil
}
