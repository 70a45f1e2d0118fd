package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/writer"
)

// WriterStore is the durable payload queue behind the L1 writer:
// entries by insertion index plus the intent-hash index that makes
// submission idempotent.
type WriterStore struct {
	ps *PersistenceStore
}

func NewWriterStore(ps *PersistenceStore) *WriterStore {
	return &WriterStore{ps: ps}
}

// GetNextPayloadIdx returns the index the next entry will take.
func (s *WriterStore) GetNextPayloadIdx() (uint64, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixPayload)
	if err != nil || !found {
		return 0, err
	}
	return idxFromKey(key) + 1, nil
}

func (s *WriterStore) GetPayloadEntry(idx uint64) (*writer.PayloadEntry, error) {
	data, found, err := s.ps.Get(keyIdx(prefixPayload, idx))
	if err != nil || !found {
		return nil, err
	}
	entry := new(writer.PayloadEntry)
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *WriterStore) PutPayloadEntry(idx uint64, entry *writer.PayloadEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.ps.Put(keyIdx(prefixPayload, idx), data)
}

func (s *WriterStore) GetIntentIdx(intent common.Hash) (uint64, bool, error) {
	data, found, err := s.ps.Get(keyBytes(prefixIntentIdx, intent[:]))
	if err != nil || !found {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(data), true, nil
}

func (s *WriterStore) PutIntentIdx(intent common.Hash, idx uint64) error {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], idx)
	return s.ps.Put(keyBytes(prefixIntentIdx, intent[:]), val[:])
}
