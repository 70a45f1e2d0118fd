package storage

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/alpenlabs/strata-sub002/types"
)

// L2BlockStore holds blocks by id with a slot index alongside. Both
// keys land in one batch so the index can never point at a missing
// block.
type L2BlockStore struct {
	ps *PersistenceStore
}

func NewL2BlockStore(ps *PersistenceStore) *L2BlockStore {
	return &L2BlockStore{ps: ps}
}

func (s *L2BlockStore) PutL2Block(block *types.L2Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	id := block.Id()
	heightKey := keyBytes(keyIdx(prefixL2Height, block.Slot()), id[:])
	return s.ps.WriteBatch(func(b *leveldb.Batch) {
		b.Put(keyBytes(prefixL2Block, id[:]), data)
		b.Put(heightKey, nil)
	})
}

func (s *L2BlockStore) GetL2Block(id types.L2BlockId) (*types.L2Block, error) {
	data, found, err := s.ps.Get(keyBytes(prefixL2Block, id[:]))
	if err != nil || !found {
		return nil, err
	}
	block := new(types.L2Block)
	if err := json.Unmarshal(data, block); err != nil {
		return nil, err
	}
	return block, nil
}

// GetL2BlockIdsAtHeight lists every stored block at a slot. Forks mean
// more than one id can live at the same slot.
func (s *L2BlockStore) GetL2BlockIdsAtHeight(slot uint64) ([]types.L2BlockId, error) {
	pairs, err := s.ps.GetWithPrefix(keyIdx(prefixL2Height, slot))
	if err != nil {
		return nil, err
	}
	ids := make([]types.L2BlockId, 0, len(pairs))
	for _, pair := range pairs {
		key := pair[0]
		var id types.L2BlockId
		copy(id[:], key[len(key)-len(id):])
		ids = append(ids, id)
	}
	return ids, nil
}
