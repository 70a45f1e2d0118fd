package storage

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
)

// ManifestStore keeps the filtered view of each scanned L1 block: the
// manifest by block id plus a height index for the canonical chain.
// The height index holds exactly one id per height; a reorg replaces
// the suffix via DeleteManifestsFrom before the new branch is written.
type ManifestStore struct {
	ps *PersistenceStore
}

func NewManifestStore(ps *PersistenceStore) *ManifestStore {
	return &ManifestStore{ps: ps}
}

func (s *ManifestStore) PutBlockManifest(mf *l1.L1BlockManifest) error {
	data, err := json.Marshal(mf)
	if err != nil {
		return err
	}
	return s.ps.WriteBatch(func(b *leveldb.Batch) {
		b.Put(keyBytes(prefixManifest, mf.BlockId[:]), data)
		b.Put(keyIdx(prefixManifestIdx, mf.Height), mf.BlockId[:])
	})
}

func (s *ManifestStore) GetBlockManifest(id l1.L1BlockId) (*l1.L1BlockManifest, error) {
	data, found, err := s.ps.Get(keyBytes(prefixManifest, id[:]))
	if err != nil || !found {
		return nil, err
	}
	mf := new(l1.L1BlockManifest)
	if err := json.Unmarshal(data, mf); err != nil {
		return nil, err
	}
	return mf, nil
}

// GetBlockIdAtHeight returns the canonical block id recorded for a
// height.
func (s *ManifestStore) GetBlockIdAtHeight(height uint64) (l1.L1BlockId, bool, error) {
	var id l1.L1BlockId
	data, found, err := s.ps.Get(keyIdx(prefixManifestIdx, height))
	if err != nil || !found {
		return id, false, err
	}
	copy(id[:], data)
	return id, true, nil
}

func (s *ManifestStore) GetManifestAtHeight(height uint64) (*l1.L1BlockManifest, error) {
	id, found, err := s.ps.Get(keyIdx(prefixManifestIdx, height))
	if err != nil || !found {
		return nil, err
	}
	var blkid l1.L1BlockId
	copy(blkid[:], id)
	return s.GetBlockManifest(blkid)
}

// GetLastManifestHeight reports the canonical tip of the scanned
// chain.
func (s *ManifestStore) GetLastManifestHeight() (uint64, bool, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixManifestIdx)
	if err != nil || !found {
		return 0, false, err
	}
	return idxFromKey(key), true, nil
}

// DeleteManifestsFrom drops the canonical index and manifests at and
// above height. Called when a reorg invalidates the old branch; the
// reader then rescans from the fork point.
func (s *ManifestStore) DeleteManifestsFrom(height uint64) error {
	start := keyIdx(prefixManifestIdx, height)
	pairs, err := s.ps.GetRange(start, PrefixLimit(prefixManifestIdx))
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	err = s.ps.WriteBatch(func(b *leveldb.Batch) {
		for _, pair := range pairs {
			b.Delete(pair[0])
			b.Delete(keyBytes(prefixManifest, pair[1]))
		}
	})
	if err != nil {
		return err
	}
	log.Debug(log.StorageMonitoring, "manifests rolled back",
		"from_height", height, "removed", len(pairs))
	return nil
}
