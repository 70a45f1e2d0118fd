package storage

import (
	"encoding/json"
	"fmt"

	"github.com/alpenlabs/strata-sub002/types"
)

// CheckpointProvingStatus says whether a checkpoint entry still needs
// its proof.
type CheckpointProvingStatus uint8

const (
	ProvingStatusNeedsProof CheckpointProvingStatus = iota + 1
	ProvingStatusProofReady
)

func (s CheckpointProvingStatus) String() string {
	switch s {
	case ProvingStatusNeedsProof:
		return "needs_proof"
	case ProvingStatusProofReady:
		return "proof_ready"
	default:
		return fmt.Sprintf("proving_status(%d)", uint8(s))
	}
}

// CheckpointConfStatus tracks the entry's life on L1.
type CheckpointConfStatus uint8

const (
	ConfStatusUnposted CheckpointConfStatus = iota + 1
	ConfStatusConfirmed
	ConfStatusFinalized
)

func (s CheckpointConfStatus) String() string {
	switch s {
	case ConfStatusUnposted:
		return "unposted"
	case ConfStatusConfirmed:
		return "confirmed"
	case ConfStatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("conf_status(%d)", uint8(s))
	}
}

// CheckpointEntry is the sequencer-side record of one epoch's
// checkpoint: the signed claim plus where it stands in proving and on
// L1. ConfirmedHeight is meaningful once ConfStatus leaves Unposted.
type CheckpointEntry struct {
	Checkpoint      types.SignedCheckpoint  `json:"checkpoint"`
	ProvingStatus   CheckpointProvingStatus `json:"proving_status"`
	ConfStatus      CheckpointConfStatus    `json:"conf_status"`
	ConfirmedHeight uint64                  `json:"confirmed_height,omitempty"`
}

func NewCheckpointEntry(signed *types.SignedCheckpoint) *CheckpointEntry {
	proving := ProvingStatusNeedsProof
	if signed.Checkpoint.HasProof() {
		proving = ProvingStatusProofReady
	}
	return &CheckpointEntry{
		Checkpoint:    *signed,
		ProvingStatus: proving,
		ConfStatus:    ConfStatusUnposted,
	}
}

// CheckpointStore keys entries by epoch.
type CheckpointStore struct {
	ps *PersistenceStore
}

func NewCheckpointStore(ps *PersistenceStore) *CheckpointStore {
	return &CheckpointStore{ps: ps}
}

func (s *CheckpointStore) PutCheckpointEntry(epoch uint64, entry *CheckpointEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.ps.Put(keyIdx(prefixCheckpoint, epoch), data)
}

func (s *CheckpointStore) GetCheckpointEntry(epoch uint64) (*CheckpointEntry, error) {
	data, found, err := s.ps.Get(keyIdx(prefixCheckpoint, epoch))
	if err != nil || !found {
		return nil, err
	}
	entry := new(CheckpointEntry)
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *CheckpointStore) GetLastCheckpointEpoch() (uint64, bool, error) {
	key, _, found, err := s.ps.LastWithPrefix(prefixCheckpoint)
	if err != nil || !found {
		return 0, false, err
	}
	return idxFromKey(key), true, nil
}
