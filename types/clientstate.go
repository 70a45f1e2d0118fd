package types

import (
	"encoding/json"
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
)

// ClientState is the node's top-level consensus view. It is owned by the
// state tracker and mutated only by applying ClientStateWrites in event
// order, never directly. Everything in here must survive a JSON round
// trip since it is checkpointed to the database for replay.
type ClientState struct {
	// ChainActive flips to true once L1 has reached the genesis trigger
	// height and stays true forever after.
	ChainActive bool `json:"chain_active"`

	// Sync is nil until the genesis L2 block has been computed.
	Sync *SyncState `json:"sync_state,omitempty"`

	LocalL1 LocalL1State `json:"local_l1_state"`

	// HorizonL1Height is the first L1 height this rollup ever looks at.
	HorizonL1Height uint64 `json:"horizon_l1_height"`

	// GenesisL1Height is the L1 height whose maturity triggers chain
	// activation. Always >= HorizonL1Height.
	GenesisL1Height uint64 `json:"genesis_l1_height"`
}

// SyncState tracks L2 chain positions: the tip we follow, the block we
// consider final, and the epochs confirmed/finalized via checkpoints.
// The epoch commitments start null; null means no checkpoint has ever
// reached that stage, which is how epoch 0 stays distinguishable.
type SyncState struct {
	TipBlkid       L2BlockId `json:"tip_blkid"`
	TipSlot        uint64    `json:"tip_slot"`
	FinalizedBlkid L2BlockId `json:"finalized_blkid"`
	FinalizedSlot  uint64    `json:"finalized_slot"`

	// ConfirmedEpoch advances the moment a checkpoint passes validation
	// on L1, before burial.
	ConfirmedEpoch EpochCommitment `json:"confirmed_epoch"`

	// FinalizedEpoch advances when a confirmed checkpoint's L1 block
	// gets buried past the reorg safe depth.
	FinalizedEpoch EpochCommitment `json:"finalized_epoch"`
}

func NewSyncStateFromGenesis(gen L2BlockCommitment) *SyncState {
	return &SyncState{
		TipBlkid:       gen.Blkid,
		TipSlot:        gen.Slot,
		FinalizedBlkid: gen.Blkid,
		FinalizedSlot:  gen.Slot,
	}
}

func (s *SyncState) TipCommitment() L2BlockCommitment {
	return L2BlockCommitment{Slot: s.TipSlot, Blkid: s.TipBlkid}
}

// NextExpCheckpointEpoch is the only epoch a checkpoint observed on L1
// may carry next.
func (s *SyncState) NextExpCheckpointEpoch() uint64 {
	if s.ConfirmedEpoch.IsNull() {
		return 0
	}
	return s.ConfirmedEpoch.Epoch + 1
}

func (s *SyncState) FinalizedCommitment() L2BlockCommitment {
	return L2BlockCommitment{Slot: s.FinalizedSlot, Blkid: s.FinalizedBlkid}
}

func (s *SyncState) Copy() *SyncState {
	c := *s
	return &c
}

// LocalL1State buffers the L1 blocks we have accepted but not yet
// considered buried, plus the most recent checkpoint seen on L1 that is
// still waiting for burial.
type LocalL1State struct {
	// LocalUnaccepted holds accepted-but-unburied block ids, oldest
	// first. Entry 0 is at height BuriedL1Height+1.
	LocalUnaccepted []l1.L1BlockId `json:"local_unaccepted_blocks"`

	BuriedL1Height uint64 `json:"buried_l1_height"`

	// NextCheckpoint is the checkpoint confirmed on L1 whose finality
	// is pending burial of its L1 block.
	NextCheckpoint *L1Checkpoint `json:"next_checkpoint,omitempty"`
}

// CheckpointL1Ref pins where on L1 a checkpoint envelope was found.
type CheckpointL1Ref struct {
	L1Height uint64     `json:"l1_height"`
	L1Txid   l1.L1TxId  `json:"l1_txid"`
}

// L1Checkpoint is a validated checkpoint as observed on L1.
type L1Checkpoint struct {
	BatchInfo BatchInfo       `json:"batch_info"`
	L1Ref     CheckpointL1Ref `json:"l1_reference"`

	// IsProved is false only when the checkpoint was accepted with an
	// empty proof under a permissive proof-publish mode.
	IsProved bool `json:"is_proved"`
}

func NewClientState(horizonHeight, genesisHeight uint64) *ClientState {
	return &ClientState{
		HorizonL1Height: horizonHeight,
		GenesisL1Height: genesisHeight,
		LocalL1: LocalL1State{
			LocalUnaccepted: make([]l1.L1BlockId, 0),
			BuriedL1Height:  horizonHeight - 1,
		},
	}
}

// NextExpL1Height is the only height AcceptL1Block will take next.
func (c *ClientState) NextExpL1Height() uint64 {
	return c.LocalL1.BuriedL1Height + uint64(len(c.LocalL1.LocalUnaccepted)) + 1
}

// TipL1Height is the height of the newest accepted L1 block.
func (c *ClientState) TipL1Height() uint64 {
	return c.NextExpL1Height() - 1
}

// HasVerifiedL1Height reports whether the given height has been accepted
// (possibly already buried).
func (c *ClientState) HasVerifiedL1Height(height uint64) bool {
	return height <= c.TipL1Height()
}

// UnacceptedIdOfHeight returns the buffered id at the given height, or
// false if the height is buried or not yet accepted.
func (c *ClientState) UnacceptedIdOfHeight(height uint64) (l1.L1BlockId, bool) {
	if height <= c.LocalL1.BuriedL1Height || height > c.TipL1Height() {
		return l1.L1BlockId{}, false
	}
	return c.LocalL1.LocalUnaccepted[height-c.LocalL1.BuriedL1Height-1], true
}

func (c *ClientState) IsChainActive() bool {
	return c.ChainActive
}

// Copy returns a deep copy. ApplyWrites works on a copy so a failed
// write sequence never leaves the caller's state half-mutated.
func (c *ClientState) Copy() *ClientState {
	n := *c
	n.LocalL1.LocalUnaccepted = append([]l1.L1BlockId(nil), c.LocalL1.LocalUnaccepted...)
	if c.Sync != nil {
		n.Sync = c.Sync.Copy()
	}
	if c.LocalL1.NextCheckpoint != nil {
		cp := *c.LocalL1.NextCheckpoint
		n.LocalL1.NextCheckpoint = &cp
	}
	return &n
}

func (c *ClientState) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("clientstate<unmarshalable: %v>", err)
	}
	return string(data)
}
