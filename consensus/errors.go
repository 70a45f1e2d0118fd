package consensus

import (
	"errors"
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/types"
)

var (
	ErrMissingClientSyncState = errors.New("consensus: sync state not yet initialized")
	ErrChainNotActive         = errors.New("consensus: chain not active")
)

// ReorgTooDeepError: an L1 revert reached below the buried height.
// Nothing below the buried height can be unwound.
type ReorgTooDeepError struct {
	Revert uint64
	Buried uint64
}

func (e *ReorgTooDeepError) Error() string {
	return fmt.Sprintf("consensus: reorg to %d below buried height %d", e.Revert, e.Buried)
}

// MissingL2BlockError: a block referenced by already-accepted state is
// absent from the local store.
type MissingL2BlockError struct {
	Blkid types.L2BlockId
}

func (e *MissingL2BlockError) Error() string {
	return fmt.Sprintf("consensus: missing l2 block %s", e.Blkid)
}

// MissingL1ManifestError: the manifest for an accepted L1 block is
// absent. The reader stores manifests before emitting events.
type MissingL1ManifestError struct {
	Blkid l1.L1BlockId
}

func (e *MissingL1ManifestError) Error() string {
	return fmt.Sprintf("consensus: missing l1 manifest %s", e.Blkid)
}

// EpochNotExtendError: a checkpoint posted on L1 does not extend the
// confirmed epoch sequence. Checkpoints are sequencer-signed, so this
// is a sequencer bug, not adversarial input.
type EpochNotExtendError struct {
	Expected uint64
	Found    uint64
}

func (e *EpochNotExtendError) Error() string {
	return fmt.Sprintf("consensus: checkpoint epoch %d does not extend expected %d", e.Found, e.Expected)
}

// SkippedEventIdxError: an advance would skip part of the sync event
// sequence. Carries the index that would be skipped and where the
// tracker actually stands.
type SkippedEventIdxError struct {
	Expected uint64 // cur + 1, the only legal next index
	Cur      uint64
}

func (e *SkippedEventIdxError) Error() string {
	return fmt.Sprintf("consensus: skipped sync event %d, state at %d", e.Expected, e.Cur)
}

// MissingSyncEventError: the event journal has no entry at an index
// the tracker was told to advance to.
type MissingSyncEventError struct {
	Idx uint64
}

func (e *MissingSyncEventError) Error() string {
	return fmt.Sprintf("consensus: missing sync event %d", e.Idx)
}

// InsufficientDepositsError: the epoch check-in could not bind every
// ready withdrawal to a deposit. Deposit accounting makes this
// unreachable; it is asserted anyway.
type InsufficientDepositsError struct {
	Assigned int
	Ready    int
}

func (e *InsufficientDepositsError) Error() string {
	return fmt.Sprintf("consensus: assigned %d intents for %d ready withdrawals", e.Assigned, e.Ready)
}

// AttachMissingParentError: tracker attach with an unknown parent.
type AttachMissingParentError struct {
	Blkid  types.L2BlockId
	Parent types.L2BlockId
}

func (e *AttachMissingParentError) Error() string {
	return fmt.Sprintf("consensus: cannot attach %s: parent %s not tracked", e.Blkid, e.Parent)
}

// BlockAlreadyAttachedError: tracker attach with a duplicate id.
type BlockAlreadyAttachedError struct {
	Blkid types.L2BlockId
}

func (e *BlockAlreadyAttachedError) Error() string {
	return fmt.Sprintf("consensus: block %s already attached", e.Blkid)
}

// MissingBlockError: a finalization target is not reachable from the
// finalized tip.
type MissingBlockError struct {
	Blkid types.L2BlockId
}

func (e *MissingBlockError) Error() string {
	return fmt.Sprintf("consensus: block %s not reachable from finalized tip", e.Blkid)
}
