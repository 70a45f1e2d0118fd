package types

import (
	"encoding/json"
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
)

// ClientStateWrite is one deterministic mutation of ClientState. One
// ProcessEvent call emits an ordered list of writes; replaying stored
// writes from a checkpointed state must reproduce the live state
// exactly.
type ClientStateWrite interface {
	WriteTag() string
	String() string
}

const (
	WriteTagAcceptL1Block       = "accept_l1_block"
	WriteTagUpdateBuried        = "update_buried"
	WriteTagActivateChain       = "activate_chain"
	WriteTagRollbackL1BlocksTo  = "rollback_l1_blocks_to"
	WriteTagUpdateFinalized     = "update_finalized"
	WriteTagAcceptL2Block       = "accept_l2_block"
	WriteTagReplaceSync         = "replace_sync"
	WriteTagCheckpointConfirmed = "checkpoint_confirmed"
)

type AcceptL1Block struct {
	Height uint64       `json:"height"`
	Blkid  l1.L1BlockId `json:"blkid"`
}

func (w *AcceptL1Block) WriteTag() string { return WriteTagAcceptL1Block }
func (w *AcceptL1Block) String() string {
	return fmt.Sprintf("acceptl1(%d, %s)", w.Height, w.Blkid.String_short())
}

type UpdateBuried struct {
	Height uint64 `json:"height"`
}

func (w *UpdateBuried) WriteTag() string { return WriteTagUpdateBuried }
func (w *UpdateBuried) String() string   { return fmt.Sprintf("bury(%d)", w.Height) }

type ActivateChain struct{}

func (w *ActivateChain) WriteTag() string { return WriteTagActivateChain }
func (w *ActivateChain) String() string   { return "activatechain" }

type RollbackL1BlocksTo struct {
	Height uint64 `json:"height"`
}

func (w *RollbackL1BlocksTo) WriteTag() string { return WriteTagRollbackL1BlocksTo }
func (w *RollbackL1BlocksTo) String() string   { return fmt.Sprintf("rollbackl1(%d)", w.Height) }

type UpdateFinalized struct {
	Fin EpochCommitment `json:"fin"`
}

func (w *UpdateFinalized) WriteTag() string { return WriteTagUpdateFinalized }
func (w *UpdateFinalized) String() string   { return fmt.Sprintf("finalize(%s)", w.Fin) }

type AcceptL2Block struct {
	Slot  uint64    `json:"slot"`
	Blkid L2BlockId `json:"blkid"`
}

func (w *AcceptL2Block) WriteTag() string { return WriteTagAcceptL2Block }
func (w *AcceptL2Block) String() string {
	return fmt.Sprintf("acceptl2(%d, %s)", w.Slot, w.Blkid.String_short())
}

type ReplaceSync struct {
	Sync *SyncState `json:"sync"`
}

func (w *ReplaceSync) WriteTag() string { return WriteTagReplaceSync }
func (w *ReplaceSync) String() string {
	return fmt.Sprintf("replacesync(tip %s)", w.Sync.TipCommitment())
}

type CheckpointConfirmed struct {
	Checkpoint L1Checkpoint `json:"checkpoint"`
}

func (w *CheckpointConfirmed) WriteTag() string { return WriteTagCheckpointConfirmed }
func (w *CheckpointConfirmed) String() string {
	return fmt.Sprintf("ckptconfirmed(epoch %d @ l1 %d)",
		w.Checkpoint.BatchInfo.Epoch, w.Checkpoint.L1Ref.L1Height)
}

// SyncAction is a side effect the caller must carry out after the
// writes have been applied. Actions never mutate ClientState.
type SyncAction interface {
	ActionTag() string
	String() string
}

const (
	ActionTagFinalizeBlock   = "finalize_block"
	ActionTagUpdateTip       = "update_tip"
	ActionTagWriteCheckpoint = "write_checkpoint"
)

type FinalizeBlock struct {
	Blkid L2BlockId `json:"blkid"`
}

func (a *FinalizeBlock) ActionTag() string { return ActionTagFinalizeBlock }
func (a *FinalizeBlock) String() string {
	return fmt.Sprintf("finalizeblock(%s)", a.Blkid.String_short())
}

type UpdateTip struct {
	Blkid L2BlockId `json:"blkid"`
}

func (a *UpdateTip) ActionTag() string { return ActionTagUpdateTip }
func (a *UpdateTip) String() string {
	return fmt.Sprintf("updatetip(%s)", a.Blkid.String_short())
}

type WriteCheckpoint struct {
	Epoch      uint64       `json:"epoch"`
	Checkpoint L1Checkpoint `json:"checkpoint"`
}

func (a *WriteCheckpoint) ActionTag() string { return ActionTagWriteCheckpoint }
func (a *WriteCheckpoint) String() string {
	return fmt.Sprintf("writecheckpoint(epoch %d)", a.Epoch)
}

// ClientUpdateOutput is everything one ProcessEvent call produced. It
// is persisted per event index so the state can be reconstructed by
// replay.
type ClientUpdateOutput struct {
	Writes  []ClientStateWrite
	Actions []SyncAction
}

// WriteApplyError reports a write that contradicts the state it was
// applied to. This means corrupt stored writes or an engine bug, so
// callers treat it as fatal.
type WriteApplyError struct {
	Write  ClientStateWrite
	Reason string
}

func (e *WriteApplyError) Error() string {
	return fmt.Sprintf("types: cannot apply %s: %s", e.Write, e.Reason)
}

// ApplyWrites applies the writes in order to a copy of prev and returns
// the new state. prev is never mutated, even on error.
func ApplyWrites(prev *ClientState, writes []ClientStateWrite) (*ClientState, error) {
	state := prev.Copy()
	for _, w := range writes {
		if err := applyWrite(state, w); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func applyWrite(state *ClientState, w ClientStateWrite) error {
	switch wr := w.(type) {
	case *AcceptL1Block:
		if wr.Height != state.NextExpL1Height() {
			return &WriteApplyError{Write: w, Reason: fmt.Sprintf(
				"height gap: expected %d", state.NextExpL1Height())}
		}
		state.LocalL1.LocalUnaccepted = append(state.LocalL1.LocalUnaccepted, wr.Blkid)

	case *UpdateBuried:
		ll := &state.LocalL1
		if wr.Height < ll.BuriedL1Height {
			return &WriteApplyError{Write: w, Reason: fmt.Sprintf(
				"buried height moving backwards from %d", ll.BuriedL1Height)}
		}
		if wr.Height > state.TipL1Height() {
			return &WriteApplyError{Write: w, Reason: fmt.Sprintf(
				"burying past tip %d", state.TipL1Height())}
		}
		drop := wr.Height - ll.BuriedL1Height
		ll.LocalUnaccepted = ll.LocalUnaccepted[drop:]
		ll.BuriedL1Height = wr.Height
		if cp := ll.NextCheckpoint; cp != nil && cp.L1Ref.L1Height <= wr.Height {
			// the checkpoint's L1 block is now buried; finality of the
			// epoch is recorded on the sync state
			if state.Sync == nil {
				return &WriteApplyError{Write: w, Reason: "checkpoint matured with no sync state"}
			}
			state.Sync.FinalizedEpoch = cp.BatchInfo.EpochCommitment()
			ll.NextCheckpoint = nil
		}

	case *ActivateChain:
		state.ChainActive = true

	case *RollbackL1BlocksTo:
		ll := &state.LocalL1
		if wr.Height < ll.BuriedL1Height {
			return &WriteApplyError{Write: w, Reason: fmt.Sprintf(
				"rollback below buried height %d", ll.BuriedL1Height)}
		}
		if wr.Height > state.TipL1Height() {
			return &WriteApplyError{Write: w, Reason: fmt.Sprintf(
				"rollback target %d above tip %d", wr.Height, state.TipL1Height())}
		}
		ll.LocalUnaccepted = ll.LocalUnaccepted[:wr.Height-ll.BuriedL1Height]
		if cp := ll.NextCheckpoint; cp != nil && cp.L1Ref.L1Height > wr.Height {
			ll.NextCheckpoint = nil
		}

	case *UpdateFinalized:
		if state.Sync == nil {
			return &WriteApplyError{Write: w, Reason: "no sync state"}
		}
		state.Sync.FinalizedBlkid = wr.Fin.LastBlkid
		state.Sync.FinalizedSlot = wr.Fin.LastSlot
		if state.Sync.FinalizedEpoch.IsNull() || wr.Fin.Epoch >= state.Sync.FinalizedEpoch.Epoch {
			state.Sync.FinalizedEpoch = wr.Fin
		}

	case *AcceptL2Block:
		if state.Sync == nil {
			return &WriteApplyError{Write: w, Reason: "no sync state"}
		}
		state.Sync.TipBlkid = wr.Blkid
		state.Sync.TipSlot = wr.Slot

	case *ReplaceSync:
		state.Sync = wr.Sync.Copy()

	case *CheckpointConfirmed:
		if state.Sync == nil {
			return &WriteApplyError{Write: w, Reason: "no sync state"}
		}
		cp := wr.Checkpoint
		state.LocalL1.NextCheckpoint = &cp
		state.Sync.ConfirmedEpoch = cp.BatchInfo.EpochCommitment()

	default:
		return &WriteApplyError{Write: w, Reason: "unknown write type"}
	}
	return nil
}

type writeEnvelope struct {
	Tag  string          `json:"tag"`
	Body json.RawMessage `json:"body"`
}

func (o *ClientUpdateOutput) MarshalJSON() ([]byte, error) {
	writes := make([]writeEnvelope, 0, len(o.Writes))
	for _, w := range o.Writes {
		body, err := json.Marshal(w)
		if err != nil {
			return nil, err
		}
		writes = append(writes, writeEnvelope{Tag: w.WriteTag(), Body: body})
	}
	actions := make([]writeEnvelope, 0, len(o.Actions))
	for _, a := range o.Actions {
		body, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		actions = append(actions, writeEnvelope{Tag: a.ActionTag(), Body: body})
	}
	return json.Marshal(&struct {
		Writes  []writeEnvelope `json:"writes"`
		Actions []writeEnvelope `json:"actions"`
	}{Writes: writes, Actions: actions})
}

func (o *ClientUpdateOutput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Writes  []writeEnvelope `json:"writes"`
		Actions []writeEnvelope `json:"actions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Writes = make([]ClientStateWrite, 0, len(raw.Writes))
	for _, env := range raw.Writes {
		w, err := unmarshalWrite(env)
		if err != nil {
			return err
		}
		o.Writes = append(o.Writes, w)
	}
	o.Actions = make([]SyncAction, 0, len(raw.Actions))
	for _, env := range raw.Actions {
		a, err := unmarshalAction(env)
		if err != nil {
			return err
		}
		o.Actions = append(o.Actions, a)
	}
	return nil
}

func unmarshalWrite(env writeEnvelope) (ClientStateWrite, error) {
	var w ClientStateWrite
	switch env.Tag {
	case WriteTagAcceptL1Block:
		w = new(AcceptL1Block)
	case WriteTagUpdateBuried:
		w = new(UpdateBuried)
	case WriteTagActivateChain:
		w = new(ActivateChain)
	case WriteTagRollbackL1BlocksTo:
		w = new(RollbackL1BlocksTo)
	case WriteTagUpdateFinalized:
		w = new(UpdateFinalized)
	case WriteTagAcceptL2Block:
		w = new(AcceptL2Block)
	case WriteTagReplaceSync:
		w = new(ReplaceSync)
	case WriteTagCheckpointConfirmed:
		w = new(CheckpointConfirmed)
	default:
		return nil, fmt.Errorf("unknown write tag %q", env.Tag)
	}
	if err := json.Unmarshal(env.Body, w); err != nil {
		return nil, err
	}
	return w, nil
}

func unmarshalAction(env writeEnvelope) (SyncAction, error) {
	var a SyncAction
	switch env.Tag {
	case ActionTagFinalizeBlock:
		a = new(FinalizeBlock)
	case ActionTagUpdateTip:
		a = new(UpdateTip)
	case ActionTagWriteCheckpoint:
		a = new(WriteCheckpoint)
	default:
		return nil, fmt.Errorf("unknown action tag %q", env.Tag)
	}
	if err := json.Unmarshal(env.Body, a); err != nil {
		return nil, err
	}
	return a, nil
}
