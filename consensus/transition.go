// Package consensus implements the client state machine: the pure
// transition function over ClientState driven by sync events, the epoch
// check-in over the chainstate, and the unfinalized block tracker. One
// goroutine owns the state and feeds events through StateTracker in
// strict index order; everything here computes writes, it never mutates
// state in place.
package consensus

import (
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// Database is the read-only view of the node's stores the transition
// function needs. Lookups return (nil, nil) when the record is absent;
// errors are reserved for store failures.
type Database interface {
	GetBlockManifest(id l1.L1BlockId) (*l1.L1BlockManifest, error)
	GetL2Block(id types.L2BlockId) (*types.L2Block, error)
}

// ProcessEvent computes the writes and actions a sync event produces
// against the given state. Pure except for database reads: same state,
// event and stored blocks always yield the same output. The caller
// applies the writes through types.ApplyWrites and dispatches the
// actions afterwards.
func ProcessEvent(state *types.ClientState, ev types.SyncEvent, db Database, p *params.Params) (*types.ClientUpdateOutput, error) {
	out := &types.ClientUpdateOutput{}
	var err error
	switch e := ev.(type) {
	case *types.L1BlockEvent:
		err = handleL1Block(state, e, db, p, out)
	case *types.L1RevertEvent:
		err = handleL1Revert(state, e, out)
	case *types.L1DABatchEvent:
		err = handleL1DABatch(state, e, db, out)
	case *types.ComputedGenesisEvent:
		err = handleComputedGenesis(e, out)
	case *types.NewTipBlockEvent:
		err = handleNewTipBlock(e, db, out)
	default:
		err = fmt.Errorf("consensus: unhandled sync event kind %q", ev.EventTag())
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// handleL1Block accepts the next L1 block: extends the unaccepted
// buffer, scans the block's manifest for checkpoint envelopes, buries
// blocks past the reorg safe depth and triggers chain activation.
// Blocks below the horizon or off the expected height are ignored with
// a warning since the reader re-emits the tip after a restart.
func handleL1Block(state *types.ClientState, ev *types.L1BlockEvent, db Database, p *params.Params, out *types.ClientUpdateOutput) error {
	if ev.Height < state.HorizonL1Height {
		log.Warn(log.CsmMonitoring, "ignoring l1 block before horizon", "height", ev.Height, "horizon", state.HorizonL1Height)
		return nil
	}
	nextExp := state.NextExpL1Height()
	if ev.Height != nextExp {
		log.Warn(log.CsmMonitoring, "ignoring out of order l1 block", "height", ev.Height, "expected", nextExp)
		return nil
	}

	out.Writes = append(out.Writes, &types.AcceptL1Block{Height: ev.Height, Blkid: ev.Blkid})

	mf, err := db.GetBlockManifest(ev.Blkid)
	if err != nil {
		return err
	}
	if mf == nil {
		// the reader stores the manifest before emitting the event
		return &MissingL1ManifestError{Blkid: ev.Blkid}
	}

	// checkpoints only mean something once the rollup chain exists
	if state.Sync != nil {
		if err := scanCheckpoints(state, mf, p, out); err != nil {
			return err
		}
	}

	safeDepth := uint64(p.L1ReorgSafeDepth)
	if ev.Height > safeDepth {
		maturable := ev.Height - safeDepth
		if maturable > state.HorizonL1Height && maturable > state.LocalL1.BuriedL1Height {
			out.Writes = append(out.Writes, &types.UpdateBuried{Height: maturable})
		}
	}

	if !state.ChainActive && ev.Height >= state.GenesisL1Height+p.GenesisTriggerDelay {
		log.Info(log.CsmMonitoring, "genesis trigger height reached, activating chain", "height", ev.Height)
		out.Writes = append(out.Writes, &types.ActivateChain{})
	}
	return nil
}

// scanCheckpoints walks the manifest's filtered txs for checkpoint
// envelopes and validates each in turn. The expected epoch advances
// locally so a block carrying several checkpoints validates them as a
// sequence.
func scanCheckpoints(state *types.ClientState, mf *l1.L1BlockManifest, p *params.Params, out *types.ClientUpdateOutput) error {
	expEpoch := state.Sync.NextExpCheckpointEpoch()
	for _, tx := range mf.Txs {
		var ref types.CheckpointL1Ref
		refSet := false
		for _, op := range tx.Ops {
			payload, ok := op.(*l1.CheckpointPayload)
			if !ok {
				continue
			}
			if !refSet {
				msg, err := tx.Tx()
				if err != nil {
					log.Warn(log.CsmMonitoring, "undecodable raw tx in manifest, skipping checkpoint", "height", mf.Height, "position", tx.Position)
					break
				}
				ref = types.CheckpointL1Ref{L1Height: mf.Height, L1Txid: l1.L1TxIdFromHash(msg.TxHash())}
				refSet = true
			}
			ckpt, err := processL1Checkpoint(payload.Data, expEpoch, ref, p)
			if err != nil {
				return err
			}
			if ckpt == nil {
				continue
			}
			log.Info(log.CsmMonitoring, "confirmed checkpoint on l1",
				"epoch", ckpt.BatchInfo.Epoch, "l1_height", ref.L1Height, "proved", ckpt.IsProved)
			out.Writes = append(out.Writes, &types.CheckpointConfirmed{Checkpoint: *ckpt})
			out.Actions = append(out.Actions, &types.WriteCheckpoint{Epoch: ckpt.BatchInfo.Epoch, Checkpoint: *ckpt})
			expEpoch = ckpt.BatchInfo.Epoch + 1
		}
	}
	return nil
}

func handleL1Revert(state *types.ClientState, ev *types.L1RevertEvent, out *types.ClientUpdateOutput) error {
	buried := state.LocalL1.BuriedL1Height
	if ev.Height < buried {
		return &ReorgTooDeepError{Revert: ev.Height, Buried: buried}
	}
	out.Writes = append(out.Writes, &types.RollbackL1BlocksTo{Height: ev.Height})
	return nil
}

func handleL1DABatch(state *types.ClientState, ev *types.L1DABatchEvent, db Database, out *types.ClientUpdateOutput) error {
	if state.Sync == nil {
		return ErrMissingClientSyncState
	}
	if len(ev.Blkids) == 0 {
		log.Warn(log.CsmMonitoring, "empty da batch", "epoch", ev.Epoch)
		return nil
	}
	var last *types.L2Block
	for _, id := range ev.Blkids {
		blk, err := db.GetL2Block(id)
		if err != nil {
			return err
		}
		if blk == nil {
			return &MissingL2BlockError{Blkid: id}
		}
		last = blk
	}
	fin := types.NewEpochCommitment(ev.Epoch, last.Commitment())
	out.Writes = append(out.Writes, &types.UpdateFinalized{Fin: fin})
	out.Actions = append(out.Actions, &types.FinalizeBlock{Blkid: last.Id()})
	return nil
}

func handleComputedGenesis(ev *types.ComputedGenesisEvent, out *types.ClientUpdateOutput) error {
	// genesis sits at slot 0 by construction
	sync := types.NewSyncStateFromGenesis(types.L2BlockCommitment{Slot: 0, Blkid: ev.Blkid})
	out.Writes = append(out.Writes, &types.ReplaceSync{Sync: sync})
	return nil
}

func handleNewTipBlock(ev *types.NewTipBlockEvent, db Database, out *types.ClientUpdateOutput) error {
	blk, err := db.GetL2Block(ev.Blkid)
	if err != nil {
		return err
	}
	if blk == nil {
		return &MissingL2BlockError{Blkid: ev.Blkid}
	}
	out.Writes = append(out.Writes, &types.AcceptL2Block{Slot: blk.Slot(), Blkid: ev.Blkid})
	out.Actions = append(out.Actions, &types.UpdateTip{Blkid: ev.Blkid})
	return nil
}
