package node

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/consensus"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/storage"
	"github.com/alpenlabs/strata-sub002/types"
	"github.com/alpenlabs/strata-sub002/writer"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// maybeSealEpoch seals every epoch whose last slot the tip has reached.
// Sealing waits for the safe L1 height to clear the previous batch's L1
// range so the new range is never empty; the check reruns on every
// consumed event, so a deferred seal happens as soon as L1 catches up.
func (n *Node) maybeSealEpoch(cur *types.ClientState) error {
	if cur.Sync == nil {
		return nil
	}
	batch := n.params.TargetL2BatchSize
	for {
		epoch := n.nextSealEpoch
		lastSlot := (epoch+1)*batch - 1
		if cur.Sync.TipSlot < lastSlot {
			return nil
		}
		sealed, err := n.sealEpoch(cur, epoch)
		if err != nil {
			return err
		}
		if !sealed {
			return nil
		}
		n.nextSealEpoch = epoch + 1
	}
}

// sealEpoch builds, signs and stores the checkpoint for one epoch and
// creates its proving tasks. Returns false without error when the L1
// view has not matured far enough yet.
func (n *Node) sealEpoch(cur *types.ClientState, epoch uint64) (bool, error) {
	batch := n.params.TargetL2BatchSize
	firstSlot := epoch * batch
	lastSlot := (epoch+1)*batch - 1

	l1From := n.params.GenesisL1Height
	if epoch > 0 {
		prevEntry, err := n.store.GetCheckpointEntry(epoch - 1)
		if err != nil {
			return false, err
		}
		if prevEntry == nil {
			return false, fmt.Errorf("node: sealing epoch %d without entry for %d", epoch, epoch-1)
		}
		l1From = prevEntry.Checkpoint.Checkpoint.BatchInfo.L1Range[1] + 1
	}

	n.chainMu.RLock()
	safeL1 := uint64(0)
	if n.chainstate != nil {
		safeL1 = n.chainstate.SafeL1Height
	}
	n.chainMu.RUnlock()
	if safeL1 < l1From {
		log.Debug(log.NodeMonitoring, "deferring epoch seal until l1 matures",
			"epoch", epoch, "safe_l1", safeL1, "need", l1From)
		return false, nil
	}

	endBlk, err := n.canonicalBlockAt(cur.Sync.TipBlkid, lastSlot)
	if err != nil {
		return false, err
	}

	initialSlot := uint64(0)
	if epoch > 0 {
		initialSlot = firstSlot - 1
	}
	initialRoot, err := n.chainstateRootAt(initialSlot)
	if err != nil {
		return false, err
	}
	finalRoot, err := n.chainstateRootAt(lastSlot)
	if err != nil {
		return false, err
	}

	vs, err := n.headerVsAt(safeL1)
	if err != nil {
		return false, err
	}

	ckpt := &types.Checkpoint{
		BatchInfo: types.BatchInfo{
			Epoch:   epoch,
			L1Range: [2]uint64{l1From, safeL1},
			L2Range: [2]uint64{firstSlot, lastSlot},
			L2Blkid: endBlk.Id(),
		},
		BaseState: types.BaseStateCommitment{
			InitialStateRoot: initialRoot,
			FinalStateRoot:   finalRoot,
		},
		HeaderVsHash: vs.ComputeSnapshotHash(),
	}
	signed, err := consensus.SignCheckpoint(ckpt, n.config.SequencerKey)
	if err != nil {
		return false, err
	}

	entry := storage.NewCheckpointEntry(signed)
	if err := n.store.PutCheckpointEntry(epoch, entry); err != nil {
		return false, err
	}

	keys, err := n.prover.CreateCheckpointTasks(epoch, l1From, safeL1, firstSlot, lastSlot, zkvm.BackendNative)
	if err != nil {
		return false, err
	}
	log.Info(log.NodeMonitoring, "sealed epoch",
		"epoch", epoch, "l1_range", fmt.Sprintf("%d..%d", l1From, safeL1),
		"l2_range", fmt.Sprintf("%d..%d", firstSlot, lastSlot), "tasks", len(keys))

	if n.params.ProofPublishMode.AllowEmptyProofs() {
		if err := n.submitCheckpointPayload(signed); err != nil {
			return false, err
		}
	}
	return true, nil
}

// blockLoop drives sequencer block production. One block per tick at
// most; production skips a tick while the previous block's tip event is
// still unconsumed, so a slow event loop never spawns sibling forks.
func (n *Node) blockLoop() {
	defer n.done.Done()
	ticker := time.NewTicker(n.config.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
		blk, err := n.produceBlock()
		if err != nil {
			log.Warn(log.NodeMonitoring, "block production failed", "err", err)
			continue
		}
		if blk != nil {
			log.Info(log.NodeMonitoring, "produced block", "slot", blk.Slot(),
				"blkid", blk.Id().String_short(),
				"l1_acks", len(blk.Body.L1Segment.NewManifests))
		}
	}
}

// produceBlock assembles, signs and submits the next block on the
// current tip. Returns nil without error when there is nothing to do
// yet: the chain is inactive or the previous block is unconsumed.
func (n *Node) produceBlock() (*types.L2Block, error) {
	cur, _ := n.tracker.CurState()
	if cur.Sync == nil {
		return nil, nil
	}
	next := cur.Sync.TipSlot + 1
	if next <= n.lastBuiltSlot {
		return nil, nil
	}
	parent, err := n.store.GetL2Block(cur.Sync.TipBlkid)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("node: tip block %s not in store", cur.Sync.TipBlkid.String_short())
	}

	manifests, ackTo, err := n.manifestsToAck(cur)
	if err != nil {
		return nil, err
	}
	body := types.L2BlockBody{
		L1Segment:   types.L1Segment{NewManifests: manifests},
		ExecSegment: types.ExecSegment{},
	}

	stateRoot, err := n.simulatedStateRoot(next)
	if err != nil {
		return nil, err
	}

	ts := uint64(time.Now().UnixMilli())
	if floor := parent.Header.Header.Timestamp + 1; ts < floor {
		ts = floor
	}
	header := types.L2BlockHeader{
		Slot:            next,
		Epoch:           next / n.params.TargetL2BatchSize,
		Timestamp:       ts,
		PrevBlock:       parent.Id(),
		L1SegmentHash:   body.L1Segment.SegmentHash(),
		ExecSegmentHash: body.ExecSegment.SegmentHash(),
		StateRoot:       stateRoot,
	}
	signed, err := consensus.SignL2Header(&header, n.config.SequencerKey)
	if err != nil {
		return nil, err
	}
	blk := &types.L2Block{Header: signed, Body: body}
	if _, err := n.SubmitL2Block(blk); err != nil {
		return nil, err
	}
	n.lastBuiltSlot = next
	n.lastAckL1 = ackTo
	return blk, nil
}

// manifestsToAck lists the manifests accepted since the last block's
// acknowledgment cursor, oldest first.
func (n *Node) manifestsToAck(cur *types.ClientState) ([]l1.L1BlockId, uint64, error) {
	tip := cur.TipL1Height()
	from := n.lastAckL1
	if tip <= from {
		return nil, from, nil
	}
	var ids []l1.L1BlockId
	for h := from + 1; h <= tip; h++ {
		mf, err := n.store.GetManifestAtHeight(h)
		if err != nil {
			return nil, 0, err
		}
		if mf == nil {
			// reorged away since the event was accepted; ack what exists
			return ids, h - 1, nil
		}
		ids = append(ids, mf.BlockId)
	}
	return ids, tip, nil
}

// simulatedStateRoot runs the slot advance on a scratch copy so the
// header commits to the post-state the event loop will compute.
func (n *Node) simulatedStateRoot(slot uint64) (common.Hash, error) {
	n.chainMu.RLock()
	var cs *types.Chainstate
	if n.chainstate != nil {
		cs = n.chainstate.Copy()
	}
	n.chainMu.RUnlock()
	if cs == nil {
		return common.Hash{}, fmt.Errorf("node: no chainstate to build on")
	}
	if err := n.rollChainstate(cs, slot); err != nil {
		return common.Hash{}, err
	}
	return cs.StateRoot(), nil
}

// canonicalBlockAt walks back from tip to the block at the given slot.
func (n *Node) canonicalBlockAt(tip types.L2BlockId, slot uint64) (*types.L2Block, error) {
	cur := tip
	for {
		blk, err := n.store.GetL2Block(cur)
		if err != nil {
			return nil, err
		}
		if blk == nil {
			return nil, fmt.Errorf("node: block %s missing from canonical chain", cur.String_short())
		}
		if blk.Slot() == slot {
			return blk, nil
		}
		if blk.Slot() < slot {
			return nil, fmt.Errorf("node: no canonical block at slot %d", slot)
		}
		cur = blk.Header.Header.PrevBlock
	}
}

// chainstateRootAt returns the state root of the latest stored
// chainstate at or below slot.
func (n *Node) chainstateRootAt(slot uint64) (common.Hash, error) {
	for s := slot; ; s-- {
		cs, err := n.store.GetChainstate(s)
		if err != nil {
			return common.Hash{}, err
		}
		if cs != nil {
			return cs.StateRoot(), nil
		}
		if s == 0 {
			return common.Hash{}, fmt.Errorf("node: no chainstate at or below slot %d", slot)
		}
	}
}

// headerVsAt returns the header verification snapshot as of the given
// L1 height. The reader only seeds a snapshot on the genesis-height
// manifest, so later heights fold headers forward from the nearest
// stored snapshot. The result is memoized onto the target manifest; a
// reorg that rolls the manifest back discards the snapshot with it.
func (n *Node) headerVsAt(height uint64) (*l1.HeaderVerificationState, error) {
	n.hvsMu.Lock()
	defer n.hvsMu.Unlock()

	mf, err := n.store.GetManifestAtHeight(height)
	if err != nil {
		return nil, err
	}
	if mf == nil {
		return nil, fmt.Errorf("node: no manifest at height %d", height)
	}
	if mf.HeaderVs != nil {
		return mf.HeaderVs, nil
	}

	var vs *l1.HeaderVerificationState
	base := height
	for vs == nil {
		if base <= n.params.GenesisL1Height {
			return nil, fmt.Errorf("node: no verification snapshot at or below height %d", height)
		}
		base--
		prev, err := n.store.GetManifestAtHeight(base)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, fmt.Errorf("node: manifest gap at height %d", base)
		}
		if prev.HeaderVs != nil {
			vs = prev.HeaderVs.Clone()
		}
	}

	net := n.params.NetParams()
	for h := base + 1; h <= height; h++ {
		step, err := n.store.GetManifestAtHeight(h)
		if err != nil {
			return nil, err
		}
		if step == nil {
			return nil, fmt.Errorf("node: manifest gap at height %d", h)
		}
		hdr, err := step.ParsedHeader()
		if err != nil {
			return nil, err
		}
		if err := vs.CheckAndUpdate(hdr, net); err != nil {
			return nil, fmt.Errorf("node: header at height %d: %w", h, err)
		}
	}

	mf.HeaderVs = vs
	if err := n.store.PutBlockManifest(mf); err != nil {
		return nil, err
	}
	return vs, nil
}

// submitCheckpointPayload queues the signed checkpoint for posting.
// Intent dedup makes resubmission of an identical payload a no-op.
func (n *Node) submitCheckpointPayload(signed *types.SignedCheckpoint) error {
	if n.writerHandle == nil {
		return nil
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return err
	}
	idx, queued, err := n.writerHandle.SubmitIntent(&writer.PayloadIntent{
		Dest:    writer.DestCheckpoint,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if queued {
		log.Info(log.NodeMonitoring, "queued checkpoint payload",
			"epoch", signed.Checkpoint.BatchInfo.Epoch, "intent_idx", idx,
			"proved", signed.Checkpoint.HasProof())
	}
	return nil
}

// postableProof reports whether the checkpoint carries a proof that L1
// validation would accept. The simulated native proofs fail this on
// purpose; they complete the proving pipeline without ever being
// posted.
func (n *Node) postableProof(ckpt *types.Checkpoint) bool {
	if !ckpt.HasProof() {
		return false
	}
	receipt := &zkvm.ProofReceipt{Proof: ckpt.Proof, PublicValues: ckpt.ProofPublicParams()}
	return zkvm.NewGroth16Verifier().Verify(receipt, n.params.RollupVk) == nil
}

// onCheckpointProof runs on a prover worker when an epoch's checkpoint
// task completes. Attaching the proof keeps the signature valid since
// the proof is outside the signed content.
func (n *Node) onCheckpointProof(key prover.ProofKey, receipt *zkvm.ProofReceipt) {
	epoch := key.Context.Epoch
	entry, err := n.store.GetCheckpointEntry(epoch)
	if err != nil {
		log.Error(log.ProverMonitoring, "checkpoint entry lookup failed", "epoch", epoch, "err", err)
		return
	}
	if entry == nil {
		log.Warn(log.ProverMonitoring, "proof for unknown checkpoint", "epoch", epoch)
		return
	}
	entry.Checkpoint.Checkpoint.Proof = receipt.Proof
	entry.ProvingStatus = storage.ProvingStatusProofReady
	if err := n.store.PutCheckpointEntry(epoch, entry); err != nil {
		log.Error(log.ProverMonitoring, "checkpoint entry update failed", "epoch", epoch, "err", err)
		return
	}
	log.Info(log.ProverMonitoring, "checkpoint proof ready", "epoch", epoch, "backend", key.Backend)

	if n.isSequencer() && n.postableProof(&entry.Checkpoint.Checkpoint) {
		if err := n.submitCheckpointPayload(&entry.Checkpoint); err != nil {
			log.Error(log.NodeMonitoring, "proved checkpoint submission failed", "epoch", epoch, "err", err)
		}
	}
}

// AttachCheckpointProof accepts an externally produced proof for a
// sealed epoch, verifies it against the entry's public params and the
// rollup vk, and reposts the now-proved checkpoint.
func (n *Node) AttachCheckpointProof(epoch uint64, proof []byte) error {
	entry, err := n.store.GetCheckpointEntry(epoch)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("node: no checkpoint sealed for epoch %d", epoch)
	}
	ckpt := &entry.Checkpoint.Checkpoint
	receipt := &zkvm.ProofReceipt{Proof: proof, PublicValues: ckpt.ProofPublicParams()}
	if err := zkvm.NewGroth16Verifier().Verify(receipt, n.params.RollupVk); err != nil {
		return fmt.Errorf("node: proof rejected for epoch %d: %w", epoch, err)
	}
	ckpt.Proof = append(common.HexBytes(nil), proof...)
	entry.ProvingStatus = storage.ProvingStatusProofReady
	if err := n.store.PutCheckpointEntry(epoch, entry); err != nil {
		return err
	}
	log.Info(log.NodeMonitoring, "external checkpoint proof attached", "epoch", epoch)
	return n.submitCheckpointPayload(&entry.Checkpoint)
}

// recordConfirmedCheckpoint reacts to a checkpoint confirming on L1.
// If ours confirmed unproved while a postable proof is ready, the
// proved version goes out; dedup keeps this from looping.
func (n *Node) recordConfirmedCheckpoint(a *types.WriteCheckpoint) error {
	entry, err := n.store.GetCheckpointEntry(a.Epoch)
	if err != nil {
		return err
	}
	if entry == nil {
		// follower: it observes checkpoints it never sealed
		log.Debug(log.NodeMonitoring, "observed checkpoint for unsealed epoch",
			"epoch", a.Epoch, "l1_height", a.Checkpoint.L1Ref.L1Height)
		return nil
	}
	if entry.ConfStatus == storage.ConfStatusUnposted {
		entry.ConfStatus = storage.ConfStatusConfirmed
	}
	entry.ConfirmedHeight = a.Checkpoint.L1Ref.L1Height
	if err := n.store.PutCheckpointEntry(a.Epoch, entry); err != nil {
		return err
	}
	log.Info(log.NodeMonitoring, "checkpoint confirmed on l1",
		"epoch", a.Epoch, "l1_height", a.Checkpoint.L1Ref.L1Height, "proved", a.Checkpoint.IsProved)

	if n.isSequencer() && !a.Checkpoint.IsProved &&
		entry.ProvingStatus == storage.ProvingStatusProofReady &&
		n.postableProof(&entry.Checkpoint.Checkpoint) {
		return n.submitCheckpointPayload(&entry.Checkpoint)
	}
	return nil
}

// markCheckpointFinalized records burial of the epoch's L1 block.
func (n *Node) markCheckpointFinalized(epoch uint64) error {
	entry, err := n.store.GetCheckpointEntry(epoch)
	if err != nil || entry == nil {
		return err
	}
	if entry.ConfStatus == storage.ConfStatusFinalized {
		return nil
	}
	entry.ConfStatus = storage.ConfStatusFinalized
	return n.store.PutCheckpointEntry(epoch, entry)
}

// proofLoop feeds pending proving tasks their witnesses and collects
// finished proofs. Witnesses that cannot be built yet are retried on
// the next tick.
func (n *Node) proofLoop() {
	defer n.done.Done()
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
		n.pumpProver()
	}
}

func (n *Node) pumpProver() {
	for _, key := range n.prover.PendingTasks(zkvm.BackendNative) {
		witness, err := n.buildWitness(key)
		if err != nil {
			log.Trace(log.ProverMonitoring, "witness not buildable yet", "task", key.String(), "err", err)
			continue
		}
		status, err := n.prover.SubmitWitness(key, witness)
		if err != nil {
			log.Warn(log.ProverMonitoring, "witness submission failed", "task", key.String(), "err", err)
			continue
		}
		if status == prover.Busy {
			break
		}
	}
	if _, err := n.prover.CollectInProgress(zkvm.BackendNative); err != nil {
		log.Warn(log.ProverMonitoring, "proof collection failed", "err", err)
	}
}

// buildWitness assembles the public values each task's proof commits
// to: the statement context plus the commitment it must end at.
func (n *Node) buildWitness(key prover.ProofKey) ([]byte, error) {
	ctx := key.Context
	switch ctx.Kind {
	case prover.ContextBtcBlockspan:
		vs, err := n.headerVsAt(ctx.To)
		if err != nil {
			return nil, err
		}
		hash := vs.ComputeSnapshotHash()
		return append(ctx.Bytes(), hash[:]...), nil

	case prover.ContextL2Batch:
		root, err := n.chainstateRootAt(ctx.To)
		if err != nil {
			return nil, err
		}
		return append(ctx.Bytes(), root[:]...), nil

	case prover.ContextCheckpoint:
		entry, err := n.store.GetCheckpointEntry(ctx.Epoch)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("no checkpoint entry for epoch %d", ctx.Epoch)
		}
		return entry.Checkpoint.Checkpoint.ProofPublicParams(), nil

	default:
		return nil, fmt.Errorf("unhandled proof context kind %d", ctx.Kind)
	}
}
