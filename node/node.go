// Package node assembles the subsystems into a running rollup node:
// the L1 reader feeding the sync event journal, the single consumer
// loop driving the client state machine, the unfinalized block tracker,
// and the sequencer, prover and bridge work hanging off state changes.
// Exactly one goroutine consumes events; everything else talks to it
// through the stores and the event journal.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/btcio"
	"github.com/alpenlabs/strata-sub002/consensus"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/storage"
	"github.com/alpenlabs/strata-sub002/types"
	"github.com/alpenlabs/strata-sub002/writer"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

const (
	// stateCheckpointInterval is how many consumed events go between
	// full client-state snapshots.
	stateCheckpointInterval = 64

	// proverCapacity bounds concurrent proving tasks per backend.
	proverCapacity = 4
)

// Config is the static wiring for one node process.
type Config struct {
	NodeName string

	// DataDir is the database path; empty runs in memory.
	DataDir string

	RPCPort int
	WebPort int

	// PollInterval paces the reader, writer and prover ticks.
	PollInterval time.Duration

	// BlockInterval paces sequencer block production. Zero disables
	// the producer; blocks then only arrive via SubmitL2Block.
	BlockInterval time.Duration

	// SequencerKey, when set, makes this node seal epochs, sign
	// checkpoints and post them to L1.
	SequencerKey *btcec.PrivateKey

	// OperatorKey, when set, makes this node take part in bridge
	// signing sessions as OperatorIdx. It serves both the message and
	// the wallet role; the operator set must register the same key for
	// both, as the devnet spec does.
	OperatorKey *btcec.PrivateKey
	OperatorIdx types.OperatorIdx
}

// Node is the composition root. All mutable consensus state lives in
// the tracker and the stores; the fields here are wiring.
type Node struct {
	config *Config
	params *params.Params

	store  *storage.NodeStore
	client btcio.Client
	sink   *signalingSink

	tracker      *consensus.StateTracker
	chainTracker *consensus.UnfinalizedBlockTracker
	reader       *btcio.BlockReader
	prover       *prover.ProverManager
	writerHandle *writer.EnvelopeHandle
	relayer      *bridge.MessageRelayer
	sigMgr       *bridge.SignatureManager
	buildCtx     *bridge.TxBuildContext
	signingTable *bridge.PublickeyTable
	walletTable  *bridge.PublickeyTable

	hub *Hub

	// chainstate is the latest matured chainstate; nil before genesis.
	chainMu    sync.RWMutex
	chainstate *types.Chainstate

	// consumed only by the event loop goroutine
	genesisEmitted bool
	daEmittedEpoch uint64
	daEmittedSet   bool
	nextSealEpoch  uint64
	eventsSinceCkp int

	// block production cursors, touched by the block loop only
	lastAckL1     uint64
	lastBuiltSlot uint64

	// fulfillInFlight is touched by the event loop only: deposit idxs
	// this operator has already fronted in this process.
	fulfillInFlight map[uint32]struct{}

	// gossip that arrived before the local signing state existed
	gossipMu      sync.Mutex
	pendingGossip map[l1.L1TxId][]*bridge.BridgeMessage

	// hvsMu serializes header verification snapshot walks; the event
	// loop and the proof loop both request snapshots.
	hvsMu sync.Mutex

	eventSignal chan struct{}

	rpcListener net.Listener
	webServer   *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// signalingSink appends sync events to the journal and nudges the event
// loop without ever blocking the producer.
type signalingSink struct {
	store  *storage.NodeStore
	signal chan struct{}
}

func (s *signalingSink) WriteSyncEvent(ev types.SyncEvent) (uint64, error) {
	idx, err := s.store.WriteSyncEvent(ev)
	if err != nil {
		return 0, err
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return idx, nil
}

// NewNode opens the store, reconstructs the client state and wires the
// subsystems. Nothing runs until Start.
func NewNode(cfg *Config, p *params.Params, client btcio.Client) (*Node, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	store, err := storage.NewNodeStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	// a fresh database gets the pre-genesis state as snapshot 0
	snap, err := store.GetStateCheckpoint(0)
	if err != nil {
		store.Close()
		return nil, err
	}
	if snap == nil {
		init := types.NewClientState(p.HorizonL1Height, p.GenesisL1Height)
		if err := store.PutStateCheckpoint(0, init); err != nil {
			store.Close()
			return nil, err
		}
		log.Info(log.NodeMonitoring, "initialized fresh client state",
			"horizon", p.HorizonL1Height, "genesis", p.GenesisL1Height)
	}

	state, idx, err := consensus.ReconstructState(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	// federation tables and the build context derive from the params'
	// operator set, fixed at genesis
	genesisChs, err := consensus.MakeGenesisChainstate(p)
	if err != nil {
		store.Close()
		return nil, err
	}
	signingTable, err := bridge.FromOperatorTable(genesisChs.OperatorTable, bridge.KeyRoleSigning)
	if err != nil {
		store.Close()
		return nil, err
	}
	walletTable, err := bridge.FromOperatorTable(genesisChs.OperatorTable, bridge.KeyRoleWallet)
	if err != nil {
		store.Close()
		return nil, err
	}
	buildCtx, err := bridge.NewTxBuildContext(p.NetParams(), walletTable, p.MagicBytes())
	if err != nil {
		store.Close()
		return nil, err
	}

	n := &Node{
		config:          cfg,
		params:          p,
		store:           store,
		client:          client,
		buildCtx:        buildCtx,
		signingTable:    signingTable,
		walletTable:     walletTable,
		eventSignal:     make(chan struct{}, 1),
		fulfillInFlight: make(map[uint32]struct{}),
		pendingGossip:   make(map[l1.L1TxId][]*bridge.BridgeMessage),
	}
	n.sink = &signalingSink{store: store, signal: n.eventSignal}
	n.tracker = consensus.NewStateTracker(state, idx, store, store, p)
	n.hub = NewHub()

	if err := n.initChainstate(state); err != nil {
		store.Close()
		return nil, err
	}
	if err := n.initChainTracker(state); err != nil {
		store.Close()
		return nil, err
	}

	filter := l1.DeriveTxFilterConfig(p, buildCtx.FederationScript())
	n.trackDepositOutpoints(filter)
	n.reader = btcio.NewBlockReader(client, store, n.sink, p, filter, cfg.PollInterval)
	if state.Sync != nil && !state.Sync.FinalizedEpoch.IsNull() {
		n.reader.SetEpoch(state.Sync.FinalizedEpoch.Epoch)
	}

	pool := prover.NewProverPool(zkvm.NewNativeBackend(), proverCapacity)
	n.prover = prover.NewProverManager(store, pool)
	n.prover.OnCheckpointProof(n.onCheckpointProof)

	n.relayer = bridge.NewMessageRelayer(signingTable, bridge.RelayerConfig{
		AllowMiscRelay: true,
	})
	if cfg.OperatorKey != nil {
		n.sigMgr = bridge.NewSignatureManager(store, cfg.OperatorKey, cfg.OperatorIdx)
	}
	if cfg.SequencerKey != nil {
		n.writerHandle = writer.NewEnvelopeHandle(store, client, client, p,
			cfg.SequencerKey, cfg.PollInterval)
	}

	if err := n.initSequencerCursor(); err != nil {
		store.Close()
		return nil, err
	}
	if err := n.scanUnconsumedTail(state, idx); err != nil {
		store.Close()
		return nil, err
	}

	log.Info(log.NodeMonitoring, "node assembled", "name", cfg.NodeName,
		"event_idx", idx, "chain_active", state.ChainActive,
		"sequencer", cfg.SequencerKey != nil, "operator", cfg.OperatorKey != nil)
	return n, nil
}

// initChainstate loads the most recent matured chainstate. Absent means
// genesis has not happened yet.
func (n *Node) initChainstate(state *types.ClientState) error {
	slot, found, err := n.store.GetLastChainstateSlot()
	if err != nil {
		return err
	}
	if !found {
		if state.Sync != nil {
			return fmt.Errorf("node: sync state present but no chainstate stored")
		}
		return nil
	}
	cs, err := n.store.GetChainstate(slot)
	if err != nil {
		return err
	}
	if cs == nil {
		return fmt.Errorf("node: chainstate slot index points at missing slot %d", slot)
	}
	n.chainstate = cs
	return nil
}

// initChainTracker roots the unfinalized tree at the finalized tip and
// re-attaches the stored blocks above it.
func (n *Node) initChainTracker(state *types.ClientState) error {
	root := types.L2BlockId{}
	startSlot := uint64(0)
	if state.Sync != nil {
		root = state.Sync.FinalizedBlkid
		startSlot = state.Sync.FinalizedSlot
	} else {
		gb, _, err := consensus.MakeGenesisBlock(n.params)
		if err != nil {
			return err
		}
		root = gb.Id()
	}
	n.chainTracker = consensus.NewUnfinalizedBlockTracker(root)

	if state.Sync == nil {
		return nil
	}
	for slot := startSlot + 1; ; slot++ {
		ids, err := n.store.GetL2BlockIdsAtHeight(slot)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			blk, err := n.store.GetL2Block(id)
			if err != nil {
				return err
			}
			if blk == nil {
				continue
			}
			if err := n.chainTracker.AttachBlock(id, &blk.Header.Header); err != nil {
				var parent *consensus.AttachMissingParentError
				if errors.As(err, &parent) {
					// side branch rooted below the finalized tip
					continue
				}
				return err
			}
		}
	}
}

// initSequencerCursor resumes epoch sealing after the last stored
// checkpoint.
func (n *Node) initSequencerCursor() error {
	epoch, found, err := n.store.GetLastCheckpointEpoch()
	if err != nil {
		return err
	}
	if found {
		n.nextSealEpoch = epoch + 1
	}
	// manifests accepted before this process started are considered
	// acknowledged; produced blocks only carry what arrives from here on
	state, _ := n.tracker.CurState()
	n.lastAckL1 = state.TipL1Height()
	return nil
}

// scanUnconsumedTail inspects events written but not yet consumed so a
// restart does not double-emit genesis or a DA batch.
func (n *Node) scanUnconsumedTail(state *types.ClientState, consumedIdx uint64) error {
	n.genesisEmitted = state.Sync != nil
	if state.Sync != nil && !state.Sync.FinalizedEpoch.IsNull() &&
		state.Sync.FinalizedBlkid == state.Sync.FinalizedEpoch.LastBlkid {
		n.daEmittedEpoch = state.Sync.FinalizedEpoch.Epoch
		n.daEmittedSet = true
	}

	last, err := n.store.GetLastSyncEventIdx()
	if err != nil {
		return err
	}
	for i := consumedIdx + 1; i <= last; i++ {
		ev, err := n.store.GetSyncEvent(i)
		if err != nil {
			return err
		}
		if ev == nil {
			return fmt.Errorf("node: event journal gap at %d", i)
		}
		switch e := ev.(type) {
		case *types.ComputedGenesisEvent:
			n.genesisEmitted = true
		case *types.L1DABatchEvent:
			n.daEmittedEpoch = e.Epoch
			n.daEmittedSet = true
		}
	}
	return nil
}

// Start spins up every loop. The context bounds the whole node; Stop
// also cancels it.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.relayer.Start()

	n.done.Add(1)
	go func() {
		defer n.done.Done()
		n.reader.Run(n.ctx)
	}()

	if n.writerHandle != nil {
		n.done.Add(1)
		go func() {
			defer n.done.Done()
			n.writerHandle.Run(n.ctx)
		}()
	}

	n.done.Add(1)
	go n.eventLoop()

	n.done.Add(1)
	go n.proofLoop()

	if n.isSequencer() && n.config.BlockInterval > 0 {
		n.done.Add(1)
		go n.blockLoop()
	}

	if n.isOperator() {
		n.done.Add(1)
		go n.bridgeLoop()
	}

	if n.config.RPCPort > 0 {
		if err := n.startRPC(); err != nil {
			n.cancel()
			return err
		}
	}
	if n.config.WebPort > 0 {
		n.startWeb()
	}

	log.Info(log.NodeMonitoring, "node started", "name", n.config.NodeName,
		"rpc_port", n.config.RPCPort, "web_port", n.config.WebPort)
	return nil
}

// Stop shuts everything down and closes the store. Safe to call once.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.stopRPC()
	n.stopWeb()
	n.relayer.Stop()
	n.done.Wait()
	if err := n.store.Close(); err != nil {
		log.Warn(log.NodeMonitoring, "store close failed", "err", err)
	}
	log.Info(log.NodeMonitoring, "node stopped", "name", n.config.NodeName)
}

func (n *Node) isSequencer() bool { return n.config.SequencerKey != nil }
func (n *Node) isOperator() bool  { return n.config.OperatorKey != nil }

// NodeName returns the configured instance name.
func (n *Node) NodeName() string { return n.config.NodeName }

// Params returns the rollup params the node runs under.
func (n *Node) Params() *params.Params { return n.params }

// ClientState returns the current consensus state and the event index
// it reflects. The state must be treated as immutable.
func (n *Node) ClientState() (*types.ClientState, uint64) {
	return n.tracker.CurState()
}

// CurChainstate returns a copy of the latest matured chainstate, nil
// before genesis.
func (n *Node) CurChainstate() *types.Chainstate {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	if n.chainstate == nil {
		return nil
	}
	return n.chainstate.Copy()
}

// ChainstateAt loads the stored chainstate snapshot for a slot.
func (n *Node) ChainstateAt(slot uint64) (*types.Chainstate, error) {
	return n.store.GetChainstate(slot)
}

// BlockTree renders the unfinalized block tree.
func (n *Node) BlockTree() string {
	return n.chainTracker.Render()
}

// SubmitEvent appends an externally produced sync event to the journal.
func (n *Node) SubmitEvent(ev types.SyncEvent) (uint64, error) {
	return n.sink.WriteSyncEvent(ev)
}

// SubmitL2Block stores a block and feeds the tip event that makes the
// state machine consider it. The block must extend a known block.
func (n *Node) SubmitL2Block(blk *types.L2Block) (uint64, error) {
	if err := blk.CheckSegmentHashes(); err != nil {
		return 0, err
	}
	if err := n.store.PutL2Block(blk); err != nil {
		return 0, err
	}
	return n.sink.WriteSyncEvent(&types.NewTipBlockEvent{Blkid: blk.Id()})
}

// SubmitBridgeMessage hands operator gossip to the relayer.
func (n *Node) SubmitBridgeMessage(msg *bridge.BridgeMessage) {
	n.relayer.SubmitMessage(msg)
}

// eventLoop is the single consumer of the sync event journal. Each pass
// drains everything written since the last consumed index.
func (n *Node) eventLoop() {
	defer n.done.Done()
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.eventSignal:
		case <-ticker.C:
		}
		if err := n.drainEvents(); err != nil {
			log.Error(log.NodeMonitoring, "event processing failed", "err", err)
		}
	}
}

func (n *Node) drainEvents() error {
	for {
		prev, idx := n.tracker.CurState()
		last, err := n.store.GetLastSyncEventIdx()
		if err != nil {
			return err
		}
		if idx >= last {
			return nil
		}

		out, cur, err := n.tracker.AdvanceConsensusState(idx + 1)
		if err != nil {
			return fmt.Errorf("advance to event %d: %w", idx+1, err)
		}
		if err := n.postAdvance(prev, cur, out); err != nil {
			return err
		}

		n.eventsSinceCkp++
		if n.eventsSinceCkp >= stateCheckpointInterval {
			if err := n.tracker.WriteStateCheckpoint(); err != nil {
				return err
			}
			n.eventsSinceCkp = 0
		}
	}
}

// postAdvance carries out everything one consumed event implies beyond
// the state write itself: chainstate maturation, genesis, the event's
// actions, DA emission and epoch sealing. Runs on the event loop
// goroutine only.
func (n *Node) postAdvance(prev, cur *types.ClientState, out *types.ClientUpdateOutput) error {
	if cur.LocalL1.BuriedL1Height > prev.LocalL1.BuriedL1Height {
		if err := n.applyMaturedBlocks(prev.LocalL1.BuriedL1Height+1, cur.LocalL1.BuriedL1Height); err != nil {
			return err
		}
	}
	if err := n.maybeComputeGenesis(cur); err != nil {
		return err
	}
	for _, action := range out.Actions {
		if err := n.dispatchAction(cur, action); err != nil {
			return err
		}
	}
	if err := n.maybeEmitDABatch(cur); err != nil {
		return err
	}
	if n.isSequencer() {
		if err := n.maybeSealEpoch(cur); err != nil {
			return err
		}
	}
	return nil
}

// applyMaturedBlocks folds the protocol ops of newly buried L1 blocks
// into the chainstate and refreshes the tx filter with the deposit
// outpoints that produced.
func (n *Node) applyMaturedBlocks(from, to uint64) error {
	n.chainMu.Lock()
	if n.chainstate == nil {
		// pre-genesis burials carry no bridge state yet
		n.chainMu.Unlock()
		return nil
	}
	cs := n.chainstate.Copy()

	var matured []*l1.L1BlockManifest
	for h := from; h <= to; h++ {
		mf, err := n.store.GetManifestAtHeight(h)
		if err != nil {
			n.chainMu.Unlock()
			return err
		}
		if mf == nil {
			continue
		}
		consensus.ProcessL1Ops(cs, mf, n.params)
		matured = append(matured, mf)
	}
	if len(matured) == 0 {
		n.chainMu.Unlock()
		return nil
	}

	if err := n.store.PutChainstate(cs.CurSlot, cs); err != nil {
		n.chainMu.Unlock()
		return err
	}
	n.chainstate = cs
	n.refreshFilter(cs)
	n.chainMu.Unlock()

	n.hub.NotifyDeposits(cs)
	if n.isOperator() {
		n.scanDuties(cs, matured)
	}
	return nil
}

// refreshFilter rebuilds the reader's tx filter so spends of the live
// deposit outpoints are picked up. Caller holds chainMu.
func (n *Node) refreshFilter(cs *types.Chainstate) {
	cfg := l1.DeriveTxFilterConfig(n.params, n.buildCtx.FederationScript())
	n.trackDepositOutpointsFrom(cfg, cs)
	n.reader.SetFilter(cfg)
}

func (n *Node) trackDepositOutpoints(cfg *l1.TxFilterConfig) {
	n.chainMu.RLock()
	defer n.chainMu.RUnlock()
	if n.chainstate != nil {
		n.trackDepositOutpointsFrom(cfg, n.chainstate)
	}
}

func (n *Node) trackDepositOutpointsFrom(cfg *l1.TxFilterConfig, cs *types.Chainstate) {
	cs.DepositsTable.Iter(func(e *types.DepositEntry) {
		cfg.TrackOutpoint(e.Output.ToOutPoint(), e.Idx)
	})
}

// maybeComputeGenesis emits the ComputedGenesis event exactly once,
// after chain activation and before any sync state exists. The genesis
// block is deterministic, so every node stores the same one.
func (n *Node) maybeComputeGenesis(cur *types.ClientState) error {
	if !cur.ChainActive || cur.Sync != nil || n.genesisEmitted {
		return nil
	}
	gb, gcs, err := consensus.MakeGenesisBlock(n.params)
	if err != nil {
		return err
	}
	if err := n.store.PutL2Block(gb); err != nil {
		return err
	}
	if err := n.store.PutChainstate(0, gcs); err != nil {
		return err
	}
	n.chainMu.Lock()
	if n.chainstate == nil {
		n.chainstate = gcs
	}
	n.chainMu.Unlock()

	if _, err := n.sink.WriteSyncEvent(&types.ComputedGenesisEvent{Blkid: gb.Id()}); err != nil {
		return err
	}
	n.genesisEmitted = true
	log.Info(log.NodeMonitoring, "computed genesis block", "blkid", gb.Id().String_short())
	return nil
}

func (n *Node) dispatchAction(cur *types.ClientState, action types.SyncAction) error {
	switch a := action.(type) {
	case *types.FinalizeBlock:
		report, err := n.chainTracker.UpdateFinalizedTip(a.Blkid)
		if err != nil {
			var missing *consensus.MissingBlockError
			if errors.As(err, &missing) {
				// a follower can finalize an epoch before it has seen
				// the blocks; the tree catches up on the next tip
				log.Warn(log.NodeMonitoring, "finalized block not in tracker",
					"blkid", a.Blkid.String_short())
				return nil
			}
			return err
		}
		log.Info(log.NodeMonitoring, "finalized block",
			"blkid", a.Blkid.String_short(), "rejected_forks", len(report.Rejected))
		n.hub.NotifyFinalized(cur)

	case *types.UpdateTip:
		if err := n.attachTip(a.Blkid); err != nil {
			return err
		}
		if err := n.advanceSlot(cur); err != nil {
			return err
		}
		n.hub.NotifyTip(cur)

	case *types.WriteCheckpoint:
		if err := n.recordConfirmedCheckpoint(a); err != nil {
			return err
		}
		n.hub.NotifyCheckpoint(a)

	default:
		log.Warn(log.NodeMonitoring, "unhandled sync action", "action", action.String())
	}
	return nil
}

// attachTip makes sure the block and any stored ancestors down to the
// tracker's frontier are attached.
func (n *Node) attachTip(id types.L2BlockId) error {
	var pending []*types.L2Block
	cur := id
	for !n.chainTracker.ContainsBlock(cur) {
		blk, err := n.store.GetL2Block(cur)
		if err != nil {
			return err
		}
		if blk == nil {
			return fmt.Errorf("node: tip block %s not in store", cur.String_short())
		}
		pending = append(pending, blk)
		cur = blk.Header.Header.PrevBlock
	}
	for i := len(pending) - 1; i >= 0; i-- {
		blk := pending[i]
		if err := n.chainTracker.AttachBlock(blk.Id(), &blk.Header.Header); err != nil {
			var dup *consensus.BlockAlreadyAttachedError
			if !errors.As(err, &dup) {
				return err
			}
		}
	}
	return nil
}

// advanceSlot rolls the chainstate forward to the tip slot, running the
// epoch check-in at each epoch boundary crossed.
func (n *Node) advanceSlot(cur *types.ClientState) error {
	if cur.Sync == nil {
		return nil
	}
	n.chainMu.Lock()
	defer n.chainMu.Unlock()
	if n.chainstate == nil || cur.Sync.TipSlot <= n.chainstate.CurSlot {
		return nil
	}
	cs := n.chainstate.Copy()
	if err := n.rollChainstate(cs, cur.Sync.TipSlot); err != nil {
		return err
	}
	if err := n.store.PutChainstate(cs.CurSlot, cs); err != nil {
		return err
	}
	n.chainstate = cs
	return nil
}

// rollChainstate advances the copy slot by slot, running the epoch
// check-in at each boundary crossed. The block producer runs the same
// transition on a scratch copy to commit to the post-state.
func (n *Node) rollChainstate(cs *types.Chainstate, toSlot uint64) error {
	for slot := cs.CurSlot + 1; slot <= toSlot; slot++ {
		cs.CurSlot = slot
		epoch := slot / n.params.TargetL2BatchSize
		if epoch > cs.CurEpoch {
			cs.CurEpoch = epoch
			if err := consensus.EpochCheckIn(cs, cs.SafeL1Height, n.params); err != nil {
				return err
			}
			log.Debug(log.ChainMonitoring, "epoch check-in",
				"epoch", epoch, "slot", slot, "safe_l1", cs.SafeL1Height)
		}
	}
	return nil
}

// maybeEmitDABatch turns a freshly finalized epoch into the DA batch
// event whose processing moves the finalized tip.
func (n *Node) maybeEmitDABatch(cur *types.ClientState) error {
	if cur.Sync == nil {
		return nil
	}
	fin := cur.Sync.FinalizedEpoch
	if fin.IsNull() {
		return nil
	}
	if n.daEmittedSet && fin.Epoch <= n.daEmittedEpoch {
		return nil
	}
	if cur.Sync.FinalizedBlkid == fin.LastBlkid {
		n.daEmittedEpoch, n.daEmittedSet = fin.Epoch, true
		return nil
	}

	ids, err := n.blockRange(fin.LastBlkid, cur.Sync.FinalizedBlkid)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := n.sink.WriteSyncEvent(&types.L1DABatchEvent{Epoch: fin.Epoch, Blkids: ids}); err != nil {
		return err
	}
	n.daEmittedEpoch, n.daEmittedSet = fin.Epoch, true
	n.reader.SetEpoch(fin.Epoch)
	if err := n.markCheckpointFinalized(fin.Epoch); err != nil {
		return err
	}

	n.chainMu.Lock()
	if n.chainstate != nil && fin.Epoch > n.chainstate.LastFinalizedEpoch {
		cs := n.chainstate.Copy()
		cs.LastFinalizedEpoch = fin.Epoch
		if err := n.store.PutChainstate(cs.CurSlot, cs); err != nil {
			n.chainMu.Unlock()
			return err
		}
		n.chainstate = cs
	}
	n.chainMu.Unlock()

	log.Info(log.NodeMonitoring, "emitted da batch",
		"epoch", fin.Epoch, "blocks", len(ids))
	return nil
}

// blockRange walks headers from head back to stop and returns the ids
// oldest first, excluding stop.
func (n *Node) blockRange(head, stop types.L2BlockId) ([]types.L2BlockId, error) {
	var rev []types.L2BlockId
	cur := head
	for cur != stop {
		blk, err := n.store.GetL2Block(cur)
		if err != nil {
			return nil, err
		}
		if blk == nil {
			return nil, fmt.Errorf("node: block %s missing from da range", cur.String_short())
		}
		rev = append(rev, cur)
		cur = blk.Header.Header.PrevBlock
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev, nil
}
