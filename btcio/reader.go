package btcio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// EventSink receives the sync events the reader produces.
type EventSink interface {
	WriteSyncEvent(ev types.SyncEvent) (uint64, error)
}

// ManifestStore is the slice of node storage the reader owns: manifest
// bodies plus the height index it scans and rolls back.
type ManifestStore interface {
	PutBlockManifest(mf *l1.L1BlockManifest) error
	GetBlockIdAtHeight(height uint64) (l1.L1BlockId, bool, error)
	GetLastManifestHeight() (uint64, bool, error)
	DeleteManifestsFrom(height uint64) error
}

// ReorgExceedsDepthError: the walk back from a mismatching tip hit the
// safe-depth bound without finding a common ancestor. The reader stops
// instead of reverting past what the state machine considers buried.
type ReorgExceedsDepthError struct {
	Tip   uint64
	Depth uint32
}

func (e *ReorgExceedsDepthError) Error() string {
	return fmt.Sprintf("btcio: no common ancestor within %d blocks of height %d", e.Depth, e.Tip)
}

// BlockReader polls the L1 chain from the horizon height upward. Each
// accepted block becomes a stored manifest plus an L1Block event; a
// prev-hash mismatch triggers the reorg walk-back, which rolls the
// manifest store back and emits L1Revert. The reader is the only writer
// of the manifest store, so no locking is needed around its rollbacks.
type BlockReader struct {
	client Reader
	store  ManifestStore
	sink   EventSink
	params *params.Params

	pollInterval time.Duration

	// filter and epoch change as the node's view evolves; the node
	// swaps them in from outside the poll goroutine.
	mu     sync.Mutex
	filter *l1.TxFilterConfig
	epoch  uint64
}

func NewBlockReader(client Reader, store ManifestStore, sink EventSink,
	p *params.Params, filter *l1.TxFilterConfig, pollInterval time.Duration,
) *BlockReader {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &BlockReader{
		client:       client,
		store:        store,
		sink:         sink,
		params:       p,
		pollInterval: pollInterval,
		filter:       filter,
	}
}

// SetFilter replaces the tx filter. Applies from the next block scanned.
func (r *BlockReader) SetFilter(filter *l1.TxFilterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
}

// SetEpoch updates the finalized epoch stamped onto new manifests.
func (r *BlockReader) SetEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch = epoch
}

func (r *BlockReader) snapshot() (*l1.TxFilterConfig, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter, r.epoch
}

// Run polls until ctx is done. Fetch failures and not-yet-mined heights
// are both just "try again next tick".
func (r *BlockReader) Run(ctx context.Context) {
	log.Info(log.ReaderMonitoring, "l1 reader started",
		"horizon", r.params.HorizonL1Height, "poll", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info(log.ReaderMonitoring, "l1 reader stopped")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain consumes consecutive blocks until the chain runs dry, so a
// node catching up is not limited to one block per tick.
func (r *BlockReader) drain(ctx context.Context) {
	for ctx.Err() == nil {
		advanced, err := r.step(ctx)
		if err != nil {
			log.Warn(log.ReaderMonitoring, "l1 scan failed, will retry", "err", err)
			return
		}
		if !advanced {
			return
		}
	}
}

// step processes exactly one height: either accepts the next block or
// handles a detected reorg. Returns whether the local view advanced.
func (r *BlockReader) step(ctx context.Context) (bool, error) {
	next := r.params.HorizonL1Height
	last, found, err := r.store.GetLastManifestHeight()
	if err != nil {
		return false, err
	}
	if found {
		next = last + 1
	}

	block, err := r.client.GetBlockAt(ctx, next)
	if err != nil {
		if IsTransient(err) {
			log.Trace(log.ReaderMonitoring, "no block yet", "height", next, "err", err)
			return false, nil
		}
		return false, err
	}

	if found {
		parentId, ok, err := r.store.GetBlockIdAtHeight(last)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("btcio: manifest index missing height %d", last)
		}
		if prev := l1.L1BlockIdFromHash(block.Header.PrevBlock); prev != parentId {
			return r.handleReorg(ctx, last)
		}
	}

	return true, r.acceptBlock(ctx, next, block)
}

func (r *BlockReader) acceptBlock(ctx context.Context, height uint64, block *wire.MsgBlock) error {
	filter, epoch := r.snapshot()
	txs := l1.FilterProtocolOps(block, filter)

	// the genesis manifest carries the verification-state snapshot the
	// first checkpoint proof starts from
	var hvs *l1.HeaderVerificationState
	if height == r.params.GenesisL1Height {
		vs, err := l1.NewVerificationState(ctx, HeaderSourceFromReader(r.client), height, r.params.NetParams())
		if err != nil {
			return err
		}
		hvs = vs
	}

	mf, err := l1.NewManifestFromBlock(block, height, epoch, txs, hvs)
	if err != nil {
		return err
	}
	if err := r.store.PutBlockManifest(mf); err != nil {
		return err
	}
	if _, err := r.sink.WriteSyncEvent(&types.L1BlockEvent{Height: height, Blkid: mf.BlockId}); err != nil {
		return err
	}
	log.Debug(log.ReaderMonitoring, "l1 block scanned",
		"height", height, "blkid", mf.BlockId.String_short(), "relevant_txs", len(txs))
	return nil
}

// handleReorg walks back from tip until the local and remote hashes
// agree, bounded by the reorg safe depth, then rolls stores back and
// emits the revert event.
func (r *BlockReader) handleReorg(ctx context.Context, tip uint64) (bool, error) {
	depth := uint64(r.params.L1ReorgSafeDepth)
	floor := r.params.HorizonL1Height
	if tip > floor+depth {
		floor = tip - depth
	}

	ancestor := uint64(0)
	foundAncestor := false
	for h := tip; h >= floor; h-- {
		localId, ok, err := r.store.GetBlockIdAtHeight(h)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("btcio: manifest index missing height %d during reorg walk", h)
		}
		remoteId, err := r.client.GetBlockHash(ctx, h)
		if err != nil {
			if IsTransient(err) {
				return false, nil
			}
			return false, err
		}
		if localId == remoteId {
			ancestor = h
			foundAncestor = true
			break
		}
		if h == floor {
			break
		}
	}
	if !foundAncestor {
		return false, &ReorgExceedsDepthError{Tip: tip, Depth: r.params.L1ReorgSafeDepth}
	}

	if err := r.store.DeleteManifestsFrom(ancestor + 1); err != nil {
		return false, err
	}
	if _, err := r.sink.WriteSyncEvent(&types.L1RevertEvent{Height: ancestor}); err != nil {
		return false, err
	}
	log.Warn(log.ReaderMonitoring, "l1 reorg detected",
		"ancestor", ancestor, "old_tip", tip, "dropped", tip-ancestor)
	return true, nil
}
