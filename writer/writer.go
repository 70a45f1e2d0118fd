package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/btcio"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
)

const dustLimit = 546

// rough vsizes for fee estimation; envelopes only need to confirm, so
// round numbers erring high are fine
func estimateRevealVSize(scriptLen int) int64 {
	return 95 + int64(scriptLen+110)/4
}

func estimateCommitVSize(numIn, numOut int) int64 {
	return 11 + 58*int64(numIn) + 43*int64(numOut)
}

// envelopeTag is the in-script tag per destination. Checkpoint
// envelopes carry the bare magic the consensus filter matches; DA
// envelopes get a suffixed tag so they stay out of the checkpoint scan.
func envelopeTag(magic []byte, dest PayloadDest) []byte {
	if dest == DestDA {
		return append(append([]byte(nil), magic...), 'd', 'a')
	}
	return magic
}

// EnvelopeHandle owns the durable payload queue: it accepts intents,
// signs commit/reveal pairs, broadcasts them and watches confirmations
// until finality, resigning from scratch when a reorg drops an
// envelope. All queue processing runs under one lock, so ticks and
// submissions never interleave halfway.
type EnvelopeHandle struct {
	store      Store
	wallet     btcio.Wallet
	bcast      btcio.Broadcaster
	params     *params.Params
	revealPriv *btcec.PrivateKey

	finalityDepth uint64
	pollInterval  time.Duration

	mu sync.Mutex
	// entries below scanFrom are all terminal; ticks skip them
	scanFrom uint64
}

func NewEnvelopeHandle(store Store, wallet btcio.Wallet, bcast btcio.Broadcaster,
	p *params.Params, revealPriv *btcec.PrivateKey, pollInterval time.Duration,
) *EnvelopeHandle {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	depth := uint64(p.L1ReorgSafeDepth)
	if depth == 0 {
		depth = 6
	}
	return &EnvelopeHandle{
		store:         store,
		wallet:        wallet,
		bcast:         bcast,
		params:        p,
		revealPriv:    revealPriv,
		finalityDepth: depth,
		pollInterval:  pollInterval,
	}
}

// SubmitIntent queues a payload for posting and returns its queue
// index. A duplicate of an already-queued intent returns the existing
// index with queued=false.
func (h *EnvelopeHandle) SubmitIntent(intent *PayloadIntent) (uint64, bool, error) {
	hash := intent.Hash()
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx, ok, err := h.store.GetIntentIdx(hash); err != nil {
		return 0, false, err
	} else if ok {
		log.Debug(log.WriterMonitoring, "duplicate payload intent", "idx", idx, "dest", intent.Dest)
		return idx, false, nil
	}

	idx, err := h.store.GetNextPayloadIdx()
	if err != nil {
		return 0, false, err
	}
	if err := h.store.PutPayloadEntry(idx, NewPayloadEntry(intent)); err != nil {
		return 0, false, err
	}
	if err := h.store.PutIntentIdx(hash, idx); err != nil {
		return 0, false, err
	}
	log.Info(log.WriterMonitoring, "payload intent queued",
		"idx", idx, "dest", intent.Dest, "size", len(intent.Payload))
	return idx, true, nil
}

// CancelEntry marks an entry Excluded. Only finalized entries refuse.
func (h *EnvelopeHandle) CancelEntry(idx uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, err := h.store.GetPayloadEntry(idx)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("writer: no payload entry %d", idx)
	}
	return h.setStatus(idx, entry, StatusExcluded)
}

// GetEntry exposes queue entries to RPC.
func (h *EnvelopeHandle) GetEntry(idx uint64) (*PayloadEntry, error) {
	return h.store.GetPayloadEntry(idx)
}

// Run processes the queue until ctx is done.
func (h *EnvelopeHandle) Run(ctx context.Context) {
	log.Info(log.WriterMonitoring, "envelope writer started",
		"finality_depth", h.finalityDepth, "poll", h.pollInterval)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.WriterMonitoring, "envelope writer stopped")
			return
		case <-ticker.C:
			h.process(ctx)
		}
	}
}

// process advances every live entry at most one stage. Per-entry
// failures are logged and retried next tick; they never stall the rest
// of the queue.
func (h *EnvelopeHandle) process(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := h.store.GetNextPayloadIdx()
	if err != nil {
		log.Error(log.WriterMonitoring, "queue scan failed", "err", err)
		return
	}
	for idx := h.scanFrom; idx < next; idx++ {
		entry, err := h.store.GetPayloadEntry(idx)
		if err != nil {
			log.Error(log.WriterMonitoring, "queue read failed", "idx", idx, "err", err)
			return
		}
		if entry == nil {
			continue
		}
		if entry.Status == StatusFinalized || entry.Status == StatusExcluded {
			if idx == h.scanFrom {
				h.scanFrom++
			}
			continue
		}
		if err := h.advance(ctx, idx, entry); err != nil {
			log.Warn(log.WriterMonitoring, "entry stage failed, will retry",
				"idx", idx, "status", entry.Status, "err", err)
		}
	}
}

func (h *EnvelopeHandle) advance(ctx context.Context, idx uint64, entry *PayloadEntry) error {
	switch entry.Status {
	case StatusUnsigned:
		return h.signEntry(ctx, idx, entry)
	case StatusUnpublished:
		return h.publishEntry(ctx, idx, entry)
	case StatusPublished, StatusConfirmed:
		return h.watchEntry(ctx, idx, entry)
	default:
		return nil
	}
}

func (h *EnvelopeHandle) setStatus(idx uint64, entry *PayloadEntry, to PayloadEntryStatus) error {
	if !statusTransitionAllowed(entry.Status, to) {
		return &StatusTransitionError{Idx: idx, From: entry.Status, To: to}
	}
	entry.Status = to
	return h.store.PutPayloadEntry(idx, entry)
}

// signEntry builds and signs the commit/reveal pair for an unsigned
// entry. The commit funds a taproot output committing to the envelope
// leaf; the reveal spends it by script path, exposing the payload in
// its witness.
func (h *EnvelopeHandle) signEntry(ctx context.Context, idx uint64, entry *PayloadEntry) error {
	tag := envelopeTag(h.params.MagicBytes(), entry.Dest)
	script, err := BuildEnvelopeScript(tag, entry.Payload, h.revealPriv.PubKey())
	if err != nil {
		return err
	}
	commitAddr, err := EnvelopeAddr(h.params.NetParams(), script)
	if err != nil {
		return err
	}
	commitPkScript, err := bridge.TaprootPkScript(commitAddr)
	if err != nil {
		return err
	}

	feeRate, err := h.wallet.EstimateFee(ctx, 1)
	if err != nil {
		return err
	}
	if feeRate == 0 {
		feeRate = 1
	}
	revealFee := int64(feeRate) * estimateRevealVSize(len(script))
	commitValue := revealFee + dustLimit

	utxos, err := h.wallet.GetUtxos(ctx)
	if err != nil {
		return err
	}
	var selected []btcio.Utxo
	var total int64
	commitFee := func(outs int) int64 {
		return int64(feeRate) * estimateCommitVSize(len(selected), outs)
	}
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Amount
		if total >= commitValue+commitFee(2) {
			break
		}
	}
	if total < commitValue+commitFee(1) {
		return fmt.Errorf("writer: insufficient funds: have %d sats, need %d",
			total, commitValue+commitFee(1))
	}

	changeAddr, err := h.wallet.GetNewAddress(ctx)
	if err != nil {
		return err
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return err
	}

	commit := wire.NewMsgTx(wire.TxVersion)
	for _, u := range selected {
		op := u.OutPoint
		commit.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	commit.AddTxOut(wire.NewTxOut(commitValue, commitPkScript))
	if change := total - commitValue - commitFee(2); change >= dustLimit {
		commit.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	signedCommit, err := h.wallet.SignRawTx(ctx, commit)
	if err != nil {
		return err
	}
	// segwit txids exclude witnesses, so wallet signing cannot disturb
	// the reveal's input reference
	commitTxid := signedCommit.TxHash()

	reveal := wire.NewMsgTx(wire.TxVersion)
	reveal.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: commitTxid, Index: 0}, nil, nil))
	reveal.AddTxOut(wire.NewTxOut(dustLimit, changeScript))
	witness, err := envelopeWitness(reveal, signedCommit.TxOut[0], script, h.revealPriv)
	if err != nil {
		return err
	}
	reveal.TxIn[0].Witness = witness

	rawCommit, err := serializeTx(signedCommit)
	if err != nil {
		return err
	}
	rawReveal, err := serializeTx(reveal)
	if err != nil {
		return err
	}
	entry.CommitTx = rawCommit
	entry.RevealTx = rawReveal
	entry.CommitTxid = l1.L1TxIdFromHash(commitTxid)
	entry.RevealTxid = l1.L1TxIdFromHash(reveal.TxHash())

	log.Info(log.WriterMonitoring, "envelope signed", "idx", idx, "dest", entry.Dest,
		"payload_size", len(entry.Payload), "commit", entry.CommitTxid.String(),
		"reveal", entry.RevealTxid.String())
	return h.setStatus(idx, entry, StatusUnpublished)
}

func (h *EnvelopeHandle) publishEntry(ctx context.Context, idx uint64, entry *PayloadEntry) error {
	commit, err := deserializeTx(entry.CommitTx)
	if err != nil {
		return err
	}
	reveal, err := deserializeTx(entry.RevealTx)
	if err != nil {
		return err
	}
	if _, err := h.bcast.BroadcastTx(ctx, commit); err != nil {
		return err
	}
	if _, err := h.bcast.BroadcastTx(ctx, reveal); err != nil {
		return err
	}
	log.Info(log.WriterMonitoring, "envelope published", "idx", idx,
		"reveal", entry.RevealTxid.String())
	return h.setStatus(idx, entry, StatusPublished)
}

// watchEntry tracks the reveal tx. Depth milestones move the entry
// forward; a tx the chain no longer knows moves it back to Unsigned
// for a fresh signing round.
func (h *EnvelopeHandle) watchEntry(ctx context.Context, idx uint64, entry *PayloadEntry) error {
	confs, err := h.bcast.GetTxConfirmations(ctx, entry.RevealTxid)
	if err != nil {
		if errors.Is(err, btcio.ErrNotFound) {
			log.Warn(log.WriterMonitoring, "envelope lost to reorg, resigning",
				"idx", idx, "reveal", entry.RevealTxid.String())
			entry.clearTxs()
			return h.setStatus(idx, entry, StatusUnsigned)
		}
		return err
	}
	if confs == 0 {
		return nil
	}
	if entry.Status == StatusPublished {
		if err := h.setStatus(idx, entry, StatusConfirmed); err != nil {
			return err
		}
		log.Info(log.WriterMonitoring, "envelope confirmed", "idx", idx, "confs", confs)
	}
	if entry.Status == StatusConfirmed && confs >= h.finalityDepth {
		if err := h.setStatus(idx, entry, StatusFinalized); err != nil {
			return err
		}
		log.Info(log.WriterMonitoring, "envelope finalized", "idx", idx, "confs", confs)
	}
	return nil
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
