package writer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/btcio"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/params"
)

type memStore struct {
	entries map[uint64]*PayloadEntry
	intents map[common.Hash]uint64
	next    uint64
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[uint64]*PayloadEntry),
		intents: make(map[common.Hash]uint64),
	}
}

func (s *memStore) GetNextPayloadIdx() (uint64, error) {
	return s.next, nil
}

func (s *memStore) GetPayloadEntry(idx uint64) (*PayloadEntry, error) {
	entry, ok := s.entries[idx]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (s *memStore) PutPayloadEntry(idx uint64, entry *PayloadEntry) error {
	clone := *entry
	s.entries[idx] = &clone
	if idx >= s.next {
		s.next = idx + 1
	}
	return nil
}

func (s *memStore) GetIntentIdx(intent common.Hash) (uint64, bool, error) {
	idx, ok := s.intents[intent]
	return idx, ok, nil
}

func (s *memStore) PutIntentIdx(intent common.Hash, idx uint64) error {
	s.intents[intent] = idx
	return nil
}

func testWriterParams() *params.Params {
	return &params.Params{
		RollupName:            "alpn",
		BlockTimeMs:           1000,
		HorizonL1Height:       5,
		GenesisL1Height:       8,
		L1ReorgSafeDepth:      3,
		TargetL2BatchSize:     64,
		DepositAmount:         1_000_000_000,
		DispatchAssignmentDur: 64,
		MaxDepositsInBlock:    16,
		Network:               "regtest",
	}
}

func newTestHandle(t *testing.T) (*EnvelopeHandle, *memStore, *btcio.FakeChain) {
	t.Helper()
	chain := btcio.NewFakeChain(&chaincfg.RegressionNetParams)
	chain.AddUtxo(1_000_000)
	store := newMemStore()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x77}, 32))
	h := NewEnvelopeHandle(store, chain, chain, testWriterParams(), priv, time.Second)
	return h, store, chain
}

func requireEntryStatus(t *testing.T, store *memStore, idx uint64, want PayloadEntryStatus) *PayloadEntry {
	t.Helper()
	entry, err := store.GetPayloadEntry(idx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, want, entry.Status)
	return entry
}

func TestStatusTransitionTable(t *testing.T) {
	all := []PayloadEntryStatus{
		StatusUnsigned, StatusUnpublished, StatusPublished,
		StatusConfirmed, StatusFinalized, StatusExcluded,
	}
	type pair struct{ from, to PayloadEntryStatus }
	allowed := map[pair]bool{
		{StatusUnsigned, StatusUnpublished}:  true,
		{StatusUnpublished, StatusPublished}: true,
		{StatusPublished, StatusConfirmed}:   true,
		{StatusPublished, StatusUnsigned}:    true,
		{StatusConfirmed, StatusFinalized}:   true,
		{StatusConfirmed, StatusUnsigned}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[pair{from, to}] || (to == StatusExcluded && from != StatusFinalized)
			assert.Equal(t, want, statusTransitionAllowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestEnvelopeScriptRoundTrip(t *testing.T) {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x66}, 32))
	magic := []byte("alpn")

	t.Run("small", func(t *testing.T) {
		payload := []byte("checkpoint body")
		script, err := BuildEnvelopeScript(magic, payload, priv.PubKey())
		require.NoError(t, err)
		got, err := l1.ParseEnvelopePayloads(script, magic)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, payload, got[0])
	})

	t.Run("chunked", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0xab}, 1500) // forces three pushes
		script, err := BuildEnvelopeScript(magic, payload, priv.PubKey())
		require.NoError(t, err)
		got, err := l1.ParseEnvelopePayloads(script, magic)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, payload, got[0])
	})

	t.Run("foreign magic invisible", func(t *testing.T) {
		script, err := BuildEnvelopeScript([]byte("alpnda"), []byte("blob"), priv.PubKey())
		require.NoError(t, err)
		got, err := l1.ParseEnvelopePayloads(script, magic)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSubmitIntentDedup(t *testing.T) {
	h, store, _ := newTestHandle(t)

	intent := &PayloadIntent{Dest: DestCheckpoint, Payload: []byte("epoch 3")}
	idx, queued, err := h.SubmitIntent(intent)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, uint64(0), idx)

	idx, queued, err = h.SubmitIntent(intent)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, uint64(0), idx)

	other := &PayloadIntent{Dest: DestDA, Payload: []byte("epoch 3")}
	idx, queued, err = h.SubmitIntent(other)
	require.NoError(t, err)
	assert.True(t, queued, "same payload to another dest is a distinct intent")
	assert.Equal(t, uint64(1), idx)

	requireEntryStatus(t, store, 0, StatusUnsigned)
	requireEntryStatus(t, store, 1, StatusUnsigned)
}

func TestEnvelopeLifecycle(t *testing.T) {
	h, store, chain := newTestHandle(t)
	ctx := context.Background()

	payload := []byte("signed checkpoint for epoch 7")
	_, _, err := h.SubmitIntent(&PayloadIntent{Dest: DestCheckpoint, Payload: payload})
	require.NoError(t, err)

	h.process(ctx)
	entry := requireEntryStatus(t, store, 0, StatusUnpublished)
	require.NotEmpty(t, entry.CommitTx)
	require.NotEmpty(t, entry.RevealTx)
	assert.NotEqual(t, l1.L1TxId{}, entry.CommitTxid)
	assert.NotEqual(t, l1.L1TxId{}, entry.RevealTxid)

	// the reveal witness carries a parseable envelope with our payload
	reveal, err := deserializeTx(entry.RevealTx)
	require.NoError(t, err)
	require.Len(t, reveal.TxIn, 1)
	require.Len(t, reveal.TxIn[0].Witness, 3)
	payloads, err := l1.ParseEnvelopePayloads(reveal.TxIn[0].Witness[1], []byte("alpn"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, payload, payloads[0])

	// the reveal spends commit output 0
	commit, err := deserializeTx(entry.CommitTx)
	require.NoError(t, err)
	assert.Equal(t, commit.TxHash(), reveal.TxIn[0].PreviousOutPoint.Hash)
	assert.Equal(t, uint32(0), reveal.TxIn[0].PreviousOutPoint.Index)
	require.NotEmpty(t, commit.TxOut)
	assert.Greater(t, commit.TxOut[0].Value, int64(dustLimit))

	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusPublished)
	confs, err := chain.GetTxConfirmations(ctx, entry.RevealTxid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), confs)

	// nothing mined yet: stays published
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusPublished)

	chain.MineMempool()
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusConfirmed)

	// depth 3 needed for finality
	chain.ExtendN(2)
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusFinalized)

	// finalized entries leave the scan window
	h.process(ctx)
	assert.Equal(t, uint64(1), h.scanFrom)
}

func TestEnvelopeReorgResign(t *testing.T) {
	h, store, chain := newTestHandle(t)
	ctx := context.Background()

	_, _, err := h.SubmitIntent(&PayloadIntent{Dest: DestCheckpoint, Payload: []byte("doomed")})
	require.NoError(t, err)

	h.process(ctx) // sign
	h.process(ctx) // publish
	chain.MineMempool()
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusConfirmed)

	// drop the inclusion block; the chain forgets the envelope
	tip, _ := chain.Tip()
	chain.ReorgFrom(tip, 2)

	h.process(ctx)
	entry := requireEntryStatus(t, store, 0, StatusUnsigned)
	assert.Empty(t, entry.CommitTx)
	assert.Empty(t, entry.RevealTx)
	assert.Equal(t, l1.L1TxId{}, entry.RevealTxid)

	// the queue re-signs and re-lands the same payload
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusUnpublished)
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusPublished)
	chain.MineMempool()
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusConfirmed)
}

func TestCancelEntry(t *testing.T) {
	h, store, chain := newTestHandle(t)
	ctx := context.Background()

	_, _, err := h.SubmitIntent(&PayloadIntent{Dest: DestDA, Payload: []byte("stale blob")})
	require.NoError(t, err)
	require.NoError(t, h.CancelEntry(0))
	requireEntryStatus(t, store, 0, StatusExcluded)

	// excluded entries are never processed
	h.process(ctx)
	entry := requireEntryStatus(t, store, 0, StatusExcluded)
	assert.Empty(t, entry.CommitTx)

	// finalized entries cannot be cancelled
	_, _, err = h.SubmitIntent(&PayloadIntent{Dest: DestCheckpoint, Payload: []byte("landed")})
	require.NoError(t, err)
	h.process(ctx)
	h.process(ctx)
	chain.MineMempool()
	h.process(ctx)
	chain.ExtendN(2)
	h.process(ctx)
	requireEntryStatus(t, store, 1, StatusFinalized)

	err = h.CancelEntry(1)
	var terr *StatusTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusFinalized, terr.From)
	assert.Equal(t, StatusExcluded, terr.To)
}

func TestSignRetriesOnEmptyWallet(t *testing.T) {
	chain := btcio.NewFakeChain(&chaincfg.RegressionNetParams)
	store := newMemStore()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x78}, 32))
	h := NewEnvelopeHandle(store, chain, chain, testWriterParams(), priv, time.Second)
	ctx := context.Background()

	_, _, err := h.SubmitIntent(&PayloadIntent{Dest: DestCheckpoint, Payload: []byte("waiting for funds")})
	require.NoError(t, err)

	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusUnsigned)

	chain.AddUtxo(500_000)
	h.process(ctx)
	requireEntryStatus(t, store, 0, StatusUnpublished)
}
