package bridge

import (
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

// TxStateStore persists signing states by txid. Lookups return
// (nil, nil) when no state exists.
type TxStateStore interface {
	GetTxState(txid l1.L1TxId) (*BridgeTxState, error)
	PutTxState(txid l1.L1TxId, state *BridgeTxState) error
	DeleteTxState(txid l1.L1TxId) error
}

// SignatureManager drives MuSig2 rounds for this operator across all
// in-flight bridge transactions. One coarse lock guards everything;
// entries are small and the real latency sits in signing and message
// round-trips, not here. States live in the store so a restart resumes
// half-collected rounds instead of burning them.
type SignatureManager struct {
	mu     sync.Mutex
	store  TxStateStore
	priv   *btcec.PrivateKey
	ownIdx types.OperatorIdx
}

func NewSignatureManager(store TxStateStore, priv *btcec.PrivateKey, ownIdx types.OperatorIdx) *SignatureManager {
	return &SignatureManager{store: store, priv: priv, ownIdx: ownIdx}
}

func (m *SignatureManager) OwnIdx() types.OperatorIdx {
	return m.ownIdx
}

// CreateTxState registers a transaction for signing and returns our
// public nonce for broadcast. Calling it again for a known txid hands
// back the already-generated nonce; regenerating after the first nonce
// left this process would fork the signing session.
func (m *SignatureManager) CreateTxState(tx *wire.MsgTx, inputIdx uint32,
	prevouts []*wire.TxOut, table *PublickeyTable,
) (l1.L1TxId, Musig2PubNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txid := l1.L1TxIdFromHash(tx.TxHash())
	existing, err := m.store.GetTxState(txid)
	if err != nil {
		return txid, Musig2PubNonce{}, err
	}
	if existing != nil {
		log.Debug(log.BridgeMonitoring, "signing state already exists", "txid", txid.String())
		return txid, existing.OwnPubNonce(), nil
	}

	state, err := NewBridgeTxState(tx, inputIdx, prevouts, table, m.ownIdx, m.priv)
	if err != nil {
		return txid, Musig2PubNonce{}, err
	}
	if err := m.store.PutTxState(txid, state); err != nil {
		return txid, Musig2PubNonce{}, err
	}
	log.Info(log.BridgeMonitoring, "created signing state",
		"txid", txid.String(), "operators", table.Len())
	return txid, state.OwnPubNonce(), nil
}

func (m *SignatureManager) getState(txid l1.L1TxId) (*BridgeTxState, error) {
	state, err := m.store.GetTxState(txid)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, &UnknownTxError{Txid: txid}
	}
	return state, nil
}

// AddNonce records another operator's public nonce, returning true once
// the nonce set is complete.
func (m *SignatureManager) AddNonce(txid l1.L1TxId, idx types.OperatorIdx, nonce Musig2PubNonce) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return false, err
	}
	complete, err := state.AddPubNonce(idx, nonce)
	if err != nil {
		return false, err
	}
	if err := m.store.PutTxState(txid, state); err != nil {
		return false, err
	}
	if complete {
		log.Info(log.BridgeMonitoring, "nonce set complete", "txid", txid.String())
	}
	return complete, nil
}

func (m *SignatureManager) GetOwnNonce(txid l1.L1TxId) (Musig2PubNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return Musig2PubNonce{}, err
	}
	return state.OwnPubNonce(), nil
}

func (m *SignatureManager) GetAggNonce(txid l1.L1TxId) (Musig2PubNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return Musig2PubNonce{}, err
	}
	return state.AggNonce()
}

// SignPartial produces and stores our partial signature for broadcast.
func (m *SignatureManager) SignPartial(txid l1.L1TxId) (Musig2PartialSig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return Musig2PartialSig{}, err
	}
	sig, err := state.Sign(m.priv)
	if err != nil {
		return Musig2PartialSig{}, err
	}
	if err := m.store.PutTxState(txid, state); err != nil {
		return Musig2PartialSig{}, err
	}
	log.Info(log.BridgeMonitoring, "produced partial signature", "txid", txid.String())
	return sig, nil
}

// AddPartialSig verifies and records another operator's partial
// signature.
func (m *SignatureManager) AddPartialSig(txid l1.L1TxId, idx types.OperatorIdx, sig Musig2PartialSig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return err
	}
	if err := state.AddPartialSig(idx, sig); err != nil {
		return err
	}
	if err := m.store.PutTxState(txid, state); err != nil {
		return err
	}
	log.Debug(log.BridgeMonitoring, "recorded partial signature",
		"txid", txid.String(), "operator", uint32(idx))
	return nil
}

// CombineIfComplete assembles the final signature when every partial is
// in. Missing partials are not an error; the caller polls as messages
// arrive.
func (m *SignatureManager) CombineIfComplete(txid l1.L1TxId) (*schnorr.Signature, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return nil, false, err
	}
	if !state.SigsComplete() {
		return nil, false, nil
	}
	sig, err := state.CombineSigs()
	if err != nil {
		return nil, false, err
	}
	return sig, true, nil
}

// FinalizedTx returns the transaction with the aggregate signature
// attached as the key-path witness, ready for broadcast.
func (m *SignatureManager) FinalizedTx(txid l1.L1TxId) (*wire.MsgTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.getState(txid)
	if err != nil {
		return nil, err
	}
	sig, err := state.CombineSigs()
	if err != nil {
		return nil, err
	}
	tx := state.UnsignedTx()
	tx.TxIn[state.inputIdx].Witness = wire.TxWitness{sig.Serialize()}
	log.Info(log.BridgeMonitoring, "finalized bridge tx", "txid", txid.String())
	return tx, nil
}

// DropTxState discards a signing state, typically after the finalized
// tx confirmed on L1.
func (m *SignatureManager) DropTxState(txid l1.L1TxId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.DeleteTxState(txid)
}
