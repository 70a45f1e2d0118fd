package bridge

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

// ScopeKind tags what a relay message is about.
type ScopeKind uint8

const (
	// ScopeMisc is free-form traffic outside the deposit/withdrawal
	// signing flows.
	ScopeMisc ScopeKind = iota
	ScopeV0Deposit
	ScopeV0Withdrawal
)

// MessageScope narrows a message to one deposit or withdrawal signing
// session.
type MessageScope struct {
	Kind ScopeKind
	Idx  uint32
}

func (s MessageScope) Encode() []byte {
	if s.Kind == ScopeMisc {
		return []byte{byte(ScopeMisc)}
	}
	out := make([]byte, 5)
	out[0] = byte(s.Kind)
	binary.BigEndian.PutUint32(out[1:], s.Idx)
	return out
}

func DecodeScope(b []byte) (MessageScope, error) {
	if len(b) == 0 {
		return MessageScope{}, fmt.Errorf("bridge: empty message scope")
	}
	switch ScopeKind(b[0]) {
	case ScopeMisc:
		if len(b) != 1 {
			return MessageScope{}, fmt.Errorf("bridge: misc scope must be 1 byte, got %d", len(b))
		}
		return MessageScope{Kind: ScopeMisc}, nil
	case ScopeV0Deposit, ScopeV0Withdrawal:
		if len(b) != 5 {
			return MessageScope{}, fmt.Errorf("bridge: indexed scope must be 5 bytes, got %d", len(b))
		}
		return MessageScope{Kind: ScopeKind(b[0]), Idx: binary.BigEndian.Uint32(b[1:])}, nil
	default:
		return MessageScope{}, fmt.Errorf("bridge: unknown scope kind %d", b[0])
	}
}

func (s MessageScope) String() string {
	switch s.Kind {
	case ScopeMisc:
		return "misc"
	case ScopeV0Deposit:
		return fmt.Sprintf("deposit(%d)", s.Idx)
	case ScopeV0Withdrawal:
		return fmt.Sprintf("withdrawal(%d)", s.Idx)
	default:
		return fmt.Sprintf("scope(%d)", s.Kind)
	}
}

// BridgeMessage is one piece of signed operator gossip: nonces, partial
// signatures, or misc traffic, addressed by scope.
type BridgeMessage struct {
	SourceID uint32           `json:"source_id"`
	Sig      types.SchnorrSig `json:"sig"`
	Scope    common.HexBytes  `json:"scope"`
	Payload  common.HexBytes  `json:"payload"`
}

func (m *BridgeMessage) encodeBody(buf *bytes.Buffer) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], m.SourceID)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:], uint32(len(m.Scope)))
	buf.Write(scratch[:])
	buf.Write(m.Scope)
	binary.BigEndian.PutUint32(scratch[:], uint32(len(m.Payload)))
	buf.Write(scratch[:])
	buf.Write(m.Payload)
}

// SigHash is what the source operator signs: everything but the
// signature itself.
func (m *BridgeMessage) SigHash() common.Hash {
	var buf bytes.Buffer
	m.encodeBody(&buf)
	return common.Hash(sha256.Sum256(buf.Bytes()))
}

// Digest identifies the full message for dedup, signature included, so
// a re-signed copy is not mistaken for a replay.
func (m *BridgeMessage) Digest() common.Hash {
	var buf bytes.Buffer
	m.encodeBody(&buf)
	buf.Write(m.Sig[:])
	return common.Hash(sha256.Sum256(buf.Bytes()))
}

// SignMessage builds and signs a relay message with the operator's
// message key.
func SignMessage(priv *btcec.PrivateKey, sourceID uint32, scope MessageScope, payload []byte) (*BridgeMessage, error) {
	msg := &BridgeMessage{
		SourceID: sourceID,
		Scope:    scope.Encode(),
		Payload:  append(common.HexBytes(nil), payload...),
	}
	hash := msg.SigHash()
	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		return nil, fmt.Errorf("bridge: message sign: %w", err)
	}
	copy(msg.Sig[:], sig.Serialize())
	return msg, nil
}

// RelayerConfig tunes the relay loop.
type RelayerConfig struct {
	// RefreshInterval bounds the dedup window; digests older than this
	// are pruned and would be relayed again.
	RefreshInterval time.Duration

	// AllowMiscRelay passes misc-scope messages through without an
	// operator-set signature check. Deposit and withdrawal scopes are
	// always checked.
	AllowMiscRelay bool

	// BufferSize is the channel depth for intake and subscribers.
	BufferSize int
}

// MessageRelayer validates and fans out operator gossip. Processing is
// a single goroutine; a message is checked once, deduped by digest, and
// delivered to every subscriber without blocking on slow ones.
type MessageRelayer struct {
	mu    sync.Mutex
	cfg   RelayerConfig
	table *PublickeyTable

	seen map[common.Hash]time.Time
	subs []chan *BridgeMessage

	in   chan *BridgeMessage
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMessageRelayer wires a relayer over the operators' message keys.
func NewMessageRelayer(table *PublickeyTable, cfg RelayerConfig) *MessageRelayer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Minute
	}
	return &MessageRelayer{
		cfg:   cfg,
		table: table,
		seen:  make(map[common.Hash]time.Time),
		in:    make(chan *BridgeMessage, cfg.BufferSize),
		quit:  make(chan struct{}),
	}
}

func (r *MessageRelayer) Start() {
	r.wg.Add(1)
	go r.loop()
	log.Info(log.RelayMonitoring, "message relayer started",
		"operators", r.table.Len(), "relay_misc", r.cfg.AllowMiscRelay)
}

func (r *MessageRelayer) Stop() {
	close(r.quit)
	r.wg.Wait()
}

// SubmitMessage queues a message for validation and relay. Drops the
// message if the relayer is stopped.
func (r *MessageRelayer) SubmitMessage(msg *BridgeMessage) {
	select {
	case r.in <- msg:
	case <-r.quit:
	}
}

// Subscribe returns a channel of validated messages. Subscribers that
// fall behind miss messages rather than stalling the relay.
func (r *MessageRelayer) Subscribe() <-chan *BridgeMessage {
	ch := make(chan *BridgeMessage, r.cfg.BufferSize)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *MessageRelayer) loop() {
	defer r.wg.Done()
	prune := time.NewTicker(r.cfg.RefreshInterval)
	defer prune.Stop()

	for {
		select {
		case msg := <-r.in:
			r.processMessage(msg)
		case <-prune.C:
			r.pruneSeen()
		case <-r.quit:
			return
		}
	}
}

func (r *MessageRelayer) processMessage(msg *BridgeMessage) {
	digest := msg.Digest()

	r.mu.Lock()
	_, dup := r.seen[digest]
	r.mu.Unlock()
	if dup {
		log.Debug(log.RelayMonitoring, "dropping duplicate message", "digest", digest.String_short())
		return
	}

	scope, err := DecodeScope(msg.Scope)
	if err != nil {
		log.Warn(log.RelayMonitoring, "dropping message with bad scope", "err", err)
		return
	}

	if scope.Kind != ScopeMisc || !r.cfg.AllowMiscRelay {
		key, ok := r.table.Get(types.OperatorIdx(msg.SourceID))
		if !ok {
			log.Warn(log.RelayMonitoring, "dropping message from unknown operator",
				"source", msg.SourceID, "scope", scope.String())
			return
		}
		sig, err := schnorr.ParseSignature(msg.Sig[:])
		if err != nil {
			log.Warn(log.RelayMonitoring, "dropping message with malformed signature",
				"source", msg.SourceID, "err", err)
			return
		}
		hash := msg.SigHash()
		if !sig.Verify(hash[:], key) {
			log.Warn(log.RelayMonitoring, "dropping message with bad signature",
				"source", msg.SourceID, "scope", scope.String())
			return
		}
	}

	r.mu.Lock()
	r.seen[digest] = time.Now()
	subs := append([]chan *BridgeMessage(nil), r.subs...)
	r.mu.Unlock()

	log.Debug(log.RelayMonitoring, "relaying message",
		"source", msg.SourceID, "scope", scope.String())
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Warn(log.RelayMonitoring, "subscriber lagging, message dropped",
				"scope", scope.String())
		}
	}
}

func (r *MessageRelayer) pruneSeen() {
	cutoff := time.Now().Add(-r.cfg.RefreshInterval)
	r.mu.Lock()
	for digest, at := range r.seen {
		if at.Before(cutoff) {
			delete(r.seen, digest)
		}
	}
	n := len(r.seen)
	r.mu.Unlock()
	log.Trace(log.RelayMonitoring, "pruned dedup window", "live", n)
}
