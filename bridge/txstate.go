package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/types"
)

// Musig2PubNonce is the 66-byte two-point public nonce an operator
// publishes per transaction.
type Musig2PubNonce [musig2.PubNonceSize]byte

func (n Musig2PubNonce) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.HexString(n[:]))
}

func (n *Musig2PubNonce) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	raw := common.FromHex(hexStr)
	if len(raw) != musig2.PubNonceSize {
		return fmt.Errorf("pub nonce must be %d bytes, got %d", musig2.PubNonceSize, len(raw))
	}
	copy(n[:], raw)
	return nil
}

// Musig2PartialSig is the 32-byte s value of one operator's partial
// signature.
type Musig2PartialSig [32]byte

func (s Musig2PartialSig) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.HexString(s[:]))
}

func (s *Musig2PartialSig) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	raw := common.FromHex(hexStr)
	if len(raw) != 32 {
		return fmt.Errorf("partial sig must be 32 bytes, got %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// BridgeTxState carries one transaction through the two MuSig2 rounds:
// collect everybody's public nonce, then collect everybody's partial
// signature. The aggregate nonce is a latch. It is computed exactly
// once, at the instant the last nonce arrives, and nothing after that
// point may accept further nonces; re-aggregating after signing started
// would invalidate every partial already produced.
type BridgeTxState struct {
	unsignedTx *wire.MsgTx
	prevouts   []*wire.TxOut
	inputIdx   uint32

	pkTable *PublickeyTable
	ownIdx  types.OperatorIdx

	secNonce    [musig2.SecNonceSize]byte
	pubNonces   map[types.OperatorIdx]Musig2PubNonce
	aggNonce    *Musig2PubNonce
	partialSigs map[types.OperatorIdx]Musig2PartialSig

	// finalR is the combined nonce point fixed by our own signing
	// round; CombineSigs needs it to assemble the final signature.
	finalR *btcec.PublicKey
	signed bool
}

// NewBridgeTxState seeds the signing state for an unsigned transaction
// and generates this operator's nonce pair. The secret nonce is bound
// to the signing key, the sighash and the aggregated pubkey, so a state
// accidentally rebuilt for a different tx cannot reuse it.
func NewBridgeTxState(tx *wire.MsgTx, inputIdx uint32, prevouts []*wire.TxOut,
	table *PublickeyTable, ownIdx types.OperatorIdx, priv *btcec.PrivateKey,
) (*BridgeTxState, error) {
	if int(inputIdx) >= len(tx.TxIn) {
		return nil, fmt.Errorf("bridge: input %d out of range (%d inputs)", inputIdx, len(tx.TxIn))
	}
	if len(prevouts) != len(tx.TxIn) {
		return nil, fmt.Errorf("bridge: %d prevouts for %d inputs", len(prevouts), len(tx.TxIn))
	}
	ownKey, ok := table.Get(ownIdx)
	if !ok {
		return nil, &UnauthorizedPubkeyError{Idx: ownIdx}
	}
	if !bytes.Equal(schnorr.SerializePubKey(ownKey), schnorr.SerializePubKey(priv.PubKey())) {
		return nil, fmt.Errorf("bridge: private key does not match table entry for operator %d", ownIdx)
	}

	s := &BridgeTxState{
		unsignedTx:  tx.Copy(),
		prevouts:    prevouts,
		inputIdx:    inputIdx,
		pkTable:     table,
		ownIdx:      ownIdx,
		pubNonces:   make(map[types.OperatorIdx]Musig2PubNonce),
		partialSigs: make(map[types.OperatorIdx]Musig2PartialSig),
	}

	msg, err := s.SigHash()
	if err != nil {
		return nil, err
	}
	aggKey, err := table.AggregateKey()
	if err != nil {
		return nil, err
	}
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(priv.PubKey()),
		musig2.WithNonceSecretKeyAux(priv),
		musig2.WithNonceCombinedKeyAux(aggKey),
		musig2.WithNonceMessageAux(msg),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: nonce generation: %w", err)
	}
	s.secNonce = nonces.SecNonce
	s.pubNonces[ownIdx] = Musig2PubNonce(nonces.PubNonce)
	return s, nil
}

func (s *BridgeTxState) Txid() l1.L1TxId {
	return l1.L1TxIdFromHash(s.unsignedTx.TxHash())
}

func (s *BridgeTxState) UnsignedTx() *wire.MsgTx {
	return s.unsignedTx.Copy()
}

func (s *BridgeTxState) PkTable() *PublickeyTable {
	return s.pkTable
}

func (s *BridgeTxState) OwnPubNonce() Musig2PubNonce {
	return s.pubNonces[s.ownIdx]
}

// SigHash is the BIP 341 key-path sighash of the signed input, the
// message every nonce and partial signature commits to.
func (s *BridgeTxState) SigHash() ([32]byte, error) {
	var msg [32]byte
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, po := range s.prevouts {
		fetcher.AddPrevOut(s.unsignedTx.TxIn[i].PreviousOutPoint, po)
	}
	sigHashes := txscript.NewTxSigHashes(s.unsignedTx, fetcher)
	raw, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, s.unsignedTx, int(s.inputIdx), fetcher)
	if err != nil {
		return msg, fmt.Errorf("bridge: sighash: %w", err)
	}
	copy(msg[:], raw)
	return msg, nil
}

// AddPubNonce records an operator's public nonce. Returns true once the
// set is complete and the aggregate nonce has been fixed. Nonces
// arriving after the latch fired are accepted only if identical to what
// was already recorded.
func (s *BridgeTxState) AddPubNonce(idx types.OperatorIdx, nonce Musig2PubNonce) (bool, error) {
	if !s.pkTable.Contains(idx) {
		return false, &UnauthorizedPubkeyError{Idx: idx}
	}
	if prev, ok := s.pubNonces[idx]; ok {
		if prev != nonce {
			return false, fmt.Errorf("bridge: conflicting pub nonce from operator %d", idx)
		}
		return s.aggNonce != nil, nil
	}
	if s.aggNonce != nil {
		return false, fmt.Errorf("bridge: nonce from operator %d after aggregation", idx)
	}
	s.pubNonces[idx] = nonce

	if len(s.pubNonces) == s.pkTable.Len() {
		ordered, err := s.OrderedNonces()
		if err != nil {
			return false, err
		}
		agg, err := musig2.AggregateNonces(ordered)
		if err != nil {
			return false, fmt.Errorf("bridge: nonce aggregation: %w", err)
		}
		combined := Musig2PubNonce(agg)
		s.aggNonce = &combined
	}
	return s.aggNonce != nil, nil
}

func (s *BridgeTxState) NoncesComplete() bool {
	return s.aggNonce != nil
}

// OrderedNonces returns the collected nonces in table order.
func (s *BridgeTxState) OrderedNonces() ([][musig2.PubNonceSize]byte, error) {
	out := make([][musig2.PubNonceSize]byte, 0, s.pkTable.Len())
	for _, idx := range s.pkTable.Indices() {
		n, ok := s.pubNonces[idx]
		if !ok {
			return nil, &PubNonceNotFoundError{Idx: idx}
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *BridgeTxState) AggNonce() (Musig2PubNonce, error) {
	if s.aggNonce == nil {
		return Musig2PubNonce{}, ErrNoncesIncomplete
	}
	return *s.aggNonce, nil
}

// Sign produces this operator's partial signature. The secret nonce is
// single use: it is wiped here and a second call fails rather than
// leaking the key through nonce reuse.
func (s *BridgeTxState) Sign(priv *btcec.PrivateKey) (Musig2PartialSig, error) {
	var out Musig2PartialSig
	if s.aggNonce == nil {
		return out, ErrNoncesIncomplete
	}
	if s.signed {
		return out, ErrAlreadySigned
	}
	msg, err := s.SigHash()
	if err != nil {
		return out, err
	}
	partial, err := musig2.Sign(s.secNonce, priv, *s.aggNonce, s.pkTable.Keys(), msg)
	if err != nil {
		return out, fmt.Errorf("bridge: partial sign: %w", err)
	}
	s.signed = true
	s.secNonce = [musig2.SecNonceSize]byte{}
	s.finalR = partial.R

	var buf bytes.Buffer
	if err := partial.Encode(&buf); err != nil {
		return out, fmt.Errorf("bridge: partial sig encode: %w", err)
	}
	copy(out[:], buf.Bytes())
	s.partialSigs[s.ownIdx] = out
	return out, nil
}

// AddPartialSig verifies and records another operator's partial
// signature. The three failure modes stay distinguishable: unknown
// operator, operator that never sent a nonce, and a signature that
// simply does not verify.
func (s *BridgeTxState) AddPartialSig(idx types.OperatorIdx, sig Musig2PartialSig) error {
	key, ok := s.pkTable.Get(idx)
	if !ok {
		return &UnauthorizedPubkeyError{Idx: idx}
	}
	pubNonce, ok := s.pubNonces[idx]
	if !ok {
		return &PubNonceNotFoundError{Idx: idx}
	}
	if s.aggNonce == nil {
		return ErrNoncesIncomplete
	}
	msg, err := s.SigHash()
	if err != nil {
		return err
	}

	var partial musig2.PartialSignature
	if err := partial.Decode(bytes.NewReader(sig[:])); err != nil {
		return &InvalidSignatureError{Idx: idx}
	}
	if !partial.Verify(pubNonce, *s.aggNonce, s.pkTable.Keys(), key, msg) {
		return &InvalidSignatureError{Idx: idx}
	}
	s.partialSigs[idx] = sig
	return nil
}

func (s *BridgeTxState) SigsComplete() bool {
	return len(s.partialSigs) == s.pkTable.Len()
}

// CombineSigs assembles the final Schnorr signature once every partial
// is in, and checks it against the aggregate key before handing it out.
func (s *BridgeTxState) CombineSigs() (*schnorr.Signature, error) {
	if !s.SigsComplete() {
		return nil, fmt.Errorf("bridge: %d of %d partial sigs collected",
			len(s.partialSigs), s.pkTable.Len())
	}
	if s.finalR == nil {
		return nil, fmt.Errorf("bridge: own partial signature missing")
	}

	partials := make([]*musig2.PartialSignature, 0, s.pkTable.Len())
	for _, idx := range s.pkTable.Indices() {
		sig := s.partialSigs[idx]
		var partial musig2.PartialSignature
		if err := partial.Decode(bytes.NewReader(sig[:])); err != nil {
			return nil, &InvalidSignatureError{Idx: idx}
		}
		partials = append(partials, &partial)
	}

	final := musig2.CombineSigs(s.finalR, partials)
	msg, err := s.SigHash()
	if err != nil {
		return nil, err
	}
	aggKey, err := s.pkTable.AggregateKey()
	if err != nil {
		return nil, err
	}
	if err := VerifyAggSig(final, aggKey, msg); err != nil {
		return nil, err
	}
	return final, nil
}

// VerifyAggSig checks a combined signature against the x-only form of
// the aggregate key.
func VerifyAggSig(sig *schnorr.Signature, aggKey *btcec.PublicKey, msg [32]byte) error {
	xonly, err := schnorr.ParsePubKey(schnorr.SerializePubKey(aggKey))
	if err != nil {
		return err
	}
	if !sig.Verify(msg[:], xonly) {
		return fmt.Errorf("bridge: combined signature failed verification")
	}
	return nil
}

type prevoutJSON struct {
	Value    int64           `json:"value"`
	PkScript common.HexBytes `json:"pk_script"`
}

type bridgeTxStateJSON struct {
	UnsignedTx  common.HexBytes                       `json:"unsigned_tx"`
	Prevouts    []prevoutJSON                         `json:"prevouts"`
	InputIdx    uint32                                `json:"input_idx"`
	PkTable     *PublickeyTable                       `json:"pk_table"`
	OwnIdx      uint32                                `json:"own_idx"`
	SecNonce    common.HexBytes                       `json:"sec_nonce"`
	PubNonces   map[types.OperatorIdx]Musig2PubNonce  `json:"pub_nonces"`
	AggNonce    *Musig2PubNonce                       `json:"agg_nonce,omitempty"`
	PartialSigs map[types.OperatorIdx]Musig2PartialSig `json:"partial_sigs"`
	FinalR      common.HexBytes                       `json:"final_r,omitempty"`
	Signed      bool                                  `json:"signed"`
}

func (s *BridgeTxState) MarshalJSON() ([]byte, error) {
	var txBuf bytes.Buffer
	if err := s.unsignedTx.Serialize(&txBuf); err != nil {
		return nil, err
	}
	prevouts := make([]prevoutJSON, 0, len(s.prevouts))
	for _, po := range s.prevouts {
		prevouts = append(prevouts, prevoutJSON{Value: po.Value, PkScript: po.PkScript})
	}
	shadow := bridgeTxStateJSON{
		UnsignedTx:  txBuf.Bytes(),
		Prevouts:    prevouts,
		InputIdx:    s.inputIdx,
		PkTable:     s.pkTable,
		OwnIdx:      uint32(s.ownIdx),
		SecNonce:    append(common.HexBytes(nil), s.secNonce[:]...),
		PubNonces:   s.pubNonces,
		AggNonce:    s.aggNonce,
		PartialSigs: s.partialSigs,
		Signed:      s.signed,
	}
	if s.finalR != nil {
		shadow.FinalR = s.finalR.SerializeCompressed()
	}
	return json.Marshal(&shadow)
}

func (s *BridgeTxState) UnmarshalJSON(data []byte) error {
	var shadow bridgeTxStateJSON
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(shadow.UnsignedTx)); err != nil {
		return fmt.Errorf("bridge: tx state decode: %w", err)
	}
	if len(shadow.SecNonce) != musig2.SecNonceSize {
		return fmt.Errorf("bridge: sec nonce must be %d bytes, got %d",
			musig2.SecNonceSize, len(shadow.SecNonce))
	}

	s.unsignedTx = tx
	s.prevouts = make([]*wire.TxOut, 0, len(shadow.Prevouts))
	for _, po := range shadow.Prevouts {
		s.prevouts = append(s.prevouts, wire.NewTxOut(po.Value, po.PkScript))
	}
	s.inputIdx = shadow.InputIdx
	s.pkTable = shadow.PkTable
	s.ownIdx = types.OperatorIdx(shadow.OwnIdx)
	copy(s.secNonce[:], shadow.SecNonce)
	s.pubNonces = shadow.PubNonces
	if s.pubNonces == nil {
		s.pubNonces = make(map[types.OperatorIdx]Musig2PubNonce)
	}
	s.aggNonce = shadow.AggNonce
	s.partialSigs = shadow.PartialSigs
	if s.partialSigs == nil {
		s.partialSigs = make(map[types.OperatorIdx]Musig2PartialSig)
	}
	s.signed = shadow.Signed
	s.finalR = nil
	if len(shadow.FinalR) > 0 {
		key, err := btcec.ParsePubKey(shadow.FinalR)
		if err != nil {
			return fmt.Errorf("bridge: tx state decode: %w", err)
		}
		s.finalR = key
	}
	return nil
}
