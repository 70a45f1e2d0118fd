package node

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/bridge"
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

const (
	signingKindNonce   = "nonce"
	signingKindPartial = "partial"

	// pendingGossipCap bounds how many early messages are parked for
	// signing sessions this node has not opened yet.
	pendingGossipCap = 1024
)

// signingPayload is the nonce / partial-sig exchange carried inside
// deposit- and withdrawal-scoped relay messages.
type signingPayload struct {
	Kind string          `json:"kind"`
	Txid l1.L1TxId       `json:"txid"`
	Data common.HexBytes `json:"data"`
}

// bridgeLoop consumes validated operator gossip. Only signing traffic
// for sessions this operator participates in is acted on.
func (n *Node) bridgeLoop() {
	defer n.done.Done()
	sub := n.relayer.Subscribe()
	for {
		select {
		case <-n.ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if err := n.handleBridgeMessage(msg); err != nil {
				log.Warn(log.BridgeMonitoring, "bridge message handling failed",
					"source", msg.SourceID, "err", err)
			}
		}
	}
}

func (n *Node) handleBridgeMessage(msg *bridge.BridgeMessage) error {
	if msg.SourceID == uint32(n.config.OperatorIdx) {
		return nil
	}
	scope, err := bridge.DecodeScope(msg.Scope)
	if err != nil {
		return err
	}
	if scope.Kind == bridge.ScopeMisc {
		return nil
	}
	return n.handleSigningMessage(msg)
}

func (n *Node) handleSigningMessage(msg *bridge.BridgeMessage) error {
	var payload signingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("malformed signing payload: %w", err)
	}
	idx := types.OperatorIdx(msg.SourceID)

	switch payload.Kind {
	case signingKindNonce:
		var nonce bridge.Musig2PubNonce
		if len(payload.Data) != len(nonce) {
			return fmt.Errorf("bad nonce length %d", len(payload.Data))
		}
		copy(nonce[:], payload.Data)

		complete, err := n.sigMgr.AddNonce(payload.Txid, idx, nonce)
		if err != nil {
			n.parkGossip(payload.Txid, msg)
			return nil
		}
		log.Debug(log.BridgeMonitoring, "nonce collected",
			"txid", payload.Txid.String(), "from", idx, "complete", complete)
		if complete {
			if err := n.sharePartial(payload.Txid, msg.Scope); err != nil {
				return err
			}
		}
		return nil

	case signingKindPartial:
		var partial bridge.Musig2PartialSig
		if len(payload.Data) != len(partial) {
			return fmt.Errorf("bad partial sig length %d", len(payload.Data))
		}
		copy(partial[:], payload.Data)

		if err := n.sigMgr.AddPartialSig(payload.Txid, idx, partial); err != nil {
			n.parkGossip(payload.Txid, msg)
			return nil
		}
		log.Debug(log.BridgeMonitoring, "partial sig collected",
			"txid", payload.Txid.String(), "from", idx)
		return n.broadcastIfComplete(payload.Txid)

	default:
		return fmt.Errorf("unknown signing payload kind %q", payload.Kind)
	}
}

// parkGossip buffers a message that refers to a signing session we have
// not opened yet; startDepositDuty replays it once the state exists.
func (n *Node) parkGossip(txid l1.L1TxId, msg *bridge.BridgeMessage) {
	n.gossipMu.Lock()
	defer n.gossipMu.Unlock()
	total := 0
	for _, msgs := range n.pendingGossip {
		total += len(msgs)
	}
	if total >= pendingGossipCap {
		log.Warn(log.BridgeMonitoring, "pending gossip full, dropping message",
			"txid", txid.String(), "source", msg.SourceID)
		return
	}
	n.pendingGossip[txid] = append(n.pendingGossip[txid], msg)
}

func (n *Node) replayGossip(txid l1.L1TxId) {
	n.gossipMu.Lock()
	msgs := n.pendingGossip[txid]
	delete(n.pendingGossip, txid)
	n.gossipMu.Unlock()
	for _, msg := range msgs {
		if err := n.handleSigningMessage(msg); err != nil {
			log.Warn(log.BridgeMonitoring, "parked message replay failed",
				"txid", txid.String(), "err", err)
		}
	}
}

// sharePartial signs our partial for a nonce-complete session and
// gossips it under the session's scope.
func (n *Node) sharePartial(txid l1.L1TxId, scopeBytes []byte) error {
	partial, err := n.sigMgr.SignPartial(txid)
	if err != nil {
		return err
	}
	scope, err := bridge.DecodeScope(scopeBytes)
	if err != nil {
		return err
	}
	if err := n.gossipSigning(scope, signingKindPartial, txid, partial[:]); err != nil {
		return err
	}
	// ours may have been the last partial outstanding
	return n.broadcastIfComplete(txid)
}

// broadcastIfComplete assembles and broadcasts the transaction once all
// partials are in. The tx state is dropped after a successful
// broadcast.
func (n *Node) broadcastIfComplete(txid l1.L1TxId) error {
	_, done, err := n.sigMgr.CombineIfComplete(txid)
	if err != nil || !done {
		return err
	}
	tx, err := n.sigMgr.FinalizedTx(txid)
	if err != nil {
		return err
	}
	sent, err := n.client.BroadcastTx(n.ctx, tx)
	if err != nil {
		return fmt.Errorf("broadcast of %s: %w", txid.String(), err)
	}
	log.Info(log.BridgeMonitoring, "broadcast federation tx", "txid", sent.String())
	return n.sigMgr.DropTxState(txid)
}

// gossipSigning wraps a signing payload in a signed relay message and
// submits it. The relayer loops it back to us too; handleBridgeMessage
// skips own messages.
func (n *Node) gossipSigning(scope bridge.MessageScope, kind string, txid l1.L1TxId, data []byte) error {
	payload, err := json.Marshal(&signingPayload{Kind: kind, Txid: txid, Data: data})
	if err != nil {
		return err
	}
	msg, err := bridge.SignMessage(n.config.OperatorKey, uint32(n.config.OperatorIdx), scope, payload)
	if err != nil {
		return err
	}
	n.relayer.SubmitMessage(msg)
	return nil
}

// scanDuties derives this operator's bridge work from freshly matured
// L1 blocks and the updated chainstate. Runs on the event loop.
func (n *Node) scanDuties(cs *types.Chainstate, matured []*l1.L1BlockManifest) {
	nextIdx := cs.DepositsTable.NextIdx
	for _, mf := range matured {
		for _, duty := range bridge.ExtractRequestDuties(mf, n.params.DepositAmount) {
			if err := n.startDepositDuty(mf, &duty, nextIdx); err != nil {
				log.Warn(log.BridgeMonitoring, "deposit duty failed",
					"request", duty.RequestTxid.String(), "err", err)
				continue
			}
			nextIdx++
		}
	}

	for _, duty := range bridge.ExtractWithdrawalDuties(cs, n.config.OperatorIdx) {
		if _, inflight := n.fulfillInFlight[duty.DepositIdx]; inflight {
			continue
		}
		if err := n.startWithdrawalDuty(&duty); err != nil {
			log.Warn(log.BridgeMonitoring, "withdrawal duty failed",
				"deposit", duty.DepositIdx, "err", err)
			continue
		}
		n.fulfillInFlight[duty.DepositIdx] = struct{}{}
	}
}

// startDepositDuty opens the MuSig2 session sweeping a deposit request
// into the federation address and gossips our nonce. Every operator
// derives the same deposit index from the same matured blocks.
func (n *Node) startDepositDuty(mf *l1.L1BlockManifest, duty *bridge.Duty, depositIdx uint32) error {
	outpoint, prevout, err := requestOutput(mf, duty.RequestTxid)
	if err != nil {
		return err
	}
	tx, prevouts, err := n.buildCtx.BuildDepositTx(outpoint, prevout, depositIdx,
		duty.Request.Address, n.params.DepositAmount)
	if err != nil {
		return err
	}
	txid, nonce, err := n.sigMgr.CreateTxState(tx, 0, prevouts, n.walletTable)
	if err != nil {
		return err
	}
	scope := bridge.MessageScope{Kind: bridge.ScopeV0Deposit, Idx: depositIdx}
	if err := n.gossipSigning(scope, signingKindNonce, txid, nonce[:]); err != nil {
		return err
	}
	log.Info(log.BridgeMonitoring, "opened deposit signing session",
		"deposit_idx", depositIdx, "txid", txid.String(), "amt", duty.Amt)
	n.replayGossip(txid)
	return nil
}

// requestOutput finds the funded output of a deposit request tx in the
// manifest: the first non-OP_RETURN output, same as the filter reads
// it.
func requestOutput(mf *l1.L1BlockManifest, txid l1.L1TxId) (wire.OutPoint, *wire.TxOut, error) {
	for i := range mf.Txs {
		msg, err := mf.Txs[i].Tx()
		if err != nil {
			continue
		}
		if l1.L1TxIdFromHash(msg.TxHash()) != txid {
			continue
		}
		for vout, txOut := range msg.TxOut {
			if len(txOut.PkScript) > 0 && txOut.PkScript[0] == txscript.OP_RETURN {
				continue
			}
			return wire.OutPoint{Hash: msg.TxHash(), Index: uint32(vout)}, txOut, nil
		}
		return wire.OutPoint{}, nil, fmt.Errorf("request tx %s has no funded output", txid.String())
	}
	return wire.OutPoint{}, nil, fmt.Errorf("request tx %s not in manifest %d", txid.String(), mf.Height)
}

// startWithdrawalDuty fronts a dispatched withdrawal from the
// operator's own wallet. No MuSig2 here: reimbursement from the deposit
// output happens when the fulfillment is observed on L1.
func (n *Node) startWithdrawalDuty(duty *bridge.Duty) error {
	utxos, err := n.client.GetUtxos(n.ctx)
	if err != nil {
		return err
	}
	if len(utxos) == 0 {
		return fmt.Errorf("wallet has no utxos to front deposit %d", duty.DepositIdx)
	}

	need := uint64(0)
	for _, out := range duty.Dispatch.Outputs {
		need += out.Amt
	}
	funding := make([]bridge.FundingUtxo, 0, len(utxos))
	total := uint64(0)
	for _, u := range utxos {
		funding = append(funding, bridge.FundingUtxo{
			Outpoint: u.OutPoint,
			Prevout:  wire.NewTxOut(u.Amount, u.PkScript),
		})
		total += uint64(u.Amount)
		if total > need {
			break
		}
	}

	feeRate, err := n.client.EstimateFee(n.ctx, 1)
	if err != nil {
		return err
	}
	changeAddr, err := n.client.GetNewAddress(n.ctx)
	if err != nil {
		return err
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return err
	}

	tx, _, err := n.buildCtx.BuildWithdrawalTx(duty.Dispatch, n.config.OperatorIdx,
		duty.DepositIdx, funding, changeScript, feeRate)
	if err != nil {
		return err
	}
	signed, err := n.client.SignRawTx(n.ctx, tx)
	if err != nil {
		return err
	}
	sent, err := n.client.BroadcastTx(n.ctx, signed)
	if err != nil {
		return err
	}
	log.Info(log.BridgeMonitoring, "fronted withdrawal",
		"deposit_idx", duty.DepositIdx, "amt", duty.Amt,
		"deadline", duty.ExecDeadline, "txid", sent.String())
	return nil
}
