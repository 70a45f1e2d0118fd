package consensus

import (
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// ProcessL1Ops folds one scanned L1 block's protocol operations into
// the chainstate, in the block's transaction order. Every handler is
// additive and idempotent: L1 is permissionless input, so malformed or
// duplicate operations are logged and skipped, never fatal.
func ProcessL1Ops(state *types.Chainstate, mf *l1.L1BlockManifest, p *params.Params) {
	for _, tx := range mf.Txs {
		for _, op := range tx.Ops {
			switch o := op.(type) {
			case *l1.DepositInfo:
				applyDeposit(state, o, p)
			case *l1.WithdrawalFulfillmentInfo:
				applyWithdrawalFulfillment(state, o)
			case *l1.DepositSpendInfo:
				applyDepositSpent(state, o)
			default:
				// checkpoints feed the client state machine, deposit
				// requests feed the bridge duty engine
			}
		}
	}
	state.SafeL1Height = mf.Height
	state.SafeL1Blkid = mf.BlockId
}

// applyDeposit inserts a fresh deposit entry notarized by the full
// current operator set. A second deposit at an occupied index is
// ignored; the first writer wins.
func applyDeposit(state *types.Chainstate, op *l1.DepositInfo, p *params.Params) {
	if op.Amt != p.DepositAmount {
		log.Warn(log.ChainMonitoring, "skipping deposit with unexpected amount",
			"idx", op.DepositIdx, "amt", op.Amt, "want", p.DepositAmount)
		return
	}
	notary := state.OperatorTable.IndicesIter()
	output := l1.OutputRefFromOutPoint(op.Outpoint)
	if !state.DepositsTable.CreateDeposit(op.DepositIdx, output, op.Amt, notary) {
		log.Warn(log.ChainMonitoring, "ignoring deposit at occupied index",
			"idx", op.DepositIdx, "output", output.String())
		return
	}
	log.Info(log.ChainMonitoring, "accepted deposit",
		"idx", op.DepositIdx, "amt", op.Amt, "dest", op.Address.Hex())
}

// applyWithdrawalFulfillment marks a dispatched deposit fulfilled once
// its assigned operator's front payment shows up on L1.
func applyWithdrawalFulfillment(state *types.Chainstate, op *l1.WithdrawalFulfillmentInfo) {
	entry := state.DepositsTable.GetDeposit(op.DepositIdx)
	if entry == nil {
		log.Warn(log.ChainMonitoring, "fulfillment for unknown deposit", "idx", op.DepositIdx)
		return
	}
	if entry.State != types.DepositDispatched {
		log.Warn(log.ChainMonitoring, "fulfillment for deposit not dispatched",
			"idx", op.DepositIdx, "state", entry.State.String())
		return
	}
	if entry.Assignee != types.OperatorIdx(op.OperatorIdx) {
		log.Warn(log.ChainMonitoring, "fulfillment from unassigned operator",
			"idx", op.DepositIdx, "operator", op.OperatorIdx, "assignee", uint32(entry.Assignee))
		return
	}
	entry.State = types.DepositFulfilled
	entry.FulfillmentTxid = op.Txid
	log.Info(log.ChainMonitoring, "withdrawal fulfilled",
		"idx", op.DepositIdx, "operator", op.OperatorIdx, "txid", op.Txid.String())
}

// applyDepositSpent marks a deposit reimbursed when its tracked UTXO is
// spent by the federation, paying the fulfilling operator back.
func applyDepositSpent(state *types.Chainstate, op *l1.DepositSpendInfo) {
	entry := state.DepositsTable.GetDeposit(op.DepositIdx)
	if entry == nil {
		log.Warn(log.ChainMonitoring, "spend of unknown deposit", "idx", op.DepositIdx)
		return
	}
	if entry.State != types.DepositFulfilled {
		log.Warn(log.ChainMonitoring, "deposit spent while not fulfilled",
			"idx", op.DepositIdx, "state", entry.State.String())
		// the UTXO is gone either way; record it
	}
	entry.State = types.DepositReimbursed
	log.Info(log.ChainMonitoring, "deposit reimbursed", "idx", op.DepositIdx)
}
