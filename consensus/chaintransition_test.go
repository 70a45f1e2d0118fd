package consensus

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/types"
)

func opsManifest(height uint64, idByte byte, ops ...l1.ProtocolOp) *l1.L1BlockManifest {
	tx := l1.L1Tx{Position: 0, Ops: ops}
	return &l1.L1BlockManifest{
		BlockId: l1blkid(idByte),
		Height:  height,
		Txs:     []l1.L1Tx{tx},
	}
}

func depositOp(idx uint32, amt uint64, outByte byte) *l1.DepositInfo {
	var h chainhash.Hash
	h[0] = outByte
	return &l1.DepositInfo{
		DepositIdx: idx,
		Amt:        amt,
		Outpoint:   wire.OutPoint{Hash: h, Index: uint32(outByte)},
		Address:    common.Address{0xde, 0xad},
	}
}

func TestProcessL1OpsDeposit(t *testing.T) {
	p := testEpochParams()
	state := epochChainstate(t, 3)

	mf := opsManifest(300, 0x61, depositOp(5, p.DepositAmount, 0x01))
	ProcessL1Ops(state, mf, p)

	ent := state.DepositsTable.GetDeposit(5)
	require.NotNil(t, ent)
	assert.Equal(t, types.DepositAccepted, ent.State)
	assert.Equal(t, p.DepositAmount, ent.Amt)
	assert.Equal(t, []types.OperatorIdx{0, 1, 2}, ent.NotaryOperators)
	assert.Equal(t, byte(0x01), ent.Output.Txid[0])

	// A second deposit at the same index is an L1-side anomaly. The
	// first entry must survive untouched.
	mf2 := opsManifest(301, 0x62, depositOp(5, p.DepositAmount, 0x02))
	ProcessL1Ops(state, mf2, p)

	ent = state.DepositsTable.GetDeposit(5)
	require.NotNil(t, ent)
	assert.Equal(t, byte(0x01), ent.Output.Txid[0])
	assert.Equal(t, uint32(1), ent.Output.Vout)
	assert.Equal(t, 1, state.DepositsTable.Len())
}

func TestProcessL1OpsDepositWrongAmount(t *testing.T) {
	p := testEpochParams()
	state := epochChainstate(t, 2)

	mf := opsManifest(300, 0x61, depositOp(0, p.DepositAmount-1, 0x01))
	ProcessL1Ops(state, mf, p)

	assert.Nil(t, state.DepositsTable.GetDeposit(0))
	assert.Equal(t, 0, state.DepositsTable.Len())
}

func TestProcessL1OpsFulfillment(t *testing.T) {
	p := testEpochParams()
	state := epochChainstate(t, 3)

	mf := opsManifest(300, 0x61, depositOp(0, p.DepositAmount, 0x01))
	ProcessL1Ops(state, mf, p)

	// Dispatch deposit 0 to some operator.
	queueIntent(state, p.DepositAmount, 0xaa)
	require.NoError(t, EpochCheckIn(state, 300, p))
	ent := state.DepositsTable.GetDeposit(0)
	require.Equal(t, types.DepositDispatched, ent.State)
	assignee := ent.Assignee

	// Fulfillment claimed by the wrong operator changes nothing.
	wrong := (assignee + 1) % 3
	var txid l1.L1TxId
	txid[0] = 0x77
	mf2 := opsManifest(301, 0x62, &l1.WithdrawalFulfillmentInfo{
		OperatorIdx: uint32(wrong), DepositIdx: 0, Amt: p.DepositAmount, Txid: txid,
	})
	ProcessL1Ops(state, mf2, p)
	assert.Equal(t, types.DepositDispatched, state.DepositsTable.GetDeposit(0).State)

	// Unknown deposit index is ignored.
	mf3 := opsManifest(302, 0x63, &l1.WithdrawalFulfillmentInfo{
		OperatorIdx: uint32(assignee), DepositIdx: 9, Amt: p.DepositAmount, Txid: txid,
	})
	ProcessL1Ops(state, mf3, p)

	// The assigned operator's front payment marks the deposit fulfilled.
	mf4 := opsManifest(303, 0x64, &l1.WithdrawalFulfillmentInfo{
		OperatorIdx: uint32(assignee), DepositIdx: 0, Amt: p.DepositAmount, Txid: txid,
	})
	ProcessL1Ops(state, mf4, p)
	ent = state.DepositsTable.GetDeposit(0)
	assert.Equal(t, types.DepositFulfilled, ent.State)
	assert.Equal(t, txid, ent.FulfillmentTxid)
}

func TestProcessL1OpsDepositSpent(t *testing.T) {
	p := testEpochParams()
	state := epochChainstate(t, 2)

	ProcessL1Ops(state, opsManifest(300, 0x61, depositOp(0, p.DepositAmount, 0x01)), p)
	ProcessL1Ops(state, opsManifest(301, 0x62, depositOp(1, p.DepositAmount, 0x02)), p)

	queueIntent(state, p.DepositAmount, 0xaa)
	require.NoError(t, EpochCheckIn(state, 301, p))
	var txid l1.L1TxId
	txid[0] = 0x66
	ProcessL1Ops(state, opsManifest(302, 0x63, &l1.WithdrawalFulfillmentInfo{
		OperatorIdx: uint32(state.DepositsTable.GetDeposit(0).Assignee), DepositIdx: 0,
		Amt: p.DepositAmount, Txid: txid,
	}), p)
	require.Equal(t, types.DepositFulfilled, state.DepositsTable.GetDeposit(0).State)

	// Spend of the fulfilled deposit reimburses the operator.
	ProcessL1Ops(state, opsManifest(303, 0x64, &l1.DepositSpendInfo{DepositIdx: 0}), p)
	assert.Equal(t, types.DepositReimbursed, state.DepositsTable.GetDeposit(0).State)

	// A spend observed before any fulfillment still retires the entry:
	// the UTXO is gone regardless of our bookkeeping.
	ProcessL1Ops(state, opsManifest(304, 0x65, &l1.DepositSpendInfo{DepositIdx: 1}), p)
	assert.Equal(t, types.DepositReimbursed, state.DepositsTable.GetDeposit(1).State)
}

func TestProcessL1OpsAdvancesSafeL1(t *testing.T) {
	p := testEpochParams()
	state := epochChainstate(t, 1)

	mf := opsManifest(512, 0x7a)
	ProcessL1Ops(state, mf, p)

	assert.Equal(t, uint64(512), state.SafeL1Height)
	assert.Equal(t, l1blkid(0x7a), state.SafeL1Blkid)
}
