package bridge

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
	"github.com/alpenlabs/strata-sub002/types"
)

func dutyTestChainstate(t *testing.T) *types.Chainstate {
	t.Helper()
	table := types.NewOperatorTable()
	for i := 0; i < 3; i++ {
		table.Insert(common.Hash{byte(i + 1)}, common.Hash{byte(i + 0x11)})
	}
	return types.NewChainstate(table)
}

func dutyOutput(seed byte) l1.OutputRef {
	var txid l1.L1TxId
	txid[0] = seed
	return l1.OutputRef{Txid: txid, Vout: 1}
}

func TestExtractWithdrawalDuties(t *testing.T) {
	state := dutyTestChainstate(t)
	notary := state.OperatorTable.IndicesIter()

	require.True(t, state.DepositsTable.CreateDeposit(0, dutyOutput(0xa0), 500, notary))
	require.True(t, state.DepositsTable.CreateDeposit(1, dutyOutput(0xa1), 500, notary))
	require.True(t, state.DepositsTable.CreateDeposit(2, dutyOutput(0xa2), 500, notary))

	cmd := types.NewDispatchCommandForIntent(&types.WithdrawalIntent{
		Amt:         480,
		Destination: common.HexBytes{0x51},
	})
	for idx, assignee := range map[uint32]types.OperatorIdx{1: 1, 2: 2} {
		entry := state.DepositsTable.GetDeposit(idx)
		entry.State = types.DepositDispatched
		entry.Assignee = assignee
		entry.ExecDeadline = 99
		entry.Dispatch = &cmd
	}

	duties := ExtractWithdrawalDuties(state, 1)
	require.Len(t, duties, 1)
	assert.Equal(t, DutyFulfillWithdrawal, duties[0].Kind)
	assert.Equal(t, uint32(1), duties[0].DepositIdx)
	assert.Equal(t, uint64(500), duties[0].Amt)
	assert.Equal(t, uint64(99), duties[0].ExecDeadline)
	assert.Equal(t, dutyOutput(0xa1), duties[0].Output)
	require.NotNil(t, duties[0].Dispatch)
	assert.Equal(t, uint64(480), duties[0].Dispatch.TotalAmt())

	// deposit 0 is still just accepted, operator 0 has nothing to do
	assert.Empty(t, ExtractWithdrawalDuties(state, 0))
}

func TestExtractWithdrawalDutiesSkipsIncomplete(t *testing.T) {
	state := dutyTestChainstate(t)
	notary := state.OperatorTable.IndicesIter()
	require.True(t, state.DepositsTable.CreateDeposit(7, dutyOutput(0xb0), 500, notary))

	// dispatched but missing its command: not actionable
	entry := state.DepositsTable.GetDeposit(7)
	entry.State = types.DepositDispatched
	entry.Assignee = 0
	assert.Empty(t, ExtractWithdrawalDuties(state, 0))
}

func requestManifestTx(t *testing.T, amt uint64) l1.L1Tx {
	t.Helper()
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
	tx.AddTxOut(wire.NewTxOut(int64(amt), []byte{0x51}))
	var raw bytes.Buffer
	require.NoError(t, tx.Serialize(&raw))
	return l1.L1Tx{
		Position: 3,
		RawTx:    raw.Bytes(),
		Ops: []l1.ProtocolOp{&l1.DepositRequestInfo{
			Amt:              amt,
			TakeBackLeafHash: common.Hash{0xcc},
			Address:          common.GetDevEEAccount(0),
		}},
	}
}

func TestExtractRequestDuties(t *testing.T) {
	good := requestManifestTx(t, 1200)
	short := requestManifestTx(t, 800)
	mf := &l1.L1BlockManifest{Height: 42, Txs: []l1.L1Tx{good, short}}

	duties := ExtractRequestDuties(mf, 1000)
	require.Len(t, duties, 1)
	assert.Equal(t, DutySignDeposit, duties[0].Kind)
	assert.Equal(t, uint64(1200), duties[0].Amt)
	require.NotNil(t, duties[0].Request)
	assert.Equal(t, common.Hash{0xcc}, duties[0].Request.TakeBackLeafHash)

	msg, err := good.Tx()
	require.NoError(t, err)
	assert.Equal(t, l1.L1TxIdFromHash(msg.TxHash()), duties[0].RequestTxid)

	// a corrupt raw tx drops the duty instead of failing the scan
	bad := requestManifestTx(t, 1500)
	bad.RawTx = bad.RawTx[:4]
	mf = &l1.L1BlockManifest{Height: 43, Txs: []l1.L1Tx{bad}}
	assert.Empty(t, ExtractRequestDuties(mf, 1000))
}
