package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devChainstate(t *testing.T) *Chainstate {
	t.Helper()
	ops, err := NewOperatorTableFromEntries([]OperatorEntry{
		opEntry(0, 1), opEntry(1, 2), opEntry(2, 3),
	})
	require.NoError(t, err)
	cs := NewChainstate(ops)
	cs.CurSlot = 64
	cs.CurEpoch = 1
	require.True(t, cs.DepositsTable.CreateDeposit(0, outRef(1, 0), 10_0000_0000, ops.IndicesIter()))
	return cs
}

func TestChainstateRootDeterministic(t *testing.T) {
	a := devChainstate(t)
	b := devChainstate(t)
	assert.Equal(t, a.StateRoot(), b.StateRoot())

	b.QueueWithdrawal(WithdrawalIntent{Amt: 5_0000_0000, Destination: []byte{0x51}})
	assert.NotEqual(t, a.StateRoot(), b.StateRoot())
}

func TestChainstateCopyIsolated(t *testing.T) {
	a := devChainstate(t)
	a.QueueWithdrawal(WithdrawalIntent{Amt: 1, Destination: []byte{0x51}})

	b := a.Copy()
	require.Equal(t, a.StateRoot(), b.StateRoot())

	b.DepositsTable.GetDeposit(0).State = DepositDispatched
	b.PendingWithdrawals[0].Amt = 2
	b.CurSlot = 65

	assert.Equal(t, DepositAccepted, a.DepositsTable.GetDeposit(0).State)
	assert.Equal(t, uint64(1), a.PendingWithdrawals[0].Amt)
	assert.NotEqual(t, a.StateRoot(), b.StateRoot())
}
