package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/l1"
)

func outRef(b byte, vout uint32) l1.OutputRef {
	var txid l1.L1TxId
	txid[0] = b
	return l1.OutputRef{Txid: txid, Vout: vout}
}

func TestCreateDepositIdempotent(t *testing.T) {
	tbl := NewDepositsTable()
	ops := []OperatorIdx{0, 1, 2}

	ok := tbl.CreateDeposit(5, outRef(0xaa, 0), 10_0000_0000, ops)
	require.True(t, ok)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, uint32(6), tbl.NextIdx)

	// same index, different outpoint: must be ignored entirely
	ok = tbl.CreateDeposit(5, outRef(0xbb, 1), 7_0000_0000, []OperatorIdx{9})
	assert.False(t, ok)
	require.Equal(t, 1, tbl.Len())

	got := tbl.GetDeposit(5)
	require.NotNil(t, got)
	assert.Equal(t, outRef(0xaa, 0), got.Output)
	assert.Equal(t, uint64(10_0000_0000), got.Amt)
	assert.Equal(t, ops, got.NotaryOperators)
	assert.Equal(t, DepositAccepted, got.State)
}

func TestDepositsTableOrdering(t *testing.T) {
	tbl := NewDepositsTable()
	for _, idx := range []uint32{7, 2, 5} {
		require.True(t, tbl.CreateDeposit(idx, outRef(byte(idx), 0), 100, nil))
	}

	var seen []uint32
	tbl.Iter(func(e *DepositEntry) {
		seen = append(seen, e.Idx)
	})
	assert.Equal(t, []uint32{2, 5, 7}, seen)
	assert.Equal(t, uint32(8), tbl.NextIdx)
}

func TestDepositsTableRemove(t *testing.T) {
	tbl := NewDepositsTable()
	require.True(t, tbl.CreateDeposit(1, outRef(1, 0), 100, nil))
	require.True(t, tbl.CreateDeposit(2, outRef(2, 0), 100, nil))

	assert.True(t, tbl.Remove(1))
	assert.False(t, tbl.Remove(1))
	assert.Nil(t, tbl.GetDeposit(1))
	assert.NotNil(t, tbl.GetDeposit(2))
}

func TestDepositsTableCopyIsolated(t *testing.T) {
	tbl := NewDepositsTable()
	require.True(t, tbl.CreateDeposit(3, outRef(3, 0), 100, []OperatorIdx{0, 1}))

	cp := tbl.Copy()
	cp.GetDeposit(3).State = DepositExecuted
	cp.GetDeposit(3).NotaryOperators[0] = 42

	assert.Equal(t, DepositAccepted, tbl.GetDeposit(3).State)
	assert.Equal(t, OperatorIdx(0), tbl.GetDeposit(3).NotaryOperators[0])
}
