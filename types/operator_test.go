package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
)

func opEntry(idx OperatorIdx, b byte) OperatorEntry {
	return OperatorEntry{
		Idx:       idx,
		SigningPk: common.BytesToHash([]byte{b}),
		WalletPk:  common.BytesToHash([]byte{b, b}),
	}
}

func TestOperatorTableAscendingInvariant(t *testing.T) {
	_, err := NewOperatorTableFromEntries([]OperatorEntry{
		opEntry(0, 1), opEntry(1, 2), opEntry(2, 3),
	})
	require.NoError(t, err)

	_, err = NewOperatorTableFromEntries([]OperatorEntry{
		opEntry(0, 1), opEntry(2, 2), opEntry(1, 3),
	})
	assert.Error(t, err)

	_, err = NewOperatorTableFromEntries([]OperatorEntry{
		opEntry(0, 1), opEntry(1, 2), opEntry(1, 3),
	})
	assert.Error(t, err)
}

func TestOperatorTableInsert(t *testing.T) {
	tbl := NewOperatorTable()
	i0 := tbl.Insert(common.BytesToHash([]byte{1}), common.BytesToHash([]byte{2}))
	i1 := tbl.Insert(common.BytesToHash([]byte{3}), common.BytesToHash([]byte{4}))

	assert.Equal(t, OperatorIdx(0), i0)
	assert.Equal(t, OperatorIdx(1), i1)
	assert.Equal(t, []OperatorIdx{0, 1}, tbl.IndicesIter())

	e := tbl.Get(1)
	require.NotNil(t, e)
	assert.Equal(t, common.BytesToHash([]byte{3}), e.SigningPk)
	assert.Nil(t, tbl.Get(5))
}

func TestOperatorTableFromEntriesNextIdx(t *testing.T) {
	tbl, err := NewOperatorTableFromEntries([]OperatorEntry{
		opEntry(0, 1), opEntry(3, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, OperatorIdx(4), tbl.NextIdx)
	assert.Equal(t, OperatorIdx(4), tbl.Insert(common.Hash{}, common.Hash{}))
}
