package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func newTestPersistence(t *testing.T) *PersistenceStore {
	t.Helper()
	ps, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestPersistenceGetPutDelete(t *testing.T) {
	ps := newTestPersistence(t)

	val, found, err := ps.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	require.NoError(t, ps.Put([]byte("k1"), []byte("v1")))
	val, found, err = ps.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), val)

	require.NoError(t, ps.Put([]byte("k1"), []byte("v2")))
	val, _, err = ps.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)

	require.NoError(t, ps.Delete([]byte("k1")))
	_, found, err = ps.Get([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, found)

	// deleting an absent key is not an error
	require.NoError(t, ps.Delete([]byte("k1")))
}

func TestPersistenceWriteBatch(t *testing.T) {
	ps := newTestPersistence(t)
	require.NoError(t, ps.Put([]byte("old"), []byte("x")))

	err := ps.WriteBatch(func(b *leveldb.Batch) {
		b.Put([]byte("a"), []byte("1"))
		b.Put([]byte("b"), []byte("2"))
		b.Delete([]byte("old"))
	})
	require.NoError(t, err)

	_, found, err := ps.Get([]byte("old"))
	require.NoError(t, err)
	assert.False(t, found)
	val, _, err := ps.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), val)
}

func TestPersistencePrefixScan(t *testing.T) {
	ps := newTestPersistence(t)
	for i := 0; i < 5; i++ {
		key := keyIdx([]byte("xx"), uint64(i))
		require.NoError(t, ps.Put(key, []byte(fmt.Sprintf("v%d", i))))
	}
	// neighbor prefix must not leak into the scan
	require.NoError(t, ps.Put([]byte("xy"), []byte("other")))

	pairs, err := ps.GetWithPrefix([]byte("xx"))
	require.NoError(t, err)
	require.Len(t, pairs, 5)
	for i, pair := range pairs {
		assert.Equal(t, uint64(i), idxFromKey(pair[0]))
		assert.Equal(t, []byte(fmt.Sprintf("v%d", i)), pair[1])
	}

	key, val, found, err := ps.LastWithPrefix([]byte("xx"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(4), idxFromKey(key))
	assert.Equal(t, []byte("v4"), val)

	_, _, found, err = ps.LastWithPrefix([]byte("zz"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPersistenceRange(t *testing.T) {
	ps := newTestPersistence(t)
	for i := uint64(10); i < 20; i++ {
		require.NoError(t, ps.Put(keyIdx([]byte("rr"), i), []byte{byte(i)}))
	}

	pairs, err := ps.GetRange(keyIdx([]byte("rr"), 15), PrefixLimit([]byte("rr")))
	require.NoError(t, err)
	require.Len(t, pairs, 5)
	assert.Equal(t, uint64(15), idxFromKey(pairs[0][0]))
	assert.Equal(t, uint64(19), idxFromKey(pairs[4][0]))

	require.NoError(t, ps.DeleteRange(keyIdx([]byte("rr"), 15), PrefixLimit([]byte("rr"))))
	pairs, err = ps.GetWithPrefix([]byte("rr"))
	require.NoError(t, err)
	require.Len(t, pairs, 5)
	assert.Equal(t, uint64(14), idxFromKey(pairs[4][0]))
}
