package btcio

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/l1"
)

func dummyTx(seed byte) *wire.MsgTx {
	var h chainhash.Hash
	h[0] = seed
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: h, Index: 0}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	return tx
}

func TestFakeChainConfirmationLifecycle(t *testing.T) {
	chain := NewFakeChain(&chaincfg.RegressionNetParams)
	ctx := context.Background()

	tx := dummyTx(0x11)
	txid, err := chain.BroadcastTx(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, l1.L1TxIdFromHash(tx.TxHash()), txid)

	confs, err := chain.GetTxConfirmations(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), confs)

	chain.MineMempool()
	confs, err = chain.GetTxConfirmations(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), confs)

	chain.ExtendN(3)
	confs, err = chain.GetTxConfirmations(ctx, txid)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), confs)

	// a reorg across the inclusion height forgets the tx entirely
	tip, _ := chain.Tip()
	chain.ReorgFrom(tip-3, 5)
	_, err = chain.GetTxConfirmations(ctx, txid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFakeChainQueriesAndFailures(t *testing.T) {
	chain := NewFakeChain(&chaincfg.RegressionNetParams)
	chain.ExtendN(4)
	ctx := context.Background()

	tipHeight, tipId := chain.Tip()
	assert.Equal(t, uint64(4), tipHeight)

	block, err := chain.GetBlock(ctx, tipId)
	require.NoError(t, err)
	assert.Equal(t, tipId, l1.L1BlockIdFromHash(block.BlockHash()))

	height, err := chain.GetBlockHeight(ctx, tipId)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), height)

	_, err = chain.GetBlockAt(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsTransient(err))

	chain.SetFailures(2)
	_, err = chain.GetBlockAt(ctx, 1)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	_, err = chain.GetBlockHash(ctx, 1)
	require.Error(t, err)
	_, err = chain.GetBlockAt(ctx, 1)
	assert.NoError(t, err)
}

func TestFakeChainWallet(t *testing.T) {
	chain := NewFakeChain(&chaincfg.RegressionNetParams)
	ctx := context.Background()

	op := chain.AddUtxo(250_000)
	utxos, err := chain.GetUtxos(ctx)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, op, utxos[0].OutPoint)
	assert.Equal(t, int64(250_000), utxos[0].Amount)
	assert.Len(t, utxos[0].PkScript, 34) // p2tr

	rate, err := chain.EstimateFee(ctx, 1)
	require.NoError(t, err)
	assert.NotZero(t, rate)

	addr, err := chain.GetNewAddress(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, addr.String())

	require.NoError(t, chain.ImportDescriptor(ctx, "tr(deadbeef)#checksum"))
	assert.Equal(t, []string{"tr(deadbeef)#checksum"}, chain.Descriptors())

	unsigned := dummyTx(0x22)
	signed, err := chain.SignRawTx(ctx, unsigned)
	require.NoError(t, err)
	require.Len(t, signed.TxIn, 1)
	assert.NotEmpty(t, signed.TxIn[0].Witness)
	// the input tx is left untouched
	assert.Empty(t, unsigned.TxIn[0].Witness)
}
