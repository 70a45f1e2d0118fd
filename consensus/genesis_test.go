package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

func testGenesisParams() *params.Params {
	p := &params.Params{
		RollupName:      "strata-test",
		GenesisL1Height: 100,
		DepositAmount:   1_000_000_000,
	}
	for i := 0; i < 3; i++ {
		var signing, wallet common.Hash
		signing[0] = byte(0x10 + i)
		wallet[0] = byte(0x20 + i)
		p.OperatorConfig = append(p.OperatorConfig, params.OperatorKeys{
			Signing: signing,
			Wallet:  wallet,
		})
	}
	p.EvmGenesisBlockHash[0] = 0xe1
	p.EvmGenesisBlockStateRoot[0] = 0xe2
	return p
}

func TestMakeGenesisChainstate(t *testing.T) {
	p := testGenesisParams()

	state, err := MakeGenesisChainstate(p)
	require.NoError(t, err)

	assert.Equal(t, p.GenesisL1Height, state.SafeL1Height)
	assert.Equal(t, 0, state.DepositsTable.Len())
	assert.Empty(t, state.PendingWithdrawals)

	require.Equal(t, 3, state.OperatorTable.Len())
	for i := 0; i < 3; i++ {
		ent := state.OperatorTable.Get(types.OperatorIdx(i))
		require.NotNil(t, ent)
		assert.Equal(t, p.OperatorConfig[i].Signing, ent.SigningPk)
		assert.Equal(t, p.OperatorConfig[i].Wallet, ent.WalletPk)
	}
}

func TestMakeGenesisBlockDeterministic(t *testing.T) {
	p := testGenesisParams()

	blk, state, err := MakeGenesisBlock(p)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), blk.Slot())
	assert.Equal(t, uint64(0), blk.Header.Header.Epoch)
	assert.Equal(t, uint64(0), blk.Header.Header.Timestamp)
	assert.Equal(t, types.L2BlockId{}, blk.Header.Header.PrevBlock)
	assert.Equal(t, state.StateRoot(), blk.Header.Header.StateRoot)
	require.NoError(t, blk.CheckSegmentHashes())

	payload := blk.Body.ExecSegment.Payload
	require.Len(t, payload, 64)
	assert.Equal(t, p.EvmGenesisBlockHash[:], []byte(payload[:32]))
	assert.Equal(t, p.EvmGenesisBlockStateRoot[:], []byte(payload[32:]))

	// Same params, same block: any two nodes agree on the genesis id.
	blk2, _, err := MakeGenesisBlock(p)
	require.NoError(t, err)
	assert.Equal(t, blk.Id(), blk2.Id())
}

func TestMakeGenesisBlockSensitivity(t *testing.T) {
	base, _, err := MakeGenesisBlock(testGenesisParams())
	require.NoError(t, err)

	p := testGenesisParams()
	p.EvmGenesisBlockHash[1] = 0x99
	evm, _, err := MakeGenesisBlock(p)
	require.NoError(t, err)
	assert.NotEqual(t, base.Id(), evm.Id())

	p = testGenesisParams()
	p.OperatorConfig[2].Wallet[5] = 0x99
	ops, _, err := MakeGenesisBlock(p)
	require.NoError(t, err)
	assert.NotEqual(t, base.Id(), ops.Id())
}
