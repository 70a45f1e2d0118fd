package consensus

import (
	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// MakeGenesisChainstate builds the slot-0 chainstate straight from
// params: the configured operator set, empty tables, counters at zero.
func MakeGenesisChainstate(p *params.Params) (*types.Chainstate, error) {
	entries := make([]types.OperatorEntry, 0, len(p.OperatorConfig))
	for i, keys := range p.OperatorConfig {
		entries = append(entries, types.OperatorEntry{
			Idx:       types.OperatorIdx(i),
			SigningPk: keys.Signing,
			WalletPk:  keys.Wallet,
		})
	}
	table, err := types.NewOperatorTableFromEntries(entries)
	if err != nil {
		return nil, err
	}
	state := types.NewChainstate(table)
	state.SafeL1Height = p.GenesisL1Height
	return state, nil
}

// MakeGenesisBlock derives the slot-0 L2 block. Everything in it comes
// from params, so every node computes the identical block id. The
// header is unsigned; there was no sequencer before this block.
func MakeGenesisBlock(p *params.Params) (*types.L2Block, *types.Chainstate, error) {
	chainstate, err := MakeGenesisChainstate(p)
	if err != nil {
		return nil, nil, err
	}

	execPayload := make(common.HexBytes, 0, 64)
	execPayload = append(execPayload, p.EvmGenesisBlockHash[:]...)
	execPayload = append(execPayload, p.EvmGenesisBlockStateRoot[:]...)
	body := types.L2BlockBody{
		L1Segment:   types.L1Segment{},
		ExecSegment: types.ExecSegment{Payload: execPayload},
	}

	header := types.L2BlockHeader{
		Slot:            0,
		Epoch:           0,
		Timestamp:       0,
		PrevBlock:       types.L2BlockId{},
		L1SegmentHash:   body.L1Segment.SegmentHash(),
		ExecSegmentHash: body.ExecSegment.SegmentHash(),
		StateRoot:       chainstate.StateRoot(),
	}

	blk := &types.L2Block{
		Header: types.SignedL2BlockHeader{Header: header},
		Body:   body,
	}
	return blk, chainstate, nil
}
