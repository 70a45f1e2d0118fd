package l1

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
)

// nextWorkRequired computes the compact target for the block following a
// difficulty boundary, given the bits in force and the first/last timestamps
// of the closing window. The window spans 2015 block intervals on mainnet;
// keeping that historical off-by-one is required to track the real chain.
func nextWorkRequired(currentBits uint32, intervalStartTs uint32, lastTs uint32, net *chaincfg.Params) uint32 {
	targetTimespan := int64(net.TargetTimespan.Seconds())
	adjustmentFactor := net.RetargetAdjustmentFactor
	minRetargetTimespan := targetTimespan / adjustmentFactor
	maxRetargetTimespan := targetTimespan * adjustmentFactor

	actualTimespan := int64(lastTs) - int64(intervalStartTs)
	if actualTimespan < minRetargetTimespan {
		actualTimespan = minRetargetTimespan
	} else if actualTimespan > maxRetargetTimespan {
		actualTimespan = maxRetargetTimespan
	}

	oldTarget := blockchain.CompactToBig(currentBits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(net.PowLimit) > 0 {
		newTarget.Set(net.PowLimit)
	}

	// Round-trip through the compact representation: the consensus target is
	// the truncated compact form, not the exact quotient.
	return blockchain.BigToCompact(newTarget)
}

// isRetargetHeight reports whether the block at the given height begins a new
// difficulty window.
func isRetargetHeight(height uint64, net *chaincfg.Params) bool {
	interval := uint64(net.TargetTimespan / net.TargetTimePerBlock)
	return height%interval == 0
}
