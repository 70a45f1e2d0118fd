package l1

import (
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
)

// All vectors hand-computed through the compact representation; see
// BigToCompact for the truncation rules they pin down.

func TestNextWorkUnchanged(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + uint32(net.TargetTimespan.Seconds()) // exactly on schedule
	got := nextWorkRequired(0x1d00ffff, start, last, net)
	assert.Equal(t, uint32(0x1d00ffff), got)
}

func TestNextWorkHalvedTarget(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + uint32(net.TargetTimespan.Seconds())/2
	// 0xffff<<208 halved renormalizes to mantissa 0x7fff80, exponent 28
	got := nextWorkRequired(0x1d00ffff, start, last, net)
	assert.Equal(t, uint32(0x1c7fff80), got)
}

func TestNextWorkClampUp(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + 10*uint32(net.TargetTimespan.Seconds())
	// 10x timespan clamps to 4x: mantissa 0x0404cb*4 = 0x10132c
	got := nextWorkRequired(0x1b0404cb, start, last, net)
	assert.Equal(t, uint32(0x1b10132c), got)
}

func TestNextWorkClampDown(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + uint32(net.TargetTimespan.Seconds())/10
	// timespan/10 clamps to /4, quotient truncates into the compact mantissa
	got := nextWorkRequired(0x1b0404cb, start, last, net)
	assert.Equal(t, uint32(0x1b010132), got)
}

func TestNextWorkTruncation(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + uint32(net.TargetTimespan.Seconds())*3/2
	// 1.5x: 0x0404cb00.. * 3/2 = 0x06073080.., mantissa truncates to 0x060730
	got := nextWorkRequired(0x1b0404cb, start, last, net)
	assert.Equal(t, uint32(0x1b060730), got)
}

func TestNextWorkCapsAtPowLimit(t *testing.T) {
	net := &chaincfg.MainNetParams
	start := uint32(1231006505)
	last := start + 10*uint32(net.TargetTimespan.Seconds())
	// already at the limit, a slower chain cannot push the target beyond it
	got := nextWorkRequired(0x1d00ffff, start, last, net)
	assert.Equal(t, blockchain.BigToCompact(net.PowLimit), got)
	assert.Equal(t, uint32(0x1d00ffff), got)
}

func TestRetargetHeights(t *testing.T) {
	net := &chaincfg.MainNetParams
	assert.True(t, isRetargetHeight(0, net))
	assert.False(t, isRetargetHeight(1, net))
	assert.False(t, isRetargetHeight(2015, net))
	assert.True(t, isRetargetHeight(2016, net))
	assert.True(t, isRetargetHeight(40320, net))
	assert.False(t, isRetargetHeight(40321, net))
}
