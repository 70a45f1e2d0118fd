package l1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampMedian(t *testing.T) {
	ts := NewTimestampStore([]uint32{5, 3, 8, 1, 9, 2, 7, 4, 6, 11, 10})
	// sorted: 1..11, median is the 6th element
	assert.Equal(t, uint32(6), ts.Median())

	ts.Insert(100) // evicts 5
	// window: 3,8,1,9,2,7,4,6,11,10,100 -> sorted median 7
	assert.Equal(t, uint32(7), ts.Median())
	assert.Equal(t, uint32(100), ts.Latest())
}

func TestTimestampZeroPadding(t *testing.T) {
	ts := NewTimestampStore([]uint32{50, 60, 70})
	ordered := ts.Ordered()
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(0), ordered[i])
	}
	assert.Equal(t, uint32(50), ordered[8])
	assert.Equal(t, uint32(70), ordered[10])
	// eight zeros dominate the sort, median is zero
	assert.Equal(t, uint32(0), ts.Median())
}

func TestTimestampOrderedAfterWrap(t *testing.T) {
	ts := NewTimestampStore(nil)
	for i := uint32(1); i <= 25; i++ {
		ts.Insert(i)
	}
	ordered := ts.Ordered()
	for i := 0; i < TimestampWindow; i++ {
		assert.Equal(t, uint32(15+i), ordered[i])
	}
}

func TestTimestampSeedTruncation(t *testing.T) {
	seed := make([]uint32, 0, 20)
	for i := uint32(1); i <= 20; i++ {
		seed = append(seed, i)
	}
	ts := NewTimestampStore(seed)
	ordered := ts.Ordered()
	assert.Equal(t, uint32(10), ordered[0])
	assert.Equal(t, uint32(20), ordered[10])
}
