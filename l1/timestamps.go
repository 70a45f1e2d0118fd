package l1

import (
	"encoding/json"
	"sort"
)

// TimestampWindow is how many recent block timestamps feed the median-time
// check, per Bitcoin consensus.
const TimestampWindow = 11

// TimestampStore is a fixed ring buffer over the most recent TimestampWindow
// block timestamps. Zero entries stand in for blocks below the horizon.
type TimestampStore struct {
	buf [TimestampWindow]uint32
	pos int
}

// NewTimestampStore seeds the ring with ts, oldest first. Fewer than
// TimestampWindow entries are left-padded with zeros.
func NewTimestampStore(ts []uint32) *TimestampStore {
	t := &TimestampStore{}
	start := 0
	if len(ts) > TimestampWindow {
		start = len(ts) - TimestampWindow
	}
	for _, v := range ts[start:] {
		t.Insert(v)
	}
	return t
}

// Insert pushes a new timestamp, evicting the oldest.
func (t *TimestampStore) Insert(ts uint32) {
	t.buf[t.pos] = ts
	t.pos = (t.pos + 1) % TimestampWindow
}

// Median returns the middle element of the sorted window.
func (t *TimestampStore) Median() uint32 {
	var tmp [TimestampWindow]uint32
	copy(tmp[:], t.buf[:])
	sort.Slice(tmp[:], func(i, j int) bool { return tmp[i] < tmp[j] })
	return tmp[TimestampWindow/2]
}

// Ordered returns the window oldest to newest.
func (t *TimestampStore) Ordered() [TimestampWindow]uint32 {
	var out [TimestampWindow]uint32
	for i := 0; i < TimestampWindow; i++ {
		out[i] = t.buf[(t.pos+i)%TimestampWindow]
	}
	return out
}

// Latest returns the most recently inserted timestamp.
func (t *TimestampStore) Latest() uint32 {
	return t.buf[(t.pos+TimestampWindow-1)%TimestampWindow]
}

// MarshalJSON emits the window oldest to newest, so snapshots are
// position-independent.
func (t TimestampStore) MarshalJSON() ([]byte, error) {
	ordered := t.Ordered()
	return json.Marshal(ordered[:])
}

func (t *TimestampStore) UnmarshalJSON(data []byte) error {
	var ts []uint32
	if err := json.Unmarshal(data, &ts); err != nil {
		return err
	}
	*t = *NewTimestampStore(ts)
	return nil
}
