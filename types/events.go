package types

import (
	"encoding/json"
	"fmt"

	"github.com/alpenlabs/strata-sub002/l1"
)

// SyncEvent is an input to the client-state transition engine. Events
// are persisted with a monotonic index and must be applied strictly in
// index order.
type SyncEvent interface {
	EventTag() string
	String() string
}

const (
	EventTagL1Block         = "l1_block"
	EventTagL1Revert        = "l1_revert"
	EventTagL1DABatch       = "l1_da_batch"
	EventTagComputedGenesis = "computed_genesis"
	EventTagNewTipBlock     = "new_tip_block"
)

// L1BlockEvent: a new L1 block has been read, filtered, and stored as a
// manifest at the given height.
type L1BlockEvent struct {
	Height uint64       `json:"height"`
	Blkid  l1.L1BlockId `json:"blkid"`
}

func (e *L1BlockEvent) EventTag() string { return EventTagL1Block }
func (e *L1BlockEvent) String() string {
	return fmt.Sprintf("l1block(%d, %s)", e.Height, e.Blkid.String_short())
}

// L1RevertEvent: the L1 chain reorged; local view must roll back so the
// given height is the new tip.
type L1RevertEvent struct {
	Height uint64 `json:"height"`
}

func (e *L1RevertEvent) EventTag() string { return EventTagL1Revert }
func (e *L1RevertEvent) String() string {
	return fmt.Sprintf("l1revert(%d)", e.Height)
}

// L1DABatchEvent: a proven batch for the epoch has matured on L1; the
// listed blocks (tip last) become final.
type L1DABatchEvent struct {
	Epoch  uint64      `json:"epoch"`
	Blkids []L2BlockId `json:"blkids"`
}

func (e *L1DABatchEvent) EventTag() string { return EventTagL1DABatch }
func (e *L1DABatchEvent) String() string {
	return fmt.Sprintf("l1dabatch(epoch %d, %d blocks)", e.Epoch, len(e.Blkids))
}

// ComputedGenesisEvent: the genesis L2 block has been built locally.
type ComputedGenesisEvent struct {
	Blkid L2BlockId `json:"blkid"`
}

func (e *ComputedGenesisEvent) EventTag() string { return EventTagComputedGenesis }
func (e *ComputedGenesisEvent) String() string {
	return fmt.Sprintf("computedgenesis(%s)", e.Blkid.String_short())
}

// NewTipBlockEvent: fork choice advanced the L2 tip to the given block.
type NewTipBlockEvent struct {
	Blkid L2BlockId `json:"blkid"`
}

func (e *NewTipBlockEvent) EventTag() string { return EventTagNewTipBlock }
func (e *NewTipBlockEvent) String() string {
	return fmt.Sprintf("newtipblock(%s)", e.Blkid.String_short())
}

type eventEnvelope struct {
	Tag  string          `json:"tag"`
	Body json.RawMessage `json:"body"`
}

// MarshalEvent encodes an event with its tag so the store can decode it
// without knowing the concrete type up front.
func MarshalEvent(ev SyncEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Tag: ev.EventTag(), Body: body})
}

func UnmarshalEvent(data []byte) (SyncEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var ev SyncEvent
	switch env.Tag {
	case EventTagL1Block:
		ev = new(L1BlockEvent)
	case EventTagL1Revert:
		ev = new(L1RevertEvent)
	case EventTagL1DABatch:
		ev = new(L1DABatchEvent)
	case EventTagComputedGenesis:
		ev = new(ComputedGenesisEvent)
	case EventTagNewTipBlock:
		ev = new(NewTipBlockEvent)
	default:
		return nil, fmt.Errorf("unknown sync event tag %q", env.Tag)
	}
	if err := json.Unmarshal(env.Body, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
