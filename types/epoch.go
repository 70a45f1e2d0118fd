package types

import "fmt"

// EpochCommitment identifies a completed epoch by its number and its
// terminal block. The null commitment (all zero) stands for "before
// genesis" and is what a fresh sync state starts from.
type EpochCommitment struct {
	Epoch     uint64    `json:"epoch"`
	LastSlot  uint64    `json:"last_slot"`
	LastBlkid L2BlockId `json:"last_blkid"`
}

func NewEpochCommitment(epoch uint64, c L2BlockCommitment) EpochCommitment {
	return EpochCommitment{Epoch: epoch, LastSlot: c.Slot, LastBlkid: c.Blkid}
}

func (e EpochCommitment) IsNull() bool {
	return e.Epoch == 0 && e.LastSlot == 0 && e.LastBlkid.IsZero()
}

func (e EpochCommitment) ToBlockCommitment() L2BlockCommitment {
	return L2BlockCommitment{Slot: e.LastSlot, Blkid: e.LastBlkid}
}

func (e EpochCommitment) String() string {
	return fmt.Sprintf("epoch %d [%s]", e.Epoch, e.ToBlockCommitment())
}
