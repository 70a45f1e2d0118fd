package types

import (
	"bytes"
	"encoding/binary"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
)

// Chainstate is the per-slot rollup state the checkpoint proofs commit
// to: bridge tables, the withdrawal queue, and chain position counters.
// Unlike ClientState it advances with every L2 block.
type Chainstate struct {
	CurSlot  uint64 `json:"cur_slot"`
	CurEpoch uint64 `json:"cur_epoch"`

	// LastFinalizedEpoch mirrors the epoch finalized on L1 as of this
	// slot's view.
	LastFinalizedEpoch uint64 `json:"last_finalized_epoch"`

	// SafeL1Height/SafeL1Blkid are the L1 view this state considers
	// settled.
	SafeL1Height uint64       `json:"safe_l1_height"`
	SafeL1Blkid  l1.L1BlockId `json:"safe_l1_blkid"`

	DepositsTable *DepositsTable `json:"deposits_table"`
	OperatorTable *OperatorTable `json:"operator_table"`

	// PendingWithdrawals is the unassigned intent queue, FIFO.
	PendingWithdrawals []WithdrawalIntent `json:"pending_withdrawals"`
}

func NewChainstate(operators *OperatorTable) *Chainstate {
	return &Chainstate{
		DepositsTable:      NewDepositsTable(),
		OperatorTable:      operators,
		PendingWithdrawals: make([]WithdrawalIntent, 0),
	}
}

func (c *Chainstate) Copy() *Chainstate {
	n := *c
	n.DepositsTable = c.DepositsTable.Copy()
	n.OperatorTable = c.OperatorTable.Copy()
	n.PendingWithdrawals = make([]WithdrawalIntent, len(c.PendingWithdrawals))
	for i, w := range c.PendingWithdrawals {
		n.PendingWithdrawals[i] = WithdrawalIntent{
			Amt:         w.Amt,
			Destination: append(common.HexBytes(nil), w.Destination...),
		}
	}
	return &n
}

// QueueWithdrawal appends an intent to the pending queue.
func (c *Chainstate) QueueWithdrawal(intent WithdrawalIntent) {
	c.PendingWithdrawals = append(c.PendingWithdrawals, intent)
}

// StateRoot is the canonical commitment over the chainstate. The byte
// layout is fixed: checkpoint proofs verify against it, so any change
// here is a consensus break.
func (c *Chainstate) StateRoot() common.Hash {
	var buf bytes.Buffer
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], c.CurSlot)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.CurEpoch)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.LastFinalizedEpoch)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], c.SafeL1Height)
	buf.Write(scratch[:])
	buf.Write(c.SafeL1Blkid[:])
	c.DepositsTable.encodeTo(&buf)
	c.OperatorTable.encodeTo(&buf)
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(c.PendingWithdrawals)))
	buf.Write(scratch[:4])
	for i := range c.PendingWithdrawals {
		c.PendingWithdrawals[i].encodeTo(&buf)
	}
	return common.Sha256(buf.Bytes())
}
