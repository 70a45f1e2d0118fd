package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
)

// DepositState is the lifecycle of a bridged deposit. Created and
// Accepted are set from L1 observation; Dispatched/Executed advance via
// the epoch check-in; Fulfilled and Reimbursed come from withdrawal
// fulfillment and deposit-spend operations seen on L1.
type DepositState uint8

const (
	DepositCreated DepositState = iota
	DepositAccepted
	DepositDispatched
	DepositFulfilled
	DepositReimbursed
	DepositExecuted
)

func (s DepositState) String() string {
	switch s {
	case DepositCreated:
		return "created"
	case DepositAccepted:
		return "accepted"
	case DepositDispatched:
		return "dispatched"
	case DepositFulfilled:
		return "fulfilled"
	case DepositReimbursed:
		return "reimbursed"
	case DepositExecuted:
		return "executed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DepositEntry is one bridged UTXO under federation control. Idx,
// Output and Amt never change after creation; State, Assignee,
// ExecDeadline and FulfillmentTxid advance over the lifecycle.
type DepositEntry struct {
	Idx    uint32       `json:"idx"`
	Output l1.OutputRef `json:"output"`
	Amt    uint64       `json:"amt"`

	// NotaryOperators are the operators whose aggregate key holds the
	// deposit output. Fixed at creation time.
	NotaryOperators []OperatorIdx `json:"notary_operators"`

	State DepositState `json:"state"`

	// Assignee, ExecDeadline and Dispatch are only meaningful in
	// Dispatched and later states.
	Assignee     OperatorIdx      `json:"assignee"`
	ExecDeadline uint64           `json:"exec_deadline"`
	Dispatch     *DispatchCommand `json:"dispatch,omitempty"`

	// FulfillmentTxid is set when a matching withdrawal fulfillment is
	// seen on L1.
	FulfillmentTxid l1.L1TxId `json:"fulfillment_txid"`
}

func (e *DepositEntry) encodeTo(buf *bytes.Buffer) {
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], e.Idx)
	buf.Write(scratch[:4])
	buf.Write(e.Output.Txid[:])
	binary.BigEndian.PutUint32(scratch[:4], e.Output.Vout)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], e.Amt)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.NotaryOperators)))
	buf.Write(scratch[:4])
	for _, op := range e.NotaryOperators {
		binary.BigEndian.PutUint32(scratch[:4], uint32(op))
		buf.Write(scratch[:4])
	}
	buf.WriteByte(byte(e.State))
	binary.BigEndian.PutUint32(scratch[:4], uint32(e.Assignee))
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], e.ExecDeadline)
	buf.Write(scratch[:])
	if e.Dispatch == nil {
		binary.BigEndian.PutUint32(scratch[:4], 0)
		buf.Write(scratch[:4])
	} else {
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(e.Dispatch.Outputs)))
		buf.Write(scratch[:4])
		for _, o := range e.Dispatch.Outputs {
			binary.BigEndian.PutUint32(scratch[:4], uint32(len(o.Destination)))
			buf.Write(scratch[:4])
			buf.Write(o.Destination)
			binary.BigEndian.PutUint64(scratch[:], o.Amt)
			buf.Write(scratch[:])
		}
	}
	buf.Write(e.FulfillmentTxid[:])
}

// DepositsTable holds all deposits ordered by index. The ordering is an
// invariant: iteration order is consensus-relevant (epoch check-in
// walks it to assign withdrawals).
type DepositsTable struct {
	Deposits []*DepositEntry `json:"deposits"`
	NextIdx  uint32          `json:"next_idx"`
}

func NewDepositsTable() *DepositsTable {
	return &DepositsTable{Deposits: make([]*DepositEntry, 0)}
}

func (t *DepositsTable) Len() int {
	return len(t.Deposits)
}

func (t *DepositsTable) findPos(idx uint32) (int, bool) {
	pos := sort.Search(len(t.Deposits), func(i int) bool {
		return t.Deposits[i].Idx >= idx
	})
	return pos, pos < len(t.Deposits) && t.Deposits[pos].Idx == idx
}

func (t *DepositsTable) GetDeposit(idx uint32) *DepositEntry {
	pos, ok := t.findPos(idx)
	if !ok {
		return nil
	}
	return t.Deposits[pos]
}

// CreateDeposit inserts a new entry at idx. If the index is already
// occupied nothing changes and false is returned; the caller decides
// whether that is worth a warning. The existing entry is never
// overwritten.
func (t *DepositsTable) CreateDeposit(idx uint32, output l1.OutputRef, amt uint64, operators []OperatorIdx) bool {
	pos, exists := t.findPos(idx)
	if exists {
		return false
	}
	entry := &DepositEntry{
		Idx:             idx,
		Output:          output,
		Amt:             amt,
		NotaryOperators: append([]OperatorIdx(nil), operators...),
		State:           DepositAccepted,
	}
	t.Deposits = append(t.Deposits, nil)
	copy(t.Deposits[pos+1:], t.Deposits[pos:])
	t.Deposits[pos] = entry
	if idx >= t.NextIdx {
		t.NextIdx = idx + 1
	}
	return true
}

// Remove drops the entry at idx, reporting whether it was present.
func (t *DepositsTable) Remove(idx uint32) bool {
	pos, ok := t.findPos(idx)
	if !ok {
		return false
	}
	t.Deposits = append(t.Deposits[:pos], t.Deposits[pos+1:]...)
	return true
}

// Iter yields entries in ascending index order. The callback must not
// insert or remove entries.
func (t *DepositsTable) Iter(fn func(*DepositEntry)) {
	for _, e := range t.Deposits {
		fn(e)
	}
}

func (t *DepositsTable) Copy() *DepositsTable {
	n := &DepositsTable{
		Deposits: make([]*DepositEntry, len(t.Deposits)),
		NextIdx:  t.NextIdx,
	}
	for i, e := range t.Deposits {
		c := *e
		c.NotaryOperators = append([]OperatorIdx(nil), e.NotaryOperators...)
		if e.Dispatch != nil {
			d := DispatchCommand{Outputs: make([]DispatchOutput, len(e.Dispatch.Outputs))}
			for j, o := range e.Dispatch.Outputs {
				d.Outputs[j] = DispatchOutput{
					Destination: append(common.HexBytes(nil), o.Destination...),
					Amt:         o.Amt,
				}
			}
			c.Dispatch = &d
		}
		n.Deposits[i] = &c
	}
	return n
}

func (t *DepositsTable) encodeTo(buf *bytes.Buffer) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(t.Deposits)))
	buf.Write(scratch[:])
	for _, e := range t.Deposits {
		e.encodeTo(buf)
	}
	binary.BigEndian.PutUint32(scratch[:], t.NextIdx)
	buf.Write(scratch[:])
}
