package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
)

// OperatorIdx identifies a bridge operator. Indexes are assigned once
// and never reused.
type OperatorIdx uint32

// OperatorEntry carries an operator's two keys: the signing key used
// for bridge messages and checkpoint duties, and the x-only wallet key
// that participates in the federation's MuSig2 aggregate.
type OperatorEntry struct {
	Idx       OperatorIdx `json:"idx"`
	SigningPk common.Hash `json:"signing_pk"`
	WalletPk  common.Hash `json:"wallet_pk"`
}

// OperatorTable is the ordered operator registry. Entries are strictly
// ascending by index; key aggregation and deterministic assignment both
// depend on that ordering, so it is checked on construction and insert.
type OperatorTable struct {
	Operators []OperatorEntry `json:"operators"`
	NextIdx   OperatorIdx     `json:"next_idx"`
}

func NewOperatorTable() *OperatorTable {
	return &OperatorTable{Operators: make([]OperatorEntry, 0)}
}

// NewOperatorTableFromEntries validates the ascending-index invariant.
func NewOperatorTableFromEntries(entries []OperatorEntry) (*OperatorTable, error) {
	for i := 1; i < len(entries); i++ {
		if entries[i].Idx <= entries[i-1].Idx {
			return nil, fmt.Errorf("operator table not ascending at pos %d: %d after %d",
				i, entries[i].Idx, entries[i-1].Idx)
		}
	}
	t := &OperatorTable{Operators: append([]OperatorEntry(nil), entries...)}
	if n := len(entries); n > 0 {
		t.NextIdx = entries[n-1].Idx + 1
	}
	return t, nil
}

func (t *OperatorTable) Len() int {
	return len(t.Operators)
}

// Insert appends a new operator at the next index and returns it.
func (t *OperatorTable) Insert(signingPk, walletPk common.Hash) OperatorIdx {
	idx := t.NextIdx
	t.Operators = append(t.Operators, OperatorEntry{
		Idx:       idx,
		SigningPk: signingPk,
		WalletPk:  walletPk,
	})
	t.NextIdx++
	return idx
}

func (t *OperatorTable) Get(idx OperatorIdx) *OperatorEntry {
	for i := range t.Operators {
		if t.Operators[i].Idx == idx {
			return &t.Operators[i]
		}
	}
	return nil
}

// IndicesIter returns all operator indexes in ascending order.
func (t *OperatorTable) IndicesIter() []OperatorIdx {
	out := make([]OperatorIdx, len(t.Operators))
	for i, e := range t.Operators {
		out[i] = e.Idx
	}
	return out
}

func (t *OperatorTable) Copy() *OperatorTable {
	return &OperatorTable{
		Operators: append([]OperatorEntry(nil), t.Operators...),
		NextIdx:   t.NextIdx,
	}
}

func (t *OperatorTable) encodeTo(buf *bytes.Buffer) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(t.Operators)))
	buf.Write(scratch[:])
	for _, e := range t.Operators {
		binary.BigEndian.PutUint32(scratch[:], uint32(e.Idx))
		buf.Write(scratch[:])
		buf.Write(e.SigningPk[:])
		buf.Write(e.WalletPk[:])
	}
	binary.BigEndian.PutUint32(scratch[:], uint32(t.NextIdx))
	buf.Write(scratch[:])
}
