// Package writer posts protocol payloads to L1 through commit/reveal
// envelope transactions and tracks them to finality. Entries move
// through a durable status queue so a restart resumes exactly where
// the previous process stopped.
package writer

import (
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/l1"
)

// PayloadDest says which envelope family a payload belongs to. The tag
// inside the envelope script differs per destination.
type PayloadDest uint8

const (
	DestCheckpoint PayloadDest = iota + 1
	DestDA
)

func (d PayloadDest) String() string {
	switch d {
	case DestCheckpoint:
		return "checkpoint"
	case DestDA:
		return "da"
	default:
		return fmt.Sprintf("dest(%d)", uint8(d))
	}
}

// PayloadIntent is a request to land a payload on L1. Intents are
// deduplicated by Hash, so re-submitting the same checkpoint is
// harmless.
type PayloadIntent struct {
	Dest    PayloadDest     `json:"dest"`
	Payload common.HexBytes `json:"payload"`
}

func (i *PayloadIntent) Hash() common.Hash {
	buf := make([]byte, 0, 1+len(i.Payload))
	buf = append(buf, byte(i.Dest))
	buf = append(buf, i.Payload...)
	return common.Sha256(buf)
}

// PayloadEntryStatus walks the envelope lifecycle. Unsigned entries
// have no transactions yet; Published ones are in the mempool;
// Confirmed ones are in a block; Finalized ones are buried deep enough
// to never come back. Excluded is the terminal reject.
type PayloadEntryStatus uint8

const (
	StatusUnsigned PayloadEntryStatus = iota + 1
	StatusUnpublished
	StatusPublished
	StatusConfirmed
	StatusFinalized
	StatusExcluded
)

func (s PayloadEntryStatus) String() string {
	switch s {
	case StatusUnsigned:
		return "unsigned"
	case StatusUnpublished:
		return "unpublished"
	case StatusPublished:
		return "published"
	case StatusConfirmed:
		return "confirmed"
	case StatusFinalized:
		return "finalized"
	case StatusExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s PayloadEntryStatus) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

func (s *PayloadEntryStatus) UnmarshalJSON(data []byte) error {
	for _, cand := range []PayloadEntryStatus{
		StatusUnsigned, StatusUnpublished, StatusPublished,
		StatusConfirmed, StatusFinalized, StatusExcluded,
	} {
		if string(data) == fmt.Sprintf("%q", cand.String()) {
			*s = cand
			return nil
		}
	}
	return fmt.Errorf("unknown payload entry status %s", data)
}

// statusTransitionAllowed is the queue's legality table: the forward
// signing pipeline, the reorg reset back to Unsigned when a tx
// vanished before finality, and Excluded from any live state.
func statusTransitionAllowed(from, to PayloadEntryStatus) bool {
	if to == StatusExcluded {
		return from != StatusFinalized
	}
	switch from {
	case StatusUnsigned:
		return to == StatusUnpublished
	case StatusUnpublished:
		return to == StatusPublished
	case StatusPublished:
		return to == StatusConfirmed || to == StatusUnsigned
	case StatusConfirmed:
		return to == StatusFinalized || to == StatusUnsigned
	default:
		return false
	}
}

// StatusTransitionError: an entry was asked to move against the table.
type StatusTransitionError struct {
	Idx  uint64
	From PayloadEntryStatus
	To   PayloadEntryStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("writer: illegal status %s -> %s for entry %d", e.From, e.To, e.Idx)
}

// PayloadEntry is one queued payload with its envelope transactions.
// The signed raw transactions ride along so a restarted process can
// rebroadcast without access to the wallet; everything tx-related is
// zero until the entry is signed and is replaced wholesale when a
// reorg forces a resign.
type PayloadEntry struct {
	Dest       PayloadDest        `json:"dest"`
	Payload    common.HexBytes    `json:"payload"`
	CommitTx   common.HexBytes    `json:"commit_tx,omitempty"`
	RevealTx   common.HexBytes    `json:"reveal_tx,omitempty"`
	CommitTxid l1.L1TxId          `json:"commit_txid"`
	RevealTxid l1.L1TxId          `json:"reveal_txid"`
	Status     PayloadEntryStatus `json:"status"`
}

func NewPayloadEntry(intent *PayloadIntent) *PayloadEntry {
	return &PayloadEntry{
		Dest:    intent.Dest,
		Payload: append(common.HexBytes(nil), intent.Payload...),
		Status:  StatusUnsigned,
	}
}

// clearTxs drops the envelope transactions ahead of a resign.
func (e *PayloadEntry) clearTxs() {
	e.CommitTx = nil
	e.RevealTx = nil
	e.CommitTxid = l1.L1TxId{}
	e.RevealTxid = l1.L1TxId{}
}

// Store is the writer's durable queue: payload entries by insertion
// index plus the intent-hash index that backs deduplication. Absent
// entries are (nil, nil).
type Store interface {
	GetNextPayloadIdx() (uint64, error)
	GetPayloadEntry(idx uint64) (*PayloadEntry, error)
	PutPayloadEntry(idx uint64, entry *PayloadEntry) error
	GetIntentIdx(intent common.Hash) (uint64, bool, error)
	PutIntentIdx(intent common.Hash, idx uint64) error
}
