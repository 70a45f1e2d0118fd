package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/types"
)

// PublickeyTable is the ordered operator-index-to-pubkey map the MuSig2
// rounds run over. Aggregation is order-sensitive, so the table must be
// sorted ascending by index everywhere it is built or decoded; every
// operator derives the identical aggregate key or the bridge address
// diverges.
type PublickeyTable struct {
	indices []types.OperatorIdx
	keys    map[types.OperatorIdx]*btcec.PublicKey
}

type PublickeyEntry struct {
	Idx types.OperatorIdx
	Key *btcec.PublicKey
}

// NewPublickeyTable builds a table from entries that must already be in
// strictly ascending index order.
func NewPublickeyTable(entries []PublickeyEntry) (*PublickeyTable, error) {
	t := &PublickeyTable{
		indices: make([]types.OperatorIdx, 0, len(entries)),
		keys:    make(map[types.OperatorIdx]*btcec.PublicKey, len(entries)),
	}
	for i, e := range entries {
		if e.Key == nil {
			return nil, fmt.Errorf("bridge: nil pubkey at entry %d", i)
		}
		if i > 0 && e.Idx <= entries[i-1].Idx {
			return nil, fmt.Errorf("bridge: pubkey table not ascending at entry %d (%d after %d)",
				i, e.Idx, entries[i-1].Idx)
		}
		t.indices = append(t.indices, e.Idx)
		t.keys[e.Idx] = e.Key
	}
	return t, nil
}

// Key roles selectable from the chainstate operator table. Wallet keys
// sign bridge transactions, signing keys sign relay messages.
const (
	KeyRoleWallet = iota
	KeyRoleSigning
)

// FromOperatorTable parses the x-only keys of one role out of the
// chainstate operator table. The operator table is ascending by
// construction, so the result is too.
func FromOperatorTable(ot *types.OperatorTable, role int) (*PublickeyTable, error) {
	entries := make([]PublickeyEntry, 0, ot.Len())
	for _, idx := range ot.IndicesIter() {
		ent := ot.Get(idx)
		raw := ent.WalletPk
		if role == KeyRoleSigning {
			raw = ent.SigningPk
		}
		key, err := schnorr.ParsePubKey(raw[:])
		if err != nil {
			return nil, fmt.Errorf("bridge: bad pubkey for operator %d: %w", idx, err)
		}
		entries = append(entries, PublickeyEntry{Idx: idx, Key: key})
	}
	return NewPublickeyTable(entries)
}

func (t *PublickeyTable) Len() int {
	return len(t.indices)
}

func (t *PublickeyTable) Contains(idx types.OperatorIdx) bool {
	_, ok := t.keys[idx]
	return ok
}

func (t *PublickeyTable) Get(idx types.OperatorIdx) (*btcec.PublicKey, bool) {
	k, ok := t.keys[idx]
	return k, ok
}

// Indices returns the operator indexes in table order.
func (t *PublickeyTable) Indices() []types.OperatorIdx {
	out := make([]types.OperatorIdx, len(t.indices))
	copy(out, t.indices)
	return out
}

// Keys returns the pubkeys in table order. This is the exact slice
// order fed to key aggregation and partial-sig verification.
func (t *PublickeyTable) Keys() []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, 0, len(t.indices))
	for _, idx := range t.indices {
		out = append(out, t.keys[idx])
	}
	return out
}

// AggregateKey combines the table into the federation's MuSig2 key.
// Keys are aggregated in table order, never re-sorted.
func (t *PublickeyTable) AggregateKey() (*btcec.PublicKey, error) {
	if len(t.indices) == 0 {
		return nil, fmt.Errorf("bridge: empty pubkey table")
	}
	agg, _, _, err := musig2.AggregateKeys(t.Keys(), false)
	if err != nil {
		return nil, fmt.Errorf("bridge: key aggregation: %w", err)
	}
	return agg.FinalKey, nil
}

type pubkeyEntryJSON struct {
	Idx uint32          `json:"idx"`
	Key common.HexBytes `json:"key"`
}

func (t *PublickeyTable) MarshalJSON() ([]byte, error) {
	out := make([]pubkeyEntryJSON, 0, len(t.indices))
	for _, idx := range t.indices {
		out = append(out, pubkeyEntryJSON{
			Idx: uint32(idx),
			Key: schnorr.SerializePubKey(t.keys[idx]),
		})
	}
	return json.Marshal(out)
}

func (t *PublickeyTable) UnmarshalJSON(data []byte) error {
	var raw []pubkeyEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entries := make([]PublickeyEntry, 0, len(raw))
	for _, e := range raw {
		key, err := schnorr.ParsePubKey(e.Key)
		if err != nil {
			return fmt.Errorf("bridge: bad pubkey for operator %d: %w", e.Idx, err)
		}
		entries = append(entries, PublickeyEntry{Idx: types.OperatorIdx(e.Idx), Key: key})
	}
	parsed, err := NewPublickeyTable(entries)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
