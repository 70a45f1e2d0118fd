package l1

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/alpenlabs/strata-sub002/common"
)

// L1BlockId is a Bitcoin block hash in wire (internal) byte order. Its
// string form follows the usual reversed display convention.
type L1BlockId [32]byte

func L1BlockIdFromHash(h chainhash.Hash) L1BlockId {
	return L1BlockId(h)
}

func (id L1BlockId) ToChainhash() chainhash.Hash {
	return chainhash.Hash(id)
}

func (id L1BlockId) Bytes() []byte {
	return id[:]
}

func (id L1BlockId) String() string {
	h := chainhash.Hash(id)
	return h.String()
}

func (id L1BlockId) String_short() string {
	s := id.String()
	return s[:4] + ".." + s[60:]
}

func (id L1BlockId) IsZero() bool {
	return id == L1BlockId{}
}

func (id L1BlockId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *L1BlockId) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	h, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		return err
	}
	*id = L1BlockId(*h)
	return nil
}

// L1TxId is a Bitcoin transaction id in wire byte order.
type L1TxId [32]byte

func L1TxIdFromHash(h chainhash.Hash) L1TxId {
	return L1TxId(h)
}

func (id L1TxId) ToChainhash() chainhash.Hash {
	return chainhash.Hash(id)
}

func (id L1TxId) String() string {
	h := chainhash.Hash(id)
	return h.String()
}

func (id L1TxId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *L1TxId) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	h, err := chainhash.NewHashFromStr(hexStr)
	if err != nil {
		return err
	}
	*id = L1TxId(*h)
	return nil
}

// Hash returns the id as a generic 32-byte hash (wire order preserved).
func (id L1BlockId) Hash() common.Hash {
	return common.BytesToHash(id[:])
}

// OutputRef names a transaction output. It marshals as "txid:vout" with
// the txid in display order.
type OutputRef struct {
	Txid L1TxId
	Vout uint32
}

func OutputRefFromOutPoint(op wire.OutPoint) OutputRef {
	return OutputRef{Txid: L1TxIdFromHash(op.Hash), Vout: op.Index}
}

func (r OutputRef) ToOutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: r.Txid.ToChainhash(), Index: r.Vout}
}

func (r OutputRef) String() string {
	return fmt.Sprintf("%s:%d", r.Txid, r.Vout)
}

func (r OutputRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *OutputRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	sep := strings.LastIndexByte(s, ':')
	if sep < 0 {
		return fmt.Errorf("output ref %q missing vout separator", s)
	}
	h, err := chainhash.NewHashFromStr(s[:sep])
	if err != nil {
		return err
	}
	vout, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return err
	}
	r.Txid = L1TxId(*h)
	r.Vout = uint32(vout)
	return nil
}
