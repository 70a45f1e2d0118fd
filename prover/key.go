// Package prover coordinates proof generation: a dependency-resolving
// task tracker, a bounded worker pool per proof backend, and a manager
// that wires checkpoint operations through both into the proof store.
package prover

import (
	"encoding/binary"
	"fmt"

	"github.com/alpenlabs/strata-sub002/zkvm"
)

// ProofContextKind discriminates what a proof covers.
type ProofContextKind uint8

const (
	// ContextBtcBlockspan proves L1 header continuity and filtered tx
	// inclusion over an inclusive height range.
	ContextBtcBlockspan ProofContextKind = iota + 1
	// ContextL2Batch proves the L2 state transition over one epoch's
	// slot range.
	ContextL2Batch
	// ContextCheckpoint proves a full checkpoint; depends on the span
	// and batch proofs for the same epoch.
	ContextCheckpoint
)

func (k ProofContextKind) String() string {
	switch k {
	case ContextBtcBlockspan:
		return "btcspan"
	case ContextL2Batch:
		return "l2batch"
	case ContextCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("context(%d)", uint8(k))
	}
}

func (k ProofContextKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.String())), nil
}

func (k *ProofContextKind) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"btcspan"`:
		*k = ContextBtcBlockspan
	case `"l2batch"`:
		*k = ContextL2Batch
	case `"checkpoint"`:
		*k = ContextCheckpoint
	default:
		return fmt.Errorf("unknown proof context kind %s", data)
	}
	return nil
}

// ProofContext names the statement a proof covers. It is a flat
// comparable struct so it can key maps; which fields are meaningful
// depends on Kind (heights for btcspan, epoch + slots for l2batch,
// epoch alone for checkpoint). Build via the constructors.
type ProofContext struct {
	Kind  ProofContextKind `json:"kind"`
	Epoch uint64           `json:"epoch,omitempty"`
	From  uint64           `json:"from,omitempty"`
	To    uint64           `json:"to,omitempty"`
}

func BtcBlockspanContext(fromHeight, toHeight uint64) ProofContext {
	return ProofContext{Kind: ContextBtcBlockspan, From: fromHeight, To: toHeight}
}

func L2BatchContext(epoch, firstSlot, lastSlot uint64) ProofContext {
	return ProofContext{Kind: ContextL2Batch, Epoch: epoch, From: firstSlot, To: lastSlot}
}

func CheckpointContext(epoch uint64) ProofContext {
	return ProofContext{Kind: ContextCheckpoint, Epoch: epoch}
}

func (c ProofContext) String() string {
	switch c.Kind {
	case ContextBtcBlockspan:
		return fmt.Sprintf("btcspan(%d..%d)", c.From, c.To)
	case ContextL2Batch:
		return fmt.Sprintf("l2batch(epoch %d, %d..%d)", c.Epoch, c.From, c.To)
	case ContextCheckpoint:
		return fmt.Sprintf("checkpoint(epoch %d)", c.Epoch)
	default:
		return fmt.Sprintf("%s(epoch %d, %d..%d)", c.Kind, c.Epoch, c.From, c.To)
	}
}

// Bytes is the stable storage encoding: kind byte followed by the
// kind's meaningful fields as big-endian u64. Two contexts encode
// equal iff they are equal.
func (c ProofContext) Bytes() []byte {
	out := []byte{byte(c.Kind)}
	switch c.Kind {
	case ContextBtcBlockspan:
		out = binary.BigEndian.AppendUint64(out, c.From)
		out = binary.BigEndian.AppendUint64(out, c.To)
	case ContextL2Batch:
		out = binary.BigEndian.AppendUint64(out, c.Epoch)
		out = binary.BigEndian.AppendUint64(out, c.From)
		out = binary.BigEndian.AppendUint64(out, c.To)
	case ContextCheckpoint:
		out = binary.BigEndian.AppendUint64(out, c.Epoch)
	default:
		out = binary.BigEndian.AppendUint64(out, c.Epoch)
		out = binary.BigEndian.AppendUint64(out, c.From)
		out = binary.BigEndian.AppendUint64(out, c.To)
	}
	return out
}

// ProofKey is the unit of task identity: one statement proven on one
// backend. The same context proven natively and via groth16 are
// distinct tasks with distinct proofs.
type ProofKey struct {
	Context ProofContext   `json:"context"`
	Backend zkvm.BackendId `json:"backend"`
}

func (k ProofKey) String() string {
	return fmt.Sprintf("%s/%s", k.Context, k.Backend)
}

// Bytes is the stable storage encoding: context bytes then backend
// byte.
func (k ProofKey) Bytes() []byte {
	return append(k.Context.Bytes(), byte(k.Backend))
}
