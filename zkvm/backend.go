// Package zkvm abstracts proof generation and verification behind a
// per-backend capability interface. The node never branches on the
// concrete backend; it holds a Backend handle and calls through it.
package zkvm

import (
	"errors"
	"fmt"

	"github.com/alpenlabs/strata-sub002/common"
)

type BackendId uint8

const (
	BackendNative BackendId = iota
	BackendGroth16
)

func (b BackendId) String() string {
	switch b {
	case BackendNative:
		return "native"
	case BackendGroth16:
		return "groth16"
	default:
		return fmt.Sprintf("backend(%d)", uint8(b))
	}
}

func (b BackendId) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", b.String())), nil
}

func (b *BackendId) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"native"`:
		*b = BackendNative
	case `"groth16"`:
		*b = BackendGroth16
	default:
		return fmt.Errorf("unknown backend id %s", data)
	}
	return nil
}

// ProofReceipt is a proof blob together with the public values it
// commits to. PublicValues are raw protocol bytes; each backend decides
// how they bind into its proof system.
type ProofReceipt struct {
	Proof        common.HexBytes `json:"proof"`
	PublicValues common.HexBytes `json:"public_values"`
}

var (
	ErrProofMismatch      = errors.New("zkvm: proof does not verify")
	ErrMalformedProof     = errors.New("zkvm: malformed proof blob")
	ErrMalformedVk        = errors.New("zkvm: malformed verification key")
	ErrProvingUnsupported = errors.New("zkvm: backend cannot generate proofs")
)

// Backend is one proof system. Prove may be unsupported (verification
// only backends return ErrProvingUnsupported).
type Backend interface {
	Id() BackendId
	Prove(input []byte) (*ProofReceipt, error)
	Verify(receipt *ProofReceipt, vk []byte) error
}
