package zkvm

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"

	"github.com/alpenlabs/strata-sub002/common"
)

// Groth16Verifier checks BN254 Groth16 proofs whose single public input
// is the sha256 of the receipt's public values, reduced into the scalar
// field. That binding is what ties an externally produced proof to the
// checkpoint content it claims to cover. Proving happens off-node, so
// Prove is unsupported.
type Groth16Verifier struct{}

func NewGroth16Verifier() *Groth16Verifier {
	return &Groth16Verifier{}
}

func (g *Groth16Verifier) Id() BackendId {
	return BackendGroth16
}

func (g *Groth16Verifier) Prove(input []byte) (*ProofReceipt, error) {
	return nil, ErrProvingUnsupported
}

func (g *Groth16Verifier) Verify(receipt *ProofReceipt, vkBytes []byte) error {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedVk, err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(receipt.Proof)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	pub, err := publicWitnessFromDigest(common.Sha256(receipt.PublicValues))
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof, vk, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrProofMismatch, err)
	}
	return nil
}

func publicWitnessFromDigest(digest common.Hash) (witness.Witness, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	var elem fr.Element
	elem.SetBytes(digest.Bytes())

	vals := make(chan any, 1)
	vals <- elem
	close(vals)
	if err := w.Fill(1, 0, vals); err != nil {
		return nil, err
	}
	return w, nil
}
