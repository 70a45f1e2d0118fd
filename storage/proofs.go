package storage

import (
	"encoding/json"

	"github.com/alpenlabs/strata-sub002/prover"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// ProofStore persists proof receipts under (context, backend) and the
// dependency lists that describe composite proofs.
type ProofStore struct {
	ps *PersistenceStore
}

func NewProofStore(ps *PersistenceStore) *ProofStore {
	return &ProofStore{ps: ps}
}

func (s *ProofStore) GetProof(key prover.ProofKey) (*zkvm.ProofReceipt, error) {
	data, found, err := s.ps.Get(keyBytes(prefixProof, key.Bytes()))
	if err != nil || !found {
		return nil, err
	}
	receipt := new(zkvm.ProofReceipt)
	if err := json.Unmarshal(data, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *ProofStore) PutProof(key prover.ProofKey, receipt *zkvm.ProofReceipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return s.ps.Put(keyBytes(prefixProof, key.Bytes()), data)
}

func (s *ProofStore) GetProofDeps(ctx prover.ProofContext) ([]prover.ProofContext, error) {
	data, found, err := s.ps.Get(keyBytes(prefixProofDeps, ctx.Bytes()))
	if err != nil || !found {
		return nil, err
	}
	var deps []prover.ProofContext
	if err := json.Unmarshal(data, &deps); err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *ProofStore) PutProofDeps(ctx prover.ProofContext, deps []prover.ProofContext) error {
	data, err := json.Marshal(deps)
	if err != nil {
		return err
	}
	return s.ps.Put(keyBytes(prefixProofDeps, ctx.Bytes()), data)
}
