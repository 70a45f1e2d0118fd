package consensus

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// processL1Checkpoint validates one checkpoint envelope payload pulled
// off L1. Anyone can write to L1, so a payload that fails to decode,
// carries a bad signature or a bad proof is rejected with a warning and
// a nil result. The only fatal outcome is a signed checkpoint whose
// epoch does not extend the confirmed sequence: that cannot come from
// an adversary, only from a broken sequencer.
func processL1Checkpoint(data []byte, expEpoch uint64, ref types.CheckpointL1Ref, p *params.Params) (*types.L1Checkpoint, error) {
	var signed types.SignedCheckpoint
	if err := json.Unmarshal(data, &signed); err != nil {
		log.Warn(log.CsmMonitoring, "rejecting malformed checkpoint payload", "l1_height", ref.L1Height, "err", err)
		return nil, nil
	}
	if !verifyCheckpointSig(&signed, p) {
		log.Warn(log.CsmMonitoring, "rejecting checkpoint with bad signature",
			"l1_height", ref.L1Height, "epoch", signed.Checkpoint.BatchInfo.Epoch)
		return nil, nil
	}

	ckpt := &signed.Checkpoint
	if ckpt.BatchInfo.Epoch != expEpoch {
		return nil, &EpochNotExtendError{Expected: expEpoch, Found: ckpt.BatchInfo.Epoch}
	}

	proved := false
	if !ckpt.HasProof() {
		if !p.ProofPublishMode.AllowEmptyProofs() {
			log.Warn(log.CsmMonitoring, "rejecting unproved checkpoint in strict mode", "epoch", ckpt.BatchInfo.Epoch)
			return nil, nil
		}
		log.Warn(log.CsmMonitoring, "accepting checkpoint without proof", "epoch", ckpt.BatchInfo.Epoch)
	} else {
		receipt := &zkvm.ProofReceipt{Proof: ckpt.Proof, PublicValues: ckpt.ProofPublicParams()}
		if err := zkvm.NewGroth16Verifier().Verify(receipt, p.RollupVk); err != nil {
			log.Warn(log.CsmMonitoring, "rejecting checkpoint with invalid proof", "epoch", ckpt.BatchInfo.Epoch, "err", err)
			return nil, nil
		}
		proved = true
	}

	return &types.L1Checkpoint{BatchInfo: ckpt.BatchInfo, L1Ref: ref, IsProved: proved}, nil
}

func verifyCheckpointSig(signed *types.SignedCheckpoint, p *params.Params) bool {
	pub, err := schnorr.ParsePubKey(p.CredRule[:])
	if err != nil {
		log.Error(log.CsmMonitoring, "unusable cred_rule pubkey in params", "err", err)
		return false
	}
	sig, err := schnorr.ParseSignature(signed.Sig[:])
	if err != nil {
		return false
	}
	hash := signed.Checkpoint.SigHash()
	return sig.Verify(hash[:], pub)
}

// SignCheckpoint wraps a checkpoint with the sequencer signature over
// its SigHash. The proof is deliberately outside the signed payload so
// it can be attached after signing.
func SignCheckpoint(ckpt *types.Checkpoint, priv *btcec.PrivateKey) (*types.SignedCheckpoint, error) {
	hash := ckpt.SigHash()
	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		return nil, err
	}
	var s types.SchnorrSig
	copy(s[:], sig.Serialize())
	return &types.SignedCheckpoint{Checkpoint: *ckpt, Sig: s}, nil
}

// SignL2Header wraps a block header with the sequencer signature over
// its id.
func SignL2Header(hdr *types.L2BlockHeader, priv *btcec.PrivateKey) (types.SignedL2BlockHeader, error) {
	id := hdr.Id()
	sig, err := schnorr.Sign(priv, id[:])
	if err != nil {
		return types.SignedL2BlockHeader{}, err
	}
	var s types.SchnorrSig
	copy(s[:], sig.Serialize())
	return types.SignedL2BlockHeader{Header: *hdr, Sig: s}, nil
}
