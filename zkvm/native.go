package zkvm

import (
	"bytes"

	"github.com/alpenlabs/strata-sub002/common"
)

var nativeProofTag = []byte("strata-native-proof-v1")

// NativeBackend simulates proving by hashing: the "proof" for an input
// is a tagged digest over it. Verification recomputes the digest. Used
// on devnets and in tests where real proving is too slow; the rest of
// the pipeline is exercised unchanged.
type NativeBackend struct{}

func NewNativeBackend() *NativeBackend {
	return &NativeBackend{}
}

func (n *NativeBackend) Id() BackendId {
	return BackendNative
}

func (n *NativeBackend) Prove(input []byte) (*ProofReceipt, error) {
	digest := nativeDigest(input)
	return &ProofReceipt{
		Proof:        common.HexBytes(digest.Bytes()),
		PublicValues: append(common.HexBytes(nil), input...),
	}, nil
}

func (n *NativeBackend) Verify(receipt *ProofReceipt, vk []byte) error {
	// vk is meaningless for the simulation; accept any
	if len(receipt.Proof) != 32 {
		return ErrMalformedProof
	}
	want := nativeDigest(receipt.PublicValues)
	if !bytes.Equal(receipt.Proof, want.Bytes()) {
		return ErrProofMismatch
	}
	return nil
}

func nativeDigest(input []byte) common.Hash {
	buf := make([]byte, 0, len(nativeProofTag)+len(input))
	buf = append(buf, nativeProofTag...)
	buf = append(buf, input...)
	return common.Sha256(buf)
}
