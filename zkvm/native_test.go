package zkvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeProveVerify(t *testing.T) {
	backend := NewNativeBackend()
	input := []byte("checkpoint public params")

	receipt, err := backend.Prove(input)
	require.NoError(t, err)
	require.NoError(t, backend.Verify(receipt, nil))

	// tampering with either side must fail verification
	bad := *receipt
	bad.Proof = append([]byte(nil), receipt.Proof...)
	bad.Proof[0] ^= 0xff
	assert.ErrorIs(t, backend.Verify(&bad, nil), ErrProofMismatch)

	bad = *receipt
	bad.PublicValues = []byte("other params")
	assert.ErrorIs(t, backend.Verify(&bad, nil), ErrProofMismatch)

	short := &ProofReceipt{Proof: []byte{1, 2, 3}, PublicValues: input}
	assert.ErrorIs(t, backend.Verify(short, nil), ErrMalformedProof)
}

func TestGroth16RejectsGarbage(t *testing.T) {
	v := NewGroth16Verifier()
	receipt := &ProofReceipt{Proof: []byte("not a proof"), PublicValues: []byte("x")}
	err := v.Verify(receipt, []byte("not a vk"))
	assert.ErrorIs(t, err, ErrMalformedVk)

	_, err = v.Prove([]byte("x"))
	assert.ErrorIs(t, err, ErrProvingUnsupported)
}

func TestBackendIdJSON(t *testing.T) {
	data, err := BackendGroth16.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"groth16"`, string(data))

	var id BackendId
	require.NoError(t, id.UnmarshalJSON(data))
	assert.Equal(t, BackendGroth16, id)
}
