package prover

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/common"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// blockingBackend parks Prove until released so tests can hold worker
// slots open deterministically.
type blockingBackend struct {
	release chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{release: make(chan struct{})}
}

func (b *blockingBackend) Id() zkvm.BackendId {
	return zkvm.BackendNative
}

func (b *blockingBackend) Prove(input []byte) (*zkvm.ProofReceipt, error) {
	<-b.release
	return &zkvm.ProofReceipt{
		Proof:        common.HexBytes{0x01},
		PublicValues: append(common.HexBytes(nil), input...),
	}, nil
}

func (b *blockingBackend) Verify(*zkvm.ProofReceipt, []byte) error {
	return nil
}

type failingBackend struct{}

func (failingBackend) Id() zkvm.BackendId {
	return zkvm.BackendNative
}

func (failingBackend) Prove([]byte) (*zkvm.ProofReceipt, error) {
	return nil, errors.New("constraint system unsatisfied")
}

func (failingBackend) Verify(*zkvm.ProofReceipt, []byte) error {
	return nil
}

func TestPoolAdmission(t *testing.T) {
	backend := newBlockingBackend()
	pool := NewProverPool(backend, 2)
	k1 := nativeKey(CheckpointContext(1))
	k2 := nativeKey(CheckpointContext(2))
	k3 := nativeKey(CheckpointContext(3))

	require.Equal(t, SubmittedForProving, pool.SubmitWitness(k1, []byte("w1")))
	require.Equal(t, SubmittedForProving, pool.SubmitWitness(k2, []byte("w2")))
	assert.Equal(t, 2, pool.Pending())

	// both slots held: new work bounces, known work dedups
	assert.Equal(t, Busy, pool.SubmitWitness(k3, []byte("w3")))
	assert.Equal(t, WitnessExist, pool.SubmitWitness(k1, []byte("w1")))

	close(backend.release)
	pool.Wait()
	assert.Equal(t, 0, pool.Pending())

	// slots free again, but finished ids stay taken until dropped
	assert.Equal(t, WitnessExist, pool.SubmitWitness(k1, []byte("w1")))
	require.Equal(t, SubmittedForProving, pool.SubmitWitness(k3, []byte("w3")))
	pool.Wait()

	pool.DropResult(k1)
	assert.Equal(t, SubmittedForProving, pool.SubmitWitness(k1, []byte("w1")))
	pool.Wait()

	assert.Positive(t, NewProverPool(backend, 0).Capacity())
}

func TestPoolDropKeepsRunning(t *testing.T) {
	backend := newBlockingBackend()
	pool := NewProverPool(backend, 1)
	key := nativeKey(CheckpointContext(1))

	require.Equal(t, SubmittedForProving, pool.SubmitWitness(key, []byte("w")))

	// dropping an unfinished task must not re-open its id
	pool.DropResult(key)
	assert.Equal(t, WitnessExist, pool.SubmitWitness(key, []byte("w")))

	close(backend.release)
	pool.Wait()
}

func TestPoolCollect(t *testing.T) {
	pool := NewProverPool(zkvm.NewNativeBackend(), 1)
	key := nativeKey(BtcBlockspanContext(100, 164))
	witness := []byte("span witness")

	_, err := pool.ProofStatus(key)
	var missing *WitnessNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, key, missing.Key)

	require.Equal(t, SubmittedForProving, pool.SubmitWitness(key, witness))
	pool.Wait()

	st, err := pool.ProofStatus(key)
	require.NoError(t, err)
	assert.Equal(t, ProofStatusCompleted, st)

	receipt, st, err := pool.CollectProof(key)
	require.NoError(t, err)
	require.Equal(t, ProofStatusCompleted, st)
	require.NotNil(t, receipt)
	assert.Equal(t, common.HexBytes(witness), receipt.PublicValues)
	assert.NoError(t, zkvm.NewNativeBackend().Verify(receipt, nil))

	// collect leaves the entry; only DropResult forgets it
	_, st, err = pool.CollectProof(key)
	require.NoError(t, err)
	assert.Equal(t, ProofStatusCompleted, st)
}

func TestPoolCollectInProgressAndFailure(t *testing.T) {
	backend := newBlockingBackend()
	pool := NewProverPool(backend, 1)
	key := nativeKey(CheckpointContext(1))

	require.Equal(t, SubmittedForProving, pool.SubmitWitness(key, []byte("w")))
	st, err := pool.ProofStatus(key)
	require.NoError(t, err)
	assert.Equal(t, ProofStatusInProgress, st)

	receipt, st, err := pool.CollectProof(key)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Equal(t, ProofStatusInProgress, st)

	close(backend.release)
	pool.Wait()

	failPool := NewProverPool(failingBackend{}, 1)
	require.Equal(t, SubmittedForProving, failPool.SubmitWitness(key, []byte("w")))
	failPool.Wait()

	receipt, st, err = failPool.CollectProof(key)
	assert.Nil(t, receipt)
	assert.Equal(t, ProofStatusCompleted, st)
	assert.ErrorContains(t, err, "constraint system unsatisfied")
}
