package prover

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/strata-sub002/zkvm"
)

func nativeKey(ctx ProofContext) ProofKey {
	return ProofKey{Context: ctx, Backend: zkvm.BackendNative}
}

// completeTask runs a pending task through its full legal lifecycle.
func completeTask(t *testing.T, tr *TaskTracker, key ProofKey) {
	t.Helper()
	require.NoError(t, tr.UpdateStatus(key, StatusProvingInProgress))
	require.NoError(t, tr.UpdateStatus(key, StatusCompleted))
}

func TestInsertTaskStatuses(t *testing.T) {
	tr := NewTaskTracker()
	span := nativeKey(BtcBlockspanContext(100, 164))
	batch := nativeKey(L2BatchContext(3, 64, 127))
	cp := nativeKey(CheckpointContext(3))

	require.NoError(t, tr.InsertTask(span, nil))
	st, err := tr.GetTaskStatus(span)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	require.NoError(t, tr.InsertTask(cp, []ProofKey{span, batch}))
	st, err = tr.GetTaskStatus(cp)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingForDependencies, st)

	err = tr.InsertTask(span, nil)
	var exists *TaskExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, span, exists.Key)

	_, err = tr.GetTaskStatus(batch)
	var unknown *TaskUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, batch, unknown.Key)
}

func TestInsertTaskDropsCompletedDeps(t *testing.T) {
	tr := NewTaskTracker()
	span := nativeKey(BtcBlockspanContext(100, 164))
	batch := nativeKey(L2BatchContext(3, 64, 127))
	cp := nativeKey(CheckpointContext(3))

	require.NoError(t, tr.InsertTask(span, nil))
	completeTask(t, tr, span)

	// span resolved before the checkpoint task existed; only batch gates
	require.NoError(t, tr.InsertTask(batch, nil))
	require.NoError(t, tr.InsertTask(cp, []ProofKey{span, batch}))
	st, err := tr.GetTaskStatus(cp)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingForDependencies, st)

	completeTask(t, tr, batch)
	st, err = tr.GetTaskStatus(cp)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)

	// every dependency already done: starts out runnable
	cp2 := nativeKey(CheckpointContext(4))
	require.NoError(t, tr.InsertTask(cp2, []ProofKey{span, batch}))
	st, err = tr.GetTaskStatus(cp2)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
}

func TestUpdateStatusLegality(t *testing.T) {
	tr := NewTaskTracker()
	span := nativeKey(BtcBlockspanContext(100, 164))
	cp := nativeKey(CheckpointContext(3))
	require.NoError(t, tr.InsertTask(span, nil))
	require.NoError(t, tr.InsertTask(cp, []ProofKey{span}))

	err := tr.UpdateStatus(span, StatusCompleted)
	var trans *TransitionError
	require.ErrorAs(t, err, &trans)
	assert.Equal(t, StatusPending, trans.From)
	assert.Equal(t, StatusCompleted, trans.To)
	assert.Equal(t, span, trans.Key)

	// unresolved dependency blocks promotion
	err = tr.UpdateStatus(cp, StatusPending)
	require.ErrorAs(t, err, &trans)
	assert.Equal(t, StatusWaitingForDependencies, trans.From)

	err = tr.UpdateStatus(nativeKey(CheckpointContext(99)), StatusFailed)
	var unknown *TaskUnknownError
	require.ErrorAs(t, err, &unknown)

	// failure is reachable from anywhere, terminal states included
	require.NoError(t, tr.UpdateStatus(cp, StatusFailed))
	completeTask(t, tr, span)
	require.NoError(t, tr.UpdateStatus(span, StatusFailed))
}

func TestCompletionFanOutAllOrders(t *testing.T) {
	deps := []ProofKey{
		nativeKey(BtcBlockspanContext(100, 131)),
		nativeKey(BtcBlockspanContext(132, 164)),
		nativeKey(L2BatchContext(3, 64, 127)),
	}
	cp := nativeKey(CheckpointContext(3))

	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range perms {
		t.Run(fmt.Sprintf("order%v", perm), func(t *testing.T) {
			tr := NewTaskTracker()
			for _, dep := range deps {
				require.NoError(t, tr.InsertTask(dep, nil))
			}
			require.NoError(t, tr.InsertTask(cp, deps))

			// runnable only the instant the last dependency lands
			for i, pi := range perm {
				completeTask(t, tr, deps[pi])
				st, err := tr.GetTaskStatus(cp)
				require.NoError(t, err)
				if i < len(perm)-1 {
					assert.Equal(t, StatusWaitingForDependencies, st)
				} else {
					assert.Equal(t, StatusPending, st)
				}
			}
		})
	}
}

func TestFanOutLeavesUnrelatedWaiters(t *testing.T) {
	tr := NewTaskTracker()
	depA := nativeKey(BtcBlockspanContext(100, 131))
	depB := nativeKey(BtcBlockspanContext(132, 164))
	waiterA := nativeKey(CheckpointContext(1))
	waiterB := nativeKey(CheckpointContext(2))

	require.NoError(t, tr.InsertTask(depA, nil))
	require.NoError(t, tr.InsertTask(depB, nil))
	require.NoError(t, tr.InsertTask(waiterA, []ProofKey{depA}))
	require.NoError(t, tr.InsertTask(waiterB, []ProofKey{depB}))

	completeTask(t, tr, depA)

	st, err := tr.GetTaskStatus(waiterA)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
	st, err = tr.GetTaskStatus(waiterB)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingForDependencies, st)
}

func TestInProgressCounter(t *testing.T) {
	tr := NewTaskTracker()
	native := nativeKey(BtcBlockspanContext(100, 164))
	groth := ProofKey{Context: CheckpointContext(3), Backend: zkvm.BackendGroth16}
	require.NoError(t, tr.InsertTask(native, nil))
	require.NoError(t, tr.InsertTask(groth, nil))

	assert.Equal(t, 0, tr.InProgressCount(zkvm.BackendNative))

	require.NoError(t, tr.UpdateStatus(native, StatusProvingInProgress))
	require.NoError(t, tr.UpdateStatus(groth, StatusProvingInProgress))
	assert.Equal(t, 1, tr.InProgressCount(zkvm.BackendNative))
	assert.Equal(t, 1, tr.InProgressCount(zkvm.BackendGroth16))

	require.NoError(t, tr.UpdateStatus(native, StatusCompleted))
	assert.Equal(t, 0, tr.InProgressCount(zkvm.BackendNative))

	require.NoError(t, tr.UpdateStatus(groth, StatusFailed))
	assert.Equal(t, 0, tr.InProgressCount(zkvm.BackendGroth16))
}

func TestGetTasksByStatus(t *testing.T) {
	tr := NewTaskTracker()
	spanLow := nativeKey(BtcBlockspanContext(100, 131))
	spanHigh := nativeKey(BtcBlockspanContext(132, 164))
	cp := nativeKey(CheckpointContext(3))

	require.NoError(t, tr.InsertTask(spanHigh, nil))
	require.NoError(t, tr.InsertTask(spanLow, nil))
	require.NoError(t, tr.InsertTask(cp, []ProofKey{spanLow, spanHigh}))

	pending := tr.GetTasksByStatus(func(s ProvingTaskStatus) bool { return s == StatusPending })
	assert.Equal(t, []ProofKey{spanLow, spanHigh}, pending)

	waiting := tr.GetTasksByStatus(func(s ProvingTaskStatus) bool {
		return s == StatusWaitingForDependencies
	})
	assert.Equal(t, []ProofKey{cp}, waiting)

	assert.Empty(t, tr.GetTasksByStatus(func(s ProvingTaskStatus) bool { return s == StatusFailed }))
	assert.Equal(t, 3, tr.Len())
}
