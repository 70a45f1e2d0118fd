package prover

import (
	"errors"
	"fmt"
	"sync"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

// ProofStore persists finished proofs and the dependency lists that
// describe how composite proofs are assembled. Absent entries are
// (nil, nil), not errors.
type ProofStore interface {
	GetProof(key ProofKey) (*zkvm.ProofReceipt, error)
	PutProof(key ProofKey, receipt *zkvm.ProofReceipt) error
	GetProofDeps(ctx ProofContext) ([]ProofContext, error)
	PutProofDeps(ctx ProofContext, deps []ProofContext) error
}

// ProverManager ties the tracker, the per-backend pools, and the proof
// store into one pipeline: checkpoint operations create tasks, witness
// submissions dispatch to a pool, finished proofs are persisted and
// folded back into the tracker, where completion fan-out unblocks the
// tasks that waited on them.
type ProverManager struct {
	tracker *TaskTracker
	store   ProofStore
	pools   map[zkvm.BackendId]*ProverPool

	mu           sync.Mutex
	onCheckpoint func(ProofKey, *zkvm.ProofReceipt)
}

// NewProverManager wires one pool per backend; a later pool for a
// backend id replaces an earlier one.
func NewProverManager(store ProofStore, pools ...*ProverPool) *ProverManager {
	byBackend := make(map[zkvm.BackendId]*ProverPool, len(pools))
	for _, pool := range pools {
		byBackend[pool.Backend()] = pool
	}
	return &ProverManager{
		tracker: NewTaskTracker(),
		store:   store,
		pools:   byBackend,
	}
}

// OnCheckpointProof registers fn to run after a checkpoint proof has
// been persisted. The L1 writer hangs off this to post the checkpoint.
func (m *ProverManager) OnCheckpointProof(fn func(ProofKey, *zkvm.ProofReceipt)) {
	m.mu.Lock()
	m.onCheckpoint = fn
	m.mu.Unlock()
}

func (m *ProverManager) checkpointReady(key ProofKey, receipt *zkvm.ProofReceipt) {
	m.mu.Lock()
	fn := m.onCheckpoint
	m.mu.Unlock()
	if fn != nil {
		fn(key, receipt)
	}
}

func (m *ProverManager) pool(backend zkvm.BackendId) (*ProverPool, error) {
	pool, ok := m.pools[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBackendPool, backend)
	}
	return pool, nil
}

// insertIgnoreExists registers a task, treating a duplicate insert as
// success so task creation stays idempotent across restarts and
// repeated checkpoint observations.
func (m *ProverManager) insertIgnoreExists(key ProofKey, deps []ProofKey) error {
	err := m.tracker.InsertTask(key, deps)
	var exists *TaskExistsError
	if err != nil && !errors.As(err, &exists) {
		return err
	}
	return nil
}

// CreateCheckpointTasks lays out the proof work for one epoch's
// checkpoint: an L1 blockspan task, an L2 batch task, and the
// checkpoint task depending on whichever of the two is not already
// proven in the store. Returns all three keys; calling again for the
// same epoch is a no-op.
func (m *ProverManager) CreateCheckpointTasks(epoch, l1From, l1To, firstSlot, lastSlot uint64, backend zkvm.BackendId) ([]ProofKey, error) {
	span := BtcBlockspanContext(l1From, l1To)
	batch := L2BatchContext(epoch, firstSlot, lastSlot)
	checkpoint := CheckpointContext(epoch)

	if err := m.store.PutProofDeps(checkpoint, []ProofContext{span, batch}); err != nil {
		return nil, err
	}

	keys := make([]ProofKey, 0, 3)
	var deps []ProofKey
	for _, ctx := range []ProofContext{span, batch} {
		key := ProofKey{Context: ctx, Backend: backend}
		keys = append(keys, key)
		receipt, err := m.store.GetProof(key)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			continue
		}
		deps = append(deps, key)
		if err := m.insertIgnoreExists(key, nil); err != nil {
			return nil, err
		}
	}

	cpKey := ProofKey{Context: checkpoint, Backend: backend}
	keys = append(keys, cpKey)
	if err := m.insertIgnoreExists(cpKey, deps); err != nil {
		return nil, err
	}

	log.Info(log.ProverMonitoring, "checkpoint tasks created",
		"epoch", epoch, "backend", backend.String(), "open_deps", len(deps))
	return keys, nil
}

// SubmitWitness hands a task's witness to its backend pool. Busy and
// WitnessExist pass through as statuses; a task whose dependencies are
// unresolved (or that already failed) is a TransitionError, since the
// caller is trying to prove something that is not runnable.
func (m *ProverManager) SubmitWitness(key ProofKey, witness []byte) (WitnessSubmissionStatus, error) {
	receipt, err := m.store.GetProof(key)
	if err != nil {
		return 0, err
	}
	if receipt != nil {
		return WitnessExist, nil
	}

	pool, err := m.pool(key.Backend)
	if err != nil {
		return 0, err
	}

	// ad-hoc submissions start as Pending tasks
	if err := m.insertIgnoreExists(key, nil); err != nil {
		return 0, err
	}
	status, err := m.tracker.GetTaskStatus(key)
	if err != nil {
		return 0, err
	}
	switch status {
	case StatusPending:
	case StatusProvingInProgress, StatusCompleted:
		return WitnessExist, nil
	default:
		return 0, &TransitionError{Key: key, From: status, To: StatusProvingInProgress}
	}

	// the pool lock is the at-most-once gate under concurrent
	// submissions; only the winner advances the tracker
	switch st := pool.SubmitWitness(key, witness); st {
	case Busy:
		return Busy, nil
	case WitnessExist:
		return WitnessExist, nil
	}
	if err := m.tracker.UpdateStatus(key, StatusProvingInProgress); err != nil {
		return 0, err
	}
	return SubmittedForProving, nil
}

// CollectProof folds one task's pool result back in. A successful
// proof is persisted, the task completes (fanning out to waiters), and
// the pool entry is dropped. A backend failure marks the task Failed
// and surfaces the proving error alongside ProofStatusCompleted.
func (m *ProverManager) CollectProof(key ProofKey) (ProofProcessingStatus, error) {
	pool, err := m.pool(key.Backend)
	if err != nil {
		return 0, err
	}

	receipt, status, perr := pool.CollectProof(key)
	if status == 0 {
		return 0, perr
	}
	if status == ProofStatusInProgress {
		return ProofStatusInProgress, nil
	}
	if perr != nil {
		if uerr := m.tracker.UpdateStatus(key, StatusFailed); uerr != nil {
			log.Error(log.ProverMonitoring, "cannot fail task",
				"task", key.String(), "err", uerr)
		}
		pool.DropResult(key)
		return ProofStatusCompleted, perr
	}

	if err := m.store.PutProof(key, receipt); err != nil {
		return 0, err
	}
	if err := m.tracker.UpdateStatus(key, StatusCompleted); err != nil {
		return 0, err
	}
	pool.DropResult(key)
	log.Info(log.ProverMonitoring, "proof collected", "task", key.String())

	if key.Context.Kind == ContextCheckpoint {
		m.checkpointReady(key, receipt)
	}
	return ProofStatusCompleted, nil
}

// CollectInProgress sweeps every in-flight task of one backend,
// folding in those that finished. Proving failures count as collected
// (they resolved to Failed); only store or wiring errors abort the
// sweep. Returns how many tasks resolved.
func (m *ProverManager) CollectInProgress(backend zkvm.BackendId) (int, error) {
	keys := m.tracker.GetTasksByStatus(func(s ProvingTaskStatus) bool {
		return s == StatusProvingInProgress
	})

	collected := 0
	for _, key := range keys {
		if key.Backend != backend {
			continue
		}
		status, err := m.CollectProof(key)
		switch {
		case status == ProofStatusCompleted:
			collected++
		case status == ProofStatusInProgress:
		default:
			return collected, err
		}
	}
	return collected, nil
}

// PendingTasks lists runnable tasks for one backend in stable order.
// The caller builds their witnesses and submits them.
func (m *ProverManager) PendingTasks(backend zkvm.BackendId) []ProofKey {
	keys := m.tracker.GetTasksByStatus(func(s ProvingTaskStatus) bool {
		return s == StatusPending
	})
	var out []ProofKey
	for _, key := range keys {
		if key.Backend == backend {
			out = append(out, key)
		}
	}
	return out
}

func (m *ProverManager) TaskStatus(key ProofKey) (ProvingTaskStatus, error) {
	return m.tracker.GetTaskStatus(key)
}

func (m *ProverManager) TasksByStatus(pred func(ProvingTaskStatus) bool) []ProofKey {
	return m.tracker.GetTasksByStatus(pred)
}
