package prover

import (
	"bytes"
	"sort"
	"sync"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/zkvm"
)

type taskEntry struct {
	status ProvingTaskStatus
	// unresolved dependencies; non-empty exactly while status is
	// StatusWaitingForDependencies
	deps map[ProofKey]struct{}
}

// TaskTracker owns the proving task graph. All state sits behind one
// mutex: entries are small and contention is negligible next to
// proving latency, so per-entry locking would buy nothing.
//
// The tracker is pure bookkeeping. It never runs proofs; the pool does
// that, and the manager folds results back in through UpdateStatus.
type TaskTracker struct {
	mu         sync.Mutex
	tasks      map[ProofKey]*taskEntry
	inProgress map[zkvm.BackendId]int
}

func NewTaskTracker() *TaskTracker {
	return &TaskTracker{
		tasks:      make(map[ProofKey]*taskEntry),
		inProgress: make(map[zkvm.BackendId]int),
	}
}

// InsertTask registers a task. Dependencies already completed in the
// tracker are dropped on the spot, so inserting after a dependency
// finished does not wait on it; a task whose remaining set is empty
// starts Pending, otherwise WaitingForDependencies.
func (t *TaskTracker) InsertTask(key ProofKey, deps []ProofKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[key]; ok {
		return &TaskExistsError{Key: key}
	}

	remaining := make(map[ProofKey]struct{})
	for _, dep := range deps {
		if ent, ok := t.tasks[dep]; ok && ent.status == StatusCompleted {
			continue
		}
		remaining[dep] = struct{}{}
	}

	status := StatusPending
	if len(remaining) > 0 {
		status = StatusWaitingForDependencies
	}
	t.tasks[key] = &taskEntry{status: status, deps: remaining}
	log.Debug(log.ProverMonitoring, "task inserted",
		"task", key.String(), "status", status.String(), "deps", len(remaining))
	return nil
}

// UpdateStatus moves a task to a new status, enforcing the transition
// table. A move to Completed fans out: every waiting task drops the
// finished key from its dependency set and is promoted to Pending the
// moment the set drains. The fan-out is what lets a checkpoint task
// become runnable the instant its last sub-proof lands, with no
// polling.
func (t *TaskTracker) UpdateStatus(key ProofKey, to ProvingTaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ent, ok := t.tasks[key]
	if !ok {
		return &TaskUnknownError{Key: key}
	}
	if !transitionAllowed(ent.status, len(ent.deps), to) {
		return &TransitionError{Key: key, From: ent.status, To: to}
	}

	if ent.status == StatusProvingInProgress && to != StatusProvingInProgress {
		t.inProgress[key.Backend]--
	}
	if to == StatusProvingInProgress {
		t.inProgress[key.Backend]++
	}
	from := ent.status
	ent.status = to

	if to == StatusFailed {
		log.Warn(log.ProverMonitoring, "task failed",
			"task", key.String(), "from", from.String())
	} else {
		log.Debug(log.ProverMonitoring, "task status",
			"task", key.String(), "from", from.String(), "to", to.String())
	}

	if to == StatusCompleted {
		t.resolveDependency(key)
	}
	return nil
}

// resolveDependency removes key from every waiting task's dependency
// set. Requires t.mu held. Removal is idempotent: tasks that never
// depended on key are untouched.
func (t *TaskTracker) resolveDependency(key ProofKey) {
	for waiter, ent := range t.tasks {
		if ent.status != StatusWaitingForDependencies {
			continue
		}
		delete(ent.deps, key)
		if len(ent.deps) == 0 {
			ent.status = StatusPending
			log.Debug(log.ProverMonitoring, "task unblocked", "task", waiter.String())
		}
	}
}

func (t *TaskTracker) GetTaskStatus(key ProofKey) (ProvingTaskStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ent, ok := t.tasks[key]
	if !ok {
		return 0, &TaskUnknownError{Key: key}
	}
	return ent.status, nil
}

// GetTasksByStatus returns every task whose status satisfies pred, in
// stable key-byte order.
func (t *TaskTracker) GetTasksByStatus(pred func(ProvingTaskStatus) bool) []ProofKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ProofKey
	for key, ent := range t.tasks {
		if pred(ent.status) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

// InProgressCount reports how many of a backend's tasks are currently
// proving.
func (t *TaskTracker) InProgressCount(backend zkvm.BackendId) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inProgress[backend]
}

func (t *TaskTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
