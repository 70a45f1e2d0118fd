package prover

import (
	"errors"
	"fmt"
)

var ErrNoBackendPool = errors.New("prover: no pool for backend")

// TransitionError: an illegal status move was attempted. Carries both
// ends so the caller can tell a premature promotion from a retry of a
// terminal task.
type TransitionError struct {
	Key  ProofKey
	From ProvingTaskStatus
	To   ProvingTaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("prover: illegal transition %s -> %s for %s", e.From, e.To, e.Key)
}

// TaskExistsError: a task id was inserted twice.
type TaskExistsError struct {
	Key ProofKey
}

func (e *TaskExistsError) Error() string {
	return fmt.Sprintf("prover: task %s already exists", e.Key)
}

// TaskUnknownError: an operation referenced a task the tracker never
// saw.
type TaskUnknownError struct {
	Key ProofKey
}

func (e *TaskUnknownError) Error() string {
	return fmt.Sprintf("prover: unknown task %s", e.Key)
}

// WitnessNotFoundError: a result lookup for a task id the pool holds
// nothing for.
type WitnessNotFoundError struct {
	Key ProofKey
}

func (e *WitnessNotFoundError) Error() string {
	return fmt.Sprintf("prover: no witness submitted for %s", e.Key)
}
