package prover

import "fmt"

// ProvingTaskStatus is the lifecycle position of one proof task.
//
// WaitingForDependencies and Pending are the two entry states;
// Completed and Failed are terminal. The dependency set that gates
// WaitingForDependencies lives on the tracker entry, not here, so the
// status itself stays a plain comparable value.
type ProvingTaskStatus uint8

const (
	StatusWaitingForDependencies ProvingTaskStatus = iota + 1
	StatusPending
	StatusProvingInProgress
	StatusCompleted
	StatusFailed
)

func (s ProvingTaskStatus) String() string {
	switch s {
	case StatusWaitingForDependencies:
		return "waiting_for_dependencies"
	case StatusPending:
		return "pending"
	case StatusProvingInProgress:
		return "proving_in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s ProvingTaskStatus) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

func (s *ProvingTaskStatus) UnmarshalJSON(data []byte) error {
	for _, cand := range []ProvingTaskStatus{
		StatusWaitingForDependencies, StatusPending, StatusProvingInProgress,
		StatusCompleted, StatusFailed,
	} {
		if string(data) == fmt.Sprintf("%q", cand.String()) {
			*s = cand
			return nil
		}
	}
	return fmt.Errorf("unknown proving task status %s", data)
}

// transitionAllowed is the legality table. Failed is reachable from
// anywhere; everything else follows the single forward path, and
// leaving WaitingForDependencies additionally requires pendingDeps to
// have drained to zero.
func transitionAllowed(from ProvingTaskStatus, pendingDeps int, to ProvingTaskStatus) bool {
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusWaitingForDependencies:
		return to == StatusPending && pendingDeps == 0
	case StatusPending:
		return to == StatusProvingInProgress
	case StatusProvingInProgress:
		return to == StatusCompleted
	default:
		return false
	}
}
