package consensus

import (
	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/params"
	"github.com/alpenlabs/strata-sub002/types"
)

// EpochCheckIn runs the per-epoch deposit bookkeeping at an epoch
// boundary: binds every pending withdrawal intent to an accepted
// deposit with a deterministically drawn operator, reassigns dispatches
// whose deadline lapsed, and retires executed deposits. Deterministic
// given the chainstate; every validating node computes the identical
// assignment sequence.
func EpochCheckIn(state *types.Chainstate, curL1Height uint64, p *params.Params) error {
	operators := state.OperatorTable.IndicesIter()
	if len(operators) == 0 {
		if len(state.PendingWithdrawals) > 0 {
			return &InsufficientDepositsError{Assigned: 0, Ready: len(state.PendingWithdrawals)}
		}
		return nil
	}

	seed := SlotRngSeed(state.CurSlot, state.SafeL1Blkid.Hash())
	rng := NewSlotRng(seed)

	ready := len(state.PendingWithdrawals)
	assigned := 0
	var retire []uint32

	state.DepositsTable.Iter(func(entry *types.DepositEntry) {
		switch entry.State {
		case types.DepositAccepted:
			if assigned >= ready {
				return
			}
			intent := &state.PendingWithdrawals[assigned]
			cmd := types.NewDispatchCommandForIntent(intent)
			pos := rng.PickUniform(uint32(len(operators)))
			entry.State = types.DepositDispatched
			entry.Assignee = operators[pos]
			entry.ExecDeadline = curL1Height + uint64(p.DispatchAssignmentDur)
			entry.Dispatch = &cmd
			assigned++
			log.Info(log.ChainMonitoring, "dispatched withdrawal",
				"deposit", entry.Idx, "assignee", uint32(entry.Assignee),
				"amt", cmd.TotalAmt(), "deadline", entry.ExecDeadline)

		case types.DepositDispatched:
			if curL1Height <= entry.ExecDeadline {
				return
			}
			reassignDeposit(entry, operators, rng, curL1Height, p)

		case types.DepositExecuted:
			retire = append(retire, entry.Idx)
		}
	})

	for _, idx := range retire {
		state.DepositsTable.Remove(idx)
		log.Info(log.ChainMonitoring, "retired executed deposit", "idx", idx)
	}
	state.PendingWithdrawals = state.PendingWithdrawals[assigned:]

	// deposit accounting keeps accepted deposits >= queued intents, so
	// a shortfall here is a state-corruption bug
	if assigned != ready {
		return &InsufficientDepositsError{Assigned: assigned, Ready: ready}
	}
	return nil
}

// reassignDeposit moves a lapsed dispatch to a different operator,
// drawn uniformly over the other n-1 so no operator is favored. With a
// single operator there is nobody else; the deadline resets and the
// same operator keeps the duty.
func reassignDeposit(entry *types.DepositEntry, operators []types.OperatorIdx, rng *SlotRng, curL1Height uint64, p *params.Params) {
	n := uint32(len(operators))
	entry.ExecDeadline = curL1Height + uint64(p.DispatchAssignmentDur)
	if n == 1 {
		log.Warn(log.ChainMonitoring, "dispatch deadline lapsed with single operator, keeping assignment",
			"deposit", entry.Idx, "assignee", uint32(entry.Assignee))
		return
	}
	curPos := uint32(0)
	found := false
	for i, idx := range operators {
		if idx == entry.Assignee {
			curPos = uint32(i)
			found = true
			break
		}
	}
	if !found {
		// assignee left the operator set; any current operator works
		entry.Assignee = operators[rng.PickUniform(n)]
	} else {
		next := (curPos + 1 + rng.PickUniform(n-1)) % n
		entry.Assignee = operators[next]
	}
	log.Info(log.ChainMonitoring, "reassigned lapsed dispatch",
		"deposit", entry.Idx, "assignee", uint32(entry.Assignee), "deadline", entry.ExecDeadline)
}
