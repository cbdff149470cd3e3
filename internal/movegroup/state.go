package movegroup

import "fmt"

// RunnerState tracks whether the firmware holds this runner's moves.
type RunnerState int

const (
	StateNotPrepared RunnerState = iota
	StatePrepared
	StateExecuting
	StateDone
)

func (s RunnerState) String() string {
	switch s {
	case StateNotPrepared:
		return "NOT_PREPARED"
	case StatePrepared:
		return "PREPARED"
	case StateExecuting:
		return "EXECUTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

var runnerTransitions = map[RunnerState][]RunnerState{
	StateNotPrepared: {StatePrepared, StateNotPrepared},
	StatePrepared:    {StateExecuting},
	StateExecuting:   {StateDone},
	StateDone:        {StatePrepared, StateNotPrepared},
}

func validateTransition(from, to RunnerState) error {
	for _, allowed := range runnerTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	switch {
	case from == StatePrepared && to == StatePrepared:
		return ErrAlreadyPrepared
	case from == StateExecuting:
		return ErrRunnerBusy
	}
	return fmt.Errorf("invalid runner transition: %s -> %s", from, to)
}

// GroupState is the lifecycle of one group's execution.
type GroupState int

const (
	GroupIdle GroupState = iota
	GroupAwaitingAcks
	GroupSatisfied
	GroupFailed
)

func (s GroupState) String() string {
	switch s {
	case GroupIdle:
		return "IDLE"
	case GroupAwaitingAcks:
		return "AWAITING_ACKS"
	case GroupSatisfied:
		return "SATISFIED"
	case GroupFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
