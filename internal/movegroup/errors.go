package movegroup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"go.uber.org/multierr"
)

var (
	ErrAlreadyPrepared = errors.New("movegroup: moves already uploaded, run them before preparing again")
	ErrRunnerBusy      = errors.New("movegroup: runner is executing")
	ErrGroupIDOverflow = errors.New("movegroup: group id exceeds 255")
	ErrGroupTooLarge   = errors.New("movegroup: group has more than 256 steps")
)

// MoveConditionNotMetError reports a move whose limit-switch stop
// condition never triggered.
type MoveConditionNotMetError struct {
	Node      types.NodeID
	GroupID   uint8
	SeqID     uint8
	Condition motion.StopCondition
	AckID     canbus.AckID
}

func (e *MoveConditionNotMetError) Error() string {
	return fmt.Sprintf("move condition not met: %s group %d seq %d requested %s but ended with %s",
		e.Node, e.GroupID, e.SeqID, e.Condition, e.AckID)
}

// Outstanding is a (node, seq_id) that did not report enough completions.
type Outstanding struct {
	Node     types.NodeID
	SeqID    uint8
	Received int
	Expected int
}

func (o Outstanding) String() string {
	if o.Expected > 1 {
		return fmt.Sprintf("%s seq %d (%d of %d responses)", o.Node, o.SeqID, o.Received, o.Expected)
	}
	return fmt.Sprintf("%s seq %d", o.Node, o.SeqID)
}

// MotionFailedError reports moves that never completed.
type MotionFailedError struct {
	GroupID     uint8
	Outstanding []Outstanding
	Unacked     []types.NodeID
	Timeout     bool
	Err         error
}

func (e *MotionFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "motion failed in group %d", e.GroupID)
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if len(e.Outstanding) > 0 {
		parts := make([]string, len(e.Outstanding))
		for i, o := range e.Outstanding {
			parts[i] = o.String()
		}
		fmt.Fprintf(&b, "; never reported: %s", strings.Join(parts, ", "))
	}
	if len(e.Unacked) > 0 {
		fmt.Fprintf(&b, "; execute not acknowledged by %v", e.Unacked)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *MotionFailedError) Unwrap() error { return e.Err }

// HardwareError is one ErrorMessage reported by a node.
type HardwareError struct {
	Node     types.NodeID
	Severity canbus.ErrorSeverity
	Code     canbus.ErrorCode
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s reported %s error %s", e.Node, e.Severity, e.Code)
}

// EnumeratedError aggregates every error observed during one group.
type EnumeratedError struct {
	GroupID uint8
	err     error
}

func newEnumeratedError(groupID uint8, errs ...error) *EnumeratedError {
	return &EnumeratedError{GroupID: groupID, err: multierr.Combine(errs...)}
}

func (e *EnumeratedError) Error() string {
	errs := e.Errors()
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("group %d failed with %d error(s): %s", e.GroupID, len(errs), strings.Join(parts, "; "))
}

// Errors lists the aggregated errors in the order they were observed.
func (e *EnumeratedError) Errors() []error {
	return multierr.Errors(e.err)
}

func (e *EnumeratedError) Unwrap() []error {
	return e.Errors()
}

// ErrorCode classifies a run error for machine-readable output.
func ErrorCode(err error) string {
	var (
		notMet     *MoveConditionNotMetError
		failed     *MotionFailedError
		enumerated *EnumeratedError
	)
	switch {
	case errors.As(err, &notMet):
		return "MOVE_CONDITION_NOT_MET"
	case errors.As(err, &enumerated):
		return "HARDWARE_ERROR"
	case errors.As(err, &failed):
		return "MOTION_FAILED"
	case errors.Is(err, canbus.ErrAckTimeout):
		return "ACK_TIMEOUT"
	case errors.Is(err, canbus.ErrRequestRejected):
		return "REQUEST_REJECTED"
	case errors.Is(err, ErrAlreadyPrepared), errors.Is(err, ErrRunnerBusy):
		return "RUNNER_STATE"
	case errors.Is(err, ErrGroupIDOverflow), errors.Is(err, ErrGroupTooLarge):
		return "PLAN_LIMIT"
	default:
		return "RUN_FAILED"
	}
}

// ErrorDetails extracts the structured context of a run error, or nil
// when the error carries none.
func ErrorDetails(err error) map[string]any {
	var (
		notMet     *MoveConditionNotMetError
		failed     *MotionFailedError
		enumerated *EnumeratedError
	)
	switch {
	case errors.As(err, &notMet):
		return map[string]any{
			"node":      notMet.Node.String(),
			"group_id":  notMet.GroupID,
			"seq_id":    notMet.SeqID,
			"condition": notMet.Condition.String(),
			"ack":       notMet.AckID.String(),
		}
	case errors.As(err, &enumerated):
		errs := enumerated.Errors()
		messages := make([]string, len(errs))
		for i, e := range errs {
			messages[i] = e.Error()
		}
		return map[string]any{
			"group_id": enumerated.GroupID,
			"errors":   messages,
		}
	case errors.As(err, &failed):
		details := map[string]any{
			"group_id": failed.GroupID,
			"timeout":  failed.Timeout,
		}
		if len(failed.Outstanding) > 0 {
			outstanding := make([]string, len(failed.Outstanding))
			for i, o := range failed.Outstanding {
				outstanding[i] = o.String()
			}
			details["outstanding"] = outstanding
		}
		if len(failed.Unacked) > 0 {
			unacked := make([]string, len(failed.Unacked))
			for i, n := range failed.Unacked {
				unacked[i] = n.String()
			}
			details["unacked"] = unacked
		}
		return details
	}
	return nil
}
