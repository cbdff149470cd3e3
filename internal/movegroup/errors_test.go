package movegroup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestEnumeratedErrorUnwraps(t *testing.T) {
	hw := &HardwareError{Node: types.NodeGantryX, Severity: canbus.SeverityRecoverable, Code: canbus.ErrorCodeCollisionDetected}
	timeout := &MotionFailedError{GroupID: 2, Timeout: true, Outstanding: []Outstanding{{Node: types.NodeHead, SeqID: 1, Expected: 1}}}

	err := newEnumeratedError(2, hw, timeout)
	assert.Len(t, err.Errors(), 2)

	var gotHW *HardwareError
	assert.ErrorAs(t, err, &gotHW)
	var gotTimeout *MotionFailedError
	assert.ErrorAs(t, err, &gotTimeout)
	assert.Contains(t, err.Error(), "group 2 failed with 2 error(s)")
	assert.Contains(t, err.Error(), "head seq 1")
}

func TestMotionFailedErrorMessage(t *testing.T) {
	err := &MotionFailedError{
		GroupID:     0,
		Timeout:     true,
		Outstanding: []Outstanding{{Node: types.NodePipetteLeft, SeqID: 0, Received: 1, Expected: 2}},
		Unacked:     []types.NodeID{types.NodeGantryY},
	}
	assert.Equal(t,
		"motion failed in group 0: timed out; never reported: pipette_left seq 0 (1 of 2 responses); execute not acknowledged by [gantry_y]",
		err.Error())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&MoveConditionNotMetError{Node: types.NodeHead, Condition: motion.StopLimitSwitch}, "MOVE_CONDITION_NOT_MET"},
		{&MotionFailedError{Timeout: true}, "MOTION_FAILED"},
		{newEnumeratedError(1, &HardwareError{}), "HARDWARE_ERROR"},
		{fmt.Errorf("failed to clear move groups: %w", canbus.ErrAckTimeout), "ACK_TIMEOUT"},
		{canbus.ErrRequestRejected, "REQUEST_REJECTED"},
		{ErrAlreadyPrepared, "RUNNER_STATE"},
		{fmt.Errorf("upload: %w", ErrGroupTooLarge), "PLAN_LIMIT"},
		{errors.New("other"), "RUN_FAILED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestErrorDetails(t *testing.T) {
	notMet := ErrorDetails(fmt.Errorf("run: %w", &MoveConditionNotMetError{
		Node:      types.NodeGantryX,
		GroupID:   3,
		SeqID:     1,
		Condition: motion.StopLimitSwitch,
		AckID:     canbus.AckCompleteWithoutCondition,
	}))
	assert.Equal(t, "gantry_x", notMet["node"])
	assert.Equal(t, uint8(3), notMet["group_id"])
	assert.Equal(t, uint8(1), notMet["seq_id"])

	failed := ErrorDetails(&MotionFailedError{
		GroupID:     2,
		Timeout:     true,
		Outstanding: []Outstanding{{Node: types.NodeHead, SeqID: 0, Expected: 1}},
		Unacked:     []types.NodeID{types.NodeGantryY},
	})
	assert.Equal(t, true, failed["timeout"])
	assert.Equal(t, []string{"head seq 0"}, failed["outstanding"])
	assert.Equal(t, []string{"gantry_y"}, failed["unacked"])

	hw := ErrorDetails(newEnumeratedError(4, &HardwareError{Node: types.NodeHead, Severity: canbus.SeverityRecoverable, Code: canbus.ErrorCodeCollisionDetected}))
	assert.Equal(t, uint8(4), hw["group_id"])
	assert.Len(t, hw["errors"], 1)

	assert.Nil(t, ErrorDetails(errors.New("other")))
}
