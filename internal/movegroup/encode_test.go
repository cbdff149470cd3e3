package movegroup

import (
	"testing"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStep(t *testing.T) {
	rates := Rates{}.withDefaults()

	tests := []struct {
		name         string
		step         motion.MoveStep
		ignoreStalls bool
		want         canbus.Message
	}{
		{
			name: "linear",
			step: motion.LinearStep{VelocityMMPerSec: 2, DurationSec: 1, AccelerationMMPerSec2: 1000, StopCondition: motion.StopSyncLine},
			want: &canbus.AddLinearMoveRequest{
				GroupID:              3,
				SeqID:                1,
				Duration:             100000,
				Acceleration:         214748,
				Velocity:             42950,
				RequestStopCondition: uint8(motion.StopSyncLine),
			},
		},
		{
			name:         "linear ignoring stalls",
			step:         &motion.LinearStep{VelocityMMPerSec: 0.5, DurationSec: 0.25},
			ignoreStalls: true,
			want: &canbus.AddLinearMoveRequest{
				GroupID:              3,
				SeqID:                1,
				Duration:             25000,
				Velocity:             10737,
				RequestStopCondition: uint8(motion.StopIgnoreStalls),
			},
		},
		{
			name: "home",
			step: motion.LinearStep{VelocityMMPerSec: -10, DurationSec: 1, MoveType: motion.MoveTypeHome},
			want: &canbus.HomeRequest{GroupID: 3, SeqID: 1, Duration: 100000, Velocity: -214748},
		},
		{
			name: "tip action",
			step: motion.TipActionStep{VelocityMMPerSec: 2, DurationSec: 1, AccelerationMMPerSec2: 250, Action: motion.TipActionHome, StopCondition: motion.StopLimitSwitch},
			want: &canbus.TipActionRequest{
				GroupID:              3,
				SeqID:                1,
				Duration:             100000,
				Velocity:             42950,
				Action:               uint8(motion.TipActionHome),
				RequestStopCondition: uint8(motion.StopLimitSwitch),
				Acceleration:         53687,
			},
		},
		{
			name: "gripper home",
			step: motion.GripperStep{DurationSec: 1, PWMDutyCycle: 49.6, MoveType: motion.GripperMoveHome},
			want: &canbus.GripperHomeRequest{GroupID: 3, SeqID: 1, Duration: 32000, DutyCycle: 50},
		},
		{
			name: "gripper grip",
			step: motion.GripperStep{DurationSec: 0.5, PWMDutyCycle: 30, EncoderPositionUM: 12000, MoveType: motion.GripperMoveGrip},
			want: &canbus.GripperGripRequest{GroupID: 3, SeqID: 1, Duration: 16000, DutyCycle: 30, EncoderPositionUM: 12000},
		},
		{
			name: "gripper linear",
			step: motion.GripperStep{DurationSec: 1, PWMDutyCycle: 20, EncoderPositionUM: -500, StopCondition: motion.StopEncoderPosition, MoveType: motion.GripperMoveLinear},
			want: &canbus.AddBrushedLinearMoveRequest{
				GroupID:              3,
				SeqID:                1,
				Duration:             32000,
				DutyCycle:            20,
				EncoderPositionUM:    -500,
				RequestStopCondition: uint8(motion.StopEncoderPosition),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeStep(tt.step, 3, 1, rates, tt.ignoreStalls)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeStepRejectsUnknownGripperMove(t *testing.T) {
	_, err := encodeStep(motion.GripperStep{MoveType: 9}, 0, 0, Rates{}.withDefaults(), false)
	assert.Error(t, err)
}
