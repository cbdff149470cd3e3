package movegroup

import (
	"fmt"
	"math"

	"github.com/Opentrons/opentrons-sub010/internal/canbus"
	"github.com/Opentrons/opentrons-sub010/internal/motion"
)

// Rates are the firmware tick rates used for fixed point encoding.
type Rates struct {
	InterruptsPerSec        float64
	BrushedInterruptsPerSec float64
}

func (r Rates) withDefaults() Rates {
	if r.InterruptsPerSec <= 0 {
		r.InterruptsPerSec = motion.DefaultInterruptsPerSec
	}
	if r.BrushedInterruptsPerSec <= 0 {
		r.BrushedInterruptsPerSec = motion.DefaultBrushedInterruptsPerSec
	}
	return r
}

// encodeStep builds the upload request for one node's step.
func encodeStep(step motion.MoveStep, groupID, seqID uint8, rates Rates, ignoreStalls bool) (canbus.Message, error) {
	cond := func(c motion.StopCondition) uint8 {
		if ignoreStalls {
			c |= motion.StopIgnoreStalls
		}
		return uint8(c)
	}

	switch s := step.(type) {
	case motion.LinearStep:
		return encodeLinear(s, groupID, seqID, rates, cond), nil
	case *motion.LinearStep:
		return encodeLinear(*s, groupID, seqID, rates, cond), nil
	case motion.TipActionStep:
		return encodeTipAction(s, groupID, seqID, rates, cond), nil
	case *motion.TipActionStep:
		return encodeTipAction(*s, groupID, seqID, rates, cond), nil
	case motion.GripperStep:
		return encodeGripper(s, groupID, seqID, rates, cond)
	case *motion.GripperStep:
		return encodeGripper(*s, groupID, seqID, rates, cond)
	default:
		return nil, fmt.Errorf("unsupported move step %T", step)
	}
}

func encodeLinear(s motion.LinearStep, groupID, seqID uint8, rates Rates, cond func(motion.StopCondition) uint8) canbus.Message {
	if s.MoveType == motion.MoveTypeHome {
		return &canbus.HomeRequest{
			GroupID:  groupID,
			SeqID:    seqID,
			Duration: motion.DurationWire(s.DurationSec, rates.InterruptsPerSec),
			Velocity: motion.VelocityWire(s.VelocityMMPerSec, rates.InterruptsPerSec),
		}
	}
	return &canbus.AddLinearMoveRequest{
		GroupID:              groupID,
		SeqID:                seqID,
		Duration:             motion.DurationWire(s.DurationSec, rates.InterruptsPerSec),
		Acceleration:         motion.AccelerationWire(s.AccelerationMMPerSec2, rates.InterruptsPerSec),
		Velocity:             motion.VelocityWire(s.VelocityMMPerSec, rates.InterruptsPerSec),
		RequestStopCondition: cond(s.StopCondition),
	}
}

func encodeTipAction(s motion.TipActionStep, groupID, seqID uint8, rates Rates, cond func(motion.StopCondition) uint8) canbus.Message {
	return &canbus.TipActionRequest{
		GroupID:              groupID,
		SeqID:                seqID,
		Duration:             motion.DurationWire(s.DurationSec, rates.InterruptsPerSec),
		Velocity:             motion.VelocityWire(s.VelocityMMPerSec, rates.InterruptsPerSec),
		Action:               uint8(s.Action),
		RequestStopCondition: cond(s.StopCondition),
		Acceleration:         motion.AccelerationWire(s.AccelerationMMPerSec2, rates.InterruptsPerSec),
	}
}

func encodeGripper(s motion.GripperStep, groupID, seqID uint8, rates Rates, cond func(motion.StopCondition) uint8) (canbus.Message, error) {
	duration := motion.DurationWire(s.DurationSec, rates.BrushedInterruptsPerSec)
	duty := uint32(math.Round(float64(s.PWMDutyCycle)))

	switch s.MoveType {
	case motion.GripperMoveHome:
		return &canbus.GripperHomeRequest{
			GroupID:   groupID,
			SeqID:     seqID,
			Duration:  duration,
			DutyCycle: duty,
		}, nil
	case motion.GripperMoveGrip:
		return &canbus.GripperGripRequest{
			GroupID:           groupID,
			SeqID:             seqID,
			Duration:          duration,
			DutyCycle:         duty,
			EncoderPositionUM: s.EncoderPositionUM,
		}, nil
	case motion.GripperMoveLinear:
		return &canbus.AddBrushedLinearMoveRequest{
			GroupID:              groupID,
			SeqID:                seqID,
			Duration:             duration,
			DutyCycle:            duty,
			EncoderPositionUM:    s.EncoderPositionUM,
			RequestStopCondition: cond(s.StopCondition),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported gripper move type %d", s.MoveType)
	}
}
