package motion

import (
	"fmt"
	"strings"
)

// StopCondition is the set of events that may end a move before its
// planned duration elapses.
type StopCondition uint8

const (
	StopNone            StopCondition = 0x0
	StopSyncLine        StopCondition = 0x1
	StopStall           StopCondition = 0x2
	StopLimitSwitch     StopCondition = 0x4
	StopEncoderPosition StopCondition = 0x8
	StopGripperForce    StopCondition = 0x10
	StopIgnoreStalls    StopCondition = 0x80
)

var stopConditionNames = []struct {
	flag StopCondition
	name string
}{
	{StopSyncLine, "sync_line"},
	{StopStall, "stall"},
	{StopLimitSwitch, "limit_switch"},
	{StopEncoderPosition, "encoder_position"},
	{StopGripperForce, "gripper_force"},
	{StopIgnoreStalls, "ignore_stalls"},
}

// Has reports whether every bit of flag is set.
func (c StopCondition) Has(flag StopCondition) bool {
	return flag != 0 && c&flag == flag
}

func (c StopCondition) String() string {
	if c == StopNone {
		return "none"
	}
	parts := make([]string, 0, 2)
	for _, n := range stopConditionNames {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseStopCondition OR-s together named flags.
func ParseStopCondition(names []string) (StopCondition, error) {
	var cond StopCondition
	for _, name := range names {
		if name == "none" {
			continue
		}
		found := false
		for _, n := range stopConditionNames {
			if n.name == name {
				cond |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown stop condition: %q", name)
		}
	}
	return cond, nil
}

type MoveType uint8

const (
	MoveTypeLinear MoveType = iota
	MoveTypeHome
)

type TipAction uint8

const (
	TipActionClamp TipAction = 0x0
	TipActionHome  TipAction = 0x1
)

type GripperMoveType uint8

const (
	GripperMoveHome GripperMoveType = iota
	GripperMoveGrip
	GripperMoveLinear
)

// MoveStep is one node's segment of a synchronized step. The set of
// implementations is closed: LinearStep, TipActionStep and GripperStep.
type MoveStep interface {
	Duration() float64
	Condition() StopCondition
	moveStep()
}

// LinearStep drives a stepper axis (gantry, head, pipette plunger).
type LinearStep struct {
	DistanceMM            float64
	VelocityMMPerSec      float64
	DurationSec           float64
	AccelerationMMPerSec2 float64
	StopCondition         StopCondition
	MoveType              MoveType
}

func (s LinearStep) Duration() float64         { return s.DurationSec }
func (s LinearStep) Condition() StopCondition { return s.StopCondition }
func (LinearStep) moveStep()                  {}

// TipActionStep drives the two gear motors of a tip pick-up mechanism.
// The firmware reports completion once per gear motor.
type TipActionStep struct {
	VelocityMMPerSec      float64
	DurationSec           float64
	AccelerationMMPerSec2 float64
	Action                TipAction
	StopCondition         StopCondition
}

func (s TipActionStep) Duration() float64         { return s.DurationSec }
func (s TipActionStep) Condition() StopCondition { return s.StopCondition }
func (TipActionStep) moveStep()                  {}

// GripperStep drives the brushed gripper jaw motor.
type GripperStep struct {
	DurationSec       float64
	PWMDutyCycle      float32
	EncoderPositionUM int32
	StopCondition     StopCondition
	MoveType          GripperMoveType
}

func (s GripperStep) Duration() float64         { return s.DurationSec }
func (s GripperStep) Condition() StopCondition { return s.StopCondition }
func (GripperStep) moveStep()                  {}

// ExpectedResponses is how many completion messages the firmware sends
// for one step.
func ExpectedResponses(step MoveStep) int {
	switch step.(type) {
	case TipActionStep, *TipActionStep:
		return 2
	default:
		return 1
	}
}
