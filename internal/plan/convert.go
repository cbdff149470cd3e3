package plan

import (
	"fmt"

	"github.com/Opentrons/opentrons-sub010/internal/motion"
	"github.com/Opentrons/opentrons-sub010/internal/types"
)

// MoveGroups converts the plan into the motion model.
func (p *Plan) MoveGroups() (motion.MoveGroups, error) {
	groups := make(motion.MoveGroups, len(p.Groups))
	for gi, group := range p.Groups {
		mg := make(motion.MoveGroup, len(group))
		for si, step := range group {
			ms := make(motion.Step, len(step))
			for name, spec := range step {
				node, err := types.ParseNodeID(name)
				if err != nil {
					return nil, fmt.Errorf("groups[%d][%d]: %w", gi, si, err)
				}
				move, err := spec.toMoveStep()
				if err != nil {
					return nil, fmt.Errorf("groups[%d][%d].%s: %w", gi, si, name, err)
				}
				ms[node] = move
			}
			mg[si] = ms
		}
		groups[gi] = mg
	}
	return groups, nil
}

func (m MoveSpec) toMoveStep() (motion.MoveStep, error) {
	switch {
	case m.Linear != nil:
		return m.Linear.toStep()
	case m.TipAction != nil:
		return m.TipAction.toStep()
	case m.Gripper != nil:
		return m.Gripper.toStep()
	default:
		return nil, fmt.Errorf("move has no linear, tip_action or gripper body")
	}
}

func (s *LinearSpec) toStep() (motion.MoveStep, error) {
	cond, err := motion.ParseStopCondition(s.StopCondition)
	if err != nil {
		return nil, err
	}
	step := motion.LinearStep{
		DistanceMM:            s.Distance,
		VelocityMMPerSec:      s.Velocity,
		DurationSec:           s.Duration,
		AccelerationMMPerSec2: s.Acceleration,
		StopCondition:         cond,
		MoveType:              motion.MoveTypeLinear,
	}
	switch s.MoveType {
	case "", "linear":
	case "home":
		step.MoveType = motion.MoveTypeHome
		step.StopCondition |= motion.StopLimitSwitch
	default:
		return nil, fmt.Errorf("unknown move_type %q", s.MoveType)
	}
	return step, nil
}

func (s *TipActionSpec) toStep() (motion.MoveStep, error) {
	cond, err := motion.ParseStopCondition(s.StopCondition)
	if err != nil {
		return nil, err
	}
	step := motion.TipActionStep{
		VelocityMMPerSec:      s.Velocity,
		DurationSec:           s.Duration,
		AccelerationMMPerSec2: s.Acceleration,
		StopCondition:         cond,
	}
	switch s.Action {
	case "clamp":
		step.Action = motion.TipActionClamp
	case "home":
		step.Action = motion.TipActionHome
	default:
		return nil, fmt.Errorf("unknown tip action %q", s.Action)
	}
	return step, nil
}

func (s *GripperSpec) toStep() (motion.MoveStep, error) {
	cond, err := motion.ParseStopCondition(s.StopCondition)
	if err != nil {
		return nil, err
	}
	step := motion.GripperStep{
		DurationSec:       s.Duration,
		PWMDutyCycle:      s.DutyCycle,
		EncoderPositionUM: s.EncoderPositionUM,
		StopCondition:     cond,
	}
	switch s.MoveType {
	case "home":
		step.MoveType = motion.GripperMoveHome
	case "grip":
		step.MoveType = motion.GripperMoveGrip
	case "linear":
		step.MoveType = motion.GripperMoveLinear
	default:
		return nil, fmt.Errorf("unknown gripper move_type %q", s.MoveType)
	}
	return step, nil
}
