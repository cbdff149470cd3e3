package plan

import (
	"encoding/json"
	"fmt"
	"time"
)

// Plan is a declarative move plan: groups of steps, each step naming the
// move every participating node performs.
type Plan struct {
	Name         string       `json:"name,omitempty"`
	Description  string       `json:"description,omitempty"`
	StartGroup   uint8        `json:"start_group,omitempty"`
	IgnoreStalls bool         `json:"ignore_stalls,omitempty"`
	GroupTimeout Duration     `json:"group_timeout,omitempty"`
	Groups       [][]StepSpec `json:"groups"`
}

// StepSpec maps node names to their move in one step.
type StepSpec map[string]MoveSpec

// MoveSpec holds exactly one of the move kinds.
type MoveSpec struct {
	Linear    *LinearSpec    `json:"linear,omitempty"`
	TipAction *TipActionSpec `json:"tip_action,omitempty"`
	Gripper   *GripperSpec   `json:"gripper,omitempty"`
}

type LinearSpec struct {
	Distance      float64  `json:"distance,omitempty"`
	Velocity      float64  `json:"velocity,omitempty"`
	Acceleration  float64  `json:"acceleration,omitempty"`
	Duration      float64  `json:"duration"`
	StopCondition []string `json:"stop_condition,omitempty"`
	MoveType      string   `json:"move_type,omitempty"`
}

type TipActionSpec struct {
	Velocity      float64  `json:"velocity,omitempty"`
	Acceleration  float64  `json:"acceleration,omitempty"`
	Duration      float64  `json:"duration"`
	Action        string   `json:"action"`
	StopCondition []string `json:"stop_condition,omitempty"`
}

type GripperSpec struct {
	Duration          float64  `json:"duration"`
	DutyCycle         float32  `json:"duty_cycle,omitempty"`
	EncoderPositionUM int32    `json:"encoder_position_um,omitempty"`
	StopCondition     []string `json:"stop_condition,omitempty"`
	MoveType          string   `json:"move_type"`
}

// Duration is a wrapper around time.Duration that supports JSON string parsing
type Duration struct {
	time.Duration
}

// UnmarshalJSON parses duration from string like "2s", "100ms", or a
// number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration type: %T", value)
	}
}

// MarshalJSON serializes duration as string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
