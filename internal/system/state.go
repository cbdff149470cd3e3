package system

import (
	"encoding/json"
	"fmt"
	"time"
)

// SystemState is the lifecycle of the bus stack owned by a
// LifecycleManager.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

var stateNames = map[SystemState]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

func (s SystemState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s SystemState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// A failed driver open may still be shut down; a stopped stack is final.
var transitions = map[SystemState][]SystemState{
	StateInitializing: {StateRunning, StateError, StateStopping},
	StateRunning:      {StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {},
	StateError:        {StateStopping, StateStopped},
}

func ValidateTransition(from, to SystemState) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}

// Status is a point-in-time view of the bus stack.
type Status struct {
	State     SystemState `json:"state"`
	Driver    string      `json:"driver"`
	Interface string      `json:"interface,omitempty"`
	Journal   bool        `json:"journal"`
	Listeners int         `json:"listeners"`
	Since     time.Time   `json:"since"`
	Error     string      `json:"error,omitempty"`
}
