package storage

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// Run is one execution of a move plan.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	PlanName    string     `json:"plan_name"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunEvent is a journaled lifecycle event of a run.
type RunEvent struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	EventType string    `json:"event_type"`
	GroupID   int       `json:"group_id"`
	Payload   []byte    `json:"payload"` // JSONB
	CreatedAt time.Time `json:"created_at"`
}
