package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/streaming"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS move_runs (
	id           UUID PRIMARY KEY,
	plan_name    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS move_run_events (
	id         UUID PRIMARY KEY,
	run_id     UUID NOT NULL REFERENCES move_runs(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	group_id   INTEGER NOT NULL,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS move_run_events_run_id_idx ON move_run_events (run_id, created_at);
`

var ErrRunNotFound = errors.New("run not found")

// EnsureSchema creates the journal tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// RecordEvent journals a streamed run event. run.started creates the run
// row; run.completed and run.failed close it.
func (p *PostgresClient) RecordEvent(ctx context.Context, planName string, event *streaming.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.inTx(ctx, func(tx pgx.Tx) error {
		if event.Type == streaming.EventRunStarted {
			_, err := tx.Exec(ctx, `
				INSERT INTO move_runs (id, plan_name, status, started_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO NOTHING
			`, event.RunID, planName, string(StatusRunning), event.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert run: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO move_run_events (id, run_id, event_type, group_id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, event.ID, event.RunID, string(event.Type), event.GroupID, payload, event.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert run event: %w", err)
		}

		if status, final := finalStatus(event.Type); final {
			_, err = tx.Exec(ctx, `
				UPDATE move_runs
				SET status = $2, error = $3, completed_at = $4
				WHERE id = $1
			`, event.RunID, string(status), eventError(event), event.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to update run: %w", err)
			}
		}
		return nil
	})
}

func finalStatus(t streaming.EventType) (RunStatus, bool) {
	switch t {
	case streaming.EventRunCompleted:
		return StatusSuccess, true
	case streaming.EventRunFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

func eventError(event *streaming.Event) string {
	if msg, ok := event.Payload["error"].(string); ok {
		return msg
	}
	return ""
}

// GetRun loads one journaled run.
func (p *PostgresClient) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var (
		run         Run
		status      string
		completedAt *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, plan_name, status, error, started_at, completed_at
		FROM move_runs
		WHERE id = $1
	`, runID).Scan(&run.ID, &run.PlanName, &status, &run.Error, &run.StartedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	run.Status = RunStatus(status)
	run.CompletedAt = completedAt
	return &run, nil
}

// ListRunEvents returns a run's events in the order they happened.
func (p *PostgresClient) ListRunEvents(ctx context.Context, runID uuid.UUID) ([]RunEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, run_id, event_type, group_id, payload, created_at
		FROM move_run_events
		WHERE run_id = $1
		ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.EventType, &e.GroupID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
