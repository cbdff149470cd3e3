package storage

import (
	"context"
	"os"
	"testing"

	"github.com/Opentrons/opentrons-sub010/internal/config"
	"github.com/Opentrons/opentrons-sub010/internal/streaming"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalStatus(t *testing.T) {
	status, final := finalStatus(streaming.EventRunCompleted)
	assert.True(t, final)
	assert.Equal(t, StatusSuccess, status)

	status, final = finalStatus(streaming.EventRunFailed)
	assert.True(t, final)
	assert.Equal(t, StatusFailed, status)

	_, final = finalStatus(streaming.EventGroupFailed)
	assert.False(t, final)
}

func TestEventError(t *testing.T) {
	e := streaming.NewEvent(uuid.New(), streaming.EventRunFailed, 3, map[string]any{"error": "boom"})
	assert.Equal(t, "boom", eventError(e))
	assert.Empty(t, eventError(streaming.NewEvent(uuid.New(), streaming.EventRunCompleted, -1, nil)))
}

// TestJournalRoundTrip needs a database; set MGR_TEST_DATABASE_HOST to run it.
func TestJournalRoundTrip(t *testing.T) {
	host := os.Getenv("MGR_TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("MGR_TEST_DATABASE_HOST not set")
	}

	ctx := context.Background()
	client, err := NewPostgresClient(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		Database: "movegroups",
		User:     "movegroups",
		Password: os.Getenv("MGR_TEST_DATABASE_PASSWORD"),
	})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureSchema(ctx))

	runID := uuid.New()
	for _, e := range []*streaming.Event{
		streaming.NewEvent(runID, streaming.EventRunStarted, -1, map[string]any{"groups": 1}),
		streaming.NewEvent(runID, streaming.EventGroupStarted, 0, nil),
		streaming.NewEvent(runID, streaming.EventGroupFailed, 0, map[string]any{"error": "timed out"}),
		streaming.NewEvent(runID, streaming.EventRunFailed, 0, map[string]any{"error": "timed out"}),
	} {
		require.NoError(t, client.RecordEvent(ctx, "journal-test", e))
	}

	run, err := client.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "timed out", run.Error)
	assert.Equal(t, "journal-test", run.PlanName)
	assert.NotNil(t, run.CompletedAt)

	events, err := client.ListRunEvents(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	_, err = client.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}
