package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow-io/sagaflow/pkg/saga"
	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func noopExecutor(_ context.Context, _ string, payload any) (any, error) {
	return payload, nil
}

// runSaga executes a two-task linear DAG with the store wired as the
// engine's sink, so executions and checkpoints land in the database.
func runSaga(t *testing.T, s *LibSQLStore, workflowID string) *saga.Execution {
	t.Helper()

	d := saga.NewDAG()
	for _, id := range []string{"reserve", "charge"} {
		require.NoError(t, d.AddTask(&saga.Task{
			ID:             id,
			Execute:        noopExecutor,
			IdempotencyKey: "key-" + id,
			Payload:        map[string]any{"task": id},
		}))
	}
	require.NoError(t, d.AddEdge("reserve", "charge"))

	eng := saga.NewEngine(saga.Config{}, saga.WithSink(s))
	defer eng.Shutdown()

	exec, err := eng.Execute(context.Background(), workflowID, d)
	require.NoError(t, err)
	return exec
}

// --- Execution Tests ---

func TestSaveAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := runSaga(t, s, "wf-orders")

	got, err := s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, exec.ExecutionID, got.ExecutionID)
	assert.Equal(t, "wf-orders", got.WorkflowID)
	assert.Equal(t, schema.PhaseComplete, got.Phase)
	assert.Empty(t, got.FailedTask)
	assert.Equal(t, schema.TaskSucceeded, got.States["reserve"])
	assert.Equal(t, schema.TaskSucceeded, got.States["charge"])
	require.NotNil(t, got.CompletedAt)
}

func TestGetExecution_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetExecution(context.Background(), "nonexistent")
	require.Error(t, err)
	sagaErr, ok := err.(*schema.SagaError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, sagaErr.Code)
}

func TestListExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := runSaga(t, s, "wf-orders")
	second := runSaga(t, s, "wf-orders")
	runSaga(t, s, "wf-other")

	records, err := s.ListExecutions(ctx, "wf-orders")
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].ExecutionID, records[1].ExecutionID}
	assert.Contains(t, ids, first.ExecutionID)
	assert.Contains(t, ids, second.ExecutionID)
}

// --- Checkpoint Tests ---

func TestCheckpointsPersistedViaSink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := runSaga(t, s, "wf-orders")

	checkpoints, err := s.ListCheckpoints(ctx, exec.ExecutionID)
	require.NoError(t, err)
	// Default interval checkpoints after every completion.
	require.Len(t, checkpoints, 2)
	last := checkpoints[len(checkpoints)-1]
	assert.Equal(t, exec.ExecutionID, last.ExecutionID)
	assert.ElementsMatch(t, []string{"reserve", "charge"}, last.Succeeded)
}

func TestSaveAndListCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := &saga.Checkpoint{
		CheckpointID: uuid.NewString(),
		WorkflowID:   "wf-orders",
		ExecutionID:  uuid.NewString(),
		Phase:        schema.PhaseForward,
		Succeeded:    []string{"reserve"},
		Results:      map[string]any{"reserve": "ok"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	got, err := s.ListCheckpoints(ctx, cp.ExecutionID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cp.CheckpointID, got[0].CheckpointID)
	assert.Equal(t, []string{"reserve"}, got[0].Succeeded)
	assert.Equal(t, "ok", got[0].Results["reserve"])
}

// --- Dead Letter Tests ---

func seedDeadLetter(t *testing.T, s *LibSQLStore, workflowID, taskID string, createdAt time.Time) *saga.DeadLetterEvent {
	t.Helper()
	e := &saga.DeadLetterEvent{
		EventID:      uuid.NewString(),
		WorkflowID:   workflowID,
		TaskID:       taskID,
		ErrorMessage: "charge declined",
		Payload:      map[string]any{"amount": float64(100)},
		Context:      map[string]any{"phase": "forward"},
		CreatedAt:    createdAt,
	}
	require.NoError(t, s.SaveDeadLetter(context.Background(), e))
	return e
}

func TestSaveAndListDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := seedDeadLetter(t, s, "wf-orders", "charge", time.Now().UTC())
	seedDeadLetter(t, s, "wf-other", "ship", time.Now().UTC())

	events, err := s.ListDeadLetters(ctx, "wf-orders")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.EventID, events[0].EventID)
	assert.Equal(t, "charge declined", events[0].ErrorMessage)
	assert.Equal(t, "forward", events[0].Context["phase"])
	assert.Equal(t, float64(100), events[0].Payload.(map[string]any)["amount"])
}

func TestListDeadLettersByTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedDeadLetter(t, s, "wf-orders", "charge", time.Now().UTC())
	seedDeadLetter(t, s, "wf-orders", "ship", time.Now().UTC())

	events, err := s.ListDeadLettersByTask(ctx, "wf-orders", "ship")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ship", events[0].TaskID)
}

func TestDeleteExpiredDeadLetters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	seedDeadLetter(t, s, "wf-orders", "charge", old)
	fresh := seedDeadLetter(t, s, "wf-orders", "ship", time.Now().UTC())

	removed, err := s.DeleteExpiredDeadLetters(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := s.ListDeadLetters(ctx, "wf-orders")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fresh.EventID, events[0].EventID)
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Vacuum(context.Background()))
}
