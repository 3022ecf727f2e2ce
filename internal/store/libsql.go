package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/sagaflow-io/sagaflow/pkg/saga"
	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork). It also satisfies saga.Sink, so it can be wired into the engine
// with saga.WithSink.
type LibSQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, logger: slog.Default()}, nil
}

// SetLogger replaces the store's logger (defaults to slog.Default()).
func (s *LibSQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, s.logger)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

// SaveExecution upserts the execution row with its current state snapshot.
func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *saga.Execution) error {
	states, err := json.Marshal(exec.States())
	if err != nil {
		return fmt.Errorf("marshal states: %w", err)
	}
	results, err := json.Marshal(exec.Results())
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, workflow_id, phase, failed_task, states, results, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   phase=excluded.phase, failed_task=excluded.failed_task,
		   states=excluded.states, results=excluded.results,
		   completed_at=excluded.completed_at, updated_at=CURRENT_TIMESTAMP`,
		exec.ExecutionID, exec.WorkflowID, string(exec.Phase), nullStr(exec.FailedTask),
		string(states), string(results), timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	return err
}

// GetExecution returns the persisted record for an execution ID.
func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, workflow_id, phase, failed_task, states, results, started_at, completed_at
		 FROM executions WHERE execution_id = ?`, executionID,
	)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", executionID)
	}
	return rec, err
}

// ListExecutions returns all persisted executions for a workflow, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, workflowID string) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, workflow_id, phase, failed_task, states, results, started_at, completed_at
		 FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var (
		phase                  string
		failedTask             sql.NullString
		statesJSON, resultsJSON string
		completedAt            sql.NullTime
	)
	if err := row.Scan(&rec.ExecutionID, &rec.WorkflowID, &phase, &failedTask,
		&statesJSON, &resultsJSON, &rec.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	rec.Phase = schema.Phase(phase)
	rec.FailedTask = failedTask.String
	if err := json.Unmarshal([]byte(statesJSON), &rec.States); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &rec.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// --- Checkpoints ---

// SaveCheckpoint appends a checkpoint row. Checkpoints are immutable.
func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *saga.Checkpoint) error {
	succeeded, err := json.Marshal(cp.Succeeded)
	if err != nil {
		return fmt.Errorf("marshal succeeded: %w", err)
	}
	results, err := json.Marshal(cp.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, execution_id, workflow_id, phase, succeeded, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.ExecutionID, cp.WorkflowID, string(cp.Phase),
		string(succeeded), string(results), timeOrNow(cp.CreatedAt),
	)
	return err
}

// ListCheckpoints returns an execution's checkpoints in creation order.
func (s *LibSQLStore) ListCheckpoints(ctx context.Context, executionID string) ([]*saga.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT checkpoint_id, execution_id, workflow_id, phase, succeeded, results, created_at
		 FROM checkpoints WHERE execution_id = ? ORDER BY created_at ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*saga.Checkpoint
	for rows.Next() {
		cp := &saga.Checkpoint{}
		var phase, succeededJSON, resultsJSON string
		if err := rows.Scan(&cp.CheckpointID, &cp.ExecutionID, &cp.WorkflowID, &phase,
			&succeededJSON, &resultsJSON, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cp.Phase = schema.Phase(phase)
		if err := json.Unmarshal([]byte(succeededJSON), &cp.Succeeded); err != nil {
			return nil, fmt.Errorf("unmarshal succeeded: %w", err)
		}
		if err := json.Unmarshal([]byte(resultsJSON), &cp.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

// --- Dead letters ---

// SaveDeadLetter inserts a dead-letter row.
func (s *LibSQLStore) SaveDeadLetter(ctx context.Context, event *saga.DeadLetterEvent) error {
	payload, err := nullableJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	execCtx, err := nullableJSON(event.Context)
	if err != nil {
		return fmt.Errorf("marshal execution_context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (event_id, workflow_id, task_id, error_message, payload, execution_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.WorkflowID, event.TaskID, event.ErrorMessage,
		payload, execCtx, timeOrNow(event.CreatedAt),
	)
	return err
}

// ListDeadLetters returns a workflow's dead letters, newest first.
func (s *LibSQLStore) ListDeadLetters(ctx context.Context, workflowID string) ([]*saga.DeadLetterEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, workflow_id, task_id, error_message, payload, execution_context, created_at
		 FROM dead_letters WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeadLetters(rows)
}

// ListDeadLettersByTask returns dead letters for a (workflow, task) pair, newest first.
func (s *LibSQLStore) ListDeadLettersByTask(ctx context.Context, workflowID, taskID string) ([]*saga.DeadLetterEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, workflow_id, task_id, error_message, payload, execution_context, created_at
		 FROM dead_letters WHERE workflow_id = ? AND task_id = ? ORDER BY created_at DESC`,
		workflowID, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeadLetters(rows)
}

// DeleteExpiredDeadLetters removes rows created before the cutoff and
// returns the number removed.
func (s *LibSQLStore) DeleteExpiredDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanDeadLetters(rows *sql.Rows) ([]*saga.DeadLetterEvent, error) {
	var events []*saga.DeadLetterEvent
	for rows.Next() {
		e := &saga.DeadLetterEvent{}
		var payload, execCtx sql.NullString
		if err := rows.Scan(&e.EventID, &e.WorkflowID, &e.TaskID, &e.ErrorMessage,
			&payload, &execCtx, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		if execCtx.Valid && execCtx.String != "" {
			if err := json.Unmarshal([]byte(execCtx.String), &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal execution_context: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.SagaError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
