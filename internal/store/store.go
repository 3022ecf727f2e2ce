package store

import (
	"context"
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/saga"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	SaveExecution(ctx context.Context, exec *saga.Execution) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, workflowID string) ([]*ExecutionRecord, error)

	// Checkpoints (append-only)
	SaveCheckpoint(ctx context.Context, cp *saga.Checkpoint) error
	ListCheckpoints(ctx context.Context, executionID string) ([]*saga.Checkpoint, error)

	// Dead letters
	SaveDeadLetter(ctx context.Context, event *saga.DeadLetterEvent) error
	ListDeadLetters(ctx context.Context, workflowID string) ([]*saga.DeadLetterEvent, error)
	ListDeadLettersByTask(ctx context.Context, workflowID, taskID string) ([]*saga.DeadLetterEvent, error)
	DeleteExpiredDeadLetters(ctx context.Context, cutoff time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
