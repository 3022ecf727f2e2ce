package store

import (
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// ExecutionRecord is the persisted representation of an execution row.
// States and Results are stored as JSON columns and decoded on read.
type ExecutionRecord struct {
	ExecutionID string                      `json:"execution_id"`
	WorkflowID  string                      `json:"workflow_id"`
	Phase       schema.Phase                `json:"phase"`
	FailedTask  string                      `json:"failed_task,omitempty"`
	States      map[string]schema.TaskState `json:"states"`
	Results     map[string]any              `json:"results"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}
