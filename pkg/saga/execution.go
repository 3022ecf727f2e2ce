package saga

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// Execution is the mutable record of a single run of a compiled DAG.
// It is owned exclusively by the engine for the duration of Execute;
// the caller may read it afterward or via GetExecution/ListExecutions.
type Execution struct {
	WorkflowID  string
	ExecutionID string
	Phase       schema.Phase
	FailedTask  string
	StartedAt   time.Time
	CompletedAt *time.Time

	// mu guards states, results, checkpoints and completions; task
	// goroutines mutate them concurrently during the forward phase.
	mu          sync.Mutex
	states      map[string]schema.TaskState
	results     map[string]any
	checkpoints []*Checkpoint
	completions int
}

// Checkpoint is an immutable snapshot of execution progress, taken at
// task-completion intervals. Append-only; never mutated after creation.
type Checkpoint struct {
	CheckpointID string         `json:"checkpoint_id"`
	WorkflowID   string         `json:"workflow_id"`
	ExecutionID  string         `json:"execution_id"`
	Phase        schema.Phase   `json:"phase"`
	Succeeded    []string       `json:"succeeded"`
	Results      map[string]any `json:"results"`
	CreatedAt    time.Time      `json:"created_at"`
}

// newExecution creates a fresh execution record with every task PENDING.
func newExecution(workflowID string, d *DAG) *Execution {
	states := make(map[string]schema.TaskState, d.Len())
	for id := range d.tasks {
		states[id] = schema.TaskPending
	}
	return &Execution{
		WorkflowID:  workflowID,
		ExecutionID: uuid.NewString(),
		Phase:       schema.PhaseForward,
		StartedAt:   time.Now().UTC(),
		states:      states,
		results:     make(map[string]any, d.Len()),
	}
}

// State returns the current state of a task.
func (e *Execution) State(taskID string) schema.TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[taskID]
}

// States returns a copy of the task state map.
func (e *Execution) States() map[string]schema.TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]schema.TaskState, len(e.states))
	for id, s := range e.states {
		out[id] = s
	}
	return out
}

// Result returns the forward result of a task, if recorded.
func (e *Execution) Result(taskID string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.results[taskID]
	return v, ok
}

// Results returns a copy of the completed forward results.
func (e *Execution) Results() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyResultsLocked()
}

// Checkpoints returns the ordered checkpoint list.
func (e *Execution) Checkpoints() []*Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Checkpoint, len(e.checkpoints))
	copy(out, e.checkpoints)
	return out
}

// transition moves a task to a new state, enforcing the transition table.
func (e *Execution) transition(taskID string, to schema.TaskState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.states[taskID]
	if !isValidTaskTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", from, to).
			WithTask(taskID).
			WithDetails(map[string]any{"workflow_id": e.WorkflowID, "from": string(from), "to": string(to)})
	}
	e.states[taskID] = to
	return nil
}

// markSucceeded transitions a task to SUCCEEDED, records its result, and
// returns a fresh checkpoint when the completion count reaches the
// checkpoint interval. Done under one lock so the checkpoint snapshot is
// consistent with the state it reports.
func (e *Execution) markSucceeded(taskID string, result any, interval int) (*Checkpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.states[taskID]
	if !isValidTaskTransition(from, schema.TaskSucceeded) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid task transition: %s -> %s", from, schema.TaskSucceeded).WithTask(taskID)
	}
	e.states[taskID] = schema.TaskSucceeded
	e.results[taskID] = result
	e.completions++

	if interval >= 1 && e.completions%interval == 0 {
		return e.checkpointLocked(), nil
	}
	return nil, nil
}

// checkpointLocked snapshots the SUCCEEDED set and results. Caller holds mu.
func (e *Execution) checkpointLocked() *Checkpoint {
	succeeded := make([]string, 0, len(e.states))
	for id, s := range e.states {
		if s == schema.TaskSucceeded {
			succeeded = append(succeeded, id)
		}
	}
	sortStrings(succeeded)

	cp := &Checkpoint{
		CheckpointID: uuid.NewString(),
		WorkflowID:   e.WorkflowID,
		ExecutionID:  e.ExecutionID,
		Phase:        e.Phase,
		Succeeded:    succeeded,
		Results:      e.copyResultsLocked(),
		CreatedAt:    time.Now().UTC(),
	}
	e.checkpoints = append(e.checkpoints, cp)
	return cp
}

func (e *Execution) copyResultsLocked() map[string]any {
	out := make(map[string]any, len(e.results))
	for id, v := range e.results {
		out[id] = v
	}
	return out
}

// succeededInOrder returns the tasks currently SUCCEEDED, ordered by the
// given topological order. Used to select the compensation chain.
func (e *Execution) succeededInOrder(order []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(order))
	for _, id := range order {
		if e.states[id] == schema.TaskSucceeded {
			out = append(out, id)
		}
	}
	return out
}

// executionView is the JSON shape of an Execution.
type executionView struct {
	WorkflowID  string                      `json:"workflow_id"`
	ExecutionID string                      `json:"execution_id"`
	Phase       schema.Phase                `json:"phase"`
	FailedTask  string                      `json:"failed_task,omitempty"`
	States      map[string]schema.TaskState `json:"states"`
	Results     map[string]any              `json:"results"`
	Checkpoints []*Checkpoint               `json:"checkpoints,omitempty"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}

// MarshalJSON renders a consistent snapshot of the execution.
func (e *Execution) MarshalJSON() ([]byte, error) {
	view := executionView{
		WorkflowID:  e.WorkflowID,
		ExecutionID: e.ExecutionID,
		Phase:       e.Phase,
		FailedTask:  e.FailedTask,
		States:      e.States(),
		Results:     e.Results(),
		Checkpoints: e.Checkpoints(),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
	return json.Marshal(view)
}
