package saga

import "github.com/sagaflow-io/sagaflow/pkg/schema"

// ValidTaskTransitions defines the allowed task state transitions.
// Forward: PENDING → RUNNING → {SUCCEEDED | FAILED}. A SUCCEEDED task may
// later enter the rollback path COMPENSATING → {COMPENSATED | FAILED}.
var ValidTaskTransitions = map[schema.TaskState][]schema.TaskState{
	schema.TaskPending:      {schema.TaskRunning},
	schema.TaskRunning:      {schema.TaskSucceeded, schema.TaskFailed},
	schema.TaskSucceeded:    {schema.TaskCompensating},
	schema.TaskCompensating: {schema.TaskCompensated, schema.TaskFailed},
	schema.TaskFailed:       {},
	schema.TaskCompensated:  {},
}

func isValidTaskTransition(from, to schema.TaskState) bool {
	allowed, ok := ValidTaskTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// isTerminalTask reports whether a task has reached a forward-phase
// terminal state.
func isTerminalTask(s schema.TaskState) bool {
	return s == schema.TaskSucceeded || s == schema.TaskFailed
}
