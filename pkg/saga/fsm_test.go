package saga

import (
	"testing"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

func TestTaskTransitions(t *testing.T) {
	cases := []struct {
		from    schema.TaskState
		to      schema.TaskState
		allowed bool
	}{
		{schema.TaskPending, schema.TaskRunning, true},
		{schema.TaskRunning, schema.TaskSucceeded, true},
		{schema.TaskRunning, schema.TaskFailed, true},
		{schema.TaskSucceeded, schema.TaskCompensating, true},
		{schema.TaskCompensating, schema.TaskCompensated, true},
		{schema.TaskCompensating, schema.TaskFailed, true},

		// No skipping states.
		{schema.TaskPending, schema.TaskSucceeded, false},
		{schema.TaskPending, schema.TaskFailed, false},
		{schema.TaskPending, schema.TaskCompensating, false},
		{schema.TaskRunning, schema.TaskCompensated, false},
		{schema.TaskSucceeded, schema.TaskCompensated, false},
		{schema.TaskSucceeded, schema.TaskRunning, false},

		// Terminal states stay terminal.
		{schema.TaskFailed, schema.TaskRunning, false},
		{schema.TaskFailed, schema.TaskCompensating, false},
		{schema.TaskCompensated, schema.TaskRunning, false},
		{schema.TaskCompensated, schema.TaskCompensating, false},
	}

	for _, tc := range cases {
		if got := isValidTaskTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestIsTerminalTask(t *testing.T) {
	if !isTerminalTask(schema.TaskSucceeded) || !isTerminalTask(schema.TaskFailed) {
		t.Error("SUCCEEDED and FAILED are forward-phase terminal states")
	}
	for _, s := range []schema.TaskState{schema.TaskPending, schema.TaskRunning, schema.TaskCompensating, schema.TaskCompensated} {
		if isTerminalTask(s) {
			t.Errorf("%s must not be a forward-phase terminal state", s)
		}
	}
}
