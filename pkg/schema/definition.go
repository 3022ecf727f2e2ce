package schema

import "encoding/json"

// Definition is a declarative workflow: a set of tasks referencing
// registered executor/compensation functions by name. Definitions are
// validated against a JSON Schema before being bound to a DAG.
type Definition struct {
	Workflow string           `json:"workflow"`
	Tasks    []TaskDefinition `json:"tasks"`
}

// TaskDefinition declares one task of a workflow definition.
type TaskDefinition struct {
	ID             string          `json:"id"`
	Executor       string          `json:"executor"`
	Compensation   string          `json:"compensation,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Timeout        string          `json:"timeout,omitempty"`
	DependsOn      []string        `json:"depends_on,omitempty"`
}
