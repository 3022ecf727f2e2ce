package saga

import "github.com/sagaflow-io/sagaflow/pkg/schema"

// Validate checks the structural invariants a DAG must satisfy before it may
// be executed: at least one task, every edge endpoint present, and no cycle.
// It has no side effects, is deterministic, and is idempotent to call
// repeatedly on the same unmodified DAG.
func Validate(d *DAG) error {
	if d == nil {
		return schema.NewError(schema.ErrCodeValidation, "dag is nil")
	}
	if d.Len() == 0 {
		return schema.NewError(schema.ErrCodeValidation, "dag has no tasks")
	}

	// AddEdge already rejects unknown endpoints, but the compiler gate
	// re-checks so a DAG assembled by other means still fails closed.
	for _, e := range d.edges {
		if _, ok := d.tasks[e.Source]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown task: %s", e.Source)
		}
		if _, ok := d.tasks[e.Target]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown task: %s", e.Target)
		}
	}

	if _, err := d.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// Compile validates the DAG and returns it unchanged. It is a pure gate,
// not a transformation: it exists to make "ready for execution" an
// explicit, checkable step distinct from well-formed construction.
func Compile(d *DAG) (*DAG, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}
