package saga

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// ExecutorRegistry maps executor names from workflow definitions to
// registered task and compensation functions. Safe for concurrent use.
type ExecutorRegistry struct {
	mu            sync.RWMutex
	executors     map[string]TaskExecutor
	compensations map[string]CompensationExecutor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors:     make(map[string]TaskExecutor),
		compensations: make(map[string]CompensationExecutor),
	}
}

// RegisterExecutor binds a name to a forward executor. Re-registering a
// name replaces the previous binding.
func (r *ExecutorRegistry) RegisterExecutor(name string, fn TaskExecutor) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor name is required")
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "executor %s: function is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = fn
	return nil
}

// RegisterCompensation binds a name to a compensation executor.
func (r *ExecutorRegistry) RegisterCompensation(name string, fn CompensationExecutor) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "compensation name is required")
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "compensation %s: function is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensations[name] = fn
	return nil
}

// Executor resolves a forward executor by name.
func (r *ExecutorRegistry) Executor(name string) (TaskExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "executor not registered: %s", name)
	}
	return fn, nil
}

// Compensation resolves a compensation executor by name.
func (r *ExecutorRegistry) Compensation(name string) (CompensationExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.compensations[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "compensation not registered: %s", name)
	}
	return fn, nil
}

// FromDefinition builds a DAG from a validated workflow definition,
// resolving executor names through the registry. Task payloads are decoded
// from raw JSON; dependencies become edges.
func FromDefinition(def *schema.Definition, reg *ExecutorRegistry) (*DAG, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition is nil")
	}
	if err := schema.ValidateDefinition(def); err != nil {
		return nil, err
	}

	d := NewDAG()
	for _, td := range def.Tasks {
		execute, err := reg.Executor(td.Executor)
		if err != nil {
			return nil, err
		}

		var compensate CompensationExecutor
		if td.Compensation != "" {
			compensate, err = reg.Compensation(td.Compensation)
			if err != nil {
				return nil, err
			}
		}

		var payload any
		if len(td.Payload) > 0 {
			if err := json.Unmarshal(td.Payload, &payload); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"task %s: invalid payload: %s", td.ID, err.Error()).
					WithTask(td.ID).WithCause(err)
			}
		}

		var timeout time.Duration
		if td.Timeout != "" {
			timeout, err = time.ParseDuration(td.Timeout)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"task %s: invalid timeout %q", td.ID, td.Timeout).
					WithTask(td.ID).WithCause(err)
			}
		}

		task := &Task{
			ID:             td.ID,
			Execute:        execute,
			Compensate:     compensate,
			Payload:        payload,
			IdempotencyKey: td.IdempotencyKey,
			Timeout:        timeout,
		}
		if err := d.AddTask(task); err != nil {
			return nil, err
		}
	}

	for _, td := range def.Tasks {
		for _, dep := range td.DependsOn {
			if err := d.AddEdge(dep, td.ID); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}
