package saga

import (
	"context"
	"strings"
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// TaskExecutor is the forward-execution capability of a task. The engine
// wraps any returned error uniformly; implementations may fail freely.
type TaskExecutor func(ctx context.Context, taskID string, payload any) (any, error)

// CompensationExecutor undoes a task's forward side effect. It receives the
// forward result and must be safe to invoke even if the forward action's
// side effect was partial; compensation idempotency is the caller's
// responsibility.
type CompensationExecutor func(ctx context.Context, taskID string, forwardResult any) (any, error)

// DefaultTaskTimeout bounds a forward task execution when the task does not
// specify its own timeout.
const DefaultTaskTimeout = 5 * time.Second

// Task is a unit of work in a workflow DAG. Immutable once added.
type Task struct {
	ID             string
	Execute        TaskExecutor
	Compensate     CompensationExecutor // nil = irreversible by design
	Payload        any
	IdempotencyKey string // carried for external dedup, never checked internally
	Timeout        time.Duration
}

// Edge is an ordered dependency pair: Target depends on Source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// DAG is the adjacency-list-by-id representation of a workflow graph.
// Built incrementally by the caller, then handed once to Compile/Execute;
// never mutated mid-execution.
type DAG struct {
	tasks      map[string]*Task
	edges      []Edge
	deps       map[string][]string // task ID → dependencies (incoming edges)
	dependents map[string][]string // task ID → dependents (outgoing edges)
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddTask registers a task. The task ID and idempotency key must be
// non-empty, the executor non-nil, and the timeout positive (zero defaults
// to DefaultTaskTimeout).
func (d *DAG) AddTask(task *Task) error {
	if task == nil {
		return schema.NewError(schema.ErrCodeValidation, "task is nil")
	}
	if task.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "task has empty id")
	}
	if _, exists := d.tasks[task.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "duplicate task id: %s", task.ID)
	}
	if task.Execute == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %s has no executor", task.ID).WithTask(task.ID)
	}
	if task.IdempotencyKey == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %s has empty idempotency key", task.ID).WithTask(task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = DefaultTaskTimeout
	}
	if task.Timeout < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %s has negative timeout", task.ID).WithTask(task.ID)
	}

	t := *task
	d.tasks[t.ID] = &t
	return nil
}

// AddEdge registers a dependency: target depends on source. Both endpoints
// must already exist and self-loops are rejected.
func (d *DAG) AddEdge(source, target string) error {
	if source == target {
		return schema.NewErrorf(schema.ErrCodeValidation, "task %s depends on itself", target).WithTask(target)
	}
	if _, ok := d.tasks[source]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown task: %s", source)
	}
	if _, ok := d.tasks[target]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown task: %s", target)
	}

	d.edges = append(d.edges, Edge{Source: source, Target: target})
	d.deps[target] = append(d.deps[target], source)
	d.dependents[source] = append(d.dependents[source], target)
	return nil
}

// Task returns the task with the given ID, or nil if absent.
func (d *DAG) Task(id string) *Task {
	return d.tasks[id]
}

// Len returns the number of tasks.
func (d *DAG) Len() int {
	return len(d.tasks)
}

// TaskIDs returns all task IDs in deterministic (sorted) order.
func (d *DAG) TaskIDs() []string {
	ids := make([]string, 0, len(d.tasks))
	for id := range d.tasks {
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// Edges returns a copy of the edge list.
func (d *DAG) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// Dependencies returns the IDs the given task depends on.
func (d *DAG) Dependencies(id string) []string {
	out := make([]string, len(d.deps[id]))
	copy(out, d.deps[id])
	return out
}

// Dependents returns the IDs that depend on the given task.
func (d *DAG) Dependents(id string) []string {
	out := make([]string, len(d.dependents[id]))
	copy(out, d.dependents[id])
	return out
}

// TopologicalOrder computes a deterministic topological order using Kahn's
// algorithm (repeatedly removing zero-in-degree nodes, smallest ID first).
// A graph with a cycle fails closed with a cycle error naming the task IDs
// stuck on the cycle rather than silently truncating the output.
func (d *DAG) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(d.tasks))
	for id := range d.tasks {
		inDegree[id] = len(d.deps[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortStrings(queue)

	sorted := make([]string, 0, len(d.tasks))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(d.dependents[node]))
		copy(dependents, d.dependents[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(d.tasks) {
		cycle := make([]string, 0, len(d.tasks)-len(sorted))
		inSorted := make(map[string]struct{}, len(sorted))
		for _, id := range sorted {
			inSorted[id] = struct{}{}
		}
		for id := range d.tasks {
			if _, ok := inSorted[id]; !ok {
				cycle = append(cycle, id)
			}
		}
		sortStrings(cycle)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a cycle: %s", strings.Join(cycle, ", ")).
			WithDetails(map[string]any{"cycle": cycle})
	}

	return sorted, nil
}

// levels groups tasks into parallel execution levels by topological depth.
// Tasks at the same level have all dependencies satisfied by prior levels
// and carry no ordering relation among themselves.
func (d *DAG) levels(sorted []string) [][]string {
	depth := make(map[string]int, len(d.tasks))
	for _, id := range sorted {
		maxDep := -1
		for _, dep := range d.deps[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	maxLevel := 0
	for _, dp := range depth {
		if dp > maxLevel {
			maxLevel = dp
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
