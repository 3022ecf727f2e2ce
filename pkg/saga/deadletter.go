package saga

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// Dead-letter queue defaults.
const (
	DefaultDeadLetterMaxSize = 10_000
	DefaultDeadLetterTTL     = 24 * time.Hour
)

// DeadLetterEvent records an unrecoverable task or compensation failure for
// operator inspection and replay.
type DeadLetterEvent struct {
	EventID      string         `json:"event_id"`
	WorkflowID   string         `json:"workflow_id"`
	TaskID       string         `json:"task_id"`
	ErrorMessage string         `json:"error_message"`
	Payload      any            `json:"payload,omitempty"`
	Context      map[string]any `json:"execution_context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// DeadLetterConfig bounds the queue.
type DeadLetterConfig struct {
	MaxSize int           // maximum stored events; <= 0 means DefaultDeadLetterMaxSize
	TTL     time.Duration // event retention; <= 0 means DefaultDeadLetterTTL
}

// DeadLetterQueue is a bounded, TTL-based keyed store for unrecoverable
// failures. It is the one structure shared across concurrent callers, so
// every operation is serialized under a single lock; there is no per-key
// sharding, acceptable at the default scale.
type DeadLetterQueue struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	events  map[string]*DeadLetterEvent
	now     func() time.Time
}

// NewDeadLetterQueue creates a queue with the given bounds, applying
// defaults for zero values.
func NewDeadLetterQueue(cfg DeadLetterConfig) *DeadLetterQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDeadLetterMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultDeadLetterTTL
	}
	return &DeadLetterQueue{
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		events:  make(map[string]*DeadLetterEvent),
		now:     time.Now,
	}
}

// Enqueue stores an event, assigning a fresh event ID and timestamp when
// absent. It fails with a capacity error when the queue is full; there is
// no eviction-on-write, callers must observe the failure.
func (q *DeadLetterQueue) Enqueue(event *DeadLetterEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) >= q.maxSize {
		return schema.NewErrorf(schema.ErrCodeQueueFull,
			"dead-letter queue at capacity: %d/%d", len(q.events), q.maxSize).
			WithDetails(map[string]any{"size": len(q.events), "max_size": q.maxSize})
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = q.now().UTC()
	}
	q.events[event.EventID] = event
	return nil
}

// Dequeue removes and returns the event with the given ID.
func (q *DeadLetterQueue) Dequeue(eventID string) (*DeadLetterEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	event, ok := q.events[eventID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dead-letter event not found: %s", eventID)
	}
	delete(q.events, eventID)
	return event, nil
}

// Peek returns the event with the given ID without removing it.
func (q *DeadLetterQueue) Peek(eventID string) (*DeadLetterEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	event, ok := q.events[eventID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dead-letter event not found: %s", eventID)
	}
	return event, nil
}

// QueryByWorkflow returns all events for a workflow, newest first.
func (q *DeadLetterQueue) QueryByWorkflow(workflowID string) []*DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*DeadLetterEvent
	for _, event := range q.events {
		if event.WorkflowID == workflowID {
			out = append(out, event)
		}
	}
	sortEventsByTime(out)
	return out
}

// QueryByTask returns all events for a (workflow, task) pair, newest first.
func (q *DeadLetterQueue) QueryByTask(workflowID, taskID string) []*DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*DeadLetterEvent
	for _, event := range q.events {
		if event.WorkflowID == workflowID && event.TaskID == taskID {
			out = append(out, event)
		}
	}
	sortEventsByTime(out)
	return out
}

// Size returns the current number of stored events.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// ClearExpired removes all events older than the TTL relative to the
// current time and returns the number removed. Others are untouched.
func (q *DeadLetterQueue) ClearExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.ttl)
	removed := 0
	for id, event := range q.events {
		if event.CreatedAt.Before(cutoff) {
			delete(q.events, id)
			removed++
		}
	}
	return removed
}

// sortEventsByTime orders events newest first (insertion sort; result sets
// are small).
func sortEventsByTime(events []*DeadLetterEvent) {
	for i := 1; i < len(events); i++ {
		key := events[i]
		j := i - 1
		for j >= 0 && events[j].CreatedAt.Before(key.CreatedAt) {
			events[j+1] = events[j]
			j--
		}
		events[j+1] = key
	}
}
