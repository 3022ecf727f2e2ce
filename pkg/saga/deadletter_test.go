package saga

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

func newDLQEvent(workflowID, taskID string) *DeadLetterEvent {
	return &DeadLetterEvent{
		WorkflowID:   workflowID,
		TaskID:       taskID,
		ErrorMessage: "boom",
	}
}

func TestEnqueueAssignsIDAndTimestamp(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	e := newDLQEvent("wf-1", "charge")
	require.NoError(t, q.Enqueue(e))

	assert.NotEmpty(t, e.EventID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, 1, q.Size())
}

func TestEnqueuePreservesProvidedID(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	e := newDLQEvent("wf-1", "charge")
	e.EventID = "evt-fixed"
	require.NoError(t, q.Enqueue(e))

	got, err := q.Peek("evt-fixed")
	require.NoError(t, err)
	assert.Equal(t, "charge", got.TaskID)
}

func TestEnqueueAtCapacity(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{MaxSize: 2})

	require.NoError(t, q.Enqueue(newDLQEvent("wf-1", "a")))
	require.NoError(t, q.Enqueue(newDLQEvent("wf-1", "b")))

	err := q.Enqueue(newDLQEvent("wf-1", "c"))
	require.Error(t, err)
	sagaErr := err.(*schema.SagaError)
	assert.Equal(t, schema.ErrCodeQueueFull, sagaErr.Code)
	assert.Equal(t, 2, sagaErr.Details["size"])

	// No eviction happened.
	assert.Equal(t, 2, q.Size())
}

func TestDequeueRemoves(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	e := newDLQEvent("wf-1", "charge")
	require.NoError(t, q.Enqueue(e))

	got, err := q.Dequeue(e.EventID)
	require.NoError(t, err)
	assert.Equal(t, e.EventID, got.EventID)
	assert.Equal(t, 0, q.Size())

	_, err = q.Dequeue(e.EventID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.SagaError).Code)
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	e := newDLQEvent("wf-1", "charge")
	require.NoError(t, q.Enqueue(e))

	_, err := q.Peek(e.EventID)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Size())

	_, err = q.Peek("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, err.(*schema.SagaError).Code)
}

func TestQueryByWorkflowNewestFirst(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := newDLQEvent("wf-1", fmt.Sprintf("task-%d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, q.Enqueue(e))
	}
	require.NoError(t, q.Enqueue(newDLQEvent("wf-other", "x")))

	events := q.QueryByWorkflow("wf-1")
	require.Len(t, events, 3)
	assert.Equal(t, "task-2", events[0].TaskID)
	assert.Equal(t, "task-1", events[1].TaskID)
	assert.Equal(t, "task-0", events[2].TaskID)
}

func TestQueryByTask(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})

	require.NoError(t, q.Enqueue(newDLQEvent("wf-1", "charge")))
	require.NoError(t, q.Enqueue(newDLQEvent("wf-1", "ship")))
	require.NoError(t, q.Enqueue(newDLQEvent("wf-2", "charge")))

	events := q.QueryByTask("wf-1", "charge")
	require.Len(t, events, 1)
	assert.Equal(t, "wf-1", events[0].WorkflowID)
	assert.Equal(t, "charge", events[0].TaskID)

	assert.Empty(t, q.QueryByTask("wf-1", "missing"))
}

func TestClearExpired(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{TTL: time.Hour})

	now := time.Now().UTC()
	q.now = func() time.Time { return now }

	stale := newDLQEvent("wf-1", "old")
	stale.CreatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, q.Enqueue(stale))

	fresh := newDLQEvent("wf-1", "fresh")
	fresh.CreatedAt = now.Add(-time.Minute)
	require.NoError(t, q.Enqueue(fresh))

	removed := q.ClearExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Size())

	_, err := q.Peek(fresh.EventID)
	assert.NoError(t, err)

	// A second sweep removes nothing.
	assert.Equal(t, 0, q.ClearExpired())
}

func TestDefaults(t *testing.T) {
	q := NewDeadLetterQueue(DeadLetterConfig{})
	assert.Equal(t, DefaultDeadLetterMaxSize, q.maxSize)
	assert.Equal(t, DefaultDeadLetterTTL, q.ttl)
}
