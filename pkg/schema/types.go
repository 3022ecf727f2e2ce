package schema

// TaskState is the lifecycle state of a single task within an execution.
type TaskState string

const (
	TaskPending      TaskState = "PENDING"
	TaskRunning      TaskState = "RUNNING"
	TaskSucceeded    TaskState = "SUCCEEDED"
	TaskFailed       TaskState = "FAILED"
	TaskCompensating TaskState = "COMPENSATING"
	TaskCompensated  TaskState = "COMPENSATED"
)

// Phase is the execution-level phase of a workflow run.
type Phase string

const (
	PhaseForward      Phase = "FORWARD"
	PhaseCompensation Phase = "COMPENSATION"
	PhaseComplete     Phase = "COMPLETE"
)

// Event types published on the engine's notifier.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventTaskStateChanged   = "task.state_changed"
	EventCheckpointCreated  = "checkpoint.created"
	EventDeadLetterEnqueued = "deadletter.enqueued"
)
