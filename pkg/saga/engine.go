package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

// Engine defaults.
const (
	DefaultMaxConcurrentTasks  = 10
	DefaultCheckpointInterval  = 1
	DefaultCompensationTimeout = 10 * time.Second
)

// Config holds engine configuration.
type Config struct {
	// MaxConcurrentTasks caps simultaneous in-flight task executions.
	MaxConcurrentTasks int
	// CheckpointInterval appends a checkpoint after every Nth completed task.
	CheckpointInterval int
	// CompensationTimeout bounds each compensation call.
	CompensationTimeout time.Duration
	// EscalateCompensationFailures aborts the compensation phase and returns
	// a COMPENSATION_FAILED error when a compensation action fails, instead
	// of recording it to the dead-letter queue and continuing. Off by
	// default: rollback failure must not mask the original error.
	EscalateCompensationFailures bool
	// DeadLetter bounds the engine's dead-letter queue.
	DeadLetter DeadLetterConfig
}

// Sink receives the engine's durable value objects. A production deployment
// wires checkpoints, dead-letter events and execution records into durable
// storage; writes are best-effort except where noted.
type Sink interface {
	SaveExecution(ctx context.Context, exec *Execution) error
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	SaveDeadLetter(ctx context.Context, event *DeadLetterEvent) error
}

// Notifier publishes engine lifecycle events for operator tooling.
// Implementations must not block the engine.
type Notifier interface {
	Publish(topic string, payload any)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSink wires durable persistence for executions, checkpoints and
// dead-letter events.
func WithSink(sink Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithNotifier wires lifecycle event publishing.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// Engine orchestrates saga executions: the forward phase walks the DAG in
// topological levels under admission control, and on failure the
// compensation phase rolls back completed tasks in reverse order.
type Engine struct {
	cfg      Config
	pool     *WorkerPool
	dlq      *DeadLetterQueue
	logger   *slog.Logger
	sink     Sink
	notifier Notifier

	// mu guards the execution records.
	mu         sync.Mutex
	executions map[string]*Execution
	byWorkflow map[string][]*Execution
}

// NewEngine creates an engine, applying defaults for zero config values.
func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = DefaultCompensationTimeout
	}

	e := &Engine{
		cfg:        cfg,
		pool:       NewWorkerPool(cfg.MaxConcurrentTasks),
		dlq:        NewDeadLetterQueue(cfg.DeadLetter),
		logger:     slog.Default(),
		executions: make(map[string]*Execution),
		byWorkflow: make(map[string][]*Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DeadLetters exposes the engine's dead-letter queue for operator tooling.
func (e *Engine) DeadLetters() *DeadLetterQueue {
	return e.dlq
}

// Shutdown stops the admission pool, waiting for in-flight tasks.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// Execute runs one execution of the DAG: compile, forward phase, and on any
// forward failure the compensation phase followed by re-raising the
// original error. Compensation never converts a failed run into a
// successful one; it only limits blast radius.
func (e *Engine) Execute(ctx context.Context, workflowID string, d *DAG) (*Execution, error) {
	if _, err := Compile(d); err != nil {
		return nil, err
	}
	order, err := d.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	exec := newExecution(workflowID, d)
	e.registerExecution(exec)

	logger := e.logger.With(
		slog.String("workflow_id", workflowID),
		slog.String("execution_id", exec.ExecutionID),
	)
	logger.Info("execution started", slog.Int("tasks", d.Len()))
	e.notify(schema.EventExecutionStarted, map[string]any{
		"workflow_id":  workflowID,
		"execution_id": exec.ExecutionID,
	})

	forwardErr := e.runForward(ctx, exec, d, d.levels(order))
	if forwardErr == nil {
		e.finishExecution(ctx, exec, schema.PhaseComplete)
		logger.Info("execution completed")
		e.notify(schema.EventExecutionCompleted, map[string]any{
			"workflow_id":  workflowID,
			"execution_id": exec.ExecutionID,
		})
		return exec, nil
	}

	exec.Phase = schema.PhaseCompensation
	logger.Warn("forward phase failed, compensating",
		slog.String("failed_task", exec.FailedTask),
		slog.String("error", forwardErr.Error()),
	)

	// Recompute the topological order for the rollback walk.
	order, _ = d.TopologicalOrder()
	if compErr := e.runCompensation(ctx, exec, d, order, forwardErr); compErr != nil {
		// Escalated compensation failure or dead-letter capacity error.
		// Either propagates and supersedes the original error in the
		// caller's view; this is a documented failure mode.
		e.finishExecution(ctx, exec, exec.Phase)
		e.notifyFailed(exec, compErr)
		return exec, compErr
	}

	e.finishExecution(ctx, exec, schema.PhaseComplete)
	logger.Warn("execution failed", slog.String("failed_task", exec.FailedTask))
	e.notifyFailed(exec, forwardErr)
	return exec, forwardErr
}

// GetExecution returns an execution record by ID.
func (e *Engine) GetExecution(executionID string) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[executionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	return exec, nil
}

// ListExecutions returns all execution records for a workflow.
func (e *Engine) ListExecutions(workflowID string) []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	execs := e.byWorkflow[workflowID]
	out := make([]*Execution, len(execs))
	copy(out, execs)
	return out
}

// --- forward phase ---

type taskError struct {
	taskID string
	err    error
}

// runForward walks the DAG level by level. Within a level, tasks carry no
// ordering relation and are dispatched to the admission pool concurrently;
// the level is awaited before the next starts, so a task never begins until
// every task topologically before it is terminal. The first failure aborts
// the remaining levels: tasks not yet started are never launched, while
// siblings already in flight finish.
func (e *Engine) runForward(ctx context.Context, exec *Execution, d *DAG, levels [][]string) error {
	for _, level := range levels {
		if ctx.Err() != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "execution cancelled: %s", ctx.Err().Error()).WithCause(ctx.Err())
		}

		var wg sync.WaitGroup
		failures := make(chan taskError, len(level))

		for _, taskID := range level {
			task := d.Task(taskID)
			wg.Add(1)
			err := e.pool.Submit(ctx, func(taskCtx context.Context) error {
				defer wg.Done()
				if execErr := e.runTask(taskCtx, exec, task); execErr != nil {
					failures <- taskError{taskID: task.ID, err: execErr}
				}
				return nil // the pool does not track task errors
			})
			if err != nil {
				wg.Done()
				failures <- taskError{taskID: taskID, err: err}
			}
		}

		wg.Wait()
		close(failures)

		var firstErr error
		for fe := range failures {
			if firstErr == nil {
				firstErr = fe.err
				if exec.FailedTask == "" {
					exec.FailedTask = fe.taskID
				}
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}
	return nil
}

// runTask executes a single forward task under its own timeout.
func (e *Engine) runTask(ctx context.Context, exec *Execution, task *Task) error {
	if err := exec.transition(task.ID, schema.TaskRunning); err != nil {
		return err
	}
	e.notifyTask(exec, task.ID, schema.TaskRunning)

	result, err := invokeWithTimeout(ctx, task.Timeout, func(callCtx context.Context) (any, error) {
		return task.Execute(callCtx, task.ID, task.Payload)
	})
	if err != nil {
		_ = exec.transition(task.ID, schema.TaskFailed)
		e.notifyTask(exec, task.ID, schema.TaskFailed)
		if errors.Is(err, context.DeadlineExceeded) {
			return schema.NewErrorf(schema.ErrCodeTimeout,
				"task %s timed out after %s", task.ID, task.Timeout).
				WithTask(task.ID).WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeExecution,
			"task %s: %s", task.ID, err.Error()).
			WithTask(task.ID).WithCause(err)
	}

	cp, err := exec.markSucceeded(task.ID, result, e.cfg.CheckpointInterval)
	if err != nil {
		return err
	}
	e.notifyTask(exec, task.ID, schema.TaskSucceeded)

	if cp != nil {
		e.persistCheckpoint(ctx, cp)
	}
	return nil
}

// --- compensation phase ---

// runCompensation rolls back SUCCEEDED tasks in reverse completion order.
// Tasks without a compensation capability are skipped silently (irreversible
// by design). A compensation failure is recorded to the dead-letter queue
// and the chain continues, unless EscalateCompensationFailures is set. After
// the chain, the original forward failure is dead-lettered exactly once. A
// dead-letter capacity error is not caught here and propagates.
func (e *Engine) runCompensation(ctx context.Context, exec *Execution, d *DAG, order []string, forwardErr error) error {
	reversed := make([]string, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}

	chain := make([]string, 0, len(reversed))
	for _, taskID := range exec.succeededInOrder(reversed) {
		task := d.Task(taskID)
		if task.Compensate == nil {
			e.logger.Debug("no compensation registered, skipping",
				slog.String("workflow_id", exec.WorkflowID),
				slog.String("task_id", taskID),
			)
			continue
		}

		if err := exec.transition(taskID, schema.TaskCompensating); err != nil {
			return err
		}
		e.notifyTask(exec, taskID, schema.TaskCompensating)

		forwardResult, _ := exec.Result(taskID)
		_, compErr := invokeWithTimeout(ctx, e.cfg.CompensationTimeout, func(callCtx context.Context) (any, error) {
			return task.Compensate(callCtx, taskID, forwardResult)
		})
		if compErr == nil {
			if err := exec.transition(taskID, schema.TaskCompensated); err != nil {
				return err
			}
			e.notifyTask(exec, taskID, schema.TaskCompensated)
			chain = append(chain, taskID)
			continue
		}

		_ = exec.transition(taskID, schema.TaskFailed)
		e.notifyTask(exec, taskID, schema.TaskFailed)
		e.logger.Error("compensation failed",
			slog.String("workflow_id", exec.WorkflowID),
			slog.String("execution_id", exec.ExecutionID),
			slog.String("task_id", taskID),
			slog.String("error", compErr.Error()),
		)

		event := &DeadLetterEvent{
			WorkflowID:   exec.WorkflowID,
			TaskID:       taskID,
			ErrorMessage: compErr.Error(),
			Payload:      task.Payload,
			Context: map[string]any{
				"phase":                "compensation",
				"compensation_failure": true,
				"execution_id":         exec.ExecutionID,
			},
		}
		if err := e.deadLetter(ctx, event); err != nil {
			return err
		}

		if e.cfg.EscalateCompensationFailures {
			return schema.NewErrorf(schema.ErrCodeCompensationFailed,
				"task %s compensation failed: %s", taskID, compErr.Error()).
				WithTask(taskID).WithCause(compErr)
		}
	}

	// Every forward failure is recorded exactly once, whether or not any
	// compensation action existed.
	var payload any
	if t := d.Task(exec.FailedTask); t != nil {
		payload = t.Payload
	}
	event := &DeadLetterEvent{
		WorkflowID:   exec.WorkflowID,
		TaskID:       exec.FailedTask,
		ErrorMessage: forwardErr.Error(),
		Payload:      payload,
		Context: map[string]any{
			"phase":              "forward",
			"compensation_chain": chain,
			"execution_id":       exec.ExecutionID,
		},
	}
	return e.deadLetter(ctx, event)
}

// --- helpers ---

// invokeWithTimeout runs fn under a timeout using a result channel, so a
// call that ignores its context cannot block the engine past the deadline.
// A panic in fn is recovered and surfaced as an error, so a misbehaving
// executor fails its task instead of killing the process.
func invokeWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type callResult struct {
		value any
		err   error
	}
	results := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- callResult{nil, fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := fn(callCtx)
		results <- callResult{value, err}
	}()

	select {
	case <-callCtx.Done():
		return nil, callCtx.Err()
	case res := <-results:
		return res.value, res.err
	}
}

func (e *Engine) registerExecution(exec *Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executions[exec.ExecutionID] = exec
	e.byWorkflow[exec.WorkflowID] = append(e.byWorkflow[exec.WorkflowID], exec)
}

func (e *Engine) finishExecution(ctx context.Context, exec *Execution, phase schema.Phase) {
	exec.Phase = phase
	now := time.Now().UTC()
	exec.CompletedAt = &now
	e.persistExecution(ctx, exec)
}

// deadLetter enqueues an event; the capacity error is returned to the
// caller. Sink and notifier writes are best-effort.
func (e *Engine) deadLetter(ctx context.Context, event *DeadLetterEvent) error {
	if err := e.dlq.Enqueue(event); err != nil {
		return err
	}
	if e.sink != nil {
		if err := e.sink.SaveDeadLetter(ctx, event); err != nil {
			e.logger.Warn("dead-letter persist failed",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.notify(schema.EventDeadLetterEnqueued, event)
	return nil
}

func (e *Engine) persistCheckpoint(ctx context.Context, cp *Checkpoint) {
	if e.sink != nil {
		if err := e.sink.SaveCheckpoint(ctx, cp); err != nil {
			e.logger.Warn("checkpoint persist failed",
				slog.String("checkpoint_id", cp.CheckpointID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.notify(schema.EventCheckpointCreated, cp)
}

func (e *Engine) persistExecution(ctx context.Context, exec *Execution) {
	if e.sink != nil {
		if err := e.sink.SaveExecution(ctx, exec); err != nil {
			e.logger.Warn("execution persist failed",
				slog.String("execution_id", exec.ExecutionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) notify(topic string, payload any) {
	if e.notifier != nil {
		e.notifier.Publish(topic, payload)
	}
}

func (e *Engine) notifyTask(exec *Execution, taskID string, state schema.TaskState) {
	e.notify(schema.EventTaskStateChanged, map[string]any{
		"workflow_id":  exec.WorkflowID,
		"execution_id": exec.ExecutionID,
		"task_id":      taskID,
		"state":        string(state),
	})
}

func (e *Engine) notifyFailed(exec *Execution, err error) {
	e.notify(schema.EventExecutionFailed, map[string]any{
		"workflow_id":  exec.WorkflowID,
		"execution_id": exec.ExecutionID,
		"failed_task":  exec.FailedTask,
		"error":        err.Error(),
	})
}
