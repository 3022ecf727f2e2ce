package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeCompensationFailed = "COMPENSATION_FAILED"
	ErrCodeQueueFull          = "QUEUE_FULL"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStore              = "STORE_ERROR"
)

// SagaError is the structured error type for all engine operations.
type SagaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SagaError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.TaskID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SagaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SagaError.
func NewError(code, message string) *SagaError {
	return &SagaError{Code: code, Message: message}
}

// NewErrorf creates a new SagaError with a formatted message.
func NewErrorf(code, format string, args ...any) *SagaError {
	return &SagaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches a task ID to the error.
func (e *SagaError) WithTask(taskID string) *SagaError {
	e.TaskID = taskID
	return e
}

// WithCause attaches an underlying cause.
func (e *SagaError) WithCause(err error) *SagaError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SagaError) WithDetails(details map[string]any) *SagaError {
	e.Details = details
	return e
}
