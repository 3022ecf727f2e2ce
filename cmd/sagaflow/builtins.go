package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sagaflow-io/sagaflow/pkg/saga"
)

// registerBuiltins wires the executors available to CLI-driven workflow
// definitions. Real deployments register their own domain executors; these
// exist for smoke-testing definitions end to end.
func registerBuiltins(reg *saga.ExecutorRegistry, logger *slog.Logger) error {
	executors := map[string]saga.TaskExecutor{
		"noop": func(_ context.Context, _ string, payload any) (any, error) {
			return payload, nil
		},
		"log": func(_ context.Context, taskID string, payload any) (any, error) {
			logger.Info("task payload",
				slog.String("task_id", taskID),
				slog.Any("payload", payload),
			)
			return payload, nil
		},
		"sleep": sleepExecutor,
		"fail": func(_ context.Context, taskID string, payload any) (any, error) {
			if m, ok := payload.(map[string]any); ok {
				if msg, ok := m["message"].(string); ok && msg != "" {
					return nil, errors.New(msg)
				}
			}
			return nil, fmt.Errorf("task %s failed by request", taskID)
		},
	}
	for name, fn := range executors {
		if err := reg.RegisterExecutor(name, fn); err != nil {
			return err
		}
	}

	compensations := map[string]saga.CompensationExecutor{
		"noop": func(_ context.Context, _ string, _ any) (any, error) {
			return nil, nil
		},
		"log": func(_ context.Context, taskID string, forwardResult any) (any, error) {
			logger.Info("compensating task",
				slog.String("task_id", taskID),
				slog.Any("forward_result", forwardResult),
			)
			return nil, nil
		},
	}
	for name, fn := range compensations {
		if err := reg.RegisterCompensation(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// sleepExecutor sleeps for the duration in the payload, respecting
// cancellation. Payload shape: {"duration": "250ms"}.
func sleepExecutor(ctx context.Context, taskID string, payload any) (any, error) {
	duration := 100 * time.Millisecond
	if m, ok := payload.(map[string]any); ok {
		if raw, ok := m["duration"].(string); ok {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("task %s: invalid sleep duration %q: %w", taskID, raw, err)
			}
			duration = parsed
		}
	}

	select {
	case <-time.After(duration):
		return map[string]any{"slept": duration.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
