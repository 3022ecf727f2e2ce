// sagaflow runs a workflow definition through the saga engine: forward
// execution across the DAG, compensating rollback on failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sagaflow-io/sagaflow/internal/events"
	"github.com/sagaflow-io/sagaflow/internal/logging"
	"github.com/sagaflow-io/sagaflow/internal/scheduler"
	"github.com/sagaflow-io/sagaflow/internal/store"
	"github.com/sagaflow-io/sagaflow/pkg/saga"
	"github.com/sagaflow-io/sagaflow/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	var (
		definitionPath = flag.String("f", "", "path to the workflow definition JSON (required)")
		validateOnly   = flag.Bool("validate", false, "validate the definition and exit")
		dbPath         = flag.String("db", cfg.DBPath, "libSQL database path (empty disables persistence)")
		maxConcurrent  = flag.Int("max-concurrent", cfg.MaxConcurrentTasks, "maximum concurrent task executions")
		checkpointEach = flag.Int("checkpoint-interval", cfg.CheckpointInterval, "checkpoint after every Nth completed task")
		escalate       = flag.Bool("escalate-compensation-failures", false, "abort rollback on the first compensation failure")
		cronExpr       = flag.String("cron", "", "cron expression; run the workflow on a schedule until interrupted")
		logLevel       = flag.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	)
	flag.Parse()

	if *definitionPath == "" {
		flag.Usage()
		return fmt.Errorf("-f is required")
	}

	logger := newLogger(*logLevel)

	def, err := loadDefinition(*definitionPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Printf("definition %q is valid (%d tasks)\n", def.Workflow, len(def.Tasks))
		return nil
	}

	reg := saga.NewExecutorRegistry()
	if err := registerBuiltins(reg, logger); err != nil {
		return err
	}

	dag, err := saga.FromDefinition(def, reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []saga.Option{saga.WithLogger(logger)}

	if *dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
		db, err := store.NewLibSQLStore("file:" + *dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetLogger(logger)
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		opts = append(opts, saga.WithSink(db))
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	opts = append(opts, saga.WithNotifier(bus))

	eng := saga.NewEngine(saga.Config{
		MaxConcurrentTasks:           *maxConcurrent,
		CheckpointInterval:           *checkpointEach,
		EscalateCompensationFailures: *escalate,
	}, opts...)
	defer eng.Shutdown()

	if *cronExpr != "" {
		return runScheduled(ctx, logger, eng, dag, def.Workflow, *cronExpr)
	}

	exec, execErr := eng.Execute(ctx, def.Workflow, dag)
	if exec != nil {
		out, err := json.MarshalIndent(exec, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
	}
	return execErr
}

// engineRunner adapts the engine to the scheduler's Runner interface,
// binding the compiled DAG to the workflow it triggers.
type engineRunner struct {
	eng *saga.Engine
	dag *saga.DAG
}

func (r *engineRunner) RunWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.eng.Execute(ctx, workflowID, r.dag)
	return err
}

// runScheduled registers the workflow as a recurring cron job and blocks
// until interrupted.
func runScheduled(ctx context.Context, logger *slog.Logger, eng *saga.Engine, dag *saga.DAG, workflowID, cronExpr string) error {
	sched := scheduler.NewScheduler(&engineRunner{eng: eng, dag: dag}, logger)
	job, err := sched.AddJob(workflowID, workflowID, cronExpr)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("workflow scheduled",
		slog.String("workflow_id", workflowID),
		slog.String("cron", cronExpr),
		slog.Time("next_run_at", *job.NextRunAt),
	)

	<-ctx.Done()
	return sched.Stop()
}

// loadDefinition reads and validates a workflow definition file.
func loadDefinition(path string) (*schema.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	var def schema.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := schema.ValidateDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
