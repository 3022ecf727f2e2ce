// Package scheduler triggers recurring workflow executions on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner is the interface the scheduler uses to launch workflow executions.
// Satisfied by a thin adapter over the engine (avoids import cycle).
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string) error
}

// Job is a recurring trigger for a workflow.
type Job struct {
	ID             string
	WorkflowID     string
	CronExpression string
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastRunStatus  string
}

// Scheduler holds registered jobs and runs those that are due.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	tick   time.Duration
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler with a 60s tick.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		tick:     60 * time.Second,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers an enabled job and computes its first run time.
func (s *Scheduler) AddJob(id, workflowID, cronExpr string) (*Job, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return nil, fmt.Errorf("job %q already registered", id)
	}
	job := &Job{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}
	s.jobs[id] = job
	cp := *job
	return &cp, nil
}

// RemoveJob unregisters a job. Removing an unknown job is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// SetEnabled toggles a job without losing its schedule position.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %q not registered", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Run an initial sweep immediately.
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep checks all enabled jobs and runs those that are due.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.Jobs() {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob launches one execution of the job's workflow and updates its
// schedule position.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)

	err := s.runner.RunWorkflow(ctx, job.WorkflowID)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateJobStatus(job.ID, now, status)
}

func (s *Scheduler) updateJobStatus(jobID string, now time.Time, status string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil // removed while running
	}

	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", jobID, err)
	}
	job.LastRunAt = &now
	job.NextRunAt = &nextRun
	job.LastRunStatus = status
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
