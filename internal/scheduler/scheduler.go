// Package scheduler drives the periodic collection sweeps: billing
// runs, due payment retries, due dunning actions, overdue-invoice
// intake, manual billing events, and crash recovery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	rundomain "github.com/smallbiznis/recurra/internal/billingrun/domain"
	"github.com/smallbiznis/recurra/internal/clock"
	dunningdomain "github.com/smallbiznis/recurra/internal/dunning/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	retrydomain "github.com/smallbiznis/recurra/internal/paymentretry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_missing_dependency")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	RunSvc     rundomain.Service
	RetrySvc   retrydomain.Service
	DunningSvc dunningdomain.Service
	EventSvc   eventdomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	runSvc     rundomain.Service
	retrySvc   retrydomain.Service
	dunningSvc dunningdomain.Service
	eventSvc   eventdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.RunSvc == nil || p.RetrySvc == nil || p.DunningSvc == nil || p.EventSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		runSvc:     p.RunSvc,
		retrySvc:   p.RetrySvc,
		dunningSvc: p.DunningSvc,
		eventSvc:   p.EventSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the sweep resumes next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"run_billing", func(ctx context.Context) error {
			return s.runJob(ctx, "run_billing", s.cfg.BatchSize, 5*time.Minute, s.BillingJob)
		}},
		{"run_due_retries", func(ctx context.Context) error {
			return s.runJob(ctx, "run_due_retries", s.cfg.BatchSize, s.cfg.JobTimeout, s.DueRetriesJob)
		}},
		{"run_due_dunning", func(ctx context.Context) error {
			return s.runJob(ctx, "run_due_dunning", s.cfg.BatchSize, s.cfg.JobTimeout, s.DueDunningJob)
		}},
		{"run_overdue_to_dunning", func(ctx context.Context) error {
			return s.runJob(ctx, "run_overdue_to_dunning", s.cfg.BatchSize, s.cfg.JobTimeout, s.OverdueToDunningJob)
		}},
		{"run_manual_events", func(ctx context.Context) error {
			return s.runJob(ctx, "run_manual_events", s.cfg.BatchSize, s.cfg.JobTimeout, s.ManualEventsJob)
		}},
		{"recovery_sweep", func(ctx context.Context) error {
			return s.runJob(ctx, "recovery_sweep", s.cfg.BatchSize, 5*time.Minute, s.RecoverySweepJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) BillingJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "run_billing", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	billingRun, err := s.runSvc.RunScheduled(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logSweepError(run, "run_billing", err)
		return err
	}
	run.AddProcessed(billingRun.SchedulesProcessed)
	run.AddErrors(billingRun.ErrorCount)
	return nil
}

func (s *Scheduler) DueRetriesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "run_due_retries", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	result, err := s.retrySvc.ProcessDueRetries(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(result.Processed)
	run.AddErrors(result.Errors)
	obsmetrics.Scheduler().AddBatchProcessed("run_due_retries", "payment_retries", result.Processed)
	if err != nil {
		s.logSweepError(run, "run_due_retries", err)
	}
	return err
}

func (s *Scheduler) DueDunningJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "run_due_dunning", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	result, err := s.dunningSvc.ProcessDueDunning(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(result.Processed)
	run.AddErrors(result.Errors)
	obsmetrics.Scheduler().AddBatchProcessed("run_due_dunning", "dunning_processes", result.Processed)
	if err != nil {
		s.logSweepError(run, "run_due_dunning", err)
	}
	return err
}

func (s *Scheduler) OverdueToDunningJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "run_overdue_to_dunning", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	result, err := s.dunningSvc.StartForOverdueInvoices(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.AddProcessed(result.Started)
	obsmetrics.Scheduler().AddBatchProcessed("run_overdue_to_dunning", "dunning_processes", result.Started)
	if err != nil {
		s.logSweepError(run, "run_overdue_to_dunning", err)
	}
	return err
}

func (s *Scheduler) ManualEventsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "run_manual_events", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	result, err := s.eventSvc.ProcessManualEvents(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Processed)
	run.AddErrors(result.Errors)
	obsmetrics.Scheduler().AddBatchProcessed("run_manual_events", "billing_events", result.Processed)
	if err != nil {
		s.logSweepError(run, "run_manual_events", err)
	}
	return err
}

func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "recovery_sweep", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	recovered, err := s.runSvc.RecoverStuckRuns(ctx, s.cfg.RecoveryThreshold)
	run.AddProcessed(recovered)
	obsmetrics.Scheduler().AddBatchProcessed("recovery_sweep", "billing_runs", recovered)
	if err != nil {
		s.logSweepError(run, "recovery_sweep", err)
	}
	return err
}
