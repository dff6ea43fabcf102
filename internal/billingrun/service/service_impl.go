package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	eventrepo "github.com/smallbiznis/recurra/internal/billingevent/repository"
	rundomain "github.com/smallbiznis/recurra/internal/billingrun/domain"
	runrepo "github.com/smallbiznis/recurra/internal/billingrun/repository"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	"github.com/smallbiznis/recurra/internal/clock"
	gatewaydomain "github.com/smallbiznis/recurra/internal/gateway/domain"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	retrydomain "github.com/smallbiznis/recurra/internal/paymentretry/domain"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        runrepo.Repository
	EventRepo   eventrepo.Repository
	ScheduleSvc scheduledomain.Service
	SubStore    subscriptiondomain.Store
	Gateway     gatewaydomain.Gateway
	RetrySvc    retrydomain.Service
	InvoiceSvc  invoicingdomain.Service
	AuditSvc    auditdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        runrepo.Repository
	eventRepo   eventrepo.Repository
	scheduleSvc scheduledomain.Service
	subStore    subscriptiondomain.Store
	gateway     gatewaydomain.Gateway
	retrySvc    retrydomain.Service
	invoiceSvc  invoicingdomain.Service
	auditSvc    auditdomain.Service
}

func NewService(p Params) rundomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billingrun.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		eventRepo:   p.EventRepo,
		scheduleSvc: p.ScheduleSvc,
		subStore:    p.SubStore,
		gateway:     p.Gateway,
		retrySvc:    p.RetrySvc,
		invoiceSvc:  p.InvoiceSvc,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) CreateRun(ctx context.Context, req rundomain.CreateRunRequest) (*rundomain.BillingRun, error) {
	runType := req.RunType
	if runType == "" {
		runType = rundomain.RunTypeStandard
	}
	runDate := req.RunDate
	if runDate.IsZero() {
		runDate = s.clock.Now()
	}
	cutoff := req.CutoffDate
	if cutoff.IsZero() {
		cutoff = runDate
	}
	if cutoff.After(runDate) {
		return nil, rundomain.ErrInvalidCutoff
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	run := rundomain.BillingRun{
		ID:               s.genID.Generate(),
		RunType:          runType,
		Status:           rundomain.RunStatusDraft,
		RunDate:          runDate,
		CutoffDate:       cutoff,
		BatchSize:        batchSize,
		AutoPayment:      req.AutoPayment,
		CustomerCategory: req.CustomerCategory,
		ProductCategory:  req.ProductCategory,
		Metadata:         req.Metadata,
	}
	if err := s.repo.Insert(ctx, s.db, &run); err != nil {
		return nil, err
	}
	s.audit(ctx, "billing_run.created", run.ID, map[string]any{
		"run_type":    string(runType),
		"cutoff_date": cutoff.Format(time.RFC3339),
		"batch_size":  batchSize,
	})
	return &run, nil
}

func (s *Service) Get(ctx context.Context, id string) (*rundomain.BillingRun, error) {
	runID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, rundomain.ErrRunNotFound
	}
	return s.repo.FindByID(ctx, s.db, runID)
}

type billedItem struct {
	scheduleID     snowflake.ID
	subscriptionID snowflake.ID
	invoiceID      *snowflake.ID
	amount         int64
}

type failedItem struct {
	schedule scheduledomain.BillingSchedule
	err      error
}

func (s *Service) Execute(ctx context.Context, id string) (*rundomain.BillingRun, error) {
	runID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, rundomain.ErrRunNotFound
	}
	run, err := s.repo.FindByID(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}

	started, err := s.repo.MarkRunning(ctx, s.db, runID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, rundomain.ErrInvalidTransition
	}
	s.audit(ctx, "billing_run.started", runID, map[string]any{"run_type": string(run.RunType)})

	counters := runrepo.Counters{
		SchedulesFound:     run.SchedulesFound,
		SchedulesProcessed: run.SchedulesProcessed,
		SuccessCount:       run.SuccessCount,
		ErrorCount:         run.ErrorCount,
		InvoicesGenerated:  run.InvoicesGenerated,
		TotalAmount:        run.TotalAmount,
	}
	var attempted []snowflake.ID
	var runErr error

	for {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		current, err := s.repo.FindByID(ctx, s.db, runID)
		if err != nil {
			runErr = err
			break
		}
		if current.Status == rundomain.RunStatusCancelled {
			s.audit(ctx, "billing_run.stopped", runID, map[string]any{"processed": counters.SchedulesProcessed})
			return current, nil
		}

		var billed []billedItem
		var failed []failedItem
		claimed := 0

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			schedules, err := s.repo.ClaimDueSchedules(ctx, tx, run, attempted, run.BatchSize)
			if err != nil {
				return err
			}
			claimed = len(schedules)
			for i := range schedules {
				schedule := schedules[i]
				attempted = append(attempted, schedule.ID)

				var result *scheduledomain.ProcessResult
				// Savepoint per schedule: one bad schedule must not
				// poison the rest of the batch.
				perr := tx.Transaction(func(inner *gorm.DB) error {
					var e error
					result, e = s.scheduleSvc.ProcessBillingInTx(ctx, inner, &schedule, scheduledomain.ProcessOptions{
						BillingDate: run.RunDate,
						RunID:       &run.ID,
						AutoInvoice: schedule.AutoGenerateInvoice,
						AutoSend:    schedule.AutoSendInvoice,
					})
					return e
				})
				if perr != nil {
					failed = append(failed, failedItem{schedule: schedule, err: perr})
					continue
				}
				billed = append(billed, billedItem{
					scheduleID:     schedule.ID,
					subscriptionID: schedule.SubscriptionID,
					invoiceID:      result.InvoiceID,
					amount:         result.Amount,
				})
			}
			return nil
		})
		if err != nil {
			runErr = err
			break
		}
		if claimed == 0 {
			break
		}

		now := s.clock.Now()
		counters.SchedulesFound += claimed
		counters.SchedulesProcessed += claimed
		counters.SuccessCount += len(billed)
		for _, item := range billed {
			if item.invoiceID != nil {
				counters.InvoicesGenerated++
			}
			counters.TotalAmount += item.amount
		}

		// Failure records live outside the batch transaction so a
		// rolled-back schedule still leaves a trace.
		for _, failure := range failed {
			if errors.Is(failure.err, scheduledomain.ErrScheduleNotDue) {
				// Another sweep advanced it between claim and process.
				continue
			}
			counters.ErrorCount++
			s.recordScheduleFailure(ctx, run, failure.schedule, failure.err, now)
		}

		if run.AutoPayment {
			for _, item := range billed {
				s.collectPayment(ctx, run, item, now)
			}
		}

		if err := s.repo.UpdateCounters(ctx, s.db, runID, counters, now); err != nil {
			runErr = err
			break
		}
		obsmetrics.Scheduler().AddBatchProcessed("run_billing", "billing_schedules", claimed)
	}

	now := s.clock.Now()
	if err := s.repo.UpdateCounters(ctx, s.db, runID, counters, now); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		if _, err := s.repo.Finish(ctx, s.db, runID, rundomain.RunStatusFailed, runErr.Error(), now); err != nil {
			runErr = errors.Join(runErr, err)
		}
		s.audit(ctx, "billing_run.failed", runID, map[string]any{"error": runErr.Error()})
		s.log.Error("billing_run.failed",
			zap.String("run_id", runID.String()),
			zap.Error(runErr),
		)
		return nil, runErr
	}

	if _, err := s.repo.Finish(ctx, s.db, runID, rundomain.RunStatusCompleted, "", now); err != nil {
		return nil, err
	}
	s.audit(ctx, "billing_run.completed", runID, map[string]any{
		"schedules_found": counters.SchedulesFound,
		"success_count":   counters.SuccessCount,
		"error_count":     counters.ErrorCount,
		"total_amount":    counters.TotalAmount,
	})
	s.log.Info("billing_run.completed",
		zap.String("run_id", runID.String()),
		zap.Int("found", counters.SchedulesFound),
		zap.Int("success", counters.SuccessCount),
		zap.Int("errors", counters.ErrorCount),
	)
	return s.repo.FindByID(ctx, s.db, runID)
}

func (s *Service) recordScheduleFailure(ctx context.Context, run *rundomain.BillingRun, schedule scheduledomain.BillingSchedule, cause error, now time.Time) {
	runError := rundomain.BillingRunError{
		ID:             s.genID.Generate(),
		RunID:          run.ID,
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.SubscriptionID,
		Category:       classifyRunError(cause),
		Message:        cause.Error(),
		OccurredAt:     now,
	}
	if err := s.repo.InsertError(ctx, s.db, &runError); err != nil {
		s.log.Error("billing_run.error_record_failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}

	months, err := schedule.Frequency.Months()
	if err != nil {
		months = 1
	}
	runID := run.ID
	event := eventdomain.BillingEvent{
		ID:             s.genID.Generate(),
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.SubscriptionID,
		RunID:          &runID,
		EventType:      eventdomain.EventTypeRegular,
		Status:         eventdomain.EventStatusFailed,
		EventDate:      run.RunDate,
		PeriodStart:    schedule.NextBillingDate,
		PeriodEnd:      schedule.NextBillingDate.AddDate(0, months, 0),
		ErrorMessage:   cause.Error(),
	}
	if err := s.eventRepo.Insert(ctx, s.db, &event); err != nil {
		s.log.Warn("billing_run.failed_event_record_failed",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Error(err),
		)
	}
}

// collectPayment charges the invoice right after billing. A failed
// charge opens a payment retry instead of failing the run.
func (s *Service) collectPayment(ctx context.Context, run *rundomain.BillingRun, item billedItem, now time.Time) {
	if item.invoiceID == nil {
		return
	}
	sub, err := s.subStore.Get(ctx, item.subscriptionID.String())
	if err != nil || sub.PaymentMethod == "" {
		return
	}

	result, err := s.gateway.Charge(ctx, gatewaydomain.ChargeRequest{
		PaymentMethod: sub.PaymentMethod,
		Amount:        item.amount,
		Currency:      sub.Currency,
	})
	if err == nil && result.Success {
		if err := s.invoiceSvc.ApplyPayment(ctx, item.invoiceID.String(), item.amount, result.TransactionID); err != nil {
			s.log.Error("billing_run.payment_apply_failed",
				zap.String("invoice_id", item.invoiceID.String()),
				zap.Error(err),
			)
			return
		}
		s.audit(ctx, "billing_run.payment_collected", run.ID, map[string]any{
			"invoice_id":     item.invoiceID.String(),
			"amount":         item.amount,
			"transaction_id": result.TransactionID,
		})
		return
	}

	var reason retrydomain.FailureReason
	var message string
	if err != nil {
		reason = retrydomain.ClassifyTransportError(err)
		message = err.Error()
	} else {
		reason = retrydomain.ClassifyDecline(result.DeclineCode)
		message = result.Message
	}
	if _, err := s.retrySvc.CreateForFailure(ctx, retrydomain.CreateRetryRequest{
		SubscriptionID: item.subscriptionID.String(),
		InvoiceID:      item.invoiceID.String(),
		FailureReason:  reason,
		Amount:         item.amount,
		Currency:       sub.Currency,
		FailureAt:      now,
		Metadata:       map[string]any{"run_id": run.ID.String(), "decline_message": message},
	}); err != nil {
		s.log.Error("billing_run.retry_open_failed",
			zap.String("invoice_id", item.invoiceID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	runID, err := snowflake.ParseString(id)
	if err != nil {
		return rundomain.ErrRunNotFound
	}
	cancelled, err := s.repo.MarkCancelled(ctx, s.db, runID, s.clock.Now())
	if err != nil {
		return err
	}
	if !cancelled {
		if _, err := s.repo.FindByID(ctx, s.db, runID); err != nil {
			return err
		}
		return rundomain.ErrInvalidTransition
	}
	s.audit(ctx, "billing_run.cancelled", runID, nil)
	return nil
}

func (s *Service) RetryFailed(ctx context.Context, id string) (*rundomain.BillingRun, error) {
	source, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if source.Status != rundomain.RunStatusCompleted && source.Status != rundomain.RunStatusFailed {
		return nil, rundomain.ErrInvalidTransition
	}
	if source.ErrorCount == 0 && source.Status == rundomain.RunStatusCompleted {
		return nil, rundomain.ErrNothingToRetry
	}

	now := s.clock.Now()
	retry, err := s.CreateRun(ctx, rundomain.CreateRunRequest{
		RunType:          rundomain.RunTypeRetry,
		RunDate:          now,
		CutoffDate:       source.CutoffDate,
		BatchSize:        source.BatchSize,
		AutoPayment:      source.AutoPayment,
		CustomerCategory: source.CustomerCategory,
		ProductCategory:  source.ProductCategory,
	})
	if err != nil {
		return nil, err
	}
	sourceID := source.ID
	if err := s.db.WithContext(ctx).Model(&rundomain.BillingRun{}).
		Where("id = ?", retry.ID).
		Update("source_run_id", sourceID).Error; err != nil {
		return nil, err
	}
	s.audit(ctx, "billing_run.retry_spawned", retry.ID, map[string]any{"source_run_id": sourceID.String()})

	return s.Execute(ctx, retry.ID.String())
}

func (s *Service) ListErrors(ctx context.Context, id string) ([]rundomain.BillingRunError, error) {
	runID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, rundomain.ErrRunNotFound
	}
	return s.repo.ListErrors(ctx, s.db, runID)
}

func (s *Service) RunScheduled(ctx context.Context, now time.Time, batchSize int) (*rundomain.BillingRun, error) {
	run, err := s.CreateRun(ctx, rundomain.CreateRunRequest{
		RunType:    rundomain.RunTypeStandard,
		RunDate:    now,
		CutoffDate: now,
		BatchSize:  batchSize,
	})
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run.ID.String())
}

func (s *Service) RecoverStuckRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now()
	stuck, err := s.repo.RequeueStuck(ctx, s.db, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}

	recovered := 0
	var sweepErr error
	for i := range stuck {
		if stuck[i].Status != rundomain.RunStatusDraft {
			continue
		}
		s.audit(ctx, "billing_run.requeued", stuck[i].ID, map[string]any{"stalled_since": stuck[i].StartedAt})
		if _, err := s.Execute(ctx, stuck[i].ID.String()); err != nil {
			sweepErr = errors.Join(sweepErr, err)
			continue
		}
		recovered++
	}
	return recovered, sweepErr
}

func classifyRunError(err error) string {
	switch {
	case errors.Is(err, scheduledomain.ErrScheduleDateConflict):
		return "schedule_conflict"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionTerminated):
		return "subscription"
	case errors.Is(err, invoicingdomain.ErrInvalidLineItems),
		errors.Is(err, invoicingdomain.ErrInvalidPeriod),
		errors.Is(err, invoicingdomain.ErrInvalidDueDate),
		errors.Is(err, invoicingdomain.ErrInvoiceNotDraft):
		return "invoice"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "processing"
	}
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Log(ctx, auditdomain.ActorTypeSystem, "scheduler", action, "billing_run", id.String(), metadata)
}
