package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	"github.com/smallbiznis/recurra/internal/clock"
	"github.com/smallbiznis/recurra/internal/config"
	dunningdomain "github.com/smallbiznis/recurra/internal/dunning/domain"
	dunningrepo "github.com/smallbiznis/recurra/internal/dunning/repository"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	"github.com/smallbiznis/recurra/internal/notification"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"github.com/smallbiznis/recurra/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// actionRetryDelay spaces out re-attempts after a step action fails,
// so a broken mail relay does not spin the sweep.
const actionRetryDelay = 24 * time.Hour

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        dunningrepo.Repository
	InvoiceSvc  invoicingdomain.Service
	SubStore    subscriptiondomain.Store
	AuditSvc    auditdomain.Service
	Notifier    notification.Provider
	Collections *config.CollectionsConfigHolder
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        dunningrepo.Repository
	invoiceSvc  invoicingdomain.Service
	subStore    subscriptiondomain.Store
	auditSvc    auditdomain.Service
	notifier    notification.Provider
	collections *config.CollectionsConfigHolder
}

func NewService(p Params) dunningdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("dunning.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceSvc:  p.InvoiceSvc,
		subStore:    p.SubStore,
		auditSvc:    p.AuditSvc,
		notifier:    p.Notifier,
		collections: p.Collections,
	}
}

func (s *Service) CreateSequence(ctx context.Context, req dunningdomain.CreateSequenceRequest) (*dunningdomain.DunningSequence, error) {
	if req.Name == "" {
		return nil, dunningdomain.ErrSequenceNotFound
	}

	steps := make([]dunningdomain.DunningStep, 0, len(req.Steps))
	for _, stepReq := range req.Steps {
		steps = append(steps, dunningdomain.DunningStep{
			ID:                    s.genID.Generate(),
			SequenceNo:            stepReq.SequenceNo,
			Name:                  stepReq.Name,
			DaysAfterDue:          stepReq.DaysAfterDue,
			DaysAfterPreviousStep: stepReq.DaysAfterPreviousStep,
			ActionType:            stepReq.ActionType,
			NotificationTemplate:  stepReq.NotificationTemplate,
			RequiresApproval:      stepReq.RequiresApproval,
			IsFinal:               stepReq.IsFinal,
		})
	}
	if err := dunningdomain.ValidateSteps(steps); err != nil {
		return nil, err
	}

	if req.IsDefault {
		defaults, err := s.repo.CountDefaultSequences(ctx, s.db)
		if err != nil {
			return nil, err
		}
		if defaults > 0 {
			return nil, dunningdomain.ErrDefaultSequenceExists
		}
	}

	sequence := dunningdomain.DunningSequence{
		ID:                  s.genID.Generate(),
		Name:                req.Name,
		Description:         req.Description,
		IsDefault:           req.IsDefault,
		Active:              true,
		CustomerCategory:    req.CustomerCategory,
		ProductCategory:     req.ProductCategory,
		SubscriptionType:    req.SubscriptionType,
		GracePeriodDays:     req.GracePeriodDays,
		SuspendAfterFinal:   req.SuspendAfterFinal,
		SuspensionDelayDays: req.SuspensionDelayDays,
		Steps:               steps,
	}
	if err := s.repo.InsertSequence(ctx, s.db, &sequence); err != nil {
		return nil, err
	}
	s.audit(ctx, "dunning_sequence.created", sequence.ID, map[string]any{
		"name":  sequence.Name,
		"steps": len(steps),
	})
	return &sequence, nil
}

func (s *Service) GetSequence(ctx context.Context, id string) (*dunningdomain.DunningSequence, error) {
	sequenceID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, dunningdomain.ErrSequenceNotFound
	}
	return s.repo.FindSequenceByID(ctx, s.db, sequenceID)
}

func (s *Service) StartProcess(ctx context.Context, req dunningdomain.StartProcessRequest) (*dunningdomain.DunningProcess, error) {
	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil {
		return nil, dunningdomain.ErrProcessNotFound
	}
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, dunningdomain.ErrProcessNotFound
	}

	now := s.clock.Now()
	cfg := s.collections.Get()

	state, err := s.invoiceSvc.PaymentState(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if state == invoicingdomain.PaymentStatePaid {
		return nil, dunningdomain.ErrInvoiceNotOverdue
	}
	dueDate, err := s.invoiceSvc.DueDate(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if now.Before(dueDate.AddDate(0, 0, cfg.OverdueThresholdDays)) {
		return nil, dunningdomain.ErrInvoiceNotOverdue
	}

	active, err := s.repo.CountActiveForInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, dunningdomain.ErrActiveProcessExists
	}

	sub, err := s.subStore.Get(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}

	sequence, err := s.resolveSequence(ctx, req.SequenceID, sub)
	if err != nil {
		return nil, err
	}
	if len(sequence.Steps) == 0 {
		return nil, dunningdomain.ErrStepNotFound
	}

	graceDays := sequence.GracePeriodDays
	if graceDays <= 0 {
		graceDays = cfg.DefaultGraceDays
	}
	suspensionDelay := sequence.SuspensionDelayDays
	if suspensionDelay <= 0 {
		suspensionDelay = cfg.SuspensionDelayDays
	}

	graceEnd := dunningdomain.GraceEndDate(now, graceDays)
	// The stored suspension date is a projection off the scheduled
	// final step; the authoritative one is re-anchored when that step
	// actually executes.
	var suspensionDate *time.Time
	if sequence.SuspendAfterFinal {
		finalAt := dunningdomain.ProjectedFinalStepDate(sequence.Steps, dueDate, graceEnd)
		d := dunningdomain.SuspensionDate(finalAt, suspensionDelay)
		suspensionDate = &d
	}

	failedAmount := req.FailedAmount
	if failedAmount <= 0 {
		if residual, rerr := s.invoiceSvc.ResidualAmount(ctx, req.InvoiceID); rerr == nil {
			failedAmount = residual
		}
	}
	failureReason := req.FailureReason
	if failureReason == "" {
		failureReason = "invoice_overdue"
	}

	firstStep := sequence.Steps[0]
	nextAction := dunningdomain.StepActionDate(firstStep, dueDate, nil, graceEnd)

	process := dunningdomain.DunningProcess{
		ID:             s.genID.Generate(),
		SequenceID:     sequence.ID,
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		Status:         dunningdomain.ProcessStatusActive,
		CurrentStepNo:  firstStep.SequenceNo,
		FailureReason:  failureReason,
		FailedAmount:   failedAmount,
		InvoiceDueDate: dueDate,
		GraceEndDate:   graceEnd,
		SuspensionDate: suspensionDate,
		NextActionDate: &nextAction,
		StartedAt:      now,
	}
	if err := s.repo.InsertProcess(ctx, s.db, &process); err != nil {
		// Two sweeps can race past the count check; the unique index
		// on active processes settles it.
		if db.IsDuplicateKeyErr(err) {
			return nil, dunningdomain.ErrActiveProcessExists
		}
		return nil, err
	}
	s.audit(ctx, "dunning_process.started", process.ID, map[string]any{
		"invoice_id":     invoiceID.String(),
		"sequence_id":    sequence.ID.String(),
		"grace_end_date": graceEnd.Format(time.RFC3339),
	})
	s.log.Info("dunning.process_started",
		zap.String("process_id", process.ID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("sequence", sequence.Name),
	)
	return &process, nil
}

func (s *Service) resolveSequence(ctx context.Context, sequenceID string, sub *subscriptiondomain.Subscription) (*dunningdomain.DunningSequence, error) {
	if sequenceID != "" {
		id, err := snowflake.ParseString(sequenceID)
		if err != nil {
			return nil, dunningdomain.ErrSequenceNotFound
		}
		return s.repo.FindSequenceByID(ctx, s.db, id)
	}

	sequences, err := s.repo.ListActiveSequences(ctx, s.db)
	if err != nil {
		return nil, err
	}
	selected, err := dunningdomain.SelectSequence(sequences, sub)
	if err != nil {
		return nil, err
	}
	return s.repo.FindSequenceByID(ctx, s.db, selected.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*dunningdomain.DunningProcess, error) {
	processID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, dunningdomain.ErrProcessNotFound
	}
	return s.repo.FindProcessByID(ctx, s.db, processID)
}

func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		[]dunningdomain.ProcessStatus{dunningdomain.ProcessStatusActive},
		dunningdomain.ProcessStatusPaused, "", "dunning_process.paused")
}

func (s *Service) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		[]dunningdomain.ProcessStatus{dunningdomain.ProcessStatusPaused, dunningdomain.ProcessStatusEscalated},
		dunningdomain.ProcessStatusActive, "", "dunning_process.resumed")
}

func (s *Service) Cancel(ctx context.Context, id string, reason string) error {
	return s.transition(ctx, id,
		[]dunningdomain.ProcessStatus{
			dunningdomain.ProcessStatusActive,
			dunningdomain.ProcessStatusPaused,
			dunningdomain.ProcessStatusEscalated,
		},
		dunningdomain.ProcessStatusCancelled, reason, "dunning_process.cancelled")
}

func (s *Service) transition(ctx context.Context, id string, from []dunningdomain.ProcessStatus, to dunningdomain.ProcessStatus, reason, action string) error {
	processID, err := snowflake.ParseString(id)
	if err != nil {
		return dunningdomain.ErrProcessNotFound
	}
	updated, err := s.repo.UpdateProcessStatus(ctx, s.db, processID, from, to, reason, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		if _, err := s.repo.FindProcessByID(ctx, s.db, processID); err != nil {
			return err
		}
		return dunningdomain.ErrInvalidTransition
	}
	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.audit(ctx, action, processID, metadata)
	return nil
}

func (s *Service) MarkCustomerResponse(ctx context.Context, id string, note string) error {
	processID, err := snowflake.ParseString(id)
	if err != nil {
		return dunningdomain.ErrProcessNotFound
	}
	updated, err := s.repo.SetCustomerResponse(ctx, s.db, processID, note, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		if _, err := s.repo.FindProcessByID(ctx, s.db, processID); err != nil {
			return err
		}
		return dunningdomain.ErrInvalidTransition
	}
	s.audit(ctx, "dunning_process.customer_responded", processID, map[string]any{"note": note})
	return nil
}

func (s *Service) ExecuteCurrentStep(ctx context.Context, id string) (*dunningdomain.DunningProcess, error) {
	processID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, dunningdomain.ErrProcessNotFound
	}
	process, err := s.repo.FindProcessByID(ctx, s.db, processID)
	if err != nil {
		return nil, err
	}
	if process.Status != dunningdomain.ProcessStatusActive {
		return nil, dunningdomain.ErrInvalidTransition
	}
	if err := s.executeStep(ctx, process); err != nil {
		return nil, err
	}
	return s.repo.FindProcessByID(ctx, s.db, processID)
}

func (s *Service) executeStep(ctx context.Context, process *dunningdomain.DunningProcess) error {
	now := s.clock.Now()
	if dunningdomain.InGracePeriod(now, process.GraceEndDate) {
		return dunningdomain.ErrInGracePeriod
	}

	// Payment arriving through any channel resolves the process.
	state, err := s.invoiceSvc.PaymentState(ctx, process.InvoiceID.String())
	if err == nil && state == invoicingdomain.PaymentStatePaid {
		if _, err := s.repo.CompleteProcess(ctx, s.db, process.ID, now); err != nil {
			return err
		}
		s.audit(ctx, "dunning_process.resolved", process.ID, map[string]any{"invoice_id": process.InvoiceID.String()})
		return nil
	}

	step, err := s.repo.FindStep(ctx, s.db, process.SequenceID, process.CurrentStepNo)
	if errors.Is(err, dunningdomain.ErrStepNotFound) {
		// Past the last step: only the trailing suspension remains.
		sequence, serr := s.repo.FindSequenceByID(ctx, s.db, process.SequenceID)
		if serr != nil {
			return serr
		}
		return s.finishProcess(ctx, process, sequence, now)
	}
	if err != nil {
		return err
	}

	if step.RequiresApproval {
		if _, err := s.repo.UpdateProcessStatus(ctx, s.db, process.ID,
			[]dunningdomain.ProcessStatus{dunningdomain.ProcessStatusActive},
			dunningdomain.ProcessStatusEscalated, "", now); err != nil {
			return err
		}
		s.recordAction(ctx, process, step, dunningdomain.ActionStatusSkipped, "operator approval required", now)
		s.audit(ctx, "dunning_process.escalated", process.ID, map[string]any{"step": step.SequenceNo})
		return nil
	}

	if err := s.performAction(ctx, process, step, now); err != nil {
		s.recordAction(ctx, process, step, dunningdomain.ActionStatusFailed, err.Error(), now)
		retryAt := now.Add(actionRetryDelay)
		if advErr := s.repo.AdvanceStep(ctx, s.db, process.ID, step.SequenceNo, &retryAt, now); advErr != nil {
			return errors.Join(err, advErr)
		}
		return err
	}
	s.recordAction(ctx, process, step, dunningdomain.ActionStatusExecuted, "", now)
	s.audit(ctx, "dunning_process.step_executed", process.ID, map[string]any{
		"step":   step.SequenceNo,
		"action": string(step.ActionType),
	})

	if step.ActionType == dunningdomain.ActionEscalate {
		_, err := s.repo.UpdateProcessStatus(ctx, s.db, process.ID,
			[]dunningdomain.ProcessStatus{dunningdomain.ProcessStatusActive},
			dunningdomain.ProcessStatusEscalated, "", now)
		return err
	}

	next, err := s.repo.NextStep(ctx, s.db, process.SequenceID, step.SequenceNo)
	if errors.Is(err, dunningdomain.ErrStepNotFound) {
		return s.afterFinalStep(ctx, process, step, now)
	}
	if err != nil {
		return err
	}
	nextAt := dunningdomain.StepActionDate(*next, process.InvoiceDueDate, &now, process.GraceEndDate)
	return s.repo.AdvanceStep(ctx, s.db, process.ID, next.SequenceNo, &nextAt, now)
}

// afterFinalStep runs once the last step has executed. The trailing
// suspension counts its delay from that execution, not from the grace
// window, so a late-firing final step never suspends immediately.
func (s *Service) afterFinalStep(ctx context.Context, process *dunningdomain.DunningProcess, step *dunningdomain.DunningStep, now time.Time) error {
	sequence, err := s.repo.FindSequenceByID(ctx, s.db, process.SequenceID)
	if err != nil {
		return err
	}
	if !sequence.SuspendAfterFinal {
		return s.finishProcess(ctx, process, sequence, now)
	}

	delay := sequence.SuspensionDelayDays
	if delay <= 0 {
		delay = s.collections.Get().SuspensionDelayDays
	}
	suspendAt := dunningdomain.SuspensionDate(now, delay)
	if !suspendAt.After(now) {
		return s.finishProcess(ctx, process, sequence, now)
	}
	if err := s.repo.ScheduleSuspension(ctx, s.db, process.ID, step.SequenceNo+1, suspendAt, now); err != nil {
		return err
	}
	s.audit(ctx, "dunning_process.suspension_scheduled", process.ID, map[string]any{
		"suspension_date": suspendAt.Format(time.RFC3339),
	})
	return nil
}

// finishProcess closes out a process whose sequence ran out, applying
// the suspension when the sequence asks for one.
func (s *Service) finishProcess(ctx context.Context, process *dunningdomain.DunningProcess, sequence *dunningdomain.DunningSequence, now time.Time) error {
	if sequence.SuspendAfterFinal {
		if err := s.subStore.Suspend(ctx, process.SubscriptionID.String()); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrSubscriptionTerminated) {
			return err
		}
		if err := s.subStore.Restrict(ctx, process.SubscriptionID.String(), subscriptiondomain.AccessLevelNone); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrSubscriptionTerminated) {
			return err
		}
		s.audit(ctx, "dunning_process.suspended_subscription", process.ID, map[string]any{
			"subscription_id": process.SubscriptionID.String(),
		})
	}
	if _, err := s.repo.CompleteProcess(ctx, s.db, process.ID, now); err != nil {
		return err
	}
	s.audit(ctx, "dunning_process.completed", process.ID, nil)
	return nil
}

func (s *Service) performAction(ctx context.Context, process *dunningdomain.DunningProcess, step *dunningdomain.DunningStep, now time.Time) error {
	subID := process.SubscriptionID.String()

	switch step.ActionType {
	case dunningdomain.ActionNotify:
		return s.notifyCustomer(ctx, process, step)
	case dunningdomain.ActionNotifyRestrict:
		if err := s.notifyCustomer(ctx, process, step); err != nil {
			return err
		}
		return s.subStore.Restrict(ctx, subID, subscriptiondomain.AccessLevelRestricted)
	case dunningdomain.ActionSuspend:
		if step.NotificationTemplate != "" {
			if err := s.notifyCustomer(ctx, process, step); err != nil {
				s.log.Warn("dunning.suspend_notice_failed",
					zap.String("process_id", process.ID.String()),
					zap.Error(err),
				)
			}
		}
		if err := s.subStore.Suspend(ctx, subID); err != nil {
			return err
		}
		return s.subStore.Restrict(ctx, subID, subscriptiondomain.AccessLevelNone)
	case dunningdomain.ActionTerminate:
		return s.subStore.Terminate(ctx, subID)
	case dunningdomain.ActionEscalate:
		return nil
	default:
		return dunningdomain.ErrInvalidAction
	}
}

func (s *Service) notifyCustomer(ctx context.Context, process *dunningdomain.DunningProcess, step *dunningdomain.DunningStep) error {
	sub, err := s.subStore.Get(ctx, process.SubscriptionID.String())
	if err != nil {
		return err
	}
	if sub.CustomerEmail == "" {
		return invoicingdomain.ErrMissingRecipient
	}
	if err := s.notifier.Send(ctx, step.NotificationTemplate, sub.CustomerEmail, map[string]any{
		"subject":    "Action required: overdue invoice",
		"invoice_id": process.InvoiceID.String(),
		"due_date":   process.InvoiceDueDate.Format("2006-01-02"),
		"step":       step.Name,
	}); err != nil {
		return err
	}
	if err := s.repo.IncrementNotifications(ctx, s.db, process.ID, s.clock.Now()); err != nil {
		s.log.Warn("dunning.notification_count_failed",
			zap.String("process_id", process.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) recordAction(ctx context.Context, process *dunningdomain.DunningProcess, step *dunningdomain.DunningStep, status dunningdomain.ActionStatus, message string, now time.Time) {
	action := dunningdomain.DunningAction{
		ID:           s.genID.Generate(),
		ProcessID:    process.ID,
		StepID:       step.ID,
		StepNo:       step.SequenceNo,
		ActionType:   step.ActionType,
		Status:       status,
		ExecutedAt:   now,
		ErrorMessage: message,
	}
	if err := s.repo.InsertAction(ctx, s.db, &action); err != nil {
		s.log.Error("dunning.action_record_failed",
			zap.String("process_id", process.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) ProcessDueDunning(ctx context.Context, now time.Time, batchSize int) (dunningdomain.SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	var result dunningdomain.SweepResult
	var sweepErr error

	for {
		if ctx.Err() != nil {
			return result, errors.Join(sweepErr, ctx.Err())
		}

		var processes []dunningdomain.DunningProcess
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			claimed, err := s.repo.ClaimDue(ctx, tx, now, batchSize)
			if err != nil {
				return err
			}
			// The row locks die with this transaction. Pushing the
			// action date out while still locked keeps an overlapping
			// sweep off these rows; execution below re-dates them.
			lease := now.Add(actionRetryDelay)
			for i := range claimed {
				ok, err := s.repo.DeferNextAction(ctx, tx, claimed[i].ID, lease, now)
				if err != nil {
					return err
				}
				if ok {
					processes = append(processes, claimed[i])
				}
			}
			return nil
		})
		if err != nil {
			return result, errors.Join(sweepErr, err)
		}
		if len(processes) == 0 {
			return result, sweepErr
		}

		for i := range processes {
			process := &processes[i]
			if err := s.executeStep(ctx, process); err != nil {
				if errors.Is(err, dunningdomain.ErrInGracePeriod) {
					// Push the action past the grace window so the
					// sweep does not reclaim the row immediately.
					nextAt := process.GraceEndDate.AddDate(0, 0, 1)
					if advErr := s.repo.AdvanceStep(ctx, s.db, process.ID, process.CurrentStepNo, &nextAt, now); advErr != nil {
						sweepErr = errors.Join(sweepErr, advErr)
						result.Errors++
					}
					continue
				}
				sweepErr = errors.Join(sweepErr, err)
				result.Errors++
				continue
			}
			result.Processed++
		}
	}
}

func (s *Service) StartForOverdueInvoices(ctx context.Context, now time.Time, batchSize int) (dunningdomain.StartSweepResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	cfg := s.collections.Get()
	threshold := now.AddDate(0, 0, -cfg.OverdueThresholdDays)

	var result dunningdomain.StartSweepResult
	invoices, err := s.invoiceSvc.ListOverdue(ctx, now, batchSize)
	if err != nil {
		return result, err
	}

	var sweepErr error
	for _, invoice := range invoices {
		if invoice.DueDate.After(threshold) {
			result.SkippedInGrace++
			continue
		}
		_, err := s.StartProcess(ctx, dunningdomain.StartProcessRequest{
			InvoiceID:      invoice.ID.String(),
			SubscriptionID: invoice.SubscriptionID.String(),
		})
		switch {
		case err == nil:
			result.Started++
		case errors.Is(err, dunningdomain.ErrInvoiceNotOverdue):
			result.SkippedInGrace++
		case errors.Is(err, dunningdomain.ErrActiveProcessExists):
		case errors.Is(err, dunningdomain.ErrNoApplicableSequence):
			s.log.Warn("dunning.no_sequence_for_invoice",
				zap.String("invoice_id", invoice.ID.String()),
			)
		default:
			sweepErr = errors.Join(sweepErr, err)
		}
	}
	return result, sweepErr
}

func (s *Service) ListActions(ctx context.Context, processID string) ([]dunningdomain.DunningAction, error) {
	id, err := snowflake.ParseString(processID)
	if err != nil {
		return nil, dunningdomain.ErrProcessNotFound
	}
	return s.repo.ListActions(ctx, s.db, id)
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Log(ctx, auditdomain.ActorTypeSystem, "scheduler", action, "dunning_process", id.String(), metadata)
}
