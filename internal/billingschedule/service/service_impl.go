package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	eventrepo "github.com/smallbiznis/recurra/internal/billingevent/repository"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	schedulerepo "github.com/smallbiznis/recurra/internal/billingschedule/repository"
	"github.com/smallbiznis/recurra/internal/clock"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/recurra/internal/subscription/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       schedulerepo.Repository
	EventRepo  eventrepo.Repository
	SubRepo    subscriptionrepo.Repository
	SubStore   subscriptiondomain.Store
	InvoiceSvc invoicingdomain.Service
	AuditSvc   auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       schedulerepo.Repository
	eventRepo  eventrepo.Repository
	subRepo    subscriptionrepo.Repository
	subStore   subscriptiondomain.Store
	invoiceSvc invoicingdomain.Service
	auditSvc   auditdomain.Service
}

func NewService(p Params) scheduledomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billingschedule.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		eventRepo:  p.EventRepo,
		subRepo:    p.SubRepo,
		subStore:   p.SubStore,
		invoiceSvc: p.InvoiceSvc,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req scheduledomain.CreateScheduleRequest) (*scheduledomain.BillingSchedule, error) {
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	frequency := subscriptiondomain.Frequency(req.Frequency)
	if _, err := frequency.Months(); err != nil {
		return nil, err
	}
	if req.StartDate.IsZero() {
		return nil, scheduledomain.ErrInvalidStartDate
	}

	schedule := scheduledomain.BillingSchedule{
		ID:                  s.genID.Generate(),
		SubscriptionID:      subscriptionID,
		Frequency:           frequency,
		Status:              scheduledomain.ScheduleStatusDraft,
		StartDate:           req.StartDate,
		NextBillingDate:     req.StartDate,
		AutoGenerateInvoice: req.AutoGenerateInvoice,
		AutoSendInvoice:     req.AutoSendInvoice,
		Metadata:            req.Metadata,
	}
	if err := s.repo.Insert(ctx, s.db, &schedule); err != nil {
		return nil, err
	}
	s.audit(ctx, "billing_schedule.created", schedule.ID, map[string]any{
		"frequency":  string(frequency),
		"start_date": req.StartDate.Format(time.RFC3339),
	})
	return &schedule, nil
}

func (s *Service) Get(ctx context.Context, id string) (*scheduledomain.BillingSchedule, error) {
	scheduleID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, scheduledomain.ErrScheduleNotFound
	}
	return s.repo.FindByID(ctx, s.db, scheduleID)
}

func (s *Service) Activate(ctx context.Context, id string) error {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if schedule.Status != scheduledomain.ScheduleStatusDraft {
		return scheduledomain.ErrInvalidTransition
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := s.repo.CountActiveForSubscription(ctx, tx, schedule.SubscriptionID)
		if err != nil {
			return err
		}
		if active > 0 {
			return scheduledomain.ErrActiveScheduleExists
		}
		updated, err := s.repo.UpdateStatus(ctx, tx, schedule.ID,
			[]scheduledomain.ScheduleStatus{scheduledomain.ScheduleStatusDraft},
			scheduledomain.ScheduleStatusActive, s.clock.Now())
		if err != nil {
			return err
		}
		if !updated {
			return scheduledomain.ErrInvalidTransition
		}
		s.audit(ctx, "billing_schedule.activated", schedule.ID, nil)
		return nil
	})
}

func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		[]scheduledomain.ScheduleStatus{scheduledomain.ScheduleStatusActive},
		scheduledomain.ScheduleStatusPaused, "billing_schedule.paused")
}

func (s *Service) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		[]scheduledomain.ScheduleStatus{scheduledomain.ScheduleStatusPaused},
		scheduledomain.ScheduleStatusActive, "billing_schedule.resumed")
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id,
		[]scheduledomain.ScheduleStatus{
			scheduledomain.ScheduleStatusDraft,
			scheduledomain.ScheduleStatusActive,
			scheduledomain.ScheduleStatusPaused,
		},
		scheduledomain.ScheduleStatusCancelled, "billing_schedule.cancelled")
}

func (s *Service) CalculateNextBillingDate(ctx context.Context, id string) (time.Time, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	today := s.clock.Now()
	base := scheduledomain.BaseBillingDate(schedule.LastBillingDate, schedule.StartDate, today)
	return scheduledomain.NextBillingDate(base, schedule.Frequency, today)
}

func (s *Service) IsDueForBilling(ctx context.Context, id string, checkDate time.Time) (bool, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return scheduledomain.IsDue(schedule.Status, schedule.NextBillingDate, checkDate), nil
}

func (s *Service) ProcessBilling(ctx context.Context, id string, billingDate time.Time) (*scheduledomain.ProcessResult, error) {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *scheduledomain.ProcessResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.ProcessBillingInTx(ctx, tx, schedule, scheduledomain.ProcessOptions{
			BillingDate: billingDate,
			AutoInvoice: schedule.AutoGenerateInvoice,
			AutoSend:    schedule.AutoSendInvoice,
		})
		return txErr
	})
	if err != nil {
		// A not-due schedule is a guard miss, not a billing failure.
		if !errors.Is(err, scheduledomain.ErrScheduleNotDue) {
			s.recordFailedEvent(ctx, schedule, billingDate, err)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) ProcessBillingInTx(ctx context.Context, tx *gorm.DB, schedule *scheduledomain.BillingSchedule, opts scheduledomain.ProcessOptions) (*scheduledomain.ProcessResult, error) {
	billingDate := opts.BillingDate
	if billingDate.IsZero() {
		billingDate = s.clock.Now()
	}
	if !scheduledomain.IsDue(schedule.Status, schedule.NextBillingDate, billingDate) {
		return nil, scheduledomain.ErrScheduleNotDue
	}

	months, err := schedule.Frequency.Months()
	if err != nil {
		return nil, err
	}
	periodStart := schedule.NextBillingDate
	periodEnd := periodStart.AddDate(0, months, 0)

	sub, err := s.subStore.Get(ctx, schedule.SubscriptionID.String())
	if err != nil {
		return nil, err
	}
	amount := sub.Price * int64(sub.Quantity)

	var invoiceID *snowflake.ID
	if opts.AutoInvoice {
		invoice, err := s.invoiceSvc.CreateInvoice(ctx, invoicingdomain.CreateInvoiceRequest{
			CustomerID:     sub.CustomerID.String(),
			SubscriptionID: sub.ID.String(),
			Currency:       sub.Currency,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Lines: []invoicingdomain.LineItem{{
				Description: fmt.Sprintf("%s subscription %s to %s", schedule.Frequency, periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
				Quantity:    sub.Quantity,
				UnitAmount:  sub.Price,
			}},
		})
		if err != nil {
			return nil, err
		}
		if err := s.invoiceSvc.Post(ctx, invoice.ID.String()); err != nil {
			return nil, err
		}
		if opts.AutoSend && sub.CustomerEmail != "" {
			if _, err := s.invoiceSvc.Send(ctx, invoice.ID.String(), sub.CustomerEmail); err != nil {
				return nil, err
			}
		}
		id := invoice.ID
		invoiceID = &id
	}

	next, err := scheduledomain.NextBillingDate(billingDate, schedule.Frequency, billingDate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	advanced, err := s.repo.AdvanceDates(ctx, tx, schedule.ID, schedule.NextBillingDate, billingDate, next, now)
	if err != nil {
		return nil, err
	}
	if !advanced {
		return nil, scheduledomain.ErrScheduleDateConflict
	}
	if err := s.subRepo.UpdateBillingDates(ctx, tx, schedule.SubscriptionID, billingDate, next, now); err != nil {
		return nil, err
	}

	event := eventdomain.BillingEvent{
		ID:             s.genID.Generate(),
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.SubscriptionID,
		RunID:          opts.RunID,
		EventType:      eventdomain.EventTypeRegular,
		Status:         eventdomain.EventStatusCompleted,
		EventDate:      billingDate,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		InvoiceID:      invoiceID,
		Amount:         amount,
		CompletedAt:    &now,
	}
	if err := s.eventRepo.Insert(ctx, tx, &event); err != nil {
		return nil, err
	}

	s.audit(ctx, "billing_schedule.billed", schedule.ID, map[string]any{
		"event_id":          event.ID.String(),
		"period_start":      periodStart.Format(time.RFC3339),
		"period_end":        periodEnd.Format(time.RFC3339),
		"next_billing_date": next.Format(time.RFC3339),
	})

	return &scheduledomain.ProcessResult{
		EventID:         event.ID,
		InvoiceID:       invoiceID,
		Amount:          amount,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		NextBillingDate: next,
	}, nil
}

func (s *Service) transition(ctx context.Context, id string, from []scheduledomain.ScheduleStatus, to scheduledomain.ScheduleStatus, action string) error {
	scheduleID, err := snowflake.ParseString(id)
	if err != nil {
		return scheduledomain.ErrScheduleNotFound
	}
	updated, err := s.repo.UpdateStatus(ctx, s.db, scheduleID, from, to, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return scheduledomain.ErrInvalidTransition
	}
	s.audit(ctx, action, scheduleID, nil)
	return nil
}

// recordFailedEvent persists the failure outside the rolled-back
// billing transaction so the cause stays visible.
func (s *Service) recordFailedEvent(ctx context.Context, schedule *scheduledomain.BillingSchedule, billingDate time.Time, cause error) {
	months, err := schedule.Frequency.Months()
	if err != nil {
		months = 1
	}
	event := eventdomain.BillingEvent{
		ID:             s.genID.Generate(),
		ScheduleID:     schedule.ID,
		SubscriptionID: schedule.SubscriptionID,
		EventType:      eventdomain.EventTypeRegular,
		Status:         eventdomain.EventStatusFailed,
		EventDate:      billingDate,
		PeriodStart:    schedule.NextBillingDate,
		PeriodEnd:      schedule.NextBillingDate.AddDate(0, months, 0),
		ErrorMessage:   cause.Error(),
	}
	if err := s.eventRepo.Insert(ctx, s.db, &event); err != nil {
		s.log.Warn("failed to record billing failure",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.audit(ctx, "billing_schedule.billing_failed", schedule.ID, map[string]any{
		"event_id": event.ID.String(),
		"error":    cause.Error(),
	})
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Log(ctx, auditdomain.ActorTypeSystem, "scheduler", action, "billing_schedule", id.String(), metadata)
}
