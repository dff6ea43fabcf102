package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	eventrepo "github.com/smallbiznis/recurra/internal/billingevent/repository"
	"github.com/smallbiznis/recurra/internal/clock"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
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
	Repo       eventrepo.Repository
	InvoiceSvc invoicingdomain.Service
	SubStore   subscriptiondomain.Store
	AuditSvc   auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       eventrepo.Repository
	invoiceSvc invoicingdomain.Service
	subStore   subscriptiondomain.Store
	auditSvc   auditdomain.Service
}

func NewService(p Params) eventdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billingevent.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		invoiceSvc: p.InvoiceSvc,
		subStore:   p.SubStore,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) CreateManual(ctx context.Context, req eventdomain.CreateManualEventRequest) (*eventdomain.BillingEvent, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, eventdomain.ErrInvalidPeriod
	}
	scheduleID, err := snowflake.ParseString(req.ScheduleID)
	if err != nil {
		return nil, eventdomain.ErrEventNotFound
	}
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, eventdomain.ErrEventNotFound
	}

	eventDate := req.EventDate
	if eventDate.IsZero() {
		eventDate = s.clock.Now()
	}
	metadata := req.Metadata
	if req.Description != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["description"] = req.Description
	}

	event := eventdomain.BillingEvent{
		ID:             s.genID.Generate(),
		ScheduleID:     scheduleID,
		SubscriptionID: subscriptionID,
		EventType:      eventdomain.EventTypeManual,
		Status:         eventdomain.EventStatusPending,
		EventDate:      eventDate,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Amount:         req.Amount,
		Metadata:       metadata,
	}
	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		return nil, err
	}
	s.audit(ctx, "billing_event.queued", event.ID, map[string]any{"event_type": string(event.EventType)})
	return &event, nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	eventID, err := snowflake.ParseString(id)
	if err != nil {
		return eventdomain.ErrEventNotFound
	}
	cancelled, err := s.repo.MarkCancelled(ctx, s.db, eventID, s.clock.Now())
	if err != nil {
		return err
	}
	if !cancelled {
		return eventdomain.ErrInvalidTransition
	}
	s.audit(ctx, "billing_event.cancelled", eventID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*eventdomain.BillingEvent, error) {
	eventID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, eventdomain.ErrEventNotFound
	}
	return s.repo.FindByID(ctx, s.db, eventID)
}

func (s *Service) ProcessManualEvents(ctx context.Context, batchSize int) (eventdomain.ManualSweepResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	var result eventdomain.ManualSweepResult
	var sweepErr error

	for {
		if ctx.Err() != nil {
			return result, errors.Join(sweepErr, ctx.Err())
		}

		var events []eventdomain.BillingEvent
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			events, err = s.repo.ClaimPendingManual(ctx, tx, batchSize)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			for _, event := range events {
				if _, err := s.repo.MarkProcessing(ctx, tx, event.ID, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, errors.Join(sweepErr, err)
		}
		if len(events) == 0 {
			return result, sweepErr
		}

		for _, event := range events {
			if err := s.processManualEvent(ctx, event); err != nil {
				sweepErr = errors.Join(sweepErr, err)
				result.Errors++
				continue
			}
			result.Processed++
		}
	}
}

func (s *Service) processManualEvent(ctx context.Context, event eventdomain.BillingEvent) error {
	now := s.clock.Now()

	sub, err := s.subStore.Get(ctx, event.SubscriptionID.String())
	if err != nil {
		_ = s.repo.MarkFailed(ctx, s.db, event.ID, err.Error(), now)
		return err
	}

	description := "Manual billing adjustment"
	if d, ok := event.Metadata["description"].(string); ok && d != "" {
		description = d
	}

	invoice, err := s.invoiceSvc.CreateInvoice(ctx, invoicingdomain.CreateInvoiceRequest{
		CustomerID:     sub.CustomerID.String(),
		SubscriptionID: sub.ID.String(),
		Currency:       sub.Currency,
		PeriodStart:    event.PeriodStart,
		PeriodEnd:      event.PeriodEnd,
		Lines: []invoicingdomain.LineItem{{
			Description: description,
			Quantity:    1,
			UnitAmount:  event.Amount,
		}},
	})
	if err != nil {
		_ = s.repo.MarkFailed(ctx, s.db, event.ID, err.Error(), now)
		s.audit(ctx, "billing_event.failed", event.ID, map[string]any{"error": err.Error()})
		return err
	}
	if err := s.invoiceSvc.Post(ctx, invoice.ID.String()); err != nil {
		_ = s.repo.MarkFailed(ctx, s.db, event.ID, err.Error(), now)
		s.audit(ctx, "billing_event.failed", event.ID, map[string]any{"error": err.Error()})
		return err
	}

	invoiceID := invoice.ID
	if err := s.repo.MarkCompleted(ctx, s.db, event.ID, &invoiceID, now); err != nil {
		return err
	}
	s.audit(ctx, "billing_event.completed", event.ID, map[string]any{
		"invoice_id": invoice.ID.String(),
		"amount":     event.Amount,
	})
	s.log.Info("billing_event.manual_processed",
		zap.String("event_id", event.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
	)
	return nil
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Log(ctx, auditdomain.ActorTypeSystem, "scheduler", action, "billing_event", id.String(), metadata)
}
