package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	"github.com/smallbiznis/recurra/internal/clock"
	"github.com/smallbiznis/recurra/internal/config"
	gatewaydomain "github.com/smallbiznis/recurra/internal/gateway/domain"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	"github.com/smallbiznis/recurra/internal/notification"
	retrydomain "github.com/smallbiznis/recurra/internal/paymentretry/domain"
	retryrepo "github.com/smallbiznis/recurra/internal/paymentretry/repository"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        retryrepo.Repository
	Gateway     gatewaydomain.Gateway
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
	repo        retryrepo.Repository
	gateway     gatewaydomain.Gateway
	invoiceSvc  invoicingdomain.Service
	subStore    subscriptiondomain.Store
	auditSvc    auditdomain.Service
	notifier    notification.Provider
	collections *config.CollectionsConfigHolder
}

func NewService(p Params) retrydomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("paymentretry.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		gateway:     p.Gateway,
		invoiceSvc:  p.InvoiceSvc,
		subStore:    p.SubStore,
		auditSvc:    p.AuditSvc,
		notifier:    p.Notifier,
		collections: p.Collections,
	}
}

func (s *Service) CreateForFailure(ctx context.Context, req retrydomain.CreateRetryRequest) (*retrydomain.PaymentRetry, error) {
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, retrydomain.ErrRetryNotFound
	}
	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil {
		return nil, retrydomain.ErrRetryNotFound
	}
	if req.Amount <= 0 {
		return nil, retrydomain.ErrInvalidRetryAmount
	}

	cfg := s.collections.Get()
	policy, ok := cfg.RetryPolicies[string(req.FailureReason)]
	if !ok {
		return nil, retrydomain.ErrUnknownReason
	}

	failureAt := req.FailureAt
	if failureAt.IsZero() {
		failureAt = s.clock.Now()
	}
	backoff := policyBackoff(policy)
	next := retrydomain.NextRetryDate(failureAt, backoff, 0, shapingFrom(cfg))

	retry := retrydomain.PaymentRetry{
		ID:                s.genID.Generate(),
		SubscriptionID:    subscriptionID,
		InvoiceID:         invoiceID,
		FailureReason:     req.FailureReason,
		Status:            retrydomain.RetryStatusPending,
		RetryAmount:       req.Amount,
		Currency:          req.Currency,
		CurrentAttempt:    0,
		MaxRetryAttempts:  policy.MaxAttempts,
		InitialDelayHours: policy.InitialDelayHours,
		BackoffMultiplier: policy.BackoffMultiplier,
		MaxDelayHours:     policy.MaxDelayHours,
		NotifyCustomer:    policy.NotifyCustomer,
		FailureAt:         failureAt,
		NextRetryDate:     &next,
		Metadata:          req.Metadata,
	}
	if err := s.repo.Insert(ctx, s.db, &retry); err != nil {
		return nil, err
	}
	s.audit(ctx, auditdomain.ActorTypeSystem, "payment_retry.created", retry.ID, map[string]any{
		"invoice_id":     retry.InvoiceID.String(),
		"failure_reason": string(retry.FailureReason),
		"next_retry":     next.Format(time.RFC3339),
	})
	return &retry, nil
}

func (s *Service) Get(ctx context.Context, id string) (*retrydomain.PaymentRetry, error) {
	retryID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, retrydomain.ErrRetryNotFound
	}
	return s.repo.FindByID(ctx, s.db, retryID)
}

func (s *Service) ExecuteRetry(ctx context.Context, id string) (*retrydomain.PaymentRetry, error) {
	return s.executeRetry(ctx, id, auditdomain.ActorTypeSystem)
}

func (s *Service) RetryNow(ctx context.Context, id string) (*retrydomain.PaymentRetry, error) {
	return s.executeRetry(ctx, id, auditdomain.ActorTypeOperator)
}

func (s *Service) executeRetry(ctx context.Context, id string, actor auditdomain.ActorType) (*retrydomain.PaymentRetry, error) {
	retryID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, retrydomain.ErrRetryNotFound
	}

	var retry *retrydomain.PaymentRetry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockByID(ctx, tx, retryID)
		if err != nil {
			return err
		}
		switch locked.Status {
		case retrydomain.RetryStatusSuccess, retrydomain.RetryStatusCancelled:
			return retrydomain.ErrRetryImmutable
		case retrydomain.RetryStatusFailed, retrydomain.RetryStatusExpired:
			return retrydomain.ErrInvalidTransition
		}
		if locked.CurrentAttempt >= locked.MaxRetryAttempts {
			return retrydomain.ErrAttemptsExhausted
		}
		claimed, err := s.repo.MarkRetrying(ctx, tx, locked.ID, locked.CurrentAttempt+1, s.clock.Now())
		if err != nil {
			return err
		}
		if !claimed {
			return retrydomain.ErrInvalidTransition
		}
		locked.Status = retrydomain.RetryStatusRetrying
		locked.CurrentAttempt++
		retry = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.attemptCharge(ctx, retry, actor); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, retryID)
}

// attemptCharge runs one gateway attempt for an already-claimed
// retry. retry.CurrentAttempt is the attempt being made, one-based.
func (s *Service) attemptCharge(ctx context.Context, retry *retrydomain.PaymentRetry, actor auditdomain.ActorType) error {
	now := s.clock.Now()

	// A payment that arrived through another channel ends the
	// schedule without another charge.
	state, err := s.invoiceSvc.PaymentState(ctx, retry.InvoiceID.String())
	if err == nil && state == invoicingdomain.PaymentStatePaid {
		if _, err := s.repo.MarkTerminal(ctx, s.db, retry.ID, retrydomain.RetryStatusExpired, "", now); err != nil {
			return err
		}
		s.audit(ctx, actor, "payment_retry.expired", retry.ID, map[string]any{"invoice_id": retry.InvoiceID.String()})
		return nil
	}

	sub, err := s.subStore.Get(ctx, retry.SubscriptionID.String())
	if err != nil {
		return s.recordFailure(ctx, retry, actor, retrydomain.ReasonGatewayError, "", err.Error(), now)
	}

	result, err := s.gateway.Charge(ctx, gatewaydomain.ChargeRequest{
		PaymentMethod: sub.PaymentMethod,
		Amount:        retry.RetryAmount,
		Currency:      retry.Currency,
	})
	if err != nil {
		return s.recordFailure(ctx, retry, actor, retrydomain.ClassifyTransportError(err), "", err.Error(), now)
	}
	if !result.Success {
		reason := retrydomain.ClassifyDecline(result.DeclineCode)
		if notifyErr := s.notifyFailure(ctx, retry, sub, reason); notifyErr != nil {
			s.log.Warn("payment_retry.notify_failed",
				zap.String("retry_id", retry.ID.String()),
				zap.Error(notifyErr),
			)
		}
		return s.recordFailure(ctx, retry, actor, reason, result.TransactionID, result.Message, now)
	}

	if err := s.repo.InsertAttempt(ctx, s.db, &retrydomain.PaymentRetryAttempt{
		ID:            s.genID.Generate(),
		RetryID:       retry.ID,
		AttemptNo:     retry.CurrentAttempt,
		AttemptedAt:   now,
		Success:       true,
		TransactionID: result.TransactionID,
	}); err != nil {
		return err
	}
	if err := s.invoiceSvc.ApplyPayment(ctx, retry.InvoiceID.String(), retry.RetryAmount, result.TransactionID); err != nil {
		return err
	}
	if _, err := s.repo.MarkTerminal(ctx, s.db, retry.ID, retrydomain.RetryStatusSuccess, result.TransactionID, now); err != nil {
		return err
	}
	s.audit(ctx, actor, "payment_retry.succeeded", retry.ID, map[string]any{
		"invoice_id":     retry.InvoiceID.String(),
		"attempt":        retry.CurrentAttempt,
		"transaction_id": result.TransactionID,
	})
	s.log.Info("payment_retry.succeeded",
		zap.String("retry_id", retry.ID.String()),
		zap.Int("attempt", retry.CurrentAttempt),
	)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, retry *retrydomain.PaymentRetry, actor auditdomain.ActorType, reason retrydomain.FailureReason, transactionID, message string, now time.Time) error {
	if err := s.repo.InsertAttempt(ctx, s.db, &retrydomain.PaymentRetryAttempt{
		ID:            s.genID.Generate(),
		RetryID:       retry.ID,
		AttemptNo:     retry.CurrentAttempt,
		AttemptedAt:   now,
		Success:       false,
		TransactionID: transactionID,
		ErrorMessage:  message,
	}); err != nil {
		return err
	}

	if retry.CurrentAttempt < retry.MaxRetryAttempts {
		cfg := s.collections.Get()
		next := retrydomain.NextRetryDate(now, retryBackoff(retry), retry.CurrentAttempt, shapingFrom(cfg))
		if err := s.repo.Reschedule(ctx, s.db, retry.ID, reason, next, now); err != nil {
			return err
		}
		s.audit(ctx, actor, "payment_retry.rescheduled", retry.ID, map[string]any{
			"attempt":        retry.CurrentAttempt,
			"failure_reason": string(reason),
			"next_retry":     next.Format(time.RFC3339),
		})
		return nil
	}

	if _, err := s.repo.MarkTerminal(ctx, s.db, retry.ID, retrydomain.RetryStatusFailed, "", now); err != nil {
		return err
	}
	s.audit(ctx, actor, "payment_retry.exhausted", retry.ID, map[string]any{
		"invoice_id":     retry.InvoiceID.String(),
		"attempts":       retry.CurrentAttempt,
		"failure_reason": string(reason),
	})
	s.log.Warn("payment_retry.exhausted",
		zap.String("retry_id", retry.ID.String()),
		zap.String("invoice_id", retry.InvoiceID.String()),
		zap.Int("attempts", retry.CurrentAttempt),
	)
	return nil
}

func (s *Service) notifyFailure(ctx context.Context, retry *retrydomain.PaymentRetry, sub *subscriptiondomain.Subscription, reason retrydomain.FailureReason) error {
	if !retry.NotifyCustomer || sub.CustomerEmail == "" {
		return nil
	}
	return s.notifier.Send(ctx, "payment_retry_failed", sub.CustomerEmail, map[string]any{
		"subject":        "We could not process your payment",
		"invoice_id":     retry.InvoiceID.String(),
		"amount":         retry.RetryAmount,
		"currency":       retry.Currency,
		"failure_reason": string(reason),
		"attempt":        retry.CurrentAttempt,
	})
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	retryID, err := snowflake.ParseString(id)
	if err != nil {
		return retrydomain.ErrRetryNotFound
	}
	cancelled, err := s.repo.MarkTerminal(ctx, s.db, retryID, retrydomain.RetryStatusCancelled, "", s.clock.Now())
	if err != nil {
		return err
	}
	if !cancelled {
		existing, err := s.repo.FindByID(ctx, s.db, retryID)
		if err != nil {
			return err
		}
		if existing.Status == retrydomain.RetryStatusSuccess || existing.Status == retrydomain.RetryStatusCancelled {
			return retrydomain.ErrRetryImmutable
		}
		return retrydomain.ErrInvalidTransition
	}
	s.audit(ctx, auditdomain.ActorTypeOperator, "payment_retry.cancelled", retryID, nil)
	return nil
}

func (s *Service) Reset(ctx context.Context, id string) error {
	retryID, err := snowflake.ParseString(id)
	if err != nil {
		return retrydomain.ErrRetryNotFound
	}
	existing, err := s.repo.FindByID(ctx, s.db, retryID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	cfg := s.collections.Get()
	next := retrydomain.NextRetryDate(now, retryBackoff(existing), 0, shapingFrom(cfg))

	reset, err := s.repo.ResetSchedule(ctx, s.db, retryID, next, now)
	if err != nil {
		return err
	}
	if !reset {
		return retrydomain.ErrRetryImmutable
	}
	s.audit(ctx, auditdomain.ActorTypeOperator, "payment_retry.reset", retryID, map[string]any{
		"next_retry": next.Format(time.RFC3339),
	})
	return nil
}

func (s *Service) ProcessDueRetries(ctx context.Context, now time.Time, batchSize int) (retrydomain.SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	var result retrydomain.SweepResult
	var sweepErr error

	for {
		if ctx.Err() != nil {
			return result, errors.Join(sweepErr, ctx.Err())
		}

		var claimed []retrydomain.PaymentRetry
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			due, err := s.repo.ClaimDue(ctx, tx, now, batchSize)
			if err != nil {
				return err
			}
			claimNow := s.clock.Now()
			for i := range due {
				ok, err := s.repo.MarkRetrying(ctx, tx, due[i].ID, due[i].CurrentAttempt+1, claimNow)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				due[i].Status = retrydomain.RetryStatusRetrying
				due[i].CurrentAttempt++
				claimed = append(claimed, due[i])
			}
			return nil
		})
		if err != nil {
			return result, errors.Join(sweepErr, err)
		}
		if len(claimed) == 0 {
			return result, sweepErr
		}

		for i := range claimed {
			retry := &claimed[i]
			if retry.CurrentAttempt > retry.MaxRetryAttempts {
				if _, err := s.repo.MarkTerminal(ctx, s.db, retry.ID, retrydomain.RetryStatusFailed, "", s.clock.Now()); err != nil {
					sweepErr = errors.Join(sweepErr, err)
					result.Errors++
				}
				continue
			}
			if err := s.attemptCharge(ctx, retry, auditdomain.ActorTypeSystem); err != nil {
				sweepErr = errors.Join(sweepErr, err)
				result.Errors++
				continue
			}
			result.Processed++
			current, err := s.repo.FindByID(ctx, s.db, retry.ID)
			if err == nil && current.Status == retrydomain.RetryStatusSuccess {
				result.Succeeded++
			}
		}
	}
}

func (s *Service) ListAttempts(ctx context.Context, retryID string) ([]retrydomain.PaymentRetryAttempt, error) {
	id, err := snowflake.ParseString(retryID)
	if err != nil {
		return nil, retrydomain.ErrRetryNotFound
	}
	return s.repo.ListAttempts(ctx, s.db, id)
}

func (s *Service) audit(ctx context.Context, actor auditdomain.ActorType, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := "scheduler"
	if actor == auditdomain.ActorTypeOperator {
		actorID = "operator"
	}
	_ = s.auditSvc.Log(ctx, actor, actorID, action, "payment_retry", id.String(), metadata)
}

func policyBackoff(policy config.RetryPolicy) retrydomain.Backoff {
	return retrydomain.Backoff{
		InitialDelay: time.Duration(policy.InitialDelayHours) * time.Hour,
		Multiplier:   policy.BackoffMultiplier,
		MaxDelay:     time.Duration(policy.MaxDelayHours) * time.Hour,
	}
}

// retryBackoff reads the parameters frozen onto the record at
// creation, not the live policy.
func retryBackoff(retry *retrydomain.PaymentRetry) retrydomain.Backoff {
	return retrydomain.Backoff{
		InitialDelay: time.Duration(retry.InitialDelayHours) * time.Hour,
		Multiplier:   retry.BackoffMultiplier,
		MaxDelay:     time.Duration(retry.MaxDelayHours) * time.Hour,
	}
}

func shapingFrom(cfg config.CollectionsConfig) retrydomain.Shaping {
	return retrydomain.Shaping{
		AvoidWeekends:   cfg.Shaping.AvoidWeekends,
		PreferredWindow: cfg.Shaping.PreferredWindow,
	}
}
