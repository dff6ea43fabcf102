package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/recurra/internal/clock"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	"github.com/smallbiznis/recurra/internal/notification"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultNetTerms is applied when a create request carries no due date.
const DefaultNetTerms = 14 * 24 * time.Hour

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Notifier notification.Provider
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	notifier notification.Provider
}

func NewService(p Params) invoicingdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoicing.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		notifier: p.Notifier,
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req invoicingdomain.CreateInvoiceRequest) (*invoicingdomain.Invoice, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, invoicingdomain.ErrInvalidPeriod
	}
	if len(req.Lines) == 0 {
		return nil, invoicingdomain.ErrInvalidLineItems
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidLineItems
	}
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, invoicingdomain.ErrInvalidLineItems
	}

	now := s.clock.Now()
	dueDate := req.DueDate
	if dueDate.IsZero() {
		dueDate = now.Add(DefaultNetTerms)
	}
	if dueDate.Before(now.Truncate(24 * time.Hour)) {
		return nil, invoicingdomain.ErrInvalidDueDate
	}

	var total int64
	lines := make([]invoicingdomain.InvoiceLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity <= 0 || line.UnitAmount < 0 {
			return nil, invoicingdomain.ErrInvalidLineItems
		}
		amount := line.UnitAmount * int64(line.Quantity)
		total += amount
		lines = append(lines, invoicingdomain.InvoiceLine{
			ID:          s.genID.Generate(),
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitAmount:  line.UnitAmount,
			Amount:      amount,
		})
	}

	invoice := invoicingdomain.Invoice{
		ID:             s.genID.Generate(),
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		Currency:       req.Currency,
		AmountTotal:    total,
		AmountResidual: total,
		Status:         invoicingdomain.InvoiceStatusDraft,
		PaymentState:   invoicingdomain.PaymentStateNotPaid,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		DueDate:        dueDate,
		Metadata:       req.Metadata,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].InvoiceID = invoice.ID
		}
		return tx.Create(&lines).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice.created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", req.SubscriptionID),
		zap.Int64("amount_total", total),
	)
	return &invoice, nil
}

func (s *Service) Post(ctx context.Context, invoiceID string) error {
	id, err := snowflake.ParseString(invoiceID)
	if err != nil {
		return invoicingdomain.ErrInvoiceNotFound
	}
	now := s.clock.Now()
	result := s.db.WithContext(ctx).Model(&invoicingdomain.Invoice{}).
		Where("id = ? AND status = ?", id, invoicingdomain.InvoiceStatusDraft).
		Updates(map[string]any{
			"status":     invoicingdomain.InvoiceStatusPosted,
			"posted_at":  now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invoicingdomain.ErrInvoiceNotDraft
	}
	return nil
}

func (s *Service) Send(ctx context.Context, invoiceID string, recipient string) (bool, error) {
	if recipient == "" {
		return false, invoicingdomain.ErrMissingRecipient
	}
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	if invoice.Status != invoicingdomain.InvoiceStatusPosted {
		return false, invoicingdomain.ErrInvoiceNotPosted
	}

	err = s.notifier.Send(ctx, "invoice_new", recipient, map[string]any{
		"invoice_id": invoice.ID.String(),
		"amount":     invoice.AmountTotal,
		"currency":   invoice.Currency,
		"due_date":   invoice.DueDate.Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&invoicingdomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{"sent_at": now, "updated_at": now}).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ApplyPayment(ctx context.Context, invoiceID string, amount int64, paymentRef string) error {
	if amount <= 0 {
		return invoicingdomain.ErrInvalidPayment
	}
	id, err := snowflake.ParseString(invoiceID)
	if err != nil {
		return invoicingdomain.ErrInvoiceNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invoice invoicingdomain.Invoice
		if err := tx.Raw(
			`SELECT * FROM invoices WHERE id = ? LIMIT 1 FOR UPDATE`, id,
		).Scan(&invoice).Error; err != nil {
			return err
		}
		if invoice.ID == 0 {
			return invoicingdomain.ErrInvoiceNotFound
		}
		if invoice.Status == invoicingdomain.InvoiceStatusCancelled {
			return invoicingdomain.ErrInvoiceImmutable
		}
		if amount > invoice.AmountResidual {
			return invoicingdomain.ErrInvalidPayment
		}

		residual := invoice.AmountResidual - amount
		state := invoicingdomain.PaymentStatePartial
		if residual == 0 {
			state = invoicingdomain.PaymentStatePaid
		}
		now := s.clock.Now()
		return tx.Model(&invoicingdomain.Invoice{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"amount_residual": residual,
				"payment_state":   state,
				"payment_ref":     paymentRef,
				"updated_at":      now,
			}).Error
	})
}

func (s *Service) ResidualAmount(ctx context.Context, invoiceID string) (int64, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	return invoice.AmountResidual, nil
}

func (s *Service) DueDate(ctx context.Context, invoiceID string) (time.Time, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return time.Time{}, err
	}
	return invoice.DueDate, nil
}

func (s *Service) PaymentState(ctx context.Context, invoiceID string) (invoicingdomain.PaymentState, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	return invoice.PaymentState, nil
}

func (s *Service) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]invoicingdomain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var invoices []invoicingdomain.Invoice
	err := s.db.WithContext(ctx).
		Where("status = ? AND payment_state <> ? AND due_date <= ?",
			invoicingdomain.InvoiceStatusPosted, invoicingdomain.PaymentStatePaid, cutoff).
		Order("due_date ASC, id ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}

func (s *Service) find(ctx context.Context, invoiceID string) (*invoicingdomain.Invoice, error) {
	id, err := snowflake.ParseString(invoiceID)
	if err != nil {
		return nil, invoicingdomain.ErrInvoiceNotFound
	}
	var invoice invoicingdomain.Invoice
	err = s.db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invoicingdomain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
