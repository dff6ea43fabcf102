package domain

import (
	"context"
	"time"
)

type LineItem struct {
	Description string
	Quantity    int
	UnitAmount  int64
}

type CreateInvoiceRequest struct {
	CustomerID     string
	SubscriptionID string
	Currency       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	DueDate        time.Time
	Lines          []LineItem
	Metadata       map[string]any
}

// Service is the invoicing collaborator contract. The reference
// implementation here is gorm-backed; a real deployment points this
// at the accounting system.
type Service interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	Post(ctx context.Context, invoiceID string) error
	Send(ctx context.Context, invoiceID string, recipient string) (bool, error)
	ApplyPayment(ctx context.Context, invoiceID string, amount int64, paymentRef string) error
	ResidualAmount(ctx context.Context, invoiceID string) (int64, error)
	DueDate(ctx context.Context, invoiceID string) (time.Time, error)
	PaymentState(ctx context.Context, invoiceID string) (PaymentState, error)

	// ListOverdue returns posted, unpaid invoices whose due date is
	// at or before the cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]Invoice, error)
}
