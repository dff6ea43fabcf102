package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPosted    InvoiceStatus = "POSTED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

type PaymentState string

const (
	PaymentStateNotPaid PaymentState = "not_paid"
	PaymentStatePartial PaymentState = "partial"
	PaymentStatePaid    PaymentState = "paid"
)

// Invoice is engine-side bookkeeping for the external accounting
// system. Amounts are in the currency's minor unit. No double entry
// happens here.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	CustomerID     snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	Currency       string        `gorm:"type:text;not null"`
	AmountTotal    int64         `gorm:"not null"`
	AmountResidual int64         `gorm:"not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;index"`
	PaymentState   PaymentState  `gorm:"type:text;not null;index"`
	PeriodStart    time.Time     `gorm:"not null"`
	PeriodEnd      time.Time     `gorm:"not null"`
	DueDate        time.Time     `gorm:"not null;index"`
	PostedAt       *time.Time
	SentAt         *time.Time
	PaymentRef     string            `gorm:"type:text"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Invoice) TableName() string { return "invoices" }

type InvoiceLine struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	Description string       `gorm:"type:text;not null"`
	Quantity    int          `gorm:"not null;default:1"`
	UnitAmount  int64        `gorm:"not null"`
	Amount      int64        `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

var (
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvoiceNotDraft   = errors.New("invoice_not_draft")
	ErrInvoiceNotPosted  = errors.New("invoice_not_posted")
	ErrInvoiceImmutable  = errors.New("invoice_immutable")
	ErrInvalidLineItems  = errors.New("invalid_line_items")
	ErrInvalidPayment    = errors.New("invalid_payment_amount")
	ErrInvalidDueDate    = errors.New("invalid_due_date")
	ErrMissingRecipient  = errors.New("missing_recipient")
	ErrInvalidPeriod     = errors.New("invalid_invoice_period")
)
