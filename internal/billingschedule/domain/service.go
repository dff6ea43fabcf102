package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateScheduleRequest struct {
	SubscriptionID      string
	Frequency           string
	StartDate           time.Time
	AutoGenerateInvoice bool
	AutoSendInvoice     bool
	Metadata            map[string]any
}

// ProcessOptions tunes one billing pass over a schedule.
type ProcessOptions struct {
	BillingDate time.Time
	RunID       *snowflake.ID
	AutoInvoice bool
	AutoSend    bool
}

// ProcessResult is the outcome of one successful billing pass.
type ProcessResult struct {
	EventID         snowflake.ID
	InvoiceID       *snowflake.ID
	Amount          int64
	PeriodStart     time.Time
	PeriodEnd       time.Time
	NextBillingDate time.Time
}

type Service interface {
	Create(ctx context.Context, req CreateScheduleRequest) (*BillingSchedule, error)
	Get(ctx context.Context, id string) (*BillingSchedule, error)
	Activate(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error

	CalculateNextBillingDate(ctx context.Context, id string) (time.Time, error)
	IsDueForBilling(ctx context.Context, id string, checkDate time.Time) (bool, error)

	// ProcessBilling runs one cycle in its own transaction. On error
	// the schedule's dates stay untouched and a failed event records
	// the cause.
	ProcessBilling(ctx context.Context, id string, billingDate time.Time) (*ProcessResult, error)

	// ProcessBillingInTx runs one cycle inside the caller's
	// transaction so a batch can commit or roll back as a unit.
	ProcessBillingInTx(ctx context.Context, tx *gorm.DB, schedule *BillingSchedule, opts ProcessOptions) (*ProcessResult, error)
}
