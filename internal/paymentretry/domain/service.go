package domain

import (
	"context"
	"time"
)

// CreateRetryRequest registers a failed payment for automated retry.
// FailureAt anchors the backoff schedule; it is usually the billing
// run timestamp, not the wall clock at insert time.
type CreateRetryRequest struct {
	SubscriptionID string
	InvoiceID      string
	FailureReason  FailureReason
	Amount         int64
	Currency       string
	FailureAt      time.Time
	Metadata       map[string]any
}

// SweepResult summarizes one due-retry sweep.
type SweepResult struct {
	Processed int
	Succeeded int
	Errors    int
}

type Service interface {
	CreateForFailure(ctx context.Context, req CreateRetryRequest) (*PaymentRetry, error)
	Get(ctx context.Context, id string) (*PaymentRetry, error)

	// ExecuteRetry performs one charge attempt regardless of
	// next_retry_date. The attempt counter guard still applies.
	ExecuteRetry(ctx context.Context, id string) (*PaymentRetry, error)

	// RetryNow is the operator-facing variant of ExecuteRetry.
	RetryNow(ctx context.Context, id string) (*PaymentRetry, error)

	Cancel(ctx context.Context, id string) error

	// Reset restarts the schedule from attempt zero. Terminal
	// SUCCESS and CANCELLED records cannot be reset.
	Reset(ctx context.Context, id string) error

	// ProcessDueRetries claims and executes every retry whose
	// next_retry_date is at or before now, in batches.
	ProcessDueRetries(ctx context.Context, now time.Time, batchSize int) (SweepResult, error)

	ListAttempts(ctx context.Context, retryID string) ([]PaymentRetryAttempt, error)
}
