package domain

import (
	"context"
	"time"
)

// CreateRunRequest stages a run. CutoffDate defaults to RunDate and
// must never lie after it; a later cutoff would bill cycles that have
// not started yet.
type CreateRunRequest struct {
	RunType     RunType
	RunDate     time.Time
	CutoffDate  time.Time
	BatchSize   int
	AutoPayment bool

	CustomerCategory string
	ProductCategory  string

	Metadata map[string]any
}

type Service interface {
	CreateRun(ctx context.Context, req CreateRunRequest) (*BillingRun, error)
	Get(ctx context.Context, id string) (*BillingRun, error)

	// Execute drives a draft run to completion. Schedule-level
	// failures are absorbed into counters and error rows.
	Execute(ctx context.Context, id string) (*BillingRun, error)

	// Cancel stops a draft run, or asks a running one to stop at the
	// next batch boundary.
	Cancel(ctx context.Context, id string) error

	// RetryFailed spawns a retry-typed run with the source run's
	// filters. Failed schedules never advanced their dates, so the
	// new run picks them up again.
	RetryFailed(ctx context.Context, id string) (*BillingRun, error)

	ListErrors(ctx context.Context, id string) ([]BillingRunError, error)

	// RunScheduled creates and executes a standard run for now. The
	// periodic billing sweep calls this.
	RunScheduled(ctx context.Context, now time.Time, batchSize int) (*BillingRun, error)

	// RecoverStuckRuns requeues runs stuck RUNNING longer than
	// olderThan and re-executes them. Batch commits make the replay
	// idempotent: schedules billed before the crash are no longer due.
	RecoverStuckRuns(ctx context.Context, olderThan time.Duration) (int, error)
}
