package domain

import (
	"context"
	"time"
)

// Store is the narrow surface the billing engine uses against
// externally owned subscriptions.
type Store interface {
	Get(ctx context.Context, id string) (*Subscription, error)
	UpdateBillingDates(ctx context.Context, id string, lastBillingDate, nextBillingDate time.Time) error
	Suspend(ctx context.Context, id string) error
	Terminate(ctx context.Context, id string) error
	Restrict(ctx context.Context, id string, level AccessLevel) error
}
