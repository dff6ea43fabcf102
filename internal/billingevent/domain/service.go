package domain

import (
	"context"
	"time"
)

type CreateManualEventRequest struct {
	ScheduleID     string
	SubscriptionID string
	EventDate      time.Time
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Amount         int64
	Description    string
	Metadata       map[string]any
}

// ManualSweepResult summarizes one pass over queued manual events.
type ManualSweepResult struct {
	Processed int
	Errors    int
}

type Service interface {
	CreateManual(ctx context.Context, req CreateManualEventRequest) (*BillingEvent, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*BillingEvent, error)

	// ProcessManualEvents drains pending manual events. Regular and
	// adjustment events are finalized inline by schedule and run
	// processing, never by this sweep.
	ProcessManualEvents(ctx context.Context, batchSize int) (ManualSweepResult, error)
}
