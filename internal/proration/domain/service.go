package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CreateCalculationRequest struct {
	SubscriptionID   string
	InvoiceID        string
	Type             Type
	Method           Method
	EffectiveDate    time.Time
	PeriodStart      time.Time
	PeriodEnd        time.Time
	OriginalPrice    decimal.Decimal
	NewPrice         decimal.Decimal
	OriginalQuantity int
	NewQuantity      int
	FrequencyMonths  int
	InputPercentage  decimal.Decimal
	Metadata         map[string]any
}

type Service interface {
	Create(ctx context.Context, req CreateCalculationRequest) (*ProrationCalculation, error)
	Calculate(ctx context.Context, id string) (*ProrationCalculation, error)
	ApplyOverride(ctx context.Context, id string, credit, charge *decimal.Decimal, reason string) (*ProrationCalculation, error)
	Approve(ctx context.Context, id string) error
	Apply(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*ProrationCalculation, error)
}
