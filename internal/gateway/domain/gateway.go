// Package domain defines the payment gateway contract.
package domain

import (
	"context"
	"errors"
)

// ChargeRequest charges a stored payment method. Amount is in the
// currency's minor unit.
type ChargeRequest struct {
	Provider      string
	PaymentMethod string
	Amount        int64
	Currency      string
}

// ChargeResult carries the raw gateway outcome. A declined charge is
// Success=false with DeclineCode set, not a Go error; errors are
// reserved for transport problems.
type ChargeResult struct {
	Success       bool
	TransactionID string
	DeclineCode   string
	Message       string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidCharge    = errors.New("invalid_charge_request")
)
