package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "PENDING"
	RetryStatusRetrying  RetryStatus = "RETRYING"
	RetryStatusSuccess   RetryStatus = "SUCCESS"
	RetryStatusFailed    RetryStatus = "FAILED"
	RetryStatusCancelled RetryStatus = "CANCELLED"
	RetryStatusExpired   RetryStatus = "EXPIRED"
)

// FailureReason is the closed set of categorized payment failures.
// Retry heuristics and dunning triggers key off these values, so a
// bare unknown must never leave the engine.
type FailureReason string

const (
	ReasonInsufficientFunds FailureReason = "insufficient_funds"
	ReasonCardDeclined      FailureReason = "card_declined"
	ReasonCardExpired       FailureReason = "card_expired"
	ReasonGatewayError      FailureReason = "gateway_error"
	ReasonNetworkError      FailureReason = "network_error"
	ReasonTimeout           FailureReason = "timeout"
	ReasonInvalidMethod     FailureReason = "invalid_method"
)

// Permanent reports whether the failure cannot resolve on its own.
// Permanent failures short-circuit to fewer retries.
func (r FailureReason) Permanent() bool {
	return r == ReasonCardExpired || r == ReasonInvalidMethod
}

// PaymentRetry is the per-failed-invoice retry state machine. Once
// SUCCESS or CANCELLED the record is immutable.
type PaymentRetry struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	InvoiceID      snowflake.ID  `gorm:"not null;index"`
	FailureReason  FailureReason `gorm:"type:text;not null"`
	Status         RetryStatus   `gorm:"type:text;not null;index"`

	RetryAmount int64  `gorm:"not null"`
	Currency    string `gorm:"type:text;not null"`

	CurrentAttempt    int     `gorm:"not null;default:0"`
	MaxRetryAttempts  int     `gorm:"not null"`
	InitialDelayHours int     `gorm:"not null"`
	BackoffMultiplier float64 `gorm:"not null"`
	MaxDelayHours     int     `gorm:"not null"`
	NotifyCustomer    bool    `gorm:"not null;default:false"`

	FailureAt     time.Time `gorm:"not null"`
	NextRetryDate *time.Time
	LastAttemptAt *time.Time
	PaymentRef    string `gorm:"type:text"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentRetry) TableName() string { return "payment_retries" }

// PaymentRetryAttempt is one row of retry history, appended per
// attempt with the raw gateway outcome.
type PaymentRetryAttempt struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	RetryID       snowflake.ID `gorm:"not null;index"`
	AttemptNo     int          `gorm:"not null"`
	AttemptedAt   time.Time    `gorm:"not null"`
	Success       bool         `gorm:"not null"`
	TransactionID string       `gorm:"type:text"`
	ErrorMessage  string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentRetryAttempt) TableName() string { return "payment_retry_attempts" }

var (
	ErrRetryNotFound      = errors.New("payment_retry_not_found")
	ErrRetryImmutable     = errors.New("payment_retry_immutable")
	ErrAttemptsExhausted  = errors.New("retry_attempts_exhausted")
	ErrInvalidTransition  = errors.New("invalid_retry_transition")
	ErrInvalidRetryAmount = errors.New("invalid_retry_amount")
	ErrUnknownReason      = errors.New("unknown_failure_reason")
)
