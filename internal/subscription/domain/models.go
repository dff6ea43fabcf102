package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusDraft      SubscriptionStatus = "DRAFT"
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusSuspended  SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusTerminated SubscriptionStatus = "TERMINATED"
)

// Frequency is the recurrence interval of a subscription.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semi_annual"
	FrequencyAnnual     Frequency = "annual"
)

// Months returns the interval length in months.
func (f Frequency) Months() (int, error) {
	switch f {
	case FrequencyMonthly:
		return 1, nil
	case FrequencyQuarterly:
		return 3, nil
	case FrequencySemiAnnual:
		return 6, nil
	case FrequencyAnnual:
		return 12, nil
	default:
		return 0, ErrInvalidFrequency
	}
}

// AccessLevel is the service level a customer currently has.
type AccessLevel string

const (
	AccessLevelFull       AccessLevel = "full"
	AccessLevelRestricted AccessLevel = "restricted"
	AccessLevelNone       AccessLevel = "none"
)

// Subscription is owned by the external subscription-management system.
// The billing engine reads it and writes back billing dates and
// suspension/termination triggers only.
type Subscription struct {
	ID               snowflake.ID       `gorm:"primaryKey"`
	CustomerID       snowflake.ID       `gorm:"not null;index"`
	ProductID        snowflake.ID       `gorm:"not null;index"`
	Price            int64              `gorm:"not null"`
	Quantity         int                `gorm:"not null;default:1"`
	Currency         string             `gorm:"type:text;not null"`
	Frequency        Frequency          `gorm:"type:text;not null"`
	Status           SubscriptionStatus `gorm:"type:text;not null;index"`
	AccessLevel      AccessLevel        `gorm:"type:text;not null;default:full"`
	CustomerCategory string             `gorm:"type:text"`
	ProductCategory  string             `gorm:"type:text"`
	SubscriptionType string             `gorm:"type:text"`
	CustomerEmail    string             `gorm:"type:text"`
	PaymentMethod    string             `gorm:"type:text"`
	LastBillingDate  *time.Time
	NextBillingDate  *time.Time
	SuspendedAt      *time.Time
	TerminatedAt     *time.Time
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Subscription) TableName() string { return "subscriptions" }

var (
	ErrSubscriptionNotFound   = errors.New("subscription_not_found")
	ErrInvalidFrequency       = errors.New("invalid_frequency")
	ErrSubscriptionTerminated = errors.New("subscription_terminated")
)
