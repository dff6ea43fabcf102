package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Type is the business reason for a proration.
type Type string

const (
	TypeUpgrade            Type = "upgrade"
	TypeDowngrade          Type = "downgrade"
	TypeQuantityIncrease   Type = "quantity_increase"
	TypeQuantityDecrease   Type = "quantity_decrease"
	TypeMidCycleStart      Type = "mid_cycle_start"
	TypeEarlyTermination   Type = "early_termination"
	TypeSuspensionCredit   Type = "suspension_credit"
	TypeReactivationCharge Type = "reactivation_charge"
)

// Method selects how the prorated percentage is derived.
type Method string

const (
	MethodDaily      Method = "daily"
	MethodMonthly    Method = "monthly"
	MethodPercentage Method = "percentage"
	MethodFixed      Method = "fixed"
)

type CalculationStatus string

const (
	CalculationStatusDraft      CalculationStatus = "DRAFT"
	CalculationStatusCalculated CalculationStatus = "CALCULATED"
	CalculationStatusApproved   CalculationStatus = "APPROVED"
	CalculationStatusApplied    CalculationStatus = "APPLIED"
	CalculationStatusCancelled  CalculationStatus = "CANCELLED"
)

// ProrationCalculation persists one mid-cycle adjustment. Prices and
// amounts are in currency units, not minor units.
type ProrationCalculation struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	SubscriptionID snowflake.ID      `gorm:"not null;index"`
	InvoiceID      *snowflake.ID     `gorm:"index"`
	Type           Type              `gorm:"type:text;not null"`
	Method         Method            `gorm:"type:text;not null"`
	Status         CalculationStatus `gorm:"type:text;not null;index"`

	EffectiveDate time.Time `gorm:"not null"`
	PeriodStart   time.Time `gorm:"not null"`
	PeriodEnd     time.Time `gorm:"not null"`

	OriginalPrice    decimal.Decimal `gorm:"type:numeric;not null"`
	NewPrice         decimal.Decimal `gorm:"type:numeric;not null"`
	OriginalQuantity int             `gorm:"not null;default:1"`
	NewQuantity      int             `gorm:"not null;default:1"`
	FrequencyMonths  int             `gorm:"not null;default:1"`
	InputPercentage  decimal.Decimal `gorm:"type:numeric;not null;default:0"`

	Percentage   decimal.Decimal `gorm:"type:numeric;not null;default:0"`
	CreditAmount decimal.Decimal `gorm:"type:numeric;not null;default:0"`
	ChargeAmount decimal.Decimal `gorm:"type:numeric;not null;default:0"`

	OverrideCredit *decimal.Decimal `gorm:"type:numeric"`
	OverrideCharge *decimal.Decimal `gorm:"type:numeric"`
	OverrideReason string           `gorm:"type:text"`

	FinalCredit decimal.Decimal `gorm:"type:numeric;not null;default:0"`
	FinalCharge decimal.Decimal `gorm:"type:numeric;not null;default:0"`
	NetAmount   decimal.Decimal `gorm:"type:numeric;not null;default:0"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ProrationCalculation) TableName() string { return "proration_calculations" }

var (
	ErrInvalidPeriod        = errors.New("invalid_proration_period")
	ErrEffectiveBeforeStart = errors.New("effective_date_before_period_start")
	ErrInvalidPercentage    = errors.New("invalid_percentage")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidFrequency     = errors.New("invalid_frequency_months")
	ErrUnknownType          = errors.New("unknown_proration_type")
	ErrUnknownMethod        = errors.New("unknown_proration_method")
	ErrOverrideNeedsReason  = errors.New("override_requires_reason")
	ErrCalculationNotFound  = errors.New("proration_calculation_not_found")
	ErrInvalidTransition    = errors.New("invalid_proration_transition")
	ErrCalculationImmutable = errors.New("proration_calculation_immutable")
)
