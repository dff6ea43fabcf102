package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"gorm.io/datatypes"
)

type ScheduleStatus string

const (
	ScheduleStatusDraft     ScheduleStatus = "DRAFT"
	ScheduleStatusActive    ScheduleStatus = "ACTIVE"
	ScheduleStatusPaused    ScheduleStatus = "PAUSED"
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"
)

// BillingSchedule carries the recurrence state of one subscription.
// A subscription has at most one active schedule; historical ones
// stay around cancelled for audit.
type BillingSchedule struct {
	ID                  snowflake.ID                 `gorm:"primaryKey"`
	SubscriptionID      snowflake.ID                 `gorm:"not null;index"`
	Frequency           subscriptiondomain.Frequency `gorm:"type:text;not null"`
	Status              ScheduleStatus               `gorm:"type:text;not null;index"`
	StartDate           time.Time                    `gorm:"not null"`
	NextBillingDate     time.Time                    `gorm:"not null;index"`
	LastBillingDate     *time.Time
	AutoGenerateInvoice bool              `gorm:"not null;default:true"`
	AutoSendInvoice     bool              `gorm:"not null;default:false"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingSchedule) TableName() string { return "billing_schedules" }

var (
	ErrScheduleNotFound     = errors.New("billing_schedule_not_found")
	ErrScheduleNotActive    = errors.New("billing_schedule_not_active")
	ErrScheduleNotDue       = errors.New("billing_schedule_not_due")
	ErrScheduleCancelled    = errors.New("billing_schedule_cancelled")
	ErrInvalidTransition    = errors.New("invalid_schedule_transition")
	ErrActiveScheduleExists = errors.New("active_schedule_exists")
	ErrInvalidStartDate     = errors.New("invalid_start_date")
	ErrScheduleDateConflict = errors.New("schedule_dates_changed_concurrently")
)
