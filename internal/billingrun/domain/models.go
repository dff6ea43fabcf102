package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusDraft     RunStatus = "DRAFT"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

type RunType string

const (
	RunTypeStandard RunType = "standard"
	RunTypeRetry    RunType = "retry"
)

// BillingRun is one batch execution over due schedules. FAILED is
// reserved for run-level problems; schedule-level errors land in
// billing_run_errors and the run still completes.
type BillingRun struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	RunType RunType      `gorm:"type:text;not null"`
	Status  RunStatus    `gorm:"type:text;not null;index"`

	RunDate    time.Time `gorm:"not null"`
	CutoffDate time.Time `gorm:"not null"`
	BatchSize  int       `gorm:"not null"`

	AutoPayment bool `gorm:"not null;default:false"`

	CustomerCategory string `gorm:"type:text"`
	ProductCategory  string `gorm:"type:text"`

	SourceRunID *snowflake.ID `gorm:"index"`

	SchedulesFound     int   `gorm:"not null;default:0"`
	SchedulesProcessed int   `gorm:"not null;default:0"`
	SuccessCount       int   `gorm:"not null;default:0"`
	ErrorCount         int   `gorm:"not null;default:0"`
	InvoicesGenerated  int   `gorm:"not null;default:0"`
	TotalAmount        int64 `gorm:"not null;default:0"`

	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string `gorm:"type:text"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingRun) TableName() string { return "billing_runs" }

// BillingRunError is one schedule-level failure inside a run.
type BillingRunError struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	RunID          snowflake.ID `gorm:"not null;index"`
	ScheduleID     snowflake.ID `gorm:"not null;index"`
	SubscriptionID snowflake.ID `gorm:"not null"`
	Category       string       `gorm:"type:text;not null"`
	Message        string       `gorm:"type:text;not null"`
	OccurredAt     time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingRunError) TableName() string { return "billing_run_errors" }

var (
	ErrRunNotFound       = errors.New("billing_run_not_found")
	ErrInvalidCutoff     = errors.New("cutoff_after_run_date")
	ErrInvalidBatchSize  = errors.New("invalid_batch_size")
	ErrInvalidTransition = errors.New("invalid_run_transition")
	ErrNothingToRetry    = errors.New("nothing_to_retry")
)
