package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActionType is what a dunning step does when it fires.
type ActionType string

const (
	ActionNotify         ActionType = "notify"
	ActionNotifyRestrict ActionType = "notify_restrict"
	ActionSuspend        ActionType = "suspend"
	ActionTerminate      ActionType = "terminate"
	ActionEscalate       ActionType = "escalate"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionNotify, ActionNotifyRestrict, ActionSuspend, ActionTerminate, ActionEscalate:
		return true
	}
	return false
}

type ProcessStatus string

const (
	ProcessStatusActive    ProcessStatus = "ACTIVE"
	ProcessStatusPaused    ProcessStatus = "PAUSED"
	ProcessStatusCompleted ProcessStatus = "COMPLETED"
	ProcessStatusCancelled ProcessStatus = "CANCELLED"
	ProcessStatusEscalated ProcessStatus = "ESCALATED"
)

type ActionStatus string

const (
	ActionStatusExecuted ActionStatus = "EXECUTED"
	ActionStatusFailed   ActionStatus = "FAILED"
	ActionStatusSkipped  ActionStatus = "SKIPPED"
)

// DunningSequence is a reusable escalation playbook. The category
// filters narrow which subscriptions it applies to; empty means any.
type DunningSequence struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Name        string       `gorm:"type:text;not null;uniqueIndex"`
	Description string       `gorm:"type:text"`
	IsDefault   bool         `gorm:"not null;default:false"`
	Active      bool         `gorm:"not null;default:true"`

	CustomerCategory string `gorm:"type:text"`
	ProductCategory  string `gorm:"type:text"`
	SubscriptionType string `gorm:"type:text"`

	GracePeriodDays     int  `gorm:"not null;default:0"`
	SuspendAfterFinal   bool `gorm:"not null;default:false"`
	SuspensionDelayDays int  `gorm:"not null;default:0"`

	Steps []DunningStep `gorm:"foreignKey:SequenceID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DunningSequence) TableName() string { return "dunning_sequences" }

// DunningStep is one rung of a sequence. DaysAfterDue anchors the
// step to the invoice due date; a positive DaysAfterPreviousStep
// anchors it to the previous step's execution instead.
type DunningStep struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	SequenceID snowflake.ID `gorm:"not null;index"`
	SequenceNo int          `gorm:"not null"`
	Name       string       `gorm:"type:text;not null"`

	DaysAfterDue          int `gorm:"not null;default:0"`
	DaysAfterPreviousStep int `gorm:"not null;default:0"`

	ActionType           ActionType `gorm:"type:text;not null"`
	NotificationTemplate string     `gorm:"type:text"`
	RequiresApproval     bool       `gorm:"not null;default:false"`
	IsFinal              bool       `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DunningStep) TableName() string { return "dunning_steps" }

// DunningProcess tracks one overdue invoice through a sequence.
// CurrentStepNo past the last step's number means the sequence ran
// out and only the trailing suspension remains.
type DunningProcess struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SequenceID     snowflake.ID  `gorm:"not null;index"`
	InvoiceID      snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	Status         ProcessStatus `gorm:"type:text;not null;index"`
	CurrentStepNo  int           `gorm:"not null"`

	FailureReason string `gorm:"type:text"`
	FailedAmount  int64  `gorm:"not null;default:0"`

	InvoiceDueDate time.Time `gorm:"not null"`
	GraceEndDate   time.Time `gorm:"not null"`
	SuspensionDate *time.Time

	NotificationsSent int `gorm:"not null;default:0"`

	NextActionDate *time.Time `gorm:"index"`
	LastActionDate *time.Time

	CustomerResponded  bool   `gorm:"not null;default:false"`
	CustomerNote       string `gorm:"type:text"`
	CancellationReason string `gorm:"type:text"`

	StartedAt   time.Time `gorm:"not null"`
	CompletedAt *time.Time

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DunningProcess) TableName() string { return "dunning_processes" }

// DunningAction is the audit trail of executed, failed and skipped
// steps for one process.
type DunningAction struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	ProcessID    snowflake.ID `gorm:"not null;index"`
	StepID       snowflake.ID `gorm:"index"`
	StepNo       int          `gorm:"not null"`
	ActionType   ActionType   `gorm:"type:text;not null"`
	Status       ActionStatus `gorm:"type:text;not null"`
	ExecutedAt   time.Time    `gorm:"not null"`
	ErrorMessage string       `gorm:"type:text"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DunningAction) TableName() string { return "dunning_actions" }

var (
	ErrProcessNotFound       = errors.New("dunning_process_not_found")
	ErrSequenceNotFound      = errors.New("dunning_sequence_not_found")
	ErrDefaultSequenceExists = errors.New("default_dunning_sequence_exists")
	ErrStepNotFound          = errors.New("dunning_step_not_found")
	ErrActiveProcessExists   = errors.New("active_dunning_process_exists")
	ErrInvoiceNotOverdue     = errors.New("invoice_not_overdue")
	ErrInGracePeriod         = errors.New("dunning_in_grace_period")
	ErrInvalidTransition     = errors.New("invalid_dunning_transition")
	ErrNoApplicableSequence  = errors.New("no_applicable_dunning_sequence")
	ErrInvalidStepOrder      = errors.New("invalid_dunning_step_order")
	ErrInvalidAction         = errors.New("invalid_dunning_action")
	ErrMissingTemplate       = errors.New("dunning_step_missing_template")
)
