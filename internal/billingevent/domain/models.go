package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeRegular    EventType = "regular"
	EventTypeManual     EventType = "manual"
	EventTypeAdjustment EventType = "adjustment"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusCompleted  EventStatus = "COMPLETED"
	EventStatusFailed     EventStatus = "FAILED"
	EventStatusCancelled  EventStatus = "CANCELLED"
)

// BillingEvent records one point-in-time billing attempt against a
// schedule. Completed and cancelled events are immutable.
type BillingEvent struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	ScheduleID     snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	RunID          *snowflake.ID `gorm:"index"`
	EventType      EventType     `gorm:"type:text;not null;index"`
	Status         EventStatus   `gorm:"type:text;not null;index"`
	EventDate      time.Time     `gorm:"not null"`
	PeriodStart    time.Time     `gorm:"not null"`
	PeriodEnd      time.Time     `gorm:"not null"`
	InvoiceID      *snowflake.ID `gorm:"index"`
	Amount         int64         `gorm:"not null;default:0"`
	ErrorMessage   string        `gorm:"type:text"`
	CompletedAt    *time.Time
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingEvent) TableName() string { return "billing_events" }

var (
	ErrEventNotFound     = errors.New("billing_event_not_found")
	ErrEventImmutable    = errors.New("billing_event_immutable")
	ErrInvalidPeriod     = errors.New("invalid_event_period")
	ErrInvalidTransition = errors.New("invalid_event_transition")
	ErrNotManualEvent    = errors.New("not_manual_event")
)
