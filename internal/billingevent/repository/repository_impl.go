package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *eventdomain.BillingEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*eventdomain.BillingEvent, error)
	ClaimPendingManual(ctx context.Context, db *gorm.DB, limit int) ([]eventdomain.BillingEvent, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, invoiceID *snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) Insert(ctx context.Context, db *gorm.DB, event *eventdomain.BillingEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*eventdomain.BillingEvent, error) {
	var event eventdomain.BillingEvent
	err := db.WithContext(ctx).First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eventdomain.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ClaimPendingManual(ctx context.Context, db *gorm.DB, limit int) ([]eventdomain.BillingEvent, error) {
	var events []eventdomain.BillingEvent
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM billing_events
		 WHERE event_type = ? AND status = ?
		 ORDER BY event_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		eventdomain.EventTypeManual,
		eventdomain.EventStatusPending,
		limit,
	).Scan(&events).Error
	obsmetrics.Scheduler().ObserveDBLockWait("billing_events_for_work", time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&eventdomain.BillingEvent{}).
		Where("id = ? AND status = ?", id, eventdomain.EventStatusPending).
		Updates(map[string]any{"status": eventdomain.EventStatusProcessing, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, invoiceID *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Model(&eventdomain.BillingEvent{}).
		Where("id = ? AND status IN ?", id, []eventdomain.EventStatus{eventdomain.EventStatusPending, eventdomain.EventStatusProcessing}).
		Updates(map[string]any{
			"status":        eventdomain.EventStatusCompleted,
			"invoice_id":    invoiceID,
			"error_message": "",
			"completed_at":  now,
			"updated_at":    now,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error {
	return db.WithContext(ctx).Model(&eventdomain.BillingEvent{}).
		Where("id = ? AND status IN ?", id, []eventdomain.EventStatus{eventdomain.EventStatusPending, eventdomain.EventStatusProcessing}).
		Updates(map[string]any{
			"status":        eventdomain.EventStatusFailed,
			"error_message": message,
			"updated_at":    now,
		}).Error
}

func (r *repository) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&eventdomain.BillingEvent{}).
		Where("id = ? AND status = ?", id, eventdomain.EventStatusPending).
		Updates(map[string]any{"status": eventdomain.EventStatusCancelled, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
