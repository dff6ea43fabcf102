package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *scheduledomain.BillingSchedule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scheduledomain.BillingSchedule, error)
	CountActiveForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []scheduledomain.ScheduleStatus, to scheduledomain.ScheduleStatus, now time.Time) (bool, error)
	AdvanceDates(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedNext time.Time, last, next time.Time, now time.Time) (bool, error)
	ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]scheduledomain.BillingSchedule, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) Insert(ctx context.Context, db *gorm.DB, schedule *scheduledomain.BillingSchedule) error {
	return db.WithContext(ctx).Create(schedule).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*scheduledomain.BillingSchedule, error) {
	var schedule scheduledomain.BillingSchedule
	err := db.WithContext(ctx).First(&schedule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, scheduledomain.ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *repository) CountActiveForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&scheduledomain.BillingSchedule{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, scheduledomain.ScheduleStatusActive).
		Count(&count).Error
	return count, err
}

func (r *repository) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []scheduledomain.ScheduleStatus, to scheduledomain.ScheduleStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&scheduledomain.BillingSchedule{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AdvanceDates moves the schedule to the next cycle. The expectedNext
// guard makes concurrent sweeps lose cleanly instead of double billing.
func (r *repository) AdvanceDates(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedNext time.Time, last, next time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_schedules
		 SET last_billing_date = ?, next_billing_date = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND next_billing_date = ?`,
		last, next, now,
		id, scheduledomain.ScheduleStatusActive, expectedNext,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]scheduledomain.BillingSchedule, error) {
	var schedules []scheduledomain.BillingSchedule
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM billing_schedules
		 WHERE status = ? AND next_billing_date <= ?
		 ORDER BY next_billing_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		scheduledomain.ScheduleStatusActive,
		cutoff,
		limit,
	).Scan(&schedules).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceSchedulesForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return schedules, nil
}
