package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	rundomain "github.com/smallbiznis/recurra/internal/billingrun/domain"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"gorm.io/gorm"
)

type Counters struct {
	SchedulesFound     int
	SchedulesProcessed int
	SuccessCount       int
	ErrorCount         int
	InvoicesGenerated  int
	TotalAmount        int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, run *rundomain.BillingRun) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*rundomain.BillingRun, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*rundomain.BillingRun, error)
	MarkRunning(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, to rundomain.RunStatus, message string, now time.Time) (bool, error)
	UpdateCounters(ctx context.Context, db *gorm.DB, id snowflake.ID, c Counters, now time.Time) error
	RequeueStuck(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) ([]rundomain.BillingRun, error)

	ClaimDueSchedules(ctx context.Context, db *gorm.DB, run *rundomain.BillingRun, exclude []snowflake.ID, limit int) ([]scheduledomain.BillingSchedule, error)

	InsertError(ctx context.Context, db *gorm.DB, runError *rundomain.BillingRunError) error
	ListErrors(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]rundomain.BillingRunError, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) Insert(ctx context.Context, db *gorm.DB, run *rundomain.BillingRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*rundomain.BillingRun, error) {
	var run rundomain.BillingRun
	err := db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rundomain.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*rundomain.BillingRun, error) {
	var run rundomain.BillingRun
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM billing_runs WHERE id = ? LIMIT 1 FOR UPDATE`, id,
	).Scan(&run).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceRunByID, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, rundomain.ErrRunNotFound
	}
	return &run, nil
}

func (r *repository) MarkRunning(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&rundomain.BillingRun{}).
		Where("id = ? AND status = ?", id, rundomain.RunStatusDraft).
		Updates(map[string]any{
			"status":     rundomain.RunStatusRunning,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&rundomain.BillingRun{}).
		Where("id = ? AND status IN ?", id, []rundomain.RunStatus{rundomain.RunStatusDraft, rundomain.RunStatusRunning}).
		Updates(map[string]any{"status": rundomain.RunStatusCancelled, "updated_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, to rundomain.RunStatus, message string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&rundomain.BillingRun{}).
		Where("id = ? AND status = ?", id, rundomain.RunStatusRunning).
		Updates(map[string]any{
			"status":        to,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateCounters(ctx context.Context, db *gorm.DB, id snowflake.ID, c Counters, now time.Time) error {
	return db.WithContext(ctx).Model(&rundomain.BillingRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"schedules_found":     c.SchedulesFound,
			"schedules_processed": c.SchedulesProcessed,
			"success_count":       c.SuccessCount,
			"error_count":         c.ErrorCount,
			"invoices_generated":  c.InvoicesGenerated,
			"total_amount":        c.TotalAmount,
			"updated_at":          now,
		}).Error
}

// RequeueStuck flips runs stuck RUNNING since before the cutoff back
// to DRAFT and returns them for re-execution.
func (r *repository) RequeueStuck(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) ([]rundomain.BillingRun, error) {
	var stuck []rundomain.BillingRun
	err := db.WithContext(ctx).
		Where("status = ? AND started_at < ?", rundomain.RunStatusRunning, cutoff).
		Find(&stuck).Error
	if err != nil {
		return nil, err
	}
	for i := range stuck {
		result := db.WithContext(ctx).Model(&rundomain.BillingRun{}).
			Where("id = ? AND status = ?", stuck[i].ID, rundomain.RunStatusRunning).
			Updates(map[string]any{
				"status":     rundomain.RunStatusDraft,
				"started_at": nil,
				"updated_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected > 0 {
			stuck[i].Status = rundomain.RunStatusDraft
		}
	}
	return stuck, nil
}

// ClaimDueSchedules joins subscriptions so the run's category filters
// and the subscription's own state gate selection. The exclude list
// keeps schedules that already failed this run out of later batches.
func (r *repository) ClaimDueSchedules(ctx context.Context, db *gorm.DB, run *rundomain.BillingRun, exclude []snowflake.ID, limit int) ([]scheduledomain.BillingSchedule, error) {
	query := `SELECT billing_schedules.* FROM billing_schedules
		 JOIN subscriptions ON subscriptions.id = billing_schedules.subscription_id
		 WHERE billing_schedules.status = ?
		   AND billing_schedules.next_billing_date <= ?
		   AND subscriptions.status = ?`
	args := []any{
		scheduledomain.ScheduleStatusActive,
		run.CutoffDate,
		subscriptiondomain.SubscriptionStatusActive,
	}
	if run.CustomerCategory != "" {
		query += ` AND subscriptions.customer_category = ?`
		args = append(args, run.CustomerCategory)
	}
	if run.ProductCategory != "" {
		query += ` AND subscriptions.product_category = ?`
		args = append(args, run.ProductCategory)
	}
	if len(exclude) > 0 {
		query += ` AND billing_schedules.id NOT IN ?`
		args = append(args, exclude)
	}
	query += ` ORDER BY billing_schedules.next_billing_date ASC, billing_schedules.id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`
	args = append(args, limit)

	var schedules []scheduledomain.BillingSchedule
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(query, args...).Scan(&schedules).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceSchedulesForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *repository) InsertError(ctx context.Context, db *gorm.DB, runError *rundomain.BillingRunError) error {
	return db.WithContext(ctx).Create(runError).Error
}

func (r *repository) ListErrors(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]rundomain.BillingRunError, error) {
	var runErrors []rundomain.BillingRunError
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("occurred_at ASC, id ASC").
		Find(&runErrors).Error
	return runErrors, err
}
