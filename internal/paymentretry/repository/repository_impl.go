package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	retrydomain "github.com/smallbiznis/recurra/internal/paymentretry/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, retry *retrydomain.PaymentRetry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*retrydomain.PaymentRetry, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*retrydomain.PaymentRetry, error)
	MarkRetrying(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, now time.Time) (bool, error)
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, reason retrydomain.FailureReason, next time.Time, now time.Time) error
	MarkTerminal(ctx context.Context, db *gorm.DB, id snowflake.ID, to retrydomain.RetryStatus, paymentRef string, now time.Time) (bool, error)
	ResetSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, next time.Time, now time.Time) (bool, error)
	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *retrydomain.PaymentRetryAttempt) error
	ListAttempts(ctx context.Context, db *gorm.DB, retryID snowflake.ID) ([]retrydomain.PaymentRetryAttempt, error)
	ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]retrydomain.PaymentRetry, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) Insert(ctx context.Context, db *gorm.DB, retry *retrydomain.PaymentRetry) error {
	return db.WithContext(ctx).Create(retry).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*retrydomain.PaymentRetry, error) {
	var retry retrydomain.PaymentRetry
	err := db.WithContext(ctx).First(&retry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, retrydomain.ErrRetryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retry, nil
}

func (r *repository) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*retrydomain.PaymentRetry, error) {
	var retry retrydomain.PaymentRetry
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_retries WHERE id = ? LIMIT 1 FOR UPDATE`, id,
	).Scan(&retry).Error
	obsmetrics.Scheduler().ObserveDBLockWait("payment_retry_by_id", time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if retry.ID == 0 {
		return nil, retrydomain.ErrRetryNotFound
	}
	return &retry, nil
}

// MarkRetrying claims the record for one attempt. The status guard
// keeps two workers from charging the same invoice twice.
func (r *repository) MarkRetrying(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&retrydomain.PaymentRetry{}).
		Where("id = ? AND status IN ?", id, []retrydomain.RetryStatus{retrydomain.RetryStatusPending, retrydomain.RetryStatusRetrying}).
		Updates(map[string]any{
			"status":          retrydomain.RetryStatusRetrying,
			"current_attempt": attempt,
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, reason retrydomain.FailureReason, next time.Time, now time.Time) error {
	return db.WithContext(ctx).Model(&retrydomain.PaymentRetry{}).
		Where("id = ? AND status = ?", id, retrydomain.RetryStatusRetrying).
		Updates(map[string]any{
			"status":          retrydomain.RetryStatusPending,
			"failure_reason":  reason,
			"next_retry_date": next,
			"updated_at":      now,
		}).Error
}

func (r *repository) MarkTerminal(ctx context.Context, db *gorm.DB, id snowflake.ID, to retrydomain.RetryStatus, paymentRef string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":          to,
		"next_retry_date": nil,
		"updated_at":      now,
	}
	if paymentRef != "" {
		updates["payment_ref"] = paymentRef
	}
	result := db.WithContext(ctx).Model(&retrydomain.PaymentRetry{}).
		Where("id = ? AND status IN ?", id, []retrydomain.RetryStatus{retrydomain.RetryStatusPending, retrydomain.RetryStatusRetrying}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ResetSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, next time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&retrydomain.PaymentRetry{}).
		Where("id = ? AND status IN ?", id, []retrydomain.RetryStatus{
			retrydomain.RetryStatusPending,
			retrydomain.RetryStatusRetrying,
			retrydomain.RetryStatusFailed,
			retrydomain.RetryStatusExpired,
		}).
		Updates(map[string]any{
			"status":          retrydomain.RetryStatusPending,
			"current_attempt": 0,
			"next_retry_date": next,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *retrydomain.PaymentRetryAttempt) error {
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) ListAttempts(ctx context.Context, db *gorm.DB, retryID snowflake.ID) ([]retrydomain.PaymentRetryAttempt, error) {
	var attempts []retrydomain.PaymentRetryAttempt
	err := db.WithContext(ctx).
		Where("retry_id = ?", retryID).
		Order("attempt_no ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *repository) ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]retrydomain.PaymentRetry, error) {
	var retries []retrydomain.PaymentRetry
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_retries
		 WHERE status = ? AND next_retry_date <= ?
		 ORDER BY next_retry_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		retrydomain.RetryStatusPending,
		cutoff,
		limit,
	).Scan(&retries).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceRetriesForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return retries, nil
}
