package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error)
	UpdateBillingDates(ctx context.Context, db *gorm.DB, id snowflake.ID, last, next time.Time, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, now time.Time) (bool, error)
	UpdateAccessLevel(ctx context.Context, db *gorm.DB, id snowflake.ID, level subscriptiondomain.AccessLevel, now time.Time) error
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) UpdateBillingDates(ctx context.Context, db *gorm.DB, id snowflake.ID, last, next time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_billing_date = ?, next_billing_date = ?, updated_at = ?
		 WHERE id = ?`,
		last, next, now, id,
	).Error
}

func (r *repository) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, now time.Time) (bool, error) {
	var column string
	switch status {
	case subscriptiondomain.SubscriptionStatusSuspended:
		column = "suspended_at"
	case subscriptiondomain.SubscriptionStatusTerminated:
		column = "terminated_at"
	}

	stmt := db.WithContext(ctx).Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND status <> ?", id, subscriptiondomain.SubscriptionStatusTerminated)
	updates := map[string]any{"status": status, "updated_at": now}
	if column != "" {
		updates[column] = now
	}
	result := stmt.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdateAccessLevel(ctx context.Context, db *gorm.DB, id snowflake.ID, level subscriptiondomain.AccessLevel, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET access_level = ?, updated_at = ? WHERE id = ?`,
		level, now, id,
	).Error
}
