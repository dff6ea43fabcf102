package repository

import (
	"context"

	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error
	List(ctx context.Context, db *gorm.DB, req auditdomain.ListAuditLogRequest) ([]auditdomain.AuditLog, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, db *gorm.DB, req auditdomain.ListAuditLogRequest) ([]auditdomain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&auditdomain.AuditLog{})
	if req.Action != "" {
		stmt = stmt.Where("action = ?", req.Action)
	}
	if req.TargetType != "" {
		stmt = stmt.Where("target_type = ?", req.TargetType)
	}
	if req.TargetID != "" {
		stmt = stmt.Where("target_id = ?", req.TargetID)
	}
	if req.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", req.StartAt)
	}
	if req.EndAt != nil {
		stmt = stmt.Where("created_at < ?", req.EndAt)
	}
	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 100
	}

	var entries []auditdomain.AuditLog
	err := stmt.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
