package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	dunningdomain "github.com/smallbiznis/recurra/internal/dunning/domain"
	obsmetrics "github.com/smallbiznis/recurra/internal/observability/metrics"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSequence(ctx context.Context, db *gorm.DB, sequence *dunningdomain.DunningSequence) error
	FindSequenceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningSequence, error)
	ListActiveSequences(ctx context.Context, db *gorm.DB) ([]dunningdomain.DunningSequence, error)
	CountDefaultSequences(ctx context.Context, db *gorm.DB) (int64, error)
	FindStep(ctx context.Context, db *gorm.DB, sequenceID snowflake.ID, sequenceNo int) (*dunningdomain.DunningStep, error)
	NextStep(ctx context.Context, db *gorm.DB, sequenceID snowflake.ID, afterNo int) (*dunningdomain.DunningStep, error)

	InsertProcess(ctx context.Context, db *gorm.DB, process *dunningdomain.DunningProcess) error
	FindProcessByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningProcess, error)
	LockProcessByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningProcess, error)
	CountActiveForInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	UpdateProcessStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []dunningdomain.ProcessStatus, to dunningdomain.ProcessStatus, reason string, now time.Time) (bool, error)
	AdvanceStep(ctx context.Context, db *gorm.DB, id snowflake.ID, stepNo int, nextAction *time.Time, now time.Time) error
	ScheduleSuspension(ctx context.Context, db *gorm.DB, id snowflake.ID, stepNo int, suspendAt time.Time, now time.Time) error
	CompleteProcess(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	SetCustomerResponse(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, now time.Time) (bool, error)
	IncrementNotifications(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]dunningdomain.DunningProcess, error)
	DeferNextAction(ctx context.Context, db *gorm.DB, id snowflake.ID, until time.Time, now time.Time) (bool, error)

	InsertAction(ctx context.Context, db *gorm.DB, action *dunningdomain.DunningAction) error
	ListActions(ctx context.Context, db *gorm.DB, processID snowflake.ID) ([]dunningdomain.DunningAction, error)
}

type repository struct{}

func Provide() Repository { return &repository{} }

func (r *repository) InsertSequence(ctx context.Context, db *gorm.DB, sequence *dunningdomain.DunningSequence) error {
	return db.WithContext(ctx).Create(sequence).Error
}

func (r *repository) FindSequenceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningSequence, error) {
	var sequence dunningdomain.DunningSequence
	err := db.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_no ASC")
	}).First(&sequence, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dunningdomain.ErrSequenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sequence, nil
}

func (r *repository) ListActiveSequences(ctx context.Context, db *gorm.DB) ([]dunningdomain.DunningSequence, error) {
	var sequences []dunningdomain.DunningSequence
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("name ASC").
		Find(&sequences).Error
	return sequences, err
}

func (r *repository) CountDefaultSequences(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&dunningdomain.DunningSequence{}).
		Where("is_default = ?", true).
		Count(&count).Error
	return count, err
}

func (r *repository) FindStep(ctx context.Context, db *gorm.DB, sequenceID snowflake.ID, sequenceNo int) (*dunningdomain.DunningStep, error) {
	var step dunningdomain.DunningStep
	err := db.WithContext(ctx).
		First(&step, "sequence_id = ? AND sequence_no = ?", sequenceID, sequenceNo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dunningdomain.ErrStepNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *repository) NextStep(ctx context.Context, db *gorm.DB, sequenceID snowflake.ID, afterNo int) (*dunningdomain.DunningStep, error) {
	var step dunningdomain.DunningStep
	err := db.WithContext(ctx).
		Where("sequence_id = ? AND sequence_no > ?", sequenceID, afterNo).
		Order("sequence_no ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dunningdomain.ErrStepNotFound
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (r *repository) InsertProcess(ctx context.Context, db *gorm.DB, process *dunningdomain.DunningProcess) error {
	return db.WithContext(ctx).Create(process).Error
}

func (r *repository) FindProcessByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningProcess, error) {
	var process dunningdomain.DunningProcess
	err := db.WithContext(ctx).First(&process, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dunningdomain.ErrProcessNotFound
	}
	if err != nil {
		return nil, err
	}
	return &process, nil
}

func (r *repository) LockProcessByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dunningdomain.DunningProcess, error) {
	var process dunningdomain.DunningProcess
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes WHERE id = ? LIMIT 1 FOR UPDATE`, id,
	).Scan(&process).Error
	obsmetrics.Scheduler().ObserveDBLockWait("dunning_process_by_id", time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if process.ID == 0 {
		return nil, dunningdomain.ErrProcessNotFound
	}
	return &process, nil
}

func (r *repository) CountActiveForInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("invoice_id = ? AND status IN ?", invoiceID, []dunningdomain.ProcessStatus{
			dunningdomain.ProcessStatusActive,
			dunningdomain.ProcessStatusPaused,
			dunningdomain.ProcessStatusEscalated,
		}).
		Count(&count).Error
	return count, err
}

func (r *repository) UpdateProcessStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []dunningdomain.ProcessStatus, to dunningdomain.ProcessStatus, reason string, now time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": now}
	if reason != "" {
		updates["cancellation_reason"] = reason
	}
	result := db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) AdvanceStep(ctx context.Context, db *gorm.DB, id snowflake.ID, stepNo int, nextAction *time.Time, now time.Time) error {
	return db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status = ?", id, dunningdomain.ProcessStatusActive).
		Updates(map[string]any{
			"current_step_no":  stepNo,
			"next_action_date": nextAction,
			"last_action_date": now,
			"updated_at":       now,
		}).Error
}

// ScheduleSuspension moves the process past its last step and parks
// it until the trailing suspension fires.
func (r *repository) ScheduleSuspension(ctx context.Context, db *gorm.DB, id snowflake.ID, stepNo int, suspendAt time.Time, now time.Time) error {
	return db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status = ?", id, dunningdomain.ProcessStatusActive).
		Updates(map[string]any{
			"current_step_no":  stepNo,
			"suspension_date":  suspendAt,
			"next_action_date": suspendAt,
			"last_action_date": now,
			"updated_at":       now,
		}).Error
}

func (r *repository) CompleteProcess(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status IN ?", id, []dunningdomain.ProcessStatus{
			dunningdomain.ProcessStatusActive,
			dunningdomain.ProcessStatusPaused,
			dunningdomain.ProcessStatusEscalated,
		}).
		Updates(map[string]any{
			"status":           dunningdomain.ProcessStatusCompleted,
			"next_action_date": nil,
			"completed_at":     now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetCustomerResponse(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status IN ?", id, []dunningdomain.ProcessStatus{
			dunningdomain.ProcessStatusActive,
			dunningdomain.ProcessStatusPaused,
			dunningdomain.ProcessStatusEscalated,
		}).
		Updates(map[string]any{
			"customer_responded": true,
			"customer_note":      note,
			"updated_at":         now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) IncrementNotifications(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"notifications_sent": gorm.Expr("notifications_sent + 1"),
			"updated_at":         now,
		}).Error
}

// DeferNextAction pushes the action date out so a claim survives the
// claiming transaction's commit.
func (r *repository) DeferNextAction(ctx context.Context, db *gorm.DB, id snowflake.ID, until time.Time, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Model(&dunningdomain.DunningProcess{}).
		Where("id = ? AND status = ?", id, dunningdomain.ProcessStatusActive).
		Updates(map[string]any{
			"next_action_date": until,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ClaimDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]dunningdomain.DunningProcess, error) {
	var processes []dunningdomain.DunningProcess
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM dunning_processes
		 WHERE status = ? AND next_action_date <= ?
		 ORDER BY next_action_date ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		dunningdomain.ProcessStatusActive,
		cutoff,
		limit,
	).Scan(&processes).Error
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceDunningForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return processes, nil
}

func (r *repository) InsertAction(ctx context.Context, db *gorm.DB, action *dunningdomain.DunningAction) error {
	return db.WithContext(ctx).Create(action).Error
}

func (r *repository) ListActions(ctx context.Context, db *gorm.DB, processID snowflake.ID) ([]dunningdomain.DunningAction, error) {
	var actions []dunningdomain.DunningAction
	err := db.WithContext(ctx).
		Where("process_id = ?", processID).
		Order("executed_at ASC, id ASC").
		Find(&actions).Error
	return actions, err
}
