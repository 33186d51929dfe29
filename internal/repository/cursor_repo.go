package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CrmSync/internal/model"
	"CrmSync/internal/syncerr"
)

const maxErrorLen = 1000

// CursorRepository holds per-object-type watermarks and the run lock that guards them.
type CursorRepository interface {
	// Acquire marks the object type as running for runID. It fails with
	// syncerr.ErrRunInProgress while another run holds the cursor, unless that
	// run started more than staleAfter ago.
	Acquire(ctx context.Context, objectType model.ObjectType, runID string, now time.Time, staleAfter time.Duration) (*model.SyncCursor, error)
	// Complete records success and moves the watermark when watermark is non-nil.
	Complete(ctx context.Context, objectType model.ObjectType, runID string, watermark *time.Time, objectsSynced, skipped int, now time.Time) error
	// Fail records the failure; the watermark is left where it was.
	Fail(ctx context.Context, objectType model.ObjectType, runID string, cause error, now time.Time) error
	Get(ctx context.Context, objectType model.ObjectType) (*model.SyncCursor, error)
	List(ctx context.Context) ([]model.SyncCursor, error)
}

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Acquire(ctx context.Context, objectType model.ObjectType, runID string, now time.Time, staleAfter time.Duration) (*model.SyncCursor, error) {
	db := r.db.WithContext(ctx)
	seed := &model.SyncCursor{ObjectType: objectType, LastRunStatus: model.RunIdle}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, fmt.Errorf("seed cursor %s: %w", objectType, err)
	}

	q := db.Model(&model.SyncCursor{}).Where("object_type = ?", objectType)
	if staleAfter > 0 {
		q = q.Where("(last_run_status <> ? OR run_started_at IS NULL OR run_started_at < ?)",
			model.RunRunning, now.Add(-staleAfter))
	} else {
		q = q.Where("last_run_status <> ?", model.RunRunning)
	}
	res := q.Updates(map[string]interface{}{
		"last_run_status": model.RunRunning,
		"run_started_at":  now,
		"last_run_id":     runID,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("acquire cursor %s: %w", objectType, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, syncerr.ErrRunInProgress
	}
	return r.Get(ctx, objectType)
}

func (r *cursorRepository) Complete(ctx context.Context, objectType model.ObjectType, runID string, watermark *time.Time, objectsSynced, skipped int, now time.Time) error {
	updates := map[string]interface{}{
		"last_run_status": model.RunSucceeded,
		"last_run_at":     now,
		"run_started_at":  nil,
		"last_error":      "",
		"objects_synced":  objectsSynced,
		"records_skipped": skipped,
	}
	if watermark != nil {
		updates["last_synced_at"] = watermark.UTC()
	}
	return r.release(ctx, objectType, runID, updates)
}

func (r *cursorRepository) Fail(ctx context.Context, objectType model.ObjectType, runID string, cause error, now time.Time) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return r.release(ctx, objectType, runID, map[string]interface{}{
		"last_run_status": model.RunFailed,
		"last_run_at":     now,
		"run_started_at":  nil,
		"last_error":      msg,
	})
}

// release applies updates only while runID still owns the cursor.
func (r *cursorRepository) release(ctx context.Context, objectType model.ObjectType, runID string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.SyncCursor{}).
		Where("object_type = ? AND last_run_id = ? AND last_run_status = ?", objectType, runID, model.RunRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("release cursor %s: %w", objectType, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s no longer holds the %s cursor", syncerr.ErrRunInProgress, runID, objectType)
	}
	return nil
}

// Get returns nil, nil when the object type has never run.
func (r *cursorRepository) Get(ctx context.Context, objectType model.ObjectType) (*model.SyncCursor, error) {
	var c model.SyncCursor
	err := r.db.WithContext(ctx).Where("object_type = ?", objectType).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *cursorRepository) List(ctx context.Context) ([]model.SyncCursor, error) {
	var cursors []model.SyncCursor
	if err := r.db.WithContext(ctx).Order("object_type ASC").Find(&cursors).Error; err != nil {
		return nil, err
	}
	return cursors, nil
}
