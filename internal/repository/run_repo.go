package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"CrmSync/internal/model"
)

// RunRepository keeps the sync_runs history.
type RunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	Finish(ctx context.Context, run *model.SyncRun) error
	// Recent returns the newest runs first; objectType may be empty.
	Recent(ctx context.Context, objectType model.ObjectType, limit int) ([]*model.SyncRun, error)
}

type runRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *model.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, run *model.SyncRun) error {
	err := r.db.WithContext(ctx).Model(&model.SyncRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":                run.Status,
		"finished_at":           run.FinishedAt,
		"objects_synced":        run.ObjectsSynced,
		"associations_resolved": run.AssociationsResolved,
		"attributions_computed": run.AttributionsComputed,
		"records_skipped":       run.RecordsSkipped,
		"error_message":         run.ErrorMessage,
		"duration_ms":           run.DurationMs,
	}).Error
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

func (r *runRepository) Recent(ctx context.Context, objectType model.ObjectType, limit int) ([]*model.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	db := r.db.WithContext(ctx).Model(&model.SyncRun{})
	if objectType != "" {
		db = db.Where("object_type = ?", objectType)
	}
	var runs []*model.SyncRun
	if err := db.Order("started_at DESC").Order("id ASC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
