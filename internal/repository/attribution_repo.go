package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CrmSync/internal/model"
)

// AttributionRepository stores one CallAttribution per closed deal.
type AttributionRepository interface {
	// Replace makes rows the complete attribution set: rows are upserted by deal
	// and attributions of deals absent from rows are deleted. It returns the
	// number of rows deleted.
	Replace(ctx context.Context, rows []*model.CallAttribution) (int64, error)
}

type attributionRepository struct {
	db *gorm.DB
}

func NewAttributionRepository(db *gorm.DB) AttributionRepository {
	return &attributionRepository{db: db}
}

func (r *attributionRepository) Replace(ctx context.Context, rows []*model.CallAttribution) (int64, error) {
	var cleared int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "deal_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"call_id", "owner_id", "match_basis", "call_timestamp", "deal_close_at", "computed_at",
				}),
			}).CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("upsert attributions: %w", err)
			}
		}

		keep := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			keep[row.DealID] = struct{}{}
		}
		var existing []string
		if err := tx.Model(&model.CallAttribution{}).Pluck("deal_id", &existing).Error; err != nil {
			return fmt.Errorf("list attributions: %w", err)
		}
		var stale []string
		for _, id := range existing {
			if _, ok := keep[id]; !ok {
				stale = append(stale, id)
			}
		}
		for _, chunk := range chunkStrings(stale, inListChunk) {
			res := tx.Where("deal_id IN ?", chunk).Delete(&model.CallAttribution{})
			if res.Error != nil {
				return fmt.Errorf("delete stale attributions: %w", res.Error)
			}
			cleared += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}
