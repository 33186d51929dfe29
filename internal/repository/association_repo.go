package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CrmSync/internal/model"
)

// AssociationRepository persists CRM links. Links are only ever added.
type AssociationRepository interface {
	// Insert stores links that are not yet known and returns how many were new.
	Insert(ctx context.Context, links []*model.Association) (int64, error)
	// ListByPair returns every stored link from sourceType to targetType.
	ListByPair(ctx context.Context, sourceType, targetType model.ObjectType) ([]*model.Association, error)
}

type associationRepository struct {
	db *gorm.DB
}

func NewAssociationRepository(db *gorm.DB) AssociationRepository {
	return &associationRepository{db: db}
}

func (r *associationRepository) Insert(ctx context.Context, links []*model.Association) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source_type"}, {Name: "source_id"},
			{Name: "target_type"}, {Name: "target_id"},
			{Name: "association_type"},
		},
		DoNothing: true,
	}).CreateInBatches(links, 200)
	if res.Error != nil {
		return 0, fmt.Errorf("insert associations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *associationRepository) ListByPair(ctx context.Context, sourceType, targetType model.ObjectType) ([]*model.Association, error) {
	var links []*model.Association
	if err := r.db.WithContext(ctx).
		Where("source_type = ? AND target_type = ?", sourceType, targetType).
		Order("id ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}
