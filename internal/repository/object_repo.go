package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CrmSync/internal/model"
)

// ObjectRepository reads and writes the mirror tables of contacts, deals and calls.
type ObjectRepository interface {
	// LoadByIDs returns the stored rows among ids, keyed by id.
	LoadByIDs(ctx context.Context, objectType model.ObjectType, ids []string) (map[string]*model.CrmObject, error)
	// Upsert writes rows with one INSERT ... ON CONFLICT (id) DO UPDATE.
	Upsert(ctx context.Context, objectType model.ObjectType, rows []*model.CrmObject) error
	// Scan walks every non-archived row in id order, batchSize rows at a time.
	Scan(ctx context.Context, objectType model.ObjectType, batchSize int, fn func([]*model.CrmObject) error) error
	Count(ctx context.Context, objectType model.ObjectType) (int64, error)
}

type objectRepository struct {
	db *gorm.DB
}

func NewObjectRepository(db *gorm.DB) ObjectRepository {
	return &objectRepository{db: db}
}

// TableFor maps an object type onto its mirror table.
func TableFor(objectType model.ObjectType) (string, error) {
	switch objectType {
	case model.ObjectContacts:
		return model.Contact{}.TableName(), nil
	case model.ObjectDeals:
		return model.Deal{}.TableName(), nil
	case model.ObjectCalls:
		return model.Call{}.TableName(), nil
	}
	return "", fmt.Errorf("no mirror table for object type %q", objectType)
}

func (r *objectRepository) LoadByIDs(ctx context.Context, objectType model.ObjectType, ids []string) (map[string]*model.CrmObject, error) {
	table, err := TableFor(objectType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.CrmObject, len(ids))
	for _, chunk := range chunkStrings(ids, inListChunk) {
		var rows []*model.CrmObject
		if err := r.db.WithContext(ctx).Table(table).Where("id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load %s: %w", objectType, err)
		}
		for _, row := range rows {
			out[row.ID] = row
		}
	}
	return out, nil
}

func (r *objectRepository) Upsert(ctx context.Context, objectType model.ObjectType, rows []*model.CrmObject) error {
	if len(rows) == 0 {
		return nil
	}
	table, err := TableFor(objectType)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "properties", "archived", "created_at", "updated_at", "synced_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", objectType, err)
	}
	return nil
}

func (r *objectRepository) Scan(ctx context.Context, objectType model.ObjectType, batchSize int, fn func([]*model.CrmObject) error) error {
	table, err := TableFor(objectType)
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	last := ""
	for {
		var rows []*model.CrmObject
		if err := r.db.WithContext(ctx).Table(table).
			Where("archived = ? AND id > ?", false, last).
			Order("id ASC").
			Limit(batchSize).
			Find(&rows).Error; err != nil {
			return fmt.Errorf("scan %s: %w", objectType, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		last = rows[len(rows)-1].ID
	}
}

func (r *objectRepository) Count(ctx context.Context, objectType model.ObjectType) (int64, error) {
	table, err := TableFor(objectType)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// inListChunk keeps IN lists well under SQLite's bound-variable limit.
const inListChunk = 500

func chunkStrings(s []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(s); start += size {
		out = append(out, s[start:min(start+size, len(s))])
	}
	return out
}
