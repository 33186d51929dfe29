package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"CrmSync/internal/model"
	"CrmSync/internal/repository"
	"CrmSync/internal/syncerr"
)

// UpsertResult counts what happened to one page of CRM records.
type UpsertResult struct {
	Written   int
	Unchanged int
	Skipped   int
	// IDs of every valid record in the page, written or not.
	IDs []string
	// MaxUpdatedAt is the newest CRM updatedAt among valid records, nil for an empty page.
	MaxUpdatedAt *time.Time
}

// ObjectUpserter maps CRM records onto mirror rows and writes the ones that changed.
type ObjectUpserter struct {
	repo   repository.ObjectRepository
	clock  quartz.Clock
	logger *logrus.Logger
}

func NewObjectUpserter(repo repository.ObjectRepository, clock quartz.Clock, logger *logrus.Logger) *ObjectUpserter {
	return &ObjectUpserter{repo: repo, clock: clock, logger: logger}
}

func (u *ObjectUpserter) Upsert(ctx context.Context, objectType model.ObjectType, items []model.CrmRecord) (UpsertResult, error) {
	var res UpsertResult

	// newest version per id wins; later items win ties
	latest := make(map[string]*model.CrmObject, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		row, err := toRow(item)
		if err != nil {
			res.Skipped++
			u.logger.WithFields(logrus.Fields{
				"object_type": objectType,
				"record_id":   item.ID,
			}).WithError(err).Warn("skipping malformed crm record")
			continue
		}
		prev, seen := latest[row.ID]
		if !seen {
			order = append(order, row.ID)
		}
		if !seen || !row.UpdatedAt.Before(prev.UpdatedAt) {
			latest[row.ID] = row
		}
		if res.MaxUpdatedAt == nil || row.UpdatedAt.After(*res.MaxUpdatedAt) {
			t := row.UpdatedAt
			res.MaxUpdatedAt = &t
		}
	}
	if len(order) == 0 {
		return res, nil
	}
	res.IDs = order

	existing, err := u.repo.LoadByIDs(ctx, objectType, order)
	if err != nil {
		return res, err
	}

	now := u.clock.Now().UTC()
	changed := make([]*model.CrmObject, 0, len(order))
	for _, id := range order {
		row := latest[id]
		if old, ok := existing[id]; ok {
			if old.UpdatedAt.After(row.UpdatedAt) {
				u.logger.WithFields(logrus.Fields{
					"object_type": objectType,
					"record_id":   id,
					"stored":      old.UpdatedAt,
					"incoming":    row.UpdatedAt,
				}).Warn("crm record older than the stored version, not applied")
				res.Unchanged++
				continue
			}
			if sameVersion(old, row) {
				res.Unchanged++
				continue
			}
		}
		row.SyncedAt = now
		changed = append(changed, row)
	}

	if err := u.repo.Upsert(ctx, objectType, changed); err != nil {
		return res, err
	}
	res.Written = len(changed)
	return res, nil
}

// toRow maps a CRM record onto a mirror row. Failures are DataQuality errors.
func toRow(item model.CrmRecord) (*model.CrmObject, error) {
	const op = "map record"
	if item.ID == "" {
		return nil, syncerr.New(syncerr.KindDataQuality, op, fmt.Errorf("missing id"))
	}
	updatedAt, err := model.ParseCRMTime(item.UpdatedAt)
	if err != nil {
		return nil, syncerr.New(syncerr.KindDataQuality, op, fmt.Errorf("updatedAt: %w", err))
	}
	createdAt := updatedAt
	if item.CreatedAt != "" {
		if createdAt, err = model.ParseCRMTime(item.CreatedAt); err != nil {
			return nil, syncerr.New(syncerr.KindDataQuality, op, fmt.Errorf("createdAt: %w", err))
		}
	}

	props := make(datatypes.JSONMap, len(item.Properties))
	for k, v := range item.Properties {
		if v != nil {
			props[k] = *v
		}
	}
	row := &model.CrmObject{
		ID:         item.ID,
		Properties: props,
		Archived:   item.Archived,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if owner := row.Prop(model.PropOwnerID); owner != "" {
		row.OwnerID = &owner
	}
	return row, nil
}

func sameVersion(a, b *model.CrmObject) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) || !a.CreatedAt.Equal(b.CreatedAt) || a.Archived != b.Archived {
		return false
	}
	if (a.OwnerID == nil) != (b.OwnerID == nil) || (a.OwnerID != nil && *a.OwnerID != *b.OwnerID) {
		return false
	}
	pa, errA := json.Marshal(a.Properties)
	pb, errB := json.Marshal(b.Properties)
	return errA == nil && errB == nil && string(pa) == string(pb)
}
