package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"CrmSync/internal/model"
)

// ReportFilter narrows dashboard queries. Zero values mean "no bound".
type ReportFilter struct {
	OwnerID string
	From    *time.Time
	To      *time.Time
}

func (f ReportFilter) contains(t time.Time) bool {
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && t.After(*f.To) {
		return false
	}
	return true
}

// OwnerSummary is one row of the per-owner dashboard table.
type OwnerSummary struct {
	OwnerID       string  `json:"owner_id"`
	DealsClosed   int     `json:"deals_closed"`
	ClosedAmount  float64 `json:"closed_amount"`
	CallsMade     int     `json:"calls_made"`
	ContactsOwned int     `json:"contacts_owned"`
	ClosingCalls  int     `json:"closing_calls"`
}

// ReportRepository is the read-only query surface the dashboard calls in-process.
type ReportRepository interface {
	OwnerSummaries(ctx context.Context, filter ReportFilter) ([]*OwnerSummary, error)
	ListAttributions(ctx context.Context, filter ReportFilter, page, pageSize int) ([]*model.CallAttribution, int64, error)
	// DealAttribution returns gorm.ErrRecordNotFound when the deal has no closing call.
	DealAttribution(ctx context.Context, dealID string) (*model.CallAttribution, error)
}

type reportRepository struct {
	db           *gorm.DB
	objects      ObjectRepository
	closedStages map[string]struct{}
}

func NewReportRepository(db *gorm.DB, closedStages []string) ReportRepository {
	stages := make(map[string]struct{}, len(closedStages))
	for _, s := range closedStages {
		stages[s] = struct{}{}
	}
	return &reportRepository{db: db, objects: NewObjectRepository(db), closedStages: stages}
}

type ownerCount struct {
	OwnerID string
	N       int
}

func (r *reportRepository) OwnerSummaries(ctx context.Context, filter ReportFilter) ([]*OwnerSummary, error) {
	byOwner := make(map[string]*OwnerSummary)
	get := func(owner string) *OwnerSummary {
		s, ok := byOwner[owner]
		if !ok {
			s = &OwnerSummary{OwnerID: owner}
			byOwner[owner] = s
		}
		return s
	}
	wantOwner := func(owner *string) (string, bool) {
		if owner == nil || *owner == "" {
			return "", false
		}
		if filter.OwnerID != "" && *owner != filter.OwnerID {
			return "", false
		}
		return *owner, true
	}

	// contacts have no activity time, so only the owner filter applies
	var contacts []ownerCount
	q := r.db.WithContext(ctx).Table(model.Contact{}.TableName()).
		Select("owner_id, COUNT(*) AS n").
		Where("archived = ? AND owner_id IS NOT NULL AND owner_id <> ''", false)
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if err := q.Group("owner_id").Scan(&contacts).Error; err != nil {
		return nil, err
	}
	for _, c := range contacts {
		get(c.OwnerID).ContactsOwned = c.N
	}

	var closing []ownerCount
	q = r.attributionQuery(ctx, filter).Select("owner_id, COUNT(*) AS n").Where("owner_id IS NOT NULL")
	if err := q.Group("owner_id").Scan(&closing).Error; err != nil {
		return nil, err
	}
	for _, c := range closing {
		get(c.OwnerID).ClosingCalls = c.N
	}

	err := r.objects.Scan(ctx, model.ObjectDeals, 500, func(rows []*model.CrmObject) error {
		for _, row := range rows {
			owner, ok := wantOwner(row.OwnerID)
			if !ok {
				continue
			}
			deal := model.Deal{CrmObject: *row}
			if _, closed := r.closedStages[deal.Stage()]; !closed {
				continue
			}
			closeAt, ok := deal.CloseTime()
			if !ok || !filter.contains(closeAt) {
				continue
			}
			s := get(owner)
			s.DealsClosed++
			s.ClosedAmount += deal.Amount()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.objects.Scan(ctx, model.ObjectCalls, 500, func(rows []*model.CrmObject) error {
		for _, row := range rows {
			owner, ok := wantOwner(row.OwnerID)
			if !ok {
				continue
			}
			call := model.Call{CrmObject: *row}
			at, ok := call.Timestamp()
			if !ok || !filter.contains(at) {
				continue
			}
			get(owner).CallsMade++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*OwnerSummary, 0, len(byOwner))
	for _, s := range byOwner {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

func (r *reportRepository) ListAttributions(ctx context.Context, filter ReportFilter, page, pageSize int) ([]*model.CallAttribution, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	if err := r.attributionQuery(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.CallAttribution
	if err := r.attributionQuery(ctx, filter).Order("deal_close_at DESC").Order("deal_id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *reportRepository) attributionQuery(ctx context.Context, filter ReportFilter) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&model.CallAttribution{})
	if filter.OwnerID != "" {
		db = db.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.From != nil {
		db = db.Where("deal_close_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		db = db.Where("deal_close_at <= ?", filter.To.UTC())
	}
	return db
}

func (r *reportRepository) DealAttribution(ctx context.Context, dealID string) (*model.CallAttribution, error) {
	var a model.CallAttribution
	if err := r.db.WithContext(ctx).Where("deal_id = ?", dealID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
