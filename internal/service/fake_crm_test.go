package service

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"CrmSync/internal/model"
)

// fakeCRM serves records from memory, oldest updatedAt first, like the search endpoint.
type fakeCRM struct {
	mu       sync.Mutex
	pageSize int
	records  map[model.ObjectType][]model.CrmRecord
	// links[source type][target type][source id]
	links map[model.ObjectType]map[model.ObjectType]map[string][]model.AssociationTarget
	// failAt makes FetchPage for a type fail on the given 1-based page number.
	failAt  map[model.ObjectType]int
	failErr error
	// block, when set, is received from before each FetchPage returns.
	block chan struct{}

	fetches map[model.ObjectType]int
	since   map[model.ObjectType][]string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		pageSize: 2,
		records:  make(map[model.ObjectType][]model.CrmRecord),
		links:    make(map[model.ObjectType]map[model.ObjectType]map[string][]model.AssociationTarget),
		failAt:   make(map[model.ObjectType]int),
		fetches:  make(map[model.ObjectType]int),
		since:    make(map[model.ObjectType][]string),
	}
}

func (f *fakeCRM) Name() string { return "fake" }

func (f *fakeCRM) put(t model.ObjectType, recs ...model.CrmRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[t] = append(f.records[t], recs...)
}

func (f *fakeCRM) link(from model.ObjectType, fromID string, to model.ObjectType, toID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links[from] == nil {
		f.links[from] = make(map[model.ObjectType]map[string][]model.AssociationTarget)
	}
	if f.links[from][to] == nil {
		f.links[from][to] = make(map[string][]model.AssociationTarget)
	}
	f.links[from][to][fromID] = append(f.links[from][to][fromID], model.AssociationTarget{ID: toID, Type: string(from) + "_to_" + string(to)})
}

func (f *fakeCRM) FetchPage(ctx context.Context, t model.ObjectType, req model.PageRequest) (*model.CrmPage, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches[t]++
	if req.After == "" {
		s := ""
		if !req.Since.IsZero() {
			s = req.Since.UTC().Format("2006-01-02T15:04:05Z")
		}
		f.since[t] = append(f.since[t], s)
	}

	var matching []model.CrmRecord
	for _, r := range f.records[t] {
		u, err := model.ParseCRMTime(r.UpdatedAt)
		if err == nil && !req.Since.IsZero() && u.Before(req.Since) {
			continue
		}
		matching = append(matching, r)
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].UpdatedAt < matching[j].UpdatedAt })

	offset := 0
	if req.After != "" {
		offset, _ = strconv.Atoi(req.After)
	}
	page := offset/f.pageSize + 1
	if n, ok := f.failAt[t]; ok && n == page {
		return nil, f.failErr
	}

	end := min(offset+f.pageSize, len(matching))
	out := &model.CrmPage{Items: append([]model.CrmRecord(nil), matching[offset:end]...)}
	if end < len(matching) {
		out.NextAfter = strconv.Itoa(end)
	}
	return out, nil
}

func (f *fakeCRM) FetchAssociations(_ context.Context, t model.ObjectType, ids []string, target model.ObjectType) (map[string][]model.AssociationTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]model.AssociationTarget)
	for _, id := range ids {
		if to := f.links[t][target][id]; len(to) > 0 {
			out[id] = append([]model.AssociationTarget(nil), to...)
		}
	}
	return out, nil
}
