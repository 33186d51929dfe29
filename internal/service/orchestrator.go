package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"CrmSync/internal/config"
	"CrmSync/internal/interfaces"
	"CrmSync/internal/metrics"
	"CrmSync/internal/model"
	"CrmSync/internal/repository"
	"CrmSync/internal/syncerr"
)

// syncState is a step of a per-object-type run.
type syncState string

const (
	stateIdle                  syncState = "idle"
	stateFetching              syncState = "fetching"
	stateUpserting             syncState = "upserting"
	stateResolvingAssociations syncState = "resolving_associations"
	stateAttributing           syncState = "attributing"
	stateAdvancingCursor       syncState = "advancing_cursor"
)

// TypeResult is the outcome of one object type within a run.
type TypeResult struct {
	ObjectType           model.ObjectType `json:"object_type"`
	RunID                string           `json:"run_id,omitempty"`
	Status               model.RunStatus  `json:"status"`
	ObjectsSynced        int              `json:"objects_synced"`
	AssociationsResolved int              `json:"associations_resolved"`
	AttributionsComputed int              `json:"attributions_computed"`
	RecordsSkipped       int              `json:"records_skipped"`
	Error                string           `json:"error,omitempty"`
	DurationMs           int64            `json:"duration_ms"`
}

// RunSummary aggregates the per-type results of one RunSync call.
type RunSummary struct {
	Trigger              model.Trigger `json:"trigger"`
	StartedAt            time.Time     `json:"started_at"`
	ObjectsSynced        int           `json:"objects_synced"`
	AssociationsResolved int           `json:"associations_resolved"`
	AttributionsComputed int           `json:"attributions_computed"`
	DurationMs           int64         `json:"duration_ms"`
	Results              []TypeResult  `json:"results"`
}

// Failed reports whether any object type failed.
func (s *RunSummary) Failed() bool {
	for _, r := range s.Results {
		if r.Status == model.RunFailed {
			return true
		}
	}
	return false
}

// SyncOrchestrator drives incremental sync runs for each object type.
type SyncOrchestrator struct {
	cfg         config.SyncConfig
	pageSize    int
	crm         interfaces.CRMAdapter
	objects     repository.ObjectRepository
	upserter    *ObjectUpserter
	resolver    *AssociationResolver
	attribution *AttributionEngine
	cursors     repository.CursorRepository
	runs        repository.RunRepository
	clock       quartz.Clock
	logger      *logrus.Logger
	metrics     *metrics.Metrics
}

type OrchestratorDeps struct {
	CRM          interfaces.CRMAdapter
	Objects      repository.ObjectRepository
	Associations repository.AssociationRepository
	Attributions repository.AttributionRepository
	Cursors      repository.CursorRepository
	Runs         repository.RunRepository
	Clock        quartz.Clock
	Logger       *logrus.Logger
	Metrics      *metrics.Metrics
}

func NewSyncOrchestrator(cfg *config.Config, deps OrchestratorDeps) *SyncOrchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &SyncOrchestrator{
		cfg:         cfg.Sync,
		pageSize:    cfg.CRM.PageSize,
		crm:         deps.CRM,
		objects:     deps.Objects,
		upserter:    NewObjectUpserter(deps.Objects, clock, deps.Logger),
		resolver:    NewAssociationResolver(deps.CRM, deps.Associations, clock, deps.Logger),
		attribution: NewAttributionEngine(deps.Objects, deps.Associations, deps.Attributions, cfg.Attribution, clock, deps.Logger, deps.Metrics),
		cursors:     deps.Cursors,
		runs:        deps.Runs,
		clock:       clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// RunSync runs the given object types, or the configured ones when none are
// given. Contacts and calls run concurrently; deals run after them so that
// attribution sees their newest state. A failing or busy type never stops
// the others; the error return is reserved for invalid input.
func (o *SyncOrchestrator) RunSync(ctx context.Context, trigger model.Trigger, objectTypes ...model.ObjectType) (*RunSummary, error) {
	if len(objectTypes) == 0 {
		objectTypes = o.cfg.ObjectTypeList()
	}
	seen := make(map[model.ObjectType]bool)
	var first, last []model.ObjectType
	for _, t := range objectTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("unknown object type %q", t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		if t.Attributes() {
			last = append(last, t)
		} else {
			first = append(first, t)
		}
	}

	start := o.clock.Now()
	summary := &RunSummary{Trigger: trigger, StartedAt: start.UTC()}
	o.logger.WithFields(logrus.Fields{"trigger": trigger, "object_types": objectTypes}).Info("sync run started")

	var mu sync.Mutex
	collect := func(r TypeResult) {
		mu.Lock()
		defer mu.Unlock()
		summary.Results = append(summary.Results, r)
	}

	var g errgroup.Group
	for _, t := range first {
		g.Go(func() error {
			collect(o.runType(ctx, trigger, t))
			return nil
		})
	}
	_ = g.Wait()
	for _, t := range last {
		collect(o.runType(ctx, trigger, t))
	}

	for _, r := range summary.Results {
		summary.ObjectsSynced += r.ObjectsSynced
		summary.AssociationsResolved += r.AssociationsResolved
		summary.AttributionsComputed += r.AttributionsComputed
	}
	summary.DurationMs = o.clock.Since(start).Milliseconds()
	o.logger.WithFields(logrus.Fields{
		"trigger":               trigger,
		"objects_synced":        summary.ObjectsSynced,
		"associations_resolved": summary.AssociationsResolved,
		"attributions_computed": summary.AttributionsComputed,
		"duration_ms":           summary.DurationMs,
	}).Info("sync run finished")
	return summary, nil
}

// LastRuns returns the cursor of every object type that has run.
func (o *SyncOrchestrator) LastRuns(ctx context.Context) ([]model.SyncCursor, error) {
	return o.cursors.List(ctx)
}

// ObjectCounts returns the number of mirrored rows per configured object type.
func (o *SyncOrchestrator) ObjectCounts(ctx context.Context) (map[model.ObjectType]int64, error) {
	counts := make(map[model.ObjectType]int64)
	for _, t := range o.cfg.ObjectTypeList() {
		n, err := o.objects.Count(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

func (o *SyncOrchestrator) RecentRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	return o.runs.Recent(ctx, "", limit)
}

func (o *SyncOrchestrator) runType(ctx context.Context, trigger model.Trigger, objectType model.ObjectType) TypeResult {
	start := o.clock.Now()
	runID := uuid.NewString()
	res := TypeResult{ObjectType: objectType, RunID: runID}
	log := o.logger.WithFields(logrus.Fields{"object_type": objectType, "run_id": runID})

	cursor, err := o.cursors.Acquire(ctx, objectType, runID, start.UTC(), o.cfg.StaleRunAfter)
	if errors.Is(err, syncerr.ErrRunInProgress) {
		log.Info("another run holds this object type, skipping")
		res.RunID = ""
		res.Status = model.RunSkipped
		return res
	}
	if err != nil {
		log.WithError(err).Error("could not acquire sync cursor")
		res.Status = model.RunFailed
		res.Error = err.Error()
		return res
	}

	// bookkeeping must survive cancellation of the run itself
	bookCtx := context.WithoutCancel(ctx)
	run := &model.SyncRun{
		ID:         runID,
		ObjectType: objectType,
		Trigger:    trigger,
		Status:     model.RunRunning,
		StartedAt:  start.UTC(),
	}
	if err := o.runs.Create(bookCtx, run); err != nil {
		log.WithError(err).Warn("could not record run history")
		run = nil
	}

	st := &stateTracker{log: log, cur: stateIdle}
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	watermark, runErr := o.syncType(runCtx, st, objectType, cursor, &res)
	cancel()

	now := o.clock.Now().UTC()
	if runErr == nil {
		st.to(stateAdvancingCursor)
		runErr = o.cursors.Complete(bookCtx, objectType, runID, watermark, res.ObjectsSynced, res.RecordsSkipped, now)
	}
	if runErr != nil {
		res.Status = model.RunFailed
		res.Error = runErr.Error()
		if err := o.cursors.Fail(bookCtx, objectType, runID, runErr, now); err != nil {
			log.WithError(err).Error("could not record failed run on cursor")
		}
		log.WithError(runErr).WithField("kind", syncerr.KindOf(runErr).String()).Error("sync run failed, cursor not advanced")
	} else {
		res.Status = model.RunSucceeded
		fields := logrus.Fields{"objects_synced": res.ObjectsSynced, "records_skipped": res.RecordsSkipped}
		if watermark != nil {
			fields["watermark"] = watermark.Format(time.RFC3339Nano)
		}
		log.WithFields(fields).Info("sync run succeeded")
	}
	st.to(stateIdle)

	elapsed := o.clock.Since(start)
	res.DurationMs = elapsed.Milliseconds()
	o.metrics.ObjectsSynced(string(objectType), res.ObjectsSynced)
	o.metrics.RecordsSkipped(string(objectType), res.RecordsSkipped)
	o.metrics.ObserveRun(string(objectType), string(res.Status), elapsed)

	if run != nil {
		finished := now
		run.Status = res.Status
		run.FinishedAt = &finished
		run.ObjectsSynced = res.ObjectsSynced
		run.AssociationsResolved = res.AssociationsResolved
		run.AttributionsComputed = res.AttributionsComputed
		run.RecordsSkipped = res.RecordsSkipped
		run.ErrorMessage = res.Error
		run.DurationMs = res.DurationMs
		if err := o.runs.Finish(bookCtx, run); err != nil {
			log.WithError(err).Warn("could not finish run history")
		}
	}
	return res
}

// syncType fetches, upserts, resolves and (for deals) attributes. It returns
// the watermark to store, nil when nothing newer than the current one was seen.
func (o *SyncOrchestrator) syncType(ctx context.Context, st *stateTracker, objectType model.ObjectType, cursor *model.SyncCursor, res *TypeResult) (*time.Time, error) {
	var since time.Time
	if cursor.LastSyncedAt != nil {
		since = cursor.LastSyncedAt.Add(-o.cfg.OverlapWindow)
	}
	st.to(stateFetching)
	st.log.WithField("since", since).Debug("fetching changes")

	var (
		maxSeen *time.Time
		ids     []string
		idSeen  = make(map[string]struct{})
		after   string
	)
	for page := 1; ; page++ {
		p, err := o.crm.FetchPage(ctx, objectType, model.PageRequest{After: after, Since: since, PageSize: o.pageSize})
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", objectType, page, err)
		}

		st.to(stateUpserting)
		ur, err := o.upserter.Upsert(ctx, objectType, p.Items)
		if err != nil {
			return nil, fmt.Errorf("upsert %s page %d: %w", objectType, page, err)
		}
		res.ObjectsSynced += ur.Written
		res.RecordsSkipped += ur.Skipped
		for _, id := range ur.IDs {
			if _, ok := idSeen[id]; !ok {
				idSeen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		if ur.MaxUpdatedAt != nil && (maxSeen == nil || ur.MaxUpdatedAt.After(*maxSeen)) {
			maxSeen = ur.MaxUpdatedAt
		}

		if p.NextAfter == "" {
			break
		}
		if p.NextAfter == after {
			return nil, syncerr.New(syncerr.KindFatal, "fetch "+string(objectType), fmt.Errorf("paging cursor %q did not advance", after))
		}
		after = p.NextAfter
		st.to(stateFetching)
	}

	if len(objectType.AssociationTargets()) > 0 {
		st.to(stateResolvingAssociations)
		n, err := o.resolver.Resolve(ctx, objectType, ids)
		if err != nil {
			return nil, err
		}
		res.AssociationsResolved = n
	}

	if objectType.Attributes() {
		st.to(stateAttributing)
		ar, err := o.attribution.Recompute(ctx)
		if err != nil {
			return nil, fmt.Errorf("attribute: %w", err)
		}
		res.AttributionsComputed = ar.Computed
		res.RecordsSkipped += ar.Skipped
	}

	if maxSeen == nil || (cursor.LastSyncedAt != nil && !maxSeen.After(*cursor.LastSyncedAt)) {
		return nil, nil
	}
	return maxSeen, nil
}

// stateTracker logs every state change of one run.
type stateTracker struct {
	log *logrus.Entry
	cur syncState
}

func (s *stateTracker) to(next syncState) {
	if next == s.cur {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.cur, "to": next}).Debug("sync state transition")
	s.cur = next
}
