package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/config"
	"CrmSync/internal/metrics"
	"CrmSync/internal/model"
	"CrmSync/internal/phone"
	"CrmSync/internal/repository"
)

// Snapshot is the read-only input of one attribution pass.
type Snapshot struct {
	// Deals are the closed deals to attribute.
	Deals    []*model.Deal
	Contacts map[string]*model.Contact
	Calls    map[string]*model.Call

	DealContacts map[string][]string // deal id -> contact ids
	DealCalls    map[string][]string // deal id -> call ids linked to the deal
	ContactCalls map[string][]string // contact id -> call ids linked to the contact
}

// Attribute picks the closing call of every deal in snap.
//
// Calls linked to the deal or to its contacts are considered first. Only when
// none of them happened at or before close are calls matched by phone number
// against the deal's contacts. Among candidates the latest call wins; ties go
// to a call by the deal owner, then to the lowest call id. A call after the
// close time is never attributed.
func Attribute(snap *Snapshot, defaultCountryCode string, computedAt time.Time) []*model.CallAttribution {
	byPhone := make(map[string][]string)
	for id, call := range snap.Calls {
		if n, ok := phone.Normalize(call.ToNumber(), defaultCountryCode); ok {
			byPhone[n] = append(byPhone[n], id)
		}
	}

	var out []*model.CallAttribution
	for _, deal := range snap.Deals {
		closeAt, ok := deal.CloseTime()
		if !ok {
			continue
		}

		direct := make(map[string]struct{})
		for _, id := range snap.DealCalls[deal.ID] {
			direct[id] = struct{}{}
		}
		for _, contactID := range snap.DealContacts[deal.ID] {
			for _, id := range snap.ContactCalls[contactID] {
				direct[id] = struct{}{}
			}
		}
		best, at := pickClosingCall(snap.Calls, direct, deal.OwnerID, closeAt)
		basis := model.MatchDirect

		if best == nil {
			matched := make(map[string]struct{})
			for _, contactID := range snap.DealContacts[deal.ID] {
				contact, ok := snap.Contacts[contactID]
				if !ok {
					continue
				}
				for _, raw := range contact.PhoneNumbers() {
					n, ok := phone.Normalize(raw, defaultCountryCode)
					if !ok {
						continue
					}
					for _, id := range byPhone[n] {
						matched[id] = struct{}{}
					}
				}
			}
			best, at = pickClosingCall(snap.Calls, matched, deal.OwnerID, closeAt)
			basis = model.MatchPhone
		}
		if best == nil {
			continue
		}

		out = append(out, &model.CallAttribution{
			DealID:        deal.ID,
			CallID:        best.ID,
			OwnerID:       best.OwnerID,
			MatchBasis:    basis,
			CallTimestamp: at,
			DealCloseAt:   closeAt,
			ComputedAt:    computedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].DealID, out[j].DealID) })
	return out
}

func pickClosingCall(calls map[string]*model.Call, ids map[string]struct{}, dealOwner *string, closeAt time.Time) (*model.Call, time.Time) {
	var (
		best   *model.Call
		bestAt time.Time
	)
	for id := range ids {
		call, ok := calls[id]
		if !ok {
			continue
		}
		at, ok := call.Timestamp()
		if !ok || at.After(closeAt) {
			continue
		}
		if best == nil || beats(call, at, best, bestAt, dealOwner) {
			best, bestAt = call, at
		}
	}
	return best, bestAt
}

func beats(c *model.Call, at time.Time, cur *model.Call, curAt time.Time, dealOwner *string) bool {
	if !at.Equal(curAt) {
		return at.After(curAt)
	}
	cOwns, curOwns := ownedBy(c, dealOwner), ownedBy(cur, dealOwner)
	if cOwns != curOwns {
		return cOwns
	}
	return lessID(c.ID, cur.ID)
}

func ownedBy(c *model.Call, owner *string) bool {
	return owner != nil && c.OwnerID != nil && *c.OwnerID == *owner
}

// lessID orders CRM ids numerically when both are numeric, lexically otherwise.
func lessID(a, b string) bool {
	if isDigits(a) && isDigits(b) && len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AttributionResult summarises one recompute.
type AttributionResult struct {
	Computed int // deals with an attribution
	Cleared  int // stale attributions removed
	// Skipped counts closed deals without a usable close date plus
	// contacts and calls whose phone number cannot be matched.
	Skipped int
}

// PhoneIssue is a contact or call left out of phone matching.
type PhoneIssue struct {
	ObjectType model.ObjectType
	ID         string
	Raw        string // empty when the number is missing
}

// UnusablePhones lists the contacts of snap without any matchable number and
// the calls whose target number is missing or malformed, ordered by type then id.
func UnusablePhones(snap *Snapshot, defaultCountryCode string) []PhoneIssue {
	var out []PhoneIssue
	for id, contact := range snap.Contacts {
		raws := contact.PhoneNumbers()
		usable := false
		for _, raw := range raws {
			if _, ok := phone.Normalize(raw, defaultCountryCode); ok {
				usable = true
				break
			}
		}
		if !usable {
			out = append(out, PhoneIssue{ObjectType: model.ObjectContacts, ID: id, Raw: strings.Join(raws, ", ")})
		}
	}
	for id, call := range snap.Calls {
		raw := call.ToNumber()
		if _, ok := phone.Normalize(raw, defaultCountryCode); !ok {
			out = append(out, PhoneIssue{ObjectType: model.ObjectCalls, ID: id, Raw: raw})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectType != out[j].ObjectType {
			return out[i].ObjectType < out[j].ObjectType
		}
		return lessID(out[i].ID, out[j].ID)
	})
	return out
}

// AttributionEngine recomputes the attribution table from the mirror.
type AttributionEngine struct {
	objects      repository.ObjectRepository
	associations repository.AssociationRepository
	attributions repository.AttributionRepository
	cfg          config.AttributionConfig
	clock        quartz.Clock
	logger       *logrus.Logger
	metrics      *metrics.Metrics
}

func NewAttributionEngine(
	objects repository.ObjectRepository,
	associations repository.AssociationRepository,
	attributions repository.AttributionRepository,
	cfg config.AttributionConfig,
	clock quartz.Clock,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *AttributionEngine {
	return &AttributionEngine{
		objects:      objects,
		associations: associations,
		attributions: attributions,
		cfg:          cfg,
		clock:        clock,
		logger:       logger,
		metrics:      m,
	}
}

// Recompute attributes every closed deal and replaces the stored attributions.
func (e *AttributionEngine) Recompute(ctx context.Context) (AttributionResult, error) {
	var res AttributionResult
	snap, skipped, err := e.loadSnapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("load attribution snapshot: %w", err)
	}
	res.Skipped = skipped
	for _, issue := range UnusablePhones(snap, e.cfg.DefaultCountryCode) {
		res.Skipped++
		idField := "contact_id"
		if issue.ObjectType == model.ObjectCalls {
			idField = "call_id"
		}
		reason := "malformed phone number, excluded from phone matching"
		if issue.Raw == "" {
			reason = "missing phone number, excluded from phone matching"
		}
		e.logger.WithFields(logrus.Fields{idField: issue.ID, "raw": issue.Raw}).Warn(reason)
	}

	rows := Attribute(snap, e.cfg.DefaultCountryCode, e.clock.Now().UTC())
	cleared, err := e.attributions.Replace(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Computed = len(rows)
	res.Cleared = int(cleared)
	for _, row := range rows {
		e.metrics.AttributionComputed(string(row.MatchBasis))
	}

	e.logger.WithFields(logrus.Fields{
		"closed_deals": len(snap.Deals),
		"attributed":   res.Computed,
		"cleared":      res.Cleared,
		"skipped":      res.Skipped,
	}).Info("attribution recomputed")
	return res, nil
}

func (e *AttributionEngine) loadSnapshot(ctx context.Context) (*Snapshot, int, error) {
	stages := make(map[string]struct{}, len(e.cfg.ClosedStages))
	for _, s := range e.cfg.ClosedStages {
		stages[s] = struct{}{}
	}

	snap := &Snapshot{
		Contacts:     make(map[string]*model.Contact),
		Calls:        make(map[string]*model.Call),
		DealContacts: make(map[string][]string),
		DealCalls:    make(map[string][]string),
		ContactCalls: make(map[string][]string),
	}
	skipped := 0
	err := e.objects.Scan(ctx, model.ObjectDeals, 500, func(rows []*model.CrmObject) error {
		for _, row := range rows {
			deal := &model.Deal{CrmObject: *row}
			if _, closed := stages[deal.Stage()]; !closed {
				continue
			}
			if _, ok := deal.CloseTime(); !ok {
				skipped++
				e.logger.WithField("deal_id", deal.ID).Warn("closed deal has no usable close date, not attributed")
				continue
			}
			snap.Deals = append(snap.Deals, deal)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if len(snap.Deals) == 0 {
		return snap, skipped, nil
	}

	dealContacts, err := e.associations.ListByPair(ctx, model.ObjectDeals, model.ObjectContacts)
	if err != nil {
		return nil, 0, err
	}
	contactIDs := make(map[string]struct{})
	for _, l := range dealContacts {
		snap.DealContacts[l.SourceID] = appendUnique(snap.DealContacts[l.SourceID], l.TargetID)
		contactIDs[l.TargetID] = struct{}{}
	}

	callDeals, err := e.associations.ListByPair(ctx, model.ObjectCalls, model.ObjectDeals)
	if err != nil {
		return nil, 0, err
	}
	for _, l := range callDeals {
		snap.DealCalls[l.TargetID] = appendUnique(snap.DealCalls[l.TargetID], l.SourceID)
	}

	callContacts, err := e.associations.ListByPair(ctx, model.ObjectCalls, model.ObjectContacts)
	if err != nil {
		return nil, 0, err
	}
	for _, l := range callContacts {
		snap.ContactCalls[l.TargetID] = appendUnique(snap.ContactCalls[l.TargetID], l.SourceID)
	}

	ids := make([]string, 0, len(contactIDs))
	for id := range contactIDs {
		ids = append(ids, id)
	}
	contacts, err := e.objects.LoadByIDs(ctx, model.ObjectContacts, ids)
	if err != nil {
		return nil, 0, err
	}
	for id, row := range contacts {
		if row.Archived {
			continue
		}
		snap.Contacts[id] = &model.Contact{CrmObject: *row}
	}

	err = e.objects.Scan(ctx, model.ObjectCalls, 1000, func(rows []*model.CrmObject) error {
		for _, row := range rows {
			snap.Calls[row.ID] = &model.Call{CrmObject: *row}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return snap, skipped, nil
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
