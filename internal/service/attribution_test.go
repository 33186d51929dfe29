package service

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrmSync/internal/config"
	"CrmSync/internal/model"
	"CrmSync/internal/repository"
	"CrmSync/internal/testutil"
)

func deal(id, owner string, closeAt time.Time) *model.Deal {
	return &model.Deal{CrmObject: *testutil.Object(id, owner, closeAt,
		model.PropDealStage, "closedwon",
		model.PropCloseDate, closeAt.Format(time.RFC3339))}
}

func call(id, owner string, at time.Time, to string) *model.Call {
	return &model.Call{CrmObject: *testutil.Object(id, owner, at,
		model.PropCallTime, at.Format(time.RFC3339),
		model.PropCallToNumber, to)}
}

func contact(id string, phones ...string) *model.Contact {
	props := []string{}
	keys := []string{model.PropPhone, model.PropMobilePhone}
	for i, p := range phones {
		props = append(props, keys[i], p)
	}
	return &model.Contact{CrmObject: *testutil.Object(id, "", closeAt, props...)}
}

// phoneScenario: deal D closes at noon, its contact K has a phone number and
// call C dialled that number at 11:45 without any CRM association.
func phoneScenario() *Snapshot {
	return &Snapshot{
		Deals:        []*model.Deal{deal("D", "O1", closeAt)},
		Contacts:     map[string]*model.Contact{"K": contact("K", "+1 (555) 010-2030")},
		Calls:        map[string]*model.Call{"C": call("C", "O2", closeAt.Add(-15*time.Minute), "15550102030")},
		DealContacts: map[string][]string{"D": {"K"}},
		DealCalls:    map[string][]string{},
		ContactCalls: map[string][]string{},
	}
}

func TestAttributePhoneMatch(t *testing.T) {
	rows := Attribute(phoneScenario(), "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "D", rows[0].DealID)
	assert.Equal(t, "C", rows[0].CallID)
	assert.Equal(t, model.MatchPhone, rows[0].MatchBasis)
	assert.Equal(t, "O2", *rows[0].OwnerID)
	assert.True(t, rows[0].DealCloseAt.Equal(closeAt))
}

func TestAttributeDirectBeatsPhoneMatch(t *testing.T) {
	snap := phoneScenario()
	snap.Calls["C2"] = call("C2", "O1", closeAt.Add(-10*time.Minute), "")
	snap.DealCalls["D"] = []string{"C2"}

	rows := Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "C2", rows[0].CallID)
	assert.Equal(t, model.MatchDirect, rows[0].MatchBasis)
	assert.Equal(t, "O1", *rows[0].OwnerID)
}

func TestAttributeDirectWinsOverLaterPhoneCandidate(t *testing.T) {
	snap := phoneScenario()
	snap.Calls["C"] = call("C", "O2", closeAt.Add(-time.Minute), "+1 555 010 2030")
	snap.Calls["C2"] = call("C2", "O1", closeAt.Add(-2*time.Hour), "")
	snap.ContactCalls["K"] = []string{"C2"}

	rows := Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "C2", rows[0].CallID)
	assert.Equal(t, model.MatchDirect, rows[0].MatchBasis)
}

func TestAttributeNeverPicksFutureCall(t *testing.T) {
	snap := phoneScenario()
	snap.Calls["C"] = call("C", "O2", closeAt.Add(time.Minute), "15550102030")
	snap.Calls["late"] = call("late", "O1", closeAt.Add(time.Second), "")
	snap.DealCalls["D"] = []string{"late"}

	assert.Empty(t, Attribute(snap, "1", closeAt))
}

func TestAttributeCallAtCloseIsEligible(t *testing.T) {
	snap := phoneScenario()
	snap.Calls["C"] = call("C", "O2", closeAt, "15550102030")

	rows := Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0].CallID)
}

func TestAttributeDirectAllAfterCloseFallsBackToPhone(t *testing.T) {
	snap := phoneScenario()
	snap.Calls["late"] = call("late", "O1", closeAt.Add(time.Hour), "")
	snap.DealCalls["D"] = []string{"late"}

	rows := Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0].CallID)
	assert.Equal(t, model.MatchPhone, rows[0].MatchBasis)
}

func TestAttributeTieBreaks(t *testing.T) {
	at := closeAt.Add(-5 * time.Minute)
	snap := &Snapshot{
		Deals: []*model.Deal{deal("D", "O1", closeAt)},
		Calls: map[string]*model.Call{
			"30": call("30", "O9", at, ""),
			"20": call("20", "O1", at, ""),
			"10": call("10", "O8", at, ""),
		},
		DealCalls: map[string][]string{"D": {"30", "20", "10"}},
	}
	rows := Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "20", rows[0].CallID, "deal owner's call wins a timestamp tie")

	snap.Calls["20"] = call("20", "O7", at, "")
	rows = Attribute(snap, "1", closeAt)
	require.Len(t, rows, 1)
	assert.Equal(t, "10", rows[0].CallID, "then the lowest id")

	snap.Calls["9"] = call("9", "O7", at, "")
	snap.DealCalls["D"] = append(snap.DealCalls["D"], "9")
	rows = Attribute(snap, "1", closeAt)
	assert.Equal(t, "9", rows[0].CallID, "numeric ids compare numerically")
}

func TestAttributeIsDeterministic(t *testing.T) {
	snap := phoneScenario()
	snap.Deals = append(snap.Deals, deal("E", "O3", closeAt.Add(time.Hour)))
	snap.DealContacts["E"] = []string{"K"}
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		snap.Calls[id] = call(id, "O3", closeAt.Add(-time.Hour), "555-010-2030")
	}

	want := Attribute(snap, "1", closeAt)
	require.Len(t, want, 2, "one call can be attributed to several deals")
	for i := 0; i < 20; i++ {
		assert.Equal(t, want, Attribute(snap, "1", closeAt))
	}
}

func TestAttributeIgnoresUnusablePhones(t *testing.T) {
	snap := phoneScenario()
	snap.Contacts["K"] = contact("K", "n/a", "12345")
	snap.Calls["C"] = call("C", "O2", closeAt.Add(-time.Minute), "12345")

	assert.Empty(t, Attribute(snap, "1", closeAt))
}

func TestUnusablePhonesReportsContactsAndCalls(t *testing.T) {
	snap := phoneScenario()
	snap.Contacts["K"] = contact("K", "n/a", "12345")
	snap.Contacts["L"] = contact("L")
	snap.Contacts["M"] = contact("M", "n/a", "+1 555 010 2031")
	snap.Calls["C2"] = call("C2", "O1", closeAt.Add(-time.Minute), "")
	snap.Calls["C3"] = call("C3", "O1", closeAt.Add(-time.Minute), "020 7946 0958")

	assert.Equal(t, []PhoneIssue{
		{ObjectType: model.ObjectCalls, ID: "C2", Raw: ""},
		{ObjectType: model.ObjectCalls, ID: "C3", Raw: "020 7946 0958"},
		{ObjectType: model.ObjectContacts, ID: "K", Raw: "n/a, 12345"},
		{ObjectType: model.ObjectContacts, ID: "L", Raw: ""},
	}, UnusablePhones(snap, "1"))
}

func TestRecomputeFromMirror(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	objects := repository.NewObjectRepository(db)
	assocs := repository.NewAssociationRepository(db)
	attributions := repository.NewAttributionRepository(db)
	clock := quartz.NewMock(t)
	clock.Set(closeAt.Add(time.Hour))

	noClose := deal("N", "O1", closeAt)
	delete(noClose.Properties, model.PropCloseDate)
	pending := deal("P", "O1", closeAt)
	pending.Properties[model.PropDealStage] = "presentationscheduled"
	require.NoError(t, objects.Upsert(ctx, model.ObjectDeals, []*model.CrmObject{
		&deal("D", "O1", closeAt).CrmObject, &noClose.CrmObject, &pending.CrmObject,
	}))
	require.NoError(t, objects.Upsert(ctx, model.ObjectContacts, []*model.CrmObject{
		&contact("K", "+1 (555) 010-2030").CrmObject,
	}))
	require.NoError(t, objects.Upsert(ctx, model.ObjectCalls, []*model.CrmObject{
		&call("C", "O2", closeAt.Add(-15*time.Minute), "15550102030").CrmObject,
		&call("X", "O2", closeAt.Add(-15*time.Minute), "ext 12").CrmObject,
	}))
	_, err := assocs.Insert(ctx, []*model.Association{{
		SourceType: model.ObjectDeals, SourceID: "D",
		TargetType: model.ObjectContacts, TargetID: "K",
		AssociationType: "deal_to_contact", CreatedAt: closeAt,
	}})
	require.NoError(t, err)
	// a stale row from an earlier pass for a deal that no longer closes
	_, err = attributions.Replace(ctx, []*model.CallAttribution{{
		DealID: "P", CallID: "C", MatchBasis: model.MatchPhone,
		CallTimestamp: closeAt.Add(-time.Hour), DealCloseAt: closeAt, ComputedAt: closeAt,
	}})
	require.NoError(t, err)

	engine := NewAttributionEngine(objects, assocs, attributions,
		config.AttributionConfig{DefaultCountryCode: "1", ClosedStages: []string{"closedwon"}},
		clock, logrus.New(), nil)

	res, err := engine.Recompute(ctx)
	require.NoError(t, err)
	// the deal without a close date and the call to "ext 12"
	assert.Equal(t, AttributionResult{Computed: 1, Cleared: 1, Skipped: 2}, res)

	got, err := repository.NewReportRepository(db, nil).DealAttribution(ctx, "D")
	require.NoError(t, err)
	assert.Equal(t, "C", got.CallID)
	assert.Equal(t, model.MatchPhone, got.MatchBasis)
	assert.True(t, got.ComputedAt.Equal(closeAt.Add(time.Hour)))

	// recomputing replaces rather than appends
	res, err = engine.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Computed)
	assert.Zero(t, res.Cleared)
}
