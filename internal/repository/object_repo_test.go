package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrmSync/internal/model"
	"CrmSync/internal/testutil"
)

var t0 = time.Date(2025, 9, 30, 12, 0, 0, 0, time.UTC)

func TestObjectUpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewObjectRepository(testutil.NewDB(t))

	rows := []*model.CrmObject{
		testutil.Object("1", "O1", t0, model.PropPhone, "+1 555 010 2030"),
		testutil.Object("2", "", t0),
	}
	require.NoError(t, repo.Upsert(ctx, model.ObjectContacts, rows))
	// same rows again is a no-op in effect
	require.NoError(t, repo.Upsert(ctx, model.ObjectContacts, rows))

	n, err := repo.Count(ctx, model.ObjectContacts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	updated := testutil.Object("1", "O2", t0.Add(time.Hour), model.PropPhone, "+1 555 010 9999")
	require.NoError(t, repo.Upsert(ctx, model.ObjectContacts, []*model.CrmObject{updated}))

	got, err := repo.LoadByIDs(ctx, model.ObjectContacts, []string{"1", "2", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "O2", *got["1"].OwnerID)
	assert.Equal(t, "+1 555 010 9999", got["1"].Prop(model.PropPhone))
	assert.True(t, got["1"].UpdatedAt.Equal(t0.Add(time.Hour)))
	assert.Nil(t, got["2"].OwnerID)

	// other tables are untouched
	n, err = repo.Count(ctx, model.ObjectDeals)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestObjectScanSkipsArchivedAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewObjectRepository(testutil.NewDB(t))

	var rows []*model.CrmObject
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		rows = append(rows, testutil.Object(id, "", t0))
	}
	rows[2].Archived = true
	require.NoError(t, repo.Upsert(ctx, model.ObjectCalls, rows))

	var seen []string
	batches := 0
	err := repo.Scan(ctx, model.ObjectCalls, 2, func(batch []*model.CrmObject) error {
		batches++
		for _, r := range batch {
			seen = append(seen, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "e"}, seen)
	assert.Equal(t, 3, batches)
}

func TestTableForUnknownType(t *testing.T) {
	_, err := TableFor(model.ObjectType("companies"))
	assert.Error(t, err)
}

func TestAssociationInsertIsAdditive(t *testing.T) {
	ctx := context.Background()
	repo := NewAssociationRepository(testutil.NewDB(t))

	link := func(src, dst string) *model.Association {
		return &model.Association{
			SourceType: model.ObjectCalls, SourceID: src,
			TargetType: model.ObjectContacts, TargetID: dst,
			AssociationType: "call_to_contact", CreatedAt: t0,
		}
	}

	n, err := repo.Insert(ctx, []*model.Association{link("c1", "k1"), link("c1", "k2")})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.Insert(ctx, []*model.Association{link("c1", "k1"), link("c2", "k1")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "known link is not inserted twice")

	links, err := repo.ListByPair(ctx, model.ObjectCalls, model.ObjectContacts)
	require.NoError(t, err)
	assert.Len(t, links, 3)

	other, err := repo.ListByPair(ctx, model.ObjectCalls, model.ObjectDeals)
	require.NoError(t, err)
	assert.Empty(t, other)
}
