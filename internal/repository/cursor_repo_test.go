package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrmSync/internal/model"
	"CrmSync/internal/syncerr"
	"CrmSync/internal/testutil"
)

func TestCursorLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepository(testutil.NewDB(t))

	c, err := repo.Get(ctx, model.ObjectDeals)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = repo.Acquire(ctx, model.ObjectDeals, "run-1", t0, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, c.LastRunStatus)
	assert.Nil(t, c.LastSyncedAt)

	_, err = repo.Acquire(ctx, model.ObjectDeals, "run-2", t0.Add(time.Minute), time.Hour)
	assert.ErrorIs(t, err, syncerr.ErrRunInProgress)

	watermark := t0.Add(-time.Minute)
	require.NoError(t, repo.Complete(ctx, model.ObjectDeals, "run-1", &watermark, 7, 1, t0.Add(2*time.Minute)))

	c, err = repo.Get(ctx, model.ObjectDeals)
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, c.LastRunStatus)
	require.NotNil(t, c.LastSyncedAt)
	assert.True(t, c.LastSyncedAt.Equal(watermark))
	assert.Equal(t, 7, c.ObjectsSynced)
	assert.Equal(t, 1, c.RecordsSkipped)
	assert.Nil(t, c.RunStartedAt)
}

func TestCursorFailKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepository(testutil.NewDB(t))

	_, err := repo.Acquire(ctx, model.ObjectCalls, "run-1", t0, time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, model.ObjectCalls, "run-1", &t0, 1, 0, t0))

	_, err = repo.Acquire(ctx, model.ObjectCalls, "run-2", t0.Add(time.Hour), time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Fail(ctx, model.ObjectCalls, "run-2", errors.New("crm down"), t0.Add(time.Hour)))

	c, err := repo.Get(ctx, model.ObjectCalls)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, c.LastRunStatus)
	assert.Equal(t, "crm down", c.LastError)
	assert.True(t, c.LastSyncedAt.Equal(t0))
}

func TestCursorStaleRunIsReclaimed(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepository(testutil.NewDB(t))

	_, err := repo.Acquire(ctx, model.ObjectContacts, "crashed", t0, time.Hour)
	require.NoError(t, err)

	_, err = repo.Acquire(ctx, model.ObjectContacts, "next", t0.Add(30*time.Minute), time.Hour)
	require.ErrorIs(t, err, syncerr.ErrRunInProgress)

	c, err := repo.Acquire(ctx, model.ObjectContacts, "next", t0.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "next", c.LastRunID)

	// the crashed run can no longer release the cursor
	err = repo.Complete(ctx, model.ObjectContacts, "crashed", &t0, 0, 0, t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, syncerr.ErrRunInProgress)
}

func TestCursorList(t *testing.T) {
	ctx := context.Background()
	repo := NewCursorRepository(testutil.NewDB(t))
	for _, ot := range model.AllObjectTypes {
		_, err := repo.Acquire(ctx, ot, "run-"+string(ot), t0, 0)
		require.NoError(t, err)
	}
	cursors, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, cursors, 3)
	assert.Equal(t, model.ObjectCalls, cursors[0].ObjectType)
	assert.Equal(t, model.ObjectContacts, cursors[1].ObjectType)
	assert.Equal(t, model.ObjectDeals, cursors[2].ObjectType)
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(testutil.NewDB(t))

	for i, ot := range model.AllObjectTypes {
		run := &model.SyncRun{
			ID:         "run-" + string(ot),
			ObjectType: ot,
			Trigger:    model.TriggerScheduled,
			Status:     model.RunRunning,
			StartedAt:  t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, run))
		finished := run.StartedAt.Add(time.Second)
		run.Status = model.RunSucceeded
		run.FinishedAt = &finished
		run.ObjectsSynced = i
		run.DurationMs = 1000
		require.NoError(t, repo.Finish(ctx, run))
	}

	runs, err := repo.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-deals", runs[0].ID)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
	assert.Equal(t, 2, runs[0].ObjectsSynced)

	runs, err = repo.Recent(ctx, model.ObjectCalls, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-calls", runs[0].ID)
}
