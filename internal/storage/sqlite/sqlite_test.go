package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuslens/internal/activity"
	"focuslens/internal/storage"
)

func setupTestDB(t *testing.T) (storage.Storage, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test_focuslens.db")
	store := NewSQLiteStore(dbPath)
	err := store.Init(context.Background())
	require.NoError(t, err, "Failed to initialize test database")

	cleanup := func() {
		assert.NoError(t, store.Close(), "Failed to close test database")
	}
	return store, cleanup
}

func TestSaveAndGetSegments(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)
	seg := activity.Segment{
		SessionID:   "s1",
		AppName:     "code",
		WindowTitle: "main.go - focuslens",
		Category:    activity.CategoryCoding,
		StartTime:   start,
		EndTime:     start.Add(90 * time.Second),
		Keystrokes:  42,
	}
	require.NoError(t, store.SaveSegments(ctx, []activity.Segment{seg}))

	got, err := store.GetSegments(ctx, start.Add(-time.Minute), start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Greater(t, r.ID, int64(0))
	assert.Equal(t, seg.SessionID, r.SessionID)
	assert.Equal(t, seg.AppName, r.AppName)
	assert.Equal(t, seg.WindowTitle, r.WindowTitle)
	assert.Equal(t, seg.Category, r.Category)
	assert.True(t, seg.StartTime.Equal(r.StartTime))
	assert.True(t, seg.EndTime.Equal(r.EndTime))
	assert.Equal(t, int64(42), r.Keystrokes)
}

func TestGetSegmentsFiltering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	segments := []activity.Segment{
		{SessionID: "s1", AppName: "code", Category: activity.CategoryCoding, StartTime: t1, EndTime: t1.Add(5 * time.Minute)},
		{SessionID: "s1", AppName: "code", Category: activity.CategoryMusic, StartTime: t1, EndTime: t1.Add(5 * time.Minute)},
		{SessionID: "s1", AppName: "firefox", Category: activity.CategoryBrowsing, StartTime: t1.Add(5 * time.Minute), EndTime: t1.Add(8 * time.Minute)},
		{SessionID: "s2", AppName: "steam", Category: activity.CategoryGames, StartTime: t1.Add(30 * time.Minute), EndTime: t1.Add(40 * time.Minute)},
	}
	require.NoError(t, store.SaveSegments(ctx, segments))

	got, err := store.GetSegments(ctx, t1.Add(2*time.Minute), t1.Add(6*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3, "segments overlapping the window are included")
	assert.Equal(t, activity.CategoryCoding, got[0].Category)
	assert.Equal(t, activity.CategoryMusic, got[1].Category)
	assert.Equal(t, "firefox", got[2].AppName)

	got, err = store.GetSegments(ctx, t1.Add(-time.Hour), t1.Add(time.Hour), activity.CategoryGames, activity.CategoryMusic)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, activity.CategoryMusic, got[0].Category)
	assert.Equal(t, "s2", got[1].SessionID)

	got, err = store.GetSegments(ctx, t1.Add(10*time.Hour), t1.Add(11*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 0)
}

func TestSaveNoSegments(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	assert.NoError(t, store.SaveSegments(context.Background(), nil))
}

func TestCloseDB(t *testing.T) {
	store, cleanup := setupTestDB(t)
	cleanup()

	err := store.SaveSegments(context.Background(), []activity.Segment{{
		SessionID: "s1", AppName: "code", Category: activity.CategoryCoding,
		StartTime: time.Now(), EndTime: time.Now(),
	}})
	assert.Error(t, err)
}
