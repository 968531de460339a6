package metering

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T, now func() time.Time) *Recorder {
	t.Helper()
	rec, err := Open(filepath.Join(t.TempDir(), "metering.db"), WithClock(now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func TestIdentifyIsStablePerLocation(t *testing.T) {
	rec := openTestRecorder(t, time.Now)
	ctx := context.Background()

	first, err := rec.Identify(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, "user:1", first)

	again, err := rec.Identify(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, first, again)

	other, err := rec.Identify(ctx, "198.51.100.2")
	require.NoError(t, err)
	require.Equal(t, "user:2", other)

	_, err = rec.Identify(ctx, " ")
	require.ErrorIs(t, err, ErrLocationRequired)
}

func TestRecordQueryCounters(t *testing.T) {
	day := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	now := day
	rec := openTestRecorder(t, func() time.Time { return now })
	ctx := context.Background()

	user, err := rec.Identify(ctx, "203.0.113.7")
	require.NoError(t, err)
	require.NoError(t, rec.RecordQuery(ctx, user))
	require.NoError(t, rec.RecordQuery(ctx, user))

	now = day.Add(2 * time.Hour)
	require.NoError(t, rec.RecordQuery(ctx, user))

	stats, err := rec.Stats(ctx, user)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.Queries)
	require.Equal(t, uint64(1), stats.Today)
	require.NotNil(t, stats.LastQueryAt)
	require.True(t, stats.LastQueryAt.Equal(now))
	require.True(t, stats.CreatedAt.Equal(day))

	total, err := rec.TotalQueries(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), total)
}

func TestRecordQueryUnknownUser(t *testing.T) {
	rec := openTestRecorder(t, time.Now)
	require.ErrorIs(t, rec.RecordQuery(context.Background(), "user:42"), ErrUnknownUser)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, rec.RecordQuery(ctx, "user:1"), context.Canceled)
}

func TestReopenKeepsCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metering.db")
	rec, err := Open(path)
	require.NoError(t, err)
	user, err := rec.Identify(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	require.NoError(t, rec.RecordQuery(context.Background(), user))
	require.NoError(t, rec.Close())

	rec, err = Open(path)
	require.NoError(t, err)
	defer rec.Close()
	total, err := rec.TotalQueries(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
}
