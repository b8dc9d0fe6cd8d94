package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	id, err := s.Append(ctx, Record{
		PoolKey:     "abc123",
		Worker:      "10-1",
		EntryPoint:  "pkg.Main",
		Args:        []string{"--flag", "value"},
		Mode:        ModePooled,
		ExitCode:    0,
		CreatedAt:   now,
		CompletedAt: now.Add(30 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "abc123", rec.PoolKey)
	assert.Equal(t, "10-1", rec.Worker)
	assert.Equal(t, "pkg.Main", rec.EntryPoint)
	assert.Equal(t, []string{"--flag", "value"}, rec.Args)
	assert.Equal(t, ModePooled, rec.Mode)
	assert.Equal(t, 0, rec.ExitCode)
	assert.Nil(t, rec.LastError)
	assert.WithinDuration(t, now, rec.CreatedAt, time.Second)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, Record{
			PoolKey:     "k",
			EntryPoint:  "pkg.Main",
			Mode:        ModeDirect,
			ExitCode:    i,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
			CompletedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].ExitCode)
	assert.Equal(t, 1, recs[1].ExitCode)
}

func TestAppendDirectRunHasNoWorker(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	errMsg := "entry point failed"
	_, err := s.Append(ctx, Record{
		PoolKey:     "k",
		EntryPoint:  "pkg.Broken",
		Mode:        ModeDirect,
		ExitCode:    1,
		LastError:   &errMsg,
		CreatedAt:   time.Now(),
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)

	recs, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Worker)
	require.NotNil(t, recs[0].LastError)
	assert.Equal(t, errMsg, *recs[0].LastError)
}

func TestAppendValidatesInput(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, Record{Mode: ModeDirect})
	assert.Error(t, err)

	_, err = s.Append(ctx, Record{PoolKey: "k", Mode: "teleported"})
	assert.Error(t, err)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestRecentDefaultLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	recs, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
