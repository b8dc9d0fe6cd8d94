package streams

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch(t *testing.T) (*Switch, string, string) {
	t.Helper()
	dir := t.TempDir()

	initialPath := filepath.Join(dir, "log")
	initial, err := os.Create(initialPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = initial.Close() })

	pending := filepath.Join(dir, "out")
	return NewSwitch("out", initial, pending, Write), initialPath, pending
}

func TestFlipBindsToPendingDestination(t *testing.T) {
	t.Parallel()

	sw, initialPath, pending := newTestSwitch(t)

	_, err := sw.File().WriteString("before\n")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(pending, nil, 0o644))
	require.NoError(t, sw.Flip(context.Background()))
	assert.True(t, sw.Flipped())

	_, err = sw.File().WriteString("after\n")
	require.NoError(t, err)
	require.NoError(t, sw.Close())

	before, err := os.ReadFile(initialPath)
	require.NoError(t, err)
	assert.Equal(t, "before\n", string(before))

	after, err := os.ReadFile(pending)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(after))
}

func TestSecondFlipFails(t *testing.T) {
	t.Parallel()

	sw, _, pending := newTestSwitch(t)
	require.NoError(t, os.WriteFile(pending, nil, 0o644))
	require.NoError(t, sw.Flip(context.Background()))

	bound := sw.File()
	err := sw.Flip(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadySwitched))
	// The channel stays bound to its post-flip destination.
	assert.Same(t, bound, sw.File())
	assert.True(t, sw.Flipped())
}

func TestFlipWaitsForDestination(t *testing.T) {
	t.Parallel()

	sw, _, pending := newTestSwitch(t)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = os.WriteFile(pending, nil, 0o644)
	}()

	start := time.Now()
	require.NoError(t, sw.Flip(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFlipHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	sw, _, _ := newTestSwitch(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := sw.Flip(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, sw.Flipped())
}

func TestSetFlipAllOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mk := func(name string, d Direction) *Switch {
		initial, err := os.Create(filepath.Join(dir, name+".log"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = initial.Close() })
		pending := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(pending, nil, 0o644))
		return NewSwitch(name, initial, pending, d)
	}

	set := &Set{
		In:  mk("in", Read),
		Out: mk("out", Write),
		Err: mk("err", Write),
	}
	defer set.Close()

	require.NoError(t, set.FlipAll(context.Background()))
	assert.True(t, set.In.Flipped())
	assert.True(t, set.Out.Flipped())
	assert.True(t, set.Err.Flipped())

	// All flips are spent; a second pass must fail on the first channel.
	err := set.FlipAll(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadySwitched))
}
