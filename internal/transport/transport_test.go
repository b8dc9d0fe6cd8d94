package transport

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsmucr/drip/internal/workdir"
)

// setupDir builds a worker directory with regular files standing in for the
// stdio pipes so the pumps see plain EOF semantics.
func setupDir(t *testing.T) *workdir.Dir {
	t.Helper()
	d, err := workdir.Create(t.TempDir(), "10-1")
	require.NoError(t, err)
	for _, p := range []string{d.In(), d.Out(), d.Err()} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	return d
}

func TestForwarderDeliversOutputAndStatus(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	require.NoError(t, os.WriteFile(d.Out(), []byte("hello from worker\n"), 0o644))
	require.NoError(t, os.WriteFile(d.Err(), []byte("diag\n"), 0o644))

	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	require.NoError(t, d.WriteStatus(3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := fwd.WaitStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hello from worker\n", stdout.String())
	assert.Equal(t, "diag\n", stderr.String())
}

func TestForwarderForwardsInput(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader("typed input\n"), &stdout, &stderr)
	require.NoError(t, err)

	require.NoError(t, d.WriteStatus(0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = fwd.WaitStatus(ctx)
	require.NoError(t, err)

	// The input pump copies into the in channel for the worker to read.
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(d.In())
		return err == nil && string(b) == "typed input\n"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestForwarderCreatesMissingPipes(t *testing.T) {
	t.Parallel()

	d, err := workdir.Create(t.TempDir(), "10-2")
	require.NoError(t, err)
	// Only out/err pre-exist; in must be created by the transport.
	require.NoError(t, os.WriteFile(d.Out(), nil, 0o644))
	require.NoError(t, os.WriteFile(d.Err(), nil, 0o644))

	var stdout, stderr bytes.Buffer
	_, err = AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	_, statErr := os.Stat(d.In())
	assert.NoError(t, statErr)
}

func TestWaitStatusHonorsContext(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = fwd.WaitStatus(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitStatusFailsFastOnDeadWorker(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)
	fwd.Alive = func() bool { return false }

	// The context is generous; the liveness check must return long before
	// it expires.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err = fwd.WaitStatus(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without publishing")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitStatusPrefersLateStatusOverDeath(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	// The worker published its status and then exited; the status wins.
	require.NoError(t, d.WriteStatus(4))
	fwd.Alive = func() bool { return false }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	code, err := fwd.WaitStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, code)
}

func TestCloseReleasesPumps(t *testing.T) {
	t.Parallel()

	// Real fifos, no worker on the other end: every pump parks on its
	// open until Close pairs with it.
	d, err := workdir.Create(t.TempDir(), "10-3")
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	fwd.Close()

	select {
	case <-fwd.outDone:
	case <-time.After(5 * time.Second):
		t.Fatal("output pumps still blocked after Close")
	}
}

func TestWaitStatusRejectsGarbage(t *testing.T) {
	t.Parallel()

	d := setupDir(t)
	var stdout, stderr bytes.Buffer
	fwd, err := AttachStreams(d, strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(d.Status(), []byte("not-a-number\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = fwd.WaitStatus(ctx)
	assert.Error(t, err)
}
