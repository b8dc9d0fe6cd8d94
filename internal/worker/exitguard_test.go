package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsmucr/drip/internal/wire"
)

func TestExitWhileGuardedRaisesSentinel(t *testing.T) {
	armExitGuard()
	defer disarmExitGuard()

	defer func() {
		v := recover()
		require.NotNil(t, v, "guarded Exit must raise the sentinel")
		req, ok := v.(exitRequest)
		require.True(t, ok, "want exitRequest sentinel, got %T", v)
		assert.Equal(t, 5, req.code)
	}()

	Exit(5)
	t.Fatal("Exit returned")
}

func TestGuardDisarmedAfterInvoke(t *testing.T) {
	reg := NewRegistry()
	reg.Register("pkg.Nop", func(args []string) error { return nil })

	d := setupWorkerDir(t, &wire.Invocation{EntryPoint: "pkg.Nop"})
	rec := &exitRecorder{}
	require.NoError(t, runtimeFor(d, reg, rec).Run(context.Background()))

	assert.False(t, guardArmed.Load(), "guard must be disarmed once hosted execution ends")
}
