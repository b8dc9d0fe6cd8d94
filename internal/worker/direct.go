package worker

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/jsmucr/drip/internal/wire"
)

// RunDirect executes a registered entry point in the calling process,
// unpooled. It applies the invocation's environment and properties the same
// way a worker would, runs under the exit guard so a termination request
// surfaces as the returned code, and reports hosted failures as code 1.
func RunDirect(reg *Registry, inv *wire.Invocation) (int, error) {
	entry, err := reg.Resolve(inv.EntryPoint)
	if err != nil {
		return 0, err
	}

	for k, v := range inv.Env {
		if err := os.Setenv(k, v); err != nil {
			return 0, fmt.Errorf("apply environment: %w", err)
		}
	}
	setProperties(inv.Properties)

	return runGuarded(entry, inv.Args), nil
}

func runGuarded(entry entryFunc, args []string) (code int) {
	armExitGuard()
	defer func() {
		disarmExitGuard()
		if v := recover(); v != nil {
			if req, ok := v.(exitRequest); ok {
				code = req.code
				return
			}
			fmt.Fprintf(os.Stderr, "drip: entry point exited with a panic: %v\n%s", v, debug.Stack())
			code = 1
		}
	}()

	if err := entry(args); err != nil {
		fmt.Fprintf(os.Stderr, "drip: entry point failed: %v\n", err)
		return 1
	}
	return 0
}
