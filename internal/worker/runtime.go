// Package worker implements the state machine executed inside a pre-started
// process: wait for an invocation on the control channel, configure the
// process-wide environment, switch the standard streams to the client's
// descriptors, execute the hosted entry point, and publish the final status.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/jsmucr/drip/internal/log"
	"github.com/jsmucr/drip/internal/streams"
	"github.com/jsmucr/drip/internal/wire"
	"github.com/jsmucr/drip/internal/workdir"
)

// State tracks the runtime's lifecycle position.
type State string

const (
	StateIdle            State = "idle"
	StateConfiguring     State = "configuring"
	StateStreamSwitching State = "stream_switching"
	StateRunning         State = "running"
	StateFinished        State = "finished"
)

var validNext = map[State]State{
	StateIdle:            StateConfiguring,
	StateConfiguring:     StateStreamSwitching,
	StateStreamSwitching: StateRunning,
	StateRunning:         StateFinished,
}

// Ambient stream view for hosted code. The runtime re-binds these after the
// stream switch; before that they are the process defaults.
var (
	stdioMu sync.RWMutex
	curIn   io.Reader = os.Stdin
	curOut  io.Writer = os.Stdout
	curErr  io.Writer = os.Stderr
)

// Stdin returns the hosted program's current input stream.
func Stdin() io.Reader {
	stdioMu.RLock()
	defer stdioMu.RUnlock()
	return curIn
}

// Stdout returns the hosted program's current output stream.
func Stdout() io.Writer {
	stdioMu.RLock()
	defer stdioMu.RUnlock()
	return curOut
}

// Stderr returns the hosted program's current error stream.
func Stderr() io.Writer {
	stdioMu.RLock()
	defer stdioMu.RUnlock()
	return curErr
}

func setAmbient(in io.Reader, out, errw io.Writer) {
	stdioMu.Lock()
	defer stdioMu.Unlock()
	curIn, curOut, curErr = in, out, errw
}

// Options configure a Runtime.
type Options struct {
	// Registry resolves entry points; Default() when nil.
	Registry *Registry
	// IdleBudget is how long the worker may wait unclaimed. Zero or less
	// disables reaping.
	IdleBudget time.Duration
	// Exit terminates the process; os.Exit when nil. Test seam.
	Exit func(int)
	// RepointOS re-binds the process's file descriptors 0/1/2 after the
	// stream switch. Disabled in tests that run in-process.
	RepointOS bool
	// LogLevel controls the worker's private log verbosity.
	LogLevel string
}

// Runtime is one worker's lifecycle, consuming exactly one invocation.
type Runtime struct {
	dir      *workdir.Dir
	registry *Registry
	budget   time.Duration
	exit     func(int)
	repoint  bool
	logLevel string

	state  State
	logger *slog.Logger
	set    *streams.Set
}

// NewRuntime creates a runtime for the worker directory dir.
func NewRuntime(dir *workdir.Dir, opts Options) *Runtime {
	r := &Runtime{
		dir:      dir,
		registry: opts.Registry,
		budget:   opts.IdleBudget,
		exit:     opts.Exit,
		repoint:  opts.RepointOS,
		logLevel: opts.LogLevel,
		state:    StateIdle,
	}
	if r.registry == nil {
		r.registry = Default()
	}
	if r.exit == nil {
		r.exit = os.Exit
	}
	if r.logLevel == "" {
		r.logLevel = "INFO"
	}
	return r
}

// State returns the runtime's current lifecycle position.
func (r *Runtime) State() State { return r.state }

func (r *Runtime) transition(to State) error {
	if validNext[r.state] != to {
		return fmt.Errorf("invalid worker state transition %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}

// Run executes the full worker lifecycle. It blocks on the control channel
// until a client writes the invocation, then runs the hosted entry point
// and publishes the exit status. On the happy path it terminates the
// process through the runtime's own exit hook and never returns.
func (r *Runtime) Run(ctx context.Context) error {
	logFile, err := os.OpenFile(r.dir.Log(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()
	r.logger = log.New(logFile, r.logLevel).With(
		slog.String("component", "worker"),
		slog.String("worker", r.dir.Name()),
	)

	set, err := r.openSwitches()
	if err != nil {
		return r.fail(err)
	}
	r.set = set

	r.applyInit()

	reaper := NewReaper(r.dir, r.budget, r.exit, r.logger)
	reaper.Start()

	r.logger.Info("worker waiting for invocation", "idle_budget", r.budget.String())

	control, err := os.Open(r.dir.Control())
	if err != nil {
		return r.fail(fmt.Errorf("open control channel: %w", err))
	}
	inv, err := wire.ReadInvocation(control)
	_ = control.Close()
	if err != nil {
		return r.fail(err)
	}

	entry, err := r.registry.Resolve(inv.EntryPoint)
	if err != nil {
		return r.fail(err)
	}

	if err := r.transition(StateConfiguring); err != nil {
		return r.fail(err)
	}
	r.configure(inv)

	if err := r.transition(StateStreamSwitching); err != nil {
		return r.fail(err)
	}
	if err := set.FlipAll(ctx); err != nil {
		return r.fail(err)
	}
	if r.repoint {
		if err := set.Repoint(); err != nil {
			return r.fail(err)
		}
	}
	setAmbient(set.In.File(), set.Out.File(), set.Err.File())

	if err := r.transition(StateRunning); err != nil {
		return r.fail(err)
	}
	r.logger.Info("invoking entry point", "entry", inv.EntryPoint, "args", len(inv.Args))
	code := r.invoke(entry, inv.Args)

	if err := r.transition(StateFinished); err != nil {
		return r.fail(err)
	}
	if err := r.dir.WriteStatus(code); err != nil {
		r.logger.Error("status write failed", "error", err)
	}
	set.Close()
	r.exit(code)
	return nil
}

// fail handles FramingError/StartupError class failures: log to the private
// error log and terminate. The failure is not surfaced synchronously to the
// client; no status is written.
func (r *Runtime) fail(err error) error {
	r.logger.Error("worker failed before hosted execution", "error", err)
	if r.set != nil {
		r.set.Close()
	}
	r.exit(1)
	return err
}

// openSwitches binds the three channels to the private log file. Each holds
// its own handle so flips can close them independently.
func (r *Runtime) openSwitches() (*streams.Set, error) {
	inF, err := os.Open(r.dir.Log())
	if err != nil {
		return nil, fmt.Errorf("open log for input channel: %w", err)
	}
	outF, err := os.OpenFile(r.dir.Log(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = inF.Close()
		return nil, fmt.Errorf("open log for output channel: %w", err)
	}
	errF, err := os.OpenFile(r.dir.Log(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = inF.Close()
		_ = outF.Close()
		return nil, fmt.Errorf("open log for error channel: %w", err)
	}

	return &streams.Set{
		In:  streams.NewSwitch("in", inF, r.dir.In(), streams.Read),
		Out: streams.NewSwitch("out", outF, r.dir.Out(), streams.Write),
		Err: streams.NewSwitch("err", errF, r.dir.Err(), streams.Write),
	}, nil
}

// configure merges the decoded environment into the process-wide view and
// installs runtime properties, strictly before hosted code runs.
func (r *Runtime) configure(inv *wire.Invocation) {
	for k, v := range inv.Env {
		if err := os.Setenv(k, v); err != nil {
			r.logger.Warn("environment merge failed", "key", k, "error", err)
		}
	}
	setProperties(inv.Properties)
}

// applyInit runs the interpreter-specific default-initialization entry once
// per worker, before any client claim, so later claims skip first-run cost.
func (r *Runtime) applyInit() {
	blob, set := os.LookupEnv("DRIP_INIT")
	if !set {
		return
	}
	name := os.Getenv("DRIP_INIT_CLASS")
	if name == "" {
		// The spawner records the pool's entry class; warm that up when no
		// dedicated init entry is named.
		name = os.Getenv("DRIP_ENTRY_CLASS")
	}
	if name == "" {
		r.logger.Warn("DRIP_INIT set without a resolvable warmup entry, skipping")
		return
	}
	entry, err := r.registry.Resolve(name)
	if err != nil {
		r.logger.Warn("warmup entry unresolvable", "entry", name, "error", err)
		return
	}

	var args []string
	if blob != "" {
		args = strings.Split(blob, "\n")
	}
	if err := entry(args); err != nil {
		r.logger.Warn("warmup entry failed", "entry", name, "error", err)
		return
	}
	r.logger.Info("warmup entry applied", "entry", name)
}

// invoke runs the hosted entry point under the exit guard. A termination
// request is caught and treated as ordinary completion carrying the
// requested code; a hosted failure is recorded to the switched error stream
// and the finishing sequence still runs.
func (r *Runtime) invoke(entry entryFunc, args []string) (code int) {
	errw := r.set.Err.File()
	armExitGuard()
	start := time.Now()

	defer func() {
		disarmExitGuard()
		fmt.Fprintf(errw, "drip: run time %dms\n", time.Since(start).Milliseconds())
		if v := recover(); v != nil {
			if req, ok := v.(exitRequest); ok {
				r.logger.Info("hosted code requested termination", "code", req.code)
				code = req.code
				return
			}
			fmt.Fprintf(errw, "drip: entry point exited with a panic: %v\n%s", v, debug.Stack())
			r.logger.Error("hosted entry point panicked", "panic", fmt.Sprint(v))
			code = 1
		}
	}()

	if err := entry(args); err != nil {
		fmt.Fprintf(errw, "drip: entry point failed: %v\n", err)
		r.logger.Error("hosted entry point failed", "error", err)
		return 1
	}
	return 0
}
