// Package pool implements the client side of the worker pool: computing
// pool keys, claiming idle workers, topping the pool up to its target size,
// and falling back to direct execution on a miss.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jsmucr/drip/internal/history"
	"github.com/jsmucr/drip/internal/log"
	"github.com/jsmucr/drip/internal/transport"
	"github.com/jsmucr/drip/internal/wire"
	"github.com/jsmucr/drip/internal/workdir"
	"github.com/jsmucr/drip/internal/worker"
)

// Options configure a Manager.
type Options struct {
	// Root is the pool root directory.
	Root string
	// Target is the idle pool size maintained per key.
	Target int
	// WorkerExe is the binary spawned as a worker; defaults to the
	// current executable.
	WorkerExe string
	// Registry backs direct-execution fallback; Default() when nil.
	Registry *worker.Registry
	// Ledger records invocations when non-nil.
	Ledger *history.Store

	// Spawn overrides worker process creation. Test seam.
	Spawn func(d *workdir.Dir, spec KeySpec) (pid int, err error)
	// Probe overrides process liveness checks. Test seam.
	Probe func(pid int) bool
}

// Manager allocates workers for one client process. Cross-client safety
// comes entirely from the directory-lock primitive, not from anything in
// here.
type Manager struct {
	root     string
	target   int
	exe      string
	registry *worker.Registry
	ledger   *history.Store
	clientID string
	logger   *slog.Logger

	spawn func(d *workdir.Dir, spec KeySpec) (int, error)
	probe func(pid int) bool
	seq   atomic.Uint64
}

// Result describes one completed invocation.
type Result struct {
	Code   int
	Mode   string // history.ModePooled or history.ModeDirect
	Worker string // worker directory name, empty for direct
}

// New creates a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("pool root is empty")
	}
	m := &Manager{
		root:     opts.Root,
		target:   opts.Target,
		exe:      opts.WorkerExe,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		clientID: fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString()),
		logger:   log.WithComponent("pool"),
		spawn:    opts.Spawn,
		probe:    opts.Probe,
	}
	if m.target <= 0 {
		m.target = 2
	}
	if m.registry == nil {
		m.registry = worker.Default()
	}
	if m.exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		m.exe = exe
	}
	if m.spawn == nil {
		m.spawn = m.spawnProcess
	}
	if m.probe == nil {
		m.probe = ProbeAlive
	}
	return m, nil
}

// PoolDir returns the directory holding one key's workers.
func (m *Manager) PoolDir(key string) string {
	return filepath.Join(m.root, key)
}

// Claim scans the pool under key for a claimable idle worker. It returns
// the claimed directory (nil on a miss) and the number of idle workers left
// behind. A lost lock means another party owns that worker; the loser never
// retries the same directory. A won lock over a dead process discards the
// directory and scanning continues.
func (m *Manager) Claim(key string) (*workdir.Dir, int, error) {
	dirs, err := workdir.List(m.PoolDir(key))
	if err != nil {
		return nil, 0, err
	}

	var claimed *workdir.Dir
	idle := 0
	for _, d := range dirs {
		if claimed != nil {
			if !d.Locked() {
				idle++
			}
			continue
		}

		won, err := d.TryLock()
		if err != nil {
			m.logger.Warn("lock attempt failed", "worker", d.Name(), "error", err)
			continue
		}
		if !won {
			continue
		}

		pid, pidErr := d.PID()
		if pidErr != nil || !m.probe(pid) {
			m.logger.Info("discarding dead worker", "worker", d.Name())
			_ = d.Remove()
			continue
		}

		if err := d.WriteClient(m.clientID); err != nil {
			m.logger.Warn("claim marker write failed", "worker", d.Name(), "error", err)
		}
		claimed = d
	}
	return claimed, idle, nil
}

// TopUp spawns workers until the idle capacity under key reaches the
// configured target.
func (m *Manager) TopUp(key string, spec KeySpec, idle int) error {
	for i := idle; i < m.target; i++ {
		if err := m.spawnWorker(key, spec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) spawnWorker(key string, spec KeySpec) error {
	name := fmt.Sprintf("%d-%d", os.Getpid(), m.seq.Add(1))
	d, err := workdir.Create(m.PoolDir(key), name)
	if err != nil {
		return err
	}
	if err := d.MakeControlFIFO(); err != nil {
		_ = d.Remove()
		return err
	}

	pid, err := m.spawn(d, spec)
	if err != nil {
		_ = d.Remove()
		return fmt.Errorf("spawn worker: %w", err)
	}
	if err := d.WritePID(pid); err != nil {
		_ = d.Remove()
		return err
	}

	m.logger.Info("spawned worker", "worker", d.Name(), "pid", pid)
	return nil
}

// spawnProcess starts `<exe> worker --dir <d>` detached, with its stdio on
// the private log file and the init/idle-budget environment passed through.
func (m *Manager) spawnProcess(d *workdir.Dir, spec KeySpec) (int, error) {
	logFile, err := os.OpenFile(d.Log(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer logFile.Close()

	args := append([]string{"worker", "--dir", d.Root}, spec.RuntimeFlags...)
	cmd := exec.Command(m.exe, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(),
		"DRIP_CLASSPATH="+spec.Classpath,
		"DRIP_ENTRY_CLASS="+spec.EntryClass,
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The worker outlives this client; don't hold the process handle.
	if err := cmd.Process.Release(); err != nil {
		m.logger.Warn("process release failed", "pid", pid, "error", err)
	}
	return pid, nil
}

// Run executes one invocation: claim a worker and dispatch to it, or fall
// back to direct execution in this process when the pool is empty. Either
// way the pool is topped back up toward its target.
func (m *Manager) Run(ctx context.Context, spec KeySpec, inv *wire.Invocation) (*Result, error) {
	key := spec.Key()
	poolLog := m.logger.With("pool", key)

	claimed, idle, err := m.Claim(key)
	if err != nil {
		return nil, err
	}
	if err := m.TopUp(key, spec, idle); err != nil {
		poolLog.Warn("pool top-up failed", "error", err)
	}

	started := time.Now()
	if claimed == nil {
		poolLog.Info("no idle worker, running direct", "entry", inv.EntryPoint)
		code, err := worker.RunDirect(m.registry, inv)
		if err != nil {
			return nil, err
		}
		res := &Result{Code: code, Mode: history.ModeDirect}
		m.record(ctx, key, res, inv, started, nil)
		return res, nil
	}

	poolLog.Info("claimed worker", "worker", claimed.Name(), "entry", inv.EntryPoint)
	code, err := m.dispatch(ctx, claimed, inv)
	if err != nil {
		errMsg := err.Error()
		m.record(ctx, key, &Result{Code: -1, Mode: history.ModePooled, Worker: claimed.Name()}, inv, started, &errMsg)
		_ = claimed.Remove()
		return nil, err
	}

	res := &Result{Code: code, Mode: history.ModePooled, Worker: claimed.Name()}
	m.record(ctx, key, res, inv, started, nil)

	// The worker's useful life is over; whoever read the status deletes.
	if err := claimed.Remove(); err != nil {
		poolLog.Warn("worker directory cleanup failed", "worker", claimed.Name(), "error", err)
	}
	return res, nil
}

// dispatch writes the one-shot invocation into the claimed worker's control
// channel, hands over stdio, and waits for the final status.
func (m *Manager) dispatch(ctx context.Context, d *workdir.Dir, inv *wire.Invocation) (int, error) {
	fwd, err := transport.Attach(d)
	if err != nil {
		return 0, err
	}
	if pid, pidErr := d.PID(); pidErr == nil {
		fwd.Alive = func() bool { return m.probe(pid) }
	}

	control, err := os.OpenFile(d.Control(), os.O_WRONLY, 0)
	if err != nil {
		fwd.Close()
		return 0, fmt.Errorf("open control channel: %w", err)
	}
	if err := wire.WriteInvocation(control, inv); err != nil {
		_ = control.Close()
		fwd.Close()
		return 0, fmt.Errorf("write invocation: %w", err)
	}
	if err := control.Close(); err != nil {
		fwd.Close()
		return 0, fmt.Errorf("close control channel: %w", err)
	}

	code, err := fwd.WaitStatus(ctx)
	if err != nil {
		fwd.Close()
		return 0, err
	}
	return code, nil
}

func (m *Manager) record(ctx context.Context, key string, res *Result, inv *wire.Invocation, started time.Time, lastError *string) {
	if m.ledger == nil {
		return
	}
	_, err := m.ledger.Append(ctx, history.Record{
		PoolKey:     key,
		Worker:      res.Worker,
		EntryPoint:  inv.EntryPoint,
		Args:        inv.Args,
		Mode:        res.Mode,
		ExitCode:    res.Code,
		LastError:   lastError,
		CreatedAt:   started,
		CompletedAt: time.Now(),
	})
	if err != nil {
		m.logger.Warn("history append failed", "error", err)
	}
}
