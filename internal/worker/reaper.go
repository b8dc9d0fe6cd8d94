package worker

import (
	"log/slog"
	"time"

	"github.com/jsmucr/drip/internal/workdir"
)

// Reaper retires a worker that nobody claims within the idle budget. The
// budget is wall clock from worker start and is never renewed by activity.
//
// Firing attempts the same lock primitive a real claim uses, so "claimed"
// and "reaped" are mutually exclusive outcomes: winning the lock means no
// client can ever claim this worker, and the reaper terminates the process
// directly. Losing means a client got there first and the worker proceeds
// normally.
type Reaper struct {
	dir    *workdir.Dir
	budget time.Duration
	exit   func(int)
	logger *slog.Logger
	done   chan bool
}

// NewReaper creates a reaper for dir. A budget of zero or less disables
// reaping entirely.
func NewReaper(dir *workdir.Dir, budget time.Duration, exit func(int), logger *slog.Logger) *Reaper {
	return &Reaper{
		dir:    dir,
		budget: budget,
		exit:   exit,
		logger: logger,
		done:   make(chan bool, 1),
	}
}

// Start launches the timer goroutine. It never prevents the process from
// exiting on its own.
func (r *Reaper) Start() {
	if r.budget <= 0 {
		return
	}
	go r.run()
}

func (r *Reaper) run() {
	timer := time.NewTimer(r.budget)
	defer timer.Stop()
	<-timer.C

	won, err := r.dir.TryLock()
	if err != nil {
		r.logger.Error("reaper lock attempt failed", "error", err)
		r.done <- false
		return
	}
	if !won {
		// A client already claimed the worker; back off.
		r.done <- false
		return
	}

	r.logger.Info("idle budget expired, retiring worker", "budget", r.budget)
	// Holding the lock means no claim can race this removal; the directory
	// must be gone before the process is, or pool scans keep finding it.
	if err := r.dir.Remove(); err != nil {
		r.logger.Error("reaped directory cleanup failed", "error", err)
	}
	r.done <- true
	// No hosted code is running, so the guard's soft path is bypassed.
	r.exit(0)
}

// Outcome reports the reaper's decision once the budget expires: true when
// the worker was reaped, false when a claim won the race.
func (r *Reaper) Outcome() <-chan bool {
	return r.done
}
