// Package doctor validates the drip configuration and the on-disk state of
// the worker pool.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jsmucr/drip/internal/config"
	"github.com/jsmucr/drip/internal/pool"
	"github.com/jsmucr/drip/internal/workdir"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor inspects a loaded config and the pool directories it points at.
type Doctor struct {
	cfg   *config.Config
	probe func(pid int) bool
}

// New creates a Doctor. probe reports process liveness; pass nil for the
// real check.
func New(cfg *config.Config, probe func(pid int) bool) *Doctor {
	if probe == nil {
		probe = pool.ProbeAlive
	}
	return &Doctor{cfg: cfg, probe: probe}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkPoolRoot(r)
	d.checkHistory(r)
	d.checkWorkers(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkPoolRoot(r *Result) {
	if d.cfg.Pool.Root == "" {
		d.addError(r, "pool", "pool.root", "pool.root is required")
		return
	}
	info, err := os.Stat(d.cfg.Pool.Root)
	if os.IsNotExist(err) {
		d.addWarning(r, "pool", "pool.root",
			fmt.Sprintf("pool root %s does not exist yet (created on first run)", d.cfg.Pool.Root))
		return
	}
	if err != nil {
		d.addError(r, "pool", "pool.root", fmt.Sprintf("cannot stat pool root: %v", err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "pool", "pool.root",
			fmt.Sprintf("pool root %s is not a directory", d.cfg.Pool.Root))
	}
}

func (d *Doctor) checkHistory(r *Result) {
	if !d.cfg.History.Enabled {
		return
	}
	if d.cfg.History.Path == "" {
		d.addError(r, "history", "history.path", "history.path is required when history is enabled")
	}
}

// checkWorkers scans every pool key directory for workers in a bad state:
// dead processes, claims that never completed, and missing control channels.
func (d *Doctor) checkWorkers(r *Result) {
	entries, err := os.ReadDir(d.cfg.Pool.Root)
	if err != nil {
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		key := e.Name()
		dirs, err := workdir.List(filepath.Join(d.cfg.Pool.Root, key))
		if err != nil {
			d.addWarning(r, "workers", key, fmt.Sprintf("cannot scan pool: %v", err))
			continue
		}
		for _, wd := range dirs {
			d.checkWorker(r, key, wd)
		}
	}
}

func (d *Doctor) checkWorker(r *Result, key string, wd *workdir.Dir) {
	field := key + "/" + wd.Name()

	pid, err := wd.PID()
	if err != nil {
		d.addWarning(r, "workers", field, "worker has no readable pid file")
	} else if !d.probe(pid) {
		d.addWarning(r, "workers", field,
			fmt.Sprintf("worker process %d is dead; run `drip pool clean`", pid))
		return
	}

	if wd.Locked() {
		if wd.Client() == "" {
			d.addWarning(r, "workers", field,
				"worker is locked but carries no client marker (interrupted claim or pending retirement)")
		}
		return
	}

	if _, err := os.Stat(wd.Control()); err != nil {
		d.addWarning(r, "workers", field, "idle worker is missing its control channel")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Pool healthy.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Pool healthy (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Pool unhealthy (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
