// Package workdir manages the filesystem node that identifies one
// pre-started worker: its control and status channels, stdio destinations,
// and the lock marker that makes claiming and reaping mutually exclusive.
//
// Cross-process coordination relies on directory-creation atomicity, not on
// any in-process synchronization: os.Mkdir succeeds for exactly one caller.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	controlName = "control"
	statusName  = "status"
	inName      = "in"
	outName     = "out"
	errName     = "err"
	lockName    = "lock"
	clientName  = "client"
	pidName     = "pid"
	logName     = "log"
)

// Dir is one worker's directory.
type Dir struct {
	Root string
}

// New wraps an existing worker directory path.
func New(root string) *Dir {
	return &Dir{Root: filepath.Clean(root)}
}

// Create makes a fresh worker directory named name under parent.
func Create(parent, name string) (*Dir, error) {
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("worker directory name %q is invalid", name)
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create pool directory: %w", err)
	}
	root := filepath.Join(parent, name)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("create worker directory: %w", err)
	}
	return &Dir{Root: root}, nil
}

// List enumerates worker directories under a pool directory.
func List(parent string) ([]*Dir, error) {
	entries, err := os.ReadDir(parent)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pool directory: %w", err)
	}

	var dirs []*Dir
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, New(filepath.Join(parent, e.Name())))
		}
	}
	return dirs, nil
}

func (d *Dir) Name() string { return filepath.Base(d.Root) }

// Control is the named pipe carrying the one-shot invocation message.
func (d *Dir) Control() string { return filepath.Join(d.Root, controlName) }

// Status is the channel carrying the worker's final numeric exit status.
func (d *Dir) Status() string { return filepath.Join(d.Root, statusName) }

// In, Out and Err are the client descriptor destinations the worker's
// stream switches flip to.
func (d *Dir) In() string  { return filepath.Join(d.Root, inName) }
func (d *Dir) Out() string { return filepath.Join(d.Root, outName) }
func (d *Dir) Err() string { return filepath.Join(d.Root, errName) }

// Log is the worker's private stdio destination before the stream switch.
func (d *Dir) Log() string { return filepath.Join(d.Root, logName) }

// TryLock attempts the atomic claim primitive. It returns true when this
// caller won the lock marker, false when another party already holds it.
// Claiming and reaping both go through here, so the two outcomes are
// mutually exclusive.
func (d *Dir) TryLock() (bool, error) {
	err := os.Mkdir(filepath.Join(d.Root, lockName), 0o755)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("acquire lock marker: %w", err)
}

// Locked reports whether the lock marker exists. A racing observation is
// advisory only; TryLock is the authoritative primitive.
func (d *Dir) Locked() bool {
	_, err := os.Stat(filepath.Join(d.Root, lockName))
	return err == nil
}

// WriteClient records the claiming client's identity after a won lock.
func (d *Dir) WriteClient(id string) error {
	if err := os.WriteFile(filepath.Join(d.Root, clientName), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write claim marker: %w", err)
	}
	return nil
}

// Client returns the claiming client's identity, or "" when unclaimed.
func (d *Dir) Client() string {
	b, err := os.ReadFile(filepath.Join(d.Root, clientName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// WritePID records the worker process id, written by the spawning client.
func (d *Dir) WritePID(pid int) error {
	if err := os.WriteFile(filepath.Join(d.Root, pidName), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

// PID returns the recorded worker process id.
func (d *Dir) PID() (int, error) {
	b, err := os.ReadFile(filepath.Join(d.Root, pidName))
	if err != nil {
		return 0, fmt.Errorf("read pid: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid: %w", err)
	}
	return pid, nil
}

// WriteStatus publishes the final numeric exit status. The write goes
// through a rename so a polling reader never observes a partial value.
func (d *Dir) WriteStatus(code int) error {
	tmp := filepath.Join(d.Root, statusName+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(code)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, d.Status()); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// ReadStatus returns (code, true) once the status has been published.
func (d *Dir) ReadStatus() (int, bool, error) {
	b, err := os.ReadFile(d.Status())
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read status: %w", err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false, fmt.Errorf("parse status: %w", err)
	}
	return code, true, nil
}

// Remove destroys the directory once the worker's useful life is over.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.Root); err != nil {
		return fmt.Errorf("remove worker directory: %w", err)
	}
	return nil
}
