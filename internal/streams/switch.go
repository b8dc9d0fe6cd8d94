// Package streams implements the one-shot stream switch a worker uses to
// re-point its standard streams from the private per-worker log file to the
// client's descriptors once the transport has placed them.
package streams

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrAlreadySwitched reports a second flip attempt on a switched channel.
var ErrAlreadySwitched = errors.New("stream already switched")

// pollInterval bounds the wait for the pending destination to appear.
const pollInterval = 50 * time.Millisecond

// Direction selects how the pending destination is opened.
type Direction int

const (
	// Read opens the pending destination for reading (worker input).
	Read Direction = iota
	// Write opens the pending destination for writing (worker output, error).
	Write
)

// Switch owns exactly one backing destination at a time and transitions
// Unswitched -> Switched exactly once.
type Switch struct {
	name    string
	current *os.File
	pending string
	dir     Direction
	flipped bool
}

// NewSwitch creates a channel bound to initial that will flip to the file at
// pending once it exists.
func NewSwitch(name string, initial *os.File, pending string, dir Direction) *Switch {
	return &Switch{name: name, current: initial, pending: pending, dir: dir}
}

// File returns the current backing destination.
func (s *Switch) File() *os.File { return s.current }

// Flipped reports whether the one permitted transition has happened.
func (s *Switch) Flipped() bool { return s.flipped }

// Flip waits for the pending destination to exist, closes the prior
// destination, and binds the channel to the new one. A second call fails
// with ErrAlreadySwitched and leaves the channel bound to its post-flip
// destination.
func (s *Switch) Flip(ctx context.Context) error {
	if s.flipped {
		return fmt.Errorf("%s: %w", s.name, ErrAlreadySwitched)
	}

	if err := s.await(ctx); err != nil {
		return err
	}

	if s.current != nil {
		_ = s.current.Close()
	}

	flags := os.O_RDONLY
	if s.dir == Write {
		flags = os.O_WRONLY
	}
	f, err := os.OpenFile(s.pending, flags, 0)
	if err != nil {
		return fmt.Errorf("open %s destination: %w", s.name, err)
	}

	s.current = f
	s.flipped = true
	return nil
}

// await polls at a bounded interval until the pending path exists.
func (s *Switch) await(ctx context.Context) error {
	for {
		if _, err := os.Stat(s.pending); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s destination: %w", s.name, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// Close releases the current backing destination.
func (s *Switch) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// Set groups a worker's three switchable channels.
type Set struct {
	In  *Switch
	Out *Switch
	Err *Switch
}

// FlipAll performs the three flips in fixed order: input, output, error.
func (s *Set) FlipAll(ctx context.Context) error {
	for _, sw := range []*Switch{s.In, s.Out, s.Err} {
		if err := sw.Flip(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Repoint re-binds the process's OS-level standard descriptors to the
// switched destinations, so code that bypasses the switch objects still
// observes the new destination. Must be called after FlipAll.
func (s *Set) Repoint() error {
	if err := dupTo(int(s.In.File().Fd()), 0); err != nil {
		return fmt.Errorf("repoint stdin: %w", err)
	}
	if err := dupTo(int(s.Out.File().Fd()), 1); err != nil {
		return fmt.Errorf("repoint stdout: %w", err)
	}
	if err := dupTo(int(s.Err.File().Fd()), 2); err != nil {
		return fmt.Errorf("repoint stderr: %w", err)
	}

	os.Stdin = s.In.File()
	os.Stdout = s.Out.File()
	os.Stderr = s.Err.File()
	return nil
}

// Close releases all three channels.
func (s *Set) Close() {
	_ = s.In.Close()
	_ = s.Out.Close()
	_ = s.Err.Close()
}
