// Package transport physically hands the client's terminal streams to a
// claimed worker. It places the in/out/err pipes inside the worker
// directory -- their appearance is the readiness signal the worker's stream
// switch polls for -- pumps bytes between them and the client's stdio, and
// reads back the final numeric status.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jsmucr/drip/internal/log"
	"github.com/jsmucr/drip/internal/workdir"
)

// statusPollInterval bounds the wait for the worker's status write.
const statusPollInterval = 50 * time.Millisecond

// Forwarder pumps one client's stdio to and from a claimed worker.
type Forwarder struct {
	dir    *workdir.Dir
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	// Alive reports whether the worker process still exists. When set,
	// WaitStatus fails fast on a worker that died before publishing a
	// status instead of polling until the context expires.
	Alive func() bool

	inDone  chan struct{}
	outDone chan struct{}
}

// Attach wires the calling process's terminal streams to the worker in dir.
func Attach(dir *workdir.Dir) (*Forwarder, error) {
	return AttachStreams(dir, os.Stdin, os.Stdout, os.Stderr)
}

// AttachStreams is Attach with explicit streams.
func AttachStreams(dir *workdir.Dir, stdin io.Reader, stdout, stderr io.Writer) (*Forwarder, error) {
	f := &Forwarder{
		dir:     dir,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		logger:  log.WithComponent("transport"),
		inDone:  make(chan struct{}),
		outDone: make(chan struct{}),
	}

	for _, p := range []string{dir.In(), dir.Out(), dir.Err()} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			if err := workdir.MakeFIFO(p); err != nil {
				return nil, err
			}
		}
	}

	go func() {
		defer close(f.inDone)
		f.pumpIn()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.pumpOut(dir.Out(), stdout) }()
	go func() { defer wg.Done(); f.pumpOut(dir.Err(), stderr) }()
	go func() { wg.Wait(); close(f.outDone) }()

	return f, nil
}

// pumpIn forwards client input to the worker. The open blocks until the
// worker flips its input channel.
func (f *Forwarder) pumpIn() {
	w, err := os.OpenFile(f.dir.In(), os.O_WRONLY, 0)
	if err != nil {
		f.logger.Debug("input pipe open failed", "error", err)
		return
	}
	defer w.Close()
	if _, err := io.Copy(w, f.stdin); err != nil {
		f.logger.Debug("input pump ended", "error", err)
	}
}

// pumpOut forwards one worker output pipe to a client stream until EOF.
func (f *Forwarder) pumpOut(path string, dst io.Writer) {
	r, err := os.Open(path)
	if err != nil {
		f.logger.Debug("output pipe open failed", "path", path, "error", err)
		return
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		f.logger.Debug("output pump ended", "path", path, "error", err)
	}
}

// WaitStatus polls the status channel until the worker publishes its final
// status, then lets the output pumps drain. A worker that never writes
// status is a liveness failure surfaced through ctx.
func (f *Forwarder) WaitStatus(ctx context.Context) (int, error) {
	for {
		code, ok, err := f.dir.ReadStatus()
		if err != nil {
			return 0, err
		}
		if ok {
			f.drain()
			return code, nil
		}
		if f.Alive != nil && !f.Alive() {
			// One last read: the worker may have published between the
			// status poll and the liveness check.
			code, ok, err := f.dir.ReadStatus()
			if err == nil && ok {
				f.drain()
				return code, nil
			}
			return 0, fmt.Errorf("worker %s exited without publishing a status", f.dir.Name())
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for worker status: %w", ctx.Err())
		case <-time.After(statusPollInterval):
		}
	}
}

// drain gives the output pumps a bounded window to flush buffered bytes
// after the status write.
func (f *Forwarder) drain() {
	select {
	case <-f.outDone:
	case <-time.After(2 * time.Second):
		f.logger.Debug("output pumps did not drain in time")
	}
}

// Close releases pumps still parked on pipe opens by opening the opposite
// end of each pipe. For error paths where no worker will ever show up on
// the other side; a completed WaitStatus needs no Close.
func (f *Forwarder) Close() {
	if r, err := openNonblock(f.dir.In(), os.O_RDONLY); err == nil {
		// Hold the reader until the input pump is past its open, or it
		// parks again the moment this end closes.
		select {
		case <-f.inDone:
		case <-time.After(time.Second):
		}
		_ = r.Close()
	}

	// A nonblocking writer open pairs with a pump's pending reader open.
	// It fails while the pump has not reached its open yet, so retry
	// briefly.
	deadline := time.Now().Add(time.Second)
	for _, p := range []string{f.dir.Out(), f.dir.Err()} {
		for {
			select {
			case <-f.outDone:
				return
			default:
			}
			if w, err := openNonblock(p, os.O_WRONLY); err == nil {
				_ = w.Close()
				break
			}
			if time.Now().After(deadline) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
