// Package driver manages the probe-driver subprocesses: fork/exec, pipe
// ownership, the INIT handshake, restart-with-backoff on crash, and a
// per-driver write queue with drop-oldest-non-critical backpressure.
package driver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/stream"
)

// Spec describes one configured probe driver, sourced from the IM_MAD
// configuration entries.
type Spec struct {
	Name       string
	Executable string
	Args       []string
	Threads    int
}

// Status is a read-only snapshot of one driver's health, for the
// supervisor's diagnostics and for tests.
type Status struct {
	Name         string
	Healthy      bool
	RestartCount int
	LastError    string
}

const (
	initHandshakeTimeout = 60 * time.Second
	restartBackoffStart  = 2 * time.Second
	restartBackoffCap    = 60 * time.Second
	writeQueueCapacity   = 256
	finalizeGrace        = 5 * time.Second
)

// neverDrop is the set of frame types that back-pressure must never drop,
// per the driver manager's write contract.
var neverDrop = map[frame.Type]bool{
	frame.TypeStartMonitor: true,
	frame.TypeStopMonitor:  true,
}

// writeItem is one queued outbound frame.
type writeItem struct {
	typ  frame.Type
	line []byte
}

// Driver is one managed probe-driver subprocess.
type Driver struct {
	spec Spec
	mgr  *Manager

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	healthy  bool
	restarts int
	lastErr  string

	queue   chan writeItem
	stop    chan struct{}
	stopped chan struct{}
}

func newDriver(spec Spec, mgr *Manager) *Driver {
	return &Driver{
		spec:    spec,
		mgr:     mgr,
		queue:   make(chan writeItem, writeQueueCapacity),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (d *Driver) resolvedPath(driverDir string) string {
	if filepath.IsAbs(d.spec.Executable) {
		return d.spec.Executable
	}
	return filepath.Join(driverDir, d.spec.Executable)
}

// start forks the child, wires pipes, performs the INIT handshake by
// reading stdout directly (before any dispatcher is involved), then hands
// the same buffered reader to a stream.Reader for ongoing traffic.
func (d *Driver) start(ctx context.Context, driverDir string) error {
	path := d.resolvedPath(driverDir)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("driver %s: executable %s not accessible: %w", d.spec.Name, path, err)
	}

	cmd := exec.CommandContext(ctx, path, d.spec.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("driver %s: stdin pipe: %w", d.spec.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("driver %s: stdout pipe: %w", d.spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("driver %s: stderr pipe: %w", d.spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("driver %s: start: %w", d.spec.Name, err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = stdin
	d.mu.Unlock()

	go d.relayStderr(stderr)

	br := bufio.NewReaderSize(stdout, 4096)
	if err := d.handshake(br, stdin); err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	go d.writeLoop()
	go d.readLoop(br)

	d.mu.Lock()
	d.healthy = true
	d.mu.Unlock()
	return nil
}

// handshake sends an INIT frame directly on stdin and blocks for a
// single reply line on stdout, bypassing the write queue and the shared
// dispatcher — at this point in startup neither is wired to anything yet.
func (d *Driver) handshake(br *bufio.Reader, stdin io.Writer) error {
	line, err := frame.Encode(frame.TypeInit, frame.StatusNone, -1, 0, nil)
	if err != nil {
		return fmt.Errorf("driver %s: encode INIT: %w", d.spec.Name, err)
	}
	if _, err := stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("driver %s: send INIT: %w", d.spec.Name, err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	result := make(chan readResult, 1)
	go func() {
		reply, err := br.ReadString('\n')
		result <- readResult{line: []byte(reply), err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return fmt.Errorf("driver %s: reading INIT reply: %w", d.spec.Name, r.err)
		}
		fr, err := frame.Decode(bytesTrimNewline(r.line))
		if err != nil {
			return fmt.Errorf("driver %s: malformed INIT reply: %w", d.spec.Name, err)
		}
		if fr.Type != frame.TypeInit || fr.Status != frame.StatusSuccess {
			return fmt.Errorf("driver %s: INIT handshake reported type=%s status=%s", d.spec.Name, fr.Type, fr.Status)
		}
		return nil
	case <-time.After(initHandshakeTimeout):
		return fmt.Errorf("driver %s: INIT handshake timed out after %s", d.spec.Name, initHandshakeTimeout)
	}
}

func bytesTrimNewline(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

func (d *Driver) relayStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		d.mgr.logger.Warn("driver stderr", map[string]any{"driver": d.spec.Name, "line": sc.Text()})
	}
}

func (d *Driver) readLoop(br *bufio.Reader) {
	reader := stream.NewReader(br, d.mgr.dispatcher, d.mgr.logger, 0)
	err := reader.Run()

	d.mu.Lock()
	d.healthy = false
	if err != nil {
		d.lastErr = err.Error()
	} else {
		d.lastErr = "stdout closed"
	}
	d.mu.Unlock()

	select {
	case <-d.stop:
		close(d.stopped)
		return
	default:
	}

	d.mgr.logger.Error("driver stdout closed unexpectedly, scheduling restart", map[string]any{
		"driver": d.spec.Name,
		"error":  d.lastErr,
		"trace":  restartAttemptID(),
	})
	go d.mgr.restart(d)
}

// writeLoop serializes writes to the child's stdin from the bounded queue.
func (d *Driver) writeLoop() {
	for {
		select {
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.mu.Lock()
			stdin := d.stdin
			d.mu.Unlock()
			if stdin == nil {
				continue
			}
			if _, err := stdin.Write(append(item.line, '\n')); err != nil {
				d.mgr.logger.Warn("driver write failed", map[string]any{
					"driver": d.spec.Name, "type": item.typ, "error": err.Error(),
				})
			}
		case <-d.stop:
			return
		}
	}
}

// enqueue submits a frame line for writing, applying drop-oldest-non-critical
// backpressure when the queue is saturated.
func (d *Driver) enqueue(typ frame.Type, line []byte) error {
	item := writeItem{typ: typ, line: line}
	select {
	case d.queue <- item:
		return nil
	default:
	}

	// Queue full: make room by dropping the oldest queued item if it is
	// non-critical; a critical oldest item goes back on the queue. After
	// that a critical frame blocks until it fits, and a non-critical frame
	// that still does not fit is dropped.
	select {
	case old := <-d.queue:
		if !neverDrop[old.typ] {
			d.mgr.logger.Warn("dropping oldest non-critical frame under backpressure", map[string]any{
				"driver": d.spec.Name, "dropped_type": old.typ,
			})
		} else {
			d.queue <- old
		}
	default:
	}
	if neverDrop[typ] {
		d.queue <- item
		return nil
	}
	select {
	case d.queue <- item:
	default:
		d.mgr.logger.Warn("dropping non-critical frame, driver write queue full", map[string]any{
			"driver": d.spec.Name, "type": typ,
		})
	}
	return nil
}

// finalize sends FINALIZE, waits up to the grace period, then kills the
// child if it has not exited.
func (d *Driver) finalize() {
	line, err := frame.Encode(frame.TypeFinalize, frame.StatusNone, -1, 0, nil)
	if err == nil {
		_ = d.enqueue(frame.TypeFinalize, line)
	}

	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(finalizeGrace):
		_ = cmd.Process.Kill()
	}

	close(d.stop)
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Name:         d.spec.Name,
		Healthy:      d.healthy,
		RestartCount: d.restarts,
		LastError:    d.lastErr,
	}
}

// restartAttemptID produces a trace id for a restart's log lines, grounded
// in the fan-out operator's use of uuid for per-run identifiers.
func restartAttemptID() string { return uuid.NewString() }
