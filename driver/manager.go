package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/stream"
)

// Manager owns the set of probe-driver subprocesses keyed by driver name.
// All drivers' stdout feeds a single shared Dispatcher, so Register
// installs a handler on every driver in one call (fan-in), matching the
// public contract's register(type, handler) semantics.
type Manager struct {
	driverDir  string
	dispatcher *stream.Dispatcher
	logger     *log.Logger

	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewManager constructs a Manager. driverDir is the prefix used to resolve
// relative executable paths. dispatcher is shared with the UDP listener
// and the orchestrator stdio reader — registering a driver-protocol
// handler here makes it visible on every channel that shares the
// dispatcher.
func NewManager(driverDir string, dispatcher *stream.Dispatcher, logger *log.Logger) *Manager {
	return &Manager{
		driverDir:  driverDir,
		dispatcher: dispatcher,
		logger:     logger,
		drivers:    make(map[string]*Driver),
	}
}

// Load installs driver state for each spec without starting processes.
// Duplicate names are rejected, matching the original driver manager's
// load_drivers behavior.
func (m *Manager) Load(specs []Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, spec := range specs {
		if _, exists := m.drivers[spec.Name]; exists {
			return fmt.Errorf("driver: duplicate driver name %q", spec.Name)
		}
		m.drivers[spec.Name] = newDriver(spec, m)
	}
	return nil
}

// Start launches every loaded driver. A missing or inaccessible
// executable is fatal at startup, per the Configuration error kind.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, d := range m.drivers {
		if err := d.start(ctx, m.driverDir); err != nil {
			return fmt.Errorf("driver: failed to start %q: %w", name, err)
		}
		m.logger.Info("driver started", map[string]any{"driver": name})
	}
	return nil
}

// Register installs handler for typ on the shared dispatcher, fanning the
// handler in across every driver's stdout.
func (m *Manager) Register(typ frame.Type, handler stream.HandlerFunc) {
	m.dispatcher.Register(typ, handler)
}

// Get returns the named driver, or false if no such driver is loaded.
func (m *Manager) Get(name string) (*Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[name]
	return d, ok
}

// WriteTo encodes and enqueues a message to the named driver. Writes are
// serialized per driver by that driver's own write loop; back-pressure
// drops the oldest non-critical frame when the queue is saturated.
// START_MONITOR and STOP_MONITOR are never dropped.
//
// TypeStartMonitor and TypeStopMonitor go out as the legacy plain-text
// MONITOR/STOPMONITOR command, not a framed line — the driver-protocol
// vocabulary real IM_MAD drivers understand never included these two
// types, only the legacy text their original dispatcher always sent.
// hostName is only used for that legacy encoding; every other type
// ignores it.
func (m *Manager) WriteTo(name string, typ frame.Type, status frame.Status, oid int, ts int64, payload []byte, hostName string) error {
	d, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("driver: no such driver %q", name)
	}

	var line []byte
	switch typ {
	case frame.TypeStartMonitor, frame.TypeStopMonitor:
		line = frame.EncodeLegacy(typ, oid, hostName, payload)
	default:
		var err error
		line, err = frame.Encode(typ, status, oid, ts, payload)
		if err != nil {
			return fmt.Errorf("driver: encode frame for %q: %w", name, err)
		}
	}
	return d.enqueue(typ, line)
}

// Broadcast encodes one frame and enqueues it to every loaded driver,
// used for the HOST_LIST bulk-refresh push: a single host-table snapshot
// fanned out to every IM_MAD so each driver's local cache stays current
// without polling.
func (m *Manager) Broadcast(typ frame.Type, status frame.Status, oid int, ts int64, payload []byte) {
	m.mu.RLock()
	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.WriteTo(name, typ, status, oid, ts, payload, ""); err != nil {
			m.logger.Warn("broadcast write failed", map[string]any{"driver": name, "type": typ, "error": err.Error()})
		}
	}
}

// List returns a point-in-time health snapshot of every loaded driver.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d.Status())
	}
	return out
}

// Stop finalizes every driver: FINALIZE, grace period, terminate.
func (m *Manager) Stop() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var wg sync.WaitGroup
	for name, d := range m.drivers {
		wg.Add(1)
		go func(name string, d *Driver) {
			defer wg.Done()
			d.finalize()
			m.logger.Info("driver stopped", map[string]any{"driver": name})
		}(name, d)
	}
	wg.Wait()
}

// restart re-launches a failed driver with exponential backoff (2s start,
// 60s cap, no jitter). Logged as a DriverUnavailable event while the
// driver remains down.
func (m *Manager) restart(d *Driver) {
	backoff := restartBackoffStart
	ctx := context.Background()
	for {
		d.mu.Lock()
		d.restarts++
		attempt := d.restarts
		d.mu.Unlock()

		m.logger.Warn("DriverUnavailable: restarting driver", map[string]any{
			"driver":  d.spec.Name,
			"attempt": attempt,
			"backoff": backoff.String(),
			"trace":   restartAttemptID(),
		})

		time.Sleep(backoff)

		newState := newDriver(d.spec, m)
		m.mu.Lock()
		m.drivers[d.spec.Name] = newState
		m.mu.Unlock()

		if err := newState.start(ctx, m.driverDir); err != nil {
			m.logger.Error("driver restart failed", map[string]any{
				"driver": d.spec.Name, "error": err.Error(),
			})
			d = newState
			backoff *= 2
			if backoff > restartBackoffCap {
				backoff = restartBackoffCap
			}
			continue
		}

		m.logger.Info("driver restarted", map[string]any{"driver": d.spec.Name, "attempt": attempt})
		return
	}
}
