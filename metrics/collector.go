// Package metrics provides daemon-lifetime metrics collection.
//
// Unlike a per-run collector, the Collector here accumulates for the
// entire process lifetime: every counter only grows, snapshotted on
// demand by the supervisor's health/diagnostics surface. It is a leaf
// package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of every counter.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Driver lifecycle
	DriversStarted int64
	DriverRestarts int64
	DriverFailures int64

	// Host monitoring
	HostsMonitored    int64
	HostsErrored      int64
	SweeperTicks      int64
	SweeperRedispatch int64

	// Protocol
	FrameDecodeErrors int64
	FrameOversized    int64
	FrameUndefined    int64

	// Store
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Dimensions (informational, set at construction)
	DBBackend string
	Instance  string
}

// Collector accumulates daemon-lifetime counters. Thread-safe via
// sync.Mutex. All increment methods are nil-receiver safe so a supervisor
// built without a metrics sink never needs a nil check at the call site.
type Collector struct {
	mu sync.Mutex

	driversStarted int64
	driverRestarts int64
	driverFailures int64

	hostsMonitored    int64
	hostsErrored      int64
	sweeperTicks      int64
	sweeperRedispatch int64

	frameDecodeErrors int64
	frameOversized    int64
	frameUndefined    int64

	storeWriteSuccess int64
	storeWriteFailure int64

	dbBackend string
	instance  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(dbBackend, instance string) *Collector {
	return &Collector{dbBackend: dbBackend, instance: instance}
}

// --- Driver lifecycle ---

// IncDriverStarted records a driver process start (initial or restart).
func (c *Collector) IncDriverStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.driversStarted++
	c.mu.Unlock()
}

// IncDriverRestart records a driver being relaunched after it exited.
func (c *Collector) IncDriverRestart() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.driverRestarts++
	c.mu.Unlock()
}

// IncDriverFailure records a driver that failed to start (e.g. missing
// executable).
func (c *Collector) IncDriverFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.driverFailures++
	c.mu.Unlock()
}

// --- Host monitoring ---

// IncHostMonitored records a successful MONITOR_HOST result.
func (c *Collector) IncHostMonitored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hostsMonitored++
	c.mu.Unlock()
}

// IncHostErrored records a failed MONITOR_HOST result.
func (c *Collector) IncHostErrored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hostsErrored++
	c.mu.Unlock()
}

// IncSweeperTick records one completed sweeper tick.
func (c *Collector) IncSweeperTick() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sweeperTicks++
	c.mu.Unlock()
}

// IncSweeperRedispatch records the sweeper re-dispatching START_MONITOR to
// a host whose probe appeared stuck in progress.
func (c *Collector) IncSweeperRedispatch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sweeperRedispatch++
	c.mu.Unlock()
}

// --- Protocol ---

// IncFrameDecodeError records a malformed frame dropped by a reader.
func (c *Collector) IncFrameDecodeError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameDecodeErrors++
	c.mu.Unlock()
}

// IncFrameOversized records a line exceeding the configured frame size cap.
func (c *Collector) IncFrameOversized() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameOversized++
	c.mu.Unlock()
}

// IncFrameUndefined records a frame of unrecognized TYPE.
func (c *Collector) IncFrameUndefined() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameUndefined++
	c.mu.Unlock()
}

// --- Store ---

// IncStoreWriteSuccess records a successful monitoring-row write.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteSuccess++
	c.mu.Unlock()
}

// IncStoreWriteFailure records a failed monitoring-row write.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of every counter.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		DriversStarted: c.driversStarted,
		DriverRestarts: c.driverRestarts,
		DriverFailures: c.driverFailures,

		HostsMonitored:    c.hostsMonitored,
		HostsErrored:      c.hostsErrored,
		SweeperTicks:      c.sweeperTicks,
		SweeperRedispatch: c.sweeperRedispatch,

		FrameDecodeErrors: c.frameDecodeErrors,
		FrameOversized:    c.frameOversized,
		FrameUndefined:    c.frameUndefined,

		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,

		DBBackend: c.dbBackend,
		Instance:  c.instance,
	}
}
