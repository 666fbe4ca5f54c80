// Package monitor implements the host lifecycle state machine and the
// sweeper that drives it: deciding which hosts are due for a probe,
// dispatching START_MONITOR to the right driver, and folding probe
// results back into the host table.
package monitor

import (
	"context"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/hostpool"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/notify"
	"github.com/onecloudio/onemonitord/types"
)

// StateMachine applies lifecycle transitions to hosts in a Pool, emitting
// a HOST_STATE frame to the orchestrator and, optionally, a notify.Adapter
// event whenever a host's *effective* state changes — MONITORING_* is a
// transient annotation on the base state, never worth a notification on
// its own.
type StateMachine struct {
	pool     *hostpool.Pool
	orch     OrchestratorLink
	drivers  DriverLink
	store    storeWriter
	notifier notify.Adapter
	logger   *log.Logger
	nowFunc  func() int64
}

// storeWriter is the narrow slice of store.Store the state machine needs:
// persisting a successful probe's monitoring row and the zero-capacity row
// written for an OFFLINE host.
// Declared locally (rather than importing store.Store directly) keeps
// this package's dependency surface to what it actually calls.
type storeWriter interface {
	Write(ctx context.Context, oid int, ts int64, body string) error
}

// NewStateMachine constructs a StateMachine. notifier may be nil; a nil
// notifier is simply skipped on every transition.
func NewStateMachine(pool *hostpool.Pool, orch OrchestratorLink, drivers DriverLink, st storeWriter, notifier notify.Adapter, logger *log.Logger, nowFunc func() int64) *StateMachine {
	return &StateMachine{
		pool:     pool,
		orch:     orch,
		drivers:  drivers,
		store:    st,
		notifier: notifier,
		logger:   logger,
		nowFunc:  nowFunc,
	}
}

// StartMonitor transitions host oid into its MONITORING_<current> variant
// and dispatches START_MONITOR to the IM_MAD driver named by host.IMMad.
// updateRemotes is carried in the payload as OpenNebula's boolean literal
// ("0"/"1"), telling the driver whether to also refresh remote hypervisor
// configuration as part of this probe.
func (sm *StateMachine) StartMonitor(ctx context.Context, oid int, updateRemotes bool) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	if host.State.Effective() == types.StateOffline {
		lease.Release()
		return nil
	}
	from := host.State.Effective()
	host.SetState(host.State.Effective().AsMonitoring())
	host.MonitorInProgress = true
	name, ts := host.Name, host.LastMonitored
	imMad := host.IMMad
	to := host.State.Effective()
	lease.Release()

	payload := []byte("0")
	if updateRemotes {
		payload = []byte("1")
	}
	if err := sm.drivers.WriteTo(imMad, frame.TypeStartMonitor, frame.StatusNone, oid, ts, payload, name); err != nil {
		return err
	}
	sm.emitIfChanged(ctx, oid, name, from, to)
	return nil
}

// ProbeResult folds a completed probe back into the host record: SUCCESS
// moves the host to MONITORED, records the probe's timestamp as the new
// LastMonitored, and persists body as the monitoring row for (oid, ts);
// FAILURE moves it to ERROR, records the driver's error message on the
// log, and writes no row. A not-present oid is dropped silently — the
// driver path must tolerate a host having been deleted out from under an
// in-flight probe.
//
// A host that has since gone OFFLINE drops the reply entirely: no row, no
// state change, not even MonitorInProgress clearing — OFFLINE means the
// monitor neither initiates probes nor accepts measurements, and an
// in-flight reply racing an UPDATE_HOST(state=OFFLINE) is exactly the case
// that guard exists for. A reply whose ts is older than the host's current
// LastMonitored is also dropped: last_monitored only moves forward, and a
// stuck-probe re-dispatch can leave two outstanding replies in flight where
// only the newer one should be allowed to land.
func (sm *StateMachine) ProbeResult(ctx context.Context, oid int, success bool, ts int64, body, errMessage string) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	if host.State.Effective() == types.StateOffline {
		lease.Release()
		return nil
	}
	if ts < host.LastMonitored {
		lease.Release()
		return nil
	}
	from := host.State.Effective()
	host.MonitorInProgress = false
	if success {
		host.SetState(types.StateMonitored)
		host.LastMonitored = ts
	} else {
		host.SetState(types.StateError)
		if sm.logger != nil {
			sm.logger.Warn("probe reported failure", map[string]any{
				"host": host.Name, "oid": oid, "error": errMessage,
			})
		}
	}
	name := host.Name
	to := host.State.Effective()
	lease.Release()

	if success && sm.store != nil {
		if err := sm.store.Write(ctx, oid, ts, body); err != nil && sm.logger != nil {
			sm.logger.Warn("failed to persist monitoring row", map[string]any{"oid": oid, "error": err.Error()})
		}
	}

	sm.emitIfChanged(ctx, oid, name, from, to)
	return nil
}

// Enable moves a DISABLED host back into monitoring rotation: it
// transitions to INIT and issues an immediate START_MONITOR with
// updateRemotes set, matching the original daemon's behavior of
// refreshing remote configuration the first time a host is re-enabled.
func (sm *StateMachine) Enable(ctx context.Context, oid int) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	if host.State.Effective() != types.StateDisabled {
		lease.Release()
		return nil
	}
	from := host.State.Effective()
	host.SetState(types.StateInit)
	name := host.Name
	to := host.State.Effective()
	lease.Release()

	sm.emitIfChanged(ctx, oid, name, from, to)
	return sm.StartMonitor(ctx, oid, true)
}

// Disable moves a host out of monitoring rotation. Valid from INIT,
// MONITORED, or ERROR (including their MONITORING_* variants); a no-op
// from DISABLED or OFFLINE.
func (sm *StateMachine) Disable(ctx context.Context, oid int) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	switch host.State.Effective() {
	case types.StateDisabled, types.StateOffline:
		lease.Release()
		return nil
	}
	from := host.State.Effective()
	host.SetState(types.StateDisabled)
	host.MonitorInProgress = false
	name := host.Name
	to := host.State.Effective()
	lease.Release()

	sm.emitIfChanged(ctx, oid, name, from, to)
	return nil
}

// Offline marks a host OFFLINE unconditionally, zeroing its capacity
// snapshot and writing a zero-capacity row to the monitoring store so
// downstream consumers see the host drop out rather than keep stale
// figures.
func (sm *StateMachine) Offline(ctx context.Context, oid int) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	from := host.State.Effective()
	host.SetState(types.StateOffline)
	host.MonitorInProgress = false
	host.Capacity = types.Capacity{}
	host.LastMonitored = sm.nowFunc()
	name, ts := host.Name, host.LastMonitored
	to := host.State.Effective()
	lease.Release()

	if sm.store != nil {
		if err := sm.store.Write(ctx, oid, ts, offlineBody); err != nil && sm.logger != nil {
			sm.logger.Warn("failed to persist OFFLINE row", map[string]any{"oid": oid, "error": err.Error()})
		}
	}

	sm.emitIfChanged(ctx, oid, name, from, to)
	return nil
}

// offlineBody is the zero-capacity measurement document written when a
// host goes OFFLINE.
const offlineBody = "STATE=OFFLINE"

// RecordOffline writes a fresh zero-capacity row and advances
// LastMonitored for a host that is already OFFLINE. The sweeper calls
// this once per tick for every OFFLINE host still in rotation, per the
// requirement that an offline host keep producing a monitoring row even
// though no probe is ever dispatched for it. A no-op if oid is absent or
// has since left the OFFLINE state.
func (sm *StateMachine) RecordOffline(ctx context.Context, oid int) error {
	lease, ok := sm.pool.GetExclusive(oid)
	if !ok {
		return nil
	}
	host := lease.Host()
	if host.State.Effective() != types.StateOffline {
		lease.Release()
		return nil
	}
	host.LastMonitored = sm.nowFunc()
	ts := host.LastMonitored
	lease.Release()

	if sm.store == nil {
		return nil
	}
	return sm.store.Write(ctx, oid, ts, offlineBody)
}

// emitIfChanged sends a HOST_STATE frame and, if a notifier is
// configured, a HostStateEvent — but only when from != to, so a
// MONITORING_X -> X collapse within the same effective state never
// produces a redundant notification.
func (sm *StateMachine) emitIfChanged(ctx context.Context, oid int, name string, from, to types.State) {
	if from == to {
		return
	}
	ts := sm.nowFunc()

	if sm.orch != nil {
		if err := sm.orch.Send(frame.TypeHostState, frame.StatusNone, oid, ts, []byte(to)); err != nil && sm.logger != nil {
			sm.logger.Warn("failed to send HOST_STATE", map[string]any{"oid": oid, "error": err.Error()})
		}
	}

	if sm.notifier == nil {
		return
	}
	event := &notify.HostStateEvent{
		HostOID:   oid,
		HostName:  name,
		FromState: string(from),
		ToState:   string(to),
		Timestamp: formatTimestamp(ts),
	}
	if err := sm.notifier.Publish(ctx, event); err != nil && sm.logger != nil {
		sm.logger.Warn("failed to publish host state event", map[string]any{"oid": oid, "error": err.Error()})
	}
}
