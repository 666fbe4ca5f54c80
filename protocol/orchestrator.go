// Package protocol binds inbound frame types, on both the orchestrator
// stdio channel and each driver's stdout channel, to the actions the host
// table, state machine, and driver manager expose. It enforces the
// message discipline spec.md's components describe: a handler that
// cannot parse its payload logs and returns, never propagating a panic or
// error back to the reader loop that dispatched it.
package protocol

import (
	"context"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/hostpool"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/monitor"
	"github.com/onecloudio/onemonitord/stream"
)

// Broadcaster pushes one frame to every loaded driver at once, the
// HOST_LIST bulk-refresh path. driver.Manager satisfies this.
type Broadcaster interface {
	Broadcast(typ frame.Type, status frame.Status, oid int, ts int64, payload []byte)
}

// OrchestratorHandlers binds the orchestrator-stdio message types
// (UPDATE_HOST, DEL_HOST, START_MONITOR, STOP_MONITOR, INIT, FINALIZE) to
// actions on the host table, state machine, and driver manager.
type OrchestratorHandlers struct {
	pool    *hostpool.Pool
	sm      *monitor.StateMachine
	drivers monitor.DriverLink
	bcast   Broadcaster
	orch    monitor.OrchestratorLink
	logger  *log.Logger

	// onFinalize is invoked once a FINALIZE frame has been acknowledged;
	// the supervisor wires this to its shutdown trigger.
	onFinalize func()
}

// NewOrchestratorHandlers constructs the stdio handler set. onFinalize may
// be nil if the caller has nothing to do on FINALIZE beyond the required
// reply (tests, for instance).
func NewOrchestratorHandlers(pool *hostpool.Pool, sm *monitor.StateMachine, drivers monitor.DriverLink, bcast Broadcaster, orch monitor.OrchestratorLink, logger *log.Logger, onFinalize func()) *OrchestratorHandlers {
	return &OrchestratorHandlers{
		pool:       pool,
		sm:         sm,
		drivers:    drivers,
		bcast:      bcast,
		orch:       orch,
		logger:     logger,
		onFinalize: onFinalize,
	}
}

// Register installs every orchestrator-channel handler on d. HOST_LIST is
// deliberately not registered here: per the protocol, it is outbound
// only — the monitor sends it to drivers, it never receives one.
func (h *OrchestratorHandlers) Register(d *stream.Dispatcher) {
	d.Register(frame.TypeInit, h.handleInit)
	d.Register(frame.TypeFinalize, h.handleFinalize)
	d.Register(frame.TypeUpdateHost, h.handleUpdateHost)
	d.Register(frame.TypeDelHost, h.handleDelHost)
	d.Register(frame.TypeStartMonitor, h.handleStartMonitor)
	d.Register(frame.TypeStopMonitor, h.handleStopMonitor)
}

func (h *OrchestratorHandlers) handleInit(fr *frame.Frame) {
	h.reply(frame.TypeInit, frame.StatusSuccess, -1, 0, nil)
}

func (h *OrchestratorHandlers) handleFinalize(fr *frame.Frame) {
	h.reply(frame.TypeFinalize, frame.StatusSuccess, -1, 0, nil)
	if h.onFinalize != nil {
		h.onFinalize()
	}
}

// handleUpdateHost upserts a host record from the XML payload. A host
// that did not previously exist in the table is put into rotation
// immediately with a START_MONITOR, matching the "newly inserted" rule.
func (h *OrchestratorHandlers) handleUpdateHost(fr *frame.Frame) {
	existed := h.hostExists(fr.OID)

	if err := h.pool.InsertFromXML(string(fr.Payload)); err != nil {
		if h.logger != nil {
			h.logger.Warn("UPDATE_HOST: failed to parse host payload", map[string]any{
				"oid": fr.OID, "error": err.Error(),
			})
		}
		return
	}

	if !existed {
		if err := h.sm.StartMonitor(context.Background(), fr.OID, false); err != nil && h.logger != nil {
			h.logger.Warn("UPDATE_HOST: failed to start monitoring new host", map[string]any{
				"oid": fr.OID, "error": err.Error(),
			})
		}
	}
}

// handleDelHost erases the record and tells every driver to stop probing
// it. Deleting an absent oid is a no-op (Erase already tolerates that);
// STOP_MONITOR is still dispatched so a driver that somehow still has it
// queued gets the cancellation.
func (h *OrchestratorHandlers) handleDelHost(fr *frame.Frame) {
	lease, ok := h.pool.GetShared(fr.OID)
	var imMad, name string
	if ok {
		imMad = lease.Host().IMMad
		name = lease.Host().Name
		lease.Release()
	}
	h.pool.Erase(fr.OID)

	if imMad == "" {
		return
	}
	if err := h.drivers.WriteTo(imMad, frame.TypeStopMonitor, frame.StatusNone, fr.OID, 0, nil, name); err != nil && h.logger != nil {
		h.logger.Warn("DEL_HOST: failed to notify driver", map[string]any{"oid": fr.OID, "driver": imMad, "error": err.Error()})
	}
}

// handleStartMonitor dispatches a probe request for fr.OID to its
// driver. Payload carries the update_remotes boolean literal.
func (h *OrchestratorHandlers) handleStartMonitor(fr *frame.Frame) {
	updateRemotes := string(fr.Payload) == "1"
	if err := h.sm.StartMonitor(context.Background(), fr.OID, updateRemotes); err != nil && h.logger != nil {
		h.logger.Warn("START_MONITOR: failed", map[string]any{"oid": fr.OID, "error": err.Error()})
	}
}

// handleStopMonitor forwards a probe cancellation to the host's driver.
func (h *OrchestratorHandlers) handleStopMonitor(fr *frame.Frame) {
	lease, ok := h.pool.GetShared(fr.OID)
	if !ok {
		return
	}
	imMad, name := lease.Host().IMMad, lease.Host().Name
	lease.Release()
	if err := h.drivers.WriteTo(imMad, frame.TypeStopMonitor, frame.StatusNone, fr.OID, fr.TS, fr.Payload, name); err != nil && h.logger != nil {
		h.logger.Warn("STOP_MONITOR: failed to notify driver", map[string]any{"oid": fr.OID, "driver": imMad, "error": err.Error()})
	}
}

// BroadcastHostList serializes the host table and pushes it to every
// driver, the bulk-refresh path triggered on orchestrator HOST_LIST
// demand (outbound only, so there is no inbound handler for it).
func (h *OrchestratorHandlers) BroadcastHostList(ts int64) {
	body := serializeHostList(h.pool)
	h.bcast.Broadcast(frame.TypeHostList, frame.StatusNone, -1, ts, body)
}

func (h *OrchestratorHandlers) hostExists(oid int) bool {
	lease, ok := h.pool.GetShared(oid)
	if ok {
		lease.Release()
	}
	return ok
}

func (h *OrchestratorHandlers) reply(typ frame.Type, status frame.Status, oid int, ts int64, payload []byte) {
	if h.orch == nil {
		return
	}
	if err := h.orch.Send(typ, status, oid, ts, payload); err != nil && h.logger != nil {
		h.logger.Warn("failed to send reply", map[string]any{"type": typ, "error": err.Error()})
	}
}
