package protocol

import (
	"context"
	"strings"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/monitor"
	"github.com/onecloudio/onemonitord/stream"
)

// DriverHandlers binds the driver-stdout message types (MONITOR_HOST,
// SYSTEM_HOST, MONITOR_VM, STATE_VM, LOG, UNDEFINED) to actions on the
// state machine. None of these handlers may propagate an error back to
// the reader that dispatched the frame — a malformed payload is logged
// and dropped, never a crash.
type DriverHandlers struct {
	sm     *monitor.StateMachine
	logger *log.Logger
}

// NewDriverHandlers constructs the driver-channel handler set.
func NewDriverHandlers(sm *monitor.StateMachine, logger *log.Logger) *DriverHandlers {
	return &DriverHandlers{sm: sm, logger: logger}
}

// Register installs every driver-channel handler on d. MONITOR_VM and
// STATE_VM are out of this daemon's core scope (host monitoring only) but
// must still be registered so a driver that emits them is never routed to
// the UNDEFINED handler.
func (h *DriverHandlers) Register(d *stream.Dispatcher) {
	d.Register(frame.TypeMonitorHost, h.handleMonitorHost)
	d.Register(frame.TypeSystemHost, h.handleSystemHost)
	d.Register(frame.TypeMonitorVM, h.handlePassThrough)
	d.Register(frame.TypeStateVM, h.handlePassThrough)
	d.Register(frame.TypeLog, h.handleLog)
}

// handleMonitorHost parses the capacity/datastore payload and folds it
// into the host record via the state machine's success/failure path. A
// deleted host (oid no longer present) is dropped silently by
// StateMachine.ProbeResult itself — interleaving DEL_HOST/MONITOR_HOST is
// expected, not an error.
func (h *DriverHandlers) handleMonitorHost(fr *frame.Frame) {
	success := fr.Status == frame.StatusSuccess
	body := string(fr.Payload)
	errMessage := ""
	if !success {
		errMessage = extractMessage(body)
	}
	if err := h.sm.ProbeResult(context.Background(), fr.OID, success, fr.TS, body, errMessage); err != nil && h.logger != nil {
		h.logger.Warn("MONITOR_HOST: failed to apply probe result", map[string]any{"oid": fr.OID, "error": err.Error()})
	}
}

// handleSystemHost logs receipt of system-datastore info. Folding it into
// the host template is out of this daemon's core scope; the handler still
// exists so the frame is acknowledged rather than falling through to the
// UNDEFINED handler.
func (h *DriverHandlers) handleSystemHost(fr *frame.Frame) {
	if h.logger != nil {
		h.logger.Debug("SYSTEM_HOST received", map[string]any{"oid": fr.OID})
	}
}

// handlePassThrough accepts a VM-scoped frame without acting on it —
// these are out of core scope, but receipt must never crash the reader.
func (h *DriverHandlers) handlePassThrough(fr *frame.Frame) {
	if h.logger != nil {
		h.logger.Debug("VM-scoped frame received, passed through", map[string]any{"type": fr.Type, "oid": fr.OID})
	}
}

// handleLog relays a driver's LOG frame to the log sink, mapping STATUS
// onto a severity: FAILURE logs at warn, anything else at info.
func (h *DriverHandlers) handleLog(fr *frame.Frame) {
	if h.logger == nil {
		return
	}
	fields := map[string]any{"oid": fr.OID}
	if fr.Status == frame.StatusFailure {
		h.logger.Warn(string(fr.Payload), fields)
	} else {
		h.logger.Info(string(fr.Payload), fields)
	}
}

// Undefined warns about a frame and drops it, the driver-channel fallback
// for UNDEFINED or any TYPE with no registered handler. Register does not
// install it; it fits stream.NewDispatcher's onUndefined callback.
func (h *DriverHandlers) Undefined(fr *frame.Frame) {
	if h.logger != nil {
		h.logger.Warn("UNDEFINED frame received", map[string]any{"type": fr.Type, "oid": fr.OID})
	}
}

// extractMessage pulls a MESSAGE= attribute out of a driver's key=value
// failure template, best-effort — the grammar is opaque to the core, so a
// missing attribute just yields an empty string rather than an error.
func extractMessage(body string) string {
	const key = "MESSAGE="
	idx := strings.Index(body, key)
	if idx < 0 {
		return ""
	}
	rest := body[idx+len(key):]
	if end := strings.IndexAny(rest, "\n\r"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
