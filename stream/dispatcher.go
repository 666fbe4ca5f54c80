// Package stream turns byte streams — the orchestrator's stdin, each
// driver's stdout, and the UDP ingest socket — into decoded frames and
// dispatches them to a per-TYPE handler table. The stream reader and the
// UDP receiver share this dispatch table so protocol handlers are
// registered once regardless of which channel a frame arrived on.
package stream

import (
	"sync/atomic"

	"github.com/onecloudio/onemonitord/frame"
)

// HandlerFunc processes one decoded frame. Handlers must not block on I/O
// of their own; they may take locks on the host table. A handler that
// panics is the caller's bug, not the dispatcher's concern — dispatch does
// not recover panics.
type HandlerFunc func(*frame.Frame)

// Stats is a point-in-time snapshot of dispatcher activity, consumed by
// the metrics package.
type Stats struct {
	FramesDispatched int64
	Oversized        int64
	Malformed        int64
	Undefined        int64
}

// Dispatcher routes decoded frames to registered handlers by Type. The
// zero value is not usable; construct with NewDispatcher so OnUndefined
// always has an explicit handler (the error-callback variant: an UNDEFINED
// frame is never silently matched by a default case with no handling path).
type Dispatcher struct {
	handlers map[frame.Type]HandlerFunc

	dispatched atomic.Int64
	oversized  atomic.Int64
	malformed  atomic.Int64
	undefined  atomic.Int64
}

// NewDispatcher constructs a Dispatcher whose UNDEFINED frames (or frames
// of any TYPE with no registered handler) are routed to onUndefined.
func NewDispatcher(onUndefined HandlerFunc) *Dispatcher {
	d := &Dispatcher{handlers: make(map[frame.Type]HandlerFunc)}
	d.handlers[frame.TypeUndefined] = onUndefined
	return d
}

// Register installs a handler for typ, overwriting any previous handler
// for the same type. Registering for frame.TypeUndefined replaces the
// callback passed to NewDispatcher.
func (d *Dispatcher) Register(typ frame.Type, handler HandlerFunc) {
	d.handlers[typ] = handler
}

// Dispatch routes fr to its handler, falling back to the UNDEFINED handler
// when TYPE is unrecognized.
func (d *Dispatcher) Dispatch(fr *frame.Frame) {
	d.dispatched.Add(1)
	h, ok := d.handlers[fr.Type]
	if !ok {
		d.undefined.Add(1)
		h = d.handlers[frame.TypeUndefined]
	}
	h(fr)
}

func (d *Dispatcher) recordOversized() { d.oversized.Add(1) }
func (d *Dispatcher) recordMalformed() { d.malformed.Add(1) }

// Stats returns a point-in-time snapshot of dispatch activity.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		FramesDispatched: d.dispatched.Load(),
		Oversized:        d.oversized.Load(),
		Malformed:        d.malformed.Load(),
		Undefined:        d.undefined.Load(),
	}
}
