package monitor

import "github.com/onecloudio/onemonitord/frame"

// OrchestratorLink sends a frame back to the orchestrator over stdio. The
// supervisor's stdio writer satisfies this; the state machine depends
// only on the narrow interface, not on a concrete transport.
type OrchestratorLink interface {
	Send(typ frame.Type, status frame.Status, oid int, ts int64, payload []byte) error
}

// DriverLink dispatches a frame to the named probe driver. driver.Manager
// satisfies this. hostName is only meaningful for TypeStartMonitor/
// TypeStopMonitor, which encode as legacy plain text naming the host.
type DriverLink interface {
	WriteTo(name string, typ frame.Type, status frame.Status, oid int, ts int64, payload []byte, hostName string) error
}
