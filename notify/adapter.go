// Package notify defines the downstream event-bus boundary for host
// lifecycle transitions. This is a side channel: the orchestrator is
// always notified over stdio per the HOST_STATE frame; a notify.Adapter
// additionally fans the same transition out to a cluster operator's own
// tooling. Adapters are optional and nil-safe at the call site.
package notify

import "context"

// HostStateEvent is published whenever a host's effective state changes.
type HostStateEvent struct {
	HostOID   int    `json:"host_oid"`
	HostName  string `json:"host_name"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Timestamp string `json:"timestamp"` // ISO 8601
}

// Adapter publishes host state transition events to a downstream system.
type Adapter interface {
	Publish(ctx context.Context, event *HostStateEvent) error
	Close() error
}
