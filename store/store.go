// Package store defines the monitoring-row persistence boundary. The
// concrete SQL-backed implementation lives in store/sqlstore; this
// package only declares the interface so the sweeper and protocol
// handlers can depend on behavior, not a database driver.
package store

import "context"

// Store is the monitoring-row write path used by the sweeper and the
// driver-facing protocol handlers.
type Store interface {
	// Write persists one (host, timestamp, body) row, replacing any
	// existing row with the same primary key. When retention is
	// disabled (see MonitorExpiration in sqlstore.Config) Write is a
	// no-op that returns nil.
	Write(ctx context.Context, oid int, ts int64, body string) error

	// CleanExpired deletes rows older than the configured retention
	// window, measured from now. A no-op when retention is set to
	// retain rows forever.
	CleanExpired(ctx context.Context, now int64) error

	// CleanAll purges every monitoring row. Administrative use only.
	CleanAll(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
