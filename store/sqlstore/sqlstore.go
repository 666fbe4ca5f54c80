// Package sqlstore is the database/sql-backed implementation of
// store.Store, selecting between MySQL and SQLite drivers at Open time
// per configuration, matching the orchestrator's DB.BACKEND option.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Backend selects the SQL driver.
type Backend string

const (
	BackendMySQL  Backend = "mysql"
	BackendSQLite Backend = "sqlite"
)

// Config configures a SQLStore.
type Config struct {
	Backend Backend
	DSN     string

	// MonitorExpiration is the retention window in seconds. 0 retains
	// monitoring rows forever; a negative value disables monitoring
	// persistence entirely (Write becomes a no-op).
	MonitorExpiration int64
}

// SQLStore is the database/sql-backed monitoring store.
type SQLStore struct {
	db  *sql.DB
	cfg Config
}

// Open opens the configured backend, pings it, and bootstraps the schema.
func Open(cfg Config) (*SQLStore, error) {
	driverName, err := driverNameFor(cfg.Backend)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driverName, err)
	}

	s := &SQLStore{db: db, cfg: cfg}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func driverNameFor(b Backend) (string, error) {
	switch b {
	case BackendMySQL:
		return "mysql", nil
	case BackendSQLite, "":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("sqlstore: unknown backend %q", b)
	}
}

// bootstrap declares the schema idempotently.
func (s *SQLStore) bootstrap() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS host_monitoring (
		hid INTEGER NOT NULL,
		last_mon_time INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (hid, last_mon_time)
	)`)
	if err != nil {
		return fmt.Errorf("sqlstore: bootstrap schema: %w", err)
	}
	return nil
}

// Write persists one monitoring row. When MonitorExpiration is negative,
// persistence is disabled and Write is a no-op.
func (s *SQLStore) Write(ctx context.Context, oid int, ts int64, body string) error {
	if s.cfg.MonitorExpiration < 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"REPLACE INTO host_monitoring (hid, last_mon_time, body) VALUES (?, ?, ?)",
		oid, ts, body)
	if err != nil {
		return fmt.Errorf("sqlstore: write oid=%d ts=%d: %w", oid, ts, err)
	}
	return nil
}

// CleanExpired deletes rows older than the retention window. A no-op
// when MonitorExpiration is 0 (retain forever) or negative (persistence
// disabled, so there is nothing to expire).
func (s *SQLStore) CleanExpired(ctx context.Context, now int64) error {
	if s.cfg.MonitorExpiration <= 0 {
		return nil
	}
	cutoff := now - s.cfg.MonitorExpiration
	_, err := s.db.ExecContext(ctx, "DELETE FROM host_monitoring WHERE last_mon_time < ?", cutoff)
	if err != nil {
		return fmt.Errorf("sqlstore: clean expired: %w", err)
	}
	return nil
}

// CleanAll purges every monitoring row.
func (s *SQLStore) CleanAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM host_monitoring"); err != nil {
		return fmt.Errorf("sqlstore: clean all: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
