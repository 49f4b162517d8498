// Package sqlite provides an embedded implementation of the storage
// interfaces for single-node deployments and tests. It mirrors the Postgres
// repositories in internal/repository; the two must stay behaviorally
// interchangeable.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store implements the storage interfaces over a single SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewStore opens (or creates) the SQLite database at dbPath and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection sidesteps table locking under the in-memory DSN
	// and keeps transaction semantics predictable for the batch pipeline.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
		log:    logger,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS claim_aggregates (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		report_run_id TEXT NOT NULL,
		payer TEXT NOT NULL,
		cpt_group TEXT NOT NULL DEFAULT '',
		day DATETIME NOT NULL,
		claim_count INTEGER NOT NULL DEFAULT 0,
		denied_count INTEGER NOT NULL DEFAULT 0,
		avg_decision_days REAL NOT NULL DEFAULT 0,
		allowed_amount REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_claim_aggregates_run
		ON claim_aggregates(customer_id, report_run_id);

	CREATE TABLE IF NOT EXISTS drift_signals (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		report_run_id TEXT NOT NULL,
		payer TEXT NOT NULL,
		cpt_group TEXT NOT NULL DEFAULT '',
		drift_type TEXT NOT NULL,
		baseline_value REAL NOT NULL,
		current_value REAL NOT NULL,
		delta_value REAL NOT NULL,
		severity REAL NOT NULL,
		confidence REAL NOT NULL,
		statistical_significance REAL,
		baseline_start DATETIME NOT NULL,
		baseline_end DATETIME NOT NULL,
		current_start DATETIME NOT NULL,
		current_end DATETIME NOT NULL,
		sample_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, report_run_id, payer, cpt_group, drift_type)
	);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		metric TEXT NOT NULL,
		threshold_type TEXT NOT NULL,
		threshold_value REAL NOT NULL,
		routing_channel_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS notification_channels (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		alert_rule_id TEXT NOT NULL,
		drift_event_id TEXT,
		report_run_id TEXT,
		triggered_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT NOT NULL DEFAULT '{}',
		notification_sent_at DATETIME,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_alert_event_signal_rule
		ON alert_events(drift_event_id, alert_rule_id)
		WHERE drift_event_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_alert_events_status ON alert_events(status);

	CREATE TABLE IF NOT EXISTS operator_judgments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		alert_event_id TEXT NOT NULL,
		verdict TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}
