// Package store implements the relay's durable persistence: TradeGroups,
// their Members, and the RuntimePorts singleton, backed by an embedded
// single-writer SQLite database with write-ahead logging.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"relay/internal/relaylog"
	"relay/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_groups (
	master_account  TEXT PRIMARY KEY,
	master_settings TEXT NOT NULL,
	enabled_flag    INTEGER NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_group_members (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_group_id  TEXT NOT NULL REFERENCES trade_groups(master_account) ON DELETE CASCADE,
	slave_account   TEXT NOT NULL,
	slave_settings  TEXT NOT NULL,
	enabled_flag    INTEGER NOT NULL DEFAULT 1,
	runtime_status  INTEGER NOT NULL DEFAULT 0,
	warning_codes   TEXT NOT NULL DEFAULT '[]',
	config_version  INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE(trade_group_id, slave_account)
);

CREATE INDEX IF NOT EXISTS idx_members_slave ON trade_group_members(slave_account);
CREATE INDEX IF NOT EXISTS idx_members_group ON trade_group_members(trade_group_id);

CREATE TABLE IF NOT EXISTS runtime_ports (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	receiver_port  INTEGER NOT NULL,
	publisher_port INTEGER NOT NULL,
	generated_at   DATETIME NOT NULL
);
`

const schemaVersion = 1

// Store wraps the single-writer SQLite connection and the small retry
// policy applied to transient lock-contention errors (§7: "transient store
// errors ... retried up to a small bound").
type Store struct {
	db         *sql.DB
	retryCfg   retry.Config
	log        *relaylog.Logger
}

// Open creates (or reuses) the database file at path, applies the schema
// and pending migrations, and enables foreign-key cascades.
func Open(ctx context.Context, path string, log *relaylog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; this also pins the PRAGMA below to one connection
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	s := &Store{
		db:       db,
		retryCfg: retry.ConservativeConfig(),
		log:      log.WithComponent("store"),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}
	s.log.Info("schema migrated", relaylog.Int("version", schemaVersion))
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry retries op against transient SQLite errors (busy/locked), per
// the "transient store errors ... retried up to a small bound" policy.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(ctx, op, retry.Config{
		MaxRetries:   s.retryCfg.MaxRetries,
		InitialDelay: s.retryCfg.InitialDelay,
		MaxDelay:     s.retryCfg.MaxDelay,
		Multiplier:   s.retryCfg.Multiplier,
		JitterFactor: s.retryCfg.JitterFactor,
		RetryIf:      isTransient,
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
