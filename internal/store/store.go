// Package store provides SQLite-backed storage for the city economy.
// All mutating operations run inside write transactions; callers use
// WithTx so that a failed precondition rolls the whole operation back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection pool.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
// WAL mode and a busy timeout keep concurrent request transactions
// from failing fast; write transactions start immediate so two
// writers never deadlock on a lock upgrade.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for read-only queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		persona TEXT NOT NULL DEFAULT '',
		satiety INTEGER NOT NULL DEFAULT 100 CHECK (satiety BETWEEN 0 AND 100),
		mood INTEGER NOT NULL DEFAULT 100 CHECK (mood BETWEEN 0 AND 100),
		stamina INTEGER NOT NULL DEFAULT 100 CHECK (stamina BETWEEN 0 AND 100),
		status TEXT NOT NULL DEFAULT 'idle',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	);

	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL REFERENCES agents(id),
		resource_type TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		frozen REAL NOT NULL DEFAULT 0 CHECK (frozen >= 0 AND frozen <= quantity),
		UNIQUE (agent_id, resource_type)
	);

	CREATE TABLE IF NOT EXISTS buildings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		building_type TEXT NOT NULL,
		city TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		builder_id INTEGER NOT NULL,
		max_workers INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'constructing'
			CHECK (status IN ('constructing','active')),
		construction_started_at TEXT NOT NULL,
		construction_days INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS building_workers (
		building_id INTEGER NOT NULL REFERENCES buildings(id),
		agent_id INTEGER NOT NULL UNIQUE,
		assigned_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
		PRIMARY KEY (building_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS market_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id INTEGER NOT NULL,
		sell_type TEXT NOT NULL,
		sell_amount REAL NOT NULL CHECK (sell_amount > 0),
		buy_type TEXT NOT NULL,
		buy_amount REAL NOT NULL CHECK (buy_amount > 0),
		remaining_sell REAL NOT NULL CHECK (remaining_sell >= 0),
		remaining_buy REAL NOT NULL CHECK (remaining_buy >= 0),
		status TEXT NOT NULL DEFAULT 'open'
			CHECK (status IN ('open','partial','filled','cancelled')),
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	);

	CREATE TABLE IF NOT EXISTS production_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		building_id INTEGER NOT NULL,
		agent_id INTEGER NOT NULL,
		input_type TEXT NOT NULL DEFAULT '',
		input_qty REAL NOT NULL DEFAULT 0,
		output_type TEXT NOT NULL,
		output_qty REAL NOT NULL,
		tick_time TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		daily_reward INTEGER NOT NULL,
		max_workers INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS checkins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL,
		job_id INTEGER NOT NULL,
		reward INTEGER NOT NULL,
		day TEXT NOT NULL,
		checked_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
		UNIQUE (agent_id, day)
	);

	CREATE TABLE IF NOT EXISTS shop_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL DEFAULT 'generic',
		price INTEGER NOT NULL CHECK (price >= 0)
	);

	CREATE TABLE IF NOT EXISTS agent_items (
		agent_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		purchased_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
		PRIMARY KEY (agent_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS city_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_agent ON resources(agent_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON market_orders(status);
	CREATE INDEX IF NOT EXISTS idx_buildings_city ON buildings(city);
	CREATE INDEX IF NOT EXISTS idx_checkins_job_day ON checkins(job_id, day);
	CREATE INDEX IF NOT EXISTS idx_logs_building ON production_logs(building_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const (
	txRetries    = 5
	txRetryDelay = 50 * time.Millisecond
)

// WithTx runs fn inside a write transaction, committing when fn returns
// nil and rolling back otherwise. SQLITE_BUSY failures are retried a
// bounded number of times; genuine integrity violations surface to the
// caller for reclassification into the outcome taxonomy.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			if IsBusy(err) {
				lastErr = err
				time.Sleep(txRetryDelay)
				continue
			}
			return fmt.Errorf("begin tx: %w", err)
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			tx.Rollback()
		}

		if IsBusy(err) {
			lastErr = err
			time.Sleep(txRetryDelay)
			continue
		}
		return err
	}
	slog.Warn("transaction retries exhausted", "error", lastErr)
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

// GetMeta returns a city_meta value, or "" when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM city_meta WHERE key = ?", key)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetMeta stores a city_meta key-value pair.
func SetMeta(tx *sqlx.Tx, key, value string) error {
	_, err := tx.Exec(
		"INSERT OR REPLACE INTO city_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// IsBusy reports whether err is a SQLite concurrency error that
// warrants a retry (SQLITE_BUSY or "database is locked").
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "(5)")
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// IsCheckViolation reports whether err is a CHECK constraint failure,
// e.g. a balance driven negative by a concurrent debit.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "constraint failed: CHECK")
}
