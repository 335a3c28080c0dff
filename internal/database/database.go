// Package database provides the relational store for facegate: tenants,
// users, API keys, share tokens, abuse flags, and the audit trail.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// DB wraps the sql connection together with driver-specific behavior.
type DB struct {
	db       *sql.DB
	postgres bool
}

// Config contains the database configuration.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// Path is the SQLite database file path.
	Path string
	// URL is the Postgres DSN.
	URL string
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int
	// MaxIdleConns bounds idle connections.
	MaxIdleConns int
	// ConnMaxLifetime bounds connection reuse.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default sqlite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		Path:            "data/facegate.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// NewSQLite opens (and initializes) a sqlite-backed store.
func NewSQLite(config Config) (*DB, error) {
	if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.Path+"?_journal=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory sqlite databases are per-connection; a single connection
	// keeps schema and data visible across queries.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// q rewrites '?' placeholders to the $n form when running on Postgres.
func (d *DB) q(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ensureDirExists(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s exists and is not a directory", dir)
	}
	return nil
}

// initSchema creates tables and indexes if they don't exist. The DDL below
// sticks to the SQL subset both supported drivers accept.
func (d *DB) initSchema() error {
	_, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plan_code TEXT NOT NULL,
		status TEXT NOT NULL,
		trial_ends_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		external_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		system_role TEXT NOT NULL DEFAULT 'normal',
		is_suspended BOOLEAN NOT NULL DEFAULT FALSE,
		suspended_reason TEXT,
		suspended_at TIMESTAMP,
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		banned_reason TEXT,
		banned_at TIMESTAMP,
		signup_ip TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_users_signup_ip ON users(signup_ip, created_at);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		key_prefix TEXT NOT NULL,
		lookup_key TEXT NOT NULL UNIQUE,
		storage_hash TEXT NOT NULL,
		encrypted_key TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP,
		revoked_at TIMESTAMP,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_tenant_id ON api_keys(tenant_id);

	CREATE TABLE IF NOT EXISTS share_tokens (
		digest TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		result_type TEXT NOT NULL,
		issued_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TIMESTAMP,
		revoked_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS abuse_flags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tenant_id TEXT,
		reason TEXT NOT NULL,
		severity TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_abuse_flags_user_reason ON abuse_flags(user_id, reason, created_at);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		tenant_id TEXT,
		user_id TEXT,
		client_ip TEXT,
		method TEXT,
		path TEXT,
		status INTEGER,
		user_agent TEXT,
		outcome TEXT NOT NULL,
		detail TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_status ON audit_events(user_id, status, timestamp);
	`)
	return err
}
