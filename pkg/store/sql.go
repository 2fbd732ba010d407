package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Dialect selects the placeholder and timestamp syntax for SQLStore
// queries.
type Dialect int

const (
	// Postgres uses $1, $2 placeholders and NOW().
	Postgres Dialect = iota
	// MySQL uses ? placeholders and NOW().
	MySQL
	// SQLite uses ? placeholders and datetime('now').
	SQLite
)

// SQLStore persists detached session snapshots in any database/sql
// compatible backend. Required schema (SQLite shown):
//
//	CREATE TABLE djhtmx_sessions (
//	    id TEXT PRIMARY KEY,
//	    data BLOB NOT NULL,
//	    expires_at TIMESTAMP NOT NULL
//	);
//	CREATE INDEX idx_djhtmx_sessions_expires ON djhtmx_sessions(expires_at);
//
// CreateTable sets this up for development.
type SQLStore struct {
	db        *sql.DB
	tableName string
	dialect   Dialect
	closed    bool
	done      chan struct{}
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName       string
	dialect         Dialect
	cleanupInterval time.Duration
}

// WithTableName sets the table name. Default: "djhtmx_sessions".
func WithTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.tableName = name }
}

// WithDialect sets the SQL dialect. Default: Postgres.
func WithDialect(d Dialect) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.dialect = d }
}

// WithSQLCleanupInterval sets how often expired rows are purged.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) { c.cleanupInterval = d }
}

// NewSQLStore creates a SQL-backed store over an existing connection pool
// and starts its cleanup loop. Closing the store does not close the pool.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName:       "djhtmx_sessions",
		dialect:         Postgres,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &SQLStore{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
		done:      make(chan struct{}),
	}
	go s.cleanupLoop(cfg.cleanupInterval)
	return s
}

func (s *SQLStore) now() string {
	if s.dialect == SQLite {
		return "datetime('now')"
	}
	return "NOW()"
}

func (s *SQLStore) ph(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Save upserts a snapshot with its expiry.
func (s *SQLStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed {
		return ErrClosed
	}

	var query string
	switch s.dialect {
	case Postgres:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, data, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				data = EXCLUDED.data,
				expires_at = EXCLUDED.expires_at
		`, s.tableName)
	case MySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, data, expires_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE
				data = VALUES(data),
				expires_at = VALUES(expires_at)
		`, s.tableName)
	case SQLite:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, data, expires_at) VALUES (?, ?, ?)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query, sessionID, data, expiresAt)
	return err
}

// Load returns a snapshot, or (nil, nil) when missing or expired.
func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = %s AND expires_at > %s`,
		s.tableName, s.ph(1), s.now())

	var data []byte
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes a session row.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed {
		return ErrClosed
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.ph(1))
	_, err := s.db.ExecContext(ctx, query, sessionID)
	return err
}

// Touch extends a session's expiry.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed {
		return ErrClosed
	}
	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s WHERE id = %s`,
		s.tableName, s.ph(1), s.ph(2))
	_, err := s.db.ExecContext(ctx, query, expiresAt, sessionID)
	return err
}

// Close stops the cleanup loop. The database pool stays open; it may be
// shared.
func (s *SQLStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// CreateTable creates the session table and its expiry index, for
// development and tests.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case Postgres:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				data BYTEA NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			)
		`, s.tableName)
	case MySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at DATETIME NOT NULL
			)
		`, s.tableName)
	case SQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at TIMESTAMP NOT NULL
			)
		`, s.tableName)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`,
		s.tableName, s.tableName)
	if s.dialect == MySQL {
		// MySQL has no IF NOT EXISTS for indexes; a duplicate is fine.
		index = fmt.Sprintf(`CREATE INDEX idx_%s_expires ON %s(expires_at)`,
			s.tableName, s.tableName)
	}
	s.db.ExecContext(ctx, index)
	return nil
}

func (s *SQLStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) cleanup() {
	if s.closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < %s`, s.tableName, s.now())
	s.db.ExecContext(ctx, query)
}
