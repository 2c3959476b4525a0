// Package session implements the addon's encrypted local session store:
// a small per-configHash record of last-seen time and preferred languages,
// used to enrich /session-stats with "known configs" counts without ever persisting
// the caller's raw configuration token. Grounded on the teacher's
// database/connection.go + database/dialect.go: a *sql.DB wrapper plus a
// Dialect helper, generalized from the teacher's full catalog schema to
// this one table, and from a bare SQLite driver to SQLCipher so the file
// on disk is encrypted at rest.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mutecomm/go-sqlcipher"
	"go.uber.org/zap"
)

// Store wraps a *sql.DB holding one "sessions" table, dialect-aware so the
// same queries run against either SQLCipher-encrypted SQLite (the default,
// single-instance deployment) or PostgreSQL (multi-instance deployments
// that already run a shared Postgres for other services).
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// Open creates (or attaches to) the session store. When postgresDSN is
// non-empty the store targets PostgreSQL via lib/pq; otherwise it opens an
// SQLCipher-encrypted database file at <baseDir>/sessions.db, keyed by
// encryptionKey (cmd/server/main.go passes the config token secret).
func Open(baseDir, encryptionKey string, usePostgres bool, postgresDSN string, logger *zap.Logger) (*Store, error) {
	if usePostgres && postgresDSN != "" {
		db, err := sql.Open("postgres", postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("session: open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("session: ping postgres: %w", err)
		}
		s := &Store{db: db, dialect: Dialect{Type: DialectPostgres}, logger: logger}
		if err := s.migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}

	path := strings.TrimSuffix(baseDir, "/") + "/sessions.db"
	connStr := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1", path)
	if encryptionKey != "" {
		connStr += "&_pragma_key=" + encryptionKey
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlcipher: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping sqlcipher: %w", err)
	}
	s := &Store{db: db, dialect: Dialect{Type: DialectSQLite}, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
		id %s,
		config_hash TEXT NOT NULL UNIQUE,
		preferred_languages TEXT,
		created_at %s,
		last_seen_at %s
	)`, s.dialect.AutoIncrement(), s.timestampType(), s.timestampType())
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}

func (s *Store) timestampType() string {
	if s.dialect.IsPostgres() {
		return "TIMESTAMP"
	}
	return "DATETIME"
}

// Touch records that configHash was seen just now, creating the row on
// first sight and updating preferredLanguages/last_seen_at otherwise.
func (s *Store) Touch(ctx context.Context, configHash string, preferredLanguages []string) error {
	query := s.dialect.RewritePlaceholders(fmt.Sprintf(
		`INSERT INTO sessions (config_hash, preferred_languages, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?)
		 %s`, s.dialect.UpsertClause()))
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query, configHash, strings.Join(preferredLanguages, ","), now, now)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// KnownConfigCount returns how many distinct configHashes have ever been
// seen, surfaced on /session-stats.
func (s *Store) KnownConfigCount(ctx context.Context) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions")
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}

// Close releases the underlying *sql.DB.
func (s *Store) Close() error {
	return s.db.Close()
}
