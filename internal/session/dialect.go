package session

import (
	"fmt"
	"strings"
)

// DialectType identifies which SQL dialect a *Store is backed by.
type DialectType string

const (
	DialectSQLite   DialectType = "sqlite"
	DialectPostgres DialectType = "postgres"
)

// Dialect provides the handful of cross-database rewrites the session
// store's two queries need. Grounded on the teacher's database/dialect.go
// Dialect type, trimmed to only RewritePlaceholders and AutoIncrement since
// the session schema has no INSERT OR IGNORE/REPLACE statements.
type Dialect struct {
	Type DialectType
}

// IsPostgres reports whether d targets PostgreSQL.
func (d Dialect) IsPostgres() bool { return d.Type == DialectPostgres }

// RewritePlaceholders converts ? placeholders to $1, $2, ... for
// PostgreSQL; SQLite/SQLCipher queries pass through unchanged.
func (d Dialect) RewritePlaceholders(query string) string {
	if d.Type != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 32)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			inQuote = !inQuote
			b.WriteByte(ch)
			continue
		}
		if ch == '?' && !inQuote {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// AutoIncrement returns the dialect-appropriate auto-increment primary key
// clause.
func (d Dialect) AutoIncrement() string {
	if d.Type == DialectPostgres {
		return "SERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// UpsertClause returns the dialect-appropriate "insert or update" tail for
// the sessions table's single-row-per-configHash upsert.
func (d Dialect) UpsertClause() string {
	if d.Type == DialectPostgres {
		return "ON CONFLICT (config_hash) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at, preferred_languages = EXCLUDED.preferred_languages"
	}
	return "ON CONFLICT(config_hash) DO UPDATE SET last_seen_at = excluded.last_seen_at, preferred_languages = excluded.preferred_languages"
}
