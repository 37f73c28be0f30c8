package db

import (
	"strconv"
	"strings"

	"github.com/teranos/jobpulse/errors"
)

// Dialect names the SQL flavour a store talks to. The value doubles as the
// database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported database driver %q", name)
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
// Queries are written with ? throughout; Postgres needs $1, $2, ...
// Placeholders inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// LockSkipLocked returns the row-locking clause used when claiming rows.
// SQLite serializes writers, so a single UPDATE statement is already atomic there.
func (d Dialect) LockSkipLocked() string {
	if d == DialectPostgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}
