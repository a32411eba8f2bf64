package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is an opened datastore together with the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// WhatsMeowDialect is the dialect name expected by whatsmeow's sqlstore.
func (db *DB) WhatsMeowDialect() string {
	if db.Dialect == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// Open connects to a sqlite file or a postgres server. kind accepts
// "sqlite", "sqlite3", "postgres", "postgresql" or "pgx".
func Open(ctx context.Context, kind string, dsn string) (*DB, error) {
	dialect, driver, err := NormalizeDriver(kind)
	if err != nil {
		return nil, err
	}
	dsn = NormalizeDSN(dialect, dsn)

	if dialect == DialectSQLite {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if dialect == DialectSQLite {
		// sqlite allows a single writer; serialise through one connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(10 * time.Minute)
		db.SetConnMaxIdleTime(3 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s datastore: %w", dialect, err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// NormalizeDriver maps a configured datastore type to a dialect and the
// registered database/sql driver name.
func NormalizeDriver(kind string) (Dialect, string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, "sqlite", nil
	case "postgresql", "postgres", "pgx":
		return DialectPostgres, "pgx", nil
	default:
		return "", "", fmt.Errorf("unsupported datastore type %q", kind)
	}
}

// NormalizeDSN adds the connection parameters each dialect needs.
func NormalizeDSN(dialect Dialect, dsn string) string {
	switch dialect {
	case DialectSQLite:
		// whatsmeow relies on cascading deletes.
		dsn = appendParam(dsn, "_pragma=foreign_keys", "_pragma=foreign_keys(1)")
		dsn = appendParam(dsn, "_pragma=busy_timeout", "_pragma=busy_timeout(5000)")
	case DialectPostgres:
		dsn = appendParam(dsn, "prefer_simple_protocol=", "prefer_simple_protocol=true")
		dsn = appendParam(dsn, "statement_cache_capacity=", "statement_cache_capacity=0")
		dsn = appendParam(dsn, "default_query_exec_mode=", "default_query_exec_mode=simple_protocol")
	}
	return dsn
}

func appendParam(current string, probe string, param string) string {
	if strings.Contains(current, probe) {
		return current
	}
	separator := "?"
	if strings.Contains(current, "?") {
		if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
			separator = ""
		} else {
			separator = "&"
		}
	}
	return current + separator + param
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $n when talking to postgres.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Dialect, query)
}

func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// BlobType is the column type used for binary payloads.
func (db *DB) BlobType() string {
	if db.Dialect == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}
