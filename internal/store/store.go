// Package store owns the relational database: opening the pool, applying
// migrations and the user repository backing the identity endpoints.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config describes the connection pool.
type Config struct {
	Driver          string // sqlite or pgx. Default: sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open creates and pings a connection pool.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("Open: unsupported driver %q", driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("Open: dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return db, nil
}

// OpenReadOnly opens a second pool on the same database in which writes fail
// at the engine level. The query executor runs on this pool.
func OpenReadOnly(ctx context.Context, cfg Config) (*sql.DB, error) {
	ro := cfg
	ro.DSN = readOnlyDSN(cfg.Driver, cfg.DSN)
	db, err := Open(ctx, ro)
	if err != nil {
		return nil, fmt.Errorf("OpenReadOnly: %w", err)
	}
	return db, nil
}

// readOnlyDSN rewrites dsn so the connection refuses writes. SQLite needs the
// URI form for mode=ro to be honored; pgx forwards unknown keys as runtime
// parameters.
func readOnlyDSN(driver, dsn string) string {
	if dsn == "" {
		return dsn
	}
	switch driver {
	case DriverPostgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return appendParam(dsn, "default_transaction_read_only=on")
		}
		return dsn + " default_transaction_read_only=on"
	default:
		if strings.Contains(dsn, ":memory:") {
			return dsn
		}
		if !strings.HasPrefix(dsn, "file:") {
			dsn = "file:" + dsn
		}
		return appendParam(dsn, "mode=ro")
	}
}

func appendParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// Store provides access to the users table in the identity database.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore creates a Store backed by db. driver selects the placeholder style.
func NewStore(db *sql.DB, driver string) *Store {
	if driver == "" {
		driver = DriverSQLite
	}
	return &Store{db: db, driver: driver}
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
