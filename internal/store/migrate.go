package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
//go:embed migrations/identity/sqlite/*.sql migrations/identity/postgres/*.sql
var migrations embed.FS

// goose keeps its base FS, dialect and version table in package globals.
var gooseMu sync.Mutex

// MigrationSet names one independently versioned group of migrations.
type MigrationSet string

const (
	// SetData is the queryable customers table and its seed.
	SetData MigrationSet = "data"
	// SetIdentity is the users table. It lives in its own database so the
	// query pool never sees it.
	SetIdentity MigrationSet = "identity"
)

type migrationTarget struct {
	dialect string
	dir     string
	table   string
}

func targetFor(set MigrationSet, driver string) (migrationTarget, error) {
	var t migrationTarget
	switch driver {
	case "", DriverSQLite:
		t.dialect, t.dir = "sqlite3", "sqlite"
	case DriverPostgres:
		t.dialect, t.dir = "postgres", "postgres"
	default:
		return t, fmt.Errorf("unsupported driver %q", driver)
	}
	switch set {
	case SetData:
		t.dir = "migrations/" + t.dir
		t.table = "goose_db_version"
	case SetIdentity:
		t.dir = "migrations/identity/" + t.dir
		t.table = "goose_identity_version"
	default:
		return t, fmt.Errorf("unknown migration set %q", set)
	}
	return t, nil
}

// Migrate applies all pending data migrations, including the customers seed.
func Migrate(db *sql.DB, driver string) error {
	return MigrateSet(db, SetData, driver)
}

// MigrateIdentity applies all pending identity migrations.
func MigrateIdentity(db *sql.DB, driver string) error {
	return MigrateSet(db, SetIdentity, driver)
}

// MigrateSet applies all pending migrations of set.
func MigrateSet(db *sql.DB, set MigrationSet, driver string) error {
	t, err := targetFor(set, driver)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := t.apply(); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	if err := goose.Up(db, t.dir); err != nil {
		return fmt.Errorf("Migrate: failed to run %s migrations: %w", set, err)
	}
	return nil
}

// Version returns the current migration version of set.
func Version(db *sql.DB, set MigrationSet, driver string) (int64, error) {
	t, err := targetFor(set, driver)
	if err != nil {
		return 0, fmt.Errorf("Version: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := t.apply(); err != nil {
		return 0, fmt.Errorf("Version: %w", err)
	}
	return goose.GetDBVersion(db)
}

// apply points the goose globals at t. Callers hold gooseMu.
func (t migrationTarget) apply() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	goose.SetTableName(t.table)
	if err := goose.SetDialect(t.dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}
