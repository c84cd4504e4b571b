package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "customers.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db, DriverSQLite))
	return db
}

func openIdentity(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "identity.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, MigrateIdentity(db, DriverSQLite))
	return db
}

func TestMigrate_SeedsCustomers(t *testing.T) {
	db := openMigrated(t)

	rows, err := db.Query(`SELECT customer_id, name, gender, location FROM customers ORDER BY customer_id`)
	require.NoError(t, err)
	defer rows.Close()

	type customer struct {
		id                     int64
		name, gender, location string
	}
	var got []customer
	for rows.Next() {
		var c customer
		require.NoError(t, rows.Scan(&c.id, &c.name, &c.gender, &c.location))
		got = append(got, c)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []customer{
		{1, "Aisha Khan", "female", "Mumbai"},
		{2, "Rohan Sharma", "male", "Delhi"},
		{3, "Neha Patel", "female", "Mumbai"},
		{4, "Vikas Singh", "male", "Bangalore"},
		{5, "Priya Verma", "female", "Pune"},
	}, got)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openMigrated(t)
	require.NoError(t, Migrate(db, DriverSQLite))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM customers`).Scan(&n))
	assert.Equal(t, 5, n)

	v, err := Version(db, SetData, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestMigrate_DataHasNoUsersTable(t *testing.T) {
	db := openMigrated(t)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrateIdentity_SeparateVersionTable(t *testing.T) {
	// Both sets applied to one file keep independent versions.
	db := openIdentity(t)
	require.NoError(t, Migrate(db, DriverSQLite))
	require.NoError(t, MigrateIdentity(db, DriverSQLite))

	v, err := Version(db, SetIdentity, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = Version(db, SetData, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Zero(t, n)
}

func TestMigrate_UnknownDriver(t *testing.T) {
	assert.Error(t, Migrate(nil, "mysql"))
	assert.Error(t, MigrateSet(nil, MigrationSet("other"), DriverSQLite))
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestUsers_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openIdentity(t), DriverSQLite)

	u, err := s.CreateUser(ctx, "alice", "hash-1", "user")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "alice", u.Username)

	_, err = s.CreateUser(ctx, "alice", "hash-2", "user")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "hash-1", got.PasswordHash)
	assert.Equal(t, "user", got.Role)

	missing, err := s.GetUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUsers_SetRole(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openIdentity(t), DriverSQLite)

	_, err := s.CreateUser(ctx, "bob", "h", "user")
	require.NoError(t, err)

	require.NoError(t, s.SetUserRole(ctx, "bob", "admin"))
	got, err := s.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Role)

	assert.ErrorIs(t, s.SetUserRole(ctx, "ghost", "admin"), sql.ErrNoRows)
}

func TestUsers_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE username = $1`)).
		WithArgs("carol").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "role"}).
			AddRow(7, "carol", "h", "admin"))

	s := NewStore(db, DriverPostgres)
	u, err := s.GetUserByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "admin", u.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestReadOnlyDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{DriverSQLite, "customers.db", "file:customers.db?mode=ro"},
		{DriverSQLite, "file:customers.db?_pragma=busy_timeout(5000)", "file:customers.db?_pragma=busy_timeout(5000)&mode=ro"},
		{DriverSQLite, ":memory:", ":memory:"},
		{DriverPostgres, "postgres://u:p@db:5432/app", "postgres://u:p@db:5432/app?default_transaction_read_only=on"},
		{DriverPostgres, "postgres://db/app?sslmode=disable", "postgres://db/app?sslmode=disable&default_transaction_read_only=on"},
		{DriverPostgres, "host=db dbname=app", "host=db dbname=app default_transaction_read_only=on"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, readOnlyDSN(tt.driver, tt.dsn))
		})
	}
}

func TestOpenReadOnly_RefusesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.db")
	rw, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer rw.Close()
	require.NoError(t, Migrate(rw, DriverSQLite))

	ro, err := OpenReadOnly(context.Background(), Config{Driver: DriverSQLite, DSN: path})
	require.NoError(t, err)
	defer ro.Close()

	var n int
	require.NoError(t, ro.QueryRow(`SELECT COUNT(*) FROM customers`).Scan(&n))
	assert.Equal(t, 5, n)

	_, err = ro.Exec(`DELETE FROM customers`)
	assert.Error(t, err)

	_, err = ro.Query(`SELECT password_hash FROM users`)
	assert.ErrorContains(t, err, "no such table")
}
