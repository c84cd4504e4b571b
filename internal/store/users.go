package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrUsernameTaken is returned by CreateUser when the username exists.
var ErrUsernameTaken = errors.New("username already taken")

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
}

// CreateUser inserts a user. The uniqueness check and the insert share a
// transaction; a concurrent insert still surfaces as ErrUsernameTaken via
// the UNIQUE constraint.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateUser: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM users WHERE username = ?`), username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("CreateUser: %w", err)
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}

	u := User{Username: username, PasswordHash: passwordHash, Role: role}
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
		RETURNING id`),
		username, passwordHash, role,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("CreateUser: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreateUser: %w", err)
	}
	return &u, nil
}

// GetUserByUsername returns the user, or nil if not found.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, username, password_hash, role
		FROM users WHERE username = ?`), username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetUserByUsername: %w", err)
	}
	return &u, nil
}

// SetUserRole changes a user's role. Returns sql.ErrNoRows if the user does
// not exist.
func (s *Store) SetUserRole(ctx context.Context, username, role string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET role = ? WHERE username = ?`), role, username)
	if err != nil {
		return fmt.Errorf("SetUserRole: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
