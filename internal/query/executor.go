// Package query executes validated statements against the customer database.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/querygate/internal/sqlguard"
	"go.uber.org/zap"
)

// ErrExecution is returned when the database rejects or fails a statement.
var ErrExecution = errors.New("query execution failed")

// ResultSet is the ordered result of one statement.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Config configures an Executor.
type Config struct {
	DB      *sql.DB       // should be a read-only pool
	Timeout time.Duration // Default: 5s
	MaxRows int           // 0 means unlimited
	Logger  *zap.Logger
}

// Executor runs sqlguard.Statement values. It has no way to run raw text.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
	logger  *zap.Logger
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.DB == nil {
		return nil, errors.New("query.New: db is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{db: cfg.DB, timeout: timeout, maxRows: cfg.MaxRows, logger: logger}, nil
}

// Execute runs stmt and returns its rows in database order. A zero-value
// Statement is refused with sqlguard.ErrUnsafeStatement.
func (e *Executor) Execute(ctx context.Context, stmt sqlguard.Statement) (*ResultSet, error) {
	if !stmt.Valid() {
		return nil, fmt.Errorf("Execute: %w", sqlguard.ErrUnsafeStatement)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, stmt.SQL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	rs := &ResultSet{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		if e.maxRows > 0 && len(rs.Rows) >= e.maxRows {
			e.logger.Warn("result truncated",
				zap.Int("max_rows", e.maxRows),
				zap.String("sql", stmt.SQL()),
			)
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecution, err)
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		rs.Rows = append(rs.Rows, Row{columns: columns, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	return rs, nil
}
