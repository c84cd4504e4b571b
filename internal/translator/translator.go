// Package translator turns free text into a candidate SQL statement by
// delegating to an external chat-completion service.
package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/triage-ai/querygate/internal/sqlguard"
	"go.uber.org/zap"
)

// ErrTranslation covers transport errors, timeouts and empty completions.
var ErrTranslation = errors.New("translation failed")

// Completer is the external text-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, systemInstruction, userText string) (string, error)
}

// Config configures a Translator.
type Config struct {
	Completer  Completer
	Schema     *sqlguard.Schema
	Dialect    string        // named in the system instruction. Default: SQLite
	Timeout    time.Duration // per attempt. Default: 15s
	Retries    int           // extra attempts after the first. Default: 0
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Translator wraps a Completer behind text-in, candidate-out. It makes no
// trust decisions about the returned text.
type Translator struct {
	completer  Completer
	system     string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a Translator.
func New(cfg Config) (*Translator, error) {
	if cfg.Completer == nil {
		return nil, errors.New("translator.New: completer is required")
	}
	schema := cfg.Schema
	if schema == nil {
		schema = sqlguard.DefaultSchema()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{
		completer:  cfg.Completer,
		system:     SystemInstruction(schema, cfg.Dialect),
		timeout:    timeout,
		retries:    retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// SystemPrompt returns the fixed instruction sent with every request.
func (t *Translator) SystemPrompt() string { return t.system }

// Translate asks the completer for a single SELECT statement answering
// rawText. The response is returned trimmed but otherwise verbatim.
func (t *Translator) Translate(ctx context.Context, rawText string) (sqlguard.Candidate, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return sqlguard.Candidate{}, fmt.Errorf("%w: %v", ErrTranslation, ctx.Err())
			case <-time.After(t.retryDelay):
			}
		}

		sql, err := t.complete(ctx, rawText)
		if err == nil {
			t.logger.Info("translator generated sql",
				zap.String("sql", sql),
				zap.Int("attempt", attempt+1),
			)
			return sqlguard.Candidate{SQL: sql}, nil
		}
		lastErr = err
		t.logger.Warn("translator attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return sqlguard.Candidate{}, fmt.Errorf("%w: %v", ErrTranslation, lastErr)
}

func (t *Translator) complete(ctx context.Context, rawText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.completer.Complete(ctx, t.system, rawText)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}

// SystemInstruction builds the instruction constraining the completer to one
// SELECT over one table with an explicit column list.
func SystemInstruction(schema *sqlguard.Schema, dialect string) string {
	if dialect == "" {
		dialect = "SQLite"
	}
	tables := schema.Tables()

	var b strings.Builder
	b.WriteString("You are an AI assistant that converts natural language questions\n")
	fmt.Fprintf(&b, "into SQL queries for a %s database.\n\nDatabase schema:\n", dialect)
	for _, table := range tables {
		fmt.Fprintf(&b, "TABLE %s (\n", table)
		cols := schema.Columns(table)
		for i, col := range cols {
			sep := ","
			if i == len(cols)-1 {
				sep = ""
			}
			fmt.Fprintf(&b, "    %s%s\n", col, sep)
		}
		b.WriteString(");\n")
	}

	names := make([]string, len(tables))
	for i, table := range tables {
		names[i] = "'" + table + "'"
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Return ONLY a valid SQL SELECT statement.\n")
	b.WriteString("- Never use DELETE, UPDATE, INSERT, DROP, or other destructive operations.\n")
	fmt.Fprintf(&b, "- Always select from exactly one table: %s.\n", strings.Join(names, " or "))
	for _, table := range tables {
		fmt.Fprintf(&b, "- For %s, always include the explicit column list: %s.\n", table, strings.Join(schema.Columns(table), ", "))
	}
	b.WriteString("- Never use SELECT *, subqueries, joins, or UNION.\n")
	b.WriteString("- Use single quotes for string values.\n")
	b.WriteString("- Do NOT include backticks or triple quotes.\n")
	b.WriteString("- Do NOT add explanation, comments, or markdown, ONLY raw SQL.\n")
	return b.String()
}
