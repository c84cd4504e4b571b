// Package gateway sequences one natural-language query through
// authentication, policy, translation, validation and execution.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/triage-ai/querygate/internal/auth"
	"github.com/triage-ai/querygate/internal/query"
	"github.com/triage-ai/querygate/internal/sqlguard"
	"github.com/triage-ai/querygate/internal/storage"
	"go.uber.org/zap"
)

// Stage collaborators.
type (
	TokenVerifier interface {
		Verify(token string) (auth.Identity, error)
	}
	Authorizer interface {
		Authorize(id auth.Identity, rawText string) error
	}
	Translator interface {
		Translate(ctx context.Context, rawText string) (sqlguard.Candidate, error)
	}
	Validator interface {
		Validate(c sqlguard.Candidate) (sqlguard.Statement, error)
	}
	Executor interface {
		Execute(ctx context.Context, stmt sqlguard.Statement) (*query.ResultSet, error)
	}
)

// Request is one inbound query.
type Request struct {
	Token     string
	Query     string
	Transport string // recorded in the audit event
}

// Response is a successful result.
type Response struct {
	RequestID string
	SQL       string
	Columns   []string
	Rows      []query.Row
}

// Config wires a Gateway.
type Config struct {
	Verifier         TokenVerifier
	Policy           Authorizer
	Translator       Translator
	Validator        Validator
	Executor         Executor
	Events           storage.EventWriter // nil disables auditing
	ForbiddenMessage string
	MaxQueryLength   int // in runes; 0 means unlimited
	Logger           *zap.Logger
}

// Gateway is stateless across requests and safe for concurrent use.
type Gateway struct {
	verifier         TokenVerifier
	policy           Authorizer
	translator       Translator
	validator        Validator
	executor         Executor
	events           storage.EventWriter
	forbiddenMessage string
	maxQueryLength   int
	logger           *zap.Logger
}

// New creates a Gateway. Every stage is required.
func New(cfg Config) (*Gateway, error) {
	if cfg.Verifier == nil || cfg.Policy == nil || cfg.Translator == nil ||
		cfg.Validator == nil || cfg.Executor == nil {
		return nil, errors.New("gateway.New: all stages are required")
	}
	msg := cfg.ForbiddenMessage
	if msg == "" {
		msg = DefaultForbiddenMessage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		verifier:         cfg.Verifier,
		policy:           cfg.Policy,
		translator:       cfg.Translator,
		validator:        cfg.Validator,
		executor:         cfg.Executor,
		events:           cfg.Events,
		forbiddenMessage: msg,
		maxQueryLength:   cfg.MaxQueryLength,
		logger:           logger,
	}, nil
}

// trace accumulates what one request did, for logging and the audit event.
type trace struct {
	requestID string
	start     time.Time
	req       Request
	identity  auth.Identity
	sql       string
	rows      int
}

// Handle runs the pipeline. It stops at the first failing stage and
// returns a *Error; no stage is retried here.
func (g *Gateway) Handle(ctx context.Context, req Request) (*Response, error) {
	tr := &trace{requestID: uuid.New().String(), start: time.Now(), req: req}

	resp, err := g.run(ctx, tr)
	if err != nil {
		gerr, ok := AsError(err)
		if !ok {
			gerr = g.classify(err)
		}
		g.logFailure(tr, gerr)
		g.emit(tr, string(gerr.Kind), gerr.Reason)
		return nil, gerr
	}

	g.logger.Info("query served",
		zap.String("request_id", tr.requestID),
		zap.String("subject", tr.identity.Subject),
		zap.String("sql", tr.sql),
		zap.Int("rows", tr.rows),
		zap.Duration("latency", time.Since(tr.start)),
	)
	g.emit(tr, "ok", "")
	return resp, nil
}

func (g *Gateway) run(ctx context.Context, tr *trace) (*Response, error) {
	// 1. Authenticate
	id, err := g.verifier.Verify(tr.req.Token)
	if err != nil {
		return nil, err
	}
	tr.identity = id

	text := strings.TrimSpace(tr.req.Query)
	if text == "" {
		return nil, &Error{Kind: KindInvalidRequest, Status: http.StatusBadRequest, Message: MsgQueryRequired, Reason: "empty_query"}
	}
	if g.maxQueryLength > 0 && utf8.RuneCountInString(text) > g.maxQueryLength {
		return nil, &Error{Kind: KindInvalidRequest, Status: http.StatusBadRequest, Message: MsgQueryTooLong, Reason: "query_too_long"}
	}

	g.logger.Info("query received",
		zap.String("request_id", tr.requestID),
		zap.String("subject", id.Subject),
		zap.String("role", string(id.Role)),
		zap.String("query", text),
	)

	// 2. Policy gate on the raw text
	if err := g.policy.Authorize(id, text); err != nil {
		return nil, err
	}

	// 3. Translate
	candidate, err := g.translator.Translate(ctx, text)
	if err != nil {
		return nil, err
	}
	tr.sql = candidate.SQL

	// 4. Validate
	stmt, err := g.validator.Validate(candidate)
	if err != nil {
		return nil, err
	}

	// 5. Execute
	rs, err := g.executor.Execute(ctx, stmt)
	if err != nil {
		return nil, err
	}
	tr.rows = len(rs.Rows)

	return &Response{
		RequestID: tr.requestID,
		SQL:       stmt.SQL(),
		Columns:   rs.Columns,
		Rows:      rs.Rows,
	}, nil
}

func (g *Gateway) logFailure(tr *trace, gerr *Error) {
	fields := []zap.Field{
		zap.String("request_id", tr.requestID),
		zap.String("kind", string(gerr.Kind)),
		zap.String("reason", gerr.Reason),
		zap.String("subject", tr.identity.Subject),
		zap.Duration("latency", time.Since(tr.start)),
	}
	if tr.sql != "" {
		fields = append(fields, zap.String("sql", tr.sql))
	}
	if gerr.Err != nil {
		fields = append(fields, zap.Error(gerr.Err))
	}

	switch gerr.Kind {
	case KindUnsafeStatement, KindTranslation, KindInternal:
		g.logger.Error("query failed", fields...)
	default:
		g.logger.Warn("query rejected", fields...)
	}
}

func (g *Gateway) emit(tr *trace, outcome, reason string) {
	if g.events == nil {
		return
	}
	g.events.Write(&storage.QueryEvent{
		RequestID:    tr.requestID,
		Timestamp:    time.Now().UTC(),
		Transport:    tr.req.Transport,
		Subject:      tr.identity.Subject,
		Role:         string(tr.identity.Role),
		QueryPreview: storage.TruncatePayload(tr.req.Query, storage.QueryPreviewLength),
		QueryHash:    storage.HashPayload(tr.req.Query),
		QuerySize:    uint32(len(tr.req.Query)),
		Outcome:      outcome,
		Reason:       reason,
		SQL:          tr.sql,
		RowCount:     uint32(tr.rows),
		LatencyMs:    float32(float64(time.Since(tr.start)) / float64(time.Millisecond)),
	})
}
