// Package chread reads query audit events back out of ClickHouse.
package chread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/querygate/internal/storage"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse query_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(ctx context.Context, dsn string, logger *zap.Logger) (*Reader, error) {
	conn, err := storage.OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the query_events table.
type EventRow struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Transport    string    `json:"transport"`
	Subject      string    `json:"subject"`
	Role         string    `json:"role"`
	QueryPreview string    `json:"query_preview"`
	QueryHash    string    `json:"query_hash"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason"`
	SQL          string    `json:"sql"`
	RowCount     uint32    `json:"row_count"`
	LatencyMs    float32   `json:"latency_ms"`
}

const eventColumns = "request_id, timestamp, transport, subject, role, query_preview, " +
	"query_hash, outcome, reason, sql, row_count, latency_ms"

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	Outcome   *string
	Subject   *string
	Role      *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// buildFilter returns the WHERE clause and its named args.
func buildFilter(params ListEventsParams) (string, []any) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.Outcome != nil {
		conditions = append(conditions, "outcome = @outcome")
		args = append(args, clickhouse.Named("outcome", *params.Outcome))
	}
	if params.Subject != nil {
		conditions = append(conditions, "subject = @subject")
		args = append(args, clickhouse.Named("subject", *params.Subject))
	}
	if params.Role != nil {
		conditions = append(conditions, "role = @role")
		args = append(args, clickhouse.Named("role", *params.Role))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListEvents returns paginated, filtered query events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	where, args := buildFilter(params)
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM query_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM query_events WHERE %s ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []EventRow{}
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.RequestID, &e.Timestamp, &e.Transport, &e.Subject, &e.Role, &e.QueryPreview,
			&e.QueryHash, &e.Outcome, &e.Reason, &e.SQL, &e.RowCount, &e.LatencyMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM query_events WHERE request_id = @request_id LIMIT 1",
		clickhouse.Named("request_id", requestID),
	)

	var e EventRow
	if err := row.Scan(
		&e.RequestID, &e.Timestamp, &e.Transport, &e.Subject, &e.Role, &e.QueryPreview,
		&e.QueryHash, &e.Outcome, &e.Reason, &e.SQL, &e.RowCount, &e.LatencyMs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// OutcomeCount holds an outcome kind and its count.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// ReasonCount holds an internal rejection reason and its count.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// SubjectCount holds a subject and its count.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Stats holds audit aggregations over a time range.
type Stats struct {
	Total              int            `json:"total"`
	Outcomes           []OutcomeCount `json:"outcomes"`
	TopRejectReasons   []ReasonCount  `json:"top_reject_reasons"`
	TopDeniedSubjects  []SubjectCount `json:"top_denied_subjects"`
	LatencyPercentiles LatencyStats   `json:"latency_percentiles"`
}

// GetStats returns aggregates for the last days days.
func (r *Reader) GetStats(ctx context.Context, days int) (*Stats, error) {
	if days < 1 {
		days = 7
	}
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{clickhouse.Named("range_start", rangeStart)}

	result := &Stats{
		Outcomes:          []OutcomeCount{},
		TopRejectReasons:  []ReasonCount{},
		TopDeniedSubjects: []SubjectCount{},
	}

	outRows, err := r.conn.Query(ctx,
		"SELECT outcome, count() AS count FROM query_events "+
			"WHERE timestamp >= @range_start GROUP BY outcome ORDER BY count DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetStats outcomes: %w", err)
	}
	defer func() { _ = outRows.Close() }()
	for outRows.Next() {
		var outcome string
		var count uint64
		if err := outRows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("GetStats outcomes scan: %w", err)
		}
		result.Total += int(count)
		result.Outcomes = append(result.Outcomes, OutcomeCount{Outcome: outcome, Count: int(count)})
	}

	reasonRows, err := r.conn.Query(ctx,
		"SELECT reason, count() AS count FROM query_events "+
			"WHERE timestamp >= @range_start AND outcome = 'unsafe_statement' "+
			"GROUP BY reason ORDER BY count DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetStats reasons: %w", err)
	}
	defer func() { _ = reasonRows.Close() }()
	for reasonRows.Next() {
		var reason string
		var count uint64
		if err := reasonRows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("GetStats reasons scan: %w", err)
		}
		result.TopRejectReasons = append(result.TopRejectReasons, ReasonCount{Reason: reason, Count: int(count)})
	}

	subjectRows, err := r.conn.Query(ctx,
		"SELECT subject, count() AS count FROM query_events "+
			"WHERE timestamp >= @range_start AND outcome = 'forbidden' AND subject != '' "+
			"GROUP BY subject ORDER BY count DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetStats subjects: %w", err)
	}
	defer func() { _ = subjectRows.Close() }()
	for subjectRows.Next() {
		var subject string
		var count uint64
		if err := subjectRows.Scan(&subject, &count); err != nil {
			return nil, fmt.Errorf("GetStats subjects scan: %w", err)
		}
		result.TopDeniedSubjects = append(result.TopDeniedSubjects, SubjectCount{Subject: subject, Count: int(count)})
	}

	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms), quantile(0.95)(latency_ms), quantile(0.99)(latency_ms) "+
			"FROM query_events WHERE timestamp >= @range_start",
		args...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetStats latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
