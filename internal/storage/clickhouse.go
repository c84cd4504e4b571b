package storage

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// queryEventsDDL creates the audit table on first use.
const queryEventsDDL = `
CREATE TABLE IF NOT EXISTS query_events (
	request_id    String,
	timestamp     DateTime64(3, 'UTC'),
	transport     LowCardinality(String),
	subject       String,
	role          LowCardinality(String),
	query_preview String,
	query_hash    FixedString(64),
	query_size    UInt32,
	outcome       LowCardinality(String),
	reason        LowCardinality(String),
	sql           String,
	row_count     UInt32,
	latency_ms    Float32
) ENGINE = MergeTree
ORDER BY (timestamp, request_id)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// ClickHouseWriter writes query events to ClickHouse asynchronously.
// Write() is non-blocking: events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	*bufferedWriter
	conn   driver.Conn
	logger *zap.Logger
}

// OpenClickHouse parses dsn and opens a pinged connection.
func OpenClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ClickHouse Cloud requires TLS on its native port.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// NewClickHouseWriter connects, ensures the query_events table exists and
// starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Exec(ctx, queryEventsDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: create table: %w", err)
	}

	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.bufferedWriter = newBufferedWriter(w.insert, bufferSize, flushInterval, logger)
	return w, nil
}

// Close drains buffered events and closes the connection.
func (w *ClickHouseWriter) Close() {
	w.bufferedWriter.Close()
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) insert(ctx context.Context, events []*QueryEvent) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO query_events (
			request_id, timestamp, transport, subject, role,
			query_preview, query_hash, query_size,
			outcome, reason, sql, row_count, latency_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.RequestID,
			e.Timestamp,
			e.Transport,
			e.Subject,
			e.Role,
			e.QueryPreview,
			e.QueryHash,
			e.QuerySize,
			e.Outcome,
			e.Reason,
			e.SQL,
			e.RowCount,
			e.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	return batch.Send()
}

// LogWriter is a fallback EventWriter used when no ClickHouse is configured.
// It logs events as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *QueryEvent) {
	w.logger.Info("query_event",
		zap.String("request_id", event.RequestID),
		zap.String("transport", event.Transport),
		zap.String("subject", event.Subject),
		zap.String("role", event.Role),
		zap.String("outcome", event.Outcome),
		zap.String("reason", event.Reason),
		zap.String("sql", event.SQL),
		zap.Uint32("row_count", event.RowCount),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("query_preview", event.QueryPreview),
		zap.String("query_hash", event.QueryHash),
	)
}

func (w *LogWriter) Close() {}
