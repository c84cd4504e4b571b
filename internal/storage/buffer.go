package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
	flushTimeout  = 5 * time.Second
)

// sinkFunc persists one batch.
type sinkFunc func(ctx context.Context, events []*QueryEvent) error

// bufferedWriter queues events on a bounded channel and hands them to sink
// in batches from a single background goroutine.
type bufferedWriter struct {
	sink     sinkFunc
	buffer   chan *QueryEvent
	done     chan struct{}
	flushed  chan struct{} // closed by flushLoop when it returns
	interval time.Duration
	logger   *zap.Logger
}

func newBufferedWriter(sink sinkFunc, size int, interval time.Duration, logger *zap.Logger) *bufferedWriter {
	w := &bufferedWriter{
		sink:     sink,
		buffer:   make(chan *QueryEvent, size),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
		interval: interval,
		logger:   logger,
	}
	go w.flushLoop()
	return w
}

// Write queues an event. Drops it if the buffer is full.
func (w *bufferedWriter) Write(event *QueryEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("audit buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close drains remaining events (up to drainTimeout) and waits for the
// flush loop to exit. Safe to call once.
func (w *bufferedWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *bufferedWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]*QueryEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *bufferedWriter) flush(events []*QueryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := w.sink(ctx, events); err != nil {
		w.logger.Error("audit batch flush failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
