package audit

import (
	"context"
	"log/slog"
)

// DefaultQueueSize bounds the number of batches waiting for the worker.
const DefaultQueueSize = 256

// Worker drains committed entries to a downstream Sink off the request path.
// The Queue side implements Sink, so it can be passed to WithSink directly.
type Worker struct {
	sink   Sink
	inbox  chan []Entry
	logger *slog.Logger
	m      *Metrics
}

func NewWorker(sink Sink, queueSize int, logger *slog.Logger, m *Metrics) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: make(chan []Entry, queueSize), logger: logger, m: m}
}

// Publish enqueues entries without blocking. A full queue drops the batch.
func (w *Worker) Publish(ctx context.Context, entries ...Entry) error {
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	select {
	case w.inbox <- batch:
		return nil
	default:
		w.m.IncPublishFailures()
		w.logger.WarnContext(ctx, "audit fan-out queue full, dropping batch", "entries", len(entries))
		return nil
	}
}

// Run forwards queued batches until ctx is cancelled, then flushes what is
// already buffered.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case batch := <-w.inbox:
			w.forward(ctx, batch)
		}
	}
}

func (w *Worker) drain() {
	ctx := context.Background()
	for {
		select {
		case batch := <-w.inbox:
			w.forward(ctx, batch)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, batch []Entry) {
	if err := w.sink.Publish(ctx, batch...); err != nil {
		w.m.IncPublishFailures()
		w.logger.WarnContext(ctx, "audit fan-out failed", "entries", len(batch), "error", err)
	}
}
