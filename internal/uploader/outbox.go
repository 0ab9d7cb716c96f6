package uploader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/buildlog-ai/buildlog/internal/store"
	"github.com/buildlog-ai/buildlog/internal/telemetry"
)

// OutboxWorker polls the local store's upload outbox and pushes queued
// documents to the service. Failures stay queued with an attempt count
// so a flaky network never loses a document.
type OutboxWorker struct {
	st           *store.Store
	client       *Client
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewOutboxWorker creates a worker; call Start to begin polling.
func NewOutboxWorker(st *store.Store, client *Client, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &OutboxWorker{
		st:           st,
		client:       client,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start begins the background poll loop. Safe to call only once;
// repeated calls are ignored.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("upload outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain stops the poll loop, makes one final pass over the queue, and
// blocks until done or ctx expires.
func (w *OutboxWorker) Drain(ctx context.Context) {
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("upload outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.ProcessBatch(finalCtx)
			cancel()
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch drains up to one batch of queued uploads. Exported so
// the CLI can force a flush without waiting for the next tick.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) {
	pending, err := w.st.NextBatch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("upload outbox: read queue", "error", err)
		return
	}

	for _, p := range pending {
		result := w.client.Upload(ctx, p.Document)
		if !result.OK {
			w.logger.Warn("upload outbox: upload failed",
				"document_id", p.DocumentID, "code", result.Err.Code, "attempts", p.Attempts+1)
			if err := w.st.MarkFailed(ctx, p.DocumentID, result.Err.Message); err != nil {
				w.logger.Error("upload outbox: record failure", "error", err)
			}
			continue
		}
		if err := w.st.MarkUploaded(ctx, p.DocumentID); err != nil {
			w.logger.Error("upload outbox: clear entry", "error", err)
			continue
		}
		w.logger.Info("upload outbox: uploaded", "document_id", p.DocumentID, "url", result.URL)
	}
}

// registerMetrics exposes queue depth as an observable gauge.
func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("buildlog/outbox")
	_, _ = meter.Int64ObservableGauge("buildlog.outbox.pending",
		metric.WithDescription("Documents waiting in the upload outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := w.st.PendingCount(ctx)
			if err != nil {
				return err
			}
			o.Observe(int64(n))
			return nil
		}),
	)
}
