package thumbnail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/queue"
)

// Worker consumes the thumbnail queue in the background.
//
// Thread Safety: Start and Stop are safe for concurrent use; one Worker
// processes one message at a time.
type Worker struct {
	processor *Processor
	queue     queue.Queue
	config    Config
	metrics   metrics.ThumbnailMetrics

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

// NewWorker creates a new thumbnail worker.
//
// The worker is initialized but not started. Call Start() to begin
// consuming, or RunOnce() to process a single batch synchronously. Zero
// config values are replaced by defaults.
//
// Parameters:
//   - processor: Processor that renders one job message
//   - q: Queue the jobs are received from
//   - config: Worker configuration (batch size, visibility timeout, attempts)
//   - m: Thumbnail metrics; nil disables recording
//
// Returns:
//   - *Worker: Initialized worker (not started)
func NewWorker(processor *Processor, q queue.Queue, config Config, m metrics.ThumbnailMetrics) *Worker {
	config.ApplyDefaults()
	return &Worker{
		processor: processor,
		queue:     q,
		config:    config,
		metrics:   metrics.OrNoopThumbnail(m),
		doneCh:    make(chan struct{}),
	}
}

// Start begins consuming the queue in the background.
//
// This starts a goroutine that receives batches and processes them until
// Stop() is called, backing off while the queue errors. Nothing is started
// when the worker is disabled.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (w *Worker) Start() {
	if !w.config.Enabled {
		logger.Info("Thumbnail worker disabled")
		return
	}
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		w.started = true
		logger.Info("Starting thumbnail worker: batch_size=%d visibility=%s max_attempts=%d",
			w.config.BatchSize, w.config.VisibilityTimeout, w.config.MaxAttempts)
		go w.loop(ctx)
	})
}

// Stop stops the worker and waits for it to finish.
//
// In-flight work is cancelled. Messages that were not acknowledged are
// redelivered after their visibility timeout. Safe to call multiple times,
// and before Start().
//
// Parameters:
//   - ctx: Context bounding the wait for the loop to exit
//
// Returns:
//   - error: ctx.Err() if the context expires before shutdown completes
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started {
		return nil
	}
	w.stopOnce.Do(w.cancel)

	select {
	case <-w.doneCh:
		logger.Info("Thumbnail worker stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Thumbnail worker shutdown timeout")
		return ctx.Err()
	}
}

// RunOnce receives and processes a single batch synchronously.
//
// Processing failures are handled per message (retry or dead-letter) and
// are not returned.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - int: Number of messages received (0 when the queue had none visible)
//   - error: Returns error if receiving from the queue fails
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	msgs, err := w.queue.Receive(ctx, w.config.BatchSize, w.config.VisibilityTimeout)
	if err != nil {
		return 0, err
	}
	w.handle(ctx, msgs)
	return len(msgs), nil
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		msgs, err := w.receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("Thumbnail receive failed: %v", err)
			continue
		}

		w.handle(ctx, msgs)

		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
		}
	}
}

// receive polls the queue, backing off exponentially while it errors.
func (w *Worker) receive(ctx context.Context) ([]queue.Message, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	var msgs []queue.Message
	retryable := func() error {
		var err error
		msgs, err = w.queue.Receive(ctx, w.config.BatchSize, w.config.VisibilityTimeout)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Thumbnail receive failed, retrying in %s: %v", wait, err)
	}

	err := backoff.RetryNotify(retryable, backoff.WithContext(b, ctx), notify)
	return msgs, err
}

func (w *Worker) handle(ctx context.Context, msgs []queue.Message) {
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		outcome, err := w.processor.Process(ctx, msg.Body)
		if err != nil {
			w.metrics.RecordJob("error", time.Since(start))
			logger.Error("Thumbnail message %s left for redelivery (delivery %d): %v", msg.ID, msg.Deliveries, err)
			continue
		}
		w.metrics.RecordJob(string(outcome), time.Since(start))

		if err := w.queue.Ack(ctx, msg.Receipt); err != nil {
			if errors.Is(err, queue.ErrReceiptExpired) {
				logger.Warn("Thumbnail message %s outlived its visibility timeout; it may be processed again", msg.ID)
				continue
			}
			logger.Error("Failed to ack thumbnail message %s: %v", msg.ID, err)
		}
	}
}
