package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// WriterConfig tunes the buffered write path in front of a Store.
type WriterConfig struct {
	BatchSize       int
	FlushInterval   time.Duration
	MaxAttempts     uint          // backoff tries per flush
	RetryDelay      time.Duration // initial backoff interval
	DeadLetterAfter int           // consecutive failed flushes before dropping the batch
	DedupeSize      int           // recently written ids remembered
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:       100,
		FlushInterval:   2 * time.Second,
		MaxAttempts:     3,
		RetryDelay:      200 * time.Millisecond,
		DeadLetterAfter: 5,
		DedupeSize:      4096,
	}
}

func (c *WriterConfig) normalize() {
	d := DefaultWriterConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.DeadLetterAfter <= 0 {
		c.DeadLetterAfter = d.DeadLetterAfter
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = d.DedupeSize
	}
}

// BufferedWriter batches SaveBatch calls behind a circuit breaker. The
// source's unbounded retry-on-failure is bounded here: a batch that keeps
// failing past DeadLetterAfter cycles is logged with its ids and dropped,
// so a sustained storage outage cannot grow memory without limit.
type BufferedWriter struct {
	store Store
	cfg   WriterConfig
	log   *slog.Logger

	mu           sync.Mutex
	pending      []*event.Event
	failedCycles int

	seen    *lru.Cache[string, struct{}]
	breaker *gobreaker.CircuitBreaker

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

func NewBufferedWriter(store Store, cfg WriterConfig, log *slog.Logger) *BufferedWriter {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	seen, _ := lru.New[string, struct{}](cfg.DedupeSize)
	w := &BufferedWriter{
		store:  store,
		cfg:    cfg,
		log:    log,
		seen:   seen,
		stopCh: make(chan struct{}),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "event-store",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue buffers one event for the next flush. Ids seen recently are
// skipped up front; the store's ON CONFLICT clause remains the authority
// for duplicates beyond the cache horizon.
func (w *BufferedWriter) Enqueue(ev *event.Event) {
	if ev == nil {
		return
	}
	if _, dup := w.seen.Get(ev.ID); dup {
		return
	}

	var batch []*event.Event
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, ev)
	if len(w.pending) >= w.cfg.BatchSize {
		batch = w.pending
		w.pending = nil
	}
	w.mu.Unlock()

	if batch != nil {
		w.flush(context.Background(), batch)
	}
}

func (w *BufferedWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Flush(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// Flush drains whatever is pending into the store.
func (w *BufferedWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) > 0 {
		w.flush(ctx, batch)
	}
}

func (w *BufferedWriter) flush(ctx context.Context, batch []*event.Event) {
	save := func() (any, error) {
		return w.breaker.Execute(func() (any, error) {
			return nil, w.store.SaveBatch(ctx, batch)
		})
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = w.cfg.RetryDelay

	_, err := backoff.Retry(ctx, save,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(w.cfg.MaxAttempts),
	)
	if err == nil {
		for _, ev := range batch {
			w.seen.Add(ev.ID, struct{}{})
		}
		w.mu.Lock()
		w.failedCycles = 0
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.failedCycles++
	cycles := w.failedCycles
	if cycles >= w.cfg.DeadLetterAfter {
		w.failedCycles = 0
		w.mu.Unlock()
		ids := make([]string, len(batch))
		for i, ev := range batch {
			ids[i] = ev.ID
		}
		w.log.Error("EVENT_BATCH_DEAD_LETTERED", "count", len(batch), "ids", ids, "err", err)
		return
	}
	// Requeue at the front for the next cycle.
	w.pending = append(batch, w.pending...)
	w.mu.Unlock()
	w.log.Warn("EVENT_BATCH_FLUSH_FAILED", "count", len(batch), "cycle", cycles, "err", err)
}

// PendingCount reports the buffered backlog.
func (w *BufferedWriter) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close performs a final flush and stops the timer. Idempotent.
func (w *BufferedWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.Flush(ctx)
	return nil
}
