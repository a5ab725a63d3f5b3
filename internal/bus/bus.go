// Package bus implements the in-process publish/subscribe core: validated
// and enriched envelopes fanned out to filtered subscriptions with
// timeout-bounded handlers, retry with exponential backoff, optional
// batched dispatch and per-type metrics.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

var (
	ErrClosed         = errors.New("event bus is closed")
	ErrNilHandler     = errors.New("subscription handler is nil")
	ErrNoTypes        = errors.New("subscription needs at least one event type")
	ErrHandlerTimeout = errors.New("handler timed out")
)

// Handler processes a delivered event. The context carries the delivery
// timeout; handlers are expected to honor cancellation cooperatively,
// since a timed-out wait cannot abort work already in flight.
type Handler func(ctx context.Context, ev *event.Event) error

// SubscribeOptions tunes a single subscription. Zero values inherit the
// bus-wide defaults; RetryAttempts < 0 disables retries entirely.
type SubscribeOptions struct {
	Timeout       time.Duration
	RetryAttempts int
	Priority      event.Priority // fan-out ordering hint among same-channel subscriptions
}

// Subscription is the registry entry owned by the bus. Handlers are
// referenced, never owned; callers keep their closures alive.
type Subscription struct {
	ID        string
	Types     []event.Type
	Filter    *event.Filter
	Opts      SubscribeOptions
	CreatedAt time.Time

	handler       Handler
	seq           uint64
	active        atomic.Bool
	lastTriggered atomic.Int64 // unix nanos, 0 = never
}

// LastTriggered returns the last successful delivery time, zero if none.
func (s *Subscription) LastTriggered() time.Time {
	n := s.lastTriggered.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Config is the recognized bus tuning surface.
type Config struct {
	MaxRetries          int
	RetryDelay          time.Duration
	Timeout             time.Duration
	MaxConcurrentEvents int
	BufferSize          int
	BatchProcessing     bool
	BatchSize           int
	BatchTimeout        time.Duration
	DefaultSource       string
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          time.Second,
		Timeout:             30 * time.Second,
		MaxConcurrentEvents: 10,
		BufferSize:          1000,
		BatchProcessing:     false,
		BatchSize:           50,
		BatchTimeout:        5 * time.Second,
		DefaultSource:       "event-bus",
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxConcurrentEvents <= 0 {
		c.MaxConcurrentEvents = d.MaxConcurrentEvents
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.DefaultSource == "" {
		c.DefaultSource = d.DefaultSource
	}
}

// Exporter re-publishes events beyond process boundaries. The bus treats
// export as best-effort: failures are logged, never surfaced to the
// publisher.
type Exporter interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// Option configures optional collaborators.
type Option func(*Bus)

// WithExporter attaches an export dispatcher invoked after local fan-out.
func WithExporter(e Exporter) Option {
	return func(b *Bus) { b.exporter = e }
}

// Bus is the central pub/sub router. All its mutable state (channel
// registry, batch buffer, metrics) is guarded explicitly; there is no
// single-threaded scheduler to lean on.
type Bus struct {
	cfg      Config
	log      *slog.Logger
	exporter Exporter

	mu       sync.RWMutex
	channels map[event.Type][]*Subscription
	subs     map[string]*Subscription
	seq      atomic.Uint64

	bufMu  sync.Mutex
	buffer []*event.Event

	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs a bus and, when batch processing is enabled, starts the
// background flush ticker. The caller owns the lifecycle and must call
// Shutdown at teardown.
func New(cfg Config, log *slog.Logger, opts ...Option) *Bus {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:      cfg,
		log:      log,
		channels: make(map[event.Type][]*Subscription),
		subs:     make(map[string]*Subscription),
		metrics:  NewMetrics(),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if cfg.BatchProcessing {
		b.wg.Add(1)
		go b.runBatchLoop()
	}
	return b
}

// Publish validates and enriches ev, then dispatches immediately or
// appends it to the batch buffer. Validation failures are the only class
// of error surfaced synchronously; delivery failures are absorbed into
// logs and metrics.
func (b *Bus) Publish(ctx context.Context, ev *event.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	ev.Enrich(b.cfg.DefaultSource)
	b.metrics.recordPublished(ev.Type, ev.Priority)

	if b.cfg.BatchProcessing {
		b.enqueue(ev)
		return nil
	}

	// Immediate mode: fan out asynchronously so one slow consumer never
	// stalls the publisher.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = b.deliverAll(b.ctx, ev)
	}()

	b.export(ctx, ev)
	return nil
}

// enqueue appends to the batch buffer and flushes synchronously once the
// configured batch size is reached: append and length check happen under
// one lock so two publishers cannot race past the threshold.
func (b *Bus) enqueue(ev *event.Event) {
	var batch []*event.Event
	b.bufMu.Lock()
	b.buffer = append(b.buffer, ev)
	if len(b.buffer) >= b.cfg.BatchSize {
		batch = b.takeBatchLocked()
	}
	b.metrics.setBufferSize(len(b.buffer))
	b.bufMu.Unlock()

	if len(batch) > 0 {
		b.processBatch(batch)
	}
}

// takeBatchLocked drains up to BatchSize events. Caller holds bufMu.
func (b *Bus) takeBatchLocked() []*event.Event {
	n := b.cfg.BatchSize
	if n > len(b.buffer) {
		n = len(b.buffer)
	}
	batch := make([]*event.Event, n)
	copy(batch, b.buffer[:n])
	b.buffer = append(b.buffer[:0], b.buffer[n:]...)
	return batch
}

func (b *Bus) runBatchLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.BatchTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flushBatch()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) flushBatch() {
	b.bufMu.Lock()
	batch := b.takeBatchLocked()
	b.metrics.setBufferSize(len(b.buffer))
	b.bufMu.Unlock()
	if len(batch) > 0 {
		b.processBatch(batch)
	}
}

// processBatch dispatches a batch concurrently. Events whose delivery
// failed terminally are requeued at the FRONT of the buffer for the next
// cycle (at-least-once: a handler may observe an event twice). The
// requeue is bounded by BufferSize; overflow is dropped oldest-first and
// logged, making the backpressure bound explicit.
func (b *Bus) processBatch(batch []*event.Event) {
	failed := make([]*event.Event, 0)
	var failedMu sync.Mutex

	g, ctx := errgroup.WithContext(b.ctx)
	g.SetLimit(b.cfg.MaxConcurrentEvents)
	for _, ev := range batch {
		g.Go(func() error {
			if err := b.deliverAll(ctx, ev); err != nil {
				failedMu.Lock()
				failed = append(failed, ev)
				failedMu.Unlock()
			}
			b.export(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return
	}

	b.bufMu.Lock()
	b.buffer = append(failed, b.buffer...)
	if over := len(b.buffer) - b.cfg.BufferSize; over > 0 {
		b.log.Warn("EVENT_BUFFER_OVERFLOW", "dropped", over, "capacity", b.cfg.BufferSize)
		b.buffer = b.buffer[:b.cfg.BufferSize]
	}
	b.metrics.setBufferSize(len(b.buffer))
	b.bufMu.Unlock()
}

// deliverAll fans an event out to every matching active subscription and
// waits for the whole group. Each subscription is delivered
// independently: a failing or slow handler never blocks its siblings.
// The returned error joins terminal (retry-exhausted) failures only.
func (b *Bus) deliverAll(ctx context.Context, ev *event.Event) error {
	subs := b.matching(ev)
	if len(subs) == 0 {
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.deliverWithRetry(ctx, sub, ev.Clone())
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// matching snapshots the channel's subscriptions in fan-out order:
// subscription priority first, registration order second. Filters are
// evaluated against the event before the handler is ever invoked.
func (b *Bus) matching(ev *event.Event) []*Subscription {
	b.mu.RLock()
	channel := b.channels[ev.Type]
	subs := make([]*Subscription, 0, len(channel))
	for _, s := range channel {
		if s.active.Load() && s.Filter.Matches(ev) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Opts.Priority != subs[j].Opts.Priority {
			return subs[i].Opts.Priority > subs[j].Opts.Priority
		}
		return subs[i].seq < subs[j].seq
	})
	return subs
}

// deliverWithRetry invokes the handler with bounded retries, doubling the
// delay each attempt (base, 2x, 4x, ...). Exhausted retries are logged as
// a permanent failure; there is no dead-letter queue on this path.
func (b *Bus) deliverWithRetry(ctx context.Context, sub *Subscription, ev *event.Event) error {
	attempts := sub.Opts.RetryAttempts
	if attempts == 0 {
		attempts = b.cfg.MaxRetries
	} else if attempts < 0 {
		attempts = 0
	}

	var err error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			delay := b.cfg.RetryDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			b.metrics.recordRetry()
		}

		start := time.Now()
		err = b.invoke(ctx, sub, ev)
		if err == nil {
			b.metrics.recordProcessed(time.Since(start))
			sub.lastTriggered.Store(time.Now().UnixNano())
			return nil
		}
		b.metrics.recordAttemptFailure(time.Since(start))
	}

	b.metrics.recordFailure()
	b.log.Error("EVENT_DELIVERY_FAILED",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"subscription_id", sub.ID,
		"attempts", attempts+1,
		"err", err,
	)
	return fmt.Errorf("subscription %s: %w", sub.ID, err)
}

// invoke races the handler against its timeout. On timeout only the wait
// is abandoned; the handler goroutine keeps running and must check its
// context to stop early.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev *event.Event) error {
	timeout := sub.Opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("HANDLER_PANIC_RECOVERED",
					"subscription_id", sub.ID,
					"event_id", ev.ID,
					"err", r,
					"stack", string(debug.Stack()),
				)
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- sub.handler(hctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return fmt.Errorf("%w after %s", ErrHandlerTimeout, timeout)
	}
}

func (b *Bus) export(ctx context.Context, ev *event.Event) {
	if b.exporter == nil {
		return
	}
	if err := b.exporter.Publish(ctx, ev); err != nil {
		b.log.Warn("EVENT_EXPORT_FAILED", "event_id", ev.ID, "err", err)
	}
}

// Subscribe registers a handler for a single event type and returns the
// subscription id.
func (b *Bus) Subscribe(t event.Type, h Handler, opts *SubscribeOptions) (string, error) {
	return b.SubscribeMultiple([]event.Type{t}, h, opts)
}

// SubscribeWithFilter registers a handler whose filter is checked before
// every invocation.
func (b *Bus) SubscribeWithFilter(t event.Type, f *event.Filter, h Handler, opts *SubscribeOptions) (string, error) {
	return b.register([]event.Type{t}, f, h, opts)
}

// SubscribeMultiple registers one handler against several event-type
// channels under a single subscription id.
func (b *Bus) SubscribeMultiple(types []event.Type, h Handler, opts *SubscribeOptions) (string, error) {
	return b.register(types, nil, h, opts)
}

func (b *Bus) register(types []event.Type, f *event.Filter, h Handler, opts *SubscribeOptions) (string, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	if h == nil {
		return "", ErrNilHandler
	}
	if len(types) == 0 {
		return "", ErrNoTypes
	}
	for _, t := range types {
		if !t.Known() {
			return "", fmt.Errorf("%w: unknown type %q", event.ErrValidation, t)
		}
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		Types:     append([]event.Type(nil), types...),
		Filter:    f,
		CreatedAt: time.Now(),
		handler:   h,
		seq:       b.seq.Add(1),
	}
	if opts != nil {
		sub.Opts = *opts
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[sub.ID] = sub
	for _, t := range types {
		b.channels[t] = append(b.channels[t], sub)
	}
	b.mu.Unlock()
	b.metrics.addSubscriptions(1)

	return sub.ID, nil
}

// Unsubscribe deactivates and removes the subscription from every channel
// it was registered on. Returns whether a subscription existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	sub.active.Store(false)
	delete(b.subs, id)
	for _, t := range sub.Types {
		channel := b.channels[t]
		for i, s := range channel {
			if s.ID == id {
				b.channels[t] = append(channel[:i], channel[i+1:]...)
				break
			}
		}
		if len(b.channels[t]) == 0 {
			delete(b.channels, t)
		}
	}
	b.mu.Unlock()
	b.metrics.addSubscriptions(-1)
	return true
}

// Metrics returns a point-in-time snapshot of the aggregate counters.
func (b *Bus) Metrics() Snapshot { return b.metrics.Snapshot() }

// ResetMetrics zeroes every counter. The active-subscription gauge is
// recomputed from the registry rather than cleared.
func (b *Bus) ResetMetrics() {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	b.metrics.Reset(n)
}

// Shutdown flushes buffered events, clears the registry and stops the
// background loop. Safe to call more than once; later calls are no-ops.
func (b *Bus) Shutdown(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.stopCh)

	// Drain whatever batching left behind before tearing delivery down.
	for {
		b.bufMu.Lock()
		batch := b.takeBatchLocked()
		b.bufMu.Unlock()
		if len(batch) == 0 {
			break
		}
		for _, ev := range batch {
			_ = b.deliverAll(ctx, ev)
		}
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn("BUS_SHUTDOWN_TIMEOUT", "err", ctx.Err())
	}

	b.cancel()

	b.mu.Lock()
	b.channels = make(map[event.Type][]*Subscription)
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()
	b.metrics.setBufferSize(0)

	b.log.Info("EVENT_BUS_STOPPED")
	return nil
}
