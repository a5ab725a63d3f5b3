package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// metricsKeyPrefix is the Redis key prefix for service snapshots.
	metricsKeyPrefix = "metrics:"
	// metricsTTL is how long a snapshot stays in Redis if not refreshed.
	metricsTTL = 2 * time.Minute
	// defaultReportInterval is the default cadence of Redis writes.
	defaultReportInterval = 30 * time.Second
)

// reportedSnapshot is the JSON shape written under metrics:<service>.
type reportedSnapshot struct {
	ServiceName string      `json:"service_name"`
	LastUpdated time.Time   `json:"last_updated"`
	Status      Status      `json:"status"`
	Metrics     Sample      `json:"metrics"`
	Health      HealthCheck `json:"health"`
	OpenAlerts  int         `json:"open_alerts"`
}

// Reporter periodically publishes monitor snapshots to Redis so
// operational tooling can read every service's state from one place.
type Reporter struct {
	serviceName string
	client      *redis.Client
	monitor     *Monitor
	interval    time.Duration
	log         *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReporter(serviceName string, client *redis.Client, m *Monitor, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		serviceName: serviceName,
		client:      client,
		monitor:     m,
		interval:    defaultReportInterval,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

// SetInterval overrides the report cadence. Call before Start.
func (r *Reporter) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Start begins periodic reporting until ctx ends or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.write(context.Background())
				return
			case <-r.stopCh:
				r.write(context.Background())
				return
			case <-ticker.C:
				r.write(ctx)
			}
		}
	}()
}

// Stop halts reporting after one final write. Idempotent.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Key returns the Redis key this reporter writes to.
func (r *Reporter) Key() string {
	return metricsKeyPrefix + r.serviceName
}

func (r *Reporter) write(ctx context.Context) {
	health := r.monitor.GetHealthCheck(ctx)
	open := false
	snap := reportedSnapshot{
		ServiceName: r.serviceName,
		LastUpdated: time.Now().UTC(),
		Status:      health.Status,
		Metrics:     r.monitor.CollectMetrics(),
		Health:      health,
		OpenAlerts:  len(r.monitor.Alerts(&open)),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		r.log.Error("METRICS_MARSHAL_FAILED", "err", err)
		return
	}
	if err := r.client.Set(ctx, r.Key(), data, metricsTTL).Err(); err != nil {
		r.log.Warn("METRICS_REPORT_FAILED", "key", r.Key(), "err", err)
		return
	}
	r.log.Debug("METRICS_REPORTED", "key", r.Key(), "bytes", len(data))
}

// ReadSnapshot fetches a previously reported snapshot for a service.
func ReadSnapshot(ctx context.Context, client *redis.Client, serviceName string) (map[string]any, error) {
	data, err := client.Get(ctx, metricsKeyPrefix+serviceName).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read metrics for %s: %w", serviceName, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode metrics for %s: %w", serviceName, err)
	}
	return out, nil
}
