// Package monitor provides observability over the bus/persistence pair:
// periodic metrics sampling with bounded history, four-way health
// classification and threshold-driven alerting.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

var ErrAlertNotFound = errors.New("alert not found")

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one observed condition. Lifecycle is one-way: open, then
// resolved. A recurring condition opens a new alert.
type Alert struct {
	ID         string    `json:"id"`
	Severity   Severity  `json:"severity"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Status classifies overall service health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one health probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthCheck aggregates the four probes.
type HealthCheck struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Sample is one periodic metrics observation.
type Sample struct {
	At          time.Time    `json:"at"`
	Bus         bus.Snapshot `json:"bus"`
	HeapBytes   uint64       `json:"heap_bytes"`
	SysBytes    uint64       `json:"sys_bytes"`
	Goroutines  int          `json:"goroutines"`
	NumGC       uint32       `json:"num_gc"`
	Events      uint64       `json:"events"`
	ErrorsTotal uint64       `json:"errors_total"`
}

// Thresholds are the aggregate alert trigger points.
type Thresholds struct {
	MaxErrorRate      float64
	MaxAvgLatency     time.Duration
	MaxQueueSize      int
	MaxHeapBytes      uint64
	MaxProcessingTime time.Duration
}

// Config is the recognized monitoring tuning surface.
type Config struct {
	MetricsInterval time.Duration
	HealthInterval  time.Duration
	RetentionDays   int
	MaxHistory      int
	Thresholds      Thresholds
}

func DefaultConfig() Config {
	return Config{
		MetricsInterval: 30 * time.Second,
		HealthInterval:  time.Minute,
		RetentionDays:   7,
		MaxHistory:      2880, // one day at the default interval
		Thresholds: Thresholds{
			MaxErrorRate:      0.05,
			MaxAvgLatency:     500 * time.Millisecond,
			MaxQueueSize:      5000,
			MaxHeapBytes:      1 << 30,
			MaxProcessingTime: 2 * time.Second,
		},
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	t := &c.Thresholds
	if t.MaxErrorRate <= 0 {
		t.MaxErrorRate = d.Thresholds.MaxErrorRate
	}
	if t.MaxAvgLatency <= 0 {
		t.MaxAvgLatency = d.Thresholds.MaxAvgLatency
	}
	if t.MaxQueueSize <= 0 {
		t.MaxQueueSize = d.Thresholds.MaxQueueSize
	}
	if t.MaxHeapBytes <= 0 {
		t.MaxHeapBytes = d.Thresholds.MaxHeapBytes
	}
	if t.MaxProcessingTime <= 0 {
		t.MaxProcessingTime = d.Thresholds.MaxProcessingTime
	}
}

// BusProbe is the slice of the bus the monitor observes.
type BusProbe interface {
	Metrics() bus.Snapshot
}

// Monitor samples bus metrics and process health on two independent
// timers and keeps the alert registry.
type Monitor struct {
	probe BusProbe
	store storage.Store
	cfg   Config
	log   *slog.Logger

	mu          sync.RWMutex
	history     []Sample
	alerts      map[string]*Alert
	events      uint64
	errorsTotal uint64

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(probe BusProbe, store storage.Store, cfg Config, log *slog.Logger) *Monitor {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		probe:  probe,
		store:  store,
		cfg:    cfg,
		log:    log,
		alerts: make(map[string]*Alert),
	}
}

// StartMonitoring launches the metrics and health timers. Idempotent
// while running.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(2)
	go m.runMetricsLoop(stopCh)
	go m.runHealthLoop(stopCh)
	m.log.Info("MONITORING_STARTED",
		"metrics_interval", m.cfg.MetricsInterval,
		"health_interval", m.cfg.HealthInterval)
}

// StopMonitoring stops both timers. Idempotent.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("MONITORING_STOPPED")
}

func (m *Monitor) runMetricsLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CollectMetrics()
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) runHealthLoop(stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc := m.GetHealthCheck(context.Background())
			if hc.Status != StatusHealthy {
				m.log.Warn("HEALTH_CHECK_DEGRADED", "status", hc.Status, "checks", hc.Checks)
			}
		case <-stopCh:
			return
		}
	}
}

// RecordEvent is called by processing pipelines after each handled
// event. It evaluates the per-event alert conditions (slow handler,
// processing error).
func (m *Monitor) RecordEvent(ev *event.Event, took time.Duration, procErr error) {
	m.mu.Lock()
	m.events++
	if procErr != nil {
		m.errorsTotal++
	}
	m.mu.Unlock()

	if procErr != nil {
		m.log.Error("EVENT_PROCESSING_FAILED",
			"event_id", ev.ID, "event_type", ev.Type, "took", took, "err", procErr)
		m.CreateAlert(SeverityWarning, "processing_error",
			fmt.Sprintf("event %s (%s) failed: %v", ev.ID, ev.Type, procErr))
		return
	}
	if took > m.cfg.Thresholds.MaxProcessingTime {
		m.CreateAlert(SeverityWarning, "slow_processing",
			fmt.Sprintf("event %s (%s) took %s", ev.ID, ev.Type, took))
	}
	m.log.Debug("EVENT_PROCESSED", "event_id", ev.ID, "event_type", ev.Type, "took", took)
}

// CollectMetrics snapshots the bus and the runtime, appends to the
// bounded history, prunes expired records and evaluates the aggregate
// alert conditions.
func (m *Monitor) CollectMetrics() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	s := Sample{
		At:          time.Now().UTC(),
		Bus:         m.probe.Metrics(),
		HeapBytes:   ms.HeapAlloc,
		SysBytes:    ms.Sys,
		Goroutines:  runtime.NumGoroutine(),
		NumGC:       ms.NumGC,
		Events:      m.events,
		ErrorsTotal: m.errorsTotal,
	}
	m.history = append(m.history, s)
	if len(m.history) > m.cfg.MaxHistory {
		m.history = m.history[len(m.history)-m.cfg.MaxHistory:]
	}
	m.pruneLocked(s.At)
	m.mu.Unlock()

	m.evaluateThresholds(s)
	return s
}

// pruneLocked drops history samples and alerts past the retention
// window. Caller holds the write lock.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -m.cfg.RetentionDays)
	i := 0
	for i < len(m.history) && m.history[i].At.Before(cutoff) {
		i++
	}
	m.history = m.history[i:]
	for id, a := range m.alerts {
		if a.CreatedAt.Before(cutoff) {
			delete(m.alerts, id)
		}
	}
}

func (m *Monitor) evaluateThresholds(s Sample) {
	t := m.cfg.Thresholds
	if s.Bus.FailureRate > t.MaxErrorRate {
		m.CreateAlert(SeverityCritical, "error_rate",
			fmt.Sprintf("failure rate %.2f%% exceeds %.2f%%", s.Bus.FailureRate*100, t.MaxErrorRate*100))
	}
	if avg := time.Duration(s.Bus.AvgProcessingMs * float64(time.Millisecond)); avg > t.MaxAvgLatency {
		m.CreateAlert(SeverityWarning, "avg_latency",
			fmt.Sprintf("average processing latency %s exceeds %s", avg, t.MaxAvgLatency))
	}
	if s.Bus.BufferSize > t.MaxQueueSize {
		m.CreateAlert(SeverityWarning, "queue_size",
			fmt.Sprintf("buffer backlog %d exceeds %d", s.Bus.BufferSize, t.MaxQueueSize))
	}
	if s.HeapBytes > t.MaxHeapBytes {
		m.CreateAlert(SeverityCritical, "memory",
			fmt.Sprintf("heap usage %d bytes exceeds %d", s.HeapBytes, t.MaxHeapBytes))
	}
}

// CreateAlert opens a new alert unless an unresolved alert of the same
// kind is already open; repeated evaluations of a standing condition
// must not flood the registry.
func (m *Monitor) CreateAlert(sev Severity, kind, message string) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.Kind == kind && !a.Resolved {
			return a
		}
	}
	a := &Alert{
		ID:        uuid.NewString(),
		Severity:  sev,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	m.alerts[a.ID] = a
	m.log.Warn("ALERT_OPENED", "alert_id", a.ID, "severity", sev, "kind", kind, "message", message)
	return a
}

// ResolveAlert transitions an alert to resolved. Resolving twice is a
// no-op; there is no way back to open.
func (m *Monitor) ResolveAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrAlertNotFound
	}
	if a.Resolved {
		return nil
	}
	a.Resolved = true
	a.ResolvedAt = time.Now().UTC()
	m.log.Info("ALERT_RESOLVED", "alert_id", id, "kind", a.Kind)
	return nil
}

// Alerts lists alerts newest-first. resolved narrows the result when
// non-nil.
func (m *Monitor) Alerts(resolved *bool) []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if resolved != nil && a.Resolved != *resolved {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetHealthCheck runs the four probes concurrently. A failed bus or
// persistence probe is critical; memory and performance failures alone
// degrade.
func (m *Monitor) GetHealthCheck(ctx context.Context) HealthCheck {
	checks := make([]Check, 4)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c := Check{Name: "bus", OK: m.probe != nil}
		if !c.OK {
			c.Detail = "bus not attached"
		} else {
			snap := m.probe.Metrics()
			c.Detail = fmt.Sprintf("%d subscriptions", snap.ActiveSubscriptions)
		}
		checks[0] = c
		return nil
	})
	g.Go(func() error {
		c := Check{Name: "persistence", OK: true}
		if m.store == nil {
			c.OK = false
			c.Detail = "store not attached"
		} else if err := m.store.Ping(ctx); err != nil {
			c.OK = false
			c.Detail = err.Error()
		}
		checks[1] = c
		return nil
	})
	g.Go(func() error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		c := Check{Name: "memory", OK: ms.HeapAlloc <= m.cfg.Thresholds.MaxHeapBytes}
		c.Detail = fmt.Sprintf("heap %d bytes", ms.HeapAlloc)
		checks[2] = c
		return nil
	})
	g.Go(func() error {
		c := Check{Name: "performance", OK: true}
		if m.probe != nil {
			snap := m.probe.Metrics()
			avg := time.Duration(snap.AvgProcessingMs * float64(time.Millisecond))
			c.OK = avg <= m.cfg.Thresholds.MaxAvgLatency &&
				snap.FailureRate <= m.cfg.Thresholds.MaxErrorRate
			c.Detail = fmt.Sprintf("avg %s, failure rate %.2f%%", avg, snap.FailureRate*100)
		}
		checks[3] = c
		return nil
	})
	g.Wait()

	hc := HealthCheck{Checks: checks, CheckedAt: time.Now().UTC(), Status: StatusHealthy}
	if !checks[0].OK || !checks[1].OK {
		hc.Status = StatusUnhealthy
	} else if !checks[2].OK || !checks[3].OK {
		hc.Status = StatusDegraded
	}
	return hc
}

// Report is the composite observability snapshot.
type Report struct {
	GeneratedAt   time.Time    `json:"generated_at"`
	Metrics       Sample       `json:"metrics"`
	Health        HealthCheck  `json:"health"`
	ActiveAlerts  int          `json:"active_alerts"`
	TotalAlerts   int          `json:"total_alerts"`
	RecentHistory []Sample     `json:"recent_history"`
	TopEventTypes []TypeVolume `json:"top_event_types"`
}

// TypeVolume pairs an event type with its observed count.
type TypeVolume struct {
	Type  event.Type `json:"type"`
	Count uint64     `json:"count"`
}

const reportHistoryWindow = 12

// GenerateReport composes current metrics, health, alert counts, the
// recent history tail and the highest-volume event types.
func (m *Monitor) GenerateReport(ctx context.Context) *Report {
	sample := m.CollectMetrics()
	health := m.GetHealthCheck(ctx)

	m.mu.RLock()
	active := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			active++
		}
	}
	total := len(m.alerts)
	tail := m.history
	if len(tail) > reportHistoryWindow {
		tail = tail[len(tail)-reportHistoryWindow:]
	}
	recent := make([]Sample, len(tail))
	copy(recent, tail)
	m.mu.RUnlock()

	top := make([]TypeVolume, 0, len(sample.Bus.EventsByType))
	for t, n := range sample.Bus.EventsByType {
		top = append(top, TypeVolume{Type: t, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return &Report{
		GeneratedAt:   time.Now().UTC(),
		Metrics:       sample,
		Health:        health,
		ActiveAlerts:  active,
		TotalAlerts:   total,
		RecentHistory: recent,
		TopEventTypes: top,
	}
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}
