package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/bus"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
	"github.com/freelancing-solutions/jobfinders-event-service/internal/storage"
)

type fakeProbe struct {
	snap bus.Snapshot
}

func (p *fakeProbe) Metrics() bus.Snapshot { return p.snap }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(t *testing.T, probe BusProbe, store storage.Store, cfg Config) *Monitor {
	t.Helper()
	if probe == nil {
		probe = &fakeProbe{}
	}
	if store == nil {
		store = storage.NewMemoryStore(storage.Config{})
	}
	m := New(probe, store, cfg, testLogger())
	t.Cleanup(m.StopMonitoring)
	return m
}

func monitoredEvent() *event.Event {
	return &event.Event{
		ID:        "ev-1",
		Type:      event.MatchCreated,
		Timestamp: time.Now(),
		Priority:  event.PriorityNormal,
		Source:    "test",
	}
}

func TestRecordEventOpensAlerts(t *testing.T) {
	m := newTestMonitor(t, nil, nil, Config{
		Thresholds: Thresholds{MaxProcessingTime: 50 * time.Millisecond},
	})

	m.RecordEvent(monitoredEvent(), 10*time.Millisecond, nil)
	assert.Empty(t, m.Alerts(nil))

	m.RecordEvent(monitoredEvent(), 200*time.Millisecond, nil)
	alerts := m.Alerts(nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, "slow_processing", alerts[0].Kind)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)

	m.RecordEvent(monitoredEvent(), time.Millisecond, errors.New("handler exploded"))
	kinds := map[string]bool{}
	for _, a := range m.Alerts(nil) {
		kinds[a.Kind] = true
	}
	assert.True(t, kinds["processing_error"])
}

func TestCreateAlertDedupesWhileOpen(t *testing.T) {
	m := newTestMonitor(t, nil, nil, Config{})

	first := m.CreateAlert(SeverityWarning, "queue_size", "backlog at 6000")
	second := m.CreateAlert(SeverityWarning, "queue_size", "backlog at 7000")
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, m.Alerts(nil), 1)

	require.NoError(t, m.ResolveAlert(first.ID))
	third := m.CreateAlert(SeverityWarning, "queue_size", "backlog at 8000")
	assert.NotEqual(t, first.ID, third.ID)
	assert.Len(t, m.Alerts(nil), 2)
}

func TestResolveAlertOneWay(t *testing.T) {
	m := newTestMonitor(t, nil, nil, Config{})

	a := m.CreateAlert(SeverityInfo, "test", "once")
	require.NoError(t, m.ResolveAlert(a.ID))
	require.NoError(t, m.ResolveAlert(a.ID))
	assert.ErrorIs(t, m.ResolveAlert("missing"), ErrAlertNotFound)

	resolved := true
	got := m.Alerts(&resolved)
	require.Len(t, got, 1)
	assert.True(t, got[0].Resolved)
	assert.False(t, got[0].ResolvedAt.IsZero())

	open := false
	assert.Empty(t, m.Alerts(&open))
}

func TestCollectMetricsBoundsHistory(t *testing.T) {
	m := newTestMonitor(t, nil, nil, Config{MaxHistory: 3})

	for i := 0; i < 5; i++ {
		m.CollectMetrics()
	}
	history := m.History()
	require.Len(t, history, 3)
	assert.NotZero(t, history[0].Goroutines)
	assert.NotZero(t, history[0].HeapBytes)
}

func TestCollectMetricsThresholdAlerts(t *testing.T) {
	probe := &fakeProbe{snap: bus.Snapshot{
		FailureRate:     0.5,
		AvgProcessingMs: 900,
		BufferSize:      10_000,
	}}
	m := newTestMonitor(t, probe, nil, Config{
		Thresholds: Thresholds{
			MaxErrorRate:  0.05,
			MaxAvgLatency: 500 * time.Millisecond,
			MaxQueueSize:  5000,
		},
	})

	m.CollectMetrics()

	kinds := map[string]Severity{}
	for _, a := range m.Alerts(nil) {
		kinds[a.Kind] = a.Severity
	}
	assert.Equal(t, SeverityCritical, kinds["error_rate"])
	assert.Equal(t, SeverityWarning, kinds["avg_latency"])
	assert.Equal(t, SeverityWarning, kinds["queue_size"])
}

func TestHealthCheckHealthy(t *testing.T) {
	m := newTestMonitor(t, &fakeProbe{}, nil, Config{})

	hc := m.GetHealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, hc.Status)
	require.Len(t, hc.Checks, 4)
	for _, c := range hc.Checks {
		assert.True(t, c.OK, c.Name)
	}
}

func TestHealthCheckUnhealthyWhenStoreDown(t *testing.T) {
	store := storage.NewMemoryStore(storage.Config{})
	require.NoError(t, store.Close())
	m := newTestMonitor(t, &fakeProbe{}, store, Config{})

	hc := m.GetHealthCheck(context.Background())
	assert.Equal(t, StatusUnhealthy, hc.Status)
}

func TestHealthCheckDegradedOnPerformance(t *testing.T) {
	probe := &fakeProbe{snap: bus.Snapshot{AvgProcessingMs: 5000}}
	m := newTestMonitor(t, probe, nil, Config{
		Thresholds: Thresholds{MaxAvgLatency: 500 * time.Millisecond},
	})

	hc := m.GetHealthCheck(context.Background())
	assert.Equal(t, StatusDegraded, hc.Status)
}

func TestGenerateReport(t *testing.T) {
	probe := &fakeProbe{snap: bus.Snapshot{
		TotalEvents: 10,
		EventsByType: map[event.Type]uint64{
			event.MatchCreated:  5,
			event.JobPosted:     3,
			event.MatchAccepted: 2,
		},
	}}
	m := newTestMonitor(t, probe, nil, Config{})

	a := m.CreateAlert(SeverityWarning, "one", "standing")
	b := m.CreateAlert(SeverityInfo, "two", "transient")
	require.NoError(t, m.ResolveAlert(b.ID))
	_ = a

	report := m.GenerateReport(context.Background())
	assert.Equal(t, 1, report.ActiveAlerts)
	assert.Equal(t, 2, report.TotalAlerts)
	assert.NotEmpty(t, report.RecentHistory)
	require.Len(t, report.TopEventTypes, 3)
	assert.Equal(t, event.MatchCreated, report.TopEventTypes[0].Type)
	assert.Equal(t, uint64(5), report.TopEventTypes[0].Count)
	assert.Equal(t, StatusHealthy, report.Health.Status)
}

func TestStartStopIdempotent(t *testing.T) {
	m := newTestMonitor(t, nil, nil, Config{
		MetricsInterval: 10 * time.Millisecond,
		HealthInterval:  10 * time.Millisecond,
	})

	m.StartMonitoring()
	m.StartMonitoring()

	assert.Eventually(t, func() bool {
		return len(m.History()) > 0
	}, time.Second, 5*time.Millisecond)

	m.StopMonitoring()
	m.StopMonitoring()

	n := len(m.History())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(m.History()))
}
