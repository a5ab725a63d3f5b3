package bus

import (
	"sync"
	"time"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

// Metrics accumulates the process-wide counters mutated on every publish
// and delivery attempt. One mutex guards the whole record; the maps and
// the rolling average have to move together.
type Metrics struct {
	mu sync.RWMutex

	totalEvents uint64
	byType      map[event.Type]uint64
	byPriority  map[string]uint64

	processed    uint64
	failed       uint64
	retries      uint64
	totalLatency time.Duration
	attempts     uint64

	bufferSize int
	activeSubs int

	since time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		byType:     make(map[event.Type]uint64),
		byPriority: make(map[string]uint64),
		since:      time.Now(),
	}
}

func (m *Metrics) recordPublished(t event.Type, p event.Priority) {
	m.mu.Lock()
	m.totalEvents++
	m.byType[t]++
	m.byPriority[p.String()]++
	m.mu.Unlock()
}

func (m *Metrics) recordProcessed(latency time.Duration) {
	m.mu.Lock()
	m.processed++
	m.attempts++
	m.totalLatency += latency
	m.mu.Unlock()
}

// recordAttemptFailure folds a failed attempt's latency into the rolling
// average without counting it as a terminal failure.
func (m *Metrics) recordAttemptFailure(latency time.Duration) {
	m.mu.Lock()
	m.attempts++
	m.totalLatency += latency
	m.mu.Unlock()
}

func (m *Metrics) recordFailure() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *Metrics) recordRetry() {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *Metrics) setBufferSize(n int) {
	m.mu.Lock()
	m.bufferSize = n
	m.mu.Unlock()
}

func (m *Metrics) addSubscriptions(delta int) {
	m.mu.Lock()
	m.activeSubs += delta
	if m.activeSubs < 0 {
		m.activeSubs = 0
	}
	m.mu.Unlock()
}

// Snapshot is the read-only aggregate view returned to callers.
type Snapshot struct {
	TotalEvents      uint64                `json:"total_events"`
	EventsByType     map[event.Type]uint64 `json:"events_by_type"`
	EventsByPriority map[string]uint64     `json:"events_by_priority"`

	Processed       uint64  `json:"processed"`
	Failed          uint64  `json:"failed"`
	Retries         uint64  `json:"retries"`
	FailureRate     float64 `json:"failure_rate"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`

	BufferSize          int `json:"buffer_size"`
	ActiveSubscriptions int `json:"active_subscriptions"`

	Since time.Time `json:"since"`
}

// Snapshot copies the counters under the read lock. The returned maps are
// owned by the caller.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[event.Type]uint64, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	byPriority := make(map[string]uint64, len(m.byPriority))
	for k, v := range m.byPriority {
		byPriority[k] = v
	}

	snap := Snapshot{
		TotalEvents:         m.totalEvents,
		EventsByType:        byType,
		EventsByPriority:    byPriority,
		Processed:           m.processed,
		Failed:              m.failed,
		Retries:             m.retries,
		BufferSize:          m.bufferSize,
		ActiveSubscriptions: m.activeSubs,
		Since:               m.since,
	}
	if total := m.processed + m.failed; total > 0 {
		snap.FailureRate = float64(m.failed) / float64(total)
	}
	if m.attempts > 0 {
		snap.AvgProcessingMs = float64(m.totalLatency.Milliseconds()) / float64(m.attempts)
	}
	return snap
}

// Reset zeroes all counters. activeSubs is restored from the registry
// size the bus passes in; the gauge must keep tracking reality.
func (m *Metrics) Reset(activeSubs int) {
	m.mu.Lock()
	m.totalEvents = 0
	m.byType = make(map[event.Type]uint64)
	m.byPriority = make(map[string]uint64)
	m.processed = 0
	m.failed = 0
	m.retries = 0
	m.totalLatency = 0
	m.attempts = 0
	m.bufferSize = 0
	m.activeSubs = activeSubs
	m.since = time.Now()
	m.mu.Unlock()
}
