package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu              sync.Mutex
	requestCount    map[string]int64
	requestLatency  map[string]time.Duration
	errorCount      map[string]int64
	fanoutDelivered map[string]int64
	fanoutFailed    map[string]int64
	resolutions     map[string]int64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Requests        map[string]int64 `json:"requests"`
	RequestLatency  map[string]int64 `json:"request_latency_ms"`
	Errors          map[string]int64 `json:"errors"`
	FanoutDelivered map[string]int64 `json:"fanout_delivered"`
	FanoutFailed    map[string]int64 `json:"fanout_failed"`
	Resolutions     map[string]int64 `json:"resolutions"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		requestLatency:  make(map[string]time.Duration),
		errorCount:      make(map[string]int64),
		fanoutDelivered: make(map[string]int64),
		fanoutFailed:    make(map[string]int64),
		resolutions:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestLatency[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordFanout counts one frame delivery attempt for an event name.
func (m *Metrics) RecordFanout(event string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.fanoutDelivered[event]++
		return
	}
	m.fanoutFailed[event]++
}

// RecordResolution counts resolver outcomes (active, promoted, reopened, created).
func (m *Metrics) RecordResolution(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[outcome]++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := make(map[string]int64, len(m.requestLatency))
	for k, total := range m.requestLatency {
		if n := m.requestCount[k]; n > 0 {
			latency[k] = (total / time.Duration(n)).Milliseconds()
		}
	}
	return Snapshot{
		Requests:        copyCounts(m.requestCount),
		RequestLatency:  latency,
		Errors:          copyCounts(m.errorCount),
		FanoutDelivered: copyCounts(m.fanoutDelivered),
		FanoutFailed:    copyCounts(m.fanoutFailed),
		Resolutions:     copyCounts(m.resolutions),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
