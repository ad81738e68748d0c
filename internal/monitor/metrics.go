package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks pipeline throughput and latency.
type Metrics struct {
	// Latency histograms
	DecisionLatency *LatencyHistogram // signal receipt to order submission
	FeedLatency     *LatencyHistogram // bar receipt to signal publication
	APILatency      *LatencyHistogram // HTTP request handling

	// Counters
	signals       uint64
	ordersPlaced  uint64
	fills         uint64
	brokerRetries uint64

	mu    sync.Mutex
	drops map[string]uint64 // by reason
}

// NewMetrics creates a metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		DecisionLatency: NewLatencyHistogram(1000),
		FeedLatency:     NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		drops:           make(map[string]uint64),
	}
}

// LatencyHistogram tracks latency samples with a sliding window and lazy
// stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncSignals counts a signal consumed by the engine.
func (m *Metrics) IncSignals() {
	atomic.AddUint64(&m.signals, 1)
}

// IncOrders counts an order handed to the lifecycle tracker.
func (m *Metrics) IncOrders() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncFills counts a committed fill.
func (m *Metrics) IncFills() {
	atomic.AddUint64(&m.fills, 1)
}

// AddRetries accumulates broker place retries.
func (m *Metrics) AddRetries(n int) {
	if n > 0 {
		atomic.AddUint64(&m.brokerRetries, uint64(n))
	}
}

// IncDrop counts a dropped signal by rejection reason.
func (m *Metrics) IncDrop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[reason]++
}

// ObserveDecision records the signal-to-submission latency.
func (m *Metrics) ObserveDecision(d time.Duration) {
	m.DecisionLatency.RecordDuration(d)
}

// ObserveFeed records the bar-to-signal latency.
func (m *Metrics) ObserveFeed(d time.Duration) {
	m.FeedLatency.RecordDuration(d)
}

// Snapshot is a point-in-time metrics view.
type Snapshot struct {
	DecisionLatency LatencyStats      `json:"decision_latency"`
	FeedLatency     LatencyStats      `json:"feed_latency"`
	APILatency      LatencyStats      `json:"api_latency"`
	Signals         uint64            `json:"signals"`
	OrdersPlaced    uint64            `json:"orders_placed"`
	Fills           uint64            `json:"fills"`
	BrokerRetries   uint64            `json:"broker_retries"`
	Drops           map[string]uint64 `json:"drops"`
	GoroutineCount  int               `json:"goroutine_count"`
	HeapAlloc       uint64            `json:"heap_alloc_bytes"`
	Timestamp       time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	drops := make(map[string]uint64, len(m.drops))
	for k, v := range m.drops {
		drops[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		DecisionLatency: m.DecisionLatency.Stats(),
		FeedLatency:     m.FeedLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		Signals:         atomic.LoadUint64(&m.signals),
		OrdersPlaced:    atomic.LoadUint64(&m.ordersPlaced),
		Fills:           atomic.LoadUint64(&m.fills),
		BrokerRetries:   atomic.LoadUint64(&m.brokerRetries),
		Drops:           drops,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now().UTC(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
