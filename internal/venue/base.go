// Package venue holds the shared plumbing every venue adapter builds on:
// connection state, per-venue rate limiting, and rolling call metrics.
package venue

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/misterlabs/venuex/pkg/types"
)

// Base provides the common adapter state. Adapters embed it and keep their
// protocol specifics to themselves.
type Base struct {
	config    types.VenueConfig
	logger    *logrus.Entry
	connected bool
	mu        sync.RWMutex

	limiter *RateLimiter
	metrics *metricsRecorder
}

// NewBase creates the shared state for one adapter.
func NewBase(cfg types.VenueConfig) *Base {
	return &Base{
		config:  cfg,
		logger:  logrus.WithField("venue", cfg.Name),
		limiter: NewRateLimiter(cfg.RateLimits),
		metrics: newMetricsRecorder(),
	}
}

// Config returns the venue's static configuration.
func (b *Base) Config() types.VenueConfig { return b.config }

// Logger returns the venue-scoped log entry.
func (b *Base) Logger() *logrus.Entry { return b.logger }

// IsConnected reports the adapter's connection state.
func (b *Base) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SetConnected flips the adapter's connection state.
func (b *Base) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
}

// CheckRequest consumes one request from the per-minute budget.
func (b *Base) CheckRequest() error { return b.limiter.CheckRequest() }

// CheckOrder consumes one order from the per-second and daily budgets.
func (b *Base) CheckOrder() error { return b.limiter.CheckOrder() }

// RecordCall feeds one completed venue call into the rolling metrics.
func (b *Base) RecordCall(latency time.Duration, err error) {
	b.metrics.record(latency, err)
}

// Metrics returns a snapshot of the rolling call metrics.
func (b *Base) Metrics() types.VenueMetrics { return b.metrics.snapshot() }

// RateLimiter enforces a venue's call budget. Zero limits disable the
// corresponding check.
type RateLimiter struct {
	mu     sync.Mutex
	limits types.RateLimits

	requestCount int
	minuteStart  time.Time

	orderCount  int
	secondStart time.Time

	dailyOrders int
	dayStart    time.Time
}

// NewRateLimiter creates a limiter over the given budget.
func NewRateLimiter(limits types.RateLimits) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		limits:      limits,
		minuteStart: now,
		secondStart: now,
		dayStart:    now,
	}
}

// CheckRequest admits one request within the per-minute budget.
func (r *RateLimiter) CheckRequest() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.minuteStart) >= time.Minute {
		r.requestCount = 0
		r.minuteStart = now
	}
	if r.limits.RequestsPerMinute > 0 && r.requestCount >= r.limits.RequestsPerMinute {
		return fmt.Errorf("rate limit exceeded: %d requests per minute", r.limits.RequestsPerMinute)
	}
	r.requestCount++
	return nil
}

// CheckOrder admits one order within the per-second and daily budgets.
func (r *RateLimiter) CheckOrder() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.secondStart) >= time.Second {
		r.orderCount = 0
		r.secondStart = now
	}
	if now.YearDay() != r.dayStart.YearDay() || now.Year() != r.dayStart.Year() {
		r.dailyOrders = 0
		r.dayStart = now
	}

	if r.limits.OrdersPerSecond > 0 && r.orderCount >= r.limits.OrdersPerSecond {
		return fmt.Errorf("rate limit exceeded: %d orders per second", r.limits.OrdersPerSecond)
	}
	if r.limits.OrdersPerDay > 0 && r.dailyOrders >= r.limits.OrdersPerDay {
		return fmt.Errorf("rate limit exceeded: %d orders per day", r.limits.OrdersPerDay)
	}
	r.orderCount++
	r.dailyOrders++
	return nil
}

// metricsRecorder keeps cumulative call statistics with a running latency
// average.
type metricsRecorder struct {
	mu           sync.Mutex
	callCount    int64
	errorCount   int64
	totalLatency time.Duration
	lastSuccess  time.Time
}

func newMetricsRecorder() *metricsRecorder { return &metricsRecorder{} }

func (m *metricsRecorder) record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.totalLatency += latency
	if err != nil {
		m.errorCount++
		return
	}
	m.lastSuccess = time.Now()
}

func (m *metricsRecorder) snapshot() types.VenueMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := types.VenueMetrics{
		CallCount:   m.callCount,
		ErrorCount:  m.errorCount,
		LastSuccess: m.lastSuccess,
	}
	if m.callCount > 0 {
		out.AvgLatency = m.totalLatency / time.Duration(m.callCount)
		out.UptimeRatio = float64(m.callCount-m.errorCount) / float64(m.callCount)
	}
	return out
}
