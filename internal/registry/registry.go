package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/misterlabs/venuex/internal/events"
	"github.com/misterlabs/venuex/pkg/types"
)

// Config tunes the health state machine and probe loop.
type Config struct {
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
	DegradedThreshold int // consecutive failures before healthy -> degraded
	DownThreshold     int // consecutive failures before degraded -> down
}

// DefaultConfig mirrors production tuning.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:     30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		DegradedThreshold: 3,
		DownThreshold:     5,
	}
}

// Entry pairs a configured venue with its registry-owned health state.
type Entry struct {
	Config types.VenueConfig
	Venue  types.Venue
	Health types.VenueHealth
}

// healthState is mutated only under its own mutex, so concurrent probe
// results and call observations for different venues never contend.
type healthState struct {
	mu                  sync.Mutex
	status              types.VenueStatus
	consecutiveFailures int
	callCount           int64
	errorCount          int64
	totalLatency        time.Duration
	lastSuccess         time.Time
	lastChecked         time.Time
}

type entry struct {
	config types.VenueConfig
	venue  types.Venue
	health *healthState
}

// Registry holds the configured venue set and owns each venue's mutable
// health state. It is constructed at startup and passed explicitly; there
// is no process-wide instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	bus     *events.Bus
	logger  *logrus.Entry
}

// New creates an empty registry. bus may be nil when no event mirroring is
// wanted (tests).
func New(config Config, bus *events.Bus) *Registry {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.DownThreshold <= config.DegradedThreshold {
		config.DownThreshold = config.DegradedThreshold + 2
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultConfig().ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Registry{
		entries: make(map[string]*entry),
		config:  config,
		bus:     bus,
		logger:  logrus.WithField("component", "registry"),
	}
}

// Register adds a configured venue. Maintenance-flagged venues start in
// maintenance and stay there regardless of probe outcomes.
func (r *Registry) Register(cfg types.VenueConfig, v types.Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[cfg.Name]; exists {
		return fmt.Errorf("venue %s already registered", cfg.Name)
	}

	status := types.VenueStatusHealthy
	if cfg.Maintenance {
		status = types.VenueStatusMaintenance
	}
	r.entries[cfg.Name] = &entry{
		config: cfg,
		venue:  v,
		health: &healthState{status: status},
	}
	return nil
}

// Get returns a venue for trading use. Venues that are down or in
// maintenance are never returned here; use GetForDiagnostics for those.
func (r *Registry) Get(name string) (types.Venue, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.health.mu.Lock()
	status := e.health.status
	e.health.mu.Unlock()

	if status == types.VenueStatusDown || status == types.VenueStatusMaintenance {
		return nil, fmt.Errorf("venue %s is %s", name, status)
	}
	return e.venue, nil
}

// GetForDiagnostics returns a venue regardless of its health status.
func (r *Registry) GetForDiagnostics(name string) (types.Venue, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.venue, nil
}

// Eligible returns every registered venue that is not down or in
// maintenance, sorted by name for deterministic iteration.
func (r *Registry) Eligible() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		h := e.snapshotHealth()
		if h.Status == types.VenueStatusDown || h.Status == types.VenueStatusMaintenance {
			continue
		}
		out = append(out, Entry{Config: e.config, Venue: e.venue, Health: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// All returns every registered venue including down and maintenance ones,
// for diagnostics and aggregation.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		out = append(out, Entry{Config: e.config, Venue: e.venue, Health: e.snapshotHealth()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// Health returns the current health record for one venue.
func (r *Registry) Health(name string) (types.VenueHealth, error) {
	e, err := r.lookup(name)
	if err != nil {
		return types.VenueHealth{}, err
	}
	return e.snapshotHealth(), nil
}

// ObserveCall records the outcome of a real venue call. Failures count
// toward the same consecutive streak the probe loop uses, so a venue can
// degrade between scheduled probes purely from observed call failures.
// A successful call clears the streak but only a passing probe restores a
// venue from down.
func (r *Registry) ObserveCall(name string, latency time.Duration, callErr error) {
	e, err := r.lookup(name)
	if err != nil {
		return
	}

	h := e.health
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callCount++
	h.totalLatency += latency

	if callErr != nil {
		h.errorCount++
		h.consecutiveFailures++
		r.applyFailureTransition(e)
		return
	}

	h.lastSuccess = time.Now()
	h.consecutiveFailures = 0
	if h.status == types.VenueStatusDegraded {
		h.status = types.VenueStatusHealthy
	}
}

// RunProbes drives the probe loop until ctx is cancelled. All venues are
// probed concurrently, each under its own timeout; a timed-out probe counts
// as a failed probe.
func (r *Registry) RunProbes(ctx context.Context) {
	ticker := time.NewTicker(r.config.ProbeInterval)
	defer ticker.Stop()

	r.ProbeAll(ctx)
	for {
		select {
		case <-ticker.C:
			r.ProbeAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProbeAll runs one probe round across every registered venue.
func (r *Registry) ProbeAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			r.probeOne(gctx, name)
			return nil
		})
	}
	g.Wait()
}

func (r *Registry) probeOne(ctx context.Context, name string) {
	e, err := r.lookup(name)
	if err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	probeErr := e.venue.HealthProbe(probeCtx)
	latency := time.Since(start)

	r.RecordProbe(name, latency, probeErr)
}

// RecordProbe applies one probe outcome to the venue's health state.
func (r *Registry) RecordProbe(name string, latency time.Duration, probeErr error) {
	e, err := r.lookup(name)
	if err != nil {
		return
	}

	h := e.health
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastChecked = time.Now()
	h.callCount++
	h.totalLatency += latency

	if h.status == types.VenueStatusMaintenance {
		// Maintenance is forced by configuration; probes never move it.
		return
	}

	if probeErr != nil {
		h.errorCount++
		h.consecutiveFailures++
		r.applyFailureTransition(e)
		if r.bus != nil {
			r.bus.Publish(types.ProviderEvent{
				Type:    types.EventHealthCheckFailed,
				Venue:   name,
				Message: probeErr.Error(),
			})
		}
		return
	}

	h.consecutiveFailures = 0
	h.lastSuccess = time.Now()
	if h.status != types.VenueStatusHealthy {
		r.logger.WithField("venue", name).Infof("probe passed, %s -> healthy", h.status)
		h.status = types.VenueStatusHealthy
		if r.bus != nil {
			r.bus.Publish(types.ProviderEvent{Type: types.EventConnected, Venue: name})
		}
	}
}

// applyFailureTransition moves status along healthy -> degraded -> down per
// the consecutive-failure thresholds. Caller holds the health mutex.
func (r *Registry) applyFailureTransition(e *entry) {
	h := e.health
	if h.status == types.VenueStatusMaintenance {
		return
	}

	switch {
	case h.consecutiveFailures >= r.config.DownThreshold:
		if h.status != types.VenueStatusDown {
			r.logger.WithField("venue", e.config.Name).Warnf("%d consecutive failures, %s -> down", h.consecutiveFailures, h.status)
			h.status = types.VenueStatusDown
			if r.bus != nil {
				r.bus.Publish(types.ProviderEvent{Type: types.EventDisconnected, Venue: e.config.Name})
			}
		}
	case h.consecutiveFailures >= r.config.DegradedThreshold:
		if h.status == types.VenueStatusHealthy {
			r.logger.WithField("venue", e.config.Name).Warnf("%d consecutive failures, healthy -> degraded", h.consecutiveFailures)
			h.status = types.VenueStatusDegraded
		}
	}
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("venue %s not registered", name)
	}
	return e, nil
}

func (e *entry) snapshotHealth() types.VenueHealth {
	h := e.health
	h.mu.Lock()
	defer h.mu.Unlock()

	var avg time.Duration
	var uptime float64
	if h.callCount > 0 {
		avg = h.totalLatency / time.Duration(h.callCount)
		uptime = float64(h.callCount-h.errorCount) / float64(h.callCount)
	}
	return types.VenueHealth{
		Venue:               e.config.Name,
		Status:              h.status,
		ConsecutiveFailures: h.consecutiveFailures,
		ErrorCount:          h.errorCount,
		CallCount:           h.callCount,
		AvgLatency:          avg,
		UptimeRatio:         uptime,
		LastSuccess:         h.lastSuccess,
		LastChecked:         h.lastChecked,
	}
}
