// Package shadow re-prices completed executions against the venues that
// were not selected, measuring forgone savings without placing real orders.
package shadow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/misterlabs/venuex/internal/audit"
	"github.com/misterlabs/venuex/internal/cost"
	"github.com/misterlabs/venuex/pkg/cache"
	"github.com/misterlabs/venuex/pkg/types"
)

// RealExecution captures the executed side of a comparison.
type RealExecution struct {
	OrderID   string          `json:"order_id"`
	Venue     string          `json:"venue"`
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Cost      *cost.Breakdown `json:"cost"`
	Latency   time.Duration   `json:"latency"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alternative is the hypothetical outcome on one non-selected venue.
// Savings is signed: positive means the real execution left money on the
// table, zero or negative means the alternative was no better.
type Alternative struct {
	Venue       string          `json:"venue"`
	Price       decimal.Decimal `json:"price"`
	Cost        *cost.Breakdown `json:"cost,omitempty"`
	Success     bool            `json:"success"`
	Failure     string          `json:"failure,omitempty"`
	Savings     decimal.Decimal `json:"savings"`
	Confidence  float64         `json:"confidence"`
	SnapshotAge time.Duration   `json:"snapshot_age"`
}

// Result is one completed shadow evaluation.
type Result struct {
	OrderID         string        `json:"order_id"`
	Asset           string        `json:"asset"`
	Real            RealExecution `json:"real"`
	Alternatives    []Alternative `json:"alternatives"`
	BestAlternative string        `json:"best_alternative,omitempty"`
	Confidence      float64       `json:"confidence"`
	EvaluatedAt     time.Time     `json:"evaluated_at"`
}

// SnapshotFetcher refreshes a venue snapshot when the store has none recent
// enough. Implementations make real market-data calls, so the comparator
// bounds its concurrent fan-out to respect venue rate-limit budgets.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, venue, asset string) (types.VenueSnapshot, error)
}

// Config tunes the comparator.
type Config struct {
	MaxConcurrent  int           // bound on concurrent per-venue re-pricing
	StalenessBound time.Duration // comparisons older than this are dropped
	EvalTimeout    time.Duration // budget for one whole evaluation
}

// DefaultConfig mirrors production tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		StalenessBound: 30 * time.Second,
		EvalTimeout:    10 * time.Second,
	}
}

// Comparator runs shadow evaluations fully detached from the order path:
// the caller's context never reaches an evaluation, and evaluation failures
// are logged, never returned to any caller.
type Comparator struct {
	config   Config
	store    *cache.MemoryCache
	fetcher  SnapshotFetcher
	audit    *audit.Writer
	logger   *logrus.Entry
	onResult func(*Result)
	inflight sync.WaitGroup
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithFetcher installs a live snapshot fallback for store misses.
func WithFetcher(f SnapshotFetcher) Option {
	return func(c *Comparator) { c.fetcher = f }
}

// WithAudit persists every result through the audit writer.
func WithAudit(w *audit.Writer) Option {
	return func(c *Comparator) { c.audit = w }
}

// WithResultHook invokes fn for every completed evaluation.
func WithResultHook(fn func(*Result)) Option {
	return func(c *Comparator) { c.onResult = fn }
}

// New creates a comparator.
func New(config Config, opts ...Option) *Comparator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.StalenessBound <= 0 {
		config.StalenessBound = DefaultConfig().StalenessBound
	}
	if config.EvalTimeout <= 0 {
		config.EvalTimeout = DefaultConfig().EvalTimeout
	}
	c := &Comparator{
		config: config,
		store:  cache.NewMemoryCache(time.Minute),
		logger: logrus.WithField("component", "shadow"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordSnapshot stores the latest market view of one venue/asset pair.
// The routing engine records every candidate snapshot here at decision
// time, so evaluations compare against data from the same routing round.
func (c *Comparator) RecordSnapshot(snap types.VenueSnapshot) {
	key := snapshotKey(snap.Venue, snap.Asset)
	c.store.Set(key, snap, 2*c.config.StalenessBound)
}

// Evaluate schedules a detached shadow evaluation of the real execution
// against the alternate venues. It returns immediately; it is called after
// the real result has already been handed to the caller.
func (c *Comparator) Evaluate(real RealExecution, intent types.OrderIntent, alternates []string) {
	if len(alternates) == 0 {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		// Detached from the caller: cancelling the order request must not
		// cancel an in-flight shadow evaluation.
		ctx, cancel := context.WithTimeout(context.Background(), c.config.EvalTimeout)
		defer cancel()
		c.evaluate(ctx, real, intent, alternates)
	}()
}

// Drain blocks until every in-flight evaluation finishes. For shutdown and
// tests only.
func (c *Comparator) Drain() {
	c.inflight.Wait()
}

func (c *Comparator) evaluate(ctx context.Context, real RealExecution, intent types.OrderIntent, alternates []string) {
	result := &Result{
		OrderID:     real.OrderID,
		Asset:       real.Asset,
		Real:        real,
		EvaluatedAt: time.Now(),
	}

	alts := make([]*Alternative, len(alternates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrent)

	for i, venue := range alternates {
		i, venue := i, venue
		g.Go(func() error {
			alts[i] = c.priceAlternative(gctx, real, intent, venue)
			return nil
		})
	}
	g.Wait()

	for _, alt := range alts {
		if alt == nil {
			continue // dropped: snapshot older than the staleness bound
		}
		result.Alternatives = append(result.Alternatives, *alt)
	}

	best := decimal.Zero
	for _, alt := range result.Alternatives {
		if !alt.Success {
			continue
		}
		if result.BestAlternative == "" || alt.Savings.GreaterThan(best) {
			result.BestAlternative = alt.Venue
			best = alt.Savings
			result.Confidence = alt.Confidence
		}
	}

	if c.audit != nil {
		if err := c.audit.Write("shadow", result); err != nil {
			c.logger.Errorf("failed to persist shadow result for %s: %v", real.OrderID, err)
		}
	}
	if c.onResult != nil {
		c.onResult(result)
	}
}

func (c *Comparator) priceAlternative(ctx context.Context, real RealExecution, intent types.OrderIntent, venue string) *Alternative {
	snap, err := c.snapshotFor(ctx, venue, real.Asset)
	if err != nil {
		c.logger.WithField("venue", venue).Debugf("shadow snapshot unavailable: %v", err)
		return &Alternative{Venue: venue, Failure: err.Error()}
	}

	age := real.Timestamp.Sub(snap.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > c.config.StalenessBound {
		// Too stale to say anything; drop rather than report zero.
		return nil
	}

	bd, err := cost.Estimate(intent, snap)
	if err != nil {
		return &Alternative{Venue: venue, Failure: err.Error(), SnapshotAge: age}
	}

	alt := &Alternative{
		Venue:       venue,
		Price:       bd.AvgFillPrice,
		Cost:        bd,
		Success:     true,
		SnapshotAge: age,
		Confidence:  1 - float64(age)/float64(c.config.StalenessBound),
	}
	if real.Cost != nil {
		alt.Savings = real.Cost.TotalCost.Sub(bd.TotalCost)
	}
	return alt
}

func (c *Comparator) snapshotFor(ctx context.Context, venue, asset string) (types.VenueSnapshot, error) {
	if v, ok := c.store.Get(snapshotKey(venue, asset)); ok {
		return v.(types.VenueSnapshot), nil
	}
	if c.fetcher != nil {
		return c.fetcher.Snapshot(ctx, venue, asset)
	}
	return types.VenueSnapshot{}, fmt.Errorf("no snapshot for %s/%s", venue, asset)
}

func snapshotKey(venue, asset string) string {
	return venue + "|" + asset
}
