// Package position aggregates open exposure across venues into per-asset
// views with liquidation risk assessment.
package position

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/misterlabs/venuex/internal/registry"
	"github.com/misterlabs/venuex/pkg/types"
)

// RiskLevel grades how close an aggregate position sits to liquidation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Thresholds are the distance-to-liquidation tier boundaries, as a
// fraction of mark price. Distances below Critical grade critical, below
// High grade high, below Medium grade medium, anything else low.
type Thresholds struct {
	Critical decimal.Decimal
	High     decimal.Decimal
	Medium   decimal.Decimal
}

// DefaultThresholds returns the production tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: decimal.NewFromFloat(0.05),
		High:     decimal.NewFromFloat(0.15),
		Medium:   decimal.NewFromFloat(0.30),
	}
}

// LiquidationRisk is the nearest liquidation threat within one aggregate,
// taken over every leg that carries a liquidation price.
type LiquidationRisk struct {
	Level        RiskLevel       `json:"level"`
	NearestVenue string          `json:"nearest_venue,omitempty"`
	Distance     decimal.Decimal `json:"distance"` // fraction of mark price
}

// AggregatedPosition is one asset's exposure summed across venues.
// NetSize is signed: longs positive, shorts negative.
type AggregatedPosition struct {
	Asset             string            `json:"asset"`
	NetSize           decimal.Decimal   `json:"net_size"`
	GrossSize         decimal.Decimal   `json:"gross_size"`
	AvgEntryPrice     decimal.Decimal   `json:"avg_entry_price"`
	TotalNotional     decimal.Decimal   `json:"total_notional"`
	UnrealizedPnL     decimal.Decimal   `json:"unrealized_pnl"`
	RealizedPnL       decimal.Decimal   `json:"realized_pnl"`
	TotalMargin       decimal.Decimal   `json:"total_margin"`
	EffectiveLeverage decimal.Decimal   `json:"effective_leverage"`
	Legs              []*types.Position `json:"legs"`
	Risk              LiquidationRisk   `json:"risk"`
}

// Aggregator reads open positions from every eligible venue and folds them
// into per-asset aggregates. It holds no state of its own; every call is a
// fresh venue query.
type Aggregator struct {
	registry   *registry.Registry
	thresholds Thresholds
	logger     *logrus.Entry
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithThresholds overrides the default liquidation-risk tier boundaries.
func WithThresholds(t Thresholds) Option {
	return func(a *Aggregator) { a.thresholds = t }
}

// NewAggregator creates an aggregator over the registry's eligible venues.
func NewAggregator(reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:   reg,
		thresholds: DefaultThresholds(),
		logger:     logrus.WithField("component", "position"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate queries every eligible venue in parallel and returns one
// aggregate per asset with non-zero net exposure, sorted by asset. Any
// venue query failure aborts the whole call: a partial view silently
// under-counts exposure, which is worse than no view.
func (a *Aggregator) Aggregate(ctx context.Context) ([]*AggregatedPosition, error) {
	entries := a.registry.Eligible()

	var mu sync.Mutex
	var all []*types.Position

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			positions, err := entry.Venue.Positions(gctx)
			if err != nil {
				return fmt.Errorf("positions on %s: %w", entry.Config.Name, err)
			}
			mu.Lock()
			all = append(all, positions...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byAsset := make(map[string][]*types.Position)
	for _, p := range all {
		if p == nil || p.Size.IsZero() {
			continue
		}
		byAsset[p.Asset] = append(byAsset[p.Asset], p)
	}

	var out []*AggregatedPosition
	for asset, legs := range byAsset {
		agg := fold(asset, legs, a.thresholds)
		if agg.NetSize.IsZero() {
			// Fully hedged across venues: no net exposure to report.
			continue
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// AggregateAsset returns the aggregate for one asset, or nil when there is
// no net exposure in it.
func (a *Aggregator) AggregateAsset(ctx context.Context, asset string) (*AggregatedPosition, error) {
	aggs, err := a.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	for _, agg := range aggs {
		if agg.Asset == asset {
			return agg, nil
		}
	}
	return nil, nil
}

// TotalExposure sums notional across every aggregate.
func (a *Aggregator) TotalExposure(ctx context.Context) (decimal.Decimal, error) {
	aggs, err := a.Aggregate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, agg := range aggs {
		total = total.Add(agg.TotalNotional)
	}
	return total, nil
}

// fold combines one asset's legs. Entry price is size-weighted over the
// gross (unsigned) size so offsetting legs still average sensibly.
func fold(asset string, legs []*types.Position, thresholds Thresholds) *AggregatedPosition {
	agg := &AggregatedPosition{Asset: asset, Legs: legs}

	weightedEntry := decimal.Zero
	for _, p := range legs {
		agg.NetSize = agg.NetSize.Add(p.SignedSize())
		agg.GrossSize = agg.GrossSize.Add(p.Size)
		agg.TotalNotional = agg.TotalNotional.Add(p.Size.Mul(p.MarkPrice))
		agg.UnrealizedPnL = agg.UnrealizedPnL.Add(p.UnrealizedPnL)
		agg.RealizedPnL = agg.RealizedPnL.Add(p.RealizedPnL)
		agg.TotalMargin = agg.TotalMargin.Add(p.Margin)
		weightedEntry = weightedEntry.Add(p.Size.Mul(p.EntryPrice))
	}
	if !agg.GrossSize.IsZero() {
		agg.AvgEntryPrice = weightedEntry.Div(agg.GrossSize)
	}
	if !agg.TotalMargin.IsZero() {
		agg.EffectiveLeverage = agg.TotalNotional.Div(agg.TotalMargin)
	}
	agg.Risk = thresholds.assess(legs)
	return agg
}

// assess finds the leg whose mark price sits closest to its liquidation
// price. Legs without a liquidation price (spot-settled venues) do not
// participate.
func (t Thresholds) assess(legs []*types.Position) LiquidationRisk {
	risk := LiquidationRisk{Level: RiskLow}
	nearest := decimal.Decimal{}
	found := false

	for _, p := range legs {
		if p.LiquidationPrice.IsZero() || p.MarkPrice.IsZero() {
			continue
		}
		distance := p.MarkPrice.Sub(p.LiquidationPrice).Abs().Div(p.MarkPrice)
		if !found || distance.LessThan(nearest) {
			found = true
			nearest = distance
			risk.NearestVenue = p.Venue
		}
	}
	if !found {
		return risk
	}

	risk.Distance = nearest
	switch {
	case nearest.LessThan(t.Critical):
		risk.Level = RiskCritical
	case nearest.LessThan(t.High):
		risk.Level = RiskHigh
	case nearest.LessThan(t.Medium):
		risk.Level = RiskMedium
	default:
		risk.Level = RiskLow
	}
	return risk
}
