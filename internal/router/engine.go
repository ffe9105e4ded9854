// Package router selects the best venue for an order under a weighted
// multi-factor cost model and executes against it with a single bounded
// failover.
package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/misterlabs/venuex/internal/audit"
	"github.com/misterlabs/venuex/internal/cost"
	"github.com/misterlabs/venuex/internal/events"
	"github.com/misterlabs/venuex/internal/registry"
	"github.com/misterlabs/venuex/internal/shadow"
	"github.com/misterlabs/venuex/pkg/types"
)

// Engine is the routing engine. It reads the venue registry and the cost
// estimator; the registry's health state is the only shared mutable it
// touches, through the registry's own serialized update path.
type Engine struct {
	registry *registry.Registry
	weights  Weights
	bus      *events.Bus
	audit    *audit.Writer
	shadow   *shadow.Comparator
	logger   *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default scoring weights.
func WithWeights(w Weights) Option { return func(e *Engine) { e.weights = w } }

// WithBus publishes order and failover events.
func WithBus(b *events.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithAudit persists every routing decision.
func WithAudit(w *audit.Writer) Option { return func(e *Engine) { e.audit = w } }

// WithShadow schedules shadow-mode comparisons after executions.
func WithShadow(c *shadow.Comparator) Option { return func(e *Engine) { e.shadow = c } }

// New creates a routing engine over the given registry.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		weights:  DefaultWeights(),
		logger:   logrus.WithField("component", "router"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// scoredCandidate pairs a surviving venue with its snapshot and estimate.
type scoredCandidate struct {
	entry    registry.Entry
	snapshot types.VenueSnapshot
	cost     *cost.Breakdown
	score    float64
}

// Route picks one venue for the order. It returns either a concrete
// decision carrying every candidate's score, or a single typed error
// explaining why no venue could be selected.
func (e *Engine) Route(ctx context.Context, ec ExecutionContext) (*Decision, error) {
	if len(e.registry.All()) == 0 {
		return nil, newRoutingError(ErrNoEligibleVenue, "no venues registered")
	}

	eligible := e.registry.Eligible()
	if len(eligible) == 0 {
		return nil, newRoutingError(ErrAllVenuesDown, "every venue is down or in maintenance")
	}

	var supporting []registry.Entry
	for _, entry := range eligible {
		if entry.Config.SupportsAsset(ec.Asset) {
			supporting = append(supporting, entry)
		}
	}
	if len(supporting) == 0 {
		return nil, newRoutingError(ErrUnsupportedAsset, "no eligible venue supports %s", ec.Asset)
	}

	// Hard preference filters apply before ranking.
	var rejected []Candidate
	var filtered []registry.Entry
	for _, entry := range supporting {
		if reason := preferenceReject(entry.Config.Name, ec.Prefs); reason != "" {
			rejected = append(rejected, Candidate{Venue: entry.Config.Name, Rejected: true, RejectReason: reason})
			continue
		}
		filtered = append(filtered, entry)
	}

	// Candidate pricing is pure per venue and runs in parallel; each slot
	// is written by exactly one goroutine.
	intent := ec.Intent()
	scored := make([]*scoredCandidate, len(filtered))
	rejects := make([]*Candidate, len(filtered))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range filtered {
		i, entry := i, entry
		g.Go(func() error {
			cand, reject := e.priceCandidate(gctx, entry, ec, intent)
			scored[i], rejects[i] = cand, reject
			return nil
		})
	}
	_ = g.Wait()

	var survivors []*scoredCandidate
	for i := range filtered {
		if rejects[i] != nil {
			rejected = append(rejected, *rejects[i])
			continue
		}
		survivors = append(survivors, scored[i])
	}
	if len(survivors) == 0 {
		return nil, newRoutingError(ErrNoEligibleVenue, "no venue survived filtering for %s %s %s", ec.Side, ec.Size, ec.Asset)
	}

	weights := e.weightsFor(ec)
	applyScores(survivors, weights)

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].score != survivors[j].score {
			return survivors[i].score < survivors[j].score
		}
		return survivors[i].entry.Config.Name < survivors[j].entry.Config.Name
	})
	winner := survivors[0]

	decision := &Decision{
		ID:            uuid.NewString(),
		Asset:         ec.Asset,
		Side:          ec.Side,
		Size:          ec.Size,
		SelectedVenue: winner.entry.Config.Name,
		Score:         winner.score,
		Reason:        "lowest_weighted_cost",
		Cost:          winner.cost,
		Candidates:    rejected,
		CreatedAt:     time.Now(),
	}
	for _, s := range survivors {
		decision.Candidates = append(decision.Candidates, Candidate{
			Venue: s.entry.Config.Name,
			Score: s.score,
			Cost:  s.cost,
		})
	}

	if e.audit != nil {
		if err := e.audit.Write("decisions", decision); err != nil {
			e.logger.Errorf("failed to persist decision %s: %v", decision.ID, err)
		}
	}
	return decision, nil
}

// Execute routes the order and places it on the selected venue. A failure
// in a retryable class (timeout, transient connection) triggers exactly one
// re-selection excluding the failed venue; a second failure is surfaced.
func (e *Engine) Execute(ctx context.Context, ec ExecutionContext) (*Decision, *types.OrderResult, error) {
	if ec.ClientID == "" {
		// Both placement attempts share the id so venues can dedupe.
		ec.ClientID = uuid.NewString()
	}
	decision, err := e.Route(ctx, ec)
	if err != nil {
		return nil, nil, err
	}

	result, execErr := e.placeOn(ctx, decision, ec)
	if execErr == nil {
		e.scheduleShadow(decision, result, ec)
		return decision, result, nil
	}
	if !types.IsRetryable(execErr) {
		e.scheduleShadow(decision, result, ec)
		return decision, result, execErr
	}

	e.publish(types.ProviderEvent{
		Type:    types.EventFailoverTriggered,
		Venue:   decision.SelectedVenue,
		Asset:   ec.Asset,
		Message: execErr.Error(),
	})
	e.logger.WithField("venue", decision.SelectedVenue).Warnf("retryable failure, failing over: %v", execErr)

	retryCtx := ec
	retryCtx.Prefs = withDeniedVenue(ec.Prefs, decision.SelectedVenue)

	retryDecision, routeErr := e.Route(ctx, retryCtx)
	if routeErr != nil {
		// No alternative venue: surface the original execution failure.
		e.scheduleShadow(decision, nil, ec)
		return decision, nil, execErr
	}
	retryDecision.Failover = true

	result, execErr = e.placeOn(ctx, retryDecision, ec)
	if execErr != nil {
		// Second failure surfaces to the caller, never retried again.
		e.scheduleShadow(retryDecision, result, ec)
		return retryDecision, result, execErr
	}
	e.scheduleShadow(retryDecision, result, ec)
	return retryDecision, result, nil
}

// Snapshot implements shadow.SnapshotFetcher over the registry so shadow
// evaluations can refresh a venue's market view on a store miss.
func (e *Engine) Snapshot(ctx context.Context, venueName, asset string) (types.VenueSnapshot, error) {
	for _, entry := range e.registry.Eligible() {
		if entry.Config.Name == venueName {
			return e.buildSnapshot(ctx, entry, asset)
		}
	}
	return types.VenueSnapshot{}, fmt.Errorf("venue %s not eligible", venueName)
}

func (e *Engine) priceCandidate(ctx context.Context, entry registry.Entry, ec ExecutionContext, intent types.OrderIntent) (*scoredCandidate, *Candidate) {
	name := entry.Config.Name

	snap, err := e.buildSnapshot(ctx, entry, ec.Asset)
	if err != nil {
		return nil, &Candidate{Venue: name, Rejected: true, RejectReason: fmt.Sprintf("market data unavailable: %v", err)}
	}
	if e.shadow != nil {
		e.shadow.RecordSnapshot(snap)
	}

	mid := snap.Book.MidPrice()
	if mid.IsZero() {
		return nil, &Candidate{Venue: name, Rejected: true, RejectReason: "empty order book"}
	}
	notional := ec.Size.Mul(mid)
	if !entry.Config.MinOrderUSD.IsZero() && notional.LessThan(entry.Config.MinOrderUSD) {
		return nil, &Candidate{Venue: name, Rejected: true, RejectReason: fmt.Sprintf("notional %s below venue minimum %s", notional.Round(2), entry.Config.MinOrderUSD)}
	}
	if !entry.Config.MaxOrderUSD.IsZero() && notional.GreaterThan(entry.Config.MaxOrderUSD) {
		return nil, &Candidate{Venue: name, Rejected: true, RejectReason: fmt.Sprintf("notional %s above venue maximum %s", notional.Round(2), entry.Config.MaxOrderUSD)}
	}

	bd, err := cost.Estimate(intent, snap)
	if err != nil {
		return nil, &Candidate{Venue: name, Rejected: true, RejectReason: fmt.Sprintf("cost estimation failed: %v", err)}
	}
	return &scoredCandidate{entry: entry, snapshot: snap, cost: bd}, nil
}

// buildSnapshot assembles a venue snapshot from live market data plus the
// venue's static fee configuration and current health latency.
func (e *Engine) buildSnapshot(ctx context.Context, entry registry.Entry, asset string) (types.VenueSnapshot, error) {
	name := entry.Config.Name

	start := time.Now()
	book, err := entry.Venue.OrderBook(ctx, asset)
	e.registry.ObserveCall(name, time.Since(start), err)
	if err != nil {
		return types.VenueSnapshot{}, err
	}

	funding := decimal.Zero
	if entry.Config.SupportsFunding {
		funding, err = entry.Venue.FundingRate(ctx, asset)
		if err != nil {
			// Funding is an enrichment; price without it rather than
			// rejecting the venue.
			e.logger.WithField("venue", name).Debugf("funding rate unavailable: %v", err)
			funding = decimal.Zero
		}
	}

	return types.VenueSnapshot{
		Venue:       name,
		Asset:       asset,
		Book:        book,
		Fees:        entry.Config.Fees,
		FundingRate: funding,
		NetworkFee:  entry.Config.NetworkFee,
		AvgLatency:  entry.Health.AvgLatency,
		Timestamp:   time.Now(),
	}, nil
}

func (e *Engine) placeOn(ctx context.Context, decision *Decision, ec ExecutionContext) (*types.OrderResult, error) {
	name := decision.SelectedVenue
	venue, err := e.registry.Get(name)
	if err != nil {
		// The venue fell out of eligibility between selection and
		// execution; treat as a transient venue failure.
		return nil, types.WrapVenueError(name, types.ErrKindConnection, "venue unavailable at execution time", err)
	}

	start := time.Now()
	result, err := venue.PlaceOrder(ctx, ec.Intent())
	e.registry.ObserveCall(name, time.Since(start), err)
	if err != nil {
		e.publish(types.ProviderEvent{Type: types.EventError, Venue: name, Asset: ec.Asset, Message: err.Error()})
		return nil, err
	}

	e.publish(types.ProviderEvent{Type: types.EventOrderPlaced, Venue: name, Asset: ec.Asset, OrderID: result.OrderID})
	if result.Status == types.OrderStatusFilled {
		e.publish(types.ProviderEvent{Type: types.EventOrderFilled, Venue: name, Asset: ec.Asset, OrderID: result.OrderID})
		if !ec.ReduceOnly {
			e.publish(types.ProviderEvent{Type: types.EventPositionOpened, Venue: name, Asset: ec.Asset, OrderID: result.OrderID})
		} else {
			e.publish(types.ProviderEvent{Type: types.EventPositionClosed, Venue: name, Asset: ec.Asset, OrderID: result.OrderID})
		}
	}
	return result, nil
}

// scheduleShadow hands the completed execution to the comparator; the
// comparator runs detached and never blocks or fails this path. It runs
// for failed placements too (result nil), using the routing decision's
// cost estimate as the real side of the comparison.
func (e *Engine) scheduleShadow(decision *Decision, result *types.OrderResult, ec ExecutionContext) {
	if e.shadow == nil {
		return
	}
	var alternates []string
	for _, c := range decision.Candidates {
		if !c.Rejected && c.Venue != decision.SelectedVenue {
			alternates = append(alternates, c.Venue)
		}
	}
	real := shadow.RealExecution{
		OrderID:   ec.ClientID,
		Venue:     decision.SelectedVenue,
		Asset:     ec.Asset,
		Cost:      decision.Cost,
		Timestamp: time.Now(),
	}
	if result != nil {
		real.OrderID = result.OrderID
		real.Price = result.AvgFillPrice
		real.Success = result.Success
		real.Timestamp = result.ExecutedAt
	}
	e.shadow.Evaluate(real, ec.Intent(), alternates)
}

// weightsFor resolves the effective weights: engine defaults, then the
// strategy preset, then urgency shading, then explicit caller weights.
func (e *Engine) weightsFor(ec ExecutionContext) Weights {
	w := e.weights
	if preset, ok := strategyWeights[ec.Strategy]; ok {
		w = preset
	}
	if ec.Urgency == UrgencyHigh || ec.Urgency == UrgencyImmediate {
		w.Latency *= 2
	}
	if ec.Prefs != nil && ec.Prefs.Weights != nil {
		w = *ec.Prefs.Weights
	}
	return normalize(w)
}

// applyScores computes each survivor's composite score: a weighted sum of
// the candidate's cost factors, each normalized by the candidate set's
// maximum so the factors are comparable. Lower is better.
func applyScores(survivors []*scoredCandidate, w Weights) {
	var maxSlip, maxFee, maxFund, maxLat float64
	for _, s := range survivors {
		maxSlip = maxFloat(maxSlip, s.cost.Slippage.InexactFloat64())
		maxFee = maxFloat(maxFee, s.cost.TradingFee.InexactFloat64())
		maxFund = maxFloat(maxFund, s.cost.FundingCost.Add(s.cost.NetworkFee).InexactFloat64())
		maxLat = maxFloat(maxLat, s.snapshot.AvgLatency.Seconds())
	}
	for _, s := range survivors {
		s.score = w.Slippage*ratio(s.cost.Slippage.InexactFloat64(), maxSlip) +
			w.Fee*ratio(s.cost.TradingFee.InexactFloat64(), maxFee) +
			w.Funding*ratio(s.cost.FundingCost.Add(s.cost.NetworkFee).InexactFloat64(), maxFund) +
			w.Latency*ratio(s.snapshot.AvgLatency.Seconds(), maxLat)
	}
}

func preferenceReject(venue string, prefs *UserExecutionPreferences) string {
	if prefs == nil {
		return ""
	}
	for _, denied := range prefs.DeniedVenues {
		if denied == venue {
			return "denied by caller preference"
		}
	}
	if len(prefs.AllowedVenues) > 0 {
		for _, allowed := range prefs.AllowedVenues {
			if allowed == venue {
				return ""
			}
		}
		return "not in caller allow list"
	}
	return ""
}

func withDeniedVenue(prefs *UserExecutionPreferences, venue string) *UserExecutionPreferences {
	out := UserExecutionPreferences{}
	if prefs != nil {
		out = *prefs
		out.DeniedVenues = append([]string(nil), prefs.DeniedVenues...)
	}
	out.DeniedVenues = append(out.DeniedVenues, venue)
	return &out
}

func (e *Engine) publish(ev types.ProviderEvent) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func normalize(w Weights) Weights {
	sum := w.Slippage + w.Fee + w.Funding + w.Latency
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Slippage: w.Slippage / sum,
		Fee:      w.Fee / sum,
		Funding:  w.Funding / sum,
		Latency:  w.Latency / sum,
	}
}

func ratio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
