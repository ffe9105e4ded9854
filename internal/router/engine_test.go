package router

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterlabs/venuex/internal/events"
	"github.com/misterlabs/venuex/internal/registry"
	"github.com/misterlabs/venuex/internal/shadow"
	"github.com/misterlabs/venuex/internal/venuetest"
	"github.com/misterlabs/venuex/pkg/types"
)

func feeSchedule(maker, taker float64) types.FeeSchedule {
	return types.FeeSchedule{
		MakerRate: decimal.NewFromFloat(maker),
		TakerRate: decimal.NewFromFloat(taker),
	}
}

func venueConfig(name string, taker float64) types.VenueConfig {
	return types.VenueConfig{
		Name:   name,
		Chain:  types.ChainEVM,
		Assets: []string{"ETH"},
		Fees:   feeSchedule(taker/2, taker),
	}
}

// deepBook fills any size at the best level, so slippage is zero.
func deepBook(venue string) *types.OrderBook {
	return venuetest.Ladder(venue, "ETH", 100, 0.1, 1_000_000, 3)
}

// thinBook forces a 100-unit buy to walk four levels 0.2 apart.
func thinBook(venue string) *types.OrderBook {
	return venuetest.Ladder(venue, "ETH", 100, 0.2, 25, 8)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(registry.DefaultConfig(), nil)
}

func marketBuy(size int64) ExecutionContext {
	return ExecutionContext{
		Asset: "ETH",
		Side:  types.SideBuy,
		Kind:  types.OrderKindMarket,
		Size:  decimal.NewFromInt(size),
	}
}

func TestRouteFeeVersusSlippage(t *testing.T) {
	// alpha: 0.10% taker fee, no slippage. beta: 0.05% taker fee but the
	// book is thin enough that a 100-unit buy pays ~30 in slippage. At
	// default weights the slippage dominates and alpha must win.
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: thinBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.0005), beta))

	engine := New(reg)
	decision, err := engine.Route(context.Background(), marketBuy(100))
	require.NoError(t, err)

	assert.Equal(t, "alpha", decision.SelectedVenue)
	assert.Equal(t, "lowest_weighted_cost", decision.Reason)
	assert.NotEmpty(t, decision.ID)
	require.NotNil(t, decision.Cost)
	assert.True(t, decision.Cost.Slippage.IsZero())

	// Both venues scored; the loser carries its breakdown too.
	require.Len(t, decision.Candidates, 2)
	byVenue := map[string]Candidate{}
	for _, c := range decision.Candidates {
		byVenue[c.Venue] = c
	}
	require.Contains(t, byVenue, "beta")
	assert.False(t, byVenue["beta"].Rejected)
	require.NotNil(t, byVenue["beta"].Cost)
	assert.True(t, byVenue["beta"].Cost.Slippage.GreaterThan(decimal.NewFromInt(25)))
	assert.Less(t, byVenue["alpha"].Score, byVenue["beta"].Score)
}

func TestRouteWeightOverrideFlipsWinner(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: thinBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.0005), beta))

	engine := New(reg)
	ec := marketBuy(100)
	ec.Prefs = &UserExecutionPreferences{Weights: &Weights{Fee: 1}}

	decision, err := engine.Route(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "beta", decision.SelectedVenue)
}

func TestRouteErrorCodes(t *testing.T) {
	ctx := context.Background()

	t.Run("no venues registered", func(t *testing.T) {
		engine := New(newTestRegistry(t))
		_, err := engine.Route(ctx, marketBuy(1))
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ErrNoEligibleVenue, rerr.Code)
	})

	t.Run("all venues in maintenance", func(t *testing.T) {
		reg := newTestRegistry(t)
		cfg := venueConfig("alpha", 0.001)
		cfg.Maintenance = true
		require.NoError(t, reg.Register(cfg, &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}}))

		_, err := New(reg).Route(ctx, marketBuy(1))
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ErrAllVenuesDown, rerr.Code)
	})

	t.Run("asset unsupported everywhere", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.Register(venueConfig("alpha", 0.001),
			&venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha")}))

		ec := marketBuy(1)
		ec.Asset = "DOGE"
		_, err := New(reg).Route(ctx, ec)
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ErrUnsupportedAsset, rerr.Code)
	})

	t.Run("all candidates filtered", func(t *testing.T) {
		reg := newTestRegistry(t)
		cfg := venueConfig("alpha", 0.001)
		cfg.MaxOrderUSD = decimal.NewFromInt(50)
		require.NoError(t, reg.Register(cfg,
			&venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha")}))

		_, err := New(reg).Route(ctx, marketBuy(100)) // ~$10k notional
		var rerr *RoutingError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ErrNoEligibleVenue, rerr.Code)
	})
}

func TestRoutePreferenceFilters(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0005), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))
	engine := New(reg)
	ctx := context.Background()

	t.Run("deny list excludes the cheaper venue", func(t *testing.T) {
		ec := marketBuy(10)
		ec.Prefs = &UserExecutionPreferences{DeniedVenues: []string{"alpha"}}
		decision, err := engine.Route(ctx, ec)
		require.NoError(t, err)
		assert.Equal(t, "beta", decision.SelectedVenue)

		var alphaCand *Candidate
		for i := range decision.Candidates {
			if decision.Candidates[i].Venue == "alpha" {
				alphaCand = &decision.Candidates[i]
			}
		}
		require.NotNil(t, alphaCand)
		assert.True(t, alphaCand.Rejected)
		assert.Contains(t, alphaCand.RejectReason, "denied")
	})

	t.Run("allow list pins the pricier venue", func(t *testing.T) {
		ec := marketBuy(10)
		ec.Prefs = &UserExecutionPreferences{AllowedVenues: []string{"beta"}}
		decision, err := engine.Route(ctx, ec)
		require.NoError(t, err)
		assert.Equal(t, "beta", decision.SelectedVenue)
	})
}

func TestRouteSizeLimitRejection(t *testing.T) {
	reg := newTestRegistry(t)
	small := venueConfig("small", 0.0001)
	small.MaxOrderUSD = decimal.NewFromInt(1000)
	big := venueConfig("big", 0.001)
	require.NoError(t, reg.Register(small,
		&venuetest.Fake{VenueName: "small", Assets: []string{"ETH"}, Book: deepBook("small")}))
	require.NoError(t, reg.Register(big,
		&venuetest.Fake{VenueName: "big", Assets: []string{"ETH"}, Book: deepBook("big")}))

	decision, err := New(reg).Route(context.Background(), marketBuy(100))
	require.NoError(t, err)
	assert.Equal(t, "big", decision.SelectedVenue)

	for _, c := range decision.Candidates {
		if c.Venue == "small" {
			assert.True(t, c.Rejected)
			assert.Contains(t, c.RejectReason, "maximum")
		}
	}
}

func retryableFailure(venue string) func(context.Context, types.OrderIntent) (*types.OrderResult, error) {
	return func(context.Context, types.OrderIntent) (*types.OrderResult, error) {
		return nil, types.NewVenueError(venue, types.ErrKindTimeout, "deadline exceeded")
	}
}

func TestExecuteFailsOverExactlyOnce(t *testing.T) {
	reg := newTestRegistry(t)
	// alpha is cheaper so it is selected first, then fails with a timeout.
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: retryableFailure("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))

	bus, busErr := events.NewBus()
	require.NoError(t, busErr)
	defer bus.Close()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	engine := New(reg, WithBus(bus))
	decision, result, err := engine.Execute(context.Background(), marketBuy(10))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, decision.Failover)
	assert.Equal(t, "beta", decision.SelectedVenue)
	assert.True(t, result.Success)
	assert.Equal(t, 1, alpha.PlaceCalls)
	assert.Equal(t, 1, beta.PlaceCalls)

	sawFailover := false
	deadline := time.After(time.Second)
	for !sawFailover {
		select {
		case ev := <-ch:
			if ev.Type == types.EventFailoverTriggered && ev.Venue == "alpha" {
				sawFailover = true
			}
		case <-deadline:
			t.Fatal("failover event not published")
		}
	}
}

func TestExecuteSecondFailureSurfaces(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: retryableFailure("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta"),
		PlaceOrderFn: retryableFailure("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))

	decision, _, err := New(reg).Execute(context.Background(), marketBuy(10))
	require.Error(t, err)

	// The surfaced error belongs to the failover venue, and no third
	// attempt happens.
	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, "beta", verr.Venue)
	assert.True(t, decision.Failover)
	assert.Equal(t, 1, alpha.PlaceCalls)
	assert.Equal(t, 1, beta.PlaceCalls)
}

func TestExecuteNonRetryableDoesNotFailOver(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: func(context.Context, types.OrderIntent) (*types.OrderResult, error) {
			return nil, types.NewVenueError("alpha", types.ErrKindValidation, "size below venue minimum")
		}}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))

	decision, result, err := New(reg).Execute(context.Background(), marketBuy(10))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, decision.Failover)
	assert.Equal(t, 1, alpha.PlaceCalls)
	assert.Equal(t, 0, beta.PlaceCalls)
}

func TestExecuteShadowRunsOnFailedExecution(t *testing.T) {
	reg := newTestRegistry(t)
	// alpha wins routing, then rejects the order with a non-retryable
	// execution error. The comparison must still run, pricing beta
	// against the decision's cost estimate.
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: func(context.Context, types.OrderIntent) (*types.OrderResult, error) {
			return nil, types.NewVenueError("alpha", types.ErrKindExecution, "order rejected")
		}}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))

	var results []*shadow.Result
	comparator := shadow.New(shadow.Config{StalenessBound: time.Minute},
		shadow.WithResultHook(func(r *shadow.Result) { results = append(results, r) }))

	decision, result, err := New(reg, WithShadow(comparator)).Execute(context.Background(), marketBuy(10))
	require.Error(t, err)
	assert.Nil(t, result)
	comparator.Drain()

	require.Len(t, results, 1)
	assert.False(t, results[0].Real.Success)
	assert.Equal(t, "alpha", results[0].Real.Venue)
	assert.Equal(t, decision.Cost, results[0].Real.Cost)
	require.Len(t, results[0].Alternatives, 1)
	assert.Equal(t, "beta", results[0].Alternatives[0].Venue)
}

func TestExecuteShadowRunsOnFailedFailover(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: retryableFailure("alpha")}
	beta := &venuetest.Fake{VenueName: "beta", Assets: []string{"ETH"}, Book: deepBook("beta"),
		PlaceOrderFn: retryableFailure("beta")}
	gamma := &venuetest.Fake{VenueName: "gamma", Assets: []string{"ETH"}, Book: deepBook("gamma")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.0001), alpha))
	require.NoError(t, reg.Register(venueConfig("beta", 0.001), beta))
	require.NoError(t, reg.Register(venueConfig("gamma", 0.002), gamma))

	var results []*shadow.Result
	comparator := shadow.New(shadow.Config{StalenessBound: time.Minute},
		shadow.WithResultHook(func(r *shadow.Result) { results = append(results, r) }))

	_, _, err := New(reg, WithShadow(comparator)).Execute(context.Background(), marketBuy(10))
	require.Error(t, err)
	comparator.Drain()

	// One evaluation for the failover attempt, comparing the failed
	// placement on beta against the remaining candidate.
	require.Len(t, results, 1)
	assert.False(t, results[0].Real.Success)
	assert.Equal(t, "beta", results[0].Real.Venue)
	require.Len(t, results[0].Alternatives, 1)
	assert.Equal(t, "gamma", results[0].Alternatives[0].Venue)
}

func TestExecuteNoAlternativeSurfacesOriginalError(t *testing.T) {
	reg := newTestRegistry(t)
	alpha := &venuetest.Fake{VenueName: "alpha", Assets: []string{"ETH"}, Book: deepBook("alpha"),
		PlaceOrderFn: retryableFailure("alpha")}
	require.NoError(t, reg.Register(venueConfig("alpha", 0.001), alpha))

	_, _, err := New(reg).Execute(context.Background(), marketBuy(10))
	require.Error(t, err)

	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, "alpha", verr.Venue)
	assert.Equal(t, 1, alpha.PlaceCalls)
}
