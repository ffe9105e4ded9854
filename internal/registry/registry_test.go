package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterlabs/venuex/internal/venuetest"
	"github.com/misterlabs/venuex/pkg/types"
)

func testConfig() Config {
	return Config{
		ProbeInterval:     time.Hour, // tests drive probes manually
		ProbeTimeout:      50 * time.Millisecond,
		DegradedThreshold: 3,
		DownThreshold:     4,
	}
}

func register(t *testing.T, r *Registry, name string, maintenance bool) *venuetest.Fake {
	t.Helper()
	fake := &venuetest.Fake{VenueName: name, ChainKind: types.ChainCardano, Assets: []string{"ADA"}}
	require.NoError(t, r.Register(types.VenueConfig{Name: name, Chain: types.ChainCardano, Maintenance: maintenance}, fake))
	return fake
}

func TestRegistry_ProbeThresholdBoundaries(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "strike", false)

	probeErr := errors.New("probe timeout")

	// Two failures: still healthy.
	r.RecordProbe("strike", time.Millisecond, probeErr)
	r.RecordProbe("strike", time.Millisecond, probeErr)
	h, err := r.Health("strike")
	require.NoError(t, err)
	assert.Equal(t, types.VenueStatusHealthy, h.Status)

	// Third consecutive failure: healthy -> degraded.
	r.RecordProbe("strike", time.Millisecond, probeErr)
	h, _ = r.Health("strike")
	assert.Equal(t, types.VenueStatusDegraded, h.Status)
	assert.Equal(t, 3, h.ConsecutiveFailures)

	// Fourth consecutive failure: degraded -> down.
	r.RecordProbe("strike", time.Millisecond, probeErr)
	h, _ = r.Health("strike")
	assert.Equal(t, types.VenueStatusDown, h.Status)

	// One passing probe restores healthy directly, not degraded.
	r.RecordProbe("strike", time.Millisecond, nil)
	h, _ = r.Health("strike")
	assert.Equal(t, types.VenueStatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestRegistry_MaintenanceForced(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "strike", true)

	// Passing probes do not move a maintenance venue.
	r.RecordProbe("strike", time.Millisecond, nil)
	h, _ := r.Health("strike")
	assert.Equal(t, types.VenueStatusMaintenance, h.Status)

	// Maintenance venues are excluded from trading access and eligibility.
	_, err := r.Get("strike")
	assert.Error(t, err)
	assert.Empty(t, r.Eligible())

	// But remain reachable for diagnostics.
	v, err := r.GetForDiagnostics("strike")
	require.NoError(t, err)
	assert.Equal(t, "strike", v.Name())
}

func TestRegistry_DownVenueNotReturned(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "strike", false)
	register(t, r, "hyperliquid", false)

	probeErr := errors.New("connection refused")
	for i := 0; i < 4; i++ {
		r.RecordProbe("strike", time.Millisecond, probeErr)
	}

	_, err := r.Get("strike")
	assert.Error(t, err)

	eligible := r.Eligible()
	require.Len(t, eligible, 1)
	assert.Equal(t, "hyperliquid", eligible[0].Config.Name)

	// All() still includes the down venue.
	assert.Len(t, r.All(), 2)
}

func TestRegistry_ObserveCallDegradesBetweenProbes(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "hyperliquid", false)

	callErr := types.NewVenueError("hyperliquid", types.ErrKindConnection, "reset by peer")
	for i := 0; i < 3; i++ {
		r.ObserveCall("hyperliquid", 10*time.Millisecond, callErr)
	}

	h, _ := r.Health("hyperliquid")
	assert.Equal(t, types.VenueStatusDegraded, h.Status)
	assert.Equal(t, int64(3), h.ErrorCount)

	// A successful call clears the streak and restores healthy.
	r.ObserveCall("hyperliquid", 10*time.Millisecond, nil)
	h, _ = r.Health("hyperliquid")
	assert.Equal(t, types.VenueStatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestRegistry_ProbeTimeoutCountsAsFailure(t *testing.T) {
	r := New(testConfig(), nil)
	fake := register(t, r, "strike", false)
	fake.HealthProbeFn = func(ctx context.Context) error {
		<-ctx.Done() // never answers within the probe timeout
		return ctx.Err()
	}

	for i := 0; i < 3; i++ {
		r.ProbeAll(context.Background())
	}

	h, _ := r.Health("strike")
	assert.Equal(t, types.VenueStatusDegraded, h.Status)
}

func TestRegistry_ProbesRunConcurrently(t *testing.T) {
	r := New(testConfig(), nil)
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(30 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		fake := register(t, r, name, false)
		fake.HealthProbeFn = slow
	}

	start := time.Now()
	r.ProbeAll(context.Background())
	elapsed := time.Since(start)

	// Four 30ms probes run in parallel, well under the serial 120ms.
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "strike", false)

	err := r.Register(types.VenueConfig{Name: "strike"}, &venuetest.Fake{VenueName: "strike"})
	assert.Error(t, err)
}

func TestRegistry_MetricsAccumulate(t *testing.T) {
	r := New(testConfig(), nil)
	register(t, r, "strike", false)

	r.ObserveCall("strike", 10*time.Millisecond, nil)
	r.ObserveCall("strike", 30*time.Millisecond, nil)
	r.ObserveCall("strike", 20*time.Millisecond, errors.New("boom"))

	h, _ := r.Health("strike")
	assert.Equal(t, int64(3), h.CallCount)
	assert.Equal(t, int64(1), h.ErrorCount)
	assert.Equal(t, 20*time.Millisecond, h.AvgLatency)
	assert.InDelta(t, 2.0/3.0, h.UptimeRatio, 1e-9)
}
