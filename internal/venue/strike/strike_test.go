package strike

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterlabs/venuex/pkg/types"
)

type fakeSigner struct {
	signed []string
	fail   bool
}

func (s *fakeSigner) Address() string { return "addr1qtest" }

func (s *fakeSigner) SignTx(ctx context.Context, cborHex string) (string, error) {
	if s.fail {
		return "", context.DeadlineExceeded
	}
	s.signed = append(s.signed, cborHex)
	return "signed:" + cborHex, nil
}

// newTestVenue spins up a stub API covering the endpoints the adapter
// touches and returns the adapter pointed at it.
func newTestVenue(t *testing.T, mux *http.ServeMux) (*Venue, *fakeSigner) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	signer := &fakeSigner{}
	cfg := types.VenueConfig{
		Name:     "strike",
		Chain:    types.ChainCardano,
		Endpoint: srv.URL,
		Assets:   []string{"ADA"},
	}
	return New(cfg, signer), signer
}

func stubOverallInfo(mux *http.ServeMux, price float64) {
	mux.HandleFunc("/api/perpetuals/getOverallInfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(overallInfo{AssetPrice: price, HourlyBorrowRate: 0.0001})
	})
}

func TestPlaceOrderSignsAndSubmits(t *testing.T) {
	mux := http.NewServeMux()
	stubOverallInfo(mux, 0.5)

	var gotOpen openPositionRequest
	mux.HandleFunc("/api/perpetuals/openPosition", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotOpen))
		json.NewEncoder(w).Encode(builtTransaction{CBOR: "84a300aabb"})
	})
	mux.HandleFunc("/api/perpetuals/submitTransaction", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "signed:84a300aabb", req.SignedTx)
		json.NewEncoder(w).Encode(submitResponse{TxHash: "deadbeef"})
	})

	v, signer := newTestVenue(t, mux)
	result, err := v.PlaceOrder(context.Background(), types.OrderIntent{
		Asset: "ADA",
		Side:  types.SideBuy,
		Kind:  types.OrderKindMarket,
		Size:  decimal.NewFromInt(200), // 200 ADA @ 0.5 = 100 collateral
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "deadbeef", result.OrderID)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.True(t, result.AvgFillPrice.Equal(decimal.NewFromFloat(0.5)))

	assert.Equal(t, "addr1qtest", gotOpen.Request.Address)
	assert.Equal(t, "Long", gotOpen.Request.Position)
	assert.InDelta(t, 100, gotOpen.Request.CollateralAmount, 1e-9)
	assert.Len(t, signer.signed, 1)
}

func TestPlaceOrderRejectsBelowMinimum(t *testing.T) {
	mux := http.NewServeMux()
	stubOverallInfo(mux, 0.5)
	v, _ := newTestVenue(t, mux)

	_, err := v.PlaceOrder(context.Background(), types.OrderIntent{
		Asset: "ADA",
		Side:  types.SideBuy,
		Kind:  types.OrderKindMarket,
		Size:  decimal.NewFromInt(10), // 5 ADA collateral, under the 40 minimum
	})
	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrKindValidation, verr.Kind)
	assert.False(t, verr.Retryable())
}

func TestPlaceOrderRejectsLimitKind(t *testing.T) {
	v, _ := newTestVenue(t, http.NewServeMux())

	_, err := v.PlaceOrder(context.Background(), types.OrderIntent{
		Asset:      "ADA",
		Side:       types.SideBuy,
		Kind:       types.OrderKindLimit,
		Size:       decimal.NewFromInt(200),
		LimitPrice: decimal.NewFromFloat(0.4),
	})
	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrKindUnsupported, verr.Kind)
}

func TestReduceOnlyClosesOppositeSide(t *testing.T) {
	mux := http.NewServeMux()
	stubOverallInfo(mux, 0.5)

	var gotClose closePositionRequest
	mux.HandleFunc("/api/perpetuals/closePosition", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotClose))
		json.NewEncoder(w).Encode(builtTransaction{CBOR: "84a3ff"})
	})
	mux.HandleFunc("/api/perpetuals/submitTransaction", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{TxHash: "cafef00d"})
	})

	v, _ := newTestVenue(t, mux)
	result, err := v.PlaceOrder(context.Background(), types.OrderIntent{
		Asset:      "ADA",
		Side:       types.SideSell, // selling closes the long
		Kind:       types.OrderKindMarket,
		Size:       decimal.NewFromInt(200),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Long", gotClose.Request.Position)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
}

func TestCancelOrderUnsupported(t *testing.T) {
	v, _ := newTestVenue(t, http.NewServeMux())
	err := v.CancelOrder(context.Background(), "deadbeef")
	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrKindUnsupported, verr.Kind)
}

func TestOrderBookSynthesizedAroundOracle(t *testing.T) {
	mux := http.NewServeMux()
	stubOverallInfo(mux, 0.5)
	v, _ := newTestVenue(t, mux)

	book, err := v.OrderBook(context.Background(), "ADA")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)

	assert.True(t, book.BestBid().LessThan(decimal.NewFromFloat(0.5)))
	assert.True(t, book.BestAsk().GreaterThan(decimal.NewFromFloat(0.5)))
	assert.True(t, book.MidPrice().Equal(decimal.NewFromFloat(0.5)))
}

func TestPositionsMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/perpetuals/getPositions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "addr1qtest", r.URL.Query().Get("address"))
		json.NewEncoder(w).Encode([]walletPosition{{
			Asset:            assetRef{AssetName: "ADA"},
			Position:         "Short",
			PositionSize:     100,
			CollateralAmount: 50,
			Leverage:         2,
			EntryPrice:       0.52,
			MarkPrice:        0.5,
			LiquidationPrice: 0.7,
			UnrealizedPnL:    2,
		}})
	})

	v, _ := newTestVenue(t, mux)
	positions, err := v.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "strike", p.Venue)
	assert.Equal(t, types.SideSell, p.Side)
	assert.True(t, p.SignedSize().Equal(decimal.NewFromInt(-100)))
	assert.True(t, p.Margin.Equal(decimal.NewFromInt(50)))
}

func TestAPIErrorClassification(t *testing.T) {
	mux := http.NewServeMux()
	stubOverallInfo(mux, 0.5)
	mux.HandleFunc("/api/perpetuals/openPosition", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient collateral in wallet"})
	})

	v, _ := newTestVenue(t, mux)
	_, err := v.PlaceOrder(context.Background(), types.OrderIntent{
		Asset: "ADA",
		Side:  types.SideBuy,
		Kind:  types.OrderKindMarket,
		Size:  decimal.NewFromInt(200),
	})
	verr, ok := types.AsVenueError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrKindInsufficientBalance, verr.Kind)
	assert.False(t, verr.Retryable())
}

func TestConnectProbesWithRetry(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/perpetuals/getOverallInfo", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(overallInfo{AssetPrice: 0.5})
	})

	v, _ := newTestVenue(t, mux)
	require.NoError(t, v.Connect(context.Background()))
	assert.True(t, v.IsConnected())
	assert.GreaterOrEqual(t, calls, 3)
}
