// Package venuetest provides a configurable in-memory venue for tests.
package venuetest

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/pkg/types"
)

// Fake implements types.Venue with overridable hooks. Unset hooks fall back
// to benign defaults so tests only wire what they assert on.
type Fake struct {
	VenueName  string
	ChainKind  types.ChainKind
	Assets     []string
	Book       *types.OrderBook
	Funding    decimal.Decimal
	OpenPos    []*types.Position
	Account    *types.AccountState
	VenueStats types.VenueMetrics

	PlaceOrderFn  func(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error)
	CancelOrderFn func(ctx context.Context, orderID string) error
	HealthProbeFn func(ctx context.Context) error
	OrderBookFn   func(ctx context.Context, asset string) (*types.OrderBook, error)
	PositionsFn   func(ctx context.Context) ([]*types.Position, error)

	mu         sync.Mutex
	PlaceCalls int
	ProbeCalls int
}

var _ types.Venue = (*Fake)(nil)

func (f *Fake) Name() string           { return f.VenueName }
func (f *Fake) Chain() types.ChainKind { return f.ChainKind }

func (f *Fake) SupportsAsset(asset string) bool {
	for _, a := range f.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

func (f *Fake) SupportedAssets() []string { return f.Assets }

func (f *Fake) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error) {
	f.mu.Lock()
	f.PlaceCalls++
	f.mu.Unlock()
	if f.PlaceOrderFn != nil {
		return f.PlaceOrderFn(ctx, intent)
	}
	return &types.OrderResult{
		Success:      true,
		Venue:        f.VenueName,
		OrderID:      "fake-order",
		Status:       types.OrderStatusFilled,
		FilledSize:   intent.Size,
		AvgFillPrice: decimal.NewFromInt(100),
		ExecutedAt:   time.Now(),
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	if f.CancelOrderFn != nil {
		return f.CancelOrderFn(ctx, orderID)
	}
	return nil
}

func (f *Fake) OrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	return types.OrderStatusFilled, nil
}

func (f *Fake) Position(ctx context.Context, asset string) (*types.Position, error) {
	for _, p := range f.OpenPos {
		if p.Asset == asset {
			return p, nil
		}
	}
	return nil, nil
}

func (f *Fake) Positions(ctx context.Context) ([]*types.Position, error) {
	if f.PositionsFn != nil {
		return f.PositionsFn(ctx)
	}
	return f.OpenPos, nil
}

func (f *Fake) AccountState(ctx context.Context) (*types.AccountState, error) {
	if f.Account != nil {
		return f.Account, nil
	}
	return &types.AccountState{Venue: f.VenueName}, nil
}

func (f *Fake) Deposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "fake-deposit", nil
}

func (f *Fake) Withdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "fake-withdraw", nil
}

func (f *Fake) OrderBook(ctx context.Context, asset string) (*types.OrderBook, error) {
	if f.OrderBookFn != nil {
		return f.OrderBookFn(ctx, asset)
	}
	return f.Book, nil
}

func (f *Fake) MidPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	book, err := f.OrderBook(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return book.MidPrice(), nil
}

func (f *Fake) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.Funding, nil
}

func (f *Fake) HealthProbe(ctx context.Context) error {
	f.mu.Lock()
	f.ProbeCalls++
	f.mu.Unlock()
	if f.HealthProbeFn != nil {
		return f.HealthProbeFn(ctx)
	}
	return nil
}

func (f *Fake) Metrics() types.VenueMetrics { return f.VenueStats }

// Ladder builds an order book with both sides: count levels per side,
// starting at mid +/- half the step, each level carrying size units.
func Ladder(venue, asset string, mid float64, step float64, size float64, count int) *types.OrderBook {
	book := &types.OrderBook{Venue: venue, Asset: asset, UpdatedAt: time.Now()}
	for i := 0; i < count; i++ {
		bid := decimal.NewFromFloat(mid - step/2 - float64(i)*step)
		ask := decimal.NewFromFloat(mid + step/2 + float64(i)*step)
		book.Bids = append(book.Bids, types.PriceLevel{Price: bid, Size: decimal.NewFromFloat(size)})
		book.Asks = append(book.Asks, types.PriceLevel{Price: ask, Size: decimal.NewFromFloat(size)})
	}
	return book
}
