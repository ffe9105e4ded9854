package types

import (
	"context"

	"github.com/shopspring/decimal"
)

// Venue is the capability contract every trading venue adapter implements.
// Each operation is independently callable and reports failures as a
// *VenueError tagged with the originating venue and error kind.
type Venue interface {
	// Identity
	Name() string
	Chain() ChainKind

	// Asset support
	SupportsAsset(asset string) bool
	SupportedAssets() []string

	// Orders
	PlaceOrder(ctx context.Context, intent OrderIntent) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)

	// Positions and account
	Position(ctx context.Context, asset string) (*Position, error)
	Positions(ctx context.Context) ([]*Position, error)
	AccountState(ctx context.Context) (*AccountState, error)

	// Collateral movement
	Deposit(ctx context.Context, amount decimal.Decimal) (string, error)
	Withdraw(ctx context.Context, amount decimal.Decimal) (string, error)

	// Market data
	OrderBook(ctx context.Context, asset string) (*OrderBook, error)
	MidPrice(ctx context.Context, asset string) (decimal.Decimal, error)
	FundingRate(ctx context.Context, asset string) (decimal.Decimal, error)

	// Health
	HealthProbe(ctx context.Context) error
	Metrics() VenueMetrics
}
