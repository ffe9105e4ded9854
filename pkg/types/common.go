package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChainKind identifies the settlement chain a venue runs on.
type ChainKind string

const (
	ChainCardano ChainKind = "cardano"
	ChainEVM     ChainKind = "evm"
)

// Side of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind distinguishes market from limit orders.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus is an order's lifecycle state.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// orderTransitions is the generic lifecycle table. Venues whose execution
// model opens positions immediately collapse pending->filled in one hop;
// that collapse is documented on the adapter, not encoded here.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusOpen, OrderStatusRejected},
	OrderStatusOpen:            {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusPartiallyFilled: {OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired},
}

// CanTransitionTo reports whether the generic order lifecycle permits
// moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// VenueStatus is the registry's view of a venue's health.
type VenueStatus string

const (
	VenueStatusHealthy     VenueStatus = "healthy"
	VenueStatusDegraded    VenueStatus = "degraded"
	VenueStatusDown        VenueStatus = "down"
	VenueStatusMaintenance VenueStatus = "maintenance"
)

// OrderIntent is a venue-agnostic request to trade. Zero decimal values
// mean "not set" for the optional price fields.
type OrderIntent struct {
	Asset      string          `json:"asset"`
	Side       Side            `json:"side"`
	Kind       OrderKind       `json:"kind"`
	Size       decimal.Decimal `json:"size"` // native units of the asset
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	ReduceOnly bool            `json:"reduce_only,omitempty"`
	ClientID   string          `json:"client_id,omitempty"` // idempotency token
}

// OrderResult is the outcome of a real execution against a venue.
type OrderResult struct {
	Success      bool            `json:"success"`
	Venue        string          `json:"venue"`
	OrderID      string          `json:"order_id,omitempty"`
	Status       OrderStatus     `json:"status"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Error        *VenueError     `json:"error,omitempty"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Position is one venue's open exposure in one asset.
type Position struct {
	Venue            string          `json:"venue"`
	Asset            string          `json:"asset"`
	Side             Side            `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price,omitempty"` // zero when not applicable
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	Margin           decimal.Decimal `json:"margin"`
	Leverage         decimal.Decimal `json:"leverage"`
	OpenedAt         time.Time       `json:"opened_at"`
}

// SignedSize returns the size with sign: positive long, negative short.
func (p *Position) SignedSize() decimal.Decimal {
	if p.Side == SideSell {
		return p.Size.Neg()
	}
	return p.Size
}

// AccountState is venue-level margin and collateral state.
type AccountState struct {
	Venue               string          `json:"venue"`
	TotalCollateral     decimal.Decimal `json:"total_collateral"`
	AvailableCollateral decimal.Decimal `json:"available_collateral"`
	MarginUsed          decimal.Decimal `json:"margin_used"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// PriceLevel is one price/size pair in an order book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a depth snapshot for one asset on one venue.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBook struct {
	Venue     string       `json:"venue"`
	Asset     string       `json:"asset"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BestBid returns the highest bid, or zero when the book side is empty.
func (b *OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero when the book side is empty.
func (b *OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// MidPrice returns the bid/ask midpoint, or zero when either side is empty.
func (b *OrderBook) MidPrice() decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// VenueMetrics is a rolling view of a venue's call performance.
type VenueMetrics struct {
	CallCount   int64         `json:"call_count"`
	ErrorCount  int64         `json:"error_count"`
	AvgLatency  time.Duration `json:"avg_latency"`
	UptimeRatio float64       `json:"uptime_ratio"`
	LastSuccess time.Time     `json:"last_success"`
}

// VenueHealth is the registry-owned mutable health record for one venue.
type VenueHealth struct {
	Venue               string        `json:"venue"`
	Status              VenueStatus   `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorCount          int64         `json:"error_count"`
	CallCount           int64         `json:"call_count"`
	AvgLatency          time.Duration `json:"avg_latency"`
	UptimeRatio         float64       `json:"uptime_ratio"`
	LastSuccess         time.Time     `json:"last_success"`
	LastChecked         time.Time     `json:"last_checked"`
}

// VenueSnapshot is the market-data view of one venue at a point in time,
// sufficient to price an order against it without further venue calls.
type VenueSnapshot struct {
	Venue       string          `json:"venue"`
	Asset       string          `json:"asset"`
	Book        *OrderBook      `json:"book"`
	Fees        FeeSchedule     `json:"fees"`
	FundingRate decimal.Decimal `json:"funding_rate"` // projected for the holding period; zero when the venue reports none
	NetworkFee  decimal.Decimal `json:"network_fee"`  // flat settlement fee in quote currency; zero when none
	AvgLatency  time.Duration   `json:"avg_latency"`
	Timestamp   time.Time       `json:"timestamp"`
}
