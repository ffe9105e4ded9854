package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_Transitions(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{OrderStatusPending, OrderStatusOpen, true},
		{OrderStatusPending, OrderStatusRejected, true},
		{OrderStatusPending, OrderStatusFilled, false}, // immediate-fill collapse is per-adapter, not generic
		{OrderStatusOpen, OrderStatusFilled, true},
		{OrderStatusOpen, OrderStatusPartiallyFilled, true},
		{OrderStatusOpen, OrderStatusCancelled, true},
		{OrderStatusOpen, OrderStatusExpired, true},
		{OrderStatusOpen, OrderStatusRejected, false},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusCancelled, true},
		{OrderStatusPartiallyFilled, OrderStatusExpired, true},
		{OrderStatusPartiallyFilled, OrderStatusOpen, false},
		{OrderStatusFilled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusOpen, false},
		{OrderStatusRejected, OrderStatusOpen, false},
		{OrderStatusExpired, OrderStatusOpen, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.Empty(t, orderTransitions[s])
	}

	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestVenueError_Retryable(t *testing.T) {
	assert.True(t, NewVenueError("strike", ErrKindTimeout, "probe timed out").Retryable())
	assert.True(t, NewVenueError("strike", ErrKindConnection, "refused").Retryable())
	assert.False(t, NewVenueError("strike", ErrKindValidation, "bad asset").Retryable())
	assert.False(t, NewVenueError("strike", ErrKindExecution, "rejected").Retryable())
	assert.False(t, NewVenueError("strike", ErrKindProvider, "downstream").Retryable())
	assert.False(t, NewVenueError("strike", ErrKindUnsupported, "no cancel").Retryable())
}

func TestVenueError_WrapAndAs(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := WrapVenueError("hyperliquid", ErrKindTimeout, "order book fetch", cause)

	wrapped := fmt.Errorf("routing: %w", err)
	ve, ok := AsVenueError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "hyperliquid", ve.Venue)
	assert.Equal(t, ErrKindTimeout, ve.Kind)
	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, IsRetryable(wrapped))
}

func TestInsufficientBalanceError(t *testing.T) {
	err := NewInsufficientBalanceError("strike", decimal.NewFromInt(100), decimal.NewFromInt(40))
	assert.Equal(t, ErrKindInsufficientBalance, err.Kind)
	assert.False(t, err.Retryable())
	assert.True(t, err.Required.Equal(decimal.NewFromInt(100)))
	assert.True(t, err.Available.Equal(decimal.NewFromInt(40)))
	assert.Contains(t, err.Error(), "need 100, have 40")
}

func TestPosition_SignedSize(t *testing.T) {
	long := &Position{Side: SideBuy, Size: decimal.NewFromInt(5)}
	short := &Position{Side: SideSell, Size: decimal.NewFromInt(3)}
	assert.True(t, long.SignedSize().Equal(decimal.NewFromInt(5)))
	assert.True(t, short.SignedSize().Equal(decimal.NewFromInt(-3)))
}

func TestOrderBook_MidPrice(t *testing.T) {
	book := &OrderBook{
		Bids: []PriceLevel{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(10)}},
		Asks: []PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(10)}},
	}
	assert.True(t, book.MidPrice().Equal(decimal.NewFromInt(100)))

	empty := &OrderBook{}
	assert.True(t, empty.MidPrice().IsZero())
}

func TestVenueConfig_SupportsAsset(t *testing.T) {
	cfg := &VenueConfig{Assets: []string{"ADA", "BTC"}}
	assert.True(t, cfg.SupportsAsset("ADA"))
	assert.False(t, cfg.SupportsAsset("ETH"))
}
