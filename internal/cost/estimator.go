// Package cost prices an order intent against a venue snapshot. Estimate is
// a pure function of its inputs so each candidate in a routing round can be
// priced in parallel and tested in isolation.
package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/pkg/types"
)

// Breakdown itemizes the predicted cost of executing an order on one venue.
// TotalCost always equals Slippage + TradingFee + FundingCost + NetworkFee,
// in quote currency.
type Breakdown struct {
	Venue       string          `json:"venue"`
	Slippage    decimal.Decimal `json:"slippage"`
	TradingFee  decimal.Decimal `json:"trading_fee"`
	FundingCost decimal.Decimal `json:"funding_cost"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	CostPercent decimal.Decimal `json:"cost_percent"` // fraction of notional

	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Notional     decimal.Decimal `json:"notional"`
}

// Estimate predicts the execution cost of intent against snap.
//
// Slippage walks the relevant book side until the requested size fills:
// cost = (walked average price - best price) * size. The trading fee uses
// the taker rate for market orders and the maker rate otherwise. Funding
// applies only to position-opening orders on venues reporting a funding
// rate; the snapshot carries the rate already projected for the holding
// period. The network fee is the venue's flat settlement constant.
func Estimate(intent types.OrderIntent, snap types.VenueSnapshot) (*Breakdown, error) {
	if intent.Size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order size must be positive, got %s", intent.Size)
	}
	if snap.Book == nil {
		return nil, fmt.Errorf("venue %s snapshot has no order book", snap.Venue)
	}

	levels := snap.Book.Asks
	if intent.Side == types.SideSell {
		levels = snap.Book.Bids
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("venue %s has no %s-side depth for %s", snap.Venue, intent.Side, intent.Asset)
	}

	bestPrice := levels[0].Price
	avgPrice, err := walkBook(levels, intent.Size)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", snap.Venue, err)
	}

	slippage := avgPrice.Sub(bestPrice).Abs().Mul(intent.Size)
	notional := avgPrice.Mul(intent.Size)

	feeRate := snap.Fees.MakerRate
	if intent.Kind == types.OrderKindMarket {
		feeRate = snap.Fees.TakerRate
	}
	tradingFee := notional.Mul(feeRate)

	fundingCost := decimal.Zero
	if !intent.ReduceOnly && !snap.FundingRate.IsZero() {
		fundingCost = notional.Mul(snap.FundingRate)
	}

	total := slippage.Add(tradingFee).Add(fundingCost).Add(snap.NetworkFee)

	return &Breakdown{
		Venue:        snap.Venue,
		Slippage:     slippage,
		TradingFee:   tradingFee,
		FundingCost:  fundingCost,
		NetworkFee:   snap.NetworkFee,
		TotalCost:    total,
		CostPercent:  total.Div(notional),
		AvgFillPrice: avgPrice,
		Notional:     notional,
	}, nil
}

// walkBook fills size against the levels and returns the volume-weighted
// average price. Insufficient depth is an error, not a partial estimate.
func walkBook(levels []types.PriceLevel, size decimal.Decimal) (decimal.Decimal, error) {
	remaining := size
	totalCost := decimal.Zero

	for _, level := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		fill := decimal.Min(remaining, level.Size)
		totalCost = totalCost.Add(fill.Mul(level.Price))
		remaining = remaining.Sub(fill)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("insufficient order book depth: %s of %s unfilled", remaining, size)
	}
	return totalCost.Div(size), nil
}
