package types

import "github.com/shopspring/decimal"

// FeeSchedule holds a venue's fee rates as fractions (0.001 = 0.1%).
type FeeSchedule struct {
	MakerRate     decimal.Decimal `json:"maker_rate"`
	TakerRate     decimal.Decimal `json:"taker_rate"`
	WithdrawalFee decimal.Decimal `json:"withdrawal_fee,omitempty"` // fixed, quote currency
}

// RateLimits defines a venue's call budget.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	OrdersPerSecond   int `json:"orders_per_second"`
	OrdersPerDay      int `json:"orders_per_day"`
}

// VenueConfig is the immutable identity and operating limits for one venue.
// It is built from static configuration at process start and never mutated
// after load.
type VenueConfig struct {
	Name             string          `json:"name"`
	Chain            ChainKind       `json:"chain"`
	Endpoint         string          `json:"endpoint"`
	Assets           []string        `json:"assets"`
	MinOrderUSD      decimal.Decimal `json:"min_order_usd"`
	MaxOrderUSD      decimal.Decimal `json:"max_order_usd"`
	Fees             FeeSchedule     `json:"fees"`
	NetworkFee       decimal.Decimal `json:"network_fee,omitempty"` // flat per-trade settlement fee, quote currency
	MaxLeverage      int             `json:"max_leverage"`
	SupportsStopLoss bool            `json:"supports_stop_loss"`
	SupportsFunding  bool            `json:"supports_funding"`
	Maintenance      bool            `json:"maintenance"` // forces the registry status regardless of probes
	RateLimits       RateLimits      `json:"rate_limits"`
}

// SupportsAsset reports whether asset appears in the configured asset list.
func (c *VenueConfig) SupportsAsset(asset string) bool {
	for _, a := range c.Assets {
		if a == asset {
			return true
		}
	}
	return false
}
