package router

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/internal/cost"
	"github.com/misterlabs/venuex/pkg/types"
)

// Urgency defines how quickly an order should be executed.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate"
)

// Strategy names a scoring preset.
type Strategy string

const (
	StrategyBalanced    Strategy = "balanced"
	StrategyBestPrice   Strategy = "best_price"
	StrategyLowestFee   Strategy = "lowest_fee"
	StrategyMinSlippage Strategy = "min_slippage"
)

// Weights are the scoring factors. They are applied to factor values
// normalized across the candidate set, so only their ratios matter.
type Weights struct {
	Slippage float64 `json:"slippage"`
	Fee      float64 `json:"fee"`
	Funding  float64 `json:"funding"`
	Latency  float64 `json:"latency"`
}

// DefaultWeights returns the production defaults.
func DefaultWeights() Weights {
	return Weights{Slippage: 0.4, Fee: 0.4, Funding: 0.1, Latency: 0.1}
}

// strategyWeights maps presets to weight profiles. Balanced uses the
// engine's configured defaults.
var strategyWeights = map[Strategy]Weights{
	StrategyBestPrice:   {Slippage: 0.45, Fee: 0.45, Funding: 0.05, Latency: 0.05},
	StrategyLowestFee:   {Slippage: 0.2, Fee: 0.7, Funding: 0.05, Latency: 0.05},
	StrategyMinSlippage: {Slippage: 0.7, Fee: 0.2, Funding: 0.05, Latency: 0.05},
}

// UserExecutionPreferences are per-order caller overrides. Allow/deny lists
// are hard filters applied before ranking.
type UserExecutionPreferences struct {
	AllowedVenues []string `json:"allowed_venues,omitempty"`
	DeniedVenues  []string `json:"denied_venues,omitempty"`
	Weights       *Weights `json:"weights,omitempty"`
}

// ExecutionContext is one routing request.
type ExecutionContext struct {
	Asset      string                    `json:"asset"`
	Side       types.Side                `json:"side"`
	Kind       types.OrderKind           `json:"kind"`
	Size       decimal.Decimal           `json:"size"`
	LimitPrice decimal.Decimal           `json:"limit_price,omitempty"`
	StopLoss   decimal.Decimal           `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal           `json:"take_profit,omitempty"`
	ReduceOnly bool                      `json:"reduce_only,omitempty"`
	ClientID   string                    `json:"client_id,omitempty"`
	Urgency    Urgency                   `json:"urgency,omitempty"`
	Strategy   Strategy                  `json:"strategy,omitempty"`
	Prefs      *UserExecutionPreferences `json:"prefs,omitempty"`
}

// Intent converts the context into the venue-agnostic order intent.
func (ec *ExecutionContext) Intent() types.OrderIntent {
	return types.OrderIntent{
		Asset:      ec.Asset,
		Side:       ec.Side,
		Kind:       ec.Kind,
		Size:       ec.Size,
		LimitPrice: ec.LimitPrice,
		StopLoss:   ec.StopLoss,
		TakeProfit: ec.TakeProfit,
		ReduceOnly: ec.ReduceOnly,
		ClientID:   ec.ClientID,
	}
}

// Candidate records how one venue fared in a routing round. Rejected
// candidates carry the filter reason; scored candidates carry the full
// cost breakdown for audit.
type Candidate struct {
	Venue        string          `json:"venue"`
	Score        float64         `json:"score"`
	Cost         *cost.Breakdown `json:"cost,omitempty"`
	Rejected     bool            `json:"rejected"`
	RejectReason string          `json:"reject_reason,omitempty"`
}

// Decision is the outcome of one routing round, carrying every candidate's
// score or rejection for audit and testing.
type Decision struct {
	ID            string          `json:"id"`
	Asset         string          `json:"asset"`
	Side          types.Side      `json:"side"`
	Size          decimal.Decimal `json:"size"`
	SelectedVenue string          `json:"selected_venue"`
	Score         float64         `json:"score"`
	Reason        string          `json:"reason"`
	Cost          *cost.Breakdown `json:"cost"`
	Candidates    []Candidate     `json:"candidates"`
	Failover      bool            `json:"failover,omitempty"` // decision produced by the bounded retry
	CreatedAt     time.Time       `json:"created_at"`
}

// RoutingErrorCode enumerates why no venue could be selected.
type RoutingErrorCode string

const (
	ErrNoEligibleVenue  RoutingErrorCode = "no_eligible_venue"
	ErrUnsupportedAsset RoutingErrorCode = "unsupported_asset"
	ErrAllVenuesDown    RoutingErrorCode = "all_venues_down"
)

// RoutingError is the single typed error a routing call returns when no
// concrete decision is possible.
type RoutingError struct {
	Code    RoutingErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed: %s: %s", e.Code, e.Message)
}

func newRoutingError(code RoutingErrorCode, format string, args ...interface{}) *RoutingError {
	return &RoutingError{Code: code, Message: fmt.Sprintf(format, args...)}
}
