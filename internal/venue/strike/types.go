package strike

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/pkg/types"
)

// assetRef identifies a Cardano native asset; ADA itself uses an empty
// policy ID.
type assetRef struct {
	PolicyID  string `json:"policyId"`
	AssetName string `json:"assetName"`
}

type openPositionRequest struct {
	Request struct {
		Address          string   `json:"address"`
		Asset            assetRef `json:"asset"`
		CollateralAmount float64  `json:"collateralAmount"`
		Leverage         float64  `json:"leverage"`
		Position         string   `json:"position"` // Long | Short
		StopLossPrice    float64  `json:"stopLossPrice,omitempty"`
		TakeProfitPrice  float64  `json:"takeProfitPrice,omitempty"`
	} `json:"request"`
}

type closePositionRequest struct {
	Request struct {
		Address  string   `json:"address"`
		Asset    assetRef `json:"asset"`
		Position string   `json:"position"`
	} `json:"request"`
}

// builtTransaction is the unsigned transaction the API hands back for the
// wallet to sign.
type builtTransaction struct {
	CBOR string `json:"cbor"`
}

type submitRequest struct {
	SignedTx string `json:"signedTx"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

type overallInfo struct {
	AssetPrice       float64 `json:"assetPrice"`
	LongInterest     float64 `json:"longInterest"`
	ShortInterest    float64 `json:"shortInterest"`
	HourlyBorrowRate float64 `json:"hourlyBorrowRate"`
}

type accountInfo struct {
	TotalCollateral  float64 `json:"totalCollateral"`
	AvailableBalance float64 `json:"availableBalance"`
}

type walletPosition struct {
	Asset            assetRef `json:"asset"`
	Position         string   `json:"position"`
	PositionSize     float64  `json:"positionSize"`
	CollateralAmount float64  `json:"collateralAmount"`
	Leverage         float64  `json:"leverage"`
	EntryPrice       float64  `json:"entryPrice"`
	MarkPrice        float64  `json:"markPrice"`
	LiquidationPrice float64  `json:"liquidationPrice"`
	UnrealizedPnL    float64  `json:"unrealizedPnl"`
	EnteredAt        int64    `json:"enteredPositionTime"` // unix millis
}

func (wp *walletPosition) toPosition(venueName string) *types.Position {
	side := types.SideBuy
	if wp.Position == "Short" {
		side = types.SideSell
	}
	return &types.Position{
		Venue:            venueName,
		Asset:            wp.Asset.AssetName,
		Side:             side,
		Size:             decimal.NewFromFloat(wp.PositionSize),
		EntryPrice:       decimal.NewFromFloat(wp.EntryPrice),
		MarkPrice:        decimal.NewFromFloat(wp.MarkPrice),
		LiquidationPrice: decimal.NewFromFloat(wp.LiquidationPrice),
		UnrealizedPnL:    decimal.NewFromFloat(wp.UnrealizedPnL),
		Margin:           decimal.NewFromFloat(wp.CollateralAmount),
		Leverage:         decimal.NewFromFloat(wp.Leverage),
		OpenedAt:         time.UnixMilli(wp.EnteredAt),
	}
}
