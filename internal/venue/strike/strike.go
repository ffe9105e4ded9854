// Package strike adapts Strike Finance perpetuals on Cardano to the common
// venue contract. Strike is non-custodial: the API builds unsigned CBOR
// transactions, a wallet signer owned by the caller signs them, and the
// signed transaction is submitted back through the API.
package strike

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/internal/venue"
	"github.com/misterlabs/venuex/pkg/types"
)

// Strike settles everything in ADA with a flat network fee per transaction
// and a 40 ADA minimum collateral per position.
var (
	minCollateralADA = decimal.NewFromInt(40)

	// Synthesized book half-spread: Strike quotes a single oracle price,
	// so the adapter surfaces it as a tight two-sided book.
	halfSpread = decimal.NewFromFloat(0.0005)

	// Synthetic depth per level; Strike fills any permitted size at the
	// oracle price, so depth only needs to exceed the max order size.
	syntheticDepth = decimal.NewFromInt(10_000_000)
)

// WalletSigner signs Cardano transactions on behalf of the trading wallet.
// Key custody stays with the caller; the adapter only ever sees CBOR in,
// signed CBOR out.
type WalletSigner interface {
	Address() string
	SignTx(ctx context.Context, cborHex string) (string, error)
}

// Venue is the Strike Finance adapter.
type Venue struct {
	*venue.Base
	client *Client
	signer WalletSigner
}

var _ types.Venue = (*Venue)(nil)

// New creates the adapter. cfg.Endpoint overrides the production API URL.
func New(cfg types.VenueConfig, signer WalletSigner) *Venue {
	return &Venue{
		Base:   venue.NewBase(cfg),
		client: NewClient(cfg.Endpoint),
		signer: signer,
	}
}

// Connect verifies the API is reachable, retrying with exponential backoff.
func (v *Venue) Connect(ctx context.Context) error {
	operation := func() error {
		return v.HealthProbe(ctx)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return types.WrapVenueError(v.Name(), types.ErrKindConnection, "connect failed", err)
	}
	v.SetConnected(true)
	v.Logger().Info("connected")
	return nil
}

func (v *Venue) Name() string           { return v.Config().Name }
func (v *Venue) Chain() types.ChainKind { return types.ChainCardano }

func (v *Venue) SupportsAsset(asset string) bool {
	cfg := v.Config()
	return cfg.SupportsAsset(asset)
}

func (v *Venue) SupportedAssets() []string { return v.Config().Assets }

// PlaceOrder opens or closes a position. Strike executes at the oracle
// price as soon as the signed transaction lands, so a successful placement
// reports the order as filled immediately; there is no resting open state.
func (v *Venue) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error) {
	if intent.Kind != types.OrderKindMarket {
		return nil, types.NewVenueError(v.Name(), types.ErrKindUnsupported,
			fmt.Sprintf("%s orders not supported, only market", intent.Kind))
	}
	if err := v.CheckOrder(); err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindValidation, "order budget exhausted", err)
	}

	start := time.Now()
	result, err := v.placeOrder(ctx, intent)
	v.RecordCall(time.Since(start), err)
	return result, err
}

func (v *Venue) placeOrder(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error) {
	price, err := v.oraclePrice(ctx, intent.Asset)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindConnection, "price fetch failed", err)
	}

	if intent.ReduceOnly {
		return v.closePosition(ctx, intent, price)
	}

	collateral := intent.Size.Mul(price)
	if collateral.LessThan(minCollateralADA) {
		return nil, types.NewVenueError(v.Name(), types.ErrKindValidation,
			fmt.Sprintf("collateral %s ADA below venue minimum %s ADA", collateral.Round(2), minCollateralADA))
	}

	req := openPositionRequest{}
	req.Request.Address = v.signer.Address()
	req.Request.Asset = assetRef{PolicyID: "", AssetName: intent.Asset}
	req.Request.CollateralAmount = collateral.InexactFloat64()
	req.Request.Leverage = 1
	req.Request.Position = positionSide(intent.Side)
	if !intent.StopLoss.IsZero() {
		req.Request.StopLossPrice = intent.StopLoss.InexactFloat64()
	}
	if !intent.TakeProfit.IsZero() {
		req.Request.TakeProfitPrice = intent.TakeProfit.InexactFloat64()
	}

	var built builtTransaction
	if err := v.client.post(ctx, "/openPosition", req, &built); err != nil {
		return nil, classifyError(v.Name(), err)
	}

	txHash, err := v.signAndSubmit(ctx, built.CBOR)
	if err != nil {
		return nil, err
	}

	return &types.OrderResult{
		Success:      true,
		Venue:        v.Name(),
		OrderID:      txHash,
		Status:       types.OrderStatusFilled,
		FilledSize:   intent.Size,
		AvgFillPrice: price,
		ExecutedAt:   time.Now(),
	}, nil
}

func (v *Venue) closePosition(ctx context.Context, intent types.OrderIntent, price decimal.Decimal) (*types.OrderResult, error) {
	req := closePositionRequest{}
	req.Request.Address = v.signer.Address()
	req.Request.Asset = assetRef{AssetName: intent.Asset}
	req.Request.Position = closedSide(intent.Side)

	var built builtTransaction
	if err := v.client.post(ctx, "/closePosition", req, &built); err != nil {
		return nil, classifyError(v.Name(), err)
	}
	txHash, err := v.signAndSubmit(ctx, built.CBOR)
	if err != nil {
		return nil, err
	}
	return &types.OrderResult{
		Success:      true,
		Venue:        v.Name(),
		OrderID:      txHash,
		Status:       types.OrderStatusFilled,
		FilledSize:   intent.Size,
		AvgFillPrice: price,
		ExecutedAt:   time.Now(),
	}, nil
}

func (v *Venue) signAndSubmit(ctx context.Context, cborHex string) (string, error) {
	signed, err := v.signer.SignTx(ctx, cborHex)
	if err != nil {
		return "", types.WrapVenueError(v.Name(), types.ErrKindExecution, "wallet signing failed", err)
	}
	var resp submitResponse
	if err := v.client.post(ctx, "/submitTransaction", submitRequest{SignedTx: signed}, &resp); err != nil {
		return "", classifyError(v.Name(), err)
	}
	return resp.TxHash, nil
}

// CancelOrder is not supported: orders execute atomically at submit time,
// so there is never a resting order to cancel.
func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	return types.NewVenueError(v.Name(), types.ErrKindUnsupported, "orders execute atomically and cannot be cancelled")
}

// OrderStatus reflects Strike's atomic execution: a transaction that made
// it on-chain is filled.
func (v *Venue) OrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	return types.OrderStatusFilled, nil
}

func (v *Venue) Position(ctx context.Context, asset string) (*types.Position, error) {
	positions, err := v.Positions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Asset == asset {
			return p, nil
		}
	}
	return nil, nil
}

func (v *Venue) Positions(ctx context.Context) ([]*types.Position, error) {
	if err := v.CheckRequest(); err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindValidation, "request budget exhausted", err)
	}

	params := url.Values{}
	params.Set("address", v.signer.Address())

	start := time.Now()
	var wire []walletPosition
	err := v.client.get(ctx, "/getPositions", params, &wire)
	v.RecordCall(time.Since(start), err)
	if err != nil {
		return nil, classifyError(v.Name(), err)
	}

	out := make([]*types.Position, 0, len(wire))
	for _, wp := range wire {
		out = append(out, wp.toPosition(v.Name()))
	}
	return out, nil
}

func (v *Venue) AccountState(ctx context.Context) (*types.AccountState, error) {
	params := url.Values{}
	params.Set("address", v.signer.Address())

	var wire accountInfo
	if err := v.client.get(ctx, "/getAccountInfo", params, &wire); err != nil {
		return nil, classifyError(v.Name(), err)
	}
	return &types.AccountState{
		Venue:               v.Name(),
		TotalCollateral:     decimal.NewFromFloat(wire.TotalCollateral),
		AvailableCollateral: decimal.NewFromFloat(wire.AvailableBalance),
		MarginUsed:          decimal.NewFromFloat(wire.TotalCollateral - wire.AvailableBalance),
		UpdatedAt:           time.Now(),
	}, nil
}

// Deposit is not applicable: funds never leave the caller's wallet, each
// position is collateralized directly from it at open time.
func (v *Venue) Deposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "", types.NewVenueError(v.Name(), types.ErrKindUnsupported, "non-custodial venue, no deposit step")
}

func (v *Venue) Withdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "", types.NewVenueError(v.Name(), types.ErrKindUnsupported, "non-custodial venue, no withdrawal step")
}

// OrderBook synthesizes a tight two-sided book around the oracle price.
// Strike fills at oracle with no size-dependent impact, so the book is a
// single deep level per side at the quoted half-spread.
func (v *Venue) OrderBook(ctx context.Context, asset string) (*types.OrderBook, error) {
	price, err := v.oraclePrice(ctx, asset)
	if err != nil {
		return nil, classifyError(v.Name(), err)
	}
	one := decimal.NewFromInt(1)
	return &types.OrderBook{
		Venue:     v.Name(),
		Asset:     asset,
		Bids:      []types.PriceLevel{{Price: price.Mul(one.Sub(halfSpread)), Size: syntheticDepth}},
		Asks:      []types.PriceLevel{{Price: price.Mul(one.Add(halfSpread)), Size: syntheticDepth}},
		UpdatedAt: time.Now(),
	}, nil
}

func (v *Venue) MidPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return v.oraclePrice(ctx, asset)
}

// FundingRate reports the hourly borrow rate Strike charges open positions.
func (v *Venue) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	info, err := v.overallInfo(ctx)
	if err != nil {
		return decimal.Zero, classifyError(v.Name(), err)
	}
	return decimal.NewFromFloat(info.HourlyBorrowRate), nil
}

func (v *Venue) HealthProbe(ctx context.Context) error {
	start := time.Now()
	_, err := v.overallInfo(ctx)
	v.RecordCall(time.Since(start), err)
	if err != nil {
		return classifyError(v.Name(), err)
	}
	return nil
}

func (v *Venue) oraclePrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	info, err := v.overallInfo(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(info.AssetPrice), nil
}

func (v *Venue) overallInfo(ctx context.Context) (*overallInfo, error) {
	var info overallInfo
	if err := v.client.get(ctx, "/getOverallInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// classifyError folds transport errors into the retryable connection class
// and everything the API rejected into execution.
func classifyError(venueName string, err error) *types.VenueError {
	if verr, ok := types.AsVenueError(err); ok {
		return verr
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout"):
		return types.WrapVenueError(venueName, types.ErrKindTimeout, "request timed out", err)
	case strings.Contains(msg, "api error"):
		if strings.Contains(msg, "insufficient") {
			return types.WrapVenueError(venueName, types.ErrKindInsufficientBalance, "insufficient balance", err)
		}
		return types.WrapVenueError(venueName, types.ErrKindExecution, "venue rejected request", err)
	default:
		return types.WrapVenueError(venueName, types.ErrKindConnection, "transport failure", err)
	}
}

func positionSide(side types.Side) string {
	if side == types.SideSell {
		return "Short"
	}
	return "Long"
}

// closedSide maps the closing order's side to the side being closed: a
// sell closes a long, a buy closes a short.
func closedSide(side types.Side) string {
	if side == types.SideSell {
		return "Long"
	}
	return "Short"
}
