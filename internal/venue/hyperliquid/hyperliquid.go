// Package hyperliquid adapts the Hyperliquid perpetuals DEX to the common
// venue contract. Reads go through POST /info; every state change is a
// typed action signed by an EVM key the caller controls and posted to
// /exchange.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/internal/venue"
	"github.com/misterlabs/venuex/pkg/cache"
	"github.com/misterlabs/venuex/pkg/types"
)

const (
	metaCacheKey = "universe"
	metaCacheTTL = 5 * time.Minute

	// Market orders are IOC limits crossed through the book by this
	// fraction, matching the exchange's own slippage convention.
	marketSlippage = 0.05
)

// Signer signs Hyperliquid actions with the trading wallet's EVM key. Key
// custody stays with the caller.
type Signer interface {
	Address() string
	SignAction(ctx context.Context, action interface{}, nonce int64) (Signature, error)
}

// Venue is the Hyperliquid adapter.
type Venue struct {
	*venue.Base
	client *Client
	signer Signer
	wsURL  string
	meta   *cache.MemoryCache
}

var _ types.Venue = (*Venue)(nil)

// New creates the adapter. cfg.Endpoint overrides the production API URL.
func New(cfg types.VenueConfig, signer Signer) *Venue {
	return &Venue{
		Base:   venue.NewBase(cfg),
		client: NewClient(cfg.Endpoint),
		signer: signer,
		wsURL:  DefaultWSURL,
		meta:   cache.NewMemoryCache(time.Minute),
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

// Close releases the metadata cache janitor.
func (v *Venue) Close() { v.meta.Close() }

func (v *Venue) Name() string           { return v.Config().Name }
func (v *Venue) Chain() types.ChainKind { return types.ChainEVM }

func (v *Venue) SupportsAsset(asset string) bool {
	cfg := v.Config()
	return cfg.SupportsAsset(asset)
}

func (v *Venue) SupportedAssets() []string { return v.Config().Assets }

// PlaceOrder submits one order. Market orders become IOC limits crossed
// through the opposite side of the book; limit orders rest GTC.
func (v *Venue) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error) {
	if err := v.CheckOrder(); err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindValidation, "order budget exhausted", err)
	}

	start := time.Now()
	result, err := v.placeOrder(ctx, intent)
	v.RecordCall(time.Since(start), err)
	return result, err
}

func (v *Venue) placeOrder(ctx context.Context, intent types.OrderIntent) (*types.OrderResult, error) {
	idx, err := v.assetIndex(ctx, intent.Asset)
	if err != nil {
		return nil, classifyError(v.Name(), err)
	}

	price := intent.LimitPrice
	tif := "Gtc"
	if intent.Kind == types.OrderKindMarket {
		price, err = v.crossingPrice(ctx, intent)
		if err != nil {
			return nil, classifyError(v.Name(), err)
		}
		tif = "Ioc"
	}

	order := wireOrder{
		Asset:      idx,
		IsBuy:      intent.Side == types.SideBuy,
		Price:      price.String(),
		Size:       intent.Size.String(),
		ReduceOnly: intent.ReduceOnly,
		Type:       orderType{Limit: &limitType{Tif: tif}},
		Cloid:      intent.ClientID,
	}
	action := orderAction{Type: "order", Orders: []wireOrder{order}, Grouping: "na"}

	var resp exchangeResponse
	if err := v.signAndPost(ctx, action, &resp); err != nil {
		return nil, err
	}

	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return nil, types.NewVenueError(v.Name(), types.ErrKindProvider, "empty order status in response")
	}
	return v.resultFromStatus(intent, statuses[0])
}

func (v *Venue) resultFromStatus(intent types.OrderIntent, st orderStatusEntry) (*types.OrderResult, error) {
	switch {
	case st.Error != "":
		if strings.Contains(strings.ToLower(st.Error), "insufficient") {
			return nil, types.NewVenueError(v.Name(), types.ErrKindInsufficientBalance, st.Error)
		}
		return nil, types.NewVenueError(v.Name(), types.ErrKindExecution, st.Error)

	case st.Filled != nil:
		avgPx, err := parseDecimal("avgPx", st.Filled.AvgPx)
		if err != nil {
			return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed fill in response", err)
		}
		totalSz, err := parseDecimal("totalSz", st.Filled.TotalSz)
		if err != nil {
			return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed fill in response", err)
		}
		status := types.OrderStatusFilled
		if totalSz.LessThan(intent.Size) {
			status = types.OrderStatusPartiallyFilled
		}
		return &types.OrderResult{
			Success:      true,
			Venue:        v.Name(),
			OrderID:      orderID(intent.Asset, st.Filled.Oid),
			Status:       status,
			FilledSize:   totalSz,
			AvgFillPrice: avgPx,
			ExecutedAt:   time.Now(),
		}, nil

	case st.Resting != nil:
		return &types.OrderResult{
			Success:    true,
			Venue:      v.Name(),
			OrderID:    orderID(intent.Asset, st.Resting.Oid),
			Status:     types.OrderStatusOpen,
			ExecutedAt: time.Now(),
		}, nil

	default:
		return nil, types.NewVenueError(v.Name(), types.ErrKindProvider, "unrecognized order status in response")
	}
}

// crossingPrice prices a market order through the opposite book side.
func (v *Venue) crossingPrice(ctx context.Context, intent types.OrderIntent) (decimal.Decimal, error) {
	book, err := v.OrderBook(ctx, intent.Asset)
	if err != nil {
		return decimal.Zero, err
	}
	slip := decimal.NewFromFloat(marketSlippage)
	one := decimal.NewFromInt(1)
	if intent.Side == types.SideBuy {
		best := book.BestAsk()
		if best.IsZero() {
			return decimal.Zero, fmt.Errorf("no asks for %s", intent.Asset)
		}
		return best.Mul(one.Add(slip)), nil
	}
	best := book.BestBid()
	if best.IsZero() {
		return decimal.Zero, fmt.Errorf("no bids for %s", intent.Asset)
	}
	return best.Mul(one.Sub(slip)), nil
}

// CancelOrder cancels a resting order. Order IDs carry the asset so the
// cancel action can reference the right book.
func (v *Venue) CancelOrder(ctx context.Context, id string) error {
	asset, oid, err := parseOrderID(id)
	if err != nil {
		return types.WrapVenueError(v.Name(), types.ErrKindValidation, "malformed order id", err)
	}
	idx, err := v.assetIndex(ctx, asset)
	if err != nil {
		return classifyError(v.Name(), err)
	}

	action := cancelAction{Type: "cancel"}
	action.Cancels = append(action.Cancels, struct {
		Asset int   `json:"a"`
		Oid   int64 `json:"o"`
	}{Asset: idx, Oid: oid})

	var resp exchangeResponse
	if err := v.signAndPost(ctx, action, &resp); err != nil {
		return err
	}
	for _, st := range resp.Response.Data.Statuses {
		if st.Error != "" {
			return types.NewVenueError(v.Name(), types.ErrKindExecution, st.Error)
		}
	}
	return nil
}

func (v *Venue) OrderStatus(ctx context.Context, id string) (types.OrderStatus, error) {
	_, oid, err := parseOrderID(id)
	if err != nil {
		return "", types.WrapVenueError(v.Name(), types.ErrKindValidation, "malformed order id", err)
	}
	var resp orderStatusResponse
	err = v.client.info(ctx, infoRequest{Type: "orderStatus", User: v.signer.Address(), Oid: oid}, &resp)
	if err != nil {
		return "", classifyError(v.Name(), err)
	}
	return statusFromWire(resp.Order.Status), nil
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
	state, err := v.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p, err := ap.Position.toPosition(v.Name())
		if err != nil {
			return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed position payload", err)
		}
		if p.Size.IsZero() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (v *Venue) AccountState(ctx context.Context) (*types.AccountState, error) {
	state, err := v.clearinghouse(ctx)
	if err != nil {
		return nil, err
	}
	total, err := parseDecimal("accountValue", state.MarginSummary.AccountValue)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed margin summary", err)
	}
	used, err := parseDecimal("totalMarginUsed", state.MarginSummary.TotalMarginUsed)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed margin summary", err)
	}
	withdrawable, err := parseDecimal("withdrawable", state.Withdrawable)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed margin summary", err)
	}
	return &types.AccountState{
		Venue:               v.Name(),
		TotalCollateral:     total,
		AvailableCollateral: withdrawable,
		MarginUsed:          used,
		UpdatedAt:           time.Now(),
	}, nil
}

func (v *Venue) clearinghouse(ctx context.Context) (*clearinghouseState, error) {
	if err := v.CheckRequest(); err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindValidation, "request budget exhausted", err)
	}
	start := time.Now()
	var state clearinghouseState
	err := v.client.info(ctx, infoRequest{Type: "clearinghouseState", User: v.signer.Address()}, &state)
	v.RecordCall(time.Since(start), err)
	if err != nil {
		return nil, classifyError(v.Name(), err)
	}
	return &state, nil
}

// Deposit is handled by an on-chain bridge transfer outside this API.
func (v *Venue) Deposit(ctx context.Context, amount decimal.Decimal) (string, error) {
	return "", types.NewVenueError(v.Name(), types.ErrKindUnsupported, "deposits go through the on-chain bridge")
}

// Withdraw requests a collateral withdrawal back to the signing wallet.
func (v *Venue) Withdraw(ctx context.Context, amount decimal.Decimal) (string, error) {
	action := withdrawAction{
		Type:        "withdraw3",
		Destination: v.signer.Address(),
		Amount:      amount.String(),
		Time:        time.Now().UnixMilli(),
	}
	var resp exchangeResponse
	if err := v.signAndPost(ctx, action, &resp); err != nil {
		return "", err
	}
	if resp.Status != "ok" {
		return "", types.NewVenueError(v.Name(), types.ErrKindExecution, "withdrawal rejected")
	}
	return fmt.Sprintf("withdraw-%d", action.Time), nil
}

func (v *Venue) OrderBook(ctx context.Context, asset string) (*types.OrderBook, error) {
	start := time.Now()
	var book l2Book
	err := v.client.info(ctx, infoRequest{Type: "l2Book", Coin: asset}, &book)
	v.RecordCall(time.Since(start), err)
	if err != nil {
		return nil, classifyError(v.Name(), err)
	}
	out, err := book.toOrderBook(v.Name(), asset)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed order book", err)
	}
	return out, nil
}

func (v *Venue) MidPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	book, err := v.OrderBook(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return book.MidPrice(), nil
}

// FundingRate returns the current hourly funding rate for the asset.
func (v *Venue) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	var raw []json.RawMessage
	if err := v.client.info(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return decimal.Zero, classifyError(v.Name(), err)
	}
	if len(raw) != 2 {
		return decimal.Zero, types.NewVenueError(v.Name(), types.ErrKindProvider, "malformed metaAndAssetCtxs response")
	}
	var universe meta
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[0], &universe); err != nil {
		return decimal.Zero, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed meta", err)
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return decimal.Zero, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed asset contexts", err)
	}
	for i, am := range universe.Universe {
		if am.Name == asset && i < len(ctxs) {
			funding, err := decimal.NewFromString(ctxs[i].Funding)
			if err != nil {
				return decimal.Zero, types.WrapVenueError(v.Name(), types.ErrKindProvider, "malformed funding rate", err)
			}
			return funding, nil
		}
	}
	return decimal.Zero, types.NewVenueError(v.Name(), types.ErrKindUnsupported, fmt.Sprintf("asset %s not in universe", asset))
}

func (v *Venue) HealthProbe(ctx context.Context) error {
	start := time.Now()
	var universe meta
	err := v.client.info(ctx, infoRequest{Type: "meta"}, &universe)
	v.RecordCall(time.Since(start), err)
	if err != nil {
		return classifyError(v.Name(), err)
	}
	return nil
}

// assetIndex resolves an asset's position in the universe, which is the id
// order actions reference. The universe changes rarely, so it is cached.
func (v *Venue) assetIndex(ctx context.Context, asset string) (int, error) {
	if cached, ok := v.meta.Get(metaCacheKey); ok {
		if idx, ok := cached.(map[string]int)[asset]; ok {
			return idx, nil
		}
		return 0, fmt.Errorf("asset %s not in universe", asset)
	}

	var universe meta
	if err := v.client.info(ctx, infoRequest{Type: "meta"}, &universe); err != nil {
		return 0, err
	}
	index := make(map[string]int, len(universe.Universe))
	for i, am := range universe.Universe {
		index[am.Name] = i
	}
	v.meta.Set(metaCacheKey, index, metaCacheTTL)

	idx, ok := index[asset]
	if !ok {
		return 0, fmt.Errorf("asset %s not in universe", asset)
	}
	return idx, nil
}

func (v *Venue) signAndPost(ctx context.Context, action interface{}, resp *exchangeResponse) error {
	nonce := time.Now().UnixMilli()
	sig, err := v.signer.SignAction(ctx, action, nonce)
	if err != nil {
		return types.WrapVenueError(v.Name(), types.ErrKindExecution, "action signing failed", err)
	}
	req := signedRequest{Action: action, Nonce: nonce, Signature: sig}
	if err := v.client.exchange(ctx, req, resp); err != nil {
		return classifyError(v.Name(), err)
	}
	if resp.Status != "ok" && resp.Status != "" {
		return types.NewVenueError(v.Name(), types.ErrKindExecution, fmt.Sprintf("action rejected: %s", resp.Status))
	}
	return nil
}

func orderID(asset string, oid int64) string {
	return fmt.Sprintf("%s:%d", asset, oid)
}

func parseOrderID(id string) (string, int64, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("order id %q missing asset prefix", id)
	}
	oid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("order id %q has non-numeric oid", id)
	}
	return parts[0], oid, nil
}

func statusFromWire(s string) types.OrderStatus {
	switch s {
	case "open":
		return types.OrderStatusOpen
	case "filled":
		return types.OrderStatusFilled
	case "canceled", "marginCanceled":
		return types.OrderStatusCancelled
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusPending
	}
}

func classifyError(venueName string, err error) *types.VenueError {
	if verr, ok := types.AsVenueError(err); ok {
		return verr
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "Client.Timeout"):
		return types.WrapVenueError(venueName, types.ErrKindTimeout, "request timed out", err)
	case strings.Contains(msg, "api error"):
		return types.WrapVenueError(venueName, types.ErrKindExecution, "venue rejected request", err)
	default:
		return types.WrapVenueError(venueName, types.ErrKindConnection, "transport failure", err)
	}
}
