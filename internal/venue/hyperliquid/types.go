package hyperliquid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/misterlabs/venuex/pkg/types"
)

// parseDecimal converts a wire string, naming the field in any error so a
// malformed payload is distinguishable from a genuinely zero value. Empty
// strings are absent optional fields and parse to zero.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}

// infoRequest is the discriminated read request; only the fields relevant
// to the requested type are set.
type infoRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	User string `json:"user,omitempty"`
	Oid  int64  `json:"oid,omitempty"`
}

// wireLevel is one book level: price, size, order count.
type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// l2Book carries bids at index 0 and asks at index 1, best first.
type l2Book struct {
	Coin   string         `json:"coin"`
	Levels [2][]wireLevel `json:"levels"`
	Time   int64          `json:"time"`
}

func (b *l2Book) toOrderBook(venueName, asset string) (*types.OrderBook, error) {
	out := &types.OrderBook{
		Venue:     venueName,
		Asset:     asset,
		UpdatedAt: time.UnixMilli(b.Time),
	}
	for _, lvl := range b.Levels[0] {
		pl, err := toPriceLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("bid level: %w", err)
		}
		out.Bids = append(out.Bids, pl)
	}
	for _, lvl := range b.Levels[1] {
		pl, err := toPriceLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("ask level: %w", err)
		}
		out.Asks = append(out.Asks, pl)
	}
	return out, nil
}

func toPriceLevel(lvl wireLevel) (types.PriceLevel, error) {
	price, err := parseDecimal("price", lvl.Px)
	if err != nil {
		return types.PriceLevel{}, err
	}
	size, err := parseDecimal("size", lvl.Sz)
	if err != nil {
		return types.PriceLevel{}, err
	}
	return types.PriceLevel{Price: price, Size: size}, nil
}

// assetMeta is one perp in the exchange universe; the slice index is the
// asset id used in order actions.
type assetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

type meta struct {
	Universe []assetMeta `json:"universe"`
}

// assetCtx is the per-asset market context returned alongside meta.
type assetCtx struct {
	Funding      string `json:"funding"`
	MarkPx       string `json:"markPx"`
	OpenInterest string `json:"openInterest"`
}

// clearinghouseState is the account-level read.
type clearinghouseState struct {
	AssetPositions []struct {
		Position wirePosition `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
}

// wirePosition carries signed size in szi: positive long, negative short.
type wirePosition struct {
	Coin          string `json:"coin"`
	Szi           string `json:"szi"`
	EntryPx       string `json:"entryPx"`
	PositionValue string `json:"positionValue"`
	UnrealizedPnl string `json:"unrealizedPnl"`
	LiquidationPx string `json:"liquidationPx"`
	MarginUsed    string `json:"marginUsed"`
	Leverage      struct {
		Value int `json:"value"`
	} `json:"leverage"`
}

func (wp *wirePosition) toPosition(venueName string) (*types.Position, error) {
	szi, err := parseDecimal("szi", wp.Szi)
	if err != nil {
		return nil, err
	}
	side := types.SideBuy
	if szi.IsNegative() {
		side = types.SideSell
	}
	entry, err := parseDecimal("entryPx", wp.EntryPx)
	if err != nil {
		return nil, err
	}
	pnl, err := parseDecimal("unrealizedPnl", wp.UnrealizedPnl)
	if err != nil {
		return nil, err
	}
	liq, err := parseDecimal("liquidationPx", wp.LiquidationPx)
	if err != nil {
		return nil, err
	}
	margin, err := parseDecimal("marginUsed", wp.MarginUsed)
	if err != nil {
		return nil, err
	}
	value, err := parseDecimal("positionValue", wp.PositionValue)
	if err != nil {
		return nil, err
	}

	p := &types.Position{
		Venue:            venueName,
		Asset:            wp.Coin,
		Side:             side,
		Size:             szi.Abs(),
		EntryPrice:       entry,
		UnrealizedPnL:    pnl,
		LiquidationPrice: liq,
		Margin:           margin,
		Leverage:         decimal.NewFromInt(int64(wp.Leverage.Value)),
	}
	if !szi.IsZero() {
		p.MarkPrice = value.Div(szi.Abs())
	}
	return p, nil
}

// Signature is a secp256k1 signature over a typed action payload.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// wireOrder is one order inside an order action.
type wireOrder struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Type       orderType `json:"t"`
	Cloid      string    `json:"c,omitempty"`
}

type orderType struct {
	Limit *limitType `json:"limit,omitempty"`
}

type limitType struct {
	Tif string `json:"tif"` // Gtc | Ioc | Alo
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []wireOrder `json:"orders"`
	Grouping string      `json:"grouping"`
}

type cancelAction struct {
	Type    string `json:"type"`
	Cancels []struct {
		Asset int   `json:"a"`
		Oid   int64 `json:"o"`
	} `json:"cancels"`
}

type withdrawAction struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Time        int64  `json:"time"`
}

// signedRequest wraps any action with its nonce and signature.
type signedRequest struct {
	Action    interface{} `json:"action"`
	Nonce     int64       `json:"nonce"`
	Signature Signature   `json:"signature"`
}

// exchangeResponse is the /exchange reply envelope.
type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusEntry `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// orderStatusEntry is exactly one of resting, filled, or error.
type orderStatusEntry struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// orderStatusResponse is the /info orderStatus reply.
type orderStatusResponse struct {
	Status string `json:"status"`
	Order  struct {
		Status string `json:"status"`
	} `json:"order"`
}
