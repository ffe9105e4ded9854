package hyperliquid

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/misterlabs/venuex/pkg/types"
)

// wsSubscription is the subscribe frame for one feed.
type wsSubscription struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	} `json:"subscription"`
}

// wsMessage is the envelope every feed message arrives in.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// StreamOrderBook subscribes to live book updates for one asset. The
// returned channel closes when the context ends or the connection drops;
// reconnecting is the caller's policy.
func (v *Venue) StreamOrderBook(ctx context.Context, asset string) (<-chan *types.OrderBook, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, v.wsURL, nil)
	if err != nil {
		return nil, types.WrapVenueError(v.Name(), types.ErrKindConnection, "websocket dial failed", err)
	}

	sub := wsSubscription{Method: "subscribe"}
	sub.Subscription.Type = "l2Book"
	sub.Subscription.Coin = asset
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, types.WrapVenueError(v.Name(), types.ErrKindConnection, "subscribe failed", err)
	}

	out := make(chan *types.OrderBook, 16)

	// Reader goroutine owns the connection; the closer goroutine tears it
	// down on context cancellation, which unblocks the reader.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					v.Logger().Warnf("book stream closed: %v", err)
				}
				return
			}
			if msg.Channel != "l2Book" {
				continue
			}
			var book l2Book
			if err := json.Unmarshal(msg.Data, &book); err != nil {
				v.Logger().Warnf("malformed book update: %v", err)
				continue
			}
			parsed, err := book.toOrderBook(v.Name(), asset)
			if err != nil {
				v.Logger().Warnf("malformed book update: %v", err)
				continue
			}
			select {
			case out <- parsed:
			default:
				// Slow consumer: drop the update, the next one
				// supersedes it anyway.
			}
		}
	}()
	return out, nil
}
