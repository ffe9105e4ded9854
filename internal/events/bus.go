package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/misterlabs/venuex/pkg/types"
)

// Bus fans provider events out to in-process subscribers and, when
// configured, mirrors them to NATS subjects for external collectors.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan types.ProviderEvent
	nextID int
	closed bool
	conn   *nats.Conn
	prefix string
	logger *logrus.Entry
}

// Option configures a Bus.
type Option func(*Bus) error

// WithNATS connects the bus to a NATS server and mirrors every published
// event to "<prefix>.<event type>".
func WithNATS(url, prefix string) Option {
	return func(b *Bus) error {
		opts := []nats.Option{
			nats.Name("venuex-events"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				b.logger.Warnf("NATS disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				b.logger.Info("NATS reconnected")
			}),
		}
		conn, err := nats.Connect(url, opts...)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		b.conn = conn
		b.prefix = prefix
		return nil
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) (*Bus, error) {
	b := &Bus{
		subs:   make(map[int]chan types.ProviderEvent),
		logger: logrus.WithField("component", "events"),
		prefix: "venuex.events",
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Subscribe registers a buffered subscriber channel. The returned function
// cancels the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan types.ProviderEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.ProviderEvent, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking; a subscriber
// whose buffer is full misses the event. Events are observability data,
// never control flow.
func (b *Bus) Publish(ev types.ProviderEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.WithField("type", ev.Type).Debug("subscriber buffer full, event dropped")
		}
	}

	if b.conn != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logger.Errorf("failed to marshal event: %v", err)
			return
		}
		subject := fmt.Sprintf("%s.%s", b.prefix, ev.Type)
		if err := b.conn.Publish(subject, payload); err != nil {
			b.logger.Errorf("failed to publish to %s: %v", subject, err)
		}
	}
}

// Close drops all subscribers and disconnects from NATS.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
