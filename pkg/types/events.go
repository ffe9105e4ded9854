package types

import "time"

// ProviderEventType enumerates the events emitted for external
// observability collectors.
type ProviderEventType string

const (
	EventConnected         ProviderEventType = "connected"
	EventDisconnected      ProviderEventType = "disconnected"
	EventError             ProviderEventType = "error"
	EventOrderPlaced       ProviderEventType = "order_placed"
	EventOrderFilled       ProviderEventType = "order_filled"
	EventPositionOpened    ProviderEventType = "position_opened"
	EventPositionClosed    ProviderEventType = "position_closed"
	EventHealthCheckFailed ProviderEventType = "health_check_failed"
	EventFailoverTriggered ProviderEventType = "failover_triggered"
)

// ProviderEvent is one observability event from the execution core.
type ProviderEvent struct {
	Type      ProviderEventType `json:"type"`
	Venue     string            `json:"venue,omitempty"`
	Asset     string            `json:"asset,omitempty"`
	OrderID   string            `json:"order_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
