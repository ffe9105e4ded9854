package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.hyperliquid.xyz"
	// DefaultWSURL is the production websocket endpoint.
	DefaultWSURL = "wss://api.hyperliquid.xyz/ws"
)

// Client speaks the two-endpoint Hyperliquid API: every read is a typed
// POST to /info, every state change a signed POST to /exchange.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint; empty means production.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// info posts a read request and decodes the response.
func (c *Client) info(ctx context.Context, payload, result interface{}) error {
	return c.post(ctx, "/info", payload, result)
}

// exchange posts a signed action and decodes the response.
func (c *Client) exchange(ctx context.Context, payload, result interface{}) error {
	return c.post(ctx, "/exchange", payload, result)
}

func (c *Client) post(ctx context.Context, endpoint string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(data))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
