package strike

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://app.strikefinance.org"

	apiPrefix = "/api/perpetuals"
)

// Client is a thin HTTP client for the Strike Finance perpetuals API.
// Authentication happens at the transaction layer: the API returns unsigned
// CBOR transactions and the wallet signs them, so there is no API key.
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
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the body Strike returns on a non-2xx status.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// get performs a GET with query params and decodes the JSON response.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	fullURL := c.baseURL + apiPrefix + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

// post performs a POST with a JSON body and decodes the JSON response.
func (c *Client) post(ctx context.Context, endpoint string, payload, result interface{}) error {
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && (apiErr.Error != "" || apiErr.Message != "") {
			msg := apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
			return fmt.Errorf("api error (status %d): %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("api error (status %d)", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
