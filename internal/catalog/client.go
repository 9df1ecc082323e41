package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client fetches the catalog from the storefront backend.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient builds a catalog client for the given backend base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Load fetches /api/devices and /api/plans once and returns an immutable snapshot.
func (c *Client) Load(ctx context.Context) (*Snapshot, error) {
	var devices []Device
	if err := c.getJSON(ctx, "/api/devices", &devices); err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	var plans []Plan
	if err := c.getJSON(ctx, "/api/plans", &plans); err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	return FromLists(devices, plans), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("catalog error: status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
