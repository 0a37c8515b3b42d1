// ABOUTME: Management calls used by the admin CLI
// ABOUTME: Authenticated with a bearer token obtained from Login

package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Login exchanges the admin password for a management token.
func (c *Client) Login(ctx context.Context, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", requestOptions{
		body: map[string]string{"password": password},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

// Devices lists every registered device with its derived online flag.
func (c *Client) Devices(ctx context.Context, token string) ([]DeviceInfo, error) {
	var out struct {
		Devices []DeviceInfo `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices", requestOptions{cred: bearer(token)}, &out); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out.Devices, nil
}

// DeviceHistory returns a device's newest watch history entries.
func (c *Client) DeviceHistory(ctx context.Context, token, deviceID string, limit int) ([]HistoryEntry, error) {
	path := "/api/v1/devices/" + url.PathEscape(deviceID) + "/history" + limitQuery(limit)
	var out struct {
		History []HistoryEntry `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, path, requestOptions{cred: bearer(token)}, &out); err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	return out.History, nil
}

// ListBlocks returns every block, global and device-scoped.
func (c *Client) ListBlocks(ctx context.Context, token string) ([]Block, error) {
	var out BlocksResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/blocks", requestOptions{cred: bearer(token)}, &out); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return out.Blocks, nil
}

// CreateBlock adds a block for the video or channel at req.URL.
func (c *Client) CreateBlock(ctx context.Context, token string, req CreateBlockRequest) (*Block, error) {
	var out struct {
		Block Block `json:"block"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/blocks", requestOptions{cred: bearer(token), body: req}, &out)
	if err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}
	return &out.Block, nil
}

// DeleteBlock removes a block permanently.
func (c *Client) DeleteBlock(ctx context.Context, token, id string) error {
	err := c.do(ctx, http.MethodDelete, "/api/v1/blocks/"+url.PathEscape(id), requestOptions{cred: bearer(token)}, nil)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// Attempts returns the most recent block attempts across all devices.
func (c *Client) Attempts(ctx context.Context, token string, limit int) ([]Attempt, error) {
	var out struct {
		Attempts []Attempt `json:"attempts"`
	}
	path := "/api/v1/blocks/attempts" + limitQuery(limit)
	if err := c.do(ctx, http.MethodGet, path, requestOptions{cred: bearer(token)}, &out); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out.Attempts, nil
}

// AttemptStats returns today's and all-time attempt counts.
func (c *Client) AttemptStats(ctx context.Context, token string) (*AttemptStats, error) {
	var out AttemptStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/blocks/attempts/stats", requestOptions{cred: bearer(token)}, &out); err != nil {
		return nil, fmt.Errorf("attempt stats: %w", err)
	}
	return &out, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
