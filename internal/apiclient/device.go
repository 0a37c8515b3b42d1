// ABOUTME: Device-side calls: registration, heartbeat, history upload, rule fetch, attempt report
// ABOUTME: Every call except Register takes the device API key explicitly

package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Register creates the device or returns its existing key.
func (c *Client) Register(ctx context.Context, deviceID, deviceName string) (*RegisterResponse, error) {
	var out RegisterResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/register", requestOptions{
		body: RegisterRequest{DeviceID: deviceID, DeviceName: deviceName},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &out, nil
}

// Heartbeat records liveness for deviceID.
func (c *Client) Heartbeat(ctx context.Context, key, deviceID string) (*HeartbeatResponse, error) {
	var out HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/heartbeat/"+url.PathEscape(deviceID), requestOptions{
		cred: apiKey(key),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return &out, nil
}

// SubmitHistory uploads one batch (1-100 items) of watch history.
func (c *Client) SubmitHistory(ctx context.Context, key string, items []HistoryItem) (*HistoryResponse, error) {
	var out HistoryResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/watch-history", requestOptions{
		cred:     apiKey(key),
		body:     HistoryRequest{Videos: items},
		compress: c.compress,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("submit history: %w", err)
	}
	return &out, nil
}

// Blocks fetches the rules visible to deviceID, newest first.
func (c *Client) Blocks(ctx context.Context, key, deviceID string) (*BlocksResponse, error) {
	var out BlocksResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/blocks/"+url.PathEscape(deviceID), requestOptions{
		cred: apiKey(key),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch blocks: %w", err)
	}
	if out.Blocks == nil {
		out.Blocks = []Block{}
	}
	return &out, nil
}

// ReportAttempt records that enforcement fired on this device.
func (c *Client) ReportAttempt(ctx context.Context, key string, report AttemptReport) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/blocks/attempts", requestOptions{
		cred: apiKey(key),
		body: report,
	}, nil); err != nil {
		return fmt.Errorf("report attempt: %w", err)
	}
	return nil
}

// Health checks the server without credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", requestOptions{}, &out); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &out, nil
}
