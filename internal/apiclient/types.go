// ABOUTME: Wire types for the ytwatch REST surface as seen by clients
// ABOUTME: Mirrors the server's JSON bodies without importing server packages

package apiclient

import "time"

// ItemError points at one invalid element of a batch request.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type RegisterRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type RegisterResponse struct {
	DeviceID string `json:"device_id"`
	APIKey   string `json:"api_key"`
	Message  string `json:"message"`
}

type HeartbeatResponse struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// HistoryItem is one watched video in an upload batch.
type HistoryItem struct {
	EntryID      string     `json:"entry_id,omitempty"`
	VideoID      string     `json:"video_id"`
	Title        string     `json:"title,omitempty"`
	ChannelName  string     `json:"channel_name,omitempty"`
	ChannelID    string     `json:"channel_id,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	VideoURL     string     `json:"video_url,omitempty"`
	WatchedAt    *time.Time `json:"watched_at,omitempty"`
	Duration     *int64     `json:"duration,omitempty"`
}

type HistoryRequest struct {
	Videos []HistoryItem `json:"videos"`
}

type HistoryResponse struct {
	Success  bool `json:"success"`
	Count    int  `json:"count"`
	Inserted int  `json:"inserted"`
}

// Block is a restriction rule. A nil DeviceID means the rule applies to every device.
type Block struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	YouTubeID     string    `json:"youtube_id"`
	Title         string    `json:"title"`
	ChannelName   string    `json:"channel_name,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	CustomMessage string    `json:"custom_message,omitempty"`
	DeviceID      *string   `json:"device_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type BlocksResponse struct {
	DeviceID string  `json:"device_id,omitempty"`
	Blocks   []Block `json:"blocks"`
	Count    int     `json:"count"`
}

// AttemptReport is what a device sends when enforcement fires.
type AttemptReport struct {
	DeviceID    string `json:"device_id,omitempty"`
	YouTubeID   string `json:"youtube_id"`
	Type        string `json:"type"`
	VideoTitle  string `json:"video_title,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
}

type Attempt struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	YouTubeID   string    `json:"youtube_id"`
	Type        string    `json:"type"`
	VideoTitle  string    `json:"video_title"`
	ChannelName string    `json:"channel_name"`
	AttemptedAt time.Time `json:"attempted_at"`
}

type AttemptStats struct {
	Today int `json:"today"`
	Total int `json:"total"`
}

type DeviceInfo struct {
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	Online        bool       `json:"online"`
	CreatedAt     time.Time  `json:"created_at"`
}

type HistoryEntry struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelName  string    `json:"channel_name"`
	ChannelID    string    `json:"channel_id,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	WatchedAt    time.Time `json:"watched_at"`
	Duration     *int64    `json:"duration,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

type CreateBlockRequest struct {
	URL           string `json:"url"`
	CustomMessage string `json:"custom_message,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
