// ABOUTME: Tests for device-facing block distribution and attempt reporting
// ABOUTME: Checks the global plus device union, newest-first ordering and attempt defaults

package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ytwatch/internal/store"
)

func (e *testEnv) createBlock(body map[string]string) blockJSON {
	e.t.Helper()
	rec := e.request(http.MethodPost, "/api/v1/blocks", body, bearerHeader(e.managerToken())...)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[struct {
		Success bool      `json:"success"`
		Block   blockJSON `json:"block"`
	}](e.t, rec)
	require.True(e.t, resp.Success)
	return resp.Block
}

func TestDeviceBlocks_Union(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	key1 := env.register("dev-1")
	key2 := env.register("dev-2")

	global := env.createBlock(map[string]string{"url": "https://www.youtube.com/watch?v=glob4l"})
	env.clock.Advance(time.Second)
	mine := env.createBlock(map[string]string{"url": "https://www.youtube.com/@handle", "device_id": "dev-1"})
	env.clock.Advance(time.Second)
	theirs := env.createBlock(map[string]string{"url": "https://youtu.be/other1", "device_id": "dev-2"})

	rec := env.request(http.MethodGet, "/api/v1/blocks/dev-1", nil, keyHeader(key1)...)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[blocksResponse](t, rec)
	assert.Equal(t, "dev-1", resp.DeviceID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Blocks, 2)
	assert.Equal(t, mine.ID, resp.Blocks[0].ID, "newest first")
	assert.Equal(t, global.ID, resp.Blocks[1].ID)
	assert.Nil(t, resp.Blocks[1].DeviceID)

	resp = decodeBody[blocksResponse](t, env.request(http.MethodGet, "/api/v1/blocks/dev-2", nil, keyHeader(key2)...))
	ids := []string{}
	for _, b := range resp.Blocks {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{theirs.ID, global.ID}, ids)
}

func TestDeviceBlocks_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	key := env.register("dev-1")

	rec := env.request(http.MethodGet, "/api/v1/blocks/dev-1", nil, keyHeader(key)...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"device_id":"dev-1","blocks":[],"count":0}`, rec.Body.String())
}

func TestReportAttempt(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	key := env.register("dev-1")

	rec := env.request(http.MethodPost, "/api/v1/blocks/attempts", map[string]string{
		"device_id":    "dev-1",
		"youtube_id":   "@badchannel",
		"type":         "channel",
		"video_title":  "Some video",
		"channel_name": "Bad Channel",
	}, keyHeader(key)...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// device_id may be omitted; missing names default to "Unknown".
	rec = env.request(http.MethodPost, "/api/v1/blocks/attempts", map[string]string{"youtube_id": "abc123"}, keyHeader(key)...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	attempts, err := env.store.ListRecentAttempts(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	byTarget := map[string]*store.BlockAttempt{}
	for _, a := range attempts {
		byTarget[a.YouTubeID] = a
	}
	assert.Equal(t, store.BlockTypeChannel, byTarget["@badchannel"].Type)
	assert.Equal(t, "Bad Channel", byTarget["@badchannel"].ChannelName)
	assert.Equal(t, store.BlockTypeVideo, byTarget["abc123"].Type)
	assert.Equal(t, "Unknown", byTarget["abc123"].VideoTitle)
	assert.Equal(t, "Unknown", byTarget["abc123"].ChannelName)
	assert.Equal(t, "dev-1", byTarget["abc123"].DeviceID)
}

func TestReportAttempt_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	key := env.register("dev-1")

	for _, body := range []map[string]string{
		{"youtube_id": ""},
		{"youtube_id": "abc", "type": "playlist"},
	} {
		rec := env.request(http.MethodPost, "/api/v1/blocks/attempts", body, keyHeader(key)...)
		assertErrorKind(t, rec, http.StatusBadRequest, kindValidation)
	}

	n, err := env.store.CountAttempts(t.Context(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
