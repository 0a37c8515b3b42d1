// ABOUTME: Loopback HTTP bridge receiving navigation reports from a page integration
// ABOUTME: Each report refreshes rules, runs enforcement and records history once per window

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/2389/ytwatch/internal/dedupe"
	"github.com/2389/ytwatch/internal/enforce"
	"github.com/2389/ytwatch/internal/youtube"
)

const maxReportBytes = 64 << 10

// NavigationReport is what the page integration posts on every navigation.
type NavigationReport struct {
	URL         string `json:"url"`
	VideoID     string `json:"video_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	Title       string `json:"title,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	Duration    *int64 `json:"duration,omitempty"`
}

// content fills missing ids from the URL.
func (r NavigationReport) content() enforce.Content {
	c := enforce.Content{
		URL:         strings.TrimSpace(r.URL),
		VideoID:     strings.TrimSpace(r.VideoID),
		ChannelID:   strings.TrimSpace(r.ChannelID),
		Title:       strings.TrimSpace(r.Title),
		ChannelName: strings.TrimSpace(r.ChannelName),
	}
	if c.URL == "" {
		return c
	}
	if t, err := youtube.ParseURL(c.URL); err == nil {
		switch {
		case t.Kind == youtube.KindVideo && c.VideoID == "":
			c.VideoID = t.ID
		case t.Kind == youtube.KindChannel && c.ChannelID == "":
			c.ChannelID = t.ID
		}
	}
	return c
}

// NoticeView is the JSON form of a notice.
type NoticeView struct {
	RuleID      string `json:"rule_id"`
	Type        string `json:"type"`
	TargetID    string `json:"target_id"`
	Heading     string `json:"heading"`
	Summary     string `json:"summary"`
	Title       string `json:"title"`
	ChannelName string `json:"channel_name,omitempty"`
	Message     string `json:"message,omitempty"`
	MessageHTML string `json:"message_html,omitempty"`
}

// StateView is the bridge's answer to a report or a state query.
type StateView struct {
	State     string      `json:"state"`
	VideoID   string      `json:"video_id,omitempty"`
	ChannelID string      `json:"channel_id,omitempty"`
	Notice    *NoticeView `json:"notice,omitempty"`
	Recorded  bool        `json:"recorded"`
}

type refresher interface {
	Refresh(ctx context.Context) error
}

type recorder interface {
	Observe(ctx context.Context, e Entry) error
}

// Bridge serves the local navigation endpoint.
type Bridge struct {
	engine *enforce.Engine
	rules  refresher
	sync   recorder
	window *dedupe.Window
	board  *NoticeBoard
	logger *slog.Logger
}

func NewBridge(engine *enforce.Engine, rules refresher, sync recorder, window *dedupe.Window, board *NoticeBoard, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		engine: engine,
		rules:  rules,
		sync:   sync,
		window: window,
		board:  board,
		logger: logger.With("component", "bridge"),
	}
}

// Handler returns the bridge routes.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /navigate", b.handleNavigate)
	mux.HandleFunc("GET /state", b.handleState)
	return mux
}

func (b *Bridge) handleNavigate(w http.ResponseWriter, r *http.Request) {
	// JSON only: cross-origin posts then need a preflight, which the bridge never grants.
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeBridgeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	var report NavigationReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&report); err != nil {
		writeBridgeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c := report.content()
	if c.URL == "" && c.Empty() {
		writeBridgeError(w, http.StatusBadRequest, "url or video_id is required")
		return
	}

	ctx := r.Context()
	if err := b.rules.Refresh(ctx); err != nil {
		b.logger.Warn("rule refresh failed, using last known rules", "error", err)
	}

	b.engine.Navigate(ctx, c)
	recorded := b.record(ctx, c, report.Duration)

	view := b.view()
	view.Recorded = recorded
	writeBridgeJSON(w, http.StatusOK, view)
}

func (b *Bridge) record(ctx context.Context, c enforce.Content, duration *int64) bool {
	if c.VideoID == "" || b.window.Observe(c.VideoID) {
		return false
	}
	videoURL := c.URL
	if videoURL == "" {
		videoURL = youtube.WatchURL(c.VideoID)
	}
	err := b.sync.Observe(ctx, Entry{
		VideoID:     c.VideoID,
		Title:       c.Title,
		ChannelName: c.ChannelName,
		ChannelID:   c.ChannelID,
		VideoURL:    videoURL,
		Duration:    duration,
	})
	if err != nil {
		b.window.Forget(c.VideoID)
		b.logger.Error("failed to buffer history entry", "video_id", c.VideoID, "error", err)
		return false
	}
	return true
}

func (b *Bridge) handleState(w http.ResponseWriter, r *http.Request) {
	writeBridgeJSON(w, http.StatusOK, b.view())
}

func (b *Bridge) view() StateView {
	state, c := b.engine.State()
	v := StateView{State: state.String(), VideoID: c.VideoID, ChannelID: c.ChannelID}
	if n := b.board.Current(); n != nil && state == enforce.StateBlocked {
		v.Notice = &NoticeView{
			RuleID:      n.RuleID,
			Type:        n.Type,
			TargetID:    n.TargetID,
			Heading:     n.Heading,
			Summary:     n.Summary,
			Title:       n.Title,
			ChannelName: n.ChannelName,
			Message:     n.Message,
			MessageHTML: string(n.MessageHTML),
		}
	}
	return v
}

func writeBridgeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBridgeError(w http.ResponseWriter, status int, msg string) {
	writeBridgeJSON(w, status, map[string]string{"error": msg, "kind": "validation"})
}
