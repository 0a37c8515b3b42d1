// ABOUTME: Block rule polling, attempt reporting and the notice board presenter
// ABOUTME: A failed fetch keeps the last good rule set so errors never block content

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/ytwatch/internal/apiclient"
	"github.com/2389/ytwatch/internal/enforce"
)

// RuleSync fetches the device's rules and hands them to the engine.
type RuleSync struct {
	session *Session
	api     *apiclient.Client
	engine  *enforce.Engine
	logger  *slog.Logger

	// refreshMu serializes Refresh so an older response never replaces a newer one.
	refreshMu sync.Mutex

	mu          sync.Mutex
	lastSuccess time.Time
}

// NewRuleSync creates a RuleSync that installs fetched rules into engine.
func NewRuleSync(session *Session, api *apiclient.Client, engine *enforce.Engine, logger *slog.Logger) *RuleSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleSync{session: session, api: api, engine: engine, logger: logger.With("component", "rules")}
}

// Refresh replaces the engine's rule set with the server's. On error the
// engine keeps its current rules. Concurrent calls run one at a time.
func (r *RuleSync) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	id, err := r.session.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}

	resp, err := r.api.Blocks(ctx, id.APIKey, id.DeviceID)
	if err != nil {
		r.session.Invalidate(ctx, err)
		return fmt.Errorf("refresh rules: %w", err)
	}

	rules := make([]enforce.Rule, len(resp.Blocks))
	for i, b := range resp.Blocks {
		rules[i] = enforce.Rule{
			ID:            b.ID,
			Type:          b.Type,
			TargetID:      b.YouTubeID,
			Title:         b.Title,
			ChannelName:   b.ChannelName,
			CustomMessage: b.CustomMessage,
		}
	}
	r.engine.SetRules(rules)

	r.mu.Lock()
	r.lastSuccess = time.Now()
	r.mu.Unlock()

	r.logger.Debug("rules refreshed", "count", len(rules))
	return nil
}

// LastSuccess returns when rules were last fetched, or the zero time.
func (r *RuleSync) LastSuccess() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSuccess
}

// attemptReporter sends enforcement attempts as the current device.
type attemptReporter struct {
	session *Session
	api     *apiclient.Client
}

var _ enforce.Reporter = (*attemptReporter)(nil)

func (a *attemptReporter) ReportAttempt(ctx context.Context, at enforce.Attempt) error {
	id, err := a.session.Credentials(ctx)
	if err != nil {
		return err
	}
	err = a.api.ReportAttempt(ctx, id.APIKey, apiclient.AttemptReport{
		DeviceID:    id.DeviceID,
		YouTubeID:   at.YouTubeID,
		Type:        at.Type,
		VideoTitle:  at.VideoTitle,
		ChannelName: at.ChannelName,
	})
	if err != nil {
		a.session.Invalidate(ctx, err)
	}
	return err
}

// NoticeBoard is the agent's Presenter. It holds the notice currently shown so
// the page integration can poll it through the bridge.
type NoticeBoard struct {
	mu      sync.Mutex
	current *enforce.Notice
	logger  *slog.Logger
}

var _ enforce.Presenter = (*NoticeBoard)(nil)

// NewNoticeBoard creates an empty board.
func NewNoticeBoard(logger *slog.Logger) *NoticeBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoticeBoard{logger: logger.With("component", "notice")}
}

// Show puts n on display, replacing any current notice.
func (b *NoticeBoard) Show(n enforce.Notice) {
	b.mu.Lock()
	b.current = &n
	b.mu.Unlock()
	b.logger.Warn("restriction notice shown", "type", n.Type, "target", n.TargetID, "title", n.Title)
}

// Clear removes the current notice.
func (b *NoticeBoard) Clear() {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
	b.logger.Info("restriction notice cleared")
}

// Current returns the notice on display, or nil.
func (b *NoticeBoard) Current() *enforce.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	n := *b.current
	return &n
}
