// ABOUTME: Tests for the enforcement state machine, attempt policies and presenter calls
// ABOUTME: Uses recording fakes for the presenter and attempt reporter

package enforce

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	mu      sync.Mutex
	shown   []Notice
	cleared int
}

func (p *recordingPresenter) Show(n Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, n)
}

func (p *recordingPresenter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

type recordingReporter struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (r *recordingReporter) ReportAttempt(_ context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return r.err
}

func newTestEngine(policy AttemptPolicy) (*Engine, *recordingPresenter, *recordingReporter) {
	p := &recordingPresenter{}
	r := &recordingReporter{}
	return NewEngine(p, r, WithPolicy(policy)), p, r
}

var blockedVideo = Rule{ID: "b-1", Type: "video", TargetID: "abc123", Title: "Video abc123", CustomMessage: "Ask a parent"}

func TestEngine_RecheckBeforeNavigate(t *testing.T) {
	e, p, r := newTestEngine(PolicyPerNavigation)
	e.SetRules([]Rule{blockedVideo})

	d := e.Recheck(context.Background())

	assert.Equal(t, StateUnchecked, d.State)
	assert.Empty(t, p.shown)
	assert.Empty(t, r.attempts)
}

func TestEngine_NavigateBlocked(t *testing.T) {
	e, p, r := newTestEngine(PolicyPerNavigation)
	e.SetRules([]Rule{blockedVideo})

	d := e.Navigate(context.Background(), Content{VideoID: "abc123", Title: "Page title", ChannelName: "Chan"})

	assert.Equal(t, StateBlocked, d.State)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "b-1", d.Rule.ID)
	assert.True(t, d.Reported)

	require.Len(t, p.shown, 1)
	assert.Equal(t, "Ask a parent", p.shown[0].Message)
	require.Len(t, r.attempts, 1)
	assert.Equal(t, Attempt{YouTubeID: "abc123", Type: "video", VideoTitle: "Page title", ChannelName: "Chan"}, r.attempts[0])

	state, content := e.State()
	assert.Equal(t, StateBlocked, state)
	assert.Equal(t, "abc123", content.VideoID)
}

func TestEngine_NavigateAllowedClearsNotice(t *testing.T) {
	e, p, _ := newTestEngine(PolicyPerNavigation)
	e.SetRules([]Rule{blockedVideo})
	ctx := context.Background()

	e.Navigate(ctx, Content{VideoID: "abc123"})
	d := e.Navigate(ctx, Content{VideoID: "other"})

	assert.Equal(t, StateAllowed, d.State)
	assert.Nil(t, d.Rule)
	assert.Equal(t, 1, p.cleared)
}

func TestEngine_NoIdentityIsAllowed(t *testing.T) {
	e, p, r := newTestEngine(PolicyPerNavigation)
	e.SetRules([]Rule{blockedVideo})

	d := e.Navigate(context.Background(), Content{URL: "https://www.youtube.com/"})

	assert.Equal(t, StateAllowed, d.State)
	assert.Empty(t, p.shown)
	assert.Zero(t, p.cleared, "nothing to clear")
	assert.Empty(t, r.attempts)
}

func TestEngine_RecheckKeepsNoticeUp(t *testing.T) {
	tests := []struct {
		name         string
		policy       AttemptPolicy
		wantAttempts int
	}{
		{"per navigation", PolicyPerNavigation, 1},
		{"per check", PolicyPerCheck, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, p, r := newTestEngine(tt.policy)
			e.SetRules([]Rule{blockedVideo})
			ctx := context.Background()

			e.Navigate(ctx, Content{VideoID: "abc123"})
			for i := 0; i < 3; i++ {
				d := e.Recheck(ctx)
				assert.Equal(t, StateBlocked, d.State)
			}

			assert.Len(t, p.shown, 1, "notice is not re-rendered")
			assert.Len(t, r.attempts, tt.wantAttempts)
		})
	}
}

func TestEngine_RepeatNavigationReports(t *testing.T) {
	e, p, r := newTestEngine(PolicyPerNavigation)
	e.SetRules([]Rule{blockedVideo})
	ctx := context.Background()

	e.Navigate(ctx, Content{VideoID: "abc123"})
	e.Navigate(ctx, Content{VideoID: "abc123"})

	assert.Len(t, p.shown, 1)
	assert.Len(t, r.attempts, 2)
}

func TestEngine_RuleAddedWhileIdle(t *testing.T) {
	e, p, r := newTestEngine(PolicyPerNavigation)
	ctx := context.Background()

	d := e.Navigate(ctx, Content{VideoID: "abc123"})
	assert.Equal(t, StateAllowed, d.State)

	e.SetRules([]Rule{blockedVideo})
	d = e.Recheck(ctx)

	assert.Equal(t, StateBlocked, d.State)
	assert.True(t, d.Reported)
	assert.Len(t, p.shown, 1)
	assert.Len(t, r.attempts, 1)
}

func TestEngine_RuleRemovedWhileBlocked(t *testing.T) {
	e, p, _ := newTestEngine(PolicyPerNavigation)
	ctx := context.Background()
	e.SetRules([]Rule{blockedVideo})
	e.Navigate(ctx, Content{VideoID: "abc123"})

	e.SetRules(nil)
	d := e.Recheck(ctx)

	assert.Equal(t, StateAllowed, d.State)
	assert.Equal(t, 1, p.cleared)
	assert.Equal(t, 0, e.RuleCount())
}

func TestEngine_DifferentRuleRerenders(t *testing.T) {
	e, p, _ := newTestEngine(PolicyPerNavigation)
	ctx := context.Background()
	channelRule := Rule{ID: "b-2", Type: "channel", TargetID: "@chan"}

	e.SetRules([]Rule{channelRule})
	e.Navigate(ctx, Content{VideoID: "abc123", ChannelID: "chan"})

	e.SetRules([]Rule{blockedVideo, channelRule})
	d := e.Recheck(ctx)

	assert.Equal(t, "b-1", d.Rule.ID, "video rule now takes precedence")
	require.Len(t, p.shown, 2)
	assert.Equal(t, "b-1", p.shown[1].RuleID)
}

func TestEngine_ReporterErrorIsNotFatal(t *testing.T) {
	e, _, r := newTestEngine(PolicyPerNavigation)
	r.err = errors.New("connection refused")
	e.SetRules([]Rule{blockedVideo})

	d := e.Navigate(context.Background(), Content{VideoID: "abc123"})

	assert.Equal(t, StateBlocked, d.State)
	assert.Len(t, r.attempts, 1)
}

func TestEngine_NilReporter(t *testing.T) {
	p := &recordingPresenter{}
	e := NewEngine(p, nil)
	e.SetRules([]Rule{blockedVideo})

	d := e.Navigate(context.Background(), Content{VideoID: "abc123"})

	assert.Equal(t, StateBlocked, d.State)
	assert.Len(t, p.shown, 1)
}

func TestParseAttemptPolicy(t *testing.T) {
	p, err := ParseAttemptPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPerNavigation, p)

	p, err = ParseAttemptPolicy("per_check")
	require.NoError(t, err)
	assert.Equal(t, PolicyPerCheck, p)

	_, err = ParseAttemptPolicy("sometimes")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unchecked", StateUnchecked.String())
	assert.Equal(t, "allowed", StateAllowed.String())
	assert.Equal(t, "blocked", StateBlocked.String())
	assert.Equal(t, "state(9)", State(9).String())
}
