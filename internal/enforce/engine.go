// ABOUTME: Block enforcement state machine (UNCHECKED -> ALLOWED | BLOCKED)
// ABOUTME: Drives a Presenter and reports one attempt per blocked navigation by default

package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the engine's decision for the current content.
type State int

const (
	StateUnchecked State = iota
	StateAllowed
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateAllowed:
		return "allowed"
	case StateBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AttemptPolicy decides when a BLOCKED decision is reported as an attempt.
type AttemptPolicy string

const (
	// PolicyPerNavigation reports once each time a navigation lands on blocked
	// content, and when a re-check newly blocks the current content. Re-checks
	// that keep the same notice up do not report.
	PolicyPerNavigation AttemptPolicy = "per_navigation"
	// PolicyPerCheck reports on every check that resolves to BLOCKED.
	PolicyPerCheck AttemptPolicy = "per_check"
)

// ParseAttemptPolicy accepts "" as the default policy.
func ParseAttemptPolicy(s string) (AttemptPolicy, error) {
	switch AttemptPolicy(s) {
	case "", PolicyPerNavigation:
		return PolicyPerNavigation, nil
	case PolicyPerCheck:
		return PolicyPerCheck, nil
	default:
		return "", fmt.Errorf("unknown attempt policy %q (want %s or %s)", s, PolicyPerNavigation, PolicyPerCheck)
	}
}

// Presenter shows and hides the restriction notice.
type Presenter interface {
	Show(n Notice)
	Clear()
}

// Attempt is the record sent when enforcement fires.
type Attempt struct {
	YouTubeID   string
	Type        string
	VideoTitle  string
	ChannelName string
}

// Reporter delivers attempts. Errors are logged by the engine and otherwise ignored.
type Reporter interface {
	ReportAttempt(ctx context.Context, a Attempt) error
}

// Decision is the outcome of one check.
type Decision struct {
	State    State
	Rule     *Rule
	Reported bool
}

// Engine holds the current rule set and content and keeps the presenter in step
// with them. It is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	rules     *RuleSet
	state     State
	content   Content
	checked   bool
	shownRule string

	presenter Presenter
	reporter  Reporter
	policy    AttemptPolicy
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPolicy sets the attempt policy. The default is PolicyPerNavigation.
func WithPolicy(p AttemptPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine with an empty rule set in state UNCHECKED.
func NewEngine(presenter Presenter, reporter Reporter, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:     NewRuleSet(nil),
		presenter: presenter,
		reporter:  reporter,
		policy:    PolicyPerNavigation,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "enforce")
	return e
}

// SetRules replaces the rule set. It does not re-check; callers follow with
// Recheck or Navigate.
func (e *Engine) SetRules(rules []Rule) {
	rs := NewRuleSet(rules)
	e.mu.Lock()
	e.rules = rs
	e.mu.Unlock()
}

// RuleCount returns the size of the current rule set.
func (e *Engine) RuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.Len()
}

// State returns the current state and the content it applies to.
func (e *Engine) State() (State, Content) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.content
}

// Navigate records c as the current content and checks it.
func (e *Engine) Navigate(ctx context.Context, c Content) Decision {
	e.mu.Lock()
	same := e.checked && e.content.Same(c)
	e.content = c
	e.checked = true
	d, attempt := e.evaluateLocked(true, same)
	e.mu.Unlock()

	return e.finish(ctx, d, attempt)
}

// Recheck checks the current content again, typically after SetRules. Before
// the first Navigate it does nothing and returns UNCHECKED.
func (e *Engine) Recheck(ctx context.Context) Decision {
	e.mu.Lock()
	if !e.checked {
		e.mu.Unlock()
		return Decision{State: StateUnchecked}
	}
	d, attempt := e.evaluateLocked(false, true)
	e.mu.Unlock()

	return e.finish(ctx, d, attempt)
}

// evaluateLocked updates state and presenter. sameContent is true when the
// content did not change since the previous check.
func (e *Engine) evaluateLocked(navigation, sameContent bool) (Decision, *Attempt) {
	c := e.content

	rule, ok := e.rules.Match(c)
	if c.Empty() || !ok {
		if e.state == StateBlocked {
			e.presenter.Clear()
		}
		e.state = StateAllowed
		e.shownRule = ""
		return Decision{State: StateAllowed}, nil
	}

	alreadyShown := e.state == StateBlocked && sameContent && e.shownRule == rule.ID
	if !alreadyShown {
		e.presenter.Show(newNotice(rule, c))
	}
	e.state = StateBlocked
	e.shownRule = rule.ID

	d := Decision{State: StateBlocked, Rule: &rule}
	report := false
	switch e.policy {
	case PolicyPerCheck:
		report = true
	default:
		report = navigation || !alreadyShown
	}
	if !report {
		return d, nil
	}
	d.Reported = true
	return d, &Attempt{
		YouTubeID:   rule.TargetID,
		Type:        rule.Type,
		VideoTitle:  firstNonEmpty(c.Title, rule.Title),
		ChannelName: firstNonEmpty(c.ChannelName, rule.ChannelName),
	}
}

func (e *Engine) finish(ctx context.Context, d Decision, attempt *Attempt) Decision {
	if d.State == StateBlocked {
		level := slog.LevelDebug
		if d.Reported {
			level = slog.LevelInfo
		}
		e.logger.Log(ctx, level, "content blocked", "rule_id", d.Rule.ID, "type", d.Rule.Type, "target", d.Rule.TargetID)
	}
	if attempt == nil || e.reporter == nil {
		return d
	}
	if err := e.reporter.ReportAttempt(ctx, *attempt); err != nil {
		e.logger.Warn("failed to report block attempt", "youtube_id", attempt.YouTubeID, "error", err)
	}
	return d
}
