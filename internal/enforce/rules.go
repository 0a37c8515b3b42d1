// ABOUTME: Block rule set and matcher for the enforcement engine
// ABOUTME: Video rules are checked before channel rules; newest rule wins within a kind

package enforce

import (
	"github.com/2389/ytwatch/internal/youtube"
)

// Rule is one block as seen by the engine. Rules of any other type (keyword) are
// carried but never matched.
type Rule struct {
	ID            string
	Type          string
	TargetID      string
	Title         string
	ChannelName   string
	CustomMessage string
}

// Content is the identity of the page currently shown on the device. Only
// VideoID and ChannelID take part in matching; the rest is best-effort metadata.
type Content struct {
	URL         string
	VideoID     string
	ChannelID   string
	Title       string
	ChannelName string
}

// Empty reports whether the content carries no matchable identity.
func (c Content) Empty() bool {
	return c.VideoID == "" && youtube.NormalizeChannel(c.ChannelID) == ""
}

// Same reports whether c and other name the same video and channel.
func (c Content) Same(other Content) bool {
	return c.VideoID == other.VideoID &&
		youtube.NormalizeChannel(c.ChannelID) == youtube.NormalizeChannel(other.ChannelID)
}

// RuleSet is an immutable snapshot of the rules visible to this device.
type RuleSet struct {
	rules    []Rule
	videos   map[string]int // video id -> index of newest rule
	channels map[string]int // normalized channel id -> index of newest rule
}

// NewRuleSet indexes rules, which must be ordered newest first.
func NewRuleSet(rules []Rule) *RuleSet {
	rs := &RuleSet{
		rules:    append([]Rule(nil), rules...),
		videos:   make(map[string]int),
		channels: make(map[string]int),
	}
	for i, r := range rs.rules {
		switch youtube.Kind(r.Type) {
		case youtube.KindVideo:
			if r.TargetID == "" {
				continue
			}
			if _, ok := rs.videos[r.TargetID]; !ok {
				rs.videos[r.TargetID] = i
			}
		case youtube.KindChannel:
			key := youtube.NormalizeChannel(r.TargetID)
			if key == "" {
				continue
			}
			if _, ok := rs.channels[key]; !ok {
				rs.channels[key] = i
			}
		}
	}
	return rs
}

// Len returns the number of rules in the set, including unmatched kinds.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Match returns the rule that blocks c. A video rule always takes precedence
// over a channel rule.
func (rs *RuleSet) Match(c Content) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	if c.VideoID != "" {
		if i, ok := rs.videos[c.VideoID]; ok {
			return rs.rules[i], true
		}
	}
	if key := youtube.NormalizeChannel(c.ChannelID); key != "" {
		if i, ok := rs.channels[key]; ok {
			return rs.rules[i], true
		}
	}
	return Rule{}, false
}
