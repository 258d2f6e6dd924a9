package robots

import (
	"net/url"
	"time"
)

// pathRule is a single Allow or Disallow directive, already compiled into
// a matcher. The pattern text is kept alongside it; matcher does the
// actual RFC 9309 wildcard comparison.
type pathRule struct {
	pattern string
	matcher func(path string) bool
}

// ruleSet is the immutable result of resolving one host's robots.txt
// against a specific user agent: the longest-match allow/disallow rules
// that actually apply, plus the bookkeeping needed to decide when to
// revalidate.
type ruleSet struct {
	host      string
	userAgent string

	allowRules    []pathRule
	disallowRules []pathRule
	crawlDelay    *time.Duration

	sitemaps []string

	fetchedAt time.Time
	sourceURL string
	etag      string
	lastMod   string

	matchedGroup bool
	hasGroups    bool
}

type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
	FetchFailedAllow    DecisionReason = "fetch_failed_treated_as_allow"
)

// Decision is the outcome of one Allowed check, ready to be routed to the
// observability event log.
type Decision struct {
	URL          url.URL
	Allowed      bool
	Reason       DecisionReason
	MatchedRule  string
	CrawlDelay   time.Duration
	Source       string // "cache" or "fetched"
	FetchedFresh bool
}

// RobotsResponse is the parsed content of one robots.txt document, prior
// to being resolved against a specific user agent.
type RobotsResponse struct {
	Host       string
	Sitemaps   []string
	UserAgents []UserAgentGroup
}

type UserAgentGroup struct {
	UserAgents []string
	Allows     []PathRule
	Disallows  []PathRule
	CrawlDelay *time.Duration
}

type PathRule struct {
	Path string
}

func (r RobotsResponse) IsEmpty() bool {
	if len(r.Sitemaps) > 0 {
		return false
	}
	for _, group := range r.UserAgents {
		if len(group.Allows) > 0 || len(group.Disallows) > 0 {
			return false
		}
	}
	return true
}
