// Package robots fetches, caches, and evaluates robots.txt policy per
// RFC 9309. A Cache is the crawler's single point of contact with
// per-origin crawl policy: every URL is checked with Allowed before it
// is admitted to the frontier.
package robots

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/atlascrawl/atlas/internal/observability"
	"golang.org/x/sync/singleflight"
)

const (
	maxCachedOrigins = 1000
	cacheTTL         = 24 * time.Hour
	maxRobotsBytes   = 500 * 1024
)

type entry struct {
	key string
	rs  ruleSet
}

// Cache is a bounded, TTL-revalidated, single-flight-coalesced robots.txt
// cache plus the decision engine that resolves an Allowed check against
// the cached ruleSet. Safe for concurrent use by every scheduler worker.
type Cache struct {
	httpClient *http.Client
	userAgent  string
	recorder   *observability.Recorder

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	group singleflight.Group
}

func New(userAgent string, recorder *observability.Recorder) *Cache {
	return &Cache{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  userAgent,
		recorder:   recorder,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Allowed decides whether rawURL may be fetched, fetching and caching
// the origin's robots.txt as needed. It always returns a Decision, even
// on fetch failure (5xx/network errors degrade to allow, per §4.2).
func (c *Cache) Allowed(ctx context.Context, rawURL string) (Decision, *RobotsError) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Decision{}, &RobotsError{Message: err.Error(), Retryable: false, Cause: ErrCauseInvalidRobotsUrl}
	}

	key := u.Scheme + "://" + u.Host
	rs, source, ferr := c.resolve(ctx, key, u.Scheme, u.Host)
	if ferr != nil {
		c.recorder.RecordError(time.Now(), "robots", "fetch", mapRobotsErrorToCause(ferr), ferr.Message, nil)
		d := Decision{URL: *u, Allowed: true, Reason: FetchFailedAllow, Source: source}
		c.recorder.RecordRobotsDecision(rawURL, true, string(FetchFailedAllow), source)
		return d, nil
	}

	d := decide(rs, *u)
	d.Source = source
	c.recorder.RecordRobotsDecision(rawURL, d.Allowed, d.MatchedRule, source)
	return d, nil
}

// Sitemaps returns the sitemap URLs recorded for host's origin, if its
// robots.txt has already been fetched and cached.
func (c *Cache) Sitemaps(origin string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[origin]; ok {
		return el.Value.(*entry).rs.sitemaps
	}
	return nil
}

func (c *Cache) resolve(ctx context.Context, key, scheme, host string) (ruleSet, string, *RobotsError) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		rs := el.Value.(*entry).rs
		c.mu.Unlock()
		if time.Since(rs.fetchedAt) < cacheTTL {
			return rs, "cache", nil
		}
		return c.revalidate(ctx, key, scheme, host, rs)
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		rs, ferr := c.fetchAndParse(ctx, scheme, host, "", "")
		if ferr != nil {
			return ruleSet{}, ferr
		}
		c.put(key, rs)
		return rs, nil
	})
	if err != nil {
		return ruleSet{}, "fetched", err.(*RobotsError)
	}
	return v.(ruleSet), "fetched", nil
}

func (c *Cache) revalidate(ctx context.Context, key, scheme, host string, stale ruleSet) (ruleSet, string, *RobotsError) {
	v, err, _ := c.group.Do(key+"#revalidate", func() (interface{}, error) {
		rs, ferr := c.fetchAndParse(ctx, scheme, host, stale.etag, stale.lastMod)
		if ferr != nil {
			return ruleSet{}, ferr
		}
		c.put(key, rs)
		return rs, nil
	})
	if err != nil {
		// Revalidation failure: serve the stale entry rather than fail open
		// on an origin we already have rules for.
		return stale, "cache", nil
	}
	return v.(ruleSet), "fetched", nil
}

func (c *Cache) put(key string, rs ruleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).rs = rs
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, rs: rs})
	c.items[key] = el
	if c.order.Len() > maxCachedOrigins {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

func (c *Cache) fetchAndParse(ctx context.Context, scheme, host, etag, lastMod string) (ruleSet, *RobotsError) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return ruleSet{}, &RobotsError{Message: err.Error(), Retryable: false, Cause: ErrCausePreFetchFailure}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/plain,text/html,*/*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ruleSet{}, &RobotsError{Message: err.Error(), Retryable: true, Cause: ErrCauseHttpFetchFailure}
	}
	defer resp.Body.Close()

	now := time.Now()
	switch {
	case resp.StatusCode == http.StatusNotModified:
		return mapResponseToRuleSet(RobotsResponse{Host: host}, c.userAgent, now, robotsURL, etag, lastMod), nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		limited := io.LimitReader(resp.Body, maxRobotsBytes+1)
		body, rerr := io.ReadAll(limited)
		if rerr != nil {
			return ruleSet{}, &RobotsError{Message: rerr.Error(), Retryable: true, Cause: ErrCauseParseError}
		}
		if len(body) > maxRobotsBytes {
			body = body[:maxRobotsBytes]
		}
		parsed := ParseRobotsTxt(string(body), host)
		rs := mapResponseToRuleSet(parsed, c.userAgent, now, robotsURL, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))
		return rs, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return mapResponseToRuleSet(RobotsResponse{Host: host}, c.userAgent, now, robotsURL, "", ""), nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return ruleSet{}, &RobotsError{Message: fmt.Sprintf("rate limited fetching %s", robotsURL), Retryable: true, Cause: ErrCauseHttpTooManyRequests}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Other 4xx: treated as no rules (allow), per §4.2.
		return mapResponseToRuleSet(RobotsResponse{Host: host}, c.userAgent, now, robotsURL, "", ""), nil

	case resp.StatusCode >= 500:
		return ruleSet{}, &RobotsError{Message: fmt.Sprintf("server error %d fetching %s", resp.StatusCode, robotsURL), Retryable: true, Cause: ErrCauseHttpServerError}

	default:
		return ruleSet{}, &RobotsError{Message: fmt.Sprintf("unexpected status %d fetching %s", resp.StatusCode, robotsURL), Retryable: true, Cause: ErrCauseHttpUnexpectedStatus}
	}
}

// decide resolves a single URL against a cached ruleSet using RFC 9309's
// longest-match rule: the allow/disallow rule with the longest matching
// pattern wins; a tie is resolved in favor of Allow.
func decide(rs ruleSet, u url.URL) Decision {
	d := Decision{URL: u}
	if rs.crawlDelay != nil {
		d.CrawlDelay = *rs.crawlDelay
	}

	if !rs.hasGroups {
		d.Allowed = true
		d.Reason = EmptyRuleSet
		return d
	}
	if !rs.matchedGroup {
		d.Allowed = true
		d.Reason = UserAgentNotMatched
		return d
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	bestLen := -1
	allowed := true
	matchedRule := ""

	for _, r := range rs.allowRules {
		if r.matcher(path) && len(r.pattern) > bestLen {
			bestLen = len(r.pattern)
			allowed = true
			matchedRule = r.pattern
		}
	}
	for _, r := range rs.disallowRules {
		if r.matcher(path) && len(r.pattern) > bestLen {
			bestLen = len(r.pattern)
			allowed = false
			matchedRule = r.pattern
		}
	}

	if bestLen == -1 {
		d.Allowed = true
		d.Reason = NoMatchingRules
		return d
	}

	d.Allowed = allowed
	d.MatchedRule = matchedRule
	if allowed {
		d.Reason = AllowedByRobots
	} else {
		d.Reason = DisallowedByRobots
	}
	return d
}
