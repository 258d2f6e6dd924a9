// Package normalize turns a raw, possibly relative and possibly malformed
// href into a canonical absolute URL plus a short content-addressed key,
// or rejects it per scheme/pattern policy. It has no state beyond the
// compiled patterns handed to New, so a Normalizer is safe to share across
// every goroutine in the scheduler's worker pool.
package normalize

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/atlascrawl/atlas/pkg/hashutil"
	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
)

// Normalizer holds precompiled allow/deny matchers and the seed host set
// used to classify internal vs external links. Construct once per crawl
// with New and reuse; Normalize itself is pure given that state.
type Normalizer struct {
	policy    Policy
	allow     []compiledPattern
	deny      []compiledPattern
	blocklist map[string]struct{}
	seedHosts map[string]struct{}
}

type compiledPattern struct {
	raw    Pattern
	glob   glob.Glob
	isGlob bool
	re     *regexp.Regexp
}

// New compiles policy once. seedHosts is the set of hostnames considered
// "internal" (typically the crawl's seed URL hosts); every other host is
// external.
func New(policy Policy, seedHosts []string) (*Normalizer, error) {
	n := &Normalizer{
		policy:    policy,
		blocklist: make(map[string]struct{}, len(policy.TrackingParamBlocklist)),
		seedHosts: make(map[string]struct{}, len(seedHosts)),
	}
	for _, p := range policy.TrackingParamBlocklist {
		n.blocklist[strings.ToLower(p)] = struct{}{}
	}
	for _, h := range seedHosts {
		n.seedHosts[strings.ToLower(h)] = struct{}{}
	}
	var err error
	if n.allow, err = compilePatterns(policy.AllowPatterns); err != nil {
		return nil, err
	}
	if n.deny, err = compilePatterns(policy.DenyPatterns); err != nil {
		return nil, err
	}
	return n, nil
}

func compilePatterns(patterns []Pattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		cp, err := compileOne(p)
		if err != nil {
			return nil, &NormalizeError{Message: err.Error(), Retryable: false, Cause: ErrCauseBadPattern}
		}
		out = append(out, cp)
	}
	return out, nil
}

func compileOne(p Pattern) (compiledPattern, error) {
	s := string(p)
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return compiledPattern{}, err
		}
		return compiledPattern{raw: p, re: re}, nil
	}
	g, err := glob.Compile(s)
	if err != nil {
		return compiledPattern{}, err
	}
	return compiledPattern{raw: p, glob: g, isGlob: true}, nil
}

func (cp compiledPattern) match(s string) bool {
	if cp.isGlob {
		return cp.glob.Match(s)
	}
	return cp.re.MatchString(s)
}

// Normalize resolves rawHref against baseURL and applies the compiled
// policy. It never returns an error for an ordinarily malformed or
// excluded link — that outcome is carried in Result.Rejected. A non-nil
// error is reserved for inputs normalize cannot reason about at all (base
// URL itself malformed).
func (n *Normalizer) Normalize(rawHref, baseURL string) (Result, *NormalizeError) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Result{}, &NormalizeError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformedURL}
	}
	ref, err := url.Parse(strings.TrimSpace(rawHref))
	if err != nil {
		return Result{Rejected: RejectMalformed}, nil
	}
	resolved := base.ResolveReference(ref)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return Result{Rejected: RejectUnsupportedScheme}, nil
	}

	host := strings.ToLower(resolved.Hostname())
	asciiHost, idnErr := idna.Lookup.ToASCII(host)
	if idnErr == nil {
		host = asciiHost
	}
	resolved.Host = host
	if port := resolved.Port(); port != "" && !isDefaultPort(resolved.Scheme, port) {
		resolved.Host = host + ":" + port
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""

	applyParamPolicy(resolved, n.policy.ParamPolicy, n.blocklist)

	canonical := resolved.String()

	for _, d := range n.deny {
		if d.match(canonical) {
			return Result{Rejected: RejectDenyPattern}, nil
		}
	}
	if len(n.allow) > 0 {
		matched := false
		for _, a := range n.allow {
			if a.match(canonical) {
				matched = true
				break
			}
		}
		if !matched {
			return Result{Rejected: RejectNotAllowed}, nil
		}
	}

	key, err := hashutil.HashBytes([]byte(canonical), hashutil.HashAlgoBLAKE3)
	if err != nil {
		return Result{}, &NormalizeError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformedURL}
	}

	_, isSeed := n.seedHosts[host]
	isExternal := len(n.seedHosts) > 0 && !isSeed

	return Result{
		NormalizedURL: NormalizedURL{
			RawHref:       rawHref,
			NormalizedURL: canonical,
			URLKey:        key[:20],
			IsExternal:    isExternal,
			Host:          host,
		},
	}, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func applyParamPolicy(u *url.URL, policy ParamPolicy, blocklist map[string]struct{}) {
	if policy == ParamPolicyKeep || u.RawQuery == "" {
		if u.RawQuery != "" {
			sortQuery(u)
		}
		return
	}
	q := u.Query()
	switch policy {
	case ParamPolicyStrip:
		u.RawQuery = ""
		return
	case ParamPolicySample:
		for k := range q {
			if _, blocked := blocklist[strings.ToLower(k)]; blocked {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	sortQuery(u)
}

func sortQuery(u *url.URL) {
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	u.RawQuery = b.String()
}
