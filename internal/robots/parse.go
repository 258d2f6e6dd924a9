package robots

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ParseRobotsTxt parses robots.txt content into a structured response.
// Grounded on the RFC 9309 field grammar: User-agent/Allow/Disallow/
// Crawl-delay/Sitemap lines, '#' comments, blank-line-insensitive.
func ParseRobotsTxt(content, hostname string) RobotsResponse {
	response := RobotsResponse{Host: hostname}

	scanner := bufio.NewScanner(strings.NewReader(content))
	var currentGroup *UserAgentGroup
	var globalGroup UserAgentGroup
	hasGlobalGroup := false

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			continue
		}
		field := strings.ToLower(strings.TrimSpace(line[:colonIdx]))
		value := strings.TrimSpace(line[colonIdx+1:])

		switch field {
		case "user-agent":
			if currentGroup == nil {
				currentGroup = &UserAgentGroup{UserAgents: []string{value}}
			} else if len(currentGroup.Allows) == 0 && len(currentGroup.Disallows) == 0 && currentGroup.CrawlDelay == nil {
				currentGroup.UserAgents = append(currentGroup.UserAgents, value)
			} else {
				response.UserAgents = append(response.UserAgents, *currentGroup)
				currentGroup = &UserAgentGroup{UserAgents: []string{value}}
			}
		case "allow":
			if currentGroup != nil {
				currentGroup.Allows = append(currentGroup.Allows, PathRule{Path: value})
			} else {
				globalGroup.Allows = append(globalGroup.Allows, PathRule{Path: value})
				hasGlobalGroup = true
			}
		case "disallow":
			if currentGroup != nil {
				currentGroup.Disallows = append(currentGroup.Disallows, PathRule{Path: value})
			} else {
				globalGroup.Disallows = append(globalGroup.Disallows, PathRule{Path: value})
				hasGlobalGroup = true
			}
		case "crawl-delay":
			if currentGroup != nil {
				var seconds float64
				if _, err := fmt.Sscanf(value, "%f", &seconds); err == nil && seconds >= 0 {
					delay := time.Duration(seconds * float64(time.Second))
					currentGroup.CrawlDelay = &delay
				}
			}
		case "sitemap":
			if value != "" {
				response.Sitemaps = append(response.Sitemaps, value)
			}
		}
	}

	if currentGroup != nil {
		if len(currentGroup.Allows) > 0 || len(currentGroup.Disallows) > 0 || currentGroup.CrawlDelay != nil || len(currentGroup.UserAgents) > 0 {
			response.UserAgents = append(response.UserAgents, *currentGroup)
		}
	}
	if hasGlobalGroup && (len(globalGroup.Allows) > 0 || len(globalGroup.Disallows) > 0) {
		globalGroup.UserAgents = []string{"*"}
		response.UserAgents = append([]UserAgentGroup{globalGroup}, response.UserAgents...)
	}

	return response
}

// mapResponseToRuleSet selects the most specific user-agent group and
// compiles its rules into matchable pathRules.
func mapResponseToRuleSet(response RobotsResponse, targetUserAgent string, fetchedAt time.Time, sourceURL, etag, lastMod string) ruleSet {
	rs := ruleSet{
		host:      response.Host,
		userAgent: targetUserAgent,
		fetchedAt: fetchedAt,
		sourceURL: sourceURL,
		etag:      etag,
		lastMod:   lastMod,
		sitemaps:  response.Sitemaps,
		hasGroups: len(response.UserAgents) > 0,
	}

	group := findBestMatchingGroup(response.UserAgents, targetUserAgent)
	if group == nil {
		return rs
	}
	rs.matchedGroup = true

	rs.allowRules = make([]pathRule, 0, len(group.Allows))
	for _, a := range group.Allows {
		if a.Path != "" {
			rs.allowRules = append(rs.allowRules, compileRule(a.Path))
		}
	}
	rs.disallowRules = make([]pathRule, 0, len(group.Disallows))
	for _, d := range group.Disallows {
		if d.Path != "" {
			rs.disallowRules = append(rs.disallowRules, compileRule(d.Path))
		}
	}
	if group.CrawlDelay != nil {
		delay := *group.CrawlDelay
		rs.crawlDelay = &delay
	}
	return rs
}

func findBestMatchingGroup(groups []UserAgentGroup, targetUserAgent string) *UserAgentGroup {
	var bestMatch *UserAgentGroup
	targetLower := strings.ToLower(targetUserAgent)
	bestMatchLength := 0

	for i := range groups {
		group := &groups[i]
		for _, ua := range group.UserAgents {
			uaLower := strings.ToLower(ua)
			if uaLower == targetLower {
				return group
			}
			if ua == "*" {
				if bestMatch == nil {
					bestMatch = group
				}
				continue
			}
			if strings.HasPrefix(targetLower, uaLower) && len(uaLower) > bestMatchLength {
				bestMatch = group
				bestMatchLength = len(uaLower)
			}
		}
	}
	return bestMatch
}

// compileRule turns an RFC 9309 path pattern (may contain '*' wildcards
// and a trailing '$' end anchor) into a pathRule with a compiled matcher.
func compileRule(pattern string) pathRule {
	p := pattern
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	anchored := strings.HasSuffix(p, "$")
	body := strings.TrimSuffix(p, "$")

	var b strings.Builder
	b.WriteByte('^')
	for _, part := range strings.Split(body, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	reStr := strings.TrimSuffix(b.String(), ".*")
	if anchored {
		reStr += "$"
	}
	re := regexp.MustCompile(reStr)

	return pathRule{
		pattern: pattern,
		matcher: re.MatchString,
	}
}
