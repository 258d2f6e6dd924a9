package renderer

import "strings"

// challengeTitleKeywords are substrings (lowercased) of <title> commonly
// emitted by bot-protection interstitials.
var challengeTitleKeywords = []string{
	"just a moment",
	"checking your browser",
	"attention required",
	"ddos protection by",
	"please wait while we verify",
	"are you human",
	"access denied",
}

// challengeDOMSelectors are CSS selectors for well-known challenge
// providers' DOM markers.
var challengeDOMSelectors = []string{
	"#cf-challenge-running",
	"#challenge-form",
	"div#challenge-stage",
	"iframe[src*='hcaptcha']",
	"iframe[title*='challenge']",
	"#px-captcha",
}

// looksLikeChallenge applies the §4.5 heuristic: HTTP status in
// {403, 503} AND the DOM matches a known challenge pattern (title
// keyword or selector substring present in the raw HTML).
func looksLikeChallenge(status int, title string, html string) bool {
	if status != 403 && status != 503 {
		return false
	}
	lowerTitle := strings.ToLower(title)
	for _, kw := range challengeTitleKeywords {
		if strings.Contains(lowerTitle, kw) {
			return true
		}
	}
	for _, sel := range challengeDOMSelectors {
		needle := sel
		needle = strings.TrimPrefix(needle, "#")
		needle = strings.TrimPrefix(needle, "div#")
		if strings.Contains(html, needle) {
			return true
		}
	}
	return false
}
