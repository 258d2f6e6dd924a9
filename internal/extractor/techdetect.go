package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// techSignatureRule matches a technology by one of several surfaces. Only
// one need match for a signature to be emitted; confidence reflects how
// specific the matched surface is.
type techSignatureRule struct {
	name       string
	categories []string
	match      func(doc *goquery.Document, headers map[string]string) (matched bool, version string, confidence float64)
}

var techSignatureRules = []techSignatureRule{
	{
		name:       "WordPress",
		categories: []string{"cms"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if doc.Find(`meta[name=generator][content*="WordPress"]`).Length() > 0 {
				content := metaContent(doc, "generator")
				return true, versionAfter(content, "WordPress "), 0.95
			}
			if doc.Find(`link[href*="/wp-content/"]`).Length() > 0 || doc.Find(`script[src*="/wp-includes/"]`).Length() > 0 {
				return true, "", 0.7
			}
			return false, "", 0
		},
	},
	{
		name:       "Next.js",
		categories: []string{"framework"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if doc.Find(`#__next`).Length() > 0 || doc.Find(`script[src*="/_next/static/"]`).Length() > 0 {
				return true, "", 0.85
			}
			return false, "", 0
		},
	},
	{
		name:       "Docusaurus",
		categories: []string{"framework", "documentation"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if doc.Find(`meta[name=generator][content*="Docusaurus"]`).Length() > 0 {
				content := metaContent(doc, "generator")
				return true, versionAfter(content, "Docusaurus v"), 0.95
			}
			return false, "", 0
		},
	},
	{
		name:       "Cloudflare",
		categories: []string{"cdn", "security"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if headerLookup(headers, "Server") == "cloudflare" || headerLookup(headers, "CF-Ray") != "" {
				return true, "", 0.9
			}
			return false, "", 0
		},
	},
	{
		name:       "Google Analytics",
		categories: []string{"analytics"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if doc.Find(`script[src*="googletagmanager.com/gtag"], script[src*="google-analytics.com/analytics.js"]`).Length() > 0 {
				return true, "", 0.9
			}
			return false, "", 0
		},
	},
	{
		name:       "React",
		categories: []string{"framework"},
		match: func(doc *goquery.Document, headers map[string]string) (bool, string, float64) {
			if doc.Find(`[data-reactroot], #root`).Length() > 0 {
				return true, "", 0.5
			}
			return false, "", 0
		},
	},
}

func extractTech(doc *goquery.Document, headers map[string]string) []TechSignature {
	var signatures []TechSignature
	for _, rule := range techSignatureRules {
		if matched, version, confidence := rule.match(doc, headers); matched {
			signatures = append(signatures, TechSignature{
				Name:       rule.name,
				Categories: rule.categories,
				Version:    version,
				Confidence: confidence,
			})
		}
	}
	return signatures
}

func versionAfter(haystack, marker string) string {
	idx := strings.Index(haystack, marker)
	if idx < 0 {
		return ""
	}
	rest := haystack[idx+len(marker):]
	end := strings.IndexAny(rest, " \t\n\"")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
