package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractStructuredData enumerates JSON-LD script blocks and microdata
// itemtype attributes. Open Graph / Twitter Card data is appended here too
// (as StructuredDataEntry) in addition to being carried as top-level
// SEOFacts fields — §9 requires both representations to be populated.
func extractStructuredData(doc *goquery.Document, seo SEOFacts) []StructuredDataEntry {
	var entries []StructuredDataEntry

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		entries = append(entries, StructuredDataEntry{
			Type:   jsonLDType(raw),
			Format: "json-ld",
			Raw:    raw,
		})
	})

	doc.Find("[itemtype]").Each(func(_ int, sel *goquery.Selection) {
		itemtype, _ := sel.Attr("itemtype")
		itemtype = strings.TrimSpace(itemtype)
		if itemtype == "" {
			return
		}
		entries = append(entries, StructuredDataEntry{
			Type:   lastPathSegment(itemtype),
			Format: "microdata",
			Raw:    itemtype,
		})
	})

	if seo.OpenGraph != (OpenGraphData{}) {
		entries = append(entries, StructuredDataEntry{Type: "OpenGraph", Format: "meta", Raw: seo.OpenGraph.Type})
	}
	if seo.TwitterCard != (TwitterCardData{}) {
		entries = append(entries, StructuredDataEntry{Type: "TwitterCard", Format: "meta", Raw: seo.TwitterCard.Card})
	}

	return entries
}

// jsonLDType best-effort extracts the @type field without requiring the
// full document to validate as schema.org JSON-LD; malformed blocks are
// recorded with an empty type rather than dropped.
func jsonLDType(raw string) string {
	var probe struct {
		Type interface{} `json:"@type"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return ""
	}
	switch v := probe.Type.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func lastPathSegment(itemtype string) string {
	parts := strings.Split(strings.TrimRight(itemtype, "/"), "/")
	return parts[len(parts)-1]
}

// structuredDataTypeList collects the distinct types seen, used by
// extractSEO's StructuredDataTypes field.
func structuredDataTypeList(entries []StructuredDataEntry) []string {
	seen := make(map[string]struct{})
	var types []string
	for _, e := range entries {
		if e.Type == "" {
			continue
		}
		if _, ok := seen[e.Type]; ok {
			continue
		}
		seen[e.Type] = struct{}{}
		types = append(types, e.Type)
	}
	return types
}
