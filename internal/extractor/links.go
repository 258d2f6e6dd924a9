package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/atlascrawl/atlas/internal/normalize"
)

// landmarkSelectors is checked in order; the first ancestor match wins.
var landmarkSelectors = []struct {
	selector string
	location DomLocation
}{
	{"nav", DomLocationNav},
	{"header", DomLocationHeader},
	{"footer", DomLocationFooter},
	{"aside", DomLocationAside},
	{"main", DomLocationMain},
}

func domLocationOf(sel *goquery.Selection) DomLocation {
	for _, lm := range landmarkSelectors {
		if sel.Closest(lm.selector).Length() > 0 {
			return lm.location
		}
	}
	if sel.Closest("body").Length() > 0 {
		return DomLocationOther
	}
	return DomLocationUnknown
}

// extractLinks resolves every <a href> against the Normalizer and produces
// one edge per unique (target_url, dom_location) pair — a page linking the
// same target from two locations yields two edges, but a target repeated
// twice from the same location collapses to one.
func extractLinks(doc *goquery.Document, n *normalize.Normalizer, sourceURL, sourceURLKey, mode string) []EdgeRecord {
	seen := make(map[string]struct{})
	var edges []EdgeRecord

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}

		result, nerr := n.Normalize(href, sourceURL)
		if nerr != nil || result.IsRejected() {
			return
		}

		location := domLocationOf(sel)
		dedupeKey := result.NormalizedURL + "\x00" + string(location)
		if _, ok := seen[dedupeKey]; ok {
			return
		}
		seen[dedupeKey] = struct{}{}

		var rels []string
		if relAttr, ok := sel.Attr("rel"); ok {
			for _, r := range strings.Fields(relAttr) {
				switch strings.ToLower(r) {
				case "nofollow", "sponsored", "ugc":
					rels = append(rels, strings.ToLower(r))
				}
			}
		}

		edges = append(edges, EdgeRecord{
			SourceURLKey:     sourceURLKey,
			SourceURL:        sourceURL,
			TargetURL:        result.NormalizedURL,
			TargetURLKey:     result.URLKey,
			AnchorText:       strings.TrimSpace(sel.Text()),
			RelAttributes:    rels,
			IsExternal:       result.IsExternal,
			DomLocation:      location,
			DiscoveredInMode: mode,
		})
	})

	return edges
}
