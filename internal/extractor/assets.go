package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/atlascrawl/atlas/internal/normalize"
)

var assetSelectors = []struct {
	selector  string
	attr      string
	mediaType string
}{
	{"img[src]", "src", "image"},
	{"video[src]", "src", "video"},
	{"video source[src]", "src", "video"},
	{"audio[src]", "src", "audio"},
	{"audio source[src]", "src", "audio"},
	{"script[src]", "src", "script"},
	{"link[rel=stylesheet][href]", "href", "stylesheet"},
}

// extractAssets resolves every referenced sub-resource, capped at
// maxAssetsPerPage, deduplicating by resolved URL.
func extractAssets(doc *goquery.Document, n *normalize.Normalizer, sourceURL, sourceURLKey string) []AssetRecord {
	seen := make(map[string]struct{})
	var assets []AssetRecord

	for _, sel := range assetSelectors {
		if len(assets) >= maxAssetsPerPage {
			break
		}
		doc.Find(sel.selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if len(assets) >= maxAssetsPerPage {
				return false
			}
			raw, _ := node.Attr(sel.attr)
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return true
			}
			result, nerr := n.Normalize(raw, sourceURL)
			if nerr != nil || result.IsRejected() {
				return true
			}
			if _, ok := seen[result.NormalizedURL]; ok {
				return true
			}
			seen[result.NormalizedURL] = struct{}{}
			assets = append(assets, AssetRecord{
				ParentURLKey: sourceURLKey,
				AssetURL:     result.NormalizedURL,
				MediaType:    sel.mediaType,
			})
			return true
		})
	}

	return assets
}
