package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractMetrics computes encoding, resource counts, viewport presence,
// mixed-content and subresource-integrity coverage. pageIsHTTPS reflects
// the scheme the page itself was served over; resource URLs are compared
// against it to flag mixed content.
func extractMetrics(doc *goquery.Document, headers map[string]string, pageIsHTTPS bool) Metrics {
	m := Metrics{}

	m.Encoding = resolveEncoding(doc, headers)
	m.Compression = headerLookup(headers, "Content-Encoding")
	m.HasViewportMeta = doc.Find(`meta[name="viewport"]`).Length() > 0

	var counts ResourceCounts
	var sriTotal, sriCovered int
	var mixed []string

	doc.Find(`link[rel=stylesheet][href]`).Each(func(_ int, sel *goquery.Selection) {
		counts.CSS++
		href, _ := sel.Attr("href")
		if pageIsHTTPS && strings.HasPrefix(href, "http://") {
			mixed = append(mixed, href)
		}
		sriTotal++
		if integrity, ok := sel.Attr("integrity"); ok && strings.TrimSpace(integrity) != "" {
			sriCovered++
		}
	})

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
			counts.JS++
			if pageIsHTTPS && strings.HasPrefix(src, "http://") {
				mixed = append(mixed, src)
			}
			sriTotal++
			if integrity, ok := sel.Attr("integrity"); ok && strings.TrimSpace(integrity) != "" {
				sriCovered++
			}
		} else if strings.TrimSpace(sel.Text()) != "" {
			counts.InlineScript++
		}
	})

	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) != "" {
			counts.InlineStyle++
		}
	})

	doc.Find(`link[rel*=preload][as=font], link[rel=font]`).Each(func(_ int, sel *goquery.Selection) {
		counts.Font++
	})

	doc.Find("img[src], video[src], audio[src]").Each(func(_ int, sel *goquery.Selection) {
		attr := "src"
		src, _ := sel.Attr(attr)
		if pageIsHTTPS && strings.HasPrefix(src, "http://") {
			mixed = append(mixed, src)
		}
	})

	m.ResourceCounts = counts
	m.MixedContentURLs = mixed
	if sriTotal > 0 {
		m.SRICoverage = float64(sriCovered) / float64(sriTotal)
	}

	return m
}

// resolveEncoding prefers the Content-Type header, then the meta charset
// tag, falling back to utf-8 if neither is declared.
func resolveEncoding(doc *goquery.Document, headers map[string]string) string {
	if ct := headerLookup(headers, "Content-Type"); ct != "" {
		if idx := strings.Index(strings.ToLower(ct), "charset="); idx >= 0 {
			return strings.TrimSpace(ct[idx+len("charset="):])
		}
	}
	if charset, ok := doc.Find("meta[charset]").First().Attr("charset"); ok && charset != "" {
		return charset
	}
	if content := metaContent(doc, "Content-Type"); content != "" {
		if idx := strings.Index(strings.ToLower(content), "charset="); idx >= 0 {
			return strings.TrimSpace(content[idx+len("charset="):])
		}
	}
	return "utf-8"
}
