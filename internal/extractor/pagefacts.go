package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/atlascrawl/atlas/internal/normalize"
)

func extractPageFacts(doc *goquery.Document, n *normalize.Normalizer, sourceURL string) PageFacts {
	pf := PageFacts{}

	pf.Title = strings.TrimSpace(doc.Find("title").First().Text())
	pf.MetaDescription = metaContent(doc, "description")
	pf.RobotsMeta = metaContent(doc, "robots")

	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		pf.H1 = strings.TrimSpace(h1.Text())
	}

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, sel *goquery.Selection) {
		level, _ := strconv.Atoi(strings.TrimPrefix(goquery.NodeName(sel), "h"))
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		pf.HeadingOutline = append(pf.HeadingOutline, HeadingOutlineEntry{Level: level, Text: text})
	})

	if canon, ok := doc.Find("link[rel=canonical]").First().Attr("href"); ok {
		pf.CanonicalRaw = canon
		if result, nerr := n.Normalize(canon, sourceURL); nerr == nil && !result.IsRejected() {
			pf.CanonicalResolved = result.NormalizedURL
		}
	}

	doc.Find("link[rel=alternate][hreflang]").Each(func(_ int, sel *goquery.Selection) {
		lang, _ := sel.Attr("hreflang")
		href, _ := sel.Attr("href")
		if lang == "" || href == "" {
			return
		}
		resolved := href
		if result, nerr := n.Normalize(href, sourceURL); nerr == nil && !result.IsRejected() {
			resolved = result.NormalizedURL
		}
		pf.Hreflang = append(pf.Hreflang, HreflangEntry{Lang: lang, URL: resolved})
	})

	pf.FaviconURL = resolveFavicon(doc, n, sourceURL)

	pf.LinkCount = doc.Find("a[href]").Length()
	pf.MediaCount = doc.Find("img,video,audio").Length()

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		alt, hasAlt := sel.Attr("alt")
		if !hasAlt || strings.TrimSpace(alt) == "" {
			pf.AltTextDeficits++
		}
	})

	return pf
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(`meta[name="` + name + `"]`).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}

// resolveFavicon tries an explicit <link rel="icon"|"shortcut icon"> first,
// falling back to ${origin}/favicon.ico per §4.6.
func resolveFavicon(doc *goquery.Document, n *normalize.Normalizer, sourceURL string) string {
	sel := doc.Find(`link[rel="icon"], link[rel="shortcut icon"]`).First()
	if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
		if result, nerr := n.Normalize(href, sourceURL); nerr == nil && !result.IsRejected() {
			return result.NormalizedURL
		}
	}
	if result, nerr := n.Normalize("/favicon.ico", sourceURL); nerr == nil && !result.IsRejected() {
		return result.NormalizedURL
	}
	return ""
}
