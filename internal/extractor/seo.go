package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// approxGlyphWidthPx is a crude average glyph width used to estimate the
// rendered pixel width of title/description text for SERP-truncation
// checks. Not a substitute for actually measuring with a font metrics
// table, but good enough to flag obviously-too-long titles.
const approxGlyphWidthPx = 7

func extractSEO(doc *goquery.Document, pf PageFacts, headers map[string]string) SEOFacts {
	seo := SEOFacts{
		HeadingLevelCounts: map[string]int{},
	}

	noIndexMeta, noFollowMeta := parseRobotsDirectives(pf.RobotsMeta)
	xRobotsTag := headerLookup(headers, "X-Robots-Tag")
	noIndexHeader, noFollowHeader := parseRobotsDirectives(xRobotsTag)

	seo.NoIndex = noIndexMeta || noIndexHeader
	seo.NoFollow = noFollowMeta || noFollowHeader
	seo.Indexable = !seo.NoIndex

	seo.TitleLength = len([]rune(pf.Title))
	seo.TitlePixelWidthEstimate = seo.TitleLength * approxGlyphWidthPx
	seo.DescriptionLength = len([]rune(pf.MetaDescription))

	for _, h := range pf.HeadingOutline {
		seo.HeadingLevelCounts["h"+strconv.Itoa(h.Level)]++
	}

	bodyText := strings.TrimSpace(doc.Find("body").Text())
	if bodyText != "" {
		seo.WordCount = len(strings.Fields(bodyText))
	}

	for _, hl := range pf.Hreflang {
		if strings.EqualFold(hl.Lang, "x-default") {
			seo.HreflangHasXDefault = true
		}
	}
	if pf.CanonicalResolved != "" {
		for _, hl := range pf.Hreflang {
			if hl.URL == pf.CanonicalResolved {
				seo.HreflangSelfReferencing = true
				break
			}
		}
	}

	seo.OpenGraph = extractOpenGraph(doc)
	seo.TwitterCard = extractTwitterCard(doc)

	return seo
}

// parseRobotsDirectives applies noindex/nofollow union semantics: either
// source asserting the directive is enough, regardless of other tokens
// present in the same value.
func parseRobotsDirectives(value string) (noIndex bool, noFollow bool) {
	lower := strings.ToLower(value)
	for _, tok := range strings.Split(lower, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "noindex":
			noIndex = true
		case "nofollow":
			noFollow = true
		case "none":
			noIndex, noFollow = true, true
		}
	}
	return
}

func headerLookup(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func extractOpenGraph(doc *goquery.Document) OpenGraphData {
	og := OpenGraphData{}
	og.Title = metaProperty(doc, "og:title")
	og.Type = metaProperty(doc, "og:type")
	og.Image = metaProperty(doc, "og:image")
	og.URL = metaProperty(doc, "og:url")
	og.Description = metaProperty(doc, "og:description")
	og.SiteName = metaProperty(doc, "og:site_name")
	return og
}

func extractTwitterCard(doc *goquery.Document) TwitterCardData {
	tw := TwitterCardData{}
	tw.Card = metaContent(doc, "twitter:card")
	tw.Title = metaContent(doc, "twitter:title")
	tw.Description = metaContent(doc, "twitter:description")
	tw.Image = metaContent(doc, "twitter:image")
	return tw
}

func metaProperty(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"]`).First()
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content)
}
