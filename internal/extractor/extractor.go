// Package extractor runs the pure, stateless transforms over a fetched or
// rendered page (HTML + headers + URL) that produce the link, asset, SEO,
// metrics, accessibility, structured-data and tech-detection records
// written to the archive. No family performs I/O; the set invoked depends
// on the render mode the page was fetched under.
package extractor

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/atlascrawl/atlas/internal/normalize"
	"github.com/atlascrawl/atlas/internal/observability"
)

// Extractor holds the dependencies every family needs: the Normalizer to
// resolve hrefs discovered in links/assets/canonical/hreflang/favicon.
type Extractor struct {
	normalizer *normalize.Normalizer
	recorder   *observability.Recorder
}

func New(n *normalize.Normalizer, recorder *observability.Recorder) *Extractor {
	return &Extractor{normalizer: n, recorder: recorder}
}

// Extract runs every family applicable to mode and returns the combined
// result. The accessibility tier scales with mode (basic/essential/full);
// whether the accessibility result actually gets written as an archive
// record is a Scheduler/Writer decision (only full-mode pages get one),
// not something this pure transform enforces.
func (e *Extractor) Extract(sourceURL, sourceURLKey string, htmlBytes []byte, headers map[string]string, mode string) (ExtractResult, *ExtractionError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		eerr := &ExtractionError{Message: err.Error(), Retryable: false, Cause: ErrCauseNotHTML}
		e.recorder.RecordError(time.Now(), "extractor", "Extract", mapExtractionErrorToCause(eerr), eerr.Message,
			[]observability.Attribute{observability.NewAttr(observability.AttrURL, sourceURL)})
		return ExtractResult{}, eerr
	}
	if doc.Find("html").Length() == 0 || bytes.IndexByte(htmlBytes, '<') < 0 {
		eerr := &ExtractionError{Message: "input is not a valid HTML document", Retryable: false, Cause: ErrCauseNotHTML}
		e.recorder.RecordError(time.Now(), "extractor", "Extract", mapExtractionErrorToCause(eerr), eerr.Message,
			[]observability.Attribute{observability.NewAttr(observability.AttrURL, sourceURL)})
		return ExtractResult{}, eerr
	}

	result := ExtractResult{}
	result.Edges = extractLinks(doc, e.normalizer, sourceURL, sourceURLKey, mode)
	result.Assets = extractAssets(doc, e.normalizer, sourceURL, sourceURLKey)
	result.PageFacts = extractPageFacts(doc, e.normalizer, sourceURL)
	result.SEO = extractSEO(doc, result.PageFacts, headers)
	result.Metrics = extractMetrics(doc, headers, strings.HasPrefix(strings.ToLower(sourceURL), "https://"))
	result.StructuredData = extractStructuredData(doc, result.SEO)
	result.SEO.StructuredDataTypes = structuredDataTypeList(result.StructuredData)
	result.Tech = extractTech(doc, headers)

	switch mode {
	case "full":
		profile := AuditProfileFull
		result.Accessibility = extractAccessibility(doc, profile)
	case "prerender":
		profile := AuditProfileEssential
		result.Accessibility = extractAccessibility(doc, profile)
	default:
		profile := AuditProfileBasic
		result.Accessibility = extractAccessibility(doc, profile)
	}

	return result, nil
}
