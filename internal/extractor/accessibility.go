package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const wcagVersion = "2.2"

var personalDataAutocompleteTokens = map[string]bool{
	"name": true, "email": true, "tel": true, "street-address": true,
	"postal-code": true, "country": true, "cc-number": true, "bday": true,
}

// extractAccessibility runs the tier of checks gated by profile. basic
// runs for every render mode from static HTML alone; essential adds
// prerender-DOM-only checks (focus order, ARIA live regions, autocomplete
// coverage); full adds runtime heuristics that require a live page
// (keyboard traps, skip-link resolution, caption coverage).
func extractAccessibility(doc *goquery.Document, profile AuditProfile) *AccessibilityFindings {
	af := &AccessibilityFindings{
		Profile:            string(profile),
		RoleHistogram:      map[string]int{},
		AuditEngineName:    "atlas-accessibility",
		AuditEngineVersion: "1.0",
		WCAGVersion:        wcagVersion,
	}

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, sel *goquery.Selection) {
		level, _ := strconv.Atoi(strings.TrimPrefix(goquery.NodeName(sel), "h"))
		af.Headings = append(af.Headings, HeadingOutlineEntry{Level: level, Text: strings.TrimSpace(sel.Text())})
	})

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		af.AltTextTotal++
		alt, ok := sel.Attr("alt")
		if !ok || strings.TrimSpace(alt) == "" {
			af.AltTextMissing++
		}
	})

	for _, landmark := range []string{"nav", "header", "footer", "main", "aside", "[role=banner]", "[role=navigation]", "[role=contentinfo]"} {
		if doc.Find(landmark).Length() > 0 {
			af.Landmarks = append(af.Landmarks, landmark)
		}
	}

	doc.Find("[role]").Each(func(_ int, sel *goquery.Selection) {
		role, _ := sel.Attr("role")
		af.RoleHistogram[role]++
	})

	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		af.Lang = lang
	}

	doc.Find("input,select,textarea").Each(func(_ int, sel *goquery.Selection) {
		af.FormLabelTotal++
		id, hasID := sel.Attr("id")
		_, hasAriaLabel := sel.Attr("aria-label")
		_, hasAriaLabelledBy := sel.Attr("aria-labelledby")
		if hasAriaLabel || hasAriaLabelledBy {
			af.FormLabelAssociated++
			return
		}
		if hasID && doc.Find(`label[for="`+id+`"]`).Length() > 0 {
			af.FormLabelAssociated++
		}
	})

	if profile == AuditProfileBasic {
		return af
	}

	doc.Find("[tabindex]").Each(func(_ int, sel *goquery.Selection) {
		idx, err := strconv.Atoi(strings.TrimSpace(mustAttr(sel, "tabindex")))
		if err == nil {
			af.FocusOrder = append(af.FocusOrder, idx)
		}
	})

	af.AriaLiveRegions = doc.Find("[aria-live]").Length()

	personalInputs := doc.Find("input[type=email], input[type=tel], input[name*=name], input[name*=address]")
	if personalInputs.Length() > 0 {
		covered := 0
		personalInputs.Each(func(_ int, sel *goquery.Selection) {
			if ac, ok := sel.Attr("autocomplete"); ok && personalDataAutocompleteTokens[strings.ToLower(ac)] {
				covered++
			}
		})
		af.AutocompleteCoverage = float64(covered) / float64(personalInputs.Length())
	}

	if profile == AuditProfileEssential {
		return af
	}

	af.SkipLinks = findSkipLinks(doc)
	af.MediaCaptionCoverage = findMediaCaptions(doc)
	af.KeyboardTraps = detectPotentialKeyboardTraps(doc)

	return af
}

func mustAttr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return v
}

// findSkipLinks looks for conventional "skip to content"-style anchors and
// validates that their fragment target exists in the DOM.
func findSkipLinks(doc *goquery.Document) []SkipLinkFinding {
	var findings []SkipLinkFinding
	doc.Find(`a[href^="#"]`).Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if !strings.Contains(text, "skip") {
			return
		}
		href, _ := sel.Attr("href")
		targetID := strings.TrimPrefix(href, "#")
		found := targetID != "" && (doc.Find(`#`+targetID).Length() > 0)
		findings = append(findings, SkipLinkFinding{Href: href, TargetFound: found})
	})
	return findings
}

// findMediaCaptions reports, per audio/video element, whether a <track
// kind=captions|subtitles|descriptions> child is present. The element's
// media source (its own src or a child <source>) is not examined or recorded.
func findMediaCaptions(doc *goquery.Document) []MediaCaptionFinding {
	var findings []MediaCaptionFinding
	doc.Find("video,audio").Each(func(_ int, sel *goquery.Selection) {
		hasCaptions := sel.Find(`track[kind=captions], track[kind=subtitles], track[kind=descriptions]`).Length() > 0
		findings = append(findings, MediaCaptionFinding{TagName: goquery.NodeName(sel), HasCaptions: hasCaptions})
	})
	return findings
}

// detectPotentialKeyboardTraps is a heuristic: elements with a positive
// tabindex combined with an onkeydown handler that doesn't also handle
// Escape/Tab are flagged as a candidate trap. Static HTML can't observe
// actual runtime focus behavior, so this only ever produces candidates,
// never a confirmed trap.
func detectPotentialKeyboardTraps(doc *goquery.Document) []string {
	var candidates []string
	doc.Find("[tabindex]").Each(func(_ int, sel *goquery.Selection) {
		idx, err := strconv.Atoi(strings.TrimSpace(mustAttr(sel, "tabindex")))
		if err != nil || idx <= 0 {
			return
		}
		if _, hasKeydown := sel.Attr("onkeydown"); hasKeydown {
			id, _ := sel.Attr("id")
			candidates = append(candidates, goquery.NodeName(sel)+"#"+id)
		}
	})
	return candidates
}
