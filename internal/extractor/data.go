package extractor

// DomLocation classifies the ancestor landmark a link or asset was found
// under, used to weight discovered edges during scheduling.
type DomLocation string

const (
	DomLocationNav     DomLocation = "nav"
	DomLocationHeader  DomLocation = "header"
	DomLocationFooter  DomLocation = "footer"
	DomLocationAside   DomLocation = "aside"
	DomLocationMain    DomLocation = "main"
	DomLocationOther   DomLocation = "other"
	DomLocationUnknown DomLocation = "unknown"
)

// EdgeRecord is one discovered (source, target, location) link tuple.
type EdgeRecord struct {
	SourceURLKey     string
	SourceURL        string
	TargetURL        string
	TargetURLKey     string
	AnchorText       string
	RelAttributes    []string
	IsExternal       bool
	DomLocation      DomLocation
	DiscoveredInMode string
}

// AssetRecord is one referenced sub-resource.
type AssetRecord struct {
	ParentURLKey string
	AssetURL     string
	MediaType    string
	SizeBytes    *int64
}

// HeadingOutlineEntry is one heading in document order.
type HeadingOutlineEntry struct {
	Level int
	Text  string
}

// HreflangEntry is one alternate-language link.
type HreflangEntry struct {
	Lang string
	URL  string
}

// PageFacts holds the structural facts every render mode extracts.
type PageFacts struct {
	Title              string
	MetaDescription    string
	H1                 string
	HeadingOutline     []HeadingOutlineEntry
	CanonicalRaw       string
	CanonicalResolved  string
	RobotsMeta         string
	XRobotsTag         string
	Hreflang           []HreflangEntry
	FaviconURL         string
	LinkCount          int
	MediaCount         int
	AltTextDeficits    int
}

// OpenGraphData is the Open Graph meta-tag family, populated both as a
// top-level page field and as a StructuredDataEntry (see §9 of the
// functional spec: both representations must be present).
type OpenGraphData struct {
	Title       string
	Type        string
	Image       string
	URL         string
	Description string
	SiteName    string
}

// TwitterCardData is the Twitter Card meta-tag family.
type TwitterCardData struct {
	Card        string
	Title       string
	Description string
	Image       string
}

// ResourceCounts tallies sub-resource references by kind.
type ResourceCounts struct {
	CSS          int
	JS           int
	Font         int
	InlineScript int
	InlineStyle  int
}

// SEOFacts holds the derived, judgment-call SEO signals.
type SEOFacts struct {
	Indexable               bool
	NoIndex                 bool
	NoFollow                bool
	TitleLength             int
	TitlePixelWidthEstimate int
	DescriptionLength       int
	HeadingLevelCounts      map[string]int
	WordCount               int
	HreflangSelfReferencing bool
	HreflangHasXDefault     bool
	OpenGraph               OpenGraphData
	TwitterCard             TwitterCardData
	StructuredDataTypes     []string
}

// Metrics holds the enhanced, mostly-infrastructural page metrics.
type Metrics struct {
	Encoding         string
	ResourceCounts   ResourceCounts
	Compression      string
	HasViewportMeta  bool
	MixedContentURLs []string
	SRICoverage      float64
}

// SkipLinkFinding records one "skip to content"-style link and whether its
// fragment target exists in the DOM.
type SkipLinkFinding struct {
	Href        string
	TargetFound bool
}

// MediaCaptionFinding records one audio/video element's caption coverage.
type MediaCaptionFinding struct {
	TagName     string
	HasCaptions bool
}

// AccessibilityFindings holds WCAG-oriented findings. Extract fills it in
// every render mode and the Profile field records which tier of checks
// ran; the Scheduler writes it as an archive record only for full-mode pages.
type AccessibilityFindings struct {
	Profile               string
	Headings              []HeadingOutlineEntry
	AltTextTotal          int
	AltTextMissing        int
	Landmarks             []string
	RoleHistogram         map[string]int
	Lang                  string
	FormLabelAssociated   int
	FormLabelTotal        int
	FocusOrder            []int
	AriaLiveRegions       int
	AutocompleteCoverage  float64
	KeyboardTraps         []string
	SkipLinks             []SkipLinkFinding
	MediaCaptionCoverage  []MediaCaptionFinding
	AuditEngineName       string
	AuditEngineVersion    string
	WCAGVersion           string
}

// StructuredDataEntry is one JSON-LD block or microdata item.
type StructuredDataEntry struct {
	Type   string
	Format string // "json-ld" or "microdata"
	Raw    string
}

// TechSignature is one detected technology.
type TechSignature struct {
	Name       string
	Categories []string
	Version    string
	Confidence float64
}

// AuditProfile selects how deep the accessibility pass goes, gated by
// render mode: basic runs for every mode, essential adds prerender-DOM
// checks, full adds runtime heuristics only available after a full render.
type AuditProfile string

const (
	AuditProfileBasic     AuditProfile = "basic"
	AuditProfileEssential AuditProfile = "essential"
	AuditProfileFull      AuditProfile = "full"
)

// ExtractResult bundles every family's output for one page.
type ExtractResult struct {
	Edges          []EdgeRecord
	Assets         []AssetRecord
	PageFacts      PageFacts
	SEO            SEOFacts
	Metrics        Metrics
	Accessibility  *AccessibilityFindings
	StructuredData []StructuredDataEntry
	Tech           []TechSignature
}

const maxAssetsPerPage = 1000
