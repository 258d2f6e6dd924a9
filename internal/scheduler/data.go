package scheduler

import (
	"time"

	"github.com/atlascrawl/atlas/internal/extractor"
)

// QueueEntry is one admitted URL waiting for (or returning to) dispatch.
// Depth 0 is a seed. retryOfInFlight distinguishes a re-enqueue caused by a
// limiter deferral (entry already counted in visited/in-flight) from a
// brand-new admission (still needs the visited/in-flight bookkeeping).
type QueueEntry struct {
	URL             string
	URLKey          string
	Depth           int
	DiscoveredFrom  string
	DiscoveredAt    time.Time
	retryOfInFlight bool
}

// Phase is one state in the per-URL state machine.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseDispatched Phase = "dispatched"
	PhaseFetching   Phase = "fetching"
	PhaseRendering  Phase = "rendering"
	PhaseExtracting Phase = "extracting"
	PhaseWriting    Phase = "writing"
	PhaseDone       Phase = "done"
	PhaseErrored    Phase = "errored"
)

// InFlightState is the per-attempt bookkeeping entry for one url_key
// currently being processed by a worker. URL/URLKey/Depth are carried
// here (not just in the original QueueEntry) so a checkpoint snapshot
// taken mid-crawl can re-enqueue in-flight work without consulting
// anything but this map.
type InFlightState struct {
	URL       string
	URLKey    string
	Depth     int
	Host      string
	Phase     Phase
	StartedAt time.Time
}

// CompletionReason is the terminal reason the crawl stopped, evaluated in
// priority order (first match wins): manual > error_budget > capped >
// finished.
type CompletionReason string

const (
	CompletionManual       CompletionReason = "manual"
	CompletionErrorBudget  CompletionReason = "error_budget"
	CompletionCapped       CompletionReason = "capped"
	CompletionFinished     CompletionReason = "finished"
	CompletionNotYetDecided CompletionReason = ""
)

// Config is every limit/policy knob the Scheduler enforces directly. All
// other crawl policy (rate limits, robots respect, URL scope) lives in the
// components it's injected with.
type Config struct {
	Concurrency int
	MaxPages    int // 0 = unlimited
	MaxDepth    int // -1 = unlimited, 0 = seeds only, N = seeds + N levels
	MaxErrors   int // -1 = unlimited, 0 = abort on first error, N>0 = abort when count exceeds N
	Mode        string
	RespectRobots bool
	CrawlID     string

	// CheckpointInterval is the number of completed pages between
	// checkpoint snapshots. 0 disables periodic checkpointing (a final
	// snapshot is still taken on graceful shutdown when a Checkpointer
	// is attached).
	CheckpointInterval int

	// RSSThresholdMB is the resident-memory high-water mark that pauses
	// worker dispatch; 0 disables RSS backpressure entirely.
	RSSThresholdMB float64
	// RSSLowWaterMB is where dispatch resumes after a pause. Defaults to
	// 80% of RSSThresholdMB when left at zero.
	RSSLowWaterMB float64
}

// Stats is the aggregate crawl counters exposed at completion, feeding the
// archive summary.
type Stats struct {
	PagesCompleted int
	ErrorsCount    int
	AssetsCount    int
	MaxDepthSeen   int
	StatusHistogram map[int]int
	ModeHistogram   map[string]int
}

// PageRecord is the canonical per-page archive record: identity, fetch/
// render provenance, content hashes, and every extractor family's output.
type PageRecord struct {
	URL            string
	URLKey         string
	FinalURL       string
	Status         int
	RawBodyHash    string
	DOMHash        string
	URLHash        string
	Depth          int
	Mode           string
	FetchStart     time.Time
	FetchEnd       time.Time
	RenderStart    time.Time
	RenderEnd      time.Time
	Body           []byte
	PageFacts      extractor.PageFacts
	SEO            extractor.SEOFacts
	Metrics        extractor.Metrics
	Tech           []extractor.TechSignature
	StructuredData []extractor.StructuredDataEntry

	// Media is only ever non-empty in full mode; captured unconditionally
	// (even on a render timeout) per the media-capture-before-early-return
	// invariant the Renderer itself enforces.
	MediaCaptured     bool
	ScreenshotDesktop []byte
	ScreenshotMobile  []byte
	Favicon           []byte
}

// ErrorRecord is one failed attempt, written regardless of phase.
type ErrorRecord struct {
	URL        string
	URLKey     string
	Phase      Phase
	Kind       string
	Message    string
	Host       string
	OccurredAt time.Time
	Attempt    int
	Retryable  bool
}

// RecordSink is everything the Scheduler needs from the Archive Writer.
// Defined here (rather than imported from the archive package) so the
// Scheduler has no build dependency on the concrete writer — only cmd
// wires a real implementation in.
type RecordSink interface {
	WritePage(PageRecord) error
	WriteEdge(extractor.EdgeRecord) error
	WriteAsset(extractor.AssetRecord) error
	WriteError(ErrorRecord) error
	WriteAccessibility(extractor.AccessibilityFindings) error
}
