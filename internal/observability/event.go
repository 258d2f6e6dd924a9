package observability

import "time"

/*
Event is the re-architected replacement for the teacher's evolving
"crawl finished" payload bag (spec REDESIGN FLAG: event bus with
late-added payload fields). Instead of one struct gaining fields over
time, every event type is its own concrete struct; EventType() is the
discriminant a downstream NDJSON consumer switches on.
*/
type Event interface {
	EventType() string
	occurredAt() time.Time
}

type base struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

func (b base) EventType() string     { return b.Type }
func (b base) occurredAt() time.Time { return b.At }

func newBase(t string) base {
	return base{Type: t, At: time.Now()}
}

type CrawlStartedEvent struct {
	base
	CrawlID   string   `json:"crawl_id"`
	Seeds     []string `json:"seeds"`
	Mode      string   `json:"mode"`
	MaxPages  int      `json:"max_pages"`
	MaxDepth  int      `json:"max_depth"`
	UserAgent string   `json:"user_agent"`
}

func NewCrawlStarted(crawlID string, seeds []string, mode string, maxPages, maxDepth int, userAgent string) CrawlStartedEvent {
	return CrawlStartedEvent{base: newBase("crawl.started"), CrawlID: crawlID, Seeds: seeds, Mode: mode, MaxPages: maxPages, MaxDepth: maxDepth, UserAgent: userAgent}
}

type HeartbeatEvent struct {
	base
	PagesDone int `json:"pages_done"`
	ErrsCount int `json:"errors_count"`
	InFlight  int `json:"in_flight"`
}

func NewHeartbeat(pagesDone, errsCount, inFlight int) HeartbeatEvent {
	return HeartbeatEvent{base: newBase("crawl.heartbeat"), PagesDone: pagesDone, ErrsCount: errsCount, InFlight: inFlight}
}

// ObservabilityEvent is emitted roughly every 5s with scheduler internals
// useful for external dashboards: queue depth, throttled hosts, current
// throughput, memory pressure.
type ObservabilityEvent struct {
	base
	QueueDepth        int            `json:"queue_depth"`
	InFlight          int            `json:"in_flight"`
	PerHostQueueSizes map[string]int `json:"per_host_queue_sizes"`
	ThrottledHosts    []string       `json:"throttled_hosts"`
	CurrentRPS        float64        `json:"current_rps"`
	MemoryRSSMB       float64        `json:"memory_rss_mb"`
}

func NewObservability(queueDepth, inFlight int, perHost map[string]int, throttled []string, rps, rssMB float64) ObservabilityEvent {
	return ObservabilityEvent{
		base:              newBase("crawl.observability"),
		QueueDepth:        queueDepth,
		InFlight:          inFlight,
		PerHostQueueSizes: perHost,
		ThrottledHosts:    throttled,
		CurrentRPS:        rps,
		MemoryRSSMB:       rssMB,
	}
}

type PageProcessedEvent struct {
	base
	URL        string `json:"url"`
	URLKey     string `json:"url_key"`
	Status     int    `json:"status"`
	Depth      int    `json:"depth"`
	RenderMode string `json:"render_mode"`
	DurationMs int64  `json:"duration_ms"`
}

func NewPageProcessed(url, urlKey string, status, depth int, mode string, duration time.Duration) PageProcessedEvent {
	return PageProcessedEvent{base: newBase("crawl.page_processed"), URL: url, URLKey: urlKey, Status: status, Depth: depth, RenderMode: mode, DurationMs: duration.Milliseconds()}
}

type CheckpointEvent struct {
	base
	CheckpointPath string `json:"checkpoint_path"`
	VisitedCount   int    `json:"visited_count"`
	QueueDepth     int    `json:"queue_depth"`
}

func NewCheckpoint(path string, visited, queueDepth int) CheckpointEvent {
	return CheckpointEvent{base: newBase("crawl.checkpoint"), CheckpointPath: path, VisitedCount: visited, QueueDepth: queueDepth}
}

type ErrorEvent struct {
	base
	Component string      `json:"component"`
	Operation string      `json:"operation"`
	Cause     string      `json:"cause"`
	Message   string      `json:"message"`
	Attrs     []Attribute `json:"attrs,omitempty"`
}

func NewError(component, operation string, cause ErrorCause, message string, attrs []Attribute) ErrorEvent {
	return ErrorEvent{base: newBase("crawl.error"), Component: component, Operation: operation, Cause: cause.String(), Message: message, Attrs: attrs}
}

type BackpressureEvent struct {
	base
	RSSMB      float64 `json:"rss_mb"`
	ThresholdMB float64 `json:"threshold_mb"`
	Paused     bool    `json:"paused"`
}

func NewBackpressure(rssMB, thresholdMB float64, paused bool) BackpressureEvent {
	return BackpressureEvent{base: newBase("crawl.backpressure"), RSSMB: rssMB, ThresholdMB: thresholdMB, Paused: paused}
}

type RobotsDecisionEvent struct {
	base
	URL      string `json:"url"`
	Allowed  bool   `json:"allowed"`
	Rule     string `json:"matched_rule,omitempty"`
	Source   string `json:"source"`
}

func NewRobotsDecision(url string, allowed bool, rule, source string) RobotsDecisionEvent {
	return RobotsDecisionEvent{base: newBase("robots_decision"), URL: url, Allowed: allowed, Rule: rule, Source: source}
}

type CrawlFinishedEvent struct {
	base
	CrawlID          string `json:"crawl_id"`
	CompletionReason string `json:"completion_reason"`
	TotalPages       int    `json:"total_pages"`
	TotalErrors      int    `json:"total_errors"`
	TotalAssets      int    `json:"total_assets"`
	DurationMs       int64  `json:"duration_ms"`
}

func NewCrawlFinished(crawlID, reason string, pages, errs, assets int, duration time.Duration) CrawlFinishedEvent {
	return CrawlFinishedEvent{base: newBase("crawl.finished"), CrawlID: crawlID, CompletionReason: reason, TotalPages: pages, TotalErrors: errs, TotalAssets: assets, DurationMs: duration.Milliseconds()}
}
