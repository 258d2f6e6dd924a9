// Package scheduler is the concurrent orchestration core: it owns the
// queue, visited set, in-flight set, worker pool, and the completion
// decision. It is the sole authority on whether a URL enters the crawl and
// when the crawl ends; every other package only classifies outcomes.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/atlascrawl/atlas/internal/limiter"
	"github.com/atlascrawl/atlas/internal/normalize"
	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/internal/renderer"
	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/atlascrawl/atlas/pkg/hashutil"
	"golang.org/x/sync/errgroup"
)

const deferJitterMax = 200 * time.Millisecond

// Scheduler coordinates pipeline execution but never delegates the
// admission, retry, or termination decisions it owns to downstream
// components. Pipeline stages (fetcher, renderer, extractor) classify
// failure; only the Scheduler decides what happens next.
type Scheduler struct {
	cfg        Config
	normalizer *normalize.Normalizer
	robots     *robots.Cache
	limiter    *limiter.Limiter
	fetcher    *fetcher.Fetcher
	renderer   *renderer.Renderer
	extractor  *extractor.Extractor
	sink       RecordSink
	recorder   *observability.Recorder
	userAgent  string

	mu              sync.Mutex
	cond            *sync.Cond
	queues          map[int][]QueueEntry
	minDepth        int
	maxDepthSeen    int
	enqueuedKeys    map[string]struct{}
	visited         map[string]struct{}
	inFlight        map[string]InFlightState
	pendingDeferred int
	done            bool
	completion      CompletionReason
	rssPaused       bool
	deferredHosts   map[string]time.Time

	seeds     []string
	startedAt time.Time

	lastObsAt    time.Time
	lastObsPages int

	stats Stats

	manualCancel chan struct{}

	checkpointer Checkpointer
}

// Checkpointer is what the Scheduler calls into at checkpoint boundaries.
// Kept as an interface (rather than a concrete *checkpoint.Checkpointer)
// so the scheduler package never imports the checkpoint package.
type Checkpointer interface {
	Snapshot(s *Scheduler) error
}

func New(cfg Config, userAgent string, n *normalize.Normalizer, rc *robots.Cache, lim *limiter.Limiter,
	f *fetcher.Fetcher, r *renderer.Renderer, ext *extractor.Extractor, sink RecordSink, recorder *observability.Recorder) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		normalizer:   n,
		robots:       rc,
		limiter:      lim,
		fetcher:      f,
		renderer:     r,
		extractor:    ext,
		sink:         sink,
		recorder:     recorder,
		userAgent:    userAgent,
		queues:       make(map[int][]QueueEntry),
		enqueuedKeys: make(map[string]struct{}),
		visited:      make(map[string]struct{}),
		inFlight:     make(map[string]InFlightState),
		stats:         Stats{StatusHistogram: map[int]int{}, ModeHistogram: map[string]int{}},
		manualCancel:  make(chan struct{}),
		deferredHosts: make(map[string]time.Time),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AttachCheckpointer wires a Checkpointer into Run's periodic and
// shutdown snapshot points. Optional; a Scheduler with no Checkpointer
// attached behaves exactly as before checkpointing existed.
func (s *Scheduler) AttachCheckpointer(c Checkpointer) {
	s.checkpointer = c
}

// Cancel signals a manual stop; in-flight work finishes but no new entries
// are dispatched. Completion reason becomes "manual" regardless of what
// budget/depth checks would otherwise have concluded.
func (s *Scheduler) Cancel() {
	select {
	case <-s.manualCancel:
	default:
		close(s.manualCancel)
	}
	s.mu.Lock()
	if !s.done {
		s.completion = CompletionManual
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Seed enqueues the crawl's starting URLs at depth 0.
func (s *Scheduler) Seed(seeds []string) {
	for _, raw := range seeds {
		result, nerr := s.normalizer.Normalize(raw, raw)
		if nerr != nil || result.IsRejected() {
			continue
		}
		s.mu.Lock()
		s.seeds = append(s.seeds, result.NormalizedURL)
		s.mu.Unlock()
		s.tryEnqueue(QueueEntry{
			URL:          result.NormalizedURL,
			URLKey:       result.URLKey,
			Depth:        0,
			DiscoveredAt: time.Now(),
		})
	}
}

// tryEnqueue applies the enqueue-limiting invariant (visited+enqueued must
// never exceed max_pages) and the dedupe-by-url_key rule. Both checks run
// under the scheduler's lock so concurrent discoveries can't race past the
// budget.
func (s *Scheduler) tryEnqueue(entry QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.enqueuedKeys[entry.URLKey]; ok {
		return
	}
	if s.cfg.MaxPages > 0 && len(s.enqueuedKeys) >= s.cfg.MaxPages {
		return
	}
	s.enqueuedKeys[entry.URLKey] = struct{}{}
	s.queues[entry.Depth] = append(s.queues[entry.Depth], entry)
	if entry.Depth > s.maxDepthSeen {
		s.maxDepthSeen = entry.Depth
	}
	s.cond.Broadcast()
}

// requeueDeferred pushes a deferred entry back to the head of its own
// depth band after a small jitter, without touching visited/in-flight
// bookkeeping (the entry is still admitted).
func (s *Scheduler) requeueDeferred(entry QueueEntry) {
	entry.retryOfInFlight = true
	jitter := time.Duration(rand.Int63n(int64(deferJitterMax)))
	go func() {
		time.Sleep(jitter)
		s.mu.Lock()
		s.queues[entry.Depth] = append([]QueueEntry{entry}, s.queues[entry.Depth]...)
		if entry.Depth < s.minDepth {
			s.minDepth = entry.Depth
		}
		s.pendingDeferred--
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
}

// dequeue blocks until an entry is available, the crawl is complete, or
// ctx is canceled. BFS ordering is enforced by always draining the lowest
// non-empty depth band first.
func (s *Scheduler) dequeue(ctx context.Context) (QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.done {
			return QueueEntry{}, false
		}
		select {
		case <-ctx.Done():
			return QueueEntry{}, false
		case <-s.manualCancel:
			s.finishLocked(CompletionManual)
			return QueueEntry{}, false
		default:
		}

		if s.rssPaused {
			s.cond.Wait()
			continue
		}

		for depth := s.minDepth; depth <= s.maxDepthSeen; depth++ {
			q := s.queues[depth]
			if len(q) == 0 {
				if depth == s.minDepth {
					s.minDepth++
				}
				continue
			}
			entry := q[0]
			s.queues[depth] = q[1:]
			return entry, true
		}

		if len(s.inFlight) == 0 && s.pendingDeferred == 0 {
			s.finishLocked(CompletionFinished)
			return QueueEntry{}, false
		}

		s.cond.Wait()
	}
}

// finishLocked must be called with mu held. It is a no-op once a
// completion reason has already been set by a higher-priority path
// (manual/error_budget/capped all preempt the natural "finished" result).
func (s *Scheduler) finishLocked(reason CompletionReason) {
	if s.done {
		return
	}
	if s.completion == CompletionNotYetDecided {
		s.completion = reason
	}
	s.done = true
	s.cond.Broadcast()
}

// evaluateCompletion checks the error-budget and capped conditions after
// every terminal outcome. Must be called with mu held.
func (s *Scheduler) evaluateCompletionLocked() {
	if s.done {
		return
	}
	switch {
	case s.cfg.MaxErrors == 0 && s.stats.ErrorsCount > 0:
		s.finishLocked(CompletionErrorBudget)
	case s.cfg.MaxErrors > 0 && s.stats.ErrorsCount > s.cfg.MaxErrors:
		s.finishLocked(CompletionErrorBudget)
	case s.cfg.MaxPages > 0 && s.stats.PagesCompleted >= s.cfg.MaxPages:
		s.finishLocked(CompletionCapped)
	}
}

// Run drives `concurrency` workers until completion and returns the
// completion reason plus final stats.
func (s *Scheduler) Run(ctx context.Context) (CompletionReason, Stats) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.lastObsAt = s.startedAt
	seeds := append([]string{}, s.seeds...)
	s.mu.Unlock()
	s.recorder.RecordCrawlStarted(s.cfg.CrawlID, seeds, s.cfg.Mode, s.cfg.MaxPages, s.cfg.MaxDepth, s.userAgent)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		s.monitorLoop(monitorCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	concurrency := s.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			s.workerLoop(gctx)
			return nil
		})
	}
	_ = g.Wait()
	stopMonitor()
	<-monitorDone

	s.mu.Lock()
	if s.completion == CompletionNotYetDecided {
		s.completion = CompletionFinished
	}
	completion, stats := s.completion, s.stats
	s.mu.Unlock()

	if s.checkpointer != nil {
		_ = s.checkpointer.Snapshot(s)
	}

	s.recorder.RecordCrawlFinished(s.cfg.CrawlID, string(completion), stats.PagesCompleted, stats.ErrorsCount, stats.AssetsCount, time.Since(s.startedAt))
	return completion, stats
}

// monitorLoop emits heartbeat (~1s) and observability (~5s) events and
// samples RSS for backpressure until ctx is done.
func (s *Scheduler) monitorLoop(ctx context.Context) {
	heartbeat := time.NewTicker(time.Second)
	observe := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	defer observe.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.mu.Lock()
			pages, errs, inFlight := s.stats.PagesCompleted, s.stats.ErrorsCount, len(s.inFlight)
			s.mu.Unlock()
			s.recorder.RecordHeartbeat(pages, errs, inFlight)
			s.sampleBackpressure()
		case <-observe.C:
			s.emitObservability()
		}
	}
}

// sampleBackpressure pauses or resumes worker dispatch based on RSS
// crossing the configured threshold/low-water mark. No-op when
// RSSThresholdMB is unset.
func (s *Scheduler) sampleBackpressure() {
	if s.cfg.RSSThresholdMB <= 0 {
		return
	}
	rss := currentRSSMB()
	low := s.cfg.RSSLowWaterMB
	if low <= 0 {
		low = s.cfg.RSSThresholdMB * 0.8
	}

	s.mu.Lock()
	was := s.rssPaused
	switch {
	case !was && rss >= s.cfg.RSSThresholdMB:
		s.rssPaused = true
	case was && rss <= low:
		s.rssPaused = false
	}
	now := s.rssPaused
	if now != was {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if now != was {
		s.recorder.RecordBackpressure(rss, s.cfg.RSSThresholdMB, now)
	}
}

// emitObservability reports queue depth, per-host queue sizes, recently
// throttled hosts, and throughput. Host attribution is best-effort
// (derived from each queued entry's URL) since queue entries don't carry
// a pre-parsed host.
func (s *Scheduler) emitObservability() {
	s.mu.Lock()
	queueDepth := 0
	perHost := map[string]int{}
	for _, q := range s.queues {
		queueDepth += len(q)
		for _, e := range q {
			if h, err := parseHost(e.URL); err == nil {
				perHost[h]++
			}
		}
	}
	inFlight := len(s.inFlight)

	cutoff := time.Now().Add(-5 * time.Second)
	var throttled []string
	for h, at := range s.deferredHosts {
		if at.After(cutoff) {
			throttled = append(throttled, h)
		} else {
			delete(s.deferredHosts, h)
		}
	}

	pagesNow := s.stats.PagesCompleted
	elapsed := time.Since(s.lastObsAt).Seconds()
	rps := 0.0
	if elapsed > 0 {
		rps = float64(pagesNow-s.lastObsPages) / elapsed
	}
	s.lastObsPages = pagesNow
	s.lastObsAt = time.Now()
	s.mu.Unlock()

	s.recorder.RecordObservability(queueDepth, inFlight, perHost, throttled, rps, currentRSSMB())
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		entry, ok := s.dequeue(ctx)
		if !ok {
			return
		}
		s.processEntry(ctx, entry)
	}
}

func (s *Scheduler) admit(entry QueueEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !entry.retryOfInFlight {
		if _, ok := s.visited[entry.URLKey]; ok {
			return false
		}
		s.visited[entry.URLKey] = struct{}{}
	}
	s.inFlight[entry.URLKey] = InFlightState{URL: entry.URL, URLKey: entry.URLKey, Depth: entry.Depth, Phase: PhaseDispatched, StartedAt: time.Now()}
	return true
}

func (s *Scheduler) setPhase(urlKey string, host string, phase Phase) {
	s.mu.Lock()
	st := s.inFlight[urlKey]
	st.Host = host
	st.Phase = phase
	st.StartedAt = time.Now()
	s.inFlight[urlKey] = st
	s.mu.Unlock()
}

func (s *Scheduler) complete(urlKey string, terminal Phase, isError bool) {
	s.mu.Lock()
	delete(s.inFlight, urlKey)
	if isError {
		s.stats.ErrorsCount++
	} else {
		s.stats.PagesCompleted++
	}
	s.evaluateCompletionLocked()
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) recordError(urlKey, rawURL, host string, phase Phase, kind, message string, attempt int, retryable bool) {
	s.sink.WriteError(ErrorRecord{
		URL:        rawURL,
		URLKey:     urlKey,
		Phase:      phase,
		Kind:       kind,
		Message:    message,
		Host:       host,
		OccurredAt: time.Now(),
		Attempt:    attempt,
		Retryable:  retryable,
	})
}

// processEntry runs one URL through the full state machine:
// dispatched -> fetching -> rendering -> extracting -> writing -> done, or
// a timeout/challenge/error short-circuit to errored.
func (s *Scheduler) processEntry(ctx context.Context, entry QueueEntry) {
	start := time.Now()
	if !s.admit(entry) {
		return
	}

	parsed, perr := parseHost(entry.URL)
	if perr != nil {
		s.recordError(entry.URLKey, entry.URL, "", PhaseDispatched, "invalid_url", perr.Error(), 0, false)
		s.complete(entry.URLKey, PhaseErrored, true)
		return
	}

	if s.cfg.RespectRobots {
		decision, rerr := s.robots.Allowed(ctx, entry.URL)
		if rerr != nil {
			s.recordError(entry.URLKey, entry.URL, parsed, PhaseDispatched, "robots_error", rerr.Error(), 0, rerr.Retryable)
			s.complete(entry.URLKey, PhaseErrored, true)
			return
		}
		if !decision.Allowed {
			s.recordError(entry.URLKey, entry.URL, parsed, PhaseDispatched, "robots_blocked", "disallowed by robots.txt", 0, false)
			s.complete(entry.URLKey, PhaseErrored, true)
			return
		}
	}

	s.setPhase(entry.URLKey, parsed, PhaseFetching)
	acquire := s.limiter.TryAcquire(parsed)
	if !acquire.Granted {
		s.mu.Lock()
		s.pendingDeferred++
		s.deferredHosts[parsed] = time.Now()
		s.mu.Unlock()
		s.requeueDeferred(entry)
		return
	}

	page0, phase, kind, message, retryable, ok := s.fetchOrRender(ctx, entry, parsed)
	if !ok {
		s.recordError(entry.URLKey, entry.URL, parsed, phase, kind, message, 1, retryable)
		s.complete(entry.URLKey, PhaseErrored, true)
		return
	}

	s.setPhase(entry.URLKey, parsed, PhaseExtracting)
	result, eerr := s.extractor.Extract(page0.finalURL, entry.URLKey, page0.rawBody, page0.headers, s.cfg.Mode)
	if eerr != nil {
		s.recordError(entry.URLKey, entry.URL, parsed, PhaseExtracting, string(eerr.Cause), eerr.Message, 1, false)
		s.complete(entry.URLKey, PhaseErrored, true)
		return
	}

	s.setPhase(entry.URLKey, parsed, PhaseWriting)
	rawHash, _ := hashutil.HashBytes(page0.rawBody, hashutil.HashAlgoSHA256)
	domHash, _ := hashutil.HashBytes([]byte(page0.renderedDOM), hashutil.HashAlgoSHA256)
	urlHash, _ := hashutil.HashBytes([]byte(entry.URL), hashutil.HashAlgoSHA256)

	page := PageRecord{
		URL:            entry.URL,
		URLKey:         entry.URLKey,
		FinalURL:       page0.finalURL,
		Status:         page0.status,
		RawBodyHash:    rawHash,
		DOMHash:        domHash,
		URLHash:        urlHash,
		Depth:          entry.Depth,
		Mode:           s.cfg.Mode,
		FetchStart:     page0.navStart,
		FetchEnd:       page0.navEnd,
		Body:           page0.rawBody,
		PageFacts:      result.PageFacts,
		SEO:            result.SEO,
		Metrics:        result.Metrics,
		Tech:           result.Tech,
		StructuredData: result.StructuredData,
		MediaCaptured:     page0.media.Captured,
		ScreenshotDesktop: page0.media.ScreenshotDesktop,
		ScreenshotMobile:  page0.media.ScreenshotMobile,
		Favicon:           page0.media.Favicon,
	}
	_ = s.sink.WritePage(page)

	for _, edge := range result.Edges {
		_ = s.sink.WriteEdge(edge)
		s.maybeEnqueueDiscovered(edge, entry.Depth)
	}
	for _, asset := range result.Assets {
		_ = s.sink.WriteAsset(asset)
		s.mu.Lock()
		s.stats.AssetsCount++
		s.mu.Unlock()
	}
	if s.cfg.Mode == "full" && result.Accessibility != nil {
		_ = s.sink.WriteAccessibility(*result.Accessibility)
	}

	s.mu.Lock()
	s.stats.StatusHistogram[page0.status]++
	s.stats.ModeHistogram[s.cfg.Mode]++
	if entry.Depth > s.stats.MaxDepthSeen {
		s.stats.MaxDepthSeen = entry.Depth
	}
	s.mu.Unlock()

	s.recorder.RecordPageProcessed(entry.URL, entry.URLKey, page0.status, entry.Depth, s.cfg.Mode, time.Since(start))
	s.complete(entry.URLKey, PhaseDone, false)

	if s.checkpointer != nil && s.cfg.CheckpointInterval > 0 {
		s.mu.Lock()
		due := s.stats.PagesCompleted > 0 && s.stats.PagesCompleted%s.cfg.CheckpointInterval == 0
		s.mu.Unlock()
		if due {
			_ = s.checkpointer.Snapshot(s)
		}
	}
}

// maybeEnqueueDiscovered enqueues an edge's target at depth+1 when it
// classifies as discoverable: internal, within the depth budget, and not
// already visited-or-enqueued.
func (s *Scheduler) maybeEnqueueDiscovered(edge extractor.EdgeRecord, sourceDepth int) {
	if edge.IsExternal {
		return
	}
	nextDepth := sourceDepth + 1
	if s.cfg.MaxDepth >= 0 && nextDepth > s.cfg.MaxDepth {
		return
	}
	s.tryEnqueue(QueueEntry{
		URL:            edge.TargetURL,
		URLKey:         edge.TargetURLKey,
		Depth:          nextDepth,
		DiscoveredFrom: edge.SourceURL,
		DiscoveredAt:   time.Now(),
	})
}

// pageFetch is the fields processEntry needs regardless of whether the
// entry went through the plain Fetcher (raw mode) or the Renderer
// (prerender/full).
type pageFetch struct {
	finalURL    string
	status      int
	headers     map[string]string
	rawBody     []byte
	renderedDOM string
	navStart    time.Time
	navEnd      time.Time
	media       renderer.Media
}

// fetchOrRender dispatches raw-mode entries to the plain Fetcher (no
// browser needed) and prerender/full entries to the Renderer. Returns
// ok=false with phase/kind/message/retryable populated on failure.
func (s *Scheduler) fetchOrRender(ctx context.Context, entry QueueEntry, host string) (pageFetch, Phase, string, string, bool, bool) {
	if s.cfg.Mode == "raw" {
		s.setPhase(entry.URLKey, host, PhaseFetching)
		u, err := url.Parse(entry.URL)
		if err != nil {
			return pageFetch{}, PhaseFetching, "invalid_url", err.Error(), false, false
		}
		fr, ferr := s.fetcher.Fetch(ctx, entry.Depth, fetcher.NewFetchParam(*u, s.userAgent, 30*time.Second))
		if ferr != nil {
			return pageFetch{}, PhaseFetching, string(ferr.Cause), ferr.Message, ferr.Retryable, false
		}
		return pageFetch{
			finalURL:    fr.URL().String(),
			status:      fr.StatusCode(),
			headers:     fr.Headers(),
			rawBody:     fr.Body(),
			renderedDOM: string(fr.Body()),
			navStart:    fr.FetchedAt(),
			navEnd:      fr.FetchedAt().Add(fr.Duration()),
		}, PhaseFetching, "", "", false, true
	}

	s.setPhase(entry.URLKey, host, PhaseRendering)
	rr, rerr := s.renderer.Render(ctx, renderer.RenderParam{
		URL:     entry.URL,
		Mode:    rendererMode(s.cfg.Mode),
		Timeout: 30 * time.Second,
		Stealth: renderer.StealthOpts{OverrideUserAgent: s.userAgent},
	})
	if rerr != nil {
		return pageFetch{}, PhaseRendering, string(rerr.Cause), rerr.Message, rerr.IsRetryable(), false
	}
	return pageFetch{
		finalURL:    rr.FinalURL,
		status:      rr.Status,
		headers:     rr.Headers,
		rawBody:     rr.RawBodyBytes,
		renderedDOM: rr.RenderedDOMHTML,
		navStart:    rr.Timings.NavigationStart,
		navEnd:      rr.Timings.NavigationEnd,
		media:       rr.Media,
	}, PhaseRendering, "", "", false, true
}

func rendererMode(mode string) renderer.Mode {
	switch mode {
	case "raw":
		return renderer.ModeRaw
	case "prerender":
		return renderer.ModePrerender
	default:
		return renderer.ModeFull
	}
}

func parseHost(rawURL string) (string, error) {
	idx := indexScheme(rawURL)
	if idx < 0 {
		return "", fmt.Errorf("scheduler: malformed url %q", rawURL)
	}
	rest := rawURL[idx:]
	end := len(rest)
	for i, c := range rest {
		if c == '/' {
			end = i
			break
		}
	}
	return rest[:end], nil
}

func indexScheme(rawURL string) int {
	for i := 0; i+2 < len(rawURL); i++ {
		if rawURL[i] == ':' && rawURL[i+1] == '/' && rawURL[i+2] == '/' {
			return i + 3
		}
	}
	return -1
}
