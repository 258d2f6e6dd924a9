package observability

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

/*
Recorder is the re-architecture of the teacher's global-logging-state
pattern (spec REDESIGN FLAG): instead of a process-wide level/quiet/json
flag set, a Recorder is an explicit value constructed once per crawl and
threaded down through every component's constructor, exactly the way the
teacher threads metadata.MetadataSink. A nil *Recorder is safe to use
(all methods no-op), so library callers who don't want an event log pay
nothing.

Recorder is the single writer for the NDJSON event log: all components
fan their Emit calls through one mutex-guarded io.Writer, mirroring the
single-writer-per-stream discipline the Archive Writer uses for its
datasets.
*/
type Recorder struct {
	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

// NewRecorder returns a Recorder that writes one JSON object per line to
// w. Pass io.Discard (or nil Recorder) to disable the event log.
func NewRecorder(w io.Writer) *Recorder {
	if w == nil {
		return nil
	}
	return &Recorder{out: w, enc: json.NewEncoder(w)}
}

// Emit writes one NDJSON line for the given event. Safe for concurrent
// use; safe to call on a nil Recorder (no-op).
func (r *Recorder) Emit(ev Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(ev)
}

// RecordError emits a crawl.error event. Mirrors the teacher's
// MetadataSink.RecordError signature; the cause mapping performed by
// callers is observational only, never control flow.
func (r *Recorder) RecordError(at time.Time, component, operation string, cause ErrorCause, message string, attrs []Attribute) {
	if r == nil {
		return
	}
	r.Emit(NewError(component, operation, cause, message, attrs))
}

func (r *Recorder) RecordRobotsDecision(url string, allowed bool, rule, source string) {
	if r == nil {
		return
	}
	r.Emit(NewRobotsDecision(url, allowed, rule, source))
}

func (r *Recorder) RecordPageProcessed(url, urlKey string, status, depth int, mode string, duration time.Duration) {
	if r == nil {
		return
	}
	r.Emit(NewPageProcessed(url, urlKey, status, depth, mode, duration))
}

func (r *Recorder) RecordCheckpoint(path string, visited, queueDepth int) {
	if r == nil {
		return
	}
	r.Emit(NewCheckpoint(path, visited, queueDepth))
}

func (r *Recorder) RecordBackpressure(rssMB, thresholdMB float64, paused bool) {
	if r == nil {
		return
	}
	r.Emit(NewBackpressure(rssMB, thresholdMB, paused))
}

func (r *Recorder) RecordHeartbeat(pagesDone, errsCount, inFlight int) {
	if r == nil {
		return
	}
	r.Emit(NewHeartbeat(pagesDone, errsCount, inFlight))
}

func (r *Recorder) RecordObservability(queueDepth, inFlight int, perHost map[string]int, throttled []string, rps, rssMB float64) {
	if r == nil {
		return
	}
	r.Emit(NewObservability(queueDepth, inFlight, perHost, throttled, rps, rssMB))
}

func (r *Recorder) RecordCrawlStarted(crawlID string, seeds []string, mode string, maxPages, maxDepth int, userAgent string) {
	if r == nil {
		return
	}
	r.Emit(NewCrawlStarted(crawlID, seeds, mode, maxPages, maxDepth, userAgent))
}

func (r *Recorder) RecordCrawlFinished(crawlID, reason string, pages, errs, assets int, duration time.Duration) {
	if r == nil {
		return
	}
	r.Emit(NewCrawlFinished(crawlID, reason, pages, errs, assets, duration))
}
