// Package archive is the Archive Writer: it turns the record stream
// emitted by the Scheduler into a fully described, integrity-verifiable
// Atlas archive. Datasets stream to uncompressed JSONL staging files that
// roll at 150MB and flush+fsync every 1000 records; compression, integrity
// hashing, and the two-phase manifest write all happen once, on finalize.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/atlascrawl/atlas/pkg/fileutil"
)

// partState is one dataset's currently open staging file.
type partState struct {
	file     *os.File
	buf      *bufio.Writer
	partNum  int
	bytes    int64
	finished []string // relative paths of parts already rolled/closed
}

// Writer is the single-writer-per-dataset idiom the concurrency model
// calls for: every dataset funnels through this struct's mutex rather
// than one goroutine per dataset, which is explicitly allowed as an
// implementer's choice.
type Writer struct {
	cfg      Config
	mu       sync.Mutex
	parts    map[Dataset]*partState
	recorder *observability.Recorder

	recordsSinceSync int
	startedAt        time.Time

	pagesTotal, edgesTotal, assetsTotal, errorsTotal int
	maxDepthSeen                                     int
	statusHistogram                                  map[int]int
	modeHistogram                                    map[string]int
}

// New prepares the staging directory layout (one subdirectory per
// dataset, plus media/) and opens part-000 for each dataset.
func New(cfg Config, recorder *observability.Recorder) (*Writer, *ArchiveError) {
	for _, dir := range []string{"media/screenshots/desktop", "media/screenshots/mobile", "media/favicons", "schemas"} {
		if ferr := fileutil.EnsureDir(cfg.StagingDir, dir); ferr != nil {
			return nil, &ArchiveError{Message: ferr.Error(), Cause: ErrCausePathError, Path: cfg.StagingDir}
		}
	}

	w := &Writer{
		cfg:              cfg,
		parts:            make(map[Dataset]*partState, len(allDatasets)),
		recorder:         recorder,
		startedAt:        time.Now(),
		statusHistogram:  map[int]int{},
		modeHistogram:    map[string]int{},
	}
	for _, ds := range allDatasets {
		if ferr := fileutil.EnsureDir(cfg.StagingDir, string(ds)); ferr != nil {
			return nil, &ArchiveError{Message: ferr.Error(), Cause: ErrCausePathError, Path: cfg.StagingDir}
		}
		ps, aerr := w.openPart(ds, 0)
		if aerr != nil {
			return nil, aerr
		}
		w.parts[ds] = ps
	}
	return w, nil
}

func (w *Writer) openPart(ds Dataset, num int) (*partState, *ArchiveError) {
	rel := filepath.Join(string(ds), fmt.Sprintf("part-%03d.jsonl", num))
	path := filepath.Join(w.cfg.StagingDir, rel)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: path}
	}
	return &partState{file: f, buf: bufio.NewWriter(f), partNum: num}, nil
}

// writeRecord appends one JSON line to ds's currently open part, rolling
// to a fresh part if the roll threshold is crossed, and flushing+fsyncing
// every flushEveryRecords records across all datasets.
func (w *Writer) writeRecord(ds Dataset, v interface{}) *ArchiveError {
	line, err := json.Marshal(v)
	if err != nil {
		return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure}
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	ps := w.parts[ds]
	if _, err := ps.buf.Write(line); err != nil {
		aerr := &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
		w.recordError("writeRecord", aerr)
		return aerr
	}
	ps.bytes += int64(len(line))

	w.recordsSinceSync++
	if w.recordsSinceSync >= flushEveryRecords {
		if aerr := w.flushAllLocked(); aerr != nil {
			return aerr
		}
		w.recordsSinceSync = 0
	}

	if ps.bytes >= maxPartBytes {
		if aerr := w.rollLocked(ds); aerr != nil {
			return aerr
		}
	}
	return nil
}

// PartOffset is one dataset's currently open part file and the byte
// length flushed to disk as of the last FlushAndSync call, the exact
// pair a checkpoint needs to truncate back to on resume.
type PartOffset struct {
	RelPath string
	Bytes   int64
}

// FlushAndSync flushes and fsyncs every open dataset stream and reports
// each dataset's current part path and byte offset. Callers are expected
// to have already quiesced writers (the scheduler's checkpoint snapshot
// window) so the offsets reported are stable the instant this returns.
func (w *Writer) FlushAndSync() (map[Dataset]PartOffset, *ArchiveError) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if aerr := w.flushAllLocked(); aerr != nil {
		return nil, aerr
	}
	out := make(map[Dataset]PartOffset, len(w.parts))
	for ds, ps := range w.parts {
		out[ds] = PartOffset{
			RelPath: filepath.Join(string(ds), fmt.Sprintf("part-%03d.jsonl", ps.partNum)),
			Bytes:   ps.bytes,
		}
	}
	return out, nil
}

func (w *Writer) flushAllLocked() *ArchiveError {
	for _, ps := range w.parts {
		if err := ps.buf.Flush(); err != nil {
			return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
		}
		if ferr := fileutil.FsyncFile(ps.file); ferr != nil {
			return &ArchiveError{Message: ferr.Error(), Cause: ErrCauseDiskFull, Path: ps.file.Name()}
		}
	}
	return nil
}

// rollLocked must be called with mu held. It closes the current part,
// records its relative path for finalize-time compression, and opens the
// next numbered part.
func (w *Writer) rollLocked(ds Dataset) *ArchiveError {
	ps := w.parts[ds]
	if err := ps.buf.Flush(); err != nil {
		return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
	}
	rel := filepath.Join(string(ds), fmt.Sprintf("part-%03d.jsonl", ps.partNum))
	if err := ps.file.Close(); err != nil {
		return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
	}
	next, aerr := w.openPart(ds, ps.partNum+1)
	if aerr != nil {
		return aerr
	}
	next.finished = append(ps.finished, rel)
	w.parts[ds] = next
	return nil
}

// WritePage implements scheduler.RecordSink. Desktop and mobile screenshot
// bytes are written to media/screenshots/ as separate files (never inlined
// into the JSONL record); the record itself carries only a screenshot
// presence flag. The page's favicon bytes are not written.
func (w *Writer) WritePage(p scheduler.PageRecord) error {
	type pageLine struct {
		URL               string                         `json:"url"`
		URLKey            string                         `json:"url_key"`
		FinalURL          string                         `json:"final_url"`
		Status            int                            `json:"status"`
		RawBodyHash       string                         `json:"raw_body_hash"`
		DOMHash           string                         `json:"dom_hash"`
		URLHash           string                         `json:"url_hash"`
		Depth             int                            `json:"depth"`
		Mode              string                         `json:"mode"`
		FetchStart        time.Time                      `json:"fetch_start"`
		FetchEnd          time.Time                      `json:"fetch_end"`
		RenderStart       time.Time                      `json:"render_start,omitempty"`
		RenderEnd         time.Time                      `json:"render_end,omitempty"`
		PageFacts         extractor.PageFacts             `json:"page_facts"`
		SEO               extractor.SEOFacts              `json:"seo"`
		Metrics           extractor.Metrics                `json:"metrics"`
		Tech              []extractor.TechSignature        `json:"tech,omitempty"`
		StructuredData    []extractor.StructuredDataEntry  `json:"structured_data,omitempty"`
		MediaScreenshot   bool                           `json:"media_screenshot"`
	}

	if p.MediaCaptured {
		if aerr := w.writeMediaFile(filepath.Join("media", "screenshots", "desktop", p.URLKey+".jpg"), p.ScreenshotDesktop); aerr != nil {
			return aerr
		}
		if aerr := w.writeMediaFile(filepath.Join("media", "screenshots", "mobile", p.URLKey+".jpg"), p.ScreenshotMobile); aerr != nil {
			return aerr
		}
	}

	line := pageLine{
		URL: p.URL, URLKey: p.URLKey, FinalURL: p.FinalURL, Status: p.Status,
		RawBodyHash: p.RawBodyHash, DOMHash: p.DOMHash, URLHash: p.URLHash,
		Depth: p.Depth, Mode: p.Mode,
		FetchStart: p.FetchStart, FetchEnd: p.FetchEnd,
		RenderStart: p.RenderStart, RenderEnd: p.RenderEnd,
		PageFacts: p.PageFacts, SEO: p.SEO, Metrics: p.Metrics,
		Tech: p.Tech, StructuredData: p.StructuredData,
		MediaScreenshot: p.MediaCaptured,
	}
	if aerr := w.writeRecord(DatasetPages, line); aerr != nil {
		return aerr
	}
	w.mu.Lock()
	w.pagesTotal++
	w.statusHistogram[p.Status]++
	w.modeHistogram[p.Mode]++
	if p.Depth > w.maxDepthSeen {
		w.maxDepthSeen = p.Depth
	}
	w.mu.Unlock()
	return nil
}

func (w *Writer) writeMediaFile(relPath string, data []byte) *ArchiveError {
	if len(data) == 0 {
		return nil
	}
	path := filepath.Join(w.cfg.StagingDir, relPath)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: path}
	}
	return nil
}

func (w *Writer) WriteEdge(e extractor.EdgeRecord) error {
	if aerr := w.writeRecord(DatasetEdges, e); aerr != nil {
		return aerr
	}
	w.mu.Lock()
	w.edgesTotal++
	w.mu.Unlock()
	return nil
}

func (w *Writer) WriteAsset(a extractor.AssetRecord) error {
	if aerr := w.writeRecord(DatasetAssets, a); aerr != nil {
		return aerr
	}
	w.mu.Lock()
	w.assetsTotal++
	w.mu.Unlock()
	return nil
}

func (w *Writer) WriteError(e scheduler.ErrorRecord) error {
	if aerr := w.writeRecord(DatasetErrors, e); aerr != nil {
		return aerr
	}
	w.mu.Lock()
	w.errorsTotal++
	w.mu.Unlock()
	return nil
}

func (w *Writer) WriteAccessibility(a extractor.AccessibilityFindings) error {
	return w.writeRecord(DatasetAccessibility, a)
}

var _ scheduler.RecordSink = (*Writer)(nil)

// recordError reports a write/IO failure to the event log. Observational
// only: the caller still returns the ArchiveError itself to drive control
// flow (the Scheduler/cmd decide whether a write failure is fatal).
func (w *Writer) recordError(operation string, aerr *ArchiveError) {
	w.recorder.RecordError(time.Now(), "archive", operation, mapArchiveErrorToCause(aerr), aerr.Message,
		[]observability.Attribute{observability.NewAttr(observability.AttrWritePath, aerr.Path)})
}
