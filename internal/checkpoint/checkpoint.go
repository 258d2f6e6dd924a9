// Package checkpoint is the crawl's resume mechanism: it periodically
// snapshots the Scheduler's queue/visited/in-flight state, the Archive
// Writer's current part offsets, and the Limiter's per-host bucket
// levels into one atomically-written checkpoint.json, and rebuilds that
// state back into fresh components on --resume.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atlascrawl/atlas/internal/archive"
	"github.com/atlascrawl/atlas/internal/limiter"
	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/atlascrawl/atlas/pkg/fileutil"
)

// Checkpointer implements scheduler.Checkpointer. It is attached to a
// Scheduler via AttachCheckpointer and called at the page-count interval
// Config.CheckpointInterval dictates, plus once more on graceful
// shutdown.
type Checkpointer struct {
	StagingDir string
	Writer     *archive.Writer
	Limiter    *limiter.Limiter
	Recorder   *observability.Recorder
}

func New(stagingDir string, w *archive.Writer, lim *limiter.Limiter, recorder *observability.Recorder) *Checkpointer {
	return &Checkpointer{StagingDir: stagingDir, Writer: w, Limiter: lim, Recorder: recorder}
}

var _ scheduler.Checkpointer = (*Checkpointer)(nil)

// Snapshot captures the scheduler's state, flushes the writer for stable
// byte offsets, captures the limiter's bucket levels, and writes the
// combined state out atomically. The scheduler snapshot is taken first
// since it's cheap and in-memory; the writer flush is the only step that
// touches disk I/O the caller should expect to block on.
func (c *Checkpointer) Snapshot(s *scheduler.Scheduler) error {
	snap := s.Snapshot()

	offsets, aerr := c.Writer.FlushAndSync()
	if aerr != nil {
		return fmt.Errorf("checkpoint: flush writer: %w", aerr)
	}
	partPointers := make(map[string]PartPointer, len(offsets))
	for ds, off := range offsets {
		partPointers[string(ds)] = PartPointer{PartFile: off.RelPath, ByteOffset: off.Bytes}
	}

	hostBuckets := map[string]HostBucket{}
	if c.Limiter != nil {
		for host, st := range c.Limiter.Snapshot() {
			hostBuckets[host] = HostBucket{Tokens: st.Tokens, LastRefill: st.LastRefill}
		}
	}

	state := State{
		CrawlID:      snap.CrawlID,
		Queue:        toQueueItems(snap.Queue),
		Visited:      snap.Visited,
		InFlight:     toQueueItems(snap.InFlight),
		PartPointers: partPointers,
		HostBuckets:  hostBuckets,
		Counters: Counters{
			PagesDone:    snap.PagesDone,
			ErrorsCount:  snap.ErrorsCount,
			AssetsCount:  snap.AssetsCount,
			MaxDepthSeen: snap.MaxDepthSeen,
		},
		Timestamp: time.Now(),
	}

	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	path := filepath.Join(c.StagingDir, FileName)
	if ferr := fileutil.WriteFileAtomic(path, b, 0644); ferr != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, ferr)
	}

	c.Recorder.RecordCheckpoint(path, len(state.Visited), len(state.Queue))
	return nil
}

// Load reads a previously written checkpoint.json from stagingDir.
func Load(stagingDir string) (*State, error) {
	path := filepath.Join(stagingDir, FileName)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
	}
	return &state, nil
}

// ToSchedulerSnapshot converts the on-disk state into the shape
// Scheduler.Restore expects.
func (st *State) ToSchedulerSnapshot() scheduler.StateSnapshot {
	return scheduler.StateSnapshot{
		CrawlID:      st.CrawlID,
		Queue:        toQueueEntries(st.Queue),
		Visited:      st.Visited,
		InFlight:     toQueueEntries(st.InFlight),
		PagesDone:    st.Counters.PagesDone,
		ErrorsCount:  st.Counters.ErrorsCount,
		AssetsCount:  st.Counters.AssetsCount,
		MaxDepthSeen: st.Counters.MaxDepthSeen,
	}
}

// ToLimiterState converts the on-disk host bucket map into the shape
// Limiter.Restore expects.
func (st *State) ToLimiterState() map[string]limiter.HostBucketState {
	out := make(map[string]limiter.HostBucketState, len(st.HostBuckets))
	for host, hb := range st.HostBuckets {
		out[host] = limiter.HostBucketState{Tokens: hb.Tokens, LastRefill: hb.LastRefill}
	}
	return out
}

// TruncateParts discards any bytes written to each dataset's part file
// after the checkpoint was taken: a record whose write() landed on disk
// but whose enclosing flush/sync cycle never completed before the crash
// leaves a partial trailing line, and resumed writes must append cleanly
// after the last complete record instead of corrupting that line.
func (st *State) TruncateParts(stagingDir string) error {
	for _, pp := range st.PartPointers {
		path := filepath.Join(stagingDir, pp.PartFile)
		f, err := os.OpenFile(path, os.O_WRONLY, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("checkpoint: open %s: %w", path, err)
		}
		terr := f.Truncate(pp.ByteOffset)
		cerr := f.Close()
		if terr != nil {
			return fmt.Errorf("checkpoint: truncate %s: %w", path, terr)
		}
		if cerr != nil {
			return fmt.Errorf("checkpoint: close %s: %w", path, cerr)
		}
	}
	return nil
}

func toQueueItems(entries []scheduler.QueueEntry) []QueueItem {
	out := make([]QueueItem, len(entries))
	for i, e := range entries {
		out[i] = QueueItem{URL: e.URL, URLKey: e.URLKey, Depth: e.Depth}
	}
	return out
}

func toQueueEntries(items []QueueItem) []scheduler.QueueEntry {
	out := make([]scheduler.QueueEntry, len(items))
	for i, it := range items {
		out[i] = scheduler.QueueEntry{URL: it.URL, URLKey: it.URLKey, Depth: it.Depth}
	}
	return out
}
