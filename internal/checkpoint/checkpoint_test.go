package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlascrawl/atlas/internal/archive"
	"github.com/atlascrawl/atlas/internal/checkpoint"
	"github.com/atlascrawl/atlas/internal/limiter"
	"github.com/atlascrawl/atlas/internal/normalize"
	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPieces(t *testing.T) (*scheduler.Scheduler, *archive.Writer, *limiter.Limiter, string) {
	t.Helper()
	stagingDir := t.TempDir()
	w, aerr := archive.New(archive.Config{StagingDir: stagingDir, CrawlID: "crawl-1", Mode: "raw", FormatVersion: "1.0"}, nil)
	require.Nil(t, aerr)

	lim := limiter.New(limiter.Config{GlobalRPS: 100, PerHostRPS: 100, Burst: 2})

	n, err := normalize.New(normalize.Policy{}, nil)
	require.NoError(t, err)

	s := scheduler.New(
		scheduler.Config{Concurrency: 1, Mode: "raw", CrawlID: "crawl-1"},
		"atlas-test/1.0", n, robots.New("atlas-test/1.0", nil), lim, nil, nil, nil, w, nil,
	)
	return s, w, lim, stagingDir
}

func TestCheckpoint_SnapshotWritesRoundTrippableState(t *testing.T) {
	s, w, lim, stagingDir := newTestPieces(t)
	s.Seed([]string{"https://example.com/"})

	require.NoError(t, w.WritePage(scheduler.PageRecord{URL: "https://example.com/seen", URLKey: "seen-1", Status: 200}))

	cp := checkpoint.New(stagingDir, w, lim, nil)
	require.NoError(t, cp.Snapshot(s))

	path := filepath.Join(stagingDir, checkpoint.FileName)
	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := checkpoint.Load(stagingDir)
	require.NoError(t, err)
	assert.Equal(t, "crawl-1", loaded.CrawlID)
	assert.Len(t, loaded.Queue, 1)
	assert.Contains(t, loaded.PartPointers, "pages")
}

func TestCheckpoint_ResumeRestoresQueueWithoutDuplicates(t *testing.T) {
	s, w, lim, stagingDir := newTestPieces(t)
	s.Seed([]string{"https://example.com/a", "https://example.com/b"})

	cp := checkpoint.New(stagingDir, w, lim, nil)
	require.NoError(t, cp.Snapshot(s))

	loaded, err := checkpoint.Load(stagingDir)
	require.NoError(t, err)

	s2, _, _, _ := newTestPieces(t)
	s2.Restore(loaded.ToSchedulerSnapshot())

	snap := s2.Snapshot()
	assert.Len(t, snap.Queue, 2)

	// Restoring twice must not duplicate entries: enqueuedKeys dedupes.
	s2.Restore(loaded.ToSchedulerSnapshot())
	snap2 := s2.Snapshot()
	assert.Len(t, snap2.Queue, 2)
}

func TestCheckpoint_TruncatePartsDiscardsTrailingBytes(t *testing.T) {
	s, w, lim, stagingDir := newTestPieces(t)
	s.Seed([]string{"https://example.com/"})

	require.NoError(t, w.WritePage(scheduler.PageRecord{URL: "https://example.com/p1", URLKey: "p1", Status: 200}))

	cp := checkpoint.New(stagingDir, w, lim, nil)
	require.NoError(t, cp.Snapshot(s))
	loaded, err := checkpoint.Load(stagingDir)
	require.NoError(t, err)

	partPath := filepath.Join(stagingDir, loaded.PartPointers["pages"].PartFile)
	f, err := os.OpenFile(partPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"url_key":"partial-unflushed-lin`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, loaded.TruncateParts(stagingDir))

	b, err := os.ReadFile(partPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(b)), loaded.PartPointers["pages"].ByteOffset)
}
