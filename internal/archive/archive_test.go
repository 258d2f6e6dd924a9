package archive

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	stagingDir := t.TempDir()
	w, aerr := New(Config{StagingDir: stagingDir, CrawlID: "crawl-1", Mode: "raw", FormatVersion: "1.0"}, nil)
	require.Nil(t, aerr)
	return w, stagingDir
}

func TestWriter_WritePageAndFinalizeProducesValidArchive(t *testing.T) {
	w, _ := newTestWriter(t)

	require.NoError(t, w.WritePage(scheduler.PageRecord{
		URL: "https://example.com/", URLKey: "k1", FinalURL: "https://example.com/", Status: 200,
		Depth: 0, Mode: "raw",
		PageFacts: extractor.PageFacts{Title: "Example"},
	}))
	require.NoError(t, w.WriteEdge(extractor.EdgeRecord{SourceURLKey: "k1", TargetURL: "https://example.com/a", TargetURLKey: "k2"}))
	require.NoError(t, w.WriteAsset(extractor.AssetRecord{ParentURLKey: "k1", AssetURL: "https://example.com/a.png"}))
	require.NoError(t, w.WriteError(scheduler.ErrorRecord{URLKey: "k3", Kind: "invalid_url", Phase: scheduler.PhaseDispatched}))

	outputPath := filepath.Join(t.TempDir(), "out.atls")
	result, aerr := w.Finalize(scheduler.CompletionFinished, outputPath, nil, true)
	require.Nil(t, aerr)
	assert.Equal(t, outputPath, result.ArchivePath)

	_, err := os.Stat(outputPath)
	require.NoError(t, err)

	zr, err := zip.OpenReader(outputPath)
	require.NoError(t, err)
	defer zr.Close()

	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}

	manifestFile, ok := names["manifest.json"]
	require.True(t, ok, "manifest.json must be in the packaged archive")
	rc, err := manifestFile.Open()
	require.NoError(t, err)
	var manifest Manifest
	require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
	rc.Close()

	assert.False(t, manifest.Incomplete)
	assert.Equal(t, "finished", manifest.CompletionReason)
	assert.NotEmpty(t, manifest.Integrity.MerkleAuditHash)
	assert.Contains(t, names, "pages/part-000.jsonl.zst")
	assert.Contains(t, names, "summary.json")
	assert.Contains(t, names, "schemas/pages.schema.json")
}

func TestWriter_FinalizeDeletesStagingDirectory(t *testing.T) {
	w, stagingDir := newTestWriter(t)
	require.NoError(t, w.WritePage(scheduler.PageRecord{URL: "https://example.com/", URLKey: "k1", Status: 200}))

	outputPath := filepath.Join(t.TempDir(), "out.atls")
	_, aerr := w.Finalize(scheduler.CompletionFinished, outputPath, nil, false)
	require.Nil(t, aerr)

	_, err := os.Stat(stagingDir)
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_MediaWrittenOnlyWhenCaptured(t *testing.T) {
	w, stagingDir := newTestWriter(t)
	require.NoError(t, w.WritePage(scheduler.PageRecord{
		URL: "https://example.com/", URLKey: "k1", Status: 200,
		MediaCaptured: true, ScreenshotDesktop: []byte("jpeg-bytes-desktop"), ScreenshotMobile: []byte("jpeg-bytes-mobile"),
	}))

	desktopPath := filepath.Join(stagingDir, "media", "screenshots", "desktop", "k1.jpg")
	data, err := os.ReadFile(desktopPath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes-desktop", string(data))
}

func TestWriter_IntegrityHashesMatchCompressedParts(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.WritePage(scheduler.PageRecord{URL: "https://example.com/", URLKey: "k1", Status: 200}))

	outputPath := filepath.Join(t.TempDir(), "out.atls")
	_, aerr := w.Finalize(scheduler.CompletionFinished, outputPath, nil, true)
	require.Nil(t, aerr, "validation pass recomputes every part's hash and must agree with the manifest")
}
