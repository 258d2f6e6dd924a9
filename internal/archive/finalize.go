package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/atlascrawl/atlas/pkg/fileutil"
	"github.com/klauspost/compress/zstd"
)

// schemaDocs is the fixed set of schema documents copied into every
// archive's schemas/ directory, one per dataset this writer emits.
var schemaDocs = map[string]string{
	"pages.schema.json":         `{"title":"page","type":"object","required":["url","url_key","status"]}`,
	"edges.schema.json":         `{"title":"edge","type":"object","required":["SourceURLKey","TargetURL","DomLocation"]}`,
	"assets.schema.json":        `{"title":"asset","type":"object","required":["ParentURLKey","AssetURL"]}`,
	"errors.schema.json":        `{"title":"error","type":"object","required":["URLKey","Kind","Phase"]}`,
	"accessibility.schema.json": `{"title":"accessibility","type":"object","required":["Profile"]}`,
}

// FinalizeResult is what the caller (cmd) needs to report exit status.
type FinalizeResult struct {
	ArchivePath string
	Notes       []string
}

// Finalize runs the two-phase, atomic finalization sequence: close
// streams, compress parts, copy schemas, write summary, write the
// manifest twice (incomplete=true then false), package the staging
// directory into the final .atls container, then delete staging.
// outputPath is the final archive file; validate requests the optional
// post-finalize re-verification pass.
func (w *Writer) Finalize(reason scheduler.CompletionReason, outputPath string, notes []string, validate bool) (FinalizeResult, *ArchiveError) {
	w.mu.Lock()
	finalParts, aerr := w.closeAllLocked()
	w.mu.Unlock()
	if aerr != nil {
		return FinalizeResult{}, aerr
	}

	compressed := map[Dataset][]string{}
	integrityFiles := map[string]string{}
	for ds, relPaths := range finalParts {
		for _, rel := range relPaths {
			zrel, hash, aerr := w.compressPart(rel)
			if aerr != nil {
				return FinalizeResult{}, aerr
			}
			compressed[ds] = append(compressed[ds], zrel)
			integrityFiles[zrel] = hash
		}
	}

	for name, content := range schemaDocs {
		path := filepath.Join(w.cfg.StagingDir, "schemas", name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return FinalizeResult{}, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: path}
		}
	}

	finishedAt := time.Now()
	summary := Summary{
		CrawlID: w.cfg.CrawlID, CompletionReason: string(reason),
		TotalPages: w.pagesTotal, TotalEdges: w.edgesTotal, TotalAssets: w.assetsTotal, TotalErrors: w.errorsTotal,
		MaxDepthSeen: w.maxDepthSeen, StatusHistogram: w.statusHistogram, ModeHistogram: w.modeHistogram,
		StartedAt: w.startedAt, FinishedAt: finishedAt,
	}
	summaryBytes, _ := json.MarshalIndent(summary, "", "  ")
	if err := os.WriteFile(filepath.Join(w.cfg.StagingDir, "summary.json"), summaryBytes, 0644); err != nil {
		return FinalizeResult{}, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure}
	}

	partsAsStrings := make(map[string][]string, len(compressed))
	for ds, list := range compressed {
		partsAsStrings[string(ds)] = list
	}

	manifest := Manifest{
		FormatVersion: w.cfg.FormatVersion, CrawlID: w.cfg.CrawlID,
		Mode: w.cfg.Mode, CompletionReason: string(reason),
		StartedAt: w.startedAt, FinishedAt: finishedAt,
		Parts: partsAsStrings,
		Integrity: IntegrityInfo{Files: integrityFiles, MerkleAuditHash: merkleAuditHash(integrityFiles)},
		Notes: notes,
	}

	manifestPath := filepath.Join(w.cfg.StagingDir, "manifest.json")
	manifest.Incomplete = true
	if aerr := writeManifestAtomic(manifestPath, manifest); aerr != nil {
		return FinalizeResult{}, aerr
	}
	manifest.Incomplete = false
	if aerr := writeManifestAtomic(manifestPath, manifest); aerr != nil {
		return FinalizeResult{}, aerr
	}

	if err := packageStaging(w.cfg.StagingDir, outputPath); err != nil {
		return FinalizeResult{}, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: outputPath}
	}

	if validate {
		if verr := validateArchive(outputPath, integrityFiles); verr != nil {
			notes = append(notes, fmt.Sprintf("validation failed after finalize: %v", verr))
			return FinalizeResult{ArchivePath: outputPath, Notes: notes}, &ArchiveError{Message: verr.Error(), Cause: ErrCauseValidationFailed, Path: outputPath}
		}
	}

	if err := os.RemoveAll(w.cfg.StagingDir); err != nil {
		notes = append(notes, fmt.Sprintf("staging cleanup failed: %v", err))
	}

	return FinalizeResult{ArchivePath: outputPath, Notes: notes}, nil
}

// closeAllLocked must be called with mu held. It flushes and closes every
// dataset's current part and returns the complete list of relative part
// paths per dataset (previously rolled parts plus the just-closed tail).
func (w *Writer) closeAllLocked() (map[Dataset][]string, *ArchiveError) {
	out := make(map[Dataset][]string, len(w.parts))
	for ds, ps := range w.parts {
		if err := ps.buf.Flush(); err != nil {
			return nil, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
		}
		rel := filepath.Join(string(ds), fmt.Sprintf("part-%03d.jsonl", ps.partNum))
		if err := ps.file.Close(); err != nil {
			return nil, &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: ps.file.Name()}
		}
		parts := append(append([]string{}, ps.finished...), rel)
		sort.Strings(parts)
		out[ds] = parts
	}
	return out, nil
}

// compressPart zstd-compresses one uncompressed part in place, deleting
// the original, and returns its archive-relative output path plus the
// SHA-256 of the compressed bytes.
func (w *Writer) compressPart(relPath string) (string, string, *ArchiveError) {
	srcPath := filepath.Join(w.cfg.StagingDir, relPath)
	src, err := os.Open(srcPath)
	if err != nil {
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: srcPath}
	}
	defer src.Close()

	dstPath := srcPath + ".zst"
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: dstPath}
	}

	hasher := sha256.New()
	enc, err := zstd.NewWriter(io.MultiWriter(dst, hasher))
	if err != nil {
		dst.Close()
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: dstPath}
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: dstPath}
	}

	// hasher above only captures the compressed bytes flushed through
	// MultiWriter as enc writes them, which is everything enc.Close()
	// flushes too since Close writes the final frame through the same
	// writer chain.
	if err := enc.Close(); err != nil {
		dst.Close()
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: dstPath}
	}
	if err := dst.Close(); err != nil {
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: dstPath}
	}
	if err := os.Remove(srcPath); err != nil {
		return "", "", &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: srcPath}
	}

	rel := relPath + ".zst"
	return filepath.ToSlash(rel), hex.EncodeToString(hasher.Sum(nil)), nil
}

// merkleAuditHash is SHA-256 of the concatenation of part hashes sorted
// by path, per P3.
func merkleAuditHash(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha256.New()
	for _, p := range paths {
		io.WriteString(h, files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeManifestAtomic(path string, m Manifest) *ArchiveError {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &ArchiveError{Message: err.Error(), Cause: ErrCauseWriteFailure, Path: path}
	}
	if ferr := fileutil.WriteFileAtomic(path, b, 0644); ferr != nil {
		return &ArchiveError{Message: ferr.Error(), Cause: ErrCauseWriteFailure, Path: path}
	}
	return nil
}

// packageStaging zips the staging directory into a single .atls file
// using Store (no extra compression) since every entry inside is already
// zstd-compressed or small JSON metadata.
func packageStaging(stagingDir, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Store})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

// validateArchive reopens the packaged container and verifies every
// integrity-listed part's SHA-256 still matches. Any mismatch is a fatal
// VALIDATION_FAILED error; the archive itself is kept but flagged via the
// caller's notes, per the spec's "kept, not deleted" validation contract.
func validateArchive(archivePath string, want map[string]string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	for name, wantHash := range want {
		f, ok := byName[name]
		if !ok {
			return fmt.Errorf("archive missing declared part %q", name)
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		h := sha256.New()
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return err
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != wantHash {
			return fmt.Errorf("part %q hash mismatch: want %s got %s", name, wantHash, got)
		}
	}
	return nil
}
