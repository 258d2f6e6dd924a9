package archive

import "time"

// Dataset is one of the named record streams the Writer maintains, each
// rolling into its own numbered part files under the staging directory.
type Dataset string

const (
	DatasetPages         Dataset = "pages"
	DatasetEdges         Dataset = "edges"
	DatasetAssets        Dataset = "assets"
	DatasetErrors        Dataset = "errors"
	DatasetAccessibility Dataset = "accessibility"
)

var allDatasets = []Dataset{DatasetPages, DatasetEdges, DatasetAssets, DatasetErrors, DatasetAccessibility}

// maxPartBytes is the uncompressed staging file size that triggers a part
// roll (close, rename with the next part number, open a fresh file).
const maxPartBytes = 150 * 1024 * 1024

// flushEveryRecords is the cross-dataset record count that triggers a
// flush+fsync of every currently open stream.
const flushEveryRecords = 1000

// Config configures one Writer instance for one crawl's staging directory.
type Config struct {
	StagingDir    string
	CrawlID       string
	Mode          string
	FormatVersion string
}

// IntegrityInfo is the manifest's `integrity` section: per-part SHA-256
// hashes plus the merkle_audit_hash over their sorted concatenation.
type IntegrityInfo struct {
	Files            map[string]string `json:"files"`
	MerkleAuditHash  string            `json:"merkle_audit_hash"`
}

// Manifest is written twice during finalization: once with Incomplete
// true (recoverable-staging marker), once with Incomplete false (the only
// state a reader may trust per P5).
type Manifest struct {
	FormatVersion    string            `json:"format_version"`
	CrawlID          string            `json:"crawl_id"`
	Incomplete       bool              `json:"incomplete"`
	Mode             string            `json:"mode"`
	CompletionReason string            `json:"completion_reason"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Parts            map[string][]string `json:"parts"`
	Integrity        IntegrityInfo     `json:"integrity"`
	Notes            []string          `json:"notes,omitempty"`
}

// Summary is the crawl's aggregate counters, written alongside the
// manifest for a quick human/tool overview without decompressing parts.
type Summary struct {
	CrawlID         string         `json:"crawl_id"`
	CompletionReason string        `json:"completion_reason"`
	TotalPages      int            `json:"total_pages"`
	TotalEdges      int            `json:"total_edges"`
	TotalAssets     int            `json:"total_assets"`
	TotalErrors     int            `json:"total_errors"`
	MaxDepthSeen    int            `json:"max_depth_seen"`
	StatusHistogram map[int]int    `json:"status_histogram"`
	ModeHistogram   map[string]int `json:"mode_histogram"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}
