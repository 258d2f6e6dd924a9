package checkpoint

import "time"

// FileName is the checkpoint file's name inside a crawl's staging
// directory, written via a temp-file-then-rename so a reader never sees
// a partially written checkpoint.
const FileName = "checkpoint.json"

// QueueItem is one pending or in-flight URL as persisted to disk.
type QueueItem struct {
	URL    string `json:"url"`
	URLKey string `json:"url_key"`
	Depth  int    `json:"depth"`
}

// PartPointer records where a dataset's current part file stood at
// snapshot time, so resume can truncate away anything written after.
type PartPointer struct {
	PartFile   string `json:"part_file"`
	ByteOffset int64  `json:"byte_offset"`
}

// HostBucket is one host's rate-limiter token count at snapshot time.
type HostBucket struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Counters mirrors the scheduler's Stats at snapshot time, so a resumed
// crawl's final summary reflects work done before AND after the resume
// point.
type Counters struct {
	PagesDone    int `json:"pages_done"`
	ErrorsCount  int `json:"errors_count"`
	AssetsCount  int `json:"assets_count"`
	MaxDepthSeen int `json:"max_depth_seen"`
}

// State is the full on-disk checkpoint.json schema.
type State struct {
	CrawlID      string                 `json:"crawl_id"`
	Queue        []QueueItem            `json:"queue"`
	Visited      []string               `json:"visited"`
	InFlight     []QueueItem            `json:"in_flight"`
	PartPointers map[string]PartPointer `json:"part_pointers"`
	HostBuckets  map[string]HostBucket  `json:"host_buckets"`
	Counters     Counters               `json:"counters"`
	Timestamp    time.Time              `json:"timestamp"`
}
