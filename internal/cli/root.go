// Package cmd is the thin CLI adapter around the crawl engine: it parses
// flags, wires the Normalizer/Robots/Limiter/Fetcher/Renderer/Extractor/
// Writer/Scheduler/Checkpointer stack together, runs one crawl to
// completion, and maps the outcome onto the process exit code.
package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atlascrawl/atlas/internal/archive"
	"github.com/atlascrawl/atlas/internal/checkpoint"
	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/atlascrawl/atlas/internal/limiter"
	"github.com/atlascrawl/atlas/internal/normalize"
	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/internal/renderer"
	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/atlascrawl/atlas/internal/scheduler"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Exit codes, per the crawl command's external contract.
const (
	ExitSuccess           = 0
	ExitErrorBudget       = 2
	ExitRenderFatal       = 3
	ExitWriteFatal        = 4
	ExitValidationFailed  = 5
	ExitUnknown           = 10
)

var (
	seeds              []string
	outPath            string
	mode               string
	maxPages           int
	maxDepth           int
	rps                float64
	concurrency        int
	perHostRPS         float64
	respectRobots      bool
	maxErrors          int
	allowURLs          []string
	denyURLs           []string
	resumeDir          string
	checkpointInterval int
	rssThresholdMB     float64
	rssLowWaterMB      float64
	userAgent          string
	eventLogPath       string
	validateOnFinalize bool
	burst              int

	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "A headless crawl engine that produces compressed Atlas archives.",
	Long: `atlas crawls a set of seed URLs with a concurrent scheduler,
per-host rate limiting, robots.txt enforcement, and a browser-driven
renderer, streaming everything it finds into a self-describing,
integrity-verified .atls archive.`,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = runCrawl()
	},
}

// Execute runs the root command and returns the process exit code. It is
// the only thing cmd/atlas/main.go calls.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return ExitUnknown
	}
	return exitCode
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringArrayVar(&seeds, "seeds", nil, "one or more absolute seed URLs (required unless --resume is set)")
	flags.StringVar(&outPath, "out", "", "output archive path (default: ./export/<domain>_<timestamp>_<mode>.atls)")
	flags.StringVar(&mode, "mode", "prerender", "render mode: raw | prerender | full")
	flags.IntVar(&maxPages, "max-pages", 0, "0 = unlimited, else hard cap")
	flags.IntVar(&maxDepth, "max-depth", 1, "-1 unlimited, 0 seeds only, else N")
	flags.Float64Var(&rps, "rps", 10, "global requests per second")
	flags.IntVar(&concurrency, "concurrency", 8, "number of concurrent workers")
	flags.Float64Var(&perHostRPS, "per-host-rps", 2, "per-host requests per second")
	flags.IntVar(&burst, "burst", 1, "token bucket burst size")
	flags.BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt (disabling is noted in the manifest)")
	flags.IntVar(&maxErrors, "max-errors", -1, "-1 unlimited, 0 abort on first, N abort after N")
	flags.StringArrayVar(&allowURLs, "allow-url", nil, "allow pattern (glob, or /.../ for regex); repeatable")
	flags.StringArrayVar(&denyURLs, "deny-url", nil, "deny pattern (glob, or /.../ for regex); repeatable")
	flags.StringVar(&resumeDir, "resume", "", "resume from an existing staging directory's checkpoint.json")
	flags.IntVar(&checkpointInterval, "checkpoint-interval", 500, "pages between checkpoint snapshots (0 disables periodic checkpointing)")
	flags.Float64Var(&rssThresholdMB, "rss-threshold-mb", 0, "pause dispatch when RSS exceeds this many MB (0 disables backpressure)")
	flags.Float64Var(&rssLowWaterMB, "rss-low-water-mb", 0, "resume dispatch once RSS falls back below this many MB (default 80% of threshold)")
	flags.StringVar(&userAgent, "user-agent", "atlas-crawler/1.0 (+https://github.com/atlascrawl/atlas)", "user agent sent on every fetch and robots.txt request")
	flags.StringVar(&eventLogPath, "event-log", "", "NDJSON observability event log path (default: <staging>/events.ndjson)")
	flags.BoolVar(&validateOnFinalize, "validate", false, "re-open and hash-verify the archive immediately after finalize")
}

func parsePatterns(raw []string) []normalize.Pattern {
	out := make([]normalize.Pattern, len(raw))
	for i, p := range raw {
		out[i] = normalize.Pattern(p)
	}
	return out
}

func seedHosts(rawSeeds []string) ([]string, error) {
	hosts := make([]string, 0, len(rawSeeds))
	seen := map[string]struct{}{}
	for _, s := range rawSeeds {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid seed URL %q: %w", s, err)
		}
		if _, ok := seen[u.Host]; !ok {
			seen[u.Host] = struct{}{}
			hosts = append(hosts, u.Host)
		}
	}
	return hosts, nil
}

func defaultOutputPath(rawSeeds []string, mode string) string {
	domain := "crawl"
	if len(rawSeeds) > 0 {
		if u, err := url.Parse(rawSeeds[0]); err == nil && u.Host != "" {
			domain = strings.ReplaceAll(u.Host, ":", "_")
		}
	}
	return filepath.Join("export", fmt.Sprintf("%s_%s_%s.atls", domain, time.Now().Format("20060102_150405"), mode))
}

// runCrawl wires every component, runs one crawl, finalizes the archive,
// and returns the exit code the contract assigns to the outcome.
func runCrawl() int {
	resuming := resumeDir != ""
	if len(seeds) == 0 && !resuming {
		fmt.Fprintln(os.Stderr, "error: --seeds is required (or --resume with an existing staging directory)")
		return ExitValidationFailed
	}

	crawlID := uuid.NewString()
	stagingDir := resumeDir
	if !resuming {
		stagingDir = filepath.Join("export", ".staging-"+crawlID)
	}

	hosts, err := seedHosts(seeds)
	if err != nil && !resuming {
		fmt.Fprintln(os.Stderr, "error:", err)
		return ExitValidationFailed
	}

	n, err := normalize.New(normalize.Policy{
		ParamPolicy:   normalize.ParamPolicyKeep,
		AllowPatterns: parsePatterns(allowURLs),
		DenyPatterns:  parsePatterns(denyURLs),
	}, hosts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: building normalizer:", err)
		return ExitValidationFailed
	}

	var eventLog *os.File
	logPath := eventLogPath
	if logPath == "" {
		logPath = filepath.Join(stagingDir, "events.ndjson")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
		eventLog, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			eventLog = nil
		}
	}
	var recorder *observability.Recorder
	if eventLog != nil {
		recorder = observability.NewRecorder(eventLog)
		defer eventLog.Close()
	}

	robotsCache := robots.New(userAgent, recorder)
	lim := limiter.New(limiter.Config{GlobalRPS: rps, PerHostRPS: perHostRPS, Burst: burst})
	fetch := fetcher.New(recorder)
	render := renderer.New(userAgent, recorder)
	extract := extractor.New(n, recorder)

	writer, aerr := archive.New(archive.Config{
		StagingDir: stagingDir, CrawlID: crawlID, Mode: mode, FormatVersion: "1.0",
	}, recorder)
	if aerr != nil {
		fmt.Fprintln(os.Stderr, "error: opening archive writer:", aerr)
		return ExitWriteFatal
	}

	notes := []string{}
	if !respectRobots {
		notes = append(notes, "robots.txt enforcement disabled via --respect-robots=false")
	}

	schedCfg := scheduler.Config{
		Concurrency: concurrency, MaxPages: maxPages, MaxDepth: maxDepth, MaxErrors: maxErrors,
		Mode: mode, RespectRobots: respectRobots, CrawlID: crawlID,
		CheckpointInterval: checkpointInterval, RSSThresholdMB: rssThresholdMB, RSSLowWaterMB: rssLowWaterMB,
	}
	sched := scheduler.New(schedCfg, userAgent, n, robotsCache, lim, fetch, render, extract, writer, recorder)

	cp := checkpoint.New(stagingDir, writer, lim, recorder)
	sched.AttachCheckpointer(cp)

	if resuming {
		state, err := checkpoint.Load(stagingDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: loading checkpoint:", err)
			return ExitValidationFailed
		}
		if err := state.TruncateParts(stagingDir); err != nil {
			fmt.Fprintln(os.Stderr, "error: truncating staged parts:", err)
			return ExitWriteFatal
		}
		sched.Restore(state.ToSchedulerSnapshot())
		lim.Restore(state.ToLimiterState())
		notes = append(notes, fmt.Sprintf("resumed from checkpoint at %s", stagingDir))
	} else {
		sched.Seed(seeds)
	}

	reason, _ := sched.Run(context.Background())

	out := outPath
	if out == "" {
		out = defaultOutputPath(seeds, mode)
	}
	result, aerr := writer.Finalize(reason, out, notes, validateOnFinalize)
	if aerr != nil {
		fmt.Fprintln(os.Stderr, "error: finalizing archive:", aerr)
		if aerr.Cause == archive.ErrCauseValidationFailed {
			return ExitValidationFailed
		}
		return ExitWriteFatal
	}

	fmt.Printf("archive written: %s\n", result.ArchivePath)
	if reason == scheduler.CompletionErrorBudget {
		return ExitErrorBudget
	}
	return ExitSuccess
}
