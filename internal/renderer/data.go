package renderer

import "time"

type Mode string

const (
	ModeRaw       Mode = "raw"
	ModePrerender Mode = "prerender"
	ModeFull      Mode = "full"
)

type NavEndReason string

const (
	NavEndFetch       NavEndReason = "fetch"
	NavEndLoad        NavEndReason = "load"
	NavEndNetworkIdle NavEndReason = "networkidle"
	NavEndTimeout     NavEndReason = "timeout"
	NavEndError       NavEndReason = "error"
)

// StealthOpts toggles anti-fingerprinting behaviors the browser session
// applies before navigation. Zero value disables all of them.
type StealthOpts struct {
	OverrideUserAgent string
	ViewportWidth     int
	ViewportHeight    int
}

// RenderParam is the input to one render.
type RenderParam struct {
	URL     string
	Mode    Mode
	Timeout time.Duration
	Stealth StealthOpts
}

// Media is the screenshot/favicon bundle captured in full mode. Once
// navigation succeeds it is populated however the wait ended (load,
// network idle or timeout) and before the challenge check, per the
// media-capture-before-early-return invariant; a navigation error returns
// before capture, with no media.
type Media struct {
	ScreenshotDesktop []byte
	ScreenshotMobile  []byte
	Favicon           []byte
	Captured          bool
}

// RenderResult is the output of one render attempt.
type RenderResult struct {
	FinalURL        string
	Status          int
	Headers         map[string]string
	RawBodyBytes    []byte
	RenderedDOMHTML string
	WaitConditionUsed NavEndReason
	NavEndReason    NavEndReason
	Timings         Timings
	Media           Media
}

type Timings struct {
	NavigationStart time.Time
	NavigationEnd   time.Time
	Duration        time.Duration
}
