// Package renderer drives a headless browser to navigate a URL and
// capture its rendered state for the extractor pipeline. It supports
// three render modes (raw, prerender, full) and enforces the
// media-capture-before-early-return invariant: in full mode, screenshots
// and favicon are captured immediately after DOM extraction, before any
// conditional return for timeout/challenge/error, so a slow page still
// yields usable media.
package renderer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultRecycleEvery  = 50
	challengeWaitTotal   = 15 * time.Second
	challengePollEvery   = 1 * time.Second
	networkIdleWindow    = 500 * time.Millisecond
)

// Renderer owns one pooled browser connection, recycled every N pages to
// bound memory growth across a long crawl.
type Renderer struct {
	userAgent    string
	recorder     *observability.Recorder
	recycleEvery int

	mu          sync.Mutex
	browser     *rod.Browser
	pagesServed int
	httpClient  *http.Client
}

func New(userAgent string, recorder *observability.Recorder) *Renderer {
	return &Renderer{
		userAgent:    userAgent,
		recorder:     recorder,
		recycleEvery: defaultRecycleEvery,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Renderer) ensureBrowser(ctx context.Context) (*rod.Browser, *RenderError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil && r.pagesServed < r.recycleEvery {
		return r.browser, nil
	}
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseLaunchFailure}
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseLaunchFailure}
	}
	r.browser = browser
	r.pagesServed = 0
	return browser, nil
}

// Close releases the pooled browser. Safe to call when nothing was ever
// rendered.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

// Render navigates to param.URL in the requested mode and returns the
// captured state. A non-nil *RenderError means no page record should be
// produced (CHALLENGE_DETECTED, launch failure); a timeout still returns
// a RenderResult with NavEndReason == NavEndTimeout and, in full mode,
// populated Media.
func (r *Renderer) Render(ctx context.Context, param RenderParam) (RenderResult, *RenderError) {
	browser, rerr := r.ensureBrowser(ctx)
	if rerr != nil {
		return RenderResult{}, rerr
	}

	deadline := time.Now().Add(param.Timeout)
	renderCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	incognito, err := browser.Incognito()
	if err != nil {
		return RenderResult{}, &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseLaunchFailure}
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return RenderResult{}, &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseLaunchFailure}
	}
	page = page.Context(renderCtx)
	defer page.Close()

	r.mu.Lock()
	r.pagesServed++
	r.mu.Unlock()

	width, height := param.Stealth.ViewportWidth, param.Stealth.ViewportHeight
	if width == 0 {
		width = 1366
	}
	if height == 0 {
		height = 900
	}
	_ = (proto.EmulationSetDeviceMetricsOverride{Width: width, Height: height, DeviceScaleFactor: 1, Mobile: false}).Call(page)
	if param.Stealth.OverrideUserAgent != "" {
		_ = (proto.NetworkSetUserAgentOverride{UserAgent: param.Stealth.OverrideUserAgent}).Call(page)
	}

	if param.Mode == ModeRaw {
		_ = (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page)
	}

	status, headers := 0, map[string]string{}
	doneStatus := make(chan struct{}, 1)
	wait := page.EachEvent(func(ev *proto.NetworkResponseReceived) {
		if status == 0 {
			status = ev.Response.Status
			for k, v := range ev.Response.Headers {
				headers[k] = fmt.Sprintf("%v", v)
			}
			select {
			case doneStatus <- struct{}{}:
			default:
			}
		}
	})
	go wait()

	result := RenderResult{Timings: Timings{NavigationStart: time.Now()}}

	navErr := page.Navigate(param.URL)
	if navErr != nil {
		result.NavEndReason = NavEndError
		result.Timings.NavigationEnd = time.Now()
		result.Timings.Duration = result.Timings.NavigationEnd.Sub(result.Timings.NavigationStart)
		rerr := &RenderError{Message: navErr.Error(), Retryable: true, Cause: ErrCauseNavigationFailure}
		r.recorder.RecordError(result.Timings.NavigationStart, "renderer", "navigate", mapRenderErrorToCause(rerr), rerr.Message,
			[]observability.Attribute{observability.NewAttr(observability.AttrURL, param.URL)})
		return result, rerr
	}

	select {
	case <-doneStatus:
	case <-time.After(param.Timeout):
	}

	switch param.Mode {
	case ModeRaw:
		result.WaitConditionUsed = NavEndFetch
		result.NavEndReason = NavEndFetch
	case ModePrerender:
		if err := page.WaitLoad(); err != nil {
			result.NavEndReason = NavEndTimeout
		} else {
			result.NavEndReason = NavEndLoad
		}
		result.WaitConditionUsed = NavEndLoad
	case ModeFull:
		result.WaitConditionUsed = NavEndNetworkIdle
		if err := page.WaitLoad(); err != nil {
			result.NavEndReason = NavEndTimeout
		} else if err := page.WaitIdle(networkIdleWindow); err != nil {
			result.NavEndReason = NavEndTimeout
		} else {
			result.NavEndReason = NavEndNetworkIdle
		}
	}

	html, _ := page.HTML()
	info, _ := page.Info()
	title := ""
	finalURL := param.URL
	if info != nil {
		title = info.Title
		finalURL = info.URL
	}

	result.FinalURL = finalURL
	result.Status = status
	result.Headers = headers
	result.RawBodyBytes = []byte(html)
	result.RenderedDOMHTML = html

	if param.Mode == ModeFull {
		result.Media = r.captureMedia(page, finalURL)
	}

	result.Timings.NavigationEnd = time.Now()
	result.Timings.Duration = result.Timings.NavigationEnd.Sub(result.Timings.NavigationStart)

	if looksLikeChallenge(status, title, html) {
		resolved := r.waitOutChallenge(page, status)
		if !resolved {
			rerr := &RenderError{Message: "challenge not resolved within wait window", Retryable: false, Cause: ErrCauseChallengeDetected}
			r.recorder.RecordError(time.Now(), "renderer", "challenge_detect", mapRenderErrorToCause(rerr), rerr.Message,
				[]observability.Attribute{observability.NewAttr(observability.AttrURL, finalURL)})
			return result, rerr
		}
		html, _ = page.HTML()
		result.RenderedDOMHTML = html
		result.RawBodyBytes = []byte(html)
	}

	return result, nil
}

// captureMedia takes desktop + mobile screenshots and fetches the
// favicon. Called unconditionally in full mode before any conditional
// return, so slow/timeout pages still carry usable media.
func (r *Renderer) captureMedia(page *rod.Page, finalURL string) Media {
	m := Media{Captured: true}
	if shot, err := page.Screenshot(false, nil); err == nil {
		m.ScreenshotDesktop = shot
	}
	_ = (proto.EmulationSetDeviceMetricsOverride{Width: 390, Height: 844, DeviceScaleFactor: 2, Mobile: true}).Call(page)
	if shot, err := page.Screenshot(false, nil); err == nil {
		m.ScreenshotMobile = shot
	}
	if favicon := r.fetchFavicon(finalURL); favicon != nil {
		m.Favicon = favicon
	}
	return m
}

func (r *Renderer) fetchFavicon(pageURL string) []byte {
	idx := strings.Index(pageURL, "://")
	if idx < 0 {
		return nil
	}
	rest := pageURL[idx+3:]
	slash := strings.Index(rest, "/")
	origin := pageURL[:idx+3+len(rest)]
	if slash >= 0 {
		origin = pageURL[:idx+3+slash]
	}
	resp, err := r.httpClient.Get(origin + "/favicon.ico")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil
	}
	return body
}

// waitOutChallenge polls the DOM every ~1s for up to 15s, looking for it
// to mutate out of the detected challenge state.
func (r *Renderer) waitOutChallenge(page *rod.Page, status int) bool {
	deadline := time.Now().Add(challengeWaitTotal)
	for time.Now().Before(deadline) {
		time.Sleep(challengePollEvery)
		html, err := page.HTML()
		if err != nil {
			continue
		}
		info, _ := page.Info()
		title := ""
		if info != nil {
			title = info.Title
		}
		if !looksLikeChallenge(status, title, html) {
			return true
		}
	}
	return false
}
