// Package fetcher performs plain HTTP retrieval for raw-mode pages, which
// don't need a browser. robots.txt and favicons are fetched by the robots
// Cache and the Renderer with their own HTTP clients.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atlascrawl/atlas/internal/observability"
	"github.com/atlascrawl/atlas/pkg/failure"
	"github.com/atlascrawl/atlas/pkg/retry"
	"github.com/atlascrawl/atlas/pkg/timeutil"
)

const maxRedirects = 10

// Fetcher performs retried HTTP GETs. One instance is shared across the
// scheduler's worker pool.
type Fetcher struct {
	httpClient *http.Client
	recorder   *observability.Recorder
	retryParam retry.RetryParam
}

func New(recorder *observability.Recorder) *Fetcher {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("stopped after too many redirects")
			}
			return nil
		},
	}
	return &Fetcher{
		httpClient: client,
		recorder:   recorder,
		retryParam: retry.NewRetryParam(
			time.Second,
			200*time.Millisecond,
			time.Now().UnixNano(),
			3,
			timeutil.NewBackoffParam(time.Second, 2.0, 5*time.Second),
		),
	}
}

// Fetch retrieves param.URL, making at most 3 attempts on transient
// failures with exponential backoff between them (1s, then 2s; capped at
// 5s) plus up to 200ms jitter. Non-retryable 4xx responses (other than
// 429) fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, depth int, param FetchParam) (FetchResult, *FetchError) {
	start := time.Now()
	result := retry.Retry(f.retryParam, func() (FetchResult, failure.ClassifiedError) {
		return f.attempt(ctx, param)
	})

	if result.IsSuccess() {
		fr := result.Value()
		fr.attempts = result.Attempts()
		return fr, nil
	}

	var ferr *FetchError
	if fe, ok := result.Err().(*FetchError); ok {
		ferr = fe
	} else {
		ferr = &FetchError{Message: result.Err().Error(), Retryable: false, Cause: ErrCauseExhausted}
	}

	f.recorder.RecordError(start, "fetcher", "fetch", mapFetchErrorToCause(ferr), ferr.Message,
		[]observability.Attribute{observability.NewAttr(observability.AttrURL, param.URL.String()), observability.NewAttr(observability.AttrDepth, strconv.Itoa(depth))})
	return FetchResult{}, ferr
}

func (f *Fetcher) attempt(ctx context.Context, param FetchParam) (FetchResult, failure.ClassifiedError) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if param.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, param.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, param.URL.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{Message: err.Error(), Retryable: false, Cause: ErrCauseNetworkFailure}
	}
	req.Header.Set("User-Agent", param.UserAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseTimeout}
		}
		return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseNetworkFailure}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return FetchResult{}, &FetchError{Message: "rate limited", Retryable: true, Cause: ErrCauseRequestTooMany}
	case resp.StatusCode == http.StatusForbidden:
		return FetchResult{}, &FetchError{Message: "forbidden", Retryable: false, Cause: ErrCauseRequestForbidden}
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{Message: "server error", Retryable: true, Cause: ErrCauseRequest5xx}
	case resp.StatusCode >= 400:
		return FetchResult{}, &FetchError{Message: "client error", Retryable: false, Cause: ErrCauseRequest4xx}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{Message: err.Error(), Retryable: true, Cause: ErrCauseReadResponseBodyError}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return FetchResult{
		url:        param.URL,
		body:       body,
		statusCode: resp.StatusCode,
		headers:    headers,
		fetchedAt:  start,
		duration:   time.Since(start),
	}, nil
}
