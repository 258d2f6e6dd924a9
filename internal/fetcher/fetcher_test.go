package fetcher_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestFetch_SuccessReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	f := fetcher.New(nil)
	res, ferr := f.Fetch(t.Context(), 0, fetcher.NewFetchParam(mustParse(t, server.URL), "atlas/1.0", 5*time.Second))
	require.Nil(t, ferr)
	assert.Equal(t, []byte("hello"), res.Body())
	assert.Equal(t, http.StatusOK, res.StatusCode())
}

func TestFetch_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := fetcher.New(nil)
	res, ferr := f.Fetch(t.Context(), 0, fetcher.NewFetchParam(mustParse(t, server.URL), "atlas/1.0", 5*time.Second))
	require.Nil(t, ferr)
	assert.Equal(t, 2, res.Attempts())
	assert.Equal(t, 2, attempts)
}

func TestFetch_DoesNotRetry404(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := fetcher.New(nil)
	_, ferr := f.Fetch(t.Context(), 0, fetcher.NewFetchParam(mustParse(t, server.URL), "atlas/1.0", 5*time.Second))
	require.NotNil(t, ferr)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, fetcher.ErrCauseRequest4xx, ferr.Cause)
}

func TestFetch_RetriesOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := fetcher.New(nil)
	_, ferr := f.Fetch(t.Context(), 0, fetcher.NewFetchParam(mustParse(t, server.URL), "atlas/1.0", 5*time.Second))
	require.NotNil(t, ferr)
	assert.Equal(t, 3, attempts)
}

func TestFetch_ExhaustsAfterThreeAttempts(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := fetcher.New(nil)
	_, ferr := f.Fetch(t.Context(), 0, fetcher.NewFetchParam(mustParse(t, server.URL), "atlas/1.0", 5*time.Second))
	require.NotNil(t, ferr)
	assert.Equal(t, 3, attempts)
}
