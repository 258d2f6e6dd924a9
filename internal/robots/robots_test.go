package robots_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func setupTestServerWithStatus(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestCache_AllowAll(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nAllow: /")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
}

func TestCache_DisallowAll(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nDisallow: /")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.False(t, d.Allowed)
}

func TestCache_AllowOverridesDisallowOnLongerMatch(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nDisallow: /private\nAllow: /private/public")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/private/public/page")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
}

func TestCache_TieBreaksToAllow(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nDisallow: /x\nAllow: /x")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/x/page")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
}

func TestCache_WildcardAndEndAnchor(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nDisallow: /*.pdf$")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)

	d, err := c.Allowed(context.Background(), server.URL+"/document.pdf")
	require.Nil(t, err)
	assert.False(t, d.Allowed)

	d, err = c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
}

func TestCache_404MeansNoRules(t *testing.T) {
	server := setupTestServerWithStatus(t, http.StatusNotFound)
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
}

func TestCache_ServerErrorDegradesToAllow(t *testing.T) {
	server := setupTestServerWithStatus(t, http.StatusInternalServerError)
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, robots.FetchFailedAllow, d.Reason)
}

func TestCache_CachesSecondLookup(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("User-agent: *\nAllow: /"))
	}))
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	_, err := c.Allowed(context.Background(), server.URL+"/a")
	require.Nil(t, err)
	_, err = c.Allowed(context.Background(), server.URL+"/b")
	require.Nil(t, err)
	assert.Equal(t, 1, hits)
}

func TestCache_UserAgentSpecificGroupWins(t *testing.T) {
	server := setupTestServer(t, "User-agent: test-agent\nDisallow: /secret\n\nUser-agent: *\nAllow: /")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/secret/page")
	require.Nil(t, err)
	assert.False(t, d.Allowed)
}

func TestCache_CrawlDelayRecordedButNotEnforced(t *testing.T) {
	server := setupTestServer(t, "User-agent: *\nCrawl-delay: 5\nAllow: /")
	defer server.Close()

	c := robots.New("test-agent/1.0", nil)
	d, err := c.Allowed(context.Background(), server.URL+"/page.html")
	require.Nil(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(5), d.CrawlDelay.Milliseconds()/1000)
}

func TestParseRobotsTxt_CollectsSitemaps(t *testing.T) {
	resp := robots.ParseRobotsTxt("Sitemap: https://example.com/sitemap.xml\nUser-agent: *\nAllow: /", "example.com")
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, resp.Sitemaps)
	assert.False(t, resp.IsEmpty())
}
