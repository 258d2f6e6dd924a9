package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ResolvesRelativeAndLowercasesHost(t *testing.T) {
	n, err := New(Policy{ParamPolicy: ParamPolicyKeep}, []string{"Example.com"})
	require.NoError(t, err)

	res, nerr := n.Normalize("/Docs/Guide", "https://EXAMPLE.com/start")
	require.Nil(t, nerr)
	require.False(t, res.IsRejected())
	assert.Equal(t, "https://example.com/Docs/Guide", res.NormalizedURL.NormalizedURL)
	assert.NotEmpty(t, res.URLKey)
	assert.False(t, res.IsExternal)
}

func TestNormalize_StripsDefaultPortAndFragment(t *testing.T) {
	n, err := New(Policy{ParamPolicy: ParamPolicyKeep}, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com:443/path#section", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, "https://example.com/path", res.NormalizedURL.NormalizedURL)
}

func TestNormalize_RejectsNonHTTPScheme(t *testing.T) {
	n, err := New(Policy{}, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("mailto:hi@example.com", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, RejectUnsupportedScheme, res.Rejected)
}

func TestNormalize_ParamPolicySampleStripsBlocklistOnly(t *testing.T) {
	policy := Policy{
		ParamPolicy:            ParamPolicySample,
		TrackingParamBlocklist: []string{"utm_source", "utm_campaign"},
	}
	n, err := New(policy, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/p?utm_source=x&id=5&utm_campaign=y", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, "https://example.com/p?id=5", res.NormalizedURL.NormalizedURL)
}

func TestNormalize_ParamPolicyStripRemovesAllQuery(t *testing.T) {
	n, err := New(Policy{ParamPolicy: ParamPolicyStrip}, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/p?id=5&x=1", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, "https://example.com/p", res.NormalizedURL.NormalizedURL)
}

func TestNormalize_SortsQueryParamsLexicographically(t *testing.T) {
	n, err := New(Policy{ParamPolicy: ParamPolicyKeep}, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/p?b=2&a=1", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, "https://example.com/p?a=1&b=2", res.NormalizedURL.NormalizedURL)
}

func TestNormalize_DenyPatternTakesPriorityOverAllow(t *testing.T) {
	policy := Policy{
		AllowPatterns: []Pattern{"https://example.com/**"},
		DenyPatterns:  []Pattern{"https://example.com/private/**"},
	}
	n, err := New(policy, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/private/secret", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, RejectDenyPattern, res.Rejected)
}

func TestNormalize_NonEmptyAllowListRejectsNonMatching(t *testing.T) {
	policy := Policy{AllowPatterns: []Pattern{"https://example.com/docs/**"}}
	n, err := New(policy, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/blog/post", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, RejectNotAllowed, res.Rejected)
}

func TestNormalize_RegexPatternWrappedInSlashes(t *testing.T) {
	policy := Policy{DenyPatterns: []Pattern{"/\\/admin\\//"}}
	n, err := New(policy, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("https://example.com/admin/panel", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, RejectDenyPattern, res.Rejected)
}

func TestNormalize_ClassifiesExternalHosts(t *testing.T) {
	n, err := New(Policy{}, []string{"example.com"})
	require.NoError(t, err)

	res, nerr := n.Normalize("https://other.com/page", "https://example.com/")
	require.Nil(t, nerr)
	assert.True(t, res.IsExternal)
}

func TestNormalize_IsIdempotent(t *testing.T) {
	n, err := New(Policy{ParamPolicy: ParamPolicyKeep}, nil)
	require.NoError(t, err)

	first, nerr := n.Normalize("https://example.com/p?b=2&a=1#frag", "https://example.com/")
	require.Nil(t, nerr)
	require.False(t, first.IsRejected())

	second, nerr := n.Normalize(first.NormalizedURL.NormalizedURL, "https://example.com/")
	require.Nil(t, nerr)
	require.False(t, second.IsRejected())

	assert.Equal(t, first.NormalizedURL.NormalizedURL, second.NormalizedURL.NormalizedURL)
	assert.Equal(t, first.URLKey, second.URLKey)
}

func TestNormalize_RejectsMalformedHref(t *testing.T) {
	n, err := New(Policy{}, nil)
	require.NoError(t, err)

	res, nerr := n.Normalize("http://[::1]:badport", "https://example.com/")
	require.Nil(t, nerr)
	assert.Equal(t, RejectMalformed, res.Rejected)
}

func TestNew_BadRegexPatternFails(t *testing.T) {
	_, err := New(Policy{DenyPatterns: []Pattern{"/(unterminated/"}}, nil)
	assert.Error(t, err)
}
