package normalize

// ParamPolicy controls how query parameters survive normalization.
type ParamPolicy string

const (
	ParamPolicyKeep   ParamPolicy = "keep"
	ParamPolicyStrip  ParamPolicy = "strip"
	ParamPolicySample ParamPolicy = "sample"
)

// RejectReason enumerates the possible rejection causes for a link that
// normalizes syntactically fine but is excluded by policy.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectUnsupportedScheme RejectReason = "unsupported_scheme"
	RejectMalformed         RejectReason = "malformed"
	RejectDenyPattern       RejectReason = "deny_pattern"
	RejectNotAllowed        RejectReason = "not_allowed"
)

// Pattern is a single allow/deny matcher. Plain strings are compiled as
// shell globs; a pattern wrapped in leading/trailing slashes (/.../) is
// compiled as a regular expression instead.
type Pattern string

// Policy bundles every parameter Normalize needs beyond the URL pair
// itself. Zero value is a permissive policy: keep all query params, no
// tracking blocklist, no allow/deny restriction.
type Policy struct {
	ParamPolicy           ParamPolicy
	TrackingParamBlocklist []string
	AllowPatterns         []Pattern
	DenyPatterns          []Pattern
}

// NormalizedURL is the result of successfully canonicalizing a link.
type NormalizedURL struct {
	RawHref      string
	NormalizedURL string
	URLKey       string
	IsExternal   bool
	Host         string
}

// Result is what Normalize always returns: either a NormalizedURL (Rejected
// == RejectNone) or a rejection reason with no usable NormalizedURL fields.
type Result struct {
	NormalizedURL
	Rejected RejectReason
}

func (r Result) IsRejected() bool { return r.Rejected != RejectNone }
