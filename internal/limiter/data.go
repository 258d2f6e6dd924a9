package limiter

// AcquireResult is the outcome of one try_acquire call: granted means
// both the host and global bucket yielded a token; deferred means at
// least one did not, and RetryAfter is the caller's best estimate of how
// long to wait before trying again.
type AcquireResult struct {
	Granted    bool
	Deferred   bool
	RetryAfter int64 // milliseconds
}
