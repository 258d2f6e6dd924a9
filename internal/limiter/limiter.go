// Package limiter implements a two-level token-bucket rate limiter: one
// global bucket shared by every fetch, and one bucket per host. Both
// buckets must yield a token for an acquire to succeed; neither is
// consumed on partial success, so a caller that gets deferred can retry
// without having starved the other level.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sizes the global and per-host buckets. Burst controls how many
// tokens can accumulate between refills (i.e. how bursty a quiet host is
// allowed to be immediately after becoming active again).
type Config struct {
	GlobalRPS  float64
	PerHostRPS float64
	Burst      int
}

func DefaultConfig() Config {
	return Config{GlobalRPS: 10, PerHostRPS: 2, Burst: 1}
}

type hostBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// Limiter is safe for concurrent use by every worker in the scheduler's
// pool. Per-host buckets are created lazily on first sighting of a host.
type Limiter struct {
	cfg    Config
	global *rate.Limiter

	mu    sync.Mutex
	hosts map[string]*hostBucket
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), max(cfg.Burst, 1)),
		hosts:  make(map[string]*hostBucket),
	}
}

func (l *Limiter) hostBucketFor(host string) *hostBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	hb, ok := l.hosts[host]
	if !ok {
		hb = &hostBucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerHostRPS), max(l.cfg.Burst, 1))}
		l.hosts[host] = hb
	}
	return hb
}

// TryAcquire attempts to take one token from both the host bucket and
// the global bucket. Workers contending for the same host serialize on
// that host's mutex, giving FIFO ordering within a host; there is no
// ordering guarantee across hosts. Acquiring is all-or-nothing: if
// either bucket can't grant immediately, neither token is consumed and
// Deferred is reported with the caller's best retry estimate.
func (l *Limiter) TryAcquire(host string) AcquireResult {
	hb := l.hostBucketFor(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()

	now := time.Now()

	hostRes := hb.limiter.ReserveN(now, 1)
	if !hostRes.OK() {
		return AcquireResult{Deferred: true}
	}
	if delay := hostRes.DelayFrom(now); delay > 0 {
		hostRes.Cancel()
		return AcquireResult{Deferred: true, RetryAfter: delay.Milliseconds()}
	}

	globalRes := l.global.ReserveN(now, 1)
	if !globalRes.OK() {
		hostRes.Cancel()
		return AcquireResult{Deferred: true}
	}
	if delay := globalRes.DelayFrom(now); delay > 0 {
		globalRes.Cancel()
		hostRes.Cancel()
		return AcquireResult{Deferred: true, RetryAfter: delay.Milliseconds()}
	}

	return AcquireResult{Granted: true}
}

// HostBucketState is one host bucket's token count as of a point in
// time, the shape the checkpoint schema's host_buckets section records.
type HostBucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// Snapshot captures every host bucket's current token count. rate.Limiter
// exposes this directly via TokensAt, so no bookkeeping of our own is
// needed beyond listing the known hosts.
func (l *Limiter) Snapshot() map[string]HostBucketState {
	l.mu.Lock()
	buckets := make(map[string]*hostBucket, len(l.hosts))
	for h, hb := range l.hosts {
		buckets[h] = hb
	}
	l.mu.Unlock()

	now := time.Now()
	out := make(map[string]HostBucketState, len(buckets))
	for h, hb := range buckets {
		hb.mu.Lock()
		out[h] = HostBucketState{Tokens: hb.limiter.TokensAt(now), LastRefill: now}
		hb.mu.Unlock()
	}
	return out
}

// Restore seeds host buckets with previously observed token counts, so a
// resumed crawl doesn't hand already-throttled hosts a fresh full burst.
// rate.Limiter has no direct "set current tokens" call, so a bucket
// (created full, at Burst tokens) is brought down to the recorded level
// by reserving the difference and never canceling that reservation.
func (l *Limiter) Restore(state map[string]HostBucketState) {
	now := time.Now()
	for host, st := range state {
		hb := l.hostBucketFor(host)
		hb.mu.Lock()
		deficit := float64(hb.limiter.Burst()) - st.Tokens
		if deficit > 0.01 {
			hb.limiter.ReserveN(now, int(deficit+0.5))
		}
		hb.mu.Unlock()
	}
}

// WaitUntil polls TryAcquire until it is granted or deadline passes,
// sleeping for the reported retry_after between attempts. Callers that
// want a non-blocking single attempt should call TryAcquire directly and
// treat Deferred as backpressure (re-enqueue instead of blocking).
func (l *Limiter) WaitUntil(host string, deadline time.Time) AcquireResult {
	for {
		res := l.TryAcquire(host)
		if res.Granted {
			return res
		}
		wait := time.Duration(res.RetryAfter) * time.Millisecond
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		if time.Now().Add(wait).After(deadline) {
			return res
		}
		time.Sleep(wait)
	}
}
