// Package ratelimit implements the Rate Limiter & Admission component
// (spec §4.5): a two-tier token bucket per (subject, endpoint-class), plus
// the dev-mode-credential and in-flight-cap admission checks. Token
// buckets are golang.org/x/time/rate.Limiter, the same library the
// teacher's HTTP middleware uses for per-visitor limiting
// (cmd/agentflow/middleware.go's RateLimiter), generalized from
// per-IP keys to (subject, endpoint-class) keys and from a single bucket
// to the spec's burst+sustained pair.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/inkforge/pipeline/types"
	"golang.org/x/time/rate"
)

// Defaults match spec §4.5.
const (
	DefaultBurstCapacity     = 10
	DefaultBurstRefillPerSec = 1.0
	DefaultSustainedCapacity = 60
	DefaultSustainedPerMin   = 60.0
	DefaultMaxInflight       = 3
	visitorIdleEviction      = 10 * time.Minute
	evictionSweepInterval    = time.Minute
)

// Config tunes bucket sizes/refill rates. Zero values fall back to the
// spec defaults in NewAdmitter.
type Config struct {
	BurstCapacity     int
	BurstRefillPerSec float64
	SustainedCapacity int
	SustainedPerMin   float64
	MaxInflight       int
	DevMode           bool
}

func (c Config) withDefaults() Config {
	if c.BurstCapacity <= 0 {
		c.BurstCapacity = DefaultBurstCapacity
	}
	if c.BurstRefillPerSec <= 0 {
		c.BurstRefillPerSec = DefaultBurstRefillPerSec
	}
	if c.SustainedCapacity <= 0 {
		c.SustainedCapacity = DefaultSustainedCapacity
	}
	if c.SustainedPerMin <= 0 {
		c.SustainedPerMin = DefaultSustainedPerMin
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	return c
}

// InflightCounter reports how many non-terminal jobs a subject currently
// has, so Admit can enforce deny-when-job-registry-full. The Job
// Registry (package jobs) implements this.
type InflightCounter interface {
	InflightCount(subject string) int
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Admitted   bool
	RetryAfter time.Duration // valid only when Admitted is false due to rate limiting
}

type bucketPair struct {
	burst     *rate.Limiter
	sustained *rate.Limiter
	lastSeen  time.Time
}

// Admitter is the Rate Limiter & Admission service (spec §4.5). One
// Admitter instance is process-scoped and shared by every job submission
// path.
type Admitter struct {
	cfg      Config
	inflight InflightCounter

	mu      sync.Mutex
	buckets map[string]*bucketPair
}

// NewAdmitter creates an Admitter. cfg zero-values fall back to spec
// defaults. inflight may be nil, in which case the in-flight cap check is
// skipped (useful for tests that don't wire a Job Registry).
func NewAdmitter(cfg Config, inflight InflightCounter) *Admitter {
	a := &Admitter{
		cfg:      cfg.withDefaults(),
		inflight: inflight,
		buckets:  make(map[string]*bucketPair),
	}
	return a
}

// Run starts the background eviction sweep for idle (subject,
// endpoint-class) buckets, mirroring the teacher's visitor-cleanup
// goroutine (cmd/agentflow/middleware.go). It blocks until ctx is
// canceled; call it in its own goroutine.
func (a *Admitter) Run(ctx context.Context) {
	ticker := time.NewTicker(evictionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.evictIdle()
		}
	}
}

func (a *Admitter) evictIdle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.buckets {
		if time.Since(b.lastSeen) > visitorIdleEviction {
			delete(a.buckets, key)
		}
	}
}

func (a *Admitter) bucketFor(subject, endpointClass string) *bucketPair {
	key := subject + "|" + endpointClass
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[key]
	if !ok {
		b = &bucketPair{
			burst:     rate.NewLimiter(rate.Limit(a.cfg.BurstRefillPerSec), a.cfg.BurstCapacity),
			sustained: rate.NewLimiter(rate.Limit(a.cfg.SustainedPerMin/60.0), a.cfg.SustainedCapacity),
		}
		a.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Admit enforces spec §4.5 in order: credential/dev-mode check, in-flight
// cap, then the two-tier token bucket. hasCredential reflects whether a
// ProviderCredential was loaded for subject's request (the Provider
// Gateway owns credentials; Admit only asks the yes/no question).
func (a *Admitter) Admit(subject, endpointClass string, hasCredential bool) (Decision, error) {
	if !hasCredential && !a.cfg.DevMode {
		return Decision{}, types.NewError(types.ErrAuth, "no credential loaded and dev-mode is disabled")
	}

	if a.inflight != nil && a.inflight.InflightCount(subject) >= a.cfg.MaxInflight {
		return Decision{}, types.NewError(types.ErrTooManyInflight, "subject has reached its in-flight job cap")
	}

	b := a.bucketFor(subject, endpointClass)

	// The burst reservation is taken and, on a sustained-bucket denial,
	// refunded at the same instant: rate.Reservation refunds nothing once
	// its time-to-act lies before the cancel time.
	now := time.Now()
	burstRes := b.burst.ReserveN(now, 1)
	if !burstRes.OK() || burstRes.Delay() > 0 {
		retryAfter := retryAfterFor(burstRes.Delay())
		burstRes.Cancel()
		return Decision{Admitted: false, RetryAfter: retryAfter}, nil
	}
	sustainedRes := b.sustained.Reserve()
	if !sustainedRes.OK() || sustainedRes.Delay() > 0 {
		retryAfter := retryAfterFor(sustainedRes.Delay())
		sustainedRes.Cancel()
		burstRes.CancelAt(now)
		return Decision{Admitted: false, RetryAfter: retryAfter}, nil
	}

	return Decision{Admitted: true}, nil
}

// retryAfterFor rounds a token-refill delay up to whole seconds, floored
// at 1s (spec §4.5: "max(1, ceil(seconds-until-next-token))").
func retryAfterFor(delay time.Duration) time.Duration {
	seconds := math.Ceil(delay.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
