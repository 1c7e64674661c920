package limiter

import "time"

// ExhaustionPolicy selects what a Limit call should report when the limiter
// itself fails (retries exhausted or a permanent store error).
type ExhaustionPolicy int

const (
	// FailClosed denies the guarded operation on limiter failure,
	// protecting the backend at the cost of availability.
	FailClosed ExhaustionPolicy = iota
	// FailOpen allows the guarded operation on limiter failure,
	// preferring availability over enforcement.
	FailOpen
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxAttempts bounds how many fetch/commit attempts one Limit call may
// make against contention and transient store failures. Default 3.
func WithMaxAttempts(n int) Option {
	return func(l *Limiter) { l.maxAttempts = n }
}

// WithBackoff sets the jittered exponential backoff between attempts: the
// first sleep is around base, subsequent sleeps grow up to cap.
// Defaults: 50ms base, 1s cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(l *Limiter) {
		l.backoffBase = base
		l.backoffCap = cap
	}
}

// WithOnExhaustion selects fail-open or fail-closed behavior for terminal
// limiter failure. Default FailClosed.
func WithOnExhaustion(p ExhaustionPolicy) Option {
	return func(l *Limiter) { l.onExhaustion = p }
}

// WithPolicyTTL bounds how long a resolved per-identifier policy may be
// served from the in-memory cache. Zero disables caching. Default 10s.
func WithPolicyTTL(ttl time.Duration) Option {
	return func(l *Limiter) { l.policyTTL = ttl }
}

// WithRecorder injects a custom metrics backend.
func WithRecorder(r MetricsRecorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.recorder = r
		}
	}
}

// WithTimeSource overrides the wall clock, mainly for tests.
func WithTimeSource(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}
