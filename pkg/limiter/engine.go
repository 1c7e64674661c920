package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 50 * time.Millisecond
	defaultBackoffCap  = time.Second
	defaultPolicyTTL   = 10 * time.Second
)

// Limiter is a distributed token-bucket rate limiter. All state lives in the
// backing BucketStore; the Limiter itself holds only configuration, so any
// number of processes can construct one against the same store and share a
// single logical bucket per identifier.
//
// There is deliberately no process-local lock around same-identifier calls:
// the store's conditional write is the sole correctness mechanism, and it
// covers in-process races exactly as it covers cross-process ones.
type Limiter struct {
	store    BucketStore
	resolver *Resolver

	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   time.Duration
	onExhaustion ExhaustionPolicy
	policyTTL    time.Duration
	recorder     MetricsRecorder
	now          func() time.Time
}

// New constructs a Limiter over the given store. The default policy applies
// to every identifier without stored settings and must be valid.
func New(store BucketStore, defaultPolicy Policy, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, newConfigError("store", "must not be nil")
	}

	l := &Limiter{
		store:        store,
		maxAttempts:  defaultMaxAttempts,
		backoffBase:  defaultBackoffBase,
		backoffCap:   defaultBackoffCap,
		onExhaustion: FailClosed,
		policyTTL:    defaultPolicyTTL,
		recorder:     &NoOpMetricsRecorder{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxAttempts < 1 {
		return nil, newConfigError("max_attempts", "must be at least 1")
	}

	resolver, err := NewResolver(defaultPolicy, l.policyTTL)
	if err != nil {
		return nil, err
	}
	resolver.now = l.now
	l.resolver = resolver
	return l, nil
}

// Allow is Limit with a cost of one token.
func (l *Limiter) Allow(ctx context.Context, id string) (Decision, error) {
	return l.Limit(ctx, id, 1)
}

// Limit decides whether a request of the given cost is admitted for id.
//
// An empty bucket is a normal denied Decision, never an error. Errors mean
// the limiter itself could not function: *ConfigError for bad policy data,
// ErrCostExceedsCapacity for a request no bucket state could ever satisfy,
// and *UnavailableError when the store stayed contended or unreachable for
// all attempts. UnavailableError carries the Decision realized from the
// configured exhaustion policy, so callers may act on the returned Decision
// without inspecting the error.
func (l *Limiter) Limit(ctx context.Context, id string, cost int64) (Decision, error) {
	start := l.now()
	if id == "" {
		return Decision{}, newConfigError("identifier", "must not be empty")
	}
	if cost <= 0 {
		return Decision{}, newConfigError("cost", "must be positive")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.backoffBase
	bo.MaxInterval = l.backoffCap

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := l.sleep(ctx, bo.NextBackOff()); err != nil {
				return l.unavailable(attempt-1, err)
			}
		}

		dec, done, err := l.attempt(ctx, id, cost)
		switch {
		case err == nil && done:
			return l.finish(start, dec), nil
		case err == nil:
			// Lost the commit race; the winner's state is the new baseline.
			l.recorder.Add("ratelimit.conflict", 1, nil)
			lastErr = errors.New("commit conflict")
		case IsTransient(err):
			l.recorder.Add("ratelimit.retry", 1, nil)
			lastErr = err
		default:
			var se *StoreError
			if errors.As(err, &se) {
				return l.unavailable(attempt, err)
			}
			// ConfigError, ErrCostExceedsCapacity: not a store problem,
			// surfaced as-is.
			return Decision{}, err
		}
	}
	return l.unavailable(l.maxAttempts, lastErr)
}

// attempt runs one fetch/refill/decide/commit cycle. done is false when the
// commit lost to a concurrent writer and the caller should re-fetch.
func (l *Limiter) attempt(ctx context.Context, id string, cost int64) (dec Decision, done bool, err error) {
	res, err := l.store.Fetch(ctx, id)
	if err != nil {
		return Decision{}, false, err
	}

	policy, err := l.resolver.Resolve(id, res.Policy)
	if err != nil {
		return Decision{}, false, err
	}
	if cost > policy.MaxTokens {
		return Decision{}, false, fmt.Errorf("cost %d, capacity %d: %w", cost, policy.MaxTokens, ErrCostExceedsCapacity)
	}

	now := l.now()
	nowUnix := now.Unix()

	if res.State == nil {
		// First call for this identifier: a full bucket born now.
		dec = l.decide(policy.MaxTokens, cost, now, policy)
		created, err := l.store.CreateIfAbsent(ctx, id, BucketState{
			Tokens:      dec.Remaining,
			LastUpdated: now.Truncate(time.Second),
		})
		if err != nil {
			return Decision{}, false, err
		}
		return dec, created == CreateOK, nil
	}

	tokens, advancedUnix := refill(*res.State, nowUnix, policy)
	dec = l.decide(tokens, cost, now, policy)
	candidate := BucketState{
		Tokens:      dec.Remaining,
		LastUpdated: time.Unix(advancedUnix, 0),
	}

	// Refill progress is committed even on denial so elapsed time is never
	// lost, but a candidate identical to the baseline has nothing to say.
	if !dec.Allowed && candidate.Tokens == res.State.Tokens &&
		candidate.LastUpdated.Unix() == res.State.LastUpdated.Unix() {
		return dec, true, nil
	}

	committed, err := l.store.CommitIfUnchanged(ctx, id, candidate, res.Token)
	if err != nil {
		return Decision{}, false, err
	}
	return dec, committed == CommitOK, nil
}

// decide turns a refilled balance into a Decision. On denial, RetryAfter
// estimates the wait until the missing tokens accrue at the policy's average
// rate.
func (l *Limiter) decide(tokens, cost int64, now time.Time, p Policy) Decision {
	if tokens >= cost {
		return Decision{
			Allowed:   true,
			Remaining: tokens - cost,
			ResetTime: now,
		}
	}
	needed := cost - tokens
	wait := time.Duration(needed) * p.RefillInterval / time.Duration(p.RefillRate)
	return Decision{
		Allowed:    false,
		Remaining:  tokens,
		RetryAfter: wait,
		ResetTime:  now.Add(wait),
	}
}

func (l *Limiter) finish(start time.Time, dec Decision) Decision {
	allowed := "false"
	if dec.Allowed {
		allowed = "true"
	}
	l.recorder.Add("ratelimit.call", 1, map[string]string{"allowed": allowed})
	l.recorder.Observe("ratelimit.latency", l.now().Sub(start).Seconds(), nil)
	return dec
}

func (l *Limiter) unavailable(attempts int, cause error) (Decision, error) {
	mode := "fail_closed"
	fallback := Decision{Allowed: false}
	if l.onExhaustion == FailOpen {
		mode = "fail_open"
		fallback = Decision{Allowed: true}
	}
	l.recorder.Add("ratelimit.exhausted", 1, map[string]string{"mode": mode})
	return fallback, &UnavailableError{Attempts: attempts, Fallback: fallback, Err: cause}
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
