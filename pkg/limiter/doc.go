// Package limiter provides distributed rate limiting based on the Token
// Bucket algorithm, with bucket state held in a remote key-value store
// rather than in process memory.
//
// The primary entry point is the Limiter:
//
//	dec, err := lim.Limit(ctx, id, cost)
//
// The returned Decision contains whether the request is allowed, how many
// whole tokens remain, and timing hints for callers that want to set
// rate-limit headers (for example, Retry-After).
//
// # Overview
//
// Many stateless, independently scaled callers (serverless invocations,
// horizontally scaled services) share one logical bucket per identifier with
// no coordinator process and no distributed lock:
//
//   - Each identifier has a "bucket" holding tokens, persisted in the store.
//   - The bucket refills lazily: whole elapsed refill intervals are credited
//     when the bucket is read, so no background timer is needed.
//   - Each Limit call consumes cost tokens when available.
//
// Concurrent callers are serialized by the store's conditional write: each
// call reads the bucket, computes the refilled balance and the decision, and
// commits the new snapshot only if the stored item is still exactly what the
// read observed. A lost commit is re-fetched and retried, bounded by a
// configurable attempt count with jittered exponential backoff.
//
// # Core Types
//
// Policy defines the per-identifier limit:
//
//   - MaxTokens: bucket capacity (also the maximum immediate burst)
//   - RefillRate: tokens added every RefillInterval
//   - RefillInterval: seconds between refills (whole seconds; the stored
//     schema keeps timestamps at second precision)
//
// Policies may be provisioned per identifier in the store; identifiers
// without stored settings use the default policy the Limiter was built with.
// That fallback is explicit: absence of settings never means unlimited
// access.
//
// # Backends
//
// Any BucketStore implementation works with the same engine:
//
//   - MemoryStore: an in-process store backed by a Go map. Useful for unit
//     tests, local development, and single-instance deployments. Its state
//     is local to the process and does not enforce a global limit across
//     replicas.
//
//   - DynamoStore: a DynamoDB-backed store. Both items for an identifier
//     (bucket state and settings) live under one partition key, so a single
//     Query fetches both; commits are conditional PutItems.
//
//   - RedisStore: a Redis-backed store using Lua scripts for the conditional
//     writes, so the compare and the set are one atomic server-side step.
//
// Recommendation: use DynamoStore or RedisStore in production when you need
// a global limit, and MemoryStore in tests (as a fast, dependency-free
// stand-in).
//
// # Concurrency
//
// Limiter is safe for concurrent use by multiple goroutines. There is no
// process-local lock around same-identifier calls, by design: the store's
// conditional write is the only synchronization point, and it covers races
// within one process exactly as it covers races between processes.
//
// # Context and Error Policy
//
// Limit accepts a context.Context, passed through to every store operation
// and honored during backoff sleeps, so callers can enforce deadlines and
// cancel work to avoid cascading failures during partial outages.
//
// A denied request on a healthy limiter is a normal Decision, never an
// error. Errors are reserved for the limiter itself failing:
//
//   - *ConfigError: a stored or default policy is structurally invalid.
//   - ErrCostExceedsCapacity: the requested cost can never succeed against
//     a full bucket.
//   - *UnavailableError: retries against contention or transient store
//     failures ran out, or the store failed permanently.
//
// The fail-open versus fail-closed tradeoff is configured, not implied:
// WithOnExhaustion selects the Decision an UnavailableError carries, and the
// same Decision is returned alongside the error, so call sites can act on it
// without branching.
//
// # Decision Semantics
//
// Decision fields are intended to be directly consumable by application
// code:
//
//   - Allowed reports whether the current request is permitted.
//   - Remaining is the number of whole tokens remaining after the decision
//     is applied.
//   - RetryAfter is 0 when allowed; when denied it is the approximate
//     duration until the missing tokens accrue at the policy's average rate.
//   - ResetTime is the absolute timestamp corresponding to now+RetryAfter.
//
// # Storage Details
//
// The store schema is shared with other consumers and reproduced exactly:
// both items for an identifier live under one partition key, discriminated
// by a sort key. The "LIMIT" item holds integer tokens and last_updated
// (epoch seconds); the "SETTINGS" item holds the three integer policy
// fields. last_updated only ever advances by whole refill intervals, never
// to the read time, so partial progress toward the next interval is kept.
//
// # Configuration
//
// Limiter is configured using the Functional Options pattern:
//
//	lim, _ := limiter.New(store, defaultPolicy,
//		limiter.WithMaxAttempts(5),
//		limiter.WithBackoff(20*time.Millisecond, time.Second),
//		limiter.WithOnExhaustion(limiter.FailOpen),
//		limiter.WithRecorder(myMetrics),
//	)
//
// Supported options:
//
//   - WithMaxAttempts(int): retry bound per Limit call (default 3).
//   - WithBackoff(base, cap): jittered exponential backoff parameters
//     (defaults 50ms, 1s).
//   - WithOnExhaustion(ExhaustionPolicy): FailOpen or FailClosed (default
//     FailClosed).
//   - WithPolicyTTL(time.Duration): staleness bound for cached per-identifier
//     policies (default 10s).
//   - WithRecorder(MetricsRecorder): injects a custom metrics backend;
//     NewPrometheusRecorder provides a Prometheus-backed one.
//   - WithTimeSource(func() time.Time): overrides the wall clock, mainly for
//     tests.
package limiter
