package limiter

import (
	"sync"
	"time"
)

// Validate checks the structural soundness of a policy. All three fields
// must be positive, and the interval must be a whole number of seconds to
// match the stored schema.
func (p Policy) Validate() error {
	if p.MaxTokens <= 0 {
		return newConfigError("max_tokens", "must be positive")
	}
	if p.RefillRate <= 0 {
		return newConfigError("refill_rate", "must be positive")
	}
	if p.RefillInterval < time.Second {
		return newConfigError("refill_interval", "must be at least one second")
	}
	if p.RefillInterval%time.Second != 0 {
		return newConfigError("refill_interval", "must be a whole number of seconds")
	}
	return nil
}

type cachedPolicy struct {
	policy    Policy
	expiresAt time.Time
}

// Resolver turns the policy observed on a fetch (or its absence) into the
// effective policy for an identifier.
//
// A stored policy wins when present and structurally valid; an invalid one is
// a ConfigError, never silently ignored. When no policy is stored, the
// configured default applies — explicit fallback, never unlimited access.
//
// Resolved policies are cached per identifier for a bounded TTL so adapters
// whose Fetch cannot piggyback the policy read do not pay a second round
// trip on every call. Entries expire on TTL only; fetches that do observe a
// policy refresh the cache, keeping staleness bounded by the ttl.
type Resolver struct {
	defaultPolicy Policy
	ttl           time.Duration
	now           func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

// NewResolver constructs a Resolver. The default policy is validated up
// front; a broken default would otherwise only surface on the first
// identifier without stored settings.
func NewResolver(defaultPolicy Policy, ttl time.Duration) (*Resolver, error) {
	if err := defaultPolicy.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		defaultPolicy: defaultPolicy,
		ttl:           ttl,
		now:           time.Now,
		cache:         make(map[string]cachedPolicy),
	}, nil
}

// Resolve returns the effective policy for id. observed is the policy the
// current fetch saw, or nil if the store holds none (or the adapter does not
// combine the reads).
func (r *Resolver) Resolve(id string, observed *Policy) (Policy, error) {
	if observed != nil {
		if err := observed.Validate(); err != nil {
			return Policy{}, err
		}
		r.put(id, *observed)
		return *observed, nil
	}

	if p, ok := r.get(id); ok {
		return p, nil
	}
	return r.defaultPolicy, nil
}

func (r *Resolver) put(id string, p Policy) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.cache[id] = cachedPolicy{policy: p, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
}

func (r *Resolver) get(id string) (Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[id]
	if !ok {
		return Policy{}, false
	}
	if r.now().After(entry.expiresAt) {
		delete(r.cache, id)
		return Policy{}, false
	}
	return entry.policy, true
}
