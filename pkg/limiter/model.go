package limiter

import (
	"context"
	"time"
)

// Policy defines the token-bucket parameters for one identifier.
//
// RefillRate tokens are added every RefillInterval, up to MaxTokens.
// RefillInterval must be a positive whole number of seconds because the
// stored schema keeps timestamps at second precision.
type Policy struct {
	MaxTokens      int64
	RefillRate     int64
	RefillInterval time.Duration
}

// BucketState is the persisted snapshot for one identifier.
//
// Invariant: 0 <= Tokens <= Policy.MaxTokens, and LastUpdated never moves
// backwards across successful commits for a given identifier.
type BucketState struct {
	Tokens      int64
	LastUpdated time.Time
}

// Decision is the outcome of a single Limit call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	ResetTime  time.Time
}

// FetchToken opaquely captures what a Fetch observed server-side, so a later
// CommitIfUnchanged can require that nothing changed in between. Adapters
// define their own concrete token types; the engine only carries it through.
type FetchToken interface{}

// FetchResult is one logical read of everything known about an identifier.
// State and Policy are nil when the corresponding item does not exist.
type FetchResult struct {
	State  *BucketState
	Policy *Policy
	Token  FetchToken
}

// CommitResult reports the outcome of a conditional commit. Losing the race
// is an expected value, not an error.
type CommitResult int

const (
	CommitOK CommitResult = iota
	CommitConflict
)

// CreateResult reports the outcome of a create-if-absent write.
type CreateResult int

const (
	CreateOK CreateResult = iota
	CreateExists
)

// BucketStore is the narrow contract the engine needs from a backing store.
//
// Implementations must be safe for concurrent use. All contention is
// expressed through CommitConflict / CreateExists values; errors are
// reserved for store failures and are classified via *StoreError.
type BucketStore interface {
	// Fetch reads the bucket state and policy for an identifier, ideally in
	// one round trip, together with a token for a later conditional commit.
	Fetch(ctx context.Context, id string) (FetchResult, error)

	// CommitIfUnchanged writes state only if the stored item is still
	// exactly what the given token observed.
	CommitIfUnchanged(ctx context.Context, id string, state BucketState, token FetchToken) (CommitResult, error)

	// CreateIfAbsent writes the initial state only if no bucket item exists
	// yet for the identifier.
	CreateIfAbsent(ctx context.Context, id string, state BucketState) (CreateResult, error)
}

// PolicyStore is implemented by adapters that can also persist per-identifier
// policies, for operators provisioning limits out-of-band.
type PolicyStore interface {
	PutPolicy(ctx context.Context, id string, p Policy) error
}
