package limiter

import (
	"context"
	"sync"
)

type memoryItem struct {
	state   BucketState
	version uint64
}

// MemoryStore is an in-process BucketStore backed by a Go map.
//
// It is safe for concurrent use by multiple goroutines, but its state is
// local to the process and is not shared across replicas. Use DynamoStore or
// RedisStore when you need a single global limit across multiple instances;
// MemoryStore is for unit tests, local development, and single-instance
// deployments.
//
// The fetch token is a per-item version counter bumped on every successful
// write, which gives the same commit-if-unchanged semantics the remote
// adapters get from conditional writes.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*memoryItem
	policies map[string]Policy
}

// Compile-time interface checks.
var (
	_ BucketStore = (*MemoryStore)(nil)
	_ PolicyStore = (*MemoryStore)(nil)
)

// NewMemoryStore constructs a MemoryStore with empty state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:  make(map[string]*memoryItem),
		policies: make(map[string]Policy),
	}
}

func (m *MemoryStore) Fetch(ctx context.Context, id string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, NewTransientStoreError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := FetchResult{}
	if item, ok := m.buckets[id]; ok {
		st := item.state
		res.State = &st
		res.Token = item.version
	}
	if p, ok := m.policies[id]; ok {
		res.Policy = &p
	}
	return res, nil
}

func (m *MemoryStore) CommitIfUnchanged(ctx context.Context, id string, state BucketState, token FetchToken) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitConflict, NewTransientStoreError(err)
	}

	observed, ok := token.(uint64)
	if !ok {
		return CommitConflict, NewPermanentStoreError(errFetchToken)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, exists := m.buckets[id]
	if !exists || item.version != observed {
		return CommitConflict, nil
	}
	item.state = state
	item.version++
	return CommitOK, nil
}

func (m *MemoryStore) CreateIfAbsent(ctx context.Context, id string, state BucketState) (CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return CreateExists, NewTransientStoreError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.buckets[id]; exists {
		return CreateExists, nil
	}
	m.buckets[id] = &memoryItem{state: state, version: 1}
	return CreateOK, nil
}

// PutPolicy stores a per-identifier policy, replacing any existing one.
func (m *MemoryStore) PutPolicy(ctx context.Context, id string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.policies[id] = p
	m.mu.Unlock()
	return nil
}
