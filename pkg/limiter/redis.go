package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed cas.lua
var casScript string

//go:embed create.lua
var createScript string

// RedisStore is a BucketStore backed by Redis.
//
// Each identifier owns two hashes under a shared prefix: "<prefix><id>:bucket"
// with fields tokens/last_updated, and "<prefix><id>:settings" with the
// policy fields. Fetch pipelines both reads into one round trip. The
// conditional writes run as Lua scripts so the compare and the set are a
// single atomic step on the server.
//
// An optional key TTL expires buckets for identities that stop sending
// requests, so the keyspace does not leak.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	keyTTL    time.Duration
	casCmd    *redis.Script
	createCmd *redis.Script
}

var (
	_ BucketStore = (*RedisStore)(nil)
	_ PolicyStore = (*RedisStore)(nil)
)

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the key prefix (default "ratelimit:").
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithKeyTTL expires bucket keys this long after their last write. Zero
// (the default) keeps them forever.
func WithKeyTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.keyTTL = ttl }
}

// NewRedisStore constructs a RedisStore and verifies the connection.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	s := &RedisStore{
		client:    client,
		prefix:    "ratelimit:",
		casCmd:    redis.NewScript(casScript),
		createCmd: redis.NewScript(createScript),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// redisToken is the fetch token: the exact stored values the Lua CAS must
// still find.
type redisToken struct {
	tokens      int64
	lastUpdated int64
}

func (s *RedisStore) bucketKey(id string) string   { return s.prefix + id + ":bucket" }
func (s *RedisStore) settingsKey(id string) string { return s.prefix + id + ":settings" }

func (s *RedisStore) Fetch(ctx context.Context, id string) (FetchResult, error) {
	pipe := s.client.Pipeline()
	bucketCmd := pipe.HGetAll(ctx, s.bucketKey(id))
	settingsCmd := pipe.HGetAll(ctx, s.settingsKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return FetchResult{}, classifyRedisError("fetch", err)
	}

	res := FetchResult{}
	if bucket := bucketCmd.Val(); len(bucket) > 0 {
		tokens, err := hashInt(bucket, "tokens")
		if err != nil {
			return FetchResult{}, err
		}
		updated, err := hashInt(bucket, "last_updated")
		if err != nil {
			return FetchResult{}, err
		}
		res.State = &BucketState{Tokens: tokens, LastUpdated: unixTime(updated)}
		res.Token = redisToken{tokens: tokens, lastUpdated: updated}
	}
	if settings := settingsCmd.Val(); len(settings) > 0 {
		maxTokens, err := hashInt(settings, "max_tokens")
		if err != nil {
			return FetchResult{}, err
		}
		rate, err := hashInt(settings, "refill_rate")
		if err != nil {
			return FetchResult{}, err
		}
		interval, err := hashInt(settings, "refill_interval")
		if err != nil {
			return FetchResult{}, err
		}
		res.Policy = &Policy{
			MaxTokens:      maxTokens,
			RefillRate:     rate,
			RefillInterval: time.Duration(interval) * time.Second,
		}
	}
	return res, nil
}

func (s *RedisStore) CommitIfUnchanged(ctx context.Context, id string, state BucketState, token FetchToken) (CommitResult, error) {
	observed, ok := token.(redisToken)
	if !ok {
		return CommitConflict, NewPermanentStoreError(errFetchToken)
	}

	committed, err := s.casCmd.Run(ctx, s.client, []string{s.bucketKey(id)},
		observed.tokens,
		observed.lastUpdated,
		state.Tokens,
		state.LastUpdated.Unix(),
		int64(s.keyTTL.Seconds()),
	).Int()
	if err != nil {
		return CommitConflict, classifyRedisError("cas", err)
	}
	if committed == 0 {
		return CommitConflict, nil
	}
	return CommitOK, nil
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, id string, state BucketState) (CreateResult, error) {
	created, err := s.createCmd.Run(ctx, s.client, []string{s.bucketKey(id)},
		state.Tokens,
		state.LastUpdated.Unix(),
		int64(s.keyTTL.Seconds()),
	).Int()
	if err != nil {
		return CreateExists, classifyRedisError("create", err)
	}
	if created == 0 {
		return CreateExists, nil
	}
	return CreateOK, nil
}

// PutPolicy writes the settings hash for an identifier. Settings carry no
// TTL: an operator-provisioned limit should outlive idle periods.
func (s *RedisStore) PutPolicy(ctx context.Context, id string, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	err := s.client.HSet(ctx, s.settingsKey(id),
		"max_tokens", p.MaxTokens,
		"refill_rate", p.RefillRate,
		"refill_interval", int64(p.RefillInterval.Seconds()),
	).Err()
	if err != nil {
		return classifyRedisError("put settings", err)
	}
	return nil
}

func hashInt(hash map[string]string, field string) (int64, error) {
	raw, ok := hash[field]
	if !ok {
		return 0, NewPermanentStoreError(fmt.Errorf("hash missing field %q", field))
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewPermanentStoreError(fmt.Errorf("hash field %q: %w", field, err))
	}
	return n, nil
}

// classifyRedisError treats schema mismatches as fatal and everything else
// (connection failures, timeouts, failovers) as retryable.
func classifyRedisError(op string, err error) error {
	wrapped := fmt.Errorf("redis %s: %w", op, err)
	if redis.HasErrorPrefix(err, "WRONGTYPE") || redis.HasErrorPrefix(err, "NOPERM") {
		return NewPermanentStoreError(wrapped)
	}
	return NewTransientStoreError(wrapped)
}
