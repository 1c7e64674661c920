package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tundek/serverless-rate-limiter/pkg/limiter"
)

// Picks a backend from the environment: DYNAMO_TABLE wins, then REDIS_ADDR,
// else an in-process store for local play.
func newStore(ctx context.Context) (limiter.BucketStore, error) {
	if table := os.Getenv("DYNAMO_TABLE"); table != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return limiter.NewDynamoStore(dynamodb.NewFromConfig(cfg), limiter.DynamoStoreConfig{
			Table:    table,
			PKPrefix: os.Getenv("DYNAMO_PK_PREFIX"),
		})
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		return limiter.NewRedisStore(client,
			limiter.WithKeyPrefix("demo:"),
			limiter.WithKeyTTL(24*time.Hour),
		)
	}
	return limiter.NewMemoryStore(), nil
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := newStore(context.Background())
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}

	// Default: 10 requests per minute of burst, refilling 5 per minute.
	defaultPolicy := limiter.Policy{
		MaxTokens:      10,
		RefillRate:     5,
		RefillInterval: time.Minute,
	}

	lim, err := limiter.New(store, defaultPolicy,
		limiter.WithOnExhaustion(limiter.FailOpen),
		limiter.WithRecorder(limiter.NewPrometheusRecorder(nil)),
	)
	if err != nil {
		log.Error("limiter init failed", "err", err)
		os.Exit(1)
	}

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dec, err := lim.Allow(ctx, "ip:"+r.RemoteAddr)
		if err != nil {
			// With FailOpen the decision already encodes "let it through";
			// log the outage and act on the decision.
			log.Warn("limiter degraded", "err", err, "allowed", dec.Allowed)
		}
		if !dec.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", dec.RetryAfter.Seconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded\n"))
			return
		}

		w.Write([]byte("Pong!\n"))
	})

	log.Info("listening", "addr", ":8080")
	if err := http.ListenAndServe(":8080", nil); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
