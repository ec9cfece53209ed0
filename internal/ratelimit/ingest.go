package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/logibill/internal/config"
)

const (
	keyActivityIngestCustomer = "activity:ingest:customer:%s"
	keyRatingRunLock          = "rating:run:lock"
)

// Limiter throttles activity ingestion per customer and guards the rating worker
// so only one replica runs a pass at a time. A nil Limiter allows everything.
type Limiter struct {
	bucket *TokenBucket
	locker *Locker

	customer Bucket
}

func NewLimiter(cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestCustomerRate <= 0 || limitCfg.IngestCustomerBurst <= 0 {
		return nil, errors.New("activity ingest customer rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &Limiter{
		bucket:        NewTokenBucket(client),
		locker:        NewLocker(client),
		customer: Bucket{Rate: limitCfg.IngestCustomerRate, Burst: limitCfg.IngestCustomerBurst},
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowCustomer spends one token per submitted activity. Batches larger
// than the burst cost the whole bucket.
func (l *Limiter) AllowCustomer(ctx context.Context, customerID string, activities int) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	cost := min(max(activities, 1), l.customer.Burst)
	key := fmt.Sprintf(keyActivityIngestCustomer, strings.TrimSpace(customerID))
	return l.bucket.Take(ctx, key, l.customer, cost)
}

// TryLockRatingRun acquires the cluster-wide rating lock. Without redis the
// lock is always granted with an empty token.
func (l *Limiter) TryLockRatingRun(ctx context.Context, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyRatingRunLock, ttl)
}

func (l *Limiter) ReleaseRatingRun(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyRatingRunLock, token)
}
