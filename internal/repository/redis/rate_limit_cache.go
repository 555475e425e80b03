package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"havosec-api/internal/client"
	"havosec-api/internal/util"
)

const (
	loginAttemptPrefix = "login_attempts:"
)

// RateLimitCache counts failed logins per account key within a window.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// IncrementFailures records one failed attempt and returns the running count.
func (c *RateLimitCache) IncrementFailures(ctx context.Context, key string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, loginAttemptPrefix+key, window)
	if err != nil {
		util.Error("Failed to increment login attempt counter",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment login attempt counter: %w", err)
	}

	util.Debug("Login attempt counter incremented",
		zap.String("key", key),
		zap.Int64("count", count))

	return int(count), nil
}

// Failures returns the current count, zero when no window is open.
func (c *RateLimitCache) Failures(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	countStr, err := c.client.Get(ctx, loginAttemptPrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get login attempt counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format",
			zap.String("key", key),
			zap.String("count_str", countStr),
			zap.Error(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}

	return count, nil
}

// RetryAfter reports how long until the window for key closes.
func (c *RateLimitCache) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl, err := c.client.TTL(ctx, loginAttemptPrefix+key)
	if err != nil {
		return 0, fmt.Errorf("failed to read login attempt ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginAttemptPrefix+key); err != nil {
		util.Error("Failed to reset login attempt counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to reset login attempt counter: %w", err)
	}
	return nil
}
