package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"havosec-api/internal/client"
	"havosec-api/internal/util"
)

const (
	revokedTokenPrefix = "revoked_token:"
)

// SessionCache tracks revoked token IDs until the tokens would expire anyway.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// RevokeToken marks jti as revoked for ttl. A non-positive ttl is a no-op
// because the token has already expired.
func (c *SessionCache) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, revokedTokenPrefix+jti, "1", ttl); err != nil {
		util.Error("Failed to revoke token",
			zap.String("jti", jti),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	util.Debug("Token revoked", zap.String("jti", jti), zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	revoked, err := c.client.Exists(ctx, revokedTokenPrefix+jti)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return revoked, nil
}
