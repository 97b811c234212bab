package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// TokenCache is a read-through cache in front of a TokenRepository. Lookups
// by id and reference are served from Redis when possible; every write goes
// straight to the backing store and invalidates the cached entry, so a cache
// hit can never resurrect a consumed token past its invalidation.
type TokenCache struct {
	inner  repository.TokenRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.TokenRepository = (*TokenCache)(nil)

// NewTokenCache wraps inner with a Redis read-through cache.
func NewTokenCache(inner repository.TokenRepository, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.L()
	}
	return &TokenCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func tokenKey(id int64) string {
	return "keystone:token:" + strconv.FormatInt(id, 10)
}

func referenceKey(kind domain.TokenKind, reference string) string {
	return fmt.Sprintf("keystone:ref:%s:%s", kind, reference)
}

// Create delegates to the store; freshly minted tokens are cached lazily on
// first read.
func (c *TokenCache) Create(ctx context.Context, token domain.Token) (domain.Token, error) {
	return c.inner.Create(ctx, token)
}

// FindByID serves from cache when possible.
func (c *TokenCache) FindByID(ctx context.Context, id int64) (domain.Token, error) {
	if cached, ok := c.get(ctx, tokenKey(id)); ok {
		return cached, nil
	}
	token, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return domain.Token{}, err
	}
	c.put(ctx, token)
	return token, nil
}

// FindByReference resolves the reference to an id through a cached mapping,
// then reads through FindByID.
func (c *TokenCache) FindByReference(ctx context.Context, kind domain.TokenKind, reference string) (domain.Token, error) {
	if raw, err := c.client.Get(ctx, referenceKey(kind, reference)).Result(); err == nil {
		if id, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			if token, findErr := c.FindByID(ctx, id); findErr == nil {
				return token, nil
			}
		}
	}
	token, err := c.inner.FindByReference(ctx, kind, reference)
	if err != nil {
		return domain.Token{}, err
	}
	c.put(ctx, token)
	if err := c.client.Set(ctx, referenceKey(kind, reference), strconv.FormatInt(token.ID, 10), c.ttl).Err(); err != nil {
		c.logger.Debug("caching token reference failed", zap.Error(err))
	}
	return token, nil
}

// ListByAuthorization always hits the store; sibling sets change under
// rotation and are not worth caching.
func (c *TokenCache) ListByAuthorization(ctx context.Context, authorizationID int64) ([]domain.Token, error) {
	return c.inner.ListByAuthorization(ctx, authorizationID)
}

// UpdateStatus performs the conditional write on the store and drops the
// cached entry regardless of the outcome.
func (c *TokenCache) UpdateStatus(ctx context.Context, id int64, expected, next domain.TokenStatus) (bool, error) {
	ok, err := c.inner.UpdateStatus(ctx, id, expected, next)
	c.invalidate(ctx, id)
	return ok, err
}

// ExtendExpiry performs the conditional write on the store and drops the
// cached entry regardless of the outcome.
func (c *TokenCache) ExtendExpiry(ctx context.Context, id int64, expected, next time.Time) (bool, error) {
	ok, err := c.inner.ExtendExpiry(ctx, id, expected, next)
	c.invalidate(ctx, id)
	return ok, err
}

// DeleteExpired delegates to the store. Stale cache entries age out on TTL.
func (c *TokenCache) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.inner.DeleteExpired(ctx, cutoff)
}

func (c *TokenCache) get(ctx context.Context, key string) (domain.Token, bool) {
	bytes, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("token cache read failed", zap.String("key", key), zap.Error(err))
		}
		return domain.Token{}, false
	}
	var token domain.Token
	if err := json.Unmarshal(bytes, &token); err != nil {
		c.logger.Warn("token cache decode failed", zap.String("key", key), zap.Error(err))
		return domain.Token{}, false
	}
	return token, true
}

func (c *TokenCache) put(ctx context.Context, token domain.Token) {
	payload, err := json.Marshal(token)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, tokenKey(token.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Debug("token cache write failed", zap.Int64("token_id", token.ID), zap.Error(err))
	}
}

func (c *TokenCache) invalidate(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, tokenKey(id)).Err(); err != nil && err != redis.Nil {
		c.logger.Warn("token cache invalidation failed", zap.Int64("token_id", id), zap.Error(err))
	}
}
