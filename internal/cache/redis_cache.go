package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/ledger/internal/domain"
)

const sessionKeyPrefix = "pos:session:"

type RedisSessionCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

func (c *RedisSessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// cachedSession mirrors domain.Session; the domain type hides the token
// from JSON.
type cachedSession struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *RedisSessionCache) Get(ctx context.Context, token string) (*domain.Session, bool, error) {
	val, err := c.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cached cachedSession
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, false, err
	}
	return &domain.Session{
		Token:     cached.Token,
		UserID:    cached.UserID,
		Role:      cached.Role,
		ExpiresAt: cached.ExpiresAt,
		CreatedAt: cached.CreatedAt,
	}, true, nil
}

// Set never caches a session past its own expiry.
func (c *RedisSessionCache) Set(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if remaining := time.Until(session.ExpiresAt); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(cachedSession{
		Token:     session.Token,
		UserID:    session.UserID,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKeyPrefix+session.Token, payload, ttl).Err()
}

func (c *RedisSessionCache) Delete(ctx context.Context, token string) error {
	return c.client.Del(ctx, sessionKeyPrefix+token).Err()
}
