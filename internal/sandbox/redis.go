package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig for a Redis-backed CredentialCache. Defaults can be
// loaded via envdecode.
type RedisCacheConfig struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Key under which the minted credential is stored. ENV: SANDBOX_CREDENTIAL_KEY
	Key string `env:"SANDBOX_CREDENTIAL_KEY,default=gateway:sandbox:credential"`
}

// RedisCache shares the minted credential across gateway instances so a
// horizontally scaled deployment mints once, not once per process.
type RedisCache struct {
	client *redis.Client
	key    string
}

var _ CredentialCache = (*RedisCache)(nil)

func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = "gateway:sandbox:credential"
	}
	return &RedisCache{client: cl, key: key}, nil
}

// NewRedisCacheFromEnv builds a RedisCache using envdecode to populate
// RedisCacheConfig.
func NewRedisCacheFromEnv() (*RedisCache, error) {
	var cfg RedisCacheConfig
	_ = envdecode.Decode(&cfg)
	return NewRedisCache(cfg)
}

func (r *RedisCache) Close() error { return r.client.Close() }

func (r *RedisCache) Get(ctx context.Context) (*Credential, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return nil, fmt.Errorf("decode cached credential: %w", err)
	}
	return &cred, nil
}

func (r *RedisCache) Put(ctx context.Context, cred *Credential) error {
	b, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	ttl := cred.TTL(time.Now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
