// Package redisstore implements state.Store on Redis.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "agentconsole"

// Config configures the Redis-backed Store.
type Config struct {
	Addr         string        `yaml:"addr"`
	DB           int           `yaml:"db"`
	Password     string        `yaml:"password"`
	Username     string        `yaml:"username"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PoolSize     int           `yaml:"poolSize"`
	// IdempotencyTTL bounds how long an idempotency key stays bound. Default 24h.
	IdempotencyTTL time.Duration `yaml:"idempotencyTTL"`
}

// Store is a Redis-backed implementation of state.Store.
type Store struct {
	rdb     redis.UniversalClient
	prefix  string
	idemTTL time.Duration
	// cached SHA for the append record LUA script
	appendSHA string
	// ownsClient determines whether Close() should close the underlying client
	ownsClient bool
}

// New creates a new Redis Store with the provided configuration.
func New(cfg Config) (*Store, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := newStore(ctx, rdb, cfg)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewFromClient constructs a Store from a user-managed redis.UniversalClient.
// The Store will not Close() the client.
func NewFromClient(ctx context.Context, rdb redis.UniversalClient, cfg Config) (*Store, error) {
	return newStore(ctx, rdb, cfg)
}

func newStore(ctx context.Context, rdb redis.UniversalClient, cfg Config) (*Store, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Store{rdb: rdb, prefix: prefix, idemTTL: ttl}
	// best-effort; AppendRecord falls back to EVAL
	if sha, err := s.rdb.ScriptLoad(ctx, luaAppendRecord).Result(); err == nil {
		s.appendSHA = sha
	}
	return s, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	if s.ownsClient {
		return s.rdb.Close()
	}
	return nil
}
