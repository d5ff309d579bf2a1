// Package audit persists one immutable record per decision. Backends are
// a hash-chained JSONL file, SQLite and Redis Streams; every backend is
// wrapped in bounded retries.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/retry"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and tunes the audit backend.
type Config struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisStream string        `yaml:"redis_stream"`
	RedisMaxLen int64         `yaml:"redis_max_len"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// New opens the configured backend wrapped in a RetrySink.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*RetrySink, error) {
	var (
		sink Sink
		err  error
	)
	switch cfg.Backend {
	case "", BackendFile:
		sink, err = Open(cfg.Path)
	case BackendSQLite:
		sink, err = OpenSQLite(cfg.Path)
	case BackendRedis:
		sink, err = openRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy
	if cfg.Retries > 0 {
		policy.Attempts = cfg.Retries
	}
	if cfg.Backoff > 0 {
		policy.Base = cfg.Backoff
	}
	return NewRetrySink(sink, policy, log), nil
}

func openRedis(ctx context.Context, cfg Config) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("audit: connect redis %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisSink(client, RedisOptions{Stream: cfg.RedisStream, MaxLen: cfg.RedisMaxLen}), nil
}
