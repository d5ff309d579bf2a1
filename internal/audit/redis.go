package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisStream is the stream key used when none is configured.
const DefaultRedisStream = "safetygate:audit"

// RedisSink appends decision records to a Redis stream. Streams are
// append-only; entries are never rewritten by this sink.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisOptions configure a RedisSink.
type RedisOptions struct {
	Stream string
	// MaxLen approximately caps the stream length. Zero keeps everything.
	MaxLen int64
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, opts RedisOptions) *RedisSink {
	if opts.Stream == "" {
		opts.Stream = DefaultRedisStream
	}
	return &RedisSink{client: client, stream: opts.Stream, maxLen: opts.MaxLen}
}

// Append adds rec to the stream. The audit ID is stored as a field so it
// stays stable across retries.
func (s *RedisSink) Append(ctx context.Context, rec Record) (string, error) {
	if rec.AuditID == "" {
		rec.AuditID = uuid.NewString()
	}
	rec.PrevHash = ""
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: marshal record: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"audit_id": rec.AuditID,
			"outcome":  rec.Outcome,
			"record":   body,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("audit: xadd to stream %s: %w", s.stream, err)
	}
	return rec.AuditID, nil
}

// Records reads the whole stream. Intended for inspection and tests.
func (s *RedisSink) Records(ctx context.Context) ([]Record, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("audit: xrange %s: %w", s.stream, err)
	}
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["record"].(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("audit: decode stream entry %s: %w", m.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
