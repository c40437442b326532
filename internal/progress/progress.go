// Package progress mirrors import progress into Redis so any instance can
// answer status queries for a run.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/competency-import/internal/core"
)

// DefaultTTL is how long a snapshot outlives its last update.
const DefaultTTL = time.Hour

// client is the subset of redis commands the mirror uses.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Connect parses url, connects and pings.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// Mirror stores the latest snapshot of each run and publishes every update.
type Mirror struct {
	rdb client
	ttl time.Duration
}

// NewMirror wraps a redis client. ttl <= 0 uses DefaultTTL.
func NewMirror(rdb client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{rdb: rdb, ttl: ttl}
}

// Key is the snapshot key of a run.
func Key(runID string) string {
	return "import:progress:" + runID
}

// Channel is the pub/sub channel of a run.
func Channel(runID string) string {
	return "import:events:" + runID
}

// Publish stores p as the run's latest snapshot and publishes it.
func (m *Mirror) Publish(ctx context.Context, p core.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := m.rdb.Set(ctx, Key(p.RunID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("store progress: %w", err)
	}
	if err := m.rdb.Publish(ctx, Channel(p.RunID), data).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// Get returns the latest snapshot of a run. ok is false when none is stored.
func (m *Mirror) Get(ctx context.Context, runID string) (p core.Progress, ok bool, err error) {
	data, err := m.rdb.Get(ctx, Key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Progress{}, false, nil
	}
	if err != nil {
		return core.Progress{}, false, fmt.Errorf("load progress: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return core.Progress{}, false, fmt.Errorf("decode progress: %w", err)
	}
	return p, true, nil
}
