package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/competency-import/internal/core"
)

type fakeRedis struct {
	mu        sync.Mutex
	values    map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	setErr    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}, published: map[string][]string{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func TestMirror_PublishAndGet(t *testing.T) {
	rdb := newFakeRedis()
	m := NewMirror(rdb, 0)
	ctx := context.Background()

	p := core.Progress{RunID: "r1", Phase: core.PhaseImporting, Current: 3, Total: 10, Status: "Processed Jane Doe (3 of 10)"}
	require.NoError(t, m.Publish(ctx, p))

	got, ok, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, got)
	require.Equal(t, DefaultTTL, rdb.ttls[Key("r1")])
	require.Len(t, rdb.published[Channel("r1")], 1)
}

func TestMirror_GetMissing(t *testing.T) {
	m := NewMirror(newFakeRedis(), time.Minute)
	_, ok, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMirror_PublishError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.setErr = errors.New("READONLY")
	m := NewMirror(rdb, time.Minute)
	err := m.Publish(context.Background(), core.Progress{RunID: "r1"})
	require.ErrorContains(t, err, "store progress")
}

func TestMirror_SatisfiesPublisher(t *testing.T) {
	var _ core.ProgressPublisher = NewMirror(newFakeRedis(), 0)
}
