package login

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLogin_SingleCallerSucceeds(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestRedis(t)
	defer client.Close()
	c := New(client, "test", nil)

	var called int32
	err := c.Login(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, called)
}

// TestLogin_DistributedInterval verifies property S1/S5 from spec §8:
// across many concurrent callers sharing one Redis, every pair of
// successful logins is separated by at least Cooldown.
func TestLogin_DistributedInterval(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestRedis(t)
	defer client.Close()

	const n = 12
	coordinators := make([]*Coordinator, 3)
	for i := range coordinators {
		coordinators[i] = New(client, "test", nil)
	}

	var mu sync.Mutex
	var timestamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		c := coordinators[i%len(coordinators)]
		go func(c *Coordinator) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), TotalTimeout)
			defer cancel()
			err := c.Login(ctx, func(ctx context.Context) error {
				mu.Lock()
				timestamps = append(timestamps, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	require.Len(t, timestamps, n)
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i].Sub(timestamps[i-1])
		assert.GreaterOrEqualf(t, delta, Cooldown-5*time.Millisecond,
			"logins %d and %d were only %s apart", i-1, i, delta)
	}
}

func TestLogin_PropagatesCallbackError(t *testing.T) {
	defer goleak.VerifyNone(t)
	client := newTestRedis(t)
	defer client.Close()
	c := New(client, "test", nil)

	sentinel := assert.AnError
	err := c.Login(context.Background(), func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestLogin_LocalOnlyModeDegradesGracefully(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := New(nil, "test", nil)

	var called int32
	err := c.Login(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, called)

	start := time.Now()
	err = c.Login(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), Cooldown-5*time.Millisecond)
}

func TestLogin_IsolationNamespacesLockKey(t *testing.T) {
	a := New(nil, "dep-a", nil)
	b := New(nil, "dep-b", nil)
	assert.NotEqual(t, a.key(), b.key())
}
