// Package login implements the distributed, rate-limited Login Coordinator
// (spec §4.5): a 1.1s cooldown enforced across every instance sharing one
// Redis, so a rate-limited upstream (OpenSubtitles authenticated) never sees
// more than one login per second no matter how many processes contend for
// it. Per spec §9 the coordinator is an explicit, dependency-injected
// service constructed once and shared via the request context, not a global
// singleton.
package login

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Cooldown is the upstream's documented minimum interval between logins.
	Cooldown = 1100 * time.Millisecond
	// TotalTimeout is the absolute budget for a single login attempt.
	TotalTimeout = 45 * time.Second
	// MaxCycles bounds the number of acquire-retry cycles per attempt
	// (spec §4.5/§9: "tuned empirically; adopt as the default").
	MaxCycles = 20

	lockKey        = "lock:os_login"
	minRetrySleep  = 50 * time.Millisecond
	jitterMin      = 50 * time.Millisecond
	jitterSpan     = 100 * time.Millisecond
)

// ErrQueueCongestion is returned when the distributed lock could not be
// acquired within MaxCycles cycles or TotalTimeout.
var ErrQueueCongestion = errors.New("login: queue congestion, could not acquire distributed lock")

// casScript implements the refresh-on-success step from spec §4.5.6: only
// the lock's current owner may extend it, so the cooldown is measured from
// the end of the HTTP call rather than its start. Grounded on the teacher's
// TokenBucketRedisRateLimit Lua pattern in
// middleware/redis_rate_limiter.go, adapted from a token bucket to a
// compare-and-set lock refresh.
var casScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return false
`)

// Coordinator serializes logins for one rate-limited upstream across every
// instance sharing redisClient. A nil redisClient degrades the coordinator
// to local-only throttling (spec §4.5: "If Redis is unreachable the
// coordinator degrades to local-only throttling and emits a warning").
type Coordinator struct {
	redisClient *redis.Client
	isolation   string
	logger      *zap.Logger
	processID   string

	// queue serializes per-process login requests into the FIFO described
	// in spec §4.5: "others wait on the queue, not on the lock."
	queue chan struct{}

	mu            sync.Mutex
	lastLocalLogin time.Time
}

// New builds a coordinator. redisClient may be nil to force local-only mode
// (e.g. in environments without Redis); isolation namespaces the lock key so
// multiple deployments can share one Redis instance per spec §4.10.
func New(redisClient *redis.Client, isolation string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		redisClient: redisClient,
		isolation:   isolation,
		logger:      logger,
		processID:   fmt.Sprintf("%d", os.Getpid()),
		queue:       make(chan struct{}, 1),
	}
}

func (c *Coordinator) key() string {
	if c.isolation == "" {
		return lockKey
	}
	return c.isolation + ":" + lockKey
}

// Login runs fn (the actual HTTP login call) under the distributed cooldown
// lock, serialized per-process through the FIFO queue. It returns
// ErrQueueCongestion if the lock could not be acquired within budget, and
// whatever error fn returns otherwise.
func (c *Coordinator) Login(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case c.queue <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.queue }()

	ctx, cancel := context.WithTimeout(ctx, TotalTimeout)
	defer cancel()

	c.throttleLocal(ctx)

	if c.redisClient == nil {
		return c.loginLocalOnly(ctx, fn)
	}
	return c.loginDistributed(ctx, fn)
}

// throttleLocal sleeps out any remaining cooldown since this process's own
// last login, independent of the distributed lock (spec §4.5.1).
func (c *Coordinator) throttleLocal(ctx context.Context) {
	c.mu.Lock()
	elapsed := time.Since(c.lastLocalLogin)
	c.mu.Unlock()
	if elapsed >= Cooldown || c.lastLocalLogin.IsZero() {
		return
	}
	sleepCtx(ctx, Cooldown-elapsed)
}

func (c *Coordinator) loginLocalOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.logger != nil {
		c.logger.Warn("login coordinator operating in local-only mode (no Redis); cross-instance rate-limit is not guaranteed")
	}
	err := fn(ctx)
	c.mu.Lock()
	c.lastLocalLogin = time.Now()
	c.mu.Unlock()
	return err
}

func (c *Coordinator) loginDistributed(ctx context.Context, fn func(ctx context.Context) error) error {
	ownerID := c.processID + "-" + uuid.NewString()
	key := c.key()

	acquired := false
	for cycle := 0; cycle < MaxCycles; cycle++ {
		ok, err := c.redisClient.SetNX(ctx, key, ownerID, Cooldown).Result()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("login coordinator: redis unreachable, falling back to local-only throttling", zap.Error(err))
			}
			return c.loginLocalOnly(ctx, fn)
		}
		if ok {
			acquired = true
			break
		}

		ttl, err := c.redisClient.PTTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = minRetrySleep
		}
		wait := ttl
		if wait < minRetrySleep {
			wait = minRetrySleep
		}
		wait += jitterMin + time.Duration(rand.Int63n(int64(jitterSpan)))

		if !sleepCtx(ctx, wait) {
			return ErrQueueCongestion
		}
	}
	if !acquired {
		return ErrQueueCongestion
	}

	err := fn(ctx)

	if err == nil {
		if casErr := casScript.Run(ctx, c.redisClient, []string{key}, ownerID, Cooldown.Milliseconds()).Err(); casErr != nil && !errors.Is(casErr, redis.Nil) {
			if c.logger != nil {
				c.logger.Warn("login coordinator: CAS refresh failed", zap.Error(casErr))
			}
		}
	}

	c.mu.Lock()
	c.lastLocalLogin = time.Now()
	c.mu.Unlock()

	return err
}

// sleepCtx sleeps for d or until ctx is cancelled, returning false in the
// latter case.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
