// Package ratelimit implements a Redis-backed atomic increment+expire
// rate limiter: a limiter whose backing store can itself fail, with a
// per-endpoint-class decision on whether that failure opens or closes
// the gate.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
)

// Policy is the per-endpoint-class limiter configuration.
type Policy struct {
	Limit    int           // max requests allowed within Window
	Window   time.Duration // fixed window size
	FailOpen bool          // allow the request through when Redis is unreachable
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Degraded is true when Redis was unreachable and the decision was
	// made by the FailOpen/FailClosed policy rather than a real count.
	Degraded bool
}

// incrScript atomically increments the window counter and sets its
// expiry only on the first increment of the window, so concurrent
// requests across server replicas never race a separate EXPIRE call.
const incrScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

// Limiter is a Redis-backed fixed-window rate limiter guarded by a
// circuit breaker: once Redis trips the breaker, Check short-circuits to
// the policy's fail-open/fail-closed decision without retrying Redis on
// every request.
type Limiter struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
	log     logr.Logger
}

func New(rdb *redis.Client, log logr.Logger) *Limiter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-redis",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Limiter{rdb: rdb, breaker: cb, log: log}
}

// Check increments key's counter in the current fixed window for policy
// and reports whether the request is allowed. On a Redis/breaker failure
// it falls back to policy.FailOpen: true allows the request through with
// Degraded=true and a logged error (a fail-open posture for
// authentication endpoints); false returns a RateLimit-typed error so
// the caller rejects the request (fail-closed, for admin-dangerous
// endpoints).
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowMs := policy.Window.Milliseconds()

	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.rdb.Eval(ctx, incrScript, []string{redisKey}, windowMs).Result()
	})
	if err != nil {
		return l.degrade(policy, err)
	}

	count, ok := result.(int64)
	if !ok {
		return l.degrade(policy, fmt.Errorf("unexpected INCR result type %T", result))
	}

	ttl, err := l.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		ttl = policy.Window
	}

	return Decision{
		Allowed:   int(count) <= policy.Limit,
		Remaining: max0(policy.Limit - int(count)),
		ResetAt:   time.Now().Add(ttl),
	}, nil
}

func (l *Limiter) degrade(policy Policy, cause error) (Decision, error) {
	if policy.FailOpen {
		l.log.Error(cause, "rate limiter backing store unreachable, failing open")
		return Decision{Allowed: true, Degraded: true, ResetAt: time.Now().Add(policy.Window)}, nil
	}
	l.log.Error(cause, "rate limiter backing store unreachable, failing closed")
	return Decision{Degraded: true}, apperrors.New(apperrors.ErrorTypeRateLimit, "rate limiter unavailable, request rejected (fail-closed policy)")
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
