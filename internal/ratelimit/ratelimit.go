// Package ratelimit caps how many chat messages one user may send per hour.
//
// The limiter only counts; it does not decide what happens on a redis error.
// The chat service treats an error as "allowed" so a redis outage never
// blocks chatting, and it checks the limit before anything is persisted, so
// a rejected message leaves no trace in the store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "simplechat:ratelimit:chat"

// countMessage bumps the window counter and arms its expiry on first use.
var countMessage = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts chat messages per user in fixed, clock-aligned hourly windows.
type Limiter struct {
	rdb     *redis.Client
	perHour int64
}

// New returns a limiter allowing perHour messages per user. A perHour of
// zero or less disables limiting and never touches redis.
func New(rdb *redis.Client, perHour int64) *Limiter {
	return &Limiter{rdb: rdb, perHour: perHour}
}

// Allow records one message for userID in the window containing now. used is
// the count including this message; resetAt is when the window rolls over.
func (l *Limiter) Allow(ctx context.Context, userID int64, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	start := now.UTC().Truncate(time.Hour)
	resetAt = start.Add(time.Hour)
	if l.perHour <= 0 {
		return true, 0, resetAt, nil
	}

	ttl := int64(resetAt.Sub(now.UTC()) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	used, err = countMessage.Run(ctx, l.rdb, []string{windowKey(userID, start)}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("count chat message: %w", err)
	}
	return used <= l.perHour, used, resetAt, nil
}

func windowKey(userID int64, start time.Time) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, userID, start.Format("2006010215"))
}
