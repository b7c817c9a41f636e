package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// compare-and-delete: only the token owner may unlock
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// compare-and-extend for the watchdog
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	rdb    redis.Cmdable
	log    zerolog.Logger
	prefix string

	// poll bounds the retry interval while waiting.
	poll time.Duration
	// maxHold caps watchdog extensions as a multiple of the lease.
	maxHold  int
	newToken func() string
	ticker   func(every time.Duration) (<-chan time.Time, func())
}

func NewRedisLocker(rdb redis.Cmdable, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		log:      log,
		prefix:   "lock:",
		poll:     100 * time.Millisecond,
		maxHold:  4,
		newToken: uuid.NewString,
		ticker:   newTicker,
	}
}

func newTicker(every time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(every)
	return t.C, t.Stop
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	rk := r.prefix + key
	token := r.newToken()
	deadline := time.Now().Add(wait)
	backoff := 5 * time.Millisecond
	for {
		ok, err := r.rdb.SetNX(ctx, rk, token, lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, timedOut(key)
		}
		sleep := min(backoff, left)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		backoff = min(backoff*2, r.poll)
	}

	l := &Lease{Key: key, token: token, done: make(chan struct{}), stopped: make(chan struct{})}
	l.rel = func(ctx context.Context) error {
		err := unlockScript.Run(ctx, r.rdb, []string{rk}, token).Err()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	go r.watchdog(l, rk, lease)
	return l, nil
}

// watchdog extends the lease every lease/3 until released, lost, or maxHold is reached.
func (r *RedisLocker) watchdog(l *Lease, rk string, lease time.Duration) {
	defer close(l.stopped)
	every := lease / 3
	if every <= 0 {
		return
	}
	tick, stop := r.ticker(every)
	defer stop()
	limit := time.Now().Add(time.Duration(r.maxHold) * lease)
	for {
		select {
		case <-l.done:
			return
		case now := <-tick:
			if now.After(limit) {
				r.log.Warn().Str("key", l.Key).Dur("lease", lease).Msg("lease held past watchdog limit, letting it expire")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := extendScript.Run(ctx, r.rdb, []string{rk}, l.token, lease.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.log.Warn().Err(err).Str("key", l.Key).Msg("lease extend failed")
				continue
			}
			if n == 0 {
				// sudah bukan milik kita
				r.log.Warn().Str("key", l.Key).Msg("lease lost before release")
				return
			}
		}
	}
}
