package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

// takeScript resets an elapsed window, then counts the request if there is
// room. Returns {count, reset_ms, allowed}.
var takeScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if not reset or reset <= now then
  reset = now + window
  count = 0
  redis.call('HSET', KEYS[1], 'count', 0, 'reset', reset)
  redis.call('PEXPIREAT', KEYS[1], reset)
end
if count >= max then
  return {count, reset, 0}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset, 1}
`)

// releaseScript decrements only inside the window that took the request.
// Returns {count, reset_ms}, with count -1 when the window is gone.
var releaseScript = redis.NewScript(`
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if not reset or reset ~= tonumber(ARGV[1]) then
  return {-1, 0}
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count > 0 then
  count = redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return {count, reset}
`)

// RedisStore shares counters between replicas. Each operation is a single
// Lua script so read-modify-write is atomic on the server.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

func NewRedisStore(rdb redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "newsletter:ratelimit:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Entry, bool, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{s.prefix + key},
		max, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Entry{}, false, xerrors.Wrapf(err, "rate limit take %s", key)
	}
	if len(res) != 3 {
		return Entry{}, false, xerrors.Newf("rate limit take %s: unexpected reply %v", key, res)
	}
	return Entry{Count: int(res[0]), ResetAt: time.UnixMilli(res[1])}, res[2] == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key string, taken Entry) (Entry, error) {
	res, err := releaseScript.Run(ctx, s.rdb, []string{s.prefix + key}, taken.ResetAt.UnixMilli()).Int64Slice()
	if err != nil {
		return taken, xerrors.Wrapf(err, "rate limit release %s", key)
	}
	if len(res) != 2 || res[0] < 0 {
		return taken, nil
	}
	return Entry{Count: int(res[0]), ResetAt: time.UnixMilli(res[1])}, nil
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, xerrors.Wrapf(err, "ping redis %s", opt.Addr)
	}
	return rdb, nil
}
