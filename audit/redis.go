package audit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCoordinator implements Coordinator over Redis SET NX / Lua-scripted
// compare-and-renew, grounded on control_plane/store/redis.go's
// AcquireLock/RenewLock/ReleaseLock Lua scripts (renamed to lease
// terminology since the control plane's only coordination need is leader
// election, not general locking).
type RedisCoordinator struct {
	client *redis.Client
}

// NewRedisCoordinator connects to addr and pings once to fail fast.
func NewRedisCoordinator(ctx context.Context, addr, password string, db int) (*RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCoordinator{client: client}, nil
}

// Close closes the underlying Redis client.
func (c *RedisCoordinator) Close() error { return c.client.Close() }

// AcquireLease implements Coordinator via SET key value NX PX ttl.
func (c *RedisCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

// RenewLease extends the TTL of a held lease iff value still matches the
// stored owner token, via a single Lua script to avoid a check-then-act race.
func (c *RedisCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.client.Eval(ctx, renewScript, []string{key}, value, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, errors.New("audit: unexpected redis eval result type")
	}
	return n == 1, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// ReleaseLease releases the lease iff still held by value.
func (c *RedisCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	_, err := c.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	return err
}

// NoopCoordinator always succeeds, for single-process deployments that
// don't need HA leader election.
type NoopCoordinator struct{}

func (NoopCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (NoopCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (NoopCoordinator) ReleaseLease(ctx context.Context, key, value string) error { return nil }
