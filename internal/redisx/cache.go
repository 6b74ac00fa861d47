package redisx

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusEntry is the cached, display-only view of an order status.
type StatusEntry struct {
	Status    string
	UpdatedAt time.Time
}

// setStatusIfNewer writes the hash only when the incoming timestamp is newer
// than the cached one, so out-of-order events cannot roll the cache back.
var setStatusIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'ts', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// OrderCache holds the idempotency fast path, the status cache and event
// dedup markers. PostgreSQL stays the source of truth for all three.
type OrderCache struct {
	rdb redis.Scripter
	cmd redis.Cmdable
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb, cmd: rdb}
}

// RememberOrder maps (user, idempotency key) to an order id.
func (c *OrderCache) RememberOrder(ctx context.Context, userID, key, orderID string) error {
	return c.cmd.Set(ctx, IdemOrderCreateKey(userID, key), orderID, TTLIdempotency).Err()
}

func (c *OrderCache) LookupOrder(ctx context.Context, userID, key string) (string, bool, error) {
	id, err := c.cmd.Get(ctx, IdemOrderCreateKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SetStatus caches e unless a newer entry is already present. It reports
// whether the cache changed.
func (c *OrderCache) SetStatus(ctx context.Context, orderID string, e StatusEntry) (bool, error) {
	n, err := setStatusIfNewer.Run(ctx, c.rdb, []string{OrderStatusKey(orderID)},
		e.Status, strconv.FormatInt(e.UpdatedAt.UnixNano(), 10), TTLStatusCache.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *OrderCache) GetStatus(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	vals, err := c.cmd.HGetAll(ctx, OrderStatusKey(orderID)).Result()
	if err != nil {
		return StatusEntry{}, false, err
	}
	status, ok := vals["status"]
	if !ok {
		return StatusEntry{}, false, nil
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return StatusEntry{}, false, nil
	}
	return StatusEntry{Status: status, UpdatedAt: time.Unix(0, ns).UTC()}, true, nil
}

// Claim marks eventID as processed by service. It returns false when another
// delivery already claimed it.
func (c *OrderCache) Claim(ctx context.Context, service, eventID string) (bool, error) {
	return c.cmd.SetNX(ctx, DedupKey(service, eventID), 1, TTLDedup).Result()
}

// Release drops a claim so a failed event can be redelivered and retried.
func (c *OrderCache) Release(ctx context.Context, service, eventID string) error {
	return c.cmd.Del(ctx, DedupKey(service, eventID)).Err()
}
