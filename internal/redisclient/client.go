package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// reserveStockScript checks and reserves atomically: available must cover
// the requested quantity after already-reserved units are subtracted.
const reserveStockScript = `
local available = tonumber(redis.call('HGET', KEYS[1], 'available') or '-1')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local qty = tonumber(ARGV[1])
if available < 0 then
  return -1
end
if available - reserved < qty then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'reserved', qty)
return 1
`

// releaseStockScript returns reserved units, never below zero.
const releaseStockScript = `
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local qty = tonumber(ARGV[1])
if qty > reserved then
  qty = reserved
end
if qty > 0 then
  redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
end
return qty
`

// commitStockScript converts a reservation into a deduction.
const commitStockScript = `
local qty = tonumber(ARGV[1])
redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
redis.call('HINCRBY', KEYS[1], 'available', -qty)
return 1
`

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetNX and Del make the client usable as the checkout lock store.

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// ReserveStock atomically reserves units of a stock unit.
// Returns false when the remaining stock cannot cover the quantity.
func (c *Client) ReserveStock(ctx context.Context, stockUnitID int64, quantity int) (bool, error) {
	key := stockKey(stockUnitID)

	result, err := c.reserveScript.Run(ctx, c.rdb, []string{key}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	status, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	if status < 0 {
		return false, fmt.Errorf("stock counter not initialized for unit %d", stockUnitID)
	}
	return status == 1, nil
}

// ReleaseStock atomically releases reserved units (compensation).
func (c *Client) ReleaseStock(ctx context.Context, stockUnitID int64, quantity int) error {
	key := stockKey(stockUnitID)

	if _, err := c.releaseScript.Run(ctx, c.rdb, []string{key}, quantity).Result(); err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	return nil
}

// CommitStock converts reserved units into a final deduction.
func (c *Client) CommitStock(ctx context.Context, stockUnitID int64, quantity int) error {
	key := stockKey(stockUnitID)

	if _, err := c.commitScript.Run(ctx, c.rdb, []string{key}, quantity).Result(); err != nil {
		return fmt.Errorf("commit stock script failed: %w", err)
	}
	return nil
}

// InitStock seeds the counter for a stock unit from the database.
func (c *Client) InitStock(ctx context.Context, stockUnitID int64, available, reserved int) error {
	key := stockKey(stockUnitID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "available", available)
	pipe.HSet(ctx, key, "reserved", reserved)

	_, err := pipe.Exec(ctx)
	return err
}

// GetStock retrieves the current counter values for a stock unit.
func (c *Client) GetStock(ctx context.Context, stockUnitID int64) (available, reserved int, err error) {
	key := stockKey(stockUnitID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if len(result) == 0 {
		return 0, 0, fmt.Errorf("stock counter not found for unit %d", stockUnitID)
	}

	var availableInt, reservedInt int
	fmt.Sscanf(result["available"], "%d", &availableInt)
	fmt.Sscanf(result["reserved"], "%d", &reservedInt)

	return availableInt, reservedInt, nil
}

func stockKey(stockUnitID int64) string {
	return fmt.Sprintf("stock:%d", stockUnitID)
}

// IncrementUsage bumps both usage counters for a discount policy within its
// reset window. Counters without a reset period use the "ALL" window and
// never expire; windowed counters expire well after the window closes.
func (c *Client) IncrementUsage(ctx context.Context, policyID, buyerID int64, windowKey string) error {
	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, usageTotalKey(policyID, windowKey))
	pipe.Incr(ctx, usageCustomerKey(policyID, buyerID, windowKey))
	pipe.Expire(ctx, usageTotalKey(policyID, windowKey), 45*24*time.Hour)
	pipe.Expire(ctx, usageCustomerKey(policyID, buyerID, windowKey), 45*24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment usage for policy %d: %w", policyID, err)
	}
	return nil
}

// GetUsage reads the usage counters for a policy and buyer in the window.
// Missing keys read as zero.
func (c *Client) GetUsage(ctx context.Context, policyID, buyerID int64, windowKey string) (customerCount, totalCount int64, err error) {
	pipe := c.rdb.Pipeline()
	customer := pipe.Get(ctx, usageCustomerKey(policyID, buyerID, windowKey))
	total := pipe.Get(ctx, usageTotalKey(policyID, windowKey))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("failed to read usage for policy %d: %w", policyID, err)
	}

	customerCount, _ = customer.Int64()
	totalCount, _ = total.Int64()
	return customerCount, totalCount, nil
}

func usageTotalKey(policyID int64, windowKey string) string {
	return fmt.Sprintf("discount:usage:%d:%s:total", policyID, windowKey)
}

func usageCustomerKey(policyID, buyerID int64, windowKey string) string {
	return fmt.Sprintf("discount:usage:%d:%s:buyer:%d", policyID, windowKey, buyerID)
}

// FirstToday reports whether this is the first occurrence of the key today.
// The marker expires at local midnight so the next day notifies again.
func (c *Client) FirstToday(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)

	return c.rdb.SetNX(ctx, fmt.Sprintf("notify:%s", key), "1", midnight.Sub(now)).Result()
}

// AcquireJobLock claims a long-lived lock for a background job.
func (c *Client) AcquireJobLock(ctx context.Context, jobName string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("job:%s", jobName), "1", ttl).Result()
}

// ReleaseJobLock drops the job lock.
func (c *Client) ReleaseJobLock(ctx context.Context, jobName string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("job:%s", jobName)).Err()
}
