package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/apply_order_event.lua
var applyOrderEventScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	statsKey          = "stats:orders"
	idempotencyPrefix = "idempotency:"
	processedPrefix   = "stats:processed:"
	lockPrefix        = "lock:"

	// idempotencyPending marks a claimed key whose order is still being placed
	idempotencyPending = "pending"

	processedTTL = 7 * 24 * time.Hour
)

// ErrIdempotencyInFlight is returned when a key is claimed but no order has been recorded for it yet
var ErrIdempotencyInFlight = errors.New("request with this idempotency key is in progress")

type Client struct {
	rdb          *redis.Client
	applyScript  *redis.Script
	unlockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection
func Wrap(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		applyScript:  redis.NewScript(applyOrderEventScript),
		unlockScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimIdempotencyKey reserves key for a new request.
// It returns the order ID already recorded for the key, or "" when the claim is new.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (string, error) {
	fullKey := idempotencyPrefix + key

	ok, err := c.rdb.SetNX(ctx, fullKey, idempotencyPending, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", nil
	}

	existing, err := c.rdb.Get(ctx, fullKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return c.ClaimIdempotencyKey(ctx, key, ttl)
	}
	if err != nil {
		return "", fmt.Errorf("read idempotency key: %w", err)
	}
	if existing == idempotencyPending {
		return "", ErrIdempotencyInFlight
	}
	return existing, nil
}

// CompleteIdempotencyKey records the order created for key
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyPrefix+key, orderID, ttl).Err()
}

// ForgetIdempotencyKey drops a claim whose request failed, so it can be retried
func (c *Client) ForgetIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyPrefix+key).Err()
}

// OrderStats is the dashboard projection of the order stream
type OrderStats struct {
	OrdersTotal int64            `json:"orders_total"`
	Revenue     int64            `json:"revenue"`
	ByStatus    map[string]int64 `json:"by_status"`
}

// ApplyOrderCreated counts a new order once per event ID
func (c *Client) ApplyOrderCreated(ctx context.Context, eventID, status string, amount int64) (bool, error) {
	return c.applyEvent(ctx, eventID, "created", "", status, amount)
}

// ApplyOrderTransition moves an order between status counters once per event ID
func (c *Client) ApplyOrderTransition(ctx context.Context, eventID, from, to string, amount int64) (bool, error) {
	return c.applyEvent(ctx, eventID, "transition", from, to, amount)
}

func (c *Client) applyEvent(ctx context.Context, eventID, kind, from, to string, amount int64) (bool, error) {
	keys := []string{statsKey, processedPrefix + eventID}
	result, err := c.applyScript.Run(ctx, c.rdb, keys,
		int64(processedTTL/time.Second), kind, from, to, amount).Result()
	if err != nil {
		return false, fmt.Errorf("apply order event script failed: %w", err)
	}

	applied, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return applied == 1, nil
}

// GetOrderStats reads the current projection
func (c *Client) GetOrderStats(ctx context.Context) (*OrderStats, error) {
	result, err := c.rdb.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, err
	}

	stats := &OrderStats{ByStatus: make(map[string]int64)}
	for field, raw := range result {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats field %s: %w", field, err)
		}
		switch {
		case field == "orders_total":
			stats.OrdersTotal = n
		case field == "revenue":
			stats.Revenue = n
		case strings.HasPrefix(field, "status:"):
			stats.ByStatus[strings.TrimPrefix(field, "status:")] = n
		}
	}
	return stats, nil
}

// AcquireLock acquires a distributed lock held under token
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockPrefix+lockKey, token, ttl).Result()
}

// ReleaseLock releases the lock if token still holds it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.unlockScript.Run(ctx, c.rdb, []string{lockPrefix + lockKey}, token).Err()
}
