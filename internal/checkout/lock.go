package checkout

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// DefaultTTL bounds how long a crashed checkout can hold its lock.
const DefaultTTL = 5 * time.Second

// LockStore is the minimal key-value contract the lock needs: one atomic
// set-if-absent with expiry and a delete. Redis satisfies it; tests use an
// in-memory fake.
type LockStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Lock is the distributed mutual-exclusion guard around a checkout
// attempt, keyed by buyer and product set.
type Lock struct {
	store  LockStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewLock(store LockStore, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{store: store, ttl: ttl, logger: util.GetLogger()}
}

// Key builds the deterministic lock key: the product ids are deduplicated
// and sorted so the same cart collides regardless of item order.
func Key(buyerID int64, productIDs []int64) string {
	seen := make(map[int64]struct{}, len(productIDs))
	ids := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("checkout:%d:%s", buyerID, strings.Join(parts, "-"))
}

// TryAcquire attempts the lock with a single atomic set-if-absent. A false
// result means another checkout for the same buyer and cart is in flight;
// callers must reject the attempt, never block and retry.
func (l *Lock) TryAcquire(ctx context.Context, buyerID int64, productIDs []int64) (bool, error) {
	key := Key(buyerID, productIDs)

	acquired, err := l.store.SetNX(ctx, key, "1", l.ttl)
	if err != nil {
		return false, fmt.Errorf("checkout lock store failed: %w", err)
	}
	if !acquired {
		util.CheckoutLockContentionTotal.Inc()
		l.logger.Info("Checkout lock contended",
			zap.Int64("buyer_id", buyerID),
			zap.String("key", key))
	}
	return acquired, nil
}

// Release drops the lock early once the payment reaches a terminal state.
// TTL expiry is the backstop, so a failed delete is logged, not fatal.
func (l *Lock) Release(ctx context.Context, buyerID int64, productIDs []int64) {
	key := Key(buyerID, productIDs)
	if err := l.store.Del(ctx, key); err != nil {
		l.logger.Warn("Failed to release checkout lock",
			zap.String("key", key),
			zap.Error(err))
	}
}
