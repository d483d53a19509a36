package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"github.com/bsm/redislock"
)

// OrderLockTTL bounds how long a stuck holder can block other writers.
// Transitions are short request-scoped transactions; 30s is generous.
const OrderLockTTL = 30 * time.Second

var ErrOrderLocked = errors.New("order is locked by another transition")

// ObtainOrderLock takes the exclusive per-order lock that serializes status
// transitions. The caller MUST hold it across the whole transaction and
// release it only after commit/rollback:
//
//	lock, err := utils.ObtainOrderLock(ctx, businessId, orderId)
//	...
//	defer lock.Release(ctx)
//
// Two concurrent transitions against the same order must never both pass
// validation; this lock plus the row lock on the order is what prevents it.
func ObtainOrderLock(ctx context.Context, businessId string, orderId int) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when the redis lock isn't initialized yet.
		config.LogError(logger, "lock.go", "ObtainOrderLock", "Redis lock not initialized", businessId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	lockKey := fmt.Sprintf("orderStatusLock:%s:%d", businessId, orderId)
	lock, err := locker.Obtain(ctx, lockKey, OrderLockTTL, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, "lock.go", "ObtainOrderLock", "Could not obtain lock for order", orderId, err)
		return nil, ErrOrderLocked
	} else if err != nil {
		config.LogError(logger, "lock.go", "ObtainOrderLock", "Error obtaining lock for order", orderId, err)
		return nil, err
	}

	return lock, nil
}
