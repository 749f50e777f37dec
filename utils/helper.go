package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func NewTrue() *bool {
	b := true
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	keys := make(map[T]bool)
	list := []T{}
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

func NilIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// NormalizeName is the logical identity of a named record inside a tenant: lower(trim(name)).
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ClampZero returns max(0, d).
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// TryLock obtains a best-effort redis lock. Ledger correctness never depends on it:
// when redis is not connected or the lock is busy the returned release func is a no-op.
func TryLock(ctx context.Context, key string, ttl time.Duration) func() {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	noop := func() {}
	if locker == nil {
		return noop
	}
	lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	})
	if err != nil {
		if logger != nil {
			msg := "error obtaining redis lock; proceeding without lock: " + err.Error()
			if errors.Is(err, redislock.ErrNotObtained) {
				msg = "could not obtain redis lock; proceeding without lock"
			}
			logger.WithFields(logrus.Fields{"field": "TryLock", "key": key}).Warn(msg)
		}
		return noop
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && logger != nil {
			logger.WithFields(logrus.Fields{"field": "TryLock", "key": key}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}

// MaterialLockKey is the lock serializing opening-balance updates of one material.
func MaterialLockKey(tenantId string, materialId int) string {
	return fmt.Sprintf("lock:ob:%s:%d", tenantId, materialId)
}
