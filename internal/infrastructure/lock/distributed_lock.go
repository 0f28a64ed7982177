package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis lock
// ============================================================================
//
// Acquire: SET key owner NX PX ttl
// Release and refresh: Lua scripts that only touch the key while it still
// holds our owner value, so an expired lock taken over by another instance
// is never released or extended by us.
//
// Used to keep one background job instance active across replicas and to
// hand each replica its own snowflake worker id. It is never taken on the
// money path; balances rely on the version CAS alone.

var ErrNoWorkerID = errors.New("lock: every worker id is leased")

const (
	unlockSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

	refreshSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`
)

var (
	unlockScript  = redis.NewScript(unlockSrc)
	refreshScript = redis.NewScript(refreshSrc)
)

type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Refresh extends the lock if we still own it and reports whether we do.
func (l *DistributedLock) Refresh(ctx context.Context) (bool, error) {
	n, err := refreshScript.Eval(ctx, l.client, []string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Eval(ctx, l.client, []string{l.key}, l.value).Err()
}

// NewJobLock builds the lock that elects the single active instance of a
// background job, e.g. the outbox relay.
func NewJobLock(client redis.Cmdable, job, instanceID string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "payledger:job:"+job, instanceID, ttl)
}

// ============================================================================
// Worker id lease
// ============================================================================

const workerKeyPrefix = "payledger:worker:"

// AcquireWorkerID leases the lowest free worker id in [0, maxID]. The
// returned lock must be kept alive for as long as the id is in use.
func AcquireWorkerID(ctx context.Context, client redis.Cmdable, instanceID string, maxID int64, ttl time.Duration) (int64, *DistributedLock, error) {
	for id := int64(0); id <= maxID; id++ {
		l := NewDistributedLock(client, workerKeyPrefix+strconv.FormatInt(id, 10), instanceID, ttl)
		ok, err := l.TryLock(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("lease worker id %d: %w", id, err)
		}
		if ok {
			return id, l, nil
		}
	}
	return 0, nil, ErrNoWorkerID
}

// KeepAlive refreshes the lock every interval until ctx is done. A lease
// that expired unclaimed is taken back; one taken over by another owner is
// reported and left alone.
func (l *DistributedLock) KeepAlive(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.keepAliveOnce(ctx, log)
		}
	}
}

func (l *DistributedLock) keepAliveOnce(ctx context.Context, log *slog.Logger) bool {
	held, err := l.Refresh(ctx)
	if err != nil {
		log.Warn("lease refresh failed", "key", l.key, "error", err)
		return false
	}
	if held {
		return true
	}
	held, err = l.TryLock(ctx)
	if err != nil {
		log.Warn("lease reacquire failed", "key", l.key, "error", err)
		return false
	}
	if !held {
		log.Error("lease taken over by another owner", "key", l.key)
	}
	return held
}
