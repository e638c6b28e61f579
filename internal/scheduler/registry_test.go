package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, testLogger()), mr
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry(nil, time.Minute, testLogger())
	noop := func(context.Context, time.Time) (any, error) { return nil, nil }

	require.NoError(t, reg.Register(Task{Name: TaskDailyRewards, Run: noop}))
	err := reg.Register(Task{Name: TaskDailyRewards, Run: noop})
	assert.ErrorIs(t, err, ErrDuplicateTask)

	require.NoError(t, reg.Register(Task{Name: TaskFeeBalanceMonitor, Run: noop}))
	assert.Equal(t, []string{TaskDailyRewards, TaskFeeBalanceMonitor}, reg.Names())
}

func TestRegisterRequiresRunFunction(t *testing.T) {
	reg := NewRegistry(nil, time.Minute, testLogger())
	assert.Error(t, reg.Register(Task{Name: "empty"}))
}

func TestRunNowUnknownTask(t *testing.T) {
	reg := NewRegistry(nil, time.Minute, testLogger())
	_, err := reg.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRunNowReturnsSummaryAndError(t *testing.T) {
	reg := NewRegistry(nil, time.Minute, testLogger())
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return fixed }

	var seen time.Time
	require.NoError(t, reg.Register(Task{Name: "ok", Run: func(_ context.Context, now time.Time) (any, error) {
		seen = now
		return 7, nil
	}}))
	boom := errors.New("boom")
	require.NoError(t, reg.Register(Task{Name: "fails", Run: func(context.Context, time.Time) (any, error) {
		return nil, boom
	}}))

	result, err := reg.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, fixed, seen)

	_, err = reg.RunNow(context.Background(), "fails")
	assert.ErrorIs(t, err, boom)
}

func TestRunNowSkipsWhenLockHeld(t *testing.T) {
	lock, mr := newRedisLock(t)
	reg := NewRegistry(lock, time.Minute, testLogger())

	var runs int32
	require.NoError(t, reg.Register(Task{
		Name:    TaskPaymentMonitor,
		LockKey: PaymentMonitorLockKey,
		Run: func(context.Context, time.Time) (any, error) {
			atomic.AddInt32(&runs, 1)
			return nil, nil
		},
	}))

	require.NoError(t, mr.Set("plexledger:lock:"+PaymentMonitorLockKey, "other-instance"))
	_, err := reg.RunNow(context.Background(), TaskPaymentMonitor)
	assert.ErrorIs(t, err, ErrTaskLocked)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	mr.Del("plexledger:lock:" + PaymentMonitorLockKey)
	_, err = reg.RunNow(context.Background(), TaskPaymentMonitor)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.False(t, mr.Exists("plexledger:lock:"+PaymentMonitorLockKey), "lock should be released after the run")
}

func TestRedisLockReleaseKeepsForeignToken(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	release, acquired, err := lock.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := lock.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("plexledger:lock:k", "someone-else"))
	release()
	value, err := mr.Get("plexledger:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLockExpires(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	_, acquired, err := lock.Acquire(ctx, "ttl", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)
	_, acquired, err = lock.Acquire(ctx, "ttl", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLocalLockIsExclusive(t *testing.T) {
	lock := NewLocalLock()
	release, ok, err := lock.Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = lock.Acquire(context.Background(), "x", time.Minute)
	assert.False(t, ok)

	release()
	_, ok, _ = lock.Acquire(context.Background(), "x", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockKeysAreIndependent(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()
	releaseMonitor, ok, err := lock.Acquire(ctx, PaymentMonitorLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	releaseRewards, ok, err := lock.Acquire(ctx, TaskDailyRewards, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "a held key must not block a different key")

	_, ok, _ = lock.Acquire(ctx, TaskDailyRewards, time.Minute)
	assert.False(t, ok)

	releaseMonitor()
	releaseMonitor()
	_, ok, _ = lock.Acquire(ctx, TaskDailyRewards, time.Minute)
	assert.False(t, ok, "releasing one key must leave the other held")

	releaseRewards()
	_, ok, _ = lock.Acquire(ctx, TaskDailyRewards, time.Minute)
	assert.True(t, ok)
}

func TestSchedulerRegistersIntervalTasksOnly(t *testing.T) {
	reg := NewRegistry(NewLocalLock(), time.Minute, testLogger())
	noop := func(context.Context, time.Time) (any, error) { return nil, nil }
	require.NoError(t, reg.Register(Task{Name: TaskDailyRewards, Interval: time.Hour, Run: noop}))
	require.NoError(t, reg.Register(Task{Name: TaskRunSessions, Run: noop}))

	s, err := New(reg, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.Equal(t, 1, s.Jobs())
}
