package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"casedata-engine/internal/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func countingJob(name string, calls *int32) Job {
	return Job{
		Name:          name,
		Interval:      time.Hour,
		LockAtMostFor: time.Minute,
		Run: func(context.Context) error {
			atomic.AddInt32(calls, 1)
			return nil
		},
	}
}

func TestScheduler_RegisterValidates(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())

	assert.Error(t, s.Register(Job{Name: "x", Interval: time.Minute, LockAtMostFor: time.Minute}))
	assert.Error(t, s.Register(Job{Name: "x", Run: func(context.Context) error { return nil }}))

	var calls int32
	require.NoError(t, s.Register(countingJob("suspension-expiry", &calls)))
	require.NoError(t, s.Register(countingJob("conversation-sync", &calls)))
	assert.Equal(t, []string{"conversation-sync", "suspension-expiry"}, s.Jobs())
}

func TestScheduler_TriggerRunsThroughLock(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())
	var calls int32
	require.NoError(t, s.Register(countingJob("mailbox-ingestion", &calls)))

	require.NoError(t, s.Trigger(context.Background(), "mailbox-ingestion"))
	require.NoError(t, s.Trigger(context.Background(), "mailbox-ingestion"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScheduler_TriggerUnknownJob(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())

	err := s.Trigger(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_JobErrorIsNotPropagated(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())
	require.NoError(t, s.Register(Job{
		Name:          "notification-cleanup",
		Interval:      time.Hour,
		LockAtMostFor: time.Minute,
		Run:           func(context.Context) error { return errors.New("db down") },
	}))

	assert.NoError(t, s.Trigger(context.Background(), "notification-cleanup"))
}

// 两个实例共享同一个 Redis：持锁期间另一个实例本次不执行
func TestScheduler_OneInstancePerTick(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})
	job := Job{
		Name:          "webmessage-ingestion",
		Interval:      time.Hour,
		LockAtMostFor: time.Minute,
		Run: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		},
	}

	a := New(lock.NewRedisLocker(client, "casedata:lock:", zap.NewNop()), zap.NewNop())
	b := New(lock.NewRedisLocker(client, "casedata:lock:", zap.NewNop()), zap.NewNop())
	require.NoError(t, a.Register(job))
	require.NoError(t, b.Register(job))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Trigger(context.Background(), job.Name)
	}()
	<-started

	require.NoError(t, b.Trigger(context.Background(), job.Name))
	close(release)
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, mr.Exists("casedata:lock:webmessage-ingestion"))
}

func TestScheduler_StartTicksUntilCancelled(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())
	var calls int32
	job := countingJob("suspension-expiry", &calls)
	job.Interval = 10 * time.Millisecond
	require.NoError(t, s.Register(job))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}

func TestScheduler_TriggerHandler(t *testing.T) {
	s := New(lock.NewLocalLocker(), zap.NewNop())
	var calls int32
	require.NoError(t, s.Register(countingJob("conversation-sync", &calls)))
	handler := s.TriggerHandler(context.Background())

	require.NoError(t, handler("casedata/jobs/trigger", []byte(`{"job":"conversation-sync"}`)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Error(t, handler("casedata/jobs/trigger", []byte(`not json`)))
	assert.Error(t, handler("casedata/jobs/trigger", []byte(`{}`)))
	assert.ErrorIs(t, handler("casedata/jobs/trigger", []byte(`{"job":"unknown"}`)), ErrUnknownJob)
}
