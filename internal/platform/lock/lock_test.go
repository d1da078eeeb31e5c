package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "patient-1/vital_signs/Temperature")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotAcquired))

	unlock()
	unlock()
	assert.Equal(t, 0, l.Len())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_LockAndRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, "safety:lock:", zerolog.Nop())

	unlock, err := l.Lock(context.Background(), "med-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("safety:lock:med-1"))
	ttl := mr.TTL("safety:lock:med-1")
	assert.True(t, ttl > 0 && ttl <= 30*time.Second)

	unlock()
	assert.False(t, mr.Exists("safety:lock:med-1"))
}

func TestRedis_HeldKeyTimesOut(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedis(client, "safety:lock:", zerolog.Nop())
	l.MaxWait = 100 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "med-2")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "med-2")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedis(client, "safety:lock:", zerolog.Nop())

	unlock, err := l.Lock(context.Background(), "med-3")
	require.NoError(t, err)

	// Simulate expiry and another holder taking over.
	require.NoError(t, mr.Set("safety:lock:med-3", "someone-else"))
	unlock()

	got, err := mr.Get("safety:lock:med-3")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_WaitsForRelease(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewRedis(client, "safety:lock:", zerolog.Nop())

	unlock, err := l.Lock(context.Background(), "med-4")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	unlock2, err := l.Lock(context.Background(), "med-4")
	require.NoError(t, err)
	unlock2()
}
