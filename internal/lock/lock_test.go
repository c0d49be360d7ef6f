package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

func testSerialization(t *testing.T, l Locker) {
	devEUI := lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock, err := l.Lock(context.Background(), devEUI)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func testTimeout(t *testing.T, l Locker) {
	devEUI := lorawan.EUI64{8}

	unlock, err := l.Lock(context.Background(), devEUI)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, devEUI)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// other keys are independent
	other, err := l.Lock(context.Background(), lorawan.EUI64{9})
	require.NoError(t, err)
	other()
}

func TestKeyedMutex(t *testing.T) {
	m := NewKeyedMutex()

	t.Run("serialization", func(t *testing.T) { testSerialization(t, m) })
	t.Run("timeout", func(t *testing.T) { testTimeout(t, m) })

	t.Run("cleanup", func(t *testing.T) {
		unlock, err := m.Lock(context.Background(), lorawan.EUI64{1})
		require.NoError(t, err)
		assert.Equal(t, 1, m.Len())
		unlock()
		unlock()
		assert.Equal(t, 0, m.Len())
	})
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	l := NewRedisLocker(client, time.Second)

	t.Run("serialization", func(t *testing.T) { testSerialization(t, l) })
	t.Run("timeout", func(t *testing.T) { testTimeout(t, l) })

	t.Run("release keeps foreign lease", func(t *testing.T) {
		devEUI := lorawan.EUI64{7}
		unlock, err := l.Lock(context.Background(), devEUI)
		require.NoError(t, err)

		key := "js:lock:" + devEUI.String()
		require.NoError(t, client.Set(context.Background(), key, "other", time.Second).Err())
		unlock()

		val, err := client.Get(context.Background(), key).Result()
		require.NoError(t, err)
		assert.Equal(t, "other", val)
		client.Del(context.Background(), key)
	})
}
