package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]time.Time)}
}

func (m *memoryStore) SetNX(_ context.Context, key, _ string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.entries[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	m.entries[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func TestKeyIsOrderIndependent(t *testing.T) {
	a := Key(42, []int64{3, 1, 2})
	b := Key(42, []int64{2, 3, 1})
	c := Key(42, []int64{1, 2, 3, 3, 2})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "duplicates must not change the key")

	assert.NotEqual(t, a, Key(43, []int64{1, 2, 3}), "different buyers never collide")
	assert.NotEqual(t, a, Key(42, []int64{1, 2}), "different carts never collide")
}

func TestTryAcquireMutualExclusion(t *testing.T) {
	lock := NewLock(newMemoryStore(), time.Minute)
	ctx := context.Background()

	const attempts = 32
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := lock.TryAcquire(ctx, 42, []int64{1, 2, 3})
			require.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	acquired := 0
	for ok := range results {
		if ok {
			acquired++
		}
	}
	assert.Equal(t, 1, acquired, "exactly one concurrent attempt wins")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	lock := NewLock(newMemoryStore(), time.Minute)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, 7, []int64{10})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.TryAcquire(ctx, 7, []int64{10})
	require.NoError(t, err)
	assert.False(t, ok, "second attempt within the TTL is rejected")

	lock.Release(ctx, 7, []int64{10})

	ok, err = lock.TryAcquire(ctx, 7, []int64{10})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockCanBeTaken(t *testing.T) {
	lock := NewLock(newMemoryStore(), 10*time.Millisecond)
	ctx := context.Background()

	ok, err := lock.TryAcquire(ctx, 7, []int64{10})
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = lock.TryAcquire(ctx, 7, []int64{10})
	require.NoError(t, err)
	assert.True(t, ok, "TTL expiry is the cancellation mechanism")
}
