package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Lock(context.Background(), "a.pdf"))
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			m.Unlock("a.pdf")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Zero(t, m.Len())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	require.NoError(t, m.Lock(context.Background(), "a.pdf"))
	defer m.Unlock("a.pdf")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Lock(ctx, "b.pdf"))
	assert.Equal(t, 2, m.Len())
	m.Unlock("b.pdf")
	assert.Equal(t, 1, m.Len())
}

func TestKeyedMutex_LockHonoursContext(t *testing.T) {
	m := NewKeyedMutex()
	require.NoError(t, m.Lock(context.Background(), "a.pdf"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Lock(ctx, "a.pdf")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	m.Unlock("a.pdf")
	assert.Zero(t, m.Len())
}
