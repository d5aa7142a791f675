package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SameKeyIsExclusive(t *testing.T) {
	l := New()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "book-1", time.Second)
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

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	l := New()
	unlockA, err := l.Lock(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(context.Background(), "b", time.Second)
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lock on a different key was blocked")
	}
}

func TestLock_Timeout(t *testing.T) {
	l := New()
	unlock, err := l.Lock(context.Background(), "k", 0)
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestLock_ContextCanceled(t *testing.T) {
	l := New()
	unlock, err := l.Lock(context.Background(), "k", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = l.Lock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLock_UnlockTwiceIsSafe(t *testing.T) {
	l := New()
	unlock, err := l.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	unlock()
	unlock()

	unlock2, err := l.Lock(context.Background(), "k", 50*time.Millisecond)
	require.NoError(t, err)
	unlock2()
}
