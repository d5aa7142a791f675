// Package keylock はキー単位の排他制御を提供する。
// 別キー同士は互いにブロックしない。
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("keylock: wait timed out")

type entry struct {
	sem  chan struct{}
	refs int // 保持中 + 待機中の数。0 になったら map から消す
}

type Locker struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func New() *Locker {
	return &Locker{keys: make(map[string]*entry)}
}

// Lock は key の排他を取得して解放関数を返す。
// timeout <= 0 なら ctx が終わるまで待つ。timeout 超過は ErrTimeout、ctx 終了は ctx.Err()。
func (l *Locker) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := l.acquireEntry(key)

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.releaseEntry(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.releaseEntry(key, e)
		return nil, ctx.Err()
	case <-expired:
		l.releaseEntry(key, e)
		return nil, ErrTimeout
	}
}

// Len は現在追跡中のキー数
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *Locker) acquireEntry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) releaseEntry(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
