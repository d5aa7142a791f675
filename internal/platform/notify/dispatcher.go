package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher はイベントをキューに積み、別 goroutine で各 Sink へ配送する。
// Publish は呼び出し側をブロックしない（キューが溢れたら捨てる）。
type Dispatcher struct {
	queue        chan Event
	sinks        []Sink
	maxAttempts  int
	retryBackoff func(attempt int) time.Duration
	sendTimeout  time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(queueSize, maxAttempts int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		queue:       make(chan Event, queueSize),
		sinks:       sinks,
		maxAttempts: maxAttempts,
		retryBackoff: func(attempt int) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt) * 500 * time.Millisecond
		},
		sendTimeout: 10 * time.Second,
		done:        make(chan struct{}),
	}
}

func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		log.Printf("[WARN] notify queue full, dropped %s event for record=%s", ev.Kind, ev.RecordID)
	}
}

// Run はキューが閉じられるか ctx が終わるまで配送を続ける
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, ev)
		}
	}
}

// Close は新規受付を止め、積まれている分を流し切るまで待つ
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		for attempt := 1; attempt <= d.maxAttempts; attempt++ {
			sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			err := s.Deliver(sctx, ev)
			cancel()
			if err == nil {
				break
			}
			if attempt == d.maxAttempts {
				log.Printf("[ERROR] notify %s: %s failed after %d attempts: %v", s.Name(), ev.Kind, attempt, err)
				break
			}
			log.Printf("[WARN] notify %s: %s attempt %d failed: %v", s.Name(), ev.Kind, attempt, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.retryBackoff(attempt)):
			}
		}
	}
}
