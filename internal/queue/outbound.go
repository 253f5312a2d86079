package queue

import (
	"context"
	"sync"
)

// Outbound is a closeable FIFO with a single producer (the dispatcher)
// and a single consumer (one client session's writer). Once closed, it
// never accepts another write — Push on a closed queue is a silent no-op,
// never an error, matching the dispatcher's "writes to closed client
// queue are a no-op" contract.
type Outbound struct {
	mu     sync.Mutex
	items  []any
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// NewOutbound returns an empty, open outbound queue.
func NewOutbound() *Outbound {
	return &Outbound{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push enqueues v, or drops it silently if the queue has been closed.
func (o *Outbound) Push(v any) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.items = append(o.items, v)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Close marks the queue closed. Idempotent. Items already enqueued are
// still delivered to a draining Recv; only new Pushes are dropped.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

// Recv blocks until an item is available, the queue is closed and fully
// drained, or ctx is done. ok is false exactly when there is nothing left
// to deliver — the writer activity should exit its drain loop.
func (o *Outbound) Recv(ctx context.Context) (v any, ok bool) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			v = o.items[0]
			o.items = o.items[1:]
			o.mu.Unlock()
			return v, true
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-o.ready:
		case <-o.done:
		case <-ctx.Done():
			return nil, false
		}
	}
}
