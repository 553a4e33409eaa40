package bus

import "sync"

const defaultBufferSize = 100

// TraceBus fans out host activity to observers such as the developer console.
// Publishing never blocks on a slow subscriber.
type TraceBus struct {
	subscribers      map[uint64]chan Event
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func New() *TraceBus {
	return &TraceBus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

// Subscribers returns the number of live subscriptions.
func (tb *TraceBus) Subscribers() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.subscribers)
}

func (tb *TraceBus) Close() {
	tb.closeOnce.Do(func() {
		close(tb.done)

		tb.mu.Lock()
		for id, ch := range tb.subscribers {
			close(ch)
			delete(tb.subscribers, id)
		}
		tb.mu.Unlock()
	})
}
