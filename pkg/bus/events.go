package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventMessageSent      EventType = "message_sent"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageResponded EventType = "message_responded"
	EventMessageDropped   EventType = "message_dropped"
	EventStorageChanged   EventType = "storage_changed"
	EventContextOpened    EventType = "context_opened"
	EventContextClosed    EventType = "context_closed"
)

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	ContextID string            `json:"context_id,omitempty"`
	Context   string            `json:"context,omitempty"`
	TabID     int               `json:"tab_id,omitempty"`
	MsgType   string            `json:"msg_type,omitempty"`
	Area      string            `json:"area,omitempty"`
	Keys      []string          `json:"keys,omitempty"`
	Payload   string            `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Publish hands event to every subscriber with room in its buffer.
// A nil bus accepts and discards events.
func (tb *TraceBus) Publish(ctx context.Context, event Event) bool {
	if tb == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-tb.done:
		return false
	default:
	}

	// Subscriber channels are only closed under the write lock, and the
	// sends below never block, so the read lock is held across them.
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	for _, ch := range tb.subscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the host on slow observers.
		}
	}

	return true
}

func (tb *TraceBus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	tb.mu.Lock()
	select {
	case <-tb.done:
		tb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := tb.nextSubscriberID
	tb.nextSubscriberID++
	tb.subscribers[id] = ch
	tb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			tb.mu.Lock()
			if eventCh, ok := tb.subscribers[id]; ok {
				delete(tb.subscribers, id)
				close(eventCh)
			}
			tb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-tb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
