package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"saladict/pkg/browser"
	"saladict/pkg/logger"
	"saladict/pkg/message"
	"saladict/pkg/stream"
)

type Option func(*Sync)

func WithLogger(log *slog.Logger) Option {
	return func(s *Sync) {
		if log != nil {
			s.log = log
		}
	}
}

// Sync tracks the latest selection made on the page that owns router.
type Sync struct {
	router *message.Router
	log    *slog.Logger

	mu       sync.RWMutex
	latest   Message
	seen     int
	listener *browser.MessageListener
	started  bool
	nextSub  uint64
	subs     map[uint64]func(Message)
}

func NewSync(router *message.Router, opts ...Option) *Sync {
	s := &Sync{
		router: router,
		log:    logger.Discard(),
		latest: NewMessage(DefaultInfo()),
		subs:   make(map[uint64]func(Message)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "selection.sync")
	s.listener = browser.NewMessageListener(s.handle)
	return s
}

// Start listens for self selection messages. Calling it twice is harmless.
func (s *Sync) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.router.Self().AddTypeListener(browser.MsgSelection, s.listener)
}

// Stop stops listening unless a Stream subscription still needs selections.
func (s *Sync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	if len(s.subs) == 0 {
		s.router.Self().RemoveTypeListener(browser.MsgSelection, s.listener)
	}
}

func (s *Sync) handle(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var next Message
	if err := msg.Decode(&next); err != nil {
		s.log.Warn("Invalid selection message", "err", err)
		return nil, nil
	}

	s.mu.Lock()
	if !next.Force && s.seen > 0 && next.SelectionInfo.IsSame(s.latest.SelectionInfo) {
		s.mu.Unlock()
		s.log.Debug("Selection unchanged", "text", next.SelectionInfo.Text)
		return nil, nil
	}
	s.latest = next
	s.seen++
	subs := make([]func(Message), 0, len(s.subs))
	for _, emit := range s.subs {
		subs = append(subs, emit)
	}
	s.mu.Unlock()

	s.log.Debug("Selection updated", "text", next.SelectionInfo.Text)
	for _, emit := range subs {
		emit(next)
	}
	return nil, nil
}

// Latest returns the most recent selection, or an empty one.
func (s *Sync) Latest() Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Count returns how many distinct selections were recorded.
func (s *Sync) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen
}

// Stream yields each selection Sync accepts, after the same-selection check
// that Latest and Count see. Subscribing listens for selections even when
// Sync was never started.
func (s *Sync) Stream() *stream.Stream[Message] {
	return stream.New(func(emit func(Message)) func() {
		s.mu.Lock()
		id := s.nextSub
		s.nextSub++
		s.subs[id] = emit
		s.router.Self().AddTypeListener(browser.MsgSelection, s.listener)
		s.mu.Unlock()

		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			if len(s.subs) == 0 && !s.started {
				s.router.Self().RemoveTypeListener(browser.MsgSelection, s.listener)
			}
		}
	})
}

// Publish announces a selection to every script of the sending page. Page
// fields missing from info are filled from the page identity.
func Publish(ctx context.Context, router *message.Router, msg Message) error {
	page, err := router.Self().InitClient(ctx)
	if err != nil {
		return fmt.Errorf("resolve page: %w", err)
	}
	msg.Type = browser.MsgSelection
	msg.SelectionInfo = Resolve(msg.SelectionInfo, page)
	_, err = router.Self().Send(ctx, msg)
	return err
}
