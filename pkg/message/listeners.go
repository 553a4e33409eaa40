package message

import (
	"context"

	"saladict/pkg/browser"
	"saladict/pkg/registry"
	"saladict/pkg/stream"
)

// space is one address space (cross-context or self) of a Router. It owns the
// registry of wrappers installed on the context's runtime.onMessage.
type space struct {
	r    *Router
	self bool
	reg  *registry.Registry[*browser.MessageListener, browser.MsgType, *browser.MessageListener]
}

func newSpace(r *Router, self bool) *space {
	return &space{
		r:    r,
		self: self,
		reg:  registry.New[*browser.MessageListener, browser.MsgType, *browser.MessageListener](),
	}
}

func (s *space) name() string {
	if s.self {
		return "self"
	}
	return "cross"
}

// add installs the wrapper for (cb, t) unless it already exists. Adding the
// same wrapper again is a no-op on the host event as well.
func (s *space) add(t browser.MsgType, cb *browser.MessageListener) {
	if cb == nil {
		panic("message: nil listener")
	}
	if t == "" {
		t = browser.MsgNull
	}
	events := s.r.rt.OnMessage()
	_, created := s.reg.Ensure(cb, t, func() *browser.MessageListener {
		return s.wrap(t, cb)
	}, events.AddListener)
	if created {
		s.r.log.Debug("Listener added", "space", s.name(), "msg_type", t)
	}
	if s.self {
		s.r.warmUp()
	}
}

// remove drops the wrapper for (cb, t). A callback that was never registered
// through the router is removed from the host event directly.
func (s *space) remove(t browser.MsgType, cb *browser.MessageListener) {
	if cb == nil {
		panic("message: nil listener")
	}
	if t == "" {
		t = browser.MsgNull
	}
	events := s.r.rt.OnMessage()
	if _, ok := s.reg.Take(cb, t, events.RemoveListener); ok {
		s.r.log.Debug("Listener removed", "space", s.name(), "msg_type", t)
		return
	}
	events.RemoveListener(cb)
}

// removeAll drops every wrapper of cb in this space.
func (s *space) removeAll(cb *browser.MessageListener) {
	if cb == nil {
		panic("message: nil listener")
	}
	events := s.r.rt.OnMessage()
	wrappers := s.reg.TakeAll(cb, events.RemoveListener)
	if len(wrappers) == 0 {
		events.RemoveListener(cb)
		return
	}
	s.r.log.Debug("Listener removed", "space", s.name(), "scopes", len(wrappers))
}

// wrap builds the dispatch wrapper. Self wrappers only accept messages tagged
// with this page's id; cross wrappers only accept untagged messages.
func (s *space) wrap(t browser.MsgType, cb *browser.MessageListener) *browser.MessageListener {
	return browser.NewMessageListener(func(ctx context.Context, msg browser.Message, sender browser.Sender) (any, error) {
		if msg.IsZero() {
			return nil, nil
		}
		if s.self {
			pageID := s.r.pageID()
			if pageID == "" || msg.PageID() != pageID {
				return nil, nil
			}
		} else if msg.HasPageID() {
			return nil, nil
		}
		if t != browser.MsgNull && msg.Type() != t {
			return nil, nil
		}
		return cb.Call(ctx, msg, sender)
	})
}

func (s *space) stream(t browser.MsgType) *stream.Stream[browser.Message] {
	return stream.FromEventPattern(
		func(l *browser.MessageListener) { s.add(t, l) },
		func(l *browser.MessageListener) { s.remove(t, l) },
		func(emit func(browser.Message)) *browser.MessageListener {
			return browser.NewMessageListener(func(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
				emit(msg)
				return nil, nil
			})
		},
	)
}

// registered reports whether cb has a wrapper for t.
func (s *space) registered(t browser.MsgType, cb *browser.MessageListener) bool {
	if t == "" {
		t = browser.MsgNull
	}
	return s.reg.Has(cb, t)
}
