package memhost

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"saladict/pkg/browser"
	"saladict/pkg/bus"
)

// listenerSet keeps listeners in registration order. Adding a listener that
// is already present is a no-op, as with the browser's event objects.
type listenerSet[L comparable] struct {
	mu        sync.Mutex
	listeners []L
}

func (s *listenerSet[L]) add(l L) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.listeners, l) {
		return
	}
	s.listeners = append(s.listeners, l)
}

func (s *listenerSet[L]) remove(l L) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = slices.DeleteFunc(s.listeners, func(other L) bool { return other == l })
}

func (s *listenerSet[L]) has(l L) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.listeners, l)
}

func (s *listenerSet[L]) snapshot() []L {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.listeners)
}

func (s *listenerSet[L]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *listenerSet[L]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = nil
}

type messageEvent struct {
	listenerSet[*browser.MessageListener]
}

func (e *messageEvent) AddListener(l *browser.MessageListener)      { e.add(l) }
func (e *messageEvent) RemoveListener(l *browser.MessageListener)   { e.remove(l) }
func (e *messageEvent) HasListener(l *browser.MessageListener) bool { return e.has(l) }

// Len returns the number of registered listeners.
func (e *messageEvent) Len() int { return e.len() }

// OnMessage returns the context's runtime.onMessage registry.
func (c *Context) OnMessage() browser.MessageEvent {
	return c.messages
}

// MessageListeners returns how many listeners the context has on runtime.onMessage.
func (c *Context) MessageListeners() int {
	return c.messages.Len()
}

func (c *Context) GetURL(path string) string {
	return c.host.GetURL(path)
}

// SendMessage delivers msg to every extension page except c.
func (c *Context) SendMessage(ctx context.Context, msg browser.Message) (browser.Response, error) {
	targets := c.host.snapshot(func(other *Context) bool {
		return other != c && other.kind.extensionPage()
	})
	return c.host.deliver(ctx, c, targets, msg, 0)
}

type tabsAPI struct {
	c *Context
}

// SendMessage delivers msg to every content context of tabID.
func (t tabsAPI) SendMessage(ctx context.Context, tabID int, msg browser.Message) (browser.Response, error) {
	if _, ok := t.c.host.Tab(tabID); !ok {
		return browser.Response{}, fmt.Errorf("%w %d", browser.ErrNoTab, tabID)
	}
	targets := t.c.host.snapshot(func(other *Context) bool {
		return other != t.c && other.kind == KindContent && other.tabID == tabID
	})
	return t.c.host.deliver(ctx, t.c, targets, msg, tabID)
}

func (t tabsAPI) Query(_ context.Context, url string) ([]browser.Tab, error) {
	h := t.c.host
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []browser.Tab
	for _, tab := range h.tabs {
		if url == "" || tab.URL == url {
			out = append(out, *tab)
		}
	}
	slices.SortFunc(out, func(a, b browser.Tab) int { return a.ID - b.ID })
	return out, nil
}

func (t tabsAPI) Create(_ context.Context, url string) (browser.Tab, error) {
	opened := t.c.host.OpenTab(TabSpec{URL: url})
	tab, ok := t.c.host.Tab(opened.tabID)
	if !ok {
		return browser.Tab{}, fmt.Errorf("%w %d", browser.ErrNoTab, opened.tabID)
	}
	return tab, nil
}

// Highlight focuses an existing tab and its window.
func (t tabsAPI) Highlight(_ context.Context, tab browser.Tab) error {
	h := t.c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[tab.ID]; !ok {
		return fmt.Errorf("%w %d", browser.ErrNoTab, tab.ID)
	}
	h.activeTabID = tab.ID
	return nil
}

// deliver runs every listener of every target with its own decoded copy of
// msg. The first listener to return a value or an error answers the sender;
// later listeners still run.
func (h *Host) deliver(ctx context.Context, from *Context, targets []*Context, msg browser.Message, tabID int) (browser.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.IsZero() {
		return browser.Response{}, browser.ErrInvalidMessage
	}

	h.publish(bus.Event{
		Type:      bus.EventMessageSent,
		ContextID: from.id,
		Context:   from.name,
		TabID:     tabID,
		MsgType:   string(msg.Type()),
		Payload:   msg.String(),
	})

	receivers := 0
	for _, target := range targets {
		receivers += target.messages.Len()
	}
	if receivers == 0 {
		h.log.Debug("Message dropped", "from", from.name, "msg_type", msg.Type(), "tab_id", tabID)
		h.publish(bus.Event{
			Type:      bus.EventMessageDropped,
			ContextID: from.id,
			Context:   from.name,
			TabID:     tabID,
			MsgType:   string(msg.Type()),
			Error:     browser.ErrNoReceiver.Error(),
		})
		return browser.Response{}, browser.ErrNoReceiver
	}

	sender := from.sender()
	wire := slices.Clone(msg.Bytes())

	var (
		answered bool
		response browser.Response
		respErr  error
	)
	for _, target := range targets {
		for _, listener := range target.messages.snapshot() {
			if err := ctx.Err(); err != nil {
				return browser.Response{}, err
			}

			copyMsg, err := browser.ParseMessage(slices.Clone(wire))
			if err != nil {
				return browser.Response{}, err
			}

			h.publish(bus.Event{
				Type:      bus.EventMessageDelivered,
				ContextID: target.id,
				Context:   target.name,
				TabID:     target.tabID,
				MsgType:   string(copyMsg.Type()),
			})

			value, err := listener.Call(ctx, copyMsg, sender)
			if answered {
				continue
			}
			if err != nil {
				answered = true
				respErr = err
				continue
			}
			if value == nil {
				continue
			}

			resp, err := browser.NewResponse(value)
			if err != nil {
				answered = true
				respErr = err
				continue
			}
			answered = true
			response = resp
			h.publish(bus.Event{
				Type:      bus.EventMessageResponded,
				ContextID: target.id,
				Context:   target.name,
				TabID:     target.tabID,
				MsgType:   string(copyMsg.Type()),
				Payload:   string(resp.Bytes()),
			})
		}
	}

	if respErr != nil {
		h.log.Debug("Message listener failed", "from", from.name, "msg_type", msg.Type(), "err", respErr)
		return browser.Response{}, respErr
	}
	return response, nil
}
