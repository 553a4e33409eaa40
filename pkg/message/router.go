// Package message routes typed messages between the execution contexts of
// the extension. Each context owns one Router. Besides ordinary
// cross-context traffic a Router exposes a self address space whose messages
// bounce through the background page back to the page that sent them.
package message

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"saladict/pkg/browser"
	"saladict/pkg/config"
	"saladict/pkg/logger"
	"saladict/pkg/stream"
)

type Option func(*Router)

func WithLogger(log *slog.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// WithBuildMode selects how sends that reach no listener are reported.
func WithBuildMode(mode config.BuildMode) Option {
	return func(r *Router) {
		if mode != "" {
			r.mode = mode
		}
	}
}

// Router is the messaging entry point of one execution context.
type Router struct {
	rt   browser.Runtime
	tabs browser.Tabs
	log  *slog.Logger
	mode config.BuildMode

	cross *space
	self  *space

	mu        sync.RWMutex
	page      PageInfo
	hasPage   bool
	handshake singleflight.Group
	server    *browser.MessageListener
}

// New builds the router of a context from its runtime and tabs APIs. tabs
// may be nil in contexts that never address tabs directly.
func New(rt browser.Runtime, tabs browser.Tabs, opts ...Option) *Router {
	r := &Router{
		rt:   rt,
		tabs: tabs,
		log:  logger.Discard(),
		mode: config.BuildProduction,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "message.router")
	r.cross = newSpace(r, false)
	r.self = newSpace(r, true)
	return r
}

// Send broadcasts payload to every extension page and returns the first
// listener's response.
func (r *Router) Send(ctx context.Context, payload any) (browser.Response, error) {
	msg, err := browser.NewMessage(payload)
	if err != nil {
		return browser.Response{}, err
	}
	return r.send(ctx, msg)
}

// SendTab delivers payload to the content scripts of one tab.
func (r *Router) SendTab(ctx context.Context, tabID int, payload any) (browser.Response, error) {
	msg, err := browser.NewMessage(payload)
	if err != nil {
		return browser.Response{}, err
	}
	return r.sendTab(ctx, tabID, msg)
}

func (r *Router) send(ctx context.Context, msg browser.Message) (browser.Response, error) {
	resp, err := r.rt.SendMessage(ctx, msg)
	return resp, r.settle(err, msg, 0)
}

func (r *Router) sendTab(ctx context.Context, tabID int, msg browser.Message) (browser.Response, error) {
	if r.tabs == nil {
		return browser.Response{}, r.settle(browser.ErrNoTab, msg, tabID)
	}
	resp, err := r.tabs.SendMessage(ctx, tabID, msg)
	return resp, r.settle(err, msg, tabID)
}

// settle applies the build mode policy to a send error. Sends that found no
// receiving end are swallowed outside test builds; every other error,
// including errors returned by listeners, reaches the caller.
func (r *Router) settle(err error, msg browser.Message, tabID int) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, browser.ErrNoReceiver) && !errors.Is(err, browser.ErrNoTab) {
		return err
	}

	switch r.mode {
	case config.BuildTest:
		return err
	case config.BuildDevelopment:
		r.log.Warn("Message not received", "msg_type", msg.Type(), "tab_id", tabID, "payload", msg.String(), "err", err)
	default:
		r.log.Debug("Message not received", "msg_type", msg.Type(), "tab_id", tabID, "err", err)
	}
	return nil
}

// AddListener registers cb for every cross-context message type.
func (r *Router) AddListener(cb *browser.MessageListener) {
	r.cross.add(browser.MsgNull, cb)
}

// AddTypeListener registers cb for cross-context messages of type t only.
func (r *Router) AddTypeListener(t browser.MsgType, cb *browser.MessageListener) {
	r.cross.add(t, cb)
}

// RemoveListener removes every cross-context registration of cb.
func (r *Router) RemoveListener(cb *browser.MessageListener) {
	r.cross.removeAll(cb)
}

// RemoveTypeListener removes the registration of cb for type t.
func (r *Router) RemoveTypeListener(t browser.MsgType, cb *browser.MessageListener) {
	r.cross.remove(t, cb)
}

// Stream yields every cross-context message while subscribed.
func (r *Router) Stream() *stream.Stream[browser.Message] {
	return r.cross.stream(browser.MsgNull)
}

// TypeStream yields cross-context messages of type t while subscribed.
func (r *Router) TypeStream(t browser.MsgType) *stream.Stream[browser.Message] {
	return r.cross.stream(t)
}

// Registered reports whether cb is registered for cross-context messages of t.
func (r *Router) Registered(t browser.MsgType, cb *browser.MessageListener) bool {
	return r.cross.registered(t, cb)
}

// Self returns the self-messaging address space of the router.
func (r *Router) Self() *Self {
	return &Self{r: r}
}
