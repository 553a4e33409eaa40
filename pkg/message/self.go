package message

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"saladict/pkg/browser"
	"saladict/pkg/stream"
)

const (
	// BackgroundPageID is the page identity of the background page.
	BackgroundPageID = "background page"
	// PopupPageID is assigned to senders that have no tab.
	PopupPageID = "popup"
	// FallbackFaviconURL stands in for the favicon of tabless extension pages.
	FallbackFaviconURL = "https://raw.githubusercontent.com/crimx/ext-saladict/2ba9d2e85ad4ac2e4bb16ee43498ac4b58ed21a6/public/static/icon-16.png"

	handshakeKey = "page-info"
)

// ErrNoPageInfo is returned when the page info handshake got no answer.
var ErrNoPageInfo = errors.New("page info handshake got no answer")

// PageInfo is the identity of the page a context runs in, as resolved by the
// background page.
type PageInfo struct {
	PageID     string `json:"pageId"`
	FaviconURL string `json:"faviconURL"`
	PageTitle  string `json:"pageTitle"`
	PageURL    string `json:"pageURL"`
}

// Self is the self-messaging address space of a Router. Messages sent here
// are relayed by the background page back to the sending page only.
type Self struct {
	r *Router
}

// PageInfo returns the cached page identity. ok is false until the handshake
// (or InitServer) has completed.
func (r *Router) PageInfo() (info PageInfo, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page, r.hasPage
}

func (r *Router) pageID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page.PageID
}

// InitClient resolves this page's identity through the background page. The
// result is cached for the lifetime of the router and concurrent callers
// share a single handshake.
func (s *Self) InitClient(ctx context.Context) (PageInfo, error) {
	return s.r.initClient(ctx)
}

func (r *Router) initClient(ctx context.Context) (PageInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if info, ok := r.PageInfo(); ok {
		return info, nil
	}

	ch := r.handshake.DoChan(handshakeKey, func() (any, error) {
		if info, ok := r.PageInfo(); ok {
			return info, nil
		}
		return r.requestPageInfo(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return PageInfo{}, res.Err
		}
		return res.Val.(PageInfo), nil
	case <-ctx.Done():
		return PageInfo{}, ctx.Err()
	}
}

func (r *Router) requestPageInfo(ctx context.Context) (PageInfo, error) {
	req, err := browser.NewMessage(map[string]any{"type": browser.MsgPageInfo})
	if err != nil {
		return PageInfo{}, err
	}

	r.log.Debug("Requesting page info")
	resp, err := r.rt.SendMessage(ctx, req)
	if err != nil {
		return PageInfo{}, fmt.Errorf("page info handshake: %w", err)
	}

	var info PageInfo
	if err := resp.Decode(&info); err != nil {
		return PageInfo{}, fmt.Errorf("decode page info: %w", err)
	}
	if info.PageID == "" {
		return PageInfo{}, ErrNoPageInfo
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasPage {
		return r.page, nil
	}
	r.page = info
	r.hasPage = true
	r.log.Debug("Page info resolved", "page_id", info.PageID, "page_url", info.PageURL)
	return info, nil
}

// warmUp starts the handshake in the background when the page has no
// identity yet, so self listeners can match replies as early as possible.
func (r *Router) warmUp() {
	if _, ok := r.PageInfo(); ok {
		return
	}
	go func() {
		if _, err := r.initClient(context.Background()); err != nil {
			r.log.Debug("Page info handshake failed", "err", err)
		}
	}()
}

// InitServer turns the router into the self-messaging relay. It must run in
// the background page: it answers page info requests and bounces
// [[type]] messages back to the tab (or tabless page) they came from.
func (s *Self) InitServer() {
	r := s.r
	r.mu.Lock()
	r.page = PageInfo{PageID: BackgroundPageID}
	r.hasPage = true
	if r.server != nil {
		r.mu.Unlock()
		return
	}
	r.server = browser.NewMessageListener(r.relay)
	server := r.server
	r.mu.Unlock()

	r.rt.OnMessage().AddListener(server)
	r.log.Debug("Self message relay started")
}

func (r *Router) relay(ctx context.Context, msg browser.Message, sender browser.Sender) (any, error) {
	if msg.IsZero() {
		return nil, nil
	}
	if msg.Type() == browser.MsgPageInfo {
		return ResolvePageInfo(sender), nil
	}

	inner, ok := browser.UnwrapSelfType(msg.Type())
	if !ok {
		return nil, nil
	}
	forward, err := msg.Set("type", string(inner))
	if err != nil {
		return nil, err
	}

	var resp browser.Response
	if sender.Tab != nil && sender.Tab.ID != 0 {
		r.log.Debug("Self message relayed", "msg_type", inner, "tab_id", sender.Tab.ID, "page_id", forward.PageID())
		resp, err = r.sendTab(ctx, sender.Tab.ID, forward)
	} else {
		r.log.Debug("Self message relayed", "msg_type", inner, "page_id", forward.PageID())
		resp, err = r.send(ctx, forward)
	}
	if err != nil {
		return nil, err
	}
	if resp.IsZero() {
		return nil, nil
	}
	return resp, nil
}

// ResolvePageInfo derives a page identity from sender metadata. Tabless
// senders are assumed to be the browser action popup.
func ResolvePageInfo(sender browser.Sender) PageInfo {
	if tab := sender.Tab; tab != nil {
		return PageInfo{
			PageID:     strconv.Itoa(tab.ID),
			FaviconURL: tab.FavIconURL,
			PageTitle:  tab.Title,
			PageURL:    tab.URL,
		}
	}

	// TODO: replace the popup assumption with a sender capability once the
	// host reports which extension page a tabless sender is.
	info := PageInfo{PageID: PopupPageID}
	if sender.URL != "" && !strings.HasPrefix(sender.URL, "http") {
		info.FaviconURL = FallbackFaviconURL
	}
	return info
}

// Send tags payload with this page's id and sends it for relay. The first
// call performs the page info handshake.
func (s *Self) Send(ctx context.Context, payload any) (browser.Response, error) {
	msg, err := browser.NewMessage(payload)
	if err != nil {
		return browser.Response{}, err
	}
	info, err := s.r.initClient(ctx)
	if err != nil {
		return browser.Response{}, err
	}

	wrapped, err := msg.Set("type", string(browser.WrapSelfType(msg.Type())))
	if err != nil {
		return browser.Response{}, err
	}
	wrapped, err = wrapped.Set(browser.PageIDField, info.PageID)
	if err != nil {
		return browser.Response{}, err
	}
	return s.r.send(ctx, wrapped)
}

// AddListener registers cb for every self message of this page.
func (s *Self) AddListener(cb *browser.MessageListener) {
	s.r.self.add(browser.MsgNull, cb)
}

// AddTypeListener registers cb for self messages of type t.
func (s *Self) AddTypeListener(t browser.MsgType, cb *browser.MessageListener) {
	s.r.self.add(t, cb)
}

// RemoveListener removes every self registration of cb.
func (s *Self) RemoveListener(cb *browser.MessageListener) {
	s.r.self.removeAll(cb)
}

// RemoveTypeListener removes the self registration of cb for type t.
func (s *Self) RemoveTypeListener(t browser.MsgType, cb *browser.MessageListener) {
	s.r.self.remove(t, cb)
}

// Stream yields every self message of this page while subscribed.
func (s *Self) Stream() *stream.Stream[browser.Message] {
	return s.r.self.stream(browser.MsgNull)
}

// TypeStream yields self messages of type t while subscribed.
func (s *Self) TypeStream(t browser.MsgType) *stream.Stream[browser.Message] {
	return s.r.self.stream(t)
}

// Registered reports whether cb is registered for self messages of t.
func (s *Self) Registered(t browser.MsgType, cb *browser.MessageListener) bool {
	return s.r.self.registered(t, cb)
}
