// Package memhost is an in-process browser host. It gives every execution
// context (background page, popup, content script frames) its own listener
// registries and serializes everything that crosses between them, so code
// written against package browser behaves as it would in a real extension.
package memhost

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"saladict/pkg/browser"
	"saladict/pkg/bus"
	"saladict/pkg/logger"
)

const defaultExtensionURL = "chrome-extension://saladict/"

// Kind classifies an execution context.
type Kind int

const (
	KindBackground Kind = iota
	KindPopup
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindBackground:
		return "background"
	case KindPopup:
		return "popup"
	case KindContent:
		return "content"
	default:
		return "unknown"
	}
}

// extensionPage reports whether runtime.sendMessage reaches this kind.
func (k Kind) extensionPage() bool {
	return k == KindBackground || k == KindPopup
}

type Option func(*Host)

func WithLogger(log *slog.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithTrace publishes host activity onto tb.
func WithTrace(tb *bus.TraceBus) Option {
	return func(h *Host) {
		h.trace = tb
	}
}

// WithStateDir persists both storage areas under dir.
func WithStateDir(dir string) Option {
	return func(h *Host) {
		h.stateDir = strings.TrimSpace(dir)
	}
}

// WithExtensionURL sets the base URL extension pages are served from.
func WithExtensionURL(base string) Option {
	return func(h *Host) {
		base = strings.TrimSpace(base)
		if base == "" {
			return
		}
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		h.extensionURL = base
	}
}

// Host owns tabs, contexts and storage of one simulated browser profile.
type Host struct {
	log          *slog.Logger
	trace        *bus.TraceBus
	stateDir     string
	extensionURL string

	storage *storageState

	mu          sync.RWMutex
	contexts    []*Context
	tabs        map[int]*browser.Tab
	nextTabID   int
	nextFrame   map[int]int
	activeTabID int
	background  *Context
}

// TabSpec describes a page to open in a new tab.
type TabSpec struct {
	URL        string
	Title      string
	FavIconURL string
}

func New(opts ...Option) (*Host, error) {
	h := &Host{
		log:          logger.Discard(),
		extensionURL: defaultExtensionURL,
		tabs:         make(map[int]*browser.Tab),
		nextTabID:    1,
		nextFrame:    make(map[int]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "memhost")

	storage, err := newStorageState(h, h.stateDir)
	if err != nil {
		return nil, fmt.Errorf("load storage: %w", err)
	}
	h.storage = storage

	h.background = h.attach(KindBackground, h.GetURL("background.html"), 0, "background")
	return h, nil
}

// Background returns the single background page context.
func (h *Host) Background() *Context {
	return h.background
}

// OpenPopup opens the browser action popup. It runs tabless.
func (h *Host) OpenPopup() *Context {
	return h.attach(KindPopup, h.GetURL("popup.html"), 0, "popup")
}

// OpenTab opens a page in a new active tab and injects a content context
// into it.
func (h *Host) OpenTab(spec TabSpec) *Context {
	h.mu.Lock()
	id := h.nextTabID
	h.nextTabID++
	h.activeTabID = id
	h.tabs[id] = &browser.Tab{
		ID:         id,
		Index:      len(h.tabs),
		WindowID:   1,
		URL:        spec.URL,
		Title:      spec.Title,
		FavIconURL: spec.FavIconURL,
	}
	h.mu.Unlock()

	return h.attach(KindContent, spec.URL, id, fmt.Sprintf("tab:%d", id))
}

// OpenFrame injects an additional content context (an iframe) into a tab.
func (h *Host) OpenFrame(tabID int, url string) (*Context, error) {
	h.mu.Lock()
	if _, ok := h.tabs[tabID]; !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w %d", browser.ErrNoTab, tabID)
	}
	h.nextFrame[tabID]++
	frame := h.nextFrame[tabID]
	h.mu.Unlock()

	return h.attach(KindContent, url, tabID, fmt.Sprintf("tab:%d#%d", tabID, frame)), nil
}

// CloseTab closes a tab and every context running in it.
func (h *Host) CloseTab(tabID int) {
	h.mu.Lock()
	delete(h.tabs, tabID)
	var closing []*Context
	for _, c := range h.contexts {
		if c.tabID == tabID {
			closing = append(closing, c)
		}
	}
	h.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
}

// Tab returns a snapshot of an open tab.
func (h *Host) Tab(tabID int) (browser.Tab, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tab, ok := h.tabs[tabID]
	if !ok {
		return browser.Tab{}, false
	}
	return *tab, true
}

// ActiveTab returns the id of the most recently highlighted or created tab.
func (h *Host) ActiveTab() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeTabID
}

func (h *Host) GetURL(path string) string {
	return h.extensionURL + strings.TrimPrefix(path, "/")
}

func (h *Host) attach(kind Kind, url string, tabID int, name string) *Context {
	c := &Context{
		host:     h,
		id:       uuid.NewString(),
		kind:     kind,
		url:      url,
		tabID:    tabID,
		name:     name,
		messages: &messageEvent{},
		changes:  &changeEvent{},
	}

	h.mu.Lock()
	h.contexts = append(h.contexts, c)
	h.mu.Unlock()

	h.log.Debug("Context opened", "context", name, "kind", kind.String(), "url", url)
	h.publish(bus.Event{Type: bus.EventContextOpened, ContextID: c.id, Context: name, TabID: tabID})
	return c
}

func (h *Host) detach(c *Context) {
	h.mu.Lock()
	h.contexts = slices.DeleteFunc(h.contexts, func(other *Context) bool { return other == c })
	h.mu.Unlock()

	h.log.Debug("Context closed", "context", c.name)
	h.publish(bus.Event{Type: bus.EventContextClosed, ContextID: c.id, Context: c.name, TabID: c.tabID})
}

// snapshot returns the live contexts matching keep.
func (h *Host) snapshot(keep func(*Context) bool) []*Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Context, 0, len(h.contexts))
	for _, c := range h.contexts {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Host) publish(event bus.Event) {
	h.trace.Publish(context.Background(), event)
}

// Context is one isolated execution environment.
type Context struct {
	host  *Host
	id    string
	kind  Kind
	url   string
	tabID int
	name  string

	messages *messageEvent
	changes  *changeEvent

	closeOnce sync.Once
}

func (c *Context) ID() string   { return c.id }
func (c *Context) Kind() Kind   { return c.kind }
func (c *Context) URL() string  { return c.url }
func (c *Context) Name() string { return c.name }

// TabID returns the tab the context runs in, or 0 for extension pages.
func (c *Context) TabID() int { return c.tabID }

// Tabs returns the tabs API as seen from this context.
func (c *Context) Tabs() browser.Tabs {
	return tabsAPI{c: c}
}

// Storage returns the storage API as seen from this context.
func (c *Context) Storage() browser.Storage {
	return storageAPI{c: c}
}

// Close unloads the context, dropping every listener it registered.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.messages.clear()
		c.changes.clear()
		c.host.detach(c)
	})
}

func (c *Context) sender() browser.Sender {
	sender := browser.Sender{ID: c.id, URL: c.url}
	if c.kind == KindContent {
		if tab, ok := c.host.Tab(c.tabID); ok {
			sender.Tab = &tab
		}
	}
	return sender
}
