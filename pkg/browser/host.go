package browser

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoReceiver is returned by a send when no listener exists at the target.
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")
	// ErrInvalidMessage is returned for payloads that do not have the message wire shape.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNoTab is returned when a tab id does not resolve to an open tab.
	ErrNoTab = errors.New("no tab with id")
)

// Tab is the host's view of a browser tab.
type Tab struct {
	ID         int    `json:"id"`
	Index      int    `json:"index"`
	WindowID   int    `json:"windowId"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	FavIconURL string `json:"favIconUrl,omitempty"`
}

// Sender describes the context a message came from. Tab is nil for extension
// pages such as the background page and the browser action popup.
type Sender struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
	Tab *Tab   `json:"tab,omitempty"`
}

// MessageFunc handles one inbound message. Returning (nil, nil) means the
// listener does not respond; any other return value answers the sender.
type MessageFunc func(ctx context.Context, msg Message, sender Sender) (any, error)

// MessageListener gives a MessageFunc a stable identity so it can be added
// and removed.
type MessageListener struct {
	fn MessageFunc
}

func NewMessageListener(fn MessageFunc) *MessageListener {
	if fn == nil {
		panic("browser: nil message func")
	}
	return &MessageListener{fn: fn}
}

func (l *MessageListener) Call(ctx context.Context, msg Message, sender Sender) (any, error) {
	return l.fn(ctx, msg, sender)
}

// MessageEvent is the host's runtime.onMessage registry.
type MessageEvent interface {
	AddListener(l *MessageListener)
	RemoveListener(l *MessageListener)
	HasListener(l *MessageListener) bool
}

// Runtime is the extension-wide message bus of one context.
type Runtime interface {
	// SendMessage delivers to every extension page except the caller.
	SendMessage(ctx context.Context, msg Message) (Response, error)
	OnMessage() MessageEvent
	// GetURL resolves a path inside the extension package.
	GetURL(path string) string
}

// Tabs addresses content contexts by tab.
type Tabs interface {
	SendMessage(ctx context.Context, tabID int, msg Message) (Response, error)
	Query(ctx context.Context, url string) ([]Tab, error)
	Create(ctx context.Context, url string) (Tab, error)
}

// Highlighter is implemented by hosts able to focus an existing tab.
type Highlighter interface {
	Highlight(ctx context.Context, tab Tab) error
}

// AreaName names one persistence area.
type AreaName string

const (
	AreaSync  AreaName = "sync"
	AreaLocal AreaName = "local"
)

// Change is the before/after pair reported for one key.
type Change struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// Changes maps every key touched by one mutation to its change.
type Changes map[string]Change

// ChangeFunc receives every storage mutation of every area.
type ChangeFunc func(changes Changes, area AreaName)

// ChangeListener gives a ChangeFunc a stable identity.
type ChangeListener struct {
	fn ChangeFunc
}

func NewChangeListener(fn ChangeFunc) *ChangeListener {
	if fn == nil {
		panic("browser: nil change func")
	}
	return &ChangeListener{fn: fn}
}

func (l *ChangeListener) Call(changes Changes, area AreaName) {
	l.fn(changes, area)
}

// ChangeEvent is the host's storage.onChanged registry.
type ChangeEvent interface {
	AddListener(l *ChangeListener)
	RemoveListener(l *ChangeListener)
	HasListener(l *ChangeListener) bool
}

// StorageArea is one key-value persistence area.
type StorageArea interface {
	// Get returns the stored values for keys, or every value when keys is empty.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, items map[string]any) error
	Remove(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

// Storage exposes both areas and their shared change stream.
type Storage interface {
	Area(name AreaName) StorageArea
	OnChanged() ChangeEvent
}
