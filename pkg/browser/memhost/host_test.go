package memhost

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"saladict/pkg/browser"
	"saladict/pkg/bus"
)

func newHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	h, err := New(opts...)
	require.NoError(t, err)
	return h
}

func mustMessage(t *testing.T, payload any) browser.Message {
	t.Helper()
	msg, err := browser.NewMessage(payload)
	require.NoError(t, err)
	return msg
}

func respond(value any) *browser.MessageListener {
	return browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
		return value, nil
	})
}

func TestRuntimeSendReachesExtensionPagesOnly(t *testing.T) {
	h := newHost(t)
	popup := h.OpenPopup()
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})

	var got []string
	record := func(name string) *browser.MessageListener {
		return browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
			got = append(got, name)
			return nil, nil
		})
	}
	h.Background().OnMessage().AddListener(record("background"))
	popup.OnMessage().AddListener(record("popup"))
	tab.OnMessage().AddListener(record("tab"))

	_, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)
	require.Equal(t, []string{"background", "popup"}, got)

	got = nil
	_, err = popup.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)
	require.Equal(t, []string{"background"}, got)
}

func TestSendWithoutReceiverFails(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})

	_, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.ErrorIs(t, err, browser.ErrNoReceiver)

	_, err = h.Background().Tabs().SendMessage(t.Context(), tab.TabID(), mustMessage(t, map[string]any{"type": "PING"}))
	require.ErrorIs(t, err, browser.ErrNoReceiver)

	_, err = h.Background().Tabs().SendMessage(t.Context(), 99, mustMessage(t, map[string]any{"type": "PING"}))
	require.ErrorIs(t, err, browser.ErrNoTab)
}

func TestFirstResponderWins(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})

	calls := 0
	silent := browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
		calls++
		return nil, nil
	})
	late := browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
		calls++
		return "second", nil
	})
	bg := h.Background().OnMessage()
	bg.AddListener(silent)
	bg.AddListener(respond("first"))
	bg.AddListener(late)

	resp, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)

	var answer string
	require.NoError(t, resp.Decode(&answer))
	require.Equal(t, "first", answer)
	require.Equal(t, 2, calls, "listeners after the responder still run")
}

func TestListenerErrorAnswersSender(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})
	boom := errors.New("boom")
	h.Background().OnMessage().AddListener(browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
		return nil, boom
	}))

	_, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.ErrorIs(t, err, boom)
}

func TestEachListenerGetsItsOwnCopy(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})

	var seen []string
	mutate := browser.NewMessageListener(func(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
		changed, err := msg.Set("type", "CHANGED")
		require.NoError(t, err)
		seen = append(seen, string(changed.Type()))
		return nil, nil
	})
	observe := browser.NewMessageListener(func(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
		seen = append(seen, string(msg.Type()))
		return nil, nil
	})
	h.Background().OnMessage().AddListener(mutate)
	h.Background().OnMessage().AddListener(observe)

	_, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)
	require.Equal(t, []string{"CHANGED", "PING"}, seen)
}

func TestSenderCarriesTabForContentOnly(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com", Title: "Example", FavIconURL: "https://example.com/favicon.ico"})
	popup := h.OpenPopup()

	var senders []browser.Sender
	h.Background().OnMessage().AddListener(browser.NewMessageListener(func(_ context.Context, _ browser.Message, sender browser.Sender) (any, error) {
		senders = append(senders, sender)
		return nil, nil
	}))

	msg := mustMessage(t, map[string]any{"type": "PING"})
	_, err := tab.SendMessage(t.Context(), msg)
	require.NoError(t, err)
	_, err = popup.SendMessage(t.Context(), msg)
	require.NoError(t, err)

	require.Len(t, senders, 2)
	require.NotNil(t, senders[0].Tab)
	require.Equal(t, tab.TabID(), senders[0].Tab.ID)
	require.Equal(t, "Example", senders[0].Tab.Title)
	require.Nil(t, senders[1].Tab)
	require.Equal(t, h.GetURL("popup.html"), senders[1].URL)
}

func TestTabSendReachesEveryFrame(t *testing.T) {
	h := newHost(t)
	top := h.OpenTab(TabSpec{URL: "https://example.com"})
	frame, err := h.OpenFrame(top.TabID(), "https://example.com/embed")
	require.NoError(t, err)
	other := h.OpenTab(TabSpec{URL: "https://other.example"})

	hits := map[string]int{}
	for _, c := range []*Context{top, frame, other} {
		name := c.Name()
		c.OnMessage().AddListener(browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
			hits[name]++
			return nil, nil
		}))
	}

	_, err = h.Background().Tabs().SendMessage(t.Context(), top.TabID(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)
	require.Equal(t, map[string]int{top.Name(): 1, frame.Name(): 1}, hits)

	_, err = h.OpenFrame(42, "https://nowhere")
	require.ErrorIs(t, err, browser.ErrNoTab)
}

func TestAddListenerIsIdempotent(t *testing.T) {
	h := newHost(t)
	l := respond("ok")
	h.Background().OnMessage().AddListener(l)
	h.Background().OnMessage().AddListener(l)
	require.Equal(t, 1, h.Background().MessageListeners())
	require.True(t, h.Background().OnMessage().HasListener(l))

	h.Background().OnMessage().RemoveListener(l)
	require.Equal(t, 0, h.Background().MessageListeners())
}

func TestCloseTabDetachesContexts(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})
	tab.OnMessage().AddListener(respond("ok"))

	h.CloseTab(tab.TabID())
	require.Equal(t, 0, tab.MessageListeners())
	_, ok := h.Tab(tab.TabID())
	require.False(t, ok)

	_, err := h.Background().Tabs().SendMessage(t.Context(), tab.TabID(), mustMessage(t, map[string]any{"type": "PING"}))
	require.ErrorIs(t, err, browser.ErrNoTab)
}

func TestTabsQueryCreateHighlight(t *testing.T) {
	h := newHost(t)
	h.OpenTab(TabSpec{URL: "https://a.example"})
	h.OpenTab(TabSpec{URL: "https://b.example"})

	tabs := h.Background().Tabs()
	created, err := tabs.Create(t.Context(), "https://c.example")
	require.NoError(t, err)
	require.Equal(t, created.ID, h.ActiveTab())

	found, err := tabs.Query(t.Context(), "https://a.example")
	require.NoError(t, err)
	require.Len(t, found, 1)

	all, err := tabs.Query(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Less(t, all[0].ID, all[1].ID)

	highlighter, ok := tabs.(browser.Highlighter)
	require.True(t, ok)
	require.NoError(t, highlighter.Highlight(t.Context(), found[0]))
	require.Equal(t, found[0].ID, h.ActiveTab())
}

func TestTraceRecordsDelivery(t *testing.T) {
	tb := bus.New()
	t.Cleanup(tb.Close)
	events, cancel := tb.Subscribe(t.Context(), 32)
	defer cancel()

	h := newHost(t, WithTrace(tb))
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})
	h.Background().OnMessage().AddListener(respond(true))

	_, err := tab.SendMessage(t.Context(), mustMessage(t, map[string]any{"type": "PING"}))
	require.NoError(t, err)

	var types []bus.EventType
	timeout := time.After(time.Second)
	for len(types) < 5 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("timed out, saw %v", types)
		}
	}
	require.Equal(t, []bus.EventType{
		bus.EventContextOpened,
		bus.EventContextOpened,
		bus.EventMessageSent,
		bus.EventMessageDelivered,
		bus.EventMessageResponded,
	}, types)
}

func TestStorageChangesReachEveryContext(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})

	type seen struct {
		area    browser.AreaName
		changes browser.Changes
	}
	var bgSeen, tabSeen []seen
	h.Background().Storage().OnChanged().AddListener(browser.NewChangeListener(func(c browser.Changes, area browser.AreaName) {
		bgSeen = append(bgSeen, seen{area, c})
	}))
	tab.Storage().OnChanged().AddListener(browser.NewChangeListener(func(c browser.Changes, area browser.AreaName) {
		tabSeen = append(tabSeen, seen{area, c})
	}))

	sync := tab.Storage().Area(browser.AreaSync)
	require.NoError(t, sync.Set(t.Context(), map[string]any{"config": map[string]any{"active": true}}))

	require.Len(t, bgSeen, 1)
	require.Len(t, tabSeen, 1)
	require.Equal(t, browser.AreaSync, bgSeen[0].area)
	require.Nil(t, bgSeen[0].changes["config"].OldValue)
	require.JSONEq(t, `{"active":true}`, string(bgSeen[0].changes["config"].NewValue))

	require.NoError(t, sync.Set(t.Context(), map[string]any{"config": map[string]any{"active": false}}))
	require.Len(t, bgSeen, 2)
	require.JSONEq(t, `{"active":true}`, string(bgSeen[1].changes["config"].OldValue))
	require.JSONEq(t, `{"active":false}`, string(bgSeen[1].changes["config"].NewValue))
}

func TestStorageReportsChangedKeysOnly(t *testing.T) {
	h := newHost(t)
	var batches []browser.Changes
	h.Background().Storage().OnChanged().AddListener(browser.NewChangeListener(func(c browser.Changes, _ browser.AreaName) {
		batches = append(batches, c)
	}))

	local := h.Background().Storage().Area(browser.AreaLocal)
	require.NoError(t, local.Set(t.Context(), map[string]any{"a": 1, "b": 2}))
	require.NoError(t, local.Set(t.Context(), map[string]any{"a": 1, "b": 3}))
	require.NoError(t, local.Remove(t.Context(), "missing"))
	require.NoError(t, local.Remove(t.Context(), "a"))
	require.NoError(t, local.Clear(t.Context()))
	require.NoError(t, local.Clear(t.Context()))

	require.Len(t, batches, 4)
	require.Len(t, batches[0], 2)
	require.Contains(t, batches[1], "b")
	require.NotContains(t, batches[1], "a")
	require.Nil(t, batches[2]["a"].NewValue)
	require.JSONEq(t, "1", string(batches[2]["a"].OldValue))
	require.Len(t, batches[3], 1)
	require.Contains(t, batches[3], "b")
}

func TestStorageGet(t *testing.T) {
	h := newHost(t)
	local := h.Background().Storage().Area(browser.AreaLocal)
	require.NoError(t, local.Set(t.Context(), map[string]any{"a": "x", "b": []int{1, 2}}))

	some, err := local.Get(t.Context(), "a", "missing")
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.JSONEq(t, `"x"`, string(some["a"]))

	all, err := local.Get(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)

	sync, err := h.Background().Storage().Area(browser.AreaSync).Get(t.Context())
	require.NoError(t, err)
	require.Empty(t, sync, "areas are independent")

	_, err = h.Background().Storage().Area("managed").Get(t.Context())
	require.Error(t, err)
}

func TestStoragePersistsAcrossHosts(t *testing.T) {
	dir := t.TempDir()
	first := newHost(t, WithStateDir(dir))
	require.NoError(t, first.Background().Storage().Area(browser.AreaLocal).Set(t.Context(), map[string]any{
		"notebook": []string{"salad"},
	}))

	second := newHost(t, WithStateDir(dir))
	got, err := second.Background().Storage().Area(browser.AreaLocal).Get(t.Context(), "notebook")
	require.NoError(t, err)

	var words []string
	require.NoError(t, json.Unmarshal(got["notebook"], &words))
	require.Equal(t, []string{"salad"}, words)
}

func TestClosedContextStopsReceivingChanges(t *testing.T) {
	h := newHost(t)
	tab := h.OpenTab(TabSpec{URL: "https://example.com"})
	calls := 0
	tab.Storage().OnChanged().AddListener(browser.NewChangeListener(func(browser.Changes, browser.AreaName) {
		calls++
	}))
	tab.Close()

	require.NoError(t, h.Background().Storage().Area(browser.AreaSync).Set(t.Context(), map[string]any{"k": 1}))
	require.Equal(t, 0, calls)
	require.Equal(t, 0, tab.ChangeListeners())
}

func TestGetURL(t *testing.T) {
	h := newHost(t, WithExtensionURL("moz-extension://abc"))
	require.Equal(t, "moz-extension://abc/notebook.html", h.GetURL("/notebook.html"))
	require.Equal(t, "moz-extension://abc/notebook.html", h.Background().GetURL("notebook.html"))
}
