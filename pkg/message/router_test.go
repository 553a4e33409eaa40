package message

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"saladict/pkg/browser"
	"saladict/pkg/browser/memhost"
	"saladict/pkg/config"
)

type recorder struct {
	mu       sync.Mutex
	msgs     []browser.Message
	senders  []browser.Sender
	response any
	listener *browser.MessageListener
}

func newRecorder(response any) *recorder {
	rec := &recorder{response: response}
	rec.listener = browser.NewMessageListener(func(_ context.Context, msg browser.Message, sender browser.Sender) (any, error) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.msgs = append(rec.msgs, msg)
		rec.senders = append(rec.senders, sender)
		return rec.response, nil
	})
	return rec
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.msgs)
}

func (rec *recorder) last() browser.Message {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.msgs[len(rec.msgs)-1]
}

type fixture struct {
	host       *memhost.Host
	background *Router
	handshakes atomic.Int32
}

func newFixture(t *testing.T, mode config.BuildMode) *fixture {
	t.Helper()
	host, err := memhost.New()
	require.NoError(t, err)

	f := &fixture{host: host}
	f.background = routerFor(host.Background(), mode)
	f.background.Self().InitServer()

	host.Background().OnMessage().AddListener(browser.NewMessageListener(func(_ context.Context, msg browser.Message, _ browser.Sender) (any, error) {
		if msg.Type() == browser.MsgPageInfo {
			f.handshakes.Add(1)
		}
		return nil, nil
	}))
	return f
}

func routerFor(c *memhost.Context, mode config.BuildMode) *Router {
	return New(c, c.Tabs(), WithBuildMode(mode))
}

func (f *fixture) openTab(t *testing.T, mode config.BuildMode) (*memhost.Context, *Router) {
	t.Helper()
	tab := f.host.OpenTab(memhost.TabSpec{
		URL:        "https://example.com/article",
		Title:      "Article",
		FavIconURL: "https://example.com/favicon.ico",
	})
	return tab, routerFor(tab, mode)
}

func ping(t browser.MsgType) map[string]any {
	return map[string]any{"type": t}
}

func TestAddListenerIsIdempotent(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	rec := newRecorder(nil)

	r.AddTypeListener("ping", rec.listener)
	r.AddTypeListener("ping", rec.listener)
	require.Equal(t, 1, tab.MessageListeners())

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())

	r.RemoveTypeListener("ping", rec.listener)
	require.Equal(t, 0, tab.MessageListeners())
	require.False(t, r.Registered("ping", rec.listener))
}

func TestConcurrentAddAndRemoveKeepHostInSync(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	rec := newRecorder(nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 200 {
				r.AddTypeListener("ping", rec.listener)
			}
		}()
		go func() {
			defer wg.Done()
			for range 200 {
				r.RemoveTypeListener("ping", rec.listener)
			}
		}()
	}
	wg.Wait()

	if r.Registered("ping", rec.listener) {
		require.Equal(t, 1, tab.MessageListeners())
	} else {
		require.Equal(t, 0, tab.MessageListeners())
	}

	r.RemoveTypeListener("ping", rec.listener)
	require.Equal(t, 0, tab.MessageListeners())
}

func TestAllTypesAndTypedScopesAreIndependent(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	rec := newRecorder(nil)

	r.AddListener(rec.listener)
	r.AddTypeListener("ping", rec.listener)
	require.Equal(t, 2, tab.MessageListeners())

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 2, rec.count(), "both scopes fire for a matching type")

	r.RemoveTypeListener("ping", rec.listener)
	require.True(t, r.Registered(browser.MsgNull, rec.listener))
	require.Equal(t, 1, tab.MessageListeners())
}

func TestScopeIsolation(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	a := newRecorder(nil)
	all := newRecorder(nil)

	r.AddTypeListener("A", a.listener)
	r.AddListener(all.listener)

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("B"))
	require.NoError(t, err)
	require.Equal(t, 0, a.count())
	require.Equal(t, 1, all.count())

	_, err = f.background.SendTab(t.Context(), tab.TabID(), ping("A"))
	require.NoError(t, err)
	require.Equal(t, 1, a.count())
	require.Equal(t, 2, all.count())
}

func TestRemoveListenerDropsEveryScope(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	rec := newRecorder(nil)
	other := newRecorder(nil)

	r.AddListener(rec.listener)
	r.AddTypeListener("A", rec.listener)
	r.AddTypeListener("B", rec.listener)
	r.AddTypeListener("A", other.listener)
	require.Equal(t, 4, tab.MessageListeners())

	r.RemoveListener(rec.listener)
	require.Equal(t, 1, tab.MessageListeners())

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("A"))
	require.NoError(t, err)
	require.Equal(t, 0, rec.count())
	require.Equal(t, 1, other.count())
}

func TestRemovingUnregisteredCallbackLeavesOthers(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	cbA := newRecorder(nil)
	cbB := newRecorder(nil)

	r.AddTypeListener("ping", cbB.listener)
	r.RemoveTypeListener("ping", cbA.listener)
	r.RemoveListener(cbA.listener)

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 1, cbB.count())
	require.Equal(t, 0, cbA.count())
}

func TestRemoveRawHostListener(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	raw := newRecorder(nil)

	tab.OnMessage().AddListener(raw.listener)
	r.RemoveListener(raw.listener)
	require.Equal(t, 0, tab.MessageListeners())
}

func TestSelfRoundTripThroughBackground(t *testing.T) {
	f := newFixture(t, config.BuildTest)

	var tab *memhost.Context
	var r *Router
	for range 5 {
		tab, r = f.openTab(t, config.BuildTest)
	}
	require.Equal(t, 5, tab.TabID())

	cb := newRecorder("pong")
	r.Self().AddTypeListener("ping", cb.listener)

	resp, err := r.Self().Send(t.Context(), ping("ping"))
	require.NoError(t, err)

	require.Equal(t, 1, cb.count())
	got := cb.last()
	require.Equal(t, browser.MsgType("ping"), got.Type())
	require.Equal(t, "5", got.PageID())

	var answer string
	require.NoError(t, resp.Decode(&answer))
	require.Equal(t, "pong", answer)
}

func TestSelfAndCrossNeverCrossDeliver(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)
	self := newRecorder(nil)
	cross := newRecorder(nil)

	r.Self().AddTypeListener("ping", self.listener)
	r.AddTypeListener("ping", cross.listener)

	_, err := r.Self().Send(t.Context(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 1, self.count())
	require.Equal(t, 0, cross.count())

	_, err = f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 1, self.count())
	require.Equal(t, 1, cross.count())

	bgCross := newRecorder(nil)
	f.background.AddListener(bgCross.listener)
	_, err = r.Self().Send(t.Context(), ping("ping"))
	require.NoError(t, err)
	require.Equal(t, 0, bgCross.count(), "background cross listeners ignore relayed self traffic")
}

func TestSelfMessagesStayOnTheirPage(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tabA, rA := f.openTab(t, config.BuildTest)
	_, rB := f.openTab(t, config.BuildTest)
	frame, err := f.host.OpenFrame(tabA.TabID(), "https://example.com/embed")
	require.NoError(t, err)
	rFrame := routerFor(frame, config.BuildTest)

	onA := newRecorder(nil)
	onB := newRecorder(nil)
	onFrame := newRecorder(nil)
	rA.Self().AddListener(onA.listener)
	rB.Self().AddListener(onB.listener)
	rFrame.Self().AddListener(onFrame.listener)
	for _, r := range []*Router{rB, rFrame} {
		_, err := r.Self().InitClient(t.Context())
		require.NoError(t, err)
	}

	_, err = rA.Self().Send(t.Context(), ping("hello"))
	require.NoError(t, err)

	require.Equal(t, 1, onA.count())
	require.Equal(t, 1, onFrame.count(), "frames of the same tab share the page identity")
	require.Equal(t, 0, onB.count())
}

func TestHandshakeIsMemoized(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)
	cb := newRecorder(nil)
	r.Self().AddTypeListener("ping", cb.listener)

	for range 2 {
		_, err := r.Self().Send(t.Context(), ping("ping"))
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.handshakes.Load())
	require.Equal(t, 2, cb.count())
}

func TestConcurrentHandshakesShareOneRequest(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := r.Self().InitClient(context.Background())
			if err == nil {
				ids[i] = info.PageID
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), f.handshakes.Load())
	for _, id := range ids {
		require.Equal(t, "1", id)
	}
}

func TestSelfListenerStartsHandshake(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)

	_, ok := r.PageInfo()
	require.False(t, ok)

	r.Self().AddListener(newRecorder(nil).listener)
	require.Eventually(t, func() bool {
		_, ok := r.PageInfo()
		return ok
	}, time.Second, 5*time.Millisecond)

	info, _ := r.PageInfo()
	require.Equal(t, PageInfo{
		PageID:     "1",
		FaviconURL: "https://example.com/favicon.ico",
		PageTitle:  "Article",
		PageURL:    "https://example.com/article",
	}, info)
}

func TestPlainListenerDoesNotHandshake(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)

	r.AddListener(newRecorder(nil).listener)
	_, ok := r.PageInfo()
	require.False(t, ok)
	require.Equal(t, int32(0), f.handshakes.Load())
}

func TestPopupSelfMessagingUsesFallbackIdentity(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	popup := f.host.OpenPopup()
	r := routerFor(popup, config.BuildTest)

	cb := newRecorder(nil)
	r.Self().AddTypeListener("ping", cb.listener)
	_, err := r.Self().Send(t.Context(), ping("ping"))
	require.NoError(t, err)

	require.Equal(t, 1, cb.count())
	info, ok := r.PageInfo()
	require.True(t, ok)
	require.Equal(t, PopupPageID, info.PageID)
	require.Equal(t, FallbackFaviconURL, info.FaviconURL)
}

func TestResolvePageInfo(t *testing.T) {
	tests := []struct {
		name   string
		sender browser.Sender
		want   PageInfo
	}{
		{
			name:   "tab",
			sender: browser.Sender{URL: "https://a.example", Tab: &browser.Tab{ID: 7, URL: "https://a.example", Title: "A"}},
			want:   PageInfo{PageID: "7", PageURL: "https://a.example", PageTitle: "A"},
		},
		{
			name:   "extension page",
			sender: browser.Sender{URL: "chrome-extension://saladict/popup.html"},
			want:   PageInfo{PageID: PopupPageID, FaviconURL: FallbackFaviconURL},
		},
		{
			name:   "tabless web page",
			sender: browser.Sender{URL: "https://a.example/frame"},
			want:   PageInfo{PageID: PopupPageID},
		},
		{
			name: "no metadata",
			want: PageInfo{PageID: PopupPageID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ResolvePageInfo(tt.sender))
		})
	}
}

func TestInitServerIdentity(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	info, ok := f.background.PageInfo()
	require.True(t, ok)
	require.Equal(t, BackgroundPageID, info.PageID)

	f.background.Self().InitServer()
	// one relay plus the handshake counter installed by the fixture
	require.Equal(t, 2, f.host.Background().MessageListeners())
}

func TestHandshakeWithoutBackgroundFails(t *testing.T) {
	host, err := memhost.New()
	require.NoError(t, err)
	tab := host.OpenTab(memhost.TabSpec{URL: "https://example.com"})
	r := routerFor(tab, config.BuildProduction)

	_, err = r.Self().Send(t.Context(), ping("ping"))
	require.ErrorIs(t, err, browser.ErrNoReceiver)

	host.Background().OnMessage().AddListener(newRecorder(nil).listener)
	_, err = r.Self().InitClient(t.Context())
	require.ErrorIs(t, err, ErrNoPageInfo)
}

func TestNoReceiverPolicy(t *testing.T) {
	tests := []struct {
		mode    config.BuildMode
		wantErr bool
		wantLog string
	}{
		{mode: config.BuildProduction},
		{mode: config.BuildDevelopment, wantLog: "Message not received"},
		{mode: config.BuildTest, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			host, err := memhost.New()
			require.NoError(t, err)
			tab := host.OpenTab(memhost.TabSpec{URL: "https://example.com"})

			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
			r := New(tab, tab.Tabs(), WithBuildMode(tt.mode), WithLogger(log))

			_, err = r.Send(t.Context(), ping("ping"))
			_, tabErr := r.SendTab(t.Context(), 42, ping("ping"))
			if tt.wantErr {
				require.ErrorIs(t, err, browser.ErrNoReceiver)
				require.ErrorIs(t, tabErr, browser.ErrNoTab)
			} else {
				require.NoError(t, err)
				require.NoError(t, tabErr)
			}
			if tt.wantLog != "" {
				require.Contains(t, buf.String(), tt.wantLog)
			} else {
				require.Empty(t, buf.String())
			}
		})
	}
}

func TestListenerErrorsPropagateInProduction(t *testing.T) {
	f := newFixture(t, config.BuildProduction)
	_, r := f.openTab(t, config.BuildProduction)
	boom := errors.New("save failed")
	f.background.AddTypeListener(browser.MsgSaveWord, browser.NewMessageListener(func(context.Context, browser.Message, browser.Sender) (any, error) {
		return nil, boom
	}))

	_, err := r.Send(t.Context(), ping(browser.MsgSaveWord))
	require.ErrorIs(t, err, boom)
}

func TestSendRejectsMalformedPayloads(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)

	_, err := r.Send(t.Context(), map[string]any{"text": "no type"})
	require.ErrorIs(t, err, browser.ErrInvalidMessage)

	_, err = r.Self().Send(t.Context(), ping("[[ping]]"))
	require.ErrorIs(t, err, browser.ErrInvalidMessage)

	require.Panics(t, func() { r.AddListener(nil) })
}

func TestStreamsRegisterPerSubscription(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	tab, r := f.openTab(t, config.BuildTest)

	s := r.TypeStream("ping")
	require.Equal(t, 0, tab.MessageListeners(), "streams are lazy")

	var mu sync.Mutex
	var first, second []browser.MsgType
	cancelFirst := s.Subscribe(func(msg browser.Message) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, msg.Type())
	})
	cancelSecond := s.Subscribe(func(msg browser.Message) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, msg.Type())
	})
	require.Equal(t, 2, tab.MessageListeners())

	_, err := f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	_, err = f.background.SendTab(t.Context(), tab.TabID(), ping("other"))
	require.NoError(t, err)

	cancelFirst()
	cancelFirst()
	require.Equal(t, 1, tab.MessageListeners())

	_, err = f.background.SendTab(t.Context(), tab.TabID(), ping("ping"))
	require.NoError(t, err)
	cancelSecond()
	require.Equal(t, 0, tab.MessageListeners())

	require.Equal(t, []browser.MsgType{"ping"}, first)
	require.Equal(t, []browser.MsgType{"ping", "ping"}, second)
}

func TestSelfStream(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)

	ch, cancel := r.Self().Stream().Chan(t.Context(), 4)
	defer cancel()

	_, err := r.Self().Send(t.Context(), map[string]any{"type": browser.MsgSelection, "text": "salad"})
	require.NoError(t, err)

	select {
	case msg := <-ch:
		require.Equal(t, browser.MsgSelection, msg.Type())
		require.Equal(t, "salad", msg.Get("text").String())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for self message")
	}
}

func TestOpenURL(t *testing.T) {
	f := newFixture(t, config.BuildTest)

	require.NoError(t, f.background.OpenURL(t.Context(), "notebook.html", true))
	tabs, err := f.host.Background().Tabs().Query(t.Context(), f.host.GetURL("notebook.html"))
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	notebook := tabs[0].ID

	f.openTab(t, config.BuildTest)
	require.NotEqual(t, notebook, f.host.ActiveTab())

	require.NoError(t, f.background.OpenURL(t.Context(), "notebook.html", true))
	require.Equal(t, notebook, f.host.ActiveTab(), "existing tab is focused instead of reopened")

	all, err := f.host.Background().Tabs().Query(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestServeOpenURL(t *testing.T) {
	f := newFixture(t, config.BuildTest)
	_, r := f.openTab(t, config.BuildTest)
	f.background.ServeOpenURL()

	require.NoError(t, r.RequestOpenURL(t.Context(), "https://saladict.example/wordbook", false))

	tabs, err := f.host.Background().Tabs().Query(t.Context(), "https://saladict.example/wordbook")
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	require.Equal(t, tabs[0].ID, f.host.ActiveTab())
	require.Equal(t, 2, tabs[0].ID)
}
