package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"saladict/pkg/browser"
	"saladict/pkg/browser/memhost"
	"saladict/pkg/config"
	"saladict/pkg/message"
)

func TestIsSame(t *testing.T) {
	a := Info{Text: "salad", Context: "A salad bowl.", Title: "one"}
	b := Info{Text: "salad", Context: "A salad bowl.", Title: "two"}
	c := Info{Text: "salad", Context: "Another sentence."}

	require.True(t, a.IsSame(b))
	require.False(t, a.IsSame(c))
	require.True(t, DefaultInfo().IsEmpty())
}

func TestResolve(t *testing.T) {
	page := message.PageInfo{PageID: "3", FaviconURL: "https://a.example/f.ico", PageTitle: "A", PageURL: "https://a.example"}

	got := Resolve(Info{Text: "  salad ", Context: "A \n salad\tbowl."}, page)
	require.Equal(t, Info{
		Text:    "salad",
		Context: "A salad bowl.",
		Title:   "A",
		URL:     "https://a.example",
		Favicon: "https://a.example/f.ico",
	}, got)

	kept := Resolve(Info{Text: "x", Title: "Custom"}, page)
	require.Equal(t, "Custom", kept.Title)
}

func newPage(t *testing.T) (*message.Router, *message.Router) {
	t.Helper()
	host, err := memhost.New()
	require.NoError(t, err)

	bg := message.New(host.Background(), host.Background().Tabs(), message.WithBuildMode(config.BuildTest))
	bg.Self().InitServer()

	tab := host.OpenTab(memhost.TabSpec{URL: "https://a.example/post", Title: "Post"})
	frame, err := host.OpenFrame(tab.TabID(), "chrome-extension://saladict/panel.html")
	require.NoError(t, err)

	page := message.New(tab, tab.Tabs(), message.WithBuildMode(config.BuildTest))
	panel := message.New(frame, frame.Tabs(), message.WithBuildMode(config.BuildTest))
	return page, panel
}

func TestSyncReceivesSelectionsFromSamePage(t *testing.T) {
	page, panel := newPage(t)

	s := NewSync(panel)
	s.Start()
	s.Start()
	_, err := panel.Self().InitClient(t.Context())
	require.NoError(t, err)

	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "salad", Context: "salad bowl"}, MouseX: 10}))

	latest := s.Latest()
	require.Equal(t, "salad", latest.SelectionInfo.Text)
	require.Equal(t, "Post", latest.SelectionInfo.Title)
	require.Equal(t, "https://a.example/post", latest.SelectionInfo.URL)
	require.Equal(t, 10, latest.MouseX)
	require.Equal(t, 1, s.Count())

	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "salad", Context: "salad bowl"}, MouseX: 20}))
	require.Equal(t, 1, s.Count(), "same selection is ignored")
	require.Equal(t, 10, s.Latest().MouseX)

	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "salad", Context: "salad bowl"}, MouseX: 30, Force: true}))
	require.Equal(t, 2, s.Count())
	require.Equal(t, 30, s.Latest().MouseX)

	s.Stop()
	err = Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "dressing"}})
	require.ErrorIs(t, err, browser.ErrNoReceiver, "test builds surface the relay finding no listener")
	require.Equal(t, 2, s.Count())
}

func TestSyncStream(t *testing.T) {
	page, panel := newPage(t)
	s := NewSync(panel)

	ch, cancel := s.Stream().Chan(t.Context(), 4)
	defer cancel()
	_, err := panel.Self().InitClient(t.Context())
	require.NoError(t, err)

	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "bowl"}, DbClick: true}))
	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "bowl"}, MouseX: 5}))
	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "bowl"}, MouseX: 9, Force: true}))

	for _, want := range []Message{{DbClick: true}, {MouseX: 9, Force: true}} {
		select {
		case got := <-ch:
			require.Equal(t, "bowl", got.SelectionInfo.Text)
			require.Equal(t, want.DbClick, got.DbClick)
			require.Equal(t, want.MouseX, got.MouseX)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for selection")
		}
	}
	select {
	case got := <-ch:
		t.Fatalf("unchanged selection was streamed: %+v", got)
	default:
	}
	require.Equal(t, 2, s.Count())

	cancel()
	require.False(t, panel.Self().Registered(browser.MsgSelection, s.listener))
}

func TestSyncStopKeepsStreamSubscription(t *testing.T) {
	page, panel := newPage(t)
	s := NewSync(panel)
	s.Start()

	ch, cancel := s.Stream().Chan(t.Context(), 4)
	defer cancel()
	s.Stop()
	require.True(t, panel.Self().Registered(browser.MsgSelection, s.listener))

	require.NoError(t, Publish(t.Context(), page, Message{SelectionInfo: Info{Text: "bowl"}}))
	select {
	case got := <-ch:
		require.Equal(t, "bowl", got.SelectionInfo.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for selection")
	}
}
