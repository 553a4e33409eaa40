package message

import (
	"context"
	"errors"
	"fmt"

	"saladict/pkg/browser"
)

// OpenURLMessage asks the background page to open a URL.
type OpenURLMessage struct {
	Type browser.MsgType `json:"type"`
	URL  string          `json:"url"`
	// Self marks URL as a path inside the extension package.
	Self bool `json:"self,omitempty"`
}

// OpenURL focuses a tab already showing url, or opens a new one. With self
// set, url is resolved inside the extension package first.
func (r *Router) OpenURL(ctx context.Context, url string, self bool) error {
	if r.tabs == nil {
		return errors.New("open url: tabs api unavailable")
	}
	if self {
		url = r.rt.GetURL(url)
	}

	tabs, err := r.tabs.Query(ctx, url)
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}
	if highlighter, ok := r.tabs.(browser.Highlighter); ok && len(tabs) > 0 {
		r.log.Debug("Highlighting tab", "url", url, "tab_id", tabs[0].ID)
		return highlighter.Highlight(ctx, tabs[0])
	}

	if _, err := r.tabs.Create(ctx, url); err != nil {
		return fmt.Errorf("create tab: %w", err)
	}
	r.log.Debug("Opened tab", "url", url)
	return nil
}

// ServeOpenURL answers OPEN_URL messages from other contexts. It returns the
// installed listener so callers can remove it again.
func (r *Router) ServeOpenURL() *browser.MessageListener {
	l := browser.NewMessageListener(func(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
		var req OpenURLMessage
		if err := msg.Decode(&req); err != nil {
			return nil, fmt.Errorf("decode open url: %w", err)
		}
		if err := r.OpenURL(ctx, req.URL, req.Self); err != nil {
			return nil, err
		}
		return true, nil
	})
	r.AddTypeListener(browser.MsgOpenURL, l)
	return l
}

// RequestOpenURL asks the background page to open url.
func (r *Router) RequestOpenURL(ctx context.Context, url string, self bool) error {
	_, err := r.Send(ctx, OpenURLMessage{Type: browser.MsgOpenURL, URL: url, Self: self})
	return err
}
