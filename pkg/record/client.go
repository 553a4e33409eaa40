package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"saladict/pkg/browser"
	"saladict/pkg/logger"
	"saladict/pkg/message"
	"saladict/pkg/selection"
)

type ClientOption func(*Client)

func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client asks the background Store to read and write words.
type Client struct {
	router *message.Router
	log    *slog.Logger
}

func NewClient(router *message.Router, opts ...ClientOption) *Client {
	c := &Client{router: router, log: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "record.client")
	return c
}

// IsInNotebook reports whether the selected text is saved in the notebook.
// Failures are logged and reported as false.
func (c *Client) IsInNotebook(ctx context.Context, info selection.Info) bool {
	resp, err := c.router.Send(ctx, isInNotebookMsg{Type: browser.MsgIsInNotebook, Info: info})
	if err != nil {
		c.log.Error("Notebook lookup failed", "text", info.Text, "err", err)
		return false
	}
	var found bool
	if err := resp.Decode(&found); err != nil {
		c.log.Error("Notebook lookup failed", "text", info.Text, "err", err)
		return false
	}
	return found
}

func (c *Client) SaveWord(ctx context.Context, area Area, info selection.Info) error {
	_, err := c.router.Send(ctx, saveWordMsg{Type: browser.MsgSaveWord, Area: area, Info: info})
	return err
}

// DeleteWords removes the words with the given dates, or every word of area
// when dates is empty, and returns how many the store removed. The sync
// service pulls remote changes first so the deletion applies to the latest
// list.
func (c *Client) DeleteWords(ctx context.Context, area Area, dates []int64) (int, error) {
	if _, err := c.router.Send(ctx, map[string]any{"type": browser.MsgSyncServiceDownload}); err != nil {
		return 0, fmt.Errorf("sync download: %w", err)
	}
	resp, err := c.router.Send(ctx, deleteWordsMsg{Type: browser.MsgDeleteWords, Area: area, Dates: dates})
	if err != nil {
		return 0, err
	}
	if resp.IsZero() {
		return 0, errors.New("word store did not answer")
	}
	var removed int
	if err := resp.Decode(&removed); err != nil {
		return 0, fmt.Errorf("decode deleted count: %w", err)
	}
	return removed, nil
}

func (c *Client) GetWordsByText(ctx context.Context, area Area, text string) ([]Word, error) {
	resp, err := c.router.Send(ctx, getWordsByTextMsg{Type: browser.MsgGetWordsByText, Area: area, Text: text})
	if err != nil {
		return nil, err
	}
	var words []Word
	if err := resp.Decode(&words); err != nil {
		return nil, fmt.Errorf("decode words: %w", err)
	}
	return words, nil
}

func (c *Client) GetWords(ctx context.Context, area Area, query Query) (Page, error) {
	resp, err := c.router.Send(ctx, getWordsMsg{Type: browser.MsgGetWords, Area: area, Query: query})
	if err != nil {
		return Page{}, err
	}
	var page Page
	if err := resp.Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decode words: %w", err)
	}
	return page, nil
}
