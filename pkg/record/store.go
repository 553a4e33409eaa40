package record

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"saladict/pkg/browser"
	"saladict/pkg/logger"
	"saladict/pkg/message"
	"saladict/pkg/storage"
)

// Syncer pulls remote word list changes before destructive operations.
type Syncer interface {
	Download(ctx context.Context) error
}

type StoreOption func(*Store)

func WithStoreLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithSyncer(syncer Syncer) StoreOption {
	return func(s *Store) {
		s.syncer = syncer
	}
}

// WithClock overrides the time source used to date new words.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store owns the word lists. It runs in the background page and keeps each
// area as a JSON list under its own key of the local storage area.
type Store struct {
	router *message.Router
	local  *storage.Area
	log    *slog.Logger
	syncer Syncer
	now    func() time.Time

	mu        sync.Mutex
	lastDate  int64
	listeners map[browser.MsgType]*browser.MessageListener
}

func NewStore(router *message.Router, local *storage.Area, opts ...StoreOption) *Store {
	s := &Store{
		router: router,
		local:  local,
		log:    logger.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "record.store")
	s.listeners = map[browser.MsgType]*browser.MessageListener{
		browser.MsgIsInNotebook:        browser.NewMessageListener(s.handleIsInNotebook),
		browser.MsgSaveWord:            browser.NewMessageListener(s.handleSaveWord),
		browser.MsgDeleteWords:         browser.NewMessageListener(s.handleDeleteWords),
		browser.MsgGetWordsByText:      browser.NewMessageListener(s.handleGetWordsByText),
		browser.MsgGetWords:            browser.NewMessageListener(s.handleGetWords),
		browser.MsgSyncServiceDownload: browser.NewMessageListener(s.handleSyncDownload),
	}
	return s
}

// Start answers record messages from other contexts.
func (s *Store) Start() {
	for t, l := range s.listeners {
		s.router.AddTypeListener(t, l)
	}
	s.log.Debug("Word store started")
}

func (s *Store) Stop() {
	for t, l := range s.listeners {
		s.router.RemoveTypeListener(t, l)
	}
}

// Words returns every word of area, newest first.
func (s *Store) Words(ctx context.Context, area Area) ([]Word, error) {
	var words []Word
	if _, err := s.local.GetInto(ctx, string(area), &words); err != nil {
		return nil, fmt.Errorf("load %s: %w", area, err)
	}
	return words, nil
}

func (s *Store) Save(ctx context.Context, area Area, word Word) (Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.Words(ctx, area)
	if err != nil {
		return Word{}, err
	}
	// Dates are primary keys; bump collisions within the same millisecond.
	if word.Date <= s.lastDate {
		word.Date = s.lastDate + 1
	}
	s.lastDate = word.Date

	words = append([]Word{word}, words...)
	if err := s.local.Set(ctx, map[string]any{string(area): words}); err != nil {
		return Word{}, err
	}
	s.log.Debug("Word saved", "area", area, "text", word.Text, "date", word.Date)
	return word, nil
}

// Delete removes words by date, or every word of area when dates is empty.
// It returns how many words were removed.
func (s *Store) Delete(ctx context.Context, area Area, dates []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.Words(ctx, area)
	if err != nil {
		return 0, err
	}
	if len(dates) == 0 {
		if err := s.local.Remove(ctx, string(area)); err != nil {
			return 0, err
		}
		s.log.Debug("Words cleared", "area", area, "count", len(words))
		return len(words), nil
	}

	kept := slices.DeleteFunc(slices.Clone(words), func(w Word) bool {
		return slices.Contains(dates, w.Date)
	})
	removed := len(words) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.local.Set(ctx, map[string]any{string(area): kept}); err != nil {
		return 0, err
	}
	s.log.Debug("Words deleted", "area", area, "count", removed)
	return removed, nil
}

// ByText returns the words of area whose text matches, ignoring case.
func (s *Store) ByText(ctx context.Context, area Area, text string) ([]Word, error) {
	words, err := s.Words(ctx, area)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	matches := []Word{}
	for _, w := range words {
		if strings.EqualFold(w.Text, text) {
			matches = append(matches, w)
		}
	}
	return matches, nil
}

// List applies filters, search, sort and pagination to area.
func (s *Store) List(ctx context.Context, area Area, q Query) (Page, error) {
	words, err := s.Words(ctx, area)
	if err != nil {
		return Page{}, err
	}

	matches := make([]Word, 0, len(words))
	for _, w := range words {
		if matchFilters(w, q.Filters) && matchSearch(w, q.SearchText) {
			matches = append(matches, w)
		}
	}

	sortWords(matches, q.SortField, q.SortOrder)

	page := Page{Total: len(matches), Words: matches}
	if q.ItemsPerPage > 0 {
		num := max(q.PageNum, 1)
		start := min((num-1)*q.ItemsPerPage, len(matches))
		end := min(start+q.ItemsPerPage, len(matches))
		page.Words = matches[start:end]
	}
	return page, nil
}

func matchFilters(w Word, filters map[string][]string) bool {
	for field, values := range filters {
		if len(values) == 0 {
			continue
		}
		value, ok := w.field(field)
		if !ok || !slices.Contains(values, value) {
			return false
		}
	}
	return true
}

func matchSearch(w Word, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	for _, value := range []string{w.Text, w.Context, w.Trans, w.Note} {
		if strings.Contains(strings.ToLower(value), search) {
			return true
		}
	}
	return false
}

// sortWords orders by field, newest first when no field is given.
func sortWords(words []Word, field string, order SortOrder) {
	if field == "" {
		field = "date"
		if order == "" {
			order = SortDescend
		}
	}
	if _, ok := (Word{}).field(field); !ok {
		return
	}
	slices.SortStableFunc(words, func(a, b Word) int {
		var c int
		if field == "date" {
			c = cmp.Compare(a.Date, b.Date)
		} else {
			av, _ := a.field(field)
			bv, _ := b.field(field)
			c = cmp.Compare(av, bv)
		}
		if order == SortDescend {
			return -c
		}
		return c
	})
}

func (s *Store) handleIsInNotebook(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var req isInNotebookMsg
	if err := msg.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type(), err)
	}
	words, err := s.ByText(ctx, AreaNotebook, req.Info.Text)
	if err != nil {
		return nil, err
	}
	return len(words) > 0, nil
}

func (s *Store) handleSaveWord(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var req saveWordMsg
	if err := msg.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type(), err)
	}
	area, err := ParseArea(string(req.Area))
	if err != nil {
		return nil, err
	}
	word, err := s.Save(ctx, area, NewWord(req.Info, s.now()))
	if err != nil {
		return nil, err
	}
	return word, nil
}

func (s *Store) handleDeleteWords(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var req deleteWordsMsg
	if err := msg.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type(), err)
	}
	area, err := ParseArea(string(req.Area))
	if err != nil {
		return nil, err
	}
	removed, err := s.Delete(ctx, area, req.Dates)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) handleGetWordsByText(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var req getWordsByTextMsg
	if err := msg.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type(), err)
	}
	area, err := ParseArea(string(req.Area))
	if err != nil {
		return nil, err
	}
	return s.ByText(ctx, area, req.Text)
}

func (s *Store) handleGetWords(ctx context.Context, msg browser.Message, _ browser.Sender) (any, error) {
	var req getWordsMsg
	if err := msg.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Type(), err)
	}
	area, err := ParseArea(string(req.Area))
	if err != nil {
		return nil, err
	}
	return s.List(ctx, area, req.Query)
}

// handleSyncDownload acknowledges without answering when no sync service is
// configured, so senders do not see a missing receiver.
func (s *Store) handleSyncDownload(ctx context.Context, _ browser.Message, _ browser.Sender) (any, error) {
	if s.syncer == nil {
		return nil, nil
	}
	if err := s.syncer.Download(ctx); err != nil {
		return nil, fmt.Errorf("sync download: %w", err)
	}
	return true, nil
}
