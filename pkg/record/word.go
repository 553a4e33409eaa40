// Package record stores looked-up words. Content scripts talk to it through
// Client; the background page runs the Store that owns the word lists.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"saladict/pkg/browser"
	"saladict/pkg/selection"
)

// Area names a word list.
type Area string

const (
	AreaNotebook Area = "notebook"
	AreaHistory  Area = "history"
)

func ParseArea(input string) (Area, error) {
	switch Area(strings.ToLower(strings.TrimSpace(input))) {
	case AreaNotebook:
		return AreaNotebook, nil
	case AreaHistory:
		return AreaHistory, nil
	default:
		return "", fmt.Errorf("unknown word area %q", input)
	}
}

// Word is one saved lookup. Date, in milliseconds since the Unix epoch, is
// the primary key.
type Word struct {
	Date    int64  `json:"date"`
	Text    string `json:"text"`
	Context string `json:"context"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
	Trans   string `json:"trans"`
	Note    string `json:"note"`
}

// NewWord fills a word from a selection, stamped with now.
func NewWord(info selection.Info, now time.Time) Word {
	return Word{
		Date:    now.UnixMilli(),
		Text:    info.Text,
		Context: info.Context,
		Title:   info.Title,
		URL:     info.URL,
		Favicon: info.Favicon,
		Trans:   info.Trans,
		Note:    info.Note,
	}
}

// field returns the value of the word field with the given JSON name.
func (w Word) field(name string) (string, bool) {
	switch name {
	case "date":
		return strconv.FormatInt(w.Date, 10), true
	case "text":
		return w.Text, true
	case "context":
		return w.Context, true
	case "title":
		return w.Title, true
	case "url":
		return w.URL, true
	case "favicon":
		return w.Favicon, true
	case "trans":
		return w.Trans, true
	case "note":
		return w.Note, true
	default:
		return "", false
	}
}

// SortOrder is the direction of a word listing.
type SortOrder string

const (
	SortAscend  SortOrder = "ascend"
	SortDescend SortOrder = "descend"
)

// Query selects a page of words.
type Query struct {
	ItemsPerPage int                 `json:"itemsPerPage,omitempty"`
	PageNum      int                 `json:"pageNum,omitempty"`
	Filters      map[string][]string `json:"filters"`
	SortField    string              `json:"sortField,omitempty"`
	SortOrder    SortOrder           `json:"sortOrder,omitempty"`
	SearchText   string              `json:"searchText,omitempty"`
}

// Page is one page of a word listing. Total counts every matching word.
type Page struct {
	Total int    `json:"total"`
	Words []Word `json:"words"`
}

type isInNotebookMsg struct {
	Type browser.MsgType `json:"type"`
	Info selection.Info  `json:"info"`
}

type saveWordMsg struct {
	Type browser.MsgType `json:"type"`
	Area Area            `json:"area"`
	Info selection.Info  `json:"info"`
}

type deleteWordsMsg struct {
	Type  browser.MsgType `json:"type"`
	Area  Area            `json:"area"`
	Dates []int64         `json:"dates,omitempty"`
}

type getWordsByTextMsg struct {
	Type browser.MsgType `json:"type"`
	Area Area            `json:"area"`
	Text string          `json:"text"`
}

type getWordsMsg struct {
	Type browser.MsgType `json:"type"`
	Area Area            `json:"area"`
	Query
}
