// Package selection models the text a user selected on a page and keeps the
// latest selection of a page in sync through self messages.
package selection

import (
	"strings"

	"saladict/pkg/browser"
	"saladict/pkg/message"
)

// Info describes one selection and where it was made.
type Info struct {
	Text string `json:"text"`
	// Context is the sentence the text was selected in.
	Context string `json:"context"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favicon"`
	Trans   string `json:"trans"`
	Note    string `json:"note"`
}

// DefaultInfo returns an empty selection.
func DefaultInfo() Info {
	return Info{}
}

// IsSame reports whether two selections picked the same text in the same sentence.
func (i Info) IsSame(other Info) bool {
	return i.Text == other.Text && i.Context == other.Context
}

// IsEmpty reports whether nothing is selected.
func (i Info) IsEmpty() bool {
	return strings.TrimSpace(i.Text) == ""
}

// Resolve fills the page fields the caller left empty from the identity the
// page got during its handshake. Text and context are normalized.
func Resolve(partial Info, page message.PageInfo) Info {
	info := partial
	info.Text = strings.TrimSpace(info.Text)
	info.Context = CleanText(info.Context)
	if info.Title == "" {
		info.Title = page.PageTitle
	}
	if info.URL == "" {
		info.URL = page.PageURL
	}
	if info.Favicon == "" {
		info.Favicon = page.FaviconURL
	}
	return info
}

// CleanText collapses runs of whitespace into single spaces.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Message announces a new selection to the other scripts of the page.
type Message struct {
	Type          browser.MsgType `json:"type"`
	SelectionInfo Info            `json:"selectionInfo"`
	MouseX        int             `json:"mouseX"`
	MouseY        int             `json:"mouseY"`
	// Self is set when the selection was made inside the dictionary panel.
	Self     bool `json:"self"`
	DbClick  bool `json:"dbClick"`
	ShiftKey bool `json:"shiftKey"`
	CtrlKey  bool `json:"ctrlKey"`
	MetaKey  bool `json:"metaKey"`
	Instant  bool `json:"instant"`
	Force    bool `json:"force"`
}

// NewMessage wraps info into a selection message.
func NewMessage(info Info) Message {
	return Message{Type: browser.MsgSelection, SelectionInfo: info}
}
