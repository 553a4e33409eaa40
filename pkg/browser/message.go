package browser

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MsgType is the discriminant carried in the "type" field of every message.
type MsgType string

const (
	// MsgNull matches every message type when used as a listener scope.
	MsgNull MsgType = "NULL"

	MsgSelection           MsgType = "SELECTION"
	MsgIsInNotebook        MsgType = "IS_IN_NOTEBOOK"
	MsgSaveWord            MsgType = "SAVE_WORD"
	MsgDeleteWords         MsgType = "DELETE_WORDS"
	MsgGetWordsByText      MsgType = "GET_WORDS_BY_TEXT"
	MsgGetWords            MsgType = "GET_WORDS"
	MsgSyncServiceDownload MsgType = "SYNC_SERVICE_DOWNLOAD"
	MsgOpenURL             MsgType = "OPEN_URL"

	// MsgPageInfo is the self-messaging handshake request.
	MsgPageInfo MsgType = "__PAGE_INFO__"
)

// PageIDField tags self messages with the identity of the originating page.
const PageIDField = "__pageId__"

var selfTypePattern = regexp.MustCompile(`^\[\[(.+)\]\]$`)

// WrapSelfType marks a type as self addressed.
func WrapSelfType(t MsgType) MsgType {
	return MsgType("[[" + string(t) + "]]")
}

// UnwrapSelfType returns the original type of a self addressed type.
func UnwrapSelfType(t MsgType) (MsgType, bool) {
	match := selfTypePattern.FindStringSubmatch(string(t))
	if match == nil {
		return "", false
	}
	return MsgType(match[1]), true
}

// IsSelfType reports whether t uses the reserved [[type]] form.
func IsSelfType(t MsgType) bool {
	return selfTypePattern.MatchString(string(t))
}

// Message is the serialized form of a message as it crosses contexts.
type Message struct {
	raw []byte
}

// NewMessage serializes a payload into a Message. The payload must encode to a
// JSON object with a non-empty "type" that does not use the self-addressed form.
func NewMessage(payload any) (Message, error) {
	if m, ok := payload.(Message); ok {
		return m.validate(false)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return Message{raw: raw}.validate(false)
}

// ParseMessage wraps raw JSON received from the host.
func ParseMessage(raw []byte) (Message, error) {
	return Message{raw: raw}.validate(true)
}

func (m Message) validate(allowSelf bool) (Message, error) {
	if !gjson.ValidBytes(m.raw) || !gjson.ParseBytes(m.raw).IsObject() {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrInvalidMessage)
	}
	t := m.Type()
	if t == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	if !allowSelf && IsSelfType(t) {
		return Message{}, fmt.Errorf("%w: type %q uses the reserved self form", ErrInvalidMessage, t)
	}
	return m, nil
}

func (m Message) Type() MsgType {
	return MsgType(gjson.GetBytes(m.raw, "type").String())
}

// PageID returns the originating page of a self message, or "" for plain messages.
func (m Message) PageID() string {
	return gjson.GetBytes(m.raw, PageIDField).String()
}

// HasPageID reports whether the message carries a page tag.
func (m Message) HasPageID() bool {
	v := gjson.GetBytes(m.raw, PageIDField)
	return v.Exists() && v.String() != ""
}

func (m Message) Get(path string) gjson.Result {
	return gjson.GetBytes(m.raw, path)
}

func (m Message) Decode(v any) error {
	return json.Unmarshal(m.raw, v)
}

func (m Message) Bytes() []byte {
	return m.raw
}

func (m Message) IsZero() bool {
	return len(m.raw) == 0
}

func (m Message) String() string {
	return string(m.raw)
}

// Set returns a copy of the message with path set to value.
func (m Message) Set(path string, value any) (Message, error) {
	raw, err := sjson.SetBytes(append([]byte(nil), m.raw...), path, value)
	if err != nil {
		return Message{}, fmt.Errorf("set %s: %w", path, err)
	}
	return Message{raw: raw}, nil
}

// Delete returns a copy of the message without path.
func (m Message) Delete(path string) (Message, error) {
	raw, err := sjson.DeleteBytes(append([]byte(nil), m.raw...), path)
	if err != nil {
		return Message{}, fmt.Errorf("delete %s: %w", path, err)
	}
	return Message{raw: raw}, nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}
	return m.raw, nil
}

// Response is the serialized reply of the first responding listener.
// A zero Response means nobody answered.
type Response struct {
	raw []byte
}

// NewResponse serializes a listener's return value.
func NewResponse(v any) (Response, error) {
	switch typed := v.(type) {
	case nil:
		return Response{}, nil
	case Response:
		return typed, nil
	case json.RawMessage:
		return Response{raw: typed}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("marshal response: %w", err)
	}
	return Response{raw: raw}, nil
}

// Decode unmarshals the response into v. Decoding a zero Response leaves v untouched.
func (r Response) Decode(v any) error {
	if len(r.raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.raw, v)
}

func (r Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.raw, path)
}

func (r Response) Bytes() []byte {
	return r.raw
}

func (r Response) IsZero() bool {
	return len(r.raw) == 0
}

func (r Response) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}
