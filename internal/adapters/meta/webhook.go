package meta

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexInt accepts a JSON number or a numeric string; Meta sends both.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// Payload is the webhook envelope shared by the instagram and page objects.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
	Changes   []Change    `json:"changes"`
}

// Messaging is one item of the legacy entry[].messaging[] shape; the same
// structure is the value of a changes[] item with field "messages".
type Messaging struct {
	Sender    Party           `json:"sender"`
	Recipient Party           `json:"recipient"`
	Timestamp FlexInt         `json:"timestamp"`
	Message   *Message        `json:"message,omitempty"`
	Read      json.RawMessage `json:"read,omitempty"`
	Reaction  json.RawMessage `json:"reaction,omitempty"`
	Delivery  json.RawMessage `json:"delivery,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	IsDeleted   bool         `json:"is_deleted"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// CommentValue covers both the instagram "comments" field and the page
// "feed" field with item "comment".
type CommentValue struct {
	// instagram
	ID    string `json:"id"`
	Text  string `json:"text"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
	ParentID string `json:"parent_id"`
	From     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"from"`

	// page feed
	Item        string  `json:"item"`
	Verb        string  `json:"verb"`
	CommentID   string  `json:"comment_id"`
	PostID      string  `json:"post_id"`
	Message     string  `json:"message"`
	CreatedTime FlexInt `json:"created_time"`
}

// ParseWebhook decodes the envelope. Change values stay raw until the
// field is known.
func ParseWebhook(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
