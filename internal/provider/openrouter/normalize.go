package openrouter

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Choice is one entry of the chat completions "choices" array. Providers
// routed through OpenRouter disagree on where the text lives: a legacy
// top-level "text", a string "message.content", or a "message.content"
// array of parts.
type Choice struct {
	Text    string
	Message *Message
}

type Message struct {
	Role    string
	Content Content
}

// Content is the value of message.content. It is either a StringContent or
// a PartsContent; any other JSON shape decodes to nil.
type Content interface {
	text() string
}

type StringContent string

type PartsContent []Part

// Part is one element of a PartsContent. A bare string part sets Value;
// an object part sets Text and/or Content.
type Part struct {
	Value   *string
	Text    *string
	Content Content
}

func (c StringContent) text() string {
	return string(c)
}

func (c PartsContent) text() string {
	fragments := make([]string, 0, len(c))
	for _, p := range c {
		if f := p.text(); strings.TrimSpace(f) != "" {
			fragments = append(fragments, f)
		}
	}
	return strings.Join(fragments, "\n")
}

func (p Part) text() string {
	switch {
	case p.Value != nil:
		return *p.Value
	case p.Text != nil:
		return *p.Text
	case p.Content != nil:
		return p.Content.text()
	}
	return ""
}

// Normalize extracts the text of a choice. Precedence, first non-blank wins:
// top-level text, string message content, joined content parts. The result
// is trimmed; ErrEmptyResponse is returned when every path is blank.
func Normalize(c Choice) (string, error) {
	if s := strings.TrimSpace(c.Text); s != "" {
		return s, nil
	}
	if c.Message == nil || c.Message.Content == nil {
		return "", ErrEmptyResponse
	}

	switch content := c.Message.Content.(type) {
	case StringContent:
		if s := strings.TrimSpace(content.text()); s != "" {
			return s, nil
		}
	case PartsContent:
		if s := strings.TrimSpace(content.text()); s != "" {
			return s, nil
		}
	}
	return "", ErrEmptyResponse
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text    json.RawMessage `json:"text"`
		Message *Message        `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Text, _ = asString(raw.Text)
	c.Message = raw.Message
	return nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = decodeContent(raw.Content)
	return nil
}

func decodeContent(raw json.RawMessage) Content {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if s, ok := asString(raw); ok {
		return StringContent(s)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	parts := make(PartsContent, 0, len(items))
	for _, item := range items {
		parts = append(parts, decodePart(item))
	}
	return parts
}

func decodePart(raw json.RawMessage) Part {
	if s, ok := asString(raw); ok {
		return Part{Value: &s}
	}

	var obj struct {
		Text    json.RawMessage `json:"text"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Part{}
	}

	var p Part
	if s, ok := asString(obj.Text); ok {
		p.Text = &s
	}
	if len(obj.Content) > 0 {
		p.Content = decodeContent(obj.Content)
	}
	return p
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
