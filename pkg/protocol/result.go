package protocol

import (
	"encoding/json"
	"strings"
)

// Kind tags the shape of a tool result.
type Kind string

const (
	KindText   Kind = "text"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindScalar Kind = "scalar"
	KindError  Kind = "error"
)

// Result is the unwrapped outcome of a tool call. Exactly one of Text,
// Value or Error is meaningful depending on Kind.
type Result struct {
	Kind  Kind
	Text  string
	Value any
	Error string
}

// TextResult wraps raw text.
func TextResult(text string) Result { return Result{Kind: KindText, Text: text} }

// ErrorResult wraps an error message.
func ErrorResult(msg string) Result { return Result{Kind: KindError, Error: msg} }

// IsError reports whether the result carries an error.
func (r Result) IsError() bool { return r.Kind == KindError }

// MarshalJSON renders error results as {"error": msg}, text as a JSON
// string and decoded values as themselves.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindError:
		return json.Marshal(map[string]string{"error": r.Error})
	case KindText:
		return json.Marshal(r.Text)
	default:
		return json.Marshal(r.Value)
	}
}

// String renders the result as the content of a tool-result message.
func (r Result) String() string {
	if r.Kind == KindText {
		return r.Text
	}
	data, err := json.Marshal(r)
	if err != nil {
		return r.Text
	}
	return string(data)
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// unwrapResult turns a tools/call result into a Result. Text content blocks
// are joined and decoded as JSON when possible. Results without a content
// array are taken as the value itself.
func unwrapResult(raw json.RawMessage) Result {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return decodeText(string(raw))
	}
	if _, ok := probe["content"]; !ok {
		return decodeText(string(raw))
	}

	var cr callResult
	if err := json.Unmarshal(raw, &cr); err != nil {
		return decodeText(string(raw))
	}
	var texts []string
	for _, block := range cr.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if cr.IsError {
		return ErrorResult(text)
	}
	return decodeText(text)
}

func decodeText(text string) Result {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return TextResult(text)
	}
	switch v.(type) {
	case map[string]any:
		return Result{Kind: KindObject, Text: text, Value: v}
	case []any:
		return Result{Kind: KindArray, Text: text, Value: v}
	default:
		return Result{Kind: KindScalar, Text: text, Value: v}
	}
}
