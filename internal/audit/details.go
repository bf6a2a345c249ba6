package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind tags how a details value was recovered.
type Kind int

const (
	KindNone Kind = iota
	KindStructured
	KindRawText
	KindUnreadable
)

// unserializedObject is what a historical writer stored when it coerced an
// object to text instead of encoding it.
const unserializedObject = "[object Object]"

// Details is the tagged form of an audit entry's details column. Writers go
// through Canonicalize; only historical rows need the recovery branches of
// ParseDetails.
type Details struct {
	kind      Kind
	value     any
	text      string
	malformed bool
}

// None is the empty details value.
func None() Details { return Details{} }

// Canonicalize converts a caller-supplied payload into the value that will be
// stored. Strings and bytes are kept verbatim; everything else is JSON encoded,
// falling back to fmt.Sprint when encoding fails.
func Canonicalize(v any) Details {
	switch t := v.(type) {
	case nil:
		return None()
	case Details:
		return t
	case string:
		return ParseDetails(&t)
	case []byte:
		text := string(t)
		return ParseDetails(&text)
	case json.RawMessage:
		text := string(t)
		return ParseDetails(&text)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return Details{kind: KindRawText, text: fmt.Sprint(v)}
	}
	text := string(b)
	if text == "null" {
		return None()
	}
	if text[0] != '{' && text[0] != '[' {
		return Details{kind: KindRawText, text: text}
	}
	value, err := decodeJSON(text)
	if err != nil {
		return Details{kind: KindRawText, text: text, malformed: true}
	}
	return Details{kind: KindStructured, value: value, text: text}
}

// ParseDetails classifies a stored details column.
func ParseDetails(stored *string) Details {
	if stored == nil {
		return None()
	}
	text := *stored
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return None()
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		value, err := decodeJSON(trimmed)
		if err == nil {
			return Details{kind: KindStructured, value: value, text: trimmed}
		}
		if trimmed != unserializedObject {
			return Details{kind: KindRawText, text: text, malformed: true}
		}
	}
	if trimmed == unserializedObject {
		return Details{kind: KindUnreadable, text: text}
	}
	return Details{kind: KindRawText, text: text}
}

// decodeJSON keeps numbers as json.Number so integers beyond 2^53 survive.
func decodeJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return value, nil
}

func (d Details) Kind() Kind      { return d.kind }
func (d Details) Value() any      { return d.value }
func (d Details) Text() string    { return d.text }
func (d Details) Malformed() bool { return d.malformed }

// Corrupted reports rows a historical writer damaged: the bare unserialized
// marker, or non-JSON text carrying it. Structured values never qualify.
func (d Details) Corrupted() bool {
	switch d.kind {
	case KindUnreadable:
		return true
	case KindRawText:
		return strings.Contains(d.text, unserializedObject)
	default:
		return false
	}
}

// Stored returns the column value to persist. Unreadable payloads are stored as NULL.
func (d Details) Stored() *string {
	switch d.kind {
	case KindStructured, KindRawText:
		s := d.text
		return &s
	default:
		return nil
	}
}

// Payload is the value exposed to API readers.
func (d Details) Payload() any {
	switch d.kind {
	case KindStructured:
		return d.value
	case KindRawText:
		if d.malformed {
			return map[string]any{"raw": d.text, "parseError": true}
		}
		return map[string]any{"message": d.text}
	default:
		return nil
	}
}

func (d Details) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Payload())
}

// Field returns a top-level string field of a structured object payload.
func (d Details) Field(name string) string {
	obj, ok := d.value.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[name].(string)
	return s
}
