// Package codec converts chat payloads to and from their wire form.
// The wire form is a single JSON object: {"userName": ..., "message": ...}.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	// ErrDecode is returned for any buffer that is not a valid encoded ChatMessage
	ErrDecode = errors.New("invalid chat payload")
	// ErrEncode is returned when a ChatMessage holds invalid UTF-8
	ErrEncode = errors.New("chat message is not valid text")
)

// ChatMessage is what one participant sends to another.
type ChatMessage struct {
	SenderName string
	Text       string
}

const (
	fieldUserName = "userName"
	fieldMessage  = "message"
)

// wireMessage is the JSON shape on the wire
type wireMessage struct {
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// Encode serializes m.
func Encode(m ChatMessage) ([]byte, error) {
	if !utf8.ValidString(m.SenderName) || !utf8.ValidString(m.Text) {
		return nil, ErrEncode
	}
	data, err := json.Marshal(wireMessage{UserName: m.SenderName, Message: m.Text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// Decode parses a buffer produced by Encode. Anything else is rejected
// with an error wrapping ErrDecode: keys must match exactly and appear
// once, values must be strings and escapes must form valid text.
func Decode(data []byte) (ChatMessage, error) {
	// json.Unmarshal would silently replace bad bytes with U+FFFD
	if !utf8.Valid(data) {
		return ChatMessage{}, fmt.Errorf("%w: not valid UTF-8", ErrDecode)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ChatMessage{}, fmt.Errorf("%w: not an object", ErrDecode)
	}

	fields := make(map[string]string, 2)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ChatMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		key, ok := tok.(string)
		if !ok || (key != fieldUserName && key != fieldMessage) {
			return ChatMessage{}, fmt.Errorf("%w: unknown field %v", ErrDecode, tok)
		}
		if _, dup := fields[key]; dup {
			return ChatMessage{}, fmt.Errorf("%w: duplicate field %q", ErrDecode, key)
		}

		value, err := decodeString(dec)
		if err != nil {
			return ChatMessage{}, fmt.Errorf("%w: field %q: %v", ErrDecode, key, err)
		}
		fields[key] = value
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return ChatMessage{}, fmt.Errorf("%w: unterminated object", ErrDecode)
	}
	if _, err := dec.Token(); err != io.EOF {
		return ChatMessage{}, fmt.Errorf("%w: trailing data", ErrDecode)
	}

	sender, hasSender := fields[fieldUserName]
	text, hasText := fields[fieldMessage]
	if !hasSender || !hasText {
		return ChatMessage{}, fmt.Errorf("%w: missing field", ErrDecode)
	}
	return ChatMessage{SenderName: sender, Text: text}, nil
}

// decodeString reads the next value of dec, which must be a JSON string
// whose escapes spell valid UTF-16
func decodeString(dec *json.Decoder) (string, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", err
	}
	if len(raw) == 0 || raw[0] != '"' {
		return "", errors.New("not a string")
	}
	if !validEscapes(raw) {
		return "", errors.New("unpaired surrogate escape")
	}

	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return v, nil
}

// validEscapes reports whether every \u escape in the quoted literal lit
// is either outside the surrogate range or a high surrogate immediately
// followed by a low one
func validEscapes(lit []byte) bool {
	for i := 0; i < len(lit); i++ {
		if lit[i] != '\\' {
			continue
		}
		i++
		if i >= len(lit) || lit[i] != 'u' {
			continue
		}
		r, ok := hexRune(lit, i+1)
		if !ok {
			return false
		}
		i += 4
		switch {
		case utf16.IsSurrogate(r) && r < 0xDC00:
			if i+2 >= len(lit) || lit[i+1] != '\\' || lit[i+2] != 'u' {
				return false
			}
			low, ok := hexRune(lit, i+3)
			if !ok || low < 0xDC00 || low > 0xDFFF {
				return false
			}
			i += 6
		case utf16.IsSurrogate(r):
			return false
		}
	}
	return true
}

// hexRune parses the four hex digits at lit[i:i+4]
func hexRune(lit []byte, i int) (rune, bool) {
	if i+4 > len(lit) {
		return 0, false
	}
	var r rune
	for _, c := range lit[i : i+4] {
		r <<= 4
		switch {
		case '0' <= c && c <= '9':
			r |= rune(c - '0')
		case 'a' <= c && c <= 'f':
			r |= rune(c - 'a' + 10)
		case 'A' <= c && c <= 'F':
			r |= rune(c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return r, true
}
