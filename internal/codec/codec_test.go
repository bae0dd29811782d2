package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []ChatMessage{
		{SenderName: "Alice", Text: "hi"},
		{SenderName: "Bob", Text: ""},
		{SenderName: "", Text: "anonymous"},
		{SenderName: "ユーザー", Text: "こんにちは 👋"},
		{SenderName: "quote\"name", Text: "line1\nline2\t{\"json\":true}"},
	}

	for _, m := range cases {
		data, err := Encode(m)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(ChatMessage{SenderName: "Alice", Text: "hi"})
	require.NoError(t, err)
	require.JSONEq(t, `{"userName":"Alice","message":"hi"}`, string(data))
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := Encode(ChatMessage{SenderName: "Alice", Text: string([]byte{0xff, 0xfe})})
	require.ErrorIs(t, err, ErrEncode)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"whitespace":     []byte("   "),
		"truncated":      []byte(`{"userName":"Alice","mess`),
		"null":           []byte(`null`),
		"array":          []byte(`["Alice","hi"]`),
		"number":         []byte(`42`),
		"missing text":   []byte(`{"userName":"Alice"}`),
		"missing sender": []byte(`{"message":"hi"}`),
		"unknown field":  []byte(`{"userName":"Alice","message":"hi","extra":1}`),
		"wrong type":     []byte(`{"userName":"Alice","message":7}`),
		"null field":     []byte(`{"userName":null,"message":"hi"}`),
		"trailing":       []byte(`{"userName":"Alice","message":"hi"}{}`),
		"invalid utf8":   append([]byte(`{"userName":"Alice","message":"`), 0xff, '"', '}'),
		"plain text":     []byte("Alice: hi"),
		"key case":       []byte(`{"USERNAME":"Alice","MESSAGE":"hi"}`),
		"duplicate key":  []byte(`{"userName":"Alice","userName":"Mallory","message":"hi"}`),
		"lone high":      []byte(`{"userName":"\ud800","message":"hi"}`),
		"lone low":       []byte(`{"userName":"Alice","message":"\udc00x"}`),
		"reversed pair":  []byte(`{"userName":"Alice","message":"\udc00\ud800"}`),
		"empty object":   []byte(`{}`),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Decode(data) })
			require.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}
}

func TestDecodeAcceptsEscapes(t *testing.T) {
	got, err := Decode([]byte(`{"message":"\ud83d\udc4b \u00e9\\u","userName":"Al\"ice"}`))
	require.NoError(t, err)
	require.Equal(t, ChatMessage{SenderName: `Al"ice`, Text: "👋 é\\u"}, got)
}
