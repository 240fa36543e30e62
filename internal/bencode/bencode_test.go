package bencode

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "integer", in: int64(42), want: "i42e"},
		{name: "negative integer", in: -7, want: "i-7e"},
		{name: "zero", in: 0, want: "i0e"},
		{name: "string", in: "describe", want: "8:describe"},
		{name: "empty string", in: "", want: "0:"},
		{name: "bytes", in: []byte("ab"), want: "2:ab"},
		{name: "list", in: []any{int64(1), "a"}, want: "li1e1:ae"},
		{name: "empty list", in: []any{}, want: "le"},
		{
			name: "dict keys sorted",
			in:   map[string]any{"var": "f", "id": "1", "op": "invoke"},
			want: "d2:id1:12:op6:invoke3:var1:fe",
		},
		{name: "empty dict", in: map[string]any{}, want: "de"},
		{
			name: "nested",
			in:   map[string]any{"a": []any{map[string]any{"b": int64(2)}}},
			want: "d1:ald1:bi2eeee",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, tt.in))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, 3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "integer", in: "i42e", want: int64(42)},
		{name: "negative integer", in: "i-7e", want: int64(-7)},
		{name: "string", in: "5:hello", want: []byte("hello")},
		{name: "empty string", in: "0:", want: []byte{}},
		{name: "list", in: "li1e1:ae", want: []any{int64(1), []byte("a")}},
		{
			name: "dict any key order",
			in:   "d3:var1:f2:id1:1e",
			want: map[string]any{"var": []byte("f"), "id": []byte("1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDecoder(strings.NewReader(tt.in)).Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		truncated bool
	}{
		{name: "truncated integer", in: "i42", truncated: true},
		{name: "truncated string body", in: "5:abc", truncated: true},
		{name: "truncated list", in: "li1e", truncated: true},
		{name: "truncated dict", in: "d2:op", truncated: true},
		{name: "bad first byte", in: "x"},
		{name: "non-string dict key", in: "di1ei2ee"},
		{name: "bad integer", in: "iabce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.in)).Decode()
			require.Error(t, err)
			if tt.truncated {
				assert.ErrorIs(t, err, ErrTruncated)
			} else {
				var syn *SyntaxError
				assert.ErrorAs(t, err, &syn)
			}
		})
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("")).Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeLeavesTail(t *testing.T) {
	d := NewDecoder(strings.NewReader("i1ei2e"))

	first, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)

	_, err = d.Decode()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRoundTrip(t *testing.T) {
	// Byte strings decode as []byte; compare against the []byte form.
	in := map[string]any{
		"op":     "invoke",
		"id":     "17",
		"var":    "pod.test-pod/add-one",
		"args":   "[41]",
		"nested": []any{int64(1), int64(2), map[string]any{"k": "v"}},
	}
	want := map[string]any{
		"op":     []byte("invoke"),
		"id":     []byte("17"),
		"var":    []byte("pod.test-pod/add-one"),
		"args":   []byte("[41]"),
		"nested": []any{int64(1), int64(2), map[string]any{"k": []byte("v")}},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	got, err := NewDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
