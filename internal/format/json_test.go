package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "null", in: "null", want: nil},
		{name: "bool", in: "true", want: true},
		{name: "integer", in: "42", want: int64(42)},
		{name: "float", in: "1.5", want: 1.5},
		{name: "exponent is float", in: "1e2", want: 100.0},
		{name: "string", in: `"hi"`, want: "hi"},
		{name: "array", in: "[1, 2.5]", want: []any{int64(1), 2.5}},
		{
			name: "object",
			in:   `{"a": {"b": 1}, "x": 2}`,
			want: map[string]any{"a": map[string]any{"b": int64(1)}, "x": int64(2)},
		},
	}

	c, err := New(JSON, nil)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONDecodeError(t *testing.T) {
	c, err := New(JSON, nil)
	require.NoError(t, err)
	_, err = c.Decode("{")
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	c, err := New(JSON, nil)
	require.NoError(t, err)
	values := []any{
		nil,
		false,
		int64(42),
		2.5,
		"text",
		[]any{int64(1), "a", nil},
		map[string]any{"a": map[string]any{"b": int64(1), "c": int64(3)}, "x": int64(2)},
	}
	for _, v := range values {
		s, err := c.Encode(v)
		require.NoError(t, err)
		got, err := c.Decode(s)
		require.NoError(t, err)
		assert.Equal(t, v, got, "text %q", s)
	}
}

func TestJSONEncodeFlattensHostTypes(t *testing.T) {
	c, err := New(JSON, nil)
	require.NoError(t, err)

	s, err := c.Encode([]any{Keyword("k"), Symbol("s"), Set{Elems: []any{int64(1)}}})
	require.NoError(t, err)
	assert.JSONEq(t, `["k", "s", [1]]`, s)
}
