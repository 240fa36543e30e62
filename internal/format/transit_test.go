package format

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransit(t *testing.T) Codec {
	t.Helper()
	c, err := New(Transit, NewHandlers())
	require.NoError(t, err)
	return c
}

func TestTransitDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "array", in: "[1, 2.5, null, true]", want: []any{int64(1), 2.5, nil, true}},
		{name: "keyword", in: `["~:status"]`, want: []any{Keyword("status")}},
		{name: "symbol", in: `["~$f"]`, want: []any{Symbol("f")}},
		{name: "escaped tilde", in: `["~~raw"]`, want: []any{"~raw"}},
		{name: "big int tag", in: `["~i9007199254740993"]`, want: []any{int64(9007199254740993)}},
		{name: "float tag", in: `["~d1.5"]`, want: []any{1.5}},
		{name: "quoted scalar", in: `["~#'", 42]`, want: int64(42)},
		{
			name: "map form",
			in:   `["^ ", "name", "A", "age", 30]`,
			want: map[string]any{"name": "A", "age": int64(30)},
		},
		{
			name: "keyword keyed map",
			in:   `["^ ", "~:name", "A"]`,
			want: map[any]any{Keyword("name"): "A"},
		},
		{
			name: "key cache",
			in:   `[["^ ", "source", 1], ["^ ", "^0", 2]]`,
			want: []any{map[string]any{"source": int64(1)}, map[string]any{"source": int64(2)}},
		},
		{name: "set", in: `["~#set", [1, 2]]`, want: Set{Elems: []any{int64(1), int64(2)}}},
		{name: "list", in: `["~#list", [1]]`, want: []any{int64(1)}},
		{
			name: "unknown tag",
			in:   `["~#point", [1, 2]]`,
			want: TaggedLiteral{Tag: "point", Value: []any{int64(1), int64(2)}},
		},
		{
			name: "verbose map",
			in:   `{"a": 1}`,
			want: map[string]any{"a": int64(1)},
		},
		{
			name: "verbose tagged",
			in:   `{"~#set": [1]}`,
			want: Set{Elems: []any{int64(1)}},
		},
	}

	c := newTransit(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitDecodeUUIDAndTime(t *testing.T) {
	c := newTransit(t)

	got, err := c.Decode(`["~u6f5bdb1e-86b7-4bb3-b3f0-f2e6b3a7cd2e"]`)
	require.NoError(t, err)
	assert.Equal(t, []any{uuid.MustParse("6f5bdb1e-86b7-4bb3-b3f0-f2e6b3a7cd2e")}, got)

	got, err = c.Decode(`["~t2026-08-06T10:00:00.000Z"]`)
	require.NoError(t, err)
	assert.Equal(t, []any{time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)}, got)

	got, err = c.Decode(`["~#local-date-time", "2026-08-06T10:30:00"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 6, 10, 30, 0, 0, time.Local), got)
}

func TestTransitWithMeta(t *testing.T) {
	c := newTransit(t)

	in := WithMeta{
		Value: []any{int64(1), int64(2), int64(3)},
		Meta:  map[string]any{"source": "x", "v": int64(1)},
	}
	s, err := c.Encode(in)
	require.NoError(t, err)

	got, err := c.Decode(s)
	require.NoError(t, err)
	wm, ok := got.(WithMeta)
	require.True(t, ok, "decoded %T", got)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, wm.Value)
	assert.Equal(t, "x", wm.Meta.(map[string]any)["source"])
}

func TestTransitRoundTrip(t *testing.T) {
	c := newTransit(t)
	values := []any{
		nil,
		true,
		int64(41),
		2.5,
		"text",
		"~needs-escape",
		Keyword("status"),
		Symbol("f"),
		uuid.MustParse("6f5bdb1e-86b7-4bb3-b3f0-f2e6b3a7cd2e"),
		[]any{int64(1), []any{Keyword("a")}},
		Set{Elems: []any{"x"}},
		map[string]any{"a": int64(1)},
		map[any]any{Keyword("k"): "v"},
		WithMeta{Value: "v", Meta: map[string]any{"m": int64(1)}},
	}
	for _, v := range values {
		s, err := c.Encode(v)
		require.NoError(t, err, "value %#v", v)
		got, err := c.Decode(s)
		require.NoError(t, err, "text %q", s)
		assert.Equal(t, v, got, "text %q", s)
	}
}

func TestTransitCustomHandlers(t *testing.T) {
	type temp struct{ Celsius float64 }

	h := NewHandlers()
	h.SetRead("temp", func(rep any) (any, error) {
		return temp{Celsius: rep.(float64)}, nil
	})
	h.SetWrite(temp{}, func(v any) (string, any, error) {
		return "temp", v.(temp).Celsius, nil
	})
	c, err := New(Transit, h)
	require.NoError(t, err)

	s, err := c.Encode(temp{Celsius: 21.5})
	require.NoError(t, err)
	got, err := c.Decode(s)
	require.NoError(t, err)
	assert.Equal(t, temp{Celsius: 21.5}, got)
}

func TestTransitDefaultWriteHandler(t *testing.T) {
	type opaque struct{ ID int }

	c := newTransit(t)
	_, err := c.Encode(opaque{ID: 1})
	require.Error(t, err)

	h := NewHandlers()
	h.SetDefaultWrite(func(v any) (string, any, error) {
		return "opaque", fmt.Sprintf("%v", v), nil
	})
	c2, err := New(Transit, h)
	require.NoError(t, err)
	s, err := c2.Encode(opaque{ID: 1})
	require.NoError(t, err)
	assert.Contains(t, s, "~#opaque")
}
