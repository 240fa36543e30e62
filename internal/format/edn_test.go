package format

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEDN(t *testing.T) Codec {
	t.Helper()
	c, err := New(EDN, NewHandlers())
	require.NoError(t, err)
	return c
}

func TestEDNDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "nil", in: "nil", want: nil},
		{name: "true", in: "true", want: true},
		{name: "false", in: "false", want: false},
		{name: "integer", in: "42", want: int64(42)},
		{name: "negative", in: "-7", want: int64(-7)},
		{name: "float", in: "1.5", want: 1.5},
		{name: "exponent", in: "2e3", want: 2000.0},
		{name: "string", in: `"hi\nthere"`, want: "hi\nthere"},
		{name: "keyword", in: ":name", want: Keyword("name")},
		{name: "namespaced keyword", in: ":pod.test/k", want: Keyword("pod.test/k")},
		{name: "symbol", in: "add-one", want: Symbol("add-one")},
		{name: "char", in: `\a`, want: "a"},
		{name: "char newline", in: `\newline`, want: "\n"},
		{name: "vector", in: "[1 2 3]", want: []any{int64(1), int64(2), int64(3)}},
		{name: "list", in: "(1 2)", want: []any{int64(1), int64(2)}},
		{name: "set", in: "#{1 2}", want: Set{Elems: []any{int64(1), int64(2)}}},
		{
			name: "map keyword keys",
			in:   `{:name "A" :age 30}`,
			want: map[any]any{Keyword("name"): "A", Keyword("age"): int64(30)},
		},
		{
			name: "commas are whitespace",
			in:   "[1, 2, 3]",
			want: []any{int64(1), int64(2), int64(3)},
		},
		{name: "comment", in: "; note\n42", want: int64(42)},
		{name: "discard", in: "#_ 99 42", want: int64(42)},
		{
			name: "unknown tag",
			in:   `#person {:name "A"}`,
			want: TaggedLiteral{Tag: "person", Value: map[any]any{Keyword("name"): "A"}},
		},
		{
			name: "nested",
			in:   `{:a {:b [1 {:c "d"}]}}`,
			want: map[any]any{Keyword("a"): map[any]any{
				Keyword("b"): []any{int64(1), map[any]any{Keyword("c"): "d"}},
			}},
		},
	}

	c := newEDN(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEDNDecodeBuiltinTags(t *testing.T) {
	c := newEDN(t)

	got, err := c.Decode(`#uuid "6f5bdb1e-86b7-4bb3-b3f0-f2e6b3a7cd2e"`)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("6f5bdb1e-86b7-4bb3-b3f0-f2e6b3a7cd2e"), got)

	got, err = c.Decode(`#inst "2026-08-06T10:00:00Z"`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC), got)
}

func TestEDNDecodeErrors(t *testing.T) {
	c := newEDN(t)
	for _, in := range []string{"", "[1 2", `"abc`, "{:a}", "#", "[1] extra"} {
		_, err := c.Decode(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestEDNEncode(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: "nil"},
		{name: "bool", in: true, want: "true"},
		{name: "int", in: int64(42), want: "42"},
		{name: "float keeps point", in: 2.0, want: "2.0"},
		{name: "string", in: "a\"b", want: `"a\"b"`},
		{name: "keyword", in: Keyword("k"), want: ":k"},
		{name: "symbol", in: Symbol("s"), want: "s"},
		{name: "vector", in: []any{int64(1), "a"}, want: `[1 "a"]`},
		{name: "set", in: Set{Elems: []any{int64(1)}}, want: "#{1}"},
		{name: "tagged", in: TaggedLiteral{Tag: "p", Value: int64(1)}, want: "#p 1"},
	}

	c := newEDN(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Encode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEDNRoundTrip(t *testing.T) {
	c := newEDN(t)
	values := []any{
		nil,
		true,
		int64(41),
		2.5,
		"text",
		Keyword("status"),
		Symbol("pod.test-pod/add-one"),
		[]any{int64(1), int64(2), []any{Keyword("a")}},
		Set{Elems: []any{"x"}},
		map[any]any{Keyword("a"): int64(1), "b": []any{2.0}},
		TaggedLiteral{Tag: "custom", Value: map[any]any{Keyword("n"): int64(3)}},
	}
	for _, v := range values {
		s, err := c.Encode(v)
		require.NoError(t, err, "value %#v", v)
		got, err := c.Decode(s)
		require.NoError(t, err, "text %q", s)
		assert.Equal(t, v, got, "text %q", s)
	}
}

func TestEDNCustomReadHandler(t *testing.T) {
	h := NewHandlers()
	h.SetRead("person", func(rep any) (any, error) {
		m := rep.(map[any]any)
		name := m[Keyword("name")].(string)
		age := m[Keyword("age")].(int64)
		return map[string]any{
			"type":        "Person",
			"name":        name,
			"age":         age,
			"description": fmt.Sprintf("%s is %d years old", name, age),
		}, nil
	})
	c, err := New(EDN, h)
	require.NoError(t, err)

	got, err := c.Decode(`#person {:name "A" :age 30}`)
	require.NoError(t, err)
	want := map[string]any{
		"type":        "Person",
		"name":        "A",
		"age":         int64(30),
		"description": "A is 30 years old",
	}
	assert.Equal(t, want, got)
}

func TestEDNCustomWriteHandler(t *testing.T) {
	type point struct{ X, Y int64 }
	h := NewHandlers()
	h.SetWrite(point{}, func(v any) (string, any, error) {
		p := v.(point)
		return "point", []any{p.X, p.Y}, nil
	})
	c, err := New(EDN, h)
	require.NoError(t, err)

	s, err := c.Encode(point{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, "#point [1 2]", s)
}

func TestEDNRuntimeHandlerShadowsDescribeReader(t *testing.T) {
	h := NewHandlers()
	h.SetReadIfAbsent("tag", func(any) (any, error) { return "from-describe", nil })
	h.SetRead("tag", func(any) (any, error) { return "from-runtime", nil })
	// A later describe-supplied reader must not displace the runtime one.
	h.SetReadIfAbsent("tag", func(any) (any, error) { return "from-describe-2", nil })

	c, err := New(EDN, h)
	require.NoError(t, err)
	got, err := c.Decode("#tag 1")
	require.NoError(t, err)
	assert.Equal(t, "from-runtime", got)
}
