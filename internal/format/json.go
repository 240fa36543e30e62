package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// jsonCodec is the plain-tree format: no tags, string-keyed objects, numbers
// split into int64 and float64 at decode time.
type jsonCodec struct{}

func (c *jsonCodec) Name() string { return JSON }

func (c *jsonCodec) Decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return normalizeJSON(raw), nil
}

func (c *jsonCodec) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonReady(v)); err != nil {
		return "", fmt.Errorf("json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// normalizeJSON rewrites json.Number leaves into int64 or float64.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = normalizeJSON(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeJSON(e)
		}
		return t
	default:
		return v
	}
}

// jsonReady lowers format-specific host types into plain JSON trees. Keywords
// and symbols flatten to their names; sets become arrays; metadata is lost
// (the plain-tree format has no way to carry it).
func jsonReady(v any) any {
	switch t := v.(type) {
	case Keyword:
		return string(t)
	case Symbol:
		return string(t)
	case Set:
		out := make([]any, len(t.Elems))
		for i, e := range t.Elems {
			out[i] = jsonReady(e)
		}
		return out
	case WithMeta:
		return jsonReady(t.Value)
	case TaggedLiteral:
		return jsonReady(t.Value)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonReady(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonReady(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(jsonReady(k))] = jsonReady(e)
		}
		return out
	default:
		return v
	}
}
