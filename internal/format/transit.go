package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// transitCodec implements the tagged-typed format on a JSON carrier. The read
// side honors the transit key cache; the write side emits uncached output,
// which every conforming reader accepts.
type transitCodec struct {
	handlers *Handlers
}

func (c *transitCodec) Name() string { return Transit }

const (
	cacheCodeDigits = 44
	baseCharIndex   = 48
	maxSafeInt      = int64(1) << 53
)

// localDateTimeLayout is the ISO-8601 local date-time carried by the
// local-date-time tag.
const localDateTimeLayout = "2006-01-02T15:04:05"

func (c *transitCodec) Decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("transit: %w", err)
	}
	r := &transitReader{handlers: c.handlers}
	v, err := r.parse(raw, false)
	if err != nil {
		return nil, fmt.Errorf("transit: %w", err)
	}
	return v, nil
}

type transitReader struct {
	handlers *Handlers
	cache    []string
}

func (r *transitReader) parse(raw any, keyPos bool) (any, error) {
	switch t := raw.(type) {
	case nil, bool:
		return t, nil
	case json.Number:
		return normalizeJSON(t), nil
	case string:
		return r.parseString(t, keyPos)
	case []any:
		return r.parseArray(t)
	case map[string]any:
		return r.parseVerboseMap(t)
	default:
		return nil, fmt.Errorf("unexpected carrier value %T", raw)
	}
}

func (r *transitReader) parseString(s string, keyPos bool) (any, error) {
	if strings.HasPrefix(s, "^") && s != "^ " {
		idx, err := r.cacheIndex(s[1:])
		if err != nil {
			return nil, err
		}
		s = r.cache[idx]
	} else if cacheable(s, keyPos) {
		r.cache = append(r.cache, s)
	}

	if !strings.HasPrefix(s, "~") {
		return s, nil
	}
	if len(s) < 2 {
		return nil, fmt.Errorf("bare ~ in string")
	}
	tag, rep := s[1], s[2:]
	switch tag {
	case '~', '^', '`':
		return s[1:], nil
	case ':':
		return Keyword(rep), nil
	case '$':
		return Symbol(rep), nil
	case '_':
		return nil, nil
	case '?':
		return rep == "t", nil
	case 'i':
		n, err := strconv.ParseInt(rep, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("~i: %w", err)
		}
		return n, nil
	case 'd':
		f, err := strconv.ParseFloat(rep, 64)
		if err != nil {
			return nil, fmt.Errorf("~d: %w", err)
		}
		return f, nil
	case 'u':
		u, err := uuid.Parse(rep)
		if err != nil {
			return nil, fmt.Errorf("~u: %w", err)
		}
		return u, nil
	case 't':
		ts, err := time.Parse(time.RFC3339Nano, rep)
		if err != nil {
			return nil, fmt.Errorf("~t: %w", err)
		}
		return ts, nil
	case '#':
		// A ground tag string reaching value position stands alone.
		return TaggedLiteral{Tag: rep}, nil
	default:
		if fn, ok := r.handlers.Read(string(tag)); ok {
			return fn(rep)
		}
		return TaggedLiteral{Tag: string(tag), Value: rep}, nil
	}
}

func (r *transitReader) parseArray(arr []any) (any, error) {
	if len(arr) > 0 {
		if s, ok := arr[0].(string); ok {
			if s == "^ " {
				return r.parseMapArray(arr[1:])
			}
			resolved := s
			if strings.HasPrefix(s, "^") {
				idx, err := r.cacheIndex(s[1:])
				if err != nil {
					return nil, err
				}
				resolved = r.cache[idx]
			}
			if strings.HasPrefix(resolved, "~#") && len(arr) == 2 {
				if resolved == s && cacheable(s, false) {
					r.cache = append(r.cache, s)
				}
				return r.parseTagged(resolved[2:], arr[1])
			}
		}
	}
	out := make([]any, len(arr))
	for i, e := range arr {
		v, err := r.parse(e, false)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *transitReader) parseMapArray(pairs []any) (any, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd number of map entries")
	}
	return r.assembleMap(pairs)
}

func (r *transitReader) assembleMap(pairs []any) (any, error) {
	keys := make([]any, 0, len(pairs)/2)
	vals := make([]any, 0, len(pairs)/2)
	allString := true
	for i := 0; i < len(pairs); i += 2 {
		k, err := r.parse(pairs[i], true)
		if err != nil {
			return nil, err
		}
		if !hashable(k) {
			return nil, fmt.Errorf("unsupported map key of type %T", k)
		}
		if _, ok := k.(string); !ok {
			allString = false
		}
		v, err := r.parse(pairs[i+1], false)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}
	if allString {
		m := make(map[string]any, len(keys))
		for i, k := range keys {
			m[k.(string)] = vals[i]
		}
		return m, nil
	}
	m := make(map[any]any, len(keys))
	for i, k := range keys {
		m[k] = vals[i]
	}
	return m, nil
}

func (r *transitReader) parseTagged(tag string, rep any) (any, error) {
	if fn, ok := r.handlers.Read(tag); ok {
		v, err := r.parse(rep, false)
		if err != nil {
			return nil, err
		}
		out, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("read handler for ~#%s: %w", tag, err)
		}
		return out, nil
	}
	switch tag {
	case "'":
		return r.parse(rep, false)
	case "with-meta":
		pair, err := r.parse(rep, false)
		if err != nil {
			return nil, err
		}
		elems, ok := pair.([]any)
		if !ok || len(elems) != 2 {
			return nil, fmt.Errorf("with-meta expects a [value meta] pair")
		}
		return WithMeta{Value: elems[0], Meta: elems[1]}, nil
	case "set":
		elems, err := r.parse(rep, false)
		if err != nil {
			return nil, err
		}
		list, ok := elems.([]any)
		if !ok {
			return nil, fmt.Errorf("set expects an array")
		}
		return Set{Elems: list}, nil
	case "list":
		elems, err := r.parse(rep, false)
		if err != nil {
			return nil, err
		}
		return elems, nil
	case "cmap":
		elems, err := r.parse(rep, false)
		if err != nil {
			return nil, err
		}
		list, ok := elems.([]any)
		if !ok || len(list)%2 != 0 {
			return nil, fmt.Errorf("cmap expects an even-length array")
		}
		m := make(map[any]any, len(list)/2)
		for i := 0; i < len(list); i += 2 {
			if !hashable(list[i]) {
				return nil, fmt.Errorf("unsupported cmap key of type %T", list[i])
			}
			m[list[i]] = list[i+1]
		}
		return m, nil
	case "local-date-time":
		s, ok := rep.(string)
		if !ok {
			return nil, fmt.Errorf("local-date-time expects a string")
		}
		t, err := time.ParseInLocation(localDateTimeLayout, s, time.Local)
		if err != nil {
			return nil, fmt.Errorf("local-date-time: %w", err)
		}
		return t, nil
	}
	v, err := r.parse(rep, false)
	if err != nil {
		return nil, err
	}
	return TaggedLiteral{Tag: tag, Value: v}, nil
}

func (r *transitReader) parseVerboseMap(m map[string]any) (any, error) {
	if len(m) == 1 {
		for k, v := range m {
			if strings.HasPrefix(k, "~#") {
				return r.parseTagged(k[2:], v)
			}
		}
	}
	pairs := make([]any, 0, len(m)*2)
	for k, v := range m {
		pairs = append(pairs, k, v)
	}
	return r.assembleMap(pairs)
}

func (r *transitReader) cacheIndex(code string) (int, error) {
	var idx int
	switch len(code) {
	case 1:
		idx = int(code[0]) - baseCharIndex
	case 2:
		idx = (int(code[0])-baseCharIndex)*cacheCodeDigits + int(code[1]) - baseCharIndex
	default:
		return 0, fmt.Errorf("invalid cache code %q", code)
	}
	if idx < 0 || idx >= len(r.cache) {
		return 0, fmt.Errorf("cache code %q out of range", code)
	}
	return idx, nil
}

func cacheable(s string, keyPos bool) bool {
	if len(s) <= 3 {
		return false
	}
	return keyPos || strings.HasPrefix(s, "~:") || strings.HasPrefix(s, "~$") || strings.HasPrefix(s, "~#")
}

// writer

func (c *transitCodec) Encode(v any) (string, error) {
	raw, err := c.emit(v, false)
	if err != nil {
		return "", fmt.Errorf("transit: %w", err)
	}
	switch raw.(type) {
	case []any, map[string]any:
	default:
		// Top-level scalars must be quoted on the wire.
		raw = []any{"~#'", raw}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return "", fmt.Errorf("transit: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func (c *transitCodec) emit(v any, keyPos bool) (any, error) {
	if v != nil {
		if fn, ok := c.handlers.WriteFor(v); ok {
			return c.emitHandled(fn, v)
		}
	}

	switch t := v.(type) {
	case nil:
		if keyPos {
			return "~_", nil
		}
		return nil, nil
	case bool:
		if keyPos {
			if t {
				return "~?t", nil
			}
			return "~?f", nil
		}
		return t, nil
	case int:
		return c.emit(int64(t), keyPos)
	case int32:
		return c.emit(int64(t), keyPos)
	case int64:
		if keyPos || t >= maxSafeInt || t <= -maxSafeInt {
			return "~i" + strconv.FormatInt(t, 10), nil
		}
		return t, nil
	case float64:
		if keyPos {
			return "~d" + strconv.FormatFloat(t, 'g', -1, 64), nil
		}
		return t, nil
	case string:
		if strings.HasPrefix(t, "~") || strings.HasPrefix(t, "^") || strings.HasPrefix(t, "`") {
			return "~" + t, nil
		}
		return t, nil
	case Keyword:
		return "~:" + string(t), nil
	case Symbol:
		return "~$" + string(t), nil
	case uuid.UUID:
		return "~u" + t.String(), nil
	case time.Time:
		return "~t" + t.UTC().Format("2006-01-02T15:04:05.000Z"), nil
	case Set:
		elems, err := c.emitSlice(t.Elems)
		if err != nil {
			return nil, err
		}
		return []any{"~#set", elems}, nil
	case WithMeta:
		val, err := c.emit(t.Value, false)
		if err != nil {
			return nil, err
		}
		meta, err := c.emit(t.Meta, false)
		if err != nil {
			return nil, err
		}
		return []any{"~#with-meta", []any{val, meta}}, nil
	case TaggedLiteral:
		rep, err := c.emit(t.Value, false)
		if err != nil {
			return nil, err
		}
		return []any{"~#" + t.Tag, rep}, nil
	case []any:
		return c.emitSlice(t)
	case map[string]any:
		out := []any{"^ "}
		for k, val := range t {
			ek, err := c.emit(k, true)
			if err != nil {
				return nil, err
			}
			ev, err := c.emit(val, false)
			if err != nil {
				return nil, err
			}
			out = append(out, ek, ev)
		}
		return out, nil
	case map[any]any:
		out := []any{"^ "}
		for k, val := range t {
			ek, err := c.emit(k, true)
			if err != nil {
				return nil, err
			}
			ev, err := c.emit(val, false)
			if err != nil {
				return nil, err
			}
			out = append(out, ek, ev)
		}
		return out, nil
	default:
		if fn, ok := c.handlers.DefaultWrite(); ok {
			return c.emitHandled(fn, v)
		}
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func (c *transitCodec) emitHandled(fn WriteHandler, v any) (any, error) {
	tag, rep, err := fn(v)
	if err != nil {
		return nil, fmt.Errorf("write handler: %w", err)
	}
	if len(tag) == 1 {
		if s, ok := rep.(string); ok {
			return "~" + tag + s, nil
		}
	}
	emitted, err := c.emit(rep, false)
	if err != nil {
		return nil, err
	}
	return []any{"~#" + tag, emitted}, nil
}

func (c *transitCodec) emitSlice(elems []any) ([]any, error) {
	out := make([]any, len(elems))
	for i, e := range elems {
		v, err := c.emit(e, false)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
