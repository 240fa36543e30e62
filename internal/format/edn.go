package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ednCodec reads and prints EDN. Keywords and symbols are distinct host types
// and round-trip; maps decode to map[any]any so keyword keys survive.
type ednCodec struct {
	handlers *Handlers
}

func (c *ednCodec) Name() string { return EDN }

func (c *ednCodec) Decode(s string) (any, error) {
	r := &ednReader{src: s, handlers: c.handlers}
	v, err := r.readValue()
	if err != nil {
		return nil, fmt.Errorf("edn: %w", err)
	}
	r.skipSpace()
	if r.pos < len(r.src) {
		return nil, fmt.Errorf("edn: trailing data at offset %d", r.pos)
	}
	return v, nil
}

func (c *ednCodec) Encode(v any) (string, error) {
	var sb strings.Builder
	if err := c.writeValue(&sb, v); err != nil {
		return "", fmt.Errorf("edn: %w", err)
	}
	return sb.String(), nil
}

// reader

type ednReader struct {
	src      string
	pos      int
	handlers *Handlers
}

func (r *ednReader) skipSpace() {
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			r.pos++
		case c == ';':
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
		default:
			return
		}
	}
}

func (r *ednReader) readValue() (any, error) {
	r.skipSpace()
	if r.pos >= len(r.src) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	c := r.src[r.pos]
	switch {
	case c == '(':
		r.pos++
		return r.readSeq(')')
	case c == '[':
		r.pos++
		return r.readSeq(']')
	case c == '{':
		r.pos++
		return r.readMap()
	case c == '"':
		r.pos++
		return r.readString()
	case c == '\\':
		r.pos++
		return r.readChar()
	case c == ':':
		r.pos++
		tok := r.readToken()
		if tok == "" {
			return nil, fmt.Errorf("empty keyword at offset %d", r.pos)
		}
		return Keyword(tok), nil
	case c == '#':
		return r.readDispatch()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return r.readNumberOrSymbol()
	default:
		return r.readSymbol()
	}
}

func (r *ednReader) readSeq(close byte) ([]any, error) {
	items := []any{}
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return nil, fmt.Errorf("unterminated sequence")
		}
		if r.src[r.pos] == close {
			r.pos++
			return items, nil
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}

func (r *ednReader) readMap() (map[any]any, error) {
	m := map[any]any{}
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return nil, fmt.Errorf("unterminated map")
		}
		if r.src[r.pos] == '}' {
			r.pos++
			return m, nil
		}
		k, err := r.readValue()
		if err != nil {
			return nil, err
		}
		if !hashable(k) {
			return nil, fmt.Errorf("unsupported map key of type %T", k)
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
}

func hashable(v any) bool {
	switch v.(type) {
	case nil, bool, int64, float64, string, Keyword, Symbol:
		return true
	}
	return false
}

func (r *ednReader) readString() (string, error) {
	var sb strings.Builder
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		r.pos++
		switch c {
		case '"':
			return sb.String(), nil
		case '\\':
			if r.pos >= len(r.src) {
				return "", fmt.Errorf("unterminated escape")
			}
			e := r.src[r.pos]
			r.pos++
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case 'u':
				if r.pos+4 > len(r.src) {
					return "", fmt.Errorf("truncated unicode escape")
				}
				n, err := strconv.ParseUint(r.src[r.pos:r.pos+4], 16, 32)
				if err != nil {
					return "", fmt.Errorf("invalid unicode escape: %w", err)
				}
				r.pos += 4
				sb.WriteRune(rune(n))
			default:
				return "", fmt.Errorf("invalid escape \\%c", e)
			}
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated string")
}

func (r *ednReader) readChar() (string, error) {
	tok := r.readToken()
	switch tok {
	case "newline":
		return "\n", nil
	case "space":
		return " ", nil
	case "tab":
		return "\t", nil
	case "return":
		return "\r", nil
	case "":
		return "", fmt.Errorf("empty character literal")
	}
	if strings.HasPrefix(tok, "u") && len(tok) == 5 {
		n, err := strconv.ParseUint(tok[1:], 16, 32)
		if err == nil {
			return string(rune(n)), nil
		}
	}
	ch, _ := utf8.DecodeRuneInString(tok)
	return string(ch), nil
}

func (r *ednReader) readDispatch() (any, error) {
	r.pos++ // consume '#'
	if r.pos >= len(r.src) {
		return nil, fmt.Errorf("unexpected end after #")
	}
	switch r.src[r.pos] {
	case '{':
		r.pos++
		elems, err := r.readSeq('}')
		if err != nil {
			return nil, err
		}
		return Set{Elems: elems}, nil
	case '_':
		r.pos++
		if _, err := r.readValue(); err != nil {
			return nil, err
		}
		return r.readValue()
	}
	tag := r.readToken()
	if tag == "" {
		return nil, fmt.Errorf("missing tag after # at offset %d", r.pos)
	}
	v, err := r.readValue()
	if err != nil {
		return nil, err
	}
	if fn, ok := r.handlers.Read(tag); ok {
		out, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("read handler for #%s: %w", tag, err)
		}
		return out, nil
	}
	switch tag {
	case "inst":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("#inst expects a string, got %T", v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("#inst: %w", err)
		}
		return t, nil
	case "uuid":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("#uuid expects a string, got %T", v)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("#uuid: %w", err)
		}
		return u, nil
	}
	return TaggedLiteral{Tag: tag, Value: v}, nil
}

// readToken consumes symbol-constituent characters.
func (r *ednReader) readToken() string {
	start := r.pos
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',' ||
			c == '(' || c == ')' || c == '[' || c == ']' || c == '{' || c == '}' ||
			c == '"' || c == ';' {
			break
		}
		r.pos++
	}
	return r.src[start:r.pos]
}

func (r *ednReader) readNumberOrSymbol() (any, error) {
	start := r.pos
	tok := r.readToken()
	if tok == "-" || tok == "+" {
		return Symbol(tok), nil
	}
	// Sign followed by a non-digit is a symbol like -inf or +foo.
	rest := tok
	if rest[0] == '-' || rest[0] == '+' {
		rest = rest[1:]
	}
	if rest == "" || rest[0] < '0' || rest[0] > '9' {
		return Symbol(tok), nil
	}
	if strings.ContainsAny(tok, ".eE") && !strings.HasSuffix(tok, "N") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok, "M"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", tok, start)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(tok, "N"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at offset %d", tok, start)
	}
	return n, nil
}

func (r *ednReader) readSymbol() (any, error) {
	tok := r.readToken()
	switch tok {
	case "nil":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "":
		return nil, fmt.Errorf("unexpected character %q at offset %d", r.src[r.pos], r.pos)
	}
	return Symbol(tok), nil
}

// printer

func (c *ednCodec) writeValue(sb *strings.Builder, v any) error {
	if fn, ok := c.handlers.WriteFor(v); ok && v != nil {
		tag, rep, err := fn(v)
		if err != nil {
			return fmt.Errorf("write handler: %w", err)
		}
		sb.WriteByte('#')
		sb.WriteString(tag)
		sb.WriteByte(' ')
		return c.writeValue(sb, rep)
	}

	switch t := v.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case float64:
		writeEDNFloat(sb, t)
	case string:
		writeEDNString(sb, t)
	case Keyword:
		sb.WriteByte(':')
		sb.WriteString(string(t))
	case Symbol:
		sb.WriteString(string(t))
	case time.Time:
		sb.WriteString(`#inst "`)
		sb.WriteString(t.UTC().Format(time.RFC3339Nano))
		sb.WriteString(`"`)
	case uuid.UUID:
		sb.WriteString(`#uuid "`)
		sb.WriteString(t.String())
		sb.WriteString(`"`)
	case TaggedLiteral:
		sb.WriteByte('#')
		sb.WriteString(t.Tag)
		sb.WriteByte(' ')
		return c.writeValue(sb, t.Value)
	case WithMeta:
		// EDN has no wire-level metadata; print the value alone.
		return c.writeValue(sb, t.Value)
	case Set:
		sb.WriteString("#{")
		for i, e := range t.Elems {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.writeValue(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if err := c.writeValue(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		sb.WriteByte('{')
		first := true
		for k, val := range t {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			writeEDNString(sb, k)
			sb.WriteByte(' ')
			if err := c.writeValue(sb, val); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case map[any]any:
		sb.WriteByte('{')
		first := true
		for k, val := range t {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			if err := c.writeValue(sb, k); err != nil {
				return err
			}
			sb.WriteByte(' ')
			if err := c.writeValue(sb, val); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

func writeEDNFloat(sb *strings.Builder, f float64) {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	sb.WriteString(s)
}

func writeEDNString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
