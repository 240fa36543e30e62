// Package format implements the three payload formats a pod may negotiate at
// describe time: edn, json, and transit+json. edn and transit+json round-trip
// keywords, symbols, and sets, and consult per-pod handler tables for
// user-tagged values; json flattens those host types to plain trees.
package format

import (
	"fmt"
	"reflect"
	"sync"
)

// Format names as they appear in a describe reply.
const (
	EDN     = "edn"
	JSON    = "json"
	Transit = "transit+json"
)

// Keyword is an EDN/transit keyword, stored without the leading colon.
type Keyword string

// Symbol is an EDN/transit symbol.
type Symbol string

// Set is an unordered collection. Element order is preserved as read.
type Set struct {
	Elems []any
}

// TaggedLiteral preserves a tagged value whose tag has no registered read
// handler.
type TaggedLiteral struct {
	Tag   string
	Value any
}

// WithMeta pairs a value with its metadata map at the host boundary.
type WithMeta struct {
	Value any
	Meta  any
}

// ReadHandler converts the representation of a tagged value into a host value.
type ReadHandler func(rep any) (any, error)

// WriteHandler converts a host value into a tag and representation.
type WriteHandler func(v any) (tag string, rep any, err error)

// Handlers is the per-pod handler table: read handlers keyed by tag, write
// handlers keyed by host type, and an optional default write handler for the
// transit format. Safe for concurrent use.
type Handlers struct {
	mu           sync.RWMutex
	read         map[string]ReadHandler
	write        map[reflect.Type]WriteHandler
	defaultWrite WriteHandler
}

// NewHandlers returns an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{
		read:  make(map[string]ReadHandler),
		write: make(map[reflect.Type]WriteHandler),
	}
}

// SetRead registers fn for tag, replacing any previous handler.
func (h *Handlers) SetRead(tag string, fn ReadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.read[tag] = fn
}

// SetReadIfAbsent registers fn for tag only if no handler exists. Used for
// describe-supplied readers, which must not shadow runtime registrations.
func (h *Handlers) SetReadIfAbsent(tag string, fn ReadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.read[tag]; !ok {
		h.read[tag] = fn
	}
}

// Read returns the handler for tag, if any.
func (h *Handlers) Read(tag string) (ReadHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.read[tag]
	return fn, ok
}

// SetWrite registers fn for the host type of sample.
func (h *Handlers) SetWrite(sample any, fn WriteHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.write[reflect.TypeOf(sample)] = fn
}

// WriteFor returns the write handler matching v's type, if any.
func (h *Handlers) WriteFor(v any) (WriteHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.write[reflect.TypeOf(v)]
	return fn, ok
}

// SetDefaultWrite installs the fallback write handler.
func (h *Handlers) SetDefaultWrite(fn WriteHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultWrite = fn
}

// DefaultWrite returns the fallback write handler, if set.
func (h *Handlers) DefaultWrite() (WriteHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaultWrite, h.defaultWrite != nil
}

// Codec serializes host values to a payload string and back.
type Codec interface {
	Name() string
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// New returns the codec for a negotiated format name. The handler table may be
// shared across codecs of the same pod; json ignores it.
func New(name string, h *Handlers) (Codec, error) {
	if h == nil {
		h = NewHandlers()
	}
	switch name {
	case EDN:
		return &ednCodec{handlers: h}, nil
	case JSON:
		return &jsonCodec{}, nil
	case Transit:
		return &transitCodec{handlers: h}, nil
	default:
		return nil, fmt.Errorf("format: unknown format %q", name)
	}
}
