package podium

import (
	"io"
	"time"

	"github.com/mattjoyce/podium/internal/format"
	"github.com/mattjoyce/podium/internal/pod"
)

// Host-side value vocabulary shared by the payload formats.
type (
	Keyword       = format.Keyword
	Symbol        = format.Symbol
	Set           = format.Set
	TaggedLiteral = format.TaggedLiteral
	WithMeta      = format.WithMeta
	ReadHandler   = format.ReadHandler
	WriteHandler  = format.WriteHandler
)

// Handlers are streaming callbacks for an async invoke.
type Handlers = pod.Handlers

// Namespace and VarDesc re-export the describe vocabulary.
type (
	Namespace = pod.Namespace
	VarDesc   = pod.VarDesc
)

// Option adjusts a LoadPod call.
type Option func(*loadOptions)

type loadOptions struct {
	version   string
	force     bool
	transport pod.Transport
	cacheDir  string
	metadata  map[string]any
	stderr    io.Writer
	out       io.Writer
	errOut    io.Writer
	env       []string
	dir       string
	handshake time.Duration
}

// WithVersion selects a registry version for a coordinate spec.
func WithVersion(v string) Option {
	return func(o *loadOptions) { o.version = v }
}

// WithForce re-resolves a registry pod and replaces an already-loaded handle.
func WithForce() Option {
	return func(o *loadOptions) { o.force = true }
}

// WithSocketTransport switches the pod to the socket transport.
func WithSocketTransport() Option {
	return func(o *loadOptions) { o.transport = pod.TransportSocket }
}

// WithCacheDir overrides the pod cache root for registry resolution.
func WithCacheDir(dir string) Option {
	return func(o *loadOptions) { o.cacheDir = dir }
}

// WithMetadata supplies a pre-captured describe reply, skipping the
// handshake exchange.
func WithMetadata(m map[string]any) Option {
	return func(o *loadOptions) { o.metadata = m }
}

// WithStderr routes the child's stderr to w instead of discarding it.
func WithStderr(w io.Writer) Option {
	return func(o *loadOptions) { o.stderr = w }
}

// WithOutput routes "out"/"err" passthrough replies to the given sinks.
func WithOutput(out, err io.Writer) Option {
	return func(o *loadOptions) { o.out = out; o.errOut = err }
}

// WithEnv appends extra environment entries for the child.
func WithEnv(env ...string) Option {
	return func(o *loadOptions) { o.env = append(o.env, env...) }
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(o *loadOptions) { o.dir = dir }
}

// WithHandshakeTimeout overrides the rendezvous/describe bound.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *loadOptions) { o.handshake = d }
}

// InvokeOption adjusts a single invoke.
type InvokeOption func(*pod.InvokeOptions)

// WithHandlers registers streaming callbacks; the invoke returns right after
// the envelope is written.
func WithHandlers(h *Handlers) InvokeOption {
	return func(o *pod.InvokeOptions) { o.Handlers = h }
}

// WithTimeout fails the invoke locally when the deadline expires.
func WithTimeout(d time.Duration) InvokeOption {
	return func(o *pod.InvokeOptions) { o.Timeout = d }
}
