// Package pod runs a single pod child process and drives the envelope
// protocol against it: spawn, describe, concurrent invokes with reply
// correlation, streaming callbacks, and graceful shutdown.
package pod

import (
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/podium/internal/bencode"
	"github.com/mattjoyce/podium/internal/format"
)

// Transport selects how envelope bytes reach the pod.
type Transport string

const (
	TransportStdio  Transport = "stdio"
	TransportSocket Transport = "socket"
)

const (
	// handshakeTimeout bounds the socket rendezvous and the describe exchange.
	handshakeTimeout = 10 * time.Second

	// terminationGracePeriod is the time we wait after shutdown before killing.
	terminationGracePeriod = 5 * time.Second

	// maxStderrBytes caps the amount of stderr retained for diagnostics.
	maxStderrBytes = 64 * 1024
)

// Options configures a pod load.
type Options struct {
	// ID overrides the derived pod identifier (first namespace name, else a
	// random one). Registry coordinates use the coordinate string.
	ID string

	Transport Transport

	// Stderr receives the child's stderr. Defaults to discard.
	Stderr io.Writer

	// Out and Err receive "out"/"err" passthrough replies. Default to the
	// host's stdout and stderr.
	Out io.Writer
	Err io.Writer

	// Env is appended to the child environment.
	Env []string

	// Dir is the child working directory.
	Dir string

	// Metadata, when set, is a previously captured describe reply; the
	// describe exchange is skipped.
	Metadata map[string]any

	// HandshakeTimeout overrides the default 10 s rendezvous/describe bound.
	HandshakeTimeout time.Duration
}

// VarDesc describes one operation of a namespace. A var with Code is
// host-evaluated; a var without Code is remote.
type VarDesc struct {
	Name    string
	Doc     string
	Async   bool
	ArgMeta bool
	Code    string
}

// Namespace is a described namespace. A deferred namespace carries only its
// name until loaded.
type Namespace struct {
	Name  string
	Vars  []VarDesc
	Defer bool
}

// Handlers are streaming callbacks for an async invoke.
type Handlers struct {
	Success func(v any)
	Error   func(err error)
	Done    func()
}

// InvokeOptions adjust a single invoke.
type InvokeOptions struct {
	Handlers *Handlers
	Timeout  time.Duration
}

// Pod is a live pod handle.
type Pod struct {
	ID         string
	Spec       []string
	Format     string
	Codec      format.Codec
	Handlers   *format.Handlers
	Namespaces []Namespace

	// ReaderSources holds describe-supplied reader sources (tag -> host
	// dialect source) awaiting host evaluation.
	ReaderSources map[string]string

	// RawDescribe is the decoded describe reply, kept for metadata caching.
	RawDescribe map[string]any

	ops map[string]struct{}

	cmd      *exec.Cmd
	conn     net.Conn
	stdin    io.WriteCloser
	dec      *bencode.Decoder
	portPath string

	out    io.Writer
	errOut io.Writer
	stderr *stderrCapture

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]*call
	nextID  atomic.Uint64

	stopping   atomic.Bool
	readerDone chan struct{}
	procDone   chan error
	closeOnce  sync.Once
	closeErr   error

	logger *slog.Logger
}

type call struct {
	id       string
	handlers *Handlers
	result   chan callResult
	stream   []any
	timedOut atomic.Bool
	doneOnce sync.Once
}

type callResult struct {
	value any
	err   error
}

// SupportsOp reports whether the pod advertised an extension op.
func (p *Pod) SupportsOp(name string) bool {
	_, ok := p.ops[name]
	return ok
}

// Alive reports whether the pod has not entered the stopping state.
func (p *Pod) Alive() bool {
	return !p.stopping.Load()
}

// stderrCapture forwards child stderr to a sink while retaining a bounded
// prefix for diagnostics.
type stderrCapture struct {
	mu   sync.Mutex
	sink io.Writer
	buf  []byte
}

func newStderrCapture(sink io.Writer) *stderrCapture {
	if sink == nil {
		sink = io.Discard
	}
	return &stderrCapture{sink: sink}
}

func (c *stderrCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	if keep := maxStderrBytes - len(c.buf); keep > 0 {
		if keep > len(p) {
			keep = len(p)
		}
		c.buf = append(c.buf, p[:keep]...)
	}
	c.mu.Unlock()
	return c.sink.Write(p)
}

// Tail returns the retained stderr prefix.
func (c *stderrCapture) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Stderr returns the retained stderr of the child, for error reporting.
func (p *Pod) Stderr() string {
	if p.stderr == nil {
		return ""
	}
	return p.stderr.Tail()
}

func (o *Options) outSink() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o *Options) errSink() io.Writer {
	if o.Err != nil {
		return o.Err
	}
	return os.Stderr
}

func (o *Options) handshake() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return handshakeTimeout
}
