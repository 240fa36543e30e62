package pod

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/podium/internal/bencode"
	"github.com/mattjoyce/podium/internal/format"
	"github.com/mattjoyce/podium/internal/log"
)

// Load spawns the pod process, performs the describe exchange (unless
// metadata was pre-supplied), and starts the reader goroutine. The returned
// pod is ready for Invoke.
func Load(spec []string, opts Options) (*Pod, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}

	isSocket := opts.Transport == TransportSocket

	cmd := exec.Command(spec[0], spec[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "BABASHKA_POD=true")
	if isSocket {
		cmd.Env = append(cmd.Env, "BABASHKA_POD_TRANSPORT=socket")
	}
	cmd.Env = append(cmd.Env, opts.Env...)

	p := &Pod{
		Spec:       spec,
		out:        opts.outSink(),
		errOut:     opts.errSink(),
		stderr:     newStderrCapture(opts.Stderr),
		pending:    make(map[string]*call),
		readerDone: make(chan struct{}),
		procDone:   make(chan error, 1),
	}
	p.cmd = cmd
	cmd.Stderr = p.stderr

	if isSocket {
		// The pod owns stdout in socket mode; envelopes travel the socket.
		cmd.Stdout = opts.outSink()
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		if err := p.connectSocket(opts); err != nil {
			p.reapAfterFailure()
			return nil, err
		}
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		p.stdin = stdin
		p.dec = bencode.NewDecoder(stdout)
	}

	reply := opts.Metadata
	if reply == nil {
		var err error
		reply, err = p.describe(opts.handshake())
		if err != nil {
			p.reapAfterFailure()
			return nil, err
		}
	}

	if err := p.applyDescribe(reply); err != nil {
		p.reapAfterFailure()
		return nil, err
	}

	if opts.ID != "" {
		p.ID = opts.ID
	} else if len(p.Namespaces) > 0 {
		p.ID = p.Namespaces[0].Name
	} else {
		p.ID = uuid.NewString()
	}
	p.logger = log.WithPod(p.ID)

	go p.readLoop()
	go func() {
		// With a piped stdout the reader must drain before Wait releases the
		// pipe; socket mode has no such ordering constraint.
		if !isSocket {
			<-p.readerDone
		}
		p.procDone <- p.cmd.Wait()
	}()

	p.logger.Debug("pod ready", "format", p.Format, "namespaces", len(p.Namespaces))
	return p, nil
}

// connectSocket waits for the port rendezvous file and dials the pod.
func (p *Pod) connectSocket(opts Options) error {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	p.portPath = filepath.Join(dir, fmt.Sprintf(".babashka-pod-%d.port", p.cmd.Process.Pid))

	deadline := time.Now().Add(opts.handshake())
	var port int
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no port file at %s", ErrHandshake, p.portPath)
		}
		data, err := os.ReadFile(p.portPath)
		if err == nil {
			if n, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && n > 0 {
				port = n
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: cannot connect to localhost:%d", ErrHandshake, port)
		}
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Until(deadline))
		if err == nil {
			if tcp, ok := conn.(*net.TCPConn); ok {
				_ = tcp.SetNoDelay(true)
			}
			p.conn = conn
			p.stdin = conn
			p.dec = bencode.NewDecoder(conn)
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// describe performs the handshake exchange synchronously, before the reader
// goroutine owns the read side.
func (p *Pod) describe(timeout time.Duration) (map[string]any, error) {
	msg := map[string]any{
		"op": "describe",
		"id": p.newID(),
	}
	if err := p.writeMessage(msg); err != nil {
		return nil, fmt.Errorf("%w: write describe: %v", ErrHandshake, err)
	}

	type decoded struct {
		v   any
		err error
	}
	ch := make(chan decoded, 1)
	go func() {
		v, err := p.dec.Decode()
		ch <- decoded{v: v, err: err}
	}()

	select {
	case d := <-ch:
		if d.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, d.err)
		}
		reply, ok := d.v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: describe reply is %T, want dictionary", ErrHandshake, d.v)
		}
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: describe timed out after %s", ErrHandshake, timeout)
	}
}

// applyDescribe digests the describe reply into the handle: format, codec,
// ops, reader sources, and namespace descriptors.
func (p *Pod) applyDescribe(reply map[string]any) error {
	p.RawDescribe = reply
	name := getMaybeString(reply, "format")
	if name == "" {
		name = format.EDN
	}
	p.Format = name
	p.Handlers = format.NewHandlers()

	codec, err := format.New(name, p.Handlers)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	p.Codec = codec

	p.ops = make(map[string]struct{})
	if ops, ok := reply["ops"].(map[string]any); ok {
		for op := range ops {
			p.ops[op] = struct{}{}
		}
	}

	p.ReaderSources = make(map[string]string)
	if readers, ok := reply["readers"].(map[string]any); ok {
		for tag, src := range readers {
			if s, ok := src.([]byte); ok {
				p.ReaderSources[tag] = string(s)
			}
		}
	}

	deferred := make(map[string]bool)
	if names, ok := reply["defer"].([]any); ok {
		for _, n := range names {
			if b, ok := n.([]byte); ok {
				deferred[string(b)] = true
			}
		}
	}

	nss, _ := reply["namespaces"].([]any)
	p.Namespaces = make([]Namespace, 0, len(nss))
	for _, raw := range nss {
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: namespace entry is %T, want dictionary", ErrHandshake, raw)
		}
		ns := parseNamespace(m)
		if deferred[ns.Name] {
			ns.Defer = true
		}
		p.Namespaces = append(p.Namespaces, ns)
	}
	return nil
}

func parseNamespace(m map[string]any) Namespace {
	ns := Namespace{
		Name:  getMaybeString(m, "name"),
		Defer: getMaybeString(m, "defer") == "true",
	}
	vars, _ := m["vars"].([]any)
	for _, raw := range vars {
		vm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ns.Vars = append(ns.Vars, parseVar(vm))
	}
	return ns
}

func parseVar(m map[string]any) VarDesc {
	v := VarDesc{
		Name:    getMaybeString(m, "name"),
		Doc:     getMaybeString(m, "doc"),
		Async:   getMaybeString(m, "async") == "true",
		ArgMeta: getMaybeString(m, "arg-meta") == "true",
		Code:    getMaybeString(m, "code"),
	}
	if v.Doc == "" {
		if meta := getMaybeString(m, "meta"); meta != "" {
			v.Doc = docFromMeta(meta)
		}
	}
	return v
}

// docFromMeta pulls :doc out of a var's EDN metadata string.
func docFromMeta(meta string) string {
	codec, err := format.New(format.EDN, nil)
	if err != nil {
		return ""
	}
	parsed, err := codec.Decode(meta)
	if err != nil {
		return ""
	}
	m, ok := parsed.(map[any]any)
	if !ok {
		return ""
	}
	doc, _ := m[format.Keyword("doc")].(string)
	return doc
}

func getMaybeString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}
