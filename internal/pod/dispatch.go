package pod

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mattjoyce/podium/internal/bencode"
)

func (p *Pod) newID() string {
	return strconv.FormatUint(p.nextID.Add(1), 10)
}

// writeMessage serializes one envelope under the writer lock. Envelopes reach
// the pod in writer-lock acquisition order.
func (p *Pod) writeMessage(msg map[string]any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return bencode.Encode(p.stdin, msg)
}

// Invoke calls a var in the pod. Without streaming handlers it blocks until
// the terminal reply (or the optional timeout); with handlers it returns
// right after the envelope is written and replies flow to the callbacks.
func (p *Pod) Invoke(varName string, args []any, opts InvokeOptions) (any, error) {
	if p.stopping.Load() {
		return nil, fmt.Errorf("%w: pod %s is stopping", ErrCancelled, p.ID)
	}

	payload, err := p.Codec.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatEncode, err)
	}

	id := p.newID()
	c := &call{id: id, handlers: opts.Handlers, result: make(chan callResult, 1)}
	p.mu.Lock()
	p.pending[id] = c
	p.mu.Unlock()

	msg := map[string]any{
		"op":   "invoke",
		"id":   id,
		"var":  varName,
		"args": payload,
	}
	if err := p.writeMessage(msg); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: write invoke: %v", ErrTerminated, err)
	}

	if opts.Handlers != nil {
		return nil, nil
	}

	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		select {
		case res := <-c.result:
			return res.value, res.err
		case <-timer.C:
			// The id stays reserved; a late reply is logged and dropped.
			c.timedOut.Store(true)
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, varName, opts.Timeout)
		}
	}

	res := <-c.result
	return res.value, res.err
}

// LoadNS asks the pod to materialize a deferred namespace and returns its
// descriptor.
func (p *Pod) LoadNS(name string) (Namespace, error) {
	if p.stopping.Load() {
		return Namespace{}, fmt.Errorf("%w: pod %s is stopping", ErrCancelled, p.ID)
	}

	id := p.newID()
	c := &call{id: id, result: make(chan callResult, 1)}
	p.mu.Lock()
	p.pending[id] = c
	p.mu.Unlock()

	msg := map[string]any{
		"op": "load-ns",
		"id": id,
		"ns": name,
	}
	if err := p.writeMessage(msg); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return Namespace{}, fmt.Errorf("%w: write load-ns: %v", ErrTerminated, err)
	}

	res := <-c.result
	if res.err != nil {
		return Namespace{}, res.err
	}
	ns, ok := res.value.(Namespace)
	if !ok {
		return Namespace{}, fmt.Errorf("%w: load-ns reply carried no namespace", ErrHandshake)
	}
	return ns, nil
}

// readLoop owns the read side. It decodes one envelope per iteration and
// routes it by id. A fatal read error fails every live request.
func (p *Pod) readLoop() {
	defer close(p.readerDone)
	for {
		v, err := p.dec.Decode()
		if err != nil {
			switch {
			case p.stopping.Load():
				p.failAll(fmt.Errorf("%w: pod %s unloaded", ErrCancelled, p.ID))
			case errors.Is(err, io.EOF) || errors.Is(err, bencode.ErrTruncated) || errors.Is(err, net.ErrClosed):
				p.logger.Warn("pod closed its output", "error", err)
				p.stopping.Store(true)
				p.failAll(fmt.Errorf("%w: pod %s", ErrTerminated, p.ID))
			default:
				p.logger.Error("envelope decode failed", "error", err)
				p.stopping.Store(true)
				p.failAll(fmt.Errorf("%w: %v", ErrEnvelopeDecode, err))
			}
			return
		}
		reply, ok := v.(map[string]any)
		if !ok {
			p.logger.Warn("ignoring non-dictionary envelope", "type", fmt.Sprintf("%T", v))
			continue
		}
		p.handleReply(reply)
	}
}

func (p *Pod) handleReply(reply map[string]any) {
	// Pass-through output streams arrive on any reply.
	if s := getMaybeString(reply, "out"); s != "" {
		_, _ = io.WriteString(p.out, s)
	}
	if s := getMaybeString(reply, "err"); s != "" {
		_, _ = io.WriteString(p.errOut, s)
	}

	id := getMaybeString(reply, "id")

	status := make(map[string]bool)
	if list, ok := reply["status"].([]any); ok {
		for _, s := range list {
			if b, ok := s.([]byte); ok {
				status[string(b)] = true
			}
		}
	}

	var value any
	hasValue := false
	var replyErr error
	if raw, ok := reply["value"].([]byte); ok {
		decoded, err := p.Codec.Decode(string(raw))
		if err != nil {
			replyErr = fmt.Errorf("%w: %v", ErrFormatDecode, err)
		} else {
			value = decoded
			hasValue = true
		}
	}

	if status["error"] {
		perr := &PodError{Message: getMaybeString(reply, "ex-message")}
		if raw := getMaybeString(reply, "ex-data"); raw != "" {
			if data, err := p.Codec.Decode(raw); err == nil {
				perr.Data = data
			}
		}
		replyErr = perr
	}

	var nsReply *Namespace
	if _, ok := reply["vars"]; ok {
		ns := parseNamespace(reply)
		nsReply = &ns
	}

	done := status["done"] || replyErr != nil

	p.mu.Lock()
	c := p.pending[id]
	if c != nil && done {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if c == nil {
		if id != "" {
			p.logger.Debug("dropping reply with no pending request", "id", id)
		}
		return
	}
	if c.timedOut.Load() {
		p.logger.Debug("dropping reply for timed-out request", "id", id)
		return
	}

	if c.handlers == nil {
		p.dispatchSync(c, value, hasValue, nsReply, replyErr, done)
	} else {
		p.dispatchStreaming(c, value, hasValue, replyErr, done)
	}
}

// dispatchSync feeds a blocking caller. Intermediate replies buffer; the
// terminal reply fulfills the completion slot exactly once.
func (p *Pod) dispatchSync(c *call, value any, hasValue bool, nsReply *Namespace, replyErr error, done bool) {
	switch {
	case replyErr != nil:
		c.complete(nil, replyErr)
	case nsReply != nil:
		c.complete(*nsReply, nil)
	case !done:
		if hasValue {
			c.stream = append(c.stream, value)
		}
	case len(c.stream) > 0:
		if hasValue {
			c.stream = append(c.stream, value)
		}
		c.complete(c.stream, nil)
	case hasValue:
		c.complete(value, nil)
	default:
		c.complete(nil, nil)
	}
}

// dispatchStreaming feeds callback-registered callers: zero or more
// success/error callbacks followed by exactly one done.
func (p *Pod) dispatchStreaming(c *call, value any, hasValue bool, replyErr error, done bool) {
	switch {
	case replyErr != nil:
		if c.handlers.Error != nil {
			c.handlers.Error(replyErr)
		}
	case hasValue:
		if c.handlers.Success != nil {
			c.handlers.Success(value)
		}
	}
	if done {
		c.doneOnce.Do(func() {
			if c.handlers.Done != nil {
				c.handlers.Done()
			}
		})
	}
}

func (c *call) complete(v any, err error) {
	c.doneOnce.Do(func() {
		c.result <- callResult{value: v, err: err}
	})
}

func (c *call) fail(err error) {
	if c.handlers != nil {
		c.doneOnce.Do(func() {
			if c.handlers.Error != nil {
				c.handlers.Error(err)
			}
			if c.handlers.Done != nil {
				c.handlers.Done()
			}
		})
		return
	}
	c.complete(nil, err)
}

// failAll fails every live request with err and empties the pending table.
func (p *Pod) failAll(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*call)
	p.mu.Unlock()
	for _, c := range pending {
		c.fail(err)
	}
}

// Close stops the pod: send shutdown if advertised, close the write side,
// wait up to the grace period, then kill. All still-pending requests fail
// with a cancellation error. Safe to call more than once.
func (p *Pod) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.doClose()
	})
	return p.closeErr
}

func (p *Pod) doClose() error {
	p.stopping.Store(true)

	if p.SupportsOp("shutdown") {
		if err := p.writeMessage(map[string]any{"op": "shutdown", "id": p.newID()}); err != nil {
			p.logger.Debug("shutdown write failed", "error", err)
		}
	}
	p.closeWriteSide()

	select {
	case <-p.procDone:
	case <-time.After(terminationGracePeriod):
		p.logger.Warn("pod did not exit after shutdown, killing")
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.procDone
	}

	p.failAll(fmt.Errorf("%w: pod %s unloaded", ErrCancelled, p.ID))

	if p.conn != nil {
		_ = p.conn.Close()
	}
	if p.portPath != "" {
		_ = os.Remove(p.portPath)
	}
	<-p.readerDone

	p.logger.Debug("pod stopped")
	return nil
}

// closeWriteSide closes only the host-to-pod direction so the pod still gets
// to flush its final replies.
func (p *Pod) closeWriteSide() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if tcp, ok := p.stdin.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
		return
	}
	_ = p.stdin.Close()
}

// reapAfterFailure cleans up a half-started pod when load fails.
func (p *Pod) reapAfterFailure() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	if p.portPath != "" {
		_ = os.Remove(p.portPath)
	}
}
