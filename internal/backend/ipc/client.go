// Package ipc implements the compiler-service client. The service is a
// child process speaking msgpack frames over its standard streams; all
// compile workers share one connection and responses are routed back to
// callers by request id.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/vmihailenco/msgpack/v5"

	"aotc/internal/backend"
	"aotc/internal/unit"
)

// ErrSessionClosed is returned for calls made after the session ended.
var ErrSessionClosed = errors.New("compiler service session closed")

// Client is a backend.Compiler talking to a compiler-service subprocess.
type Client struct {
	rwc io.ReadWriteCloser
	cmd *exec.Cmd

	writeMu sync.Mutex
	enc     *msgpack.Encoder

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	readErr error
	done    chan struct{}

	name    string
	version string
	refuse  []glob.Glob
}

// Start launches "<command> serve" and performs the hello handshake.
// The child's stderr goes straight to the driver's stderr.
func Start(ctx context.Context, command string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, append(args, "serve")...) // #nosec G204 -- command comes from configuration
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("compiler service stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("compiler service stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start compiler service %q: %w", command, err)
	}
	c, err := Connect(&pipeRWC{r: stdout, w: stdin})
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// Connect wires a Client over an established connection and performs the
// hello handshake. Exposed separately so tests can drive the protocol over
// an in-process pipe.
func Connect(rwc io.ReadWriteCloser) (*Client, error) {
	c := &Client{
		rwc:     rwc,
		enc:     msgpack.NewEncoder(rwc),
		pending: make(map[uint64]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	resp, err := c.call(request{Op: opHello})
	if err != nil {
		_ = rwc.Close()
		return nil, fmt.Errorf("compiler service handshake: %w", err)
	}
	if resp.Hello == nil {
		_ = rwc.Close()
		return nil, errors.New("compiler service handshake: missing hello payload")
	}
	c.name = resp.Hello.Name
	c.version = resp.Hello.Version
	for _, p := range resp.Hello.Refuse {
		g, err := glob.Compile(p)
		if err != nil {
			_ = rwc.Close()
			return nil, fmt.Errorf("compiler service policy pattern %q: %w", p, err)
		}
		c.refuse = append(c.refuse, g)
	}
	return c, nil
}

// readLoop routes responses to waiting callers. When the stream ends
// (service exit, broken pipe) every pending request fails.
func (c *Client) readLoop() {
	dec := msgpack.NewDecoder(c.rwc)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			c.failAll(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		if errors.Is(err, io.EOF) {
			err = ErrSessionClosed
		}
		c.readErr = err
		close(c.done)
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *Client) call(req request) (response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return response{}, fmt.Errorf("compiler service write: %w", err)
	}

	resp, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return response{}, err
	}
	return resp, nil
}

// Name returns the service name reported in the handshake.
func (c *Client) Name() string { return c.name }

// Version returns the service version reported in the handshake.
func (c *Client) Version() string { return c.version }

// ShouldCompile applies the service's compilability policy patterns.
func (c *Client) ShouldCompile(m *unit.Method) bool {
	for _, g := range c.refuse {
		if g.Match(m.QualifiedName()) {
			return false
		}
	}
	return true
}

// Compile sends one method to the service and waits for its payload.
func (c *Client) Compile(ctx context.Context, m *unit.Method, opts backend.Options) (*backend.Compiled, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.call(request{
		Op: opCompile,
		Method: &wireMethod{
			Owner:      m.Owner,
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Flags:      uint8(m.Flags),
			Body:       m.Body,
		},
		Options: &wireOptions{Tiered: opts.Tiered, Assertions: opts.Assertions},
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	if resp.Compiled == nil {
		return nil, fmt.Errorf("compiler service returned no payload for %s", m.QualifiedName())
	}
	return resp.Compiled.payload(), nil
}

// OpenScope asks the service to keep debug-context state alive for
// assembler symbol resolution.
func (c *Client) OpenScope() error { return c.scopeCall(opScopeOpen) }

// CloseScope releases the debug-context state.
func (c *Client) CloseScope() error { return c.scopeCall(opScopeClose) }

func (c *Client) scopeCall(op string) error {
	resp, err := c.call(request{Op: op})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// Close ends the session: best-effort shutdown frame, then stream close,
// then child reaping when the client owns a subprocess.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.enc.Encode(request{ID: c.nextID.Add(1), Op: opShutdown})
	c.writeMu.Unlock()

	err := c.rwc.Close()
	if c.cmd != nil {
		if waitErr := c.cmd.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return err
}

// pipeRWC glues the child's stdout (reads) and stdin (writes) into one
// stream.
type pipeRWC struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeRWC) Close() error {
	errW := p.w.Close()
	errR := p.r.Close()
	if errW != nil {
		return errW
	}
	return errR
}
