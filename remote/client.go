package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 30 * time.Second

// maxAbandoned bounds how many timed out requests are remembered. Beyond
// it the oldest is forgotten and a late reply to it fails the connection.
const maxAbandoned = 1024

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per request timeout. Zero waits for the context only.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Client talks to a compilation service over one connection. Requests may
// be issued concurrently; responses are matched by id.
type Client struct {
	conn    net.Conn
	enc     *cbor.Encoder
	pending map[uint64]chan *Response
	// abandoned holds timed out requests whose responses may still arrive.
	abandoned map[uint64]struct{}
	err       error
	done      chan struct{}
	timeout   time.Duration
	nextID    atomic.Uint64
	writeMu   sync.Mutex
	mu        sync.Mutex
}

// Dial connects to a service at addr.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Transport(errors.KindDisconnected, "dial "+addr, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{
		conn:      conn,
		enc:       newEncoder(conn),
		pending:   make(map[uint64]chan *Response),
		abandoned: make(map[uint64]struct{}),
		done:      make(chan struct{}),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	dec := newDecoder(c.conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) || stderrors.Is(err, net.ErrClosed) || isEOF(err) {
				c.fail(errors.Transport(errors.KindDisconnected, "connection lost", err))
			} else {
				c.fail(errors.Transport(errors.KindProtocolViolation, "malformed response", err))
			}
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		_, late := c.abandoned[resp.ID]
		delete(c.abandoned, resp.ID)
		c.mu.Unlock()
		if late {
			continue
		}
		if !ok {
			if resp.Op == OpError && resp.ID == 0 {
				c.fail(resp.Err())
				return
			}
			c.fail(errors.Transport(errors.KindProtocolViolation, fmt.Sprintf("response for unknown request %d", resp.ID), nil))
			return
		}
		ch <- &resp
	}
}

// fail ends the connection and releases every waiting request with err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.pending = make(map[uint64]chan *Response)
	c.abandoned = make(map[uint64]struct{})
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.Close()
}

func isEOF(err error) bool {
	return stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.ErrClosedPipe)
}

// Close closes the connection. Requests in flight fail with Disconnected.
func (c *Client) Close() error {
	c.fail(errors.Transport(errors.KindDisconnected, "client closed", nil))
	return nil
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(errors.Transport(errors.KindDisconnected, "write request", err))
		return nil, c.failure()
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return resp, nil
	case <-c.done:
		// a response may have been delivered just before the failure
		select {
		case resp := <-ch:
			if err := resp.Err(); err != nil {
				return nil, err
			}
			return resp, nil
		default:
		}
		return nil, c.failure()
	case <-timeout:
		c.forget(req.ID)
		return nil, errors.New(errors.PhaseTransport, errors.KindTimeout).
			Symbol(req.Op).
			Detail("no response to request %d after %s", req.ID, c.timeout).
			Build()
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, errors.Transport(errors.KindTimeout, req.Op+" cancelled", ctx.Err())
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		if len(c.abandoned) >= maxAbandoned {
			delete(c.abandoned, slices.Min(slices.Collect(maps.Keys(c.abandoned))))
		}
		c.abandoned[id] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Compile asks the service to compile source as one unit named module in
// namespace ns. An empty ns keeps the session's current namespace.
func (c *Client) Compile(ctx context.Context, ns, module, source string, target *ir.TargetSpec) (*Response, error) {
	return c.do(ctx, &Request{Op: OpCompile, NS: ns, Module: module, Source: source, Target: target})
}

// Require asks the service to compile source form by form.
func (c *Client) Require(ctx context.Context, ns, prefix, source string, target *ir.TargetSpec) (*Response, error) {
	return c.do(ctx, &Request{Op: OpRequire, NS: ns, Module: prefix, Source: source, Target: target})
}

// Ping checks the session is alive and returns its namespace.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, &Request{Op: OpPing})
	if err != nil {
		return "", err
	}
	if resp.Op != OpPong {
		return "", errors.Transport(errors.KindProtocolViolation, "unexpected reply "+resp.Op, nil)
	}
	return resp.NS, nil
}
