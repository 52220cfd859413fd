package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cifabric/cifabric/internal/fault"
	"github.com/cifabric/cifabric/internal/netpool"
)

// Options configures the socket client.
type Options struct {
	RequestTimeout time.Duration // default total wall-clock per call, 30s
	PingTimeout    time.Duration // bound on ping round-trip, 1s
	// DirectFallback, when set, makes Send fall back to a dedicated
	// one-shot connection if the pool cannot provide one. The fallback is
	// logged so the taken path is observable.
	DirectFallback bool
}

func (o *Options) fill() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = time.Second
	}
}

// Client performs request/reply and streaming exchanges over pooled
// connections.
type Client struct {
	pool *netpool.Pool
	opts Options
}

// NewClient creates a socket client on top of the pool.
func NewClient(pool *netpool.Pool, opts Options) *Client {
	opts.fill()
	return &Client{pool: pool, opts: opts}
}

// Send delivers one message and reads one reply. timeout governs total
// wall-clock from acquire to final byte; zero means the configured default.
// Delivery is at-most-once: a single silent retry happens only if the very
// first write on a reused pooled connection fails, never after a write
// succeeded.
func (c *Client) Send(ctx context.Context, endpoint, address string, message json.RawMessage, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	pc, err := c.pool.Acquire(ctx, endpoint, address)
	if err != nil {
		if !c.opts.DirectFallback {
			return nil, err
		}
		slog.Warn("Pool acquire failed, using direct connection", "endpoint", endpoint, "error", err)
		return c.sendDirect(ctx, endpoint, address, message, deadline)
	}

	req := &Request{Message: message}
	if werr := writeFrame(pc.Conn(), req, deadline); werr != nil {
		// Stale pooled connection edge case: the peer closed it while
		// cached. One silent retry on a fresh connection, only when
		// nothing was delivered on a fresh dial already.
		c.pool.Evict(pc)
		if !pc.Reused() {
			return nil, c.classify(endpoint, timeout, deadline, werr)
		}
		pc, err = c.pool.Acquire(ctx, endpoint, address)
		if err != nil {
			return nil, err
		}
		if werr := writeFrame(pc.Conn(), req, deadline); werr != nil {
			c.pool.Evict(pc)
			return nil, c.classify(endpoint, timeout, deadline, werr)
		}
	}

	reply, rerr := readFrame(pc.Conn(), pc.Reader(), deadline)
	if rerr != nil {
		ferr := c.classify(endpoint, timeout, deadline, rerr)
		c.pool.Release(pc, ferr)
		return nil, ferr
	}
	if reply.Error != "" {
		c.pool.Release(pc, nil)
		return nil, errors.New(reply.Error)
	}
	c.pool.Release(pc, nil)
	return reply, nil
}

// Chunk is one element of a streamed reply.
type Chunk struct {
	Content json.RawMessage
	Final   bool
	Err     error // terminal; the stream closes after an error chunk
}

// Stream delivers one message and yields reply chunks until the endpoint
// sends a final frame, the connection closes, or the deadline expires. The
// returned channel is closed when the stream ends; consumers must drain it
// or cancel the context, otherwise the connection handle leaks.
func (c *Client) Stream(ctx context.Context, endpoint, address string, message json.RawMessage, timeout time.Duration) (<-chan Chunk, error) {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	deadline := time.Now().Add(timeout)

	pc, err := c.pool.Acquire(ctx, endpoint, address)
	if err != nil {
		return nil, err
	}

	req := &Request{Message: message, Stream: true}
	if werr := writeFrame(pc.Conn(), req, deadline); werr != nil {
		c.pool.Evict(pc)
		if !pc.Reused() {
			return nil, c.classify(endpoint, timeout, deadline, werr)
		}
		pc, err = c.pool.Acquire(ctx, endpoint, address)
		if err != nil {
			return nil, err
		}
		if werr := writeFrame(pc.Conn(), req, deadline); werr != nil {
			c.pool.Evict(pc)
			return nil, c.classify(endpoint, timeout, deadline, werr)
		}
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		// Cancellation mid-stream closes the connection so the blocked
		// read unwinds; a half-read stream is never returned to the pool.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				c.pool.Evict(pc)
			case <-done:
			}
		}()

		for {
			reply, rerr := readFrame(pc.Conn(), pc.Reader(), deadline)
			if rerr != nil {
				if errors.Is(rerr, net.ErrClosed) || errors.Is(rerr, os.ErrDeadlineExceeded) || ctx.Err() != nil {
					ferr := c.classify(endpoint, timeout, deadline, rerr)
					c.pool.Release(pc, ferr)
					select {
					case out <- Chunk{Err: ferr}:
					case <-ctx.Done():
					}
					return
				}
				// Peer closed: a clean EOF terminates the stream.
				c.pool.Evict(pc)
				return
			}
			if reply.Error != "" {
				c.pool.Release(pc, nil)
				select {
				case out <- Chunk{Err: errors.New(reply.Error)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- Chunk{Content: reply.Content, Final: reply.IsFinal}:
			case <-ctx.Done():
				return
			}
			if reply.IsFinal {
				c.pool.Release(pc, nil)
				return
			}
		}
	}()
	return out, nil
}

// Ping dials the address directly and checks for a pong within the ping
// timeout. Used as the registry liveness probe; never touches the pool.
func (c *Client) Ping(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
	defer cancel()

	var d net.Dialer
	network, addr := netpool.Network(address)
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	return pingConn(conn, time.Now().Add(c.opts.PingTimeout))
}

// PoolPinger returns the health-check probe to install on the pool.
func (c *Client) PoolPinger() netpool.PingFunc {
	return func(ctx context.Context, conn net.Conn) bool {
		deadline := time.Now().Add(c.opts.PingTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		return pingConn(conn, deadline)
	}
}

func pingConn(conn net.Conn, deadline time.Time) bool {
	if err := writeFrame(conn, &Request{Ping: true}, deadline); err != nil {
		return false
	}
	reply, err := readFrame(conn, bufio.NewReader(conn), deadline)
	if err != nil {
		return false
	}
	return reply.Pong
}

func (c *Client) sendDirect(ctx context.Context, endpoint, address string, message json.RawMessage, deadline time.Time) (*Reply, error) {
	var d net.Dialer
	network, addr := netpool.Network(address)
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &fault.ConnectError{Endpoint: endpoint, Address: address, Err: err}
	}
	defer conn.Close()

	timeout := time.Until(deadline)
	if err := writeFrame(conn, &Request{Message: message}, deadline); err != nil {
		return nil, c.classify(endpoint, timeout, deadline, err)
	}
	reply, err := readFrame(conn, bufio.NewReader(conn), deadline)
	if err != nil {
		return nil, c.classify(endpoint, timeout, deadline, err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply, nil
}

// classify maps a transport error to the fabric taxonomy.
func (c *Client) classify(endpoint string, timeout time.Duration, deadline time.Time, err error) error {
	var mf malformedError
	switch {
	case errors.As(err, &mf):
		return &fault.ProtocolError{Endpoint: endpoint, Detail: mf.Error()}
	case errors.Is(err, os.ErrDeadlineExceeded), !time.Now().Before(deadline):
		return &fault.TimeoutError{Endpoint: endpoint, Timeout: timeout}
	default:
		return &fault.ConnectError{Endpoint: endpoint, Err: err}
	}
}
