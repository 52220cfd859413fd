// Package netpool owns and recycles socket connections to CI endpoints.
//
// The pool keeps at most one cached connection per endpoint. A cached
// connection is handed to one caller at a time; concurrent callers to the
// same endpoint get a short-lived dedicated connection instead of queueing,
// so unrelated conversations with the same CI never block each other.
package netpool

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cifabric/cifabric/internal/fault"
)

// DialFunc opens a transport connection to an address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// PingFunc checks liveness of an open connection. Installed by the socket
// client so the pool stays protocol-agnostic.
type PingFunc func(ctx context.Context, conn net.Conn) bool

// Options configures pool behaviour.
type Options struct {
	ConnectTimeout   time.Duration // bound on dial, default 2s
	FailureThreshold int           // consecutive failures before discard, default 3
	HealthInterval   time.Duration // background ping cadence, default 30s
	ReconnectBackoff time.Duration // fixed delay between redial attempts, default 5s
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 5 * time.Second
	}
}

// PooledConn is a live connection handle owned by the pool.
type PooledConn struct {
	endpoint  string
	address   string
	conn      net.Conn
	reader    *bufio.Reader
	createdAt time.Time
	lastUsed  time.Time
	failures  int
	inUse     bool
	failed    bool // flagged by the health checker or an evicting release
	transient bool // dedicated one-off, never cached
	reused    bool // true when Acquire returned a cached connection
}

// Conn exposes the underlying transport.
func (p *PooledConn) Conn() net.Conn { return p.conn }

// Reader returns the buffered reader tied to this connection. Reads must
// go through it so bytes buffered between frames survive reuse.
func (p *PooledConn) Reader() *bufio.Reader { return p.reader }

// Endpoint returns the CI name this connection belongs to.
func (p *PooledConn) Endpoint() string { return p.endpoint }

// Reused reports whether Acquire returned a cached connection rather than
// dialing a fresh one. The socket client uses this to decide whether a
// first-write failure is worth one silent retry.
func (p *PooledConn) Reused() bool { return p.reused }

// Pool caches zero-or-one live connection per CI endpoint.
type Pool struct {
	mu       sync.Mutex
	conns    map[string]*PooledConn
	lastDial map[string]time.Time // last failed dial per endpoint, for backoff
	opts     Options
	dial     DialFunc
	ping     PingFunc
}

// New creates a connection pool.
func New(opts Options) *Pool {
	opts.fill()
	return &Pool{
		conns:    make(map[string]*PooledConn),
		lastDial: make(map[string]time.Time),
		opts:     opts,
		dial:     defaultDial,
	}
}

// Network splits an endpoint address into dial network and address: a
// leading "/" or "unix:" prefix means a local socket, anything else TCP.
func Network(address string) (string, string) {
	if strings.HasPrefix(address, "/") || strings.HasPrefix(address, "unix:") {
		return "unix", strings.TrimPrefix(address, "unix:")
	}
	return "tcp", address
}

func defaultDial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	network, address := Network(address)
	return d.DialContext(ctx, network, address)
}

// SetDialer overrides the transport dialer. Used by tests.
func (p *Pool) SetDialer(dial DialFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// SetPinger installs the health-check probe.
func (p *Pool) SetPinger(ping PingFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ping = ping
}

// Acquire returns a connection to the endpoint, creating one on demand.
// A dial failure surfaces as *fault.ConnectError and is never retried here;
// retry policy belongs to the caller so deadlines compose predictably.
func (p *Pool) Acquire(ctx context.Context, endpoint, address string) (*PooledConn, error) {
	p.mu.Lock()
	cached := p.conns[endpoint]
	if cached != nil && !cached.inUse && !cached.failed &&
		cached.failures < p.opts.FailureThreshold && cached.address == address {
		cached.inUse = true
		cached.reused = true
		p.mu.Unlock()
		return cached, nil
	}

	transient := cached != nil && cached.inUse
	if cached != nil && !transient {
		// Stale or failed cached connection: discard before redial.
		delete(p.conns, endpoint)
		cached.conn.Close()
	}

	// Back off between redial attempts against a down endpoint.
	if last, ok := p.lastDial[endpoint]; ok && time.Since(last) < p.opts.ReconnectBackoff {
		p.mu.Unlock()
		return nil, &fault.ConnectError{
			Endpoint: endpoint,
			Address:  address,
			Err:      errors.New("in reconnect backoff"),
		}
	}
	dial := p.dial
	p.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	conn, err := dial(dctx, address)
	cancel()
	if err != nil {
		p.mu.Lock()
		p.lastDial[endpoint] = time.Now()
		p.mu.Unlock()
		return nil, &fault.ConnectError{Endpoint: endpoint, Address: address, Err: err}
	}

	pc := &PooledConn{
		endpoint:  endpoint,
		address:   address,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		createdAt: time.Now(),
		lastUsed:  time.Now(),
		inUse:     true,
		transient: transient,
	}
	p.mu.Lock()
	delete(p.lastDial, endpoint)
	if !transient {
		p.conns[endpoint] = pc
	}
	p.mu.Unlock()
	return pc, nil
}

// Release returns a connection to the pool, recording the call outcome.
// A nil outcome resets the failure count. Timeout and protocol failures
// evict immediately: a half-read connection must never be reused.
func (p *Pool) Release(pc *PooledConn, outcome error) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc.transient {
		pc.conn.Close()
		return
	}

	pc.inUse = false
	pc.lastUsed = time.Now()

	if outcome == nil {
		pc.failures = 0
		return
	}

	pc.failures++
	wedged := errors.Is(outcome, fault.ErrTimeout) || errors.Is(outcome, fault.ErrProtocol)
	if wedged || pc.failures >= p.opts.FailureThreshold {
		p.evictLocked(pc)
	}
}

// Evict discards a connection immediately regardless of failure count.
func (p *Pool) Evict(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(pc)
}

func (p *Pool) evictLocked(pc *PooledConn) {
	pc.failed = true
	pc.conn.Close()
	if p.conns[pc.endpoint] == pc {
		delete(p.conns, pc.endpoint)
	}
}

// Size returns the number of cached connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close discards every cached connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pc := range p.conns {
		pc.failed = true
		pc.conn.Close()
		delete(p.conns, name)
	}
}

// RunHealthChecker pings idle pooled connections at the configured interval
// and flags the dead ones, so the next Acquire redials proactively instead
// of failing a user-visible call. Blocks until the context is cancelled.
func (p *Pool) RunHealthChecker(ctx context.Context) {
	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkOnce(ctx)
		}
	}
}

func (p *Pool) checkOnce(ctx context.Context) {
	p.mu.Lock()
	ping := p.ping
	idle := make([]*PooledConn, 0, len(p.conns))
	for _, pc := range p.conns {
		if !pc.inUse && !pc.failed {
			pc.inUse = true // reserve so no caller grabs it mid-ping
			idle = append(idle, pc)
		}
	}
	p.mu.Unlock()

	if ping == nil {
		p.mu.Lock()
		for _, pc := range idle {
			pc.inUse = false
		}
		p.mu.Unlock()
		return
	}

	for _, pc := range idle {
		alive := ping(ctx, pc.conn)
		p.mu.Lock()
		pc.inUse = false
		if !alive {
			slog.Info("Health check failed, discarding connection", "endpoint", pc.endpoint)
			p.evictLocked(pc)
		}
		p.mu.Unlock()
	}
}
