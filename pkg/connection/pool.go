// Package connection provides a thread-safe TCP connection pool keyed by
// remote address. Clients borrow a connection for the length of a session
// and either return it or discard it.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// PooledConn is a wrapper around net.Conn that remembers the pool it came
// from.
type PooledConn struct {
	net.Conn
	pool *hostPool
}

// Close returns the connection to the pool without closing the socket.
func (c *PooledConn) Close() error {
	if c.pool == nil {
		return fmt.Errorf("connection is already closed or detached from pool")
	}
	c.pool.put(c.Conn)
	c.pool = nil
	return nil
}

// ForceClose closes the socket and frees its slot in the pool. Use it when
// the connection carries state the next borrower must not inherit.
func (c *PooledConn) ForceClose() error {
	if c.pool != nil {
		c.pool.discard()
		c.pool = nil
	}
	return c.Conn.Close()
}

// hostPool manages the connections to one remote address.
type hostPool struct {
	mu       sync.Mutex
	conns    chan net.Conn
	freed    chan struct{} // signalled when a slot is discarded
	dial     func(ctx context.Context) (net.Conn, error)
	maxSize  int
	numConns int
	closed   bool
}

// ConnectionPoolManager manages one hostPool per remote address.
type ConnectionPoolManager struct {
	mu      sync.RWMutex
	pools   map[string]*hostPool
	maxSize int
	timeout time.Duration
	closed  bool
}

// NewConnectionPoolManager creates a manager that keeps at most maxSize
// connections per address and dials with the given timeout.
func NewConnectionPoolManager(maxSize int, timeout time.Duration) *ConnectionPoolManager {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ConnectionPoolManager{
		pools:   make(map[string]*hostPool),
		maxSize: maxSize,
		timeout: timeout,
	}
}

// Get borrows a connection to address, dialing one if the pool has room
// and waiting for a returned one otherwise.
func (m *ConnectionPoolManager) Get(ctx context.Context, address string) (*PooledConn, error) {
	m.mu.RLock()
	pool, ok := m.pools[address]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if !ok {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrPoolClosed
		}
		pool, ok = m.pools[address]
		if !ok {
			dialer := &net.Dialer{Timeout: m.timeout}
			pool = &hostPool{
				conns:   make(chan net.Conn, m.maxSize),
				freed:   make(chan struct{}, m.maxSize),
				maxSize: m.maxSize,
				dial: func(ctx context.Context) (net.Conn, error) {
					return dialer.DialContext(ctx, "tcp", address)
				},
			}
			m.pools[address] = pool
		}
		m.mu.Unlock()
	}

	conn, err := pool.get(ctx)
	if err != nil {
		return nil, err
	}
	return &PooledConn{Conn: conn, pool: pool}, nil
}

func (p *hostPool) get(ctx context.Context) (net.Conn, error) {
	for {
		select {
		case conn, ok := <-p.conns:
			if !ok {
				return nil, ErrPoolClosed
			}
			return conn, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.numConns < p.maxSize {
			p.numConns++
			p.mu.Unlock()
			conn, err := p.dial(ctx)
			if err != nil {
				p.discard()
				return nil, err
			}
			return conn, nil
		}
		p.mu.Unlock()

		select {
		case conn, ok := <-p.conns:
			if !ok {
				return nil, ErrPoolClosed
			}
			return conn, nil
		case <-p.freed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *hostPool) put(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		p.numConns--
		return
	}
	select {
	case p.conns <- conn:
	default:
		conn.Close()
		p.numConns--
	}
}

func (p *hostPool) discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numConns--
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Close shuts every pool down and closes the idle connections. Borrowed
// connections are closed when they are returned.
func (m *ConnectionPoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		pool.close()
	}
	m.pools = make(map[string]*hostPool)
	m.closed = true
}

func (p *hostPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.numConns--
	}
}
