// Package client talks to a gojostore server.
package client

import (
	"context"

	"github.com/sushant-115/gojostore/pkg/connection"
	"github.com/sushant-115/gojostore/pkg/transport"
)

// RoundTripper sends one package and waits for the reply.
type RoundTripper struct {
	packager *transport.Packager
}

func NewRoundTripper(packager *transport.Packager) *RoundTripper {
	return &RoundTripper{packager: packager}
}

func (rt *RoundTripper) RoundTrip(pkg transport.Package) (transport.Package, error) {
	if err := rt.packager.Send(pkg); err != nil {
		return transport.Package{}, err
	}
	return rt.packager.Receive()
}

func (rt *RoundTripper) Close() error {
	return rt.packager.Close()
}

// Client runs statements on one server session. The server keeps the open
// transaction per connection, so a Client holds its connection until Close.
type Client struct {
	rt *RoundTripper
}

// Dial borrows a connection to addr from pool.
func Dial(ctx context.Context, pool *connection.ConnectionPoolManager, addr string) (*Client, error) {
	conn, err := pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{rt: NewRoundTripper(transport.NewPackager(sessionConn{conn}))}, nil
}

// Execute sends stat and returns the server's result. Errors raised by the
// server are returned as *transport.RemoteError.
func (c *Client) Execute(stat []byte) ([]byte, error) {
	resp, err := c.rt.RoundTrip(transport.Package{Data: stat})
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Data, nil
}

// Close ends the session. The connection is not returned to the pool
// because the server side may still hold session state.
func (c *Client) Close() error {
	return c.rt.Close()
}

// sessionConn routes Close to ForceClose.
type sessionConn struct {
	*connection.PooledConn
}

func (c sessionConn) Close() error {
	return c.PooledConn.ForceClose()
}
