package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu       sync.Mutex
		accepted []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range accepted {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, conn)
			mu.Unlock()
		}
	}()
	return ln
}

func TestPoolReusesReturnedConn(t *testing.T) {
	ln := setupListener(t)
	m := NewConnectionPoolManager(1, time.Second)
	defer m.Close()

	c1, err := m.Get(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	local := c1.LocalAddr().String()
	require.NoError(t, c1.Close())
	assert.Error(t, c1.Close())

	c2, err := m.Get(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, local, c2.LocalAddr().String())
	require.NoError(t, c2.ForceClose())
}

func TestPoolWaitsForFreeSlot(t *testing.T) {
	ln := setupListener(t)
	m := NewConnectionPoolManager(1, time.Second)
	defer m.Close()

	c1, err := m.Get(context.Background(), ln.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Get(ctx, ln.Addr().String())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *PooledConn, 1)
	go func() {
		c, err := m.Get(context.Background(), ln.Addr().String())
		if err == nil {
			got <- c
		}
	}()
	require.NoError(t, c1.ForceClose())

	select {
	case c2 := <-got:
		require.NoError(t, c2.ForceClose())
	case <-time.After(2 * time.Second):
		t.Fatal("waiting Get was not woken by ForceClose")
	}
}

func TestPoolClosed(t *testing.T) {
	ln := setupListener(t)
	m := NewConnectionPoolManager(2, time.Second)
	m.Close()
	_, err := m.Get(context.Background(), ln.Addr().String())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
