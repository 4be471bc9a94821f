// Package clientcache defines the RPC connection cache interface the
// Coordinator depends on. Its implementation (connection pooling, health
// checking, keepalive tuning) is out of scope per spec.md §1; only the
// interface and a minimal in-package implementation for tests and the
// cmd/coordinatorctl harness live here.
package clientcache

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ConnCache hands out RPC connections by address and can be told a cached
// connection has gone stale. spec.md §4.3 requires ExecRemoteFragment to
// force a reopen and retry exactly once when the cached connection turns
// out to be stale (a connection-reset-style error on the first try).
type ConnCache interface {
	GetConnection(ctx context.Context, addr string) (*grpc.ClientConn, error)
	InvalidateConnection(addr string)
}

// cache is a minimal in-memory ConnCache sufficient for tests and the
// coordinatorctl harness; it does not implement health checking or
// eviction beyond explicit invalidation.
type cache struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// New returns a minimal ConnCache.
func New() ConnCache {
	return &cache{conns: make(map[string]*grpc.ClientConn)}
}

func (c *cache) GetConnection(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, err
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *cache) InvalidateConnection(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		_ = conn.Close()
		delete(c.conns, addr)
	}
}
