package vigilib

import (
	"sync"
	"sync/atomic"
)

// guard keeps a Connection alive while deferred work still references
// it. Close() blocks until every outstanding guard is released.
type guard struct {
	c    *Connection
	once sync.Once
}

func (c *Connection) acquireGuard() *guard {
	c.guards.Add(1)
	atomic.AddInt32(&c.guardCount, 1)
	return &guard{c: c}
}

func (g *guard) release() {
	g.once.Do(func() {
		atomic.AddInt32(&g.c.guardCount, -1)
		g.c.guards.Done()
	})
}
