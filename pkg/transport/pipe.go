package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Pipe provides bidirectional in-memory communication between two
// endpoints, backed by pion's test bridge: an in-memory stand-in for a
// real socket in tests.
type Pipe struct {
	bridge *test.Bridge

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipe creates a pipe with automatic delivery: a background goroutine
// ticks the bridge so written data arrives without manual pumping.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
	return p
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return p.bridge.GetConn0()
}

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return p.bridge.GetConn1()
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
	return nil
}
