package gateway

import (
	"sync"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
)

// Conn is a registered connection: its context plus an outbound queue
// drained by the transport.
type Conn struct {
	*domain.ConnectionContext

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(cc *domain.ConnectionContext, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ConnectionContext: cc,
		send:              make(chan []byte, buffer),
		done:              make(chan struct{}),
	}
}

// Outbox returns the queue of encoded frames waiting to be written
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// Done is closed when the connection is closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue queues msg without blocking. It returns false if the connection
// is closed or its buffer is full.
func (c *Conn) enqueue(msg []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
