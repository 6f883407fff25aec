// Package transport reads and writes delimiter-bounded ITv2 packets over a
// byte stream. It knows nothing about stuffing, encryption or framing
// beyond the terminator byte that ends each packet.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"

	"github.com/panellink/itv2/pkg/frame"
)

// MaxPacketSize bounds how much data may accumulate without a terminator
// before the stream is declared broken. Generous compared to the largest
// legal frame after stuffing.
const MaxPacketSize = 64 * 1024

// PacketConn slices a byte stream into terminator-bounded packets.
// One goroutine may read while others write; writes are atomic per packet.
type PacketConn struct {
	conn net.Conn
	log  logging.LeveledLogger

	// buf accumulates stream bytes until a terminator is seen.
	// Owned by the single reader.
	buf []byte
	tmp [4096]byte

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPacketConn wraps a stream connection. The factory may be nil to
// disable logging.
func NewPacketConn(conn net.Conn, loggerFactory logging.LoggerFactory) *PacketConn {
	c := &PacketConn{
		conn:   conn,
		closed: make(chan struct{}),
	}
	if loggerFactory != nil {
		c.log = loggerFactory.NewLogger("itv2-transport")
	}
	return c
}

// ReadPacket blocks until one full packet (through its terminator,
// inclusive) is available and returns it. A peer close or a Close of this
// conn surfaces as ErrClosed; context cancellation takes effect once the
// blocking read is unblocked by Close.
func (c *PacketConn) ReadPacket(ctx context.Context) ([]byte, error) {
	for {
		if i := bytes.IndexByte(c.buf, frame.Terminator); i >= 0 {
			pkt := make([]byte, i+1)
			copy(pkt, c.buf)
			c.buf = c.buf[:copy(c.buf, c.buf[i+1:])]
			return pkt, nil
		}
		if len(c.buf) > MaxPacketSize {
			return nil, fmt.Errorf("%w: %d bytes buffered", ErrPacketTooLarge, len(c.buf))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := c.conn.Read(c.tmp[:])
		if n > 0 {
			c.buf = append(c.buf, c.tmp[:n]...)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.isClosed() {
				return nil, ErrClosed
			}
			return nil, err
		}
	}
}

// WritePacket writes one complete packet as a single stream write.
func (c *PacketConn) WritePacket(pkt []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if _, err := c.conn.Write(pkt); err != nil {
		if errors.Is(err, net.ErrClosed) || c.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close shuts the underlying connection, unblocking any pending read.
// Safe to call more than once.
func (c *PacketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		if c.log != nil {
			c.log.Debugf("closed %s", c.RemoteAddr())
		}
	})
	return err
}

// RemoteAddr reports the peer address.
func (c *PacketConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *PacketConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
