package transport

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrPacketTooLarge is returned when a length-prefixed TCP frame would
// exceed MaxDatagramSize.
var ErrPacketTooLarge = errors.New("transport: packet exceeds maximum frame size")

// TCPTransport implements Transport over a single stream connection
// using 2-byte big-endian length-prefixed framing, the shape RTSP's
// interleaved "$"-channel framing reduces to once the channel id and
// dollar marker are stripped by the RTSP connection layer above this
// package.
//
// A TCPTransport wraps exactly one net.Conn; StreamTransport multiplexes
// many logical RTP/RTCP channels over the same underlying RTSP TCP
// connection at a layer above this package.
type TCPTransport struct {
	conn net.Conn

	mu sync.RWMutex
	cb ReadCallback

	closed atomic.Bool
	done   chan struct{}

	log *logrus.Entry
}

// NewTCPTransport wraps conn and starts its read loop.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	t := &TCPTransport{
		conn: conn,
		done: make(chan struct{}),
		log:  logrus.WithField("component", "transport.tcp"),
	}
	go t.readLoop()
	return t
}

// SetReadCallback implements Transport.
func (t *TCPTransport) SetReadCallback(cb ReadCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// Send implements Transport. addr is ignored: a TCPTransport has exactly
// one peer, its connection's remote address.
func (t *TCPTransport) Send(data []byte, _ net.Addr) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(data) > MaxDatagramSize {
		return ErrPacketTooLarge
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(data)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(data)
	return err
}

// LocalAddr implements Transport.
func (t *TCPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the connection's peer address.
func (t *TCPTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Close implements Transport.
func (t *TCPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	<-t.done
	return err
}

func (t *TCPTransport) readLoop() {
	defer close(t.done)
	var hdr [2]byte
	for {
		if _, err := readFull(t.conn, hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(hdr[:])
		buf := make([]byte, n)
		if _, err := readFull(t.conn, buf); err != nil {
			return
		}
		t.mu.RLock()
		cb := t.cb
		t.mu.RUnlock()
		if cb != nil {
			cb(buf, t.conn.RemoteAddr())
		}
	}
}

// readFull reads exactly len(buf) bytes, unlike a single Read call which
// may return short.
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
