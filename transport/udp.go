package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// UDPTransport wraps a net.UDPConn with the Transport shape. It supports
// socket duplication between a stream's
// send (udpsink-equivalent) and receive (udpsrc-equivalent) paths: two
// UDPTransport values can share one *net.UDPConn via NewUDPTransportShared,
// with only one of them (the sink) responsible for closing it and for
// joining any multicast group.
type UDPTransport struct {
	conn      *net.UDPConn
	ownsClose bool

	mu sync.RWMutex
	cb ReadCallback

	closed atomic.Bool
	done   chan struct{}

	log *logrus.Entry
}

// NewUDPTransport binds a new UDP socket on laddr (IPv4 or IPv6
// depending on network, "udp4" or "udp6") and starts its read loop.
func NewUDPTransport(network string, laddr *net.UDPAddr) (*UDPTransport, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return newUDPTransport(conn, true), nil
}

// NewUDPTransportMulticast binds a multicast receive socket, joining
// group on the default interface. Only the sink side of a stream's pair
// calls this; the paired send-side socket is created via
// NewUDPTransportShared against the same conn so it does not also join.
func NewUDPTransportMulticast(network string, group *net.UDPAddr) (*UDPTransport, error) {
	conn, err := net.ListenMulticastUDP(network, nil, group)
	if err != nil {
		return nil, err
	}
	return newUDPTransport(conn, true), nil
}

// NewUDPTransportShared wraps an existing *net.UDPConn without taking
// ownership of its close lifetime, for the duplicated-socket pattern
// where one stream.Transport pair shares a single OS socket between its
// send and receive roles.
func NewUDPTransportShared(conn *net.UDPConn) *UDPTransport {
	return newUDPTransport(conn, false)
}

func newUDPTransport(conn *net.UDPConn, ownsClose bool) *UDPTransport {
	t := &UDPTransport{
		conn:      conn,
		ownsClose: ownsClose,
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "transport.udp"),
	}
	go t.readLoop()
	return t
}

// SetReadCallback implements Transport.
func (t *UDPTransport) SetReadCallback(cb ReadCallback) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// Send implements Transport.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	if t.closed.Load() {
		return ErrClosed
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("transport: UDPTransport.Send requires a *net.UDPAddr")
	}
	_, err := t.conn.WriteToUDP(data, udpAddr)
	return err
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close implements Transport. When the transport does not own the
// underlying socket (it was created via NewUDPTransportShared) the
// socket itself is left open for its sibling to continue using, matching
// the udpsrc/udpsink close-socket=false contract.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if t.ownsClose {
		err = t.conn.Close()
	} else {
		// Unblock our own read loop without touching the shared fd:
		// set an immediate deadline so the pending ReadFromUDP returns.
		_ = t.conn.SetReadDeadline(deadlineInPast())
	}
	<-t.done
	return err
}

func (t *UDPTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			if isDeadlineErr(err) && !t.ownsClose {
				// Shared socket being torn down by our side only;
				// our sibling may still be reading.
				return
			}
			t.log.WithError(err).Debug("udp read error")
			return
		}
		t.mu.RLock()
		cb := t.cb
		t.mu.RUnlock()
		if cb != nil {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			cb(pkt, addr)
		}
	}
}
