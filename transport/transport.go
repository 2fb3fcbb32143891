package transport

import "net"

// MaxDatagramSize is the largest UDP payload this package reads in one
// call, sized comfortably above the largest RTP/RTCP packet an
// interleaved or UDP transport will carry.
const MaxDatagramSize = 2048

// ReadCallback receives one inbound packet and the address it arrived
// from. It is invoked from the transport's read goroutine; callers that
// need to touch shared state must synchronise themselves.
type ReadCallback func(data []byte, addr net.Addr)

// Transport is the common shape of the socket implementations in this
// package: send a packet to a peer, read asynchronously via a registered
// callback, report the bound local address, and close cleanly.
type Transport interface {
	// Send transmits data to addr. For a connected TCP transport addr is
	// ignored in favour of the transport's fixed peer.
	Send(data []byte, addr net.Addr) error
	// LocalAddr returns the address the transport is bound to.
	LocalAddr() net.Addr
	// SetReadCallback installs the callback invoked for every inbound
	// packet. It must be called before the first packet can arrive to
	// avoid dropping early data; installing nil stops delivery.
	SetReadCallback(cb ReadCallback)
	// Close releases the underlying socket. The read goroutine, if
	// running, exits before Close returns.
	Close() error
}
