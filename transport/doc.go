// Package transport implements the socket-level primitives the RTP stream
// and address pool are built on: a small Transport interface plus UDP and
// TCP implementations, each a thin wrapper over the standard library's
// net.UDPConn/net.TCPConn that adds a registered read callback and
// bounded-size packet I/O.
//
// It replaces per-protocol socket plumbing scattered through the RTSP
// stream engine with one reusable shape, the way this module's other
// ambient packages (clock, crypto) centralise a single concern used by
// several domain packages.
package transport
