// Package streamtransport implements the per-client view of an RTP
// stream: the transport descriptor negotiated at SETUP, the send
// callbacks that deliver interleaved data into the client's RTSP
// connection, keep-alive bookkeeping, and the bounded backlog that
// absorbs short-term TCP backpressure without stalling other clients
// of the same stream.
//
// It is modeled on GstRTSPStreamTransport
// (gst-rtsp-server/gst/rtsp-server/rtsp-stream-transport.c), with the
// backlog guarded by its own lock distinct from the stream lock so a
// slow client's queue never serializes against the fast path.
package streamtransport
