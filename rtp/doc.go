// Package rtp implements the RTP/RTCP stream management core of the RTSP
// media engine: per-elementary-stream socket lifecycle across
// UDP-unicast, UDP-multicast and interleaved-TCP transports, SRTP key
// management via MIKEY, retransmission and FEC wiring, and the
// blocking-probe mechanism used to hold a stream between DESCRIBE and
// PLAY.
//
// It is modeled on GStreamer's GstRTSPStream
// (gst-rtsp-server/gst/rtsp-server/rtsp-stream.c): a payloader/TEE/queue
// fan-out on the send side and a FUNNEL/rtpbin fan-in on the receive
// side, expressed here as plain Go structs and goroutines instead of a
// dynamic pipeline graph: typed nodes with explicit push/pull
// operations.
package rtp
