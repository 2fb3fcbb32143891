// Package media owns the lifecycle of one served media: the pipeline
// of payloaders or depayloaders, the per-elementary-stream RTP
// plumbing, and the prepare / play / pause / seek / suspend state
// machine RTSP methods drive.
//
// It is modeled on GstRTSPMedia
// (gst-rtsp-server/gst/rtsp-server/rtsp-media.c), with GStreamer's
// dynamic element graph collapsed into typed Element/Payloader/
// Depayloader interfaces and a single control-plane goroutine
// consuming the pipeline bus.
package media
