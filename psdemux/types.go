// Package psdemux implements the MPEG Program Stream demultiplexer: the
// state machine that recognises pack/system/PSM headers, drives the PES
// filter over the multiplexed byte stream, tracks SCR for rate estimation
// and seeking, and emits elementary streams keyed by stream id.
//
// It is modeled on GStreamer's flups (flexible-unified) demuxer,
// gst/mpegdemux/gstmpegdemux.c in the GStreamer source tree this module
// is built from.
package psdemux

// StreamType identifies the elementary stream kind carried by a given
// stream id, as resolved from the default PSM table or an
// explicit program-stream-map payload.
type StreamType int

const (
	StreamTypeUnknown StreamType = iota
	StreamTypeVideoMPEG1
	StreamTypeVideoMPEG2
	StreamTypeVideoH264
	StreamTypeVideoHEVC
	StreamTypeAudioMPEG
	StreamTypeAudioAC3
	StreamTypeAudioDTS
	StreamTypeAudioLPCM
	StreamTypeSubpicture
	StreamTypePrivate
)

func (t StreamType) String() string {
	switch t {
	case StreamTypeVideoMPEG1:
		return "video/mpeg1"
	case StreamTypeVideoMPEG2:
		return "video/mpeg2"
	case StreamTypeVideoH264:
		return "video/h264"
	case StreamTypeVideoHEVC:
		return "video/hevc"
	case StreamTypeAudioMPEG:
		return "audio/mpeg"
	case StreamTypeAudioAC3:
		return "audio/ac3"
	case StreamTypeAudioDTS:
		return "audio/dts"
	case StreamTypeAudioLPCM:
		return "audio/lpcm"
	case StreamTypeSubpicture:
		return "subpicture/dvd"
	case StreamTypePrivate:
		return "private"
	default:
		return "unknown"
	}
}

// Start codes the demux recognises at the top level, beyond the
// PES-payload range the pes.Filter already owns.
const (
	StartCodePack         = 0x000001BA
	StartCodeSystemHeader = 0x000001BB
	StartCodeProgramMap   = 0x000001BC
	StartCodePrivate1     = 0x000001BD
	StartCodeEnd          = 0x000001B9
)

// ac3SyncWord is the first two bytes of a raw AC3 frame sync word,
// 0x0B77, used to auto-detect AC3 content carried inside
// private-stream-1 packets that have no PSM entry.
const ac3SyncWord = 0x0b77

// ac3RemapID is the synthetic stream id AC3-in-private-stream-1 content
// is routed to once detected, matching the upstream demux's behaviour of
// giving DVD AC3 its own id space (0x80-0x87) rather than leaving it
// under 0xBD.
const ac3RemapID = 0x80

// defaultPSM returns the default 8-bit stream-id -> StreamType table,
// restored on every reset. Index 0xBD
// (private-stream-1) always resolves to StreamTypeUnknown here: its type
// is decided by payload inspection (AC3 sync word) rather than by id
// range, and an explicit PSM payload is not permitted to override it.
func defaultPSM() [256]StreamType {
	var psm [256]StreamType
	for id := 0x20; id <= 0x3f; id++ {
		psm[id] = StreamTypeSubpicture
	}
	for id := 0x80; id <= 0x87; id++ {
		psm[id] = StreamTypeAudioAC3
	}
	for id := 0x88; id <= 0x9f; id++ {
		psm[id] = StreamTypeAudioDTS
	}
	for id := 0xa0; id <= 0xaf; id++ {
		psm[id] = StreamTypeAudioLPCM
	}
	for id := 0xc0; id <= 0xdf; id++ {
		psm[id] = StreamTypeAudioMPEG
	}
	for id := 0xe0; id <= 0xef; id++ {
		psm[id] = StreamTypeVideoMPEG1
	}
	return psm
}

// StreamInfo is the per-elementary-stream bookkeeping record the demux
// keeps, keyed by 8-bit stream id.
type StreamInfo struct {
	ID   byte
	Type StreamType

	lastTimestamp int64
	discont       bool
	needsSegment  bool
}

// Discontinuous reports and clears this stream's pending discontinuity
// flag. It is a consume-once accessor: the first caller after a
// discontinuity event observes true, every subsequent caller observes
// false until the next discontinuity. This mirrors the upstream demux's
// use of GST_BUFFER_FLAG_DISCONT, which is likewise cleared once the
// flagged buffer has been consumed downstream.
func (s *StreamInfo) Discontinuous() bool {
	if !s.discont {
		return false
	}
	s.discont = false
	return true
}

// NeedsSegment reports and clears this stream's pending "needs segment"
// flag, set when the stream record is created. Seek does not set it
// again.
func (s *StreamInfo) NeedsSegment() bool {
	if !s.needsSegment {
		return false
	}
	s.needsSegment = false
	return true
}
