// Package pes implements the PES (Packetized Elementary Stream) filter:
// a small state machine that turns the byte stream sitting in a
// byteadapter.Adapter into delivered PES payloads plus PTS/DTS.
//
// It is a direct port of the resindvd PES filter
// (ext/resindvd/gstpesfilter.c in the GStreamer source tree this module
// is modeled on), adapted from GstAdapter/GstBuffer push semantics to
// byteadapter.Adapter and a plain Go callback.
package pes

import (
	"encoding/binary"

	"github.com/distlabs/streamcore/byteadapter"
	"github.com/distlabs/streamcore/clock"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a single Push or Process call. The filter
// never panics or returns a bare error for protocol-level conditions;
// Result classifies them instead so the owning demux can resync without
// unwinding a Go error.
type Result int

const (
	// OK indicates the call made progress (data delivered, bytes
	// skipped, or state advanced) with no error.
	OK Result = iota
	// NeedMoreData indicates the filter requires more bytes in the
	// adapter before it can make progress; it consumed nothing.
	NeedMoreData
	// LostSync indicates a parse failure; the filter has already
	// flushed the bytes it discards to resynchronise and the caller
	// should retry from the top-level resync scan.
	LostSync
)

// State is one of the three states the filter cycles through while
// parsing a PES stream.
type State int

const (
	// StateHeaderParse is waiting for a start code and PES header.
	StateHeaderParse State = iota
	// StateDataPush is delivering a packet's remaining bytes, bounded or
	// unbounded.
	StateDataPush
	// StateDataSkip is discarding a padding packet's remaining bytes.
	StateDataSkip
)

func (s State) String() string {
	switch s {
	case StateHeaderParse:
		return "HEADER_PARSE"
	case StateDataPush:
		return "DATA_PUSH"
	case StateDataSkip:
		return "DATA_SKIP"
	default:
		return "UNKNOWN"
	}
}

// Start codes the filter recognises as valid sync points. The accepted
// id range 0xBC-0xFF is contiguous in the upstream parser
// (gst_pes_filter_is_sync's four overlapping masks collapse to exactly
// this range), so private-stream-2 (0xBF) is included alongside the
// program stream map, private-stream-1, and padding ids it sits next to.
const (
	StartCodeProgramStreamMap = 0x000001BC
	StartCodePrivateStream1   = 0x000001BD
	StartCodePadding          = 0x000001BE
	StartCodePrivateStream2   = 0x000001BF
	StartCodeECM              = 0x000001F0
	StartCodeEMM              = 0x000001F1
	StartCodeDSMCC            = 0x000001F2
	StartCodeH222TypeE        = 0x000001F8
	StartCodeProgramDirectory = 0x000001FF
	// StartCodeExtendedStreamID is stream_id 0xFD, used when the
	// PES_extension_flag_2 substream mechanism is in play; a declared
	// length of zero is legal here too.
	StartCodeExtendedStreamID = 0x000001FD
	audioLow, audioHigh       = 0x000001C0, 0x000001DF
	videoLow, videoHigh       = 0x000001E0, 0x000001EF
	extendedLow, extendedHigh = 0x000001F0, 0x000001FF
)

// DataCallback receives one fragment of PES payload. first is true for
// the first fragment of a packet (PTS/DTS are only meaningful then).
type DataCallback func(first bool, data []byte) error

// Filter is the PES parser state machine. It is not safe for concurrent
// use; the PS demux that owns it serializes access under its own stream
// lock.
type Filter struct {
	adapter *byteadapter.Adapter

	state     State
	startCode uint32
	streamID  byte
	// length is the PES_packet_length field as declared by the header;
	// for bounded packets it counts down to zero as DATA_PUSH delivers
	// fragments, exactly like the upstream filter->length field.
	length    int
	unbounded bool
	first     bool

	pts int64
	dts int64

	// GatherPES waits for a whole bounded PES packet (6+length bytes)
	// to be available before delivering anything.
	GatherPES bool
	// AllowUnbounded treats a declared length of zero as "unbounded"
	// for any stream id, not just video/extended.
	AllowUnbounded bool

	dataCB DataCallback

	log *logrus.Entry
}

// New creates a Filter bound to adapter. The filter does not own the
// adapter's lifecycle; callers Append to it independently (typically the
// owning PS demux, which shares one adapter across top-level resync and
// the PES filter).
func New(adapter *byteadapter.Adapter, dataCB DataCallback) *Filter {
	return &Filter{
		adapter: adapter,
		state:   StateHeaderParse,
		pts:     clock.NoTimestamp,
		dts:     clock.NoTimestamp,
		dataCB:  dataCB,
		log:     logrus.WithField("component", "pes"),
	}
}

// State returns the filter's current state.
func (f *Filter) State() State { return f.state }

// StreamID returns the most recently parsed stream id.
func (f *Filter) StreamID() byte { return f.streamID }

// StartCode returns the most recently parsed 32-bit start code.
func (f *Filter) StartCode() uint32 { return f.startCode }

// PTS returns the most recently parsed presentation timestamp in 90 kHz
// ticks, or clock.NoTimestamp if absent.
func (f *Filter) PTS() int64 { return f.pts }

// DTS returns the most recently parsed decoding timestamp in 90 kHz
// ticks, or clock.NoTimestamp if absent.
func (f *Filter) DTS() int64 { return f.dts }

// Push appends buf to the filter's adapter and processes as much of it
// as the current state allows, for callers driving the filter in
// streaming (push) mode.
func (f *Filter) Push(buf []byte) (Result, error) {
	f.adapter.Append(buf)
	return f.Process()
}

// Process consumes whatever is already queued in the adapter, for
// callers driving the filter in pull mode (e.g. a seekable demux that
// fills the adapter itself). Push delegates to Process after appending.
func (f *Filter) Process() (Result, error) {
	switch f.state {
	case StateHeaderParse:
		return f.parseHeader()
	case StateDataPush:
		return f.continueData(false)
	case StateDataSkip:
		return f.continueData(true)
	default:
		return OK, ErrWrongState
	}
}

// continueData delivers (or skips) the remaining bytes of a bounded or
// unbounded packet already past its header. An unbounded packet has no
// declared length, so its end is only known once the next PES start
// code shows up in the bytes being delivered; continueData scans for
// one and, when found, stops short of it and hands the state machine
// back to HEADER_PARSE without consuming the sync bytes themselves.
func (f *Filter) continueData(skip bool) (Result, error) {
	avail := f.adapter.Available()
	if avail == 0 {
		return NeedMoreData, nil
	}
	n := avail
	boundary := false
	if !f.unbounded {
		if n > f.length {
			n = f.length
		}
	} else {
		peek, err := f.adapter.Map(avail)
		if err == nil {
			if off, ok := scanSyncOffset(peek); ok {
				n = off
				boundary = true
			}
		}
	}
	if n == 0 && !boundary {
		return NeedMoreData, nil
	}

	if n > 0 {
		if skip {
			if err := f.adapter.Flush(n); err != nil {
				return NeedMoreData, nil
			}
		} else {
			buf, err := f.adapter.Take(n)
			if err != nil {
				return NeedMoreData, nil
			}
			if f.dataCB != nil {
				if err := f.dataCB(f.first, buf); err != nil {
					return OK, err
				}
			}
			f.first = false
		}
	}

	if !f.unbounded {
		f.length -= n
		if f.length <= 0 {
			f.state = StateHeaderParse
		}
		return OK, nil
	}
	if boundary {
		f.state = StateHeaderParse
	}
	return OK, nil
}

// scanSyncOffset looks for a recognised PES start code anywhere in buf
// and returns the byte offset of its first occurrence.
func scanSyncOffset(buf []byte) (int, bool) {
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] != 0x00 || buf[i+1] != 0x00 || buf[i+2] != 0x01 {
			continue
		}
		if isSyncStartCode(binary.BigEndian.Uint32(buf[i : i+4])) {
			return i, true
		}
	}
	return 0, false
}

// Flush discards any buffered bytes and resets the filter to
// HEADER_PARSE, for callers handling a stream discontinuity.
func (f *Filter) Flush() {
	f.adapter.Clear()
	f.state = StateHeaderParse
}

// isSyncStartCode reports whether sc is one of the start codes the
// filter accepts as a valid sync point.
func isSyncStartCode(sc uint32) bool {
	switch {
	case sc >= StartCodeProgramStreamMap && sc <= StartCodePrivateStream2:
	case sc >= audioLow && sc <= audioHigh:
	case sc >= videoLow && sc <= videoHigh:
	case sc >= extendedLow && sc <= extendedHigh:
	default:
		return false
	}
	return true
}

func (f *Filter) parseHeader() (Result, error) {
	if f.adapter.Available() < 6 {
		return NeedMoreData, nil
	}
	hdr, err := f.adapter.Map(6)
	if err != nil {
		return NeedMoreData, nil
	}
	startCode := binary.BigEndian.Uint32(hdr[0:4])
	if !isSyncStartCode(startCode) {
		f.adapter.Flush(4)
		f.log.WithField("start_code", startCode).Debug("lost sync: no match")
		return LostSync, nil
	}
	id := hdr[3]
	length := int(binary.BigEndian.Uint16(hdr[4:6]))

	unbounded := false
	if length == 0 {
		if isVideoStartCode(startCode) || startCode == StartCodeExtendedStreamID || f.AllowUnbounded {
			unbounded = true
		}
	}

	avail := f.adapter.Available()
	if !unbounded {
		if f.GatherPES && avail < length+6 {
			return NeedMoreData, nil
		}
		if avail > length+6 {
			avail = length + 6
		}
	}
	if avail < 6 {
		return NeedMoreData, nil
	}

	full, err := f.adapter.Map(avail)
	if err != nil {
		return NeedMoreData, nil
	}
	data := full[6:]
	datalen := avail - 6

	f.startCode = startCode
	f.streamID = id

	// For a bounded packet avail is already capped at the declared
	// 6+length, so running short of bytes past this point can never be
	// cured by more input: the header itself is inconsistent. Waiting
	// would park the stream forever, so escalate to a lost sync with
	// the usual 4-byte flush instead.
	shortData := func() (Result, error) {
		if unbounded {
			return NeedMoreData, nil
		}
		f.adapter.Unmap()
		f.adapter.Flush(4)
		f.log.Debug("lost sync: bounded packet header truncated")
		return LostSync, nil
	}

	if forwardedNoHeader(startCode, id) {
		return f.pushOut(avail, datalen, data, length, unbounded)
	}
	if isPaddingStartCode(startCode) {
		f.adapter.Unmap()
		f.adapter.Flush(avail)
		remaining := length - (avail - 6)
		f.length = remaining
		f.unbounded = unbounded
		if remaining > 0 || unbounded {
			f.state = StateDataSkip
		}
		return OK, nil
	}

	if datalen == 0 {
		return shortData()
	}
	f.pts, f.dts = clock.NoTimestamp, clock.NoTimestamp

	for len(data) > 0 && data[0] == 0xFF {
		data = data[1:]
		datalen--
		if datalen < 1 {
			return shortData()
		}
	}

	if len(data) >= 1 && (data[0]&0xc0) == 0x40 {
		if datalen < 3 {
			return shortData()
		}
		data = data[2:]
		datalen -= 2
	}

	switch {
	case len(data) >= 1 && (data[0]&0xf0) == 0x20:
		if datalen < 5 {
			return shortData()
		}
		pts, ok := readTimestamp(data)
		if !ok {
			f.adapter.Flush(4)
			return LostSync, nil
		}
		f.pts = pts
		data = data[5:]
		datalen -= 5
	case len(data) >= 1 && (data[0]&0xf0) == 0x30:
		if datalen < 10 {
			return shortData()
		}
		pts, ok := readTimestamp(data)
		if !ok {
			f.adapter.Flush(4)
			return LostSync, nil
		}
		dts, ok2 := readTimestamp(data[5:])
		if !ok2 {
			f.adapter.Flush(4)
			return LostSync, nil
		}
		f.pts, f.dts = pts, dts
		data = data[10:]
		datalen -= 10
	case len(data) >= 1 && (data[0]&0xc0) == 0x80:
		var err error
		data, datalen, err = f.parseMPEG2Header(data, datalen)
		if err != nil {
			f.adapter.Flush(4)
			return LostSync, nil
		}
		if data == nil {
			return shortData()
		}
	case len(data) >= 1 && data[0] == 0x0f:
		// Not sure what this clause is for; upstream skips one byte
		// and continues. Retained verbatim.
		data = data[1:]
		datalen--
	default:
		f.adapter.Flush(4)
		f.log.Debug("lost sync: unrecognised flags byte")
		return LostSync, nil
	}

	return f.pushOut(avail, datalen, data, length, unbounded)
}

// isVideoStartCode reports whether sc is in the MPEG video id range.
func isVideoStartCode(sc uint32) bool {
	return sc >= videoLow && sc <= videoHigh
}

func isPaddingStartCode(sc uint32) bool {
	return sc == StartCodePadding
}

// forwardedNoHeader reports whether sc/id identify a stream that carries
// no PES header at all and whose payload is forwarded unparsed.
func forwardedNoHeader(sc uint32, id byte) bool {
	if sc == StartCodeProgramStreamMap || sc == StartCodePrivateStream2 {
		return true
	}
	if sc < extendedLow || sc > extendedHigh {
		return false
	}
	switch sc {
	case StartCodeECM, StartCodeEMM, StartCodeDSMCC, StartCodeH222TypeE, StartCodeProgramDirectory:
		return true
	}
	return false
}

// parseMPEG2Header parses the MPEG-2 PES header variant ('10xxxxxx'
// leading byte) and returns the data slice positioned past
// header_data_length bytes, or (nil, 0, nil) if more bytes are needed.
func (f *Filter) parseMPEG2Header(data []byte, datalen int) ([]byte, int, error) {
	if datalen < 3 {
		return nil, 0, nil
	}
	flags1 := data[0]
	if flags1&0xc0 != 0x80 {
		return nil, 0, errLostSync
	}
	flags2 := data[1]
	headerDataLength := int(data[2])
	data = data[3:]
	datalen -= 3

	if headerDataLength > datalen {
		return nil, 0, nil
	}
	// DTS without PTS is invalid.
	if flags2&0xc0 == 0x40 {
		return nil, 0, errLostSync
	}

	if flags2&0x80 != 0 {
		if datalen < 5 {
			return nil, 0, nil
		}
		pts, ok := readTimestamp(data)
		if !ok {
			return nil, 0, errLostSync
		}
		f.pts = pts
		data = data[5:]
		headerDataLength -= 5
		datalen -= 5
	}
	if flags2&0x40 != 0 {
		if datalen < 5 {
			return nil, 0, nil
		}
		dts, ok := readTimestamp(data)
		if !ok {
			return nil, 0, errLostSync
		}
		f.dts = dts
		data = data[5:]
		headerDataLength -= 5
		datalen -= 5
	}
	if flags2&0x20 != 0 { // ESCR
		if datalen < 6 {
			return nil, 0, nil
		}
		data = data[6:]
		headerDataLength -= 6
		datalen -= 6
	}
	if flags2&0x10 != 0 { // ES rate
		if datalen < 3 {
			return nil, 0, nil
		}
		data = data[3:]
		headerDataLength -= 3
		datalen -= 3
	}
	if flags2&0x08 != 0 { // trick mode
		if datalen < 1 {
			return nil, 0, nil
		}
		data = data[1:]
		headerDataLength--
		datalen--
	}
	// additional_copy_info_flag and PES_CRC_flag carry no extra bytes
	// to skip beyond header_data_length accounting; their fields are
	// consumed generically below via header_data_length.
	if flags2&0x01 != 0 { // PES_extension_flag
		if datalen < 1 {
			return nil, 0, nil
		}
		extFlags := data[0]
		data = data[1:]
		headerDataLength--
		datalen--

		if extFlags&0x80 != 0 { // PES_private_data_flag
			if datalen < 16 {
				return nil, 0, nil
			}
			data = data[16:]
			headerDataLength -= 16
			datalen -= 16
		}
		if extFlags&0x40 != 0 { // pack_header_field_flag
			if datalen < 1 {
				return nil, 0, nil
			}
			packFieldLength := int(data[0])
			adv := packFieldLength + 1
			if datalen < adv {
				return nil, 0, nil
			}
			data = data[adv:]
			headerDataLength -= adv
			datalen -= adv
		}
		if extFlags&0x20 != 0 { // program_packet_sequence_counter_flag
			if datalen < 2 {
				return nil, 0, nil
			}
			data = data[2:]
			headerDataLength -= 2
			datalen -= 2
		}
		if extFlags&0x10 != 0 { // P-STD_buffer_flag
			if datalen < 2 {
				return nil, 0, nil
			}
			data = data[2:]
			headerDataLength -= 2
			datalen -= 2
		}
		if extFlags&0x01 != 0 { // PES_extension_flag_2
			if datalen < 1 {
				return nil, 0, nil
			}
			extFieldLen := int(data[0]) & 0x7f
			adv := extFieldLen + 1
			if datalen < adv {
				return nil, 0, nil
			}
			data = data[adv:]
			headerDataLength -= adv
			datalen -= adv
		}
	}

	if headerDataLength < 0 || headerDataLength > len(data) {
		return nil, 0, errLostSync
	}
	data = data[headerDataLength:]
	datalen -= headerDataLength
	return data, datalen, nil
}

var errLostSync = &lostSyncError{}

type lostSyncError struct{}

func (e *lostSyncError) Error() string { return "pes: marker bit or flag violation" }

// readTimestamp decodes the canonical 5-byte, 33-bit PES timestamp
// pattern: 4 marker/flag bits, 3 bits, marker, 15 bits, marker, 15 bits,
// marker.
func readTimestamp(data []byte) (int64, bool) {
	if len(data) < 5 {
		return 0, false
	}
	if data[0]&0x01 != 1 || data[2]&0x01 != 1 || data[4]&0x01 != 1 {
		return 0, false
	}
	ts := int64(data[0]&0x0e) << 29
	ts |= int64(data[1]) << 22
	ts |= int64(data[2]&0xfe) << 14
	ts |= int64(data[3]) << 7
	ts |= int64(data[4]&0xfe) >> 1
	return ts, true
}

// pushOut delivers data (if any) to the data callback and transitions
// the filter to DATA_PUSH (bounded or unbounded remainder pending) or
// back to HEADER_PARSE (whole packet delivered in one shot).
func (f *Filter) pushOut(avail, datalen int, data []byte, declaredLength int, unbounded bool) (Result, error) {
	f.adapter.Unmap()
	if err := f.adapter.Flush(avail); err != nil {
		return NeedMoreData, nil
	}

	remaining := declaredLength - (avail - 6)
	var cbErr error
	if len(data) > 0 {
		if f.dataCB != nil {
			cbErr = f.dataCB(true, data)
		}
		f.first = false
	} else {
		f.first = true
	}

	f.unbounded = unbounded
	f.length = remaining
	if remaining > 0 || unbounded {
		f.state = StateDataPush
	} else {
		f.state = StateHeaderParse
	}
	if cbErr != nil {
		return OK, cbErr
	}
	return OK, nil
}
