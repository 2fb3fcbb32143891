package psdemux

import (
	"encoding/binary"

	"github.com/distlabs/streamcore/byteadapter"
	"github.com/distlabs/streamcore/clock"
	"github.com/distlabs/streamcore/pes"
	"github.com/sirupsen/logrus"
)

// DataCallback delivers one PES payload fragment for an elementary
// stream. first is true for the first fragment of a packet, in which
// case pts/dts carry the decoded timestamps (clock.NoTimestamp if
// absent); for later fragments pts/dts are always clock.NoTimestamp.
type DataCallback func(stream *StreamInfo, first bool, pts, dts int64, data []byte) error

// NewStreamCallback is invoked the first time a stream id is observed,
// after its StreamInfo has been created and inserted but before any
// data callback fires for it.
type NewStreamCallback func(stream *StreamInfo)

// Demux is the MPEG Program Stream demultiplexer state machine.
//
// Demux is not safe for concurrent use; the owning element serializes
// Push/Process/Seek calls under its own lock.
type Demux struct {
	adapter        *byteadapter.Adapter
	reverseAdapter *byteadapter.Adapter
	reverse        bool

	filter *pes.Filter

	streams map[byte]*StreamInfo
	psm     [256]StreamType

	// SCR bookkeeping.
	firstSCR       int64
	lastSCR        int64
	currentSCR     int64
	scrAdjust      int64
	firstSCROffset uint64
	lastSCROffset  uint64
	haveFirstSCR   bool

	scrRateN int64
	scrRateD int64

	muxRate           int64 // bytes/sec, 0 if never declared
	nextSCR           int64
	bytesSinceSCR     int64
	baseTimeNS        int64
	byteOffset        uint64

	// packIsMPEG2 records the most recently parsed pack header's
	// MPEG-1/2 discrimination, consulted by getOrCreateStream to upgrade
	// the 0xE0-0xEF default (video/mpeg1) to video/mpeg2 when no
	// explicit PSM entry overrides it.
	packIsMPEG2 bool

	eos bool

	DataCB      DataCallback
	NewStreamCB NewStreamCallback

	log *logrus.Entry
}

// New creates a Demux ready to accept Push calls in forward-playback,
// push-mode operation.
func New() *Demux {
	d := &Demux{
		adapter:        byteadapter.New(),
		reverseAdapter: byteadapter.New(),
		streams:        make(map[byte]*StreamInfo),
		psm:            defaultPSM(),
		firstSCR:       clock.NoTimestamp,
		lastSCR:        clock.NoTimestamp,
		currentSCR:     clock.NoTimestamp,
		nextSCR:        clock.NoTimestamp,
		log:            logrus.WithField("component", "psdemux"),
	}
	d.filter = pes.New(d.adapter, d.onPESData)
	// Whole bounded packets only: a program stream interleaves packs and
	// PES packets in one adapter, so a partially delivered bounded PES
	// must not leave the filter mid-packet when the next pack header
	// arrives behind it.
	d.filter.GatherPES = true
	return d
}

// SetReverse toggles reverse-playback resync behaviour: bytes skipped
// while searching for sync are transferred to a secondary reverse
// adapter (to be prepended to the previous buffer) instead of discarded.
func (d *Demux) SetReverse(reverse bool) { d.reverse = reverse }

// Stream returns the stream record for id, or nil if it has not been
// observed yet.
func (d *Demux) Stream(id byte) *StreamInfo { return d.streams[id] }

// MuxRate returns the most recently declared program mux rate in
// bytes/sec, or 0 if none has been declared yet.
func (d *Demux) MuxRate() int64 { return d.muxRate }

// SCRRate returns the derived bytes-per-90kHz-tick rate as a rational
// scr_rate_n/scr_rate_d, or (0, 0) if it has not been established.
func (d *Demux) SCRRate() (n, d2 int64) { return d.scrRateN, d.scrRateD }

// Duration returns the stream duration in nanoseconds derived from the
// first/last SCR observed (via EstablishRate or ordinary parsing), or
// clock.NoTimestamp if timing has not been established.
func (d *Demux) Duration() int64 {
	if !d.haveFirstSCR || d.lastSCR <= d.firstSCR {
		return clock.NoTimestamp
	}
	return clock.ToNanoseconds(d.lastSCR - d.firstSCR)
}

// Push appends buf and processes the adapter until it is exhausted of
// whole headers/packets, for streaming (push-mode) callers.
func (d *Demux) Push(buf []byte) (Result, error) {
	d.adapter.Append(buf)
	return d.Process()
}

// Process drains whatever is already queued in the adapter, for
// pull-mode callers (e.g. a seekable file source) that fill the adapter
// themselves.
func (d *Demux) Process() (Result, error) {
	if d.eos {
		return EOS, nil
	}
	progressed := false
	for {
		res, err := d.step()
		if err != nil {
			return res, err
		}
		switch res {
		case OK:
			progressed = true
			continue
		case NeedMoreData:
			// Exhausting the adapter after recognising at least one
			// header or payload is ordinary forward progress; only a
			// call that could do nothing at all reports NeedMoreData.
			if progressed {
				return OK, nil
			}
			return NeedMoreData, nil
		case LostSync:
			continue
		case EOS:
			d.eos = true
			return EOS, nil
		}
	}
}

// step performs one unit of demux work: recognise a top-level header at
// the current adapter position, or hand off to the PES filter.
func (d *Demux) step() (Result, error) {
	if d.adapter.Available() < 4 {
		return NeedMoreData, nil
	}
	hdr, err := d.adapter.Map(4)
	if err != nil {
		return NeedMoreData, nil
	}
	if hdr[0] != 0x00 || hdr[1] != 0x00 || hdr[2] != 0x01 {
		return d.resync()
	}
	sc := binary.BigEndian.Uint32(hdr)
	switch sc {
	case StartCodePack:
		return d.handlePack()
	case StartCodeSystemHeader:
		return d.handleSystemHeader()
	case StartCodeEnd:
		if err := d.adapter.Flush(4); err != nil {
			return NeedMoreData, nil
		}
		return EOS, nil
	default:
		res, err := d.filter.Process()
		switch res {
		case pes.OK:
			return OK, err
		case pes.NeedMoreData:
			return NeedMoreData, err
		case pes.LostSync:
			return LostSync, err
		default:
			return OK, err
		}
	}
}

// resync implements the top-level "scan for 00 00 01 xx" recovery,
// distinct from the PES filter's own flush-4 LOST_SYNC
// policy: it walks the adapter byte by byte (not in fixed 4-byte
// strides) so it lands exactly on a prefix at any offset.
func (d *Demux) resync() (Result, error) {
	avail := d.adapter.Available()
	if avail < 4 {
		return NeedMoreData, nil
	}
	buf, err := d.adapter.Map(avail)
	if err != nil {
		return NeedMoreData, nil
	}
	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] == 0x00 && buf[i+1] == 0x00 && buf[i+2] == 0x01 {
			d.skip(buf[:i])
			return LostSync, nil
		}
	}
	// No prefix found at all: keep the trailing 3 bytes (they might be
	// the start of a prefix split across the next Append) and discard
	// the rest.
	keep := 3
	if len(buf) < keep {
		keep = len(buf)
	}
	d.skip(buf[:len(buf)-keep])
	return NeedMoreData, nil
}

// skip discards (forward) or transfers to the reverse adapter (reverse
// playback) the bytes junk, advancing the main adapter past them.
func (d *Demux) skip(junk []byte) {
	if len(junk) == 0 {
		return
	}
	if d.reverse {
		d.reverseAdapter.Append(append([]byte(nil), junk...))
	}
	d.adapter.Unmap()
	d.adapter.Flush(len(junk))
	d.byteOffset += uint64(len(junk))
}

// getOrCreateStream returns the StreamInfo for id, creating and
// announcing it (via NewStreamCB) the first time id is observed, mapped
// through the default or PSM-extended type table.
func (d *Demux) getOrCreateStream(id byte, remapType StreamType) *StreamInfo {
	s, ok := d.streams[id]
	if ok {
		return s
	}
	t := d.psm[id]
	if remapType != StreamTypeUnknown {
		t = remapType
	} else if id >= 0xe0 && id <= 0xef && t == StreamTypeVideoMPEG1 && d.packIsMPEG2 {
		// Default table entry, not overridden by an explicit PSM, and
		// the pack header declared MPEG-2: upgrade the type.
		t = StreamTypeVideoMPEG2
	}
	s = &StreamInfo{ID: id, Type: t, lastTimestamp: clock.NoTimestamp, needsSegment: true}
	d.streams[id] = s
	if d.NewStreamCB != nil {
		d.NewStreamCB(s)
	}
	return s
}

// onPESData is the pes.Filter data callback. It is invoked synchronously
// from within filter.Process/Push, so f.StreamID()/f.StartCode() reflect
// the packet currently being delivered.
func (d *Demux) onPESData(first bool, data []byte) error {
	id := d.filter.StreamID()
	sc := d.filter.StartCode()

	if sc == StartCodeProgramMap {
		if first {
			d.parseProgramStreamMap(data)
		}
		return nil
	}

	remap := StreamTypeUnknown
	if sc == StartCodePrivate1 && first && len(data) >= 2 && binary.BigEndian.Uint16(data[0:2]) == ac3SyncWord {
		remap = StreamTypeAudioAC3
		id = ac3RemapID
	}

	s := d.getOrCreateStream(id, remap)
	var pts, dts int64 = clock.NoTimestamp, clock.NoTimestamp
	if first {
		pts, dts = d.filter.PTS(), d.filter.DTS()
		if pts != clock.NoTimestamp {
			s.lastTimestamp = pts
		}
	}
	if d.DataCB != nil {
		return d.DataCB(s, first, pts, dts, data)
	}
	return nil
}
