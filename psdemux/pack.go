package psdemux

import (
	"encoding/binary"

	"github.com/distlabs/streamcore/clock"
)

// oneSecondInTicks is the SCR discontinuity threshold: a jump of more
// than one second between consecutive SCR values installs a running
// adjustment instead of accepting the jump at face value.
const oneSecondInTicks = 90000

// parsePackSCR validates the marker bits of a pack-start header
// beginning at b[0] (the 0x000001BA start code) and decodes its SCR in
// 90 kHz ticks. b must hold at least 12 bytes. ok is false on any
// marker-bit violation.
func parsePackSCR(b []byte) (scr int64, mpeg2, ok bool) {
	scr1 := binary.BigEndian.Uint32(b[4:8])
	scr2 := binary.BigEndian.Uint32(b[8:12])

	if b[4]&0xc0 == 0x40 {
		// 01 | scr:3 | marker | scr:15 | marker | scr:15
		if scr1&0xc4000400 != 0x44000400 {
			return 0, true, false
		}
		base := int64(scr1&0x38000000)<<3 |
			int64(scr1&0x03fff800)<<4 |
			int64(scr1&0x000003ff)<<5 |
			int64(scr2&0xf8000000)>>27
		// marker | scr_ext:9 | marker
		if scr2&0x04010000 != 0x04010000 {
			return 0, true, false
		}
		ext := int64(scr2&0x03fe0000) >> 17
		return (base*300 + ext%300) / 300, true, true
	}

	// 0010 | scr:3 | marker | scr:15 | marker | scr:15 | marker
	if scr1&0xf1000100 != 0x21000100 {
		return 0, false, false
	}
	// marker | mux_rate:22 | marker
	if scr2&0x01800001 != 0x01800001 {
		return 0, false, false
	}
	scr = int64(scr1&0x0e000000)<<5 |
		int64(scr1&0x00fffe00)<<6 |
		int64(scr1&0x000000ff)<<7 |
		int64(scr2&0xfe000000)>>25
	return scr, false, true
}

// handlePack parses the pack-start header (start code 0x1BA, up to 21
// bytes including stuffing), validating every marker and stuffing byte
// and advancing the SCR/mux-rate bookkeeping.
func (d *Demux) handlePack() (Result, error) {
	if d.adapter.Available() < 12 {
		return NeedMoreData, nil
	}
	buf, err := d.adapter.Map(12)
	if err != nil {
		return NeedMoreData, nil
	}

	scr, mpeg2, ok := parsePackSCR(buf)
	if !ok {
		return d.lostSync("pack header marker violation")
	}

	var muxRate int64
	var headerLen int
	if mpeg2 {
		if d.adapter.Available() < 14 {
			return NeedMoreData, nil
		}
		buf, err = d.adapter.Map(14)
		if err != nil {
			return NeedMoreData, nil
		}
		// mux_rate:22 | 11 | reserved:5 | stuffing_len:3
		next32 := binary.BigEndian.Uint32(buf[10:14])
		if next32&0x00000300 != 0x00000300 {
			return d.lostSync("pack header mux-rate marker violation")
		}
		muxRate = int64(next32&0xfffffc00) >> 10 * 50
		stuffing := int(next32 & 0x07)
		headerLen = 14 + stuffing
		if d.adapter.Available() < headerLen {
			return NeedMoreData, nil
		}
		if stuffing > 0 {
			buf, err = d.adapter.Map(headerLen)
			if err != nil {
				return NeedMoreData, nil
			}
			for _, sb := range buf[14:headerLen] {
				if sb != 0xff {
					return d.lostSync("pack header stuffing byte not 0xff")
				}
			}
		}
	} else {
		scr2 := binary.BigEndian.Uint32(buf[8:12])
		muxRate = int64(scr2&0x007ffffe) >> 1 * 50
		headerLen = 12
	}

	d.muxRate = muxRate
	d.packIsMPEG2 = mpeg2
	d.updateSCR(scr)

	d.adapter.Unmap()
	if err := d.adapter.Flush(headerLen); err != nil {
		return NeedMoreData, nil
	}
	d.byteOffset += uint64(headerLen)
	return OK, nil
}

// lostSync applies the top-level resync policy to a failed pack or
// system header parse: flush the 4 start-code bytes so the scan
// continues past them.
func (d *Demux) lostSync(reason string) (Result, error) {
	d.log.WithField("reason", reason).Debug("lost sync")
	d.adapter.Unmap()
	if err := d.adapter.Flush(4); err != nil {
		return NeedMoreData, nil
	}
	d.byteOffset += 4
	return LostSync, nil
}

// updateSCR applies scr (already adjusted by no offset yet) to the
// demux's SCR bookkeeping, detecting and absorbing discontinuities.
func (d *Demux) updateSCR(scr int64) {
	adjusted := scr + d.scrAdjust
	discontinuous := false
	if d.haveFirstSCR {
		if adjusted < d.currentSCR-oneSecondInTicks || adjusted > d.currentSCR+oneSecondInTicks {
			// Discontinuity: keep future SCRs monotonic without
			// updating the rate estimate on this event.
			d.scrAdjust = d.nextSCR - scr
			adjusted = d.nextSCR
			discontinuous = true
			for _, s := range d.streams {
				s.discont = true
			}
		}
	}

	offset := d.byteOffset
	if !d.haveFirstSCR {
		d.firstSCR = adjusted
		d.firstSCROffset = offset
		d.haveFirstSCR = true
	}
	d.lastSCR = adjusted
	d.lastSCROffset = offset
	d.currentSCR = adjusted
	d.nextSCR = adjusted + oneSecondInTicks // refined further as more SCRs accumulate
	d.bytesSinceSCR = 0
	d.baseTimeNS = clock.ToNanoseconds(adjusted)

	if !discontinuous && d.lastSCROffset > d.firstSCROffset && d.lastSCR > d.firstSCR {
		d.scrRateN = int64(d.lastSCROffset - d.firstSCROffset)
		d.scrRateD = d.lastSCR - d.firstSCR
	}
}

// handleSystemHeader validates and discards the advisory system header
// (start code 0x1BB): the rate_bound markers, the video_bound marker,
// the reserved byte, and the two leading marker bits on every
// stream_id -> buffer_size_bound entry. None of it feeds the demux's
// own state; the bytes are consumed and the markers enforced so a
// corrupted header resyncs instead of being skipped as if valid.
func (d *Demux) handleSystemHeader() (Result, error) {
	if d.adapter.Available() < 6 {
		return NeedMoreData, nil
	}
	hdr, err := d.adapter.Map(6)
	if err != nil {
		return NeedMoreData, nil
	}
	length := int(hdr[4])<<8 | int(hdr[5])
	total := 6 + length
	if d.adapter.Available() < total {
		return NeedMoreData, nil
	}
	buf, err := d.adapter.Map(total)
	if err != nil {
		return NeedMoreData, nil
	}
	body := buf[6:]
	if len(body) < 6 {
		return d.lostSync("system header too short")
	}

	// marker | rate_bound:22 | marker
	if body[0]&0x80 != 0x80 || body[2]&0x01 != 0x01 {
		return d.lostSync("system header rate-bound marker violation")
	}
	// body[3]: audio_bound:6 | fixed | constrained, no markers.
	// audio_lock | video_lock | marker | video_bound:5
	if body[4]&0x20 != 0x20 {
		return d.lostSync("system header video-bound marker violation")
	}
	// packet_rate_restriction | reserved:7, reserved must be all ones.
	if body[5]&0x7f != 0x7f {
		return d.lostSync("system header reserved bits violation")
	}

	// stream_id | 11 | scale | size_bound:13, three bytes per entry.
	for off := 6; off+3 <= len(body); off += 3 {
		if body[off]&0x80 == 0 {
			return d.lostSync("system header stream id out of range")
		}
		if body[off+1]&0xc0 != 0xc0 {
			return d.lostSync("system header entry marker violation")
		}
	}

	d.adapter.Unmap()
	if err := d.adapter.Flush(total); err != nil {
		return NeedMoreData, nil
	}
	d.byteOffset += uint64(total)
	return OK, nil
}

// parseProgramStreamMap updates d.psm from a program-stream-map payload
// (start code 0x1BC), overriding the default table for every stream id
// present except 0xBD, whose type is always resolved by payload
// inspection. Malformed payloads are ignored rather than
// treated as LOST_SYNC: the PSM is advisory metadata, not sync-critical.
func (d *Demux) parseProgramStreamMap(data []byte) {
	if len(data) < 2 {
		return
	}
	programStreamInfoLen := int(data[0])<<8 | int(data[1])
	off := 2 + programStreamInfoLen
	if off+2 > len(data) {
		return
	}
	mapLen := int(data[off])<<8 | int(data[off+1])
	off += 2
	end := off + mapLen
	if end > len(data) {
		end = len(data)
	}
	for off+4 <= end {
		streamType := data[off]
		streamID := data[off+1]
		esInfoLen := int(data[off+2])<<8 | int(data[off+3])
		off += 4 + esInfoLen
		if streamID == StartCodePrivate1&0xff {
			continue
		}
		d.psm[streamID] = mpegStreamTypeToPSDemuxType(streamType)
	}
}

// mpegStreamTypeToPSDemuxType maps the ISO/IEC 13818-1 Table 2-29
// stream_type values this demux cares about to StreamType. Unknown
// values map to StreamTypeUnknown rather than being rejected, since a
// PSM may legitimately declare types this demux's callers never use.
func mpegStreamTypeToPSDemuxType(st byte) StreamType {
	switch st {
	case 0x01:
		return StreamTypeVideoMPEG1
	case 0x02:
		return StreamTypeVideoMPEG2
	case 0x03, 0x04:
		return StreamTypeAudioMPEG
	case 0x1b:
		return StreamTypeVideoH264
	case 0x24:
		return StreamTypeVideoHEVC
	case 0x81:
		return StreamTypeAudioAC3
	case 0x8a:
		return StreamTypeAudioDTS
	default:
		return StreamTypeUnknown
	}
}
