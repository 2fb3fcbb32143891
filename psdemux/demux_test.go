package psdemux

import (
	"encoding/binary"
	"testing"

	"github.com/distlabs/streamcore/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMPEG2Pack builds a minimal MPEG-2 pack header (14 bytes, no
// stuffing) whose SCR base/extension fields decode to the given SCR and
// whose mux-rate field decodes to the given bytes/sec rate, with every
// marker bit set the way handlePack validates.
func buildMPEG2Pack(scr int64, muxRate int64) []byte {
	buf := make([]byte, 14)
	buf[0], buf[1], buf[2], buf[3] = 0x00, 0x00, 0x01, 0xba

	base := scr // ext=0, so base*300/300 == base when base < 1<<33
	mr := uint32(muxRate / 50)
	next32 := mr<<10 | 0x00000300 // mux_rate | 11 markers | no stuffing
	scr1 := uint32(0x44000400) |
		uint32((base>>30)&0x07)<<27 |
		uint32((base>>15)&0x7fff)<<11 |
		uint32((base>>5)&0x3ff)
	scr2 := uint32(base&0x1f)<<27 | 0x04010000 | next32>>16

	binary.BigEndian.PutUint32(buf[4:8], scr1)
	binary.BigEndian.PutUint32(buf[8:12], scr2)
	binary.BigEndian.PutUint16(buf[12:14], uint16(next32))
	return buf
}

func TestHandlePack_DecodesZeroSCR(t *testing.T) {
	d := New()
	pack := buildMPEG2Pack(0, 2000*50)
	res, err := d.Push(pack)
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.Equal(t, int64(0), d.currentSCR)
	assert.Equal(t, int64(2000*50), d.MuxRate())
}

func TestSmallestPSStream_ScenarioA(t *testing.T) {
	// Scenario A: pack header (MPEG-2, SCR=0, mux_rate=2000) followed by
	// one PES (id=0xE0, length=0) carrying 8 bytes behind an MPEG-2 PES
	// header with no timestamps.
	d := New()

	var delivered []byte
	var gotType StreamType
	var gotPTS, gotDTS int64 = 1, 1
	d.DataCB = func(s *StreamInfo, first bool, pts, dts int64, data []byte) error {
		delivered = append(delivered, data...)
		gotType = s.Type
		if first {
			gotPTS, gotDTS = pts, dts
		}
		return nil
	}

	buf := buildMPEG2Pack(0, 2000)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xDE, 0xAD, 0xBE, 0xEF}
	pes := []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00}
	pes = append(pes, 0x80, 0x00, 0x00) // MPEG-2 flags, header_data_length 0
	pes = append(pes, payload...)
	buf = append(buf, pes...)

	res, err := d.Push(buf)
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.Equal(t, payload, delivered)
	// id 0xE0 defaults to video/mpeg1, but the pack header here declares
	// MPEG-2, which upgrades the default.
	assert.Equal(t, StreamTypeVideoMPEG2, gotType)
	assert.Equal(t, clock.NoTimestamp, gotPTS)
	assert.Equal(t, clock.NoTimestamp, gotDTS)

	s := d.Stream(0xE0)
	require.NotNil(t, s)
}

// buildMPEG1Pack builds a minimal MPEG-1 pack header (12 bytes) whose
// SCR field decodes to the given value, with valid marker bits.
func buildMPEG1Pack(scr int64, muxRate int64) []byte {
	buf := make([]byte, 12)
	buf[0], buf[1], buf[2], buf[3] = 0x00, 0x00, 0x01, 0xba
	buf[4] = 0x20 | byte((scr>>29)&0x0e) | 0x01
	buf[5] = byte(scr >> 22)
	buf[6] = byte((scr>>14)&0xfe) | 0x01
	buf[7] = byte(scr >> 7)
	buf[8] = byte(scr<<1) | 0x01
	mr := muxRate / 50
	buf[9] = byte(mr>>15) | 0x80
	buf[10] = byte(mr >> 7)
	buf[11] = byte(mr<<1) | 0x01
	return buf
}

func TestGetOrCreateStream_DefaultVideoUpgradedToMPEG2WhenPackDeclaresIt(t *testing.T) {
	d := New()
	d.Push(buildMPEG2Pack(0, 1000))
	s := d.getOrCreateStream(0xE1, StreamTypeUnknown)
	assert.Equal(t, StreamTypeVideoMPEG2, s.Type)
}

func TestGetOrCreateStream_DefaultVideoStaysMPEG1WhenPackIsMPEG1(t *testing.T) {
	d := New()
	d.Push(buildMPEG1Pack(0, 1000))
	s := d.getOrCreateStream(0xE1, StreamTypeUnknown)
	assert.Equal(t, StreamTypeVideoMPEG1, s.Type)
}

func TestGetOrCreateStream_ExplicitPSMOverridesUpgradeRule(t *testing.T) {
	d := New()
	d.Push(buildMPEG2Pack(0, 1000))
	d.psm[0xE1] = StreamTypeVideoH264 // explicit PSM entry, not the bare default
	s := d.getOrCreateStream(0xE1, StreamTypeUnknown)
	assert.Equal(t, StreamTypeVideoH264, s.Type)
}

func TestResync_FindsPrefixAtArbitraryOffset(t *testing.T) {
	// Testable property 1: a prefix at offset k not divisible by 4 must
	// still be found by the top-level resync scan.
	d := New()
	junk := []byte{0x11, 0x22, 0x33, 0x44, 0x55} // k = 5
	valid := buildMPEG2Pack(0, 1000)
	buf := append(append([]byte{}, junk...), valid...)

	res, err := d.Push(buf)
	require.NoError(t, err)
	assert.Contains(t, []Result{OK, LostSync}, res)
	assert.Equal(t, int64(0), d.currentSCR)
}

func TestDefaultPSM_PresentAfterReset(t *testing.T) {
	d := New()
	assert.Equal(t, StreamTypeVideoMPEG1, d.psm[0xE0])
	assert.Equal(t, StreamTypeAudioAC3, d.psm[0x80])
	assert.Equal(t, StreamTypeSubpicture, d.psm[0x20])
	assert.Equal(t, StreamTypeUnknown, d.psm[0xBD])
}

func TestSCRDiscontinuity_InstallsAdjustWithoutTouchingRate(t *testing.T) {
	d := New()
	d.Push(buildMPEG2Pack(0, 1000))
	n0, dn0 := d.SCRRate()

	// Jump far beyond the one-second threshold.
	jump := int64(oneSecondInTicks * 10)
	d.Push(buildMPEG2Pack(jump, 1000))

	n1, dn1 := d.SCRRate()
	assert.Equal(t, n0, n1)
	assert.Equal(t, dn0, dn1)
}

func TestHandlePack_MarkerViolationLosesSync(t *testing.T) {
	d := New()
	pack := buildMPEG2Pack(90000, 2000*50)
	pack[4] &^= 0x04 // clear the marker after the top SCR bits

	res, err := d.Push(pack)
	require.NoError(t, err)
	assert.Equal(t, NeedMoreData, res)
	// The bogus header must not have fed SCR bookkeeping.
	assert.False(t, d.haveFirstSCR)

	// A valid pack behind the corrupt one is still picked up.
	res, err = d.Push(buildMPEG2Pack(90000, 2000*50))
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.Equal(t, int64(90000), d.currentSCR)
}

func TestHandlePack_MuxRateMarkerViolationLosesSync(t *testing.T) {
	d := New()
	pack := buildMPEG2Pack(0, 2000*50)
	pack[12] &^= 0x02 // clear one of the two mux-rate marker bits

	_, err := d.Push(pack)
	require.NoError(t, err)
	assert.False(t, d.haveFirstSCR)
	assert.Zero(t, d.MuxRate())
}

func TestHandlePack_BadStuffingByteLosesSync(t *testing.T) {
	d := New()
	pack := buildMPEG2Pack(0, 2000*50)
	pack[13] |= 0x02 // declare two stuffing bytes
	pack = append(pack, 0xff, 0x00)

	_, err := d.Push(pack)
	require.NoError(t, err)
	assert.False(t, d.haveFirstSCR)
}

func TestHandlePack_MPEG1MarkerViolationLosesSync(t *testing.T) {
	d := New()
	pack := buildMPEG1Pack(90000, 1000)
	pack[6] &^= 0x01 // clear the mid-SCR marker

	_, err := d.Push(pack)
	require.NoError(t, err)
	assert.False(t, d.haveFirstSCR)
}

// buildSystemHeader builds a system header (0x1BB) with the given
// per-stream entries, all marker and reserved bits valid.
func buildSystemHeader(streamIDs []byte) []byte {
	body := []byte{
		0x80 | 0x01, 0x00, 0x01, // marker | rate_bound | marker
		0x04,        // audio_bound 1
		0x20 | 0x01, // marker | video_bound 1
		0x7f,        // reserved all ones
	}
	for _, id := range streamIDs {
		body = append(body, id, 0xc0|0x01, 0x10)
	}
	hdr := []byte{0x00, 0x00, 0x01, 0xbb, 0x00, byte(len(body))}
	return append(hdr, body...)
}

func TestHandleSystemHeader_AcceptsValidHeader(t *testing.T) {
	d := New()
	res, err := d.Push(buildSystemHeader([]byte{0xe0, 0xc0}))
	require.NoError(t, err)
	assert.Equal(t, OK, res)
	assert.Zero(t, d.adapter.Available(), "whole header consumed")
}

func TestHandleSystemHeader_MarkerViolationsLoseSync(t *testing.T) {
	corrupt := []struct {
		name   string
		mangle func(b []byte)
	}{
		{"rate-bound leading marker", func(b []byte) { b[6] &^= 0x80 }},
		{"rate-bound trailing marker", func(b []byte) { b[8] &^= 0x01 }},
		{"video-bound marker", func(b []byte) { b[10] &^= 0x20 }},
		{"reserved bits", func(b []byte) { b[11] &^= 0x01 }},
		{"entry stream id top bit", func(b []byte) { b[12] &^= 0x80 }},
		{"entry marker bits", func(b []byte) { b[13] &^= 0x40 }},
	}
	for _, tt := range corrupt {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			buf := buildSystemHeader([]byte{0xe0})
			tt.mangle(buf)
			res, err := d.Push(buf)
			require.NoError(t, err)
			// The 4 start-code bytes are flushed and the scan resumes
			// in the remaining body, which contains no further sync.
			assert.Equal(t, NeedMoreData, res)
			assert.Less(t, d.adapter.Available(), len(buf))
		})
	}
}
