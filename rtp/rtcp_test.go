package rtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlabs/streamcore/crypto"
)

func TestBuildSenderReport_RoundTripsThroughHandleIncoming(t *testing.T) {
	sender := NewSession(false)
	sender.StatsFor(0xabcd).CNAME = "stream0@example"
	sender.OnSenderPacket(0xabcd, 100, 160)
	sender.OnSenderPacket(0xabcd, 101, 160)

	buf, err := sender.BuildSenderReport(0xabcd, 0x1000, 0x2000, 90000)
	require.NoError(t, err)

	receiver := NewSession(false)
	require.NoError(t, receiver.HandleIncoming(buf))

	st := receiver.StatsFor(0xabcd)
	assert.Equal(t, "stream0@example", st.CNAME)
	assert.Equal(t, uint32(0x1000), st.LastNTPSecs)
	assert.Equal(t, uint32(90000), st.LastRTPTime)
}

func TestBuildReceiverReport_CarriesLossAndJitter(t *testing.T) {
	s := NewSession(false)
	st := s.StatsFor(42)
	st.PacketsLost = 3
	st.Jitter = 55
	st.HighestSeq = 200

	buf, err := s.BuildReceiverReport(1, 42)
	require.NoError(t, err)

	other := NewSession(false)
	require.NoError(t, other.HandleIncoming(buf))
	got := other.StatsFor(42)
	assert.Equal(t, int32(3), got.PacketsLost)
	assert.Equal(t, uint32(55), got.Jitter)
}

func TestOnSenderPacket_AccumulatesOctetsAndPackets(t *testing.T) {
	s := NewSession(false)
	s.OnSenderPacket(1, 10, 100)
	s.OnSenderPacket(1, 11, 200)
	st := s.StatsFor(1)
	assert.Equal(t, uint32(2), st.PacketsSent)
	assert.Equal(t, uint32(300), st.OctetsSent)
	assert.Equal(t, uint32(11), st.HighestSeq)
}

func TestNTPTime_ConvertsUnixToNTPEpoch(t *testing.T) {
	ts := time.Unix(1000, 500_000_000)
	ntp, err := NTPTime(ts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000+2208988800), ntp>>32)
	// Half a second is half the 32-bit fraction space.
	assert.InDelta(t, float64(uint64(1)<<31), float64(ntp&0xffffffff), 2)
}

func TestNTPTime_RejectsPreEpochTimes(t *testing.T) {
	_, err := NTPTime(time.Unix(-1, 0))
	assert.Error(t, err)
}

// fixedTimeProvider pins Now for deterministic SR-arrival bookkeeping.
type fixedTimeProvider struct{ at time.Time }

func (p fixedTimeProvider) Now() time.Time                  { return p.at }
func (p fixedTimeProvider) Since(t time.Time) time.Duration { return p.at.Sub(t) }

func TestHandleIncoming_StampsSRArrivalWithInjectedClock(t *testing.T) {
	at := time.Unix(1700000000, 0)
	crypto.SetDefaultTimeProvider(fixedTimeProvider{at: at})
	defer crypto.SetDefaultTimeProvider(nil)

	sender := NewSession(false)
	buf, err := sender.BuildSenderReport(7, 0x10, 0x20, 1234)
	require.NoError(t, err)

	receiver := NewSession(false)
	require.NoError(t, receiver.HandleIncoming(buf))
	assert.Equal(t, at, receiver.StatsFor(7).LastSRRecvAt)
}
