package rtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/distlabs/streamcore/crypto"
)

// RTCPStats is the per-SSRC bookkeeping rtpsession keeps to build SR/RR
// packets and to answer "get-sdes" style queries.
type RTCPStats struct {
	SSRC          uint32
	CNAME         string
	PacketsSent   uint32
	OctetsSent    uint32
	HighestSeq    uint32
	PacketsLost   int32
	Jitter        uint32
	LastSR        uint32 // middle 32 bits of NTP timestamp from last received SR
	LastSRRecvAt  time.Time
	LastRTPTime   uint32
	LastNTPSecs   uint32
	LastNTPFrac   uint32
}

// Session mirrors rtpsession's RTCP half: it tracks per-SSRC stats and
// builds/consumes compound RTCP packets via pion/rtcp, independent of
// the RTP media path. The profile's reduced-size permission is
// recorded, but the reports built here are always full compound
// packets.
type Session struct {
	mu          sync.Mutex
	stats       map[uint32]*RTCPStats
	reducedSize bool // AVPF profile permits reduced-size RTCP per report
}

// NewSession creates an RTCP session. reducedSize should be true when
// the stream's negotiated profile is AVPF/SAVPF.
func NewSession(reducedSize bool) *Session {
	return &Session{stats: make(map[uint32]*RTCPStats), reducedSize: reducedSize}
}

// StatsFor returns (creating if needed) the stats record for ssrc.
func (s *Session) StatsFor(ssrc uint32) *RTCPStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[ssrc]
	if !ok {
		st = &RTCPStats{SSRC: ssrc}
		s.stats[ssrc] = st
	}
	return st
}

// OnSenderPacket updates OctetsSent/PacketsSent/HighestSeq bookkeeping
// for a just-sent RTP packet carrying seq and payloadLen bytes.
func (s *Session) OnSenderPacket(ssrc uint32, seq uint16, payloadLen int) {
	st := s.StatsFor(ssrc)
	s.mu.Lock()
	defer s.mu.Unlock()
	st.PacketsSent++
	st.OctetsSent += uint32(payloadLen)
	if uint32(seq) > st.HighestSeq {
		st.HighestSeq = uint32(seq)
	}
}

// BuildSenderReport constructs a compound SR packet (SR + SDES) for
// ssrc, the way rtpsession emits one on its reporting interval.
func (s *Session) BuildSenderReport(ssrc uint32, ntpSecs, ntpFrac uint32, rtpTime uint32) ([]byte, error) {
	st := s.StatsFor(ssrc)
	s.mu.Lock()
	sr := &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     uint64(ntpSecs)<<32 | uint64(ntpFrac),
		RTPTime:     rtpTime,
		PacketCount: st.PacketsSent,
		OctetCount:  st.OctetsSent,
	}
	cname := st.CNAME
	s.mu.Unlock()

	pkts := []rtcp.Packet{sr}
	if cname != "" {
		pkts = append(pkts, &rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: ssrc,
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: cname,
				}},
			}},
		})
	}
	return rtcp.Marshal(pkts)
}

// BuildReceiverReport constructs an RR packet for ssrc describing the
// stream it is receiving, emitted by the receiving peer of a given
// SSRC.
func (s *Session) BuildReceiverReport(ourSSRC, remoteSSRC uint32) ([]byte, error) {
	st := s.StatsFor(remoteSSRC)
	s.mu.Lock()
	block := rtcp.ReceptionReport{
		SSRC:               remoteSSRC,
		FractionLost:       0,
		TotalLost:          uint32(st.PacketsLost),
		LastSequenceNumber: st.HighestSeq,
		Jitter:             st.Jitter,
		LastSenderReport:   st.LastSR,
	}
	s.mu.Unlock()

	rr := &rtcp.ReceiverReport{
		SSRC:    ourSSRC,
		Reports: []rtcp.ReceptionReport{block},
	}
	return rtcp.Marshal([]rtcp.Packet{rr})
}

// HandleIncoming parses a compound RTCP packet and folds any Sender or
// Receiver Report into per-SSRC stats, the mirror of rtpsession's
// internal "process incoming RTCP" path.
func (s *Session) HandleIncoming(buf []byte) error {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("rtp: unmarshalling RTCP: %w", err)
	}
	for _, p := range pkts {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			st := s.StatsFor(pkt.SSRC)
			s.mu.Lock()
			st.LastSR = uint32(pkt.NTPTime >> 16 & 0xffffffff)
			st.LastSRRecvAt = timeNow()
			st.LastRTPTime = pkt.RTPTime
			st.LastNTPSecs = uint32(pkt.NTPTime >> 32)
			st.LastNTPFrac = uint32(pkt.NTPTime)
			s.mu.Unlock()
		case *rtcp.ReceiverReport:
			for _, r := range pkt.Reports {
				st := s.StatsFor(r.SSRC)
				s.mu.Lock()
				st.PacketsLost = int32(r.TotalLost)
				st.Jitter = r.Jitter
				s.mu.Unlock()
			}
		case *rtcp.SourceDescription:
			for _, chunk := range pkt.Chunks {
				st := s.StatsFor(chunk.Source)
				for _, item := range chunk.Items {
					if item.Type == rtcp.SDESCNAME {
						s.mu.Lock()
						st.CNAME = item.Text
						s.mu.Unlock()
					}
				}
			}
		}
	}
	return nil
}

// ntpEpochOffset is the seconds between the NTP epoch (1900) and the
// Unix epoch (1970).
const ntpEpochOffset = 2208988800

// NTPTime converts t to the 64-bit NTP timestamp format sender reports
// carry. Times before the Unix epoch are rejected rather than wrapped.
func NTPTime(t time.Time) (uint64, error) {
	secs, err := crypto.Int64ToUint64(t.Unix())
	if err != nil {
		return 0, fmt.Errorf("rtp: NTP timestamp: %w", err)
	}
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return (secs+ntpEpochOffset)<<32 | frac, nil
}

// timeNow is split out so tests can observe it is the only place this
// package touches wall-clock time outside of caller-supplied values; it
// defers to the injectable provider so session-timeout and SR-arrival
// logic can be tested deterministically.
var timeNow = func() time.Time { return crypto.GetDefaultTimeProvider().Now() }
