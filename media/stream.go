package media

import (
	"strconv"
	"strings"
	"sync"

	"github.com/distlabs/streamcore/rtp"
)

// Stream binds one elementary stream's pipeline element to its RTP
// plumbing and its dedicated TCP sender.
type Stream struct {
	Index int
	RTP   *rtp.Stream

	payloader   Payloader
	depayloader Depayloader
	sender      *rtp.Sender

	mu            sync.Mutex
	blocking      rtp.BlockingInfo
	blockingValid bool
	dynamic       bool
}

func newSenderStream(index int, pay Payloader, profiles rtp.Profile, protocols rtp.LowerTransport, dynamic bool) *Stream {
	s := &Stream{
		Index: index,
		RTP: rtp.NewStream(rtp.StreamConfig{
			Index:           index,
			Role:            rtp.RoleSource,
			AllowedProfiles: profiles,
			AllowedLower:    protocols,
			EnableRTCP:      true,
		}),
		payloader: pay,
		sender:    rtp.NewSender(index),
		dynamic:   dynamic,
	}
	s.sender.Start()
	return s
}

func newReceiverStream(index int, depay Depayloader, profiles rtp.Profile, protocols rtp.LowerTransport) *Stream {
	return &Stream{
		Index: index,
		RTP: rtp.NewStream(rtp.StreamConfig{
			Index:           index,
			Role:            rtp.RoleSink,
			AllowedProfiles: profiles,
			AllowedLower:    protocols,
			EnableRTCP:      true,
		}),
		depayloader: depay,
	}
}

// Payloader returns the send-side element, nil for receiver streams.
func (s *Stream) Payloader() Payloader { return s.payloader }

// Depayloader returns the receive-side element, nil for sender streams.
func (s *Stream) Depayloader() Depayloader { return s.depayloader }

// Sender returns the stream's TCP distribution thread, nil for
// receiver streams.
func (s *Stream) Sender() *rtp.Sender { return s.sender }

// IsSender reports whether this stream sends media to clients.
func (s *Stream) IsSender() bool { return s.payloader != nil }

// Ready reports the stream's preroll condition: negotiated caps for a
// sender, completeness for a receiver.
func (s *Stream) Ready() bool {
	if s.payloader != nil {
		return s.payloader.CapsReady()
	}
	if s.depayloader != nil {
		return s.depayloader.Complete()
	}
	return false
}

// Configured reports whether any transport subgraph has been built.
func (s *Stream) Configured() bool {
	return s.RTP.IsConfigured(rtp.LowerTransportUDP) ||
		s.RTP.IsConfigured(rtp.LowerTransportUDPMulticast) ||
		s.RTP.IsConfigured(rtp.LowerTransportTCP)
}

// setBlockingInfo records the first-packet metadata captured by the
// stream's blocking probe.
func (s *Stream) setBlockingInfo(info rtp.BlockingInfo) {
	s.mu.Lock()
	s.blocking = info
	s.blockingValid = true
	s.mu.Unlock()
}

// BlockingInfo returns the captured first-packet metadata, if the
// blocking probe has fired.
func (s *Stream) BlockingInfo() (rtp.BlockingInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocking, s.blockingValid
}

// close releases the stream's resources.
func (s *Stream) close() {
	if s.sender != nil {
		s.sender.Stop()
	}
	_ = s.RTP.Close()
}

// parseStreamName splits an element name into its pay/depay/dynpay
// kind and stream index, reporting whether the name follows the
// convention at all.
func parseStreamName(name string) (kind string, index int, ok bool) {
	for _, k := range []string{"dynpay", "depay", "pay"} {
		if rest, found := strings.CutPrefix(name, k); found {
			idx, err := strconv.Atoi(rest)
			if err != nil || idx < 0 {
				return "", 0, false
			}
			return k, idx, true
		}
	}
	return "", 0, false
}
