package rtsp

import (
	"errors"
	"fmt"
	"net"

	"github.com/distlabs/streamcore/rtp"
)

var (
	// ErrUnsupportedProfile indicates the descriptor's profile is not in
	// the stream's allowed set.
	ErrUnsupportedProfile = errors.New("rtsp: unsupported profile")

	// ErrUnsupportedLowerTransport indicates the descriptor's lower
	// transport is not in the stream's allowed set.
	ErrUnsupportedLowerTransport = errors.New("rtsp: unsupported lower transport")

	// ErrInvalidClientPorts indicates the client_port pair is not an
	// even RTP port followed by the next odd RTCP port.
	ErrInvalidClientPorts = errors.New("rtsp: client_port must be an even/odd pair")

	// ErrInvalidDestination indicates the destination string is not a
	// parseable IP address.
	ErrInvalidDestination = errors.New("rtsp: invalid destination address")

	// ErrMissingInterleaved indicates a TCP descriptor without an
	// interleaved channel pair.
	ErrMissingInterleaved = errors.New("rtsp: TCP transport requires interleaved channels")
)

// PortPair is a (min, max) pair from a Transport header: UDP ports for
// client_port/server_port, 8-bit channel ids for interleaved.
type PortPair struct {
	Min uint16
	Max uint16
}

// TransportDescriptor is one parsed RTSP Transport header alternative.
// The engine consumes these already parsed; it never sees header text.
type TransportDescriptor struct {
	Lower   rtp.LowerTransport
	Profile rtp.Profile

	// ClientPorts and ServerPorts carry the RTP/RTCP UDP port pairs for
	// unicast and multicast transports; Interleaved carries the $-framed
	// channel id pair for TCP.
	ClientPorts PortPair
	ServerPorts PortPair
	Interleaved PortPair

	// Destination is the client-requested delivery address, required for
	// multicast and optional for unicast.
	Destination string

	// TTL is the multicast scope, capped at 255 by its type.
	TTL uint8
}

// Validate checks the descriptor against a stream's allowed profile and
// lower-transport sets plus the structural rules on ports and
// destination. Profile or protocol mismatches are distinguished so the
// SETUP handler can answer 461 with the right reason.
func (d TransportDescriptor) Validate(allowedProfiles rtp.Profile, allowedLower rtp.LowerTransport) error {
	if d.Profile&allowedProfiles == 0 {
		return fmt.Errorf("%w: %v not in allowed set", ErrUnsupportedProfile, d.Profile)
	}
	if d.Lower&allowedLower == 0 {
		return fmt.Errorf("%w: %v not in allowed set", ErrUnsupportedLowerTransport, d.Lower)
	}
	switch d.Lower {
	case rtp.LowerTransportTCP:
		if d.Interleaved.Max != d.Interleaved.Min+1 {
			return ErrMissingInterleaved
		}
	case rtp.LowerTransportUDP, rtp.LowerTransportUDPMulticast:
		if err := checkPortPair(d.ClientPorts); err != nil {
			return err
		}
		if d.ServerPorts != (PortPair{}) {
			if err := checkPortPair(d.ServerPorts); err != nil {
				return err
			}
		}
	}
	if d.Destination != "" && net.ParseIP(d.Destination) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidDestination, d.Destination)
	}
	if d.Lower == rtp.LowerTransportUDPMulticast && d.Destination == "" {
		return fmt.Errorf("%w: multicast requires a destination", ErrInvalidDestination)
	}
	return nil
}

// IsSecure reports whether the descriptor's profile requires SRTP
// (SAVP or SAVPF).
func (d TransportDescriptor) IsSecure() bool {
	return d.Profile&(rtp.ProfileSAVP|rtp.ProfileSAVPF) != 0
}

// DestinationIP returns the parsed destination address, or nil when no
// destination was given.
func (d TransportDescriptor) DestinationIP() net.IP {
	return net.ParseIP(d.Destination)
}

// checkPortPair enforces the even-RTP/odd-RTCP convention.
func checkPortPair(p PortPair) error {
	if p.Min%2 != 0 || p.Max != p.Min+1 {
		return fmt.Errorf("%w: got %d-%d", ErrInvalidClientPorts, p.Min, p.Max)
	}
	return nil
}
