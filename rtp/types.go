package rtp

import (
	"net"

	"github.com/distlabs/streamcore/transport"
)

// Profile is the RTP/AVP profile variant negotiated for a transport.
type Profile uint8

const (
	ProfileAVP Profile = 1 << iota
	ProfileAVPF
	ProfileSAVP
	ProfileSAVPF
)

// LowerTransport is the network substrate an RTP transport runs over.
type LowerTransport uint8

const (
	LowerTransportUDP LowerTransport = 1 << iota
	LowerTransportUDPMulticast
	LowerTransportTCP
)

// Direction distinguishes the RTP data channel from its RTCP companion,
// used to index the per-direction socket/TEE/FUNNEL pairs.
type Direction int

const (
	DirectionRTP Direction = iota
	DirectionRTCP
)

// Role distinguishes a stream acting as an RTP source (payloader driving
// a TEE fan-out to transports) from one acting as an RTP sink
// (depayloader fed by a FUNNEL fan-in from transports).
type Role int

const (
	RoleSource Role = iota
	RoleSink
)

// socketPair is one family's (unicast or multicast) RTP+RTCP socket
// pair; a stream carries one per (unicast/multicast x IPv4/IPv6)
// combination.
type socketPair struct {
	rtp  Transport
	rtcp Transport

	addr      net.IP
	rtpPort   uint16
	rtcpPort  uint16
	multicast bool
}

// Transport is the socket abstraction the rtp package depends on,
// satisfied by transport.UDPTransport and transport.TCPTransport.
type Transport = transport.Transport
