package rtp

import (
	"fmt"
	"net"

	"github.com/distlabs/streamcore/addrpool"
	"github.com/distlabs/streamcore/transport"
)

// maxBindRetries bounds the port-allocation retry loop.
const maxBindRetries = 20

// AllocateUnicastSockets acquires an even RTP / odd RTCP port pair from
// pool (or OS-ephemeral ports if pool is nil) and binds both sockets on
// ip, retrying with a fresh port pair up to maxBindRetries times if the
// bind itself fails (e.g. the pool's bookkeeping is stale relative to
// the OS, or another process holds the port).
func AllocateUnicastSockets(pool *addrpool.Pool, ip net.IP, family addrpool.Flags) (rtpT, rtcpT *transport.UDPTransport, addr *addrpool.Address, err error) {
	network := "udp4"
	if family&addrpool.FlagIPv6 != 0 {
		network = "udp6"
	}

	// Leases whose bind failed stay held until the loop ends, so the pool
	// hands out a different pair on the next attempt.
	var failed []*addrpool.Address
	defer func() {
		for _, f := range failed {
			f.Release()
		}
	}()

	for attempt := 0; attempt < maxBindRetries; attempt++ {
		if pool == nil {
			rtpT, rtcpT, err = bindEphemeralPair(network, ip)
			if err == nil {
				return rtpT, rtcpT, nil, nil
			}
			continue
		}

		a, acqErr := pool.Acquire(family|addrpool.FlagUnicast, 0)
		if acqErr != nil {
			return nil, nil, nil, acqErr
		}
		rtpT, err = transport.NewUDPTransport(network, &net.UDPAddr{IP: ip, Port: int(a.RTPPort)})
		if err != nil {
			failed = append(failed, a)
			continue
		}
		rtcpT, err = transport.NewUDPTransport(network, &net.UDPAddr{IP: ip, Port: int(a.RTCPort)})
		if err != nil {
			rtpT.Close()
			failed = append(failed, a)
			continue
		}
		return rtpT, rtcpT, a, nil
	}
	return nil, nil, nil, fmt.Errorf("rtp: failed to bind a socket pair after %d attempts: %w", maxBindRetries, err)
}

// bindEphemeralPair binds an OS-assigned RTP port and then the port one
// above it for RTCP, the fallback path used when no address pool is
// configured. An odd RTP port or a failed RTCP bind is returned as an
// error; the retrying is done by AllocateUnicastSockets.
func bindEphemeralPair(network string, ip net.IP) (*transport.UDPTransport, *transport.UDPTransport, error) {
	rtpT, err := transport.NewUDPTransport(network, &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, nil, err
	}
	rtpPort := rtpT.LocalAddr().(*net.UDPAddr).Port
	if rtpPort%2 != 0 {
		rtpT.Close()
		return nil, nil, fmt.Errorf("rtp: ephemeral port %d was odd", rtpPort)
	}
	rtcpT, err := transport.NewUDPTransport(network, &net.UDPAddr{IP: ip, Port: rtpPort + 1})
	if err != nil {
		rtpT.Close()
		return nil, nil, err
	}
	return rtpT, rtcpT, nil
}

// AllocateMulticastSockets acquires a multicast group/port pair from
// pool and binds the sink (receive+join) socket; the caller constructs
// the paired send-side socket via transport.NewUDPTransportShared
// against the same OS socket, so send and receive share one group
// membership and close lifetime.
func AllocateMulticastSockets(pool *addrpool.Pool, family addrpool.Flags, ttl uint8) (sinkRTP, sinkRTCP *transport.UDPTransport, addr *addrpool.Address, err error) {
	network := "udp4"
	if family&addrpool.FlagIPv6 != 0 {
		network = "udp6"
	}
	for attempt := 0; attempt < maxBindRetries; attempt++ {
		a, acqErr := pool.Acquire(family|addrpool.FlagMulticast, 0)
		if acqErr != nil {
			return nil, nil, nil, acqErr
		}
		a.TTL = ttl
		sinkRTP, err = transport.NewUDPTransportMulticast(network, &net.UDPAddr{IP: a.IP, Port: int(a.RTPPort)})
		if err != nil {
			a.Release()
			continue
		}
		sinkRTCP, err = transport.NewUDPTransportMulticast(network, &net.UDPAddr{IP: a.IP, Port: int(a.RTCPort)})
		if err != nil {
			sinkRTP.Close()
			a.Release()
			continue
		}
		return sinkRTP, sinkRTCP, a, nil
	}
	return nil, nil, nil, fmt.Errorf("rtp: failed to bind a multicast socket pair after %d attempts: %w", maxBindRetries, err)
}
