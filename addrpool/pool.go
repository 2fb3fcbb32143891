// Package addrpool implements unicast and multicast IPv4/IPv6 port
// allocation for RTP/RTCP socket pairs: an even RTP port plus the next
// odd RTCP port, refcounted so a released address can be returned to the
// pool without tearing down a slot another stream still holds.
//
// It is modeled on GStreamer's GstRTSPAddressPool
// (gst-rtsp-server/gst/rtsp-server), treated here as a process-wide
// service injected into callers rather than a singleton.
package addrpool

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Flags selects the address family and scope Acquire should allocate
// from.
type Flags uint8

const (
	FlagIPv4 Flags = 1 << iota
	FlagIPv6
	FlagUnicast
	FlagMulticast
	// FlagEvenPort requires the returned RTP port be even; it is implied
	// by every Acquire call in this package since RTCP always follows at
	// port+1, but is kept as an explicit flag to mirror the upstream API
	// and let callers assert it in tests.
	FlagEvenPort
)

var (
	// ErrNoRange indicates no configured range can satisfy the request.
	ErrNoRange = errors.New("addrpool: no matching address range configured")
	// ErrExhausted indicates every port in range is already allocated.
	ErrExhausted = errors.New("addrpool: range exhausted")
	// ErrOddPort is returned when a caller requests a specific,
	// non-even RTP port.
	ErrOddPort = errors.New("addrpool: requested RTP port must be even")
)

// Range is one contiguous inclusive port range configured for a given
// family/scope combination.
type Range struct {
	MinPort uint16
	MaxPort uint16
}

// Address is a leased even/odd RTP+RTCP port pair, refcounted by the
// pool. Callers get one via Acquire and must call Release exactly once
// per Acquire (AddRef/Release pairs thereafter) when they copy it
// around: freeing a returned Address does not release the pool slot
// until every reference that copied it has also released.
type Address struct {
	IP      net.IP
	RTPPort uint16
	RTCPort uint16
	TTL     uint8
	Flags   Flags

	pool *Pool
}

// AddRef increments the reference count on the underlying slot, for
// callers that copy an Address into a new owner (e.g. a second
// StreamTransport referencing the same multicast group).
func (a *Address) AddRef() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.addRef(a.RTPPort)
}

// Release decrements the reference count and, once it reaches zero,
// returns the port pair to the free list.
func (a *Address) Release() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.release(a.RTPPort)
}

// Pool allocates RTP/RTCP port pairs from configured ranges. The zero
// value is not usable; construct with New.
type Pool struct {
	mu sync.Mutex

	unicastV4   Range
	unicastV6   Range
	multicastV4 Range
	multicastV6 Range
	mcastBaseV4 net.IP
	mcastBaseV6 net.IP

	refcount map[uint16]int // RTP port -> refcount, one entry per leased pair
	nextMulticastV4 uint32  // offset into the multicast IPv4 address block
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithUnicastIPv4Range configures the inclusive unicast IPv4 port range.
func WithUnicastIPv4Range(min, max uint16) Option {
	return func(p *Pool) { p.unicastV4 = Range{min, max} }
}

// WithUnicastIPv6Range configures the inclusive unicast IPv6 port range.
func WithUnicastIPv6Range(min, max uint16) Option {
	return func(p *Pool) { p.unicastV6 = Range{min, max} }
}

// WithMulticastIPv4 configures the inclusive multicast IPv4 port range
// and the base address new multicast groups are handed out from.
func WithMulticastIPv4(base net.IP, min, max uint16) Option {
	return func(p *Pool) {
		p.multicastV4 = Range{min, max}
		p.mcastBaseV4 = base.To4()
	}
}

// WithMulticastIPv6 configures the inclusive multicast IPv6 port range
// and the base address new multicast groups are handed out from.
func WithMulticastIPv6(base net.IP, min, max uint16) Option {
	return func(p *Pool) {
		p.multicastV6 = Range{min, max}
		p.mcastBaseV6 = base.To16()
	}
}

// New creates a Pool from the given options.
func New(opts ...Option) *Pool {
	p := &Pool{refcount: make(map[uint16]int)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire leases an even RTP port plus the following odd RTCP port for
// the given family/scope. requestedPort, if non-zero, pins the RTP port
// to that value (and must be even); otherwise the pool scans its
// configured range for the first free even port.
func (p *Pool) Acquire(flags Flags, requestedPort uint16) (*Address, error) {
	if requestedPort != 0 && requestedPort%2 != 0 {
		return nil, ErrOddPort
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rng, ip, err := p.rangeFor(flags)
	if err != nil {
		return nil, err
	}

	var rtp uint16
	if requestedPort != 0 {
		if requestedPort < rng.MinPort || requestedPort+1 > rng.MaxPort {
			return nil, ErrNoRange
		}
		if p.refcount[requestedPort] > 0 {
			return nil, ErrExhausted
		}
		rtp = requestedPort
	} else {
		rtp, err = p.firstFreeEven(rng)
		if err != nil {
			return nil, err
		}
	}

	p.refcount[rtp] = 1
	addr := &Address{
		IP:      ip,
		RTPPort: rtp,
		RTCPort: rtp + 1,
		Flags:   flags,
		pool:    p,
	}
	if flags&FlagMulticast != 0 {
		addr.TTL = 1
	}
	return addr, nil
}

// firstFreeEven must be called with p.mu held.
func (p *Pool) firstFreeEven(rng Range) (uint16, error) {
	start := rng.MinPort
	if start%2 != 0 {
		start++
	}
	for port := start; port+1 <= rng.MaxPort && port >= start; port += 2 {
		if p.refcount[port] == 0 {
			return port, nil
		}
		if port > 0xfffd { // guards against uint16 wraparound at the top of the range
			break
		}
	}
	return 0, ErrExhausted
}

// rangeFor must be called with p.mu held.
func (p *Pool) rangeFor(flags Flags) (Range, net.IP, error) {
	switch {
	case flags&FlagMulticast != 0 && flags&FlagIPv4 != 0:
		if p.multicastV4.MaxPort == 0 {
			return Range{}, nil, ErrNoRange
		}
		ip := p.nextMulticastAddrV4()
		return p.multicastV4, ip, nil
	case flags&FlagMulticast != 0 && flags&FlagIPv6 != 0:
		if p.multicastV6.MaxPort == 0 {
			return Range{}, nil, ErrNoRange
		}
		return p.multicastV6, p.mcastBaseV6, nil
	case flags&FlagIPv4 != 0:
		if p.unicastV4.MaxPort == 0 {
			return Range{}, nil, ErrNoRange
		}
		return p.unicastV4, net.IPv4zero, nil
	case flags&FlagIPv6 != 0:
		if p.unicastV6.MaxPort == 0 {
			return Range{}, nil, ErrNoRange
		}
		return p.unicastV6, net.IPv6unspecified, nil
	default:
		return Range{}, nil, ErrNoRange
	}
}

// nextMulticastAddrV4 hands out the next address in the configured
// multicast block, cycling back to the base after 256 groups. Must be
// called with p.mu held.
func (p *Pool) nextMulticastAddrV4() net.IP {
	if p.mcastBaseV4 == nil {
		return nil
	}
	base := append(net.IP(nil), p.mcastBaseV4...)
	offset := p.nextMulticastV4 % 256
	p.nextMulticastV4++
	base[3] = base[3] + byte(offset)
	return base
}

func (p *Pool) addRef(rtpPort uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refcount[rtpPort]++
}

func (p *Pool) release(rtpPort uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refcount[rtpPort] <= 1 {
		delete(p.refcount, rtpPort)
		return
	}
	p.refcount[rtpPort]--
}

// String renders an Address the way RTSP transport headers report it,
// e.g. "239.1.2.3:5000-5001".
func (a *Address) String() string {
	return fmt.Sprintf("%s:%d-%d", a.IP, a.RTPPort, a.RTCPort)
}
