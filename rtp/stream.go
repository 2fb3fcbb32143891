package rtp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Caps is the negotiated payload-type description an RTPStream consults
// to route an outgoing/incoming packet, equivalent to GstCaps keyed by
// payload type.
type Caps struct {
	EncodingName string
	ClockRate    uint32
	Extra        map[string]string // e.g. "apt" for RTX, sprop-parameter-sets, etc.
}

// sinkFn is one leg of a FUNNEL: a function a transport calls to push a
// received sample into the stream's single consuming payloader/depayloader.
type sinkFn func(data []byte) error

// tee fans one outgoing sample out to every currently attached sink,
// collapsing GStreamer's dynamic tee element into a slice under a mutex.
type tee struct {
	mu    sync.RWMutex
	sinks map[int]sinkFn
	next  int
}

func newTee() *tee { return &tee{sinks: make(map[int]sinkFn)} }

func (t *tee) attach(fn sinkFn) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.sinks[id] = fn
	return id
}

func (t *tee) detach(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sinks, id)
}

func (t *tee) push(data []byte) {
	t.mu.RLock()
	fns := make([]sinkFn, 0, len(t.sinks))
	for _, fn := range t.sinks {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		_ = fn(data)
	}
}

// funnel fans multiple transports' incoming samples into one consumer,
// the receive-side mirror of tee.
type funnel struct {
	consume sinkFn
}

func newFunnel(consume sinkFn) *funnel { return &funnel{consume: consume} }

func (f *funnel) deliver(data []byte) error {
	if f.consume == nil {
		return nil
	}
	return f.consume(data)
}

// directionPair groups the RTP-data and RTCP TEE/FUNNEL pair, one per
// direction per role.
type directionPair struct {
	rtpTee     *tee
	rtcpTee    *tee
	rtpFunnel  *funnel
	rtcpFunnel *funnel
}

// BlockingState holds a stream's two blocking-probe identifiers, one
// for RTP and one for RTCP.
type BlockingState struct {
	RTP  *BlockingProbe
	RTCP *BlockingProbe
}

// StreamConfig carries construction-time parameters for a Stream.
type StreamConfig struct {
	Index           int
	Role            Role
	AllowedProfiles Profile
	AllowedLower    LowerTransport
	EnableRTCP      bool
	RateControl     bool
	RTX             *RTXConfig
	FEC             *FECConfig
}

// Stream is one elementary stream's RTP/RTCP plumbing, independent of which transport(s) currently carry it.
// Modeled on GstRTSPStream (gst-rtsp-server/gst/rtsp-server/rtsp-stream.c):
// a payloader-side TEE fanning out to N transports on the send path, a
// FUNNEL fanning N transports into one depayloader on the receive path.
type Stream struct {
	Index int
	Role  Role

	AllowedProfiles Profile
	AllowedLower    LowerTransport

	mu                 sync.RWMutex
	configuredLower    LowerTransport // which transport subgraphs have been built
	socketsUnicastV4   *socketPair
	socketsUnicastV6   *socketPair
	socketsMulticastV4 *socketPair
	socketsMulticastV6 *socketPair

	data directionPair // RTP-data TEE/FUNNEL
	ctrl directionPair // RTCP TEE/FUNNEL (re-using directionPair's rtpTee/rtpFunnel as the single ctrl channel)

	srtpEncoder *Encoder
	srtpDecoder *Decoder
	keyCache    *KeyCache

	transports   map[int]*TransportHandle // see streamtransport package; kept as opaque attachment IDs here
	transportSeq int
	cookie       uint32 // monotonically increasing, bumped on every add/remove

	caps map[uint8]Caps

	blocking BlockingState

	rateControl bool
	rtx         *RTXSender
	rtxRecv     *RTXReceiver
	fecEnc      *FECEncoder
	fecDec      *FECDecoder
	enableRTCP  bool

	ssrc     uint32
	closed   atomic.Bool
	log      *logrus.Entry
	rtcpSess *Session
}

// TransportHandle is a minimal attachment handle the rtp package needs (full
// lifecycle lives in the streamtransport package); it exists here only
// so Stream can track attached transports without importing
// streamtransport, which itself imports Stream.
type TransportHandle struct {
	ID          int
	SendRTP     func(data []byte) error
	SendRTPList func(datas [][]byte) error
	SendRTCP    func(data []byte) error
}

// NewStream constructs a Stream in the UNCONFIGURED state: no socket
// subgraph has been built yet, so no lower transport reports as
// configured.
func NewStream(cfg StreamConfig) *Stream {
	s := &Stream{
		Index:           cfg.Index,
		Role:            cfg.Role,
		AllowedProfiles: cfg.AllowedProfiles,
		AllowedLower:    cfg.AllowedLower,
		data:            directionPair{rtpTee: newTee(), rtcpTee: newTee()},
		ctrl:            directionPair{rtpTee: newTee(), rtcpTee: newTee()},
		transports:      make(map[int]*TransportHandle),
		caps:            make(map[uint8]Caps),
		rateControl:     cfg.RateControl,
		enableRTCP:      cfg.EnableRTCP,
		keyCache:        NewKeyCache(),
		log:             logrus.WithField("component", "rtp.stream"),
	}
	if cfg.RTX != nil && cfg.RTX.WindowMS > 0 {
		s.rtx = NewRTXSender(map[uint8]uint8{}, cfg.RTX.WindowMS)
	}
	if cfg.FEC != nil {
		fe := *cfg.FEC
		s.fecEnc = NewFECEncoder(fe)
	}
	if cfg.EnableRTCP {
		s.rtcpSess = NewSession(cfg.AllowedProfiles&(ProfileAVPF|ProfileSAVPF) != 0)
	}
	return s
}

// SetCaps installs the caps description for payload type pt.
func (s *Stream) SetCaps(pt uint8, caps Caps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps[pt] = caps
}

// CapsFor returns the caps installed for pt.
func (s *Stream) CapsFor(pt uint8) (Caps, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caps[pt]
	return c, ok
}

// ConfigureUnicast builds (or reuses) the unicast socket subgraph for
// family/ip, marking LowerTransportUDP as configured.
func (s *Stream) ConfigureUnicast(rtpT, rtcpT Transport, ip net.IP, rtpPort, rtcpPort uint16, ipv6 bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := &socketPair{rtp: rtpT, rtcp: rtcpT, addr: ip, rtpPort: rtpPort, rtcpPort: rtcpPort}
	if ipv6 {
		s.socketsUnicastV6 = sp
	} else {
		s.socketsUnicastV4 = sp
	}
	s.configuredLower |= LowerTransportUDP
}

// ConfigureMulticast mirrors ConfigureUnicast for the multicast socket
// subgraph, marking LowerTransportUDPMulticast as configured.
func (s *Stream) ConfigureMulticast(rtpT, rtcpT Transport, ip net.IP, rtpPort, rtcpPort uint16, ipv6 bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := &socketPair{rtp: rtpT, rtcp: rtcpT, addr: ip, rtpPort: rtpPort, rtcpPort: rtcpPort, multicast: true}
	if ipv6 {
		s.socketsMulticastV6 = sp
	} else {
		s.socketsMulticastV4 = sp
	}
	s.configuredLower |= LowerTransportUDPMulticast
}

// ConfigureTCP marks LowerTransportTCP as configured; interleaved TCP
// carries no dedicated socket subgraph of its own (it multiplexes over
// the RTSP control connection), so this only flips the bit the
// configured_protocols invariant checks.
func (s *Stream) ConfigureTCP() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuredLower |= LowerTransportTCP
}

// MulticastAddr reports the multicast group and RTP/RTCP port pair
// configured for the given family, if any.
func (s *Stream) MulticastAddr(ipv6 bool) (ip net.IP, rtpPort, rtcpPort uint16, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.socketsMulticastV4
	if ipv6 {
		sp = s.socketsMulticastV6
	}
	if sp == nil {
		return nil, 0, 0, false
	}
	return sp.addr, sp.rtpPort, sp.rtcpPort, true
}

// UnicastAddr reports the server unicast address and RTP/RTCP port pair
// configured for the given family, if any.
func (s *Stream) UnicastAddr(ipv6 bool) (ip net.IP, rtpPort, rtcpPort uint16, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.socketsUnicastV4
	if ipv6 {
		sp = s.socketsUnicastV6
	}
	if sp == nil {
		return nil, 0, 0, false
	}
	return sp.addr, sp.rtpPort, sp.rtcpPort, true
}

// IsConfigured reports whether lower has had its transport subgraph
// constructed.
func (s *Stream) IsConfigured(lower LowerTransport) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configuredLower&lower != 0
}

// EnableSRTP installs cache as the stream's per-SSRC key cache and
// wires an encoder and/or decoder according to role.
func (s *Stream) EnableSRTP(cache *KeyCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyCache = cache
	switch s.Role {
	case RoleSource:
		s.srtpEncoder = NewEncoder(cache)
	case RoleSink:
		s.srtpDecoder = NewDecoder(cache)
	}
}

// KeyCache returns the stream's SRTP key cache.
func (s *Stream) KeyCache() *KeyCache { return s.keyCache }

// Encoder returns the stream's SRTP encoder, or nil if SRTP has not
// been enabled or this stream is not a source.
func (s *Stream) Encoder() *Encoder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srtpEncoder
}

// Decoder returns the stream's SRTP decoder, or nil if SRTP has not
// been enabled or this stream is not a sink.
func (s *Stream) Decoder() *Decoder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srtpDecoder
}

// AttachTransport registers t under a fresh ID, bumps the transport-list
// cookie by one, and returns
// the ID the caller uses with DetachTransport.
func (s *Stream) AttachTransport(t *TransportHandle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.transportSeq
	s.transportSeq++
	t.ID = id
	s.transports[id] = t
	s.cookie++
	return id
}

// DetachTransport removes the transport registered under id, if any,
// bumping the cookie.
func (s *Stream) DetachTransport(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transports[id]; ok {
		delete(s.transports, id)
		s.cookie++
	}
}

// Cookie returns the current transport-list cookie, for cached snapshot
// invalidation: a snapshot is stale once the cookie it was taken
// under no longer matches.
func (s *Stream) Cookie() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie
}

// Snapshot is an immutable view of the attached transports tagged with
// the cookie under which it was taken.
type Snapshot struct {
	Cookie     uint32
	Transports []*TransportHandle
}

// TransportSnapshot takes a coherent snapshot of the currently attached
// transports.
func (s *Stream) TransportSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TransportHandle, 0, len(s.transports))
	for _, t := range s.transports {
		out = append(out, t)
	}
	return Snapshot{Cookie: s.cookie, Transports: out}
}

// Valid reports whether snap is still current against the stream's
// live cookie.
func (snap Snapshot) Valid(s *Stream) bool { return snap.Cookie == s.Cookie() }

// SendRTP fans an RTP payload out to every attached transport (the TEE
// half of the send path) and updates RTCP sender stats. It does not
// apply SRTP itself.
func (s *Stream) SendRTP(ssrc uint32, seq uint16, payload []byte) error {
	s.mu.RLock()
	rtcpSess := s.rtcpSess
	snapshot := make([]*TransportHandle, 0, len(s.transports))
	for _, t := range s.transports {
		snapshot = append(snapshot, t)
	}
	s.mu.RUnlock()

	// Callers on an RTP/SAVP stream build the SRTP ciphertext themselves
	// via Stream.Encoder().EncryptRTP (it needs the parsed rtp.Header,
	// which SendRTP's plain []byte contract does not carry) and pass the
	// resulting ciphertext in as payload; SendRTP itself only fans the
	// bytes out to attached transports.
	out := payload

	var firstErr error
	for _, t := range snapshot {
		if t.SendRTP == nil {
			continue
		}
		if err := t.SendRTP(out); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rtcpSess != nil {
		rtcpSess.OnSenderPacket(ssrc, seq, len(payload))
	}
	return firstErr
}

// DeliverRTP presents one RTP sample to the stream's blocking probe
// gate, which holds playback between DESCRIBE and PLAY; a sample the
// probe lets through is pushed to every sink attached to the RTP data
// TEE.
func (s *Stream) DeliverRTP(data []byte, info BlockingInfo) error {
	s.mu.RLock()
	probe := s.blocking.RTP
	s.mu.RUnlock()

	if probe != nil && !probe.Observe(info) {
		return nil // held or dropped
	}
	s.data.rtpTee.push(data)
	return nil
}

// ArmBlockingProbe installs a fresh RTP blocking probe, holding delivery
// until Release is called.
func (s *Stream) ArmBlockingProbe(onFirst BlockingProbeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking.RTP = NewBlockingProbe(onFirst)
}

// ReleaseBlockingProbe releases the currently armed RTP blocking probe,
// if any.
func (s *Stream) ReleaseBlockingProbe() {
	s.mu.RLock()
	probe := s.blocking.RTP
	s.mu.RUnlock()
	if probe != nil {
		probe.Release()
	}
}

// Close marks the stream closed; idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range []*socketPair{s.socketsUnicastV4, s.socketsUnicastV6, s.socketsMulticastV4, s.socketsMulticastV6} {
		if sp == nil {
			continue
		}
		if sp.rtp != nil {
			sp.rtp.Close()
		}
		if sp.rtcp != nil {
			sp.rtcp.Close()
		}
	}
	if s.keyCache != nil {
		s.keyCache.Wipe()
	}
	return nil
}
