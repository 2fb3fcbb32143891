package rtp

// FECConfig configures ULPFEC (RFC 5109) for a stream: the payload type
// FEC packets are carried on and the protection percentage.
type FECConfig struct {
	PayloadType uint8
	Percentage  uint8 // 0-100
}

// FECEncoder mirrors rtpulpfecenc: a stateless configuration holder the
// sender consults when deciding how often to emit protection packets.
// Actual FEC packet construction is delegated to the caller's RTP
// session (pion/rtp carries the media payloads this protects); this
// type only owns the negotiated parameters and a simple interval
// counter used to decide when the next FEC packet is due.
type FECEncoder struct {
	cfg      FECConfig
	sent     int
	protect  int
	interval int // packets between FEC packets, derived from Percentage
}

// NewFECEncoder creates an encoder for cfg. A Percentage of 0 disables
// FEC (ShouldProtect always reports false).
func NewFECEncoder(cfg FECConfig) *FECEncoder {
	e := &FECEncoder{cfg: cfg}
	if cfg.Percentage > 0 {
		e.interval = 100 / int(cfg.Percentage)
		if e.interval < 1 {
			e.interval = 1
		}
	}
	return e
}

// ShouldProtect reports whether the packet just sent should be followed
// by a FEC packet, and advances the encoder's internal counter.
func (e *FECEncoder) ShouldProtect() bool {
	if e.cfg.Percentage == 0 {
		return false
	}
	e.sent++
	if e.sent >= e.interval {
		e.sent = 0
		e.protect++
		return true
	}
	return false
}

// PayloadType returns the configured FEC payload type.
func (e *FECEncoder) PayloadType() uint8 { return e.cfg.PayloadType }

// FECDecoder mirrors rtpulpfecdec: configured from caps whose
// encoding-name is "ULPFEC", it only needs to know which PT identifies
// FEC packets so the receive path can route them separately from media.
type FECDecoder struct {
	payloadType uint8
}

// NewFECDecoderFromCaps creates a FECDecoder for the given negotiated
// ULPFEC payload type.
func NewFECDecoderFromCaps(payloadType uint8) *FECDecoder {
	return &FECDecoder{payloadType: payloadType}
}

// IsFEC reports whether pt identifies a ULPFEC packet.
func (d *FECDecoder) IsFEC(pt uint8) bool { return pt == d.payloadType }
