package rtp

// RTXConfig configures retransmission (RFC 4588) for a stream: the
// payload type RTX packets are sent/received on and the time window
// rtprtxsend retains packets for. A zero window disables
// retransmission.
type RTXConfig struct {
	// PayloadType is the PT retransmitted packets carry.
	PayloadType uint8
	// WindowMS is how long sent packets are retained for retransmission.
	WindowMS uint32
}

// RTXSender mirrors rtprtxsend's configuration: it holds a payloader-PT
// -> RTX-PT map and the retention window. It keeps no cache of sent
// packets and does not answer retransmission requests itself.
type RTXSender struct {
	ptMap  map[uint8]uint8 // original PT -> rtx PT
	window uint32
}

// NewRTXSender creates an RTXSender with the given payloader-PT -> RTX-PT
// seed map and retention window in milliseconds.
func NewRTXSender(ptMap map[uint8]uint8, windowMS uint32) *RTXSender {
	m := make(map[uint8]uint8, len(ptMap))
	for k, v := range ptMap {
		m[k] = v
	}
	return &RTXSender{ptMap: m, window: windowMS}
}

// RTXPayloadType returns the RTX PT configured for originalPT, and
// whether one is configured at all.
func (s *RTXSender) RTXPayloadType(originalPT uint8) (uint8, bool) {
	pt, ok := s.ptMap[originalPT]
	return pt, ok
}

// RTXReceiver mirrors rtprtxreceive: it is seeded with the inverse
// RTX-PT -> original-PT map, derived from caps whose encoding-name is
// "RTX" carrying an "apt" (associated payload type) field.
type RTXReceiver struct {
	inversePTMap map[uint8]uint8 // rtx PT -> original PT
}

// NewRTXReceiverFromAPT builds an RTXReceiver from a set of (rtxPT, apt)
// pairs, one per negotiated RTX caps entry.
func NewRTXReceiverFromAPT(pairs map[uint8]uint8) *RTXReceiver {
	m := make(map[uint8]uint8, len(pairs))
	for rtxPT, apt := range pairs {
		m[rtxPT] = apt
	}
	return &RTXReceiver{inversePTMap: m}
}

// OriginalPayloadType returns the original PT a retransmitted packet's
// rtxPT maps back to, and whether rtxPT was recognised.
func (r *RTXReceiver) OriginalPayloadType(rtxPT uint8) (uint8, bool) {
	pt, ok := r.inversePTMap[rtxPT]
	return pt, ok
}
