package rtp

import "sync"

// BlockingInfo records the first observed packet's metadata on a
// send-src once a blocking probe fires, the information a "StreamBlocking"
// element message carries upstream.
type BlockingInfo struct {
	Seqnum      uint16
	RTPTime     uint32
	RunningTime int64
	ClockRate   uint32
}

// BlockingProbeCallback is invoked once, the first time a probe observes
// a buffer, with the metadata captured from it.
type BlockingProbeCallback func(BlockingInfo)

// BlockingProbe models a GStreamer pad probe installed on a send-src: it
// holds (drops nothing) until Release is called, but on its first
// observed packet captures BlockingInfo and fires its callback exactly
// once. A DropProbe variant drops exactly one packet and then
// self-removes, used to flush one stale cached sample.
type BlockingProbe struct {
	mu        sync.Mutex
	blocking  bool
	fired     bool
	dropOnce  bool
	droppedOK bool
	onFirst   BlockingProbeCallback
}

// NewBlockingProbe creates a probe in the blocking state: every packet
// presented to Observe is held (not forwarded) until Release is called.
func NewBlockingProbe(onFirst BlockingProbeCallback) *BlockingProbe {
	return &BlockingProbe{blocking: true, onFirst: onFirst}
}

// NewDropProbe creates a probe that drops only the first packet
// presented to Observe; it then marks itself inactive so the caller can
// remove it, and forwards every later packet.
func NewDropProbe() *BlockingProbe {
	return &BlockingProbe{dropOnce: true}
}

// Observe presents one packet's metadata to the probe. It returns true
// if the caller should forward the packet, false if the probe is
// holding or dropping it.
func (p *BlockingProbe) Observe(info BlockingInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dropOnce {
		if p.droppedOK {
			return true // already consumed its one drop; self-removed logically
		}
		p.droppedOK = true
		return false
	}

	if !p.fired {
		p.fired = true
		if p.onFirst != nil {
			cb := p.onFirst
			p.mu.Unlock()
			cb(info)
			p.mu.Lock()
		}
	}
	return !p.blocking
}

// Removed reports whether a drop probe has already consumed its single
// drop and should be detached by the caller.
func (p *BlockingProbe) Removed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropOnce && p.droppedOK
}

// Release unblocks the probe, letting subsequent Observe calls forward
// packets. It is a no-op on a drop probe.
func (p *BlockingProbe) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocking = false
}

// Blocking reports whether the probe is still holding packets.
func (p *BlockingProbe) Blocking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocking
}
