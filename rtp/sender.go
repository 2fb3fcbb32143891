package rtp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// TCPSink is one interleaved-TCP delivery target for the sender
// thread, implemented by streamtransport.Transport. Push may report
// overflow, at which point the caller removes the sink; HasRoom is the
// cheap pre-check the sender uses to decide whether to pop a sample at
// all; CheckBacklog drains at most one queued item.
type TCPSink interface {
	Push(data []byte, isRTP bool, ts int64) error
	HasRoom(isRTP bool) bool
	CheckBacklog() bool
}

// sample is one appsink-delivered buffer awaiting TCP distribution.
type sample struct {
	data []byte
	ts   int64 // 90 kHz ticks, clock.NoTimestamp when absent
}

// Sender is a stream's dedicated TCP distribution thread. Appsink
// callbacks enqueue samples per direction; the loop pops one sample at
// a time, RTCP before RTP, and pushes it to every attached sink, each
// of which paces from its own backlog so a slow client never stalls a
// fast one.
type Sender struct {
	mu   sync.Mutex
	cond *sync.Cond

	continueSending bool
	cookie          uint32 // bumped on every sink-list update
	seenCookie      uint32

	// Pending samples indexed by Direction; DirectionRTCP drains first.
	pending [2][]sample
	sinks   []TCPSink

	done chan struct{}
	log  *logrus.Entry
}

// NewSender creates a Sender; Start launches its loop.
func NewSender(streamIndex int) *Sender {
	s := &Sender{
		done: make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "rtp.sender",
			"stream":    streamIndex,
		}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the sender loop. It may be called once.
func (s *Sender) Start() {
	s.mu.Lock()
	s.continueSending = true
	s.mu.Unlock()
	go s.loop()
}

// Enqueue hands the sender one sample from an appsink's new-sample
// callback. Samples arriving while no TCP client is attached are
// dropped rather than queued.
func (s *Sender) Enqueue(dir Direction, data []byte, ts int64) {
	s.mu.Lock()
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return
	}
	s.pending[dir] = append(s.pending[dir], sample{data: data, ts: ts})
	s.mu.Unlock()
	s.cond.Signal()
}

// UpdateSinks replaces the cached sink list. The cookie bump wakes the
// loop even if it is mid-wait with no pending samples, so a freshly
// attached client starts receiving without waiting for the next
// enqueue.
func (s *Sender) UpdateSinks(sinks []TCPSink) {
	s.mu.Lock()
	s.sinks = append([]TCPSink(nil), sinks...)
	if len(s.sinks) == 0 {
		s.pending[DirectionRTP] = nil
		s.pending[DirectionRTCP] = nil
	}
	s.cookie++
	s.mu.Unlock()
	s.cond.Signal()
}

// Kick wakes the loop so it can re-check sink room, used from a
// connection's message-sent notification after backpressure clears.
func (s *Sender) Kick() {
	s.cond.Signal()
}

// Stop terminates the loop and waits for it to exit. Pending samples
// are discarded. Safe to call more than once.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.continueSending {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.continueSending = false
	s.mu.Unlock()
	s.cond.Broadcast()
	<-s.done
}

func (s *Sender) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.continueSending && s.cookie == s.seenCookie && !s.actionableLocked() {
			s.cond.Wait()
		}
		if !s.continueSending {
			s.mu.Unlock()
			return
		}
		s.seenCookie = s.cookie
		sinks := append([]TCPSink(nil), s.sinks...)

		// RTCP drains before RTP. A sample is popped only when some
		// sink could take it; otherwise it stays queued until a
		// backlog drain or sink change frees room and re-signals.
		var popped [2]*sample
		for _, dir := range []Direction{DirectionRTCP, DirectionRTP} {
			if len(s.pending[dir]) == 0 {
				continue
			}
			if !anyHasRoom(sinks, dir == DirectionRTP) {
				continue
			}
			smp := s.pending[dir][0]
			s.pending[dir] = s.pending[dir][1:]
			popped[dir] = &smp
		}
		s.mu.Unlock()

		// Push outside the send lock: sink pushes take the transport
		// backlog lock, which must never nest inside this one.
		for _, dir := range []Direction{DirectionRTCP, DirectionRTP} {
			smp := popped[dir]
			if smp == nil {
				continue
			}
			isRTP := dir == DirectionRTP
			for _, sink := range sinks {
				if err := sink.Push(smp.data, isRTP, smp.ts); err != nil {
					s.log.WithError(err).Warn("sink overflow, awaiting removal")
				}
			}
		}
		for _, sink := range sinks {
			sink.CheckBacklog()
		}
	}
}

// actionableLocked reports whether any pending sample could make
// progress right now. Callers hold s.mu.
func (s *Sender) actionableLocked() bool {
	for _, dir := range []Direction{DirectionRTCP, DirectionRTP} {
		if len(s.pending[dir]) > 0 && anyHasRoom(s.sinks, dir == DirectionRTP) {
			return true
		}
	}
	return false
}

// anyHasRoom reports whether at least one sink can take a sample for
// the given direction.
func anyHasRoom(sinks []TCPSink, isRTP bool) bool {
	for _, sink := range sinks {
		if sink.HasRoom(isRTP) {
			return true
		}
	}
	return false
}
