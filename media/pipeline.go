package media

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/distlabs/streamcore/rtp"
)

// State is a pipeline element's processing state, ordered so that
// upward and downward transitions can be compared numerically.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MessageType tags a bus message.
type MessageType int

const (
	// MessageAsyncDone is posted once a PAUSED (or higher) transition
	// has fully prerolled.
	MessageAsyncDone MessageType = iota
	// MessageError carries a fatal pipeline error.
	MessageError
	// MessageEOS signals the end of the stream.
	MessageEOS
	// MessageStreamBlocking reports a stream's blocking probe observing
	// its first packet.
	MessageStreamBlocking
)

// Message is one pipeline bus message.
type Message struct {
	Type        MessageType
	Err         error
	StreamIndex int
	Blocking    rtp.BlockingInfo
}

// Element is one node of the media graph. Names follow the pay%d /
// depay%d / dynpay%d convention the media scans for.
type Element interface {
	Name() string
	SetState(State) error
}

// Payloader is a send-side element producing RTP payloads for one
// elementary stream.
type Payloader interface {
	Element
	PayloadType() uint8
	ClockRate() uint32
	// Seqnum returns the sequence number of the most recently produced
	// packet.
	Seqnum() uint16
	// SetSeqnumOffset rebases the sequence counter, used to keep the
	// outgoing numbering continuous across a reset suspend.
	SetSeqnumOffset(uint16)
	// SetONVIFTimestamps switches the payloader to absolute
	// ONVIF-compliant timestamping when rate control is disabled.
	SetONVIFTimestamps(bool)
	// CapsReady reports whether output caps have been negotiated; a
	// sender stream prerolls once they have.
	CapsReady() bool
}

// Depayloader is a receive-side element consuming RTP payloads for one
// elementary stream.
type Depayloader interface {
	Element
	PayloadType() uint8
	// Complete reports whether the receiver is fully configured; a
	// receiver stream prerolls once it is.
	Complete() bool
}

// Seeker is implemented by elements that support time-based seeking,
// such as a demuxer-backed source.
type Seeker interface {
	// Seek repositions playback to the given nanosecond range,
	// flushing queued data.
	Seek(start, stop int64) error
	// Position returns the element's current playback position.
	Position() int64
	// RangeStop returns the end of the element's playable range.
	RangeStop() int64
}

// Pipeline is the collapsed element graph: an ordered element list, a
// current state, and a bus carrying asynchronous messages to the
// media's control-plane loop.
type Pipeline struct {
	mu       sync.Mutex
	state    State
	elements []Element
	bus      chan Message
	closed   bool

	log *logrus.Entry
}

// NewPipeline creates an empty pipeline in StateNull.
func NewPipeline() *Pipeline {
	return &Pipeline{
		bus: make(chan Message, 32),
		log: logrus.WithField("component", "media.pipeline"),
	}
}

// Add appends elements to the graph.
func (p *Pipeline) Add(els ...Element) {
	p.mu.Lock()
	p.elements = append(p.elements, els...)
	p.mu.Unlock()
}

// Elements returns a snapshot of the element list.
func (p *Pipeline) Elements() []Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Element(nil), p.elements...)
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState drives every element to st in list order. Reaching
// StatePaused or StatePlaying posts MessageAsyncDone; an element
// failure posts MessageError and aborts the transition.
func (p *Pipeline) SetState(st State) error {
	p.mu.Lock()
	els := append([]Element(nil), p.elements...)
	p.mu.Unlock()

	for _, el := range els {
		if err := el.SetState(st); err != nil {
			err = fmt.Errorf("element %s to %v: %w", el.Name(), st, err)
			p.Post(Message{Type: MessageError, Err: err})
			return err
		}
	}

	p.mu.Lock()
	p.state = st
	p.mu.Unlock()

	if st >= StatePaused {
		p.Post(Message{Type: MessageAsyncDone})
	}
	return nil
}

// Seek dispatches a flushing seek to every Seeker element and reports
// the first error.
func (p *Pipeline) Seek(start, stop int64) error {
	for _, el := range p.Elements() {
		if s, ok := el.(Seeker); ok {
			if err := s.Seek(start, stop); err != nil {
				return err
			}
		}
	}
	return nil
}

// Post delivers msg to the bus. A full bus drops the message rather
// than blocking the data path.
func (p *Pipeline) Post(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.bus <- msg:
	default:
		p.log.WithField("type", msg.Type).Warn("bus full, dropping message")
	}
}

// Bus returns the message channel the media's control loop consumes.
func (p *Pipeline) Bus() <-chan Message { return p.bus }

// Close shuts the bus down; Post becomes a no-op.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.bus)
}
