package media

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/distlabs/streamcore/rtp"
)

// Status is the media's lifecycle state.
type Status int

const (
	StatusUnprepared Status = iota
	StatusPreparing
	StatusPrepared
	StatusSuspended
	StatusUnpreparing
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnprepared:
		return "UNPREPARED"
	case StatusPreparing:
		return "PREPARING"
	case StatusPrepared:
		return "PREPARED"
	case StatusSuspended:
		return "SUSPENDED"
	case StatusUnpreparing:
		return "UNPREPARING"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SuspendMode selects what a PAUSE request does to the pipeline.
type SuspendMode int

const (
	// SuspendModeNone leaves the pipeline playing.
	SuspendModeNone SuspendMode = iota
	// SuspendModePause sets the pipeline to PAUSED.
	SuspendModePause
	// SuspendModeReset tears the pipeline down to NULL, preserving
	// payloader sequence numbering for the resume.
	SuspendModeReset
)

// TransportMode distinguishes a media serving clients (PLAY) from one
// recording what clients send (RECORD).
type TransportMode int

const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// SeekableUnknown and SeekableAny bound the seekable window: negative
// means unknown or live, zero means start-only, positive is the
// maximum seekable window in nanoseconds.
const (
	SeekableUnknown int64 = -1
	SeekableAny     int64 = math.MaxInt64
)

// prerollTimeout bounds how long Prepare waits for the pipeline to
// preroll before declaring the media broken.
const prerollTimeout = 20 * time.Second

// Segment describes a playout range in both time and bytes.
type Segment struct {
	Start     int64 // ns
	Stop      int64 // ns
	StartByte int64
	StopByte  int64
}

// Media is one served media: a pipeline, its streams, and the status
// machine RTSP methods drive. The global lock serialises whole RTSP
// methods against each other on a shared media; the state lock guards
// the status fields and is the one the status condition waits on.
type Media struct {
	ID uuid.UUID

	// globalMu is taken for the duration of an RTSP method so
	// concurrent clients of a shared media see serialised mutations.
	globalMu sync.Mutex

	stateMu sync.Mutex
	cond    *sync.Cond
	status  Status
	lastErr error

	asyncDone bool

	pipeline *Pipeline
	streams  []*Stream

	profiles      rtp.Profile
	protocols     rtp.LowerTransport
	suspendMode   SuspendMode
	transportMode TransportMode
	rateControl   bool

	seekable    int64
	sinkSegment Segment
	srcSegment  Segment

	useCount    int
	shared      bool
	reusable    bool
	eosShutdown bool

	savedSeqnums map[int]uint16

	watchDone chan struct{}
	log       *logrus.Entry
}

// Option configures a Media at construction.
type Option func(*Media)

// WithShared marks the media shareable between client sessions.
func WithShared() Option { return func(m *Media) { m.shared = true } }

// WithReusable keeps the media alive after its last client releases it.
func WithReusable() Option { return func(m *Media) { m.reusable = true } }

// WithEOSShutdown sends EOS through the pipeline before unpreparing.
func WithEOSShutdown() Option { return func(m *Media) { m.eosShutdown = true } }

// WithProfiles sets the profile set new streams inherit.
func WithProfiles(p rtp.Profile) Option { return func(m *Media) { m.profiles = p } }

// WithProtocols sets the lower-transport set new streams inherit.
func WithProtocols(lt rtp.LowerTransport) Option { return func(m *Media) { m.protocols = lt } }

// WithSuspendMode selects the suspend behaviour.
func WithSuspendMode(mode SuspendMode) Option { return func(m *Media) { m.suspendMode = mode } }

// WithTransportMode selects PLAY or RECORD.
func WithTransportMode(mode TransportMode) Option { return func(m *Media) { m.transportMode = mode } }

// WithSeekableWindow declares the maximum seekable window in
// nanoseconds; SeekableUnknown marks the media live.
func WithSeekableWindow(ns int64) Option { return func(m *Media) { m.seekable = ns } }

// New creates a media around pipeline and starts its bus watch.
func New(pipeline *Pipeline, opts ...Option) *Media {
	id := uuid.New()
	m := &Media{
		ID:           id,
		pipeline:     pipeline,
		profiles:     rtp.ProfileAVP,
		protocols:    rtp.LowerTransportUDP | rtp.LowerTransportUDPMulticast | rtp.LowerTransportTCP,
		seekable:     SeekableUnknown,
		savedSeqnums: make(map[int]uint16),
		watchDone:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "media",
			"media_id":  id.String(),
		}),
	}
	m.cond = sync.NewCond(&m.stateMu)
	for _, opt := range opts {
		opt(m)
	}
	go m.watchBus()
	return m
}

// watchBus is the control-plane loop: it translates pipeline bus
// messages into status transitions and condition broadcasts.
func (m *Media) watchBus() {
	defer close(m.watchDone)
	for msg := range m.pipeline.Bus() {
		switch msg.Type {
		case MessageAsyncDone:
			m.stateMu.Lock()
			m.asyncDone = true
			m.cond.Broadcast()
			m.stateMu.Unlock()
		case MessageError:
			m.log.WithError(msg.Err).Error("internal data stream error")
			m.stateMu.Lock()
			m.status = StatusError
			m.lastErr = fmt.Errorf("%w: %v", ErrPipelineError, msg.Err)
			m.cond.Broadcast()
			m.stateMu.Unlock()
		case MessageEOS:
			m.log.Info("end of stream")
			m.stateMu.Lock()
			m.cond.Broadcast()
			m.stateMu.Unlock()
		case MessageStreamBlocking:
			if s := m.streamByIndex(msg.StreamIndex); s != nil {
				s.setBlockingInfo(msg.Blocking)
			}
			m.stateMu.Lock()
			m.cond.Broadcast()
			m.stateMu.Unlock()
		}
	}
}

// Status returns the media's current status.
func (m *Media) Status() Status {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.status
}

// Streams returns the media's streams in index order.
func (m *Media) Streams() []*Stream {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]*Stream(nil), m.streams...)
}

// Stream returns the stream with the given index, or nil.
func (m *Media) Stream(index int) *Stream {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.streamByIndexLocked(index)
}

func (m *Media) streamByIndex(index int) *Stream {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.streamByIndexLocked(index)
}

func (m *Media) streamByIndexLocked(index int) *Stream {
	for _, s := range m.streams {
		if s.Index == index {
			return s
		}
	}
	return nil
}

// Shared reports whether the media may be attached to several client
// sessions.
func (m *Media) Shared() bool { return m.shared }

// Reusable reports whether the media survives its last client.
func (m *Media) Reusable() bool { return m.reusable }

// Use records one more active client.
func (m *Media) Use() {
	m.stateMu.Lock()
	m.useCount++
	m.stateMu.Unlock()
}

// Unuse releases one active client and returns how many remain.
func (m *Media) Unuse() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.useCount > 0 {
		m.useCount--
	}
	return m.useCount
}

// Prepare collects streams from the pipeline, installs blocking
// probes, sets the pipeline to PAUSED, and waits for preroll. On
// success the media is StatusPrepared; a preroll timeout or pipeline
// error leaves it in StatusError.
func (m *Media) Prepare(ctx context.Context) error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	m.stateMu.Lock()
	switch m.status {
	case StatusPrepared:
		m.stateMu.Unlock()
		return nil
	case StatusUnprepared:
	default:
		st := m.status
		m.stateMu.Unlock()
		return fmt.Errorf("%w: prepare in %v", ErrWrongState, st)
	}
	m.status = StatusPreparing
	m.asyncDone = false
	m.cond.Broadcast()
	m.stateMu.Unlock()

	if err := m.collectStreams(); err != nil {
		m.fail(err)
		return err
	}
	m.blockAllStreams()

	if err := m.pipeline.SetState(StatePaused); err != nil {
		m.fail(err)
		return err
	}
	if err := m.waitPreroll(ctx); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.status = StatusPrepared
	m.cond.Broadcast()
	m.stateMu.Unlock()
	m.log.WithField("streams", len(m.Streams())).Info("media prepared")
	return nil
}

// collectStreams scans the pipeline for pay%d / depay%d / dynpay%d
// elements and creates one stream per static element. Dynamic
// payloaders register for HandlePadAdded instead.
func (m *Media) collectStreams() error {
	var streams []*Stream
	for _, el := range m.pipeline.Elements() {
		kind, idx, ok := parseStreamName(el.Name())
		if !ok {
			continue
		}
		switch kind {
		case "pay":
			pay, ok := el.(Payloader)
			if !ok {
				return fmt.Errorf("%w: element %s is not a payloader", ErrNoStreams, el.Name())
			}
			streams = append(streams, newSenderStream(idx, pay, m.profiles, m.protocols, false))
		case "depay":
			depay, ok := el.(Depayloader)
			if !ok {
				return fmt.Errorf("%w: element %s is not a depayloader", ErrNoStreams, el.Name())
			}
			streams = append(streams, newReceiverStream(idx, depay, m.profiles, m.protocols))
		case "dynpay":
			// Stream appears later via HandlePadAdded.
		}
	}
	hasDynamic := false
	for _, el := range m.pipeline.Elements() {
		if kind, _, ok := parseStreamName(el.Name()); ok && kind == "dynpay" {
			hasDynamic = true
		}
	}
	if len(streams) == 0 && !hasDynamic {
		return ErrNoStreams
	}

	m.stateMu.Lock()
	m.streams = streams
	m.stateMu.Unlock()
	return nil
}

// HandlePadAdded creates a stream for a dynamic payloader's
// just-appeared pad. Valid while preparing or prepared.
func (m *Media) HandlePadAdded(index int, pay Payloader) (*Stream, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	switch m.status {
	case StatusPreparing, StatusPrepared:
	default:
		return nil, fmt.Errorf("%w: pad-added in %v", ErrWrongState, m.status)
	}
	if m.streamByIndexLocked(index) != nil {
		return nil, fmt.Errorf("media: stream %d already exists", index)
	}
	s := newSenderStream(index, pay, m.profiles, m.protocols, true)
	m.armBlockingProbe(s)
	m.streams = append(m.streams, s)
	m.cond.Broadcast()
	return s, nil
}

// HandlePadRemoved tears down the stream a dynamic payloader's pad
// backed.
func (m *Media) HandlePadRemoved(index int) {
	m.stateMu.Lock()
	var removed *Stream
	for i, s := range m.streams {
		if s.Index == index && s.dynamic {
			removed = s
			m.streams = append(m.streams[:i], m.streams[i+1:]...)
			break
		}
	}
	m.cond.Broadcast()
	m.stateMu.Unlock()
	if removed != nil {
		removed.close()
	}
}

// blockAllStreams arms a blocking probe on every stream so nothing
// flows to clients before PLAY.
func (m *Media) blockAllStreams() {
	for _, s := range m.Streams() {
		m.armBlockingProbe(s)
	}
}

func (m *Media) armBlockingProbe(s *Stream) {
	idx := s.Index
	s.RTP.ArmBlockingProbe(func(info rtp.BlockingInfo) {
		m.pipeline.Post(Message{Type: MessageStreamBlocking, StreamIndex: idx, Blocking: info})
	})
}

// waitPreroll blocks until every stream reports ready and the pipeline
// has posted async-done, the media errors, or the 20 second budget
// expires. The state lock is released while waiting.
func (m *Media) waitPreroll(ctx context.Context) error {
	deadline := time.Now().Add(prerollTimeout)
	timer := time.AfterFunc(prerollTimeout, func() {
		m.stateMu.Lock()
		m.cond.Broadcast()
		m.stateMu.Unlock()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		m.stateMu.Lock()
		m.cond.Broadcast()
		m.stateMu.Unlock()
	})
	defer stop()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	for {
		if m.status == StatusError {
			return m.lastErr
		}
		if m.asyncDone && m.allStreamsReadyLocked() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			m.status = StatusError
			m.lastErr = err
			m.cond.Broadcast()
			return err
		}
		if !time.Now().Before(deadline) {
			m.status = StatusError
			m.lastErr = ErrPrerollTimeout
			m.cond.Broadcast()
			return ErrPrerollTimeout
		}
		m.cond.Wait()
	}
}

func (m *Media) allStreamsReadyLocked() bool {
	if len(m.streams) == 0 {
		return false
	}
	for _, s := range m.streams {
		if !s.Ready() {
			return false
		}
	}
	return true
}

// fail moves the media to StatusError recording err.
func (m *Media) fail(err error) {
	m.stateMu.Lock()
	m.status = StatusError
	m.lastErr = err
	m.cond.Broadcast()
	m.stateMu.Unlock()
}

// Play releases every blocking probe and sets the pipeline playing.
func (m *Media) Play() error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if st := m.Status(); st != StatusPrepared {
		return fmt.Errorf("%w: play in %v", ErrWrongState, st)
	}
	if err := m.pipeline.SetState(StatePlaying); err != nil {
		return err
	}
	for _, s := range m.Streams() {
		s.RTP.ReleaseBlockingProbe()
	}
	return nil
}

// Pause applies the configured suspend mode.
func (m *Media) Pause() error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return m.suspend()
}

// suspend applies the configured suspend mode; callers hold globalMu.
func (m *Media) suspend() error {
	if st := m.Status(); st != StatusPrepared {
		return fmt.Errorf("%w: suspend in %v", ErrWrongState, st)
	}

	switch m.suspendMode {
	case SuspendModeNone:
		// Keeps playing; clients just stop being served by their
		// transports.
	case SuspendModePause:
		if err := m.pipeline.SetState(StatePaused); err != nil {
			return err
		}
	case SuspendModeReset:
		m.stateMu.Lock()
		for _, s := range m.streams {
			if s.payloader != nil {
				m.savedSeqnums[s.Index] = s.payloader.Seqnum()
			}
		}
		m.stateMu.Unlock()
		if err := m.pipeline.SetState(StateNull); err != nil {
			return err
		}
	}

	m.stateMu.Lock()
	m.status = StatusSuspended
	m.cond.Broadcast()
	m.stateMu.Unlock()
	return nil
}

// Unsuspend resumes a suspended media. For SuspendModeReset this is a
// full re-preroll with the payloaders' sequence numbering rebased so
// the first packet after resume continues where the last left off.
func (m *Media) Unsuspend(ctx context.Context) error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if st := m.Status(); st != StatusSuspended {
		return fmt.Errorf("%w: unsuspend in %v", ErrWrongState, st)
	}

	switch m.suspendMode {
	case SuspendModeNone:
	case SuspendModePause:
		if err := m.pipeline.SetState(StatePlaying); err != nil {
			return err
		}
	case SuspendModeReset:
		m.stateMu.Lock()
		for _, s := range m.streams {
			if s.payloader != nil {
				if seq, ok := m.savedSeqnums[s.Index]; ok {
					s.payloader.SetSeqnumOffset(seq + 1)
				}
			}
		}
		m.asyncDone = false
		m.stateMu.Unlock()
		m.blockAllStreams()
		if err := m.pipeline.SetState(StatePaused); err != nil {
			m.fail(err)
			return err
		}
		if err := m.waitPreroll(ctx); err != nil {
			return err
		}
	}

	m.stateMu.Lock()
	m.status = StatusPrepared
	m.cond.Broadcast()
	m.stateMu.Unlock()
	return nil
}

// Unprepare tears the media down: senders stop and are joined, the
// pipeline goes to NULL, and the status returns to StatusUnprepared.
func (m *Media) Unprepare() error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	m.stateMu.Lock()
	switch m.status {
	case StatusUnprepared:
		m.stateMu.Unlock()
		return nil
	case StatusPrepared, StatusSuspended, StatusError:
	default:
		st := m.status
		m.stateMu.Unlock()
		return fmt.Errorf("%w: unprepare in %v", ErrWrongState, st)
	}
	m.status = StatusUnpreparing
	streams := append([]*Stream(nil), m.streams...)
	m.streams = nil
	m.cond.Broadcast()
	m.stateMu.Unlock()

	if m.eosShutdown {
		m.pipeline.Post(Message{Type: MessageEOS})
	}
	for _, s := range streams {
		s.close()
	}
	err := m.pipeline.SetState(StateNull)

	m.stateMu.Lock()
	m.status = StatusUnprepared
	m.cond.Broadcast()
	m.stateMu.Unlock()
	return err
}

// Close unprepares the media and shuts the bus watch down.
func (m *Media) Close() error {
	err := m.Unprepare()
	m.pipeline.Close()
	<-m.watchDone
	return err
}

// SetRateControl toggles clock-synchronised delivery. Disabling it
// switches every payloader to ONVIF-compliant absolute timestamps.
func (m *Media) SetRateControl(enabled bool) {
	m.stateMu.Lock()
	m.rateControl = enabled
	streams := append([]*Stream(nil), m.streams...)
	m.stateMu.Unlock()
	for _, s := range streams {
		if s.payloader != nil {
			s.payloader.SetONVIFTimestamps(!enabled)
		}
	}
}

// RateControl reports whether clock-synchronised delivery is on.
func (m *Media) RateControl() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.rateControl
}
