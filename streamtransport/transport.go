package streamtransport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/distlabs/streamcore/clock"
	"github.com/distlabs/streamcore/crypto"
	"github.com/distlabs/streamcore/rtp"
	"github.com/distlabs/streamcore/rtsp"
)

// SendFunc delivers one buffer into the client's connection on the
// given interleaved channel. Implementations must not block: a full
// connection is signalled through the BackPressureFunc instead.
type SendFunc func(data []byte, channel uint8) error

// SendListFunc is the buffer-list variant of SendFunc.
type SendListFunc func(data [][]byte, channel uint8) error

// BackPressureFunc reports whether the client's connection is full on
// the given interleaved channel.
type BackPressureFunc func(channel uint8) bool

// KeepAliveFunc is invoked whenever the transport observes session
// activity, so the session layer can reset its timeout.
type KeepAliveFunc func()

// Callbacks bundles the connection-side hooks a transport delivers
// through. Zero-value fields are treated as absent.
type Callbacks struct {
	SendRTP      SendFunc
	SendRTCP     SendFunc
	SendRTPList  SendListFunc
	SendRTCPList SendListFunc
	BackPressure BackPressureFunc
	KeepAlive    KeepAliveFunc
}

// Transport is one client's view of a stream: created at SETUP,
// destroyed at TEARDOWN or session timeout. The back-reference to the
// stream is non-owning; the stream outlives none of its transports but
// is torn down by the media, not by its clients.
type Transport struct {
	ID uuid.UUID

	stream *rtp.Stream
	desc   rtsp.TransportDescriptor

	mu           sync.Mutex
	url          string
	cb           Callbacks
	active       bool
	lastActivity time.Time

	timedOut atomic.Bool

	backlog *backlog

	handleID int
	attached bool

	log *logrus.Entry
}

// Transport feeds a per-stream TCP sender thread.
var _ rtp.TCPSink = (*Transport)(nil)

// New creates a transport for stream under the given negotiated
// descriptor.
func New(stream *rtp.Stream, desc rtsp.TransportDescriptor) *Transport {
	id := uuid.New()
	return &Transport{
		ID:      id,
		stream:  stream,
		desc:    desc,
		backlog: newBacklog(),
		log: logrus.WithFields(logrus.Fields{
			"component":    "streamtransport",
			"transport_id": id.String(),
		}),
	}
}

// Stream returns the stream this transport delivers for.
func (t *Transport) Stream() *rtp.Stream { return t.stream }

// Descriptor returns the negotiated transport descriptor.
func (t *Transport) Descriptor() rtsp.TransportDescriptor { return t.desc }

// SetCallbacks installs the connection-side hooks.
func (t *Transport) SetCallbacks(cb Callbacks) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

// SetURL records the per-transport control URL.
func (t *Transport) SetURL(url string) {
	t.mu.Lock()
	t.url = url
	t.mu.Unlock()
}

// URL returns the per-transport control URL.
func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// SetActive switches delivery on or off. While inactive, pushed
// samples are dropped rather than queued; a PAUSEd client must not
// accumulate a backlog it will never drain.
func (t *Transport) SetActive(active bool) {
	t.mu.Lock()
	t.active = active
	t.mu.Unlock()
	if !active {
		t.backlog.clear()
	}
}

// Active reports whether delivery is switched on.
func (t *Transport) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Touch records session activity: an RTSP keep-alive request or the
// receipt of any RTCP packet both count.
func (t *Transport) Touch() {
	t.mu.Lock()
	t.lastActivity = crypto.GetDefaultTimeProvider().Now()
	t.mu.Unlock()
	t.timedOut.Store(false)

	t.mu.Lock()
	ka := t.cb.KeepAlive
	t.mu.Unlock()
	if ka != nil {
		ka()
	}
}

// LastActivity returns the time of the most recent Touch.
func (t *Transport) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// SetTimedOut marks the transport expired; the session layer tears it
// down on its next sweep.
func (t *Transport) SetTimedOut(v bool) { t.timedOut.Store(v) }

// TimedOut reports whether the transport has been marked expired.
func (t *Transport) TimedOut() bool { return t.timedOut.Load() }

// channelFor maps a direction onto the negotiated interleaved channel
// pair: the min channel carries RTP, the max carries RTCP.
func (t *Transport) channelFor(isRTP bool) uint8 {
	if isRTP {
		return uint8(t.desc.Interleaved.Min)
	}
	return uint8(t.desc.Interleaved.Max)
}

// BackPressured reports whether the client's connection is full on the
// channel carrying the given direction.
func (t *Transport) BackPressured(isRTP bool) bool {
	t.mu.Lock()
	bp := t.cb.BackPressure
	t.mu.Unlock()
	if bp == nil {
		return false
	}
	return bp(t.channelFor(isRTP))
}

// HasRoom reports whether a new sample for the given direction could
// be delivered or queued without overflowing: the connection is clear,
// or the backlog still has capacity.
func (t *Transport) HasRoom(isRTP bool) bool {
	if !t.BackPressured(isRTP) {
		return true
	}
	return t.backlog.len() <= backlogMaxItems
}

// Push delivers one sample, directly when the connection has room and
// the backlog is empty, otherwise through the backlog. ErrOverflow
// means the transport has fallen too far behind and must be removed.
func (t *Transport) Push(data []byte, isRTP bool, ts int64) error {
	return t.push(Item{Data: data, IsRTP: isRTP, Timestamp: ts})
}

// PushList is the buffer-list variant of Push; the whole list is one
// backlog item so it is delivered atomically.
func (t *Transport) PushList(list [][]byte, isRTP bool, ts int64) error {
	return t.push(Item{List: list, IsRTP: isRTP, Timestamp: ts})
}

func (t *Transport) push(it Item) error {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if !active {
		return nil
	}

	// Keep delivery ordered: once anything is queued, everything later
	// must queue behind it even if the connection has drained.
	if t.backlog.len() > 0 || t.BackPressured(it.IsRTP) {
		if err := t.backlog.push(it); err != nil {
			t.log.WithField("backlog", t.backlog.len()).Warn("transport backlog overflow")
			return err
		}
		return nil
	}
	return t.send(it)
}

// send delivers it through the matching callback.
func (t *Transport) send(it Item) error {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()

	ch := t.channelFor(it.IsRTP)
	switch {
	case it.List != nil:
		fn := cb.SendRTPList
		if !it.IsRTP {
			fn = cb.SendRTCPList
		}
		if fn == nil {
			return nil
		}
		return fn(it.List, ch)
	default:
		fn := cb.SendRTP
		if !it.IsRTP {
			fn = cb.SendRTCP
		}
		if fn == nil {
			return nil
		}
		return fn(it.Data, ch)
	}
}

// CheckBacklog drains at most one queued item if the connection is no
// longer back-pressured for the head item's direction; the item stays
// queued otherwise. It returns true when an item was sent.
func (t *Transport) CheckBacklog() bool {
	isRTP, ok := t.backlog.peekIsRTP()
	if !ok {
		return false
	}
	if t.BackPressured(isRTP) {
		return false
	}
	it, ok := t.backlog.pop()
	if !ok {
		return false
	}
	if err := t.send(it); err != nil {
		t.log.WithError(err).Debug("backlog drain send failed")
	}
	return true
}

// MessageSent is the connection's notification that a previously
// written message left the socket; it triggers a single pop-and-send
// attempt.
func (t *Transport) MessageSent() {
	t.CheckBacklog()
}

// BacklogLen returns the number of queued items.
func (t *Transport) BacklogLen() int { return t.backlog.len() }

// FirstRTPTimestamp returns the 90 kHz timestamp of the oldest queued
// RTP item, or clock.NoTimestamp when none is queued.
func (t *Transport) FirstRTPTimestamp() int64 { return t.backlog.oldestRTPTimestamp() }

// Flush drops every queued item, used at TEARDOWN.
func (t *Transport) Flush() { t.backlog.clear() }

// Attach registers the transport with its stream's fan-out so pushed
// stream samples reach this client; the stream's transport-list cookie
// is bumped.
func (t *Transport) Attach() {
	t.mu.Lock()
	if t.attached {
		t.mu.Unlock()
		return
	}
	t.attached = true
	t.mu.Unlock()

	handle := &rtp.TransportHandle{
		SendRTP: func(d []byte) error { return t.Push(d, true, clock.NoTimestamp) },
		SendRTPList: func(ds [][]byte) error {
			return t.PushList(ds, true, clock.NoTimestamp)
		},
		SendRTCP: func(d []byte) error { return t.Push(d, false, clock.NoTimestamp) },
	}
	id := t.stream.AttachTransport(handle)
	t.mu.Lock()
	t.handleID = id
	t.mu.Unlock()
}

// Detach removes the transport from its stream's fan-out and drops any
// queued items.
func (t *Transport) Detach() {
	t.mu.Lock()
	if !t.attached {
		t.mu.Unlock()
		return
	}
	t.attached = false
	id := t.handleID
	t.mu.Unlock()

	t.stream.DetachTransport(id)
	t.backlog.clear()
}
