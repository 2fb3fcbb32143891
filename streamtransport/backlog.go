package streamtransport

import (
	"errors"
	"sync"

	"github.com/distlabs/streamcore/clock"
)

// Backlog sizing: a transport whose queue spans more than ten seconds
// of RTP time while holding more than a hundred items has fallen too
// far behind and is dropped rather than allowed to grow without bound.
const (
	backlogMaxTicks = 10 * clock.TickRate
	backlogMaxItems = 100
)

// ErrOverflow is returned by a push that exceeded the backlog's
// duration and length caps; the caller drops the whole transport.
var ErrOverflow = errors.New("streamtransport: backlog overflow")

// Item is one queued delivery: either a single buffer or a buffer
// list, tagged with the channel it belongs to and, for RTP items, the
// 90 kHz timestamp used to measure queue duration.
type Item struct {
	Data      []byte
	List      [][]byte
	IsRTP     bool
	Timestamp int64 // 90 kHz ticks, clock.NoTimestamp when absent
}

// backlog is the transport's interleaved-TCP FIFO. Its mutex is
// deliberately not the transport lock: push and pop run under this
// lock only, so backlog traffic never contends with descriptor or
// callback mutation.
type backlog struct {
	mu        sync.Mutex
	items     []Item
	oldestRTP int64 // timestamp of the oldest queued RTP item
}

func newBacklog() *backlog {
	return &backlog{oldestRTP: clock.NoTimestamp}
}

// push appends it and applies the overflow policy: once a prior RTP
// timestamp is known, an RTP push whose distance from the oldest
// queued RTP item exceeds ten seconds while the queue holds more than
// a hundred items reports ErrOverflow. The first RTP push records its
// timestamp as the oldest.
func (b *backlog) push(it Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, it)
	if !it.IsRTP || it.Timestamp == clock.NoTimestamp {
		return nil
	}
	if b.oldestRTP == clock.NoTimestamp {
		b.oldestRTP = it.Timestamp
		return nil
	}
	if it.Timestamp-b.oldestRTP > backlogMaxTicks && len(b.items) > backlogMaxItems {
		return ErrOverflow
	}
	return nil
}

// pop removes and returns the head, rescanning from the front for the
// first remaining RTP entry to re-pin the queue duration.
func (b *backlog) pop() (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return Item{}, false
	}
	head := b.items[0]
	b.items[0] = Item{}
	b.items = b.items[1:]

	b.oldestRTP = clock.NoTimestamp
	for _, it := range b.items {
		if it.IsRTP && it.Timestamp != clock.NoTimestamp {
			b.oldestRTP = it.Timestamp
			break
		}
	}
	return head, true
}

// peekIsRTP reports the channel of the head item without removing it.
func (b *backlog) peekIsRTP() (bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return false, false
	}
	return b.items[0].IsRTP, true
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// oldestRTPTimestamp returns the 90 kHz timestamp pinning the queue
// duration, or clock.NoTimestamp when no RTP item is queued.
func (b *backlog) oldestRTPTimestamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldestRTP
}

// clear drops every queued item.
func (b *backlog) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.oldestRTP = clock.NoTimestamp
}
