// Package byteadapter implements a growable FIFO of byte buffers with the
// map/flush/take contract used throughout this module's parsers.
//
// It mirrors GStreamer's GstAdapter, the component the MPEG-PS demux and
// PES filter are built around in the upstream implementation: callers
// Append data as it arrives, Map a contiguous view of the next N bytes
// without copying more than necessary, and Flush the bytes they have
// consumed. The adapter also tracks an optional absolute "source offset"
// so parsers can report positions that survive across Append/Flush calls.
package byteadapter

import "errors"

// ErrNotEnoughData indicates the adapter has fewer bytes available than
// requested by Map or Take.
var ErrNotEnoughData = errors.New("byteadapter: not enough data available")

// Adapter is a FIFO of byte buffers. The zero value is ready to use.
//
// Adapter is not safe for concurrent use; callers serialize access the
// same way the PES filter and PS demux serialize access to their
// adapters under their own component lock.
type Adapter struct {
	bufs   [][]byte // queued buffers, oldest first
	off    int      // read offset into bufs[0]
	size   int      // total bytes available across all buffers
	mapped []byte   // last buffer handed out by Map, for the double-map fast path
	mapN   int      // size requested by the last Map call

	sourceOffset    uint64 // absolute offset of the first available byte
	haveSourceOffset bool
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Append adds buf to the end of the FIFO. Append is O(1) amortised: it
// retains a reference to buf rather than copying it.
func (a *Adapter) Append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	a.bufs = append(a.bufs, buf)
	a.size += len(buf)
	a.mapped = nil
}

// Available returns the total number of bytes currently queued.
func (a *Adapter) Available() int {
	return a.size
}

// SetSourceOffset sets the absolute byte offset of the first available
// byte. Parsers call this once, at stream start or after a seek; Flush
// advances it automatically from then on.
func (a *Adapter) SetSourceOffset(offset uint64) {
	a.sourceOffset = offset
	a.haveSourceOffset = true
}

// SourceOffset reports the absolute offset of the first available byte,
// and whether one has ever been set.
func (a *Adapter) SourceOffset() (uint64, bool) {
	return a.sourceOffset, a.haveSourceOffset
}

// Map returns a contiguous slice of exactly n bytes without consuming
// them. The caller must later call Flush (or Unmap) with a size at most
// n. Callers may Map again with a smaller or equal size before flushing,
// as required for the filter's "double-map" probing of a header they
// have not yet decided how much of to consume; Map with a strictly
// larger size after a previous Map but before a Flush is only valid if
// the adapter was not mutated by an Append in between.
func (a *Adapter) Map(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n > a.size {
		return nil, ErrNotEnoughData
	}
	if a.mapped != nil && n <= len(a.mapped) {
		return a.mapped[:n], nil
	}

	if len(a.bufs) > 0 && len(a.bufs[0])-a.off >= n {
		out := a.bufs[0][a.off : a.off+n]
		a.mapped = a.bufs[0][a.off:]
		a.mapN = n
		return out, nil
	}

	out := make([]byte, n)
	copied := 0
	off := a.off
	for _, buf := range a.bufs {
		remain := len(buf) - off
		if remain <= 0 {
			off = 0
			continue
		}
		c := copy(out[copied:], buf[off:])
		copied += c
		off = 0
		if copied >= n {
			break
		}
	}
	a.mapped = out
	a.mapN = n
	return out, nil
}

// Unmap releases the view returned by Map without consuming any bytes.
// It only drops the adapter's cached view, so the next Map builds a
// fresh one; Map does not pin resources beyond the returned slice.
func (a *Adapter) Unmap() {
	a.mapped = nil
}

// Flush advances the read cursor by n bytes, discarding them, and bumps
// the reported source offset by n. It does not copy data: whole buffers
// are dropped from the front of the queue and only a partially consumed
// buffer's offset is adjusted.
func (a *Adapter) Flush(n int) error {
	if n > a.size {
		return ErrNotEnoughData
	}
	a.mapped = nil
	remaining := n
	for remaining > 0 && len(a.bufs) > 0 {
		buf := a.bufs[0]
		avail := len(buf) - a.off
		if remaining < avail {
			a.off += remaining
			remaining = 0
			break
		}
		remaining -= avail
		a.bufs = a.bufs[1:]
		a.off = 0
	}
	a.size -= n
	if a.haveSourceOffset {
		a.sourceOffset += uint64(n)
	}
	return nil
}

// Take detaches exactly n bytes as a new, owned buffer and flushes them
// from the adapter in one step.
func (a *Adapter) Take(n int) ([]byte, error) {
	buf, err := a.Map(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	if err := a.Flush(n); err != nil {
		return nil, err
	}
	return out, nil
}

// Clear drops all queued data without affecting the source offset
// bookkeeping, used when a parser resyncs or seeks and wants to discard
// partially buffered input.
func (a *Adapter) Clear() {
	a.bufs = nil
	a.off = 0
	a.size = 0
	a.mapped = nil
}
