package media

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Seek repositions a prepared media to the given nanosecond range. At
// least one sender stream must have a configured transport subgraph;
// every send path is blocked while the pipeline flushes so no stream
// prerolls ahead of another's flush. After the seek the published
// source segment is recomputed from the lowest position and highest
// stop across the pipeline's seekable elements.
func (m *Media) Seek(start, stop int64) error {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()

	if st := m.Status(); st != StatusPrepared {
		return fmt.Errorf("%w: seek in %v", ErrWrongState, st)
	}
	m.stateMu.Lock()
	seekable := m.seekable
	m.stateMu.Unlock()
	if seekable < 0 {
		return ErrNotSeekable
	}
	if seekable > 0 && seekable != SeekableAny && start > seekable {
		return fmt.Errorf("%w: %d beyond window %d", ErrNotSeekable, start, seekable)
	}

	complete := false
	for _, s := range m.Streams() {
		if s.IsSender() && s.Configured() {
			complete = true
			break
		}
	}
	if !complete {
		return ErrNotComplete
	}

	// Hold every send path during the flush.
	m.blockAllStreams()

	if err := m.pipeline.Seek(start, stop); err != nil {
		return fmt.Errorf("media: seek: %w", err)
	}

	lowest, highest := m.collectRange()
	m.stateMu.Lock()
	m.srcSegment.Start = lowest
	m.srcSegment.Stop = highest
	m.cond.Broadcast()
	m.stateMu.Unlock()

	m.log.WithFields(logrus.Fields{
		"start": lowest,
		"stop":  highest,
	}).Debug("seek complete")
	return nil
}

// collectRange queries every seekable pipeline element for its
// position and range end, returning the lowest position and highest
// stop observed.
func (m *Media) collectRange() (lowest, highest int64) {
	lowest = math.MaxInt64
	highest = -1
	for _, el := range m.pipeline.Elements() {
		s, ok := el.(Seeker)
		if !ok {
			continue
		}
		if pos := s.Position(); pos < lowest {
			lowest = pos
		}
		if end := s.RangeStop(); end > highest {
			highest = end
		}
	}
	if lowest == math.MaxInt64 {
		lowest = 0
	}
	return lowest, highest
}

// SetSeekableWindow installs the maximum seekable window in
// nanoseconds: SeekableUnknown for live, zero for start-only,
// SeekableAny for unrestricted.
func (m *Media) SetSeekableWindow(ns int64) {
	m.stateMu.Lock()
	m.seekable = ns
	m.stateMu.Unlock()
}

// SrcSegment returns the published source playout range.
func (m *Media) SrcSegment() Segment {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.srcSegment
}

// SetSinkSegment records the byte/time playout range of the media's
// source.
func (m *Media) SetSinkSegment(seg Segment) {
	m.stateMu.Lock()
	m.sinkSegment = seg
	m.stateMu.Unlock()
}

// SinkSegment returns the recorded sink playout range.
func (m *Media) SinkSegment() Segment {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.sinkSegment
}

// SeekableRange renders the media's seekable extent as an RTSP npt
// range: "npt=now-" for live media, "npt=<start>-" for start-only,
// otherwise "npt=<start>-<stop>" in seconds with microsecond
// precision.
func (m *Media) SeekableRange() string {
	m.stateMu.Lock()
	seekable := m.seekable
	seg := m.srcSegment
	m.stateMu.Unlock()

	switch {
	case seekable < 0:
		return "npt=now-"
	case seekable == 0:
		return fmt.Sprintf("npt=%s-", formatNPT(seg.Start))
	default:
		if seg.Stop < 0 {
			return fmt.Sprintf("npt=%s-", formatNPT(seg.Start))
		}
		return fmt.Sprintf("npt=%s-%s", formatNPT(seg.Start), formatNPT(seg.Stop))
	}
}

// formatNPT renders ns as seconds with microsecond precision.
func formatNPT(ns int64) string {
	if ns < 0 {
		ns = 0
	}
	sec := ns / int64(time.Second)
	micro := (ns % int64(time.Second)) / int64(time.Microsecond)
	return fmt.Sprintf("%d.%06d", sec, micro)
}
