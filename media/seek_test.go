package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlabs/streamcore/rtp"
)

// mockSource is a seekable pipeline element standing in for a
// demuxer-backed file source.
type mockSource struct {
	mu       sync.Mutex
	name     string
	position int64
	stop     int64
	seeks    [][2]int64
	seekErr  error
}

func (s *mockSource) Name() string         { return s.name }
func (s *mockSource) SetState(State) error { return nil }

func (s *mockSource) Seek(start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seekErr != nil {
		return s.seekErr
	}
	s.seeks = append(s.seeks, [2]int64{start, stop})
	s.position = start
	return nil
}

func (s *mockSource) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *mockSource) RangeStop() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

func seekableMedia(t *testing.T, window int64) (*Media, *mockSource) {
	t.Helper()
	pay := newMockPayloader("pay0", 96)
	src := &mockSource{name: "src0", stop: 60 * int64(time.Second)}
	p := NewPipeline()
	p.Add(src, pay)
	m := New(p, WithSeekableWindow(window))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Prepare(context.Background()))
	// A configured sender stream makes the media seek-complete.
	m.Streams()[0].RTP.ConfigureTCP()
	return m, src
}

func TestSeekRepositionsAndPublishesSegment(t *testing.T) {
	m, src := seekableMedia(t, SeekableAny)

	target := 30 * int64(time.Second)
	require.NoError(t, m.Seek(target, 60*int64(time.Second)))

	src.mu.Lock()
	seeks := src.seeks
	src.mu.Unlock()
	require.Len(t, seeks, 1)
	assert.Equal(t, target, seeks[0][0])

	seg := m.SrcSegment()
	assert.Equal(t, target, seg.Start)
	assert.Equal(t, 60*int64(time.Second), seg.Stop)
}

func TestSeekRequiresConfiguredSenderStream(t *testing.T) {
	pay := newMockPayloader("pay0", 96)
	p := NewPipeline()
	p.Add(&mockSource{name: "src0"}, pay)
	m := New(p, WithSeekableWindow(SeekableAny))
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Prepare(context.Background()))

	err := m.Seek(0, 0)
	assert.ErrorIs(t, err, ErrNotComplete)
}

func TestSeekRejectsLiveMedia(t *testing.T) {
	m, _ := seekableMedia(t, SeekableAny)
	m.SetSeekableWindow(SeekableUnknown)
	assert.ErrorIs(t, m.Seek(0, 0), ErrNotSeekable)
}

func TestSeekRejectsBeyondWindow(t *testing.T) {
	m, _ := seekableMedia(t, 10*int64(time.Second))
	err := m.Seek(30*int64(time.Second), 0)
	assert.ErrorIs(t, err, ErrNotSeekable)
}

func TestSeekRequiresPrepared(t *testing.T) {
	m := New(NewPipeline(), WithSeekableWindow(SeekableAny))
	t.Cleanup(func() { _ = m.Close() })
	assert.ErrorIs(t, m.Seek(0, 0), ErrWrongState)
}

func TestSeekBlocksSendPaths(t *testing.T) {
	m, _ := seekableMedia(t, SeekableAny)
	require.NoError(t, m.Play())

	require.NoError(t, m.Seek(0, 0))
	// After a seek the streams are blocked again until the next PLAY.
	s := m.Streams()[0]
	require.NoError(t, s.RTP.DeliverRTP([]byte("x"), rtp.BlockingInfo{Seqnum: 9}))
	require.Eventually(t, func() bool {
		info, ok := s.BlockingInfo()
		return ok && info.Seqnum == 9
	}, time.Second, 2*time.Millisecond)
}

func TestSeekableRangeFormatting(t *testing.T) {
	m, _ := seekableMedia(t, SeekableAny)
	require.NoError(t, m.Seek(1500*int64(time.Millisecond), 60*int64(time.Second)))
	assert.Equal(t, "npt=1.500000-60.000000", m.SeekableRange())

	m.SetSeekableWindow(SeekableUnknown)
	assert.Equal(t, "npt=now-", m.SeekableRange())

	m.SetSeekableWindow(0)
	assert.Equal(t, "npt=1.500000-", m.SeekableRange())
}

func TestFormatNPTMicrosecondPrecision(t *testing.T) {
	assert.Equal(t, "0.000000", formatNPT(0))
	assert.Equal(t, "0.000001", formatNPT(int64(time.Microsecond)))
	assert.Equal(t, "12.345678", formatNPT(12345678*int64(time.Microsecond)))
	assert.Equal(t, "0.000000", formatNPT(-5))
}

func TestSinkSegmentRoundTrip(t *testing.T) {
	m, _ := seekableMedia(t, SeekableAny)
	seg := Segment{Start: 0, Stop: int64(time.Minute), StartByte: 0, StopByte: 1 << 20}
	m.SetSinkSegment(seg)
	assert.Equal(t, seg, m.SinkSegment())
}
