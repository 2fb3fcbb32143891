package rtp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSink records pushed samples and simulates per-direction room.
type mockSink struct {
	mu       sync.Mutex
	pushed   []string
	rtcp     []string
	noRoom   bool
	backlogs int
}

func (m *mockSink) Push(data []byte, isRTP bool, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isRTP {
		m.pushed = append(m.pushed, string(data))
	} else {
		m.rtcp = append(m.rtcp, string(data))
	}
	return nil
}

func (m *mockSink) HasRoom(bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.noRoom
}

func (m *mockSink) CheckBacklog() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlogs++
	return false
}

func (m *mockSink) rtpSamples() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pushed...)
}

func (m *mockSink) rtcpSamples() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rtcp...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSenderDistributesToAllSinks(t *testing.T) {
	a, b := &mockSink{}, &mockSink{}
	s := NewSender(0)
	s.Start()
	defer s.Stop()

	s.UpdateSinks([]TCPSink{a, b})
	s.Enqueue(DirectionRTP, []byte("x"), 0)
	s.Enqueue(DirectionRTP, []byte("y"), 90)

	waitFor(t, func() bool { return len(a.rtpSamples()) == 2 && len(b.rtpSamples()) == 2 })
	assert.Equal(t, []string{"x", "y"}, a.rtpSamples())
	assert.Equal(t, []string{"x", "y"}, b.rtpSamples())
}

func TestSenderDeliversRTCPAndRTP(t *testing.T) {
	sink := &mockSink{}
	s := NewSender(0)
	s.Start()
	defer s.Stop()

	s.UpdateSinks([]TCPSink{sink})
	s.Enqueue(DirectionRTCP, []byte("report"), 0)
	s.Enqueue(DirectionRTP, []byte("media"), 0)

	waitFor(t, func() bool { return len(sink.rtpSamples()) == 1 && len(sink.rtcpSamples()) == 1 })
}

func TestSenderDropsSamplesWithoutSinks(t *testing.T) {
	s := NewSender(0)
	s.Start()
	defer s.Stop()

	s.Enqueue(DirectionRTP, []byte("lost"), 0)

	sink := &mockSink{}
	s.UpdateSinks([]TCPSink{sink})
	s.Enqueue(DirectionRTP, []byte("kept"), 0)

	waitFor(t, func() bool { return len(sink.rtpSamples()) == 1 })
	assert.Equal(t, []string{"kept"}, sink.rtpSamples())
}

func TestSenderHoldsSamplesWhileNoRoom(t *testing.T) {
	sink := &mockSink{noRoom: true}
	s := NewSender(0)
	s.Start()
	defer s.Stop()

	s.UpdateSinks([]TCPSink{sink})
	s.Enqueue(DirectionRTP, []byte("held"), 0)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.rtpSamples())

	sink.mu.Lock()
	sink.noRoom = false
	sink.mu.Unlock()
	s.Kick()

	waitFor(t, func() bool { return len(sink.rtpSamples()) == 1 })
}

func TestSenderStopTerminatesLoop(t *testing.T) {
	s := NewSender(0)
	s.Start()
	s.UpdateSinks([]TCPSink{&mockSink{}})
	s.Enqueue(DirectionRTP, []byte("x"), 0)

	donech := make(chan struct{})
	go func() {
		s.Stop()
		close(donech)
	}()
	select {
	case <-donech:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop is idempotent.
	s.Stop()
}

func TestSenderChecksBacklogsAfterDelivery(t *testing.T) {
	sink := &mockSink{}
	s := NewSender(0)
	s.Start()
	defer s.Stop()

	s.UpdateSinks([]TCPSink{sink})
	s.Enqueue(DirectionRTP, []byte("x"), 0)

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.backlogs > 0
	})
	require.NotEmpty(t, sink.rtpSamples())
}
