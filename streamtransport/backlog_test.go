package streamtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlabs/streamcore/clock"
)

// ticksPerMS is one millisecond in 90 kHz ticks.
const ticksPerMS = clock.TickRate / 1000

func TestBacklogOverflowAfterDurationAndLengthCaps(t *testing.T) {
	b := newBacklog()

	// 101 RTP items spaced 101 ms apart: the 101st spans 10.1 s across
	// 101 queued items, tripping both caps at once.
	for i := 0; i < 100; i++ {
		err := b.push(Item{Data: []byte{byte(i)}, IsRTP: true, Timestamp: int64(i) * 101 * ticksPerMS})
		require.NoError(t, err, "push %d", i)
	}
	err := b.push(Item{Data: []byte{0}, IsRTP: true, Timestamp: 100 * 101 * ticksPerMS})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestBacklogLengthAloneDoesNotOverflow(t *testing.T) {
	b := newBacklog()

	// Tightly spaced items: far more than 100 queued, but the queue
	// spans well under ten seconds.
	for i := 0; i < 500; i++ {
		err := b.push(Item{IsRTP: true, Timestamp: int64(i) * ticksPerMS})
		require.NoError(t, err)
	}
	assert.Equal(t, 500, b.len())
}

func TestBacklogDurationAloneDoesNotOverflow(t *testing.T) {
	b := newBacklog()

	require.NoError(t, b.push(Item{IsRTP: true, Timestamp: 0}))
	// A huge timestamp jump with only two items queued.
	err := b.push(Item{IsRTP: true, Timestamp: 60 * clock.TickRate})
	assert.NoError(t, err)
}

func TestBacklogRTCPItemsIgnoreDurationAccounting(t *testing.T) {
	b := newBacklog()

	for i := 0; i < 200; i++ {
		require.NoError(t, b.push(Item{IsRTP: false, Timestamp: clock.NoTimestamp}))
	}
	assert.Equal(t, clock.NoTimestamp, b.oldestRTPTimestamp())

	require.NoError(t, b.push(Item{IsRTP: true, Timestamp: 12345}))
	assert.Equal(t, int64(12345), b.oldestRTPTimestamp())
}

func TestBacklogPopRepinsOldestRTP(t *testing.T) {
	b := newBacklog()

	require.NoError(t, b.push(Item{Data: []byte("a"), IsRTP: true, Timestamp: 100}))
	require.NoError(t, b.push(Item{Data: []byte("b"), IsRTP: false, Timestamp: clock.NoTimestamp}))
	require.NoError(t, b.push(Item{Data: []byte("c"), IsRTP: true, Timestamp: 300}))

	it, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), it.Data)
	// The RTCP item at the head does not pin duration; the next RTP
	// item does.
	assert.Equal(t, int64(300), b.oldestRTPTimestamp())

	b.pop()
	b.pop()
	_, ok = b.pop()
	assert.False(t, ok)
	assert.Equal(t, clock.NoTimestamp, b.oldestRTPTimestamp())
}

func TestBacklogPreservesFIFOOrder(t *testing.T) {
	b := newBacklog()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.push(Item{Data: []byte{byte(i)}, IsRTP: true, Timestamp: int64(i)}))
	}
	for i := 0; i < 10; i++ {
		it, ok := b.pop()
		require.True(t, ok)
		assert.Equal(t, byte(i), it.Data[0])
	}
}
