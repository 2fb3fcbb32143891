package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineSetStatePropagatesInOrder(t *testing.T) {
	var order []string
	a := newMockPayloader("pay0", 96)
	b := newMockPayloader("pay1", 97)
	a.transition = func(State) { order = append(order, "a") }
	b.transition = func(State) { order = append(order, "b") }

	p := NewPipeline()
	p.Add(a, b)
	require.NoError(t, p.SetState(StatePaused))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, StatePaused, p.State())

	// Reaching PAUSED posts async-done.
	msg := <-p.Bus()
	assert.Equal(t, MessageAsyncDone, msg.Type)
}

func TestPipelineSetStateAbortsOnElementFailure(t *testing.T) {
	a := newMockPayloader("pay0", 96)
	b := newMockPayloader("pay1", 97)
	a.stateErr = assert.AnError

	p := NewPipeline()
	p.Add(a, b)
	err := p.SetState(StatePaused)
	require.Error(t, err)
	assert.Equal(t, StateNull, p.State())

	msg := <-p.Bus()
	assert.Equal(t, MessageError, msg.Type)
	assert.Error(t, msg.Err)
}

func TestPipelinePostAfterCloseIsNoOp(t *testing.T) {
	p := NewPipeline()
	p.Close()
	p.Post(Message{Type: MessageEOS}) // must not panic
	_, open := <-p.Bus()
	assert.False(t, open)
	p.Close() // idempotent
}

func TestPipelineStateStrings(t *testing.T) {
	assert.Equal(t, "NULL", StateNull.String())
	assert.Equal(t, "PAUSED", StatePaused.String())
	assert.Equal(t, "PLAYING", StatePlaying.String())
	assert.Equal(t, "PREPARED", StatusPrepared.String())
	assert.Equal(t, "ERROR", StatusError.String())
}
