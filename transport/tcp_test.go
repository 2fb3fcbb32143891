package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair connects two TCPTransports over a loopback listener.
func tcpPair(t *testing.T) (*TCPTransport, *TCPTransport) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		accepted <- result{c, err}
	}()

	client, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	res := <-accepted
	require.NoError(t, res.err)

	a := NewTCPTransport(client)
	b := NewTCPTransport(res.conn)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestTCPTransport_FramedSendReceive(t *testing.T) {
	a, b := tcpPair(t)

	var mu sync.Mutex
	var frames [][]byte
	done := make(chan struct{}, 4)
	b.SetReadCallback(func(data []byte, _ net.Addr) {
		mu.Lock()
		frames = append(frames, append([]byte(nil), data...))
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, a.Send([]byte("one"), nil))
	require.NoError(t, a.Send([]byte("second-frame"), nil))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("one"), frames[0])
	assert.Equal(t, []byte("second-frame"), frames[1])
}

func TestTCPTransport_RejectsOversizedFrame(t *testing.T) {
	a, _ := tcpPair(t)
	err := a.Send(make([]byte, MaxDatagramSize+1), nil)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestTCPTransport_SendAfterCloseFails(t *testing.T) {
	a, _ := tcpPair(t)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send([]byte("x"), nil), ErrClosed)
	// Close is idempotent.
	assert.NoError(t, a.Close())
}

func TestTCPTransport_Addresses(t *testing.T) {
	a, b := tcpPair(t)
	assert.Equal(t, a.LocalAddr().String(), b.RemoteAddr().String())
	assert.Equal(t, b.LocalAddr().String(), a.RemoteAddr().String())
}
