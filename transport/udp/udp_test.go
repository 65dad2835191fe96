package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
)

func newLoopbackPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()

	bind := protocol.Address{Host: 0x7F000001, Port: protocol.PortAny}

	a, err := NewSocket(bind)
	require.NoError(t, err)
	b, err := NewSocket(bind)
	require.NoError(t, err)

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSocketAssignsAddress(t *testing.T) {
	a, b := newLoopbackPair(t)

	assert.NotZero(t, a.Addr().Port)
	assert.NotZero(t, b.Addr().Port)
	assert.NotEqual(t, a.Addr().Port, b.Addr().Port)
	assert.Equal(t, uint32(0x7F000001), a.Addr().Host)
}

func TestVectoredSendAndReceive(t *testing.T) {
	a, b := newLoopbackPair(t)

	n, err := a.Send(b.Addr(), [][]byte{[]byte("one|"), []byte("two|"), []byte("three")})
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	cond, err := b.Wait(transport.WaitReceive, 2000)
	require.NoError(t, err)
	require.Equal(t, transport.WaitReceive, cond)

	buf := make([]byte, 64)
	m, from, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "one|two|three", string(buf[:m]))
	assert.Equal(t, a.Addr(), from)
}

func TestReceiveWouldBlock(t *testing.T) {
	a, _ := newLoopbackPair(t)

	buf := make([]byte, 64)
	n, _, err := a.Receive(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWaitTimesOut(t *testing.T) {
	a, _ := newLoopbackPair(t)

	start := time.Now()
	cond, err := a.Wait(transport.WaitReceive, 50)
	require.NoError(t, err)
	assert.Equal(t, transport.WaitNone, cond)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitThenReceiveConsumesOnce(t *testing.T) {
	a, b := newLoopbackPair(t)

	_, err := a.Send(b.Addr(), [][]byte{[]byte("x")})
	require.NoError(t, err)

	cond, err := b.Wait(transport.WaitReceive, 2000)
	require.NoError(t, err)
	require.Equal(t, transport.WaitReceive, cond)

	// the datagram held by Wait is handed to the next Receive
	buf := make([]byte, 8)
	n, _, err := b.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, _, err = b.Receive(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	bind := protocol.Address{Host: 0x7F000001, Port: protocol.PortAny}
	s, err := NewSocket(bind)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Send(s.Addr(), [][]byte{[]byte("x")})
	assert.ErrorIs(t, err, transport.ErrClosed)
}
