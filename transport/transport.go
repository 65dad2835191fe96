// Package transport defines the datagram transport contract consumed by
// the gosnet protocol engine.
//
// The engine never touches the network directly; it drives a Socket. The
// production implementation lives in transport/udp, an in-process pair
// with deterministic loss and latency injection in transport/memory, and
// a datagram-over-WebSocket adapter in transport/ws.
package transport

import (
	"errors"

	"github.com/localrivet/gosnet/protocol"
)

// Wait conditions, combined as a bit set.
const (
	WaitNone      uint32 = 0
	WaitSend      uint32 = 1 << 0
	WaitReceive   uint32 = 1 << 1
	WaitInterrupt uint32 = 1 << 2
)

// ErrClosed is returned by socket operations after Close.
var ErrClosed = errors.New("transport closed")

// Socket is a connectionless datagram endpoint. All methods are called
// from the single goroutine servicing a host; implementations may use
// internal goroutines but must present this serialized face.
//
// Send and Receive are non-blocking. Send transmits the buffers as one
// datagram (vectored; the engine passes up to 1+2*32 buffers per call)
// and returns the byte count. Receive returns n == 0 with a nil error
// when no datagram is pending. Wait blocks until one of the requested
// conditions holds or timeoutMS elapses, returning the conditions that
// became ready.
type Socket interface {
	Send(addr protocol.Address, buffers [][]byte) (int, error)
	Receive(buf []byte) (int, protocol.Address, error)
	Wait(conditions uint32, timeoutMS uint32) (uint32, error)
	Addr() protocol.Address
	Close() error
}
