// Package memory provides an in-process implementation of the gosnet
// datagram transport. A Network connects any number of sockets and can
// inject deterministic loss, one-way latency or total blackholes, which
// makes it the harness for protocol-level tests and simulations.
package memory

import (
	"sync"
	"time"

	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
)

// DropFunc decides whether a datagram travelling from one address to
// another is dropped. Datagram bytes are valid only for the duration of
// the call.
type DropFunc func(from, to protocol.Address, data []byte) bool

// Network is an in-process datagram fabric. The zero value is not usable;
// construct with NewNetwork.
type Network struct {
	mu        sync.Mutex
	endpoints map[protocol.Address]*Socket
	nextPort  uint16
	dropFunc  DropFunc
	latency   time.Duration
}

// localhost is the host every memory socket binds to.
const localhost uint32 = 0x7F000001

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[protocol.Address]*Socket),
		nextPort:  49152,
	}
}

// SetDropFunc installs a loss policy applied to every datagram; nil
// removes it.
func (n *Network) SetDropFunc(drop DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropFunc = drop
}

// SetLatency sets the one-way delivery delay for every datagram.
func (n *Network) SetLatency(latency time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = latency
}

// NewSocket attaches a new endpoint to the network.
func (n *Network) NewSocket() *Socket {
	n.mu.Lock()
	defer n.mu.Unlock()

	addr := protocol.Address{Host: localhost, Port: n.nextPort}
	n.nextPort++

	s := &Socket{
		network: n,
		addr:    addr,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	n.endpoints[addr] = s
	return s
}

type datagram struct {
	data []byte
	addr protocol.Address
}

// Socket is one endpoint of a memory network.
type Socket struct {
	network *Network
	addr    protocol.Address

	mu        sync.Mutex
	queue     []datagram
	bytesSent int
	closed    bool

	notify chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// Send delivers the buffers as one datagram to the endpoint bound at
// addr, subject to the network's loss and latency policies.
func (s *Socket) Send(addr protocol.Address, buffers [][]byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, transport.ErrClosed
	}
	s.mu.Unlock()

	length := 0
	for _, buffer := range buffers {
		length += len(buffer)
	}
	data := make([]byte, 0, length)
	for _, buffer := range buffers {
		data = append(data, buffer...)
	}

	s.mu.Lock()
	s.bytesSent += length
	s.mu.Unlock()

	n := s.network
	n.mu.Lock()
	target := n.endpoints[addr]
	drop := n.dropFunc
	latency := n.latency
	n.mu.Unlock()

	if target == nil {
		// nothing is listening; the datagram vanishes like on a real
		// network
		return length, nil
	}

	if drop != nil && drop(s.addr, addr, data) {
		return length, nil
	}

	if latency == 0 {
		target.deliver(datagram{data: data, addr: s.addr})
	} else {
		time.AfterFunc(latency, func() {
			target.deliver(datagram{data: data, addr: s.addr})
		})
	}

	return length, nil
}

func (s *Socket) deliver(dg datagram) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, dg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Receive pops the next queued datagram, returning 0 bytes when the
// queue is empty.
func (s *Socket) Receive(buf []byte) (int, protocol.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, protocol.Address{}, transport.ErrClosed
	}
	if len(s.queue) == 0 {
		return 0, protocol.Address{}, nil
	}

	dg := s.queue[0]
	s.queue = s.queue[1:]

	n := copy(buf, dg.data)
	return n, dg.addr, nil
}

// Wait blocks until a datagram is queued or timeoutMS elapses.
func (s *Socket) Wait(conditions uint32, timeoutMS uint32) (uint32, error) {
	if conditions&transport.WaitReceive == 0 {
		time.Sleep(time.Duration(timeoutMS) * time.Millisecond)
		return transport.WaitNone, nil
	}

	timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timer.Stop()

	for {
		s.mu.Lock()
		pending := len(s.queue) > 0
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return transport.WaitNone, transport.ErrClosed
		}
		if pending {
			return transport.WaitReceive, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
			return transport.WaitNone, transport.ErrClosed
		case <-timer.C:
			return transport.WaitNone, nil
		}
	}
}

// Addr returns the endpoint's address on its network.
func (s *Socket) Addr() protocol.Address { return s.addr }

// BytesSent returns the total datagram bytes this endpoint has put on
// the wire, dropped or not.
func (s *Socket) BytesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// Close detaches the endpoint from its network.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)

		n := s.network
		n.mu.Lock()
		delete(n.endpoints, s.addr)
		n.mu.Unlock()
	})
	return nil
}

var _ transport.Socket = (*Socket)(nil)
