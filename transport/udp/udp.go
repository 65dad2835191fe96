// Package udp provides the production UDP implementation of the gosnet
// datagram transport.
//
// A reader goroutine pulls datagrams off the socket into a bounded
// channel; Receive and Wait present the non-blocking face the protocol
// engine expects. Datagrams arriving while the channel is full are
// dropped, which the protocol tolerates by design.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
)

const (
	// DefaultReceiveBufferSize is the kernel receive buffer requested
	// for new sockets.
	DefaultReceiveBufferSize = 256 * 1024

	// DefaultSendBufferSize is the kernel send buffer requested for new
	// sockets.
	DefaultSendBufferSize = 256 * 1024

	// readQueueLength bounds datagrams buffered between the reader
	// goroutine and the engine.
	readQueueLength = 256

	// maxDatagramSize is the largest datagram the reader accepts.
	maxDatagramSize = protocol.MaximumMTU
)

// ErrNotIPv4 is returned when the socket's local address is not IPv4.
var ErrNotIPv4 = errors.New("socket address is not IPv4")

type datagram struct {
	data []byte
	addr protocol.Address
}

// Socket is a UDP implementation of transport.Socket.
type Socket struct {
	conn *net.UDPConn
	addr protocol.Address

	readCh  chan datagram
	errCh   chan error
	doneCh  chan struct{}
	pending *datagram

	closeOnce sync.Once

	receiveBufferSize int
	sendBufferSize    int

	sendScratch [protocol.MaximumMTU + 64]byte
}

// Option configures a Socket.
type Option func(*Socket)

// WithReceiveBuffer sets the kernel receive buffer size.
func WithReceiveBuffer(size int) Option {
	return func(s *Socket) {
		if size > 0 {
			s.receiveBufferSize = size
		}
	}
}

// WithSendBuffer sets the kernel send buffer size.
func WithSendBuffer(size int) Option {
	return func(s *Socket) {
		if size > 0 {
			s.sendBufferSize = size
		}
	}
}

// NewSocket binds a UDP socket to the given address. Use
// protocol.HostAny/protocol.PortAny to leave the host or port to the
// operating system.
func NewSocket(bind protocol.Address, options ...Option) (*Socket, error) {
	s := &Socket{
		readCh:            make(chan datagram, readQueueLength),
		errCh:             make(chan error, 1),
		doneCh:            make(chan struct{}),
		receiveBufferSize: DefaultReceiveBufferSize,
		sendBufferSize:    DefaultSendBufferSize,
	}
	for _, option := range options {
		option(s)
	}

	conn, err := net.ListenUDP("udp4", bind.UDPAddr())
	if err != nil {
		return nil, fmt.Errorf("bind udp socket: %w", err)
	}
	s.conn = conn

	if err := conn.SetReadBuffer(s.receiveBufferSize); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set receive buffer: %w", err)
	}
	if err := conn.SetWriteBuffer(s.sendBufferSize); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set send buffer: %w", err)
	}

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || local.IP.To4() == nil && !local.IP.IsUnspecified() {
		conn.Close()
		return nil, ErrNotIPv4
	}
	s.addr = protocol.NewAddress(local.IP, uint16(local.Port))

	go s.readLoop()

	return s, nil
}

func (s *Socket) readLoop() {
	for {
		buf := make([]byte, maxDatagramSize)
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.doneCh:
			default:
				select {
				case s.errCh <- err:
				default:
				}
			}
			return
		}

		v4 := remote.IP.To4()
		if v4 == nil {
			continue
		}

		dg := datagram{
			data: buf[:n],
			addr: protocol.NewAddress(v4, uint16(remote.Port)),
		}
		select {
		case s.readCh <- dg:
		case <-s.doneCh:
			return
		default:
			// queue full, drop the datagram
		}
	}
}

// Send transmits the buffers as one datagram to addr.
func (s *Socket) Send(addr protocol.Address, buffers [][]byte) (int, error) {
	select {
	case <-s.doneCh:
		return 0, transport.ErrClosed
	default:
	}

	length := 0
	for _, buffer := range buffers {
		length += copy(s.sendScratch[length:], buffer)
	}

	n, err := s.conn.WriteToUDP(s.sendScratch[:length], addr.UDPAddr())
	if err != nil {
		return 0, fmt.Errorf("send datagram: %w", err)
	}
	return n, nil
}

// Receive copies the next pending datagram into buf, returning 0 bytes
// when none is waiting.
func (s *Socket) Receive(buf []byte) (int, protocol.Address, error) {
	select {
	case err := <-s.errCh:
		return 0, protocol.Address{}, fmt.Errorf("receive datagram: %w", err)
	default:
	}

	var dg datagram
	if s.pending != nil {
		dg = *s.pending
		s.pending = nil
	} else {
		select {
		case dg = <-s.readCh:
		default:
			return 0, protocol.Address{}, nil
		}
	}

	n := copy(buf, dg.data)
	return n, dg.addr, nil
}

// Wait blocks until a datagram is ready to receive or timeoutMS elapses.
func (s *Socket) Wait(conditions uint32, timeoutMS uint32) (uint32, error) {
	if conditions&transport.WaitReceive == 0 {
		time.Sleep(time.Duration(timeoutMS) * time.Millisecond)
		return transport.WaitNone, nil
	}

	if s.pending != nil {
		return transport.WaitReceive, nil
	}

	timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timer.Stop()

	select {
	case dg := <-s.readCh:
		s.pending = &dg
		return transport.WaitReceive, nil
	case err := <-s.errCh:
		return transport.WaitNone, fmt.Errorf("wait on socket: %w", err)
	case <-s.doneCh:
		return transport.WaitNone, transport.ErrClosed
	case <-timer.C:
		return transport.WaitNone, nil
	}
}

// Addr returns the socket's bound address.
func (s *Socket) Addr() protocol.Address { return s.addr }

// Close shuts the socket down and stops the reader goroutine.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.doneCh)
		err = s.conn.Close()
	})
	return err
}

var _ transport.Socket = (*Socket)(nil)
