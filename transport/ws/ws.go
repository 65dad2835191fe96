// Package ws tunnels gosnet datagrams over a WebSocket connection,
// letting a host run its protocol through environments where raw UDP is
// unavailable (browsers, restrictive proxies).
//
// Each datagram travels as one binary WebSocket message prefixed with
// the 6-byte destination (or source) address, so the protocol engine's
// addressing is preserved end to end. The far side of the tunnel is
// expected to unwrap the prefix and forward the datagram, typically a
// relay colocated with a UDP host.
package ws

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
)

// addressPrefixSize is the length of the address header on every tunneled
// datagram: 4 bytes of IPv4 host, 2 bytes of port.
const addressPrefixSize = 6

// readQueueLength bounds datagrams buffered between the reader goroutine
// and the engine.
const readQueueLength = 256

type datagram struct {
	data []byte
	addr protocol.Address
}

// Socket tunnels datagrams over one WebSocket connection.
type Socket struct {
	conn     net.Conn
	isClient bool
	addr     protocol.Address

	readCh  chan datagram
	errCh   chan error
	doneCh  chan struct{}
	pending *datagram

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial connects to a WebSocket relay at url ("ws://host:port/path") and
// returns a socket tunneling through it. localAddr is the address the
// socket reports as its own; the relay assigns the real one.
func Dial(ctx context.Context, url string, localAddr protocol.Address) (*Socket, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial websocket relay: %w", err)
	}
	return newSocket(conn, true, localAddr), nil
}

// NewServerSocket wraps an already-upgraded server-side WebSocket
// connection (see ws.UpgradeHTTP) as a datagram socket.
func NewServerSocket(conn net.Conn, localAddr protocol.Address) *Socket {
	return newSocket(conn, false, localAddr)
}

func newSocket(conn net.Conn, isClient bool, localAddr protocol.Address) *Socket {
	s := &Socket{
		conn:     conn,
		isClient: isClient,
		addr:     localAddr,
		readCh:   make(chan datagram, readQueueLength),
		errCh:    make(chan error, 1),
		doneCh:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Socket) readLoop() {
	for {
		var (
			msg []byte
			err error
		)
		if s.isClient {
			msg, err = wsutil.ReadServerBinary(s.conn)
		} else {
			msg, err = wsutil.ReadClientBinary(s.conn)
		}
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

		if len(msg) < addressPrefixSize {
			continue
		}

		dg := datagram{
			addr: protocol.Address{
				Host: binary.BigEndian.Uint32(msg[0:4]),
				Port: binary.BigEndian.Uint16(msg[4:6]),
			},
			data: msg[addressPrefixSize:],
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

// Send wraps the buffers in one address-prefixed binary message.
func (s *Socket) Send(addr protocol.Address, buffers [][]byte) (int, error) {
	select {
	case <-s.doneCh:
		return 0, transport.ErrClosed
	default:
	}

	length := addressPrefixSize
	for _, buffer := range buffers {
		length += len(buffer)
	}

	msg := make([]byte, addressPrefixSize, length)
	binary.BigEndian.PutUint32(msg[0:4], addr.Host)
	binary.BigEndian.PutUint16(msg[4:6], addr.Port)
	for _, buffer := range buffers {
		msg = append(msg, buffer...)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	if s.isClient {
		err = wsutil.WriteClientBinary(s.conn, msg)
	} else {
		err = wsutil.WriteServerBinary(s.conn, msg)
	}
	if err != nil {
		return 0, fmt.Errorf("send tunneled datagram: %w", err)
	}

	return length - addressPrefixSize, nil
}

// Receive copies the next pending datagram into buf, returning 0 bytes
// when none is waiting.
func (s *Socket) Receive(buf []byte) (int, protocol.Address, error) {
	select {
	case err := <-s.errCh:
		return 0, protocol.Address{}, fmt.Errorf("receive tunneled datagram: %w", err)
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

// Wait blocks until a datagram is ready or timeoutMS elapses.
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
		return transport.WaitNone, fmt.Errorf("wait on tunnel: %w", err)
	case <-s.doneCh:
		return transport.WaitNone, transport.ErrClosed
	case <-timer.C:
		return transport.WaitNone, nil
	}
}

// Addr returns the socket's nominal local address.
func (s *Socket) Addr() protocol.Address { return s.addr }

// Close tears the tunnel down.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.doneCh)
		err = s.conn.Close()
	})
	return err
}

var _ transport.Socket = (*Socket)(nil)
