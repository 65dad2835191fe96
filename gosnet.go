// Package gosnet implements a reliable, sequenced, multi-channel,
// message-oriented transport protocol on top of an unreliable datagram
// service.
//
// A Host owns one datagram socket and a fixed table of peers. Peers
// exchange discrete packets on independently sequenced channels, each
// packet sent reliably, unreliably-sequenced or unsequenced as chosen per
// send. Messages larger than the connection MTU are fragmented and
// reassembled transparently. The engine measures round-trip times from
// acknowledgements and uses them to throttle unreliable traffic, size the
// reliable congestion window, and time out dead connections with
// exponential backoff. Datagrams may optionally be compressed with the
// adaptive range coder from package rangecoder and protected with the
// CRC-32 from package checksum.
//
// The engine is single-threaded and cooperative: all protocol work
// happens inside Service, Flush, CheckEvents and the public Host and Peer
// methods, which must be serialized by the caller. The only blocking
// point is the bounded wait on the socket inside Service.
package gosnet

import "errors"

// Errors returned by the public API.
var (
	// ErrPeerNotConnected is returned when sending on a peer that has
	// not completed its handshake or is shutting down.
	ErrPeerNotConnected = errors.New("peer not connected")

	// ErrChannelOutOfRange is returned when the channel ID is not below
	// the peer's negotiated channel count.
	ErrChannelOutOfRange = errors.New("channel out of range")

	// ErrPacketTooLarge is returned when a packet exceeds the host's
	// maximum packet size.
	ErrPacketTooLarge = errors.New("packet exceeds maximum packet size")

	// ErrTooManyFragments is returned when a packet would fragment into
	// more pieces than the protocol allows.
	ErrTooManyFragments = errors.New("packet exceeds maximum fragment count")

	// ErrNoAvailablePeers is returned by Connect when every slot in the
	// host's peer table is in use.
	ErrNoAvailablePeers = errors.New("no available peer slots")

	// ErrTooManyPeers is returned by NewHost when peerCount exceeds the
	// protocol's peer ID space.
	ErrTooManyPeers = errors.New("peer count exceeds protocol maximum")

	// ErrNilEvent is returned by CheckEvents when no event structure is
	// supplied.
	ErrNilEvent = errors.New("nil event")

	// ErrPacketBorrowed is returned when growing a packet that borrows
	// its buffer past the buffer's capacity.
	ErrPacketBorrowed = errors.New("cannot grow borrowed packet data")
)

// errIncomingRejected marks an incoming command that could not be queued
// (resource exhaustion or an unfulfillable fragment group); callers treat
// the datagram as malformed.
var errIncomingRejected = errors.New("incoming command rejected")

// Host-level tuning constants.
const (
	hostReceiveBufferSize         = 256 * 1024
	hostSendBufferSize            = 256 * 1024
	hostBandwidthThrottleInterval = 1000
	hostDefaultMTU                = 1400
	hostDefaultMaximumPacketSize  = 32 * 1024 * 1024
	hostDefaultMaximumWaitingData = 32 * 1024 * 1024
)

// Peer-level tuning constants.
const (
	peerDefaultRoundTripTime       = 500
	peerDefaultPacketThrottle      = 32
	peerPacketThrottleScale        = 32
	peerPacketThrottleCounter      = 7
	peerPacketThrottleAcceleration = 2
	peerPacketThrottleDeceleration = 2
	peerPacketThrottleInterval     = 5000
	peerPacketLossScale            = 1 << 16
	peerPacketLossInterval         = 10000
	peerWindowSizeScale            = 64 * 1024
	peerTimeoutLimit               = 32
	peerTimeoutMinimum             = 5000
	peerTimeoutMaximum             = 30000
	peerPingInterval               = 500
	peerUnsequencedWindows         = 64
	peerUnsequencedWindowSize      = 1024
	peerFreeUnsequencedWindows     = 32
	peerReliableWindows            = 16
	peerReliableWindowSize         = 0x1000
	peerFreeReliableWindows        = 8
)

// bufferMaximum bounds the scatter list of one outgoing datagram: the
// header plus a command and payload buffer per command.
const bufferMaximum = 1 + 2*32
