package gosnet

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/localrivet/gosnet/list"
	"github.com/localrivet/gosnet/logx"
	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
	"github.com/localrivet/gosnet/transport/udp"
)

// Compressor compresses and decompresses whole datagram command regions.
// Compress encodes the bytes of inBuffers (inLimit in total) into out and
// returns the compressed size, or 0 on failure; Decompress is the exact
// inverse. Both sides of a connection must use the same compressor.
type Compressor interface {
	Compress(inBuffers [][]byte, inLimit int, out []byte) int
	Decompress(in []byte, out []byte) int
}

// ChecksumFunc computes a 32-bit checksum over a vector of buffers.
type ChecksumFunc func(buffers [][]byte) uint32

// InterceptFunc sees every raw received datagram before the engine parses
// it. Return 1 to consume the datagram (optionally filling event), 0 to
// let the engine process it, or a negative value to fail the service
// call. The raw bytes and sender are available through Host.ReceivedData
// and Host.ReceivedAddress.
type InterceptFunc func(host *Host, event *Event) int

// HostStats is a snapshot of a host's traffic counters. Take snapshots
// from the goroutine servicing the host.
type HostStats struct {
	TotalSentData         uint32
	TotalSentPackets      uint32
	TotalReceivedData     uint32
	TotalReceivedPackets  uint32
	ConnectedPeers        int
	BandwidthLimitedPeers int
}

// Host owns a datagram socket and a fixed table of peers communicating
// over it. All host and peer methods must be called from one goroutine.
type Host struct {
	socket  transport.Socket
	address protocol.Address

	incomingBandwidth      uint32
	outgoingBandwidth      uint32
	bandwidthThrottleEpoch uint32

	mtu        uint32
	randomSeed uint32

	recalculateBandwidthLimits bool

	peers        []Peer
	channelLimit int

	serviceTime uint32

	dispatchQueue list.List[*Peer]

	continueSending bool

	// Scratch state for the datagram under construction: commandData is
	// bump-allocated per serialized command, buffers is the scatter list
	// handed to the socket.
	packetSize   int
	headerFlags  uint16
	commandCount int
	commandData  [protocol.MaxPacketCommands * protocol.ConnectSize]byte
	commandUsed  int
	buffers      [][]byte
	bufferArr    [bufferMaximum][]byte

	checksum   ChecksumFunc
	compressor Compressor
	intercept  InterceptFunc

	packetData      [2][protocol.MaximumMTU]byte
	receivedAddress protocol.Address
	receivedData    []byte

	totalSentData        uint32
	totalSentPackets     uint32
	totalReceivedData    uint32
	totalReceivedPackets uint32

	connectedPeers        int
	bandwidthLimitedPeers int

	duplicatePeers     int
	maximumPacketSize  int
	maximumWaitingData int

	logger logx.Logger
}

// HostOption configures a Host at creation time.
type HostOption func(*Host)

// WithSocket supplies the datagram socket the host drives instead of
// binding a UDP socket. Used to run hosts over the in-memory or
// WebSocket transports.
func WithSocket(socket transport.Socket) HostOption {
	return func(h *Host) { h.socket = socket }
}

// WithMTU overrides the default MTU ceiling (1400 bytes).
func WithMTU(mtu uint32) HostOption {
	return func(h *Host) {
		if mtu >= protocol.MinimumMTU && mtu <= protocol.MaximumMTU {
			h.mtu = mtu
		}
	}
}

// WithCompressor enables datagram compression.
func WithCompressor(compressor Compressor) HostOption {
	return func(h *Host) { h.compressor = compressor }
}

// WithChecksum enables per-datagram checksums.
func WithChecksum(checksum ChecksumFunc) HostOption {
	return func(h *Host) { h.checksum = checksum }
}

// WithIntercept installs a raw-datagram intercept callback.
func WithIntercept(intercept InterceptFunc) HostOption {
	return func(h *Host) { h.intercept = intercept }
}

// WithLogger sets the host's logger; the default discards everything.
func WithLogger(logger logx.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaximumPacketSize bounds the size of packets sent or received on
// any peer of this host.
func WithMaximumPacketSize(size int) HostOption {
	return func(h *Host) {
		if size > 0 {
			h.maximumPacketSize = size
		}
	}
}

// WithMaximumWaitingData bounds the aggregate buffer space a peer may
// hold in packets waiting for delivery to the application.
func WithMaximumWaitingData(size int) HostOption {
	return func(h *Host) {
		if size > 0 {
			h.maximumWaitingData = size
		}
	}
}

// WithDuplicatePeers limits how many peers may connect from the same
// address.
func WithDuplicatePeers(count int) HostOption {
	return func(h *Host) {
		if count > 0 {
			h.duplicatePeers = count
		}
	}
}

// WithRandomSeed fixes the seed used for connect ID generation, for
// reproducible tests.
func WithRandomSeed(seed uint32) HostOption {
	return func(h *Host) { h.randomSeed = seed }
}

// NewHost creates a host bound to address with room for peerCount peers.
// A nil address creates a client-only host on an ephemeral port.
// channelLimit caps the channels of incoming connections (0 means the
// protocol maximum); the bandwidth parameters are bytes per second with 0
// meaning unlimited.
func NewHost(address *protocol.Address, peerCount, channelLimit int, incomingBandwidth, outgoingBandwidth uint32, options ...HostOption) (*Host, error) {
	if peerCount > protocol.MaximumPeerID {
		return nil, ErrTooManyPeers
	}

	host := &Host{
		mtu:                hostDefaultMTU,
		incomingBandwidth:  incomingBandwidth,
		outgoingBandwidth:  outgoingBandwidth,
		duplicatePeers:     protocol.MaximumPeerID,
		maximumPacketSize:  hostDefaultMaximumPacketSize,
		maximumWaitingData: hostDefaultMaximumWaitingData,
		logger:             logx.NewNopLogger(),
	}
	host.randomSeed = hostRandomSeed()

	for _, option := range options {
		option(host)
	}

	if host.socket == nil {
		bind := protocol.Address{Host: protocol.HostAny, Port: protocol.PortAny}
		if address != nil {
			bind = *address
		}
		socket, err := udp.NewSocket(bind,
			udp.WithReceiveBuffer(hostReceiveBufferSize),
			udp.WithSendBuffer(hostSendBufferSize))
		if err != nil {
			return nil, fmt.Errorf("create host socket: %w", err)
		}
		host.socket = socket
	}
	host.address = host.socket.Addr()
	if address != nil && host.address.Host == protocol.HostAny && address.Host != protocol.HostAny {
		host.address = *address
	}

	if channelLimit <= 0 || channelLimit > protocol.MaximumChannelCount {
		channelLimit = protocol.MaximumChannelCount
	} else if channelLimit < protocol.MinimumChannelCount {
		channelLimit = protocol.MinimumChannelCount
	}
	host.channelLimit = channelLimit

	host.dispatchQueue.Init()
	host.buffers = host.bufferArr[:0]

	host.peers = make([]Peer, peerCount)
	for i := range host.peers {
		peer := &host.peers[i]
		peer.host = host
		peer.incomingPeerID = uint16(i)
		peer.outgoingSessionID = 0xFF
		peer.incomingSessionID = 0xFF
		peer.dispatchLink.Value = peer

		peer.acknowledgements.Init()
		peer.sentReliableCommands.Init()
		peer.sentUnreliableCommands.Init()
		peer.outgoingReliableCommands.Init()
		peer.outgoingUnreliableCommands.Init()
		peer.dispatchedCommands.Init()

		peer.Reset()
	}

	return host, nil
}

// hostRandomSeed derives the per-host seed for connect ID generation.
func hostRandomSeed() uint32 {
	id := uuid.New()
	seed := binary.BigEndian.Uint32(id[0:4]) ^ binary.BigEndian.Uint32(id[4:8])
	seed ^= TimeGet()
	return (seed << 16) | (seed >> 16)
}

// Destroy closes the host's socket and resets every peer.
func (h *Host) Destroy() {
	if h == nil {
		return
	}

	h.socket.Close()

	for i := range h.peers {
		h.peers[i].Reset()
	}
}

// Address returns the address the host is bound to.
func (h *Host) Address() protocol.Address { return h.address }

// MTU returns the host's MTU ceiling.
func (h *Host) MTU() uint32 { return h.mtu }

// ReceivedData returns the raw bytes of the datagram currently being
// processed; only meaningful inside an intercept callback.
func (h *Host) ReceivedData() []byte { return h.receivedData }

// ReceivedAddress returns the sender of the datagram currently being
// processed; only meaningful inside an intercept callback.
func (h *Host) ReceivedAddress() protocol.Address { return h.receivedAddress }

// Stats returns a snapshot of the host's traffic counters.
func (h *Host) Stats() HostStats {
	return HostStats{
		TotalSentData:         h.totalSentData,
		TotalSentPackets:      h.totalSentPackets,
		TotalReceivedData:     h.totalReceivedData,
		TotalReceivedPackets:  h.totalReceivedPackets,
		ConnectedPeers:        h.connectedPeers,
		BandwidthLimitedPeers: h.bandwidthLimitedPeers,
	}
}

// Connect initiates a connection to a foreign host. The returned peer has
// not completed the handshake until Service reports EventConnect for it.
// data is delivered to the remote application with that event.
func (h *Host) Connect(address protocol.Address, channelCount int, data uint32) (*Peer, error) {
	if channelCount < protocol.MinimumChannelCount {
		channelCount = protocol.MinimumChannelCount
	} else if channelCount > protocol.MaximumChannelCount {
		channelCount = protocol.MaximumChannelCount
	}

	var peer *Peer
	for i := range h.peers {
		if h.peers[i].state == PeerStateDisconnected {
			peer = &h.peers[i]
			break
		}
	}
	if peer == nil {
		return nil, ErrNoAvailablePeers
	}

	peer.channels = make([]channel, channelCount)
	peer.state = PeerStateConnecting
	peer.address = address
	h.randomSeed++
	peer.connectID = h.randomSeed

	if h.outgoingBandwidth == 0 {
		peer.windowSize = protocol.MaximumWindowSize
	} else {
		peer.windowSize = (h.outgoingBandwidth / peerWindowSizeScale) * protocol.MinimumWindowSize
	}
	if peer.windowSize < protocol.MinimumWindowSize {
		peer.windowSize = protocol.MinimumWindowSize
	} else if peer.windowSize > protocol.MaximumWindowSize {
		peer.windowSize = protocol.MaximumWindowSize
	}

	for i := range peer.channels {
		peer.channels[i].init()
	}

	var command protocol.Command
	command.Header.Command = protocol.CommandConnect | protocol.CommandFlagAcknowledge
	command.Header.ChannelID = 0xFF
	command.Connect.OutgoingPeerID = peer.incomingPeerID
	command.Connect.IncomingSessionID = peer.incomingSessionID
	command.Connect.OutgoingSessionID = peer.outgoingSessionID
	command.Connect.MTU = peer.mtu
	command.Connect.WindowSize = peer.windowSize
	command.Connect.ChannelCount = uint32(channelCount)
	command.Connect.IncomingBandwidth = h.incomingBandwidth
	command.Connect.OutgoingBandwidth = h.outgoingBandwidth
	command.Connect.PacketThrottleInterval = peer.packetThrottleInterval
	command.Connect.PacketThrottleAcceleration = peer.packetThrottleAcceleration
	command.Connect.PacketThrottleDeceleration = peer.packetThrottleDeceleration
	command.Connect.ConnectID = peer.connectID
	command.Connect.Data = data

	peer.queueOutgoingCommand(&command, nil, 0, 0)

	h.logger.Debug("connecting to %s with %d channels", address, channelCount)

	return peer, nil
}

// Broadcast queues a packet for every connected peer. If no peer was in a
// state to take it, the packet is destroyed.
func (h *Host) Broadcast(channelID uint8, packet *Packet) {
	for i := range h.peers {
		peer := &h.peers[i]
		if peer.state != PeerStateConnected {
			continue
		}
		peer.Send(channelID, packet)
	}

	if packet.referenceCount == 0 {
		packet.Destroy()
	}
}

// Compress sets the compressor used for outgoing and incoming datagrams;
// nil disables compression.
func (h *Host) Compress(compressor Compressor) {
	h.compressor = compressor
}

// ChannelLimit adjusts the maximum channel count granted to future
// incoming connections; 0 restores the protocol maximum.
func (h *Host) ChannelLimit(channelLimit int) {
	if channelLimit <= 0 || channelLimit > protocol.MaximumChannelCount {
		channelLimit = protocol.MaximumChannelCount
	} else if channelLimit < protocol.MinimumChannelCount {
		channelLimit = protocol.MinimumChannelCount
	}
	h.channelLimit = channelLimit
}

// BandwidthLimit adjusts the host's bandwidth budgets. The new limits are
// advertised to all connected peers on the next bandwidth throttle tick.
func (h *Host) BandwidthLimit(incomingBandwidth, outgoingBandwidth uint32) {
	h.incomingBandwidth = incomingBandwidth
	h.outgoingBandwidth = outgoingBandwidth
	h.recalculateBandwidthLimits = true
}

// bandwidthThrottle redistributes the host's outgoing bandwidth budget
// across peers once per throttle interval, capping each peer's packet
// throttle to its fair share, and recomputes advertised per-peer incoming
// limits when requested. With no outgoing budget every peer's limit
// returns to full scale, except for peers whose own advertised incoming
// bandwidth still caps them.
func (h *Host) bandwidthThrottle() {
	timeCurrent := TimeGet()
	elapsedTime := timeCurrent - h.bandwidthThrottleEpoch
	peersRemaining := uint32(h.connectedPeers)
	dataTotal := ^uint32(0)
	bandwidth := ^uint32(0)
	throttle := uint32(0)
	bandwidthLimit := uint32(0)
	needsAdjustment := h.bandwidthLimitedPeers > 0

	if elapsedTime < hostBandwidthThrottleInterval {
		return
	}

	h.bandwidthThrottleEpoch = timeCurrent

	if peersRemaining == 0 {
		return
	}

	if h.outgoingBandwidth != 0 {
		dataTotal = 0
		bandwidth = (h.outgoingBandwidth * elapsedTime) / 1000

		for i := range h.peers {
			peer := &h.peers[i]
			if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
				continue
			}
			dataTotal += peer.outgoingDataTotal
		}
	}

	for peersRemaining > 0 && needsAdjustment {
		needsAdjustment = false

		if dataTotal <= bandwidth {
			throttle = peerPacketThrottleScale
		} else {
			throttle = (bandwidth * peerPacketThrottleScale) / dataTotal
		}

		for i := range h.peers {
			peer := &h.peers[i]

			if (peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) ||
				peer.incomingBandwidth == 0 ||
				peer.outgoingBandwidthThrottleEpoch == timeCurrent {
				continue
			}

			peerBandwidth := (peer.incomingBandwidth * elapsedTime) / 1000
			if (throttle*peer.outgoingDataTotal)/peerPacketThrottleScale <= peerBandwidth {
				continue
			}

			peer.packetThrottleLimit = (peerBandwidth * peerPacketThrottleScale) / peer.outgoingDataTotal
			if peer.packetThrottleLimit == 0 {
				peer.packetThrottleLimit = 1
			}
			if peer.packetThrottle > peer.packetThrottleLimit {
				peer.packetThrottle = peer.packetThrottleLimit
			}

			peer.outgoingBandwidthThrottleEpoch = timeCurrent

			peer.incomingDataTotal = 0
			peer.outgoingDataTotal = 0

			needsAdjustment = true
			peersRemaining--
			bandwidth -= peerBandwidth
			dataTotal -= peerBandwidth
		}
	}

	if peersRemaining > 0 {
		if dataTotal <= bandwidth {
			throttle = peerPacketThrottleScale
		} else {
			throttle = (bandwidth * peerPacketThrottleScale) / dataTotal
		}

		for i := range h.peers {
			peer := &h.peers[i]

			if (peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) ||
				peer.outgoingBandwidthThrottleEpoch == timeCurrent {
				continue
			}

			peer.packetThrottleLimit = throttle
			if peer.packetThrottle > peer.packetThrottleLimit {
				peer.packetThrottle = peer.packetThrottleLimit
			}

			peer.incomingDataTotal = 0
			peer.outgoingDataTotal = 0
		}
	}

	if h.recalculateBandwidthLimits {
		h.recalculateBandwidthLimits = false

		peersRemaining = uint32(h.connectedPeers)
		bandwidth = h.incomingBandwidth
		needsAdjustment = true

		if bandwidth == 0 {
			bandwidthLimit = 0
		} else {
			for peersRemaining > 0 && needsAdjustment {
				needsAdjustment = false
				bandwidthLimit = bandwidth / peersRemaining

				for i := range h.peers {
					peer := &h.peers[i]

					if (peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) ||
						peer.incomingBandwidthThrottleEpoch == timeCurrent {
						continue
					}

					if peer.outgoingBandwidth > 0 && peer.outgoingBandwidth >= bandwidthLimit {
						continue
					}

					peer.incomingBandwidthThrottleEpoch = timeCurrent

					needsAdjustment = true
					peersRemaining--
					bandwidth -= peer.outgoingBandwidth
				}
			}
		}

		for i := range h.peers {
			peer := &h.peers[i]

			if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
				continue
			}

			var command protocol.Command
			command.Header.Command = protocol.CommandBandwidthLimit | protocol.CommandFlagAcknowledge
			command.Header.ChannelID = 0xFF
			command.BandwidthLimit.OutgoingBandwidth = h.outgoingBandwidth

			if peer.incomingBandwidthThrottleEpoch == timeCurrent {
				command.BandwidthLimit.IncomingBandwidth = peer.outgoingBandwidth
			} else {
				command.BandwidthLimit.IncomingBandwidth = bandwidthLimit
			}

			peer.queueOutgoingCommand(&command, nil, 0, 0)
		}
	}
}
