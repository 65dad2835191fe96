package gosnet

import (
	"github.com/localrivet/gosnet/list"
	"github.com/localrivet/gosnet/protocol"
)

// PeerState is the connection lifecycle state of a peer.
type PeerState int

// Peer states. Zombie peers have been torn down protocol-wise and are
// waiting for the application to observe the disconnect event.
const (
	PeerStateDisconnected PeerState = iota
	PeerStateConnecting
	PeerStateAcknowledgingConnect
	PeerStateConnectionPending
	PeerStateConnectionSucceeded
	PeerStateConnected
	PeerStateDisconnectLater
	PeerStateDisconnecting
	PeerStateAcknowledgingDisconnect
	PeerStateZombie
)

// Peer represents a connection to one remote endpoint. Peers are owned by
// their Host and live in its peer table for the host's whole lifetime;
// connection teardown recycles the slot. All methods must be called from
// the goroutine servicing the host.
type Peer struct {
	dispatchLink list.Node[*Peer]

	host           *Host
	outgoingPeerID uint16
	incomingPeerID uint16
	connectID      uint32

	outgoingSessionID uint8
	incomingSessionID uint8

	address protocol.Address

	// Data is application private data, freely modifiable.
	Data interface{}

	state    PeerState
	channels []channel

	incomingBandwidth              uint32
	outgoingBandwidth              uint32
	incomingBandwidthThrottleEpoch uint32
	outgoingBandwidthThrottleEpoch uint32
	incomingDataTotal              uint32
	outgoingDataTotal              uint32

	lastSendTime    uint32
	lastReceiveTime uint32
	nextTimeout     uint32
	earliestTimeout uint32

	packetLossEpoch    uint32
	packetsSent        uint32
	packetsLost        uint32
	packetLoss         uint32
	packetLossVariance uint32

	packetThrottle             uint32
	packetThrottleLimit        uint32
	packetThrottleCounter      uint32
	packetThrottleEpoch        uint32
	packetThrottleAcceleration uint32
	packetThrottleDeceleration uint32
	packetThrottleInterval     uint32

	pingInterval   uint32
	timeoutLimit   uint32
	timeoutMinimum uint32
	timeoutMaximum uint32

	lastRoundTripTime            uint32
	lowestRoundTripTime          uint32
	lastRoundTripTimeVariance    uint32
	highestRoundTripTimeVariance uint32
	roundTripTime                uint32
	roundTripTimeVariance        uint32

	mtu                   uint32
	windowSize            uint32
	reliableDataInTransit uint32

	// outgoingReliableSequenceNumber sequences channel 0xFF, the
	// peer-global control channel.
	outgoingReliableSequenceNumber uint16

	acknowledgements           list.List[*acknowledgement]
	sentReliableCommands       list.List[*outgoingCommand]
	sentUnreliableCommands     list.List[*outgoingCommand]
	outgoingReliableCommands   list.List[*outgoingCommand]
	outgoingUnreliableCommands list.List[*outgoingCommand]
	dispatchedCommands         list.List[*incomingCommand]
	needsDispatch              bool

	incomingUnsequencedGroup uint16
	outgoingUnsequencedGroup uint16
	unsequencedWindow        [peerUnsequencedWindowSize / 32]uint32

	eventData        uint32
	totalWaitingData int
}

// State returns the peer's lifecycle state.
func (p *Peer) State() PeerState { return p.state }

// Address returns the remote endpoint's address.
func (p *Peer) Address() protocol.Address { return p.address }

// ConnectID returns the connection nonce agreed during the handshake.
func (p *Peer) ConnectID() uint32 { return p.connectID }

// IncomingPeerID returns the peer's index in its host's peer table.
func (p *Peer) IncomingPeerID() uint16 { return p.incomingPeerID }

// OutgoingPeerID returns the peer's index in the remote host's table,
// learned during the handshake.
func (p *Peer) OutgoingPeerID() uint16 { return p.outgoingPeerID }

// RoundTripTime returns the mean RTT in milliseconds between sending a
// reliable packet and receiving its acknowledgement.
func (p *Peer) RoundTripTime() uint32 { return p.roundTripTime }

// PacketLoss returns the mean reliable packet loss as a ratio against
// peerPacketLossScale (65536).
func (p *Peer) PacketLoss() uint32 { return p.packetLoss }

// ChannelCount returns the number of channels negotiated with the peer.
func (p *Peer) ChannelCount() int { return len(p.channels) }

// ThrottleConfigure sets the throttle parameters and notifies the remote
// side. The throttle is the probability, as a ratio to the scale constant
// 32, that an unreliable packet is sent instead of dropped; interval is
// the RTT measurement window in milliseconds, and acceleration and
// deceleration are the per-measurement adjustments.
func (p *Peer) ThrottleConfigure(interval, acceleration, deceleration uint32) {
	p.packetThrottleInterval = interval
	p.packetThrottleAcceleration = acceleration
	p.packetThrottleDeceleration = deceleration

	var command protocol.Command
	command.Header.Command = protocol.CommandThrottleConfigure | protocol.CommandFlagAcknowledge
	command.Header.ChannelID = 0xFF
	command.ThrottleConfigure.PacketThrottleInterval = interval
	command.ThrottleConfigure.PacketThrottleAcceleration = acceleration
	command.ThrottleConfigure.PacketThrottleDeceleration = deceleration

	p.queueOutgoingCommand(&command, nil, 0, 0)
}

// throttle adapts the packet throttle from one RTT measurement against
// the lowest RTT committed over the previous interval. Returns +1 when
// the throttle was accelerated, -1 when it was decelerated, 0 otherwise
// (including when a degenerate interval snaps it to the limit).
func (p *Peer) throttle(rtt uint32) int {
	if p.lastRoundTripTime <= p.lastRoundTripTimeVariance {
		p.packetThrottle = p.packetThrottleLimit
	} else if rtt < p.lastRoundTripTime {
		p.packetThrottle += p.packetThrottleAcceleration
		if p.packetThrottle > p.packetThrottleLimit {
			p.packetThrottle = p.packetThrottleLimit
		}
		return 1
	} else if rtt > p.lastRoundTripTime+2*p.lastRoundTripTimeVariance {
		if p.packetThrottle > p.packetThrottleDeceleration {
			p.packetThrottle -= p.packetThrottleDeceleration
		} else {
			p.packetThrottle = 0
		}
		return -1
	}
	return 0
}

// Send queues a packet on a channel. Packets larger than the fragment
// length are split into a fragment group sharing the packet's buffer.
func (p *Peer) Send(channelID uint8, packet *Packet) error {
	if p.state != PeerStateConnected {
		return ErrPeerNotConnected
	}
	if int(channelID) >= len(p.channels) {
		return ErrChannelOutOfRange
	}
	if len(packet.Data) > p.host.maximumPacketSize {
		return ErrPacketTooLarge
	}

	ch := &p.channels[channelID]

	fragmentLength := int(p.mtu) - protocol.HeaderSize - protocol.SendFragmentSize
	if p.host.checksum != nil {
		fragmentLength -= protocol.ChecksumSize
	}

	if len(packet.Data) > fragmentLength {
		fragmentCount := (len(packet.Data) + fragmentLength - 1) / fragmentLength
		if fragmentCount > protocol.MaximumFragmentCount {
			return ErrTooManyFragments
		}

		var (
			commandNumber       uint8
			startSequenceNumber uint16
		)
		if packet.Flags&(PacketFlagReliable|PacketFlagUnreliableFragment) == PacketFlagUnreliableFragment &&
			ch.outgoingUnreliableSequenceNumber < 0xFFFF {
			commandNumber = protocol.CommandSendUnreliableFragment
			startSequenceNumber = ch.outgoingUnreliableSequenceNumber + 1
		} else {
			commandNumber = protocol.CommandSendFragment | protocol.CommandFlagAcknowledge
			startSequenceNumber = ch.outgoingReliableSequenceNumber + 1
		}

		fragments := make([]*outgoingCommand, 0, fragmentCount)
		for fragmentNumber, fragmentOffset := 0, 0; fragmentOffset < len(packet.Data); fragmentNumber, fragmentOffset = fragmentNumber+1, fragmentOffset+fragmentLength {
			if len(packet.Data)-fragmentOffset < fragmentLength {
				fragmentLength = len(packet.Data) - fragmentOffset
			}

			fragment := newOutgoingCommand()
			fragment.fragmentOffset = uint32(fragmentOffset)
			fragment.fragmentLength = uint16(fragmentLength)
			fragment.packet = packet
			fragment.command.Header.Command = commandNumber
			fragment.command.Header.ChannelID = channelID
			fragment.command.SendFragment.StartSequenceNumber = startSequenceNumber
			fragment.command.SendFragment.DataLength = uint16(fragmentLength)
			fragment.command.SendFragment.FragmentCount = uint32(fragmentCount)
			fragment.command.SendFragment.FragmentNumber = uint32(fragmentNumber)
			fragment.command.SendFragment.TotalLength = uint32(len(packet.Data))
			fragment.command.SendFragment.FragmentOffset = uint32(fragmentOffset)

			fragments = append(fragments, fragment)
		}

		packet.referenceCount += len(fragments)

		for _, fragment := range fragments {
			p.setupOutgoingCommand(fragment)
		}

		return nil
	}

	var command protocol.Command
	command.Header.ChannelID = channelID

	if packet.Flags&(PacketFlagReliable|PacketFlagUnsequenced) == PacketFlagUnsequenced {
		command.Header.Command = protocol.CommandSendUnsequenced | protocol.CommandFlagUnsequenced
		command.SendUnsequenced.DataLength = uint16(len(packet.Data))
	} else if packet.Flags&PacketFlagReliable != 0 || ch.outgoingUnreliableSequenceNumber >= 0xFFFF {
		command.Header.Command = protocol.CommandSendReliable | protocol.CommandFlagAcknowledge
		command.SendReliable.DataLength = uint16(len(packet.Data))
	} else {
		command.Header.Command = protocol.CommandSendUnreliable
		command.SendUnreliable.DataLength = uint16(len(packet.Data))
	}

	p.queueOutgoingCommand(&command, packet, 0, uint16(len(packet.Data)))

	return nil
}

// Receive dequeues the next delivered packet, returning it with the
// channel it arrived on, or nil when nothing is waiting.
func (p *Peer) Receive() (*Packet, uint8) {
	if p.dispatchedCommands.Empty() {
		return nil, 0
	}

	ic := list.Remove(p.dispatchedCommands.Front()).Value
	channelID := ic.command.Header.ChannelID

	packet := ic.packet
	packet.referenceCount--

	p.totalWaitingData -= len(packet.Data)

	return packet, channelID
}

func resetOutgoingCommands(queue *list.List[*outgoingCommand]) {
	for !queue.Empty() {
		oc := list.Remove(queue.Front()).Value
		if oc.packet != nil {
			oc.packet.release()
		}
	}
}

func removeIncomingCommands(start, end *list.Node[*incomingCommand]) {
	for current := start; current != end; {
		ic := current.Value
		current = current.Next()

		list.Remove(&ic.link)

		if ic.packet != nil {
			ic.packet.release()
		}
	}
}

func resetIncomingCommands(queue *list.List[*incomingCommand]) {
	removeIncomingCommands(queue.Front(), queue.End())
}

func (p *Peer) resetQueues() {
	if p.needsDispatch {
		list.Remove(&p.dispatchLink)
		p.needsDispatch = false
	}

	for !p.acknowledgements.Empty() {
		list.Remove(p.acknowledgements.Front())
	}

	resetOutgoingCommands(&p.sentReliableCommands)
	resetOutgoingCommands(&p.sentUnreliableCommands)
	resetOutgoingCommands(&p.outgoingReliableCommands)
	resetOutgoingCommands(&p.outgoingUnreliableCommands)
	resetIncomingCommands(&p.dispatchedCommands)

	for i := range p.channels {
		resetIncomingCommands(&p.channels[i].incomingReliableCommands)
		resetIncomingCommands(&p.channels[i].incomingUnreliableCommands)
	}
	p.channels = nil
}

func (p *Peer) onConnect() {
	if p.state != PeerStateConnected && p.state != PeerStateDisconnectLater {
		if p.incomingBandwidth != 0 {
			p.host.bandwidthLimitedPeers++
		}
		p.host.connectedPeers++
	}
}

func (p *Peer) onDisconnect() {
	if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
		if p.incomingBandwidth != 0 {
			p.host.bandwidthLimitedPeers--
		}
		p.host.connectedPeers--
	}
}

// Reset forcefully tears down the peer. The remote side is not notified
// and will time out on its end of the connection.
func (p *Peer) Reset() {
	p.onDisconnect()

	p.outgoingPeerID = protocol.MaximumPeerID
	p.connectID = 0

	p.state = PeerStateDisconnected

	p.incomingBandwidth = 0
	p.outgoingBandwidth = 0
	p.incomingBandwidthThrottleEpoch = 0
	p.outgoingBandwidthThrottleEpoch = 0
	p.incomingDataTotal = 0
	p.outgoingDataTotal = 0
	p.lastSendTime = 0
	p.lastReceiveTime = 0
	p.nextTimeout = 0
	p.earliestTimeout = 0
	p.packetLossEpoch = 0
	p.packetsSent = 0
	p.packetsLost = 0
	p.packetLoss = 0
	p.packetLossVariance = 0
	p.packetThrottle = peerDefaultPacketThrottle
	p.packetThrottleLimit = peerPacketThrottleScale
	p.packetThrottleCounter = 0
	p.packetThrottleEpoch = 0
	p.packetThrottleAcceleration = peerPacketThrottleAcceleration
	p.packetThrottleDeceleration = peerPacketThrottleDeceleration
	p.packetThrottleInterval = peerPacketThrottleInterval
	p.pingInterval = peerPingInterval
	p.timeoutLimit = peerTimeoutLimit
	p.timeoutMinimum = peerTimeoutMinimum
	p.timeoutMaximum = peerTimeoutMaximum
	p.lastRoundTripTime = peerDefaultRoundTripTime
	p.lowestRoundTripTime = peerDefaultRoundTripTime
	p.lastRoundTripTimeVariance = 0
	p.highestRoundTripTimeVariance = 0
	p.roundTripTime = peerDefaultRoundTripTime
	p.roundTripTimeVariance = 0
	p.mtu = p.host.mtu
	p.reliableDataInTransit = 0
	p.outgoingReliableSequenceNumber = 0
	p.windowSize = protocol.MaximumWindowSize
	p.incomingUnsequencedGroup = 0
	p.outgoingUnsequencedGroup = 0
	p.eventData = 0
	p.totalWaitingData = 0

	p.unsequencedWindow = [peerUnsequencedWindowSize / 32]uint32{}

	p.resetQueues()
}

// Ping queues a ping. Connected peers are pinged automatically at the
// ping interval; call this to probe more frequently.
func (p *Peer) Ping() {
	if p.state != PeerStateConnected {
		return
	}

	var command protocol.Command
	command.Header.Command = protocol.CommandPing | protocol.CommandFlagAcknowledge
	command.Header.ChannelID = 0xFF

	p.queueOutgoingCommand(&command, nil, 0, 0)
}

// PingInterval sets the interval in milliseconds between automatic
// pings; 0 restores the default.
func (p *Peer) PingInterval(interval uint32) {
	if interval == 0 {
		interval = peerPingInterval
	}
	p.pingInterval = interval
}

// Timeout sets the peer's timeout parameters: limit is the retransmission
// backoff multiple of the initial timeout that must be reached, minimum
// and maximum bound the unacknowledged time in milliseconds before the
// peer is disconnected. Zeros restore the defaults.
func (p *Peer) Timeout(limit, minimum, maximum uint32) {
	if limit == 0 {
		limit = peerTimeoutLimit
	}
	if minimum == 0 {
		minimum = peerTimeoutMinimum
	}
	if maximum == 0 {
		maximum = peerTimeoutMaximum
	}
	p.timeoutLimit = limit
	p.timeoutMinimum = minimum
	p.timeoutMaximum = maximum
}

// DisconnectNow disconnects immediately: one unsequenced disconnect
// notification is flushed out on a best-effort basis and the peer is
// reset before returning. No disconnect event is generated.
func (p *Peer) DisconnectNow(data uint32) {
	if p.state == PeerStateDisconnected {
		return
	}

	if p.state != PeerStateZombie && p.state != PeerStateDisconnecting {
		p.resetQueues()

		var command protocol.Command
		command.Header.Command = protocol.CommandDisconnect | protocol.CommandFlagUnsequenced
		command.Header.ChannelID = 0xFF
		command.Disconnect.Data = data

		p.queueOutgoingCommand(&command, nil, 0, 0)

		p.host.Flush()
	}

	p.Reset()
}

// Disconnect requests a disconnection. An EventDisconnect is generated by
// Service once the remote side acknowledges.
func (p *Peer) Disconnect(data uint32) {
	if p.state == PeerStateDisconnecting ||
		p.state == PeerStateDisconnected ||
		p.state == PeerStateAcknowledgingDisconnect ||
		p.state == PeerStateZombie {
		return
	}

	p.resetQueues()

	var command protocol.Command
	command.Header.Command = protocol.CommandDisconnect
	command.Header.ChannelID = 0xFF
	command.Disconnect.Data = data

	if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
		command.Header.Command |= protocol.CommandFlagAcknowledge
	} else {
		command.Header.Command |= protocol.CommandFlagUnsequenced
	}

	p.queueOutgoingCommand(&command, nil, 0, 0)

	if p.state == PeerStateConnected || p.state == PeerStateDisconnectLater {
		p.onDisconnect()
		p.state = PeerStateDisconnecting
	} else {
		p.host.Flush()
		p.Reset()
	}
}

// DisconnectLater requests a disconnection once every queued outgoing
// packet has been sent and acknowledged.
func (p *Peer) DisconnectLater(data uint32) {
	if (p.state == PeerStateConnected || p.state == PeerStateDisconnectLater) &&
		!(p.outgoingReliableCommands.Empty() &&
			p.outgoingUnreliableCommands.Empty() &&
			p.sentReliableCommands.Empty()) {
		p.state = PeerStateDisconnectLater
		p.eventData = data
	} else {
		p.Disconnect(data)
	}
}

// queueAcknowledgement records an ack to emit for command, unless the
// command lands in the guard region just outside the free reliable
// windows, where acknowledging would let the sender wrap prematurely.
func (p *Peer) queueAcknowledgement(command *protocol.Command, sentTime uint16) *acknowledgement {
	if int(command.Header.ChannelID) < len(p.channels) {
		ch := &p.channels[command.Header.ChannelID]
		reliableWindow := command.Header.ReliableSequenceNumber / peerReliableWindowSize
		currentWindow := ch.incomingReliableSequenceNumber / peerReliableWindowSize

		if command.Header.ReliableSequenceNumber < ch.incomingReliableSequenceNumber {
			reliableWindow += peerReliableWindows
		}

		if reliableWindow >= currentWindow+peerFreeReliableWindows-1 && reliableWindow <= currentWindow+peerFreeReliableWindows {
			return nil
		}
	}

	ack := newAcknowledgement()

	p.outgoingDataTotal += protocol.AcknowledgeSize

	ack.sentTime = uint32(sentTime)
	ack.command = *command

	p.acknowledgements.PushBack(&ack.link)

	return ack
}

// setupOutgoingCommand assigns sequence numbers and queues the command on
// the reliable or unreliable outgoing queue.
func (p *Peer) setupOutgoingCommand(oc *outgoingCommand) {
	var ch *channel
	if int(oc.command.Header.ChannelID) < len(p.channels) {
		ch = &p.channels[oc.command.Header.ChannelID]
	}

	p.outgoingDataTotal += uint32(protocol.CommandSize(oc.command.Header.Command)) + uint32(oc.fragmentLength)

	if oc.command.Header.ChannelID == 0xFF {
		p.outgoingReliableSequenceNumber++
		oc.reliableSequenceNumber = p.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = 0
	} else if oc.command.Header.Command&protocol.CommandFlagAcknowledge != 0 {
		ch.outgoingReliableSequenceNumber++
		ch.outgoingUnreliableSequenceNumber = 0
		oc.reliableSequenceNumber = ch.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = 0
	} else if oc.command.Header.Command&protocol.CommandFlagUnsequenced != 0 {
		p.outgoingUnsequencedGroup++
		oc.reliableSequenceNumber = 0
		oc.unreliableSequenceNumber = 0
	} else {
		if oc.fragmentOffset == 0 {
			ch.outgoingUnreliableSequenceNumber++
		}
		oc.reliableSequenceNumber = ch.outgoingReliableSequenceNumber
		oc.unreliableSequenceNumber = ch.outgoingUnreliableSequenceNumber
	}

	oc.sendAttempts = 0
	oc.sentTime = 0
	oc.roundTripTimeout = 0
	oc.roundTripTimeoutLimit = 0
	oc.command.Header.ReliableSequenceNumber = oc.reliableSequenceNumber

	switch oc.command.Header.Command & protocol.CommandMask {
	case protocol.CommandSendUnreliable:
		oc.command.SendUnreliable.UnreliableSequenceNumber = oc.unreliableSequenceNumber
	case protocol.CommandSendUnsequenced:
		oc.command.SendUnsequenced.UnsequencedGroup = p.outgoingUnsequencedGroup
	}

	if oc.command.Header.Command&protocol.CommandFlagAcknowledge != 0 {
		p.outgoingReliableCommands.PushBack(&oc.link)
	} else {
		p.outgoingUnreliableCommands.PushBack(&oc.link)
	}
}

// queueOutgoingCommand wraps a command (and an optional slice of packet)
// into an outgoing command and queues it for sending.
func (p *Peer) queueOutgoingCommand(command *protocol.Command, packet *Packet, offset uint32, length uint16) *outgoingCommand {
	oc := newOutgoingCommand()
	oc.command = *command
	oc.fragmentOffset = offset
	oc.fragmentLength = length
	oc.packet = packet
	if packet != nil {
		packet.referenceCount++
	}

	p.setupOutgoingCommand(oc)

	return oc
}

// dispatchIncomingUnreliableCommands moves the maximal deliverable prefix
// of the channel's unreliable queue onto the peer's dispatched queue.
// Unreliable commands belonging to reliable windows the channel has moved
// past are dropped.
func (p *Peer) dispatchIncomingUnreliableCommands(ch *channel) {
	queue := &ch.incomingUnreliableCommands

	droppedCommand := queue.Front()
	startCommand := queue.Front()
	currentCommand := queue.Front()

	for ; currentCommand != queue.End(); currentCommand = currentCommand.Next() {
		ic := currentCommand.Value

		if ic.command.Header.Command&protocol.CommandMask == protocol.CommandSendUnsequenced {
			continue
		}

		if ic.reliableSequenceNumber == ch.incomingReliableSequenceNumber {
			if ic.fragmentsRemaining == 0 {
				ch.incomingUnreliableSequenceNumber = ic.unreliableSequenceNumber
				continue
			}

			if startCommand != currentCommand {
				p.dispatchedCommands.Splice(p.dispatchedCommands.End(), startCommand, currentCommand.Prev())
				p.markDispatch()
				droppedCommand = currentCommand
			} else if droppedCommand != currentCommand {
				droppedCommand = currentCommand.Prev()
			}
		} else {
			reliableWindow := ic.reliableSequenceNumber / peerReliableWindowSize
			currentWindow := ch.incomingReliableSequenceNumber / peerReliableWindowSize
			if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
				reliableWindow += peerReliableWindows
			}
			if reliableWindow >= currentWindow && reliableWindow < currentWindow+peerFreeReliableWindows-1 {
				break
			}

			droppedCommand = currentCommand.Next()

			if startCommand != currentCommand {
				p.dispatchedCommands.Splice(p.dispatchedCommands.End(), startCommand, currentCommand.Prev())
				p.markDispatch()
			}
		}

		startCommand = currentCommand.Next()
	}

	if startCommand != currentCommand {
		p.dispatchedCommands.Splice(p.dispatchedCommands.End(), startCommand, currentCommand.Prev())
		p.markDispatch()
		droppedCommand = currentCommand
	}

	removeIncomingCommands(queue.Front(), droppedCommand)
}

// dispatchIncomingReliableCommands moves the contiguous run of completed
// reliable commands starting right after the channel's expected sequence
// number onto the peer's dispatched queue, then gives newly unblocked
// unreliable commands a chance.
func (p *Peer) dispatchIncomingReliableCommands(ch *channel) {
	queue := &ch.incomingReliableCommands

	currentCommand := queue.Front()
	for ; currentCommand != queue.End(); currentCommand = currentCommand.Next() {
		ic := currentCommand.Value

		if ic.fragmentsRemaining > 0 ||
			ic.reliableSequenceNumber != ch.incomingReliableSequenceNumber+1 {
			break
		}

		ch.incomingReliableSequenceNumber = ic.reliableSequenceNumber

		if ic.fragmentCount > 0 {
			ch.incomingReliableSequenceNumber += uint16(ic.fragmentCount) - 1
		}
	}

	if currentCommand == queue.Front() {
		return
	}

	ch.incomingUnreliableSequenceNumber = 0

	p.dispatchedCommands.Splice(p.dispatchedCommands.End(), queue.Front(), currentCommand.Prev())
	p.markDispatch()

	if !ch.incomingUnreliableCommands.Empty() {
		p.dispatchIncomingUnreliableCommands(ch)
	}
}

// markDispatch queues the peer on the host dispatch queue exactly once.
func (p *Peer) markDispatch() {
	if !p.needsDispatch {
		p.host.dispatchQueue.PushBack(&p.dispatchLink)
		p.needsDispatch = true
	}
}

// queueIncomingCommand files a received send command into the channel's
// sorted incoming queue. dataLength is the payload size, which for a
// fragment group exceeds len(data) (the group's packet is allocated
// zero-filled and patched by the fragments). A nil command with a nil
// error means the command was a duplicate or out of window and was
// benignly discarded; a non-nil error means the datagram must be treated
// as malformed.
func (p *Peer) queueIncomingCommand(command *protocol.Command, data []byte, dataLength int, flags PacketFlag, fragmentCount uint32) (*incomingCommand, error) {
	ch := &p.channels[command.Header.ChannelID]

	var (
		unreliableSequenceNumber uint16
		reliableSequenceNumber   uint16
	)

	if p.state == PeerStateDisconnectLater {
		return p.discardIncomingCommand(fragmentCount)
	}

	if command.Header.Command&protocol.CommandMask != protocol.CommandSendUnsequenced {
		reliableSequenceNumber = command.Header.ReliableSequenceNumber
		reliableWindow := reliableSequenceNumber / peerReliableWindowSize
		currentWindow := ch.incomingReliableSequenceNumber / peerReliableWindowSize

		if reliableSequenceNumber < ch.incomingReliableSequenceNumber {
			reliableWindow += peerReliableWindows
		}

		if reliableWindow < currentWindow || reliableWindow >= currentWindow+peerFreeReliableWindows-1 {
			return p.discardIncomingCommand(fragmentCount)
		}
	}

	var insertPosition *list.Node[*incomingCommand]
	reliable := false

	switch command.Header.Command & protocol.CommandMask {
	case protocol.CommandSendFragment, protocol.CommandSendReliable:
		reliable = true

		if reliableSequenceNumber == ch.incomingReliableSequenceNumber {
			return p.discardIncomingCommand(fragmentCount)
		}

		queue := &ch.incomingReliableCommands
		current := queue.Back()
		for ; current != queue.End(); current = current.Prev() {
			ic := current.Value

			if reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
					continue
				}
			} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				break
			}

			if ic.reliableSequenceNumber <= reliableSequenceNumber {
				if ic.reliableSequenceNumber < reliableSequenceNumber {
					break
				}
				return p.discardIncomingCommand(fragmentCount)
			}
		}
		insertPosition = current

	case protocol.CommandSendUnreliable, protocol.CommandSendUnreliableFragment:
		unreliableSequenceNumber = command.SendUnreliable.UnreliableSequenceNumber
		if command.Header.Command&protocol.CommandMask == protocol.CommandSendUnreliableFragment {
			unreliableSequenceNumber = command.SendFragment.StartSequenceNumber
		}

		if reliableSequenceNumber == ch.incomingReliableSequenceNumber &&
			unreliableSequenceNumber <= ch.incomingUnreliableSequenceNumber {
			return p.discardIncomingCommand(fragmentCount)
		}

		queue := &ch.incomingUnreliableCommands
		current := queue.Back()
		for ; current != queue.End(); current = current.Prev() {
			ic := current.Value

			if reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
					continue
				}
			} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
				break
			}

			if ic.reliableSequenceNumber < reliableSequenceNumber {
				break
			}
			if ic.reliableSequenceNumber > reliableSequenceNumber {
				continue
			}

			if ic.unreliableSequenceNumber <= unreliableSequenceNumber {
				if ic.unreliableSequenceNumber < unreliableSequenceNumber {
					break
				}
				return p.discardIncomingCommand(fragmentCount)
			}
		}
		insertPosition = current

	case protocol.CommandSendUnsequenced:
		insertPosition = ch.incomingUnreliableCommands.End()

	default:
		return p.discardIncomingCommand(fragmentCount)
	}

	if p.totalWaitingData >= p.host.maximumWaitingData {
		return nil, errIncomingRejected
	}

	var packet *Packet
	if data == nil {
		packet = NewPacketSize(dataLength, flags)
	} else {
		packet = NewPacket(data[:dataLength], flags)
	}

	ic := newIncomingCommand()
	ic.reliableSequenceNumber = command.Header.ReliableSequenceNumber
	ic.unreliableSequenceNumber = unreliableSequenceNumber
	ic.command = *command
	ic.fragmentCount = fragmentCount
	ic.fragmentsRemaining = fragmentCount
	ic.packet = packet

	if fragmentCount > 0 {
		if fragmentCount > protocol.MaximumFragmentCount {
			return nil, errIncomingRejected
		}
		ic.fragments = make([]uint32, (fragmentCount+31)/32)
	}

	packet.referenceCount++
	p.totalWaitingData += len(packet.Data)

	if reliable {
		ch.incomingReliableCommands.InsertBefore(insertPosition.Next(), &ic.link)
		p.dispatchIncomingReliableCommands(ch)
	} else {
		ch.incomingUnreliableCommands.InsertBefore(insertPosition.Next(), &ic.link)
		p.dispatchIncomingUnreliableCommands(ch)
	}

	return ic, nil
}

// discardIncomingCommand implements the benign-discard path: a discarded
// fragment start is fatal because the group can never complete.
func (p *Peer) discardIncomingCommand(fragmentCount uint32) (*incomingCommand, error) {
	if fragmentCount > 0 {
		return nil, errIncomingRejected
	}
	return nil, nil
}
