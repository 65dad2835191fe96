package gosnet

import (
	"encoding/binary"
	"errors"

	"github.com/localrivet/gosnet/list"
	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport"
)

// errInterceptFailed surfaces a negative return from an intercept
// callback as a fatal service error.
var errInterceptFailed = errors.New("intercept callback failed")

func (h *Host) changeState(peer *Peer, state PeerState) {
	if state == PeerStateConnected || state == PeerStateDisconnectLater {
		peer.onConnect()
	} else {
		peer.onDisconnect()
	}
	peer.state = state
}

func (h *Host) dispatchState(peer *Peer, state PeerState) {
	h.changeState(peer, state)
	peer.markDispatch()
}

// dispatchIncomingCommands drains the host dispatch queue into at most
// one event. Returns 1 when event was filled.
func (h *Host) dispatchIncomingCommands(event *Event) int {
	for !h.dispatchQueue.Empty() {
		peer := list.Remove(h.dispatchQueue.Front()).Value
		peer.needsDispatch = false

		switch peer.state {
		case PeerStateConnectionPending, PeerStateConnectionSucceeded:
			h.changeState(peer, PeerStateConnected)

			event.Type = EventConnect
			event.Peer = peer
			event.Data = peer.eventData

			return 1

		case PeerStateZombie:
			h.recalculateBandwidthLimits = true

			event.Type = EventDisconnect
			event.Peer = peer
			event.Data = peer.eventData

			peer.Reset()

			return 1

		case PeerStateConnected:
			if peer.dispatchedCommands.Empty() {
				continue
			}

			packet, channelID := peer.Receive()
			if packet == nil {
				continue
			}
			event.Packet = packet
			event.ChannelID = channelID
			event.Type = EventReceive
			event.Peer = peer

			if !peer.dispatchedCommands.Empty() {
				peer.markDispatch()
			}

			return 1

		default:
		}
	}

	return 0
}

// notifyConnect reports a completed handshake, either immediately through
// event or deferred through the dispatch queue.
func (h *Host) notifyConnect(peer *Peer, event *Event) {
	h.recalculateBandwidthLimits = true

	if event != nil {
		h.changeState(peer, PeerStateConnected)

		event.Type = EventConnect
		event.Peer = peer
		event.Data = peer.eventData
	} else {
		if peer.state == PeerStateConnecting {
			h.dispatchState(peer, PeerStateConnectionSucceeded)
		} else {
			h.dispatchState(peer, PeerStateConnectionPending)
		}
	}
}

// notifyDisconnect reports a lost connection. Peers that never reached
// the handshake notification are reset silently.
func (h *Host) notifyDisconnect(peer *Peer, event *Event) {
	if peer.state >= PeerStateConnectionPending {
		h.recalculateBandwidthLimits = true
	}

	if peer.state != PeerStateConnecting && peer.state < PeerStateConnectionSucceeded {
		peer.Reset()
	} else if event != nil {
		event.Type = EventDisconnect
		event.Peer = peer
		event.Data = 0

		peer.Reset()
	} else {
		peer.eventData = 0

		h.dispatchState(peer, PeerStateZombie)
	}
}

// removeSentUnreliableCommands frees unreliable commands after their one
// transmission attempt.
func removeSentUnreliableCommands(peer *Peer) {
	for !peer.sentUnreliableCommands.Empty() {
		oc := list.Remove(peer.sentUnreliableCommands.Front()).Value
		if oc.packet != nil {
			oc.packet.releaseSent()
		}
	}
}

// removeSentReliableCommand retires the reliable command matching the
// acknowledged sequence number and channel, releasing its window slot and
// in-transit budget, and returns its command number.
func removeSentReliableCommand(peer *Peer, reliableSequenceNumber uint16, channelID uint8) uint8 {
	var oc *outgoingCommand
	wasSent := true

	current := peer.sentReliableCommands.Front()
	for ; current != peer.sentReliableCommands.End(); current = current.Next() {
		oc = current.Value
		if oc.reliableSequenceNumber == reliableSequenceNumber &&
			oc.command.Header.ChannelID == channelID {
			break
		}
	}

	if current == peer.sentReliableCommands.End() {
		current = peer.outgoingReliableCommands.Front()
		for ; current != peer.outgoingReliableCommands.End(); current = current.Next() {
			oc = current.Value

			if oc.sendAttempts < 1 {
				return protocol.CommandNone
			}

			if oc.reliableSequenceNumber == reliableSequenceNumber &&
				oc.command.Header.ChannelID == channelID {
				break
			}
		}

		if current == peer.outgoingReliableCommands.End() {
			return protocol.CommandNone
		}

		wasSent = false
	}

	if oc == nil {
		return protocol.CommandNone
	}

	if int(channelID) < len(peer.channels) {
		ch := &peer.channels[channelID]
		reliableWindow := reliableSequenceNumber / peerReliableWindowSize
		if ch.reliableWindows[reliableWindow] > 0 {
			ch.reliableWindows[reliableWindow]--
			if ch.reliableWindows[reliableWindow] == 0 {
				ch.usedReliableWindows &^= 1 << reliableWindow
			}
		}
	}

	commandNumber := oc.command.Header.Command & protocol.CommandMask

	list.Remove(&oc.link)

	if oc.packet != nil {
		if wasSent {
			peer.reliableDataInTransit -= uint32(oc.fragmentLength)
		}
		oc.packet.releaseSent()
	}

	if peer.sentReliableCommands.Empty() {
		return commandNumber
	}

	front := peer.sentReliableCommands.Front().Value
	peer.nextTimeout = front.sentTime + front.roundTripTimeout

	return commandNumber
}

// handleConnect accepts an incoming connection request on an unused peer
// slot, derives the session IDs, negotiates MTU and window size, and
// replies with a verify command.
func (h *Host) handleConnect(command *protocol.Command) *Peer {
	channelCount := int(command.Connect.ChannelCount)

	if channelCount < protocol.MinimumChannelCount ||
		channelCount > protocol.MaximumChannelCount {
		return nil
	}

	var peer *Peer
	duplicatePeers := 0
	for i := range h.peers {
		currentPeer := &h.peers[i]
		if currentPeer.state == PeerStateDisconnected {
			if peer == nil {
				peer = currentPeer
			}
		} else if currentPeer.state != PeerStateConnecting &&
			currentPeer.address.Host == h.receivedAddress.Host {
			if currentPeer.address.Port == h.receivedAddress.Port &&
				currentPeer.connectID == command.Connect.ConnectID {
				return nil
			}
			duplicatePeers++
		}
	}

	if peer == nil || duplicatePeers >= h.duplicatePeers {
		return nil
	}

	if channelCount > h.channelLimit {
		channelCount = h.channelLimit
	}
	peer.channels = make([]channel, channelCount)
	peer.state = PeerStateAcknowledgingConnect
	peer.connectID = command.Connect.ConnectID
	peer.address = h.receivedAddress
	peer.outgoingPeerID = command.Connect.OutgoingPeerID
	peer.incomingBandwidth = command.Connect.IncomingBandwidth
	peer.outgoingBandwidth = command.Connect.OutgoingBandwidth
	peer.packetThrottleInterval = command.Connect.PacketThrottleInterval
	peer.packetThrottleAcceleration = command.Connect.PacketThrottleAcceleration
	peer.packetThrottleDeceleration = command.Connect.PacketThrottleDeceleration
	peer.eventData = command.Connect.Data

	const sessionMask = protocol.HeaderSessionMask >> protocol.HeaderSessionShift

	incomingSessionID := command.Connect.IncomingSessionID
	if incomingSessionID == 0xFF {
		incomingSessionID = peer.outgoingSessionID
	}
	incomingSessionID = (incomingSessionID + 1) & sessionMask
	if incomingSessionID == peer.outgoingSessionID {
		incomingSessionID = (incomingSessionID + 1) & sessionMask
	}
	peer.outgoingSessionID = incomingSessionID

	outgoingSessionID := command.Connect.OutgoingSessionID
	if outgoingSessionID == 0xFF {
		outgoingSessionID = peer.incomingSessionID
	}
	outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	if outgoingSessionID == peer.incomingSessionID {
		outgoingSessionID = (outgoingSessionID + 1) & sessionMask
	}
	peer.incomingSessionID = outgoingSessionID

	for i := range peer.channels {
		peer.channels[i].init()
	}

	mtu := command.Connect.MTU
	if mtu < protocol.MinimumMTU {
		mtu = protocol.MinimumMTU
	} else if mtu > protocol.MaximumMTU {
		mtu = protocol.MaximumMTU
	}
	peer.mtu = mtu

	if h.outgoingBandwidth == 0 && peer.incomingBandwidth == 0 {
		peer.windowSize = protocol.MaximumWindowSize
	} else if h.outgoingBandwidth == 0 || peer.incomingBandwidth == 0 {
		peer.windowSize = (max32(h.outgoingBandwidth, peer.incomingBandwidth) /
			peerWindowSizeScale) * protocol.MinimumWindowSize
	} else {
		peer.windowSize = (min32(h.outgoingBandwidth, peer.incomingBandwidth) /
			peerWindowSizeScale) * protocol.MinimumWindowSize
	}
	if peer.windowSize < protocol.MinimumWindowSize {
		peer.windowSize = protocol.MinimumWindowSize
	} else if peer.windowSize > protocol.MaximumWindowSize {
		peer.windowSize = protocol.MaximumWindowSize
	}

	var windowSize uint32
	if h.incomingBandwidth == 0 {
		windowSize = protocol.MaximumWindowSize
	} else {
		windowSize = (h.incomingBandwidth / peerWindowSizeScale) * protocol.MinimumWindowSize
	}
	if windowSize > command.Connect.WindowSize {
		windowSize = command.Connect.WindowSize
	}
	if windowSize < protocol.MinimumWindowSize {
		windowSize = protocol.MinimumWindowSize
	} else if windowSize > protocol.MaximumWindowSize {
		windowSize = protocol.MaximumWindowSize
	}

	var verifyCommand protocol.Command
	verifyCommand.Header.Command = protocol.CommandVerifyConnect | protocol.CommandFlagAcknowledge
	verifyCommand.Header.ChannelID = 0xFF
	verifyCommand.VerifyConnect.OutgoingPeerID = peer.incomingPeerID
	verifyCommand.VerifyConnect.IncomingSessionID = incomingSessionID
	verifyCommand.VerifyConnect.OutgoingSessionID = outgoingSessionID
	verifyCommand.VerifyConnect.MTU = peer.mtu
	verifyCommand.VerifyConnect.WindowSize = windowSize
	verifyCommand.VerifyConnect.ChannelCount = uint32(channelCount)
	verifyCommand.VerifyConnect.IncomingBandwidth = h.incomingBandwidth
	verifyCommand.VerifyConnect.OutgoingBandwidth = h.outgoingBandwidth
	verifyCommand.VerifyConnect.PacketThrottleInterval = peer.packetThrottleInterval
	verifyCommand.VerifyConnect.PacketThrottleAcceleration = peer.packetThrottleAcceleration
	verifyCommand.VerifyConnect.PacketThrottleDeceleration = peer.packetThrottleDeceleration
	verifyCommand.VerifyConnect.ConnectID = peer.connectID

	peer.queueOutgoingCommand(&verifyCommand, nil, 0, 0)

	h.logger.Debug("accepted connection from %s, peer %d", peer.address, peer.incomingPeerID)

	return peer
}

func (h *Host) handleSendReliable(peer *Peer, command *protocol.Command, data []byte, currentData *int) int {
	if int(command.Header.ChannelID) >= len(peer.channels) ||
		(peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) {
		return -1
	}

	dataLength := int(command.SendReliable.DataLength)
	start := *currentData
	*currentData += dataLength
	if dataLength > h.maximumPacketSize || *currentData > len(data) {
		return -1
	}

	if _, err := peer.queueIncomingCommand(command, data[start:start+dataLength], dataLength, PacketFlagReliable, 0); err != nil {
		return -1
	}

	return 0
}

func (h *Host) handleSendUnsequenced(peer *Peer, command *protocol.Command, data []byte, currentData *int) int {
	if int(command.Header.ChannelID) >= len(peer.channels) ||
		(peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) {
		return -1
	}

	dataLength := int(command.SendUnsequenced.DataLength)
	start := *currentData
	*currentData += dataLength
	if dataLength > h.maximumPacketSize || *currentData > len(data) {
		return -1
	}

	unsequencedGroup := uint32(command.SendUnsequenced.UnsequencedGroup)
	index := unsequencedGroup % peerUnsequencedWindowSize

	if unsequencedGroup < uint32(peer.incomingUnsequencedGroup) {
		unsequencedGroup += 0x10000
	}

	if unsequencedGroup >= uint32(peer.incomingUnsequencedGroup)+peerFreeUnsequencedWindows*peerUnsequencedWindowSize {
		return 0
	}

	unsequencedGroup &= 0xFFFF

	if uint16(unsequencedGroup-index) != peer.incomingUnsequencedGroup {
		peer.incomingUnsequencedGroup = uint16(unsequencedGroup - index)
		peer.unsequencedWindow = [peerUnsequencedWindowSize / 32]uint32{}
	} else if peer.unsequencedWindow[index/32]&(1<<(index%32)) != 0 {
		return 0
	}

	if _, err := peer.queueIncomingCommand(command, data[start:start+dataLength], dataLength, PacketFlagUnsequenced, 0); err != nil {
		return -1
	}

	peer.unsequencedWindow[index/32] |= 1 << (index % 32)

	return 0
}

func (h *Host) handleSendUnreliable(peer *Peer, command *protocol.Command, data []byte, currentData *int) int {
	if int(command.Header.ChannelID) >= len(peer.channels) ||
		(peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) {
		return -1
	}

	dataLength := int(command.SendUnreliable.DataLength)
	start := *currentData
	*currentData += dataLength
	if dataLength > h.maximumPacketSize || *currentData > len(data) {
		return -1
	}

	if _, err := peer.queueIncomingCommand(command, data[start:start+dataLength], dataLength, 0, 0); err != nil {
		return -1
	}

	return 0
}

func (h *Host) handleSendFragment(peer *Peer, command *protocol.Command, data []byte, currentData *int) int {
	if int(command.Header.ChannelID) >= len(peer.channels) ||
		(peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) {
		return -1
	}

	fragmentLength := int(command.SendFragment.DataLength)
	start := *currentData
	*currentData += fragmentLength
	if fragmentLength > h.maximumPacketSize || *currentData > len(data) {
		return -1
	}

	ch := &peer.channels[command.Header.ChannelID]
	startSequenceNumber := command.SendFragment.StartSequenceNumber
	startWindow := startSequenceNumber / peerReliableWindowSize
	currentWindow := ch.incomingReliableSequenceNumber / peerReliableWindowSize

	if startSequenceNumber < ch.incomingReliableSequenceNumber {
		startWindow += peerReliableWindows
	}

	if startWindow < currentWindow || startWindow >= currentWindow+peerFreeReliableWindows-1 {
		return 0
	}

	fragmentNumber := command.SendFragment.FragmentNumber
	fragmentCount := command.SendFragment.FragmentCount
	fragmentOffset := command.SendFragment.FragmentOffset
	totalLength := command.SendFragment.TotalLength

	if fragmentCount > protocol.MaximumFragmentCount ||
		fragmentNumber >= fragmentCount ||
		int(totalLength) > h.maximumPacketSize ||
		fragmentOffset >= totalLength ||
		uint32(fragmentLength) > totalLength-fragmentOffset {
		return -1
	}

	var startCommand *incomingCommand
	queue := &ch.incomingReliableCommands
	for current := queue.Back(); current != queue.End(); current = current.Prev() {
		ic := current.Value

		if startSequenceNumber >= ch.incomingReliableSequenceNumber {
			if ic.reliableSequenceNumber < ch.incomingReliableSequenceNumber {
				continue
			}
		} else if ic.reliableSequenceNumber >= ch.incomingReliableSequenceNumber {
			break
		}

		if ic.reliableSequenceNumber <= startSequenceNumber {
			if ic.reliableSequenceNumber < startSequenceNumber {
				break
			}

			if ic.command.Header.Command&protocol.CommandMask != protocol.CommandSendFragment ||
				int(totalLength) != len(ic.packet.Data) ||
				fragmentCount != ic.fragmentCount {
				return -1
			}

			startCommand = ic
			break
		}
	}

	if startCommand == nil {
		hostCommand := *command
		hostCommand.Header.ReliableSequenceNumber = startSequenceNumber

		ic, err := peer.queueIncomingCommand(&hostCommand, nil, int(totalLength), PacketFlagReliable, fragmentCount)
		if err != nil || ic == nil {
			return -1
		}
		startCommand = ic
	}

	if startCommand.fragments[fragmentNumber/32]&(1<<(fragmentNumber%32)) == 0 {
		startCommand.fragmentsRemaining--
		startCommand.fragments[fragmentNumber/32] |= 1 << (fragmentNumber % 32)

		if int(fragmentOffset)+fragmentLength > len(startCommand.packet.Data) {
			fragmentLength = len(startCommand.packet.Data) - int(fragmentOffset)
		}

		copy(startCommand.packet.Data[fragmentOffset:], data[start:start+fragmentLength])

		if startCommand.fragmentsRemaining == 0 {
			peer.dispatchIncomingReliableCommands(ch)
		}
	}

	return 0
}

func (h *Host) handleSendUnreliableFragment(peer *Peer, command *protocol.Command, data []byte, currentData *int) int {
	if int(command.Header.ChannelID) >= len(peer.channels) ||
		(peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater) {
		return -1
	}

	fragmentLength := int(command.SendFragment.DataLength)
	start := *currentData
	*currentData += fragmentLength
	if fragmentLength > h.maximumPacketSize || *currentData > len(data) {
		return -1
	}

	ch := &peer.channels[command.Header.ChannelID]
	reliableSequenceNumber := command.Header.ReliableSequenceNumber
	startSequenceNumber := command.SendFragment.StartSequenceNumber

	reliableWindow := reliableSequenceNumber / peerReliableWindowSize
	currentWindow := ch.incomingReliableSequenceNumber / peerReliableWindowSize

	if reliableSequenceNumber < ch.incomingReliableSequenceNumber {
		reliableWindow += peerReliableWindows
	}

	if reliableWindow < currentWindow || reliableWindow >= currentWindow+peerFreeReliableWindows-1 {
		return 0
	}

	if reliableSequenceNumber == ch.incomingReliableSequenceNumber &&
		startSequenceNumber <= ch.incomingUnreliableSequenceNumber {
		return 0
	}

	fragmentNumber := command.SendFragment.FragmentNumber
	fragmentCount := command.SendFragment.FragmentCount
	fragmentOffset := command.SendFragment.FragmentOffset
	totalLength := command.SendFragment.TotalLength

	if fragmentCount > protocol.MaximumFragmentCount ||
		fragmentNumber >= fragmentCount ||
		int(totalLength) > h.maximumPacketSize ||
		fragmentOffset >= totalLength ||
		uint32(fragmentLength) > totalLength-fragmentOffset {
		return -1
	}

	var startCommand *incomingCommand
	queue := &ch.incomingUnreliableCommands
	for current := queue.Back(); current != queue.End(); current = current.Prev() {
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

		if ic.unreliableSequenceNumber <= startSequenceNumber {
			if ic.unreliableSequenceNumber < startSequenceNumber {
				break
			}

			if ic.command.Header.Command&protocol.CommandMask != protocol.CommandSendUnreliableFragment ||
				int(totalLength) != len(ic.packet.Data) ||
				fragmentCount != ic.fragmentCount {
				return -1
			}

			startCommand = ic
			break
		}
	}

	if startCommand == nil {
		ic, err := peer.queueIncomingCommand(command, nil, int(totalLength), PacketFlagUnreliableFragment, fragmentCount)
		if err != nil || ic == nil {
			return -1
		}
		startCommand = ic
	}

	if startCommand.fragments[fragmentNumber/32]&(1<<(fragmentNumber%32)) == 0 {
		startCommand.fragmentsRemaining--
		startCommand.fragments[fragmentNumber/32] |= 1 << (fragmentNumber % 32)

		if int(fragmentOffset)+fragmentLength > len(startCommand.packet.Data) {
			fragmentLength = len(startCommand.packet.Data) - int(fragmentOffset)
		}

		copy(startCommand.packet.Data[fragmentOffset:], data[start:start+fragmentLength])

		if startCommand.fragmentsRemaining == 0 {
			peer.dispatchIncomingUnreliableCommands(ch)
		}
	}

	return 0
}

func (h *Host) handlePing(peer *Peer) int {
	if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
		return -1
	}
	return 0
}

func (h *Host) handleBandwidthLimit(peer *Peer, command *protocol.Command) int {
	if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
		return -1
	}

	if peer.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers--
	}

	peer.incomingBandwidth = command.BandwidthLimit.IncomingBandwidth
	peer.outgoingBandwidth = command.BandwidthLimit.OutgoingBandwidth

	if peer.incomingBandwidth != 0 {
		h.bandwidthLimitedPeers++
	}

	if peer.incomingBandwidth == 0 && h.outgoingBandwidth == 0 {
		peer.windowSize = protocol.MaximumWindowSize
	} else if peer.incomingBandwidth == 0 || h.outgoingBandwidth == 0 {
		peer.windowSize = (max32(peer.incomingBandwidth, h.outgoingBandwidth) /
			peerWindowSizeScale) * protocol.MinimumWindowSize
	} else {
		peer.windowSize = (min32(peer.incomingBandwidth, h.outgoingBandwidth) /
			peerWindowSizeScale) * protocol.MinimumWindowSize
	}

	if peer.windowSize < protocol.MinimumWindowSize {
		peer.windowSize = protocol.MinimumWindowSize
	} else if peer.windowSize > protocol.MaximumWindowSize {
		peer.windowSize = protocol.MaximumWindowSize
	}

	return 0
}

func (h *Host) handleThrottleConfigure(peer *Peer, command *protocol.Command) int {
	if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
		return -1
	}

	peer.packetThrottleInterval = command.ThrottleConfigure.PacketThrottleInterval
	peer.packetThrottleAcceleration = command.ThrottleConfigure.PacketThrottleAcceleration
	peer.packetThrottleDeceleration = command.ThrottleConfigure.PacketThrottleDeceleration

	return 0
}

func (h *Host) handleDisconnect(peer *Peer, command *protocol.Command) int {
	if peer.state == PeerStateDisconnected || peer.state == PeerStateZombie ||
		peer.state == PeerStateAcknowledgingDisconnect {
		return 0
	}

	peer.resetQueues()

	if peer.state == PeerStateConnectionSucceeded || peer.state == PeerStateDisconnecting || peer.state == PeerStateConnecting {
		h.dispatchState(peer, PeerStateZombie)
	} else if peer.state != PeerStateConnected && peer.state != PeerStateDisconnectLater {
		if peer.state == PeerStateConnectionPending {
			h.recalculateBandwidthLimits = true
		}
		peer.Reset()
	} else if command.Header.Command&protocol.CommandFlagAcknowledge != 0 {
		h.changeState(peer, PeerStateAcknowledgingDisconnect)
	} else {
		h.dispatchState(peer, PeerStateZombie)
	}

	if peer.state != PeerStateDisconnected {
		peer.eventData = command.Disconnect.Data
	}

	return 0
}

func (h *Host) handleAcknowledge(event *Event, peer *Peer, command *protocol.Command) int {
	if peer.state == PeerStateDisconnected || peer.state == PeerStateZombie {
		return 0
	}

	receivedSentTime := uint32(command.Acknowledge.ReceivedSentTime)
	receivedSentTime |= h.serviceTime & 0xFFFF0000
	if (receivedSentTime & 0x8000) > (h.serviceTime & 0x8000) {
		receivedSentTime -= 0x10000
	}

	if timeLess(h.serviceTime, receivedSentTime) {
		return 0
	}

	peer.lastReceiveTime = h.serviceTime
	peer.earliestTimeout = 0

	roundTripTime := timeDiff(h.serviceTime, receivedSentTime)

	peer.throttle(roundTripTime)

	peer.roundTripTimeVariance -= peer.roundTripTimeVariance / 4

	if roundTripTime >= peer.roundTripTime {
		peer.roundTripTime += (roundTripTime - peer.roundTripTime) / 8
		peer.roundTripTimeVariance += (roundTripTime - peer.roundTripTime) / 4
	} else {
		peer.roundTripTime -= (peer.roundTripTime - roundTripTime) / 8
		peer.roundTripTimeVariance += (peer.roundTripTime - roundTripTime) / 4
	}

	if peer.roundTripTime < peer.lowestRoundTripTime {
		peer.lowestRoundTripTime = peer.roundTripTime
	}
	if peer.roundTripTimeVariance > peer.highestRoundTripTimeVariance {
		peer.highestRoundTripTimeVariance = peer.roundTripTimeVariance
	}

	if peer.packetThrottleEpoch == 0 ||
		timeDiff(h.serviceTime, peer.packetThrottleEpoch) >= peer.packetThrottleInterval {
		peer.lastRoundTripTime = peer.lowestRoundTripTime
		peer.lastRoundTripTimeVariance = peer.highestRoundTripTimeVariance
		peer.lowestRoundTripTime = peer.roundTripTime
		peer.highestRoundTripTimeVariance = peer.roundTripTimeVariance
		peer.packetThrottleEpoch = h.serviceTime
	}

	receivedReliableSequenceNumber := command.Acknowledge.ReceivedReliableSequenceNumber

	commandNumber := removeSentReliableCommand(peer, receivedReliableSequenceNumber, command.Header.ChannelID)

	switch peer.state {
	case PeerStateAcknowledgingConnect:
		if commandNumber != protocol.CommandVerifyConnect {
			return -1
		}
		h.notifyConnect(peer, event)

	case PeerStateDisconnecting:
		if commandNumber != protocol.CommandDisconnect {
			return -1
		}
		h.notifyDisconnect(peer, event)

	case PeerStateDisconnectLater:
		if peer.outgoingReliableCommands.Empty() &&
			peer.outgoingUnreliableCommands.Empty() &&
			peer.sentReliableCommands.Empty() {
			peer.Disconnect(peer.eventData)
		}

	default:
	}

	return 0
}

func (h *Host) handleVerifyConnect(event *Event, peer *Peer, command *protocol.Command) int {
	if peer.state != PeerStateConnecting {
		return 0
	}

	channelCount := int(command.VerifyConnect.ChannelCount)

	if channelCount < protocol.MinimumChannelCount || channelCount > protocol.MaximumChannelCount ||
		command.VerifyConnect.PacketThrottleInterval != peer.packetThrottleInterval ||
		command.VerifyConnect.PacketThrottleAcceleration != peer.packetThrottleAcceleration ||
		command.VerifyConnect.PacketThrottleDeceleration != peer.packetThrottleDeceleration ||
		command.VerifyConnect.ConnectID != peer.connectID {
		peer.eventData = 0

		h.dispatchState(peer, PeerStateZombie)

		return -1
	}

	removeSentReliableCommand(peer, 1, 0xFF)

	if channelCount < len(peer.channels) {
		peer.channels = peer.channels[:channelCount]
	}

	peer.outgoingPeerID = command.VerifyConnect.OutgoingPeerID
	peer.incomingSessionID = command.VerifyConnect.IncomingSessionID
	peer.outgoingSessionID = command.VerifyConnect.OutgoingSessionID

	mtu := command.VerifyConnect.MTU
	if mtu < protocol.MinimumMTU {
		mtu = protocol.MinimumMTU
	} else if mtu > protocol.MaximumMTU {
		mtu = protocol.MaximumMTU
	}
	if mtu < peer.mtu {
		peer.mtu = mtu
	}

	windowSize := command.VerifyConnect.WindowSize
	if windowSize < protocol.MinimumWindowSize {
		windowSize = protocol.MinimumWindowSize
	}
	if windowSize > protocol.MaximumWindowSize {
		windowSize = protocol.MaximumWindowSize
	}
	if windowSize < peer.windowSize {
		peer.windowSize = windowSize
	}

	peer.incomingBandwidth = command.VerifyConnect.IncomingBandwidth
	peer.outgoingBandwidth = command.VerifyConnect.OutgoingBandwidth

	h.notifyConnect(peer, event)
	return 0
}

// handleIncomingCommands parses and executes the datagram sitting in
// h.receivedData. Malformed framing breaks out silently; the datagram is
// simply dropped. Returns 1 when event was filled.
func (h *Host) handleIncomingCommands(event *Event) int {
	header, headerSize, err := protocol.DecodeHeader(h.receivedData)
	if err != nil {
		return 0
	}

	peerID := header.PeerID
	sessionID := uint8((peerID & protocol.HeaderSessionMask) >> protocol.HeaderSessionShift)
	flags := peerID & protocol.HeaderFlagMask
	peerID &^= protocol.HeaderFlagMask | protocol.HeaderSessionMask

	if h.checksum != nil {
		headerSize += protocol.ChecksumSize
	}

	var peer *Peer
	if peerID == protocol.MaximumPeerID {
		peer = nil
	} else if int(peerID) >= len(h.peers) {
		return 0
	} else {
		peer = &h.peers[peerID]

		if peer.state == PeerStateDisconnected ||
			peer.state == PeerStateZombie ||
			((h.receivedAddress.Host != peer.address.Host ||
				h.receivedAddress.Port != peer.address.Port) &&
				peer.address.Host != protocol.HostBroadcast) ||
			(peer.outgoingPeerID < protocol.MaximumPeerID &&
				sessionID != peer.incomingSessionID) {
			return 0
		}
	}

	if flags&protocol.HeaderFlagCompressed != 0 {
		if h.compressor == nil {
			return 0
		}
		if headerSize > len(h.receivedData) {
			return 0
		}

		originalSize := h.compressor.Decompress(
			h.receivedData[headerSize:],
			h.packetData[1][headerSize:])
		if originalSize <= 0 || originalSize > len(h.packetData[1])-headerSize {
			return 0
		}

		copy(h.packetData[1][:headerSize], h.receivedData[:headerSize])
		h.receivedData = h.packetData[1][:headerSize+originalSize]
	}

	if h.checksum != nil {
		if headerSize > len(h.receivedData) {
			return 0
		}
		checksumOffset := headerSize - protocol.ChecksumSize
		desiredChecksum := binary.BigEndian.Uint32(h.receivedData[checksumOffset:headerSize])

		var seed uint32
		if peer != nil {
			seed = peer.connectID
		}
		binary.BigEndian.PutUint32(h.receivedData[checksumOffset:headerSize], seed)

		if h.checksum([][]byte{h.receivedData}) != desiredChecksum {
			return 0
		}
	}

	if peer != nil {
		peer.address.Host = h.receivedAddress.Host
		peer.address.Port = h.receivedAddress.Port
		peer.incomingDataTotal += uint32(len(h.receivedData))
	}

	currentData := headerSize

commandLoop:
	for currentData < len(h.receivedData) {
		var command protocol.Command

		commandSize, err := protocol.DecodeCommand(h.receivedData[currentData:], &command)
		if err != nil {
			break
		}
		commandNumber := command.Header.Command & protocol.CommandMask

		currentData += commandSize

		if peer == nil && commandNumber != protocol.CommandConnect {
			break
		}

		switch commandNumber {
		case protocol.CommandAcknowledge:
			if h.handleAcknowledge(event, peer, &command) != 0 {
				break commandLoop
			}

		case protocol.CommandConnect:
			if peer != nil {
				break commandLoop
			}
			peer = h.handleConnect(&command)
			if peer == nil {
				break commandLoop
			}

		case protocol.CommandVerifyConnect:
			if h.handleVerifyConnect(event, peer, &command) != 0 {
				break commandLoop
			}

		case protocol.CommandDisconnect:
			if h.handleDisconnect(peer, &command) != 0 {
				break commandLoop
			}

		case protocol.CommandPing:
			if h.handlePing(peer) != 0 {
				break commandLoop
			}

		case protocol.CommandSendReliable:
			if h.handleSendReliable(peer, &command, h.receivedData, &currentData) != 0 {
				break commandLoop
			}

		case protocol.CommandSendUnreliable:
			if h.handleSendUnreliable(peer, &command, h.receivedData, &currentData) != 0 {
				break commandLoop
			}

		case protocol.CommandSendUnsequenced:
			if h.handleSendUnsequenced(peer, &command, h.receivedData, &currentData) != 0 {
				break commandLoop
			}

		case protocol.CommandSendFragment:
			if h.handleSendFragment(peer, &command, h.receivedData, &currentData) != 0 {
				break commandLoop
			}

		case protocol.CommandBandwidthLimit:
			if h.handleBandwidthLimit(peer, &command) != 0 {
				break commandLoop
			}

		case protocol.CommandThrottleConfigure:
			if h.handleThrottleConfigure(peer, &command) != 0 {
				break commandLoop
			}

		case protocol.CommandSendUnreliableFragment:
			if h.handleSendUnreliableFragment(peer, &command, h.receivedData, &currentData) != 0 {
				break commandLoop
			}

		default:
			break commandLoop
		}

		if peer != nil && command.Header.Command&protocol.CommandFlagAcknowledge != 0 {
			if flags&protocol.HeaderFlagSentTime == 0 {
				break
			}

			sentTime := header.SentTime

			switch peer.state {
			case PeerStateDisconnecting,
				PeerStateAcknowledgingConnect,
				PeerStateDisconnected,
				PeerStateZombie:

			case PeerStateAcknowledgingDisconnect:
				if commandNumber == protocol.CommandDisconnect {
					peer.queueAcknowledgement(&command, sentTime)
				}

			default:
				peer.queueAcknowledgement(&command, sentTime)
			}
		}
	}

	if event != nil && event.Type != EventNone {
		return 1
	}

	return 0
}

// receiveIncomingCommands pulls up to 256 datagrams off the socket and
// processes each. Returns 1 when event was filled, 0 when the socket ran
// dry or the datagram budget was reached; transport failures surface as
// errors.
func (h *Host) receiveIncomingCommands(event *Event) (int, error) {
	for packets := 0; packets < 256; packets++ {
		receivedLength, receivedAddress, err := h.socket.Receive(h.packetData[0][:])
		if err != nil {
			return 0, err
		}
		if receivedLength == 0 {
			return 0, nil
		}

		h.receivedAddress = receivedAddress
		h.receivedData = h.packetData[0][:receivedLength]

		h.totalReceivedData += uint32(receivedLength)
		h.totalReceivedPackets++

		if h.intercept != nil {
			switch h.intercept(h, event) {
			case 1:
				if event != nil && event.Type != EventNone {
					return 1, nil
				}
				continue

			case 0:

			default:
				return 0, errInterceptFailed
			}
		}

		if h.handleIncomingCommands(event) == 1 {
			return 1, nil
		}
	}

	return 0, nil
}

// pushCommand serializes a command into the host's scratch area and
// appends it to the outgoing scatter list.
func (h *Host) pushCommand(command *protocol.Command) {
	n := protocol.EncodeCommand(command, h.commandData[h.commandUsed:])
	buf := h.commandData[h.commandUsed : h.commandUsed+n]
	h.commandUsed += n
	h.commandCount++
	h.buffers = append(h.buffers, buf)
	h.packetSize += n
}

// sendAcknowledgements drains as many queued acks as fit in the datagram
// under construction. An acknowledged disconnect moves the peer to the
// zombie state once the ack is on its way.
func (h *Host) sendAcknowledgements(peer *Peer) {
	currentAcknowledgement := peer.acknowledgements.Front()

	for currentAcknowledgement != peer.acknowledgements.End() {
		if h.commandCount >= protocol.MaxPacketCommands ||
			len(h.buffers) >= bufferMaximum ||
			int(peer.mtu)-h.packetSize < protocol.AcknowledgeSize {
			h.continueSending = true
			break
		}

		ack := currentAcknowledgement.Value
		currentAcknowledgement = currentAcknowledgement.Next()

		var command protocol.Command
		command.Header.Command = protocol.CommandAcknowledge
		command.Header.ChannelID = ack.command.Header.ChannelID
		command.Header.ReliableSequenceNumber = ack.command.Header.ReliableSequenceNumber
		command.Acknowledge.ReceivedReliableSequenceNumber = ack.command.Header.ReliableSequenceNumber
		command.Acknowledge.ReceivedSentTime = uint16(ack.sentTime)

		h.pushCommand(&command)

		if ack.command.Header.Command&protocol.CommandMask == protocol.CommandDisconnect {
			h.dispatchState(peer, PeerStateZombie)
		}

		list.Remove(&ack.link)
	}
}

// checkTimeouts retransmits reliable commands whose round-trip timeout
// expired, doubling their timeout, and disconnects the peer when its
// earliest outstanding command has aged past the timeout bounds. Returns
// 1 when the peer was disconnected.
func (h *Host) checkTimeouts(peer *Peer, event *Event) int {
	currentCommand := peer.sentReliableCommands.Front()
	insertPosition := peer.outgoingReliableCommands.Front()

	for currentCommand != peer.sentReliableCommands.End() {
		oc := currentCommand.Value
		currentCommand = currentCommand.Next()

		if timeDiff(h.serviceTime, oc.sentTime) < oc.roundTripTimeout {
			continue
		}

		if peer.earliestTimeout == 0 || timeLess(oc.sentTime, peer.earliestTimeout) {
			peer.earliestTimeout = oc.sentTime
		}

		if peer.earliestTimeout != 0 &&
			(timeDiff(h.serviceTime, peer.earliestTimeout) >= peer.timeoutMaximum ||
				(oc.roundTripTimeout >= oc.roundTripTimeoutLimit &&
					timeDiff(h.serviceTime, peer.earliestTimeout) >= peer.timeoutMinimum)) {
			h.logger.Warn("peer %d timed out after %d ms without acknowledgement",
				peer.incomingPeerID, timeDiff(h.serviceTime, peer.earliestTimeout))
			h.notifyDisconnect(peer, event)
			return 1
		}

		if oc.packet != nil {
			peer.reliableDataInTransit -= uint32(oc.fragmentLength)
		}

		peer.packetsLost++

		oc.roundTripTimeout *= 2

		peer.outgoingReliableCommands.InsertBefore(insertPosition, list.Remove(&oc.link))

		if currentCommand == peer.sentReliableCommands.Front() &&
			!peer.sentReliableCommands.Empty() {
			front := currentCommand.Value
			peer.nextTimeout = front.sentTime + front.roundTripTimeout
		}
	}

	return 0
}

// sendReliableOutgoingCommands serializes queued reliable commands that
// pass the reliable-window guard and the per-peer congestion window,
// moving them to the sent queue to await acknowledgement. Returns true
// when no queued command got past the window checks, which permits an
// opportunistic ping.
func (h *Host) sendReliableOutgoingCommands(peer *Peer) bool {
	windowExceeded := false
	windowWrap := false
	canPing := true

	currentCommand := peer.outgoingReliableCommands.Front()

	for currentCommand != peer.outgoingReliableCommands.End() {
		oc := currentCommand.Value

		var ch *channel
		if int(oc.command.Header.ChannelID) < len(peer.channels) {
			ch = &peer.channels[oc.command.Header.ChannelID]
		}
		reliableWindow := oc.reliableSequenceNumber / peerReliableWindowSize
		if ch != nil {
			if !windowWrap &&
				oc.sendAttempts < 1 &&
				oc.reliableSequenceNumber%peerReliableWindowSize == 0 &&
				(ch.reliableWindows[(reliableWindow+peerReliableWindows-1)%peerReliableWindows] >= peerReliableWindowSize ||
					uint32(ch.usedReliableWindows)&
						((uint32(1<<peerFreeReliableWindows-1)<<reliableWindow)|
							(uint32(1<<peerFreeReliableWindows-1)>>(peerReliableWindows-reliableWindow))) != 0) {
				windowWrap = true
			}
			if windowWrap {
				currentCommand = currentCommand.Next()
				continue
			}
		}

		if oc.packet != nil {
			if !windowExceeded {
				windowSize := (peer.packetThrottle * peer.windowSize) / peerPacketThrottleScale

				if peer.reliableDataInTransit+uint32(oc.fragmentLength) > max32(windowSize, peer.mtu) {
					windowExceeded = true
				}
			}
			if windowExceeded {
				currentCommand = currentCommand.Next()
				continue
			}
		}

		canPing = false

		commandSize := protocol.CommandSize(oc.command.Header.Command)
		if h.commandCount >= protocol.MaxPacketCommands ||
			len(h.buffers)+1 >= bufferMaximum ||
			int(peer.mtu)-h.packetSize < commandSize ||
			(oc.packet != nil &&
				int(peer.mtu)-h.packetSize < commandSize+int(oc.fragmentLength)) {
			h.continueSending = true
			break
		}

		currentCommand = currentCommand.Next()

		if ch != nil && oc.sendAttempts < 1 {
			ch.usedReliableWindows |= 1 << reliableWindow
			ch.reliableWindows[reliableWindow]++
		}

		oc.sendAttempts++

		if oc.roundTripTimeout == 0 {
			oc.roundTripTimeout = peer.roundTripTime + 4*peer.roundTripTimeVariance
			oc.roundTripTimeoutLimit = peer.timeoutLimit * oc.roundTripTimeout
		}

		if peer.sentReliableCommands.Empty() {
			peer.nextTimeout = h.serviceTime + oc.roundTripTimeout
		}

		peer.sentReliableCommands.PushBack(list.Remove(&oc.link))

		oc.sentTime = h.serviceTime

		h.headerFlags |= protocol.HeaderFlagSentTime

		h.pushCommand(&oc.command)

		if oc.packet != nil {
			payload := oc.packet.Data[oc.fragmentOffset : oc.fragmentOffset+uint32(oc.fragmentLength)]
			h.buffers = append(h.buffers, payload)
			h.packetSize += int(oc.fragmentLength)

			peer.reliableDataInTransit += uint32(oc.fragmentLength)
		}

		peer.packetsSent++
	}

	return canPing
}

// sendUnreliableOutgoingCommands serializes queued unreliable commands,
// applying the throttle filter to each packet's first fragment; a dropped
// packet takes all its sibling commands with it.
func (h *Host) sendUnreliableOutgoingCommands(peer *Peer) {
	currentCommand := peer.outgoingUnreliableCommands.Front()

	for currentCommand != peer.outgoingUnreliableCommands.End() {
		oc := currentCommand.Value
		commandSize := protocol.CommandSize(oc.command.Header.Command)

		if h.commandCount >= protocol.MaxPacketCommands ||
			len(h.buffers)+1 >= bufferMaximum ||
			int(peer.mtu)-h.packetSize < commandSize ||
			(oc.packet != nil &&
				int(peer.mtu)-h.packetSize < commandSize+int(oc.fragmentLength)) {
			h.continueSending = true
			break
		}

		currentCommand = currentCommand.Next()

		if oc.packet != nil && oc.fragmentOffset == 0 {
			peer.packetThrottleCounter += peerPacketThrottleCounter
			peer.packetThrottleCounter %= peerPacketThrottleScale

			if peer.packetThrottleCounter > peer.packetThrottle {
				reliableSequenceNumber := oc.reliableSequenceNumber
				unreliableSequenceNumber := oc.unreliableSequenceNumber
				for {
					oc.packet.release()
					list.Remove(&oc.link)

					if currentCommand == peer.outgoingUnreliableCommands.End() {
						break
					}
					oc = currentCommand.Value
					if oc.reliableSequenceNumber != reliableSequenceNumber ||
						oc.unreliableSequenceNumber != unreliableSequenceNumber {
						break
					}

					currentCommand = currentCommand.Next()
				}

				continue
			}
		}

		list.Remove(&oc.link)

		h.pushCommand(&oc.command)

		if oc.packet != nil {
			payload := oc.packet.Data[oc.fragmentOffset : oc.fragmentOffset+uint32(oc.fragmentLength)]
			h.buffers = append(h.buffers, payload)
			h.packetSize += int(oc.fragmentLength)

			peer.sentUnreliableCommands.PushBack(&oc.link)
		}
	}

	if peer.state == PeerStateDisconnectLater &&
		peer.outgoingReliableCommands.Empty() &&
		peer.outgoingUnreliableCommands.Empty() &&
		peer.sentReliableCommands.Empty() {
		peer.Disconnect(peer.eventData)
	}
}

// sendOutgoingCommands runs the full send pass over every peer: acks,
// timeouts, reliable, opportunistic ping, unreliable, packet loss
// sampling, then compression, checksum and transmission of the assembled
// datagram. Returns 1 when a timeout disconnect filled event.
func (h *Host) sendOutgoingCommands(event *Event, checkForTimeouts bool) (int, error) {
	var headerData [protocol.HeaderSize + protocol.ChecksumSize]byte

	h.continueSending = true

	for h.continueSending {
		h.continueSending = false
		for i := range h.peers {
			currentPeer := &h.peers[i]
			if currentPeer.state == PeerStateDisconnected ||
				currentPeer.state == PeerStateZombie {
				continue
			}

			h.headerFlags = 0
			h.commandCount = 0
			h.commandUsed = 0
			h.buffers = h.bufferArr[:1]
			h.packetSize = protocol.HeaderSize

			if !currentPeer.acknowledgements.Empty() {
				h.sendAcknowledgements(currentPeer)
			}

			if checkForTimeouts &&
				!currentPeer.sentReliableCommands.Empty() &&
				timeGreaterEqual(h.serviceTime, currentPeer.nextTimeout) &&
				h.checkTimeouts(currentPeer, event) == 1 {
				if event != nil && event.Type != EventNone {
					return 1, nil
				}
				continue
			}

			if (currentPeer.outgoingReliableCommands.Empty() ||
				h.sendReliableOutgoingCommands(currentPeer)) &&
				currentPeer.sentReliableCommands.Empty() &&
				timeDiff(h.serviceTime, currentPeer.lastReceiveTime) >= currentPeer.pingInterval &&
				int(currentPeer.mtu)-h.packetSize >= protocol.PingSize {
				currentPeer.Ping()
				h.sendReliableOutgoingCommands(currentPeer)
			}

			if !currentPeer.outgoingUnreliableCommands.Empty() {
				h.sendUnreliableOutgoingCommands(currentPeer)
			}

			if h.commandCount == 0 {
				continue
			}

			if currentPeer.packetLossEpoch == 0 {
				currentPeer.packetLossEpoch = h.serviceTime
			} else if timeDiff(h.serviceTime, currentPeer.packetLossEpoch) >= peerPacketLossInterval &&
				currentPeer.packetsSent > 0 {
				packetLoss := currentPeer.packetsLost * peerPacketLossScale / currentPeer.packetsSent

				currentPeer.packetLossVariance -= currentPeer.packetLossVariance / 4

				if packetLoss >= currentPeer.packetLoss {
					currentPeer.packetLoss += (packetLoss - currentPeer.packetLoss) / 8
					currentPeer.packetLossVariance += (packetLoss - currentPeer.packetLoss) / 4
				} else {
					currentPeer.packetLoss -= (currentPeer.packetLoss - packetLoss) / 8
					currentPeer.packetLossVariance += (currentPeer.packetLoss - packetLoss) / 4
				}

				currentPeer.packetLossEpoch = h.serviceTime
				currentPeer.packetsSent = 0
				currentPeer.packetsLost = 0
			}

			shouldCompress := 0
			if h.compressor != nil {
				originalSize := h.packetSize - protocol.HeaderSize
				compressedSize := h.compressor.Compress(h.buffers[1:], originalSize, h.packetData[1][:originalSize])
				if compressedSize > 0 && compressedSize < originalSize {
					h.headerFlags |= protocol.HeaderFlagCompressed
					shouldCompress = compressedSize
				}
			}

			if currentPeer.outgoingPeerID < protocol.MaximumPeerID {
				h.headerFlags |= uint16(currentPeer.outgoingSessionID) << protocol.HeaderSessionShift
			}
			header := protocol.Header{
				PeerID:   currentPeer.outgoingPeerID | h.headerFlags,
				SentTime: uint16(h.serviceTime),
			}
			headerLength := protocol.EncodeHeader(&header, headerData[:])

			h.buffers[0] = headerData[:headerLength]

			if h.checksum != nil {
				var seed uint32
				if currentPeer.outgoingPeerID < protocol.MaximumPeerID {
					seed = currentPeer.connectID
				}
				binary.BigEndian.PutUint32(headerData[headerLength:headerLength+protocol.ChecksumSize], seed)
				h.buffers[0] = headerData[:headerLength+protocol.ChecksumSize]

				sum := h.checksum(h.buffers)
				binary.BigEndian.PutUint32(headerData[headerLength:headerLength+protocol.ChecksumSize], sum)
			}

			if shouldCompress > 0 {
				h.buffers = h.buffers[:2]
				h.buffers[1] = h.packetData[1][:shouldCompress]
			}

			currentPeer.lastSendTime = h.serviceTime

			sentLength, err := h.socket.Send(currentPeer.address, h.buffers)

			removeSentUnreliableCommands(currentPeer)

			if err != nil {
				return 0, err
			}

			h.totalSentData += uint32(sentLength)
			h.totalSentPackets++
		}
	}

	return 0, nil
}

// Flush sends any queued packets immediately, without receiving or
// waiting.
func (h *Host) Flush() {
	h.serviceTime = TimeGet()

	h.sendOutgoingCommands(nil, false)
}

// CheckEvents dispatches one queued event without doing any network
// work. Returns 1 when event was filled, 0 otherwise.
func (h *Host) CheckEvents(event *Event) (int, error) {
	if event == nil {
		return 0, ErrNilEvent
	}

	event.reset()

	return h.dispatchIncomingCommands(event), nil
}

// Service shuttles packets between the host and its peers, waiting up to
// timeout milliseconds for activity. When event is non-nil at most one
// event is delivered per call. Returns 1 when event was filled, 0 on
// timeout; transport failures surface as errors.
func (h *Host) Service(event *Event, timeout uint32) (int, error) {
	if event != nil {
		event.reset()

		if h.dispatchIncomingCommands(event) == 1 {
			return 1, nil
		}
	}

	h.serviceTime = TimeGet()
	timeout += h.serviceTime

	for {
		if timeDiff(h.serviceTime, h.bandwidthThrottleEpoch) >= hostBandwidthThrottleInterval {
			h.bandwidthThrottle()
		}

		if n, err := h.sendOutgoingCommands(event, true); err != nil {
			return 0, err
		} else if n == 1 {
			return 1, nil
		}

		if n, err := h.receiveIncomingCommands(event); err != nil {
			return 0, err
		} else if n == 1 {
			return 1, nil
		}

		if n, err := h.sendOutgoingCommands(event, true); err != nil {
			return 0, err
		} else if n == 1 {
			return 1, nil
		}

		if event != nil {
			if h.dispatchIncomingCommands(event) == 1 {
				return 1, nil
			}
		}

		if timeGreaterEqual(h.serviceTime, timeout) {
			return 0, nil
		}

		var waitCondition uint32
		for {
			h.serviceTime = TimeGet()

			if timeGreaterEqual(h.serviceTime, timeout) {
				return 0, nil
			}

			condition, err := h.socket.Wait(transport.WaitReceive|transport.WaitInterrupt, timeDiff(timeout, h.serviceTime))
			if err != nil {
				return 0, err
			}
			waitCondition = condition

			if waitCondition&transport.WaitInterrupt == 0 {
				break
			}
		}

		h.serviceTime = TimeGet()

		if waitCondition&transport.WaitReceive == 0 {
			return 0, nil
		}
	}
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
