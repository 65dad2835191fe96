package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer is too short for the structure
// being decoded.
var ErrTruncated = errors.New("truncated command")

// ErrUnknownCommand is returned when the command number is not one of the
// defined commands.
var ErrUnknownCommand = errors.New("unknown command number")

// Header is the leading portion of every datagram. The peerID field packs
// the 12-bit peer index, the 2-bit session ID and the 2 header flags;
// SentTime is present on the wire only when HeaderFlagSentTime is set.
type Header struct {
	PeerID   uint16
	SentTime uint16
}

// EncodeHeader writes the header into buf and returns the number of bytes
// written: HeaderSize when the sent-time flag is set, HeaderSizeMinimal
// otherwise. buf must hold at least HeaderSize bytes.
func EncodeHeader(h *Header, buf []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], h.PeerID)
	if h.PeerID&HeaderFlagSentTime == 0 {
		return HeaderSizeMinimal
	}
	binary.BigEndian.PutUint16(buf[2:4], h.SentTime)
	return HeaderSize
}

// DecodeHeader parses a datagram header and returns it along with its
// encoded size.
func DecodeHeader(data []byte) (Header, int, error) {
	if len(data) < HeaderSizeMinimal {
		return Header{}, 0, fmt.Errorf("datagram shorter than header: %w", ErrTruncated)
	}
	h := Header{PeerID: binary.BigEndian.Uint16(data[0:2])}
	if h.PeerID&HeaderFlagSentTime == 0 {
		return h, HeaderSizeMinimal, nil
	}
	if len(data) < HeaderSize {
		return Header{}, 0, fmt.Errorf("datagram shorter than timed header: %w", ErrTruncated)
	}
	h.SentTime = binary.BigEndian.Uint16(data[2:4])
	return h, HeaderSize, nil
}

// EncodeCommand serializes cmd into buf and returns the number of bytes
// written. buf must hold at least cmd.Size() bytes. Payloads are not
// written here; the engine appends them as separate buffers.
func EncodeCommand(cmd *Command, buf []byte) int {
	buf[0] = cmd.Header.Command
	buf[1] = cmd.Header.ChannelID
	binary.BigEndian.PutUint16(buf[2:4], cmd.Header.ReliableSequenceNumber)

	switch cmd.Header.Command & CommandMask {
	case CommandAcknowledge:
		binary.BigEndian.PutUint16(buf[4:6], cmd.Acknowledge.ReceivedReliableSequenceNumber)
		binary.BigEndian.PutUint16(buf[6:8], cmd.Acknowledge.ReceivedSentTime)
		return AcknowledgeSize

	case CommandConnect:
		c := &cmd.Connect
		binary.BigEndian.PutUint16(buf[4:6], c.OutgoingPeerID)
		buf[6] = c.IncomingSessionID
		buf[7] = c.OutgoingSessionID
		binary.BigEndian.PutUint32(buf[8:12], c.MTU)
		binary.BigEndian.PutUint32(buf[12:16], c.WindowSize)
		binary.BigEndian.PutUint32(buf[16:20], c.ChannelCount)
		binary.BigEndian.PutUint32(buf[20:24], c.IncomingBandwidth)
		binary.BigEndian.PutUint32(buf[24:28], c.OutgoingBandwidth)
		binary.BigEndian.PutUint32(buf[28:32], c.PacketThrottleInterval)
		binary.BigEndian.PutUint32(buf[32:36], c.PacketThrottleAcceleration)
		binary.BigEndian.PutUint32(buf[36:40], c.PacketThrottleDeceleration)
		binary.BigEndian.PutUint32(buf[40:44], c.ConnectID)
		binary.BigEndian.PutUint32(buf[44:48], c.Data)
		return ConnectSize

	case CommandVerifyConnect:
		c := &cmd.VerifyConnect
		binary.BigEndian.PutUint16(buf[4:6], c.OutgoingPeerID)
		buf[6] = c.IncomingSessionID
		buf[7] = c.OutgoingSessionID
		binary.BigEndian.PutUint32(buf[8:12], c.MTU)
		binary.BigEndian.PutUint32(buf[12:16], c.WindowSize)
		binary.BigEndian.PutUint32(buf[16:20], c.ChannelCount)
		binary.BigEndian.PutUint32(buf[20:24], c.IncomingBandwidth)
		binary.BigEndian.PutUint32(buf[24:28], c.OutgoingBandwidth)
		binary.BigEndian.PutUint32(buf[28:32], c.PacketThrottleInterval)
		binary.BigEndian.PutUint32(buf[32:36], c.PacketThrottleAcceleration)
		binary.BigEndian.PutUint32(buf[36:40], c.PacketThrottleDeceleration)
		binary.BigEndian.PutUint32(buf[40:44], c.ConnectID)
		return VerifyConnectSize

	case CommandDisconnect:
		binary.BigEndian.PutUint32(buf[4:8], cmd.Disconnect.Data)
		return DisconnectSize

	case CommandPing:
		return PingSize

	case CommandSendReliable:
		binary.BigEndian.PutUint16(buf[4:6], cmd.SendReliable.DataLength)
		return SendReliableSize

	case CommandSendUnreliable:
		binary.BigEndian.PutUint16(buf[4:6], cmd.SendUnreliable.UnreliableSequenceNumber)
		binary.BigEndian.PutUint16(buf[6:8], cmd.SendUnreliable.DataLength)
		return SendUnreliableSize

	case CommandSendUnsequenced:
		binary.BigEndian.PutUint16(buf[4:6], cmd.SendUnsequenced.UnsequencedGroup)
		binary.BigEndian.PutUint16(buf[6:8], cmd.SendUnsequenced.DataLength)
		return SendUnsequencedSize

	case CommandSendFragment, CommandSendUnreliableFragment:
		c := &cmd.SendFragment
		binary.BigEndian.PutUint16(buf[4:6], c.StartSequenceNumber)
		binary.BigEndian.PutUint16(buf[6:8], c.DataLength)
		binary.BigEndian.PutUint32(buf[8:12], c.FragmentCount)
		binary.BigEndian.PutUint32(buf[12:16], c.FragmentNumber)
		binary.BigEndian.PutUint32(buf[16:20], c.TotalLength)
		binary.BigEndian.PutUint32(buf[20:24], c.FragmentOffset)
		return SendFragmentSize

	case CommandBandwidthLimit:
		binary.BigEndian.PutUint32(buf[4:8], cmd.BandwidthLimit.IncomingBandwidth)
		binary.BigEndian.PutUint32(buf[8:12], cmd.BandwidthLimit.OutgoingBandwidth)
		return BandwidthLimitSize

	case CommandThrottleConfigure:
		binary.BigEndian.PutUint32(buf[4:8], cmd.ThrottleConfigure.PacketThrottleInterval)
		binary.BigEndian.PutUint32(buf[8:12], cmd.ThrottleConfigure.PacketThrottleAcceleration)
		binary.BigEndian.PutUint32(buf[12:16], cmd.ThrottleConfigure.PacketThrottleDeceleration)
		return ThrottleConfigureSize
	}
	return 0
}

// DecodeCommand parses one command from data into cmd and returns its
// encoded size, inline payload excluded.
func DecodeCommand(data []byte, cmd *Command) (int, error) {
	if len(data) < CommandHeaderSize {
		return 0, ErrTruncated
	}

	*cmd = Command{}
	cmd.Header.Command = data[0]
	cmd.Header.ChannelID = data[1]
	cmd.Header.ReliableSequenceNumber = binary.BigEndian.Uint16(data[2:4])

	size := CommandSize(cmd.Header.Command)
	if size == 0 {
		return 0, fmt.Errorf("command %#x: %w", cmd.Header.Command&CommandMask, ErrUnknownCommand)
	}
	if len(data) < size {
		return 0, ErrTruncated
	}

	switch cmd.Header.Command & CommandMask {
	case CommandAcknowledge:
		cmd.Acknowledge.ReceivedReliableSequenceNumber = binary.BigEndian.Uint16(data[4:6])
		cmd.Acknowledge.ReceivedSentTime = binary.BigEndian.Uint16(data[6:8])

	case CommandConnect:
		c := &cmd.Connect
		c.OutgoingPeerID = binary.BigEndian.Uint16(data[4:6])
		c.IncomingSessionID = data[6]
		c.OutgoingSessionID = data[7]
		c.MTU = binary.BigEndian.Uint32(data[8:12])
		c.WindowSize = binary.BigEndian.Uint32(data[12:16])
		c.ChannelCount = binary.BigEndian.Uint32(data[16:20])
		c.IncomingBandwidth = binary.BigEndian.Uint32(data[20:24])
		c.OutgoingBandwidth = binary.BigEndian.Uint32(data[24:28])
		c.PacketThrottleInterval = binary.BigEndian.Uint32(data[28:32])
		c.PacketThrottleAcceleration = binary.BigEndian.Uint32(data[32:36])
		c.PacketThrottleDeceleration = binary.BigEndian.Uint32(data[36:40])
		c.ConnectID = binary.BigEndian.Uint32(data[40:44])
		c.Data = binary.BigEndian.Uint32(data[44:48])

	case CommandVerifyConnect:
		c := &cmd.VerifyConnect
		c.OutgoingPeerID = binary.BigEndian.Uint16(data[4:6])
		c.IncomingSessionID = data[6]
		c.OutgoingSessionID = data[7]
		c.MTU = binary.BigEndian.Uint32(data[8:12])
		c.WindowSize = binary.BigEndian.Uint32(data[12:16])
		c.ChannelCount = binary.BigEndian.Uint32(data[16:20])
		c.IncomingBandwidth = binary.BigEndian.Uint32(data[20:24])
		c.OutgoingBandwidth = binary.BigEndian.Uint32(data[24:28])
		c.PacketThrottleInterval = binary.BigEndian.Uint32(data[28:32])
		c.PacketThrottleAcceleration = binary.BigEndian.Uint32(data[32:36])
		c.PacketThrottleDeceleration = binary.BigEndian.Uint32(data[36:40])
		c.ConnectID = binary.BigEndian.Uint32(data[40:44])

	case CommandDisconnect:
		cmd.Disconnect.Data = binary.BigEndian.Uint32(data[4:8])

	case CommandPing:

	case CommandSendReliable:
		cmd.SendReliable.DataLength = binary.BigEndian.Uint16(data[4:6])

	case CommandSendUnreliable:
		cmd.SendUnreliable.UnreliableSequenceNumber = binary.BigEndian.Uint16(data[4:6])
		cmd.SendUnreliable.DataLength = binary.BigEndian.Uint16(data[6:8])

	case CommandSendUnsequenced:
		cmd.SendUnsequenced.UnsequencedGroup = binary.BigEndian.Uint16(data[4:6])
		cmd.SendUnsequenced.DataLength = binary.BigEndian.Uint16(data[6:8])

	case CommandSendFragment, CommandSendUnreliableFragment:
		c := &cmd.SendFragment
		c.StartSequenceNumber = binary.BigEndian.Uint16(data[4:6])
		c.DataLength = binary.BigEndian.Uint16(data[6:8])
		c.FragmentCount = binary.BigEndian.Uint32(data[8:12])
		c.FragmentNumber = binary.BigEndian.Uint32(data[12:16])
		c.TotalLength = binary.BigEndian.Uint32(data[16:20])
		c.FragmentOffset = binary.BigEndian.Uint32(data[20:24])

	case CommandBandwidthLimit:
		cmd.BandwidthLimit.IncomingBandwidth = binary.BigEndian.Uint32(data[4:8])
		cmd.BandwidthLimit.OutgoingBandwidth = binary.BigEndian.Uint32(data[8:12])

	case CommandThrottleConfigure:
		cmd.ThrottleConfigure.PacketThrottleInterval = binary.BigEndian.Uint32(data[4:8])
		cmd.ThrottleConfigure.PacketThrottleAcceleration = binary.BigEndian.Uint32(data[8:12])
		cmd.ThrottleConfigure.PacketThrottleDeceleration = binary.BigEndian.Uint32(data[12:16])
	}

	return size, nil
}
