package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)

	// minimal header, no sent time
	h := Header{PeerID: 0x0123}
	n := EncodeHeader(&h, buf)
	assert.Equal(t, HeaderSizeMinimal, n)

	decoded, size, err := DecodeHeader(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, HeaderSizeMinimal, size)
	assert.Equal(t, h.PeerID, decoded.PeerID)

	// full header with sent time
	h = Header{PeerID: 0x0123 | HeaderFlagSentTime, SentTime: 0xBEEF}
	n = EncodeHeader(&h, buf)
	assert.Equal(t, HeaderSize, n)

	decoded, size, err = DecodeHeader(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, size)
	assert.Equal(t, h.PeerID, decoded.PeerID)
	assert.Equal(t, h.SentTime, decoded.SentTime)
}

func TestDecodeHeaderTruncated(t *testing.T) {
	_, _, err := DecodeHeader([]byte{0x01})
	assert.ErrorIs(t, err, ErrTruncated)

	// sent-time flag set but only two bytes present
	buf := make([]byte, HeaderSize)
	EncodeHeader(&Header{PeerID: HeaderFlagSentTime, SentTime: 1}, buf)
	_, _, err = DecodeHeader(buf[:2])
	assert.ErrorIs(t, err, ErrTruncated)
}

func commandRoundTrip(t *testing.T, cmd *Command) *Command {
	t.Helper()

	buf := make([]byte, ConnectSize)
	n := EncodeCommand(cmd, buf)
	require.Equal(t, cmd.Size(), n)

	var decoded Command
	m, err := DecodeCommand(buf[:n], &decoded)
	require.NoError(t, err)
	require.Equal(t, n, m)
	return &decoded
}

func TestAcknowledgeRoundTrip(t *testing.T) {
	cmd := &Command{}
	cmd.Header = CommandHeader{Command: CommandAcknowledge, ChannelID: 3, ReliableSequenceNumber: 777}
	cmd.Acknowledge = Acknowledge{ReceivedReliableSequenceNumber: 777, ReceivedSentTime: 0x1234}

	decoded := commandRoundTrip(t, cmd)
	assert.Equal(t, cmd.Header, decoded.Header)
	assert.Equal(t, cmd.Acknowledge, decoded.Acknowledge)
}

func TestConnectRoundTrip(t *testing.T) {
	cmd := &Command{}
	cmd.Header = CommandHeader{Command: CommandConnect | CommandFlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 1}
	cmd.Connect = Connect{
		OutgoingPeerID:             7,
		IncomingSessionID:          2,
		OutgoingSessionID:          1,
		MTU:                        1400,
		WindowSize:                 32768,
		ChannelCount:               4,
		IncomingBandwidth:          128000,
		OutgoingBandwidth:          64000,
		PacketThrottleInterval:     5000,
		PacketThrottleAcceleration: 2,
		PacketThrottleDeceleration: 2,
		ConnectID:                  0xDEADBEEF,
		Data:                       42,
	}

	decoded := commandRoundTrip(t, cmd)
	assert.Equal(t, cmd.Header, decoded.Header)
	assert.Equal(t, cmd.Connect, decoded.Connect)
}

func TestVerifyConnectRoundTrip(t *testing.T) {
	cmd := &Command{}
	cmd.Header = CommandHeader{Command: CommandVerifyConnect | CommandFlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 1}
	cmd.VerifyConnect = VerifyConnect{
		OutgoingPeerID: 9,
		MTU:            1200,
		WindowSize:     16384,
		ChannelCount:   2,
		ConnectID:      0xCAFEBABE,
	}

	decoded := commandRoundTrip(t, cmd)
	assert.Equal(t, cmd.VerifyConnect, decoded.VerifyConnect)
}

func TestSendFragmentRoundTrip(t *testing.T) {
	cmd := &Command{}
	cmd.Header = CommandHeader{Command: CommandSendFragment | CommandFlagAcknowledge, ChannelID: 1, ReliableSequenceNumber: 100}
	cmd.SendFragment = SendFragment{
		StartSequenceNumber: 100,
		DataLength:          1372,
		FragmentCount:       740,
		FragmentNumber:      17,
		TotalLength:         1000000,
		FragmentOffset:      17 * 1372,
	}

	decoded := commandRoundTrip(t, cmd)
	assert.Equal(t, cmd.SendFragment, decoded.SendFragment)

	// the unreliable variant shares the layout
	cmd.Header.Command = CommandSendUnreliableFragment
	decoded = commandRoundTrip(t, cmd)
	assert.Equal(t, cmd.SendFragment, decoded.SendFragment)
}

func TestRemainingCommandsRoundTrip(t *testing.T) {
	cases := []*Command{
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandDisconnect, ChannelID: 0xFF}
			c.Disconnect = Disconnect{Data: 99}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandPing | CommandFlagAcknowledge, ChannelID: 0xFF, ReliableSequenceNumber: 5}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandSendReliable | CommandFlagAcknowledge, ChannelID: 0, ReliableSequenceNumber: 12}
			c.SendReliable = SendReliable{DataLength: 512}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandSendUnreliable, ChannelID: 2, ReliableSequenceNumber: 8}
			c.SendUnreliable = SendUnreliable{UnreliableSequenceNumber: 44, DataLength: 100}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandSendUnsequenced | CommandFlagUnsequenced, ChannelID: 2}
			c.SendUnsequenced = SendUnsequenced{UnsequencedGroup: 3, DataLength: 10}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandBandwidthLimit | CommandFlagAcknowledge, ChannelID: 0xFF}
			c.BandwidthLimit = BandwidthLimit{IncomingBandwidth: 1000, OutgoingBandwidth: 2000}
			return c
		}(),
		func() *Command {
			c := &Command{}
			c.Header = CommandHeader{Command: CommandThrottleConfigure | CommandFlagAcknowledge, ChannelID: 0xFF}
			c.ThrottleConfigure = ThrottleConfigure{PacketThrottleInterval: 5000, PacketThrottleAcceleration: 2, PacketThrottleDeceleration: 2}
			return c
		}(),
	}

	for _, cmd := range cases {
		decoded := commandRoundTrip(t, cmd)
		assert.Equal(t, *cmd, *decoded)
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	var cmd Command

	_, err := DecodeCommand([]byte{1, 2}, &cmd)
	assert.ErrorIs(t, err, ErrTruncated)

	// unknown command number
	_, err = DecodeCommand([]byte{0x0D, 0, 0, 0}, &cmd)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	// command number zero has size zero
	_, err = DecodeCommand([]byte{0x00, 0, 0, 0}, &cmd)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	// body truncated
	buf := make([]byte, ConnectSize)
	full := Command{}
	full.Header.Command = CommandConnect
	EncodeCommand(&full, buf)
	_, err = DecodeCommand(buf[:ConnectSize-1], &cmd)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCommandSizes(t *testing.T) {
	assert.Equal(t, 0, CommandSize(CommandNone))
	assert.Equal(t, AcknowledgeSize, CommandSize(CommandAcknowledge))
	assert.Equal(t, ConnectSize, CommandSize(CommandConnect|CommandFlagAcknowledge))
	assert.Equal(t, SendFragmentSize, CommandSize(CommandSendUnreliableFragment))
	assert.Equal(t, 0, CommandSize(0x0D))
}

func TestResolveAddress(t *testing.T) {
	addr, err := ResolveAddress("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7F000001), addr.Host)
	assert.Equal(t, uint16(9000), addr.Port)
	assert.Equal(t, "127.0.0.1:9000", addr.String())

	_, err = ResolveAddress("not-an-address")
	assert.Error(t, err)
}
