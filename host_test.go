package gosnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/gosnet/protocol"
	"github.com/localrivet/gosnet/transport/memory"
)

func TestNewHostValidation(t *testing.T) {
	_, err := NewHost(nil, protocol.MaximumPeerID+1, 0, 0, 0)
	assert.ErrorIs(t, err, ErrTooManyPeers)
}

func TestNewHostDefaults(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 4, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	assert.Equal(t, uint32(hostDefaultMTU), host.MTU())
	assert.Equal(t, protocol.MaximumChannelCount, host.channelLimit)
	assert.Equal(t, hostDefaultMaximumPacketSize, host.maximumPacketSize)
	assert.Equal(t, hostDefaultMaximumWaitingData, host.maximumWaitingData)
	assert.Len(t, host.peers, 4)

	for i := range host.peers {
		peer := &host.peers[i]
		assert.Equal(t, PeerStateDisconnected, peer.state)
		assert.Equal(t, uint16(i), peer.incomingPeerID)
		assert.Equal(t, uint8(0xFF), peer.incomingSessionID)
		assert.Equal(t, uint8(0xFF), peer.outgoingSessionID)
		assert.Equal(t, uint32(hostDefaultMTU), peer.mtu)
	}
}

func TestNewHostOptions(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 16, 1000, 2000,
		WithSocket(network.NewSocket()),
		WithMTU(1200),
		WithMaximumPacketSize(1<<20),
		WithMaximumWaitingData(1<<21),
		WithDuplicatePeers(2),
		WithRandomSeed(0x12345678))
	require.NoError(t, err)
	defer host.Destroy()

	assert.Equal(t, uint32(1200), host.MTU())
	assert.Equal(t, 16, host.channelLimit)
	assert.Equal(t, uint32(1000), host.incomingBandwidth)
	assert.Equal(t, uint32(2000), host.outgoingBandwidth)
	assert.Equal(t, 1<<20, host.maximumPacketSize)
	assert.Equal(t, 1<<21, host.maximumWaitingData)
	assert.Equal(t, 2, host.duplicatePeers)
	assert.Equal(t, uint32(0x12345678), host.randomSeed)
}

func TestWithMTUOutOfRangeIgnored(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0,
		WithSocket(network.NewSocket()),
		WithMTU(100),
		WithMTU(100000))
	require.NoError(t, err)
	defer host.Destroy()

	assert.Equal(t, uint32(hostDefaultMTU), host.MTU())
}

func TestConnectExhaustsPeerTable(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 2, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	target := protocol.Address{Host: 0x7F000001, Port: 1}

	p1, err := host.Connect(target, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, PeerStateConnecting, p1.State())

	_, err = host.Connect(target, 1, 0)
	require.NoError(t, err)

	_, err = host.Connect(target, 1, 0)
	assert.ErrorIs(t, err, ErrNoAvailablePeers)
}

func TestConnectClampsChannelCount(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	peer, err := host.Connect(protocol.Address{Host: 1, Port: 1}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.MinimumChannelCount, peer.ChannelCount())
}

func TestConnectAssignsUniqueConnectIDs(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 2, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	p1, err := host.Connect(protocol.Address{Host: 1, Port: 1}, 1, 0)
	require.NoError(t, err)
	p2, err := host.Connect(protocol.Address{Host: 1, Port: 2}, 1, 0)
	require.NoError(t, err)

	assert.NotEqual(t, p1.ConnectID(), p2.ConnectID())
}

func TestChannelLimitClamping(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	host.ChannelLimit(0)
	assert.Equal(t, protocol.MaximumChannelCount, host.channelLimit)

	host.ChannelLimit(10)
	assert.Equal(t, 10, host.channelLimit)

	host.ChannelLimit(1000)
	assert.Equal(t, protocol.MaximumChannelCount, host.channelLimit)
}

func TestBandwidthLimitTriggersRecalculation(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	host.BandwidthLimit(5000, 6000)
	assert.Equal(t, uint32(5000), host.incomingBandwidth)
	assert.Equal(t, uint32(6000), host.outgoingBandwidth)
	assert.True(t, host.recalculateBandwidthLimits)
}

func TestStatsSnapshot(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	stats := host.Stats()
	assert.Zero(t, stats.TotalSentPackets)
	assert.Zero(t, stats.ConnectedPeers)
}

func TestPeerThrottleAdaptation(t *testing.T) {
	network := memory.NewNetwork()
	host, err := NewHost(nil, 1, 0, 0, 0, WithSocket(network.NewSocket()))
	require.NoError(t, err)
	defer host.Destroy()

	peer := &host.peers[0]

	// committed interval: mean 100ms, variance 10ms
	peer.lastRoundTripTime = 100
	peer.lastRoundTripTimeVariance = 10
	peer.packetThrottle = 16
	peer.packetThrottleLimit = 32
	peer.packetThrottleAcceleration = 2
	peer.packetThrottleDeceleration = 2

	// a faster sample opens the throttle
	assert.Equal(t, 1, peer.throttle(50))
	assert.Equal(t, uint32(18), peer.packetThrottle)

	// a sample beyond mean + 2*variance closes it
	assert.Equal(t, -1, peer.throttle(130))
	assert.Equal(t, uint32(16), peer.packetThrottle)

	// a sample within the tolerance band changes nothing
	assert.Equal(t, 0, peer.throttle(110))
	assert.Equal(t, uint32(16), peer.packetThrottle)

	// degenerate interval (variance dominates) snaps to the limit
	peer.lastRoundTripTime = 5
	peer.lastRoundTripTimeVariance = 10
	assert.Equal(t, 0, peer.throttle(50))
	assert.Equal(t, uint32(32), peer.packetThrottle)

	// deceleration floors at zero
	peer.lastRoundTripTime = 100
	peer.lastRoundTripTimeVariance = 0
	peer.packetThrottle = 1
	assert.Equal(t, -1, peer.throttle(500))
	assert.Equal(t, uint32(0), peer.packetThrottle)
}
