package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"listen":             "0.0.0.0:7777",
		"peer_count":         64,
		"channel_limit":      8,
		"incoming_bandwidth": 128000,
		"outgoing_bandwidth": 64000,
		"mtu":                1200,
		"max_packet_size":    1048576,
		"compress":           true,
		"checksum":           true,
		"log_level":          "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7777", cfg.Listen)
	assert.Equal(t, 64, cfg.PeerCount)
	assert.Equal(t, 8, cfg.ChannelLimit)
	assert.Equal(t, uint32(128000), cfg.IncomingBandwidth)
	assert.Equal(t, uint32(64000), cfg.OutgoingBandwidth)
	assert.Equal(t, uint32(1200), cfg.MTU)
	assert.Equal(t, 1048576, cfg.MaxPacketSize)
	assert.True(t, cfg.Compress)
	assert.True(t, cfg.Checksum)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromMapRejectsWrongTypes(t *testing.T) {
	_, err := FromMap(map[string]interface{}{
		"peer_count": "not-a-number",
	})
	assert.Error(t, err)
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
listen: "127.0.0.1:9000"
peer_count: 32
channel_limit: 4
mtu: 1400
checksum: true
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 32, cfg.PeerCount)
	assert.Equal(t, 4, cfg.ChannelLimit)
	assert.Equal(t, uint32(1400), cfg.MTU)
	assert.True(t, cfg.Checksum)
	assert.False(t, cfg.Compress)
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte(`peer_count: [not scalar`))
	assert.Error(t, err)
}

func TestListenAddress(t *testing.T) {
	cfg := &Config{Listen: "127.0.0.1:8000"}
	addr, err := cfg.ListenAddress()
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, uint16(8000), addr.Port)

	cfg = &Config{}
	addr, err = cfg.ListenAddress()
	require.NoError(t, err)
	assert.Nil(t, addr)
}

func TestOptionsRenderOnlySetFields(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.Options())

	cfg = &Config{MTU: 1200, Checksum: true, LogLevel: "info", DuplicatePeers: 3}
	assert.Len(t, cfg.Options(), 4)
}
