// Package config decodes host configuration from generic maps (as
// produced by JSON or flag parsing) and from YAML files, and turns it
// into ready-to-use host options.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/localrivet/gosnet"
	"github.com/localrivet/gosnet/checksum"
	"github.com/localrivet/gosnet/logx"
	"github.com/localrivet/gosnet/protocol"
)

// Config collects every tunable of a host in one declarative structure.
// Zero values mean "use the engine default".
type Config struct {
	// Listen is the bind address in "host:port" form; empty binds an
	// ephemeral client-only endpoint.
	Listen string `mapstructure:"listen" yaml:"listen"`

	// PeerCount is the size of the host's peer table.
	PeerCount int `mapstructure:"peer_count" yaml:"peer_count"`

	// ChannelLimit caps the channels of incoming connections.
	ChannelLimit int `mapstructure:"channel_limit" yaml:"channel_limit"`

	// IncomingBandwidth and OutgoingBandwidth are bytes/second budgets,
	// 0 meaning unlimited.
	IncomingBandwidth uint32 `mapstructure:"incoming_bandwidth" yaml:"incoming_bandwidth"`
	OutgoingBandwidth uint32 `mapstructure:"outgoing_bandwidth" yaml:"outgoing_bandwidth"`

	// MTU overrides the datagram size ceiling.
	MTU uint32 `mapstructure:"mtu" yaml:"mtu"`

	// MaxPacketSize bounds individual packets; MaxWaitingData bounds
	// the per-peer delivery backlog.
	MaxPacketSize  int `mapstructure:"max_packet_size" yaml:"max_packet_size"`
	MaxWaitingData int `mapstructure:"max_waiting_data" yaml:"max_waiting_data"`

	// DuplicatePeers limits connections from one address.
	DuplicatePeers int `mapstructure:"duplicate_peers" yaml:"duplicate_peers"`

	// Compress enables range-coder datagram compression.
	Compress bool `mapstructure:"compress" yaml:"compress"`

	// Checksum enables CRC-32 datagram checksums.
	Checksum bool `mapstructure:"checksum" yaml:"checksum"`

	// LogLevel selects the logger verbosity ("debug", "info", "warn",
	// "error"); empty disables logging.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// FromMap decodes a configuration from a generic map.
func FromMap(settings map[string]interface{}) (*Config, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("decode host config: %w", err)
	}
	return &cfg, nil
}

// FromYAML decodes a configuration from YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse host config: %w", err)
	}
	return &cfg, nil
}

// FromYAMLFile decodes a configuration from a YAML file.
func FromYAMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host config %q: %w", path, err)
	}
	return FromYAML(data)
}

// ListenAddress resolves the configured bind address, or nil when none
// was set.
func (c *Config) ListenAddress() (*protocol.Address, error) {
	if c.Listen == "" {
		return nil, nil
	}
	addr, err := protocol.ResolveAddress(c.Listen)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Options renders the configuration as host options.
func (c *Config) Options() []gosnet.HostOption {
	var options []gosnet.HostOption

	if c.MTU != 0 {
		options = append(options, gosnet.WithMTU(c.MTU))
	}
	if c.MaxPacketSize != 0 {
		options = append(options, gosnet.WithMaximumPacketSize(c.MaxPacketSize))
	}
	if c.MaxWaitingData != 0 {
		options = append(options, gosnet.WithMaximumWaitingData(c.MaxWaitingData))
	}
	if c.DuplicatePeers != 0 {
		options = append(options, gosnet.WithDuplicatePeers(c.DuplicatePeers))
	}
	if c.Checksum {
		options = append(options, gosnet.WithChecksum(checksum.CRC32))
	}
	if c.LogLevel != "" {
		options = append(options, gosnet.WithLogger(logx.NewLogger(c.LogLevel)))
	}

	return options
}

// NewHost builds a host from the configuration. Compression is applied
// after creation when requested.
func (c *Config) NewHost(options ...gosnet.HostOption) (*gosnet.Host, error) {
	addr, err := c.ListenAddress()
	if err != nil {
		return nil, err
	}

	options = append(c.Options(), options...)

	host, err := gosnet.NewHost(addr, c.PeerCount, c.ChannelLimit, c.IncomingBandwidth, c.OutgoingBandwidth, options...)
	if err != nil {
		return nil, err
	}

	if c.Compress {
		host.CompressWithRangeCoder()
	}

	return host, nil
}
