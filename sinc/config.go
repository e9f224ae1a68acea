package sinc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults holds client-side tunables, not device configuration (that goes
// over the wire via package sincproject). Mirrors the teacher's config.go
// yaml-struct-tag idiom, scoped down to what a connection needs.
type Defaults struct {
	Port              int `yaml:"port"`
	ConnectTimeoutMs  int `yaml:"connect_timeout_ms"`
	DefaultTimeoutMs  int `yaml:"default_timeout_ms"`
	UDPRecvBufferSize int `yaml:"udp_recv_buffer_size"`
	MaxPacketSize     int `yaml:"max_packet_size"`
}

// DefaultDefaults returns the built-in defaults. NewConnection takes its
// default RPC timeout from here; it does not accept a Defaults value.
func DefaultDefaults() Defaults {
	return Defaults{
		Port:              8756,
		ConnectTimeoutMs:  5000,
		DefaultTimeoutMs:  -1, // infinite, per spec §3 Connection attributes
		UDPRecvBufferSize: 64*1024 + headerLength,
		MaxPacketSize:     int(maxPacketSize),
	}
}

// LoadDefaults reads a YAML defaults file, starting from DefaultDefaults()
// so a partial file only overrides what it names.
func LoadDefaults(path string) (Defaults, error) {
	d := DefaultDefaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("sinc: reading defaults file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("sinc: parsing defaults file %s: %w", path, err)
	}
	return d, nil
}
