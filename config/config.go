// Package config loads the hub's runtime settings from a YAML file. A missing
// path yields defaults so embedded hosts can run zero-config on a LAN.
package config

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jgraeff/midihub/status"
)

const (
	DefaultDAWPort    = 5004
	DefaultESPPort    = 8000
	DefaultSourcePort = 5008
)

type Config struct {
	DAWIP   string `yaml:"daw_ip"`
	DAWPort int    `yaml:"daw_port"`
	ESPIP   string `yaml:"esp_ip"`
	ESPPort int    `yaml:"esp_port"`

	BonjourName string `yaml:"bonjour_name"`
	SessionName string `yaml:"session_name"`

	// InitiatorSSRC pins the local SSRC; 0 (or absent) means a fresh random
	// SSRC per session.
	InitiatorSSRC uint32 `yaml:"initiator_ssrc"`

	// SourcePort is where the hub listens for framed MIDI from the
	// controller. 0 binds an ephemeral port.
	SourcePort int `yaml:"source_port"`
}

func Default() Config {
	return Config{
		DAWIP:       "127.0.0.1",
		DAWPort:     DefaultDAWPort,
		ESPIP:       "127.0.0.1",
		ESPPort:     DefaultESPPort,
		BonjourName: "midihub",
		SessionName: "midihub",
		SourcePort:  DefaultSourcePort,
	}
}

// Load reads the config at path. An empty path returns Default(). A file that
// does not exist, does not parse, or fails Validate is ErrConfigInvalid.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading %s: %v", status.ErrConfigInvalid, path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", status.ErrConfigInvalid, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config as YAML; used by provisioning tools, not the hub.
func (c Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func (c Config) Validate() error {
	for _, p := range []struct {
		name string
		port int
	}{
		{"daw_port", c.DAWPort},
		{"esp_port", c.ESPPort},
	} {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%w: %s out of range: %d", status.ErrConfigInvalid, p.name, p.port)
		}
	}
	if c.SourcePort < 0 || c.SourcePort > 65535 {
		return fmt.Errorf("%w: source_port out of range: %d", status.ErrConfigInvalid, c.SourcePort)
	}
	if c.DAWIP == "" || net.ParseIP(c.DAWIP) == nil {
		return fmt.Errorf("%w: daw_ip %q is not an IP address", status.ErrConfigInvalid, c.DAWIP)
	}
	if c.ESPIP == "" || net.ParseIP(c.ESPIP) == nil {
		return fmt.Errorf("%w: esp_ip %q is not an IP address", status.ErrConfigInvalid, c.ESPIP)
	}
	if c.SessionName == "" {
		return fmt.Errorf("%w: session_name must not be empty", status.ErrConfigInvalid)
	}
	return nil
}

// DAWControlAddr is the peer's Apple MIDI control endpoint; the data port is
// always control+1.
func (c Config) DAWControlAddr() string {
	return net.JoinHostPort(c.DAWIP, strconv.Itoa(c.DAWPort))
}

func (c Config) DAWDataAddr() string {
	return net.JoinHostPort(c.DAWIP, strconv.Itoa(c.DAWPort+1))
}

func (c Config) ESPAddr() string {
	return net.JoinHostPort(c.ESPIP, strconv.Itoa(c.ESPPort))
}

// SSRC returns the pinned SSRC or a fresh random one per call.
func (c Config) SSRC() uint32 {
	if c.InitiatorSSRC != 0 {
		return c.InitiatorSSRC
	}
	return RandomSSRC()
}

// RandomSSRC never returns 0 so that 0 can keep meaning "unset".
func RandomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	v := binary.BigEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v
}
