/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config defines the on-disk node configuration (YAML) and
// transceiver calibration profiles (INI) for clocksync.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Transport names accepted by the "transport" config key.
const (
	TransportSim    = "sim"
	TransportUDP    = "udp"
	TransportSerial = "serial"
)

// Config specifies a single node's run options: which protocol(s) to run,
// its identity, timing tunables, and which transport/profile to bind to.
type Config struct {
	NodeID         uint16        `yaml:"node_id"`
	PreferredRoot  uint16        `yaml:"preferred_root"`
	EnableFTSP     bool          `yaml:"enable_ftsp"`
	EnableGTSP     bool          `yaml:"enable_gtsp"`
	EnablePulseSync bool         `yaml:"enable_pulsesync"`
	BeaconInterval time.Duration `yaml:"beacon_interval"`
	PropagationUs  uint64        `yaml:"propagation_us"`
	SanityExpr     string        `yaml:"sanity_expr"` // optional, empty uses the fixed gate

	Transport         string `yaml:"transport"`
	TransceiverProfile string `yaml:"transceiver_profile"`
	MulticastAddr     string `yaml:"multicast_addr"`
	InterfaceName     string `yaml:"interface_name"`
	SerialDevice      string `yaml:"serial_device"`
	SerialBaudRate    int    `yaml:"serial_baud_rate"`

	MonitoringPort int `yaml:"monitoring_port"`
}

// DefaultConfig returns Config initialized with clocksync's defaults,
// matching spec.md §4.3/§4.4's own defaults where it names one.
func DefaultConfig() *Config {
	return &Config{
		PreferredRoot:      1,
		EnableFTSP:         true,
		BeaconInterval:     30 * time.Second,
		Transport:          TransportSim,
		TransceiverProfile: "native",
		SerialBaudRate:     115200,
		MonitoringPort:     9476,
	}
}

// Validate checks Config is internally consistent.
func (c *Config) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("node_id must be set")
	}
	if !c.EnableFTSP && !c.EnableGTSP && !c.EnablePulseSync {
		return fmt.Errorf("at least one protocol must be enabled")
	}
	if c.BeaconInterval <= 0 {
		return fmt.Errorf("beacon_interval must be greater than zero")
	}
	switch c.Transport {
	case TransportSim, TransportUDP, TransportSerial:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport == TransportUDP && c.MulticastAddr == "" {
		return fmt.Errorf("multicast_addr must be set for the udp transport")
	}
	if c.Transport == TransportSerial && c.SerialDevice == "" {
		return fmt.Errorf("serial_device must be set for the serial transport")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	return nil
}

// ReadConfig reads and parses a YAML config file, applying DefaultConfig
// first so any key the file omits keeps its default.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// WriteConfig serializes c back to path as YAML, in the format ReadConfig
// reads. The "ftsp on|off" etc. subcommands do not call it; they change only
// the running daemon's state.
func WriteConfig(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
