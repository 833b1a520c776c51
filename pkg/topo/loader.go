// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package topo

import (
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/onos-lib-go/pkg/errors"
)

const (
	// DefaultTelemetryInterval is the counter sampling interval used unless configured otherwise
	DefaultTelemetryInterval = 2 * time.Second
	// DefaultIngressCounter counts packets entering a tunnel on its ingress switch
	DefaultIngressCounter = "MyIngress.ingressTunnelCounter"
	// DefaultEgressCounter counts packets leaving a tunnel on its egress switch
	DefaultEgressCounter = "MyIngress.egressTunnelCounter"
)

// LoadConfig loads the specified configuration YAML file (- for stdin), applies the defaults and validates it
func LoadConfig(path string) (*Config, error) {
	log.Infof("Loading configuration from %s", path)
	config := &Config{}
	if err := LoadConfigFile(path, config); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("Switches: %d; routes: %d; rules: %d; tunnels: %d",
		len(config.Switches), len(config.Routes), len(config.Rules), len(config.Tunnels))
	return config, nil
}

// LoadConfigFile loads the specified configuration YAML file as is
func LoadConfigFile(path string, config *Config) error {
	cfg, err := readConfig(path)
	if err != nil {
		return errors.NewInvalid("unable to read configuration %s: %v", path, err)
	}
	return cfg.Unmarshal(config)
}

// ApplyDefaults fills in the settings left out of the configuration
func (c *Config) ApplyDefaults() {
	if c.ElectionID.High == 0 && c.ElectionID.Low == 0 {
		c.ElectionID.Low = 1
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = DefaultTelemetryInterval
	}
	if c.Telemetry.IngressCounter == "" {
		c.Telemetry.IngressCounter = DefaultIngressCounter
	}
	if c.Telemetry.EgressCounter == "" {
		c.Telemetry.EgressCounter = DefaultEgressCounter
	}
}

// Validate checks that the configuration is complete and consistent
func (c *Config) Validate() error {
	if c.Pipeline.P4Info == "" || c.Pipeline.DeviceConfig == "" {
		return errors.NewInvalid("pipeline requires both p4info and device_config")
	}
	if len(c.Switches) == 0 {
		return errors.NewInvalid("no switches configured")
	}
	if c.Telemetry.Interval < 0 || c.Telemetry.Ticks < 0 {
		return errors.NewInvalid("telemetry interval and ticks must not be negative")
	}

	names := make(map[string]bool)
	addresses := make(map[string]bool)
	for _, sw := range c.Switches {
		if sw.Name == "" || sw.Address == "" {
			return errors.NewInvalid("switch %q requires both name and address", sw.Name)
		}
		if names[sw.Name] {
			return errors.NewInvalid("duplicate switch %s", sw.Name)
		}
		names[sw.Name] = true
		if addresses[sw.Address] {
			return errors.NewInvalid("switch %s shares address %s with another switch", sw.Name, sw.Address)
		}
		addresses[sw.Address] = true
	}

	for _, r := range c.Routes {
		if !names[r.Switch] {
			return errors.NewInvalid("route %s refers to unknown switch %q", r.Prefix, r.Switch)
		}
	}
	for i, r := range c.Rules {
		if !names[r.Switch] {
			return errors.NewInvalid("rule %d refers to unknown switch %q", i, r.Switch)
		}
		if r.Table == "" || r.Action == "" {
			return errors.NewInvalid("rule %d requires both table and action", i)
		}
		for _, m := range r.Matches {
			kind, err := rule.ParseMatchKind(m.Kind)
			if err != nil {
				return errors.NewInvalid("rule %d on %s: %v", i, r.Table, err)
			}
			if m.Field == "" || m.Value == "" {
				return errors.NewInvalid("rule %d on %s requires field and value of every match", i, r.Table)
			}
			if kind == rule.Ternary && m.Mask == "" {
				return errors.NewInvalid("rule %d on %s requires a mask for ternary field %s", i, r.Table, m.Field)
			}
		}
	}
	for _, t := range c.Tunnels {
		if t.ID == 0 {
			return errors.NewInvalid("tunnel %s->%s requires a positive ID", t.Ingress, t.Egress)
		}
		for _, name := range []string{t.Ingress, t.Egress} {
			if !names[name] {
				return errors.NewInvalid("tunnel %d refers to unknown switch %q", t.ID, name)
			}
		}
		if t.Transit != "" && !names[t.Transit] {
			return errors.NewInvalid("tunnel %d refers to unknown transit switch %q", t.ID, t.Transit)
		}
		if t.Ingress == t.Egress {
			return errors.NewInvalid("tunnel %d starts and ends on switch %s", t.ID, t.Ingress)
		}
		if t.Reverse != nil && t.Reverse.ID == 0 {
			return errors.NewInvalid("reverse direction of tunnel %d requires a positive ID", t.ID)
		}
	}
	for _, counter := range c.Telemetry.Counters {
		if !names[counter.Switch] {
			return errors.NewInvalid("counter %s refers to unknown switch %q", counter.Name, counter.Switch)
		}
	}
	return nil
}

// Switch returns the description of the named switch
func (c *Config) Switch(name string) (Switch, bool) {
	for _, sw := range c.Switches {
		if sw.Name == name {
			return sw, true
		}
	}
	return Switch{}, false
}
