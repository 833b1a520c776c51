// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package topo describes the switches of the fabric and the tunnels, routes and counters to be provisioned
// and sampled on them
package topo

import (
	"os"
	"path/filepath"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/route"
	"github.com/onosproject/fabric-tunnel/pkg/tunnel"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/spf13/viper"
)

var log = logging.GetLogger("topo")

// Config is a description of the fabric and of everything to be provisioned on it
type Config struct {
	Pipeline    Pipeline      `mapstructure:"pipeline" yaml:"pipeline"`
	ElectionID  ElectionID    `mapstructure:"election_id" yaml:"election_id"`
	Role        string        `mapstructure:"role" yaml:"role,omitempty"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty"`
	Workers     int           `mapstructure:"workers" yaml:"workers,omitempty"`
	Switches    []Switch      `mapstructure:"switches" yaml:"switches"`
	Routes      []Route       `mapstructure:"routes" yaml:"routes,omitempty"`
	Rules       []Rule        `mapstructure:"rules" yaml:"rules,omitempty"`
	Tunnels     []Tunnel      `mapstructure:"tunnels" yaml:"tunnels,omitempty"`
	Telemetry   Telemetry     `mapstructure:"telemetry" yaml:"telemetry"`
	Layout      tunnel.Layout `mapstructure:"layout" yaml:"layout,omitempty"`
	RouteLayout route.Layout  `mapstructure:"route_layout" yaml:"route_layout,omitempty"`
}

// Pipeline is a description of the forwarding pipeline pushed to every switch
type Pipeline struct {
	P4Info       string `mapstructure:"p4info" yaml:"p4info"`
	DeviceConfig string `mapstructure:"device_config" yaml:"device_config"`
	Cookie       uint64 `mapstructure:"cookie" yaml:"cookie,omitempty"`
	Reconcile    bool   `mapstructure:"reconcile" yaml:"reconcile,omitempty"`
}

// ElectionID is the mastership election ID used for all switches
type ElectionID struct {
	High uint64 `mapstructure:"high" yaml:"high"`
	Low  uint64 `mapstructure:"low" yaml:"low"`
}

// Switch is a description of a switch and of its P4Runtime endpoint
type Switch struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Address  string `mapstructure:"address" yaml:"address"`
	DeviceID uint64 `mapstructure:"device_id" yaml:"device_id"`
}

// Route is a description of a static IPv4 route
type Route struct {
	Switch string `mapstructure:"switch" yaml:"switch"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	DstMAC string `mapstructure:"dst_mac" yaml:"dst_mac"`
	Port   uint64 `mapstructure:"port" yaml:"port"`
}

// Rule is a description of an arbitrary table entry; values are IPv4 addresses, MAC addresses or
// unsigned integers in decimal or 0x-prefixed hexadecimal
type Rule struct {
	Switch   string      `mapstructure:"switch" yaml:"switch"`
	Table    string      `mapstructure:"table" yaml:"table"`
	Matches  []RuleMatch `mapstructure:"matches" yaml:"matches,omitempty"`
	Action   string      `mapstructure:"action" yaml:"action"`
	Params   []RuleParam `mapstructure:"params" yaml:"params,omitempty"`
	Priority int32       `mapstructure:"priority" yaml:"priority,omitempty"`
}

// RuleMatch is a description of a match field value; kind is exact, lpm or ternary
type RuleMatch struct {
	Field     string `mapstructure:"field" yaml:"field"`
	Kind      string `mapstructure:"kind" yaml:"kind,omitempty"`
	Value     string `mapstructure:"value" yaml:"value"`
	PrefixLen int32  `mapstructure:"prefix_len" yaml:"prefix_len,omitempty"`
	Mask      string `mapstructure:"mask" yaml:"mask,omitempty"`
}

// RuleParam is a description of an action parameter value
type RuleParam struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
}

// Tunnel is a description of a tunnel from the ingress switch to a host attached to the egress switch;
// the optional reverse direction runs from the egress switch back to a host attached to the ingress switch
type Tunnel struct {
	ID         uint64     `mapstructure:"id" yaml:"id"`
	Ingress    string     `mapstructure:"ingress" yaml:"ingress"`
	Egress     string     `mapstructure:"egress" yaml:"egress"`
	Transit    string     `mapstructure:"transit" yaml:"transit,omitempty"`
	DstMAC     string     `mapstructure:"dst_mac" yaml:"dst_mac"`
	DstIP      string     `mapstructure:"dst_ip" yaml:"dst_ip"`
	HostPort   uint64     `mapstructure:"host_port" yaml:"host_port"`
	SwitchPort uint64     `mapstructure:"switch_port" yaml:"switch_port"`
	Reverse    *TunnelEnd `mapstructure:"reverse" yaml:"reverse,omitempty"`
}

// TunnelEnd is a description of the reverse direction of a tunnel
type TunnelEnd struct {
	ID         uint64 `mapstructure:"id" yaml:"id"`
	DstMAC     string `mapstructure:"dst_mac" yaml:"dst_mac"`
	DstIP      string `mapstructure:"dst_ip" yaml:"dst_ip"`
	HostPort   uint64 `mapstructure:"host_port" yaml:"host_port"`
	SwitchPort uint64 `mapstructure:"switch_port" yaml:"switch_port"`
}

// Telemetry is a description of the counter sampling
type Telemetry struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	Ticks          int           `mapstructure:"ticks" yaml:"ticks,omitempty"`
	IngressCounter string        `mapstructure:"ingress_counter" yaml:"ingress_counter,omitempty"`
	EgressCounter  string        `mapstructure:"egress_counter" yaml:"egress_counter,omitempty"`
	Counters       []Counter     `mapstructure:"counters" yaml:"counters,omitempty"`
}

// Counter is a description of an additional counter cell to be sampled
type Counter struct {
	Switch string `mapstructure:"switch" yaml:"switch"`
	Name   string `mapstructure:"name" yaml:"name"`
	Index  int64  `mapstructure:"index" yaml:"index"`
}

// Reads configuration from the specified path (- for stdin) via viper; ready to Unmarshal
func readConfig(path string) (*viper.Viper, error) {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	if path == "-" {
		if err := cfg.ReadConfig(os.Stdin); err != nil {
			return cfg, err
		}
	} else {
		cfg.SetConfigFile(filepath.Clean(path))
		if err := cfg.ReadInConfig(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
