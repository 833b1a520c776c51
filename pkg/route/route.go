// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package route installs static IPv4 longest-prefix forwarding rules
package route

import (
	"context"
	"fmt"
	"net"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"go.uber.org/multierr"
)

var log = logging.GetLogger("route")

// Switch is the part of a switch session the installer needs
type Switch interface {
	Name() string
	Descriptor() pipeline.Descriptor
	WriteEntry(ctx context.Context, spec rule.Spec) error
}

// Route forwards traffic for the destination prefix out of the given port, rewriting the destination MAC
type Route struct {
	Switch Switch
	Prefix string
	DstMAC string
	Port   uint64
}

func (r Route) String() string {
	return fmt.Sprintf("%s via port %d (%s)", r.Prefix, r.Port, r.DstMAC)
}

// Layout names the table, match field, action and parameters used for routes
type Layout struct {
	Table     string `mapstructure:"table" yaml:"table,omitempty"`
	Field     string `mapstructure:"field" yaml:"field,omitempty"`
	Action    string `mapstructure:"action" yaml:"action,omitempty"`
	MACParam  string `mapstructure:"mac_param" yaml:"mac_param,omitempty"`
	PortParam string `mapstructure:"port_param" yaml:"port_param,omitempty"`
}

// DefaultLayout returns the layout of the basic forwarding program
func DefaultLayout() Layout {
	return Layout{
		Table:     "MyIngress.ipv4_lpm",
		Field:     "hdr.ipv4.dstAddr",
		Action:    "MyIngress.ipv4_forward",
		MACParam:  "dstAddr",
		PortParam: "port",
	}
}

// Merge returns the layout with every empty name taken from the given defaults
func (l Layout) Merge(defaults Layout) Layout {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Layout{
		Table:     pick(l.Table, defaults.Table),
		Field:     pick(l.Field, defaults.Field),
		Action:    pick(l.Action, defaults.Action),
		MACParam:  pick(l.MACParam, defaults.MACParam),
		PortParam: pick(l.PortParam, defaults.PortParam),
	}
}

// Installer writes route rules
type Installer struct {
	layout Layout
}

// NewInstaller creates a route installer using the given layout
func NewInstaller(layout Layout) *Installer {
	return &Installer{layout: layout}
}

// Rule returns the forwarding rule of the route
func (i *Installer) Rule(r Route) (rule.Spec, error) {
	if r.Switch == nil {
		return rule.Spec{}, fault.New(fault.InvalidEntry, "route %s has no switch", r).WithOp("route")
	}
	d := r.Switch.Descriptor()
	if d == nil {
		return rule.Spec{}, fault.New(fault.NotInstalled, "forwarding pipeline is not installed").
			WithSwitch(r.Switch.Name()).WithOp("route")
	}

	ip, prefix, err := net.ParseCIDR(r.Prefix)
	if err != nil || ip.To4() == nil {
		return rule.Spec{}, fault.New(fault.InvalidEntry, "invalid IPv4 prefix %q", r.Prefix).
			WithSwitch(r.Switch.Name()).WithOp("route")
	}
	prefixLen, _ := prefix.Mask.Size()
	mac, err := rule.MAC(r.DstMAC)
	if err != nil {
		return rule.Spec{}, fault.Annotate(err, r.Switch.Name(), "route")
	}
	param, err := d.Resolve(pipeline.ActionParam, i.layout.Action, i.layout.PortParam)
	if err != nil {
		return rule.Spec{}, fault.Annotate(err, r.Switch.Name(), "route")
	}
	port, err := rule.Uint(r.Port, param.Bitwidth)
	if err != nil {
		return rule.Spec{}, fault.Annotate(err, r.Switch.Name(), "route")
	}

	return rule.Spec{
		Table:   i.layout.Table,
		Matches: []rule.Match{rule.LPMMatch(i.layout.Field, ip.To4(), int32(prefixLen))},
		Action:  i.layout.Action,
		Params: []rule.Param{
			rule.NewParam(i.layout.MACParam, mac),
			rule.NewParam(i.layout.PortParam, port),
		},
	}, nil
}

// Install writes the rules of the given routes in order. Routes are independent of each other: a failed
// route does not prevent the remaining ones from being installed. Returns the number of routes installed
// and the combined failures.
func (i *Installer) Install(ctx context.Context, routes []Route) (int, error) {
	var errs error
	installed := 0
	for _, r := range routes {
		spec, err := i.Rule(r)
		if err == nil {
			err = fault.Annotate(r.Switch.WriteEntry(ctx, spec), r.Switch.Name(), "route")
		}
		if err != nil {
			log.Warnf("Unable to install route %s: %+v", r, err)
			errs = multierr.Append(errs, err)
			continue
		}
		log.Infof("Installed route %s on %s", r, r.Switch.Name())
		installed++
	}
	return installed, errs
}
