// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package tunnel

// Layout names the tables, actions, match fields and parameters of the tunneling pipeline
type Layout struct {
	IngressTable  string `mapstructure:"ingress_table" yaml:"ingress_table,omitempty"`
	IngressField  string `mapstructure:"ingress_field" yaml:"ingress_field,omitempty"`
	IngressAction string `mapstructure:"ingress_action" yaml:"ingress_action,omitempty"`
	TunnelIDParam string `mapstructure:"tunnel_id_param" yaml:"tunnel_id_param,omitempty"`

	TunnelTable string `mapstructure:"tunnel_table" yaml:"tunnel_table,omitempty"`
	TunnelField string `mapstructure:"tunnel_field" yaml:"tunnel_field,omitempty"`

	ForwardAction    string `mapstructure:"forward_action" yaml:"forward_action,omitempty"`
	ForwardPortParam string `mapstructure:"forward_port_param" yaml:"forward_port_param,omitempty"`

	EgressAction    string `mapstructure:"egress_action" yaml:"egress_action,omitempty"`
	EgressMACParam  string `mapstructure:"egress_mac_param" yaml:"egress_mac_param,omitempty"`
	EgressPortParam string `mapstructure:"egress_port_param" yaml:"egress_port_param,omitempty"`
}

// DefaultLayout returns the layout of the advanced tunnel program
func DefaultLayout() Layout {
	return Layout{
		IngressTable:     "MyIngress.ipv4_lpm",
		IngressField:     "hdr.ipv4.dstAddr",
		IngressAction:    "MyIngress.myTunnel_ingress",
		TunnelIDParam:    "dst_id",
		TunnelTable:      "MyIngress.myTunnel_exact",
		TunnelField:      "hdr.myTunnel.dst_id",
		ForwardAction:    "MyIngress.myTunnel_forward",
		ForwardPortParam: "port",
		EgressAction:     "MyIngress.myTunnel_egress",
		EgressMACParam:   "dstAddr",
		EgressPortParam:  "port",
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
		IngressTable:     pick(l.IngressTable, defaults.IngressTable),
		IngressField:     pick(l.IngressField, defaults.IngressField),
		IngressAction:    pick(l.IngressAction, defaults.IngressAction),
		TunnelIDParam:    pick(l.TunnelIDParam, defaults.TunnelIDParam),
		TunnelTable:      pick(l.TunnelTable, defaults.TunnelTable),
		TunnelField:      pick(l.TunnelField, defaults.TunnelField),
		ForwardAction:    pick(l.ForwardAction, defaults.ForwardAction),
		ForwardPortParam: pick(l.ForwardPortParam, defaults.ForwardPortParam),
		EgressAction:     pick(l.EgressAction, defaults.EgressAction),
		EgressMACParam:   pick(l.EgressMACParam, defaults.EgressMACParam),
		EgressPortParam:  pick(l.EgressPortParam, defaults.EgressPortParam),
	}
}
