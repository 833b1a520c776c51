// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"context"
	"testing"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func newFirewallSwitch(t *testing.T, name string) *testSwitch {
	info, err := utils.LoadP4Info("../manager/testdata/firewall_acl.p4.p4info.txt")
	require.NoError(t, err)
	return &testSwitch{name: name, descriptor: pipeline.NewP4InfoDescriptor(info)}
}

func TestRuleSpec(t *testing.T) {
	s1 := newSwitch(t, "s1")

	spec, err := Rule{
		Switch:  s1,
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{{Field: "hdr.myTunnel.dst_id", Value: "0x64"}},
		Action:  "MyIngress.myTunnel_forward",
		Params:  []Param{{Name: "port", Value: "2"}},
	}.Spec()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 100}, spec.Matches[0].Value)
	assert.Equal(t, rule.Exact, spec.Matches[0].Kind)
	assert.Equal(t, []byte{0, 2}, spec.Params[0].Value)

	spec, err = Rule{
		Switch:  s1,
		Table:   "MyIngress.ipv4_lpm",
		Matches: []Match{{Field: "hdr.ipv4.dstAddr", Kind: rule.LPM, Value: "10.0.1.0", PrefixLen: 24}},
		Action:  "MyIngress.ipv4_forward",
		Params:  []Param{{Name: "dstAddr", Value: "08:00:00:00:01:00"}, {Name: "port", Value: "1"}},
	}.Spec()
	require.NoError(t, err)
	assert.Equal(t, "MyIngress.ipv4_lpm: hdr.ipv4.dstAddr 10.0.1.0/24 -> MyIngress.ipv4_forward dstAddr 08:00:00:00:01:00 port 1",
		spec.String())
}

func TestRuleSpecFailures(t *testing.T) {
	s1 := newSwitch(t, "s1")

	_, err := Rule{
		Switch:  s1,
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{{Field: "hdr.myTunnel.src_id", Value: "1"}},
		Action:  "NoAction",
	}.Spec()
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
	assert.Contains(t, err.Error(), "switch=s1")
	assert.Contains(t, err.Error(), "table=MyIngress.myTunnel_exact")

	_, err = Rule{
		Switch:  s1,
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{{Field: "hdr.myTunnel.dst_id", Value: "70000"}},
		Action:  "NoAction",
	}.Spec()
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))

	_, err = Rule{
		Switch:  s1,
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{{Field: "hdr.myTunnel.dst_id", Value: "one"}},
		Action:  "NoAction",
	}.Spec()
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	s1.descriptor = nil
	_, err = Rule{Switch: s1, Table: "MyIngress.myTunnel_exact", Action: "NoAction"}.Spec()
	assert.True(t, fault.Is(err, fault.NotInstalled))

	_, err = Rule{Table: "MyIngress.myTunnel_exact", Action: "NoAction"}.Spec()
	assert.True(t, fault.Is(err, fault.InvalidEntry))
}

func TestInstallRules(t *testing.T) {
	s1 := newFirewallSwitch(t, "s1")

	n, err := InstallRules(context.Background(), []Rule{
		{
			Switch: s1,
			Table:  "MyIngress.check_ports",
			Matches: []Match{
				{Field: "standard_metadata.ingress_port", Value: "1"},
				{Field: "standard_metadata.egress_spec", Value: "3"},
			},
			Action: "MyIngress.set_direction",
			Params: []Param{{Name: "dir", Value: "0"}},
		},
		{
			Switch: s1,
			Table:  "MyIngress.check_ports",
			Matches: []Match{
				{Field: "standard_metadata.ingress_port", Value: "3"},
				{Field: "standard_metadata.egress_spec", Value: "1"},
			},
			Action: "MyIngress.set_direction",
			Params: []Param{{Name: "dir", Value: "2"}},
		},
		{
			Switch:  s1,
			Table:   "MyIngress.acl",
			Matches: []Match{{Field: "hdr.ipv4.srcAddr", Kind: rule.Ternary, Value: "10.0.1.7", Mask: "255.255.255.0"}},
			Action:  "MyIngress.drop",
		},
		{
			Switch:   s1,
			Table:    "MyIngress.acl",
			Matches:  []Match{{Field: "hdr.ipv4.srcAddr", Kind: rule.Ternary, Value: "10.0.1.7", Mask: "255.255.255.0"}},
			Action:   "MyIngress.drop",
			Priority: 10,
		},
	})
	assert.Equal(t, 2, n)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.True(t, fault.Is(errs[0], fault.ValueWidthMismatch))
	// Ternary entries without a priority are rejected by the encoder
	assert.True(t, fault.Is(errs[1], fault.InvalidEntry))
	assert.Contains(t, errs[1].Error(), "op=rule")

	require.Len(t, s1.entries, 2)
	assert.Equal(t, "MyIngress.set_direction", s1.entries[0].Action)
	assert.Equal(t, []byte{0}, s1.entries[0].Params[0].Value)
	acl := s1.entries[1]
	assert.Equal(t, "MyIngress.acl", acl.Table)
	assert.Equal(t, int32(10), acl.Priority)
	require.Len(t, acl.Matches, 1)
	assert.Equal(t, rule.Ternary, acl.Matches[0].Kind)
	// Bits outside the mask are cleared
	assert.Equal(t, []byte{10, 0, 1, 0}, acl.Matches[0].Value)
	assert.Equal(t, []byte{255, 255, 255, 0}, acl.Matches[0].Mask)
}

func TestLayoutMerge(t *testing.T) {
	layout := Layout{Table: "MyIngress.routes", PortParam: "egress_port"}.Merge(DefaultLayout())
	assert.Equal(t, "MyIngress.routes", layout.Table)
	assert.Equal(t, "hdr.ipv4.dstAddr", layout.Field)
	assert.Equal(t, "MyIngress.ipv4_forward", layout.Action)
	assert.Equal(t, "dstAddr", layout.MACParam)
	assert.Equal(t, "egress_port", layout.PortParam)
}
