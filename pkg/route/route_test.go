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

type testSwitch struct {
	name       string
	descriptor pipeline.Descriptor
	entries    []*rule.Spec
}

func (s *testSwitch) Name() string {
	return s.name
}

func (s *testSwitch) Descriptor() pipeline.Descriptor {
	return s.descriptor
}

func (s *testSwitch) WriteEntry(ctx context.Context, spec rule.Spec) error {
	entry, err := rule.Encode(spec, s.descriptor)
	if err != nil {
		return err
	}
	decoded, err := rule.Decode(entry, s.descriptor)
	if err != nil {
		return err
	}
	s.entries = append(s.entries, &decoded)
	return nil
}

func newSwitch(t *testing.T, name string) *testSwitch {
	info, err := utils.LoadP4Info("../../pipelines/advanced_tunnel.p4.p4info.txt")
	require.NoError(t, err)
	return &testSwitch{name: name, descriptor: pipeline.NewP4InfoDescriptor(info)}
}

func TestInstall(t *testing.T) {
	s1 := newSwitch(t, "s1")
	s2 := newSwitch(t, "s2")
	installer := NewInstaller(DefaultLayout())

	n, err := installer.Install(context.Background(), []Route{
		{Switch: s1, Prefix: "10.0.1.1/32", DstMAC: "08:00:00:00:01:11", Port: 1},
		{Switch: s1, Prefix: "10.0.2.77/24", DstMAC: "08:00:00:00:02:00", Port: 2},
		{Switch: s2, Prefix: "10.0.2.2/32", DstMAC: "08:00:00:00:02:22", Port: 1},
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, s1.entries, 2)
	assert.Equal(t, "MyIngress.ipv4_lpm: hdr.ipv4.dstAddr 10.0.1.1/32 -> MyIngress.ipv4_forward dstAddr 08:00:00:00:01:11 port 1",
		s1.entries[0].String())
	// Host bits are dropped from the prefix
	assert.Equal(t, []byte{10, 0, 2, 0}, s1.entries[1].Matches[0].Value)
	assert.Equal(t, int32(24), s1.entries[1].Matches[0].PrefixLen)
	require.Len(t, s2.entries, 1)
}

func TestInstallContinuesPastFailures(t *testing.T) {
	s1 := newSwitch(t, "s1")
	s2 := newSwitch(t, "s2")
	s2.descriptor = nil
	installer := NewInstaller(DefaultLayout())

	n, err := installer.Install(context.Background(), []Route{
		{Switch: s1, Prefix: "10.0.1", DstMAC: "08:00:00:00:01:11", Port: 1},
		{Switch: s2, Prefix: "10.0.2.2/32", DstMAC: "08:00:00:00:02:22", Port: 1},
		{Switch: s1, Prefix: "10.0.3.3/32", DstMAC: "08:00:00:00:03:33", Port: 512},
		{Switch: s1, Prefix: "10.0.4.4/32", DstMAC: "08:00:00:00:04:44", Port: 4},
	})
	assert.Equal(t, 1, n)
	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	assert.True(t, fault.Is(errs[0], fault.InvalidEntry))
	assert.True(t, fault.Is(errs[1], fault.NotInstalled))
	assert.Contains(t, errs[1].Error(), "switch=s2")
	assert.True(t, fault.Is(errs[2], fault.ValueWidthMismatch))
	require.Len(t, s1.entries, 1)
}

func TestRuleUnknownLayout(t *testing.T) {
	s1 := newSwitch(t, "s1")
	layout := DefaultLayout()
	layout.Action = "MyIngress.route"
	_, err := NewInstaller(layout).Rule(Route{Switch: s1, Prefix: "10.0.1.1/32", DstMAC: "08:00:00:00:01:11", Port: 1})
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
}
