// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"testing"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/code"
)

type write struct {
	sw   string
	spec rule.Spec
}

// Records writes in the order they are issued, across switches
type journal struct {
	writes []write
	failAt int
}

type testSwitch struct {
	name       string
	descriptor pipeline.Descriptor
	journal    *journal
}

func (s *testSwitch) Name() string {
	return s.name
}

func (s *testSwitch) Descriptor() pipeline.Descriptor {
	return s.descriptor
}

func (s *testSwitch) WriteEntry(ctx context.Context, spec rule.Spec) error {
	if _, err := rule.Encode(spec, s.descriptor); err != nil {
		return err
	}
	if s.journal.failAt == len(s.journal.writes)+1 {
		return &fault.Error{Kind: fault.WriteRejected, Table: spec.Table, Reason: code.Code_RESOURCE_EXHAUSTED}
	}
	s.journal.writes = append(s.journal.writes, write{sw: s.name, spec: spec})
	return nil
}

func newSwitches(t *testing.T, names ...string) (*journal, []*testSwitch) {
	info, err := utils.LoadP4Info("../../pipelines/advanced_tunnel.p4.p4info.txt")
	require.NoError(t, err)
	d := pipeline.NewP4InfoDescriptor(info)
	j := &journal{}
	var switches []*testSwitch
	for _, name := range names {
		switches = append(switches, &testSwitch{name: name, descriptor: d, journal: j})
	}
	return j, switches
}

func testPath(ingress, egress Switch) Path {
	return Path{
		TunnelID:   100,
		Ingress:    ingress,
		Egress:     egress,
		DstMAC:     "08:00:00:00:02:22",
		DstIP:      "10.0.2.2",
		HostPort:   1,
		SwitchPort: 2,
	}
}

func TestPlan(t *testing.T) {
	_, sw := newSwitches(t, "s1", "s2")
	steps, err := NewProvisioner().Plan(testPath(sw[0], sw[1]))
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, IngressStage, steps[0].Stage)
	assert.Equal(t, "s1", steps[0].Switch.Name())
	assert.Equal(t, "MyIngress.ipv4_lpm: hdr.ipv4.dstAddr 10.0.2.2/32 -> MyIngress.myTunnel_ingress dst_id 100",
		steps[0].Rule.String())

	assert.Equal(t, TransitStage, steps[1].Stage)
	assert.Equal(t, "s1", steps[1].Switch.Name())
	assert.Equal(t, "MyIngress.myTunnel_exact", steps[1].Rule.Table)
	assert.Equal(t, []byte{0, 100}, steps[1].Rule.Matches[0].Value)
	assert.Equal(t, "MyIngress.myTunnel_forward", steps[1].Rule.Action)
	assert.Equal(t, []rule.Param{rule.NewParam("port", []byte{0, 2})}, steps[1].Rule.Params)

	assert.Equal(t, EgressStage, steps[2].Stage)
	assert.Equal(t, "s2", steps[2].Switch.Name())
	assert.Equal(t, "MyIngress.myTunnel_egress", steps[2].Rule.Action)
	assert.Equal(t, []rule.Param{
		rule.NewParam("dstAddr", []byte{0x08, 0, 0, 0, 0x02, 0x22}),
		rule.NewParam("port", []byte{0, 1}),
	}, steps[2].Rule.Params)

	// Deterministic
	again, err := NewProvisioner().Plan(testPath(sw[0], sw[1]))
	require.NoError(t, err)
	assert.Equal(t, steps, again)
}

func TestPlanTransitSwitch(t *testing.T) {
	_, sw := newSwitches(t, "s1", "s2", "s3")
	path := testPath(sw[0], sw[2])
	path.Transit = sw[1]
	steps, err := NewProvisioner().Plan(path)
	require.NoError(t, err)
	assert.Equal(t, "s1", steps[0].Switch.Name())
	assert.Equal(t, "s2", steps[1].Switch.Name())
	assert.Equal(t, "s3", steps[2].Switch.Name())
}

func TestPlanInvalid(t *testing.T) {
	_, sw := newSwitches(t, "s1", "s2")
	p := NewProvisioner()

	path := testPath(sw[0], sw[1])
	path.TunnelID = 0
	_, err := p.Plan(path)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	_, err = p.Plan(testPath(sw[0], sw[0]))
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	_, err = p.Plan(testPath(sw[0], nil))
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	path = testPath(sw[0], sw[1])
	path.DstIP = "10.0.2"
	_, err = p.Plan(path)
	assert.True(t, fault.Is(err, fault.InvalidEntry))
	assert.Contains(t, err.Error(), "switch=s1")

	path = testPath(sw[0], sw[1])
	path.DstMAC = "08:00"
	_, err = p.Plan(path)
	assert.True(t, fault.Is(err, fault.InvalidEntry))
	assert.Contains(t, err.Error(), "switch=s2")

	// Tunnel IDs are 16 bits and ports 9 bits wide
	path = testPath(sw[0], sw[1])
	path.TunnelID = 70000
	_, err = p.Plan(path)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))
	path = testPath(sw[0], sw[1])
	path.HostPort = 512
	_, err = p.Plan(path)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))

	sw[1].descriptor = nil
	_, err = p.Plan(testPath(sw[0], sw[1]))
	assert.True(t, fault.Is(err, fault.NotInstalled))

	_, sw = newSwitches(t, "s1", "s2")
	p = NewProvisioner(WithLayout(Layout{TunnelTable: "MyIngress.tunnels"}))
	assert.Equal(t, "MyIngress.ipv4_lpm", p.Layout().IngressTable)
	_, err = p.Plan(testPath(sw[0], sw[1]))
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
}

func TestProvisionPath(t *testing.T) {
	j, sw := newSwitches(t, "s1", "s2")
	steps, err := NewProvisioner().ProvisionPath(context.Background(), testPath(sw[0], sw[1]))
	require.NoError(t, err)
	assert.Len(t, steps, 3)
	require.Len(t, j.writes, 3)
	assert.Equal(t, "s1", j.writes[0].sw)
	assert.Equal(t, "MyIngress.myTunnel_ingress", j.writes[0].spec.Action)
	assert.Equal(t, "s1", j.writes[1].sw)
	assert.Equal(t, "MyIngress.myTunnel_forward", j.writes[1].spec.Action)
	assert.Equal(t, "s2", j.writes[2].sw)
	assert.Equal(t, "MyIngress.myTunnel_egress", j.writes[2].spec.Action)
}

func TestProvisionPathAborts(t *testing.T) {
	j, sw := newSwitches(t, "s1", "s2")
	j.failAt = 2
	steps, err := NewProvisioner().ProvisionPath(context.Background(), testPath(sw[0], sw[1]))
	assert.True(t, fault.Is(err, fault.WriteRejected))
	assert.Contains(t, err.Error(), "switch=s1")
	assert.Contains(t, err.Error(), "table=MyIngress.myTunnel_exact")

	// The ingress rule stays, the egress rule is never attempted
	require.Len(t, steps, 1)
	assert.Equal(t, IngressStage, steps[0].Stage)
	require.Len(t, j.writes, 1)
	assert.Equal(t, "MyIngress.ipv4_lpm", j.writes[0].spec.Table)
}

func TestProvisionBidirectional(t *testing.T) {
	j, sw := newSwitches(t, "s1", "s2")
	forward := testPath(sw[0], sw[1])
	reverse := Path{
		TunnelID:   200,
		Ingress:    sw[1],
		Egress:     sw[0],
		DstMAC:     "08:00:00:00:01:11",
		DstIP:      "10.0.1.1",
		HostPort:   1,
		SwitchPort: 2,
	}
	steps, err := NewProvisioner().ProvisionBidirectional(context.Background(), forward, reverse)
	require.NoError(t, err)
	assert.Len(t, steps, 6)
	require.Len(t, j.writes, 6)
	assert.Equal(t, []string{"s1", "s1", "s2", "s2", "s2", "s1"},
		[]string{j.writes[0].sw, j.writes[1].sw, j.writes[2].sw, j.writes[3].sw, j.writes[4].sw, j.writes[5].sw})
	assert.Equal(t, []byte{0, 200}, j.writes[3].spec.Params[0].Value)

	j, sw = newSwitches(t, "s1", "s2")
	j.failAt = 3
	reverse.Ingress, reverse.Egress = sw[1], sw[0]
	steps, err = NewProvisioner().ProvisionBidirectional(context.Background(), testPath(sw[0], sw[1]), reverse)
	assert.True(t, fault.Is(err, fault.WriteRejected))
	assert.Len(t, steps, 2)
	assert.Len(t, j.writes, 2)
}
