// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"testing"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func tunnelDescriptor(t *testing.T) pipeline.Descriptor {
	info, err := utils.LoadP4Info("../../pipelines/advanced_tunnel.p4.p4info.txt")
	require.NoError(t, err)
	return pipeline.NewP4InfoDescriptor(info)
}

func ip(t *testing.T, addr string) []byte {
	b, err := IPv4(addr)
	require.NoError(t, err)
	return b
}

func ingressSpec(t *testing.T) Spec {
	return Spec{
		Table:   "MyIngress.ipv4_lpm",
		Matches: []Match{LPMMatch("hdr.ipv4.dstAddr", ip(t, "10.0.2.2"), 32)},
		Action:  "MyIngress.myTunnel_ingress",
		Params:  []Param{NewParam("dst_id", []byte{0, 100})},
	}
}

func TestEncodeTunnelIngress(t *testing.T) {
	d := tunnelDescriptor(t)
	entry, err := Encode(ingressSpec(t), d)
	require.NoError(t, err)

	assert.Equal(t, uint32(37375156), entry.TableId)
	require.Len(t, entry.Match, 1)
	assert.Equal(t, uint32(1), entry.Match[0].FieldId)
	assert.Equal(t, []byte{10, 0, 2, 2}, entry.Match[0].GetLpm().Value)
	assert.Equal(t, int32(32), entry.Match[0].GetLpm().PrefixLen)

	action := entry.GetAction().GetAction()
	require.NotNil(t, action)
	assert.Equal(t, uint32(17132581), action.ActionId)
	require.Len(t, action.Params, 1)
	assert.Equal(t, uint32(1), action.Params[0].ParamId)
	assert.Equal(t, []byte{0, 100}, action.Params[0].Value)
}

func TestEncodeDeterministic(t *testing.T) {
	d := tunnelDescriptor(t)
	mac, err := MAC("08:00:00:00:02:22")
	require.NoError(t, err)
	spec := Spec{
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{ExactMatch("hdr.myTunnel.dst_id", []byte{0, 100})},
		Action:  "MyIngress.myTunnel_egress",
		Params:  []Param{NewParam("port", []byte{0, 1}), NewParam("dstAddr", mac)},
	}

	e1, err := Encode(spec, d)
	require.NoError(t, err)
	e2, err := Encode(spec, d)
	require.NoError(t, err)

	opts := proto.MarshalOptions{Deterministic: true}
	b1, err := opts.Marshal(e1)
	require.NoError(t, err)
	b2, err := opts.Marshal(e2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	// Parameters come out in canonical order regardless of the order given
	params := e1.GetAction().GetAction().Params
	require.Len(t, params, 2)
	assert.Equal(t, uint32(1), params[0].ParamId)
	assert.Equal(t, mac, params[0].Value)
	assert.Equal(t, uint32(2), params[1].ParamId)
}

func TestEncodeWidthMismatch(t *testing.T) {
	d := tunnelDescriptor(t)

	spec := ingressSpec(t)
	spec.Matches[0].Value = []byte{10, 0, 2}
	entry, err := Encode(spec, d)
	assert.Nil(t, entry)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))

	// 16-bit dst_id given as a single byte
	spec = ingressSpec(t)
	spec.Params[0].Value = []byte{100}
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))

	// 9-bit port carrying bits beyond its width
	spec = Spec{
		Table:   "MyIngress.myTunnel_exact",
		Matches: []Match{ExactMatch("hdr.myTunnel.dst_id", []byte{0, 100})},
		Action:  "MyIngress.myTunnel_forward",
		Params:  []Param{NewParam("port", []byte{0x02, 0x00})},
	}
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))
	spec.Params[0].Value = []byte{0x01, 0xff}
	_, err = Encode(spec, d)
	assert.NoError(t, err)
}

func TestEncodeUnknownIdentifiers(t *testing.T) {
	d := tunnelDescriptor(t)

	spec := ingressSpec(t)
	spec.Table = "MyIngress.nope"
	_, err := Encode(spec, d)
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
	assert.Contains(t, err.Error(), "MyIngress.nope")

	spec = ingressSpec(t)
	spec.Action = "MyIngress.nope"
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))

	spec = ingressSpec(t)
	spec.Matches[0].Field = "hdr.ipv4.srcAddr"
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))

	spec = ingressSpec(t)
	spec.Params[0].Name = "port"
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
}

func TestEncodeInvalidEntries(t *testing.T) {
	d := tunnelDescriptor(t)

	spec := ingressSpec(t)
	spec.Matches[0] = ExactMatch("hdr.ipv4.dstAddr", ip(t, "10.0.2.2"))
	_, err := Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	spec = ingressSpec(t)
	spec.Matches[0].PrefixLen = 33
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	spec = ingressSpec(t)
	spec.Matches = append(spec.Matches, spec.Matches[0])
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	spec = ingressSpec(t)
	spec.Params = nil
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	spec = ingressSpec(t)
	spec.Params = append(spec.Params, spec.Params[0])
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))
}

func TestEncodeLPMCanonical(t *testing.T) {
	d := tunnelDescriptor(t)

	spec := ingressSpec(t)
	spec.Matches[0] = LPMMatch("hdr.ipv4.dstAddr", ip(t, "10.0.2.77"), 24)
	entry, err := Encode(spec, d)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 2, 0}, entry.Match[0].GetLpm().Value)

	spec.Matches[0] = LPMMatch("hdr.ipv4.dstAddr", ip(t, "10.0.2.77"), 0)
	entry, err = Encode(spec, d)
	require.NoError(t, err)
	assert.Len(t, entry.Match, 0)
}

func TestEncodeTernary(t *testing.T) {
	info, err := utils.LoadP4Info("../../pipelines/advanced_tunnel.p4.p4info.txt")
	require.NoError(t, err)
	info = proto.Clone(info).(*p4info.P4Info)
	for _, table := range info.Tables {
		if table.Preamble.Name == "MyIngress.ipv4_lpm" {
			table.MatchFields[0].Match = &p4info.MatchField_MatchType_{MatchType: p4info.MatchField_TERNARY}
		}
	}
	d := pipeline.NewP4InfoDescriptor(info)

	spec := ingressSpec(t)
	spec.Matches[0] = TernaryMatch("hdr.ipv4.dstAddr", ip(t, "10.0.2.77"), []byte{0xff, 0xff, 0xff, 0})
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	spec.Priority = 10
	entry, err := Encode(spec, d)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 2, 0}, entry.Match[0].GetTernary().Value)
	assert.Equal(t, int32(10), entry.Priority)

	spec.Matches[0].Mask = []byte{0, 0, 0, 0}
	entry, err = Encode(spec, d)
	require.NoError(t, err)
	assert.Len(t, entry.Match, 0)

	spec.Matches[0].Mask = []byte{0xff}
	_, err = Encode(spec, d)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))
}

func TestDecode(t *testing.T) {
	d := tunnelDescriptor(t)
	entry, err := Encode(ingressSpec(t), d)
	require.NoError(t, err)

	// Devices may hand back values in their shortest form
	entry.GetAction().GetAction().Params[0].Value = []byte{100}

	spec, err := Decode(entry, d)
	require.NoError(t, err)
	assert.Equal(t, ingressSpec(t), spec)
	assert.Equal(t, "MyIngress.ipv4_lpm: hdr.ipv4.dstAddr 10.0.2.2/32 -> MyIngress.myTunnel_ingress dst_id 100", spec.String())

	entry.TableId = 1
	_, err = Decode(entry, d)
	assert.True(t, fault.Is(err, fault.UnknownIdentifier))
}

func TestValues(t *testing.T) {
	_, err := IPv4("10.0.2")
	assert.True(t, fault.Is(err, fault.InvalidEntry))
	_, err = MAC("08:00:00")
	assert.True(t, fault.Is(err, fault.InvalidEntry))

	b, err := Uint(100, 16)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 100}, b)
	b, err = Uint(2, 9)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 2}, b)
	_, err = Uint(512, 9)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))
}

func TestParseValue(t *testing.T) {
	b, err := ParseValue("10.0.2.2", 32)
	assert.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 2, 2}, b)
	b, err = ParseValue("08:00:00:00:02:22", 48)
	assert.NoError(t, err)
	assert.Equal(t, []byte{8, 0, 0, 0, 2, 0x22}, b)
	b, err = ParseValue("3", 9)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 3}, b)
	b, err = ParseValue("0xffffff00", 32)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0}, b)

	_, err = ParseValue("2", 1)
	assert.True(t, fault.Is(err, fault.ValueWidthMismatch))
	_, err = ParseValue("ten", 16)
	assert.True(t, fault.Is(err, fault.InvalidEntry))
	_, err = ParseValue("", 16)
	assert.True(t, fault.Is(err, fault.InvalidEntry))
}

func TestParseMatchKind(t *testing.T) {
	for name, kind := range map[string]MatchKind{"": Exact, "exact": Exact, "LPM": LPM, "ternary": Ternary} {
		parsed, err := ParseMatchKind(name)
		assert.NoError(t, err, name)
		assert.Equal(t, kind, parsed, name)
	}
	_, err := ParseMatchKind("range")
	assert.True(t, fault.Is(err, fault.InvalidEntry))
}
