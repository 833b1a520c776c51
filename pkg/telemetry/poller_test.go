// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/fabric-tunnel/pkg/session"
	"github.com/onosproject/fabric-tunnel/pkg/simulator/harness"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testReader struct {
	name  string
	lock  sync.Mutex
	cells map[int64]session.CounterData
	err   error
	reads int
}

func (r *testReader) Name() string {
	return r.name
}

func (r *testReader) ReadCounter(ctx context.Context, name string, index int64) (session.CounterData, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.reads++
	if r.err != nil {
		return session.CounterData{}, r.err
	}
	data, ok := r.cells[index]
	if !ok {
		return session.CounterData{}, fault.New(fault.NotFound, "index %d never populated", index).WithSwitch(r.name)
	}
	return data, nil
}

func drain(sink ChannelSink) []Sample {
	var samples []Sample
	for {
		select {
		case s := <-sink:
			samples = append(samples, s)
		default:
			return samples
		}
	}
}

func TestAbsentSampleEveryTick(t *testing.T) {
	reader := &testReader{name: "s1"}
	sink := make(ChannelSink, 16)
	p := NewPoller(10*time.Millisecond, []Target{{Switch: reader, Counter: "MyIngress.ingressTunnelCounter", Index: 100}},
		sink, WithMaxTicks(3))
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
	p.Stop()

	samples := drain(sink)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, i+1, s.Tick)
		assert.Equal(t, "s1", s.Switch)
		assert.Equal(t, int64(100), s.Index)
		assert.True(t, fault.Is(s.Err, fault.NotFound))
	}
}

func TestPlanOrder(t *testing.T) {
	s1 := &testReader{name: "s1", err: fault.New(fault.Connection, "broken")}
	s2 := &testReader{name: "s2", cells: map[int64]session.CounterData{100: {Packets: 3, Bytes: 180}}}
	sink := make(ChannelSink, 16)
	p := NewPoller(10*time.Millisecond,
		TunnelPlan(100, s1, s2, "MyIngress.ingressTunnelCounter", "MyIngress.egressTunnelCounter"), sink, WithMaxTicks(2))
	require.NoError(t, p.Start(context.Background()))
	<-p.Done()

	samples := drain(sink)
	require.Len(t, samples, 4)
	for i := 0; i < 4; i += 2 {
		assert.Equal(t, "s1", samples[i].Switch)
		assert.Equal(t, "MyIngress.ingressTunnelCounter", samples[i].Counter)
		assert.True(t, fault.Is(samples[i].Err, fault.Connection))

		assert.Equal(t, "s2", samples[i+1].Switch)
		assert.Equal(t, "MyIngress.egressTunnelCounter", samples[i+1].Counter)
		assert.NoError(t, samples[i+1].Err)
		assert.Equal(t, int64(3), samples[i+1].Packets)
		assert.Equal(t, "s2 MyIngress.egressTunnelCounter 100: 3 packets (180 bytes)", samples[i+1].String())
	}
}

func TestStop(t *testing.T) {
	s1 := &testReader{name: "s1", cells: map[int64]session.CounterData{1: {Packets: 1, Bytes: 64}}}
	s2 := &testReader{name: "s2", cells: map[int64]session.CounterData{1: {Packets: 2, Bytes: 128}}}
	sink := make(ChannelSink, 1024)
	p := NewPoller(5*time.Millisecond, []Target{{Switch: s1, Index: 1}, {Switch: s2, Index: 1}}, sink)
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(sink) >= 4 }, 5*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Stop()

	// Only whole ticks are emitted
	samples := drain(sink)
	assert.Equal(t, 0, len(samples)%2)
	assert.Equal(t, s1.reads, s2.reads)
	_, open := <-p.Done()
	assert.False(t, open)
}

func TestCancel(t *testing.T) {
	reader := &testReader{name: "s1"}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(time.Hour, []Target{{Switch: reader, Index: 1}}, LogSink{})
	require.NoError(t, p.Start(ctx))
	cancel()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, 0, reader.reads)
	p.Stop()

	assert.Error(t, NewPoller(0, nil, LogSink{}).Start(context.Background()))
	NewPoller(time.Second, nil, LogSink{}).Stop()
}

func TestPrometheusSink(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(registry)
	require.NoError(t, err)
	_, err = NewPrometheusSink(registry)
	assert.Error(t, err)

	Sinks{sink, LogSink{}}.Emit(Sample{Switch: "s1", Counter: "c", Index: 100, Packets: 5, Bytes: 300})
	sink.Emit(Sample{Switch: "s1", Counter: "c", Index: 200, Err: fault.New(fault.NotFound, "absent")})
	sink.Emit(Sample{Switch: "s1", Counter: "c", Index: 200, Err: fault.New(fault.NotFound, "absent")})

	assert.Equal(t, float64(5), testutil.ToFloat64(sink.packets.WithLabelValues("s1", "c", "100")))
	assert.Equal(t, float64(300), testutil.ToFloat64(sink.bytes.WithLabelValues("s1", "c", "100")))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.errors.WithLabelValues("s1", "c", "200", "NotFound")))
}

func TestPollSessions(t *testing.T) {
	h := harness.New()
	defer h.Stop()
	_, err := h.AddSwitch("s1", 1)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := session.Open(ctx, "s1", h.Address("s1"), 1, session.WithDialOptions(h.DialOption()))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ClaimMastership(ctx))
	cfg, err := pipeline.LoadConfig("../../pipelines/advanced_tunnel.p4.p4info.txt", "../../pipelines/advanced_tunnel.json", 1)
	require.NoError(t, err)
	require.NoError(t, s.PushPipeline(ctx, cfg))
	require.NoError(t, s.WriteEntry(ctx, rule.Spec{
		Table:   "MyIngress.myTunnel_exact",
		Matches: []rule.Match{rule.ExactMatch("hdr.myTunnel.dst_id", []byte{0, 100})},
		Action:  "MyIngress.myTunnel_forward",
		Params:  []rule.Param{rule.NewParam("port", []byte{0, 2})},
	}))
	h.Switch("s1").GenerateTraffic(time.Second)

	sink := make(ChannelSink, 16)
	plan := []Target{
		{Switch: s, Counter: "MyIngress.ingressTunnelCounter", Index: 100},
		{Switch: s, Counter: "MyIngress.egressTunnelCounter", Index: 200},
	}
	p := NewPoller(10*time.Millisecond, plan, sink, WithMaxTicks(2))
	require.NoError(t, p.Start(ctx))
	<-p.Done()

	samples := drain(sink)
	require.Len(t, samples, 4)
	assert.NoError(t, samples[0].Err)
	assert.True(t, samples[0].Packets > 0)
	assert.True(t, fault.Is(samples[1].Err, fault.NotFound))
	assert.True(t, samples[2].Packets >= samples[0].Packets)
	assert.True(t, fault.Is(samples[3].Err, fault.NotFound))
}
