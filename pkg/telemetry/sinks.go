// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"strconv"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/prometheus/client_golang/prometheus"
)

// LogSink logs every sample
type LogSink struct{}

// Emit logs the sample; absent and failed reads are logged as warnings
func (LogSink) Emit(sample Sample) {
	if sample.Err != nil {
		log.Warn(sample.String())
		return
	}
	log.Info(sample.String())
}

// ChannelSink forwards samples to a channel; Emit blocks until the sample is consumed or buffered
type ChannelSink chan Sample

// Emit sends the sample to the channel
func (c ChannelSink) Emit(sample Sample) {
	c <- sample
}

// Sinks fans every sample out to all of the given sinks
type Sinks []Sink

// Emit forwards the sample to every sink in order
func (s Sinks) Emit(sample Sample) {
	for _, sink := range s {
		sink.Emit(sample)
	}
}

// PrometheusSink exports the latest value of every sampled counter cell as gauges
type PrometheusSink struct {
	packets *prometheus.GaugeVec
	bytes   *prometheus.GaugeVec
	errors  *prometheus.CounterVec
}

// NewPrometheusSink creates the sink and registers its collectors with the given registerer
func NewPrometheusSink(registerer prometheus.Registerer) (*PrometheusSink, error) {
	labels := []string{"switch", "counter", "index"}
	s := &PrometheusSink{
		packets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabric_tunnel",
			Name:      "counter_packets",
			Help:      "Packet count of the sampled switch counter cell",
		}, labels),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabric_tunnel",
			Name:      "counter_bytes",
			Help:      "Byte count of the sampled switch counter cell",
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fabric_tunnel",
			Name:      "counter_read_errors_total",
			Help:      "Number of failed counter reads by failure kind",
		}, append(labels, "kind")),
	}
	for _, c := range []prometheus.Collector{s.packets, s.bytes, s.errors} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Emit records the sample
func (s *PrometheusSink) Emit(sample Sample) {
	index := strconv.FormatInt(sample.Index, 10)
	if sample.Err != nil {
		s.errors.WithLabelValues(sample.Switch, sample.Counter, index, fault.KindOf(sample.Err).String()).Inc()
		return
	}
	s.packets.WithLabelValues(sample.Switch, sample.Counter, index).Set(float64(sample.Packets))
	s.bytes.WithLabelValues(sample.Switch, sample.Counter, index).Set(float64(sample.Bytes))
}
