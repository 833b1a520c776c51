// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry periodically samples switch counters
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/session"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("telemetry")

const defaultReadTimeout = 5 * time.Second

// CounterReader is the part of a switch session the poller needs
type CounterReader interface {
	Name() string
	ReadCounter(ctx context.Context, name string, index int64) (session.CounterData, error)
}

// Target is a single counter cell to be sampled
type Target struct {
	Switch  CounterReader
	Counter string
	Index   int64
}

// Sample is the value of a counter cell at the given time; Err is set if the cell could not be read
type Sample struct {
	Switch    string
	Counter   string
	Index     int64
	Packets   int64
	Bytes     int64
	Timestamp time.Time
	Tick      int
	Err       error
}

func (s Sample) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s %s %d: %v", s.Switch, s.Counter, s.Index, s.Err)
	}
	return fmt.Sprintf("%s %s %d: %d packets (%d bytes)", s.Switch, s.Counter, s.Index, s.Packets, s.Bytes)
}

// Sink receives the samples of each tick in plan order
type Sink interface {
	Emit(sample Sample)
}

// Option configures the poller
type Option func(p *Poller)

// WithMaxTicks bounds the number of ticks; the poller stops by itself after the last one
func WithMaxTicks(ticks int) Option {
	return func(p *Poller) {
		p.maxTicks = ticks
	}
}

// WithReadTimeout bounds each counter read
func WithReadTimeout(timeout time.Duration) Option {
	return func(p *Poller) {
		p.readTimeout = timeout
	}
}

// Poller reads every target of its plan at a fixed interval
type Poller struct {
	interval    time.Duration
	plan        []Target
	sink        Sink
	maxTicks    int
	readTimeout time.Duration

	lock    sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPoller creates a poller of the given plan; it does not start polling until started
func NewPoller(interval time.Duration, plan []Target, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		interval:    interval,
		plan:        append([]Target(nil), plan...),
		sink:        sink,
		readTimeout: defaultReadTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts the polling loop; the loop ends when the context is cancelled, the poller is stopped or the
// tick bound is reached
func (p *Poller) Start(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.started {
		return errors.NewConflict("poller already started")
	}
	if p.interval <= 0 {
		return errors.NewInvalid("polling interval must be positive")
	}
	p.started = true
	log.Infof("Polling %d counters every %s", len(p.plan), p.interval)
	go p.run(ctx)
	return nil
}

// Stop ends the polling loop after the in-flight tick completes and waits for it to end
func (p *Poller) Stop() {
	p.lock.Lock()
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	started := p.started
	p.lock.Unlock()
	if started {
		<-p.done
	}
}

// Done returns a channel closed once the polling loop has ended
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for tick := 1; p.maxTicks <= 0 || tick <= p.maxTicks; tick++ {
		select {
		case <-ticker.C:
		case <-p.stop:
			log.Info("Polling stopped")
			return
		case <-ctx.Done():
			log.Info("Polling cancelled")
			return
		}
		p.poll(tick)
	}
	log.Infof("Polling finished after %d ticks", p.maxTicks)
}

// Reads every target in plan order; reads are not tied to the loop context so a tick is never cut short
func (p *Poller) poll(tick int) {
	for _, target := range p.plan {
		ctx, cancel := context.WithTimeout(context.Background(), p.readTimeout)
		data, err := target.Switch.ReadCounter(ctx, target.Counter, target.Index)
		cancel()
		p.sink.Emit(Sample{
			Switch:    target.Switch.Name(),
			Counter:   target.Counter,
			Index:     target.Index,
			Packets:   data.Packets,
			Bytes:     data.Bytes,
			Timestamp: time.Now(),
			Tick:      tick,
			Err:       err,
		})
	}
}

// TunnelPlan samples the tunnel's ingress counter on its ingress switch and its egress counter on its egress switch
func TunnelPlan(tunnelID int64, ingress CounterReader, egress CounterReader, ingressCounter string, egressCounter string) []Target {
	return []Target{
		{Switch: ingress, Counter: ingressCounter, Index: tunnelID},
		{Switch: egress, Counter: egressCounter, Index: tunnelID},
	}
}
