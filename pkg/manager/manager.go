// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package manager orchestrates a complete controller run: switch session bring-up, rule provisioning,
// read-back, counter sampling and shutdown
package manager

import (
	"context"
	"io"
	"sync"

	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/registry"
	"github.com/onosproject/fabric-tunnel/pkg/route"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/fabric-tunnel/pkg/session"
	"github.com/onosproject/fabric-tunnel/pkg/telemetry"
	"github.com/onosproject/fabric-tunnel/pkg/topo"
	"github.com/onosproject/fabric-tunnel/pkg/tunnel"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var log = logging.GetLogger("manager")

const defaultWorkers = 4

// Config is a manager configuration
type Config struct {
	Topology       *topo.Config
	SessionOptions []session.Option
	Sink           telemetry.Sink
}

// Manager single point of entry for the controller
type Manager struct {
	Config   Config
	registry *registry.Registry

	lock     sync.RWMutex
	sessions map[string]*session.Session
	failed   map[string]error
}

// NewManager initializes the application manager
func NewManager(cfg Config) *Manager {
	log.Infow("Creating manager")
	if cfg.Sink == nil {
		cfg.Sink = telemetry.LogSink{}
	}
	return &Manager{
		Config:   cfg,
		registry: registry.NewRegistry(),
		sessions: make(map[string]*session.Session),
		failed:   make(map[string]error),
	}
}

// Registry returns the registry of all sessions opened by the manager
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Run brings up a session with every switch, provisions the routes, rules and tunnels, reads back the installed
// entries and samples the counters until the context is cancelled or the configured number of ticks
// elapses. Every session is closed before returning, on all paths. Failed switches do not stop the
// others; the returned error aggregates all failures.
func (m *Manager) Run(ctx context.Context) (err error) {
	log.Infow("Starting Manager")
	defer func() {
		names := make([]string, 0, m.registry.Len())
		for _, s := range m.registry.Sessions() {
			names = append(names, s.Name())
		}
		log.Infow("Closing sessions", "switches", names)
		for _, cerr := range m.registry.ShutdownAll() {
			err = multierr.Append(err, cerr)
		}
		log.Infow("Manager stopped", "error", err)
	}()

	cfg := m.Config.Topology
	pipelineConfig, err := pipeline.LoadConfig(cfg.Pipeline.P4Info, cfg.Pipeline.DeviceConfig, cfg.Pipeline.Cookie)
	if err != nil {
		return err
	}
	pipelineConfig.Reconcile = cfg.Pipeline.Reconcile

	m.bringUp(ctx, pipelineConfig)
	var errs error
	for _, sw := range cfg.Switches {
		errs = multierr.Append(errs, m.failure(sw.Name))
	}
	if ctx.Err() != nil {
		return multierr.Append(errs, ctx.Err())
	}

	errs = multierr.Append(errs, m.installRoutes(ctx))
	errs = multierr.Append(errs, m.installRules(ctx))
	errs = multierr.Append(errs, m.provisionTunnels(ctx))
	m.readBack(ctx)

	if err := m.poll(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Opens, arbitrates and pushes the pipeline to all switches in parallel; returns once all have been
// attempted, with every opened session registered
func (m *Manager) bringUp(ctx context.Context, cfg *pipeline.Config) {
	workers := m.Config.Topology.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	g := &errgroup.Group{}
	g.SetLimit(workers)
	for _, sw := range m.Config.Topology.Switches {
		sw := sw
		g.Go(func() error {
			s, err := m.bringUpSwitch(ctx, sw, cfg)
			m.lock.Lock()
			defer m.lock.Unlock()
			if err != nil {
				log.Errorf("Switch %s is not usable: %+v", sw.Name, err)
				m.failed[sw.Name] = err
				return nil
			}
			m.sessions[sw.Name] = s
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) bringUpSwitch(ctx context.Context, sw topo.Switch, cfg *pipeline.Config) (*session.Session, error) {
	s, err := session.Open(ctx, sw.Name, sw.Address, sw.DeviceID, m.sessionOptions()...)
	if err != nil {
		return nil, err
	}
	m.registry.Register(s)
	if err := s.ClaimMastership(ctx); err != nil {
		return nil, err
	}
	if err := s.PushPipeline(ctx, cfg); err != nil {
		return nil, err
	}
	log.Infof("Switch %s (%s, device %d) is ready", s.Name(), s.Address(), s.DeviceID())
	return s, nil
}

func (m *Manager) sessionOptions() []session.Option {
	cfg := m.Config.Topology
	opts := []session.Option{session.WithElectionID(cfg.ElectionID.High, cfg.ElectionID.Low)}
	if cfg.Role != "" {
		opts = append(opts, session.WithRole(cfg.Role))
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, session.WithDialTimeout(cfg.DialTimeout))
	}
	return append(opts, m.Config.SessionOptions...)
}

// Session returns the session of the named switch; nil if the switch is not usable
func (m *Manager) Session(name string) *session.Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.sessions[name]
}

func (m *Manager) failure(name string) error {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.failed[name]
}

// Returns the sessions of all named switches, or the name of the first one that is not usable
func (m *Manager) ready(names ...string) ([]*session.Session, string) {
	sessions := make([]*session.Session, 0, len(names))
	for _, name := range names {
		s := m.Session(name)
		if s == nil {
			return nil, name
		}
		sessions = append(sessions, s)
	}
	return sessions, ""
}

func (m *Manager) installRoutes(ctx context.Context) error {
	if len(m.Config.Topology.Routes) == 0 {
		return nil
	}
	var errs error
	routes := make([]route.Route, 0, len(m.Config.Topology.Routes))
	for _, r := range m.Config.Topology.Routes {
		sessions, missing := m.ready(r.Switch)
		if missing != "" {
			log.Warnf("Skipping route %s: switch %s is not usable", r.Prefix, missing)
			errs = multierr.Append(errs, errors.NewUnavailable("route %s skipped: switch %s is not usable", r.Prefix, missing))
			continue
		}
		routes = append(routes, route.Route{Switch: sessions[0], Prefix: r.Prefix, DstMAC: r.DstMAC, Port: r.Port})
	}
	layout := m.Config.Topology.RouteLayout.Merge(route.DefaultLayout())
	installed, err := route.NewInstaller(layout).Install(ctx, routes)
	log.Infof("Installed %d of %d routes", installed, len(m.Config.Topology.Routes))
	return multierr.Append(errs, err)
}

func (m *Manager) installRules(ctx context.Context) error {
	if len(m.Config.Topology.Rules) == 0 {
		return nil
	}
	var errs error
	rules := make([]route.Rule, 0, len(m.Config.Topology.Rules))
	for _, r := range m.Config.Topology.Rules {
		sessions, missing := m.ready(r.Switch)
		if missing != "" {
			log.Warnf("Skipping rule on %s: switch %s is not usable", r.Table, missing)
			errs = multierr.Append(errs, errors.NewUnavailable("rule on %s skipped: switch %s is not usable", r.Table, missing))
			continue
		}
		rr := route.Rule{Switch: sessions[0], Table: r.Table, Action: r.Action, Priority: r.Priority}
		for _, match := range r.Matches {
			// Kinds have been validated with the configuration
			kind, _ := rule.ParseMatchKind(match.Kind)
			rr.Matches = append(rr.Matches, route.Match{
				Field:     match.Field,
				Kind:      kind,
				Value:     match.Value,
				PrefixLen: match.PrefixLen,
				Mask:      match.Mask,
			})
		}
		for _, p := range r.Params {
			rr.Params = append(rr.Params, route.Param{Name: p.Name, Value: p.Value})
		}
		rules = append(rules, rr)
	}
	installed, err := route.InstallRules(ctx, rules)
	log.Infof("Installed %d of %d rules", installed, len(m.Config.Topology.Rules))
	return multierr.Append(errs, err)
}

func (m *Manager) provisionTunnels(ctx context.Context) error {
	provisioner := tunnel.NewProvisioner(tunnel.WithLayout(m.Config.Topology.Layout))
	var errs error
	for _, t := range m.Config.Topology.Tunnels {
		names := []string{t.Ingress, t.Egress}
		if t.Transit != "" {
			names = append(names, t.Transit)
		}
		sessions, missing := m.ready(names...)
		if missing != "" {
			log.Warnf("Skipping tunnel %d: switch %s is not usable", t.ID, missing)
			errs = multierr.Append(errs, errors.NewUnavailable("tunnel %d skipped: switch %s is not usable", t.ID, missing))
			continue
		}
		var err error

		forward := tunnel.Path{
			TunnelID:   t.ID,
			Ingress:    sessions[0],
			Egress:     sessions[1],
			DstMAC:     t.DstMAC,
			DstIP:      t.DstIP,
			HostPort:   t.HostPort,
			SwitchPort: t.SwitchPort,
		}
		if t.Transit != "" {
			forward.Transit = sessions[2]
		}
		if t.Reverse == nil {
			_, err = provisioner.ProvisionPath(ctx, forward)
		} else {
			reverse := tunnel.Path{
				TunnelID:   t.Reverse.ID,
				Ingress:    sessions[1],
				Egress:     sessions[0],
				DstMAC:     t.Reverse.DstMAC,
				DstIP:      t.Reverse.DstIP,
				HostPort:   t.Reverse.HostPort,
				SwitchPort: t.Reverse.SwitchPort,
			}
			if t.Transit != "" {
				reverse.Transit = sessions[2]
			}
			_, err = provisioner.ProvisionBidirectional(ctx, forward, reverse)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Logs the entries installed in every usable switch
func (m *Manager) readBack(ctx context.Context) {
	for _, sw := range m.Config.Topology.Switches {
		s := m.Session(sw.Name)
		if s == nil {
			continue
		}
		reader, err := s.ReadEntries(ctx)
		if err != nil {
			log.Warnf("Unable to read entries of %s: %+v", sw.Name, err)
			continue
		}
		log.Infof("----- Reading tables rules for %s -----", sw.Name)
		for {
			spec, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Warnf("Unable to read entries of %s: %+v", sw.Name, err)
				break
			}
			log.Info(spec.String())
		}
	}
}

// Plan returns the counter cells to be sampled: both directions of every tunnel on usable switches, followed
// by the additional counters
func (m *Manager) Plan() []telemetry.Target {
	cfg := m.Config.Topology
	var plan []telemetry.Target
	for _, t := range cfg.Tunnels {
		sessions, missing := m.ready(t.Ingress, t.Egress)
		if missing != "" {
			continue
		}
		plan = append(plan, telemetry.TunnelPlan(int64(t.ID), sessions[0], sessions[1],
			cfg.Telemetry.IngressCounter, cfg.Telemetry.EgressCounter)...)
		if t.Reverse != nil {
			plan = append(plan, telemetry.TunnelPlan(int64(t.Reverse.ID), sessions[1], sessions[0],
				cfg.Telemetry.IngressCounter, cfg.Telemetry.EgressCounter)...)
		}
	}
	for _, c := range cfg.Telemetry.Counters {
		if s := m.Session(c.Switch); s != nil {
			plan = append(plan, telemetry.Target{Switch: s, Counter: c.Name, Index: c.Index})
		}
	}
	return plan
}

// Samples the counters until the context is cancelled or the tick bound is reached; the poller is always
// stopped before returning so that no read races the session shutdown
func (m *Manager) poll(ctx context.Context) error {
	plan := m.Plan()
	if len(plan) == 0 {
		log.Info("No counters to sample")
		return nil
	}
	cfg := m.Config.Topology.Telemetry
	poller := telemetry.NewPoller(cfg.Interval, plan, m.Config.Sink, telemetry.WithMaxTicks(cfg.Ticks))
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()
	select {
	case <-ctx.Done():
	case <-poller.Done():
	}
	return nil
}
