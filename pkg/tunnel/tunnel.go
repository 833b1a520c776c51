// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package tunnel provisions unidirectional and bidirectional tunnels as ordered sequences of
// ingress, transit and egress rules written to the switches along the path.
package tunnel

import (
	"context"
	"fmt"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/onos-lib-go/pkg/logging"
)

var log = logging.GetLogger("tunnel")

// Switch is the part of a switch session the provisioner needs
type Switch interface {
	Name() string
	Descriptor() pipeline.Descriptor
	WriteEntry(ctx context.Context, spec rule.Spec) error
}

// Path is a unidirectional tunnel from the ingress switch to the host attached to the egress switch.
// The transit rule is installed on the ingress switch unless a separate transit switch is given.
type Path struct {
	TunnelID   uint64
	Ingress    Switch
	Transit    Switch
	Egress     Switch
	DstMAC     string
	DstIP      string
	HostPort   uint64
	SwitchPort uint64
}

func (p Path) String() string {
	return fmt.Sprintf("tunnel %d %s->%s (%s)", p.TunnelID, switchName(p.Ingress), switchName(p.Egress), p.DstIP)
}

func (p Path) transit() Switch {
	if p.Transit != nil {
		return p.Transit
	}
	return p.Ingress
}

func switchName(sw Switch) string {
	if sw == nil {
		return "<nil>"
	}
	return sw.Name()
}

// Stage is the position of a rule within a path
type Stage int

const (
	// IngressStage encapsulates traffic for the destination host into the tunnel
	IngressStage Stage = iota
	// TransitStage forwards tunneled traffic towards the egress switch
	TransitStage
	// EgressStage decapsulates tunneled traffic and delivers it to the host
	EgressStage
)

func (s Stage) String() string {
	switch s {
	case IngressStage:
		return "ingress"
	case TransitStage:
		return "transit"
	case EgressStage:
		return "egress"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Step is a single rule write of a path
type Step struct {
	Stage  Stage
	Switch Switch
	Rule   rule.Spec
}

// Option configures the provisioner
type Option func(p *Provisioner)

// WithLayout sets the pipeline layout; names left empty keep their defaults
func WithLayout(layout Layout) Option {
	return func(p *Provisioner) {
		p.layout = layout.Merge(DefaultLayout())
	}
}

// Provisioner emits and writes the rules of tunnel paths
type Provisioner struct {
	layout Layout
}

// NewProvisioner creates a provisioner for the advanced tunnel program, unless configured otherwise
func NewProvisioner(opts ...Option) *Provisioner {
	p := &Provisioner{layout: DefaultLayout()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Layout returns the pipeline layout used by the provisioner
func (p *Provisioner) Layout() Layout {
	return p.layout
}

// Plan produces the three rules of the path in their write order: ingress, transit and egress.
// Integer values are sized from the bit-widths declared by each switch's pipeline descriptor.
func (p *Provisioner) Plan(path Path) ([]Step, error) {
	if path.TunnelID == 0 {
		return nil, fault.New(fault.InvalidEntry, "tunnel ID must be positive").WithOp("plan")
	}
	if path.Ingress == nil || path.Egress == nil {
		return nil, fault.New(fault.InvalidEntry, "%s requires ingress and egress switches", path).WithOp("plan")
	}
	if path.Ingress.Name() == path.Egress.Name() {
		return nil, fault.New(fault.InvalidEntry, "%s starts and ends on the same switch", path).WithOp("plan")
	}

	ingress, err := p.ingressRule(path)
	if err != nil {
		return nil, fault.Annotate(err, path.Ingress.Name(), "plan")
	}
	transit, err := p.transitRule(path)
	if err != nil {
		return nil, fault.Annotate(err, path.transit().Name(), "plan")
	}
	egress, err := p.egressRule(path)
	if err != nil {
		return nil, fault.Annotate(err, path.Egress.Name(), "plan")
	}
	return []Step{
		{Stage: IngressStage, Switch: path.Ingress, Rule: ingress},
		{Stage: TransitStage, Switch: path.transit(), Rule: transit},
		{Stage: EgressStage, Switch: path.Egress, Rule: egress},
	}, nil
}

func (p *Provisioner) ingressRule(path Path) (rule.Spec, error) {
	d, err := descriptor(path.Ingress)
	if err != nil {
		return rule.Spec{}, err
	}
	addr, err := rule.IPv4(path.DstIP)
	if err != nil {
		return rule.Spec{}, err
	}
	field, err := d.Resolve(pipeline.MatchField, p.layout.IngressTable, p.layout.IngressField)
	if err != nil {
		return rule.Spec{}, err
	}
	tunnelID, err := paramValue(d, p.layout.IngressAction, p.layout.TunnelIDParam, path.TunnelID)
	if err != nil {
		return rule.Spec{}, err
	}
	return rule.Spec{
		Table:   p.layout.IngressTable,
		Matches: []rule.Match{rule.LPMMatch(p.layout.IngressField, addr, field.Bitwidth)},
		Action:  p.layout.IngressAction,
		Params:  []rule.Param{rule.NewParam(p.layout.TunnelIDParam, tunnelID)},
	}, nil
}

func (p *Provisioner) transitRule(path Path) (rule.Spec, error) {
	d, err := descriptor(path.transit())
	if err != nil {
		return rule.Spec{}, err
	}
	match, err := p.tunnelMatch(d, path.TunnelID)
	if err != nil {
		return rule.Spec{}, err
	}
	port, err := paramValue(d, p.layout.ForwardAction, p.layout.ForwardPortParam, path.SwitchPort)
	if err != nil {
		return rule.Spec{}, err
	}
	return rule.Spec{
		Table:   p.layout.TunnelTable,
		Matches: []rule.Match{match},
		Action:  p.layout.ForwardAction,
		Params:  []rule.Param{rule.NewParam(p.layout.ForwardPortParam, port)},
	}, nil
}

func (p *Provisioner) egressRule(path Path) (rule.Spec, error) {
	d, err := descriptor(path.Egress)
	if err != nil {
		return rule.Spec{}, err
	}
	match, err := p.tunnelMatch(d, path.TunnelID)
	if err != nil {
		return rule.Spec{}, err
	}
	mac, err := rule.MAC(path.DstMAC)
	if err != nil {
		return rule.Spec{}, err
	}
	port, err := paramValue(d, p.layout.EgressAction, p.layout.EgressPortParam, path.HostPort)
	if err != nil {
		return rule.Spec{}, err
	}
	return rule.Spec{
		Table:   p.layout.TunnelTable,
		Matches: []rule.Match{match},
		Action:  p.layout.EgressAction,
		Params: []rule.Param{
			rule.NewParam(p.layout.EgressMACParam, mac),
			rule.NewParam(p.layout.EgressPortParam, port),
		},
	}, nil
}

func (p *Provisioner) tunnelMatch(d pipeline.Descriptor, tunnelID uint64) (rule.Match, error) {
	field, err := d.Resolve(pipeline.MatchField, p.layout.TunnelTable, p.layout.TunnelField)
	if err != nil {
		return rule.Match{}, err
	}
	value, err := rule.Uint(tunnelID, field.Bitwidth)
	if err != nil {
		return rule.Match{}, err
	}
	return rule.ExactMatch(p.layout.TunnelField, value), nil
}

func descriptor(sw Switch) (pipeline.Descriptor, error) {
	d := sw.Descriptor()
	if d == nil {
		return nil, fault.New(fault.NotInstalled, "forwarding pipeline is not installed").WithSwitch(sw.Name())
	}
	return d, nil
}

func paramValue(d pipeline.Descriptor, action string, name string, value uint64) ([]byte, error) {
	param, err := d.Resolve(pipeline.ActionParam, action, name)
	if err != nil {
		return nil, err
	}
	return rule.Uint(value, param.Bitwidth)
}

// ProvisionPath writes the rules of the path strictly in order. The first failed write aborts the rest
// of the sequence; rules already written stay installed. Returns the steps written successfully.
func (p *Provisioner) ProvisionPath(ctx context.Context, path Path) ([]Step, error) {
	steps, err := p.Plan(path)
	if err != nil {
		return nil, err
	}

	log.Infof("Provisioning %s", path)
	for i, step := range steps {
		if err := step.Switch.WriteEntry(ctx, step.Rule); err != nil {
			log.Warnf("Unable to install %s rule of %s on %s: %+v", step.Stage, path, step.Switch.Name(), err)
			return steps[:i], fault.Annotate(err, step.Switch.Name(), "provision")
		}
		log.Infof("Installed %s tunnel rule on %s", step.Stage, step.Switch.Name())
	}
	return steps, nil
}

// ProvisionBidirectional provisions the forward path and then the reverse path; the reverse path is not
// attempted if the forward path fails. The tunnel IDs of both directions are chosen by the caller.
func (p *Provisioner) ProvisionBidirectional(ctx context.Context, forward Path, reverse Path) ([]Step, error) {
	written, err := p.ProvisionPath(ctx, forward)
	if err != nil {
		return written, err
	}
	steps, err := p.ProvisionPath(ctx, reverse)
	return append(written, steps...), err
}
