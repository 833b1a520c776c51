// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"context"
	"fmt"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"go.uber.org/multierr"
)

// Match is the text form of a match field value
type Match struct {
	Field     string
	Kind      rule.MatchKind
	Value     string
	PrefixLen int32
	Mask      string
}

// Param is the text form of an action parameter value
type Param struct {
	Name  string
	Value string
}

// Rule is an arbitrary table entry given by name, with values in text form
type Rule struct {
	Switch   Switch
	Table    string
	Matches  []Match
	Action   string
	Params   []Param
	Priority int32
}

func (r Rule) String() string {
	return fmt.Sprintf("%s -> %s", r.Table, r.Action)
}

// Spec resolves the bit-widths of the rule's fields and parameters against the switch's pipeline and
// returns the symbolic entry
func (r Rule) Spec() (rule.Spec, error) {
	if r.Switch == nil {
		return rule.Spec{}, fault.New(fault.InvalidEntry, "rule %s has no switch", r).WithOp("rule")
	}
	d := r.Switch.Descriptor()
	if d == nil {
		return rule.Spec{}, fault.New(fault.NotInstalled, "forwarding pipeline is not installed").
			WithSwitch(r.Switch.Name()).WithOp("rule")
	}

	spec := rule.Spec{Table: r.Table, Action: r.Action, Priority: r.Priority}
	for _, m := range r.Matches {
		match, err := r.match(d, m)
		if err != nil {
			return rule.Spec{}, r.annotate(err)
		}
		spec.Matches = append(spec.Matches, match)
	}
	for _, p := range r.Params {
		param, err := d.Resolve(pipeline.ActionParam, r.Action, p.Name)
		if err != nil {
			return rule.Spec{}, r.annotate(err)
		}
		value, err := rule.ParseValue(p.Value, param.Bitwidth)
		if err != nil {
			return rule.Spec{}, r.annotate(err)
		}
		spec.Params = append(spec.Params, rule.NewParam(p.Name, value))
	}
	return spec, nil
}

func (r Rule) match(d pipeline.Descriptor, m Match) (rule.Match, error) {
	field, err := d.Resolve(pipeline.MatchField, r.Table, m.Field)
	if err != nil {
		return rule.Match{}, err
	}
	value, err := rule.ParseValue(m.Value, field.Bitwidth)
	if err != nil {
		return rule.Match{}, err
	}
	switch m.Kind {
	case rule.LPM:
		return rule.LPMMatch(m.Field, value, m.PrefixLen), nil
	case rule.Ternary:
		mask, err := rule.ParseValue(m.Mask, field.Bitwidth)
		if err != nil {
			return rule.Match{}, err
		}
		return rule.TernaryMatch(m.Field, value, mask), nil
	}
	return rule.ExactMatch(m.Field, value), nil
}

func (r Rule) annotate(err error) error {
	if fe, ok := err.(*fault.Error); ok {
		fe.WithTable(r.Table)
	}
	return fault.Annotate(err, r.Switch.Name(), "rule")
}

// InstallRules writes the given rules in order. As with routes, a failed rule does not prevent the
// remaining ones from being installed. Returns the number of rules installed and the combined failures.
func InstallRules(ctx context.Context, rules []Rule) (int, error) {
	var errs error
	installed := 0
	for _, r := range rules {
		spec, err := r.Spec()
		if err == nil {
			err = fault.Annotate(r.Switch.WriteEntry(ctx, spec), r.Switch.Name(), "rule")
		}
		if err != nil {
			log.Warnf("Unable to install rule %s: %+v", r, err)
			errs = multierr.Append(errs, err)
			continue
		}
		log.Infof("Installed rule %s on %s", spec, r.Switch.Name())
		installed++
	}
	return installed, errs
}
