// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"sort"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

var matchTypes = map[MatchKind]p4info.MatchField_MatchType{
	Exact:   p4info.MatchField_EXACT,
	LPM:     p4info.MatchField_LPM,
	Ternary: p4info.MatchField_TERNARY,
}

// Encode resolves all symbolic names of the given spec using the descriptor and produces the equivalent
// P4Runtime table entry. Encoding is deterministic: field matches are emitted in canonical order of their
// field IDs and action parameters in order of their parameter IDs. Nothing is returned unless the whole
// spec encodes cleanly.
func Encode(spec Spec, d pipeline.Descriptor) (*p4api.TableEntry, error) {
	entry, err := encode(spec, d)
	if err != nil {
		return nil, fault.Annotate(err, "", "encode")
	}
	return entry, nil
}

func encode(spec Spec, d pipeline.Descriptor) (*p4api.TableEntry, error) {
	table, err := d.Resolve(pipeline.Table, "", spec.Table)
	if err != nil {
		return nil, withTable(err, spec.Table)
	}
	action, err := d.Resolve(pipeline.Action, "", spec.Action)
	if err != nil {
		return nil, withTable(err, spec.Table)
	}

	matches := make([]*p4api.FieldMatch, 0, len(spec.Matches))
	seen := make(map[uint32]bool, len(spec.Matches))
	ternary := false
	for _, m := range spec.Matches {
		field, err := d.Resolve(pipeline.MatchField, spec.Table, m.Field)
		if err != nil {
			return nil, withTable(err, spec.Table)
		}
		if seen[field.ID] {
			return nil, fault.New(fault.InvalidEntry, "duplicate match field %s", m.Field).WithTable(spec.Table)
		}
		seen[field.ID] = true
		ternary = ternary || m.Kind == Ternary

		fm, err := encodeMatch(m, field)
		if err != nil {
			return nil, withTable(err, spec.Table)
		}
		if fm != nil {
			matches = append(matches, fm)
		}
	}
	sortFieldMatches(matches)

	if ternary && spec.Priority <= 0 {
		return nil, fault.New(fault.InvalidEntry, "ternary entries require a positive priority").WithTable(spec.Table)
	}

	params := make([]*p4api.Action_Param, 0, len(spec.Params))
	seen = make(map[uint32]bool, len(spec.Params))
	for _, p := range spec.Params {
		param, err := d.Resolve(pipeline.ActionParam, spec.Action, p.Name)
		if err != nil {
			return nil, withTable(err, spec.Table)
		}
		if seen[param.ID] {
			return nil, fault.New(fault.InvalidEntry, "duplicate parameter %s of action %s", p.Name, spec.Action).WithTable(spec.Table)
		}
		seen[param.ID] = true
		if err := checkWidth(p.Name, p.Value, param.Bitwidth); err != nil {
			return nil, withTable(err, spec.Table)
		}
		params = append(params, &p4api.Action_Param{ParamId: param.ID, Value: copyBytes(p.Value)})
	}
	if action.Arity != len(params) {
		return nil, fault.New(fault.InvalidEntry, "action %s takes %d parameters; %d given",
			spec.Action, action.Arity, len(params)).WithTable(spec.Table)
	}
	sort.SliceStable(params, func(i, j int) bool { return params[i].ParamId < params[j].ParamId })

	return &p4api.TableEntry{
		TableId: table.ID,
		Match:   matches,
		Action: &p4api.TableAction{
			Type: &p4api.TableAction_Action{
				Action: &p4api.Action{ActionId: action.ID, Params: params},
			},
		},
		Priority: spec.Priority,
	}, nil
}

// Encodes a single field match; returns nil for don't-care matches, which P4Runtime requires to be omitted
func encodeMatch(m Match, field pipeline.Identifier) (*p4api.FieldMatch, error) {
	if expected, ok := matchTypes[m.Kind]; !ok || expected != field.MatchType {
		return nil, fault.New(fault.InvalidEntry, "field %s is matched as %s, not %s", m.Field, field.MatchType, m.Kind)
	}
	if err := checkWidth(m.Field, m.Value, field.Bitwidth); err != nil {
		return nil, err
	}

	switch m.Kind {
	case LPM:
		if m.PrefixLen < 0 || m.PrefixLen > field.Bitwidth {
			return nil, fault.New(fault.InvalidEntry, "prefix length %d of field %s is outside 0..%d",
				m.PrefixLen, m.Field, field.Bitwidth)
		}
		if m.PrefixLen == 0 {
			return nil, nil
		}
		return &p4api.FieldMatch{
			FieldId: field.ID,
			FieldMatchType: &p4api.FieldMatch_Lpm{
				Lpm: &p4api.FieldMatch_LPM{
					Value:     utils.MaskPrefix(m.Value, m.PrefixLen+int32(len(m.Value)*8)-field.Bitwidth),
					PrefixLen: m.PrefixLen,
				},
			},
		}, nil

	case Ternary:
		if err := checkWidth(m.Field+" mask", m.Mask, field.Bitwidth); err != nil {
			return nil, err
		}
		value := make([]byte, len(m.Value))
		wildcard := true
		for i := range value {
			value[i] = m.Value[i] & m.Mask[i]
			wildcard = wildcard && m.Mask[i] == 0
		}
		if wildcard {
			return nil, nil
		}
		return &p4api.FieldMatch{
			FieldId: field.ID,
			FieldMatchType: &p4api.FieldMatch_Ternary_{
				Ternary: &p4api.FieldMatch_Ternary{Value: value, Mask: copyBytes(m.Mask)},
			},
		}, nil
	}

	return &p4api.FieldMatch{
		FieldId: field.ID,
		FieldMatchType: &p4api.FieldMatch_Exact_{
			Exact: &p4api.FieldMatch_Exact{Value: copyBytes(m.Value)},
		},
	}, nil
}

// Checks that the value has exactly the byte width of the bit-width and carries no bits beyond it
func checkWidth(name string, value []byte, bitwidth int32) error {
	width := utils.ByteWidth(bitwidth)
	if len(value) != width {
		return fault.New(fault.ValueWidthMismatch, "%s is %d bytes wide; expected %d bytes for %d bits",
			name, len(value), width, bitwidth)
	}
	if excess := int32(width*8) - bitwidth; excess > 0 && value[0]>>uint(8-excess) != 0 {
		return fault.New(fault.ValueWidthMismatch, "%s does not fit into %d bits", name, bitwidth)
	}
	return nil
}

func withTable(err error, table string) error {
	if fe, ok := err.(*fault.Error); ok {
		return fe.WithTable(table)
	}
	return err
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Sorts the given array of field matches in place based on the field ID
func sortFieldMatches(matches []*p4api.FieldMatch) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].FieldId < matches[j].FieldId })
}
