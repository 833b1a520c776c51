// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Decode renders the given table entry back into its symbolic form using the fully qualified names
// of the descriptor. Values are expanded back to the full byte width of their fields.
func Decode(entry *p4api.TableEntry, d pipeline.Descriptor) (Spec, error) {
	table, err := d.Name(pipeline.Table, "", entry.TableId)
	if err != nil {
		return Spec{}, fault.Annotate(err, "", "decode")
	}
	spec := Spec{Table: table.Name, Priority: entry.Priority}

	for _, fm := range entry.Match {
		field, err := d.Name(pipeline.MatchField, table.Name, fm.FieldId)
		if err != nil {
			return Spec{}, fault.Annotate(withTable(err, table.Name), "", "decode")
		}
		switch {
		case fm.GetExact() != nil:
			spec.Matches = append(spec.Matches, ExactMatch(field.Name, pad(fm.GetExact().Value, field.Bitwidth)))
		case fm.GetLpm() != nil:
			spec.Matches = append(spec.Matches, LPMMatch(field.Name, pad(fm.GetLpm().Value, field.Bitwidth), fm.GetLpm().PrefixLen))
		case fm.GetTernary() != nil:
			spec.Matches = append(spec.Matches, TernaryMatch(field.Name,
				pad(fm.GetTernary().Value, field.Bitwidth), pad(fm.GetTernary().Mask, field.Bitwidth)))
		default:
			return Spec{}, fault.New(fault.InvalidEntry, "unsupported match kind of field %s", field.Name).
				WithTable(table.Name).WithOp("decode")
		}
	}

	action := entry.GetAction().GetAction()
	if action == nil {
		return Spec{}, fault.New(fault.InvalidEntry, "entry has no direct action").WithTable(table.Name).WithOp("decode")
	}
	a, err := d.Name(pipeline.Action, "", action.ActionId)
	if err != nil {
		return Spec{}, fault.Annotate(withTable(err, table.Name), "", "decode")
	}
	spec.Action = a.Name
	for _, p := range action.Params {
		param, err := d.Name(pipeline.ActionParam, a.Name, p.ParamId)
		if err != nil {
			return Spec{}, fault.Annotate(withTable(err, table.Name), "", "decode")
		}
		spec.Params = append(spec.Params, NewParam(param.Name, pad(p.Value, param.Bitwidth)))
	}
	return spec, nil
}

// Left-pads the value with zeros to the byte width of the bit-width; devices may return values in
// their shortest form
func pad(value []byte, bitwidth int32) []byte {
	width := utils.ByteWidth(bitwidth)
	if len(value) >= width {
		return copyBytes(value)
	}
	padded := make([]byte, width)
	copy(padded[width-len(value):], value)
	return padded
}
