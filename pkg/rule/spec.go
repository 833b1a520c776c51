// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package rule contains the symbolic description of match-action rules and their encoding into P4Runtime table entries
package rule

import (
	"fmt"
	"net"
	"strings"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
)

// MatchKind is the comparison semantics of a match field
type MatchKind int

const (
	// Exact matches the value exactly
	Exact MatchKind = iota
	// LPM matches the longest prefix of the value
	LPM
	// Ternary matches the value under a mask
	Ternary
)

func (k MatchKind) String() string {
	switch k {
	case Exact:
		return "exact"
	case LPM:
		return "lpm"
	case Ternary:
		return "ternary"
	}
	return fmt.Sprintf("kind %d", int(k))
}

// ParseMatchKind returns the match kind of the given name; the empty name stands for exact
func ParseMatchKind(name string) (MatchKind, error) {
	switch strings.ToLower(name) {
	case "", "exact":
		return Exact, nil
	case "lpm":
		return LPM, nil
	case "ternary":
		return Ternary, nil
	}
	return Exact, fault.New(fault.InvalidEntry, "unsupported match kind %q", name)
}

// Match is a value for a single match field
type Match struct {
	Field string
	Value []byte
	Kind  MatchKind
	// PrefixLen applies to LPM matches
	PrefixLen int32
	// Mask applies to ternary matches
	Mask []byte
}

// Param is a value for a single action parameter
type Param struct {
	Name  string
	Value []byte
}

// Spec is a symbolic description of a table entry
type Spec struct {
	Table    string
	Matches  []Match
	Action   string
	Params   []Param
	Priority int32
}

// ExactMatch creates an exact match
func ExactMatch(field string, value []byte) Match {
	return Match{Field: field, Value: value, Kind: Exact}
}

// LPMMatch creates a longest-prefix match
func LPMMatch(field string, value []byte, prefixLen int32) Match {
	return Match{Field: field, Value: value, Kind: LPM, PrefixLen: prefixLen}
}

// TernaryMatch creates a ternary match
func TernaryMatch(field string, value []byte, mask []byte) Match {
	return Match{Field: field, Value: value, Kind: Ternary, Mask: mask}
}

// NewParam creates an action parameter
func NewParam(name string, value []byte) Param {
	return Param{Name: name, Value: value}
}

// String renders the spec in a human readable form, e.g. for the read-back listing
func (s Spec) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", s.Table)
	for _, m := range s.Matches {
		fmt.Fprintf(&b, " %s %s", m.Field, m.valueString())
	}
	fmt.Fprintf(&b, " -> %s", s.Action)
	for _, p := range s.Params {
		fmt.Fprintf(&b, " %s %s", p.Name, formatValue(p.Value))
	}
	if s.Priority != 0 {
		fmt.Fprintf(&b, " priority %d", s.Priority)
	}
	return b.String()
}

func (m Match) valueString() string {
	switch m.Kind {
	case LPM:
		return fmt.Sprintf("%s/%d", formatValue(m.Value), m.PrefixLen)
	case Ternary:
		return fmt.Sprintf("%s&&&%s", formatValue(m.Value), formatValue(m.Mask))
	}
	return formatValue(m.Value)
}

// Renders the value the way it is most likely meant: IPv4 address, MAC address or number
func formatValue(v []byte) string {
	switch len(v) {
	case net.IPv4len:
		return net.IP(v).String()
	case 6:
		return net.HardwareAddr(v).String()
	}
	if len(v) <= 8 {
		return fmt.Sprintf("%d", utils.DecodeValueAsUint64(v))
	}
	return fmt.Sprintf("%x", v)
}
