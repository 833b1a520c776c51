// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package pipeline provides resolution of the symbolic names of a forwarding pipeline to the numeric
// identifiers required by P4Runtime, and loading of the pipeline artifacts pushed to the switches.
package pipeline

import (
	"fmt"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
)

// Kind is a kind of pipeline entity
type Kind int

const (
	// Table is a match-action table
	Table Kind = iota
	// Action is a table action
	Action
	// MatchField is a match field of a table; scoped by the table name
	MatchField
	// ActionParam is a parameter of an action; scoped by the action name
	ActionParam
	// Counter is an indexed counter
	Counter
)

func (k Kind) String() string {
	switch k {
	case Table:
		return "table"
	case Action:
		return "action"
	case MatchField:
		return "match field"
	case ActionParam:
		return "action parameter"
	case Counter:
		return "counter"
	}
	return fmt.Sprintf("kind %d", int(k))
}

// Identifier is the resolved identity of a pipeline entity
type Identifier struct {
	ID       uint32
	Name     string
	Bitwidth int32
	// MatchType is only set for match fields
	MatchType p4info.MatchField_MatchType
	// Size is only set for tables and counters
	Size int64
	// Arity is the number of match fields of a table or the number of parameters of an action
	Arity int
}

// Descriptor resolves symbolic names of pipeline entities to their identifiers; scope is the table name
// for match fields and the action name for action parameters and is ignored otherwise.
type Descriptor interface {
	// Resolve returns the identifier of the named entity or an UnknownIdentifier failure
	Resolve(kind Kind, scope string, name string) (Identifier, error)

	// Name returns the identifier of the entity with the given numeric ID or an UnknownIdentifier failure
	Name(kind Kind, scope string, id uint32) (Identifier, error)
}

type entities struct {
	byName map[string]Identifier
	byID   map[uint32]Identifier
}

func newEntities() *entities {
	return &entities{byName: make(map[string]Identifier), byID: make(map[uint32]Identifier)}
}

func (e *entities) add(id Identifier, alias string) {
	e.byName[id.Name] = id
	if alias != "" {
		if _, ok := e.byName[alias]; !ok {
			e.byName[alias] = id
		}
	}
	e.byID[id.ID] = id
}

// P4InfoDescriptor is a descriptor backed by a P4Info
type P4InfoDescriptor struct {
	tables   *entities
	actions  *entities
	counters *entities
	fields   map[uint32]*entities
	params   map[uint32]*entities
}

// NewP4InfoDescriptor creates a descriptor from the given P4Info; entities can be referred to by their
// fully qualified name or by their alias
func NewP4InfoDescriptor(info *p4info.P4Info) *P4InfoDescriptor {
	d := &P4InfoDescriptor{
		tables:   newEntities(),
		actions:  newEntities(),
		counters: newEntities(),
		fields:   make(map[uint32]*entities),
		params:   make(map[uint32]*entities),
	}
	for _, t := range info.Tables {
		d.tables.add(Identifier{ID: t.Preamble.Id, Name: t.Preamble.Name, Size: t.Size, Arity: len(t.MatchFields)}, t.Preamble.Alias)
		fields := newEntities()
		for _, mf := range t.MatchFields {
			fields.add(Identifier{ID: mf.Id, Name: mf.Name, Bitwidth: mf.Bitwidth, MatchType: mf.GetMatchType()}, "")
		}
		d.fields[t.Preamble.Id] = fields
	}
	for _, a := range info.Actions {
		d.actions.add(Identifier{ID: a.Preamble.Id, Name: a.Preamble.Name, Arity: len(a.Params)}, a.Preamble.Alias)
		params := newEntities()
		for _, p := range a.Params {
			params.add(Identifier{ID: p.Id, Name: p.Name, Bitwidth: p.Bitwidth}, "")
		}
		d.params[a.Preamble.Id] = params
	}
	for _, c := range info.Counters {
		d.counters.add(Identifier{ID: c.Preamble.Id, Name: c.Preamble.Name, Size: c.Size}, c.Preamble.Alias)
	}
	return d
}

// Resolve returns the identifier of the named entity
func (d *P4InfoDescriptor) Resolve(kind Kind, scope string, name string) (Identifier, error) {
	set, err := d.scoped(kind, scope)
	if err != nil {
		return Identifier{}, err
	}
	id, ok := set.byName[name]
	if !ok {
		return Identifier{}, unknown(kind, scope, name)
	}
	return id, nil
}

// Name returns the identifier of the entity with the given numeric ID
func (d *P4InfoDescriptor) Name(kind Kind, scope string, id uint32) (Identifier, error) {
	set, err := d.scoped(kind, scope)
	if err != nil {
		return Identifier{}, err
	}
	ident, ok := set.byID[id]
	if !ok {
		return Identifier{}, unknown(kind, scope, fmt.Sprintf("#%d", id))
	}
	return ident, nil
}

func (d *P4InfoDescriptor) scoped(kind Kind, scope string) (*entities, error) {
	switch kind {
	case Table:
		return d.tables, nil
	case Action:
		return d.actions, nil
	case Counter:
		return d.counters, nil
	case MatchField:
		table, ok := d.tables.byName[scope]
		if !ok {
			return nil, unknown(Table, "", scope)
		}
		return d.fields[table.ID], nil
	case ActionParam:
		action, ok := d.actions.byName[scope]
		if !ok {
			return nil, unknown(Action, "", scope)
		}
		return d.params[action.ID], nil
	}
	return nil, fault.New(fault.UnknownIdentifier, "unsupported entity kind %s", kind)
}

func unknown(kind Kind, scope string, name string) error {
	if scope != "" {
		return fault.New(fault.UnknownIdentifier, "%s %s not found in %s", kind, name, scope)
	}
	return fault.New(fault.UnknownIdentifier, "%s %s not found", kind, name)
}
