// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package entries contains the simulated switch stores of P4 entities, i.e. tables and indexed counters
package entries

import (
	"hash"
	"hash/fnv"
	"sort"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// BatchSender is an abstract function for returning batches of read entities
type BatchSender func(entities []*p4api.Entity) error

// Tables represents a set of P4 tables
type Tables struct {
	tables  map[uint32]*Table
	actions map[uint32]*p4info.Action
}

// Table represents a single P4 table
type Table struct {
	info    *p4info.Table
	fields  map[uint32]*p4info.MatchField
	actions map[uint32]*p4info.Action
	rows    map[uint64]*p4api.TableEntry
}

// NewTables creates a new set of tables from the given P4 info
func NewTables(info *p4info.P4Info) *Tables {
	ts := &Tables{
		tables:  make(map[uint32]*Table),
		actions: make(map[uint32]*p4info.Action),
	}
	for _, a := range info.Actions {
		ts.actions[a.Preamble.Id] = a
	}
	for _, ti := range info.Tables {
		ts.tables[ti.Preamble.Id] = NewTable(ti, ts.actions)
	}
	return ts
}

// NewTable creates a new device table; actions are the pipeline actions the table may refer to
func NewTable(table *p4info.Table, actions map[uint32]*p4info.Action) *Table {
	t := &Table{
		info:    table,
		fields:  make(map[uint32]*p4info.MatchField),
		actions: make(map[uint32]*p4info.Action),
		rows:    make(map[uint64]*p4api.TableEntry),
	}
	for _, mf := range table.MatchFields {
		t.fields[mf.Id] = mf
	}
	for _, ref := range table.ActionRefs {
		if a, ok := actions[ref.Id]; ok {
			t.actions[ref.Id] = a
		}
	}
	return t
}

// Table returns the table with the given ID or nil if there is no such table
func (ts *Tables) Table(id uint32) *Table {
	return ts.tables[id]
}

// Tables returns all tables
func (ts *Tables) Tables() []*Table {
	tables := make([]*Table, 0, len(ts.tables))
	for _, t := range ts.tables {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID() < tables[j].ID() })
	return tables
}

// ModifyTableEntry inserts or modifies the specified table entry in its appropriate table
func (ts *Tables) ModifyTableEntry(entry *p4api.TableEntry, insert bool) error {
	table, ok := ts.tables[entry.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", entry.TableId)
	}
	return table.ModifyTableEntry(entry, insert)
}

// RemoveTableEntry removes the specified table entry from its appropriate table
func (ts *Tables) RemoveTableEntry(entry *p4api.TableEntry) error {
	table, ok := ts.tables[entry.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", entry.TableId)
	}
	return table.RemoveTableEntry(entry)
}

// ReadTableEntries reads the table entries matching the specified table entry, from the appropriate table
func (ts *Tables) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	// If the table ID is 0, read all tables
	if request.TableId == 0 {
		for _, table := range ts.Tables() {
			if err := table.ReadTableEntries(request, sender); err != nil {
				return err
			}
		}
		return nil
	}

	table, ok := ts.tables[request.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", request.TableId)
	}
	return table.ReadTableEntries(request, sender)
}

// ID returns the table ID
func (t *Table) ID() uint32 {
	return t.info.Preamble.Id
}

// Name returns the table name
func (t *Table) Name() string {
	return t.info.Preamble.Name
}

// Size returns the number of entries in the table
func (t *Table) Size() int {
	return len(t.rows)
}

// Entries returns the table entries
func (t *Table) Entries() []*p4api.TableEntry {
	entries := make([]*p4api.TableEntry, 0, len(t.rows))
	for _, entry := range t.rows {
		entries = append(entries, entry)
	}
	return entries
}

// ModifyTableEntry inserts or modifies the specified entry
func (t *Table) ModifyTableEntry(entry *p4api.TableEntry, insert bool) error {
	if entry.IsDefaultAction {
		return errors.NewNotSupported("default action entries are not supported")
	}

	// Order field matches in canonical order based on field ID
	sortFieldMatches(entry.Match)

	key, err := t.entryKey(entry)
	if err != nil {
		return err
	}
	if err := t.validateAction(entry); err != nil {
		return err
	}
	_, ok := t.rows[key]

	// If the entry exists, and we're supposed to do a new insert, raise error
	if ok && insert {
		return errors.NewAlreadyExists("entry already exists in table %s", t.Name())
	}

	// If the entry doesn't exist, and we're supposed to modify, raise error
	if !ok && !insert {
		return errors.NewNotFound("entry doesn't exist in table %s", t.Name())
	}

	if !ok && t.info.Size > 0 && int64(len(t.rows)) >= t.info.Size {
		return errors.NewConflict("table %s is full", t.Name())
	}
	t.rows[key] = entry
	return nil
}

// RemoveTableEntry removes the specified table entry
func (t *Table) RemoveTableEntry(entry *p4api.TableEntry) error {
	if entry.IsDefaultAction {
		return errors.NewInvalid("unable to remove default action entry")
	}
	sortFieldMatches(entry.Match)

	key, err := t.entryKey(entry)
	if err != nil {
		return err
	}
	if _, ok := t.rows[key]; !ok {
		return errors.NewNotFound("entry doesn't exist in table %s", t.Name())
	}
	delete(t.rows, key)
	return nil
}

type entityBuffer struct {
	entities []*p4api.Entity
	sender   BatchSender
}

func newBuffer(sender BatchSender) *entityBuffer {
	return &entityBuffer{
		entities: make([]*p4api.Entity, 0, 64),
		sender:   sender,
	}
}

// Sends the specified entity via an accumulation buffer, flushing when buffer reaches capacity
func (eb *entityBuffer) sendEntity(entity *p4api.Entity) error {
	var err error
	eb.entities = append(eb.entities, entity)
	if len(eb.entities) == cap(eb.entities) {
		err = eb.flush()
	}
	return err
}

// Flushes the buffer by sending the buffered entities and resets the buffer
func (eb *entityBuffer) flush() error {
	if len(eb.entities) == 0 {
		return nil
	}
	err := eb.sender(eb.entities)
	eb.entities = make([]*p4api.Entity, 0, cap(eb.entities))
	return err
}

// ReadTableEntries reads the table entries matching the specified table entry request; an empty
// request match reads all entries of the table
func (t *Table) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	buffer := newBuffer(sender)
	var wanted uint64
	if len(request.Match) > 0 {
		sortFieldMatches(request.Match)
		key, err := t.entryKey(request)
		if err != nil {
			return err
		}
		wanted = key
	}

	for key, entry := range t.rows {
		if len(request.Match) > 0 && key != wanted {
			continue
		}
		if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: entry}}); err != nil {
			return err
		}
	}
	return buffer.flush()
}

// Produces a table entry key using a uint64 hash of its priority and field matches; returns error if the
// matches do not comply with the table schema
func (t *Table) entryKey(entry *p4api.TableEntry) (uint64, error) {
	hf := fnv.New64()
	writeHash(hf, entry.Priority)

	// This assumes matches have already been put in canonical order
	var last uint32
	for i, m := range entry.Match {
		if i > 0 && m.FieldId == last {
			return 0, errors.NewInvalid("duplicate match field %d in table %s", m.FieldId, t.Name())
		}
		last = m.FieldId
		if err := t.validateMatch(m); err != nil {
			return 0, err
		}
		writeHash(hf, int32(m.FieldId))
		switch {
		case m.GetExact() != nil:
			_, _ = hf.Write([]byte{0x01})
			_, _ = hf.Write(m.GetExact().Value)
		case m.GetLpm() != nil:
			_, _ = hf.Write([]byte{0x02})
			writeHash(hf, m.GetLpm().PrefixLen)
			_, _ = hf.Write(m.GetLpm().Value)
		case m.GetTernary() != nil:
			_, _ = hf.Write([]byte{0x04})
			_, _ = hf.Write(m.GetTernary().Mask)
			_, _ = hf.Write(m.GetTernary().Value)
		}
	}
	return hf.Sum64(), nil
}

var supportedMatches = map[p4info.MatchField_MatchType]func(m *p4api.FieldMatch) bool{
	p4info.MatchField_EXACT:   func(m *p4api.FieldMatch) bool { return m.GetExact() != nil },
	p4info.MatchField_LPM:     func(m *p4api.FieldMatch) bool { return m.GetLpm() != nil },
	p4info.MatchField_TERNARY: func(m *p4api.FieldMatch) bool { return m.GetTernary() != nil },
}

// Validates that the specified match corresponds to the expected table schema
func (t *Table) validateMatch(m *p4api.FieldMatch) error {
	field, ok := t.fields[m.FieldId]
	if !ok {
		return errors.NewInvalid("unexpected field %d in table %s", m.FieldId, t.Name())
	}
	matches, ok := supportedMatches[field.GetMatchType()]
	if !ok || !matches(m) {
		return errors.NewInvalid("field %s of table %s requires %s match", field.Name, t.Name(), field.GetMatchType())
	}
	width := int((field.Bitwidth + 7) / 8)
	var value []byte
	switch {
	case m.GetExact() != nil:
		value = m.GetExact().Value
	case m.GetLpm() != nil:
		value = m.GetLpm().Value
		if m.GetLpm().PrefixLen <= 0 || m.GetLpm().PrefixLen > field.Bitwidth {
			return errors.NewInvalid("invalid prefix length %d of field %s", m.GetLpm().PrefixLen, field.Name)
		}
	case m.GetTernary() != nil:
		value = m.GetTernary().Value
		if len(m.GetTernary().Mask) != width {
			return errors.NewInvalid("mask of field %s must be %d bytes", field.Name, width)
		}
	}
	if len(value) != width {
		return errors.NewInvalid("value of field %s must be %d bytes", field.Name, width)
	}
	return nil
}

// Validates that the entry refers to an action of the table with the complete set of parameters
func (t *Table) validateAction(entry *p4api.TableEntry) error {
	action := entry.GetAction().GetAction()
	if action == nil {
		return errors.NewInvalid("entry for table %s has no direct action", t.Name())
	}
	info, ok := t.actions[action.ActionId]
	if !ok {
		return errors.NewInvalid("action %d is not valid for table %s", action.ActionId, t.Name())
	}
	if len(action.Params) != len(info.Params) {
		return errors.NewInvalid("action %s requires %d parameters", info.Preamble.Name, len(info.Params))
	}
	return nil
}

func writeHash(hash hash.Hash64, n int32) {
	_, _ = hash.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// Sorts the given array of field matches in place based on the field ID
func sortFieldMatches(matches []*p4api.FieldMatch) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].FieldId < matches[j].FieldId })
}
