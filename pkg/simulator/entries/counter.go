// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"sort"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Counters represents a set of P4 indexed counters
type Counters struct {
	counters map[uint32]*Counter
}

// Counter is a single indexed counter; only the populated cells are tracked
type Counter struct {
	info  *p4info.Counter
	cells map[int64]*p4api.CounterData
}

// NewCounters creates a new counters store
func NewCounters(info []*p4info.Counter) *Counters {
	cs := &Counters{counters: make(map[uint32]*Counter)}
	for _, ci := range info {
		cs.counters[ci.Preamble.Id] = &Counter{info: ci, cells: make(map[int64]*p4api.CounterData)}
	}
	return cs
}

// Counters returns all counters
func (cs *Counters) Counters() []*Counter {
	counters := make([]*Counter, 0, len(cs.counters))
	for _, c := range cs.counters {
		counters = append(counters, c)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].ID() < counters[j].ID() })
	return counters
}

// ModifyCounterEntry sets the data of the specified counter cell; counters cannot be inserted
func (cs *Counters) ModifyCounterEntry(entry *p4api.CounterEntry, insert bool) error {
	if insert {
		return errors.NewInvalid("counter entries can only be modified")
	}
	counter, ok := cs.counters[entry.CounterId]
	if !ok {
		return errors.NewNotFound("counter %d not found", entry.CounterId)
	}
	if entry.Index == nil {
		return errors.NewInvalid("counter %s entry requires an index", counter.Name())
	}
	if err := counter.checkIndex(entry.Index.Index); err != nil {
		return err
	}
	data := entry.Data
	if data == nil {
		data = &p4api.CounterData{}
	}
	counter.cells[entry.Index.Index] = &p4api.CounterData{ByteCount: data.ByteCount, PacketCount: data.PacketCount}
	return nil
}

// ReadCounterEntries reads the populated cells of the requested counter; counter ID 0 reads all counters and
// a missing index reads all populated cells
func (cs *Counters) ReadCounterEntries(request *p4api.CounterEntry, sender BatchSender) error {
	if request.CounterId == 0 {
		for _, c := range cs.Counters() {
			if err := c.read(request.Index, sender); err != nil {
				return err
			}
		}
		return nil
	}
	counter, ok := cs.counters[request.CounterId]
	if !ok {
		return errors.NewNotFound("counter %d not found", request.CounterId)
	}
	return counter.read(request.Index, sender)
}

// ID returns the counter ID
func (c *Counter) ID() uint32 {
	return c.info.Preamble.Id
}

// Name returns the counter name
func (c *Counter) Name() string {
	return c.info.Preamble.Name
}

// Size returns the number of cells of the counter
func (c *Counter) Size() int64 {
	return c.info.Size
}

// Add accumulates the given packets and bytes in the specified cell, populating it if needed
func (c *Counter) Add(index int64, packets int64, bytes int64) error {
	if err := c.checkIndex(index); err != nil {
		return err
	}
	data, ok := c.cells[index]
	if !ok {
		data = &p4api.CounterData{}
		c.cells[index] = data
	}
	data.PacketCount += packets
	data.ByteCount += bytes
	return nil
}

func (c *Counter) checkIndex(index int64) error {
	if index < 0 || index >= c.info.Size {
		return errors.NewInvalid("index %d of counter %s is out of range", index, c.Name())
	}
	return nil
}

func (c *Counter) read(index *p4api.Index, sender BatchSender) error {
	buffer := newBuffer(sender)
	if index != nil {
		if err := c.checkIndex(index.Index); err != nil {
			return err
		}
		if data, ok := c.cells[index.Index]; ok {
			if err := buffer.sendEntity(c.entity(index.Index, data)); err != nil {
				return err
			}
		}
		return buffer.flush()
	}

	indexes := make([]int64, 0, len(c.cells))
	for i := range c.cells {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, i := range indexes {
		if err := buffer.sendEntity(c.entity(i, c.cells[i])); err != nil {
			return err
		}
	}
	return buffer.flush()
}

func (c *Counter) entity(index int64, data *p4api.CounterData) *p4api.Entity {
	return &p4api.Entity{
		Entity: &p4api.Entity_CounterEntry{
			CounterEntry: &p4api.CounterEntry{
				CounterId: c.ID(),
				Index:     &p4api.Index{Index: index},
				Data:      &p4api.CounterData{ByteCount: data.ByteCount, PacketCount: data.PacketCount},
			},
		},
	}
}
