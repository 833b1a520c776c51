// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// EntryReader iterates over the table entries read from a switch
type EntryReader struct {
	session    *Session
	stream     p4api.P4Runtime_ReadClient
	descriptor pipeline.Descriptor
	pending    []*p4api.Entity
	done       bool
}

// Next returns the next installed entry in its symbolic form; returns io.EOF once all entries have been read
func (r *EntryReader) Next() (rule.Spec, error) {
	for len(r.pending) == 0 {
		if r.done {
			return rule.Spec{}, io.EOF
		}
		resp, err := r.stream.Recv()
		if err == io.EOF {
			r.done = true
			return rule.Spec{}, io.EOF
		}
		if err != nil {
			r.done = true
			return rule.Spec{}, fault.Annotate(fault.FromGRPC(err, fault.Unknown), r.session.name, "read")
		}
		r.pending = resp.Entities
	}

	entity := r.pending[0]
	r.pending = r.pending[1:]
	entry := entity.GetTableEntry()
	if entry == nil {
		return r.Next()
	}
	spec, err := rule.Decode(entry, r.descriptor)
	if err != nil {
		return rule.Spec{}, fault.Annotate(err, r.session.name, "read")
	}
	return spec, nil
}

// ReadAll drains the reader and returns all remaining entries
func (r *EntryReader) ReadAll() ([]rule.Spec, error) {
	var specs []rule.Spec
	for {
		spec, err := r.Next()
		if err == io.EOF {
			return specs, nil
		}
		if err != nil {
			return specs, err
		}
		specs = append(specs, spec)
	}
}
