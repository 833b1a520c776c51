// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package utils contains various utilities for working with P4Info and P4RT entities
package utils

import (
	"os"

	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
)

// LoadP4Info loads the specified file containing the protobuf text representation of a P4Info and returns its descriptor
func LoadP4Info(path string) (*p4info.P4Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseP4Info(data)
}

// ParseP4Info parses the given protobuf text representation of a P4Info
func ParseP4Info(data []byte) (*p4info.P4Info, error) {
	info := &p4info.P4Info{}
	if err := prototext.Unmarshal(data, info); err != nil {
		return nil, err
	}
	return info, nil
}
