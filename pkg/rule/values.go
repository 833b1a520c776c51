// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package rule

import (
	"net"
	"strconv"
	"strings"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/utils"
)

// IPv4 returns the given dotted IPv4 address as 4 bytes
func IPv4(addr string) ([]byte, error) {
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return nil, fault.New(fault.InvalidEntry, "invalid IPv4 address %q", addr)
	}
	return []byte(ip), nil
}

// MAC returns the given MAC address as 6 bytes
func MAC(addr string) ([]byte, error) {
	mac, err := net.ParseMAC(addr)
	if err != nil || len(mac) != 6 {
		return nil, fault.New(fault.InvalidEntry, "invalid MAC address %q", addr)
	}
	return []byte(mac), nil
}

// Uint returns the given value big-endian in exactly the number of bytes required by the bit-width
func Uint(value uint64, bitwidth int32) ([]byte, error) {
	b, err := utils.EncodeUint(value, bitwidth)
	if err != nil {
		return nil, fault.Wrap(fault.ValueWidthMismatch, err, "cannot encode %d", value)
	}
	return b, nil
}

// ParseValue converts the text form of a value into bytes for a field or parameter of the given bit-width.
// Dotted quads are IPv4 addresses and colon separated sextets are MAC addresses; anything else is an
// unsigned integer in decimal or 0x-prefixed hexadecimal, sized to the bit-width.
func ParseValue(text string, bitwidth int32) ([]byte, error) {
	text = strings.TrimSpace(text)
	switch {
	case strings.Count(text, ".") == 3:
		return IPv4(text)
	case strings.Count(text, ":") == 5:
		return MAC(text)
	}
	value, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		return nil, fault.New(fault.InvalidEntry, "invalid value %q", text)
	}
	return Uint(value, bitwidth)
}
