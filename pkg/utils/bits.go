// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"encoding/binary"
	"fmt"
)

// ByteWidth returns the number of bytes needed to carry a value of the specified bit-width
func ByteWidth(bits int32) int {
	return int((bits + 7) / 8)
}

// EncodeUint encodes the given value big-endian, padded to exactly the byte width of the specified bit-width;
// returns an error if the value does not fit into the bit-width
func EncodeUint(value uint64, bits int32) ([]byte, error) {
	if bits <= 0 || bits > 64 {
		return nil, fmt.Errorf("unsupported bit-width %d", bits)
	}
	if bits < 64 && value>>uint(bits) != 0 {
		return nil, fmt.Errorf("value %d does not fit into %d bits", value, bits)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, value)
	return b[8-ByteWidth(bits):], nil
}

// DecodeValueAsUint64 decodes the specified big-endian bytes as uint64 value; values wider than 8 bytes yield 0
func DecodeValueAsUint64(value []byte) uint64 {
	b := make([]byte, 8)
	offset := len(b) - len(value)
	if offset >= 0 {
		copy(b[offset:], value)
	}
	return binary.BigEndian.Uint64(b)
}

// MaskPrefix returns a copy of the given value with all bits past the prefix length zeroed
func MaskPrefix(value []byte, prefixLen int32) []byte {
	masked := make([]byte, len(value))
	copy(masked, value)
	for i := range masked {
		bitsLeft := int(prefixLen) - i*8
		switch {
		case bitsLeft >= 8:
		case bitsLeft <= 0:
			masked[i] = 0
		default:
			masked[i] &= byte(0xff << uint(8-bitsLeft))
		}
	}
	return masked
}
